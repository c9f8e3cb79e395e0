package store

import (
	"context"
	"testing"
	"time"

	"github.com/blobdvm/blobdvm/internal/chunker"
)

func record(hash string, size int64, expiresAt time.Time) *FileRecord {
	return &FileRecord{
		Hash:      hash,
		Size:      size,
		Chunks:    []chunker.Chunk{{Index: 0, Data: make([]byte, size), Hash: "h"}},
		ExpiresAt: expiresAt,
	}
}

func TestPut_AlreadyPresent(t *testing.T) {
	s := New()
	future := time.Now().Add(time.Hour)

	if present := s.Put(record("aa", 10, future)); present {
		t.Fatal("First put should not report already present")
	}
	if present := s.Put(record("aa", 10, future)); !present {
		t.Fatal("Second put of same hash should report already present")
	}
	if s.Count() != 1 {
		t.Errorf("Expected 1 record, got %d", s.Count())
	}
}

func TestPut_ReplacesExpired(t *testing.T) {
	s := New()
	now := time.Now()
	s.now = func() time.Time { return now }

	s.Put(record("aa", 10, now.Add(-time.Second)))
	if present := s.Put(record("aa", 10, now.Add(time.Hour))); present {
		t.Fatal("Put over an expired record should insert fresh")
	}
	if _, ok := s.Get("aa"); !ok {
		t.Fatal("Fresh record should be retrievable")
	}
}

func TestGet_EvictsExpired(t *testing.T) {
	s := New()
	now := time.Now()
	s.now = func() time.Time { return now }

	s.Put(record("aa", 10, now.Add(time.Minute)))

	if _, ok := s.Get("aa"); !ok {
		t.Fatal("Unexpired record should be found")
	}

	now = now.Add(2 * time.Minute)
	if _, ok := s.Get("aa"); ok {
		t.Fatal("Expired record must not be observable via Get")
	}
	if s.Count() != 0 {
		t.Error("Expired record should be evicted by Get")
	}
}

func TestDelete(t *testing.T) {
	s := New()
	s.Put(record("aa", 10, time.Now().Add(time.Hour)))

	if !s.Delete("aa") {
		t.Error("Delete of present record should report true")
	}
	if s.Delete("aa") {
		t.Error("Delete of absent record should report false")
	}
}

func TestSweep(t *testing.T) {
	s := New()
	now := time.Now()
	s.now = func() time.Time { return now }

	s.Put(record("aa", 10, now.Add(time.Minute)))
	s.Put(record("bb", 20, now.Add(-time.Minute)))
	s.Put(record("cc", 30, now)) // expires_at <= now counts as expired

	if removed := s.Sweep(); removed != 2 {
		t.Fatalf("Expected 2 evictions, got %d", removed)
	}
	if s.Count() != 1 {
		t.Errorf("Expected 1 surviving record, got %d", s.Count())
	}
	if _, ok := s.Get("aa"); !ok {
		t.Error("Live record must survive the sweep")
	}
}

func TestLiveBytes(t *testing.T) {
	s := New()
	now := time.Now()
	s.now = func() time.Time { return now }

	s.Put(record("aa", 100, now.Add(time.Hour)))
	s.Put(record("bb", 50, now.Add(-time.Hour)))

	if got := s.LiveBytes(); got != 100 {
		t.Errorf("Expected 100 live bytes, got %d", got)
	}
}

func TestRun_SweepsInBackground(t *testing.T) {
	s := New()
	s.Put(record("aa", 10, time.Now().Add(20*time.Millisecond)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	swept := make(chan int, 16)
	go s.Run(ctx, 25*time.Millisecond, func(removed int) { swept <- removed })

	deadline := time.After(2 * time.Second)
	total := 0
	for total == 0 {
		select {
		case n := <-swept:
			total += n
		case <-deadline:
			t.Fatal("Sweeper never evicted the expired record")
		}
	}
	if s.Count() != 0 {
		t.Error("Record should be gone after background sweep")
	}
}

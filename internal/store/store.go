// Package store holds stored files in memory, keyed by content
// address, with wall-clock TTL eviction. Nothing persists across
// restarts.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/blobdvm/blobdvm/internal/chunker"
)

// DefaultSweepInterval is how often the background sweeper runs. The
// protocol requires an interval of at most 60 seconds.
const DefaultSweepInterval = 30 * time.Second

// FileRecord is the canonical server-side state for one stored file.
type FileRecord struct {
	Hash      string
	Size      int64
	Chunks    []chunker.Chunk
	Filename  string // advisory, not part of the identity
	ExpiresAt time.Time
}

// Expired reports whether the record is past its retention.
func (r *FileRecord) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// ContentStore maps file hash to record. All access is serialized so
// the sweeper and handlers never observe torn state.
type ContentStore struct {
	mu      sync.RWMutex
	records map[string]*FileRecord
	now     func() time.Time
}

// New creates an empty content store.
func New() *ContentStore {
	return &ContentStore{
		records: make(map[string]*FileRecord),
		now:     time.Now,
	}
}

// Put inserts a record. If an unexpired record for the same hash
// already exists the store keeps it and reports true: content
// addressing makes re-storing identical bytes a no-op. An expired
// record is evicted before insert.
func (s *ContentStore) Put(rec *FileRecord) (alreadyPresent bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[rec.Hash]; ok {
		if !existing.Expired(s.now()) {
			return true
		}
		delete(s.records, rec.Hash)
	}

	s.records[rec.Hash] = rec
	return false
}

// Get returns the record for hash only while it is unexpired. An
// expired record is evicted on the way out.
func (s *ContentStore) Get(hash string) (*FileRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[hash]
	if !ok {
		return nil, false
	}
	if rec.Expired(s.now()) {
		delete(s.records, hash)
		return nil, false
	}
	return rec, true
}

// Delete removes the record unconditionally and reports whether one
// was present (expired or not).
func (s *ContentStore) Delete(hash string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.records[hash]
	delete(s.records, hash)
	return ok
}

// Sweep removes every expired record and returns how many were
// evicted.
func (s *ContentStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for hash, rec := range s.records {
		if rec.Expired(now) {
			delete(s.records, hash)
			removed++
		}
	}
	return removed
}

// Count returns the number of live and not-yet-swept records.
func (s *ContentStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// LiveBytes sums the sizes of all unexpired records, for the capacity
// policy.
func (s *ContentStore) LiveBytes() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	var total int64
	for _, rec := range s.records {
		if !rec.Expired(now) {
			total += rec.Size
		}
	}
	return total
}

// Run sweeps periodically until ctx is cancelled. onSweep, if set, is
// called with the eviction count after each pass.
func (s *ContentStore) Run(ctx context.Context, interval time.Duration, onSweep func(removed int)) {
	if interval <= 0 || interval > time.Minute {
		interval = DefaultSweepInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := s.Sweep()
			if onSweep != nil {
				onSweep(removed)
			}
		}
	}
}

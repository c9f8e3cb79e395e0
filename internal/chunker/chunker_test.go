package chunker

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"math/rand"
	"testing"
)

func TestSplit_SmallInput(t *testing.T) {
	data := []byte("Hello, BlobDVM!")
	chunks := Split(data)

	if len(chunks) != 1 {
		t.Fatalf("Expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Index != 0 {
		t.Errorf("Expected index 0, got %d", chunks[0].Index)
	}
	if chunks[0].Size() != len(data) {
		t.Errorf("Expected chunk size %d, got %d", len(data), chunks[0].Size())
	}
	if chunks[0].Hash != HashBytes(data) {
		t.Errorf("Chunk hash does not match data hash")
	}
}

func TestSplit_MultipleChunks(t *testing.T) {
	// 2.5 chunks worth of patterned data
	data := make([]byte, ChunkSize*2+ChunkSize/2)
	for i := range data {
		data[i] = byte(i % 256)
	}

	chunks := Split(data)

	if len(chunks) != 3 {
		t.Fatalf("Expected 3 chunks, got %d", len(chunks))
	}
	if chunks[0].Size() != ChunkSize {
		t.Errorf("Chunk 0 expected size %d, got %d", ChunkSize, chunks[0].Size())
	}
	if chunks[1].Size() != ChunkSize {
		t.Errorf("Chunk 1 expected size %d, got %d", ChunkSize, chunks[1].Size())
	}
	if chunks[2].Size() != ChunkSize/2 {
		t.Errorf("Chunk 2 expected size %d, got %d", ChunkSize/2, chunks[2].Size())
	}
	for i, c := range chunks {
		if c.Index != i {
			t.Errorf("Chunk %d has index %d", i, c.Index)
		}
	}
}

func TestSplit_ExactBoundary(t *testing.T) {
	data := make([]byte, ChunkSize*2)
	chunks := Split(data)

	if len(chunks) != 2 {
		t.Fatalf("Expected 2 chunks for exact multiple, got %d", len(chunks))
	}
	if chunks[1].Size() != ChunkSize {
		t.Errorf("Last chunk expected full size %d, got %d", ChunkSize, chunks[1].Size())
	}
}

func TestSplit_Empty(t *testing.T) {
	if chunks := Split(nil); chunks != nil {
		t.Errorf("Expected nil for empty input, got %d chunks", len(chunks))
	}
}

func TestSplit_Deterministic(t *testing.T) {
	data := []byte("Deterministic test data")

	a := Split(data)
	b := Split(data)

	if a[0].Hash != b[0].Hash {
		t.Error("Chunk hashes should be identical for same input")
	}
}

func TestVerifyAndAssemble_RoundTrip(t *testing.T) {
	data := make([]byte, 100*1024)
	rng := rand.New(rand.NewSource(42))
	rng.Read(data)

	chunks := Split(data)
	if len(chunks) != 4 {
		t.Fatalf("Expected 4 chunks for 100 KiB, got %d", len(chunks))
	}
	if chunks[3].Size() != 4096 {
		t.Errorf("Expected last chunk size 4096, got %d", chunks[3].Size())
	}

	out, err := VerifyAndAssemble(chunks, HashBytes(data))
	if err != nil {
		t.Fatalf("VerifyAndAssemble failed: %v", err)
	}
	if !bytes.Equal(out, data) {
		t.Error("Reassembled bytes differ from input")
	}
}

func TestVerifyAndAssemble_OutOfOrder(t *testing.T) {
	data := make([]byte, ChunkSize*3+17)
	rng := rand.New(rand.NewSource(7))
	rng.Read(data)

	chunks := Split(data)
	// Reverse delivery order
	for i, j := 0, len(chunks)-1; i < j; i, j = i+1, j-1 {
		chunks[i], chunks[j] = chunks[j], chunks[i]
	}

	out, err := VerifyAndAssemble(chunks, HashBytes(data))
	if err != nil {
		t.Fatalf("VerifyAndAssemble failed: %v", err)
	}
	if !bytes.Equal(out, data) {
		t.Error("Out-of-order reassembly produced wrong bytes")
	}
}

func TestVerifyAndAssemble_WrongFileHash(t *testing.T) {
	data := []byte("some file content")
	chunks := Split(data)

	wrong := HashBytes([]byte("other content"))
	if _, err := VerifyAndAssemble(chunks, wrong); err == nil {
		t.Fatal("Expected error for wrong expected hash")
	} else if !errors.Is(err, ErrIntegrityFailed) {
		t.Errorf("Expected ErrIntegrityFailed, got %v", err)
	}
}

func TestVerifyAndAssemble_CorruptChunk(t *testing.T) {
	data := make([]byte, ChunkSize+100)
	chunks := Split(data)

	// Flip a byte but keep the advertised hash
	chunks[1].Data[0] ^= 0xff

	if _, err := VerifyAndAssemble(chunks, HashBytes(data)); err == nil {
		t.Fatal("Expected error for corrupted chunk")
	} else if !errors.Is(err, ErrIntegrityFailed) {
		t.Errorf("Expected ErrIntegrityFailed, got %v", err)
	}
}

func TestVerifyAndAssemble_DuplicateIndex(t *testing.T) {
	data := make([]byte, ChunkSize*2)
	chunks := Split(data)
	chunks = append(chunks, chunks[0])

	if _, err := VerifyAndAssemble(chunks, HashBytes(data)); err == nil {
		t.Fatal("Expected error for duplicate index")
	} else if !errors.Is(err, ErrDuplicateIndex) {
		t.Errorf("Expected ErrDuplicateIndex, got %v", err)
	}
}

func TestVerifyAndAssemble_Empty(t *testing.T) {
	if _, err := VerifyAndAssemble(nil, HashBytes(nil)); err == nil {
		t.Fatal("Expected error for empty chunk list")
	}
}

func TestHashBytes_KnownVector(t *testing.T) {
	// 1024 'A' bytes, the canonical 1 KiB test file
	data := bytes.Repeat([]byte{0x41}, 1024)

	sum := sha256.Sum256(data)
	want := hex.EncodeToString(sum[:])

	if got := HashBytes(data); got != want {
		t.Errorf("HashBytes mismatch: got %s, want %s", got, want)
	}
	if len(HashBytes(data)) != 64 {
		t.Error("Content address must be 64 hex characters")
	}
}

func TestSplit_ChunkCountProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	for trial := 0; trial < 20; trial++ {
		n := rng.Intn(1024 * 1024)
		data := make([]byte, n)
		rng.Read(data)

		chunks := Split(data)

		wantCount := (n + ChunkSize - 1) / ChunkSize
		if len(chunks) != wantCount {
			t.Fatalf("len=%d: expected %d chunks, got %d", n, wantCount, len(chunks))
		}

		for i, c := range chunks {
			if i < len(chunks)-1 && c.Size() != ChunkSize {
				t.Fatalf("len=%d: chunk %d not full size", n, i)
			}
			if i == len(chunks)-1 && (c.Size() < 1 || c.Size() > ChunkSize) {
				t.Fatalf("len=%d: last chunk size %d out of bounds", n, c.Size())
			}
		}

		if n == 0 {
			continue
		}
		out, err := VerifyAndAssemble(chunks, HashBytes(data))
		if err != nil {
			t.Fatalf("len=%d: round trip failed: %v", n, err)
		}
		if !bytes.Equal(out, data) {
			t.Fatalf("len=%d: round trip bytes differ", n)
		}
	}
}

func TestReader_MatchesSplit(t *testing.T) {
	data := make([]byte, ChunkSize*2+123)
	rng := rand.New(rand.NewSource(99))
	rng.Read(data)

	want := Split(data)
	r := NewReader(bytes.NewReader(data))

	var got []Chunk
	for {
		c, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		got = append(got, c)
	}

	if len(got) != len(want) {
		t.Fatalf("Expected %d chunks, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i].Hash != want[i].Hash || got[i].Index != want[i].Index {
			t.Errorf("Chunk %d differs between Reader and Split", i)
		}
	}
}

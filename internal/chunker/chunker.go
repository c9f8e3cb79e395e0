// Package chunker implements the canonical split/verify/reassemble
// algorithm. Content addresses are derived from this code path alone:
// a file's address is the SHA-256 of its bytes, and every chunk carries
// the SHA-256 of its own slice.
package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sort"
)

const (
	// ChunkSize is fixed by the wire protocol. Changing it changes
	// content addresses.
	ChunkSize = 32768

	// MaxFileSize bounds a single stored file (10 MiB).
	MaxFileSize = 10 * 1024 * 1024
)

var (
	ErrIntegrityFailed = errors.New("file integrity verification failed")
	ErrDuplicateIndex  = errors.New("duplicate chunk index")
	ErrNoChunks        = errors.New("no chunks to assemble")
)

// Chunk is one contiguous slice of a file.
type Chunk struct {
	Index int
	Data  []byte
	Hash  string // lowercase hex SHA-256 of Data
}

// Size returns the chunk payload length in bytes.
func (c Chunk) Size() int { return len(c.Data) }

// HashBytes returns the lowercase hex SHA-256 of data. This is the
// content address function for whole files.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Split partitions data into consecutive ChunkSize slices, index 0
// first. Every chunk except possibly the last has exactly ChunkSize
// bytes. Empty input yields an empty slice; the protocol refuses to
// store empty files.
func Split(data []byte) []Chunk {
	if len(data) == 0 {
		return nil
	}

	count := (len(data) + ChunkSize - 1) / ChunkSize
	chunks := make([]Chunk, 0, count)

	for i := 0; i < len(data); i += ChunkSize {
		end := i + ChunkSize
		if end > len(data) {
			end = len(data)
		}
		piece := data[i:end]
		chunks = append(chunks, Chunk{
			Index: i / ChunkSize,
			Data:  piece,
			Hash:  HashBytes(piece),
		})
	}

	return chunks
}

// VerifyAndAssemble sorts chunks by index, recomputes every chunk hash,
// concatenates in order, and checks the result against expectedHash.
// A repeated index or any hash mismatch fails with ErrIntegrityFailed
// (wrapped with detail).
func VerifyAndAssemble(chunks []Chunk, expectedHash string) ([]byte, error) {
	if len(chunks) == 0 {
		return nil, ErrNoChunks
	}

	sorted := make([]Chunk, len(chunks))
	copy(sorted, chunks)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	total := 0
	for i, c := range sorted {
		if i > 0 && c.Index == sorted[i-1].Index {
			return nil, fmt.Errorf("%w: index %d: %w", ErrIntegrityFailed, c.Index, ErrDuplicateIndex)
		}
		if HashBytes(c.Data) != c.Hash {
			return nil, fmt.Errorf("%w: chunk %d hash mismatch", ErrIntegrityFailed, c.Index)
		}
		total += len(c.Data)
	}

	data := make([]byte, 0, total)
	for _, c := range sorted {
		data = append(data, c.Data...)
	}

	if actual := HashBytes(data); actual != expectedHash {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrIntegrityFailed, expectedHash, actual)
	}

	return data, nil
}

// Reader provides streaming chunking from an io.Reader for callers that
// do not want the whole file in memory at once.
type Reader struct {
	src    io.Reader
	index  int
	buffer []byte
}

// NewReader creates a streaming chunker over src at the canonical size.
func NewReader(src io.Reader) *Reader {
	return &Reader{src: src, buffer: make([]byte, ChunkSize)}
}

// Next returns the next chunk, or io.EOF when the input is exhausted.
func (r *Reader) Next() (Chunk, error) {
	n, err := io.ReadFull(r.src, r.buffer)
	if err == io.ErrUnexpectedEOF {
		err = nil
	}
	if err != nil && err != io.EOF {
		return Chunk{}, err
	}
	if n == 0 {
		return Chunk{}, io.EOF
	}

	data := make([]byte, n)
	copy(data, r.buffer[:n])

	c := Chunk{Index: r.index, Data: data, Hash: HashBytes(data)}
	r.index++
	return c, nil
}

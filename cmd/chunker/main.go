package main

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/blobdvm/blobdvm/internal/chunker"
)

// manifest describes how a file splits into chunk events, without
// touching the network. Useful for predicting what a store request
// will broadcast.
type manifest struct {
	FileHash   string       `json:"file_hash"`
	FileSize   int64        `json:"file_size"`
	ChunkSize  int          `json:"chunk_size"`
	ChunkCount int          `json:"chunk_count"`
	Chunks     []chunkEntry `json:"chunks"`
}

type chunkEntry struct {
	Index int    `json:"index"`
	Size  int    `json:"size"`
	Hash  string `json:"hash"`
}

func main() {
	// Define flags
	output := flag.String("output", "", "Output manifest to file (default: stdout)")
	pretty := flag.Bool("pretty", true, "Pretty-print JSON output")
	flag.Parse()

	// Check for file argument
	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: chunker [options] <file_path>")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Options:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	filePath := flag.Arg(0)

	file, err := os.Open(filePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot open file: %v\n", err)
		os.Exit(2)
	}
	defer file.Close()

	fmt.Fprintf(os.Stderr, "Processing file: %s\n", filePath)

	mf, err := computeManifest(file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error computing manifest: %v\n", err)
		os.Exit(3)
	}

	fmt.Fprintf(os.Stderr, "File size: %d bytes\n", mf.FileSize)
	fmt.Fprintf(os.Stderr, "Chunk size: %d bytes\n", mf.ChunkSize)
	fmt.Fprintf(os.Stderr, "Chunks: %d\n\n", mf.ChunkCount)

	if mf.FileSize > chunker.MaxFileSize {
		fmt.Fprintf(os.Stderr, "WARNING: file exceeds the %d byte storage limit\n\n", chunker.MaxFileSize)
	}

	// Serialize to JSON
	var jsonData []byte
	if *pretty {
		jsonData, err = json.MarshalIndent(mf, "", "  ")
	} else {
		jsonData, err = json.Marshal(mf)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error serializing manifest: %v\n", err)
		os.Exit(4)
	}

	// Output
	if *output != "" {
		err = os.WriteFile(*output, jsonData, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error writing to file: %v\n", err)
			os.Exit(5)
		}
		fmt.Fprintf(os.Stderr, "Manifest written to: %s\n", *output)
	} else {
		fmt.Println(string(jsonData))
	}
}

// computeManifest streams src through the chunker, hashing the whole
// file as it goes.
func computeManifest(src io.Reader) (*manifest, error) {
	fileHash := sha256.New()
	reader := chunker.NewReader(io.TeeReader(src, fileHash))

	mf := &manifest{ChunkSize: chunker.ChunkSize, Chunks: []chunkEntry{}}
	for {
		c, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		mf.Chunks = append(mf.Chunks, chunkEntry{Index: c.Index, Size: c.Size(), Hash: c.Hash})
		mf.FileSize += int64(c.Size())
	}

	mf.ChunkCount = len(mf.Chunks)
	mf.FileHash = hex.EncodeToString(fileHash.Sum(nil))
	return mf, nil
}

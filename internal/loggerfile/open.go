package loggerfile

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// OpenFile opens a raw logger file, decompressing it when the name ends in
// .zst.
func OpenFile(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if !IsCompressed(path) {
		return f, nil
	}

	dec, err := zstd.NewReader(f, zstd.WithDecoderConcurrency(1))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("create zstd decoder for %s: %w", path, err)
	}
	return &zstdFile{dec: dec, f: f}, nil
}

// IsCompressed checks if a file is zstd compressed.
func IsCompressed(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".zst")
}

type zstdFile struct {
	dec *zstd.Decoder
	f   *os.File
}

func (z *zstdFile) Read(p []byte) (int, error) {
	return z.dec.Read(p)
}

func (z *zstdFile) Close() error {
	z.dec.Close()
	return z.f.Close()
}

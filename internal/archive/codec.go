package archive

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/withObsrvr/biochar-datalogger/internal/aggregate"
	"github.com/withObsrvr/biochar-datalogger/internal/table"
)

// legacyLayouts are accepted when decoding archives written without a UTC
// offset or as bare dates.
var legacyLayouts = []string{"2006-01-02 15:04:05", "2006-01-02 15:04", DateLayout}

func csvOptions(g aggregate.Granularity, loc *time.Location) table.CSVOptions {
	return table.CSVOptions{
		Labeled:    g.Labeled(),
		TimeLayout: g.TimeLayout(),
		Location:   loc,
		AltLayouts: legacyLayouts,
	}
}

// Encode writes t as CSV into a zip holding the single entry
// name.EntryName().
func Encode(name Name, t *table.Table, loc *time.Location) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:     name.EntryName(),
		Method:   zip.Deflate,
		Modified: time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("create entry %s: %w", name.EntryName(), err)
	}
	if err := table.WriteCSV(w, t, csvOptions(name.Granularity, loc)); err != nil {
		return nil, fmt.Errorf("encode %s: %w", name, err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close zip %s: %w", name, err)
	}
	return buf.Bytes(), nil
}

// Decode reads the single CSV entry of an archive.
func Decode(data []byte, g aggregate.Granularity, loc *time.Location) (*table.Table, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadArchive, err)
	}

	var files []*zip.File
	for _, f := range zr.File {
		if !f.FileInfo().IsDir() {
			files = append(files, f)
		}
	}
	if len(files) != 1 {
		return nil, fmt.Errorf("%w: expected 1 entry, found %d", ErrBadArchive, len(files))
	}

	rc, err := files[0].Open()
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrBadArchive, files[0].Name, err)
	}
	defer rc.Close()

	t, err := table.ReadCSV(rc, csvOptions(g, loc))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", files[0].Name, err)
	}
	// drain so the checksum of the entry is verified
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBadArchive, files[0].Name, err)
	}
	return t, nil
}

// Checksum computes a SHA256 checksum for the given data.
func Checksum(data []byte) string {
	hash := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(hash[:])
}

// VerifyChecksum verifies that data matches the expected checksum.
func VerifyChecksum(data []byte, expected string) bool {
	return Checksum(data) == expected
}

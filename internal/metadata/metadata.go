package metadata

import (
	"time"
)

// ArchiveRecord describes one published archive for the catalog.
type ArchiveRecord struct {
	Year            int
	EndDate         string
	Granularity     string
	Key             string
	StorageURI      string
	RowCount        int64
	ByteSize        int64
	Checksum        string
	ProducerVersion string
	RunID           string
	PublishedAt     time.Time
}

// QualityRecord captures the validation outcome of a processing run.
type QualityRecord struct {
	Year         int
	EndDate      string
	Passed       bool
	Warnings     []string
	ErrorMessage string
}

// NewArchiveRecord fills the fields shared by every archive in a run.
func NewArchiveRecord(year int, endDate, granularity, key, uri, checksum string, rows, size int64) ArchiveRecord {
	return ArchiveRecord{
		Year:        year,
		EndDate:     endDate,
		Granularity: granularity,
		Key:         key,
		StorageURI:  uri,
		RowCount:    rows,
		ByteSize:    size,
		Checksum:    checksum,
		PublishedAt: time.Now().UTC(),
	}
}

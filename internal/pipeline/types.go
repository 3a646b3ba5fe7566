package pipeline

import (
	"time"

	"github.com/withObsrvr/biochar-datalogger/internal/aggregate"
	"github.com/withObsrvr/biochar-datalogger/internal/archive"
	"github.com/withObsrvr/biochar-datalogger/internal/table"
)

// Output is one encoded granularity of a year, ready to publish.
type Output struct {
	Name     archive.Name
	Table    *table.Table
	Data     []byte // zip archive
	Checksum string
	Parquet  []byte // optional export
}

// Granularity returns the output's granularity.
func (o Output) Granularity() aggregate.Granularity { return o.Name.Granularity }

// Result summarizes a processed year.
type Result struct {
	Year      int
	EndDate   string
	RunID     string
	Rows      int // rows in the 15-minute table
	Outputs   []Output
	Skipped   bool
	Validated ValidationResult
	Duration  time.Duration
}

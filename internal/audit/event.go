// Package audit writes a tamper-evident, hash-chained log of published
// processing runs.
package audit

import (
	"fmt"
	"time"
)

const (
	eventVersion = "1.0"
	eventType    = "datalogger_run"
)

// RunEvent is the audit record of one published year.
type RunEvent struct {
	Version   string    `json:"version"`
	EventType string    `json:"event_type"`
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`

	Run      RunInfo                `json:"run"`
	Archives map[string]ArchiveInfo `json:"archives"`
	Producer ProducerInfo           `json:"producer"`
	Chain    ChainInfo              `json:"chain"`
}

// RunInfo identifies the processing run.
type RunInfo struct {
	Year    int    `json:"year"`
	EndDate string `json:"end_date"`
	RunID   string `json:"run_id"`
}

// ArchiveInfo contains checksum and size for one archive.
type ArchiveInfo struct {
	Key      string `json:"key"`
	Checksum string `json:"checksum"`
	RowCount int64  `json:"row_count"`
	ByteSize int64  `json:"byte_size"`
}

// ProducerInfo identifies the software that produced the data.
type ProducerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ChainInfo links each event to its predecessor.
type ChainInfo struct {
	PrevEventHash string `json:"prev_event_hash"`
	EventHash     string `json:"event_hash"`
}

// ChainKey returns the chain this run belongs to. Each year is its own chain.
func (r RunInfo) ChainKey() string {
	return fmt.Sprintf("year=%d", r.Year)
}

// SetChainHashes links the event to prev and computes its own hash.
func (e *RunEvent) SetChainHashes(prev string) {
	e.Chain.PrevEventHash = prev
	e.Chain.EventHash = ComputeEventHash(e)
}

// Package checkpoint records which archives have been published for each
// year so reruns can skip or refuse to overwrite them.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

var (
	// ErrNoCheckpoint is returned when no checkpoint exists.
	ErrNoCheckpoint = errors.New("no checkpoint found")
)

// Checkpoint represents the published state of one year.
type Checkpoint struct {
	Year      int           `json:"year"`
	EndDate   string        `json:"end_date"`
	RunID     string        `json:"run_id,omitempty"`
	Archives  []ArchiveInfo `json:"archives"`
	Rows      int           `json:"rows"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// ArchiveInfo describes one published archive.
type ArchiveInfo struct {
	Key         string `json:"key"`
	Granularity string `json:"granularity"`
	Rows        int    `json:"rows"`
	Bytes       int64  `json:"bytes"`
	Checksum    string `json:"checksum,omitempty"`
}

// Manager handles checkpoint persistence and retrieval.
type Manager interface {
	// Load reads the checkpoint for year.
	Load(ctx context.Context, year int) (*Checkpoint, error)

	// Save persists the checkpoint.
	Save(ctx context.Context, cp *Checkpoint) error
}

// Config configures the checkpoint manager.
type Config struct {
	Enabled bool
	Dir     string // Directory for checkpoint files
}

// NewManager creates a checkpoint manager based on configuration.
func NewManager(cfg Config) (Manager, error) {
	if !cfg.Enabled {
		return &noopManager{}, nil
	}

	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create checkpoint directory %s: %w", cfg.Dir, err)
	}

	return &fileManager{dir: cfg.Dir}, nil
}

// fileManager persists checkpoints to local files.
type fileManager struct {
	dir string
}

func (m *fileManager) checkpointPath(year int) string {
	return filepath.Join(m.dir, fmt.Sprintf("checkpoint_%d.json", year))
}

// Load reads the checkpoint from file.
func (m *fileManager) Load(ctx context.Context, year int) (*Checkpoint, error) {
	data, err := os.ReadFile(m.checkpointPath(year))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoCheckpoint
		}
		return nil, fmt.Errorf("read checkpoint file: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("parse checkpoint file: %w", err)
	}
	if cp.Year != year {
		return nil, fmt.Errorf("checkpoint file for %d holds year %d", year, cp.Year)
	}

	return &cp, nil
}

// Save persists the checkpoint to file.
func (m *fileManager) Save(ctx context.Context, cp *Checkpoint) error {
	path := m.checkpointPath(cp.Year)

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	// Write atomically
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("write checkpoint temp file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename checkpoint file: %w", err)
	}

	return nil
}

// noopManager is used when checkpointing is disabled.
type noopManager struct{}

func (m *noopManager) Load(ctx context.Context, year int) (*Checkpoint, error) {
	return nil, ErrNoCheckpoint
}

func (m *noopManager) Save(ctx context.Context, cp *Checkpoint) error {
	return nil
}

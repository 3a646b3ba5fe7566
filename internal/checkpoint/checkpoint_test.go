package checkpoint

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFileManagerRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")
	m, err := NewManager(Config{Enabled: true, Dir: dir})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	ctx := context.Background()
	if _, err := m.Load(ctx, 2024); !errors.Is(err, ErrNoCheckpoint) {
		t.Fatalf("Load before save: got %v, want ErrNoCheckpoint", err)
	}

	cp := &Checkpoint{
		Year:    2024,
		EndDate: "2024-11-12",
		Archives: []ArchiveInfo{
			{Key: "dataloggerData_2024-01-01_2024-11-12_daily.zip", Granularity: "daily", Rows: 316, Bytes: 4096, Checksum: "sha256:ab"},
		},
		Rows:      30336,
		UpdatedAt: time.Date(2024, 11, 12, 8, 0, 0, 0, time.UTC),
	}
	if err := m.Save(ctx, cp); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := m.Load(ctx, 2024)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.EndDate != cp.EndDate || len(got.Archives) != 1 || got.Archives[0].Rows != 316 {
		t.Errorf("Load = %+v, want %+v", got, cp)
	}
	if !got.UpdatedAt.Equal(cp.UpdatedAt) {
		t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, cp.UpdatedAt)
	}

	if _, err := m.Load(ctx, 2025); !errors.Is(err, ErrNoCheckpoint) {
		t.Errorf("Load other year: got %v, want ErrNoCheckpoint", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "checkpoint_2024.json.tmp")); !os.IsNotExist(err) {
		t.Errorf("temp file left behind: %v", err)
	}
}

func TestLoadRejectsMismatchedYear(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "checkpoint_2024.json"), []byte(`{"year":2023}`), 0644); err != nil {
		t.Fatal(err)
	}
	m, err := NewManager(Config{Enabled: true, Dir: dir})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Load(context.Background(), 2024); err == nil || errors.Is(err, ErrNoCheckpoint) {
		t.Errorf("Load = %v, want mismatch error", err)
	}
}

func TestNoopManager(t *testing.T) {
	m, err := NewManager(Config{})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := m.Save(ctx, &Checkpoint{Year: 2024}); err != nil {
		t.Errorf("Save: %v", err)
	}
	if _, err := m.Load(ctx, 2024); !errors.Is(err, ErrNoCheckpoint) {
		t.Errorf("Load: got %v, want ErrNoCheckpoint", err)
	}
}

package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNoChainHead indicates no previous event exists for this chain.
var ErrNoChainHead = errors.New("no chain head found")

// ComputeEventHash hashes the JSON form of evt with event_hash cleared.
// encoding/json writes map keys sorted, so archive order does not matter.
func ComputeEventHash(evt *RunEvent) string {
	c := *evt
	c.Chain.EventHash = ""

	canonical, err := json.Marshal(c)
	if err != nil {
		return ""
	}

	hash := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(hash[:])
}

// Head is the newest event of one year's chain.
type Head struct {
	EventHash string    `json:"event_hash"`
	EventID   string    `json:"event_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ChainTracker keeps the head of every year's chain in chain-heads.json.
type ChainTracker struct {
	path string

	mu    sync.RWMutex
	heads map[int]Head
}

// NewChainTracker creates a chain tracker that persists to dir.
func NewChainTracker(dir string) (*ChainTracker, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create chain tracker dir: %w", err)
	}

	ct := &ChainTracker{
		path:  filepath.Join(dir, "chain-heads.json"),
		heads: make(map[int]Head),
	}
	data, err := os.ReadFile(ct.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read chain heads: %w", err)
	default:
		if err := json.Unmarshal(data, &ct.heads); err != nil {
			return nil, fmt.Errorf("parse chain heads %s: %w", ct.path, err)
		}
	}
	return ct, nil
}

// Head returns the newest event of year's chain.
func (ct *ChainTracker) Head(year int) (Head, error) {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	h, ok := ct.heads[year]
	if !ok || h.EventHash == "" {
		return Head{}, ErrNoChainHead
	}
	return h, nil
}

// Advance moves year's head to evt and persists every head.
func (ct *ChainTracker) Advance(year int, evt RunEvent) error {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	ct.heads[year] = Head{
		EventHash: evt.Chain.EventHash,
		EventID:   evt.EventID,
		UpdatedAt: evt.Timestamp,
	}

	data, err := json.MarshalIndent(ct.heads, "", "  ")
	if err != nil {
		return err
	}
	tmp := ct.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, ct.path)
}

// NewEventID creates a unique event ID.
func NewEventID() string {
	return "run_evt_" + uuid.New().String()
}

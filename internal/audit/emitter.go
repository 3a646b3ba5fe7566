package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/withObsrvr/biochar-datalogger/internal/config"
)

// Emitter records run events.
type Emitter interface {
	EmitRun(ctx context.Context, evt RunEvent) error
	Close() error
}

// NewEmitter returns a file emitter when auditing is enabled.
func NewEmitter(cfg config.AuditConfig, log *slog.Logger) (Emitter, error) {
	if !cfg.Enabled {
		log.Debug("audit disabled, using no-op emitter")
		return noopEmitter{}, nil
	}
	e, err := NewFileEmitter(cfg.Dir, log)
	if err != nil {
		return nil, err
	}
	log.Info("audit log enabled", "dir", cfg.Dir)
	return e, nil
}

// FileEmitter appends one JSON line per event to {dir}/events-{year}.jsonl.
type FileEmitter struct {
	dir   string
	chain *ChainTracker
	log   *slog.Logger
	now   func() time.Time

	mu sync.Mutex
}

// NewFileEmitter creates an emitter writing under dir.
func NewFileEmitter(dir string, log *slog.Logger) (*FileEmitter, error) {
	if dir == "" {
		return nil, fmt.Errorf("audit directory required")
	}
	chain, err := NewChainTracker(dir)
	if err != nil {
		return nil, fmt.Errorf("create chain tracker: %w", err)
	}
	return &FileEmitter{
		dir:   dir,
		chain: chain,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
	}, nil
}

// LogPath returns the event log path for year.
func (e *FileEmitter) LogPath(year int) string {
	return filepath.Join(e.dir, fmt.Sprintf("events-%d.jsonl", year))
}

// EmitRun links evt to the chain head, appends it and advances the head.
func (e *FileEmitter) EmitRun(ctx context.Context, evt RunEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	prev, err := e.head(evt.Run.Year)
	if err != nil {
		return err
	}

	evt.Version = eventVersion
	evt.EventType = eventType
	evt.EventID = NewEventID()
	if evt.Timestamp.IsZero() {
		evt.Timestamp = e.now()
	}
	evt.SetChainHashes(prev)

	line, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	f, err := os.OpenFile(e.LogPath(evt.Run.Year), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return fmt.Errorf("append audit log: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close audit log: %w", err)
	}

	if err := e.chain.Advance(evt.Run.Year, evt); err != nil {
		e.log.Warn("failed to update audit chain head", "error", err)
	}

	e.log.Debug("audit event written", "chain", evt.Run.ChainKey(), "event_hash", evt.Chain.EventHash)
	return nil
}

// head returns the hash the next event of year links to. A year missing from
// the heads file falls back to the last line of its log.
func (e *FileEmitter) head(year int) (string, error) {
	h, err := e.chain.Head(year)
	if err == nil {
		return h.EventHash, nil
	}
	if !errors.Is(err, ErrNoChainHead) {
		return "", err
	}

	events, err := e.ReadLog(year)
	if err != nil {
		return "", fmt.Errorf("recover chain head: %w", err)
	}
	if len(events) == 0 {
		return "", nil
	}
	last := events[len(events)-1]
	e.log.Warn("audit chain head recovered from log", "year", year, "event_id", last.EventID)
	return last.Chain.EventHash, nil
}

// Close releases resources.
func (e *FileEmitter) Close() error { return nil }

// ReadLog returns the events recorded for year, oldest first.
func (e *FileEmitter) ReadLog(year int) ([]RunEvent, error) {
	f, err := os.Open(e.LogPath(year))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var events []RunEvent
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var evt RunEvent
		if err := json.Unmarshal(sc.Bytes(), &evt); err != nil {
			return nil, fmt.Errorf("parse audit event: %w", err)
		}
		events = append(events, evt)
	}
	return events, sc.Err()
}

// Verify checks that every event hashes to its recorded value and links to
// the event before it.
func Verify(events []RunEvent) error {
	prev := ""
	for i := range events {
		evt := events[i]
		if evt.Chain.PrevEventHash != prev {
			return fmt.Errorf("event %d: prev hash %q, want %q", i, evt.Chain.PrevEventHash, prev)
		}
		if got := ComputeEventHash(&evt); got != evt.Chain.EventHash {
			return fmt.Errorf("event %d: hash mismatch", i)
		}
		prev = evt.Chain.EventHash
	}
	return nil
}

type noopEmitter struct{}

func (noopEmitter) EmitRun(context.Context, RunEvent) error { return nil }
func (noopEmitter) Close() error                            { return nil }

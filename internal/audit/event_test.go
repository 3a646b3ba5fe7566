package audit

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/withObsrvr/biochar-datalogger/internal/config"
	"github.com/withObsrvr/biochar-datalogger/internal/logging"
)

func sampleEvent() RunEvent {
	return RunEvent{
		Version:   eventVersion,
		EventType: eventType,
		Timestamp: time.Date(2024, 11, 12, 0, 0, 0, 0, time.UTC),
		Run:       RunInfo{Year: 2024, EndDate: "2024-11-12", RunID: "run-1"},
		Archives: map[string]ArchiveInfo{
			"daily": {Key: "dataloggerData_2024-01-01_2024-11-12_daily.zip", Checksum: "sha256:aaa", RowCount: 316},
		},
		Producer: ProducerInfo{Name: "biochar-pipeline", Version: "dev"},
	}
}

func TestComputeEventHash(t *testing.T) {
	evt := sampleEvent()
	evt.SetChainHashes("")

	if !strings.HasPrefix(evt.Chain.EventHash, "sha256:") {
		t.Errorf("EventHash should start with 'sha256:', got: %s", evt.Chain.EventHash)
	}
	if evt.Chain.PrevEventHash != "" {
		t.Errorf("PrevEventHash should be empty for first in chain, got: %s", evt.Chain.PrevEventHash)
	}
}

func TestHashChainDeterminism(t *testing.T) {
	a, b := sampleEvent(), sampleEvent()
	a.SetChainHashes("prev")
	b.SetChainHashes("prev")
	if a.Chain.EventHash != b.Chain.EventHash {
		t.Errorf("identical events hash differently: %s vs %s", a.Chain.EventHash, b.Chain.EventHash)
	}

	c := sampleEvent()
	c.SetChainHashes("other")
	if c.Chain.EventHash == a.Chain.EventHash {
		t.Error("different prev hash should change event hash")
	}

	d := sampleEvent()
	d.Archives["daily"] = ArchiveInfo{Checksum: "sha256:tampered"}
	d.SetChainHashes("prev")
	if d.Chain.EventHash == a.Chain.EventHash {
		t.Error("different content should change event hash")
	}
}

func TestArchiveOrderDoesNotAffectHash(t *testing.T) {
	a := sampleEvent()
	a.Archives = map[string]ArchiveInfo{"monthly": {Checksum: "m"}, "15min": {Checksum: "n"}, "daily": {Checksum: "d"}}
	b := sampleEvent()
	b.Archives = map[string]ArchiveInfo{"daily": {Checksum: "d"}, "monthly": {Checksum: "m"}, "15min": {Checksum: "n"}}
	a.SetChainHashes("")
	b.SetChainHashes("")
	if a.Chain.EventHash != b.Chain.EventHash {
		t.Error("archive order should not affect hash")
	}
}

func TestFileEmitterChainsEvents(t *testing.T) {
	dir := t.TempDir()
	e, err := NewFileEmitter(dir, logging.Discard())
	if err != nil {
		t.Fatalf("NewFileEmitter: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := e.EmitRun(ctx, sampleEvent()); err != nil {
			t.Fatalf("EmitRun %d: %v", i, err)
		}
	}

	events, err := e.ReadLog(2024)
	if err != nil {
		t.Fatalf("ReadLog: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	if err := Verify(events); err != nil {
		t.Errorf("Verify: %v", err)
	}

	// a fresh emitter continues the persisted chain
	e2, err := NewFileEmitter(dir, logging.Discard())
	if err != nil {
		t.Fatal(err)
	}
	if err := e2.EmitRun(ctx, sampleEvent()); err != nil {
		t.Fatal(err)
	}
	events, _ = e2.ReadLog(2024)
	if err := Verify(events); err != nil {
		t.Errorf("Verify after reopen: %v", err)
	}

	events[1].Archives["daily"] = ArchiveInfo{Checksum: "sha256:tampered"}
	if err := Verify(events); err == nil {
		t.Error("Verify should detect tampering")
	}
}

func TestFileEmitterRecoversHeadFromLog(t *testing.T) {
	dir := t.TempDir()
	e, err := NewFileEmitter(dir, logging.Discard())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := e.EmitRun(ctx, sampleEvent()); err != nil {
		t.Fatal(err)
	}

	head, err := e.chain.Head(2024)
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	if head.EventID == "" || !strings.HasPrefix(head.EventHash, "sha256:") {
		t.Errorf("unexpected head %+v", head)
	}

	if err := os.Remove(filepath.Join(dir, "chain-heads.json")); err != nil {
		t.Fatal(err)
	}
	e2, err := NewFileEmitter(dir, logging.Discard())
	if err != nil {
		t.Fatal(err)
	}
	if err := e2.EmitRun(ctx, sampleEvent()); err != nil {
		t.Fatal(err)
	}

	events, err := e2.ReadLog(2024)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if err := Verify(events); err != nil {
		t.Errorf("chain should continue after losing the heads file: %v", err)
	}
}

func TestNewEmitterDisabled(t *testing.T) {
	e, err := NewEmitter(config.AuditConfig{}, logging.Discard())
	if err != nil {
		t.Fatal(err)
	}
	if err := e.EmitRun(context.Background(), sampleEvent()); err != nil {
		t.Errorf("EmitRun: %v", err)
	}
}

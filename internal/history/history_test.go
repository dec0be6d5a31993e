package history

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/benaskins/gateboot/internal/boot"
)

func TestRecordRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	s.now = func() time.Time { return time.UnixMilli(5000) }

	// Initially empty
	runs, err := s.Runs()
	if err != nil {
		t.Fatalf("runs empty: %v", err)
	}
	if len(runs) != 0 {
		t.Fatalf("expected no runs, got %v", runs)
	}
	if id, err := s.LastRunID(); err != nil || id != 0 {
		t.Fatalf("expected last run id 0, got %d (%v)", id, err)
	}

	status := 200
	if err := s.Record(boot.State{
		Phase:          boot.PhaseReady,
		RunID:          3,
		StartedAt:      time.UnixMilli(1000),
		Attempts:       4,
		LastHTTPStatus: &status,
	}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := s.Record(boot.State{Phase: boot.PhaseError, RunID: 4, Error: "spawn failed"}); err != nil {
		t.Fatalf("record: %v", err)
	}

	runs, err = s.Runs()
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	first := runs[0]
	if first.RunID != 3 || first.Phase != boot.PhaseReady || first.Attempts != 4 {
		t.Errorf("unexpected first record: %+v", first)
	}
	if first.StartedAt != 1000 || first.FinishedAt != 5000 {
		t.Errorf("unexpected timestamps: %+v", first)
	}
	if first.LastHTTPStatus == nil || *first.LastHTTPStatus != 200 {
		t.Errorf("expected status 200, got %v", first.LastHTTPStatus)
	}
	if runs[1].StartedAt != 0 || runs[1].Error != "spawn failed" {
		t.Errorf("unexpected second record: %+v", runs[1])
	}

	if id, _ := s.LastRunID(); id != 4 {
		t.Errorf("expected last run id 4, got %d", id)
	}

	// Verify file path
	if expected := filepath.Join(dir, "runs.json"); s.Path() != expected {
		t.Errorf("expected path %s, got %s", expected, s.Path())
	}
	if _, err := os.Stat(s.Path() + ".tmp"); !os.IsNotExist(err) {
		t.Error("expected temp file renamed away")
	}
}

func TestRecordKeepsRecent(t *testing.T) {
	s := New(t.TempDir())
	for i := 1; i <= Keep+10; i++ {
		if err := s.Record(boot.State{Phase: boot.PhaseReady, RunID: uint64(i)}); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}

	runs, err := s.Runs()
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != Keep {
		t.Fatalf("expected %d runs, got %d", Keep, len(runs))
	}
	if runs[0].RunID != 11 || runs[len(runs)-1].RunID != Keep+10 {
		t.Errorf("expected runs 11..%d, got %d..%d", Keep+10, runs[0].RunID, runs[len(runs)-1].RunID)
	}
}

func TestLastRunIDNeverDecreases(t *testing.T) {
	s := New(t.TempDir())
	s.Record(boot.State{Phase: boot.PhaseReady, RunID: 9})
	s.Record(boot.State{Phase: boot.PhaseCancelled, RunID: 2})

	if id, _ := s.LastRunID(); id != 9 {
		t.Errorf("expected last run id 9, got %d", id)
	}
}

func TestCorruptFile(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	if err := os.WriteFile(s.Path(), []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := s.LastRunID(); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
	data, err := os.ReadFile(s.BadPath())
	if err != nil || string(data) != "{not json" {
		t.Fatalf("expected corrupt content kept at %s, got %q (%v)", s.BadPath(), data, err)
	}
	if _, err := os.Stat(s.Path()); !os.IsNotExist(err) {
		t.Errorf("expected corrupt file moved away, stat err %v", err)
	}

	if err := s.Record(boot.State{Phase: boot.PhaseReady, RunID: 1}); err != nil {
		t.Fatalf("record after corrupt file: %v", err)
	}
	runs, err := s.Runs()
	if err != nil || len(runs) != 1 {
		t.Errorf("expected one run after recovery, got %v (%v)", runs, err)
	}
}

func TestRecordSetsAsideCorruptFile(t *testing.T) {
	s := New(t.TempDir())
	os.WriteFile(s.Path(), []byte("[]garbage"), 0600)

	if err := s.Record(boot.State{Phase: boot.PhaseError, RunID: 3}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if _, err := os.Stat(s.BadPath()); err != nil {
		t.Errorf("expected %s to exist: %v", s.BadPath(), err)
	}
	if id, err := s.LastRunID(); err != nil || id != 3 {
		t.Errorf("LastRunID = %d, %v", id, err)
	}
}

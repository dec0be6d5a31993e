package boot

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestDeriveNoRun(t *testing.T) {
	m := Derive(Initial(), time.Now(), 10*time.Minute)
	if m.ElapsedMs != 0 || m.Progress != 0 {
		t.Errorf("expected zero metrics, got %+v", m)
	}
	if m.MaxWaitMs != 600000 {
		t.Errorf("expected max wait 600000ms, got %d", m.MaxWaitMs)
	}
}

func TestDeriveProgressCapsBeforeReady(t *testing.T) {
	start := time.Unix(1000, 0)
	s := State{Phase: PhasePolling, RunID: 1, StartedAt: start}
	maxWait := 10 * time.Second

	m := Derive(s, start.Add(5*time.Second), maxWait)
	if m.ElapsedMs != 5000 {
		t.Errorf("expected 5000ms elapsed, got %d", m.ElapsedMs)
	}
	if m.Progress != 0.5 {
		t.Errorf("expected progress 0.5, got %v", m.Progress)
	}

	m = Derive(s, start.Add(30*time.Second), maxWait)
	if m.Progress != 0.95 {
		t.Errorf("expected progress capped at 0.95, got %v", m.Progress)
	}

	s.Phase = PhaseReady
	m = Derive(s, start.Add(time.Second), maxWait)
	if m.Progress != 1 {
		t.Errorf("expected progress 1 when ready, got %v", m.Progress)
	}
}

func TestDeriveProgressMonotonic(t *testing.T) {
	start := time.Unix(0, 0)
	s := State{Phase: PhaseBooting, RunID: 1, StartedAt: start}
	maxWait := 2 * time.Second

	prev := -1.0
	for ms := 0; ms <= 4000; ms += 50 {
		if ms == 500 {
			s = Reduce(s, SpawnOK())
		}
		m := Derive(s, start.Add(time.Duration(ms)*time.Millisecond), maxWait)
		if m.Progress < prev {
			t.Fatalf("progress decreased at %dms: %v < %v", ms, m.Progress, prev)
		}
		if m.Progress > 0.95 {
			t.Fatalf("progress %v above cap at %dms", m.Progress, ms)
		}
		prev = m.Progress
	}
}

func TestDeriveClockSkew(t *testing.T) {
	start := time.Unix(1000, 0)
	s := State{Phase: PhaseBooting, StartedAt: start}
	m := Derive(s, start.Add(-time.Second), time.Minute)
	if m.ElapsedMs != 0 || m.Progress != 0 {
		t.Errorf("expected zero metrics for a clock behind start, got %+v", m)
	}
}

func TestSnapshotJSON(t *testing.T) {
	start := time.UnixMilli(1700000000000)
	s := State{Phase: PhasePolling, RunID: 2, StartedAt: start, Attempts: 1, LastHTTPStatus: intPtr(503)}

	data, err := json.Marshal(NewSnapshot(s, start.Add(time.Second), time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	for _, want := range []string{
		`"phase":"polling"`,
		`"run_id":2`,
		`"attempts":1`,
		`"last_http_status":503`,
		`"started_at_ms":1700000000000`,
		`"elapsed_ms":1000`,
		`"max_wait_ms":60000`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %s in %s", want, out)
		}
	}
	if strings.Contains(out, "last_readiness") || strings.Contains(out, `"error"`) {
		t.Errorf("expected empty fields omitted: %s", out)
	}
}

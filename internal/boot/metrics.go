package boot

import "time"

// progressCap keeps the indicator short of full until the gateway is ready.
const progressCap = 0.95

// Metrics are derived from State at read time.
type Metrics struct {
	ElapsedMs int64   `json:"elapsed_ms"`
	Progress  float64 `json:"progress"`
	MaxWaitMs int64   `json:"max_wait_ms"`
}

// Derive computes metrics for s as of now.
func Derive(s State, now time.Time, maxWait time.Duration) Metrics {
	m := Metrics{MaxWaitMs: maxWait.Milliseconds()}
	if s.StartedAt.IsZero() {
		if s.Phase == PhaseReady {
			m.Progress = 1
		}
		return m
	}

	elapsed := now.Sub(s.StartedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	m.ElapsedMs = elapsed.Milliseconds()

	switch {
	case s.Phase == PhaseReady:
		m.Progress = 1
	case maxWait <= 0:
		m.Progress = progressCap
	default:
		m.Progress = min(progressCap, float64(elapsed)/float64(maxWait))
	}
	return m
}

// Snapshot is the observable view handed to presentation layers.
type Snapshot struct {
	State
	StartedAtMs *int64 `json:"started_at_ms,omitempty"`
	Metrics
}

// NewSnapshot bundles s with its metrics as of now.
func NewSnapshot(s State, now time.Time, maxWait time.Duration) Snapshot {
	snap := Snapshot{State: s, Metrics: Derive(s, now, maxWait)}
	if !s.StartedAt.IsZero() {
		ms := s.StartedAt.UnixMilli()
		snap.StartedAtMs = &ms
	}
	return snap
}

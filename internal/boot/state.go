// Package boot holds the gateway boot state machine: the state value, the
// actions that drive it, and the metrics derived from it.
//
// Reduce is the only way state changes. It never mutates its input; callers
// replace their copy with the returned value.
package boot

import "time"

// Phase is the boot lifecycle phase of one run.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseBooting   Phase = "booting"
	PhasePolling   Phase = "polling"
	PhaseReady     Phase = "ready"
	PhaseError     Phase = "error"
	PhaseCancelled Phase = "cancelled"
)

// Terminal reports whether the phase ends a run.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseReady, PhaseError, PhaseCancelled:
		return true
	}
	return false
}

// Active reports whether a run is in flight.
func (p Phase) Active() bool {
	return p == PhaseBooting || p == PhasePolling
}

// State is the single source of truth for a boot run.
type State struct {
	Phase          Phase     `json:"phase"`
	RunID          uint64    `json:"run_id"`
	StartedAt      time.Time `json:"-"`
	Attempts       int       `json:"attempts"`
	LastHTTPStatus *int      `json:"last_http_status,omitempty"`
	LastReadiness  *string   `json:"last_readiness,omitempty"`
	Error          string    `json:"error,omitempty"`
}

// Initial returns the idle state a supervisor starts in.
func Initial() State {
	return State{Phase: PhaseIdle}
}

// Kind names an action.
type Kind string

const (
	KindRequestStart  Kind = "REQUEST_START"
	KindSpawnOK       Kind = "SPAWN_OK"
	KindHealthAttempt Kind = "HEALTH_ATTEMPT"
	KindReady         Kind = "READY"
	KindFail          Kind = "FAIL"
	KindCancelled     Kind = "CANCELLED"
	KindReset         Kind = "RESET"
)

// Action is an input to Reduce. Only the fields relevant to Kind are read.
type Action struct {
	Kind       Kind
	RunID      uint64
	At         time.Time
	HTTPStatus *int
	Readiness  *string
	Message    string
}

func RequestStart(runID uint64, at time.Time) Action {
	return Action{Kind: KindRequestStart, RunID: runID, At: at}
}

func SpawnOK() Action { return Action{Kind: KindSpawnOK} }

// HealthAttempt records one probe. Either diagnostic may be nil.
func HealthAttempt(status *int, readiness *string) Action {
	return Action{Kind: KindHealthAttempt, HTTPStatus: status, Readiness: readiness}
}

func Ready() Action { return Action{Kind: KindReady} }

func Fail(msg string) Action { return Action{Kind: KindFail, Message: msg} }

func Cancelled() Action { return Action{Kind: KindCancelled} }

func Reset() Action { return Action{Kind: KindReset} }

// Reduce applies a to s and returns the resulting state.
func Reduce(s State, a Action) State {
	switch a.Kind {
	case KindRequestStart:
		return State{
			Phase:     PhaseBooting,
			RunID:     a.RunID,
			StartedAt: a.At,
		}
	case KindSpawnOK:
		// A launcher success can land after cancel or failure already
		// moved the run on.
		if s.Phase != PhaseBooting {
			return s
		}
		s.Phase = PhasePolling
		return s
	case KindHealthAttempt:
		if s.Phase != PhasePolling {
			return s
		}
		s.Attempts++
		s.LastHTTPStatus = a.HTTPStatus
		s.LastReadiness = a.Readiness
		return s
	case KindReady:
		s.Phase = PhaseReady
		s.Error = ""
		return s
	case KindFail:
		s.Phase = PhaseError
		s.Error = a.Message
		return s
	case KindCancelled:
		s.Phase = PhaseCancelled
		return s
	case KindReset:
		return Initial()
	}
	return s
}

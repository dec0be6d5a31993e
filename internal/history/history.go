// Package history persists settled boot runs so run ids keep increasing
// across daemon restarts and operators can see recent outcomes.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/benaskins/gateboot/internal/boot"
)

// Keep is how many runs the file retains.
const Keep = 50

// ErrCorrupt reports a history file that could not be parsed. The file is
// moved to BadPath before the error is returned.
var ErrCorrupt = errors.New("run history corrupt")

// Record is the persisted outcome of one run.
type Record struct {
	RunID          uint64     `json:"run_id"`
	Phase          boot.Phase `json:"phase"`
	Attempts       int        `json:"attempts"`
	LastHTTPStatus *int       `json:"last_http_status,omitempty"`
	Error          string     `json:"error,omitempty"`
	StartedAt      int64      `json:"started_at,omitempty"`  // Unix milliseconds
	FinishedAt     int64      `json:"finished_at,omitempty"` // Unix milliseconds
}

type file struct {
	LastRunID uint64   `json:"last_run_id"`
	Runs      []Record `json:"runs"`
}

// Store is a JSON file of recent runs, newest last.
type Store struct {
	path string
	now  func() time.Time

	mu sync.Mutex
}

// New returns a store backed by <dir>/runs.json.
func New(dir string) *Store {
	return &Store{
		path: filepath.Join(dir, "runs.json"),
		now:  time.Now,
	}
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// BadPath is where an unparseable history file is kept for inspection.
func (s *Store) BadPath() string { return s.path + ".bad" }

// Record appends the settled state of a run.
func (s *Store) Record(st boot.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.loadUnsafe()
	if errors.Is(err, ErrCorrupt) {
		// Already set aside; start a fresh file.
		f, err = file{}, nil
	}
	if err != nil {
		return err
	}

	rec := Record{
		RunID:          st.RunID,
		Phase:          st.Phase,
		Attempts:       st.Attempts,
		LastHTTPStatus: st.LastHTTPStatus,
		Error:          st.Error,
		FinishedAt:     s.now().UnixMilli(),
	}
	if !st.StartedAt.IsZero() {
		rec.StartedAt = st.StartedAt.UnixMilli()
	}

	f.Runs = append(f.Runs, rec)
	if len(f.Runs) > Keep {
		f.Runs = f.Runs[len(f.Runs)-Keep:]
	}
	f.LastRunID = max(f.LastRunID, st.RunID)

	return s.saveUnsafe(f)
}

// Runs returns the recorded runs, oldest first. A missing file yields none.
func (s *Store) Runs() ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.loadUnsafe()
	if err != nil {
		return nil, err
	}
	return f.Runs, nil
}

// LastRunID returns the highest run id ever recorded, or 0.
func (s *Store) LastRunID() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.loadUnsafe()
	if err != nil {
		return 0, err
	}
	return f.LastRunID, nil
}

// loadUnsafe reads without locking; caller must hold s.mu.
func (s *Store) loadUnsafe() (file, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return file{}, nil
		}
		return file{}, fmt.Errorf("reading run history: %w", err)
	}

	var f file
	if err := json.Unmarshal(data, &f); err != nil {
		if rerr := os.Rename(s.path, s.BadPath()); rerr != nil {
			return file{}, fmt.Errorf("%w: %v (keeping %s: %v)", ErrCorrupt, err, s.path, rerr)
		}
		return file{}, fmt.Errorf("%w: %v (moved to %s)", ErrCorrupt, err, s.BadPath())
	}
	return f, nil
}

func (s *Store) saveUnsafe(f file) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmpPath, s.path)
}

// Package audit keeps an append-only record of secret access.
//
// Every keychain read made while spawning the gateway, and every write,
// delete or rotation from the CLI, is appended to <state_dir>/audit.log as
// newline-delimited JSON.
package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/benaskins/gateboot/internal/keychain"
)

// Action describes what happened.
type Action string

const (
	ActionSecretRead   Action = "secret_read"
	ActionSecretWrite  Action = "secret_write"
	ActionSecretDelete Action = "secret_delete"
	ActionSecretRotate Action = "secret_rotate"
)

// Entry is a single audit log record.
type Entry struct {
	Timestamp time.Time `json:"ts"`
	Action    Action    `json:"action"`
	Key       string    `json:"key"`
	Actor     string    `json:"actor,omitempty"`   // "launcher", "cli"
	Command   string    `json:"command,omitempty"` // rotation command
	Error     string    `json:"error,omitempty"`
}

// Logger writes audit entries to an append-only file.
type Logger struct {
	mu   sync.Mutex
	file *os.File
	path string
	now  func() time.Time
}

// NewLogger creates or opens an audit log file for appending.
func NewLogger(path string) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating audit dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}
	return &Logger{file: f, path: path, now: time.Now}, nil
}

// Path returns the log file path.
func (l *Logger) Path() string { return l.path }

// Log writes an audit entry.
func (l *Logger) Log(entry Entry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = l.now().UTC()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling audit entry: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing audit entry: %w", err)
	}
	return nil
}

// Close closes the audit log file.
func (l *Logger) Close() error {
	return l.file.Close()
}

// ReadEntries returns every entry in the log at path, oldest first. Lines
// that do not parse are skipped.
func ReadEntries(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []Entry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e Entry
		if json.Unmarshal(sc.Bytes(), &e) != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, sc.Err()
}

// LastRotated returns, per key, the time of the newest successful rotation
// in entries.
func LastRotated(entries []Entry) map[string]time.Time {
	last := make(map[string]time.Time)
	for _, e := range entries {
		if e.Action != ActionSecretRotate || e.Error != "" {
			continue
		}
		if e.Timestamp.After(last[e.Key]) {
			last[e.Key] = e.Timestamp
		}
	}
	return last
}

// Store is a keychain.Store that records each Get, Set, Delete and Rotate.
type Store struct {
	keychain.Store
	log   *Logger
	actor string
}

// WrapStore returns s with its access recorded to log under actor. List is
// passed through unrecorded.
func WrapStore(s keychain.Store, log *Logger, actor string) *Store {
	return &Store{Store: s, log: log, actor: actor}
}

func (s *Store) Get(key string) (string, error) {
	val, err := s.Store.Get(key)
	s.record(ActionSecretRead, key, err)
	return val, err
}

func (s *Store) Set(key, value string) error {
	err := s.Store.Set(key, value)
	s.record(ActionSecretWrite, key, err)
	return err
}

func (s *Store) Delete(key string) error {
	err := s.Store.Delete(key)
	s.record(ActionSecretDelete, key, err)
	return err
}

// Rotate runs command, stores what it prints as the new value of key and
// records one rotation entry. A failed command leaves the old value.
func (s *Store) Rotate(ctx context.Context, key, command string) error {
	value, err := keychain.RunRotation(ctx, command)
	if err == nil {
		if err = s.Store.Set(key, value); err != nil {
			err = fmt.Errorf("storing rotated secret: %w", err)
		}
	} else {
		err = fmt.Errorf("rotation command failed: %w", err)
	}
	_ = s.log.Log(s.entry(ActionSecretRotate, key, err, command))
	return err
}

func (s *Store) record(action Action, key string, err error) {
	// Audit failures never block secret access.
	_ = s.log.Log(s.entry(action, key, err, ""))
}

func (s *Store) entry(action Action, key string, err error, command string) Entry {
	e := Entry{Action: action, Key: key, Actor: s.actor, Command: command}
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

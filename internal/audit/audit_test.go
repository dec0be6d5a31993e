package audit

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/benaskins/gateboot/internal/keychain"
)

func openLog(t *testing.T) *Logger {
	t.Helper()
	l, err := NewLogger(filepath.Join(t.TempDir(), "state", "audit.log"))
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestLoggerWritesEntries(t *testing.T) {
	l := openLog(t)
	ts := time.Date(2026, 2, 19, 10, 30, 0, 0, time.UTC)

	l.Log(Entry{Timestamp: ts, Action: ActionSecretRead, Key: "gateway/openai", Actor: "launcher"})
	l.Log(Entry{Timestamp: ts.Add(time.Hour), Action: ActionSecretWrite, Key: "gateway/anthropic", Actor: "cli"})

	entries, err := ReadEntries(l.Path())
	if err != nil {
		t.Fatalf("ReadEntries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Action != ActionSecretRead || entries[0].Key != "gateway/openai" || !entries[0].Timestamp.Equal(ts) {
		t.Errorf("unexpected first entry %+v", entries[0])
	}
	if entries[1].Action != ActionSecretWrite || entries[1].Actor != "cli" {
		t.Errorf("unexpected second entry %+v", entries[1])
	}
}

func TestLoggerAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")

	// Write first entry, close
	l1, _ := NewLogger(path)
	l1.Log(Entry{Action: ActionSecretWrite, Key: "first"})
	l1.Close()

	// Open again, write second entry
	l2, _ := NewLogger(path)
	l2.Log(Entry{Action: ActionSecretRead, Key: "second"})
	l2.Close()

	entries, err := ReadEntries(path)
	if err != nil {
		t.Fatalf("ReadEntries: %v", err)
	}
	if len(entries) != 2 || entries[0].Key != "first" || entries[1].Key != "second" {
		t.Fatalf("expected both entries in order, got %+v", entries)
	}
}

func TestLoggerDefaultTimestamp(t *testing.T) {
	l := openLog(t)
	fixed := time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return fixed }

	l.Log(Entry{Action: ActionSecretRead, Key: "test"})

	entries, _ := ReadEntries(l.Path())
	if len(entries) != 1 || !entries[0].Timestamp.Equal(fixed) {
		t.Errorf("expected timestamp %v, got %+v", fixed, entries)
	}
}

func TestLoggerFilePermissions(t *testing.T) {
	l := openLog(t)

	info, _ := os.Stat(l.Path())
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("expected 0600, got %o", perm)
	}
}

func TestReadEntriesSkipsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	os.WriteFile(path, []byte("not json\n{\"action\":\"secret_read\",\"key\":\"k\"}\n"), 0600)

	entries, err := ReadEntries(path)
	if err != nil {
		t.Fatalf("ReadEntries: %v", err)
	}
	if len(entries) != 1 || entries[0].Key != "k" {
		t.Errorf("expected one parsed entry, got %+v", entries)
	}
}

func TestWrapStoreRecordsAccess(t *testing.T) {
	l := openLog(t)
	store := WrapStore(keychain.NewMemoryStore(), l, "cli")

	if err := store.Set("gateway/openai", "sk-test"); err != nil {
		t.Fatal(err)
	}
	if v, err := store.Get("gateway/openai"); err != nil || v != "sk-test" {
		t.Fatalf("Get = %q, %v", v, err)
	}
	if _, err := store.Get("gateway/missing"); !errors.Is(err, keychain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if keys, _ := store.List(); len(keys) != 1 {
		t.Errorf("expected List to pass through, got %v", keys)
	}
	store.Delete("gateway/openai")

	entries, _ := ReadEntries(l.Path())
	want := []Action{ActionSecretWrite, ActionSecretRead, ActionSecretRead, ActionSecretDelete}
	if len(entries) != len(want) {
		t.Fatalf("expected %d entries, got %+v", len(want), entries)
	}
	for i, a := range want {
		if entries[i].Action != a || entries[i].Actor != "cli" {
			t.Errorf("entry %d = %+v, want action %s", i, entries[i], a)
		}
	}
	if entries[2].Error == "" {
		t.Error("expected the failed read to carry its error")
	}
}

func TestRotateStoresValueAndRecords(t *testing.T) {
	l := openLog(t)
	inner := keychain.NewMemoryStore()
	inner.Set("gateway/openai", "sk-old")
	store := WrapStore(inner, l, "cli")

	if err := store.Rotate(context.Background(), "gateway/openai", "echo sk-new"); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if v, _ := inner.Get("gateway/openai"); v != "sk-new" {
		t.Errorf("expected rotated value, got %q", v)
	}

	err := store.Rotate(context.Background(), "gateway/openai", "exit 1")
	if err == nil {
		t.Fatal("expected failed rotation")
	}
	if v, _ := inner.Get("gateway/openai"); v != "sk-new" {
		t.Errorf("failed rotation changed the value to %q", v)
	}

	entries, _ := ReadEntries(l.Path())
	if len(entries) != 2 {
		t.Fatalf("expected 2 rotation entries, got %+v", entries)
	}
	if e := entries[0]; e.Action != ActionSecretRotate || e.Command != "echo sk-new" || e.Error != "" {
		t.Errorf("unexpected success entry %+v", e)
	}
	if e := entries[1]; e.Action != ActionSecretRotate || !strings.Contains(e.Error, "exit code 1") {
		t.Errorf("unexpected failure entry %+v", e)
	}
}

func TestLastRotated(t *testing.T) {
	t1 := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(24 * time.Hour)
	entries := []Entry{
		{Timestamp: t2, Action: ActionSecretRotate, Key: "a"},
		{Timestamp: t1, Action: ActionSecretRotate, Key: "a"},
		{Timestamp: t2.Add(time.Hour), Action: ActionSecretRotate, Key: "a", Error: "exit code 1"},
		{Timestamp: t2, Action: ActionSecretWrite, Key: "b"},
	}
	got := LastRotated(entries)
	if len(got) != 1 || !got["a"].Equal(t2) {
		t.Errorf("LastRotated = %v, want a at %v", got, t2)
	}
}

package launcher

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/benaskins/gateboot/internal/driver"
)

// pidRecord identifies a native gateway this launcher spawned, so a later
// daemon can follow it instead of treating it as someone else's.
type pidRecord struct {
	PID       int    `json:"pid"`
	Command   string `json:"command"`
	StartTime int64  `json:"start_time,omitempty"`
	Port      int    `json:"port"`
}

func readPIDRecord(path string) (pidRecord, error) {
	var rec pidRecord
	data, err := os.ReadFile(path)
	if err != nil {
		return rec, err
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("parsing %s: %w", path, err)
	}
	return rec, nil
}

func writePIDRecord(path string, rec pidRecord) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// recordSpawn saves the identity of a freshly spawned native gateway.
// Caller must hold g.mu.
func (g *Gateway) recordSpawn(pid int, command string, port int) {
	if g.pidFile == "" || pid == 0 {
		return
	}
	rec := pidRecord{PID: pid, Command: command, Port: port}
	if st, err := driver.ProcessStartTime(pid); err == nil {
		rec.StartTime = st
	}
	if err := writePIDRecord(g.pidFile, rec); err != nil {
		g.logger.Warn("recording gateway pid", "path", g.pidFile, "error", err)
	}
}

// forgetSpawn removes the pid record if it still names pid.
func (g *Gateway) forgetSpawn(pid int) {
	if g.pidFile == "" {
		return
	}
	rec, err := readPIDRecord(g.pidFile)
	if err != nil || rec.PID != pid {
		return
	}
	if err := os.Remove(g.pidFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		g.logger.Warn("removing gateway pid record", "path", g.pidFile, "error", err)
	}
}

// reattach follows the gateway named by the pid record when it still holds
// port and is the same process. A stale record is removed. Caller must hold
// g.mu.
func (g *Gateway) reattach(port int) *driver.AdoptedDriver {
	if g.pidFile == "" {
		return nil
	}
	rec, err := readPIDRecord(g.pidFile)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			g.logger.Warn("ignoring gateway pid record", "error", err)
			os.Remove(g.pidFile)
		}
		return nil
	}
	if rec.Port != port || !driver.VerifyProcess(rec.PID, rec.Command, rec.StartTime) {
		g.notice("pid record for %d is stale, ignoring it", rec.PID)
		os.Remove(g.pidFile)
		return nil
	}
	drv, err := driver.NewAdopted(rec.PID)
	if err != nil {
		g.notice("pid %d not alive, ignoring its record", rec.PID)
		os.Remove(g.pidFile)
		return nil
	}
	return drv
}

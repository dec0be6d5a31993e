//go:build !darwin

package driver

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

func processName(pid int) (string, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/comm", pid))
	if err != nil {
		return "", fmt.Errorf("reading process name for pid %d: %w", pid, err)
	}
	name := strings.TrimSpace(string(data))
	if name == "" {
		return "", fmt.Errorf("empty process name for pid %d", pid)
	}
	return name, nil
}

// processStartTime reads starttime, field 22 of /proc/<pid>/stat, in clock
// ticks since boot.
func processStartTime(pid int) (int64, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return 0, fmt.Errorf("reading stat for pid %d: %w", pid, err)
	}

	// comm (field 2) may contain spaces; split after its closing paren.
	s := string(data)
	end := strings.LastIndex(s, ")")
	if end < 0 || end+2 > len(s) {
		return 0, fmt.Errorf("malformed stat for pid %d", pid)
	}
	rest := strings.Fields(s[end+2:])
	const starttime = 19 // field 22, counting from field 3
	if len(rest) <= starttime {
		return 0, fmt.Errorf("malformed stat for pid %d: %d fields", pid, len(rest))
	}
	return strconv.ParseInt(rest[starttime], 10, 64)
}

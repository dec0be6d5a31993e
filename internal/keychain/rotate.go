package keychain

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// RunRotation runs command through /bin/sh and returns what it printed,
// without the trailing newline. The command must print only the new value.
func RunRotation(ctx context.Context, command string) (string, error) {
	out, err := exec.CommandContext(ctx, "/bin/sh", "-c", command).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("exit code %d: %s", exitErr.ExitCode(), strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", err
	}
	value := strings.TrimRight(string(out), "\r\n")
	if value == "" {
		return "", errors.New("rotation command printed nothing")
	}
	return value, nil
}

// Package logbuf keeps the most recent lines of launcher and gateway output.
package logbuf

import (
	"bytes"
	"io"
	"strings"
	"sync"
)

// DefaultLines is the retention used by the launcher.
const DefaultLines = 500

// Ring is a bounded, thread-safe line buffer. Writes are split on newlines;
// an unterminated tail is held until its newline arrives. Every completed
// line is also copied to the mirror writer, if one is set.
type Ring struct {
	mu      sync.Mutex
	lines   []string
	next    int
	wrapped bool
	tail    bytes.Buffer
	mirror  io.Writer
}

// New creates a ring retaining n lines. n <= 0 uses DefaultLines.
func New(n int) *Ring {
	if n <= 0 {
		n = DefaultLines
	}
	return &Ring{lines: make([]string, n)}
}

// SetMirror copies future lines to w (e.g. a launcher.log file). Mirror
// write errors are ignored.
func (r *Ring) SetMirror(w io.Writer) {
	r.mu.Lock()
	r.mirror = w
	r.mu.Unlock()
}

// Write implements io.Writer so the ring can be a process's stdout/stderr.
func (r *Ring) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tail.Write(p)
	for {
		line, err := r.tail.ReadString('\n')
		if err != nil {
			r.tail.Reset()
			r.tail.WriteString(line)
			break
		}
		r.push(strings.TrimRight(line, "\r\n"))
	}
	return len(p), nil
}

// Append stores a complete line.
func (r *Ring) Append(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.push(line)
}

func (r *Ring) push(line string) {
	r.lines[r.next] = line
	r.next = (r.next + 1) % len(r.lines)
	if r.next == 0 {
		r.wrapped = true
	}
	if r.mirror != nil {
		io.WriteString(r.mirror, line+"\n")
	}
}

// Lines returns the retained lines, oldest first.
func (r *Ring) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.wrapped {
		out := make([]string, r.next)
		copy(out, r.lines[:r.next])
		return out
	}
	out := make([]string, 0, len(r.lines))
	out = append(out, r.lines[r.next:]...)
	return append(out, r.lines[:r.next]...)
}

// Last returns up to n of the newest lines. n <= 0 returns all of them.
func (r *Ring) Last(n int) []string {
	all := r.Lines()
	if n <= 0 || n >= len(all) {
		return all
	}
	return all[len(all)-n:]
}

package alarmlog

import (
	"fmt"
	"sync"
)

// Recording is a Logger that keeps every formatted line in memory,
// grouped by level, for assertions in tests.
type Recording struct {
	mu    sync.Mutex
	lines map[string][]string
}

// NewRecording creates an empty Recording logger.
func NewRecording() *Recording {
	return &Recording{lines: make(map[string][]string)}
}

func (r *Recording) add(level, format string, args []interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines[level] = append(r.lines[level], fmt.Sprintf(format, args...))
}

func (r *Recording) Debugf(format string, args ...interface{}) { r.add("debug", format, args) }
func (r *Recording) Infof(format string, args ...interface{})  { r.add("info", format, args) }
func (r *Recording) Warnf(format string, args ...interface{})  { r.add("warn", format, args) }
func (r *Recording) Errorf(format string, args ...interface{}) { r.add("error", format, args) }

// Lines returns a copy of every recorded line at level.
func (r *Recording) Lines(level string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.lines[level]))
	copy(out, r.lines[level])
	return out
}

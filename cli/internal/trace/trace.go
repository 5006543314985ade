// Package trace writes pipeline step output to stderr when --trace is set.
// A Tracer with a nil writer is a no-op, and writes are serialized so chunk
// requests running concurrently can share one.
package trace

import (
	"fmt"
	"io"
	"sync"
)

const prefix = "[diffsum:trace]"

// Tracer writes sectioned trace output.
type Tracer struct {
	mu sync.Mutex
	w  io.Writer
}

// New returns a Tracer that writes to w. If w is nil, all methods no-op.
func New(w io.Writer) *Tracer {
	return &Tracer{w: w}
}

// Enabled reports whether output is written.
func (t *Tracer) Enabled() bool {
	return t != nil && t.w != nil
}

// Section writes "\n[diffsum:trace] === name ===\n".
func (t *Tracer) Section(name string) {
	t.Printf("\n%s === %s ===\n", prefix, name)
}

// Printf writes formatted output when enabled.
func (t *Tracer) Printf(format string, args ...any) {
	if !t.Enabled() {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.w, format, args...)
}

// Block writes a labeled multi-line value, cut to max bytes when max > 0.
func (t *Tracer) Block(label, text string, max int) {
	if !t.Enabled() {
		return
	}
	if max > 0 && len(text) > max {
		text = fmt.Sprintf("%s\n... (%d more bytes)", text[:max], len(text)-max)
	}
	t.Printf("%s %s:\n%s\n", prefix, label, text)
}

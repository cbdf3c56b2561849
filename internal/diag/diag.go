// Package diag defines the engine's fatal diagnostics. Every core invariant
// violation is reported as a Diagnostic and unwinds to the single recovery
// point in the evaluator; nothing in the engine recovers from one internally.
package diag

import (
	"errors"
	"fmt"
)

// Kind classifies a fatal condition.
type Kind int

const (
	ScopeViolation Kind = iota
	StackOverflow
	HeapExhausted
	Uninitialized
	UnmatchedDispatch
	JumpTargetLost
	BoundsError
	MathError
	Cancelled
	Internal
)

var kindNames = map[Kind]string{
	ScopeViolation:    "scope violation",
	StackOverflow:     "stack overflow",
	HeapExhausted:     "heap exhausted",
	Uninitialized:     "uninitialized value",
	UnmatchedDispatch: "unmatched dispatch",
	JumpTargetLost:    "jump target lost",
	BoundsError:       "bounds error",
	MathError:         "math error",
	Cancelled:         "cancelled",
	Internal:          "internal error",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Diagnostic is the structured report for a fatal condition. Line/Col are
// zero until the evaluator bakes in the position of the node that triggered
// the condition; deeper layers raise position-free diagnostics.
type Diagnostic struct {
	Kind Kind
	Line int
	Col  int
	Msg  string
}

// New builds a diagnostic with a formatted message and no position.
func New(kind Kind, format string, args ...interface{}) *Diagnostic {
	return &Diagnostic{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func (d *Diagnostic) Error() string {
	if d.Line > 0 {
		return fmt.Sprintf("skald: %s at %d:%d: %s", d.Kind, d.Line, d.Col, d.Msg)
	}
	return fmt.Sprintf("skald: %s: %s", d.Kind, d.Msg)
}

// WithPos records the source position unless one is already set. The first
// handler on the unwind path that knows a position wins.
func (d *Diagnostic) WithPos(line, col int) *Diagnostic {
	if d.Line == 0 {
		d.Line = line
		d.Col = col
	}
	return d
}

// From extracts a Diagnostic from an error chain.
func From(err error) (*Diagnostic, bool) {
	var d *Diagnostic
	if errors.As(err, &d) {
		return d, true
	}
	return nil, false
}

// IsKind reports whether err carries a diagnostic of the given kind.
func IsKind(err error, kind Kind) bool {
	d, ok := From(err)
	return ok && d.Kind == kind
}

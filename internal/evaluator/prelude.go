package evaluator

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/funvibe/skald/internal/ast"
	"github.com/funvibe/skald/internal/datum"
	"github.com/funvibe/skald/internal/diag"
	"github.com/funvibe/skald/internal/mode"
)

// evalPrelude dispatches a standard-prelude routine by name. The prelude is
// the engine's only writer; everything else traces.
func (th *thread) evalPrelude(n *ast.Node) (int32, error) {
	switch n.Sval {
	case "print":
		return th.preludePrint(n)
	case "newline":
		fmt.Fprintln(th.e.out)
		return th.stack.PushOperand(0)
	case "whole":
		return th.preludeWhole(n)
	}
	return 0, th.failf(n, diag.Internal, "unknown prelude routine %q", n.Sval)
}

// preludePrint renders each argument in order: character rows and single
// characters raw, everything else in inspect form. Printing a value with any
// uninitialized part is fatal, matching the read discipline everywhere else.
func (th *thread) preludePrint(n *ast.Node) (int32, error) {
	base := th.stack.OperandTop()
	for _, arg := range n.Kids {
		off, err := th.eval(arg)
		if err != nil {
			return 0, err
		}
		d := datum.Decode(th.e.modes, th.e.modes.At(arg.Mode), th.stack.Operand(), off, th.e.hp)
		if !d.FullyInitialized() {
			return 0, th.failf(arg, diag.Uninitialized, "print of an uninitialized value")
		}
		fmt.Fprint(th.e.out, renderDatum(d))
		th.stack.SetOperandTop(base)
	}
	return th.stack.PushOperand(0)
}

func renderDatum(d datum.Datum) string {
	if s, ok := d.Text(); ok {
		return s
	}
	if d.Kind == mode.Char {
		return string(d.Char)
	}
	return d.Inspect()
}

func (th *thread) preludeWhole(n *ast.Node) (int32, error) {
	base := th.stack.OperandTop()
	voff, err := th.eval(n.Kids[0])
	if err != nil {
		return 0, err
	}
	woff, err := th.eval(n.Kids[1])
	if err != nil {
		return 0, err
	}
	op := th.stack.Operand()
	if !datum.Initialized(op, voff) || !datum.Initialized(op, woff) {
		return 0, th.failf(n, diag.Uninitialized, "uninitialized argument of whole")
	}
	v, w := datum.GetInt(op, voff), datum.GetInt(op, woff)
	th.stack.SetOperandTop(base)
	return th.pushString(n, formatWhole(v, w))
}

// formatWhole lays an integer into a fixed-width field: right-aligned with an
// explicit sign for a positive width, left-aligned without a forced sign for
// a negative one, minimal digits for width zero. A value that cannot fit
// yields a field of asterisks.
func formatWhole(v, w int64) string {
	s := strconv.FormatInt(v, 10)
	if w == 0 {
		return s
	}
	if w > 0 && v >= 0 {
		s = "+" + s
	}
	width := int(w)
	if width < 0 {
		width = -width
	}
	if len(s) > width {
		return strings.Repeat("*", width)
	}
	pad := strings.Repeat(" ", width-len(s))
	if w > 0 {
		return pad + s
	}
	return s + pad
}

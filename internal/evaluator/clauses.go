package evaluator

import (
	"errors"
	"fmt"

	"github.com/funvibe/skald/internal/ast"
	"github.com/funvibe/skald/internal/datum"
	"github.com/funvibe/skald/internal/diag"
)

// jumpSignal unwinds from a jump statement to the serial clause that owns the
// target label. Handlers of frame-opening constructs close their frames as the
// signal passes; the owning clause catches it and resumes at the label's unit.
type jumpSignal struct {
	clause int32
	unit   int32
	name   string
	pos    ast.Pos
}

func (j *jumpSignal) Error() string { return fmt.Sprintf("jump to %q", j.name) }

// evalSerial runs a serial clause's units in order, keeping only the last
// unit's yield. Frame-owning serials open their frame around the units; bodies
// of routines, loops and arms run in their owner's frame. Unit boundaries with
// an empty operand stack are the collector's safe points.
func (th *thread) evalSerial(n *ast.Node) (int32, error) {
	if n.Bval {
		if _, err := th.stack.OpenBlock(n.Index, n.Level, n.Size); err != nil {
			return 0, th.fatal(n, err)
		}
	}
	base := th.stack.OperandTop()
	frameIdx := th.stack.Top()

	bail := func(err error) (int32, error) {
		if n.Bval {
			th.stack.Close()
		}
		return 0, err
	}

	for i := 0; i < len(n.Kids); i++ {
		fr := th.stack.Frame(frameIdx)
		fr.Serial, fr.Unit = n.Index, int32(i)

		off, err := th.eval(n.Kids[i])
		if err != nil {
			var js *jumpSignal
			if errors.As(err, &js) && js.clause == n.Index {
				th.stack.SetOperandTop(base)
				i = int(js.unit) - 1
				continue
			}
			return bail(err)
		}
		if i < len(n.Kids)-1 {
			th.stack.SetOperandTop(base)
			th.maybeCollect()
			continue
		}
		// Last unit: its value is the clause's yield.
		if !n.Bval {
			return off, nil
		}
		size := th.e.modes.Sizeof(n.Kids[i].Mode)
		if th.e.modes.At(n.Kids[i].Mode).HoldsRefs() {
			if err := th.checkScope(n.Kids[i], n.Kids[i].Mode, th.stack.Operand(), off, frameIdx-1); err != nil {
				return bail(err)
			}
		}
		th.stack.Close()
		res, err := th.stack.PushOperand(size)
		if err != nil {
			return 0, th.fatal(n, err)
		}
		return res, nil
	}
	// No units at all: yield void.
	if n.Bval {
		th.stack.Close()
	}
	return th.stack.PushOperand(0)
}

func (th *thread) evalCond(n *ast.Node) (int32, error) {
	base := th.stack.OperandTop()
	off, err := th.eval(n.Kids[0])
	if err != nil {
		return 0, err
	}
	op := th.stack.Operand()
	if !datum.Initialized(op, off) {
		return 0, th.failf(n, diag.Uninitialized, "uninitialized condition")
	}
	taken := datum.GetBool(op, off)
	th.stack.SetOperandTop(base)
	switch {
	case taken:
		return th.eval(n.Kids[1])
	case n.Bval:
		return th.eval(n.Kids[2])
	default:
		return th.stack.PushOperand(0)
	}
}

// evalCase dispatches on an INT selector to arms numbered from 1. A selector
// matching no arm is fatal unless an else part supplies the yield.
func (th *thread) evalCase(n *ast.Node) (int32, error) {
	arms := len(n.Kids) - 1
	if n.Bval {
		arms--
	}
	base := th.stack.OperandTop()
	off, err := th.eval(n.Kids[0])
	if err != nil {
		return 0, err
	}
	op := th.stack.Operand()
	if !datum.Initialized(op, off) {
		return 0, th.failf(n, diag.Uninitialized, "uninitialized case selector")
	}
	sel := datum.GetInt(op, off)
	th.stack.SetOperandTop(base)
	if sel >= 1 && sel <= int64(arms) {
		return th.eval(n.Kids[sel])
	}
	if n.Bval {
		return th.eval(n.Kids[len(n.Kids)-1])
	}
	return 0, th.failf(n, diag.UnmatchedDispatch, "case selector %d matches no arm of 1..%d", sel, arms)
}

// evalConformity dispatches on a union's runtime tag. The matching arm may
// bind the conforming value as the only slot of its frame.
func (th *thread) evalConformity(n *ast.Node) (int32, error) {
	arms := len(n.Kids) - 1
	if n.Bval {
		arms--
	}
	base := th.stack.OperandTop()
	off, err := th.eval(n.Kids[0])
	if err != nil {
		return 0, err
	}
	op := th.stack.Operand()
	if !datum.Initialized(op, off) {
		return 0, th.failf(n, diag.Uninitialized, "conformity on an uninitialized union")
	}
	tag := datum.GetUnionTag(op, off)

	for i := 1; i <= arms; i++ {
		arm := n.Kids[i]
		if int32(arm.Ival) != tag {
			continue
		}
		th.stack.SetOperandTop(base)
		return th.runConfArm(arm, off)
	}
	if n.Bval {
		th.stack.SetOperandTop(base)
		return th.eval(n.Kids[len(n.Kids)-1])
	}
	return 0, th.failf(n, diag.UnmatchedDispatch, "union holds %s, no conforming arm", th.e.modes.Display(tag))
}

// runConfArm opens the arm's frame, binds the united value when the arm names
// it, and runs the body. The selector bytes still sit above the operand top;
// nothing may push before the binding is copied out of them.
func (th *thread) runConfArm(arm *ast.Node, selOff int32) (int32, error) {
	if _, err := th.stack.OpenBlock(arm.Index, arm.Level, arm.Size); err != nil {
		return 0, th.fatal(arm, err)
	}
	frameIdx := th.stack.Top()
	if len(arm.Bindings) > 0 {
		member := int32(arm.Ival)
		datum.Copy(th.stack.Region(frameIdx), 0,
			th.stack.Operand(), datum.UnionPayload(selOff), th.e.modes.Sizeof(member))
	}
	off, err := th.eval(arm.Kids[0])
	if err != nil {
		th.stack.Close()
		return 0, err
	}
	size := th.e.modes.Sizeof(arm.Mode)
	if th.e.modes.At(arm.Mode).HoldsRefs() {
		if err := th.checkScope(arm, arm.Mode, th.stack.Operand(), off, frameIdx-1); err != nil {
			th.stack.Close()
			return 0, err
		}
	}
	th.stack.Close()
	res, err := th.stack.PushOperand(size)
	if err != nil {
		return 0, th.fatal(arm, err)
	}
	return res, nil
}

// evalLoop runs for/from/by/to/while/do. The bound parts are evaluated once,
// in the enclosing frame; the loop owns one frame holding the counter, reused
// across iterations. The termination test precedes every body run.
func (th *thread) evalLoop(n *ast.Node) (int32, error) {
	base := th.stack.OperandTop()
	readBound := func(part *ast.Node, what string) (int64, error) {
		off, err := th.eval(part)
		if err != nil {
			return 0, err
		}
		if !datum.Initialized(th.stack.Operand(), off) {
			return 0, th.failf(part, diag.Uninitialized, "uninitialized %s bound", what)
		}
		v := datum.GetInt(th.stack.Operand(), off)
		th.stack.SetOperandTop(base)
		return v, nil
	}

	from, err := readBound(n.Kids[0], "from")
	if err != nil {
		return 0, err
	}
	by, err := readBound(n.Kids[1], "by")
	if err != nil {
		return 0, err
	}
	var to int64
	bounded := n.Kids[2] != nil
	if bounded {
		if to, err = readBound(n.Kids[2], "to"); err != nil {
			return 0, err
		}
	}

	if _, err := th.stack.OpenBlock(n.Index, n.Level, n.Size); err != nil {
		return 0, th.fatal(n, err)
	}
	frameIdx := th.stack.Top()
	while, body := n.Kids[3], n.Kids[4]

	for counter := from; ; counter += by {
		if bounded {
			if by > 0 && counter > to {
				break
			}
			if by < 0 && counter < to {
				break
			}
		}
		if len(n.Bindings) > 0 {
			datum.PutInt(th.stack.Region(frameIdx), 0, counter)
		}
		if while != nil {
			woff, err := th.eval(while)
			if err != nil {
				th.stack.Close()
				return 0, err
			}
			if !datum.Initialized(th.stack.Operand(), woff) {
				th.stack.Close()
				return 0, th.failf(while, diag.Uninitialized, "uninitialized while part")
			}
			more := datum.GetBool(th.stack.Operand(), woff)
			th.stack.SetOperandTop(base)
			if !more {
				break
			}
		}
		if _, err := th.eval(body); err != nil {
			th.stack.Close()
			return 0, err
		}
		th.stack.SetOperandTop(base)
		th.maybeCollect()
	}
	th.stack.Close()
	return th.stack.PushOperand(0)
}

func (th *thread) evalJump(n *ast.Node) (int32, error) {
	label := th.e.prog.At(n.Target)
	return 0, &jumpSignal{
		clause: label.Target,
		unit:   int32(label.Ival),
		name:   n.Sval,
		pos:    n.Pos,
	}
}

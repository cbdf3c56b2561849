package evaluator

import (
	"github.com/funvibe/skald/internal/ast"
	"github.com/funvibe/skald/internal/datum"
	"github.com/funvibe/skald/internal/diag"
	"github.com/funvibe/skald/internal/mode"
)

// evalRoutineText yields the routine value: the body's node plus the frame
// that forms its static environment. The locale stays empty until a partial
// call binds arguments.
func (th *thread) evalRoutineText(n *ast.Node) (int32, error) {
	environ, ok := th.stack.ResolveLevel(n.Level - 1)
	if !ok {
		return 0, th.failf(n, diag.Internal, "no environment frame at level %d", n.Level-1)
	}
	off, err := th.stack.PushOperand(mode.ProcSize)
	if err != nil {
		return 0, th.fatal(n, err)
	}
	datum.PutProc(th.stack.Operand(), off, datum.Proc{Node: n.Index, Environ: environ, Locale: -1})
	return off, nil
}

// evalCall elaborates the callee and the arguments, then either binds a
// partial locale or runs the routine body. A full call through a shapely
// callee settles the node on the resolved fast path.
func (th *thread) evalCall(n *ast.Node) (int32, error) {
	base := th.stack.OperandTop()
	pv, argOffs, err := th.callOperands(n)
	if err != nil {
		return 0, err
	}
	if n.Bval {
		return th.partialCall(n, pv, argOffs, base)
	}
	off, err := th.applyRoutine(n, pv, n.Kids[0].Mode, argOffs, base)
	if err == nil && th.branch == 0 && th.e.specialize &&
		n.Prop.Kind == ast.PropIdle && pv.Locale < 0 {
		n.Prop = ast.Propagator{Kind: ast.PropResolvedCall, A: pv.Node, B: th.e.prog.At(pv.Node).Level}
		th.e.noteInstall(ast.PropResolvedCall)
		tracer().Debugf("node %d (%s) settled on %s", n.Index, n.Kind, n.Prop.Kind)
	}
	return off, err
}

// resolvedCall trusts the routine cached at install time and skips re-deriving
// the frame shape. A callee that no longer matches (another routine value, or
// one carrying a locale) runs generically; the propagator is not reverted.
func (th *thread) resolvedCall(n *ast.Node) (int32, error) {
	base := th.stack.OperandTop()
	pv, argOffs, err := th.callOperands(n)
	if err != nil {
		return 0, err
	}
	if pv.Node != n.Prop.A || pv.Locale >= 0 {
		return th.applyRoutine(n, pv, n.Kids[0].Mode, argOffs, base)
	}
	return th.runFrame(n, th.e.prog.At(n.Prop.A), pv, 0, argOffs, base)
}

// callOperands evaluates the callee and every argument, left to right. The
// values stay on the operand stack until runFrame copies them out.
func (th *thread) callOperands(n *ast.Node) (datum.Proc, []int32, error) {
	poff, err := th.eval(n.Kids[0])
	if err != nil {
		return datum.Proc{}, nil, err
	}
	if !datum.Initialized(th.stack.Operand(), poff) {
		return datum.Proc{}, nil, th.failf(n, diag.Uninitialized, "call of an uninitialized routine")
	}
	pv := datum.GetProc(th.stack.Operand(), poff)
	if pv.Node < 0 {
		return datum.Proc{}, nil, th.failf(n, diag.Uninitialized, "call of an undefined routine")
	}
	var argOffs []int32
	if len(n.Kids) > 1 {
		argOffs = make([]int32, len(n.Kids)-1)
		for i, a := range n.Kids[1:] {
			if argOffs[i], err = th.eval(a); err != nil {
				return datum.Proc{}, nil, err
			}
		}
	}
	return pv, argOffs, nil
}

// applyRoutine derives how many formals the locale already binds from the
// callee's static mode, then runs the body.
func (th *thread) applyRoutine(n *ast.Node, pv datum.Proc, calleeMode int32, argOffs []int32, base int32) (int32, error) {
	if pv.Node < 0 {
		return 0, th.failf(n, diag.Uninitialized, "call of an undefined routine")
	}
	rt := th.e.prog.At(pv.Node)
	bound := len(rt.Params) - len(th.e.modes.At(calleeMode).Params)
	return th.runFrame(n, rt, pv, bound, argOffs, base)
}

// runFrame is the call protocol: roll the operand stack back to base (the
// callee and argument bytes stay readable above it), open the routine's frame
// on its captured environment, image the locale and the arguments into the
// parameter slots, run the body, scope-check a ref-holding result against the
// caller, and re-push the result over the closed frame's rollback.
func (th *thread) runFrame(n *ast.Node, rt *ast.Node, pv datum.Proc, bound int, argOffs []int32, base int32) (int32, error) {
	th.stack.SetOperandTop(base)
	if _, err := th.stack.OpenProcedure(rt.Index, rt.Level, pv.Environ, rt.Size); err != nil {
		return 0, th.fatal(n, err)
	}
	frameIdx := th.stack.Top()
	region := th.stack.Region(frameIdx)
	if pv.Locale >= 0 {
		datum.Copy(region, 0, th.e.hp.Bytes(pv.Locale), 0, th.e.hp.SizeOf(pv.Locale))
	}
	for i, ao := range argOffs {
		p := rt.Params[bound+i]
		datum.Copy(region, p.Offset, th.stack.Operand(), ao, th.e.modes.Sizeof(p.Mode))
	}

	off, err := th.eval(rt.Kids[0])
	if err != nil {
		th.stack.Close()
		return 0, err
	}
	if th.e.modes.At(n.Mode).HoldsRefs() {
		if err := th.checkScope(n, n.Mode, th.stack.Operand(), off, frameIdx-1); err != nil {
			th.stack.Close()
			return 0, err
		}
	}
	th.stack.Close()
	res, err := th.stack.PushOperand(th.e.modes.Sizeof(n.Mode))
	if err != nil {
		return 0, th.fatal(n, err)
	}
	return res, nil
}

// partialCall binds the supplied prefix into a fresh heap locale and yields a
// routine value over the remaining formals. The locale lives on the heap, so
// bound references must already be frame-independent.
func (th *thread) partialCall(n *ast.Node, pv datum.Proc, argOffs []int32, base int32) (int32, error) {
	rt := th.e.prog.At(pv.Node)
	bound := len(rt.Params) - len(th.e.modes.At(n.Kids[0].Mode).Params)
	lmode := int32(rt.Ival)
	lsize := th.e.modes.Sizeof(lmode)
	handle, err := th.e.hp.Alloc(lmode, lsize)
	if err != nil {
		return 0, th.fatal(n, err)
	}
	block := th.e.hp.Bytes(handle)
	if pv.Locale >= 0 {
		datum.Copy(block, 0, th.e.hp.Bytes(pv.Locale), 0, lsize)
	}
	for i, ao := range argOffs {
		p := rt.Params[bound+i]
		if th.e.modes.At(p.Mode).HoldsRefs() {
			if err := th.checkScope(n.Kids[1+i], p.Mode, th.stack.Operand(), ao, 0); err != nil {
				return 0, err
			}
		}
		datum.Copy(block, p.Offset, th.stack.Operand(), ao, th.e.modes.Sizeof(p.Mode))
	}
	th.stack.SetOperandTop(base)
	off, err := th.stack.PushOperand(mode.ProcSize)
	if err != nil {
		return 0, th.fatal(n, err)
	}
	datum.PutProc(th.stack.Operand(), off, datum.Proc{Node: pv.Node, Environ: pv.Environ, Locale: handle})
	return off, nil
}

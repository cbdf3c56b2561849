// Package evaluator executes programs over the mode table, frame stacks and
// the collected heap. Each node carries a propagator, a dispatch cache that
// starts idle, settles after the first execution, and never reverts: nodes
// with an exploitable shape settle on a specialized handler, the rest on the
// generic one. Every handler pushes exactly one value of the node's mode onto
// the operand stack and reports its offset; fatal conditions surface as
// diagnostics and unwind to Run, the engine's single recovery point.
package evaluator

import (
	"context"
	"errors"
	"io"
	"os"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/npillmayer/schuko/tracing"

	"github.com/funvibe/skald/internal/ast"
	"github.com/funvibe/skald/internal/config"
	"github.com/funvibe/skald/internal/datum"
	"github.com/funvibe/skald/internal/diag"
	"github.com/funvibe/skald/internal/frame"
	"github.com/funvibe/skald/internal/heap"
	"github.com/funvibe/skald/internal/mode"
)

// tracer traces with key 'skald.engine'.
func tracer() tracing.Trace {
	return tracing.Select("skald.engine")
}

// Engine runs one program. It owns the heap and the main thread's stacks;
// parallel clauses derive branch threads with private stacks. An Engine is
// good for one Run at a time.
type Engine struct {
	prog  *ast.Program
	modes *mode.Table
	opts  config.Options
	hp    *heap.Heap
	main  *frame.Stack
	out   io.Writer
	runID string

	specialize   bool
	liveBranches atomic.Int32
	branchSeq    atomic.Int32

	steps     atomic.Int64
	installs  atomic.Int64
	installed [ast.PropBoundFormula + 1]atomic.Int64
}

// noteInstall counts a settled propagator, by kind and in total.
func (e *Engine) noteInstall(k ast.PropKind) {
	e.installs.Add(1)
	e.installed[k].Add(1)
}

func New(prog *ast.Program, opts config.Options) *Engine {
	e := &Engine{
		prog:       prog,
		modes:      prog.Modes,
		opts:       opts,
		out:        os.Stdout,
		runID:      uuid.NewString(),
		specialize: true,
	}
	e.hp = heap.New(prog.Modes, int32(opts.HeapBytes), int32(opts.MaxHandles))
	e.main = frame.NewStack(int32(opts.FrameStackBytes), int32(opts.OperandStackBytes))
	return e
}

// SetOutput redirects the standard prelude's transput.
func (e *Engine) SetOutput(w io.Writer) { e.out = w }

// SetSpecialize turns propagator specialization off; every node then settles
// on the generic handler. Observable behavior must not change.
func (e *Engine) SetSpecialize(on bool) { e.specialize = on }

// Heap exposes the engine's heap for collection hooks and inspection.
func (e *Engine) Heap() *heap.Heap { return e.hp }

// RunID identifies this engine instance in traces and collection logs.
func (e *Engine) RunID() string { return e.runID }

// Run executes the program to completion and decodes its yield. Any fatal
// diagnostic terminates the run; a jump that reaches this boundary lost its
// target clause.
func (e *Engine) Run(ctx context.Context) (datum.Datum, error) {
	th := &thread{e: e, stack: e.main, ctx: ctx}
	tracer().Infof("run %s starting", e.runID)
	off, err := th.eval(e.prog.Root)
	if err != nil {
		var js *jumpSignal
		if errors.As(err, &js) {
			err = diag.New(diag.JumpTargetLost, "jump to %q escaped every live clause", js.name).
				WithPos(js.pos.Line, js.pos.Col)
		}
		tracer().Errorf("run %s failed: %v", e.runID, err)
		return datum.Datum{}, err
	}
	res := datum.Decode(e.modes, e.modes.At(e.prog.Root.Mode), e.main.Operand(), off, e.hp)
	tracer().Infof("run %s finished", e.runID)
	return res, nil
}

// thread is one line of execution: the main one, or a parallel branch with
// its own stacks and depth budget. Branches never write propagators; the
// main thread only writes them while no branch is live.
type thread struct {
	e      *Engine
	stack  *frame.Stack
	ctx    context.Context
	depth  int
	branch int32
}

func (th *thread) eval(n *ast.Node) (int32, error) {
	e := th.e
	th.depth++
	defer func() { th.depth-- }()
	if th.depth > e.opts.MaxEvalDepth {
		return 0, diag.New(diag.StackOverflow, "evaluation nested deeper than %d", e.opts.MaxEvalDepth).
			WithPos(n.Pos.Line, n.Pos.Col)
	}
	if err := th.ctx.Err(); err != nil {
		return 0, diag.New(diag.Cancelled, "%v", err).WithPos(n.Pos.Line, n.Pos.Col)
	}
	e.steps.Add(1)

	switch n.Prop.Kind {
	case ast.PropIdle:
		if !e.specialize || th.branch != 0 {
			return th.generic(n)
		}
		off, err := th.generic(n)
		if err == nil {
			th.install(n)
		}
		return off, err

	case ast.PropGeneric, ast.PropDerefComputed:
		return th.generic(n)

	case ast.PropPreparedDenot:
		off, err := th.stack.PushOperand(int32(len(n.Prep)))
		if err != nil {
			return 0, th.fatal(n, err)
		}
		copy(th.stack.Operand()[off:], n.Prep)
		return off, nil

	case ast.PropLocalIdent:
		return th.pushSlot(n, th.stack.Top(), n.Prop.A)

	case ast.PropGlobalIdent:
		return th.pushSlot(n, 0, n.Prop.A)

	case ast.PropChasedIdent:
		i := th.stack.Top()
		for k := int32(0); k < n.Prop.A; k++ {
			i = th.stack.Frame(i).StaticLink
		}
		return th.pushSlot(n, i, n.Prop.B)

	case ast.PropDerefLocal:
		nm := datum.GetName(th.stack.Region(th.stack.Top()), n.Prop.A)
		return th.pushThroughName(n, nm)

	case ast.PropResolvedCall:
		return th.resolvedCall(n)

	case ast.PropBoundFormula:
		return th.evalFormula(n, n.Prop.A, n.Prop.B)
	}
	return 0, th.failf(n, diag.Internal, "no handler for propagator %s", n.Prop.Kind)
}

// pushSlot copies a frame slot onto the operand stack.
func (th *thread) pushSlot(n *ast.Node, frameIdx, slotOff int32) (int32, error) {
	size := th.e.modes.Sizeof(n.Mode)
	off, err := th.stack.PushOperand(size)
	if err != nil {
		return 0, th.fatal(n, err)
	}
	datum.Copy(th.stack.Operand(), off, th.stack.Region(frameIdx), slotOff, size)
	return off, nil
}

// generic executes a node by kind, with no shape assumptions.
func (th *thread) generic(n *ast.Node) (int32, error) {
	switch n.Kind {
	case ast.IntDenotation, ast.RealDenotation, ast.BoolDenotation, ast.CharDenotation:
		return th.evalScalarDenotation(n)
	case ast.StringDenotation:
		return th.evalStringDenotation(n)
	case ast.SkipDenotation:
		return th.evalSkip(n)
	case ast.NihilDenotation:
		return th.evalNihil(n)
	case ast.Identifier:
		return th.evalIdent(n)
	case ast.VariableDecl, ast.IdentityDecl:
		return th.evalDeclaration(n)
	case ast.LocGenerator:
		return th.evalLocGen(n)
	case ast.HeapGenerator:
		return th.evalHeapGen(n)
	case ast.RoutineText:
		return th.evalRoutineText(n)
	case ast.DerefCoercion:
		return th.evalDeref(n)
	case ast.DeprocCoercion:
		return th.evalDeproc(n)
	case ast.WidenCoercion:
		return th.evalWiden(n)
	case ast.RowCoercion:
		return th.evalRowed(n)
	case ast.UniteCoercion:
		return th.evalUnite(n)
	case ast.VoidCoercion:
		return th.evalVoided(n)
	case ast.FormulaExpr:
		lm := th.e.modes.Sizeof(n.Kids[0].Mode)
		rm := th.e.modes.Sizeof(n.Kids[1].Mode)
		return th.evalFormula(n, lm, rm)
	case ast.MonadicExpr:
		return th.evalMonadic(n)
	case ast.AssignExpr:
		return th.evalAssign(n)
	case ast.IdentityRelExpr:
		return th.evalIdentityRel(n)
	case ast.CallExpr:
		return th.evalCall(n)
	case ast.SliceExpr:
		return th.evalSlice(n)
	case ast.TrimExpr:
		return th.evalTrim(n)
	case ast.SelectionExpr:
		return th.evalSelection(n)
	case ast.RowDisplay:
		return th.evalRowDisplay(n)
	case ast.StructDisplay:
		return th.evalStructDisplay(n)
	case ast.SerialClause:
		return th.evalSerial(n)
	case ast.CondClause:
		return th.evalCond(n)
	case ast.CaseClause:
		return th.evalCase(n)
	case ast.ConformityClause:
		return th.evalConformity(n)
	case ast.LoopClause:
		return th.evalLoop(n)
	case ast.ParClause:
		return th.evalPar(n)
	case ast.JumpStmt:
		return th.evalJump(n)
	case ast.LabelMark:
		return th.stack.PushOperand(0)
	case ast.PreludeCall:
		return th.evalPrelude(n)
	}
	return 0, th.failf(n, diag.Internal, "no handler for node kind %s", n.Kind)
}

// install settles an idle node's propagator after its first successful
// execution. Handlers that learned more during the run (calls, denotations)
// may have installed already; the first writer wins and the choice is final.
func (th *thread) install(n *ast.Node) {
	if n.Prop.Kind != ast.PropIdle {
		return
	}
	next := ast.Propagator{Kind: ast.PropGeneric}
	switch n.Kind {
	case ast.Identifier:
		if n.Level == config.GlobalLevel {
			next = ast.Propagator{Kind: ast.PropGlobalIdent, A: n.Offset}
			break
		}
		hops := th.stack.Frame(th.stack.Top()).Level - n.Level
		if hops == 0 {
			next = ast.Propagator{Kind: ast.PropLocalIdent, A: n.Offset}
		} else if hops > 0 {
			next = ast.Propagator{Kind: ast.PropChasedIdent, A: hops, B: n.Offset}
		}
	case ast.IntDenotation, ast.RealDenotation, ast.BoolDenotation, ast.CharDenotation, ast.NihilDenotation:
		size := th.e.modes.Sizeof(n.Mode)
		n.Prep = make([]byte, size)
		datum.Copy(n.Prep, 0, th.stack.Operand(), th.stack.OperandTop()-size, size)
		next = ast.Propagator{Kind: ast.PropPreparedDenot}
	case ast.DerefCoercion:
		child := n.Kids[0]
		if child.Kind == ast.Identifier && child.Prop.Kind == ast.PropLocalIdent {
			next = ast.Propagator{Kind: ast.PropDerefLocal, A: child.Prop.A}
		} else {
			next = ast.Propagator{Kind: ast.PropDerefComputed}
		}
	case ast.FormulaExpr:
		next = ast.Propagator{
			Kind: ast.PropBoundFormula,
			A:    th.e.modes.Sizeof(n.Kids[0].Mode),
			B:    th.e.modes.Sizeof(n.Kids[1].Mode),
		}
	}
	n.Prop = next
	th.e.noteInstall(next.Kind)
	tracer().Debugf("node %d (%s) settled on %s", n.Index, n.Kind, n.Prop.Kind)
}

// failf raises a positioned diagnostic.
func (th *thread) failf(n *ast.Node, kind diag.Kind, format string, args ...interface{}) error {
	return diag.New(kind, format, args...).WithPos(n.Pos.Line, n.Pos.Col)
}

// fatal lifts storage-layer sentinels into positioned diagnostics.
func (th *thread) fatal(n *ast.Node, err error) error {
	if d, ok := diag.From(err); ok {
		return d.WithPos(n.Pos.Line, n.Pos.Col)
	}
	var kind diag.Kind
	switch {
	case errors.Is(err, frame.ErrFrameOverflow), errors.Is(err, frame.ErrOperandOverflow):
		kind = diag.StackOverflow
	case errors.Is(err, heap.ErrFull), errors.Is(err, heap.ErrHandles):
		kind = diag.HeapExhausted
	default:
		kind = diag.Internal
	}
	return diag.New(kind, "%v", err).WithPos(n.Pos.Line, n.Pos.Col)
}

// machineRoots walks every binding of every open frame on the main stack.
// Collections run only when the operand stack is empty and no branch is
// live, so frames are the complete root set.
type machineRoots struct{ e *Engine }

func (r machineRoots) VisitRoots(visit func(int32)) {
	e := r.e
	for i := int32(0); i <= e.main.Top(); i++ {
		f := e.main.Frame(i)
		owner := e.prog.At(f.Node)
		region := e.main.Region(i)
		for _, bind := range owner.Bindings {
			datum.VisitRefs(e.modes, e.modes.At(bind.Mode), region, bind.Offset, visit)
		}
	}
}

// maybeCollect runs a collection at a safe point: main thread, no live
// branches, empty operand stack, heap usage at or over the threshold.
func (th *thread) maybeCollect() {
	e := th.e
	if th.branch != 0 || e.liveBranches.Load() != 0 {
		return
	}
	if th.stack.OperandTop() != 0 {
		return
	}
	if e.hp.Usage() < e.opts.GCThreshold {
		return
	}
	e.hp.Collect(machineRoots{e})
}

// CollectNow forces a collection from outside the run loop, for drivers that
// want a final reclamation logged. It refuses while branches are live.
func (e *Engine) CollectNow() (heap.Stats, bool) {
	if e.liveBranches.Load() != 0 {
		return heap.Stats{}, false
	}
	return e.hp.Collect(machineRoots{e}), true
}

package evaluator

import (
	"context"
	"errors"
	"sync"

	"github.com/funvibe/skald/internal/ast"
	"github.com/funvibe/skald/internal/diag"
)

// evalPar runs the clause's void units as concurrent branches. Every branch
// gets a private stack sharing the already-open frames of its parent, so
// branches read and write the enclosing scopes but never each other's locals.
// The first failing branch cancels the rest; the collector stands down until
// the last branch is gone. The clause yields void once every branch finished.
func (th *thread) evalPar(n *ast.Node) (int32, error) {
	e := th.e
	if len(n.Kids) > e.opts.MaxParBranches {
		return 0, th.failf(n, diag.StackOverflow,
			"parallel clause spawns %d branches, limit is %d", len(n.Kids), e.opts.MaxParBranches)
	}
	bctx, cancel := context.WithCancel(th.ctx)
	defer cancel()

	var wg sync.WaitGroup
	errs := make([]error, len(n.Kids))
	for i, unit := range n.Kids {
		id := e.branchSeq.Add(1)
		e.liveBranches.Add(1)
		bt := &thread{e: e, stack: th.stack.Branch(), ctx: bctx, depth: th.depth, branch: id}
		wg.Add(1)
		go func(i int, unit *ast.Node, bt *thread) {
			defer wg.Done()
			defer e.liveBranches.Add(-1)
			tracer().Debugf("run %s branch %d starts", e.runID, bt.branch)
			_, err := bt.eval(unit)
			if err != nil {
				var js *jumpSignal
				if errors.As(err, &js) {
					// A label outside the branch is unreachable: the frames
					// between are not this goroutine's to unwind.
					err = diag.New(diag.JumpTargetLost, "jump to %q crossed a parallel boundary", js.name).
						WithPos(js.pos.Line, js.pos.Col)
				}
				errs[i] = err
				cancel()
			}
			tracer().Debugf("run %s branch %d done", e.runID, bt.branch)
		}(i, unit, bt)
	}
	wg.Wait()

	var first error
	for _, err := range errs {
		if err == nil {
			continue
		}
		if first == nil || (diag.IsKind(first, diag.Cancelled) && !diag.IsKind(err, diag.Cancelled)) {
			first = err
		}
	}
	if first != nil {
		return 0, first
	}
	return th.stack.PushOperand(0)
}

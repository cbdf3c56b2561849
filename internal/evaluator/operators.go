package evaluator

import (
	"math"

	"github.com/funvibe/skald/internal/ast"
	"github.com/funvibe/skald/internal/datum"
	"github.com/funvibe/skald/internal/diag"
	"github.com/funvibe/skald/internal/mode"
)

func (th *thread) yieldInt(base int32, v int64) (int32, error) {
	th.stack.SetOperandTop(base)
	off, err := th.stack.PushOperand(mode.ScalarSize)
	if err != nil {
		return 0, err
	}
	datum.PutInt(th.stack.Operand(), off, v)
	return off, nil
}

func (th *thread) yieldReal(base int32, v float64) (int32, error) {
	th.stack.SetOperandTop(base)
	off, err := th.stack.PushOperand(mode.ScalarSize)
	if err != nil {
		return 0, err
	}
	datum.PutReal(th.stack.Operand(), off, v)
	return off, nil
}

func (th *thread) yieldBool(base int32, v bool) (int32, error) {
	th.stack.SetOperandTop(base)
	off, err := th.stack.PushOperand(mode.ScalarSize)
	if err != nil {
		return 0, err
	}
	datum.PutBool(th.stack.Operand(), off, v)
	return off, nil
}

func (th *thread) yieldChar(base int32, r rune) (int32, error) {
	th.stack.SetOperandTop(base)
	off, err := th.stack.PushOperand(mode.ScalarSize)
	if err != nil {
		return 0, err
	}
	datum.PutChar(th.stack.Operand(), off, r)
	return off, nil
}

// intOfReal converts with the usual range discipline: NaN, infinities and
// magnitudes beyond INT are math errors, not wrapped garbage.
func (th *thread) intOfReal(n *ast.Node, x float64) (int64, error) {
	if math.IsNaN(x) || x < math.MinInt64 || x >= math.MaxInt64 {
		return 0, th.failf(n, diag.MathError, "%s of %g out of INT range", n.Op, x)
	}
	return int64(x), nil
}

// evalFormula applies a dyadic operator. The left operand lands at the
// caller's base, the right one lsize bytes above; the bound-formula propagator
// caches both sizes so the settled path re-finds the slots without descriptor
// lookups.
func (th *thread) evalFormula(n *ast.Node, lsize, rsize int32) (int32, error) {
	base := th.stack.OperandTop()
	if n.Op == ast.OpAnd || n.Op == ast.OpOr {
		return th.evalShortCircuit(n, base)
	}
	if _, err := th.eval(n.Kids[0]); err != nil {
		return 0, err
	}
	if _, err := th.eval(n.Kids[1]); err != nil {
		return 0, err
	}
	loff, roff := base, base+lsize
	op := th.stack.Operand()
	if !datum.Initialized(op, loff) || !datum.Initialized(op, roff) {
		return 0, th.failf(n, diag.Uninitialized, "uninitialized operand of %s", n.Op)
	}

	var (
		off int32
		err error
	)
	switch n.Op {
	case ast.OpAddInt:
		off, err = th.yieldInt(base, datum.GetInt(op, loff)+datum.GetInt(op, roff))
	case ast.OpSubInt:
		off, err = th.yieldInt(base, datum.GetInt(op, loff)-datum.GetInt(op, roff))
	case ast.OpMulInt:
		off, err = th.yieldInt(base, datum.GetInt(op, loff)*datum.GetInt(op, roff))
	case ast.OpOverInt:
		b := datum.GetInt(op, roff)
		if b == 0 {
			return 0, th.failf(n, diag.MathError, "division by zero")
		}
		off, err = th.yieldInt(base, datum.GetInt(op, loff)/b)
	case ast.OpModInt:
		b := datum.GetInt(op, roff)
		if b == 0 {
			return 0, th.failf(n, diag.MathError, "modulo by zero")
		}
		r := datum.GetInt(op, loff) % b
		if r < 0 {
			if b < 0 {
				r -= b
			} else {
				r += b
			}
		}
		off, err = th.yieldInt(base, r)
	case ast.OpEqInt:
		off, err = th.yieldBool(base, datum.GetInt(op, loff) == datum.GetInt(op, roff))
	case ast.OpNeInt:
		off, err = th.yieldBool(base, datum.GetInt(op, loff) != datum.GetInt(op, roff))
	case ast.OpLtInt:
		off, err = th.yieldBool(base, datum.GetInt(op, loff) < datum.GetInt(op, roff))
	case ast.OpLeInt:
		off, err = th.yieldBool(base, datum.GetInt(op, loff) <= datum.GetInt(op, roff))
	case ast.OpGtInt:
		off, err = th.yieldBool(base, datum.GetInt(op, loff) > datum.GetInt(op, roff))
	case ast.OpGeInt:
		off, err = th.yieldBool(base, datum.GetInt(op, loff) >= datum.GetInt(op, roff))

	case ast.OpAddReal:
		off, err = th.yieldReal(base, datum.GetReal(op, loff)+datum.GetReal(op, roff))
	case ast.OpSubReal:
		off, err = th.yieldReal(base, datum.GetReal(op, loff)-datum.GetReal(op, roff))
	case ast.OpMulReal:
		off, err = th.yieldReal(base, datum.GetReal(op, loff)*datum.GetReal(op, roff))
	case ast.OpDivReal:
		b := datum.GetReal(op, roff)
		if b == 0 {
			return 0, th.failf(n, diag.MathError, "division by zero")
		}
		off, err = th.yieldReal(base, datum.GetReal(op, loff)/b)
	case ast.OpEqReal:
		off, err = th.yieldBool(base, datum.GetReal(op, loff) == datum.GetReal(op, roff))
	case ast.OpNeReal:
		off, err = th.yieldBool(base, datum.GetReal(op, loff) != datum.GetReal(op, roff))
	case ast.OpLtReal:
		off, err = th.yieldBool(base, datum.GetReal(op, loff) < datum.GetReal(op, roff))
	case ast.OpLeReal:
		off, err = th.yieldBool(base, datum.GetReal(op, loff) <= datum.GetReal(op, roff))
	case ast.OpGtReal:
		off, err = th.yieldBool(base, datum.GetReal(op, loff) > datum.GetReal(op, roff))
	case ast.OpGeReal:
		off, err = th.yieldBool(base, datum.GetReal(op, loff) >= datum.GetReal(op, roff))

	case ast.OpEqBool:
		off, err = th.yieldBool(base, datum.GetBool(op, loff) == datum.GetBool(op, roff))
	case ast.OpNeBool:
		off, err = th.yieldBool(base, datum.GetBool(op, loff) != datum.GetBool(op, roff))

	case ast.OpEqChar:
		off, err = th.yieldBool(base, datum.GetChar(op, loff) == datum.GetChar(op, roff))
	case ast.OpNeChar:
		off, err = th.yieldBool(base, datum.GetChar(op, loff) != datum.GetChar(op, roff))
	case ast.OpLtChar:
		off, err = th.yieldBool(base, datum.GetChar(op, loff) < datum.GetChar(op, roff))
	case ast.OpLeChar:
		off, err = th.yieldBool(base, datum.GetChar(op, loff) <= datum.GetChar(op, roff))
	case ast.OpGtChar:
		off, err = th.yieldBool(base, datum.GetChar(op, loff) > datum.GetChar(op, roff))
	case ast.OpGeChar:
		off, err = th.yieldBool(base, datum.GetChar(op, loff) >= datum.GetChar(op, roff))

	case ast.OpConcat:
		return th.evalConcat(n, loff, roff, base)

	default:
		return 0, th.failf(n, diag.Internal, "no dyadic handler for %s", n.Op)
	}
	if err != nil {
		return 0, th.fatal(n, err)
	}
	return off, nil
}

// evalShortCircuit skips the right operand of AND/OR when the left decides.
func (th *thread) evalShortCircuit(n *ast.Node, base int32) (int32, error) {
	loff, err := th.eval(n.Kids[0])
	if err != nil {
		return 0, err
	}
	if !datum.Initialized(th.stack.Operand(), loff) {
		return 0, th.failf(n, diag.Uninitialized, "uninitialized operand of %s", n.Op)
	}
	l := datum.GetBool(th.stack.Operand(), loff)
	if (n.Op == ast.OpAnd && !l) || (n.Op == ast.OpOr && l) {
		off, err := th.yieldBool(base, l)
		if err != nil {
			return 0, th.fatal(n, err)
		}
		return off, nil
	}
	th.stack.SetOperandTop(base)
	roff, err := th.eval(n.Kids[1])
	if err != nil {
		return 0, err
	}
	if !datum.Initialized(th.stack.Operand(), roff) {
		return 0, th.failf(n, diag.Uninitialized, "uninitialized operand of %s", n.Op)
	}
	return roff, nil
}

func (th *thread) evalMonadic(n *ast.Node) (int32, error) {
	base := th.stack.OperandTop()
	xoff, err := th.eval(n.Kids[0])
	if err != nil {
		return 0, err
	}
	op := th.stack.Operand()
	if !datum.Initialized(op, xoff) {
		return 0, th.failf(n, diag.Uninitialized, "uninitialized operand of %s", n.Op)
	}

	var off int32
	switch n.Op {
	case ast.OpNegInt:
		off, err = th.yieldInt(base, -datum.GetInt(op, xoff))
	case ast.OpAbsInt:
		v := datum.GetInt(op, xoff)
		if v < 0 {
			v = -v
		}
		off, err = th.yieldInt(base, v)
	case ast.OpOddInt:
		off, err = th.yieldBool(base, datum.GetInt(op, xoff)&1 != 0)
	case ast.OpSignInt:
		v := datum.GetInt(op, xoff)
		s := int64(0)
		if v > 0 {
			s = 1
		} else if v < 0 {
			s = -1
		}
		off, err = th.yieldInt(base, s)

	case ast.OpNegReal:
		off, err = th.yieldReal(base, -datum.GetReal(op, xoff))
	case ast.OpAbsReal:
		off, err = th.yieldReal(base, math.Abs(datum.GetReal(op, xoff)))
	case ast.OpEntier:
		v, cerr := th.intOfReal(n, math.Floor(datum.GetReal(op, xoff)))
		if cerr != nil {
			return 0, cerr
		}
		off, err = th.yieldInt(base, v)
	case ast.OpRound:
		v, cerr := th.intOfReal(n, math.Round(datum.GetReal(op, xoff)))
		if cerr != nil {
			return 0, cerr
		}
		off, err = th.yieldInt(base, v)

	case ast.OpNot:
		off, err = th.yieldBool(base, !datum.GetBool(op, xoff))

	case ast.OpAbsChar:
		off, err = th.yieldInt(base, int64(datum.GetChar(op, xoff)))
	case ast.OpRepr:
		v := datum.GetInt(op, xoff)
		if v < 0 || v > 0x10FFFF {
			return 0, th.failf(n, diag.MathError, "REPR of %d outside the character range", v)
		}
		off, err = th.yieldChar(base, rune(v))

	case ast.OpUpb, ast.OpLwb:
		row := datum.GetRow(op, xoff)
		d := row.Dims[0]
		if n.Op == ast.OpUpb {
			off, err = th.yieldInt(base, int64(d.Ub))
		} else {
			off, err = th.yieldInt(base, int64(d.Lb))
		}

	default:
		return 0, th.failf(n, diag.Internal, "no monadic handler for %s", n.Op)
	}
	if err != nil {
		return 0, th.fatal(n, err)
	}
	return off, nil
}

// evalConcat joins two one-dimensional rows into a fresh block, renumbered
// from 1. Sources are read element-wise; a trimmed operand's stride and shift
// are honored.
func (th *thread) evalConcat(n *ast.Node, loff, roff, base int32) (int32, error) {
	op := th.stack.Operand()
	left, right := datum.GetRow(op, loff), datum.GetRow(op, roff)
	elem := th.e.modes.At(n.Mode).Elem
	elemSize := th.e.modes.Sizeof(elem)
	total := left.Count() + right.Count()

	out, err := th.e.hp.AllocRow(elem, []int32{total})
	if err != nil {
		return 0, th.fatal(n, err)
	}
	dst := th.e.hp.Bytes(out.Handle)
	at := int32(0)
	for _, src := range []datum.Row{left, right} {
		block := th.e.hp.Bytes(src.Handle)
		d := src.Dims[0]
		for i := int32(0); i < src.Count(); i++ {
			datum.Copy(dst, at*elemSize, block, (d.Lb+i)*d.Stride-d.Shift, elemSize)
			at++
		}
	}
	th.stack.SetOperandTop(base)
	dstOff, err := th.stack.PushOperand(th.e.modes.Sizeof(n.Mode))
	if err != nil {
		return 0, th.fatal(n, err)
	}
	datum.PutRow(th.stack.Operand(), dstOff, out)
	return dstOff, nil
}

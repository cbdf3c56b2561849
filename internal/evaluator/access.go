package evaluator

import (
	"math"

	"github.com/funvibe/skald/internal/ast"
	"github.com/funvibe/skald/internal/datum"
	"github.com/funvibe/skald/internal/diag"
	"github.com/funvibe/skald/internal/mode"
)

// readSubscript evaluates one INT unit and range-checks it into an int32.
func (th *thread) readSubscript(n *ast.Node) (int32, error) {
	off, err := th.eval(n)
	if err != nil {
		return 0, err
	}
	if !datum.Initialized(th.stack.Operand(), off) {
		return 0, th.failf(n, diag.Uninitialized, "uninitialized subscript")
	}
	v := datum.GetInt(th.stack.Operand(), off)
	if v < math.MinInt32 || v > math.MaxInt32 {
		return 0, th.failf(n, diag.BoundsError, "subscript %d out of range", v)
	}
	return int32(v), nil
}

// evalSlice subscripts a row value down to an element, or a row name down to
// an element name. Elements always live in a heap block, so an element name
// is heap-resident regardless of where the descriptor was stored.
func (th *thread) evalSlice(n *ast.Node) (int32, error) {
	base := th.stack.OperandTop()
	roff, err := th.eval(n.Kids[0])
	if err != nil {
		return 0, err
	}
	subs := make([]int32, len(n.Kids)-1)
	for i, sub := range n.Kids[1:] {
		if subs[i], err = th.readSubscript(sub); err != nil {
			return 0, err
		}
	}
	op := th.stack.Operand()
	rm := th.e.modes.At(n.Kids[0].Mode)

	if rm.Kind == mode.Name {
		if !datum.Initialized(op, roff) {
			return 0, th.failf(n, diag.Uninitialized, "slice through an uninitialized name")
		}
		nm := datum.GetName(op, roff)
		region, off, err := th.storageFor(n, nm)
		if err != nil {
			return 0, err
		}
		if !datum.Initialized(region, off) {
			return 0, th.failf(n, diag.Uninitialized, "slice of an uninitialized row")
		}
		row := datum.GetRow(region, off)
		elemOff, ok := datum.ElemOffset(row, subs)
		if !ok {
			return 0, th.failf(n, diag.BoundsError, "subscript outside the row bounds")
		}
		th.stack.SetOperandTop(base)
		dst, err := th.stack.PushOperand(mode.NameSize)
		if err != nil {
			return 0, th.fatal(n, err)
		}
		datum.PutName(th.stack.Operand(), dst, datum.Name{
			Res:    datum.RefHeap,
			Off:    elemOff,
			Handle: row.Handle,
		})
		return dst, nil
	}

	if !datum.Initialized(op, roff) {
		return 0, th.failf(n, diag.Uninitialized, "slice of an uninitialized row")
	}
	row := datum.GetRow(op, roff)
	elemOff, ok := datum.ElemOffset(row, subs)
	if !ok {
		return 0, th.failf(n, diag.BoundsError, "subscript outside the row bounds")
	}
	elemSize := th.e.modes.Sizeof(rm.Elem)
	block := th.e.hp.Bytes(row.Handle)
	th.stack.SetOperandTop(base)
	dst, err := th.stack.PushOperand(elemSize)
	if err != nil {
		return 0, th.fatal(n, err)
	}
	datum.Copy(th.stack.Operand(), dst, block, elemOff, elemSize)
	return dst, nil
}

// evalTrim yields the sub-row [from..to] renumbered from 1, aliasing the same
// element block. from = to+1 is the empty trim.
func (th *thread) evalTrim(n *ast.Node) (int32, error) {
	base := th.stack.OperandTop()
	roff, err := th.eval(n.Kids[0])
	if err != nil {
		return 0, err
	}
	from, err := th.readSubscript(n.Kids[1])
	if err != nil {
		return 0, err
	}
	to, err := th.readSubscript(n.Kids[2])
	if err != nil {
		return 0, err
	}
	op := th.stack.Operand()
	if !datum.Initialized(op, roff) {
		return 0, th.failf(n, diag.Uninitialized, "trim of an uninitialized row")
	}
	row := datum.GetRow(op, roff)
	d := row.Dims[0]
	if from < d.Lb || to > d.Ub || from > to+1 {
		return 0, th.failf(n, diag.BoundsError, "trim [%d..%d] outside bounds [%d..%d]", from, to, d.Lb, d.Ub)
	}
	trimmed := datum.Row{
		Handle: row.Handle,
		Dims: []datum.Dim{{
			Lb:     1,
			Ub:     to - from + 1,
			Stride: d.Stride,
			Shift:  d.Shift - (from-1)*d.Stride,
		}},
	}
	th.stack.SetOperandTop(base)
	dst, err := th.stack.PushOperand(th.e.modes.Sizeof(n.Mode))
	if err != nil {
		return 0, th.fatal(n, err)
	}
	datum.PutRow(th.stack.Operand(), dst, trimmed)
	return dst, nil
}

// evalSelection picks a field out of a struct value, or yields a name to the
// field of a named struct by shifting the name's offset.
func (th *thread) evalSelection(n *ast.Node) (int32, error) {
	base := th.stack.OperandTop()
	soff, err := th.eval(n.Kids[0])
	if err != nil {
		return 0, err
	}
	op := th.stack.Operand()
	sm := th.e.modes.At(n.Kids[0].Mode)

	if sm.Kind == mode.Name {
		if !datum.Initialized(op, soff) {
			return 0, th.failf(n, diag.Uninitialized, "selection through an uninitialized name")
		}
		nm := datum.GetName(op, soff)
		if nm.IsNil() {
			return 0, th.failf(n, diag.Uninitialized, "attempt to use NIL")
		}
		f := th.e.modes.At(sm.Target).Fields[n.Field]
		th.stack.SetOperandTop(base)
		dst, err := th.stack.PushOperand(mode.NameSize)
		if err != nil {
			return 0, th.fatal(n, err)
		}
		datum.PutName(th.stack.Operand(), dst, datum.Name{
			Res:    nm.Res,
			Scope:  nm.Scope,
			Off:    nm.Off + f.Offset,
			Handle: nm.Handle,
		})
		return dst, nil
	}

	f := sm.Fields[n.Field]
	size := th.e.modes.Sizeof(f.Mode)
	th.stack.SetOperandTop(base)
	dst, err := th.stack.PushOperand(size)
	if err != nil {
		return 0, th.fatal(n, err)
	}
	datum.Copy(th.stack.Operand(), dst, op, soff+f.Offset, size)
	return dst, nil
}

// evalRowDisplay elaborates the elements in place, then images the contiguous
// span into a fresh heap block in one copy.
func (th *thread) evalRowDisplay(n *ast.Node) (int32, error) {
	base := th.stack.OperandTop()
	for _, elem := range n.Kids {
		if _, err := th.eval(elem); err != nil {
			return 0, err
		}
	}
	rm := th.e.modes.At(n.Mode)
	count := int32(len(n.Kids))
	row, err := th.e.hp.AllocRow(rm.Elem, []int32{count})
	if err != nil {
		return 0, th.fatal(n, err)
	}
	if count > 0 {
		datum.Copy(th.e.hp.Bytes(row.Handle), 0, th.stack.Operand(), base, count*th.e.modes.Sizeof(rm.Elem))
	}
	th.stack.SetOperandTop(base)
	dst, err := th.stack.PushOperand(rm.Size)
	if err != nil {
		return 0, th.fatal(n, err)
	}
	datum.PutRow(th.stack.Operand(), dst, row)
	return dst, nil
}

// evalStructDisplay elaborates the fields in declaration order. Fields carry
// their own status words and the layout offsets are running size sums, so the
// operand span the elaborations leave behind is already the struct value.
func (th *thread) evalStructDisplay(n *ast.Node) (int32, error) {
	base := th.stack.OperandTop()
	for _, field := range n.Kids {
		if _, err := th.eval(field); err != nil {
			return 0, err
		}
	}
	return base, nil
}

// evalAssign writes the source value through the destination name and yields
// the name. The scope check rejects any source content more local than the
// destination's storage.
func (th *thread) evalAssign(n *ast.Node) (int32, error) {
	base := th.stack.OperandTop()
	doff, err := th.eval(n.Kids[0])
	if err != nil {
		return 0, err
	}
	if !datum.Initialized(th.stack.Operand(), doff) {
		return 0, th.failf(n, diag.Uninitialized, "assignment through an uninitialized name")
	}
	nm := datum.GetName(th.stack.Operand(), doff)
	soff, err := th.eval(n.Kids[1])
	if err != nil {
		return 0, err
	}
	region, off, err := th.storageFor(n, nm)
	if err != nil {
		return 0, err
	}
	if n.NeedsScopeCheck {
		destIdx := int32(0)
		if nm.Res == datum.RefFrame {
			destIdx = nm.Scope
		}
		if err := th.checkScope(n, n.Kids[1].Mode, th.stack.Operand(), soff, destIdx); err != nil {
			return 0, err
		}
	}
	datum.Copy(region, off, th.stack.Operand(), soff, th.e.modes.Sizeof(n.Kids[1].Mode))
	th.stack.SetOperandTop(base + mode.NameSize)
	return doff, nil
}

// evalIdentityRel compares two names for identity of the storage they denote.
func (th *thread) evalIdentityRel(n *ast.Node) (int32, error) {
	base := th.stack.OperandTop()
	loff, err := th.eval(n.Kids[0])
	if err != nil {
		return 0, err
	}
	roff, err := th.eval(n.Kids[1])
	if err != nil {
		return 0, err
	}
	op := th.stack.Operand()
	if !datum.Initialized(op, loff) || !datum.Initialized(op, roff) {
		return 0, th.failf(n, diag.Uninitialized, "identity relation on an uninitialized name")
	}
	same := datum.GetName(op, loff) == datum.GetName(op, roff)
	th.stack.SetOperandTop(base)
	dst, err := th.stack.PushOperand(mode.ScalarSize)
	if err != nil {
		return 0, th.fatal(n, err)
	}
	datum.PutBool(th.stack.Operand(), dst, same != n.Bval)
	return dst, nil
}

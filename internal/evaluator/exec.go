package evaluator

import (
	"github.com/funvibe/skald/internal/ast"
	"github.com/funvibe/skald/internal/datum"
	"github.com/funvibe/skald/internal/diag"
	"github.com/funvibe/skald/internal/mode"
)

// storageFor resolves a name to the region and offset it refers to.
func (th *thread) storageFor(n *ast.Node, nm datum.Name) ([]byte, int32, error) {
	switch nm.Res {
	case datum.RefFrame:
		return th.stack.Region(nm.Scope), nm.Off, nil
	case datum.RefHeap:
		return th.e.hp.Bytes(nm.Handle), nm.Off, nil
	case datum.RefNil:
		return nil, 0, th.failf(n, diag.Uninitialized, "attempt to use NIL")
	}
	return nil, 0, th.failf(n, diag.Internal, "name with residency %d", nm.Res)
}

// pushThroughName copies the value a name refers to onto the operand stack.
func (th *thread) pushThroughName(n *ast.Node, nm datum.Name) (int32, error) {
	region, off, err := th.storageFor(n, nm)
	if err != nil {
		return 0, err
	}
	size := th.e.modes.Sizeof(n.Mode)
	dst, err := th.stack.PushOperand(size)
	if err != nil {
		return 0, th.fatal(n, err)
	}
	datum.Copy(th.stack.Operand(), dst, region, off, size)
	return dst, nil
}

func (th *thread) evalScalarDenotation(n *ast.Node) (int32, error) {
	off, err := th.stack.PushOperand(mode.ScalarSize)
	if err != nil {
		return 0, th.fatal(n, err)
	}
	op := th.stack.Operand()
	switch n.Kind {
	case ast.IntDenotation:
		datum.PutInt(op, off, n.Ival)
	case ast.RealDenotation:
		datum.PutReal(op, off, n.Rval)
	case ast.BoolDenotation:
		datum.PutBool(op, off, n.Bval)
	case ast.CharDenotation:
		datum.PutChar(op, off, rune(n.Ival))
	}
	return off, nil
}

// evalStringDenotation builds a fresh character row; every evaluation yields
// a new instance so trims and element assignments never alias the denotation.
func (th *thread) evalStringDenotation(n *ast.Node) (int32, error) {
	return th.pushString(n, n.Sval)
}

// pushString images s as a heap character row and pushes the descriptor.
func (th *thread) pushString(n *ast.Node, s string) (int32, error) {
	runes := []rune(s)
	row, err := th.e.hp.AllocRow(mode.CharIndex, []int32{int32(len(runes))})
	if err != nil {
		return 0, th.fatal(n, err)
	}
	block := th.e.hp.Bytes(row.Handle)
	for i, r := range runes {
		datum.PutChar(block, int32(i)*mode.ScalarSize, r)
	}
	off, err := th.stack.PushOperand(th.e.modes.Sizeof(n.Mode))
	if err != nil {
		return 0, th.fatal(n, err)
	}
	datum.PutRow(th.stack.Operand(), off, row)
	return off, nil
}

// evalSkip yields an arbitrary but well-formed value: zeroed scalars, NIL
// names, empty rows, unroutined procs, unions tagged with their first member.
func (th *thread) evalSkip(n *ast.Node) (int32, error) {
	size := th.e.modes.Sizeof(n.Mode)
	off, err := th.stack.PushOperand(size)
	if err != nil {
		return 0, th.fatal(n, err)
	}
	return off, th.blessSkip(n, n.Mode, th.stack.Operand(), off)
}

func (th *thread) blessSkip(n *ast.Node, m int32, region []byte, off int32) error {
	md := th.e.modes.At(m)
	switch md.Kind {
	case mode.Void:
		return nil
	case mode.Int, mode.Real, mode.Bool, mode.Char:
		datum.Zero(region, off, md.Size)
		datum.SetInitialized(region, off)
	case mode.Name:
		datum.PutName(region, off, datum.Name{Res: datum.RefNil})
	case mode.Proc:
		datum.PutProc(region, off, datum.Proc{Node: -1, Environ: -1, Locale: -1})
	case mode.Row:
		counts := make([]int32, md.Dims)
		row, err := th.e.hp.AllocRow(md.Elem, counts)
		if err != nil {
			return th.fatal(n, err)
		}
		datum.PutRow(region, off, row)
	case mode.Struct:
		for _, f := range md.Fields {
			if err := th.blessSkip(n, f.Mode, region, off+f.Offset); err != nil {
				return err
			}
		}
	case mode.Union:
		first := md.Members[0]
		datum.PutUnionTag(region, off, first)
		return th.blessSkip(n, first, region, datum.UnionPayload(off))
	}
	return nil
}

func (th *thread) evalNihil(n *ast.Node) (int32, error) {
	off, err := th.stack.PushOperand(mode.NameSize)
	if err != nil {
		return 0, th.fatal(n, err)
	}
	datum.PutName(th.stack.Operand(), off, datum.Name{Res: datum.RefNil})
	return off, nil
}

func (th *thread) evalIdent(n *ast.Node) (int32, error) {
	idx, ok := th.stack.ResolveLevel(n.Level)
	if !ok {
		return 0, th.failf(n, diag.Internal, "no frame at level %d for %q", n.Level, n.Sval)
	}
	return th.pushSlot(n, idx, n.Offset)
}

// evalDeclaration runs a variable or identity declaration: evaluate the
// right side, store it in the identifier's slot, yield void. Identity
// declarations holding references are scope checked like assignments.
func (th *thread) evalDeclaration(n *ast.Node) (int32, error) {
	base := th.stack.OperandTop()
	off, err := th.eval(n.Kids[0])
	if err != nil {
		return 0, err
	}
	frameIdx, ok := th.stack.ResolveLevel(n.Level)
	if !ok {
		return 0, th.failf(n, diag.Internal, "no frame at level %d for %q", n.Level, n.Sval)
	}
	m := th.e.modes.At(n.Kids[0].Mode)
	if n.Kind == ast.IdentityDecl && m.HoldsRefs() {
		if err := th.checkScope(n, n.Kids[0].Mode, th.stack.Operand(), off, frameIdx); err != nil {
			return 0, err
		}
	}
	datum.Copy(th.stack.Region(frameIdx), n.Offset, th.stack.Operand(), off, m.Size)
	th.stack.SetOperandTop(base)
	return th.stack.PushOperand(0)
}

// evalLocGen claims the declaration's target slot in its frame: the slot is
// wiped back to uninitialized and a frame-resident name to it is yielded.
func (th *thread) evalLocGen(n *ast.Node) (int32, error) {
	frameIdx, ok := th.stack.ResolveLevel(n.Level)
	if !ok {
		return 0, th.failf(n, diag.Internal, "no frame at level %d for generator", n.Level)
	}
	target := th.e.modes.At(n.Mode).Target
	datum.Zero(th.stack.Region(frameIdx), n.Offset, th.e.modes.Sizeof(target))
	off, err := th.stack.PushOperand(mode.NameSize)
	if err != nil {
		return 0, th.fatal(n, err)
	}
	datum.PutName(th.stack.Operand(), off, datum.Name{
		Res:   datum.RefFrame,
		Scope: frameIdx,
		Off:   n.Offset,
	})
	return off, nil
}

func (th *thread) evalHeapGen(n *ast.Node) (int32, error) {
	target := th.e.modes.At(n.Mode).Target
	handle, err := th.e.hp.Alloc(target, th.e.modes.Sizeof(target))
	if err != nil {
		return 0, th.fatal(n, err)
	}
	off, err := th.stack.PushOperand(mode.NameSize)
	if err != nil {
		return 0, th.fatal(n, err)
	}
	datum.PutName(th.stack.Operand(), off, datum.Name{
		Res:    datum.RefHeap,
		Handle: handle,
	})
	return off, nil
}

func (th *thread) evalDeref(n *ast.Node) (int32, error) {
	base := th.stack.OperandTop()
	off, err := th.eval(n.Kids[0])
	if err != nil {
		return 0, err
	}
	nm := datum.GetName(th.stack.Operand(), off)
	if !datum.Initialized(th.stack.Operand(), off) {
		return 0, th.failf(n, diag.Uninitialized, "dereference of an uninitialized name")
	}
	th.stack.SetOperandTop(base)
	return th.pushThroughName(n, nm)
}

func (th *thread) evalDeproc(n *ast.Node) (int32, error) {
	base := th.stack.OperandTop()
	off, err := th.eval(n.Kids[0])
	if err != nil {
		return 0, err
	}
	if !datum.Initialized(th.stack.Operand(), off) {
		return 0, th.failf(n, diag.Uninitialized, "call of an uninitialized routine")
	}
	pv := datum.GetProc(th.stack.Operand(), off)
	return th.applyRoutine(n, pv, n.Kids[0].Mode, nil, base)
}

func (th *thread) evalWiden(n *ast.Node) (int32, error) {
	off, err := th.eval(n.Kids[0])
	if err != nil {
		return 0, err
	}
	op := th.stack.Operand()
	if !datum.Initialized(op, off) {
		return 0, th.failf(n, diag.Uninitialized, "widening an uninitialized value")
	}
	v := datum.GetInt(op, off)
	// same size, same slot: overwrite in place
	datum.PutReal(op, off, float64(v))
	return off, nil
}

func (th *thread) evalRowed(n *ast.Node) (int32, error) {
	base := th.stack.OperandTop()
	off, err := th.eval(n.Kids[0])
	if err != nil {
		return 0, err
	}
	md := th.e.modes.At(n.Mode)
	row, err := th.e.hp.AllocRow(md.Elem, []int32{1})
	if err != nil {
		return 0, th.fatal(n, err)
	}
	elemSize := th.e.modes.Sizeof(md.Elem)
	datum.Copy(th.e.hp.Bytes(row.Handle), 0, th.stack.Operand(), off, elemSize)
	th.stack.SetOperandTop(base)
	dst, err := th.stack.PushOperand(md.Size)
	if err != nil {
		return 0, th.fatal(n, err)
	}
	datum.PutRow(th.stack.Operand(), dst, row)
	return dst, nil
}

func (th *thread) evalUnite(n *ast.Node) (int32, error) {
	base := th.stack.OperandTop()
	off, err := th.eval(n.Kids[0])
	if err != nil {
		return 0, err
	}
	member := n.Kids[0].Mode
	msize := th.e.modes.Sizeof(member)
	th.stack.SetOperandTop(base)
	dst, err := th.stack.PushOperand(th.e.modes.Sizeof(n.Mode))
	if err != nil {
		return 0, th.fatal(n, err)
	}
	op := th.stack.Operand()
	// the member value sits where the union starts; move it up to the payload
	copy(op[datum.UnionPayload(dst):datum.UnionPayload(dst)+msize], op[off:off+msize])
	datum.PutUnionTag(op, dst, member)
	return dst, nil
}

func (th *thread) evalVoided(n *ast.Node) (int32, error) {
	base := th.stack.OperandTop()
	if _, err := th.eval(n.Kids[0]); err != nil {
		return 0, err
	}
	th.stack.SetOperandTop(base)
	return th.stack.PushOperand(0)
}

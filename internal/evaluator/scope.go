package evaluator

import (
	"github.com/funvibe/skald/internal/ast"
	"github.com/funvibe/skald/internal/datum"
	"github.com/funvibe/skald/internal/diag"
	"github.com/funvibe/skald/internal/mode"
)

// youngest reports the most local frame index any reference inside the value
// reaches; 0 means the value only touches immortal storage. Frame indices grow
// with nesting depth, so "younger than" is a plain integer comparison. Names
// are not followed into the storage they denote: a name's scope is the scope
// of that storage itself, and stopping there breaks reference cycles.
func (th *thread) youngest(m *mode.Mode, region []byte, off int32) int32 {
	if !m.HoldsRefs() {
		return 0
	}
	if m.Kind != mode.Struct && !datum.Initialized(region, off) {
		return 0
	}
	switch m.Kind {
	case mode.Name:
		nm := datum.GetName(region, off)
		if nm.Res == datum.RefFrame {
			return nm.Scope
		}
		return 0

	case mode.Proc:
		pv := datum.GetProc(region, off)
		y := int32(0)
		if pv.Environ > 0 {
			y = pv.Environ
		}
		if pv.Locale >= 0 {
			rt := th.e.prog.At(pv.Node)
			lm := th.e.modes.At(int32(rt.Ival))
			y = max(y, th.youngest(lm, th.e.hp.Bytes(pv.Locale), 0))
		}
		return y

	case mode.Row:
		row := datum.GetRow(region, off)
		elem := th.e.modes.At(m.Elem)
		if !elem.HoldsRefs() || row.Handle < 0 {
			return 0
		}
		// A trim aliases its source block, so every physical element counts,
		// not just the ones the descriptor exposes.
		block := th.e.hp.Bytes(row.Handle)
		y := int32(0)
		for boff := int32(0); boff+elem.Size <= int32(len(block)); boff += elem.Size {
			y = max(y, th.youngest(elem, block, boff))
		}
		return y

	case mode.Struct:
		y := int32(0)
		for _, f := range m.Fields {
			y = max(y, th.youngest(th.e.modes.At(f.Mode), region, off+f.Offset))
		}
		return y

	case mode.Union:
		tag := datum.GetUnionTag(region, off)
		return th.youngest(th.e.modes.At(tag), region, datum.UnionPayload(off))
	}
	return 0
}

// checkScope rejects a value that reaches storage younger than the frame it is
// about to be stored in (or yielded past). destIdx 0 is heap or global
// storage, which admits only frame-independent content.
func (th *thread) checkScope(n *ast.Node, mi int32, region []byte, off int32, destIdx int32) error {
	if y := th.youngest(th.e.modes.At(mi), region, off); y > destIdx {
		return th.failf(n, diag.ScopeViolation,
			"reference into frame %d cannot escape to frame %d scope", y, destIdx)
	}
	return nil
}

package datum

import "github.com/funvibe/skald/internal/mode"

// VisitRefs reports every handle held directly by the value at off: heap
// names, row element blocks, and routine locales. Struct fields and the
// active union member are walked in place; heap blocks are not followed,
// the collector does that through its own handle records. Uninitialized
// storage holds no references.
func VisitRefs(t *mode.Table, m *mode.Mode, region []byte, off int32, visit func(handle int32)) {
	if !m.HoldsRefs() {
		return
	}
	// Structs carry no status word of their own, each field checks itself.
	if m.Kind == mode.Struct {
		for _, f := range m.Fields {
			VisitRefs(t, t.At(f.Mode), region, off+f.Offset, visit)
		}
		return
	}
	if !Initialized(region, off) {
		return
	}
	switch m.Kind {
	case mode.Name:
		n := GetName(region, off)
		if n.Res == RefHeap && n.Handle >= 0 {
			visit(n.Handle)
		}
	case mode.Proc:
		p := GetProc(region, off)
		if p.Locale >= 0 {
			visit(p.Locale)
		}
	case mode.Row:
		r := GetRow(region, off)
		if r.Handle >= 0 {
			visit(r.Handle)
		}
	case mode.Union:
		tag := GetUnionTag(region, off)
		if tag >= 0 && tag < int32(t.Len()) {
			VisitRefs(t, t.At(tag), region, UnionPayload(off), visit)
		}
	}
}

// VisitRange scans a block as consecutive values of one mode. Row element
// blocks, heap generator targets, and routine locales all scan this way;
// a ghost element of an empty row stays uninitialized and contributes
// nothing.
func VisitRange(t *mode.Table, m *mode.Mode, region []byte, visit func(handle int32)) {
	if m.Size <= 0 || !m.HoldsRefs() {
		return
	}
	for off := int32(0); off+m.Size <= int32(len(region)); off += m.Size {
		VisitRefs(t, m, region, off, visit)
	}
}

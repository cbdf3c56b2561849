package mode

import (
	"fmt"

	"github.com/cnf/structhash"
)

// Table interns descriptors so that structurally equal modes share one index.
// Registration happens while the front end assembles a program; execution only
// reads. The zero indices are fixed: the primitives are pre-registered in a
// stable order and may be compared by index alone.
type Table struct {
	modes  []*Mode
	lookup map[string]int32
}

// Fixed indices of the pre-registered primitives.
const (
	VoidIndex = int32(iota)
	IntIndex
	RealIndex
	BoolIndex
	CharIndex
)

func NewTable() *Table {
	t := &Table{lookup: make(map[string]int32)}
	t.register(&Mode{Kind: Void, Size: VoidSize})
	t.register(&Mode{Kind: Int, Size: ScalarSize})
	t.register(&Mode{Kind: Real, Size: ScalarSize})
	t.register(&Mode{Kind: Bool, Size: ScalarSize})
	t.register(&Mode{Kind: Char, Size: ScalarSize})
	return t
}

func (t *Table) register(m *Mode) int32 {
	m.Index = int32(len(t.modes))
	t.modes = append(t.modes, m)
	t.lookup[t.fingerprint(m)] = m.Index
	return m.Index
}

// shape is the canonical identity of a mode, hashed for interning. Field
// offsets and sizes are derived data and stay out of the fingerprint.
type shape struct {
	Kind    uint8
	Target  int32
	Result  int32
	Params  []int32
	Elem    int32
	Dims    int32
	Names   []string
	Fields  []int32
	Members []int32
}

func (t *Table) fingerprint(m *Mode) string {
	s := shape{
		Kind:    uint8(m.Kind),
		Target:  m.Target,
		Result:  m.Result,
		Params:  m.Params,
		Elem:    m.Elem,
		Dims:    m.Dims,
		Members: m.Members,
	}
	for _, f := range m.Fields {
		s.Names = append(s.Names, f.Name)
		s.Fields = append(s.Fields, f.Mode)
	}
	return fmt.Sprintf("%x", structhash.Sha1(s, 1))
}

func (t *Table) intern(m *Mode) int32 {
	if idx, ok := t.lookup[t.fingerprint(m)]; ok {
		return idx
	}
	return t.register(m)
}

// At returns the descriptor for an index. Index validity is the caller's
// contract; a bad index is an engine bug, not a program error.
func (t *Table) At(i int32) *Mode {
	return t.modes[i]
}

// Len reports how many modes are registered.
func (t *Table) Len() int { return len(t.modes) }

// Sizeof returns the stored byte size of a value of mode i.
func (t *Table) Sizeof(i int32) int32 {
	if i == NoMode {
		return 0
	}
	return t.modes[i].Size
}

// Name interns REF target.
func (t *Table) Name(target int32) int32 {
	return t.intern(&Mode{
		Kind:      Name,
		Size:      NameSize,
		Target:    target,
		holdsRefs: true,
	})
}

// Proc interns PROC(params...)result.
func (t *Table) Proc(result int32, params ...int32) int32 {
	return t.intern(&Mode{
		Kind:      Proc,
		Size:      ProcSize,
		Result:    result,
		Params:    append([]int32(nil), params...),
		holdsRefs: true,
	})
}

// Row interns [,...]elem with the given dimension count. The stored value is
// the descriptor; element storage always lives on the heap.
func (t *Table) Row(elem int32, dims int32) int32 {
	if dims < 1 {
		dims = 1
	}
	return t.intern(&Mode{
		Kind:      Row,
		Size:      RowDescLen + dims*DimSize,
		Elem:      elem,
		Dims:      dims,
		holdsRefs: true,
	})
}

// StringMode is the conventional []CHAR.
func (t *Table) StringMode() int32 {
	return t.Row(CharIndex, 1)
}

// FieldSpec names a struct member under construction.
type FieldSpec struct {
	Name string
	Mode int32
}

// Struct interns STRUCT(fields...). Offsets are assigned here, in declaration
// order, each field carrying its own status word.
func (t *Table) Struct(fields ...FieldSpec) int32 {
	m := &Mode{Kind: Struct}
	off := int32(0)
	for _, f := range fields {
		m.Fields = append(m.Fields, Field{Name: f.Name, Mode: f.Mode, Offset: off})
		off += t.Sizeof(f.Mode)
		if t.modes[f.Mode].holdsRefs {
			m.holdsRefs = true
		}
	}
	m.Size = off
	return t.intern(m)
}

// Union interns UNION(members...). The payload area is sized for the widest
// member; the active member's mode index rides in the tag word.
func (t *Table) Union(members ...int32) int32 {
	m := &Mode{Kind: Union, Members: append([]int32(nil), members...)}
	widest := int32(0)
	for _, mem := range members {
		if s := t.Sizeof(mem); s > widest {
			widest = s
		}
		if t.modes[mem].holdsRefs {
			m.holdsRefs = true
		}
	}
	m.Size = UnionHead + widest
	return t.intern(m)
}

// UnionHas reports whether member is one of union's united modes.
func (t *Table) UnionHas(union, member int32) bool {
	for _, mem := range t.modes[union].Members {
		if mem == member {
			return true
		}
	}
	return false
}

// FieldByName finds a struct member by name.
func (t *Table) FieldByName(structMode int32, name string) (Field, bool) {
	for _, f := range t.modes[structMode].Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Display renders a mode for traces and diagnostics.
func (t *Table) Display(i int32) string {
	if i == NoMode {
		return "-"
	}
	m := t.modes[i]
	switch m.Kind {
	case Name:
		return "REF " + t.Display(m.Target)
	case Proc:
		s := "PROC ("
		for j, p := range m.Params {
			if j > 0 {
				s += ", "
			}
			s += t.Display(p)
		}
		return s + ") " + t.Display(m.Result)
	case Row:
		s := "["
		for j := int32(1); j < m.Dims; j++ {
			s += ","
		}
		return s + "] " + t.Display(m.Elem)
	case Struct:
		s := "STRUCT ("
		for j, f := range m.Fields {
			if j > 0 {
				s += ", "
			}
			s += t.Display(f.Mode) + " " + f.Name
		}
		return s + ")"
	case Union:
		s := "UNION ("
		for j, mem := range m.Members {
			if j > 0 {
				s += ", "
			}
			s += t.Display(mem)
		}
		return s + ")"
	default:
		return m.Kind.String()
	}
}

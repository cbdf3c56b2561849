// Package mode holds the engine's catalogue of value shapes. The front end
// resolves every program mode to an index in a Table before execution; the
// engine sizes storage, drives generic traversal (initialization checks, GC
// colouring, scope walks) and tags unions through these descriptors, and never
// mutates them after registration.
package mode

import "fmt"

// Kind discriminates the shape of a value.
type Kind uint8

const (
	Void Kind = iota
	Int
	Real
	Bool
	Char
	Name
	Proc
	Row
	Struct
	Union
)

var kindNames = [...]string{"VOID", "INT", "REAL", "BOOL", "CHAR", "NAME", "PROC", "ROW", "STRUCT", "UNION"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Storage granularity. Every stored value starts with one status word
// (initialization flag plus shape-specific tags); payloads are word-aligned.
const (
	WordBytes = 8

	VoidSize   = 0
	ScalarSize = 2 * WordBytes // status word + payload word
	NameSize   = 3 * WordBytes // status, scope|offset, handle
	ProcSize   = 3 * WordBytes // status, node|environ, locale
	RowDescLen = 2 * WordBytes // status, handle|dims; dimension words follow
	DimSize    = 2 * WordBytes // lb|ub, stride|shift
	UnionHead  = 2 * WordBytes // status, active-member tag
)

// Field is one member of a composite shape, at a fixed byte offset.
type Field struct {
	Name   string
	Mode   int32
	Offset int32
}

// Mode is one registered descriptor. Which attribute group applies depends on
// Kind; the rest stay zero. Modes are identified by Index and shared freely.
type Mode struct {
	Index int32
	Kind  Kind
	Size  int32

	Target  int32   // Name: mode referred to
	Result  int32   // Proc: yield mode
	Params  []int32 // Proc: parameter modes, call order
	Elem    int32   // Row: element mode
	Dims    int32   // Row: dimension count
	Fields  []Field // Struct: members with offsets
	Members []int32 // Union: united modes

	holdsRefs bool
}

// HoldsRefs reports whether a value of this mode can contain names, routine
// values, or row storage anywhere inside it. The collector and the dynamic
// scope check only descend values whose mode reports true.
func (m *Mode) HoldsRefs() bool { return m.holdsRefs }

// NoMode marks nodes that yield nothing typed (labels, jumps).
const NoMode = int32(-1)

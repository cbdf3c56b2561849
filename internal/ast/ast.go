// Package ast models the program tree the engine executes. Trees arrive from
// the front end fully resolved: every node carries its kind, its mode index,
// and the frame layout metadata the engine needs. The engine mutates nodes
// only through the propagator cache and the per-node preparation caches.
package ast

import (
	"fmt"

	"github.com/funvibe/skald/internal/mode"
)

// Pos is a source position, 1-based. The zero Pos means "unknown".
type Pos struct {
	Line int
	Col  int
}

func (p Pos) String() string { return fmt.Sprintf("%d:%d", p.Line, p.Col) }

// Kind tags what a node denotes.
type Kind uint8

const (
	BadNode Kind = iota

	IntDenotation
	RealDenotation
	BoolDenotation
	CharDenotation
	StringDenotation
	SkipDenotation
	NihilDenotation

	Identifier
	VariableDecl
	IdentityDecl
	LocGenerator
	HeapGenerator
	RoutineText

	CallExpr
	SliceExpr
	TrimExpr
	SelectionExpr
	FormulaExpr
	MonadicExpr
	AssignExpr
	IdentityRelExpr

	DerefCoercion
	DeprocCoercion
	WidenCoercion
	RowCoercion
	UniteCoercion
	VoidCoercion

	SerialClause
	CondClause
	CaseClause
	ConformityClause
	ConformityArm
	LoopClause
	ParClause
	JumpStmt
	LabelMark

	RowDisplay
	StructDisplay
	PreludeCall
)

var kindNames = map[Kind]string{
	BadNode:          "bad-node",
	IntDenotation:    "int-denotation",
	RealDenotation:   "real-denotation",
	BoolDenotation:   "bool-denotation",
	CharDenotation:   "char-denotation",
	StringDenotation: "string-denotation",
	SkipDenotation:   "skip",
	NihilDenotation:  "nihil",
	Identifier:       "identifier",
	VariableDecl:     "variable-decl",
	IdentityDecl:     "identity-decl",
	LocGenerator:     "loc-generator",
	HeapGenerator:    "heap-generator",
	RoutineText:      "routine-text",
	CallExpr:         "call",
	SliceExpr:        "slice",
	TrimExpr:         "trim",
	SelectionExpr:    "selection",
	FormulaExpr:      "formula",
	MonadicExpr:      "monadic-formula",
	AssignExpr:       "assignment",
	IdentityRelExpr:  "identity-relation",
	DerefCoercion:    "dereference",
	DeprocCoercion:   "deprocedure",
	WidenCoercion:    "widen",
	RowCoercion:      "row-coercion",
	UniteCoercion:    "unite",
	VoidCoercion:     "voiding",
	SerialClause:     "serial-clause",
	CondClause:       "conditional",
	CaseClause:       "case",
	ConformityClause: "conformity",
	ConformityArm:    "conformity-arm",
	LoopClause:       "loop",
	ParClause:        "parallel",
	JumpStmt:         "jump",
	LabelMark:        "label",
	RowDisplay:       "row-display",
	StructDisplay:    "struct-display",
	PreludeCall:      "prelude-call",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// PropKind is the dispatch cache state of a node. Transitions are monotone:
// idle, then generic, then at most one specialized form, never reverted.
type PropKind uint8

const (
	PropIdle PropKind = iota
	PropGeneric
	PropLocalIdent    // identifier in the current frame; A = offset
	PropGlobalIdent   // identifier in the outermost frame; A = offset
	PropChasedIdent   // identifier a fixed number of static hops away; A = hops, B = offset
	PropPreparedDenot // denotation with pre-encoded bytes in Prep
	PropDerefLocal    // dereference of a local identifier's name; A = offset
	PropDerefComputed // dereference of an arbitrarily computed name
	PropResolvedCall  // call with verified routine shape and fixed argument order
	PropBoundFormula  // formula bound directly to its operator routine
)

var propNames = [...]string{
	"idle", "generic", "local-ident", "global-ident", "chased-ident",
	"prepared-denot", "deref-local", "deref-computed", "resolved-call", "bound-formula",
}

func (p PropKind) String() string {
	if int(p) < len(propNames) {
		return propNames[p]
	}
	return fmt.Sprintf("prop(%d)", uint8(p))
}

// Propagator is the per-node dispatch cache: a kind from the closed set above
// plus two specialization operands whose meaning depends on the kind.
type Propagator struct {
	Kind PropKind
	A    int32
	B    int32
}

// Binding is one local slot of a frame-opening construct: its byte offset
// within the frame and the mode stored there. Anonymous bindings (empty Name)
// back the storage of declared variables.
type Binding struct {
	Name   string
	Mode   int32
	Offset int32
}

// Node is one entry of the program tree.
//
// The payload fields are a union over kinds: Ival carries int and char
// denotation values, a label's cached unit index, a conformity arm's member
// mode, and a routine's locale image mode; Rval real denotations; Sval
// identifier/label/selector names and string denotations; Bval clause
// flags (negated identity relation, clauses with an else part, frame-owning
// serials, partial calls). Level and Offset
// place identifiers and declaration slots; Target links jumps to labels and
// labels to their owning clause; Field indexes selections. Frame-opening
// nodes carry Bindings and the computed Size of their locals area.
type Node struct {
	Index int32
	Kind  Kind
	Mode  int32
	Pos   Pos
	Kids  []*Node

	Sval string
	Ival int64
	Rval float64
	Bval bool

	Op     Op
	Level  int32
	Offset int32
	Field  int32
	Target int32

	Bindings []Binding
	Params   []Binding

	NeedsScopeCheck bool
	Size            int32

	Prop Propagator
	Prep []byte
}

// Program is a runnable tree plus the registry that gives every node a stable
// index (routine values and jump targets refer to nodes by index) and the mode
// table the tree was resolved against.
type Program struct {
	Root  *Node
	Nodes []*Node
	Modes *mode.Table
}

// At returns the node registered under index i.
func (p *Program) At(i int32) *Node { return p.Nodes[i] }

package ast

import (
	"fmt"

	"github.com/funvibe/skald/internal/mode"
)

// Param declares one routine formal.
type Param struct {
	Name string
	Mode int32
}

// Builder assembles resolved program trees. It does the bookkeeping the
// node-shape contract requires from a front end: lexical levels, frame slot
// offsets, locals layout, and label linkage. It performs no coercion insertion
// and no overload resolution; callers write explicit coercion nodes and
// mode-specific operators. The first construction error sticks and is
// reported by EndProgram.
type Builder struct {
	modes   *mode.Table
	nodes   []*Node
	scopes  []*buildScope
	pending []pendingJump
	pos     Pos
	err     error
}

type buildScope struct {
	owner     *Node
	kind      scopeKind
	level     int32
	next      int32
	slots     []Binding
	names     map[string]Binding
	labels    map[string]*Node
	units     []*Node
	loopParts [4]*Node // from, by, to, while
	numParams int
}

type scopeKind uint8

const (
	scopeProgram scopeKind = iota
	scopeBlock
	scopeRoutine
	scopeLoop
	scopeArm
)

type pendingJump struct {
	node   *Node
	name   string
	scopes []*buildScope
}

func NewBuilder(modes *mode.Table) *Builder {
	return &Builder{modes: modes}
}

// At sets the source position stamped on subsequently built nodes.
func (b *Builder) At(line, col int) *Builder {
	b.pos = Pos{Line: line, Col: col}
	return b
}

// Err reports the first construction error, nil while building is sound.
func (b *Builder) Err() error { return b.err }

func (b *Builder) failf(format string, args ...interface{}) *Node {
	if b.err == nil {
		b.err = fmt.Errorf(format, args...)
	}
	return b.node(&Node{Kind: BadNode, Mode: mode.NoMode})
}

func (b *Builder) node(n *Node) *Node {
	n.Index = int32(len(b.nodes))
	if n.Pos == (Pos{}) {
		n.Pos = b.pos
	}
	b.nodes = append(b.nodes, n)
	return n
}

func (b *Builder) top() *buildScope {
	if len(b.scopes) == 0 {
		return nil
	}
	return b.scopes[len(b.scopes)-1]
}

func (b *Builder) alloc(size int32) int32 {
	sc := b.top()
	off := sc.next
	sc.next += size
	return off
}

func (b *Builder) beginScope(kind scopeKind, owner *Node) *buildScope {
	level := int32(1)
	if sc := b.top(); sc != nil {
		level = sc.level + 1
	}
	owner.Level = level
	sc := &buildScope{
		owner:  owner,
		kind:   kind,
		level:  level,
		names:  make(map[string]Binding),
		labels: make(map[string]*Node),
	}
	b.scopes = append(b.scopes, sc)
	return sc
}

func (b *Builder) endScope() *buildScope {
	sc := b.top()
	if sc == nil {
		b.failf("no open scope to end")
		return nil
	}
	b.scopes = b.scopes[:len(b.scopes)-1]
	return sc
}

// serialOf wraps collected units as a serial clause. Frame-owning constructs
// pass their own node as owner; bodies of routines, loops and arms get a
// frameless serial sharing the owner's level.
func (b *Builder) serialOf(units []*Node, level int32) *Node {
	m := mode.VoidIndex
	if len(units) > 0 {
		m = units[len(units)-1].Mode
	}
	n := b.node(&Node{Kind: SerialClause, Mode: m, Level: level, Kids: units})
	cacheLabelIndexes(n)
	return n
}

func cacheLabelIndexes(clause *Node) {
	for i, kid := range clause.Kids {
		if kid != nil && kid.Kind == LabelMark {
			kid.Ival = int64(i)
			kid.Target = clause.Index
		}
	}
}

// BeginProgram opens the outermost scope (lexical level 1).
func (b *Builder) BeginProgram() {
	if len(b.scopes) != 0 {
		b.failf("BeginProgram inside an open scope")
		return
	}
	b.beginScope(scopeProgram, b.node(&Node{Kind: SerialClause, Mode: mode.VoidIndex}))
}

// EndProgram closes the outermost scope, resolves forward jumps, and returns
// the finished program.
func (b *Builder) EndProgram() (*Program, error) {
	sc := b.endScope()
	if sc == nil || sc.kind != scopeProgram {
		b.failf("EndProgram without matching BeginProgram")
	}
	if sc != nil {
		b.sealSerial(sc)
	}
	for _, pj := range b.pending {
		resolved := false
		for i := len(pj.scopes) - 1; i >= 0; i-- {
			if lbl, ok := pj.scopes[i].labels[pj.name]; ok {
				pj.node.Target = lbl.Index
				resolved = true
				break
			}
		}
		if !resolved && b.err == nil {
			b.err = fmt.Errorf("label %q not declared in any enclosing range", pj.name)
		}
	}
	if b.err != nil {
		return nil, b.err
	}
	return &Program{Root: sc.owner, Nodes: b.nodes, Modes: b.modes}, nil
}

func (b *Builder) sealSerial(sc *buildScope) {
	owner := sc.owner
	owner.Kids = sc.units
	owner.Bindings = sc.slots
	owner.Size = sc.next
	owner.Bval = true // owns a frame; serials built by serialOf do not
	if len(sc.units) > 0 {
		owner.Mode = sc.units[len(sc.units)-1].Mode
	}
	cacheLabelIndexes(owner)
}

// BeginBlock opens a nested block; the block always owns a frame.
func (b *Builder) BeginBlock() {
	if b.top() == nil {
		b.failf("BeginBlock outside a program")
		return
	}
	b.beginScope(scopeBlock, b.node(&Node{Kind: SerialClause, Mode: mode.VoidIndex}))
}

// EndBlock closes the innermost block and returns its clause for embedding.
func (b *Builder) EndBlock() *Node {
	sc := b.endScope()
	if sc == nil || sc.kind != scopeBlock {
		return b.failf("EndBlock without matching BeginBlock")
	}
	b.sealSerial(sc)
	return sc.owner
}

// Unit appends a unit to the innermost open scope.
func (b *Builder) Unit(n *Node) *Node {
	sc := b.top()
	if sc == nil {
		return b.failf("unit outside any scope")
	}
	sc.units = append(sc.units, n)
	return n
}

// DeclareVar declares a frame variable: storage for m plus an identifier slot
// holding REF m, initialized by a local generator when the declaration runs.
func (b *Builder) DeclareVar(name string, m int32) *Node {
	sc := b.top()
	if sc == nil {
		return b.failf("declaration outside any scope")
	}
	if sc.kind == scopeLoop {
		return b.failf("declaration of %q directly inside a loop; use a nested block", name)
	}
	if _, dup := sc.names[name]; dup {
		return b.failf("identifier %q declared twice in one range", name)
	}
	refM := b.modes.Name(m)
	toff := b.alloc(b.modes.Sizeof(m))
	sc.slots = append(sc.slots, Binding{Mode: m, Offset: toff})
	ioff := b.alloc(mode.NameSize)
	bind := Binding{Name: name, Mode: refM, Offset: ioff}
	sc.slots = append(sc.slots, bind)
	sc.names[name] = bind

	gen := b.node(&Node{Kind: LocGenerator, Mode: refM, Offset: toff, Level: sc.level})
	decl := b.node(&Node{Kind: VariableDecl, Mode: mode.VoidIndex, Sval: name, Offset: ioff, Level: sc.level, Kids: []*Node{gen}})
	sc.units = append(sc.units, decl)
	return decl
}

// DeclareHeapVar declares a variable whose storage comes from the heap.
func (b *Builder) DeclareHeapVar(name string, m int32) *Node {
	sc := b.top()
	if sc == nil {
		return b.failf("declaration outside any scope")
	}
	if sc.kind == scopeLoop {
		return b.failf("declaration of %q directly inside a loop; use a nested block", name)
	}
	if _, dup := sc.names[name]; dup {
		return b.failf("identifier %q declared twice in one range", name)
	}
	refM := b.modes.Name(m)
	ioff := b.alloc(mode.NameSize)
	bind := Binding{Name: name, Mode: refM, Offset: ioff}
	sc.slots = append(sc.slots, bind)
	sc.names[name] = bind

	gen := b.node(&Node{Kind: HeapGenerator, Mode: refM, Level: sc.level})
	decl := b.node(&Node{Kind: VariableDecl, Mode: mode.VoidIndex, Sval: name, Offset: ioff, Level: sc.level, Kids: []*Node{gen}})
	sc.units = append(sc.units, decl)
	return decl
}

// DeclareIdent binds rhs to a named slot of mode m (identity declaration).
func (b *Builder) DeclareIdent(name string, m int32, rhs *Node) *Node {
	sc := b.top()
	if sc == nil {
		return b.failf("declaration outside any scope")
	}
	if sc.kind == scopeLoop {
		return b.failf("declaration of %q directly inside a loop; use a nested block", name)
	}
	if _, dup := sc.names[name]; dup {
		return b.failf("identifier %q declared twice in one range", name)
	}
	if rhs.Mode != m {
		return b.failf("identity declaration of %q: mode %s does not match %s",
			name, b.modes.Display(rhs.Mode), b.modes.Display(m))
	}
	ioff := b.alloc(b.modes.Sizeof(m))
	bind := Binding{Name: name, Mode: m, Offset: ioff}
	sc.slots = append(sc.slots, bind)
	sc.names[name] = bind

	decl := b.node(&Node{Kind: IdentityDecl, Mode: mode.VoidIndex, Sval: name, Offset: ioff, Level: sc.level, Kids: []*Node{rhs}})
	sc.units = append(sc.units, decl)
	return decl
}

// Ident resolves a declared identifier to its slot.
func (b *Builder) Ident(name string) *Node {
	for i := len(b.scopes) - 1; i >= 0; i-- {
		sc := b.scopes[i]
		if bind, ok := sc.names[name]; ok {
			return b.node(&Node{Kind: Identifier, Mode: bind.Mode, Sval: name, Level: sc.level, Offset: bind.Offset})
		}
	}
	return b.failf("identifier %q not declared", name)
}

// LocGen yields a fresh frame-local name of mode REF m (anonymous storage in
// the current frame).
func (b *Builder) LocGen(m int32) *Node {
	sc := b.top()
	if sc == nil {
		return b.failf("generator outside any scope")
	}
	toff := b.alloc(b.modes.Sizeof(m))
	sc.slots = append(sc.slots, Binding{Mode: m, Offset: toff})
	return b.node(&Node{Kind: LocGenerator, Mode: b.modes.Name(m), Offset: toff, Level: sc.level})
}

// HeapGen yields a fresh heap name of mode REF m.
func (b *Builder) HeapGen(m int32) *Node {
	return b.node(&Node{Kind: HeapGenerator, Mode: b.modes.Name(m)})
}

func (b *Builder) IntDen(v int64) *Node {
	return b.node(&Node{Kind: IntDenotation, Mode: mode.IntIndex, Ival: v})
}

func (b *Builder) RealDen(v float64) *Node {
	return b.node(&Node{Kind: RealDenotation, Mode: mode.RealIndex, Rval: v})
}

func (b *Builder) BoolDen(v bool) *Node {
	return b.node(&Node{Kind: BoolDenotation, Mode: mode.BoolIndex, Bval: v})
}

func (b *Builder) CharDen(r rune) *Node {
	return b.node(&Node{Kind: CharDenotation, Mode: mode.CharIndex, Ival: int64(r)})
}

func (b *Builder) StringDen(s string) *Node {
	return b.node(&Node{Kind: StringDenotation, Mode: b.modes.StringMode(), Sval: s})
}

// Skip yields an arbitrary initialized value of mode m.
func (b *Builder) Skip(m int32) *Node {
	return b.node(&Node{Kind: SkipDenotation, Mode: m})
}

// Nihil yields the nil name of the given reference mode.
func (b *Builder) Nihil(refMode int32) *Node {
	if b.modes.At(refMode).Kind != mode.Name {
		return b.failf("nihil requires a reference mode, got %s", b.modes.Display(refMode))
	}
	return b.node(&Node{Kind: NihilDenotation, Mode: refMode})
}

// Deref reads the value a name refers to.
func (b *Builder) Deref(x *Node) *Node {
	m := b.modes.At(x.Mode)
	if m.Kind != mode.Name {
		return b.failf("dereference of non-name mode %s", b.modes.Display(x.Mode))
	}
	return b.node(&Node{Kind: DerefCoercion, Mode: m.Target, Kids: []*Node{x}})
}

// Deproc calls a parameterless routine value.
func (b *Builder) Deproc(p *Node) *Node {
	m := b.modes.At(p.Mode)
	if m.Kind != mode.Proc || len(m.Params) != 0 {
		return b.failf("deproceduring requires PROC with no parameters, got %s", b.modes.Display(p.Mode))
	}
	return b.node(&Node{Kind: DeprocCoercion, Mode: m.Result, Kids: []*Node{p}})
}

// Widen converts INT to REAL.
func (b *Builder) Widen(x *Node) *Node {
	if x.Mode != mode.IntIndex {
		return b.failf("widening requires INT, got %s", b.modes.Display(x.Mode))
	}
	return b.node(&Node{Kind: WidenCoercion, Mode: mode.RealIndex, Kids: []*Node{x}})
}

// Rowed lifts a value into a one-element row of rowMode.
func (b *Builder) Rowed(rowMode int32, x *Node) *Node {
	m := b.modes.At(rowMode)
	if m.Kind != mode.Row || m.Elem != x.Mode {
		return b.failf("row coercion of %s to %s", b.modes.Display(x.Mode), b.modes.Display(rowMode))
	}
	return b.node(&Node{Kind: RowCoercion, Mode: rowMode, Kids: []*Node{x}})
}

// Unite injects a value into a union.
func (b *Builder) Unite(unionMode int32, x *Node) *Node {
	if b.modes.At(unionMode).Kind != mode.Union || !b.modes.UnionHas(unionMode, x.Mode) {
		return b.failf("cannot unite %s into %s", b.modes.Display(x.Mode), b.modes.Display(unionMode))
	}
	return b.node(&Node{Kind: UniteCoercion, Mode: unionMode, Kids: []*Node{x}})
}

// Voided discards a value.
func (b *Builder) Voided(x *Node) *Node {
	return b.node(&Node{Kind: VoidCoercion, Mode: mode.VoidIndex, Kids: []*Node{x}})
}

// Formula applies a dyadic operator.
func (b *Builder) Formula(op Op, l, r *Node) *Node {
	if op.Arity() != 2 {
		return b.failf("operator %s is not dyadic", op)
	}
	return b.node(&Node{Kind: FormulaExpr, Op: op, Mode: op.ResultMode(l.Mode), Kids: []*Node{l, r}})
}

// Monadic applies a monadic operator.
func (b *Builder) Monadic(op Op, x *Node) *Node {
	if op.Arity() != 1 {
		return b.failf("operator %s is not monadic", op)
	}
	return b.node(&Node{Kind: MonadicExpr, Op: op, Mode: op.ResultMode(x.Mode), Kids: []*Node{x}})
}

// Assign writes src through the name dest yields; the assignment itself
// yields the name again.
func (b *Builder) Assign(dest, src *Node) *Node {
	dm := b.modes.At(dest.Mode)
	if dm.Kind != mode.Name {
		return b.failf("assignment destination has non-name mode %s", b.modes.Display(dest.Mode))
	}
	if src.Mode != dm.Target {
		return b.failf("assignment of %s into REF %s", b.modes.Display(src.Mode), b.modes.Display(dm.Target))
	}
	return b.node(&Node{
		Kind:            AssignExpr,
		Mode:            dest.Mode,
		Kids:            []*Node{dest, src},
		NeedsScopeCheck: b.modes.At(src.Mode).HoldsRefs(),
	})
}

// Is builds the identity relation l :=: r.
func (b *Builder) Is(l, r *Node) *Node { return b.identityRel(l, r, false) }

// Isnt builds the negated identity relation l :/=: r.
func (b *Builder) Isnt(l, r *Node) *Node { return b.identityRel(l, r, true) }

func (b *Builder) identityRel(l, r *Node, negated bool) *Node {
	if b.modes.At(l.Mode).Kind != mode.Name || b.modes.At(r.Mode).Kind != mode.Name {
		return b.failf("identity relation requires names on both sides")
	}
	return b.node(&Node{Kind: IdentityRelExpr, Mode: mode.BoolIndex, Bval: negated, Kids: []*Node{l, r}})
}

// Call applies a routine value to fully supplied arguments.
func (b *Builder) Call(p *Node, args ...*Node) *Node {
	m := b.modes.At(p.Mode)
	if m.Kind != mode.Proc {
		return b.failf("call of non-routine mode %s", b.modes.Display(p.Mode))
	}
	if len(args) != len(m.Params) {
		return b.failf("call with %d arguments, routine takes %d", len(args), len(m.Params))
	}
	for i, a := range args {
		if a.Mode != m.Params[i] {
			return b.failf("argument %d has mode %s, want %s", i+1, b.modes.Display(a.Mode), b.modes.Display(m.Params[i]))
		}
	}
	return b.node(&Node{Kind: CallExpr, Mode: m.Result, Kids: append([]*Node{p}, args...)})
}

// PartialCall applies a routine to a prefix of its arguments, yielding a
// routine value over the remaining parameters.
func (b *Builder) PartialCall(p *Node, args ...*Node) *Node {
	m := b.modes.At(p.Mode)
	if m.Kind != mode.Proc {
		return b.failf("call of non-routine mode %s", b.modes.Display(p.Mode))
	}
	if len(args) >= len(m.Params) {
		return b.failf("partial call must supply fewer than %d arguments", len(m.Params))
	}
	for i, a := range args {
		if a.Mode != m.Params[i] {
			return b.failf("argument %d has mode %s, want %s", i+1, b.modes.Display(a.Mode), b.modes.Display(m.Params[i]))
		}
	}
	rest := b.modes.Proc(m.Result, m.Params[len(args):]...)
	return b.node(&Node{Kind: CallExpr, Mode: rest, Bval: true, Kids: append([]*Node{p}, args...)})
}

// Slice subscripts a row (or a name referring to one) down to an element.
func (b *Builder) Slice(row *Node, subs ...*Node) *Node {
	rm := b.modes.At(row.Mode)
	elemOf := func(r *mode.Mode) (int32, bool) {
		if r.Kind != mode.Row || int(r.Dims) != len(subs) {
			return 0, false
		}
		return r.Elem, true
	}
	var result int32
	switch rm.Kind {
	case mode.Row:
		elem, ok := elemOf(rm)
		if !ok {
			return b.failf("slice of %s with %d subscripts", b.modes.Display(row.Mode), len(subs))
		}
		result = elem
	case mode.Name:
		elem, ok := elemOf(b.modes.At(rm.Target))
		if !ok {
			return b.failf("slice of %s with %d subscripts", b.modes.Display(row.Mode), len(subs))
		}
		result = b.modes.Name(elem)
	default:
		return b.failf("slice of non-row mode %s", b.modes.Display(row.Mode))
	}
	for _, s := range subs {
		if s.Mode != mode.IntIndex {
			return b.failf("subscript has mode %s, want INT", b.modes.Display(s.Mode))
		}
	}
	return b.node(&Node{Kind: SliceExpr, Mode: result, Kids: append([]*Node{row}, subs...)})
}

// Trim takes the sub-row [from..to] of a one-dimensional row value, aliasing
// the same element storage.
func (b *Builder) Trim(row, from, to *Node) *Node {
	rm := b.modes.At(row.Mode)
	if rm.Kind != mode.Row || rm.Dims != 1 {
		return b.failf("trim requires a one-dimensional row, got %s", b.modes.Display(row.Mode))
	}
	if from.Mode != mode.IntIndex || to.Mode != mode.IntIndex {
		return b.failf("trim bounds must be INT")
	}
	return b.node(&Node{Kind: TrimExpr, Mode: row.Mode, Kids: []*Node{row, from, to}})
}

// Select picks a struct field; on a name it yields a name to the field.
func (b *Builder) Select(st *Node, field string) *Node {
	sm := b.modes.At(st.Mode)
	structMode := st.Mode
	named := false
	if sm.Kind == mode.Name {
		structMode = sm.Target
		named = true
	}
	if b.modes.At(structMode).Kind != mode.Struct {
		return b.failf("selection from non-struct mode %s", b.modes.Display(st.Mode))
	}
	f, ok := b.modes.FieldByName(structMode, field)
	if !ok {
		return b.failf("no field %q in %s", field, b.modes.Display(structMode))
	}
	result := f.Mode
	if named {
		result = b.modes.Name(f.Mode)
	}
	idx := int32(0)
	for i, ff := range b.modes.At(structMode).Fields {
		if ff.Name == field {
			idx = int32(i)
		}
	}
	return b.node(&Node{Kind: SelectionExpr, Mode: result, Sval: field, Field: idx, Kids: []*Node{st}})
}

// RowDisp builds a row value from element units. Zero elements are allowed;
// the result still owns ghost element storage.
func (b *Builder) RowDisp(rowMode int32, elems ...*Node) *Node {
	rm := b.modes.At(rowMode)
	if rm.Kind != mode.Row || rm.Dims != 1 {
		return b.failf("row display requires a one-dimensional row mode, got %s", b.modes.Display(rowMode))
	}
	for _, e := range elems {
		if e.Mode != rm.Elem {
			return b.failf("row display element has mode %s, want %s", b.modes.Display(e.Mode), b.modes.Display(rm.Elem))
		}
	}
	return b.node(&Node{Kind: RowDisplay, Mode: rowMode, Kids: elems})
}

// StructDisp builds a struct value from per-field units in declaration order.
func (b *Builder) StructDisp(structMode int32, vals ...*Node) *Node {
	sm := b.modes.At(structMode)
	if sm.Kind != mode.Struct || len(vals) != len(sm.Fields) {
		return b.failf("struct display does not match %s", b.modes.Display(structMode))
	}
	for i, v := range vals {
		if v.Mode != sm.Fields[i].Mode {
			return b.failf("field %q has mode %s, want %s", sm.Fields[i].Name, b.modes.Display(v.Mode), b.modes.Display(sm.Fields[i].Mode))
		}
	}
	return b.node(&Node{Kind: StructDisplay, Mode: structMode, Kids: vals})
}

// If builds a conditional without an else part; the then part must be void.
func (b *Builder) If(cond, then *Node) *Node {
	if cond.Mode != mode.BoolIndex {
		return b.failf("condition has mode %s, want BOOL", b.modes.Display(cond.Mode))
	}
	if then.Mode != mode.VoidIndex {
		return b.failf("if without else requires a void then part")
	}
	return b.node(&Node{Kind: CondClause, Mode: mode.VoidIndex, Kids: []*Node{cond, then}})
}

// IfElse builds a conditional; both branches must agree on their mode.
func (b *Builder) IfElse(cond, then, els *Node) *Node {
	if cond.Mode != mode.BoolIndex {
		return b.failf("condition has mode %s, want BOOL", b.modes.Display(cond.Mode))
	}
	if then.Mode != els.Mode {
		return b.failf("conditional branches disagree: %s vs %s", b.modes.Display(then.Mode), b.modes.Display(els.Mode))
	}
	return b.node(&Node{Kind: CondClause, Mode: then.Mode, Bval: true, Kids: []*Node{cond, then, els}})
}

// Case dispatches on an INT selector, arms numbered from 1. A nil els makes
// the clause void-only; otherwise all arms and els must agree on their mode.
func (b *Builder) Case(sel *Node, arms []*Node, els *Node) *Node {
	if sel.Mode != mode.IntIndex {
		return b.failf("case selector has mode %s, want INT", b.modes.Display(sel.Mode))
	}
	return b.dispatchClause(CaseClause, sel, arms, els, func(arm *Node) int32 { return arm.Mode })
}

// Conformity dispatches on a union's runtime tag over conformity arms.
func (b *Builder) Conformity(sel *Node, arms []*Node, els *Node) *Node {
	if b.modes.At(sel.Mode).Kind != mode.Union {
		return b.failf("conformity selector has mode %s, want a union", b.modes.Display(sel.Mode))
	}
	for _, arm := range arms {
		if arm.Kind != ConformityArm {
			return b.failf("conformity clause requires conformity arms")
		}
	}
	return b.dispatchClause(ConformityClause, sel, arms, els, func(arm *Node) int32 { return arm.Mode })
}

func (b *Builder) dispatchClause(kind Kind, sel *Node, arms []*Node, els *Node, armMode func(*Node) int32) *Node {
	if len(arms) == 0 {
		return b.failf("%s clause with no arms", kind)
	}
	want := armMode(arms[0])
	for _, arm := range arms {
		if armMode(arm) != want {
			return b.failf("%s arms disagree on mode", kind)
		}
	}
	// Without an else part a non-void result cannot be synthesized for an
	// unmatched selector; the engine reports that case as unmatched dispatch.
	hasElse := els != nil
	if hasElse && els.Mode != want {
		return b.failf("%s else part has mode %s, want %s", kind, b.modes.Display(els.Mode), b.modes.Display(want))
	}
	kids := append([]*Node{sel}, arms...)
	if hasElse {
		kids = append(kids, els)
	}
	return b.node(&Node{Kind: kind, Mode: want, Bval: hasElse, Kids: kids})
}

// BeginConfArm opens a conformity arm matching mode m; a non-empty bind name
// gives the arm a one-slot frame holding the conforming value.
func (b *Builder) BeginConfArm(m int32, bind string) {
	owner := b.node(&Node{Kind: ConformityArm})
	sc := b.beginScope(scopeArm, owner)
	owner.Ival = int64(m)
	if bind != "" {
		bd := Binding{Name: bind, Mode: m, Offset: 0}
		sc.slots = append(sc.slots, bd)
		sc.names[bind] = bd
		sc.next = b.modes.Sizeof(m)
	}
}

// EndConfArm closes the arm opened by BeginConfArm.
func (b *Builder) EndConfArm() *Node {
	sc := b.endScope()
	if sc == nil || sc.kind != scopeArm {
		return b.failf("EndConfArm without matching BeginConfArm")
	}
	owner := sc.owner
	body := b.serialOf(sc.units, sc.level)
	owner.Kids = []*Node{body}
	owner.Bindings = sc.slots
	owner.Size = sc.next
	owner.Mode = body.Mode
	return owner
}

// BeginLoop opens a loop clause. from, by and to are evaluated once, outside
// the loop's frame, and may be nil (from and by default to 1, a nil to means
// unbounded). A non-empty counter names the loop's read-only counter slot.
func (b *Builder) BeginLoop(counter string, from, by, to *Node) {
	for _, part := range []*Node{from, by, to} {
		if part != nil && part.Mode != mode.IntIndex {
			b.failf("loop bounds must be INT")
			return
		}
	}
	owner := b.node(&Node{Kind: LoopClause, Mode: mode.VoidIndex})
	sc := b.beginScope(scopeLoop, owner)
	sc.loopParts[0] = from
	sc.loopParts[1] = by
	sc.loopParts[2] = to
	if counter != "" {
		bd := Binding{Name: counter, Mode: mode.IntIndex, Offset: 0}
		sc.slots = append(sc.slots, bd)
		sc.names[counter] = bd
		sc.next = mode.ScalarSize
	}
}

// LoopWhile sets the while part; built inside the loop scope so it may read
// the counter.
func (b *Builder) LoopWhile(cond *Node) {
	sc := b.top()
	if sc == nil || sc.kind != scopeLoop {
		b.failf("LoopWhile outside a loop")
		return
	}
	if cond.Mode != mode.BoolIndex {
		b.failf("while part has mode %s, want BOOL", b.modes.Display(cond.Mode))
		return
	}
	sc.loopParts[3] = cond
}

// EndLoop closes the loop opened by BeginLoop.
func (b *Builder) EndLoop() *Node {
	sc := b.endScope()
	if sc == nil || sc.kind != scopeLoop {
		return b.failf("EndLoop without matching BeginLoop")
	}
	owner := sc.owner
	body := b.serialOf(sc.units, sc.level)
	from := sc.loopParts[0]
	if from == nil {
		from = b.IntDen(1)
	}
	by := sc.loopParts[1]
	if by == nil {
		by = b.IntDen(1)
	}
	owner.Kids = []*Node{from, by, sc.loopParts[2], sc.loopParts[3], body}
	owner.Bindings = sc.slots
	owner.Size = sc.next
	return owner
}

// BeginRoutine opens an anonymous routine body; parameters become the first
// slots of the routine's frame.
func (b *Builder) BeginRoutine(result int32, params ...Param) {
	owner := b.node(&Node{Kind: RoutineText, Target: result})
	sc := b.beginScope(scopeRoutine, owner)
	for _, p := range params {
		if _, dup := sc.names[p.Name]; dup {
			b.failf("parameter %q declared twice", p.Name)
			return
		}
		off := b.alloc(b.modes.Sizeof(p.Mode))
		bd := Binding{Name: p.Name, Mode: p.Mode, Offset: off}
		sc.slots = append(sc.slots, bd)
		sc.names[p.Name] = bd
	}
	sc.numParams = len(params)
}

// EndRoutine closes the routine body and yields the routine value node.
func (b *Builder) EndRoutine() *Node {
	sc := b.endScope()
	if sc == nil || sc.kind != scopeRoutine {
		return b.failf("EndRoutine without matching BeginRoutine")
	}
	owner := sc.owner
	body := b.serialOf(sc.units, sc.level)
	result := owner.Target
	owner.Target = 0
	if body.Mode != result {
		return b.failf("routine body yields %s, declared %s", b.modes.Display(body.Mode), b.modes.Display(result))
	}
	params := make([]int32, 0, sc.numParams)
	for _, bd := range sc.slots[:sc.numParams] {
		params = append(params, bd.Mode)
	}
	owner.Kids = []*Node{body}
	owner.Params = append([]Binding(nil), sc.slots[:sc.numParams]...)
	owner.Bindings = sc.slots
	owner.Size = sc.next
	owner.Mode = b.modes.Proc(result, params...)
	if sc.numParams > 0 {
		// Locale image for partial application: a struct over the formals,
		// laid out exactly like the parameter prefix of the routine's frame.
		specs := make([]mode.FieldSpec, sc.numParams)
		for i, bd := range owner.Params {
			specs[i] = mode.FieldSpec{Name: bd.Name, Mode: bd.Mode}
		}
		owner.Ival = int64(b.modes.Struct(specs...))
	}
	return owner
}

// BeginProcDecl declares a named routine before its body is built, so the
// body can call it recursively. Close with EndProcDecl.
func (b *Builder) BeginProcDecl(name string, result int32, params ...Param) {
	sc := b.top()
	if sc == nil {
		b.failf("declaration outside any scope")
		return
	}
	if _, dup := sc.names[name]; dup {
		b.failf("identifier %q declared twice in one range", name)
		return
	}
	paramModes := make([]int32, len(params))
	for i, p := range params {
		paramModes[i] = p.Mode
	}
	procMode := b.modes.Proc(result, paramModes...)
	ioff := b.alloc(b.modes.Sizeof(procMode))
	bind := Binding{Name: name, Mode: procMode, Offset: ioff}
	sc.slots = append(sc.slots, bind)
	sc.names[name] = bind

	decl := b.node(&Node{Kind: IdentityDecl, Mode: mode.VoidIndex, Sval: name, Offset: ioff, Level: sc.level})
	sc.units = append(sc.units, decl)
	b.BeginRoutine(result, params...)
	b.top().owner.Sval = name
	// Remember which declaration to complete.
	b.top().owner.Field = decl.Index
}

// EndProcDecl completes the declaration opened by BeginProcDecl.
func (b *Builder) EndProcDecl() *Node {
	rt := b.EndRoutine()
	if rt.Kind != RoutineText {
		return rt
	}
	decl := b.nodes[rt.Field]
	rt.Field = 0
	decl.Kids = []*Node{rt}
	return decl
}

// Goto jumps to a label in this or an enclosing range; forward references
// resolve when the program ends.
func (b *Builder) Goto(name string) *Node {
	n := b.node(&Node{Kind: JumpStmt, Mode: mode.VoidIndex, Sval: name, Target: -1})
	for i := len(b.scopes) - 1; i >= 0; i-- {
		if lbl, ok := b.scopes[i].labels[name]; ok {
			n.Target = lbl.Index
			return n
		}
	}
	b.pending = append(b.pending, pendingJump{node: n, name: name, scopes: append([]*buildScope(nil), b.scopes...)})
	return n
}

// Label marks a jump target at the current position of the innermost scope.
func (b *Builder) Label(name string) *Node {
	sc := b.top()
	if sc == nil {
		return b.failf("label outside any scope")
	}
	if _, dup := sc.labels[name]; dup {
		return b.failf("label %q declared twice in one range", name)
	}
	n := b.node(&Node{Kind: LabelMark, Mode: mode.VoidIndex, Sval: name, Target: sc.owner.Index})
	sc.labels[name] = n
	sc.units = append(sc.units, n)
	return n
}

// Par runs void units as parallel branches.
func (b *Builder) Par(units ...*Node) *Node {
	if len(units) == 0 {
		return b.failf("parallel clause with no branches")
	}
	for _, u := range units {
		if u.Mode != mode.VoidIndex {
			return b.failf("parallel branches must be void")
		}
	}
	return b.node(&Node{Kind: ParClause, Mode: mode.VoidIndex, Kids: units})
}

// Prelude calls a standard-prelude routine by name.
func (b *Builder) Prelude(name string, args ...*Node) *Node {
	var result int32
	switch name {
	case "print", "newline":
		result = mode.VoidIndex
	case "whole":
		result = b.modes.StringMode()
	default:
		return b.failf("unknown prelude routine %q", name)
	}
	return b.node(&Node{Kind: PreludeCall, Mode: result, Sval: name, Kids: args})
}

package main

import (
	"github.com/funvibe/skald/internal/ast"
	"github.com/funvibe/skald/internal/config"
	"github.com/funvibe/skald/internal/mode"
)

// A demo is a built-in program tree plus the engine tuning that shows it off
// well. Tuning applies only when the user did not supply an options file.
type demo struct {
	name  string
	about string
	tune  func(*config.Options)
	build func(tab *mode.Table, b *ast.Builder)
}

var demos = []demo{
	{
		name:  "scope-ladder",
		about: "nested blocks reading and writing outer frames through the static chain",
		build: buildScopeLadder,
	},
	{
		name:  "heap-graph",
		about: "two heap cells referencing each other survive collections while garbage churns",
		tune: func(o *config.Options) {
			o.HeapBytes = 64 << 10
			o.MaxHandles = 1024
		},
		build: buildHeapGraph,
	},
	{
		name:  "partial-apply",
		about: "calling a routine with a prefix of its arguments yields a bound routine",
		build: buildPartialApply,
	},
	{
		name:  "par-sum",
		about: "three parallel branches sum disjoint ranges into their own frame slots",
		build: buildParSum,
	},
	{
		name:  "jump-maze",
		about: "forward, backward and frame-crossing jumps through a serial clause",
		build: buildJumpMaze,
	},
}

func findDemo(name string) *demo {
	for i := range demos {
		if demos[i].name == name {
			return &demos[i]
		}
	}
	return nil
}

// program assembles the demo's tree on a fresh mode table.
func (d *demo) program() (*ast.Program, error) {
	tab := mode.NewTable()
	b := ast.NewBuilder(tab)
	b.BeginProgram()
	d.build(tab, b)
	return b.EndProgram()
}

// options returns base with the demo's tuning applied.
func (d *demo) options(base config.Options) config.Options {
	if d.tune != nil {
		d.tune(&base)
	}
	return base
}

func printWhole(b *ast.Builder, label string, v *ast.Node) *ast.Node {
	return b.Prelude("print", b.StringDen(label), b.Prelude("whole", v, b.IntDen(0)))
}

// buildScopeLadder declares one variable per rung. The middle rung also holds
// an identity-declared alias for the outermost variable, so writes through the
// alias surface two frames up.
func buildScopeLadder(tab *mode.Table, b *ast.Builder) {
	refInt := tab.Name(mode.IntIndex)

	b.DeclareVar("base", mode.IntIndex)
	b.Unit(b.Assign(b.Ident("base"), b.IntDen(7)))
	b.Unit(printWhole(b, "base starts at ", b.Deref(b.Ident("base"))))
	b.Unit(b.Prelude("newline"))

	b.BeginBlock()
	b.DeclareVar("mid", mode.IntIndex)
	b.Unit(b.Assign(b.Ident("mid"), b.Formula(ast.OpMulInt, b.Deref(b.Ident("base")), b.IntDen(6))))
	b.DeclareIdent("alias", refInt, b.Ident("base"))
	b.Unit(b.Assign(b.Ident("alias"), b.Formula(ast.OpAddInt, b.Deref(b.Ident("mid")), b.IntDen(8))))
	b.Unit(printWhole(b, "mid rung sees ", b.Deref(b.Ident("mid"))))
	b.Unit(b.Prelude("newline"))

	b.BeginBlock()
	b.DeclareVar("top", mode.IntIndex)
	b.Unit(b.Assign(b.Ident("top"), b.Formula(ast.OpAddInt, b.Deref(b.Ident("base")), b.Deref(b.Ident("mid")))))
	b.Unit(printWhole(b, "top rung sums ", b.Deref(b.Ident("top"))))
	b.Unit(b.Prelude("newline"))
	b.Unit(b.EndBlock())

	b.Unit(b.EndBlock())

	b.Unit(printWhole(b, "base ends at ", b.Deref(b.Ident("base"))))
	b.Unit(b.Prelude("newline"))
}

// buildHeapGraph wires two heap structs into a reference cycle, then loops a
// block that allocates and abandons heap strings. With the demo's small heap
// the churn forces collections; the cycle must come out intact.
func buildHeapGraph(tab *mode.Table, b *ast.Builder) {
	refInt := tab.Name(mode.IntIndex)
	cell := tab.Struct(
		mode.FieldSpec{Name: "val", Mode: mode.IntIndex},
		mode.FieldSpec{Name: "peer", Mode: refInt},
	)

	b.DeclareHeapVar("a", cell)
	b.DeclareHeapVar("b", cell)
	b.Unit(b.Assign(b.Ident("a"), b.StructDisp(cell, b.IntDen(11), b.Nihil(refInt))))
	b.Unit(b.Assign(b.Ident("b"), b.StructDisp(cell, b.IntDen(22), b.Nihil(refInt))))
	b.Unit(b.Assign(b.Select(b.Ident("a"), "peer"), b.Select(b.Ident("b"), "val")))
	b.Unit(b.Assign(b.Select(b.Ident("b"), "peer"), b.Select(b.Ident("a"), "val")))

	b.Unit(printWhole(b, "cycle wired: a holds ", b.Deref(b.Select(b.Ident("a"), "val"))))
	b.Unit(printWhole(b, ", b holds ", b.Deref(b.Select(b.Ident("b"), "val"))))
	b.Unit(b.Prelude("newline"))

	b.BeginLoop("", nil, nil, b.IntDen(240))
	b.BeginBlock()
	b.DeclareHeapVar("junk", tab.StringMode())
	b.Unit(b.Assign(b.Ident("junk"), b.StringDen("transient rope of characters")))
	b.Unit(b.EndBlock())
	b.Unit(b.EndLoop())

	b.Unit(printWhole(b, "after churn a reaches ", b.Deref(b.Deref(b.Select(b.Ident("a"), "peer")))))
	b.Unit(printWhole(b, " and b reaches ", b.Deref(b.Deref(b.Select(b.Ident("b"), "peer")))))
	b.Unit(b.Prelude("newline"))
}

func buildPartialApply(tab *mode.Table, b *ast.Builder) {
	intParam := func(name string) ast.Param { return ast.Param{Name: name, Mode: mode.IntIndex} }
	procI := tab.Proc(mode.IntIndex, mode.IntIndex)

	b.BeginProcDecl("add", mode.IntIndex, intParam("x"), intParam("y"))
	b.Unit(b.Formula(ast.OpAddInt, b.Ident("x"), b.Ident("y")))
	b.EndProcDecl()

	b.DeclareIdent("inc", procI, b.PartialCall(b.Ident("add"), b.IntDen(1)))

	b.Unit(printWhole(b, "add(20, 22) = ", b.Call(b.Ident("add"), b.IntDen(20), b.IntDen(22))))
	b.Unit(b.Prelude("newline"))
	b.Unit(printWhole(b, "inc(41) = ", b.Call(b.Ident("inc"), b.IntDen(41))))
	b.Unit(b.Prelude("newline"))

	b.BeginProcDecl("apply", mode.IntIndex, ast.Param{Name: "f", Mode: procI}, intParam("n"))
	b.Unit(b.Call(b.Ident("f"), b.Ident("n")))
	b.EndProcDecl()

	b.Unit(printWhole(b, "apply(inc, 9) = ", b.Call(b.Ident("apply"), b.Ident("inc"), b.IntDen(9))))
	b.Unit(b.Prelude("newline"))
}

// buildParSum gives each branch its own slot in the shared outer frame, so
// the branches never write overlapping storage.
func buildParSum(tab *mode.Table, b *ast.Builder) {
	for _, name := range []string{"lo", "mid", "hi"} {
		b.DeclareVar(name, mode.IntIndex)
		b.Unit(b.Assign(b.Ident(name), b.IntDen(0)))
	}

	branch := func(name string, from, to int64) *ast.Node {
		b.BeginLoop("k", b.IntDen(from), nil, b.IntDen(to))
		b.Unit(b.Assign(b.Ident(name), b.Formula(ast.OpAddInt, b.Deref(b.Ident(name)), b.Ident("k"))))
		return b.EndLoop()
	}
	b.Unit(b.Par(
		branch("lo", 1, 100),
		branch("mid", 101, 200),
		branch("hi", 201, 300),
	))

	total := b.Formula(ast.OpAddInt,
		b.Formula(ast.OpAddInt, b.Deref(b.Ident("lo")), b.Deref(b.Ident("mid"))),
		b.Deref(b.Ident("hi")))
	b.Unit(printWhole(b, "three branches summed ", total))
	b.Unit(b.Prelude("newline"))
}

func buildJumpMaze(tab *mode.Table, b *ast.Builder) {
	b.DeclareVar("steps", mode.IntIndex)
	b.Unit(b.Assign(b.Ident("steps"), b.IntDen(0)))

	b.Unit(b.Prelude("print", b.StringDen("enter")))
	b.Unit(b.Goto("corridor"))
	b.Unit(b.Prelude("print", b.StringDen(" ghost")))

	b.Label("corridor")
	b.Unit(b.Prelude("print", b.StringDen(" > corridor")))

	b.BeginBlock()
	b.Unit(b.Prelude("print", b.StringDen(" > vault")))
	b.Unit(b.Goto("gate"))
	b.Unit(b.Prelude("print", b.StringDen(" > trap")))
	b.Unit(b.EndBlock())

	b.Unit(b.Prelude("print", b.StringDen(" > sealed door")))

	b.Label("gate")
	b.Unit(b.Prelude("print", b.StringDen(" > gate")))

	b.Label("walk")
	b.Unit(b.Assign(b.Ident("steps"), b.Formula(ast.OpAddInt, b.Deref(b.Ident("steps")), b.IntDen(1))))
	b.Unit(b.Prelude("print", b.StringDen(" .")))
	b.Unit(b.If(
		b.Formula(ast.OpLtInt, b.Deref(b.Ident("steps")), b.IntDen(3)),
		b.Goto("walk")))

	b.Unit(b.Prelude("print", b.StringDen(" > out")))
	b.Unit(b.Prelude("newline"))
}

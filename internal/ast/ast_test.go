package ast

import (
	"strings"
	"testing"

	"github.com/funvibe/skald/internal/mode"
)

func TestBuilderLayout(t *testing.T) {
	modes := mode.NewTable()
	b := NewBuilder(modes)

	b.BeginProgram()
	b.DeclareVar("x", mode.IntIndex)
	b.Unit(b.Assign(b.Ident("x"), b.IntDen(42)))
	prog, err := b.EndProgram()
	if err != nil {
		t.Fatalf("EndProgram: %v", err)
	}

	root := prog.Root
	if root.Kind != SerialClause || root.Level != 1 {
		t.Fatalf("root = %s at level %d, want serial-clause at level 1", root.Kind, root.Level)
	}
	// Target slot for the INT plus the identifier slot holding REF INT.
	if len(root.Bindings) != 2 {
		t.Fatalf("root has %d bindings, want 2", len(root.Bindings))
	}
	if root.Bindings[0].Name != "" || root.Bindings[0].Mode != mode.IntIndex || root.Bindings[0].Offset != 0 {
		t.Errorf("target slot = %+v", root.Bindings[0])
	}
	refInt := modes.Name(mode.IntIndex)
	if root.Bindings[1].Name != "x" || root.Bindings[1].Mode != refInt || root.Bindings[1].Offset != mode.ScalarSize {
		t.Errorf("identifier slot = %+v", root.Bindings[1])
	}
	if root.Size != mode.ScalarSize+mode.NameSize {
		t.Errorf("frame size = %d, want %d", root.Size, mode.ScalarSize+mode.NameSize)
	}

	assign := root.Kids[1]
	if assign.Kind != AssignExpr || !strings.HasPrefix(modes.Display(assign.Mode), "REF") {
		t.Errorf("assignment node = %s yielding %s", assign.Kind, modes.Display(assign.Mode))
	}
	ident := assign.Kids[0]
	if ident.Level != 1 || ident.Offset != mode.ScalarSize {
		t.Errorf("identifier resolved to level %d offset %d", ident.Level, ident.Offset)
	}
}

func TestBuilderNestedLevels(t *testing.T) {
	modes := mode.NewTable()
	b := NewBuilder(modes)

	b.BeginProgram()
	b.DeclareVar("outer", mode.IntIndex)
	b.BeginBlock()
	b.DeclareVar("inner", mode.IntIndex)
	up := b.Ident("outer")
	down := b.Ident("inner")
	b.Unit(b.Voided(b.Deref(up)))
	b.Unit(b.Voided(b.Deref(down)))
	block := b.EndBlock()
	b.Unit(block)
	if _, err := b.EndProgram(); err != nil {
		t.Fatalf("EndProgram: %v", err)
	}

	if block.Level != 2 {
		t.Errorf("block level = %d, want 2", block.Level)
	}
	if up.Level != 1 {
		t.Errorf("outer identifier resolved to level %d, want 1", up.Level)
	}
	if down.Level != 2 {
		t.Errorf("inner identifier resolved to level %d, want 2", down.Level)
	}
}

func TestBuilderErrors(t *testing.T) {
	tests := []struct {
		name  string
		build func(b *Builder, modes *mode.Table)
		want  string
	}{
		{
			"undeclared identifier",
			func(b *Builder, modes *mode.Table) { b.Unit(b.Ident("ghost")) },
			`identifier "ghost" not declared`,
		},
		{
			"duplicate declaration",
			func(b *Builder, modes *mode.Table) {
				b.DeclareVar("x", mode.IntIndex)
				b.DeclareVar("x", mode.RealIndex)
			},
			`declared twice`,
		},
		{
			"assignment mode mismatch",
			func(b *Builder, modes *mode.Table) {
				b.DeclareVar("x", mode.IntIndex)
				b.Unit(b.Assign(b.Ident("x"), b.RealDen(1.5)))
			},
			"assignment of REAL into REF INT",
		},
		{
			"dereference of non-name",
			func(b *Builder, modes *mode.Table) { b.Unit(b.Deref(b.IntDen(1))) },
			"dereference of non-name",
		},
		{
			"loop body declaration",
			func(b *Builder, modes *mode.Table) {
				b.BeginLoop("i", nil, nil, b.IntDen(3))
				b.DeclareVar("x", mode.IntIndex)
				b.Unit(b.EndLoop())
			},
			"directly inside a loop",
		},
		{
			"unresolved label",
			func(b *Builder, modes *mode.Table) { b.Unit(b.Goto("nowhere")) },
			`label "nowhere" not declared`,
		},
		{
			"nihil of value mode",
			func(b *Builder, modes *mode.Table) { b.Unit(b.Nihil(mode.IntIndex)) },
			"nihil requires a reference mode",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			modes := mode.NewTable()
			b := NewBuilder(modes)
			b.BeginProgram()
			tt.build(b, modes)
			_, err := b.EndProgram()
			if err == nil {
				t.Fatal("EndProgram succeeded, want error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to contain %q", err, tt.want)
			}
		})
	}
}

func TestForwardJumpResolution(t *testing.T) {
	modes := mode.NewTable()
	b := NewBuilder(modes)

	b.BeginProgram()
	jump := b.Unit(b.Goto("out"))
	b.Unit(b.Voided(b.IntDen(1)))
	lbl := b.Label("out")
	prog, err := b.EndProgram()
	if err != nil {
		t.Fatalf("EndProgram: %v", err)
	}

	if jump.Target != lbl.Index {
		t.Errorf("jump target = %d, want label index %d", jump.Target, lbl.Index)
	}
	if lbl.Target != prog.Root.Index {
		t.Errorf("label owner = %d, want root clause %d", lbl.Target, prog.Root.Index)
	}
	if lbl.Ival != 2 {
		t.Errorf("label cached unit index = %d, want 2", lbl.Ival)
	}
}

func TestRecursiveProcDecl(t *testing.T) {
	modes := mode.NewTable()
	b := NewBuilder(modes)

	b.BeginProgram()
	b.BeginProcDecl("fact", mode.IntIndex, Param{Name: "n", Mode: mode.IntIndex})
	n := b.Ident("n")
	rec := b.Call(b.Ident("fact"), b.Formula(OpSubInt, b.Ident("n"), b.IntDen(1)))
	b.Unit(b.IfElse(
		b.Formula(OpLeInt, n, b.IntDen(1)),
		b.IntDen(1),
		b.Formula(OpMulInt, b.Ident("n"), rec),
	))
	decl := b.EndProcDecl()
	b.Unit(b.Voided(b.Call(b.Ident("fact"), b.IntDen(5))))
	prog, err := b.EndProgram()
	if err != nil {
		t.Fatalf("EndProgram: %v", err)
	}

	if decl.Kind != IdentityDecl {
		t.Fatalf("decl kind = %s, want identity-decl", decl.Kind)
	}
	rt := decl.Kids[0]
	if rt.Kind != RoutineText || rt.Level != 2 {
		t.Errorf("routine = %s at level %d, want routine-text at level 2", rt.Kind, rt.Level)
	}
	if len(rt.Params) != 1 || rt.Params[0].Name != "n" || rt.Params[0].Offset != 0 {
		t.Errorf("params = %+v", rt.Params)
	}
	procMode := modes.Proc(mode.IntIndex, mode.IntIndex)
	if rt.Mode != procMode {
		t.Errorf("routine mode = %s", modes.Display(rt.Mode))
	}
	if prog.At(rt.Index) != rt {
		t.Error("registry does not return the routine by index")
	}
}

func TestPartialCallMode(t *testing.T) {
	modes := mode.NewTable()
	b := NewBuilder(modes)

	b.BeginProgram()
	b.BeginRoutine(mode.IntIndex, Param{"a", mode.IntIndex}, Param{"b", mode.IntIndex})
	b.Unit(b.Formula(OpAddInt, b.Ident("a"), b.Ident("b")))
	add := b.EndRoutine()
	partial := b.PartialCall(add, b.IntDen(10))
	b.Unit(b.Voided(b.Call(partial, b.IntDen(5))))
	if _, err := b.EndProgram(); err != nil {
		t.Fatalf("EndProgram: %v", err)
	}

	want := modes.Proc(mode.IntIndex, mode.IntIndex)
	if partial.Mode != want {
		t.Errorf("partial call mode = %s, want %s", modes.Display(partial.Mode), modes.Display(want))
	}
	if !partial.Bval {
		t.Error("partial call not flagged as partial")
	}
}

func TestSerialClauseYieldsLastUnitMode(t *testing.T) {
	modes := mode.NewTable()
	b := NewBuilder(modes)

	b.BeginProgram()
	b.BeginBlock()
	b.Unit(b.Voided(b.IntDen(1)))
	b.Unit(b.RealDen(2.5))
	block := b.EndBlock()
	b.Unit(b.Voided(block))
	if _, err := b.EndProgram(); err != nil {
		t.Fatalf("EndProgram: %v", err)
	}

	if block.Mode != mode.RealIndex {
		t.Errorf("block mode = %s, want REAL", modes.Display(block.Mode))
	}
}

package evaluator

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/funvibe/skald/internal/ast"
	"github.com/funvibe/skald/internal/config"
	"github.com/funvibe/skald/internal/datum"
	"github.com/funvibe/skald/internal/diag"
	"github.com/funvibe/skald/internal/mode"
)

// buildProgram assembles a program, failing the test on any construction
// error. The build callback runs between BeginProgram and EndProgram.
func buildProgram(t *testing.T, build func(tab *mode.Table, b *ast.Builder)) *ast.Program {
	t.Helper()
	tab := mode.NewTable()
	b := ast.NewBuilder(tab)
	b.BeginProgram()
	build(tab, b)
	prog, err := b.EndProgram()
	if err != nil {
		t.Fatalf("building program: %v", err)
	}
	return prog
}

// testOptions shrinks the engine regions so exhaustion tests stay fast.
func testOptions() config.Options {
	opts := config.Default()
	opts.HeapBytes = 256 * 1024
	opts.MaxHandles = 4096
	return opts
}

// runProgram builds and runs a program that must succeed, returning its yield
// and everything the prelude printed.
func runProgram(t *testing.T, build func(tab *mode.Table, b *ast.Builder)) (datum.Datum, string) {
	t.Helper()
	prog := buildProgram(t, build)
	eng := New(prog, testOptions())
	var out bytes.Buffer
	eng.SetOutput(&out)
	d, err := eng.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	return d, out.String()
}

// runError builds and runs a program expected to fail, returning the
// diagnostic it died with.
func runError(t *testing.T, opts config.Options, build func(tab *mode.Table, b *ast.Builder)) *diag.Diagnostic {
	t.Helper()
	prog := buildProgram(t, build)
	eng := New(prog, opts)
	eng.SetOutput(&bytes.Buffer{})
	_, err := eng.Run(context.Background())
	if err == nil {
		t.Fatalf("run succeeded, want a diagnostic")
	}
	d, ok := diag.From(err)
	if !ok {
		t.Fatalf("error %v carries no diagnostic", err)
	}
	return d
}

func wantKind(t *testing.T, d *diag.Diagnostic, kind diag.Kind) {
	t.Helper()
	if d.Kind != kind {
		t.Fatalf("diagnostic = %v, want kind %s", d, kind)
	}
}

func wantInt(t *testing.T, d datum.Datum, want int64) {
	t.Helper()
	if d.Kind != mode.Int || !d.Init || d.Int != want {
		t.Fatalf("yield = %s, want INT %d", d.Inspect(), want)
	}
}

func TestRunYieldsLastUnit(t *testing.T) {
	d, _ := runProgram(t, func(tab *mode.Table, b *ast.Builder) {
		b.Unit(b.Voided(b.IntDen(1)))
		b.Unit(b.Formula(ast.OpMulInt, b.Formula(ast.OpAddInt, b.IntDen(1), b.IntDen(2)), b.IntDen(7)))
	})
	wantInt(t, d, 21)
}

func TestVariableAssignAndRead(t *testing.T) {
	d, _ := runProgram(t, func(tab *mode.Table, b *ast.Builder) {
		b.DeclareVar("x", mode.IntIndex)
		b.Unit(b.Voided(b.Assign(b.Ident("x"), b.IntDen(41))))
		b.Unit(b.Formula(ast.OpAddInt, b.Deref(b.Ident("x")), b.IntDen(1)))
	})
	wantInt(t, d, 42)
}

func TestAssignmentYieldsItsDestination(t *testing.T) {
	// x := (y := 5) reads the inner assignment's yield through the name.
	d, _ := runProgram(t, func(tab *mode.Table, b *ast.Builder) {
		b.DeclareVar("x", mode.IntIndex)
		b.DeclareVar("y", mode.IntIndex)
		b.Unit(b.Voided(b.Assign(b.Ident("x"), b.Deref(b.Assign(b.Ident("y"), b.IntDen(5))))))
		b.Unit(b.Formula(ast.OpAddInt, b.Deref(b.Ident("x")), b.Deref(b.Ident("y"))))
	})
	wantInt(t, d, 10)
}

func TestIdentityDeclarationSharesStorage(t *testing.T) {
	// alias is bound to x's name, so writing through it writes x.
	d, _ := runProgram(t, func(tab *mode.Table, b *ast.Builder) {
		refInt := tab.Name(mode.IntIndex)
		b.DeclareVar("x", mode.IntIndex)
		b.Unit(b.Voided(b.Assign(b.Ident("x"), b.IntDen(1))))
		b.DeclareIdent("alias", refInt, b.Ident("x"))
		b.Unit(b.Voided(b.Assign(b.Ident("alias"), b.IntDen(77))))
		b.Unit(b.Deref(b.Ident("x")))
	})
	wantInt(t, d, 77)
}

func TestUninitializedOperandIsFatal(t *testing.T) {
	d := runError(t, testOptions(), func(tab *mode.Table, b *ast.Builder) {
		b.DeclareVar("x", mode.IntIndex)
		b.Unit(b.Formula(ast.OpAddInt, b.Deref(b.Ident("x")), b.IntDen(1)))
	})
	wantKind(t, d, diag.Uninitialized)
}

func TestContextCancellation(t *testing.T) {
	prog := buildProgram(t, func(tab *mode.Table, b *ast.Builder) {
		b.Unit(b.IntDen(1))
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New(prog, testOptions()).Run(ctx); !diag.IsKind(err, diag.Cancelled) {
		t.Fatalf("got %v, want a cancelled diagnostic", err)
	}
}

func TestEvalDepthLimit(t *testing.T) {
	opts := testOptions()
	opts.MaxEvalDepth = 100
	d := runError(t, opts, func(tab *mode.Table, b *ast.Builder) {
		b.BeginProcDecl("spin", mode.IntIndex)
		b.Unit(b.Call(b.Ident("spin")))
		b.EndProcDecl()
		b.Unit(b.Voided(b.Call(b.Ident("spin"))))
	})
	wantKind(t, d, diag.StackOverflow)
	if !strings.Contains(d.Msg, "nested deeper") {
		t.Errorf("message = %q, want the depth limit named", d.Msg)
	}
}

func TestFrameStackExhaustion(t *testing.T) {
	// Each recursive call claims a parameter slot, so the frame region fills
	// long before the eval depth limit trips.
	opts := testOptions()
	opts.FrameStackBytes = 4096
	d := runError(t, opts, func(tab *mode.Table, b *ast.Builder) {
		b.BeginProcDecl("sink", mode.IntIndex, ast.Param{Name: "n", Mode: mode.IntIndex})
		b.Unit(b.Call(b.Ident("sink"), b.Formula(ast.OpAddInt, b.Ident("n"), b.IntDen(1))))
		b.EndProcDecl()
		b.Unit(b.Voided(b.Call(b.Ident("sink"), b.IntDen(0))))
	})
	wantKind(t, d, diag.StackOverflow)
	if strings.Contains(d.Msg, "nested deeper") {
		t.Errorf("message = %q, want the frame region named, not the depth limit", d.Msg)
	}
}

func TestHeapExhaustion(t *testing.T) {
	// The accumulated string stays live, so collections cannot save the run:
	// once the survivor plus its successor exceed the arena, allocation fails.
	opts := testOptions()
	opts.HeapBytes = 4096
	d := runError(t, opts, func(tab *mode.Table, b *ast.Builder) {
		str := tab.StringMode()
		b.DeclareVar("s", str)
		b.Unit(b.Voided(b.Assign(b.Ident("s"), b.StringDen(""))))
		b.BeginLoop("", nil, nil, b.IntDen(200))
		b.Unit(b.Voided(b.Assign(b.Ident("s"),
			b.Formula(ast.OpConcat, b.Deref(b.Ident("s")), b.StringDen("turnstile")))))
		b.Unit(b.EndLoop())
	})
	wantKind(t, d, diag.HeapExhausted)
}

func TestStatsAfterRun(t *testing.T) {
	prog := buildProgram(t, func(tab *mode.Table, b *ast.Builder) {
		b.DeclareVar("x", mode.IntIndex)
		b.BeginLoop("i", nil, nil, b.IntDen(4))
		b.Unit(b.Voided(b.Assign(b.Ident("x"), b.Formula(ast.OpAddInt, b.Ident("i"), b.IntDen(10)))))
		b.Unit(b.EndLoop())
		b.Unit(b.Deref(b.Ident("x")))
	})
	opts := testOptions()
	eng := New(prog, opts)
	if len(eng.RunID()) != 36 {
		t.Fatalf("run id = %q, want a canonical UUID", eng.RunID())
	}
	d, err := eng.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	wantInt(t, d, 14)

	s := eng.Stats()
	if s.Steps == 0 {
		t.Errorf("steps = 0 after a run")
	}
	if s.Installs == 0 || len(s.InstallsByKind) == 0 {
		t.Errorf("no propagators settled: %+v", s)
	}
	if s.InstallsByKind[ast.PropPreparedDenot.String()] == 0 {
		t.Errorf("no denotation settled: %v", s.InstallsByKind)
	}
	if s.FrameDepth < 2 {
		t.Errorf("frame depth high water = %d, want at least program plus loop", s.FrameDepth)
	}
	if s.FrameBytes == 0 || s.OperandBytes == 0 {
		t.Errorf("region high waters = %d/%d, want nonzero", s.FrameBytes, s.OperandBytes)
	}
	if s.HeapCapacity != int32(opts.HeapBytes) {
		t.Errorf("heap capacity = %d, want %d", s.HeapCapacity, opts.HeapBytes)
	}
}

func TestNestedBlocksBalance(t *testing.T) {
	// A randomized chain of nested blocks, re-entered by a loop so every node
	// runs both idle and settled. Each level adds its value to a global
	// accumulator through the full static chain.
	rng := rand.New(rand.NewSource(7))
	levels := 12 + rng.Intn(8)
	values := make([]int64, levels)
	var chainSum int64
	for i := range values {
		values[i] = int64(rng.Intn(50))
		chainSum += values[i]
	}

	prog := buildProgram(t, func(tab *mode.Table, b *ast.Builder) {
		b.DeclareVar("acc", mode.IntIndex)
		b.Unit(b.Voided(b.Assign(b.Ident("acc"), b.IntDen(0))))
		b.BeginLoop("", nil, nil, b.IntDen(3))
		for i := 0; i < levels; i++ {
			b.BeginBlock()
			name := fmt.Sprintf("v%d", i)
			b.DeclareVar(name, mode.IntIndex)
			b.Unit(b.Voided(b.Assign(b.Ident(name), b.IntDen(values[i]))))
			b.Unit(b.Voided(b.Assign(b.Ident("acc"),
				b.Formula(ast.OpAddInt, b.Deref(b.Ident("acc")), b.Deref(b.Ident(name))))))
		}
		for i := 0; i < levels; i++ {
			b.Unit(b.EndBlock())
		}
		b.Unit(b.EndLoop())
		b.Unit(b.Deref(b.Ident("acc")))
	})
	eng := New(prog, testOptions())
	d, err := eng.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	wantInt(t, d, 3*chainSum)

	s := eng.Stats()
	want := int32(levels) + 2 // program, loop, one frame per block
	if s.FrameDepth != want {
		t.Errorf("frame depth high water = %d, want %d", s.FrameDepth, want)
	}
}

package evaluator

import (
	"strings"
	"testing"

	"github.com/funvibe/skald/internal/ast"
	"github.com/funvibe/skald/internal/diag"
	"github.com/funvibe/skald/internal/mode"
)

func TestSliceReadAndWrite(t *testing.T) {
	// Slicing through a name yields an element name, so assignment reaches
	// the row's heap storage.
	d, _ := runProgram(t, func(tab *mode.Table, b *ast.Builder) {
		rowInt := tab.Row(mode.IntIndex, 1)
		b.DeclareVar("xs", rowInt)
		b.Unit(b.Voided(b.Assign(b.Ident("xs"),
			b.RowDisp(rowInt, b.IntDen(1), b.IntDen(2), b.IntDen(3)))))
		b.Unit(b.Voided(b.Assign(b.Slice(b.Ident("xs"), b.IntDen(2)), b.IntDen(99))))
		b.Unit(b.Deref(b.Slice(b.Ident("xs"), b.IntDen(2))))
	})
	wantInt(t, d, 99)
}

func TestSliceOfValueCopies(t *testing.T) {
	d, _ := runProgram(t, func(tab *mode.Table, b *ast.Builder) {
		rowInt := tab.Row(mode.IntIndex, 1)
		b.Unit(b.Slice(b.RowDisp(rowInt, b.IntDen(5), b.IntDen(6)), b.IntDen(1)))
	})
	wantInt(t, d, 5)
}

func TestSliceBounds(t *testing.T) {
	slice := func(sub int64) func(tab *mode.Table, b *ast.Builder) {
		return func(tab *mode.Table, b *ast.Builder) {
			rowInt := tab.Row(mode.IntIndex, 1)
			b.DeclareVar("xs", rowInt)
			b.Unit(b.Voided(b.Assign(b.Ident("xs"),
				b.RowDisp(rowInt, b.IntDen(1), b.IntDen(2), b.IntDen(3)))))
			b.Unit(b.Deref(b.Slice(b.Ident("xs"), b.IntDen(sub))))
		}
	}
	for _, sub := range []int64{0, 4} {
		d := runError(t, testOptions(), slice(sub))
		wantKind(t, d, diag.BoundsError)
		if !strings.Contains(d.Msg, "outside the row bounds") {
			t.Errorf("subscript %d: message = %q", sub, d.Msg)
		}
	}

	// Subscripts beyond the descriptor's range fail before any bounds check.
	d := runError(t, testOptions(), slice(1<<40))
	wantKind(t, d, diag.BoundsError)
	if !strings.Contains(d.Msg, "out of range") {
		t.Errorf("huge subscript: message = %q", d.Msg)
	}
}

func TestTrimAliasesStorage(t *testing.T) {
	d, _ := runProgram(t, func(tab *mode.Table, b *ast.Builder) {
		rowInt := tab.Row(mode.IntIndex, 1)
		b.DeclareVar("xs", rowInt)
		b.Unit(b.Voided(b.Assign(b.Ident("xs"),
			b.RowDisp(rowInt, b.IntDen(1), b.IntDen(2), b.IntDen(3), b.IntDen(4), b.IntDen(5)))))
		b.DeclareVar("mid", rowInt)
		b.Unit(b.Voided(b.Assign(b.Ident("mid"),
			b.Trim(b.Deref(b.Ident("xs")), b.IntDen(2), b.IntDen(4)))))
		// Writing the original row shows through the trim: mid[2] is xs[3].
		b.Unit(b.Voided(b.Assign(b.Slice(b.Ident("xs"), b.IntDen(3)), b.IntDen(77))))
		b.Unit(b.Deref(b.Slice(b.Ident("mid"), b.IntDen(2))))
	})
	wantInt(t, d, 77)
}

func TestTrimRenumbersFromOne(t *testing.T) {
	d, _ := runProgram(t, func(tab *mode.Table, b *ast.Builder) {
		rowInt := tab.Row(mode.IntIndex, 1)
		trim := b.Trim(b.RowDisp(rowInt, b.IntDen(1), b.IntDen(2), b.IntDen(3), b.IntDen(4)),
			b.IntDen(2), b.IntDen(4))
		b.Unit(b.Monadic(ast.OpUpb, trim))
	})
	wantInt(t, d, 3)
}

func TestTrimEmpty(t *testing.T) {
	// from = to+1 is the conventional empty trim.
	d, _ := runProgram(t, func(tab *mode.Table, b *ast.Builder) {
		rowInt := tab.Row(mode.IntIndex, 1)
		trim := b.Trim(b.RowDisp(rowInt, b.IntDen(1), b.IntDen(2), b.IntDen(3)),
			b.IntDen(4), b.IntDen(3))
		b.Unit(b.Monadic(ast.OpUpb, trim))
	})
	wantInt(t, d, 0)
}

func TestTrimBounds(t *testing.T) {
	d := runError(t, testOptions(), func(tab *mode.Table, b *ast.Builder) {
		rowInt := tab.Row(mode.IntIndex, 1)
		trim := b.Trim(b.RowDisp(rowInt, b.IntDen(1), b.IntDen(2), b.IntDen(3)),
			b.IntDen(2), b.IntDen(9))
		b.Unit(b.Monadic(ast.OpUpb, trim))
	})
	wantKind(t, d, diag.BoundsError)
	if !strings.Contains(d.Msg, "outside bounds") {
		t.Errorf("message = %q", d.Msg)
	}
}

func TestSelection(t *testing.T) {
	t.Run("value path copies the field", func(t *testing.T) {
		d, _ := runProgram(t, func(tab *mode.Table, b *ast.Builder) {
			pt := tab.Struct(
				mode.FieldSpec{Name: "a", Mode: mode.IntIndex},
				mode.FieldSpec{Name: "b", Mode: mode.IntIndex},
			)
			b.Unit(b.Select(b.StructDisp(pt, b.IntDen(3), b.IntDen(4)), "b"))
		})
		wantInt(t, d, 4)
	})
	t.Run("name path writes through", func(t *testing.T) {
		d, _ := runProgram(t, func(tab *mode.Table, b *ast.Builder) {
			pt := tab.Struct(
				mode.FieldSpec{Name: "a", Mode: mode.IntIndex},
				mode.FieldSpec{Name: "b", Mode: mode.IntIndex},
			)
			b.DeclareVar("p", pt)
			b.Unit(b.Voided(b.Assign(b.Ident("p"), b.StructDisp(pt, b.IntDen(1), b.IntDen(2)))))
			b.Unit(b.Voided(b.Assign(b.Select(b.Ident("p"), "b"), b.IntDen(99))))
			b.Unit(b.Deref(b.Select(b.Ident("p"), "b")))
		})
		wantInt(t, d, 99)
	})
}

func TestSelectThroughNil(t *testing.T) {
	d := runError(t, testOptions(), func(tab *mode.Table, b *ast.Builder) {
		pt := tab.Struct(mode.FieldSpec{Name: "a", Mode: mode.IntIndex})
		refPt := tab.Name(pt)
		b.Unit(b.Voided(b.Select(b.Nihil(refPt), "a")))
	})
	wantKind(t, d, diag.Uninitialized)
	if !strings.Contains(d.Msg, "NIL") {
		t.Errorf("message = %q, want NIL named", d.Msg)
	}
}

func TestNestedStructDisplay(t *testing.T) {
	d, _ := runProgram(t, func(tab *mode.Table, b *ast.Builder) {
		inner := tab.Struct(mode.FieldSpec{Name: "c", Mode: mode.IntIndex})
		outer := tab.Struct(
			mode.FieldSpec{Name: "a", Mode: mode.IntIndex},
			mode.FieldSpec{Name: "b", Mode: inner},
		)
		disp := b.StructDisp(outer, b.IntDen(1), b.StructDisp(inner, b.IntDen(9)))
		b.Unit(b.Select(b.Select(disp, "b"), "c"))
	})
	wantInt(t, d, 9)
}

package evaluator

import (
	"strings"
	"testing"

	"github.com/funvibe/skald/internal/ast"
	"github.com/funvibe/skald/internal/diag"
	"github.com/funvibe/skald/internal/mode"
)

func TestPrintFormatsEachMode(t *testing.T) {
	_, out := runProgram(t, func(tab *mode.Table, b *ast.Builder) {
		b.Unit(b.Prelude("print", b.StringDen("skald")))
		b.Unit(b.Prelude("newline"))
		b.Unit(b.Prelude("print", b.Prelude("whole", b.IntDen(-42), b.IntDen(6))))
		b.Unit(b.Prelude("newline"))
		b.Unit(b.Prelude("print", b.RealDen(2.5)))
		b.Unit(b.Prelude("newline"))
		b.Unit(b.Prelude("print", b.BoolDen(true)))
		b.Unit(b.Prelude("newline"))
		b.Unit(b.Prelude("print", b.CharDen('x')))
		b.Unit(b.Prelude("newline"))
		rowInt := tab.Row(mode.IntIndex, 1)
		b.Unit(b.Prelude("print", b.RowDisp(rowInt, b.IntDen(1), b.IntDen(2))))
		b.Unit(b.Prelude("newline"))
	})
	want := "skald\n   -42\n2.5\ntrue\nx\n(1, 2)\n"
	if out != want {
		t.Errorf("output = %q, want %q", out, want)
	}
}

func TestPrintJoinsArguments(t *testing.T) {
	_, out := runProgram(t, func(tab *mode.Table, b *ast.Builder) {
		b.Unit(b.Prelude("print",
			b.StringDen("count: "),
			b.Prelude("whole", b.IntDen(3), b.IntDen(0)),
			b.CharDen('!')))
		b.Unit(b.Prelude("newline"))
	})
	if want := "count: 3!\n"; out != want {
		t.Errorf("output = %q, want %q", out, want)
	}
}

func TestWholeFieldWidths(t *testing.T) {
	tests := []struct {
		v, w int64
		want string
	}{
		{42, 0, "42"},
		{-7, 0, "-7"},
		{42, 5, "  +42"},
		{-7, 5, "   -7"},
		{42, -5, "42   "},
		{-7, -5, "-7   "},
		{0, 4, "  +0"},
		{7, 2, "+7"},
		{100, 3, "***"},
		{12345, 4, "****"},
		{-12345, 3, "***"},
	}
	for _, tc := range tests {
		if got := formatWhole(tc.v, tc.w); got != tc.want {
			t.Errorf("formatWhole(%d, %d) = %q, want %q", tc.v, tc.w, got, tc.want)
		}
	}
}

func TestPrintRejectsUninitialized(t *testing.T) {
	d := runError(t, testOptions(), func(tab *mode.Table, b *ast.Builder) {
		b.DeclareVar("x", mode.IntIndex)
		b.Unit(b.Prelude("print", b.Deref(b.Ident("x"))))
	})
	wantKind(t, d, diag.Uninitialized)
	if !strings.Contains(d.Msg, "print of an uninitialized value") {
		t.Errorf("message = %q, want the print refusal named", d.Msg)
	}
}

func TestNewline(t *testing.T) {
	_, out := runProgram(t, func(tab *mode.Table, b *ast.Builder) {
		b.Unit(b.Prelude("newline"))
	})
	if out != "\n" {
		t.Errorf("output = %q, want a single newline", out)
	}
}

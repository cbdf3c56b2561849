package diag

import (
	"errors"
	"fmt"
	"testing"
)

func TestDiagnosticFormatting(t *testing.T) {
	tests := []struct {
		name string
		d    *Diagnostic
		want string
	}{
		{
			"with position",
			New(ScopeViolation, "name escapes level %d", 3).WithPos(7, 12),
			"skald: scope violation at 7:12: name escapes level 3",
		},
		{
			"without position",
			New(HeapExhausted, "arena full"),
			"skald: heap exhausted: arena full",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.d.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWithPosKeepsFirstPosition(t *testing.T) {
	d := New(Uninitialized, "read of unset slot").WithPos(3, 1)
	d.WithPos(99, 99)
	if d.Line != 3 || d.Col != 1 {
		t.Errorf("position = %d:%d, want 3:1", d.Line, d.Col)
	}
}

func TestFromUnwrapsChains(t *testing.T) {
	base := New(JumpTargetLost, "label out beyond branch")
	wrapped := fmt.Errorf("running branch 2: %w", base)

	got, ok := From(wrapped)
	if !ok {
		t.Fatalf("From did not find diagnostic in %v", wrapped)
	}
	if got != base {
		t.Errorf("From returned %v, want the original diagnostic", got)
	}
	if !IsKind(wrapped, JumpTargetLost) {
		t.Error("IsKind(wrapped, JumpTargetLost) = false, want true")
	}
	if IsKind(wrapped, HeapExhausted) {
		t.Error("IsKind(wrapped, HeapExhausted) = true, want false")
	}
	if _, ok := From(errors.New("plain")); ok {
		t.Error("From(plain error) found a diagnostic, want none")
	}
}

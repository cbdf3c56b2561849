package datum

import (
	"testing"

	"github.com/funvibe/skald/internal/mode"
)

func TestScalarRoundTrip(t *testing.T) {
	region := make([]byte, 256)

	if Initialized(region, 0) {
		t.Fatalf("fresh storage must not be initialized")
	}
	PutInt(region, 0, -42)
	if !Initialized(region, 0) {
		t.Fatalf("put must set the initialization bit")
	}
	if got := GetInt(region, 0); got != -42 {
		t.Errorf("int round trip: got %d, want -42", got)
	}

	PutReal(region, 16, 2.75)
	if got := GetReal(region, 16); got != 2.75 {
		t.Errorf("real round trip: got %g, want 2.75", got)
	}

	PutBool(region, 32, true)
	if !GetBool(region, 32) {
		t.Errorf("bool round trip: got false, want true")
	}

	PutChar(region, 48, 'ж')
	if got := GetChar(region, 48); got != 'ж' {
		t.Errorf("char round trip: got %q, want %q", got, 'ж')
	}
}

func TestNameRoundTrip(t *testing.T) {
	region := make([]byte, 64)

	n := Name{Res: RefFrame, Scope: 3, Off: 48, Handle: -1}
	PutName(region, 8, n)
	if got := GetName(region, 8); got != n {
		t.Errorf("frame name round trip: got %+v, want %+v", got, n)
	}

	hn := Name{Res: RefHeap, Handle: 17}
	PutName(region, 8, hn)
	if got := GetName(region, 8); got != hn {
		t.Errorf("heap name round trip: got %+v, want %+v", got, hn)
	}

	PutName(region, 8, Name{Res: RefNil})
	if got := GetName(region, 8); !got.IsNil() {
		t.Errorf("nil name round trip: got %+v", got)
	}
}

func TestRowRoundTripAndElemOffset(t *testing.T) {
	region := make([]byte, 128)
	r := Row{Handle: 5, Dims: FreshDims([]int32{2, 3}, mode.ScalarSize)}
	PutRow(region, 0, r)

	got := GetRow(region, 0)
	if got.Handle != 5 || len(got.Dims) != 2 {
		t.Fatalf("row round trip: got %+v", got)
	}
	if got.Count() != 6 {
		t.Errorf("count: got %d, want 6", got.Count())
	}

	tests := []struct {
		subs []int32
		off  int32
		ok   bool
	}{
		{[]int32{1, 1}, 0, true},
		{[]int32{1, 3}, 32, true},
		{[]int32{2, 1}, 48, true},
		{[]int32{2, 3}, 80, true},
		{[]int32{0, 1}, 0, false},
		{[]int32{2, 4}, 0, false},
	}
	for _, tt := range tests {
		off, ok := ElemOffset(got, tt.subs)
		if ok != tt.ok || (ok && off != tt.off) {
			t.Errorf("ElemOffset(%v): got (%d, %v), want (%d, %v)", tt.subs, off, ok, tt.off, tt.ok)
		}
	}
}

func TestFreshDimsEmptyRow(t *testing.T) {
	dims := FreshDims([]int32{0}, mode.ScalarSize)
	r := Row{Handle: 1, Dims: dims}
	if r.Count() != 0 {
		t.Fatalf("empty row count: got %d, want 0", r.Count())
	}
	if _, ok := ElemOffset(r, []int32{1}); ok {
		t.Errorf("empty row must reject every subscript")
	}
}

func TestVisitRefs(t *testing.T) {
	tab := mode.NewTable()
	refInt := tab.Name(mode.IntIndex)
	rowInt := tab.Row(mode.IntIndex, 1)
	pair := tab.Struct(
		mode.FieldSpec{Name: "r", Mode: refInt},
		mode.FieldSpec{Name: "v", Mode: rowInt},
	)
	uni := tab.Union(mode.IntIndex, refInt)

	t.Run("struct gathers member handles", func(t *testing.T) {
		m := tab.At(pair)
		region := make([]byte, m.Size)
		PutName(region, tab.At(pair).Fields[0].Offset, Name{Res: RefHeap, Handle: 7})
		PutRow(region, tab.At(pair).Fields[1].Offset, Row{Handle: 9, Dims: FreshDims([]int32{2}, mode.ScalarSize)})

		var got []int32
		VisitRefs(tab, m, region, 0, func(h int32) { got = append(got, h) })
		if len(got) != 2 || got[0] != 7 || got[1] != 9 {
			t.Errorf("handles: got %v, want [7 9]", got)
		}
	})

	t.Run("union visits the active member only", func(t *testing.T) {
		m := tab.At(uni)
		region := make([]byte, m.Size)
		PutUnionTag(region, 0, refInt)
		PutName(region, UnionPayload(0), Name{Res: RefHeap, Handle: 4})

		var got []int32
		VisitRefs(tab, m, region, 0, func(h int32) { got = append(got, h) })
		if len(got) != 1 || got[0] != 4 {
			t.Errorf("handles: got %v, want [4]", got)
		}
	})

	t.Run("frame names hold no handle", func(t *testing.T) {
		m := tab.At(refInt)
		region := make([]byte, m.Size)
		PutName(region, 0, Name{Res: RefFrame, Scope: 2, Off: 16})

		count := 0
		VisitRefs(tab, m, region, 0, func(int32) { count++ })
		if count != 0 {
			t.Errorf("frame name visited %d handles, want 0", count)
		}
	})

	t.Run("uninitialized storage holds no refs", func(t *testing.T) {
		m := tab.At(refInt)
		region := make([]byte, m.Size)

		count := 0
		VisitRefs(tab, m, region, 0, func(int32) { count++ })
		if count != 0 {
			t.Errorf("uninitialized name visited %d handles, want 0", count)
		}
	})
}

type fakeHeap map[int32][]byte

func (f fakeHeap) Bytes(h int32) []byte { return f[h] }

func TestDecodeInspect(t *testing.T) {
	tab := mode.NewTable()
	str := tab.StringMode()

	block := make([]byte, 3*mode.ScalarSize)
	PutChar(block, 0, 'a')
	PutChar(block, 16, 'b')
	PutChar(block, 32, 'c')
	heap := fakeHeap{3: block}

	region := make([]byte, 64)
	PutRow(region, 0, Row{Handle: 3, Dims: FreshDims([]int32{3}, mode.ScalarSize)})

	d := Decode(tab, tab.At(str), region, 0, heap)
	if got := d.Inspect(); got != "\"abc\"" {
		t.Errorf("char row inspect: got %s, want \"abc\"", got)
	}
	if text, ok := d.Text(); !ok || text != "abc" {
		t.Errorf("text: got (%q, %v), want (\"abc\", true)", text, ok)
	}

	PutName(region, 0, Name{Res: RefNil})
	nd := Decode(tab, tab.At(tab.Name(mode.IntIndex)), region, 0, nil)
	if got := nd.Inspect(); got != "NIL" {
		t.Errorf("nil inspect: got %s, want NIL", got)
	}

	var empty Datum
	if got := empty.Inspect(); got != "~" {
		t.Errorf("uninitialized inspect: got %s, want ~", got)
	}
}

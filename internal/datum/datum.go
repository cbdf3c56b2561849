package datum

import (
	"bytes"
	"fmt"

	"github.com/funvibe/skald/internal/mode"
)

// HeapReader gives Decode access to element blocks without importing the
// heap package. The returned slice is the live block; callers must not
// retain it across a collection.
type HeapReader interface {
	Bytes(handle int32) []byte
}

// Datum is a stored value lifted into Go, mostly for printing and tests.
// Which field carries the payload depends on Kind.
type Datum struct {
	Kind mode.Kind
	Init bool

	Int  int64
	Real float64
	Bool bool
	Char rune
	Name Name
	Proc Proc

	Row    Row
	Elems  []Datum // row elements in row-major order
	Fields []Datum
	Tag    int32 // active union member mode
	Member *Datum
}

// Decode lifts the value at off out of its region. Rows pull their elements
// through h; a nil h leaves Elems empty.
func Decode(t *mode.Table, m *mode.Mode, region []byte, off int32, h HeapReader) Datum {
	d := Datum{Kind: m.Kind}
	if m.Kind == mode.Void {
		d.Init = true
		return d
	}
	if m.Kind == mode.Struct {
		d.Init = true
		d.Fields = make([]Datum, len(m.Fields))
		for i, f := range m.Fields {
			d.Fields[i] = Decode(t, t.At(f.Mode), region, off+f.Offset, h)
		}
		return d
	}
	d.Init = Initialized(region, off)
	if !d.Init {
		return d
	}
	switch m.Kind {
	case mode.Int:
		d.Int = GetInt(region, off)
	case mode.Real:
		d.Real = GetReal(region, off)
	case mode.Bool:
		d.Bool = GetBool(region, off)
	case mode.Char:
		d.Char = GetChar(region, off)
	case mode.Name:
		d.Name = GetName(region, off)
	case mode.Proc:
		d.Proc = GetProc(region, off)
	case mode.Row:
		d.Row = GetRow(region, off)
		if h != nil && d.Row.Handle >= 0 {
			elem := t.At(m.Elem)
			block := h.Bytes(d.Row.Handle)
			d.Elems = decodeElems(t, elem, d.Row, block, h)
		}
	case mode.Union:
		d.Tag = GetUnionTag(region, off)
		if d.Tag >= 0 && d.Tag < int32(t.Len()) {
			member := Decode(t, t.At(d.Tag), region, UnionPayload(off), h)
			d.Member = &member
		}
	}
	return d
}

func decodeElems(t *mode.Table, elem *mode.Mode, r Row, block []byte, h HeapReader) []Datum {
	count := r.Count()
	if count == 0 {
		return nil
	}
	subs := make([]int32, len(r.Dims))
	for i, d := range r.Dims {
		subs[i] = d.Lb
	}
	out := make([]Datum, 0, count)
	for {
		off, ok := ElemOffset(r, subs)
		if !ok {
			break
		}
		out = append(out, Decode(t, elem, block, off, h))
		// advance the subscript odometer, last dimension fastest
		i := len(subs) - 1
		for i >= 0 {
			subs[i]++
			if subs[i] <= r.Dims[i].Ub {
				break
			}
			subs[i] = r.Dims[i].Lb
			i--
		}
		if i < 0 {
			break
		}
	}
	return out
}

// Inspect renders the datum for diagnostics and the print routine.
// Character rows render as quoted strings.
func (d Datum) Inspect() string {
	if !d.Init {
		return "~"
	}
	switch d.Kind {
	case mode.Void:
		return "EMPTY"
	case mode.Int:
		return fmt.Sprintf("%d", d.Int)
	case mode.Real:
		return fmt.Sprintf("%g", d.Real)
	case mode.Bool:
		return fmt.Sprintf("%t", d.Bool)
	case mode.Char:
		return fmt.Sprintf("'%c'", d.Char)
	case mode.Name:
		if d.Name.IsNil() {
			return "NIL"
		}
		return fmt.Sprintf("REF(%s %d+%d)", d.Name.Res, d.Name.Scope, d.Name.Off)
	case mode.Proc:
		return fmt.Sprintf("ROUTINE(node %d)", d.Proc.Node)
	case mode.Row:
		if allChars(d.Elems) {
			var out bytes.Buffer
			out.WriteString("\"")
			for _, el := range d.Elems {
				out.WriteRune(el.Char)
			}
			out.WriteString("\"")
			return out.String()
		}
		var out bytes.Buffer
		out.WriteString("(")
		for i, el := range d.Elems {
			if i > 0 {
				out.WriteString(", ")
			}
			out.WriteString(el.Inspect())
		}
		out.WriteString(")")
		return out.String()
	case mode.Struct:
		var out bytes.Buffer
		out.WriteString("(")
		for i, f := range d.Fields {
			if i > 0 {
				out.WriteString(", ")
			}
			out.WriteString(f.Inspect())
		}
		out.WriteString(")")
		return out.String()
	case mode.Union:
		if d.Member != nil {
			return d.Member.Inspect()
		}
		return "~"
	}
	return "~"
}

func allChars(elems []Datum) bool {
	if len(elems) == 0 {
		return false
	}
	for _, el := range elems {
		if el.Kind != mode.Char || !el.Init {
			return false
		}
	}
	return true
}

// FullyInitialized reports whether the datum and everything reachable inside
// it carries a value. The print routine refuses anything less.
func (d Datum) FullyInitialized() bool {
	if !d.Init {
		return false
	}
	switch d.Kind {
	case mode.Struct:
		for _, f := range d.Fields {
			if !f.FullyInitialized() {
				return false
			}
		}
	case mode.Row:
		for _, el := range d.Elems {
			if !el.FullyInitialized() {
				return false
			}
		}
	case mode.Union:
		if d.Member == nil {
			return false
		}
		return d.Member.FullyInitialized()
	}
	return true
}

// Text extracts a character row as a Go string; ok is false when the datum
// is not a fully initialized character row. The empty row of characters is
// the empty string.
func (d Datum) Text() (string, bool) {
	if !d.Init || d.Kind != mode.Row {
		return "", false
	}
	if len(d.Elems) == 0 {
		return "", true
	}
	if !allChars(d.Elems) {
		return "", false
	}
	var out bytes.Buffer
	for _, el := range d.Elems {
		out.WriteRune(el.Char)
	}
	return out.String(), true
}

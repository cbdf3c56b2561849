// Package datum encodes and decodes runtime values in storage regions. Frame
// locals, operand stack, and heap blocks are all byte regions; every stored
// value starts with a status word (initialization flag plus shape tags) and
// is laid out in 8-byte words, little-endian. The layouts here and the sizes
// in package mode are the same contract seen from two sides.
package datum

import (
	"encoding/binary"
	"math"

	"github.com/funvibe/skald/internal/mode"
)

// Residency tags what storage a name refers to.
type Residency uint8

const (
	RefNil Residency = iota
	RefFrame
	RefHeap
	RefStack
)

var resNames = [...]string{"nil", "frame", "heap", "stack"}

func (r Residency) String() string {
	if int(r) < len(resNames) {
		return resNames[r]
	}
	return "res?"
}

// Name is a decoded reference: where a value lives and how local that storage
// is. Scope is a frame index (0 for the global frame, the heap, and nil);
// larger scopes are younger storage.
type Name struct {
	Res    Residency
	Scope  int32
	Off    int32
	Handle int32
}

// IsNil reports the nil name.
func (n Name) IsNil() bool { return n.Res == RefNil }

// Proc is a decoded routine value: the routine-text node, the frame captured
// as static context (-1 for none), and the locale handle of a partially
// applied routine (-1 when absent).
type Proc struct {
	Node    int32
	Environ int32
	Locale  int32
}

// Dim is one row dimension. Stride and Shift are in bytes; the element at
// index i of a one-dimensional row lives at i*Stride-Shift within the
// element block.
type Dim struct {
	Lb, Ub        int32
	Stride, Shift int32
}

// Span is the element count of the dimension, never negative.
func (d Dim) Span() int32 {
	if d.Ub < d.Lb {
		return 0
	}
	return d.Ub - d.Lb + 1
}

// Row is a decoded row descriptor: the handle of the element block plus the
// bounds of each dimension. Trims alias the same handle with moved bounds.
type Row struct {
	Handle int32
	Dims   []Dim
}

// Count is the total element count across all dimensions.
func (r Row) Count() int32 {
	n := int32(1)
	for _, d := range r.Dims {
		n *= d.Span()
	}
	return n
}

const statusInit = 0x01

// Initialized reports whether the value at off carries the initialization
// bit. Freshly zeroed storage does not.
func Initialized(region []byte, off int32) bool {
	return region[off]&statusInit != 0
}

// SetInitialized forces the initialization bit, leaving the payload alone.
// Skip denotations use it to bless arbitrary storage.
func SetInitialized(region []byte, off int32) {
	region[off] |= statusInit
}

// ClearStatus marks the value uninitialized again.
func ClearStatus(region []byte, off int32) {
	region[off] = 0
}

func putWord(region []byte, off int32, v uint64) {
	binary.LittleEndian.PutUint64(region[off:off+8], v)
}

func getWord(region []byte, off int32) uint64 {
	return binary.LittleEndian.Uint64(region[off : off+8])
}

func putHalf(region []byte, off int32, v int32) {
	binary.LittleEndian.PutUint32(region[off:off+4], uint32(v))
}

func getHalf(region []byte, off int32) int32 {
	return int32(binary.LittleEndian.Uint32(region[off : off+4]))
}

func PutInt(region []byte, off int32, v int64) {
	region[off] = statusInit
	putWord(region, off+8, uint64(v))
}

func GetInt(region []byte, off int32) int64 {
	return int64(getWord(region, off+8))
}

func PutReal(region []byte, off int32, v float64) {
	region[off] = statusInit
	putWord(region, off+8, math.Float64bits(v))
}

func GetReal(region []byte, off int32) float64 {
	return math.Float64frombits(getWord(region, off+8))
}

func PutBool(region []byte, off int32, v bool) {
	region[off] = statusInit
	if v {
		region[off+8] = 1
	} else {
		region[off+8] = 0
	}
}

func GetBool(region []byte, off int32) bool {
	return region[off+8] != 0
}

func PutChar(region []byte, off int32, r rune) {
	region[off] = statusInit
	putHalf(region, off+8, int32(r))
}

func GetChar(region []byte, off int32) rune {
	return rune(getHalf(region, off+8))
}

func PutName(region []byte, off int32, n Name) {
	region[off] = statusInit
	region[off+1] = byte(n.Res)
	putHalf(region, off+8, n.Scope)
	putHalf(region, off+12, n.Off)
	putHalf(region, off+16, n.Handle)
	putHalf(region, off+20, 0)
}

func GetName(region []byte, off int32) Name {
	return Name{
		Res:    Residency(region[off+1]),
		Scope:  getHalf(region, off+8),
		Off:    getHalf(region, off+12),
		Handle: getHalf(region, off+16),
	}
}

func PutProc(region []byte, off int32, p Proc) {
	region[off] = statusInit
	putHalf(region, off+8, p.Node)
	putHalf(region, off+12, p.Environ)
	putHalf(region, off+16, p.Locale)
	putHalf(region, off+20, 0)
}

func GetProc(region []byte, off int32) Proc {
	return Proc{
		Node:    getHalf(region, off+8),
		Environ: getHalf(region, off+12),
		Locale:  getHalf(region, off+16),
	}
}

func PutRow(region []byte, off int32, r Row) {
	region[off] = statusInit
	putHalf(region, off+8, r.Handle)
	putHalf(region, off+12, int32(len(r.Dims)))
	p := off + mode.RowDescLen
	for _, d := range r.Dims {
		putHalf(region, p, d.Lb)
		putHalf(region, p+4, d.Ub)
		putHalf(region, p+8, d.Stride)
		putHalf(region, p+12, d.Shift)
		p += mode.DimSize
	}
}

func GetRow(region []byte, off int32) Row {
	dims := getHalf(region, off+12)
	r := Row{Handle: getHalf(region, off+8), Dims: make([]Dim, dims)}
	p := off + mode.RowDescLen
	for i := range r.Dims {
		r.Dims[i] = Dim{
			Lb:     getHalf(region, p),
			Ub:     getHalf(region, p+4),
			Stride: getHalf(region, p+8),
			Shift:  getHalf(region, p+12),
		}
		p += mode.DimSize
	}
	return r
}

// PutUnionTag stamps the active member's mode; the member payload is copied
// separately at UnionPayload.
func PutUnionTag(region []byte, off int32, tag int32) {
	region[off] = statusInit
	putHalf(region, off+8, tag)
}

func GetUnionTag(region []byte, off int32) int32 {
	return getHalf(region, off+8)
}

// UnionPayload is the offset of a union's member value.
func UnionPayload(off int32) int32 { return off + mode.UnionHead }

// Copy moves a mode-sized value between regions, status word included.
func Copy(dst []byte, doff int32, src []byte, soff int32, size int32) {
	copy(dst[doff:doff+size], src[soff:soff+size])
}

// Zero wipes a value back to the uninitialized state.
func Zero(region []byte, off int32, size int32) {
	for i := off; i < off+size; i++ {
		region[i] = 0
	}
}

// ElemOffset locates an element inside a row's element block, or reports
// false when any subscript is out of bounds.
func ElemOffset(r Row, subs []int32) (int32, bool) {
	off := int32(0)
	for i, d := range r.Dims {
		if subs[i] < d.Lb || subs[i] > d.Ub {
			return 0, false
		}
		off += subs[i]*d.Stride - d.Shift
	}
	return off, true
}

// FreshDims builds the descriptor dimensions for newly allocated element
// storage in row-major order, bounds 1..count per dimension.
func FreshDims(counts []int32, elemSize int32) []Dim {
	dims := make([]Dim, len(counts))
	stride := elemSize
	for i := len(counts) - 1; i >= 0; i-- {
		dims[i] = Dim{Lb: 1, Ub: counts[i], Stride: stride, Shift: stride}
		stride *= counts[i]
	}
	return dims
}

// Package frame manages the two machine stacks: the frame stack of activation
// records with their locals, and the operand stack of in-flight values. Both
// are byte regions of fixed capacity. Frames nest strictly; each frame records
// the operand watermark at open and Close rolls the operand stack back to it,
// so the operand stack can never outlive the frame that grew it.
package frame

import (
	"errors"

	"github.com/npillmayer/schuko/tracing"
)

// tracer traces with key 'skald.frame'.
func tracer() tracing.Trace {
	return tracing.Select("skald.frame")
}

var (
	ErrFrameOverflow   = errors.New("frame stack exhausted")
	ErrOperandOverflow = errors.New("operand stack exhausted")
)

// Kind tells how a frame was opened.
type Kind uint8

const (
	BlockFrame Kind = iota
	ProcFrame
)

// Frame is one activation record. StaticLink reaches the textually enclosing
// frame, DynamicLink the opener. Serial and Unit track where in its owning
// serial clause the frame currently executes, for diagnostics.
type Frame struct {
	Node        int32
	Kind        Kind
	Level       int32
	StaticLink  int32
	DynamicLink int32
	LocalsOff   int32
	LocalsSize  int32
	OperandMark int32
	Serial      int32
	Unit        int32
}

// Stack is one thread of frames plus its operand region. A branch stack
// shares its parent's prefix read-only and grows privately above it.
type Stack struct {
	frames  []Frame
	locals  []byte
	lTop    int32
	operand []byte
	opTop   int32

	parent *Stack
	base   int32

	maxDepth int32
	maxLocal int32
	maxOp    int32
}

func NewStack(frameBytes, operandBytes int32) *Stack {
	return &Stack{
		locals:  make([]byte, frameBytes),
		operand: make([]byte, operandBytes),
	}
}

// Branch derives a private stack for a parallel branch. Frame headers below
// the branch base are copied so static chains keep working; their locals stay
// in the parent's region and remain shared. The parent must not open or close
// frames while branches derived from it are live.
func (s *Stack) Branch() *Stack {
	b := &Stack{
		frames:  append([]Frame(nil), s.frames...),
		locals:  make([]byte, len(s.locals)),
		operand: make([]byte, len(s.operand)),
		parent:  s,
		base:    int32(len(s.frames)),
	}
	return b
}

// Depth is the number of open frames.
func (s *Stack) Depth() int32 { return int32(len(s.frames)) }

// Base is the first frame index owned by this stack; below it lie shared
// parent frames.
func (s *Stack) Base() int32 { return s.base }

// Top is the index of the youngest frame, -1 when none is open.
func (s *Stack) Top() int32 { return int32(len(s.frames)) - 1 }

func (s *Stack) Frame(i int32) *Frame { return &s.frames[i] }

func (s *Stack) open(node int32, kind Kind, level, staticLink, size int32) (int32, error) {
	if s.lTop+size > int32(len(s.locals)) {
		return -1, ErrFrameOverflow
	}
	idx := int32(len(s.frames))
	s.frames = append(s.frames, Frame{
		Node:        node,
		Kind:        kind,
		Level:       level,
		StaticLink:  staticLink,
		DynamicLink: idx - 1,
		LocalsOff:   s.lTop,
		LocalsSize:  size,
		OperandMark: s.opTop,
		Serial:      -1,
	})
	s.lTop += size
	if idx+1 > s.maxDepth {
		s.maxDepth = idx + 1
	}
	if s.lTop > s.maxLocal {
		s.maxLocal = s.lTop
	}
	tracer().P("frame", idx).Debugf("open at level %d, %d locals", level, size)
	return idx, nil
}

// OpenBlock pushes a frame for an inline construct. Its static link is the
// frame that was on top, which for inline code is the textual encloser.
func (s *Stack) OpenBlock(node, level, size int32) (int32, error) {
	return s.open(node, BlockFrame, level, s.Top(), size)
}

// OpenProcedure pushes a frame for a routine call. The static link comes from
// the routine value's captured environment, not from the caller.
func (s *Stack) OpenProcedure(node, level, staticLink, size int32) (int32, error) {
	return s.open(node, ProcFrame, level, staticLink, size)
}

// Close pops the youngest frame, releasing its locals and rolling the operand
// stack back to the mark taken at open. Jumps rely on the rollback to discard
// in-flight operands.
func (s *Stack) Close() {
	top := s.Top()
	if top < s.base {
		panic("frame: close below branch base")
	}
	f := &s.frames[top]
	s.lTop = f.LocalsOff
	s.opTop = f.OperandMark
	s.frames = s.frames[:top]
	tracer().P("frame", top).Debugf("closed")
}

// Region is the locals of frame i. Shared parent frames resolve into the
// parent's storage.
func (s *Stack) Region(i int32) []byte {
	if i < s.base && s.parent != nil {
		return s.parent.Region(i)
	}
	f := &s.frames[i]
	return s.locals[f.LocalsOff : f.LocalsOff+f.LocalsSize]
}

// ResolveLevel walks static links from the top frame to the frame owning
// lexical level want.
func (s *Stack) ResolveLevel(want int32) (int32, bool) {
	i := s.Top()
	for i >= 0 {
		f := s.frameAt(i)
		if f.Level == want {
			return i, true
		}
		i = f.StaticLink
	}
	return -1, false
}

func (s *Stack) frameAt(i int32) *Frame {
	// branch stacks carry copies of parent headers, so local access suffices
	return &s.frames[i]
}

// PushOperand reserves size bytes on the operand stack and returns their
// offset. The bytes are not cleared: yields re-push their value over the
// rollback a Close just did, and producers overwrite reservations in full.
func (s *Stack) PushOperand(size int32) (int32, error) {
	if s.opTop+size > int32(len(s.operand)) {
		return -1, ErrOperandOverflow
	}
	off := s.opTop
	s.opTop += size
	if s.opTop > s.maxOp {
		s.maxOp = s.opTop
	}
	return off, nil
}

// Operand is the whole operand region; values live at offsets handed out by
// PushOperand.
func (s *Stack) Operand() []byte { return s.operand }

func (s *Stack) OperandTop() int32 { return s.opTop }

// SetOperandTop truncates the operand stack, discarding values above the new
// top. Growing through here is not allowed.
func (s *Stack) SetOperandTop(top int32) {
	if top > s.opTop {
		panic("frame: operand top may only move down")
	}
	s.opTop = top
}

// LocalsUsed is the current frame-region watermark.
func (s *Stack) LocalsUsed() int32 { return s.lTop }

// HighWater reports the deepest nesting and the largest region use seen.
func (s *Stack) HighWater() (depth, locals, operand int32) {
	return s.maxDepth, s.maxLocal, s.maxOp
}

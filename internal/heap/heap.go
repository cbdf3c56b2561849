// Package heap manages the handle-indirection store. Every heap object is a
// block of bytes reached through a handle; handles keep their index for the
// object's whole life while the collector relocates the bytes underneath.
// Allocation never collects: when the arena is exhausted Alloc reports it and
// the engine decides whether it reached a safe point to collect at.
package heap

import (
	"errors"
	"sync"

	"github.com/emirpasic/gods/sets/treeset"
	"github.com/emirpasic/gods/utils"
	"github.com/npillmayer/schuko/tracing"

	"github.com/funvibe/skald/internal/datum"
	"github.com/funvibe/skald/internal/mode"
)

// tracer traces with key 'skald.heap'.
func tracer() tracing.Trace {
	return tracing.Select("skald.heap")
}

var (
	ErrFull    = errors.New("heap storage exhausted")
	ErrHandles = errors.New("handle table exhausted")
)

type handleRec struct {
	addr   int32
	size   int32
	mode   int32 // content mode, one value or a run of them
	used   bool
	marked bool
}

// Heap is the arena plus its handle table. Safe for concurrent allocation;
// collection requires that no other goroutine touches the heap, which the
// engine guarantees by refusing to collect while branches run.
type Heap struct {
	mu sync.RWMutex

	modes *mode.Table
	arena []byte
	top   int32

	handles    []handleRec
	maxHandles int32
	free       []int32

	blocked *treeset.Set // handles pinned as extra roots
	hooks   []func(Stats)
	seq     int64
}

func handleComparator(a, b interface{}) int {
	return utils.IntComparator(int(a.(int32)), int(b.(int32)))
}

func New(modes *mode.Table, arenaBytes, maxHandles int32) *Heap {
	return &Heap{
		modes:      modes,
		arena:      make([]byte, arenaBytes),
		maxHandles: maxHandles,
		blocked:    treeset.NewWith(handleComparator),
	}
}

func align(n int32) int32 { return (n + 7) &^ 7 }

// Alloc claims a zeroed block of size bytes whose content the collector will
// scan as values of mode m. Zero-sized requests still claim a word so the
// handle stays distinguishable.
func (h *Heap) Alloc(m int32, size int32) (int32, error) {
	if size < int32(mode.WordBytes) {
		size = int32(mode.WordBytes)
	}
	size = align(size)

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.top+size > int32(len(h.arena)) {
		return -1, ErrFull
	}
	idx, err := h.claimHandle()
	if err != nil {
		return -1, err
	}
	h.handles[idx] = handleRec{addr: h.top, size: size, mode: m, used: true}
	h.top += size
	return idx, nil
}

func (h *Heap) claimHandle() (int32, error) {
	if n := len(h.free); n > 0 {
		idx := h.free[n-1]
		h.free = h.free[:n-1]
		return idx, nil
	}
	if int32(len(h.handles)) >= h.maxHandles {
		return -1, ErrHandles
	}
	h.handles = append(h.handles, handleRec{})
	return int32(len(h.handles) - 1), nil
}

// AllocRow claims element storage for a fresh row and builds its descriptor.
// An empty row still gets one ghost element so subscript arithmetic stays
// within the block.
func (h *Heap) AllocRow(elem int32, counts []int32) (datum.Row, error) {
	elemSize := h.modes.Sizeof(elem)
	total := int32(1)
	for _, c := range counts {
		total *= c
	}
	if total < 1 {
		total = 1
	}
	handle, err := h.Alloc(elem, total*elemSize)
	if err != nil {
		return datum.Row{}, err
	}
	return datum.Row{Handle: handle, Dims: datum.FreshDims(counts, elemSize)}, nil
}

// Bytes is the live block of a handle. The slice goes stale at the next
// collection; callers must not hold it across one.
func (h *Heap) Bytes(handle int32) []byte {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rec := &h.handles[handle]
	return h.arena[rec.addr : rec.addr+rec.size]
}

// ModeOf is the content mode recorded at allocation.
func (h *Heap) ModeOf(handle int32) int32 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.handles[handle].mode
}

// SizeOf is the block size in bytes.
func (h *Heap) SizeOf(handle int32) int32 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.handles[handle].size
}

// Block pins a handle as a collection root until Unblock. The engine pins
// blocks it writes into while the owning value is still being built and is
// not yet reachable from any frame.
func (h *Heap) Block(handle int32) {
	h.mu.Lock()
	h.blocked.Add(handle)
	h.mu.Unlock()
}

func (h *Heap) Unblock(handle int32) {
	h.mu.Lock()
	h.blocked.Remove(handle)
	h.mu.Unlock()
}

// Used is the arena prefix claimed since the last collection, garbage
// included.
func (h *Heap) Used() int32 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.top
}

func (h *Heap) Capacity() int32 { return int32(len(h.arena)) }

// Usage is Used over Capacity in percent.
func (h *Heap) Usage() int {
	if len(h.arena) == 0 {
		return 100
	}
	return int(int64(h.Used()) * 100 / int64(len(h.arena)))
}

// LiveHandles counts handles currently bound to blocks.
func (h *Heap) LiveHandles() int32 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := int32(0)
	for i := range h.handles {
		if h.handles[i].used {
			n++
		}
	}
	return n
}

// Collections is the number of completed collections.
func (h *Heap) Collections() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.seq
}

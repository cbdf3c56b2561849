package heap

import (
	"sort"
	"time"

	"github.com/funvibe/skald/internal/datum"
)

// RootSet enumerates handles directly reachable from machine state outside
// the heap: frame locals, operand stacks, temporaries. Implementations must
// not call back into the heap.
type RootSet interface {
	VisitRoots(visit func(handle int32))
}

// Stats describes one completed collection.
type Stats struct {
	Seq         int64
	At          time.Time
	Duration    time.Duration
	FreedBytes  int32
	LiveBytes   int32
	LiveHandles int32
}

// AfterCollect registers a hook to run after every collection, in
// registration order, outside the heap lock.
func (h *Heap) AfterCollect(fn func(Stats)) {
	h.mu.Lock()
	h.hooks = append(h.hooks, fn)
	h.mu.Unlock()
}

// Collect reclaims every block unreachable from the roots and the blocked
// set, then compacts survivors to the bottom of the arena in address order.
// Handles keep their indices; only the bytes move. The reclaimed tail is
// zeroed so future blocks come up uninitialized. The caller must be the only
// goroutine touching the machine while this runs.
func (h *Heap) Collect(roots RootSet) Stats {
	start := time.Now()
	h.mu.Lock()

	for i := range h.handles {
		h.handles[i].marked = false
	}

	var work []int32
	markOne := func(idx int32) {
		if idx < 0 || idx >= int32(len(h.handles)) {
			return
		}
		rec := &h.handles[idx]
		if rec.used && !rec.marked {
			rec.marked = true
			work = append(work, idx)
		}
	}
	roots.VisitRoots(markOne)
	h.blocked.Each(func(_ int, v interface{}) { markOne(v.(int32)) })
	for len(work) > 0 {
		idx := work[len(work)-1]
		work = work[:len(work)-1]
		rec := &h.handles[idx]
		block := h.arena[rec.addr : rec.addr+rec.size]
		datum.VisitRange(h.modes, h.modes.At(rec.mode), block, markOne)
	}

	order := make([]int32, 0, len(h.handles))
	for i := range h.handles {
		if h.handles[i].used {
			order = append(order, int32(i))
		}
	}
	sort.Slice(order, func(a, b int) bool {
		return h.handles[order[a]].addr < h.handles[order[b]].addr
	})

	prevTop := h.top
	newTop := int32(0)
	liveHandles := int32(0)
	for _, idx := range order {
		rec := &h.handles[idx]
		if !rec.marked {
			rec.used = false
			h.free = append(h.free, idx)
			continue
		}
		liveHandles++
		if rec.addr != newTop {
			copy(h.arena[newTop:newTop+rec.size], h.arena[rec.addr:rec.addr+rec.size])
			rec.addr = newTop
		}
		newTop += rec.size
	}
	for i := newTop; i < prevTop; i++ {
		h.arena[i] = 0
	}
	h.top = newTop

	h.seq++
	stats := Stats{
		Seq:         h.seq,
		At:          start,
		Duration:    time.Since(start),
		FreedBytes:  prevTop - newTop,
		LiveBytes:   newTop,
		LiveHandles: liveHandles,
	}
	hooks := append(([]func(Stats))(nil), h.hooks...)
	h.mu.Unlock()

	tracer().Debugf("collection %d freed %d bytes, %d handles live", stats.Seq, stats.FreedBytes, stats.LiveHandles)
	for _, fn := range hooks {
		fn(stats)
	}
	return stats
}

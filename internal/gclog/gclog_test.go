package gclog

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/funvibe/skald/internal/heap"
	"github.com/funvibe/skald/internal/mode"
)

func openTestLogger(t *testing.T, runID string) *Logger {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gc.db")
	lg, err := Open(path, runID)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { lg.Close() })
	return lg
}

func TestRecordAndTail(t *testing.T) {
	lg := openTestLogger(t, "run-a")

	at := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	lg.Record(heap.Stats{Seq: 1, At: at, Duration: 250 * time.Microsecond, FreedBytes: 64, LiveBytes: 128, LiveHandles: 3})
	lg.Record(heap.Stats{Seq: 2, At: at.Add(time.Second), Duration: 40 * time.Microsecond, FreedBytes: 0, LiveBytes: 128, LiveHandles: 3})

	entries, err := lg.Tail(10)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries: got %d, want 2", len(entries))
	}
	if entries[0].Seq != 1 || entries[1].Seq != 2 {
		t.Errorf("order: got %d, %d, want chronological 1, 2", entries[0].Seq, entries[1].Seq)
	}
	first := entries[0]
	if first.RunID != "run-a" {
		t.Errorf("run id: got %q", first.RunID)
	}
	if first.FreedBytes != 64 || first.LiveBytes != 128 || first.LiveHandles != 3 {
		t.Errorf("stats row: got %+v", first)
	}
	if first.DurationUS != 250 {
		t.Errorf("duration: got %dus, want 250us", first.DurationUS)
	}
	if !first.At.Equal(at) {
		t.Errorf("timestamp: got %v, want %v", first.At, at)
	}
}

func TestTailLimitKeepsLatest(t *testing.T) {
	lg := openTestLogger(t, "run-b")
	for seq := int64(1); seq <= 5; seq++ {
		lg.Record(heap.Stats{Seq: seq, At: time.Now()})
	}

	entries, err := lg.Tail(2)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(entries) != 2 || entries[0].Seq != 4 || entries[1].Seq != 5 {
		t.Errorf("tail 2: got %+v, want seqs 4, 5", entries)
	}
}

func TestTailScopedToRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gc.db")
	a, err := Open(path, "run-a")
	if err != nil {
		t.Fatalf("open a: %v", err)
	}
	defer a.Close()
	b, err := Open(path, "run-b")
	if err != nil {
		t.Fatalf("open b: %v", err)
	}
	defer b.Close()

	a.Record(heap.Stats{Seq: 1, At: time.Now()})
	b.Record(heap.Stats{Seq: 1, At: time.Now()})
	b.Record(heap.Stats{Seq: 2, At: time.Now()})

	entries, err := b.Tail(10)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("run-b entries: got %d, want 2", len(entries))
	}
	for _, e := range entries {
		if e.RunID != "run-b" {
			t.Errorf("foreign row in tail: %+v", e)
		}
	}
}

type rootList []int32

func (r rootList) VisitRoots(visit func(int32)) {
	for _, h := range r {
		visit(h)
	}
}

func TestLoggerAsCollectionHook(t *testing.T) {
	lg := openTestLogger(t, "run-hook")

	tab := mode.NewTable()
	h := heap.New(tab, 4096, 64)
	h.AfterCollect(lg.Record)

	keep, _ := h.Alloc(mode.IntIndex, mode.ScalarSize)
	if _, err := h.Alloc(mode.IntIndex, mode.ScalarSize); err != nil {
		t.Fatalf("alloc: %v", err)
	}

	stats := h.Collect(rootList{keep})

	entries, err := lg.Tail(1)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries: got %d, want 1", len(entries))
	}
	e := entries[0]
	if e.Seq != stats.Seq || e.FreedBytes != int64(stats.FreedBytes) || e.LiveHandles != int64(stats.LiveHandles) {
		t.Errorf("logged row %+v disagrees with collection %+v", e, stats)
	}
}

func TestCloseStopsRecording(t *testing.T) {
	lg := openTestLogger(t, "run-c")
	lg.Record(heap.Stats{Seq: 1, At: time.Now()})
	if err := lg.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := lg.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}

	lg.Record(heap.Stats{Seq: 2, At: time.Now()})
	if _, err := lg.Tail(10); err == nil {
		t.Error("tail after close: want error")
	}
}

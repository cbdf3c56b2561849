// Package gclog persists heap collection statistics to a SQLite database.
//
// A Logger hangs off the heap's post-collection hook list and appends one
// row per collection, stamped with the engine's run identity. The file
// outlives the process, so repeated runs against the same path accumulate
// a history inspectable with any sqlite client.
package gclog

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/npillmayer/schuko/tracing"

	"github.com/funvibe/skald/internal/heap"

	_ "modernc.org/sqlite"
)

// tracer traces with key 'skald.gclog'.
func tracer() tracing.Trace {
	return tracing.Select("skald.gclog")
}

const schema = `
CREATE TABLE IF NOT EXISTS collections (
	seq          INTEGER NOT NULL,
	run_id       TEXT    NOT NULL,
	at           TEXT    NOT NULL,
	freed_bytes  INTEGER NOT NULL,
	live_bytes   INTEGER NOT NULL,
	live_handles INTEGER NOT NULL,
	duration_us  INTEGER NOT NULL,
	PRIMARY KEY (run_id, seq)
)`

var errClosed = errors.New("collection log closed")

// Logger appends collection rows to one SQLite file. Obtain one with Open
// and register Record with Heap.AfterCollect.
type Logger struct {
	mu     sync.Mutex
	db     *sql.DB
	runID  string
	closed bool
}

// Open creates or opens the log database at path and ensures the schema
// exists. Every row written through the returned Logger carries runID.
func Open(path, runID string) (*Logger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening collection log %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("opening collection log %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("preparing collection log schema: %w", err)
	}
	tracer().Infof("collection log open at %s (run %s)", path, runID)
	return &Logger{db: db, runID: runID}, nil
}

// Record writes one collection row. It matches the heap hook signature, so
// it cannot fail the collection: write errors are traced and the row is
// dropped.
func (l *Logger) Record(s heap.Stats) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	_, err := l.db.Exec(
		`INSERT INTO collections (seq, run_id, at, freed_bytes, live_bytes, live_handles, duration_us)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.Seq, l.runID, s.At.UTC().Format(time.RFC3339Nano),
		s.FreedBytes, s.LiveBytes, s.LiveHandles, s.Duration.Microseconds(),
	)
	if err != nil {
		tracer().Errorf("recording collection %d: %v", s.Seq, err)
	}
}

// Entry is one recorded collection, read back from the log.
type Entry struct {
	Seq         int64
	RunID       string
	At          time.Time
	FreedBytes  int64
	LiveBytes   int64
	LiveHandles int64
	DurationUS  int64
}

// Tail returns the latest n entries recorded under this logger's run
// identity, in chronological order.
func (l *Logger) Tail(n int) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, errClosed
	}
	rows, err := l.db.Query(
		`SELECT seq, run_id, at, freed_bytes, live_bytes, live_handles, duration_us
		 FROM collections WHERE run_id = ? ORDER BY seq DESC LIMIT ?`,
		l.runID, n,
	)
	if err != nil {
		return nil, fmt.Errorf("reading collection log: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var at string
		if err := rows.Scan(&e.Seq, &e.RunID, &at, &e.FreedBytes, &e.LiveBytes, &e.LiveHandles, &e.DurationUS); err != nil {
			return nil, fmt.Errorf("reading collection log: %w", err)
		}
		if e.At, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, fmt.Errorf("reading collection log: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading collection log: %w", err)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Close closes the underlying database. Records arriving afterwards are
// silently ignored.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.db.Close()
}

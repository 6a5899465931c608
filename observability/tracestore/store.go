// Package tracestore persists executor scheduling events to SQLite.
//
// Store implements core.Tracer. Events are queued on a bounded channel and
// written in batches by a single goroutine, so the executor never waits on
// the database; when the queue is full new events are dropped and counted.
package tracestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Swind/go-async-executor/core"

	_ "modernc.org/sqlite"
)

// EventKind names a scheduling event.
type EventKind string

const (
	KindTaskNew   EventKind = "task_new"
	KindTaskReady EventKind = "task_ready"
	KindExecBegin EventKind = "exec_begin"
	KindExecEnd   EventKind = "exec_end"
	KindIdle      EventKind = "idle"
)

// Event is one stored scheduling event.
type Event struct {
	Seq      int64
	Executor string
	Kind     EventKind
	Task     string // empty for KindIdle
	At       time.Time
}

// ExecutorSummary aggregates the stored events of one executor.
type ExecutorSummary struct {
	Executor string
	Spawned  int64
	Readied  int64
	Polled   int64
	Idle     int64
	Tasks    int64 // distinct tasks seen
}

// ErrClosed is returned by Flush after Close.
var ErrClosed = errors.New("tracestore: closed")

const (
	defaultBuffer = 4096
	maxBatch      = 256
)

type pending struct {
	event   Event
	flushed chan struct{} // non-nil marks a flush request
}

// Store is a SQLite-backed core.Tracer.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time

	mu     sync.RWMutex // guards closed against sends on events
	closed bool
	events chan pending
	done   chan struct{}

	dropped  atomic.Int64
	written  atomic.Int64
	failures atomic.Int64
}

var _ core.Tracer = (*Store)(nil)

// Open opens (or creates) the database at path, applies the schema and
// starts the writer. Use ":memory:" for an in-process store. buffer is the
// number of queued events before new ones are dropped; zero selects a default.
func Open(ctx context.Context, path string, logger *slog.Logger, buffer int) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if buffer <= 0 {
		buffer = defaultBuffer
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One connection: ":memory:" databases are per connection, and the
	// writer is the only producer anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger.With("component", "tracestore"),
		now:    time.Now,
		events: make(chan pending, buffer),
		done:   make(chan struct{}),
	}
	go s.writer()
	s.logger.Debug("trace store opened", "path", path, "buffer", buffer)
	return s, nil
}

// TaskNew implements core.Tracer.
func (s *Store) TaskNew(executorName string, task core.TaskRef) {
	s.record(executorName, KindTaskNew, task.String())
}

// TaskReadyBegin implements core.Tracer.
func (s *Store) TaskReadyBegin(executorName string, task core.TaskRef) {
	s.record(executorName, KindTaskReady, task.String())
}

// TaskExecBegin implements core.Tracer.
func (s *Store) TaskExecBegin(executorName string, task core.TaskRef) {
	s.record(executorName, KindExecBegin, task.String())
}

// TaskExecEnd implements core.Tracer.
func (s *Store) TaskExecEnd(executorName string, task core.TaskRef) {
	s.record(executorName, KindExecEnd, task.String())
}

// SystemIdle implements core.Tracer.
func (s *Store) SystemIdle(executorName string) {
	s.record(executorName, KindIdle, "")
}

func (s *Store) record(executorName string, kind EventKind, task string) {
	ev := Event{Executor: executorName, Kind: kind, Task: task, At: s.now()}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.dropped.Add(1)
		return
	}
	select {
	case s.events <- pending{event: ev}:
	default:
		s.dropped.Add(1)
	}
}

// Flush blocks until every event queued before the call has been written.
func (s *Store) Flush(ctx context.Context) error {
	marker := make(chan struct{})

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrClosed
	}
	select {
	case s.events <- pending{flushed: marker}:
		s.mu.RUnlock()
	case <-ctx.Done():
		s.mu.RUnlock()
		return ctx.Err()
	}

	select {
	case <-marker:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dropped returns the number of events discarded because the queue was full
// or the store was closed.
func (s *Store) Dropped() int64 { return s.dropped.Load() }

// Written returns the number of events stored.
func (s *Store) Written() int64 { return s.written.Load() }

// Close drains queued events, stops the writer and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.events)
	s.mu.Unlock()

	<-s.done
	s.logger.Debug("trace store closed",
		"written", s.written.Load(),
		"dropped", s.dropped.Load(),
		"failures", s.failures.Load(),
	)
	return s.db.Close()
}

func (s *Store) writer() {
	defer close(s.done)

	batch := make([]Event, 0, maxBatch)
	var markers []chan struct{}

	for p := range s.events {
		batch, markers = appendPending(batch, markers, p)
	drain:
		for len(batch) < maxBatch {
			select {
			case p, ok := <-s.events:
				if !ok {
					break drain
				}
				batch, markers = appendPending(batch, markers, p)
			default:
				break drain
			}
		}

		if len(batch) > 0 {
			if err := s.insert(context.Background(), batch); err != nil {
				s.failures.Add(int64(len(batch)))
				s.logger.Error("write trace batch", "events", len(batch), "error", err)
			} else {
				s.written.Add(int64(len(batch)))
			}
			batch = batch[:0]
		}
		for _, m := range markers {
			close(m)
		}
		markers = markers[:0]
	}
}

func appendPending(batch []Event, markers []chan struct{}, p pending) ([]Event, []chan struct{}) {
	if p.flushed != nil {
		return batch, append(markers, p.flushed)
	}
	return append(batch, p.event), markers
}

func (s *Store) insert(ctx context.Context, batch []Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO trace_events (executor, kind, task, at) VALUES (?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, ev := range batch {
		if _, err := stmt.ExecContext(ctx, ev.Executor, string(ev.Kind), ev.Task, ev.At.UTC().Format(time.RFC3339Nano)); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Events returns up to limit of the most recent events, oldest first. An
// empty executor matches every executor; limit <= 0 means 100.
func (s *Store) Events(ctx context.Context, executor string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT seq, executor, kind, task, at FROM trace_events`
	args := []any{}
	if executor != "" {
		query += ` WHERE executor = ?`
		args = append(args, executor)
	}
	query += ` ORDER BY seq DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		var kind, at string
		if err := rows.Scan(&ev.Seq, &ev.Executor, &kind, &ev.Task, &at); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Kind = EventKind(kind)
		ev.At, err = time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return nil, fmt.Errorf("parse event time %q: %w", at, err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

// Summary aggregates stored events per executor, ordered by executor name.
func (s *Store) Summary(ctx context.Context) ([]ExecutorSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT executor,
			SUM(CASE WHEN kind = ? THEN 1 ELSE 0 END),
			SUM(CASE WHEN kind = ? THEN 1 ELSE 0 END),
			SUM(CASE WHEN kind = ? THEN 1 ELSE 0 END),
			SUM(CASE WHEN kind = ? THEN 1 ELSE 0 END),
			COUNT(DISTINCT NULLIF(task, ''))
		FROM trace_events
		GROUP BY executor
		ORDER BY executor`,
		string(KindTaskNew), string(KindTaskReady), string(KindExecBegin), string(KindIdle))
	if err != nil {
		return nil, fmt.Errorf("query summary: %w", err)
	}
	defer rows.Close()

	var out []ExecutorSummary
	for rows.Next() {
		var sum ExecutorSummary
		if err := rows.Scan(&sum.Executor, &sum.Spawned, &sum.Readied, &sum.Polled, &sum.Idle, &sum.Tasks); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

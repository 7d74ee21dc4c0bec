// Package tlog implements the append-only log of identity records.
//
// A Log keeps every record in arrival order and never removes or reorders
// entries. With a storage backend attached it tracks how many entries are
// durable (the flushed cursor) and appends only the pending suffix on
// Persist. All methods take the log's single mutex for the duration of one
// operation, so concurrent callers always observe a consistent state.
package tlog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/transparency-dev/merkle/compact"
	"github.com/transparency-dev/merkle/rfc6962"

	"github.com/relves/graphlog/internal/storage"
	"github.com/relves/graphlog/internal/storage/file"
	"github.com/relves/graphlog/pkg/reid"
)

// ErrCorrupt is returned when persisted entries cannot be decoded. A log
// that fails to load must not be served.
var ErrCorrupt = errors.New("log corrupted")

// ErrPersist wraps backend failures during Persist. The affected entries
// remain in memory and pending.
var ErrPersist = errors.New("persist failed")

type entry struct {
	record *reid.Record
	// line is the encoded form, written to the backend and hashed into the tree.
	line string
}

// Log is an append-only sequence of identity records.
type Log struct {
	mu      sync.Mutex
	entries []entry
	flushed int

	backend storage.Backend
	logger  *slog.Logger

	rf   *compact.RangeFactory
	tree *compact.Range
}

// Option configures a Log.
type Option func(*Log)

// WithBackend attaches durable storage. Entries appended afterwards are
// pending until Persist succeeds.
func WithBackend(b storage.Backend) Option {
	return func(l *Log) {
		l.backend = b
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(l *Log) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New creates an empty log.
func New(opts ...Option) *Log {
	rf := &compact.RangeFactory{Hash: rfc6962.DefaultHasher.HashChildren}
	l := &Log{
		logger: slog.Default(),
		rf:     rf,
		tree:   rf.NewEmptyRange(0),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load replays every entry stored in backend. Any entry that fails to
// decode aborts the load with ErrCorrupt; a partial log is never returned.
// The loaded entries count as flushed, and backend stays attached.
func Load(ctx context.Context, backend storage.Backend, opts ...Option) (*Log, error) {
	if backend == nil {
		return nil, errors.New("backend is required")
	}
	lines, err := backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load entries: %w", err)
	}

	l := New(append(opts, WithBackend(backend))...)
	for i, line := range lines {
		rec, err := reid.Decode(line)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", ErrCorrupt, i+1, err)
		}
		if err := l.push(rec, line); err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", ErrCorrupt, i+1, err)
		}
	}
	l.flushed = len(l.entries)

	l.logger.Info("log loaded", "entries", len(l.entries))
	return l, nil
}

// LoadFromFile loads a log from a newline-delimited file. A missing file
// yields an empty log that will create the file on first Persist.
func LoadFromFile(ctx context.Context, path string, opts ...Option) (*Log, error) {
	b, err := file.Open(path)
	if err != nil {
		return nil, err
	}
	l, err := Load(ctx, b, opts...)
	if err != nil {
		b.Close()
		return nil, err
	}
	return l, nil
}

// push appends without locking. Callers hold l.mu or own l exclusively.
func (l *Log) push(rec *reid.Record, line string) error {
	if err := l.tree.Append(rfc6962.DefaultHasher.HashLeaf([]byte(line)), nil); err != nil {
		return fmt.Errorf("extend tree: %w", err)
	}
	l.entries = append(l.entries, entry{record: rec, line: line})
	return nil
}

// Append adds a copy of rec to the end of the log and returns its index.
// It fails only if rec cannot be encoded.
func (l *Log) Append(rec *reid.Record) (uint64, error) {
	line, err := rec.Encode()
	if err != nil {
		return 0, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.push(rec.Clone(), line); err != nil {
		return 0, err
	}
	return uint64(len(l.entries) - 1), nil
}

// AppendAndPersist appends rec and persists pending entries in the same
// critical section. A persistence error is returned alongside the index:
// the entry stays in the log and remains pending for the next Persist.
func (l *Log) AppendAndPersist(ctx context.Context, rec *reid.Record) (uint64, error) {
	line, err := rec.Encode()
	if err != nil {
		return 0, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.push(rec.Clone(), line); err != nil {
		return 0, err
	}
	index := uint64(len(l.entries) - 1)

	if _, err := l.persistLocked(ctx); err != nil {
		return index, err
	}
	return index, nil
}

// Persist writes entries that are not yet durable to the backend and
// advances the flushed cursor. Without a backend it does nothing.
func (l *Log) Persist(ctx context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.persistLocked(ctx)
}

func (l *Log) persistLocked(ctx context.Context) (int, error) {
	if l.backend == nil {
		l.logger.Debug("persist skipped: no backing store configured")
		return 0, nil
	}

	pending := l.entries[l.flushed:]
	if len(pending) == 0 {
		return 0, nil
	}

	lines := make([]string, len(pending))
	for i, e := range pending {
		lines[i] = e.line
	}
	if err := l.backend.Append(ctx, lines); err != nil {
		return 0, fmt.Errorf("%w: %d entries: %w", ErrPersist, len(lines), err)
	}

	l.flushed = len(l.entries)
	l.logger.Debug("persisted entries", "count", len(lines), "flushed", l.flushed)
	return len(lines), nil
}

// Head returns the oldest entry.
func (l *Log) Head() (*reid.Record, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.entries) == 0 {
		return nil, false
	}
	return l.entries[0].record.Clone(), true
}

// Tail returns the most recently appended entry.
func (l *Log) Tail() (*reid.Record, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.entries) == 0 {
		return nil, false
	}
	return l.entries[len(l.entries)-1].record.Clone(), true
}

// TailN returns the last min(n, Len()) entries, oldest first.
func (l *Log) TailN(n int) []*reid.Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n <= 0 {
		return []*reid.Record{}
	}
	start := max(len(l.entries)-n, 0)

	out := make([]*reid.Record, 0, len(l.entries)-start)
	for _, e := range l.entries[start:] {
		out = append(out, e.record.Clone())
	}
	return out
}

// Search scans from newest to oldest and returns the first record pred
// accepts. The log never deletes, so the newest entry for an id is its
// current state. pred must not modify the record it is given.
func (l *Log) Search(pred func(*reid.Record) bool) (*reid.Record, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := len(l.entries) - 1; i >= 0; i-- {
		if pred(l.entries[i].record) {
			return l.entries[i].record.Clone(), true
		}
	}
	return nil, false
}

// LookupID returns the newest record with the given id.
func (l *Log) LookupID(id []byte) (*reid.Record, bool) {
	return l.Search(func(r *reid.Record) bool {
		return r.HasID(id)
	})
}

// Len returns the number of entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Flushed returns how many entries are durable in the backend.
func (l *Log) Flushed() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.flushed
}

// Pending returns how many entries await Persist. Always zero without a backend.
func (l *Log) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.backend == nil {
		return 0
	}
	return len(l.entries) - l.flushed
}

// Checkpoint returns the current size and Merkle root of the log under origin.
func (l *Log) Checkpoint(origin string) (Checkpoint, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	size := l.tree.End()
	if size == 0 {
		return Checkpoint{Origin: origin, Size: 0, Hash: rfc6962.DefaultHasher.EmptyRoot()}, nil
	}
	root, err := l.tree.GetRootHash(nil)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("compute root: %w", err)
	}
	return Checkpoint{Origin: origin, Size: size, Hash: root}, nil
}

// Close persists pending entries and closes the backend.
func (l *Log) Close(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.backend == nil {
		return nil
	}
	_, perr := l.persistLocked(ctx)
	cerr := l.backend.Close()
	l.backend = nil
	return errors.Join(perr, cerr)
}

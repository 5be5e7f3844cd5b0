package store

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/btree"

	"quorumkv/internal/value"
)

// indexEntry is the unit held in the in-memory ordered index: a key
// plus the newest Value written for it.
type indexEntry struct {
	Key   []byte
	Value value.Value
}

func lessIndexEntry(a, b indexEntry) bool {
	return bytes.Compare(a.Key, b.Key) < 0
}

// Clock abstracts "now" so tests can control expiration deterministically.
type Clock func() time.Time

// EngineConfig configures a durable Engine.
type EngineConfig struct {
	WALPath       string
	FlushInterval time.Duration
	BufferBytes   int
	QueueDepth    int
	Logger        *slog.Logger
	Now           Clock
}

// Engine is the concrete LocalStore implementation: a write-ahead log
// for durability and crash recovery, and an in-memory btree index
// (github.com/google/btree) for ordered point lookups and range scans.
// Reads and writes go through a single mutex guarding the index; the
// WAL has its own internal single-writer goroutine (see wal.go) so
// Upsert/Remove never block on disk I/O under the index lock beyond
// handing the record to the WAL's queue.
type Engine struct {
	mu    sync.RWMutex
	index *btree.BTreeG[indexEntry]
	wal   *wal
	now   Clock
	log   *slog.Logger
}

// NewEngine opens or creates the WAL at cfg.WALPath and replays it to
// rebuild the in-memory index before returning.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	records, err := loadWAL(cfg.WALPath)
	if err != nil {
		return nil, err
	}

	w, err := openWAL(walConfig{
		Path:                cfg.WALPath,
		FlushInterval:       cfg.FlushInterval,
		BufferBytes:         cfg.BufferBytes,
		MaxEnqueuedMutation: cfg.QueueDepth,
	}, logger)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		index: btree.NewG(32, lessIndexEntry),
		wal:   w,
		now:   now,
		log:   logger,
	}
	for _, rec := range records {
		e.applyToIndex(rec.Key, rec.Value)
	}
	logger.Info("engine recovered from wal", "records", len(records), "path", cfg.WALPath)
	return e, nil
}

// applyToIndex overwrites the index entry for key iff the incoming
// Value is not dominated by what's already there: last-writer-wins
// by timestamp, with the Value total order breaking ties. This makes
// replaying an out-of-order proxy PUT (or a WAL with records written
// out of timestamp order) idempotent: the newest write always survives
// regardless of arrival order.
func (e *Engine) applyToIndex(key []byte, v value.Value) {
	e.mu.Lock()
	defer e.mu.Unlock()
	existing, ok := e.index.Get(indexEntry{Key: key})
	if ok && !v.Less(existing.Value) {
		return
	}
	e.index.ReplaceOrInsert(indexEntry{Key: append([]byte(nil), key...), Value: v})
}

func (e *Engine) Get(ctx context.Context, key []byte) (value.Value, bool, error) {
	if err := ctx.Err(); err != nil {
		return value.Value{}, false, err
	}
	e.mu.RLock()
	entry, ok := e.index.Get(indexEntry{Key: key})
	e.mu.RUnlock()
	if !ok {
		return value.Value{}, false, nil
	}
	return entry.Value, true, nil
}

func (e *Engine) Upsert(ctx context.Context, key []byte, data []byte, timestamp int64, expiresAt int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v := value.Live(timestamp, append([]byte(nil), data...), expiresAt)
	if err := e.wal.Append(walRecord{Key: key, Value: v}); err != nil {
		return err
	}
	e.applyToIndex(key, v)
	return nil
}

func (e *Engine) Remove(ctx context.Context, key []byte, timestamp int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v := value.Tomb(timestamp)
	if err := e.wal.Append(walRecord{Key: key, Value: v}); err != nil {
		return err
	}
	e.applyToIndex(key, v)
	return nil
}

func (e *Engine) CellIterator(ctx context.Context, from []byte) (CellIterator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.RLock()
	snapshot := make([]Cell, 0)
	e.index.AscendGreaterOrEqual(indexEntry{Key: from}, func(it indexEntry) bool {
		snapshot = append(snapshot, Cell{Key: it.Key, Value: it.Value})
		return true
	})
	e.mu.RUnlock()
	return &sliceCellIterator{items: snapshot}, nil
}

func (e *Engine) RecordIterator(ctx context.Context, from, to []byte) (RecordIterator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := e.now().UnixMilli()
	e.mu.RLock()
	snapshot := make([]Record, 0)
	visit := func(it indexEntry) bool {
		if to != nil && bytes.Compare(it.Key, to) >= 0 {
			return false
		}
		if it.Value.Tombstone || it.Value.IsExpired(now) {
			return true
		}
		snapshot = append(snapshot, Record{Key: it.Key, Data: it.Value.Data})
		return true
	}
	e.index.AscendGreaterOrEqual(indexEntry{Key: from}, visit)
	e.mu.RUnlock()
	return &sliceRecordIterator{items: snapshot}, nil
}

// Compact drops index entries that are either expired or tombstones.
// The WAL is not rewritten; correctness never depends on compaction
// because expiration is a read-time filter. Dropping from the index is
// safe: it only makes a key that is already logically absent also
// physically absent sooner.
func (e *Engine) Compact(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := e.now().UnixMilli()
	var toDelete []indexEntry
	e.mu.RLock()
	e.index.Ascend(func(it indexEntry) bool {
		if it.Value.Tombstone || it.Value.IsExpired(now) {
			toDelete = append(toDelete, it)
		}
		return true
	})
	e.mu.RUnlock()

	if len(toDelete) == 0 {
		return nil
	}
	e.mu.Lock()
	for _, it := range toDelete {
		e.index.Delete(it)
	}
	e.mu.Unlock()
	e.log.Debug("compact dropped entries", "count", len(toDelete))
	return nil
}

func (e *Engine) Close() error {
	return e.wal.Close()
}

type sliceCellIterator struct {
	items []Cell
	pos   int
}

func (it *sliceCellIterator) Next() (Cell, bool) {
	if it.pos >= len(it.items) {
		return Cell{}, false
	}
	c := it.items[it.pos]
	it.pos++
	return c, true
}

type sliceRecordIterator struct {
	items []Record
	pos   int
}

func (it *sliceRecordIterator) Next() (Record, bool) {
	if it.pos >= len(it.items) {
		return Record{}, false
	}
	r := it.items[it.pos]
	it.pos++
	return r, true
}

// Package engine binds the record codec, segment store, intent log,
// and memory index into the three operations callers see: put, get,
// and delete. It owns the intent-log mutex, the segment-stack mutex,
// and the decision of when to flush or compact.
package engine

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"lsmkv/pkg/kverrors"
	"lsmkv/pkg/memindex"
	"lsmkv/pkg/record"
	"lsmkv/pkg/segment"
	"lsmkv/pkg/wal"
)

// Options configures a new Engine. Zero values for the three
// thresholds are replaced with their defaults.
type Options struct {
	BaseDir             string
	MemLimit            int
	CompactionThreshold int
	MaxRecordBytes      int
}

const (
	defaultMemLimit            = 5
	defaultCompactionThreshold = 3
	defaultMaxRecordBytes      = 16 * 1024 * 1024
)

// Engine is the durability-and-persistence core of the store. A single
// Engine owns one intent log and one segment directory; it is safe
// for concurrent use by multiple goroutines.
type Engine struct {
	baseDir             string
	memLimit            int
	compactionThreshold int
	maxRecordBytes      int

	log *wal.WAL
	idx *memindex.Index

	stackMu sync.Mutex
	stack   []string
	nextSeg uint64
}

// Open creates the engine's directories if needed, opens its intent
// log, replays it into a fresh memory index, and rediscovers any
// existing segments on disk. It returns an Engine ready to serve Put,
// Get, and Delete.
func Open(opts Options) (*Engine, error) {
	if opts.MemLimit <= 0 {
		opts.MemLimit = defaultMemLimit
	}
	if opts.CompactionThreshold <= 0 {
		opts.CompactionThreshold = defaultCompactionThreshold
	}
	if opts.MaxRecordBytes <= 0 {
		opts.MaxRecordBytes = defaultMaxRecordBytes
	}

	segDir := filepath.Join(opts.BaseDir, segment.DirName)
	if err := os.MkdirAll(segDir, 0750); err != nil {
		return nil, fmt.Errorf("engine: create %s: %w", segDir, err)
	}

	w, err := wal.Open(opts.BaseDir, opts.MaxRecordBytes)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		baseDir:             opts.BaseDir,
		memLimit:            opts.MemLimit,
		compactionThreshold: opts.CompactionThreshold,
		maxRecordBytes:      opts.MaxRecordBytes,
		log:                 w,
		idx:                 memindex.New(),
	}

	if err := e.replay(); err != nil {
		w.Close()
		return nil, err
	}

	stack, err := segment.Discover(opts.BaseDir)
	if err != nil {
		w.Close()
		return nil, err
	}
	e.stack = stack

	next, err := segment.NextID(opts.BaseDir)
	if err != nil {
		w.Close()
		return nil, err
	}
	e.nextSeg = next

	slog.Info("engine opened", "base_dir", opts.BaseDir, "segments", len(e.stack), "mem_entries", e.idx.Size())
	return e, nil
}

func (e *Engine) replay() error {
	var puts, dels int
	err := e.log.Replay(func(op record.Op, key, value []byte) error {
		switch op {
		case record.OpPut:
			e.idx.Put(key, value)
			puts++
		case record.OpDel:
			e.idx.Del(key)
			dels++
		}
		return nil
	})
	if err != nil {
		return err
	}
	slog.Debug("wal replay complete", "puts", puts, "dels", dels)
	return nil
}

// Put durably appends an upsert intent, then reflects it in the
// memory index. If the index now holds at least memLimit entries, it
// flushes them to a new segment before returning.
func (e *Engine) Put(key, value []byte) error {
	if len(key) == 0 {
		return kverrors.ErrKeyEmpty
	}

	if err := e.log.AppendPut(key, value); err != nil {
		return err
	}
	e.idx.Put(key, value)

	if e.idx.Size() >= e.memLimit {
		if err := e.flush(); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the value for key, checking the memory index first and
// then the segment stack from newest to oldest.
func (e *Engine) Get(key []byte) ([]byte, error) {
	if len(key) == 0 {
		return nil, kverrors.ErrKeyEmpty
	}

	if v, ok := e.idx.Get(key); ok {
		return v, nil
	}

	e.stackMu.Lock()
	paths := append([]string(nil), e.stack...)
	e.stackMu.Unlock()

	for i := len(paths) - 1; i >= 0; i-- {
		v, ok, err := segment.Lookup(paths[i], key, e.maxRecordBytes)
		if err != nil {
			return nil, err
		}
		if ok {
			return v, nil
		}
	}
	return nil, kverrors.ErrKeyNotFound
}

// Delete durably appends a delete intent, then erases key from the
// memory index. It reports KEY_NOT_FOUND when key is absent from the
// memory index, even if a copy of it is still visible via Get in an
// older segment — a key that has only ever reached a segment is
// outside what Delete can remove.
func (e *Engine) Delete(key []byte) error {
	if len(key) == 0 {
		return kverrors.ErrKeyEmpty
	}

	if err := e.log.AppendDel(key); err != nil {
		return err
	}
	if !e.idx.Del(key) {
		return kverrors.ErrKeyNotFound
	}
	return nil
}

// Close closes the intent log's file descriptor. Segment files are
// never held open between operations, so there is nothing else to
// release.
func (e *Engine) Close() error {
	return e.log.Close()
}

func (e *Engine) flush() error {
	drained := make(map[string][]byte)
	e.idx.Drain(drained)

	id := e.allocSegmentID()
	path := segment.PathFor(e.baseDir, id)

	if err := segment.Write(path, drained, e.maxRecordBytes); err != nil {
		slog.Warn("flush failed, snapshot only recoverable via wal replay", "path", path, "entries", len(drained), "err", err)
		return err
	}

	e.stackMu.Lock()
	e.stack = append(e.stack, path)
	size := len(e.stack)
	e.stackMu.Unlock()

	slog.Info("flush complete", "path", path, "entries", len(drained), "stack_size", size)

	if size >= e.compactionThreshold {
		return e.compact()
	}
	return nil
}

func (e *Engine) compact() error {
	e.stackMu.Lock()
	local := e.stack
	e.stack = nil
	e.stackMu.Unlock()

	merged := make(map[string][]byte)
	for _, path := range local {
		perSegment := make(map[string][]byte)
		if err := segment.ReadInto(path, perSegment, e.maxRecordBytes); err != nil {
			e.restoreStack(local)
			return err
		}
		for k, v := range perSegment {
			merged[k] = v
		}
	}

	id := e.allocSegmentID()
	path := segment.PathFor(e.baseDir, id)

	if err := segment.Write(path, merged, e.maxRecordBytes); err != nil {
		slog.Warn("compaction write failed, inputs left on disk for rediscovery", "path", path, "inputs", len(local), "err", err)
		e.restoreStack(local)
		return err
	}

	// path now holds a complete, fsync'd merge of every entry in local,
	// so it belongs in the stack even if some of the old files below
	// fail to unlink; a leftover file on disk that nothing references
	// is harmless, but losing path from the stack would not be.
	e.stackMu.Lock()
	e.stack = []string{path}
	e.stackMu.Unlock()

	var unlinkErr error
	for _, old := range local {
		if err := segment.Delete(old); err != nil && unlinkErr == nil {
			unlinkErr = fmt.Errorf("compaction: unlink %s: %w", old, err)
		}
	}
	if unlinkErr != nil {
		return unlinkErr
	}

	slog.Info("compaction complete", "path", path, "entries", len(merged), "inputs", len(local))
	return nil
}

// restoreStack puts local back as the current stack, used when a
// compaction fails before its replacement segment is ready: a live
// engine must never lose visibility of segments it has already
// cleared from the stack in memory.
func (e *Engine) restoreStack(local []string) {
	e.stackMu.Lock()
	e.stack = local
	e.stackMu.Unlock()
}

func (e *Engine) allocSegmentID() uint64 {
	e.stackMu.Lock()
	defer e.stackMu.Unlock()
	id := e.nextSeg
	e.nextSeg++
	return id
}

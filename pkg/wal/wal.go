// Package wal implements the engine's intent log: a single
// append-only file of mutation records, opened once at engine start
// and kept open for its lifetime. Every append is fsync'd before it
// returns, so a mutation is never acknowledged to a caller before it
// is durable. The file is never rotated or truncated; it grows for the
// life of the engine.
package wal

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"lsmkv/pkg/kverrors"
	"lsmkv/pkg/record"
)

// DirName and FileName locate the single log file relative to the
// engine's base directory: <base>/wal/kv.wal.
const (
	DirName  = "wal"
	FileName = "kv.wal"
)

// WAL is the durable, append-only intent log. All appends are
// serialized by mu, which is held only across the write and its fsync
// and never across any other lock.
type WAL struct {
	mu      sync.Mutex
	file    *os.File
	path    string
	maxBody int
}

// Open creates <base>/wal if needed and opens <base>/wal/kv.wal for
// append, creating it if it does not already exist.
func Open(baseDir string, maxBody int) (*WAL, error) {
	dir := filepath.Join(baseDir, DirName)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("wal: create %s: %w", dir, err)
	}

	path := filepath.Join(dir, FileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("wal: open %s: %w", path, err)
	}

	return &WAL{file: f, path: path, maxBody: maxBody}, nil
}

// AppendPut encodes and durably appends an upsert intent for key/value.
func (w *WAL) AppendPut(key, value []byte) error {
	return w.append(record.OpPut, key, value)
}

// AppendDel encodes and durably appends a delete intent for key.
func (w *WAL) AppendDel(key []byte) error {
	return w.append(record.OpDel, key, nil)
}

func (w *WAL) append(op record.Op, key, value []byte) error {
	enc, err := record.EncodeIntent(op, key, value, w.maxBody)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return kverrors.ErrWALNotOpen
	}
	if _, err := w.file.Write(enc); err != nil {
		return fmt.Errorf("%w: write %s: %v", kverrors.ErrWALWriteFailed, w.path, err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("%w: fsync %s: %v", kverrors.ErrWALWriteFailed, w.path, err)
	}
	return nil
}

// Replay opens the log for read from its first byte and calls apply
// for every decoded record in order. It stops at end-of-stream, a
// truncated tail, or a corrupt record — all three end replay
// successfully, treating whatever was read before that point as the
// log's usable content. A log file that does not exist yet replays as
// empty. Replay fails only if the log exists but cannot be opened for
// read, or if apply itself returns an error.
func (w *WAL) Replay(apply func(op record.Op, key, value []byte) error) error {
	w.mu.Lock()
	path := w.path
	w.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("wal: open %s for replay: %w", path, err)
	}
	defer f.Close()

	r := record.NewBufferedReader(f)
	for {
		rec, status, err := record.DecodeNext(r, record.KindIntent, w.maxBody)
		if err != nil {
			return fmt.Errorf("wal: replay %s: %w", path, err)
		}
		if status != record.StatusOK {
			return nil
		}
		if err := apply(rec.Op, rec.Key, rec.Value); err != nil {
			return err
		}
	}
}

// Close closes the underlying file descriptor. Further appends fail
// with ErrWALNotOpen.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	if err != nil {
		return fmt.Errorf("wal: close %s: %w", w.path, err)
	}
	return nil
}

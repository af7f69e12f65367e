// Package memindex holds the mutable in-memory mapping of key to value
// that reflects every mutation not yet flushed to a segment. It keeps
// no tombstones: a delete removes the key outright.
package memindex

import (
	"bytes"
	"sync/atomic"

	"github.com/zhangyunhao116/skipmap"
)

type table = skipmap.FuncMap[[]byte, []byte]

func newTable() *table {
	return skipmap.NewFunc[[]byte, []byte](func(a, b []byte) bool {
		return bytes.Compare(a, b) < 0
	})
}

// Index is the engine's unflushed-mutation map. Put, Get, and Del act
// directly on the current table, which is safe for concurrent access
// on its own; Drain swaps in a fresh empty table with a single atomic
// pointer store, so it never observes a half-drained table and never
// blocks a concurrent Put or Get.
type Index struct {
	t atomic.Pointer[table]
}

// New returns an empty index.
func New() *Index {
	idx := &Index{}
	idx.t.Store(newTable())
	return idx
}

// Put inserts or replaces the value for key.
func (idx *Index) Put(key, value []byte) {
	idx.t.Load().Store(key, value)
}

// Del removes key if present and reports whether it was present.
func (idx *Index) Del(key []byte) bool {
	return idx.t.Load().Delete(key)
}

// Get returns the value for key and whether it was present.
func (idx *Index) Get(key []byte) ([]byte, bool) {
	return idx.t.Load().Load(key)
}

// Size returns the number of entries currently held.
func (idx *Index) Size() int {
	return idx.t.Load().Len()
}

// Drain swaps in a fresh empty table and copies every entry of the
// old one into dst. A Put or Del that loses the race with the swap
// lands in the new table rather than the one being drained.
func (idx *Index) Drain(dst map[string][]byte) {
	old := idx.t.Swap(newTable())
	old.Range(func(key []byte, value []byte) bool {
		dst[string(key)] = value
		return true
	})
}

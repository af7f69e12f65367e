package engine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"lsmkv/pkg/kverrors"
	"lsmkv/pkg/segment"
	"lsmkv/pkg/wal"
)

func open(t *testing.T, dir string, opts Options) *Engine {
	opts.BaseDir = dir
	e, err := Open(opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func TestBasicRoundTrip(t *testing.T) {
	e := open(t, t.TempDir(), Options{})

	if err := e.Put([]byte("hello"), []byte("world")); err != nil {
		t.Fatal(err)
	}
	v, err := e.Get([]byte("hello"))
	if err != nil || string(v) != "world" {
		t.Fatalf("Get = (%q, %v)", v, err)
	}

	if err := e.Delete([]byte("hello")); err != nil {
		t.Fatal(err)
	}
	_, err = e.Get([]byte("hello"))
	if !errors.Is(err, kverrors.ErrKeyNotFound) {
		t.Fatalf("Get after delete = %v, want KEY_NOT_FOUND", err)
	}
}

func TestCrashRecoveryBeforeFlush(t *testing.T) {
	dir := t.TempDir()
	e := open(t, dir, Options{MemLimit: 100})

	for _, kv := range [][2]string{{"A", "1"}, {"B", "2"}, {"C", "3"}} {
		if err := e.Put([]byte(kv[0]), []byte(kv[1])); err != nil {
			t.Fatal(err)
		}
	}
	e.Close()

	e2 := open(t, dir, Options{MemLimit: 100})
	for _, kv := range [][2]string{{"A", "1"}, {"B", "2"}, {"C", "3"}} {
		v, err := e2.Get([]byte(kv[0]))
		if err != nil || string(v) != kv[1] {
			t.Fatalf("Get(%s) = (%q, %v), want %q", kv[0], v, err, kv[1])
		}
	}
}

func TestFlushTrigger(t *testing.T) {
	dir := t.TempDir()
	e := open(t, dir, Options{MemLimit: 5})

	for i, k := range []string{"A", "B", "C", "D", "E"} {
		if err := e.Put([]byte(k), []byte(fmt.Sprint(i+1))); err != nil {
			t.Fatal(err)
		}
	}

	segPath := segment.PathFor(dir, 0)
	if _, err := os.Stat(segPath); err != nil {
		t.Fatalf("expected %s to exist after flush: %v", segPath, err)
	}
	e.Close()

	e2 := open(t, dir, Options{MemLimit: 5})
	for k, want := range map[string]string{"A": "1", "C": "3", "E": "5"} {
		v, err := e2.Get([]byte(k))
		if err != nil || string(v) != want {
			t.Fatalf("Get(%s) = (%q, %v), want %q", k, v, err, want)
		}
	}
}

func TestCompaction(t *testing.T) {
	dir := t.TempDir()
	e := open(t, dir, Options{MemLimit: 5, CompactionThreshold: 3})

	for i := 0; i < 15; i++ {
		k := fmt.Sprintf("k%d", i)
		v := fmt.Sprintf("v%d", i)
		if err := e.Put([]byte(k), []byte(v)); err != nil {
			t.Fatal(err)
		}
	}

	segDir := filepath.Join(dir, segment.DirName)
	entries, err := os.ReadDir(segDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d segment files after compaction, want 1: %v", len(entries), entries)
	}
	e.Close()

	e2 := open(t, dir, Options{MemLimit: 5, CompactionThreshold: 3})
	for k, want := range map[string]string{"k10": "v10", "k14": "v14"} {
		v, err := e2.Get([]byte(k))
		if err != nil || string(v) != want {
			t.Fatalf("Get(%s) = (%q, %v), want %q", k, v, err, want)
		}
	}
}

func TestFailedCompactionLeavesStackIntact(t *testing.T) {
	dir := t.TempDir()
	e := open(t, dir, Options{MemLimit: 5, CompactionThreshold: 100})

	for i := 0; i < 15; i++ {
		k := fmt.Sprintf("k%d", i)
		v := fmt.Sprintf("v%d", i)
		if err := e.Put([]byte(k), []byte(v)); err != nil {
			t.Fatal(err)
		}
	}

	before := append([]string(nil), e.stack...)
	if len(before) != 3 {
		t.Fatalf("got %d segments before compaction, want 3", len(before))
	}

	// The next segment id compact() will allocate is predictable: three
	// flushes have already used ids 0-2. Occupy that path with a
	// directory so segment.Write's open-for-write fails regardless of
	// the effective user's permissions.
	blocked := segment.PathFor(dir, 3)
	if err := os.Mkdir(blocked, 0755); err != nil {
		t.Fatal(err)
	}

	if err := e.compact(); err == nil {
		t.Fatal("expected compact to fail when its target segment path is unwritable")
	}

	if len(e.stack) != len(before) {
		t.Fatalf("stack after failed compaction has %d entries, want %d (unchanged)", len(e.stack), len(before))
	}
	for i, p := range before {
		if e.stack[i] != p {
			t.Fatalf("stack[%d] = %s, want %s (failed compaction must not lose segments)", i, e.stack[i], p)
		}
	}

	v, err := e.Get([]byte("k0"))
	if err != nil || string(v) != "v0" {
		t.Fatalf("Get(k0) after failed compaction = (%q, %v), want (\"v0\", nil)", v, err)
	}
}

func TestSegmentCorruptionIsolatesDamage(t *testing.T) {
	dir := t.TempDir()
	e := open(t, dir, Options{MemLimit: 5, CompactionThreshold: 100})

	for i := 0; i < 11; i++ {
		k := fmt.Sprintf("k%d", i)
		if err := e.Put([]byte(k), []byte(fmt.Sprintf("v%d", i))); err != nil {
			t.Fatal(err)
		}
	}
	e.Close()

	if err := os.Remove(filepath.Join(dir, wal.DirName, wal.FileName)); err != nil {
		t.Fatal(err)
	}

	segPath := segment.PathFor(dir, 0)
	data, err := os.ReadFile(segPath)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 4 && i < len(data); i++ {
		data[i] ^= 0xFF
	}
	if err := os.WriteFile(segPath, data, 0644); err != nil {
		t.Fatal(err)
	}

	e2 := open(t, dir, Options{MemLimit: 5, CompactionThreshold: 100})
	_, err = e2.Get([]byte("k0"))
	if !errors.Is(err, kverrors.ErrKeyNotFound) {
		t.Fatalf("Get(k0) after corruption = %v, want KEY_NOT_FOUND", err)
	}
}

func TestConcurrentReaders(t *testing.T) {
	dir := t.TempDir()
	e := open(t, dir, Options{MemLimit: 64, CompactionThreshold: 8})

	const n = 1000
	for i := 0; i < n; i++ {
		k := fmt.Sprintf("key%d", i)
		v := fmt.Sprintf("val%d", i)
		if err := e.Put([]byte(k), []byte(v)); err != nil {
			t.Fatal(err)
		}
	}

	var wg sync.WaitGroup
	errs := make(chan error, 8*n)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < n; i++ {
				k := fmt.Sprintf("key%d", i)
				want := fmt.Sprintf("val%d", i)
				v, err := e.Get([]byte(k))
				if err != nil {
					errs <- err
					continue
				}
				if string(v) != want {
					errs <- fmt.Errorf("Get(%s) = %q, want %q", k, v, want)
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestDeleteOnlyAcknowledgesMemoryResidentKeys(t *testing.T) {
	dir := t.TempDir()
	e := open(t, dir, Options{MemLimit: 1, CompactionThreshold: 100})

	if err := e.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatal(err)
	}
	// MemLimit of 1 forces an immediate flush, so "k" now lives only in
	// a segment and is absent from the memory index.

	err := e.Delete([]byte("k"))
	if !errors.Is(err, kverrors.ErrKeyNotFound) {
		t.Fatalf("Delete(k) = %v, want KEY_NOT_FOUND even though the key is durably logged", err)
	}

	v, err := e.Get([]byte("k"))
	if err != nil || string(v) != "v" {
		t.Fatalf("Get(k) = (%q, %v), want (\"v\", nil): delete of a segment-only key is not observed by Get", v, err)
	}
}

func TestEmptyValueRoundTrip(t *testing.T) {
	e := open(t, t.TempDir(), Options{})

	if err := e.Put([]byte("k"), []byte("")); err != nil {
		t.Fatal(err)
	}
	v, err := e.Get([]byte("k"))
	if err != nil || string(v) != "" {
		t.Fatalf("Get(k) = (%q, %v), want (\"\", nil)", v, err)
	}
}

func TestPutEmptyKeyRejected(t *testing.T) {
	e := open(t, t.TempDir(), Options{})
	if err := e.Put([]byte(""), []byte("v")); !errors.Is(err, kverrors.ErrKeyEmpty) {
		t.Fatalf("Put(\"\") = %v, want ErrKeyEmpty", err)
	}
}

func TestSegmentRediscoveryAfterRestart(t *testing.T) {
	dir := t.TempDir()
	e := open(t, dir, Options{MemLimit: 2})

	if err := e.Put([]byte("a"), []byte("1")); err != nil {
		t.Fatal(err)
	}
	if err := e.Put([]byte("b"), []byte("2")); err != nil {
		t.Fatal(err)
	}
	// MemLimit of 2 triggers a flush; clear the WAL to prove the value
	// is only reachable via rediscovered segments, not replay.
	e.Close()
	if err := os.Remove(filepath.Join(dir, wal.DirName, wal.FileName)); err != nil {
		t.Fatal(err)
	}

	e2 := open(t, dir, Options{MemLimit: 2})
	v, err := e2.Get([]byte("a"))
	if err != nil || string(v) != "1" {
		t.Fatalf("Get(a) = (%q, %v), want (\"1\", nil): segment should be rediscovered", v, err)
	}
}

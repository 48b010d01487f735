// Package txlog implements the durable bounded cache backing an
// uncommitted write transaction. Every put is appended to a per-store file
// under log/<revision>/, so a transaction interrupted by a crash can be
// detected (and replayed or discarded) on the next open. The number of
// decoded values held in memory is bounded; values evicted from memory are
// re-read from the file. The key→offset index keeps every key.
package txlog

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/pkg/errors"
)

// Sentinel marks a transaction-log directory whose transaction never
// committed.
const Sentinel = ".unfinished"

// DefaultCapacity bounds how many decoded values a store keeps in memory.
const DefaultCapacity = 1024

var ErrClosed = errors.New("transaction log is closed")

// Codec encodes store values for the append file.
type Codec[V any] struct {
	Marshal   func(V) ([]byte, error)
	Unmarshal func([]byte) (V, error)
}

type entryLoc struct {
	offset int64
	length int32
}

// Store is one keyed log (node, path, textValue, attributeValue, page).
type Store[V any] struct {
	path     string
	file     *os.File
	codec    Codec[V]
	capacity int

	mem   map[int64]V
	order []int64 // memory-residency order for eviction
	index map[int64]entryLoc
	end   int64

	closed bool
}

// OpenStore creates (or reopens) the store file dir/name.
func OpenStore[V any](dir, name string, capacity int, codec Codec[V]) (*Store[V], error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	file, err := os.OpenFile(filepath.Join(dir, name), os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, errors.Wrap(err, "txlog: open store")
	}
	s := &Store[V]{
		path:     filepath.Join(dir, name),
		file:     file,
		codec:    codec,
		capacity: capacity,
		mem:      make(map[int64]V),
		index:    make(map[int64]entryLoc),
	}
	if err := s.replayIndex(); err != nil {
		file.Close()
		return nil, err
	}
	return s, nil
}

// replayIndex rebuilds the key index from the append file, keeping the
// newest entry per key. Values stay on disk until demanded.
func (s *Store[V]) replayIndex() error {
	info, err := s.file.Stat()
	if err != nil {
		return errors.Wrap(err, "txlog: stat store")
	}
	size := info.Size()
	var off int64
	var hdr [12]byte
	for off < size {
		if _, err := s.file.ReadAt(hdr[:], off); err != nil {
			return errors.Wrap(err, "txlog: replay header")
		}
		key := int64(binary.BigEndian.Uint64(hdr[:8]))
		length := int32(binary.BigEndian.Uint32(hdr[8:12]))
		if length < 0 || off+12+int64(length) > size {
			// Torn tail from a crash mid-append; everything before it is
			// still usable.
			break
		}
		s.index[key] = entryLoc{offset: off + 12, length: length}
		off += 12 + int64(length)
	}
	s.end = off
	return nil
}

// Put stores the value under key, appending it to the log file.
func (s *Store[V]) Put(key int64, value V) error {
	if s.closed {
		return ErrClosed
	}
	data, err := s.codec.Marshal(value)
	if err != nil {
		return err
	}

	buf := make([]byte, 12+len(data))
	binary.BigEndian.PutUint64(buf[:8], uint64(key))
	binary.BigEndian.PutUint32(buf[8:12], uint32(len(data)))
	copy(buf[12:], data)
	if _, err := s.file.WriteAt(buf, s.end); err != nil {
		return errors.Wrap(err, "txlog: append")
	}
	s.index[key] = entryLoc{offset: s.end + 12, length: int32(len(data))}
	s.end += int64(len(buf))

	if _, resident := s.mem[key]; !resident {
		s.order = append(s.order, key)
	}
	s.mem[key] = value
	s.evict()
	return nil
}

// Get returns the newest value stored under key. Values pushed out of
// memory are decoded from the log file.
func (s *Store[V]) Get(key int64) (V, bool, error) {
	var zero V
	if s.closed {
		return zero, false, ErrClosed
	}
	if v, ok := s.mem[key]; ok {
		return v, true, nil
	}
	loc, ok := s.index[key]
	if !ok {
		return zero, false, nil
	}
	data := make([]byte, loc.length)
	if _, err := s.file.ReadAt(data, loc.offset); err != nil {
		return zero, false, errors.Wrap(err, "txlog: read entry")
	}
	v, err := s.codec.Unmarshal(data)
	if err != nil {
		return zero, false, err
	}
	if _, resident := s.mem[key]; !resident {
		s.order = append(s.order, key)
	}
	s.mem[key] = v
	s.evict()
	return v, true, nil
}

// Contains reports whether key has ever been put.
func (s *Store[V]) Contains(key int64) bool {
	if s.closed {
		return false
	}
	_, ok := s.index[key]
	return ok
}

// Keys returns every stored key in ascending order.
func (s *Store[V]) Keys() []int64 {
	keys := make([]int64, 0, len(s.index))
	for k := range s.index {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Len returns the number of distinct keys.
func (s *Store[V]) Len() int { return len(s.index) }

// Sync flushes the append file.
func (s *Store[V]) Sync() error {
	if s == nil || s.closed {
		return ErrClosed
	}
	return errors.Wrap(s.file.Sync(), "txlog: sync")
}

// Close releases the store file. The file itself is removed with the log
// directory. Safe on a nil store, for teardown of partially opened logs.
func (s *Store[V]) Close() error {
	if s == nil || s.closed {
		return nil
	}
	s.closed = true
	s.mem = nil
	s.index = nil
	return errors.Wrap(s.file.Close(), "txlog: close")
}

func (s *Store[V]) evict() {
	for len(s.mem) > s.capacity && len(s.order) > 0 {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.mem, oldest)
	}
}

// Dir computes the log directory of one transaction:
// <resource>/log/<revision>.
func Dir(resourcePath string, revision int32) string {
	return filepath.Join(resourcePath, "log", strconv.FormatInt(int64(revision), 10))
}

// CreateDir makes the log directory and drops the unfinished sentinel
// into it. The sentinel stays until the transaction commits.
func CreateDir(dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return errors.Wrap(err, "txlog: create log dir")
	}
	f, err := os.OpenFile(filepath.Join(dir, Sentinel), os.O_WRONLY|os.O_CREATE, 0o600)
	if err != nil {
		return errors.Wrap(err, "txlog: create sentinel")
	}
	return errors.Wrap(f.Close(), "txlog: create sentinel")
}

// IsUnfinished reports whether dir belongs to a transaction that never
// committed.
func IsUnfinished(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, Sentinel))
	return err == nil
}

// Finish removes the whole log directory after a successful commit (or a
// rollback).
func Finish(dir string) error {
	return errors.Wrap(os.RemoveAll(dir), "txlog: remove log dir")
}

// ListUnfinished returns the log directories of transactions that never
// committed, for garbage collection or replay on open.
func ListUnfinished(resourcePath string) ([]string, error) {
	base := filepath.Join(resourcePath, "log")
	entries, err := os.ReadDir(base)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "txlog: scan log dirs")
	}
	var dirs []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(base, e.Name())
		if IsUnfinished(dir) {
			dirs = append(dirs, dir)
		}
	}
	return dirs, nil
}

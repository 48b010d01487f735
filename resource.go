// Package sirixdb implements a versioned, append-only page store for
// tree-structured data. Every commit produces a new immutable revision
// anchored by an uber page; record pages are laid out as deltas or full
// dumps according to a pluggable revisioning policy.
package sirixdb

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"

	"sirixdb/internal/bytepipe"
	"sirixdb/internal/cache"
	"sirixdb/internal/page"
	"sirixdb/internal/storage"
	"sirixdb/internal/txlog"
)

const (
	dataFileName      = "data.sirix"
	revisionsFileName = "revisions-offsets.sirix"
)

// Resource is a session on one versioned resource: the single writer
// handle, the shared page cache, and the current uber page. Read
// transactions may run concurrently; one write transaction is active at a
// time.
type Resource struct {
	path string
	opts Options
	pipe *bytepipe.Pipeline
	log  Logger

	writer *storage.FileWriter
	cache  *cache.PageCache

	commitMu sync.Mutex // held while a commit publishes pages and the beacon
	writeMu  sync.Mutex // serializes write transactions

	mu     sync.RWMutex // guards uber and closed
	uber   *page.UberPage
	closed bool
}

// Open opens (creating if necessary) the resource rooted at path. A fresh
// resource is bootstrapped with an empty revision 0 so it is immediately
// readable. Unfinished transaction logs from a crashed process are
// discarded, and trailing bytes past the last committed uber page are
// truncated.
func Open(path string, options ...Option) (*Resource, error) {
	opts := DefaultOptions()
	for _, opt := range options {
		opt(&opts)
	}

	if err := os.MkdirAll(path, 0o700); err != nil {
		return nil, errors.Wrap(err, "open resource")
	}

	pipe := bytepipe.NewPipeline(opts.handlers...)
	writer, err := storage.NewFileWriter(
		filepath.Join(path, dataFileName),
		filepath.Join(path, revisionsFileName),
		pipe,
	)
	if err != nil {
		return nil, err
	}

	pageCache, err := cache.New(opts.cacheCapacity)
	if err != nil {
		writer.Close()
		return nil, err
	}

	r := &Resource{
		path:   path,
		opts:   opts,
		pipe:   pipe,
		log:    opts.logger,
		writer: writer,
		cache:  pageCache,
	}

	if err := r.discardUnfinishedLogs(); err != nil {
		writer.Close()
		return nil, err
	}

	uberRef, err := writer.ReadUberPageReference()
	if err != nil {
		writer.Close()
		return nil, err
	}

	if uberRef.Key == page.NullID {
		if err := r.bootstrap(); err != nil {
			writer.Close()
			return nil, err
		}
	} else {
		r.uber = uberRef.Page.(*page.UberPage)
		if err := r.recoverTail(uberRef.Key); err != nil {
			writer.Close()
			return nil, err
		}
	}

	return r, nil
}

// discardUnfinishedLogs garbage-collects transaction logs whose owning
// transaction never committed.
func (r *Resource) discardUnfinishedLogs() error {
	dirs, err := txlog.ListUnfinished(r.path)
	if err != nil {
		return err
	}
	for _, dir := range dirs {
		r.log.Warn("discarding unfinished transaction log", "dir", dir)
		if err := txlog.Finish(dir); err != nil {
			return err
		}
	}
	return nil
}

// recoverTail truncates partially written pages beyond the committed uber
// page. The uber page is always the last frame of a successful commit.
func (r *Resource) recoverTail(uberOffset int64) error {
	end, err := r.writer.FrameEnd(uberOffset)
	if err != nil {
		return err
	}
	if r.writer.Size() > end {
		r.log.Warn("truncating unreferenced tail", "from", end, "size", r.writer.Size())
		return r.writer.TruncateTo(end)
	}
	return nil
}

// bootstrap persists revision 0: an empty revision root, an empty name
// page, and the uber trie addressing them.
func (r *Resource) bootstrap() error {
	uber := page.NewUberPage()
	root := page.NewRevisionRootPage(0)
	root.CommitTimestamp = time.Now().UnixMilli()
	root.SetDirty(true)
	root.NameRef.Page = page.NewNamePage()
	root.NameRef.Page.SetDirty(true)
	root.NameRef.Kind = page.KindName

	leaf, err := prepareTriePath(uber.IndirectRef, 0, uber.PageCountExp(page.KindUber), uber.Revision(), nil, nil)
	if err != nil {
		return err
	}
	leaf.Page = root
	leaf.Kind = page.KindRevisionRoot

	if err := r.writeSubtree(uber.IndirectRef); err != nil {
		return err
	}
	if err := r.writer.Sync(); err != nil {
		return err
	}
	if err := r.writer.AppendRevisionsOffset(0, leaf.Key); err != nil {
		return err
	}

	uberRef := page.NewReference()
	uberRef.Page = uber
	if err := r.writer.WriteUberPageReference(uberRef); err != nil {
		return err
	}

	uber.SetDirty(false)
	r.uber = uber
	r.log.Info("bootstrapped resource", "path", r.path)
	return nil
}

// writeSubtree persists an in-memory page tree bottom-up so every page is
// on disk before a reference to it is written.
func (r *Resource) writeSubtree(ref *page.Reference) error {
	if ref == nil || ref.Page == nil {
		return nil
	}
	for _, child := range ref.Page.References() {
		if err := r.writeSubtree(child); err != nil {
			return err
		}
	}
	if _, err := r.writer.Write(ref); err != nil {
		return err
	}
	ref.Page.SetDirty(false)
	ref.Page = nil
	return nil
}

// Revision returns the most recent committed revision number.
func (r *Resource) Revision() int32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.uber.Revision()
}

// BeginRead opens a read-only transaction on the given revision.
func (r *Resource) BeginRead(revision int32) (*ReadTrx, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, ErrResourceClosed
	}
	if revision < 0 || revision > r.uber.Revision() {
		return nil, errors.Wrapf(ErrInvalidRevision, "revision %d", revision)
	}

	var reader storage.Reader
	var err error
	if r.opts.useMMap {
		reader, err = storage.NewMMapReader(
			filepath.Join(r.path, dataFileName),
			filepath.Join(r.path, revisionsFileName),
			r.pipe,
		)
	} else {
		reader, err = storage.NewFileReader(
			filepath.Join(r.path, dataFileName),
			filepath.Join(r.path, revisionsFileName),
			r.pipe,
		)
	}
	if err != nil {
		return nil, err
	}

	trx := newReadTrx(r, reader, true, r.uber, revision)
	if err := trx.loadRevisionRoot(); err != nil {
		trx.Close()
		return nil, err
	}
	return trx, nil
}

// BeginReadLatest opens a read-only transaction on the newest revision.
func (r *Resource) BeginReadLatest() (*ReadTrx, error) {
	return r.BeginRead(r.Revision())
}

// BeginWrite opens the resource's single write transaction, blocking
// until any active one closes.
func (r *Resource) BeginWrite() (*WriteTrx, error) {
	r.writeMu.Lock()

	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		r.writeMu.Unlock()
		return nil, ErrResourceClosed
	}
	uber := r.uber
	r.mu.RUnlock()

	trx, err := newWriteTrx(r, uber)
	if err != nil {
		r.writeMu.Unlock()
		return nil, err
	}
	return trx, nil
}

// publish installs the uber page of a freshly committed revision.
func (r *Resource) publish(uber *page.UberPage) {
	r.mu.Lock()
	r.uber = uber
	r.mu.Unlock()
}

// Close releases the writer handle. Read transactions own independent
// handles and stay usable until individually closed.
func (r *Resource) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	r.cache.Purge()
	return r.writer.Close()
}

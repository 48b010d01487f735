package sirixdb

import (
	"bytes"
	"time"

	"github.com/pkg/errors"

	"sirixdb/internal/page"
	"sirixdb/internal/txlog"
	"sirixdb/internal/version"
)

// WriteTrx mutates a resource through copy-on-write into the transaction
// log and publishes a new revision on Commit. At most one write
// transaction is active per resource.
//
// Record modifications follow the container-slot protocol: stage exactly
// one record-page container with PrepareEntryForModification (or
// CreateEntry/RemoveEntry, which stage and finish internally), mutate the
// returned record, then FinishEntryModification writes the container back
// to the subtree log.
type WriteTrx struct {
	res    *Resource
	read   *ReadTrx
	writer writeBackend

	logDir  string
	nodeLog *txlog.Store[*version.Container]
	pathLog *txlog.Store[*version.Container]
	textLog *txlog.Store[*version.Container]
	attrLog *txlog.Store[*version.Container]
	pageLog *txlog.Store[page.Page]

	newUber *page.UberPage
	newRoot *page.RevisionRootPage
	rootRef *page.Reference

	baseRevision int32
	newRevision  int32

	cur        *version.Container
	curPageKey int64
	curKind    page.Kind

	nextLogKey int64
	committed  bool
	closed     bool
}

// writeBackend is the slice of the storage writer the transaction needs.
type writeBackend interface {
	Write(ref *page.Reference) (int64, error)
	WriteUberPageReference(ref *page.Reference) error
	AppendRevisionsOffset(revision int32, offset int64) error
	Sync() error
}

func newWriteTrx(res *Resource, uber *page.UberPage) (*WriteTrx, error) {
	base := uber.Revision()
	w := &WriteTrx{
		res:          res,
		writer:       res.writer,
		baseRevision: base,
		newRevision:  base + 1,
		newUber:      page.CopyUberPage(uber),
	}

	w.read = newReadTrx(res, res.writer, false, uber, base)
	if err := w.read.loadRevisionRoot(); err != nil {
		return nil, err
	}

	if err := w.openLogs(); err != nil {
		w.discardLogs()
		return nil, err
	}

	w.newRoot = page.CopyRevisionRootPage(w.read.root, w.newRevision)
	w.newRoot.SetDirty(true)

	baseName, err := w.read.loadNamePage()
	if err != nil {
		w.discardLogs()
		return nil, err
	}
	namePage := baseName.Clone()
	namePage.SetDirty(false)
	w.newRoot.NameRef.Page = namePage
	w.newRoot.NameRef.Kind = page.KindName

	rootRef, err := prepareTriePath(w.newUber.IndirectRef, int64(w.newRevision),
		w.newUber.PageCountExp(page.KindUber), w.newRevision, w.read.dereference, w.logIndirect)
	if err != nil {
		w.discardLogs()
		return nil, err
	}
	rootRef.Page = w.newRoot
	rootRef.Kind = page.KindRevisionRoot
	w.rootRef = rootRef

	return w, nil
}

func (w *WriteTrx) openLogs() error {
	w.logDir = txlog.Dir(w.res.path, w.newRevision)
	if err := txlog.CreateDir(w.logDir); err != nil {
		return err
	}

	containerCodec := txlog.Codec[*version.Container]{
		Marshal:   version.MarshalContainer,
		Unmarshal: version.UnmarshalContainer,
	}
	pageCodec := txlog.Codec[page.Page]{
		Marshal: func(p page.Page) ([]byte, error) {
			buf := &bytes.Buffer{}
			var persister page.Persister
			if err := persister.Serialize(buf, p); err != nil {
				return nil, err
			}
			return buf.Bytes(), nil
		},
		Unmarshal: func(data []byte) (page.Page, error) {
			var persister page.Persister
			return persister.Deserialize(bytes.NewReader(data))
		},
	}

	capacity := w.res.opts.logCapacity
	var err error
	if w.nodeLog, err = txlog.OpenStore(w.logDir, "node", capacity, containerCodec); err != nil {
		return err
	}
	if w.pathLog, err = txlog.OpenStore(w.logDir, "path", capacity, containerCodec); err != nil {
		return err
	}
	if w.textLog, err = txlog.OpenStore(w.logDir, "textValue", capacity, containerCodec); err != nil {
		return err
	}
	if w.attrLog, err = txlog.OpenStore(w.logDir, "attributeValue", capacity, containerCodec); err != nil {
		return err
	}
	if w.pageLog, err = txlog.OpenStore(w.logDir, "page", capacity, pageCodec); err != nil {
		return err
	}
	return nil
}

func (w *WriteTrx) subtreeLog(kind page.Kind) *txlog.Store[*version.Container] {
	switch kind {
	case page.KindNode:
		return w.nodeLog
	case page.KindPathSummary:
		return w.pathLog
	case page.KindTextValue:
		return w.textLog
	case page.KindAttributeValue:
		return w.attrLog
	default:
		panic("sirixdb: not a record subtree: " + kind.String())
	}
}

// logIndirect assigns a log key to a prepared indirect page and records it
// in the page log for crash replay.
func (w *WriteTrx) logIndirect(ref *page.Reference, indirect *page.IndirectPage) error {
	if ref.LogKey == page.NullID {
		ref.LogKey = w.nextLogKey
		w.nextLogKey++
	}
	return w.pageLog.Put(ref.LogKey, indirect)
}

// Revision returns the revision this transaction will commit.
func (w *WriteTrx) Revision() int32 { return w.newRevision }

// BaseRevision returns the committed revision the transaction reads from.
func (w *WriteTrx) BaseRevision() int32 { return w.baseRevision }

// UberPage returns the in-flight uber page.
func (w *WriteTrx) UberPage() *page.UberPage { return w.newUber }

func (w *WriteTrx) check() error {
	if w.closed || w.committed {
		return ErrTrxClosed
	}
	return nil
}

func (w *WriteTrx) checkRecordArgs(recordKey int64, kind page.Kind) error {
	if err := w.check(); err != nil {
		return err
	}
	if recordKey < 0 {
		return errors.Wrapf(ErrNegativeKey, "record key %d", recordKey)
	}
	if !kind.IsRecordKind() {
		return errors.Wrapf(ErrNotRecordKind, "%s", kind)
	}
	return nil
}

// prepareRecordPage locates or creates the container staging pageKey's
// record page, materializing history through the revisioning policy on
// first touch.
func (w *WriteTrx) prepareRecordPage(pageKey int64, kind page.Kind) (*version.Container, error) {
	log := w.subtreeLog(kind)
	if cont, ok, err := log.Get(pageKey); err != nil {
		return nil, err
	} else if ok {
		return cont, nil
	}

	leaf, err := prepareTriePath(w.newRoot.SubtreeReference(kind), pageKey,
		w.newUber.PageCountExp(kind), w.newRevision, w.read.dereference, w.logIndirect)
	if err != nil {
		return nil, err
	}

	var cont *version.Container
	if leaf.Key == page.NullID {
		cont = version.NewFreshContainer(pageKey, w.newRevision, kind)
	} else {
		versions, offsets, err := w.read.collectHistory(leaf.Key)
		if err != nil {
			return nil, err
		}
		cont = w.res.opts.policy.CombineForModification(versions,
			w.res.opts.revisionsToRestore, w.newRevision)
		cont.PrevOffset = offsets.prev
		cont.LastFullOffset = offsets.lastFull
	}

	leaf.KeyValuePageKey = pageKey
	leaf.Kind = kind
	if err := log.Put(pageKey, cont); err != nil {
		return nil, err
	}
	return cont, nil
}

// stage installs the container as the current slot.
func (w *WriteTrx) stage(cont *version.Container, pageKey int64, kind page.Kind) {
	w.cur = cont
	w.curPageKey = pageKey
	w.curKind = kind
}

// PrepareEntryForModification stages the record's container and returns
// the modifiable copy of the record. The caller mutates it in place and
// then calls FinishEntryModification.
func (w *WriteTrx) PrepareEntryForModification(recordKey int64, kind page.Kind) (*page.Record, error) {
	if err := w.checkRecordArgs(recordKey, kind); err != nil {
		return nil, err
	}
	if w.cur != nil {
		return nil, ErrContainerInUse
	}

	pageKey := page.PageKeyOf(recordKey)
	cont, err := w.prepareRecordPage(pageKey, kind)
	if err != nil {
		return nil, err
	}
	w.stage(cont, pageKey, kind)

	rec := cont.Modified.Value(recordKey)
	if rec == nil {
		old := cont.Complete.Value(recordKey)
		if old == nil {
			w.cur = nil
			return nil, errors.Wrapf(ErrNotFound, "record %d", recordKey)
		}
		rec = old.Clone()
		cont.Modified.SetEntry(rec)
	}
	return rec, nil
}

// FinishEntryModification writes the staged container back to its subtree
// log and clears the slot.
func (w *WriteTrx) FinishEntryModification(recordKey int64, kind page.Kind) error {
	if err := w.checkRecordArgs(recordKey, kind); err != nil {
		return err
	}
	pageKey := page.PageKeyOf(recordKey)
	if w.cur == nil || !w.anyLogContains(pageKey) {
		return ErrNoContainer
	}
	if err := w.subtreeLog(kind).Put(pageKey, w.cur); err != nil {
		return err
	}
	w.cur = nil
	return nil
}

func (w *WriteTrx) anyLogContains(pageKey int64) bool {
	return w.nodeLog.Contains(pageKey) || w.pathLog.Contains(pageKey) ||
		w.textLog.Contains(pageKey) || w.attrLog.Contains(pageKey)
}

// CreateEntry allocates the next record key of the subtree, assigns it to
// the record, and stores the record in the new revision.
func (w *WriteTrx) CreateEntry(rec *page.Record, kind page.Kind) (*page.Record, error) {
	if err := w.check(); err != nil {
		return nil, err
	}
	if !kind.IsRecordKind() {
		return nil, errors.Wrapf(ErrNotRecordKind, "%s", kind)
	}
	if w.cur != nil {
		return nil, ErrContainerInUse
	}

	rec.Key = w.newRoot.IncrementMaxRecordKey(kind)
	pageKey := page.PageKeyOf(rec.Key)
	cont, err := w.prepareRecordPage(pageKey, kind)
	if err != nil {
		return nil, err
	}
	w.stage(cont, pageKey, kind)
	cont.Modified.SetEntry(rec)
	if err := w.FinishEntryModification(rec.Key, kind); err != nil {
		return nil, err
	}
	return rec, nil
}

// RemoveEntry overwrites the record with a tombstone in both the complete
// and the modified page, so the deletion shadows every older version.
func (w *WriteTrx) RemoveEntry(recordKey int64, kind page.Kind) error {
	if err := w.checkRecordArgs(recordKey, kind); err != nil {
		return err
	}
	if w.cur != nil {
		return ErrContainerInUse
	}

	pageKey := page.PageKeyOf(recordKey)
	cont, err := w.prepareRecordPage(pageKey, kind)
	if err != nil {
		return err
	}
	w.stage(cont, pageKey, kind)

	rec := cont.Modified.Value(recordKey)
	if rec == nil {
		rec = cont.Complete.Value(recordKey)
	}
	if rec == nil || rec.Deleted() {
		w.cur = nil
		return errors.Wrapf(ErrNotFound, "record %d", recordKey)
	}

	tomb := page.Tombstone(recordKey)
	cont.Modified.SetEntry(tomb)
	cont.Complete.SetEntry(tomb)
	return w.FinishEntryModification(recordKey, kind)
}

// GetRecord reads through the transaction log first, then falls back to
// the base-revision read view.
func (w *WriteTrx) GetRecord(recordKey int64, kind page.Kind) (*page.Record, error) {
	if err := w.checkRecordArgs(recordKey, kind); err != nil {
		return nil, err
	}

	pageKey := page.PageKeyOf(recordKey)
	cont, ok, err := w.subtreeLog(kind).Get(pageKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return w.read.GetRecord(recordKey, kind)
	}

	rec := cont.Modified.Value(recordKey)
	if rec == nil {
		rec = cont.Complete.Value(recordKey)
	}
	if rec == nil || rec.Deleted() {
		return nil, ErrNotFound
	}
	return rec, nil
}

// MaxRecordKey returns the highest record key allocated so far in the
// in-flight revision.
func (w *WriteTrx) MaxRecordKey(kind page.Kind) (int64, error) {
	if err := w.check(); err != nil {
		return 0, err
	}
	if !kind.IsRecordKind() {
		return 0, errors.Wrapf(ErrNotRecordKind, "%s", kind)
	}
	return w.newRoot.MaxRecordKey(kind), nil
}

// CreateNameKey interns a name into the new revision's name page and
// returns its hash key.
func (w *WriteTrx) CreateNameKey(name string, nodeKind uint8) (int32, error) {
	if err := w.check(); err != nil {
		return 0, err
	}
	namePage := w.newRoot.NameRef.Page.(*page.NamePage)
	return namePage.SetName(name, nodeKind), nil
}

// GetName resolves a name key against the in-flight name page, falling
// back to the base revision.
func (w *WriteTrx) GetName(nameKey int32, nodeKind uint8) (string, error) {
	if err := w.check(); err != nil {
		return "", err
	}
	namePage := w.newRoot.NameRef.Page.(*page.NamePage)
	if name := namePage.Name(nameKey, nodeKind); name != "" {
		return name, nil
	}
	return w.read.GetName(nameKey, nodeKind)
}

// Commit publishes the new revision: record pages and dirty indirect
// pages are written child-first, the revision root's offset is appended
// to the revisions-offset file, and finally the new uber page is written
// and the beacon flipped — the linearization point. A failed commit
// leaves the previous revision intact.
func (w *WriteTrx) Commit() (int32, error) {
	if err := w.check(); err != nil {
		return 0, err
	}
	if w.cur != nil {
		return 0, ErrContainerInUse
	}

	w.res.commitMu.Lock()
	defer w.res.commitMu.Unlock()

	w.newRoot.CommitTimestamp = time.Now().UnixMilli()

	if err := w.syncLogs(); err != nil {
		return 0, err
	}

	if err := w.commitReference(w.newUber.IndirectRef); err != nil {
		return 0, err
	}
	if err := w.writer.Sync(); err != nil {
		return 0, err
	}
	if err := w.writer.AppendRevisionsOffset(w.newRevision, w.rootRef.Key); err != nil {
		return 0, err
	}

	uberRef := page.NewReference()
	uberRef.Page = w.newUber
	if err := w.writer.WriteUberPageReference(uberRef); err != nil {
		return 0, err
	}
	w.newUber.SetDirty(false)

	w.res.publish(w.newUber)
	w.committed = true
	w.closeStores()
	if err := txlog.Finish(w.logDir); err != nil {
		w.res.log.Warn("leaving transaction log for gc", "dir", w.logDir, "err", err)
	}

	w.res.log.Info("committed revision", "revision", w.newRevision)
	return w.newRevision, nil
}

// commitReference persists the subtree behind ref child-first so every
// page is fully on disk before a reference to it is written.
func (w *WriteTrx) commitReference(ref *page.Reference) error {
	if ref == nil {
		return nil
	}
	if ref.KeyValuePageKey != page.NullID && ref.Kind.IsRecordKind() {
		return w.commitRecordPage(ref)
	}
	if ref.Page == nil || !ref.Page.IsDirty() {
		return nil
	}
	for _, child := range ref.Page.References() {
		if err := w.commitReference(child); err != nil {
			return err
		}
	}
	if _, err := w.writer.Write(ref); err != nil {
		return err
	}
	ref.Page.SetDirty(false)
	ref.Page = nil
	return nil
}

// commitRecordPage emits one record page per the revisioning policy:
// either the complete page as a full dump, or the modified delta chained
// to its predecessor. Containers whose Modified page is empty keep the
// leaf pointing at the old version.
func (w *WriteTrx) commitRecordPage(ref *page.Reference) error {
	cont, ok, err := w.subtreeLog(ref.Kind).Get(ref.KeyValuePageKey)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Wrapf(ErrNoContainer, "page key %d", ref.KeyValuePageKey)
	}
	if cont.Modified.Len() == 0 {
		return nil
	}

	var kv *page.KeyValuePage
	if cont.Fresh || cont.FullDumpNext {
		kv = cont.Complete.Clone(w.newRevision)
		for _, key := range cont.Modified.Keys() {
			kv.SetEntry(cont.Modified.Value(key))
		}
		kv.FullDump = true
		kv.Previous = page.NullID
	} else {
		kv = cont.Modified
		kv.Revision = w.newRevision
		kv.FullDump = false
		if w.res.opts.policy == version.Differential && cont.LastFullOffset != page.NullID {
			kv.Previous = cont.LastFullOffset
		} else {
			kv.Previous = cont.PrevOffset
		}
	}

	ref.Page = kv
	if _, err := w.writer.Write(ref); err != nil {
		return err
	}
	ref.Page = nil
	return nil
}

func (w *WriteTrx) syncLogs() error {
	for _, s := range []interface{ Sync() error }{w.nodeLog, w.pathLog, w.textLog, w.attrLog, w.pageLog} {
		if err := s.Sync(); err != nil {
			return err
		}
	}
	return nil
}

func (w *WriteTrx) closeStores() {
	for _, s := range []interface{ Close() error }{w.nodeLog, w.pathLog, w.textLog, w.attrLog, w.pageLog} {
		if s != nil {
			_ = s.Close()
		}
	}
}

func (w *WriteTrx) discardLogs() {
	w.closeStores()
	_ = txlog.Finish(w.logDir)
}

// Close releases the transaction. Without a prior Commit the transaction
// log is discarded and on-disk state is left at the previous revision.
func (w *WriteTrx) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if !w.committed {
		w.discardLogs()
	}
	err := w.read.Close()
	w.res.writeMu.Unlock()
	return err
}

package storage

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/zeebo/blake3"

	"sirixdb/internal/bytepipe"
	"sirixdb/internal/page"
)

// FileReader reads pages with positioned reads over independent handles.
type FileReader struct {
	data      *os.File
	revisions *os.File
	pipe      *bytepipe.Pipeline
	persister page.Persister
	closed    bool
}

// NewFileReader opens the data and revisions-offset files read-only.
func NewFileReader(dataPath, revisionsPath string, pipe *bytepipe.Pipeline) (*FileReader, error) {
	data, err := os.Open(dataPath)
	if err != nil {
		return nil, errors.Wrap(err, "storage: open data file")
	}
	revisions, err := os.Open(revisionsPath)
	if err != nil {
		data.Close()
		return nil, errors.Wrap(err, "storage: open revisions file")
	}
	return &FileReader{data: data, revisions: revisions, pipe: pipe}, nil
}

func (r *FileReader) Read(ref *page.Reference) (page.Page, error) {
	if r.closed {
		return nil, ErrClosed
	}
	return readPageAt(r.data, ref.Key, r.pipe, r.persister)
}

func (r *FileReader) ReadUberPageReference() (*page.Reference, error) {
	if r.closed {
		return nil, ErrClosed
	}
	return readUberReference(r.data, r.pipe, r.persister)
}

func (r *FileReader) ReadRevisionRootPage(revision int32) (*page.RevisionRootPage, error) {
	if r.closed {
		return nil, ErrClosed
	}
	offset, err := readRevisionOffset(r.revisions, revision)
	if err != nil {
		return nil, err
	}
	p, err := readPageAt(r.data, offset, r.pipe, r.persister)
	if err != nil {
		return nil, err
	}
	root, ok := p.(*page.RevisionRootPage)
	if !ok {
		return nil, errors.Wrapf(page.ErrCorruptPage, "revision %d resolves to %s page", revision, p.Kind())
	}
	return root, nil
}

func (r *FileReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	err := r.data.Close()
	if cerr := r.revisions.Close(); err == nil {
		err = cerr
	}
	return errors.Wrap(err, "storage: close reader")
}

// FileWriter owns the single append handle of a resource.
type FileWriter struct {
	data      *os.File
	revisions *os.File
	pipe      *bytepipe.Pipeline
	persister page.Persister
	end       int64 // next frame offset
	closed    bool
}

// NewFileWriter opens (creating if needed) both files for writing. A fresh
// data file is primed with an empty beacon so the first frame lands at
// FirstBeacon.
func NewFileWriter(dataPath, revisionsPath string, pipe *bytepipe.Pipeline) (*FileWriter, error) {
	data, err := os.OpenFile(dataPath, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, errors.Wrap(err, "storage: open data file")
	}
	revisions, err := os.OpenFile(revisionsPath, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		data.Close()
		return nil, errors.Wrap(err, "storage: open revisions file")
	}

	info, err := data.Stat()
	if err != nil {
		data.Close()
		revisions.Close()
		return nil, errors.Wrap(err, "storage: stat data file")
	}

	w := &FileWriter{data: data, revisions: revisions, pipe: pipe, end: info.Size()}
	if w.end < FirstBeacon {
		if err := w.writeBeacon(page.NullID); err != nil {
			w.Close()
			return nil, err
		}
		w.end = FirstBeacon
	}
	return w, nil
}

// Size returns the current end of the data file.
func (w *FileWriter) Size() int64 { return w.end }

func (w *FileWriter) Read(ref *page.Reference) (page.Page, error) {
	if w.closed {
		return nil, ErrClosed
	}
	return readPageAt(w.data, ref.Key, w.pipe, w.persister)
}

func (w *FileWriter) ReadUberPageReference() (*page.Reference, error) {
	if w.closed {
		return nil, ErrClosed
	}
	return readUberReference(w.data, w.pipe, w.persister)
}

func (w *FileWriter) ReadRevisionRootPage(revision int32) (*page.RevisionRootPage, error) {
	if w.closed {
		return nil, ErrClosed
	}
	offset, err := readRevisionOffset(w.revisions, revision)
	if err != nil {
		return nil, err
	}
	p, err := readPageAt(w.data, offset, w.pipe, w.persister)
	if err != nil {
		return nil, err
	}
	root, ok := p.(*page.RevisionRootPage)
	if !ok {
		return nil, errors.Wrapf(page.ErrCorruptPage, "revision %d resolves to %s page", revision, p.Kind())
	}
	return root, nil
}

func (w *FileWriter) Write(ref *page.Reference) (int64, error) {
	if w.closed {
		return 0, ErrClosed
	}
	if ref.Page == nil {
		return 0, errors.Wrap(ErrInvalidReference, "storage: write")
	}

	body := &bytes.Buffer{}
	if err := w.persister.Serialize(body, ref.Page); err != nil {
		return 0, err
	}
	sum := blake3.Sum256(body.Bytes())

	piped, err := w.pipe.Serialize(body.Bytes())
	if err != nil {
		return 0, err
	}
	if len(piped) > MaxFrameSize {
		return 0, errors.Wrapf(ErrCorruptFrame, "%d bytes", len(piped))
	}

	frame := make([]byte, 4+len(piped))
	binary.BigEndian.PutUint32(frame[:4], uint32(len(piped)))
	copy(frame[4:], piped)

	offset := w.end
	if _, err := w.data.WriteAt(frame, offset); err != nil {
		return 0, errors.Wrap(err, "storage: append page")
	}
	w.end = offset + int64(len(frame))

	ref.Key = offset
	ref.Kind = ref.Page.Kind()
	ref.Hash = sum[:]
	return offset, nil
}

func (w *FileWriter) WriteUberPageReference(ref *page.Reference) error {
	if _, err := w.Write(ref); err != nil {
		return err
	}
	// The uber page must be durable before the beacon names it.
	if err := w.Sync(); err != nil {
		return err
	}
	if err := w.writeBeacon(ref.Key); err != nil {
		return err
	}
	return w.Sync()
}

func (w *FileWriter) AppendRevisionsOffset(revision int32, offset int64) error {
	if w.closed {
		return ErrClosed
	}
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(offset))
	if _, err := w.revisions.WriteAt(b[:], int64(revision)*8); err != nil {
		return errors.Wrap(err, "storage: append revision offset")
	}
	return errors.Wrap(w.revisions.Sync(), "storage: sync revisions file")
}

// FrameEnd returns the offset just past the frame starting at offset.
func (w *FileWriter) FrameEnd(offset int64) (int64, error) {
	if w.closed {
		return 0, ErrClosed
	}
	var lenBuf [4]byte
	if _, err := w.data.ReadAt(lenBuf[:], offset); err != nil {
		return 0, errors.Wrapf(err, "storage: frame length at %d", offset)
	}
	length := int32(binary.BigEndian.Uint32(lenBuf[:]))
	if length <= 0 || length > MaxFrameSize {
		return 0, errors.Wrapf(ErrCorruptFrame, "%d bytes at offset %d", length, offset)
	}
	return offset + 4 + int64(length), nil
}

func (w *FileWriter) TruncateTo(end int64) error {
	if w.closed {
		return ErrClosed
	}
	if err := w.data.Truncate(end); err != nil {
		return errors.Wrap(err, "storage: truncate")
	}
	w.end = end
	return nil
}

func (w *FileWriter) Sync() error {
	if w.closed {
		return ErrClosed
	}
	return errors.Wrap(w.data.Sync(), "storage: fsync data file")
}

func (w *FileWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	err := w.data.Close()
	if cerr := w.revisions.Close(); err == nil {
		err = cerr
	}
	return errors.Wrap(err, "storage: close writer")
}

func (w *FileWriter) writeBeacon(key int64) error {
	var b [FirstBeacon]byte
	binary.BigEndian.PutUint64(b[:8], uint64(key))
	binary.BigEndian.PutUint32(b[8:12], beaconChecksum(key))
	_, err := w.data.WriteAt(b[:], 0)
	return errors.Wrap(err, "storage: write beacon")
}

// readPageAt reads one frame, inverts the byte pipe, and decodes the page.
func readPageAt(f io.ReaderAt, offset int64, pipe *bytepipe.Pipeline, persister page.Persister) (page.Page, error) {
	if offset < FirstBeacon {
		return nil, errors.Wrapf(ErrInvalidReference, "offset %d", offset)
	}
	var lenBuf [4]byte
	if _, err := f.ReadAt(lenBuf[:], offset); err != nil {
		return nil, errors.Wrapf(err, "storage: frame length at %d", offset)
	}
	length := int32(binary.BigEndian.Uint32(lenBuf[:]))
	if length <= 0 || length > MaxFrameSize {
		return nil, errors.Wrapf(ErrCorruptFrame, "%d bytes at offset %d", length, offset)
	}

	body := make([]byte, length)
	if _, err := f.ReadAt(body, offset+4); err != nil {
		return nil, errors.Wrapf(err, "storage: frame body at %d", offset)
	}

	raw, err := pipe.Deserialize(body)
	if err != nil {
		return nil, err
	}
	return persister.Deserialize(bytes.NewReader(raw))
}

func readUberReference(f io.ReaderAt, pipe *bytepipe.Pipeline, persister page.Persister) (*page.Reference, error) {
	var b [FirstBeacon]byte
	if _, err := f.ReadAt(b[:], 0); err != nil {
		return nil, errors.Wrap(err, "storage: read beacon")
	}
	key := int64(binary.BigEndian.Uint64(b[:8]))
	if binary.BigEndian.Uint32(b[8:12]) != beaconChecksum(key) {
		return nil, ErrCorruptBeacon
	}

	ref := page.NewReference()
	ref.Key = key
	ref.Kind = page.KindUber
	if key == page.NullID {
		return ref, nil
	}

	p, err := readPageAt(f, key, pipe, persister)
	if err != nil {
		return nil, err
	}
	uber, ok := p.(*page.UberPage)
	if !ok {
		return nil, errors.Wrapf(page.ErrCorruptPage, "beacon resolves to %s page", p.Kind())
	}
	ref.Page = uber
	return ref, nil
}

func readRevisionOffset(f io.ReaderAt, revision int32) (int64, error) {
	if revision < 0 {
		return 0, errors.Wrapf(ErrInvalidReference, "revision %d", revision)
	}
	var b [8]byte
	if _, err := f.ReadAt(b[:], int64(revision)*8); err != nil {
		return 0, errors.Wrapf(err, "storage: revision offset %d", revision)
	}
	return int64(binary.BigEndian.Uint64(b[:])), nil
}

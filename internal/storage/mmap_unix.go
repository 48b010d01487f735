//go:build linux || darwin

package storage

import (
	"bytes"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"sirixdb/internal/bytepipe"
	"sirixdb/internal/page"
)

// MMapReader maps the data and revisions-offset files into memory. The
// revisions file serves as a dense revision→offset index, so revision
// roots are loaded without walking the uber trie. Readers over a growing
// file call SetDataSegment to re-install a larger data mapping.
type MMapReader struct {
	dataFile  *os.File
	revFile   *os.File
	data      []byte
	rev       []byte
	pipe      *bytepipe.Pipeline
	persister page.Persister
	closed    bool
}

// NewMMapReader maps both files read-only.
func NewMMapReader(dataPath, revisionsPath string, pipe *bytepipe.Pipeline) (*MMapReader, error) {
	dataFile, err := os.Open(dataPath)
	if err != nil {
		return nil, errors.Wrap(err, "storage: open data file")
	}
	revFile, err := os.Open(revisionsPath)
	if err != nil {
		dataFile.Close()
		return nil, errors.Wrap(err, "storage: open revisions file")
	}

	r := &MMapReader{dataFile: dataFile, revFile: revFile, pipe: pipe}
	if r.data, err = mapFile(dataFile); err != nil {
		r.Close()
		return nil, err
	}
	if r.rev, err = mapFile(revFile); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

func mapFile(f *os.File) ([]byte, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, errors.Wrap(err, "storage: stat")
	}
	if info.Size() == 0 {
		return nil, nil
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(info.Size()), unix.PROT_READ, unix.MAP_SHARED)
	return data, errors.Wrap(err, "storage: mmap")
}

// SetDataSegment re-installs the data mapping after the file has grown
// past the mapped region.
func (r *MMapReader) SetDataSegment() error {
	if r.closed {
		return ErrClosed
	}
	if r.data != nil {
		if err := unix.Munmap(r.data); err != nil {
			return errors.Wrap(err, "storage: munmap")
		}
		r.data = nil
	}
	var err error
	r.data, err = mapFile(r.dataFile)
	return err
}

func (r *MMapReader) Read(ref *page.Reference) (page.Page, error) {
	if r.closed {
		return nil, ErrClosed
	}
	return readPageAt(bytes.NewReader(r.data), ref.Key, r.pipe, r.persister)
}

func (r *MMapReader) ReadUberPageReference() (*page.Reference, error) {
	if r.closed {
		return nil, ErrClosed
	}
	return readUberReference(bytes.NewReader(r.data), r.pipe, r.persister)
}

func (r *MMapReader) ReadRevisionRootPage(revision int32) (*page.RevisionRootPage, error) {
	if r.closed {
		return nil, ErrClosed
	}
	offset, err := readRevisionOffset(bytes.NewReader(r.rev), revision)
	if err != nil {
		return nil, err
	}
	p, err := readPageAt(bytes.NewReader(r.data), offset, r.pipe, r.persister)
	if err != nil {
		return nil, err
	}
	root, ok := p.(*page.RevisionRootPage)
	if !ok {
		return nil, errors.Wrapf(page.ErrCorruptPage, "revision %d resolves to %s page", revision, p.Kind())
	}
	return root, nil
}

// Close releases both mappings and the underlying handles.
func (r *MMapReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	var err error
	if r.data != nil {
		err = unix.Munmap(r.data)
		r.data = nil
	}
	if r.rev != nil {
		if merr := unix.Munmap(r.rev); err == nil {
			err = merr
		}
		r.rev = nil
	}
	if cerr := r.dataFile.Close(); err == nil {
		err = cerr
	}
	if cerr := r.revFile.Close(); err == nil {
		err = cerr
	}
	return errors.Wrap(err, "storage: close mmap reader")
}

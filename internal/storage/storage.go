// Package storage implements page I/O over the per-resource data file and
// its companion revisions-offset file.
//
// Data file layout: bytes 0-7 hold the file key of the most recent uber
// page, bytes 8-11 a checksum of that key, and from byte 12 on the page
// bodies, each framed as [length: i32][body]. Bodies pass through the byte
// pipe; framing integers are big-endian.
package storage

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"

	"sirixdb/internal/page"
)

const (
	// FirstBeacon is the offset of the first page frame; everything before
	// it is the uber-page beacon.
	FirstBeacon = 12

	// MaxFrameSize bounds a single page frame. Anything larger is treated
	// as corruption.
	MaxFrameSize = 1 << 28
)

var (
	ErrClosed           = errors.New("storage is closed")
	ErrInvalidReference = errors.New("reference has no file key")
	ErrCorruptBeacon    = errors.New("uber-page beacon checksum mismatch")
	ErrCorruptFrame     = errors.New("page frame length out of bounds")
)

// Reader reads pages of committed revisions. Every read transaction owns
// its own Reader so concurrent readers never share file state; the write
// transaction reads through the resource's Writer.
type Reader interface {
	// Read materializes the page a reference points at.
	Read(ref *page.Reference) (page.Page, error)

	// ReadUberPageReference resolves the beacon into a reference holding
	// the current uber page.
	ReadUberPageReference() (*page.Reference, error)

	// ReadRevisionRootPage loads the root of the given revision using the
	// revisions-offset file as a dense index.
	ReadRevisionRootPage(revision int32) (*page.RevisionRootPage, error)

	Close() error
}

// Writer extends Reader with append access. A resource has exactly one.
type Writer interface {
	Reader

	// Write appends the referenced page, assigns its file key, and returns
	// the offset of the frame.
	Write(ref *page.Reference) (int64, error)

	// WriteUberPageReference appends the uber page and then publishes it by
	// rewriting the beacon. This is the commit linearization point.
	WriteUberPageReference(ref *page.Reference) error

	// AppendRevisionsOffset records the revision root's file key at slot
	// revision of the revisions-offset file.
	AppendRevisionsOffset(revision int32, offset int64) error

	// TruncateTo drops unreferenced bytes past end, used on recovery.
	TruncateTo(end int64) error

	Sync() error
}

// beaconChecksum guards the 8-byte uber file key against torn writes.
func beaconChecksum(key int64) uint32 {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(key))
	return uint32(xxhash.Sum64(b[:]))
}

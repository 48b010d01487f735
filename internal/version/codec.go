package version

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"sirixdb/internal/page"
)

// MarshalContainer encodes a container for the transaction log:
// [flags: u8 (0x01 fresh, 0x02 fullDumpNext)][prevOffset: i64]
// [lastFullOffset: i64] followed by the
// complete and modified pages, each framed as [length: i32][body].
func MarshalContainer(c *Container) ([]byte, error) {
	buf := &bytes.Buffer{}
	var flags byte
	if c.Fresh {
		flags |= 0x01
	}
	if c.FullDumpNext {
		flags |= 0x02
	}
	buf.WriteByte(flags)
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(c.PrevOffset))
	buf.Write(b[:])
	binary.BigEndian.PutUint64(b[:], uint64(c.LastFullOffset))
	buf.Write(b[:])

	var persister page.Persister
	for _, p := range []*page.KeyValuePage{c.Complete, c.Modified} {
		body := &bytes.Buffer{}
		if err := persister.Serialize(body, p); err != nil {
			return nil, err
		}
		var l [4]byte
		binary.BigEndian.PutUint32(l[:], uint32(body.Len()))
		buf.Write(l[:])
		buf.Write(body.Bytes())
	}
	return buf.Bytes(), nil
}

// UnmarshalContainer decodes a container written by MarshalContainer.
func UnmarshalContainer(data []byte) (*Container, error) {
	r := bytes.NewReader(data)
	flags, err := r.ReadByte()
	if err != nil {
		return nil, errors.Wrap(err, "version: container flags")
	}
	c := &Container{Fresh: flags&0x01 != 0, FullDumpNext: flags&0x02 != 0}

	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return nil, errors.Wrap(err, "version: container offsets")
	}
	c.PrevOffset = int64(binary.BigEndian.Uint64(b[:]))
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return nil, errors.Wrap(err, "version: container offsets")
	}
	c.LastFullOffset = int64(binary.BigEndian.Uint64(b[:]))

	var persister page.Persister
	pages := make([]*page.KeyValuePage, 2)
	for i := range pages {
		var l [4]byte
		if _, err := io.ReadFull(r, l[:]); err != nil {
			return nil, errors.Wrap(err, "version: container page frame")
		}
		body := make([]byte, binary.BigEndian.Uint32(l[:]))
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, errors.Wrap(err, "version: container page body")
		}
		p, err := persister.Deserialize(bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		kv, ok := p.(*page.KeyValuePage)
		if !ok {
			return nil, errors.Wrapf(page.ErrCorruptPage, "container holds %s page", p.Kind())
		}
		pages[i] = kv
	}
	c.Complete, c.Modified = pages[0], pages[1]
	return c, nil
}

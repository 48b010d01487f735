// Package bytepipe implements the ordered stack of byte-stream transforms
// applied to every page body on its way to disk. Write composes the
// transforms forward, read inverts them in reverse order; every transform
// is total and invertible on its own output.
package bytepipe

import (
	"bytes"

	"github.com/golang/snappy"
	"github.com/pierrec/lz4"
	"github.com/pkg/errors"
	"github.com/ulikunitz/xz"
)

// ByteHandler is one transform of the pipe.
type ByteHandler interface {
	Serialize(in []byte) ([]byte, error)
	Deserialize(in []byte) ([]byte, error)
}

// Pipeline composes handlers: Serialize applies them first-to-last,
// Deserialize last-to-first.
type Pipeline struct {
	handlers []ByteHandler
}

// NewPipeline builds a pipe from the given handlers. An empty pipe is the
// identity.
func NewPipeline(handlers ...ByteHandler) *Pipeline {
	return &Pipeline{handlers: handlers}
}

func (p *Pipeline) Serialize(in []byte) ([]byte, error) {
	out := in
	var err error
	for _, h := range p.handlers {
		if out, err = h.Serialize(out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (p *Pipeline) Deserialize(in []byte) ([]byte, error) {
	out := in
	var err error
	for i := len(p.handlers) - 1; i >= 0; i-- {
		if out, err = p.handlers[i].Deserialize(out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Snappy compresses with the snappy block format.
type Snappy struct{}

func (Snappy) Serialize(in []byte) ([]byte, error) {
	return snappy.Encode(nil, in), nil
}

func (Snappy) Deserialize(in []byte) ([]byte, error) {
	out, err := snappy.Decode(nil, in)
	return out, errors.Wrap(err, "bytepipe: snappy")
}

// Lz4 compresses with the lz4 frame format.
type Lz4 struct{}

func (Lz4) Serialize(in []byte) ([]byte, error) {
	buf := &bytes.Buffer{}
	w := lz4.NewWriter(buf)
	w.NoChecksum = true
	if _, err := w.Write(in); err != nil {
		return nil, errors.Wrap(err, "bytepipe: lz4")
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, "bytepipe: lz4")
	}
	return buf.Bytes(), nil
}

func (Lz4) Deserialize(in []byte) ([]byte, error) {
	buf := &bytes.Buffer{}
	if _, err := buf.ReadFrom(lz4.NewReader(bytes.NewReader(in))); err != nil {
		return nil, errors.Wrap(err, "bytepipe: lz4")
	}
	return buf.Bytes(), nil
}

// Xz compresses with the xz container format. Slow but dense; meant for
// archival resources, not the default pipe.
type Xz struct{}

func (Xz) Serialize(in []byte) ([]byte, error) {
	buf := &bytes.Buffer{}
	w, err := xz.NewWriter(buf)
	if err != nil {
		return nil, errors.Wrap(err, "bytepipe: xz")
	}
	if _, err := w.Write(in); err != nil {
		return nil, errors.Wrap(err, "bytepipe: xz")
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, "bytepipe: xz")
	}
	return buf.Bytes(), nil
}

func (Xz) Deserialize(in []byte) ([]byte, error) {
	r, err := xz.NewReader(bytes.NewReader(in))
	if err != nil {
		return nil, errors.Wrap(err, "bytepipe: xz")
	}
	buf := &bytes.Buffer{}
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, errors.Wrap(err, "bytepipe: xz")
	}
	return buf.Bytes(), nil
}

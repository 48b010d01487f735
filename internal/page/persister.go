package page

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// Persister is the page codec: [kind: u8][kind-specific body], all
// multi-byte integers big-endian. Serialization is deterministic; maps are
// iterated in sorted key order so identical pages produce identical bytes.
type Persister struct{}

// Serialize writes the kind tag and body of p to w. Length framing is
// added by the storage layer.
func (Persister) Serialize(w io.Writer, p Page) error {
	buf := &bytes.Buffer{}
	buf.WriteByte(byte(p.Kind()))

	switch v := p.(type) {
	case *UberPage:
		serializeUber(buf, v)
	case *IndirectPage:
		serializeIndirect(buf, v)
	case *RevisionRootPage:
		serializeRevisionRoot(buf, v)
	case *NamePage:
		serializeName(buf, v)
	case *KeyValuePage:
		serializeKeyValue(buf, v)
	default:
		return errors.Wrapf(ErrUnknownPageKind, "serialize %s", p.Kind())
	}

	_, err := w.Write(buf.Bytes())
	return errors.Wrap(err, "page: serialize")
}

// Deserialize reads one page from r, dispatching on the kind tag.
func (Persister) Deserialize(r io.Reader) (Page, error) {
	var tag [1]byte
	if _, err := io.ReadFull(r, tag[:]); err != nil {
		return nil, errors.Wrap(err, "page: kind tag")
	}

	switch Kind(tag[0]) {
	case KindUber:
		return deserializeUber(r)
	case KindIndirect:
		return deserializeIndirect(r)
	case KindRevisionRoot:
		return deserializeRevisionRoot(r)
	case KindName:
		return deserializeName(r)
	case KindNode, KindPathSummary, KindTextValue, KindAttributeValue:
		return deserializeKeyValue(r, Kind(tag[0]))
	default:
		return nil, errors.Wrapf(ErrUnknownPageKind, "tag 0x%02x", tag[0])
	}
}

func putI32(buf *bytes.Buffer, v int32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	buf.Write(b[:])
}

func putI64(buf *bytes.Buffer, v int64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	buf.Write(b[:])
}

func readI32(r io.Reader) (int32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(b[:])), nil
}

func readI64(r io.Reader) (int64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b[:])), nil
}

func readU8(r io.Reader) (byte, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func putReference(buf *bytes.Buffer, ref *Reference) {
	putI64(buf, ref.Key)
	buf.WriteByte(byte(ref.Kind))
}

func readReference(r io.Reader) (*Reference, error) {
	ref := NewReference()
	key, err := readI64(r)
	if err != nil {
		return nil, err
	}
	kind, err := readU8(r)
	if err != nil {
		return nil, err
	}
	ref.Key = key
	ref.Kind = Kind(kind)
	return ref, nil
}

func serializeUber(buf *bytes.Buffer, p *UberPage) {
	putI32(buf, p.RevisionCount)
	if p.Bootstrap {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	kinds := []Kind{KindUber, KindNode, KindPathSummary, KindTextValue, KindAttributeValue}
	buf.WriteByte(byte(len(kinds)))
	for _, k := range kinds {
		buf.WriteByte(byte(k))
		exp := p.PageCountExp(k)
		for _, e := range exp {
			buf.WriteByte(byte(e))
		}
	}
	putReference(buf, p.IndirectRef)
}

func deserializeUber(r io.Reader) (*UberPage, error) {
	p := &UberPage{pageCountExp: make(map[Kind][TrieHeight]int)}
	var err error
	if p.RevisionCount, err = readI32(r); err != nil {
		return nil, errors.Wrap(err, "uber page")
	}
	flag, err := readU8(r)
	if err != nil {
		return nil, errors.Wrap(err, "uber page")
	}
	p.Bootstrap = flag == 1
	kindCount, err := readU8(r)
	if err != nil {
		return nil, errors.Wrap(err, "uber page")
	}
	for i := 0; i < int(kindCount); i++ {
		k, err := readU8(r)
		if err != nil {
			return nil, errors.Wrap(err, "uber page")
		}
		var exp [TrieHeight]int
		for l := 0; l < TrieHeight; l++ {
			e, err := readU8(r)
			if err != nil {
				return nil, errors.Wrap(err, "uber page")
			}
			exp[l] = int(e)
		}
		p.pageCountExp[Kind(k)] = exp
	}
	if p.IndirectRef, err = readReference(r); err != nil {
		return nil, errors.Wrap(err, "uber page")
	}
	return p, nil
}

func serializeIndirect(buf *bytes.Buffer, p *IndirectPage) {
	putI32(buf, p.Revision)
	for _, ref := range p.refs {
		putReference(buf, ref)
	}
}

func deserializeIndirect(r io.Reader) (*IndirectPage, error) {
	p := &IndirectPage{}
	var err error
	if p.Revision, err = readI32(r); err != nil {
		return nil, errors.Wrap(err, "indirect page")
	}
	for i := range p.refs {
		if p.refs[i], err = readReference(r); err != nil {
			return nil, errors.Wrap(err, "indirect page")
		}
	}
	return p, nil
}

func serializeRevisionRoot(buf *bytes.Buffer, p *RevisionRootPage) {
	putI32(buf, p.Revision)
	putI64(buf, p.CommitTimestamp)
	putI64(buf, p.MaxNodeKey)
	putI64(buf, p.MaxPathKey)
	putI64(buf, p.MaxTextKey)
	putI64(buf, p.MaxAttributeKey)
	putReference(buf, p.NodeRef)
	putReference(buf, p.PathRef)
	putReference(buf, p.TextRef)
	putReference(buf, p.AttributeRef)
	putReference(buf, p.NameRef)
}

func deserializeRevisionRoot(r io.Reader) (*RevisionRootPage, error) {
	p := &RevisionRootPage{}
	var err error
	if p.Revision, err = readI32(r); err != nil {
		return nil, errors.Wrap(err, "revision root")
	}
	if p.CommitTimestamp, err = readI64(r); err != nil {
		return nil, errors.Wrap(err, "revision root")
	}
	if p.MaxNodeKey, err = readI64(r); err != nil {
		return nil, errors.Wrap(err, "revision root")
	}
	if p.MaxPathKey, err = readI64(r); err != nil {
		return nil, errors.Wrap(err, "revision root")
	}
	if p.MaxTextKey, err = readI64(r); err != nil {
		return nil, errors.Wrap(err, "revision root")
	}
	if p.MaxAttributeKey, err = readI64(r); err != nil {
		return nil, errors.Wrap(err, "revision root")
	}
	for _, ref := range []**Reference{&p.NodeRef, &p.PathRef, &p.TextRef, &p.AttributeRef, &p.NameRef} {
		if *ref, err = readReference(r); err != nil {
			return nil, errors.Wrap(err, "revision root")
		}
	}
	return p, nil
}

func serializeName(buf *bytes.Buffer, p *NamePage) {
	kinds := p.nodeKinds()
	putI32(buf, int32(len(kinds)))
	for _, nodeKind := range kinds {
		buf.WriteByte(nodeKind)
		keys := p.nameKeys(nodeKind)
		putI32(buf, int32(len(keys)))
		for _, key := range keys {
			putI32(buf, key)
			putI32(buf, p.counts[nodeKind][key])
			name := p.dicts[nodeKind][key]
			putI32(buf, int32(len(name)))
			buf.WriteString(name)
		}
	}
}

func deserializeName(r io.Reader) (*NamePage, error) {
	p := NewNamePage()
	kindCount, err := readI32(r)
	if err != nil {
		return nil, errors.Wrap(err, "name page")
	}
	for i := int32(0); i < kindCount; i++ {
		nodeKind, err := readU8(r)
		if err != nil {
			return nil, errors.Wrap(err, "name page")
		}
		entryCount, err := readI32(r)
		if err != nil {
			return nil, errors.Wrap(err, "name page")
		}
		dict := make(map[int32]string, entryCount)
		counts := make(map[int32]int32, entryCount)
		for j := int32(0); j < entryCount; j++ {
			key, err := readI32(r)
			if err != nil {
				return nil, errors.Wrap(err, "name page")
			}
			count, err := readI32(r)
			if err != nil {
				return nil, errors.Wrap(err, "name page")
			}
			nameLen, err := readI32(r)
			if err != nil {
				return nil, errors.Wrap(err, "name page")
			}
			if nameLen < 0 {
				return nil, errors.Wrapf(ErrCorruptPage, "name length %d", nameLen)
			}
			name := make([]byte, nameLen)
			if _, err := io.ReadFull(r, name); err != nil {
				return nil, errors.Wrap(err, "name page")
			}
			dict[key] = string(name)
			counts[key] = count
		}
		p.dicts[nodeKind] = dict
		p.counts[nodeKind] = counts
	}
	return p, nil
}

const fullDumpFlag byte = 0x01

func serializeKeyValue(buf *bytes.Buffer, p *KeyValuePage) {
	putI64(buf, p.PageKey)
	putI32(buf, p.Revision)
	var flags byte
	if p.FullDump {
		flags |= fullDumpFlag
	}
	buf.WriteByte(flags)
	putI64(buf, p.Previous)
	keys := p.Keys()
	putI32(buf, int32(len(keys)))
	for _, key := range keys {
		rec := p.entries[key]
		putI64(buf, rec.Key)
		buf.WriteByte(byte(rec.Kind))
		putI32(buf, int32(len(rec.Data)))
		buf.Write(rec.Data)
	}
}

func deserializeKeyValue(r io.Reader, kind Kind) (*KeyValuePage, error) {
	p := &KeyValuePage{RecKind: kind, entries: make(map[int64]*Record)}
	var err error
	if p.PageKey, err = readI64(r); err != nil {
		return nil, errors.Wrap(err, "record page")
	}
	if p.Revision, err = readI32(r); err != nil {
		return nil, errors.Wrap(err, "record page")
	}
	flags, err := readU8(r)
	if err != nil {
		return nil, errors.Wrap(err, "record page")
	}
	p.FullDump = flags&fullDumpFlag != 0
	if p.Previous, err = readI64(r); err != nil {
		return nil, errors.Wrap(err, "record page")
	}
	entryCount, err := readI32(r)
	if err != nil {
		return nil, errors.Wrap(err, "record page")
	}
	if entryCount < 0 || entryCount > LeafSize {
		return nil, errors.Wrapf(ErrCorruptPage, "entry count %d", entryCount)
	}
	for i := int32(0); i < entryCount; i++ {
		key, err := readI64(r)
		if err != nil {
			return nil, errors.Wrap(err, "record page")
		}
		recKind, err := readU8(r)
		if err != nil {
			return nil, errors.Wrap(err, "record page")
		}
		dataLen, err := readI32(r)
		if err != nil {
			return nil, errors.Wrap(err, "record page")
		}
		if dataLen < 0 {
			return nil, errors.Wrapf(ErrCorruptPage, "record length %d", dataLen)
		}
		data := make([]byte, dataLen)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, errors.Wrap(err, "record page")
		}
		p.entries[key] = &Record{Key: key, Kind: Kind(recKind), Data: data}
	}
	return p, nil
}

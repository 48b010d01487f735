package page

// Record is one entry of a record page: an opaque payload owned by the
// layers above (node model, path summary, value indexes), addressed by a
// dense non-negative key. The engine never inspects Data; it only moves
// records between page versions and shadows them with tombstones.
type Record struct {
	Key  int64
	Kind Kind
	Data []byte
}

// NodeKey returns the record's key.
func (r *Record) NodeKey() int64 { return r.Key }

// Deleted reports whether the record is a tombstone.
func (r *Record) Deleted() bool { return r.Kind == KindDeletedRecord }

// Tombstone builds the deletion marker that shadows older versions of key.
func Tombstone(key int64) *Record {
	return &Record{Key: key, Kind: KindDeletedRecord}
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	data := make([]byte, len(r.Data))
	copy(data, r.Data)
	return &Record{Key: r.Key, Kind: r.Kind, Data: data}
}

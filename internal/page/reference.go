package page

// Reference is the ownership edge from a parent page to a child. Key is
// the absolute byte offset of the serialized child in the data file, or
// NullID while the child only exists in memory or in the transaction log.
type Reference struct {
	Key    int64 // file key: data-file offset, NullID if not persisted
	LogKey int64 // transaction-log key, NullID if not logged
	Page   Page  // cached in-memory child, may be nil
	Kind   Kind  // child page kind

	// KeyValuePageKey is the child's page key when the child is a record
	// page leaf, NullID otherwise. Routes commit to the right subtree log.
	KeyValuePageKey int64

	// Hash is the content hash of the serialized child body, set by the
	// writer when the child goes to disk.
	Hash []byte
}

// NewReference returns a reference with no persisted child.
func NewReference() *Reference {
	return &Reference{Key: NullID, LogKey: NullID, KeyValuePageKey: NullID}
}

// IsNull reports whether the reference has neither a persisted child nor
// an in-memory one.
func (r *Reference) IsNull() bool {
	return r == nil || (r.Key == NullID && r.Page == nil)
}

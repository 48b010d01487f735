package page

import "sort"

// KeyValuePage is a record-page leaf: a bounded mapping from record key to
// record. On disk a version is either a full dump or a delta against an
// older version reachable through Previous.
type KeyValuePage struct {
	dirtyable

	PageKey  int64
	Revision int32
	RecKind  Kind // subtree discriminator: node/pathSummary/textValue/attributeValue

	// FullDump marks a version whose entries are the whole page content.
	// Delta versions chain to their predecessor via Previous.
	FullDump bool
	Previous int64 // file key of the prior version, NullID for full dumps

	entries map[int64]*Record
}

// NewKeyValuePage returns an empty record page for the given subtree.
func NewKeyValuePage(pageKey int64, revision int32, kind Kind) *KeyValuePage {
	return &KeyValuePage{
		PageKey:  pageKey,
		Revision: revision,
		RecKind:  kind,
		Previous: NullID,
		entries:  make(map[int64]*Record),
	}
}

func (p *KeyValuePage) Kind() Kind               { return p.RecKind }
func (p *KeyValuePage) References() []*Reference { return nil }

// Value returns the record stored under key, or nil.
func (p *KeyValuePage) Value(key int64) *Record {
	return p.entries[key]
}

// SetEntry stores a record, replacing any prior entry for its key.
func (p *KeyValuePage) SetEntry(rec *Record) {
	p.entries[rec.Key] = rec
	p.dirty = true
}

// Len returns the number of entries, tombstones included.
func (p *KeyValuePage) Len() int { return len(p.entries) }

// Keys returns the entry keys in ascending order. Serialization iterates
// this so identical pages produce byte-identical output.
func (p *KeyValuePage) Keys() []int64 {
	keys := make([]int64, 0, len(p.entries))
	for k := range p.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Clone returns a deep copy tagged with the given revision.
func (p *KeyValuePage) Clone(revision int32) *KeyValuePage {
	c := NewKeyValuePage(p.PageKey, revision, p.RecKind)
	c.FullDump = p.FullDump
	c.Previous = p.Previous
	for k, v := range p.entries {
		c.entries[k] = v.Clone()
	}
	return c
}

// MergeOlder copies entries of an older version that the newer page does
// not shadow. Tombstones count as entries, so a newer deletion wins.
func (p *KeyValuePage) MergeOlder(older *KeyValuePage) {
	for k, v := range older.entries {
		if _, ok := p.entries[k]; !ok {
			p.entries[k] = v
		}
	}
}

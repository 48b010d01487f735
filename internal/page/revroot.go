package page

// RevisionRootPage anchors one revision: the roots of the four record-page
// subtrees, the name page, and the maximum allocated record key per
// subtree (-1 while a subtree is empty).
type RevisionRootPage struct {
	dirtyable

	Revision        int32
	CommitTimestamp int64 // unix millis, set during commit

	MaxNodeKey      int64
	MaxPathKey      int64
	MaxTextKey      int64
	MaxAttributeKey int64

	NodeRef      *Reference
	PathRef      *Reference
	TextRef      *Reference
	AttributeRef *Reference
	NameRef      *Reference
}

// NewRevisionRootPage returns the empty root of the given revision.
func NewRevisionRootPage(revision int32) *RevisionRootPage {
	return &RevisionRootPage{
		Revision:        revision,
		MaxNodeKey:      -1,
		MaxPathKey:      -1,
		MaxTextKey:      -1,
		MaxAttributeKey: -1,
		NodeRef:         NewReference(),
		PathRef:         NewReference(),
		TextRef:         NewReference(),
		AttributeRef:    NewReference(),
		NameRef:         NewReference(),
	}
}

// CopyRevisionRootPage clones a committed root as the starting point of
// the next revision, keeping subtree file keys and max record keys.
func CopyRevisionRootPage(src *RevisionRootPage, revision int32) *RevisionRootPage {
	p := NewRevisionRootPage(revision)
	p.MaxNodeKey = src.MaxNodeKey
	p.MaxPathKey = src.MaxPathKey
	p.MaxTextKey = src.MaxTextKey
	p.MaxAttributeKey = src.MaxAttributeKey
	p.NodeRef.Key = src.NodeRef.Key
	p.PathRef.Key = src.PathRef.Key
	p.TextRef.Key = src.TextRef.Key
	p.AttributeRef.Key = src.AttributeRef.Key
	p.NameRef.Key = src.NameRef.Key
	return p
}

func (p *RevisionRootPage) Kind() Kind { return KindRevisionRoot }

func (p *RevisionRootPage) References() []*Reference {
	return []*Reference{p.NodeRef, p.PathRef, p.TextRef, p.AttributeRef, p.NameRef}
}

// SubtreeReference returns the root edge of the record subtree for kind.
// Callers must pass a record kind; anything else is a programming error.
func (p *RevisionRootPage) SubtreeReference(kind Kind) *Reference {
	switch kind {
	case KindNode:
		return p.NodeRef
	case KindPathSummary:
		return p.PathRef
	case KindTextValue:
		return p.TextRef
	case KindAttributeValue:
		return p.AttributeRef
	default:
		panic("page: not a record subtree: " + kind.String())
	}
}

// MaxRecordKey returns the highest allocated record key of the subtree.
func (p *RevisionRootPage) MaxRecordKey(kind Kind) int64 {
	switch kind {
	case KindNode:
		return p.MaxNodeKey
	case KindPathSummary:
		return p.MaxPathKey
	case KindTextValue:
		return p.MaxTextKey
	case KindAttributeValue:
		return p.MaxAttributeKey
	default:
		panic("page: not a record subtree: " + kind.String())
	}
}

// IncrementMaxRecordKey allocates the next record key of the subtree.
func (p *RevisionRootPage) IncrementMaxRecordKey(kind Kind) int64 {
	p.dirty = true
	switch kind {
	case KindNode:
		p.MaxNodeKey++
		return p.MaxNodeKey
	case KindPathSummary:
		p.MaxPathKey++
		return p.MaxPathKey
	case KindTextValue:
		p.MaxTextKey++
		return p.MaxTextKey
	case KindAttributeValue:
		p.MaxAttributeKey++
		return p.MaxAttributeKey
	default:
		panic("page: not a record subtree: " + kind.String())
	}
}

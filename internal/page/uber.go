package page

// UberPage is the single mutable anchor of a resource. It counts committed
// revisions and roots the indirect trie whose leaves are revision-root
// pages. The beacon at the head of the data file points at the most
// recently committed uber page.
type UberPage struct {
	dirtyable

	RevisionCount int32
	Bootstrap     bool
	IndirectRef   *Reference

	// pageCountExp holds the per-level shift table for the uber trie and
	// each record subtree, keyed by page kind.
	pageCountExp map[Kind][TrieHeight]int
}

// NewUberPage returns the bootstrap uber page of a fresh resource: one
// (empty) revision exists and nothing is persisted yet.
func NewUberPage() *UberPage {
	p := &UberPage{
		RevisionCount: 1,
		Bootstrap:     true,
		IndirectRef:   NewReference(),
	}
	p.initPageCountExp()
	p.dirty = true
	return p
}

// CopyUberPage clones the committed uber page as the anchor of the next
// revision. The clone is no longer a bootstrap page.
func CopyUberPage(src *UberPage) *UberPage {
	p := &UberPage{
		RevisionCount: src.RevisionCount + 1,
		Bootstrap:     false,
		IndirectRef:   NewReference(),
	}
	p.IndirectRef.Key = src.IndirectRef.Key
	p.IndirectRef.Kind = KindIndirect
	p.initPageCountExp()
	p.dirty = true
	return p
}

func (p *UberPage) initPageCountExp() {
	p.pageCountExp = map[Kind][TrieHeight]int{
		KindUber:           DefaultPageCountExp,
		KindNode:           DefaultPageCountExp,
		KindPathSummary:    DefaultPageCountExp,
		KindTextValue:      DefaultPageCountExp,
		KindAttributeValue: DefaultPageCountExp,
	}
}

func (p *UberPage) Kind() Kind               { return KindUber }
func (p *UberPage) References() []*Reference { return []*Reference{p.IndirectRef} }

// Revision returns the number of the most recent committed revision.
func (p *UberPage) Revision() int32 { return p.RevisionCount - 1 }

// PageCountExp returns the trie shift table for the given page kind. The
// uber trie of revision roots is addressed with KindUber.
func (p *UberPage) PageCountExp(kind Kind) [TrieHeight]int {
	exp, ok := p.pageCountExp[kind]
	if !ok {
		panic("page: no trie for kind " + kind.String())
	}
	return exp
}

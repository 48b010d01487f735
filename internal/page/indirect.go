package page

// IndirectPage is an interior node of the trie: a fixed array of child
// references addressed by the per-level offset of the page key.
type IndirectPage struct {
	dirtyable

	Revision int32
	refs     [IndirectReferenceCount]*Reference
}

// NewIndirectPage returns an indirect page with all slots unreferenced.
func NewIndirectPage(revision int32) *IndirectPage {
	p := &IndirectPage{Revision: revision}
	for i := range p.refs {
		p.refs[i] = NewReference()
	}
	return p
}

// CopyIndirectPage clones an existing indirect page for copy-on-write,
// keeping the child file keys but dropping cached pages and log keys.
func CopyIndirectPage(src *IndirectPage, revision int32) *IndirectPage {
	p := &IndirectPage{Revision: revision}
	for i, r := range src.refs {
		ref := NewReference()
		ref.Key = r.Key
		ref.Kind = r.Kind
		p.refs[i] = ref
	}
	return p
}

func (p *IndirectPage) Kind() Kind { return KindIndirect }

func (p *IndirectPage) References() []*Reference { return p.refs[:] }

// Reference returns the child edge at the given slot.
func (p *IndirectPage) Reference(offset int) *Reference { return p.refs[offset] }

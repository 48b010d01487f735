package sirixdb

import (
	"github.com/pkg/errors"

	"sirixdb/internal/page"
)

// trieStep splits a page key into the slot at the current level and the
// remainder consumed by the levels below.
func trieStep(levelKey int64, exp int) (offset int64, rest int64) {
	offset = levelKey >> exp
	rest = levelKey - offset<<exp
	return offset, rest
}

// resolveTriePath walks the indirect trie from start to the leaf reference
// of key. It returns nil when an indirect page on the path was never
// materialized; a leaf slot that was never written comes back as a null
// reference.
func resolveTriePath(start *page.Reference, key int64, exp [page.TrieHeight]int,
	deref func(*page.Reference) (page.Page, error)) (*page.Reference, error) {

	ref := start
	levelKey := key
	for level := 0; level < page.TrieHeight; level++ {
		if ref.IsNull() {
			return nil, nil
		}
		p, err := deref(ref)
		if err != nil {
			return nil, err
		}
		indirect, ok := p.(*page.IndirectPage)
		if !ok {
			return nil, errors.Wrapf(ErrCorruptPage, "trie level %d holds %s page", level, p.Kind())
		}
		offset, rest := trieStep(levelKey, exp[level])
		if offset < 0 || offset >= page.IndirectReferenceCount {
			return nil, errors.Wrapf(ErrNegativeKey, "page key %d out of trie range", key)
		}
		levelKey = rest
		ref = indirect.Reference(int(offset))
	}
	return ref, nil
}

// prepareTriePath is the copy-on-write walk: at each level the current
// indirect page is copied for the new revision (or created fresh), then
// the walk descends. prepared, when non-nil, is told about every indirect
// page installed on the path so the write transaction can log it.
func prepareTriePath(start *page.Reference, key int64, exp [page.TrieHeight]int, revision int32,
	deref func(*page.Reference) (page.Page, error),
	prepared func(*page.Reference, *page.IndirectPage) error) (*page.Reference, error) {

	ref := start
	levelKey := key
	for level := 0; level < page.TrieHeight; level++ {
		indirect, err := prepareIndirect(ref, revision, deref)
		if err != nil {
			return nil, err
		}
		if prepared != nil {
			if err := prepared(ref, indirect); err != nil {
				return nil, err
			}
		}
		offset, rest := trieStep(levelKey, exp[level])
		if offset < 0 || offset >= page.IndirectReferenceCount {
			return nil, errors.Wrapf(ErrNegativeKey, "page key %d out of trie range", key)
		}
		levelKey = rest
		ref = indirect.Reference(int(offset))
	}
	return ref, nil
}

// prepareIndirect returns the modifiable indirect page behind ref,
// installing a fresh or copied one on first touch.
func prepareIndirect(ref *page.Reference, revision int32,
	deref func(*page.Reference) (page.Page, error)) (*page.IndirectPage, error) {

	if existing, ok := ref.Page.(*page.IndirectPage); ok {
		return existing, nil
	}

	var indirect *page.IndirectPage
	if ref.Key == page.NullID {
		indirect = page.NewIndirectPage(revision)
	} else {
		p, err := deref(ref)
		if err != nil {
			return nil, err
		}
		src, ok := p.(*page.IndirectPage)
		if !ok {
			return nil, errors.Wrapf(ErrCorruptPage, "expected indirect page, got %s", p.Kind())
		}
		indirect = page.CopyIndirectPage(src, revision)
	}
	indirect.SetDirty(true)
	ref.Page = indirect
	ref.Kind = page.KindIndirect
	return indirect, nil
}

package version

import (
	"fmt"

	"sirixdb/internal/page"
)

// Policy selects how record-page versions are written and recombined.
//
// Merge semantics are shared: an entry is taken from the newest version
// containing it, tombstones shadow older entries, and merging stops at the
// nearest full dump. The policies differ in what a commit emits and in how
// much history a read touches.
type Policy int

const (
	// Full writes the whole page every revision; reads touch one version.
	Full Policy = iota

	// Differential writes the cumulative diff since the last full dump;
	// reads touch at most two versions.
	Differential

	// Incremental writes the diff against the previous revision; reads
	// touch up to revisionsToRestore versions.
	Incremental

	// SlidingSnapshot writes the diff against the previous revision and
	// carries forward entries about to slide out of the window, so reads
	// stay bounded without periodic full dumps.
	SlidingSnapshot
)

func (p Policy) String() string {
	switch p {
	case Full:
		return "FULL"
	case Differential:
		return "DIFFERENTIAL"
	case Incremental:
		return "INCREMENTAL"
	case SlidingSnapshot:
		return "SLIDING_SNAPSHOT"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// MaxHistory returns how many versions a read may need to materialize a
// page.
func (p Policy) MaxHistory(revisionsToRestore int) int {
	switch p {
	case Full:
		return 1
	case Differential:
		return 2
	default:
		return revisionsToRestore
	}
}

// CombineForRead merges the historical versions of a page, newest first,
// into the complete in-memory view.
func (p Policy) CombineForRead(versions []*page.KeyValuePage) *page.KeyValuePage {
	if len(versions) == 0 {
		return nil
	}
	complete := versions[0].Clone(versions[0].Revision)
	if p != Full {
		for _, older := range versions[1:] {
			complete.MergeOlder(older)
		}
	}
	complete.SetDirty(false)
	return complete
}

// CombineForModification produces the container staging this page for
// newRevision. Complete is the merged read view retagged to the new
// revision; Modified holds what the commit must emit beyond the
// transaction's own changes. The milestone decision is made here, from
// the page's own history: a page written in every revision produces a
// full dump each revisionsToRestore'th version.
func (p Policy) CombineForModification(versions []*page.KeyValuePage,
	revisionsToRestore int, newRevision int32) *Container {

	if len(versions) == 0 {
		return nil
	}
	merged := p.CombineForRead(versions)
	complete := merged.Clone(newRevision)

	fullDump := p.fullDumpNext(versions, revisionsToRestore, newRevision)

	var modified *page.KeyValuePage
	switch {
	case fullDump:
		modified = complete.Clone(newRevision)
	case p == Differential:
		// Deltas are cumulative since the last full dump, so the new delta
		// starts from the newest one (empty right after a full dump).
		if versions[0].FullDump {
			modified = page.NewKeyValuePage(complete.PageKey, newRevision, complete.RecKind)
		} else {
			modified = versions[0].Clone(newRevision)
		}
	case p == SlidingSnapshot && len(versions) >= revisionsToRestore:
		// Entries visible only through the version sliding out of the
		// window are re-emitted so the window stays self-contained.
		modified = page.NewKeyValuePage(complete.PageKey, newRevision, complete.RecKind)
		oldest := versions[len(versions)-1]
		for _, key := range oldest.Keys() {
			if shadowedBy(key, versions[:len(versions)-1]) {
				continue
			}
			modified.SetEntry(oldest.Value(key).Clone())
		}
	default:
		modified = page.NewKeyValuePage(complete.PageKey, newRevision, complete.RecKind)
	}
	modified.SetDirty(false)
	complete.SetDirty(false)

	return &Container{
		Complete:       complete,
		Modified:       modified,
		FullDumpNext:   fullDump,
		PrevOffset:     page.NullID,
		LastFullOffset: page.NullID,
	}
}

// fullDumpNext decides whether the version emitted for newRevision must
// be a full dump.
func (p Policy) fullDumpNext(versions []*page.KeyValuePage, revisionsToRestore int,
	newRevision int32) bool {

	switch p {
	case Full:
		return true
	case Differential:
		for _, v := range versions {
			if v.FullDump {
				return newRevision-v.Revision >= int32(revisionsToRestore)
			}
		}
		return true
	case Incremental:
		return len(versions) >= revisionsToRestore
	default:
		return false
	}
}

func shadowedBy(key int64, newer []*page.KeyValuePage) bool {
	for _, v := range newer {
		if v.Value(key) != nil {
			return true
		}
	}
	return false
}

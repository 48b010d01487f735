// Package version implements the revisioning policies that decide how
// record-page versions are laid out on disk and merged back together.
package version

import "sirixdb/internal/page"

// Container stages the changes of one record page inside a write
// transaction: Complete is the read view materialized from history,
// Modified the overlay that will diverge in this transaction.
type Container struct {
	Complete *page.KeyValuePage
	Modified *page.KeyValuePage

	// Fresh marks a page with no persisted history; its first version must
	// be a full dump regardless of the milestone rule.
	Fresh bool

	// FullDumpNext is the milestone decision: the commit emits Complete as
	// a full dump instead of Modified as a delta.
	FullDumpNext bool

	// PrevOffset is the file key of the newest persisted version,
	// LastFullOffset that of the newest full dump. Deltas chain to one of
	// the two depending on the policy.
	PrevOffset     int64
	LastFullOffset int64
}

// NewFreshContainer stages a record page that has never been persisted.
func NewFreshContainer(pageKey int64, revision int32, kind page.Kind) *Container {
	return &Container{
		Complete:       page.NewKeyValuePage(pageKey, revision, kind),
		Modified:       page.NewKeyValuePage(pageKey, revision, kind),
		Fresh:          true,
		PrevOffset:     page.NullID,
		LastFullOffset: page.NullID,
	}
}

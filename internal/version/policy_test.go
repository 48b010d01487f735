package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sirixdb/internal/page"
)

func rec(key int64, data string) *page.Record {
	return &page.Record{Key: key, Kind: page.KindNode, Data: []byte(data)}
}

// history builds a version list newest-first.
func history(pages ...*page.KeyValuePage) []*page.KeyValuePage {
	return pages
}

func TestCombineForReadNewestWins(t *testing.T) {
	t.Parallel()

	full := page.NewKeyValuePage(0, 1, page.KindNode)
	full.FullDump = true
	full.SetEntry(rec(0, "v1"))
	full.SetEntry(rec(1, "v1"))

	delta := page.NewKeyValuePage(0, 2, page.KindNode)
	delta.SetEntry(rec(0, "v2"))

	for _, policy := range []Policy{Differential, Incremental, SlidingSnapshot} {
		combined := policy.CombineForRead(history(delta, full))
		require.NotNil(t, combined, policy.String())
		assert.Equal(t, "v2", string(combined.Value(0).Data), policy.String())
		assert.Equal(t, "v1", string(combined.Value(1).Data), policy.String())
	}
}

func TestCombineForReadTombstoneShadows(t *testing.T) {
	t.Parallel()

	full := page.NewKeyValuePage(0, 1, page.KindNode)
	full.FullDump = true
	full.SetEntry(rec(3, "live"))

	delta := page.NewKeyValuePage(0, 2, page.KindNode)
	delta.SetEntry(page.Tombstone(3))

	combined := Incremental.CombineForRead(history(delta, full))
	require.NotNil(t, combined.Value(3))
	assert.True(t, combined.Value(3).Deleted())
}

func TestCombineForReadFullIgnoresHistory(t *testing.T) {
	t.Parallel()

	newest := page.NewKeyValuePage(0, 2, page.KindNode)
	newest.FullDump = true
	newest.SetEntry(rec(0, "v2"))

	older := page.NewKeyValuePage(0, 1, page.KindNode)
	older.FullDump = true
	older.SetEntry(rec(1, "v1"))

	combined := Full.CombineForRead(history(newest, older))
	assert.NotNil(t, combined.Value(0))
	assert.Nil(t, combined.Value(1))
}

func TestCombineForModificationFull(t *testing.T) {
	t.Parallel()

	v1 := page.NewKeyValuePage(0, 1, page.KindNode)
	v1.FullDump = true
	v1.SetEntry(rec(0, "v1"))

	cont := Full.CombineForModification(history(v1), 4, 2)
	require.NotNil(t, cont)
	assert.True(t, cont.FullDumpNext)
	assert.Equal(t, int32(2), cont.Complete.Revision)
	assert.Equal(t, 1, cont.Modified.Len())
}

func TestCombineForModificationDifferential(t *testing.T) {
	t.Parallel()

	full := page.NewKeyValuePage(0, 1, page.KindNode)
	full.FullDump = true
	full.SetEntry(rec(0, "base"))

	// Right after a full dump the new delta starts empty.
	cont := Differential.CombineForModification(history(full), 4, 2)
	assert.False(t, cont.FullDumpNext)
	assert.Equal(t, 0, cont.Modified.Len())

	// A later delta carries the cumulative diff forward.
	delta := page.NewKeyValuePage(0, 2, page.KindNode)
	delta.SetEntry(rec(1, "diff"))
	cont = Differential.CombineForModification(history(delta, full), 4, 3)
	assert.False(t, cont.FullDumpNext)
	assert.Equal(t, 1, cont.Modified.Len())
	assert.NotNil(t, cont.Modified.Value(1))

	// Once the distance to the full dump reaches the window, dump again.
	cont = Differential.CombineForModification(history(delta, full), 4, 5)
	assert.True(t, cont.FullDumpNext)
}

func TestCombineForModificationIncrementalWindow(t *testing.T) {
	t.Parallel()

	// Version chain [v4 v3 v2 v1(full)]: the fifth write must full-dump.
	v1 := page.NewKeyValuePage(0, 1, page.KindNode)
	v1.FullDump = true
	v1.SetEntry(rec(0, "v1"))
	v2 := page.NewKeyValuePage(0, 2, page.KindNode)
	v2.SetEntry(rec(0, "v2"))
	v3 := page.NewKeyValuePage(0, 3, page.KindNode)
	v3.SetEntry(rec(0, "v3"))
	v4 := page.NewKeyValuePage(0, 4, page.KindNode)
	v4.SetEntry(rec(0, "v4"))

	cont := Incremental.CombineForModification(history(v2, v1), 4, 3)
	assert.False(t, cont.FullDumpNext)
	assert.Equal(t, 0, cont.Modified.Len())

	cont = Incremental.CombineForModification(history(v4, v3, v2, v1), 4, 5)
	assert.True(t, cont.FullDumpNext)
	assert.Equal(t, "v4", string(cont.Complete.Value(0).Data))
}

func TestCombineForModificationSlidingCarry(t *testing.T) {
	t.Parallel()

	// Key 9 only exists in the version about to slide out; it must be
	// carried into the new delta. Key 0 is shadowed by newer versions.
	v1 := page.NewKeyValuePage(0, 1, page.KindNode)
	v1.FullDump = true
	v1.SetEntry(rec(0, "v1"))
	v1.SetEntry(rec(9, "only-old"))
	v2 := page.NewKeyValuePage(0, 2, page.KindNode)
	v2.SetEntry(rec(0, "v2"))
	v3 := page.NewKeyValuePage(0, 3, page.KindNode)
	v3.SetEntry(rec(0, "v3"))
	v4 := page.NewKeyValuePage(0, 4, page.KindNode)
	v4.SetEntry(rec(0, "v4"))

	cont := SlidingSnapshot.CombineForModification(history(v4, v3, v2, v1), 4, 5)
	assert.False(t, cont.FullDumpNext)
	require.NotNil(t, cont.Modified.Value(9))
	assert.Equal(t, "only-old", string(cont.Modified.Value(9).Data))
	assert.Nil(t, cont.Modified.Value(0))
}

func TestMaxHistory(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1, Full.MaxHistory(4))
	assert.Equal(t, 2, Differential.MaxHistory(4))
	assert.Equal(t, 4, Incremental.MaxHistory(4))
	assert.Equal(t, 4, SlidingSnapshot.MaxHistory(4))
}

func TestContainerCodecRoundTrip(t *testing.T) {
	t.Parallel()

	cont := NewFreshContainer(5, 2, page.KindAttributeValue)
	cont.Modified.SetEntry(rec(5<<page.LeafBits, "staged"))
	cont.PrevOffset = 4242
	cont.LastFullOffset = 1212
	cont.FullDumpNext = true

	data, err := MarshalContainer(cont)
	require.NoError(t, err)

	out, err := UnmarshalContainer(data)
	require.NoError(t, err)
	assert.True(t, out.Fresh)
	assert.True(t, out.FullDumpNext)
	assert.Equal(t, int64(4242), out.PrevOffset)
	assert.Equal(t, int64(1212), out.LastFullOffset)
	assert.Equal(t, 0, out.Complete.Len())
	require.Equal(t, 1, out.Modified.Len())
	assert.Equal(t, "staged", string(out.Modified.Value(5<<page.LeafBits).Data))
}

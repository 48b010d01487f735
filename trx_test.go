package sirixdb

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sirixdb/internal/page"
)

func commitRecord(t *testing.T, res *Resource, data string) *page.Record {
	t.Helper()
	wtx, err := res.BeginWrite()
	require.NoError(t, err)
	rec, err := wtx.CreateEntry(nodeRecord(data), page.KindNode)
	require.NoError(t, err)
	_, err = wtx.Commit()
	require.NoError(t, err)
	require.NoError(t, wtx.Close())
	return rec
}

func updateRecord(t *testing.T, res *Resource, key int64, data string) {
	t.Helper()
	wtx, err := res.BeginWrite()
	require.NoError(t, err)
	rec, err := wtx.PrepareEntryForModification(key, page.KindNode)
	require.NoError(t, err)
	rec.Data = []byte(data)
	require.NoError(t, wtx.FinishEntryModification(key, page.KindNode))
	_, err = wtx.Commit()
	require.NoError(t, err)
	require.NoError(t, wtx.Close())
}

func readRecord(t *testing.T, res *Resource, revision int32, key int64) (*page.Record, error) {
	t.Helper()
	rtx, err := res.BeginRead(revision)
	require.NoError(t, err)
	defer rtx.Close()
	return rtx.GetRecord(key, page.KindNode)
}

// Single insert: the auto-assigned key is 0 and the committed revision 1.
func TestSingleInsert(t *testing.T) {
	t.Parallel()

	res, _ := openResource(t)

	wtx, err := res.BeginWrite()
	require.NoError(t, err)
	rec, err := wtx.CreateEntry(nodeRecord("r0"), page.KindNode)
	require.NoError(t, err)
	assert.Equal(t, int64(0), rec.Key)

	// Read-your-writes inside the transaction.
	got, err := wtx.GetRecord(0, page.KindNode)
	require.NoError(t, err)
	assert.Equal(t, []byte("r0"), got.Data)

	rev, err := wtx.Commit()
	require.NoError(t, err)
	assert.Equal(t, int32(1), rev)
	require.NoError(t, wtx.Close())

	got, err = readRecord(t, res, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("r0"), got.Data)
}

// Two inserts across revisions stay visible at their own revisions only.
func TestInsertsAcrossRevisions(t *testing.T) {
	t.Parallel()

	res, _ := openResource(t)

	r0 := commitRecord(t, res, "r0")
	r1 := commitRecord(t, res, "r1")
	require.Equal(t, int64(0), r0.Key)
	require.Equal(t, int64(1), r1.Key)

	got, err := readRecord(t, res, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("r0"), got.Data)

	got, err = readRecord(t, res, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("r0"), got.Data)

	_, err = readRecord(t, res, 1, 1)
	assert.ErrorIs(t, err, ErrNotFound)

	got, err = readRecord(t, res, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte("r1"), got.Data)
}

// Delete visibility: tombstones shadow the record at the delete revision
// and at every later revision.
func TestDeleteVisibility(t *testing.T) {
	t.Parallel()

	res, _ := openResource(t)
	commitRecord(t, res, "r0")

	wtx, err := res.BeginWrite()
	require.NoError(t, err)
	require.NoError(t, wtx.RemoveEntry(0, page.KindNode))
	_, err = wtx.GetRecord(0, page.KindNode)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = wtx.Commit()
	require.NoError(t, err)
	require.NoError(t, wtx.Close())

	got, err := readRecord(t, res, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("r0"), got.Data)

	_, err = readRecord(t, res, 2, 0)
	assert.ErrorIs(t, err, ErrNotFound)

	// Still gone in later revisions.
	commitRecord(t, res, "other")
	_, err = readRecord(t, res, 3, 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

// Immutability of the past: committing a new revision does not change
// what an older revision returns.
func TestPastRevisionImmutable(t *testing.T) {
	t.Parallel()

	res, _ := openResource(t)
	commitRecord(t, res, "original")

	before, err := readRecord(t, res, 1, 0)
	require.NoError(t, err)

	updateRecord(t, res, 0, "changed")

	after, err := readRecord(t, res, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, before.Data, after.Data)
	assert.Equal(t, []byte("original"), after.Data)

	got, err := readRecord(t, res, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("changed"), got.Data)
}

// Container-slot protocol: staging twice without finishing fails.
func TestContainerSlotProtocol(t *testing.T) {
	t.Parallel()

	res, _ := openResource(t)
	commitRecord(t, res, "a")
	commitRecord(t, res, "b")

	wtx, err := res.BeginWrite()
	require.NoError(t, err)
	defer wtx.Close()

	_, err = wtx.PrepareEntryForModification(0, page.KindNode)
	require.NoError(t, err)

	_, err = wtx.PrepareEntryForModification(1, page.KindNode)
	assert.ErrorIs(t, err, ErrContainerInUse)

	require.NoError(t, wtx.FinishEntryModification(0, page.KindNode))

	_, err = wtx.PrepareEntryForModification(1, page.KindNode)
	require.NoError(t, err)
	require.NoError(t, wtx.FinishEntryModification(1, page.KindNode))
}

func TestFinishWithoutPrepare(t *testing.T) {
	t.Parallel()

	res, _ := openResource(t)
	commitRecord(t, res, "a")

	wtx, err := res.BeginWrite()
	require.NoError(t, err)
	defer wtx.Close()

	assert.ErrorIs(t, wtx.FinishEntryModification(0, page.KindNode), ErrNoContainer)
}

func TestInvalidArguments(t *testing.T) {
	t.Parallel()

	res, _ := openResource(t)

	wtx, err := res.BeginWrite()
	require.NoError(t, err)
	defer wtx.Close()

	_, err = wtx.PrepareEntryForModification(-1, page.KindNode)
	assert.ErrorIs(t, err, ErrNegativeKey)
	_, err = wtx.GetRecord(-5, page.KindNode)
	assert.ErrorIs(t, err, ErrNegativeKey)
	_, err = wtx.GetRecord(0, page.KindName)
	assert.ErrorIs(t, err, ErrNotRecordKind)
}

// Milestone emission under INCREMENTAL with a window of 4: five writes of
// the same key produce version tags [full, delta, delta, delta, full].
func TestIncrementalMilestoneEmission(t *testing.T) {
	t.Parallel()

	res, _ := openResource(t, WithPolicy(Incremental), WithRevisionsToRestore(4))
	commitRecord(t, res, "v1")
	for i := 2; i <= 5; i++ {
		updateRecord(t, res, 0, "v"+string(rune('0'+i)))
	}

	wantFull := []bool{true, false, false, false, true}
	for rev := int32(1); rev <= 5; rev++ {
		rtx, err := res.BeginRead(rev)
		require.NoError(t, err)

		leaf, err := resolveTriePath(rtx.root.SubtreeReference(page.KindNode), 0,
			rtx.uber.PageCountExp(page.KindNode), rtx.dereference)
		require.NoError(t, err)
		require.NotNil(t, leaf)

		p, err := rtx.dereference(leaf)
		require.NoError(t, err)
		kv, ok := p.(*page.KeyValuePage)
		require.True(t, ok)
		assert.Equal(t, wantFull[rev-1], kv.FullDump, "revision %d", rev)
		assert.Equal(t, rev, kv.Revision, "revision %d", rev)

		require.NoError(t, rtx.Close())
	}
}

// Every policy must produce the same logical state across a mixed
// workload of inserts, updates, and deletes.
func TestPoliciesAgreeOnLogicalState(t *testing.T) {
	t.Parallel()

	for _, policy := range []Policy{Full, Differential, Incremental, SlidingSnapshot} {
		policy := policy
		t.Run(policy.String(), func(t *testing.T) {
			t.Parallel()

			res, _ := openResource(t, WithPolicy(policy), WithRevisionsToRestore(3))

			commitRecord(t, res, "k0")      // rev 1: key 0
			commitRecord(t, res, "k1")      // rev 2: key 1
			updateRecord(t, res, 0, "k0'")  // rev 3
			updateRecord(t, res, 1, "k1'")  // rev 4
			updateRecord(t, res, 0, "k0''") // rev 5

			wtx, err := res.BeginWrite() // rev 6: delete key 1
			require.NoError(t, err)
			require.NoError(t, wtx.RemoveEntry(1, page.KindNode))
			_, err = wtx.Commit()
			require.NoError(t, err)
			require.NoError(t, wtx.Close())

			got, err := readRecord(t, res, 6, 0)
			require.NoError(t, err)
			assert.Equal(t, []byte("k0''"), got.Data)
			_, err = readRecord(t, res, 6, 1)
			assert.ErrorIs(t, err, ErrNotFound)

			// Historical revisions still resolve under every policy.
			got, err = readRecord(t, res, 4, 1)
			require.NoError(t, err)
			assert.Equal(t, []byte("k1'"), got.Data)
			got, err = readRecord(t, res, 3, 0)
			require.NoError(t, err)
			assert.Equal(t, []byte("k0'"), got.Data)
			got, err = readRecord(t, res, 2, 0)
			require.NoError(t, err)
			assert.Equal(t, []byte("k0"), got.Data)
		})
	}
}

func TestRollbackDiscardsChanges(t *testing.T) {
	t.Parallel()

	res, _ := openResource(t)
	commitRecord(t, res, "keep")

	wtx, err := res.BeginWrite()
	require.NoError(t, err)
	_, err = wtx.CreateEntry(nodeRecord("discard"), page.KindNode)
	require.NoError(t, err)
	require.NoError(t, wtx.Close()) // no commit

	assert.Equal(t, int32(1), res.Revision())
	_, err = readRecord(t, res, 1, 1)
	assert.ErrorIs(t, err, ErrNotFound)

	// The writer slot is free again.
	wtx, err = res.BeginWrite()
	require.NoError(t, err)
	require.NoError(t, wtx.Close())
}

func TestNameInterning(t *testing.T) {
	t.Parallel()

	res, _ := openResource(t)
	elementKind := uint8(1)

	wtx, err := res.BeginWrite()
	require.NoError(t, err)
	key, err := wtx.CreateNameKey("customer", elementKind)
	require.NoError(t, err)

	// Visible within the transaction before commit.
	name, err := wtx.GetName(key, elementKind)
	require.NoError(t, err)
	assert.Equal(t, "customer", name)

	_, err = wtx.Commit()
	require.NoError(t, err)
	require.NoError(t, wtx.Close())

	rtx, err := res.BeginRead(1)
	require.NoError(t, err)
	defer rtx.Close()
	name, err = rtx.GetName(key, elementKind)
	require.NoError(t, err)
	assert.Equal(t, "customer", name)

	_, err = rtx.GetName(key, uint8(2))
	assert.ErrorIs(t, err, ErrNotFound)

	// Names from older revisions remain visible in later ones.
	commitRecord(t, res, "noise")
	rtx2, err := res.BeginRead(2)
	require.NoError(t, err)
	defer rtx2.Close()
	name, err = rtx2.GetName(key, elementKind)
	require.NoError(t, err)
	assert.Equal(t, "customer", name)
}

func TestRecordsSpanMultiplePages(t *testing.T) {
	t.Parallel()

	res, _ := openResource(t, WithPolicy(Incremental))

	const n = page.LeafSize + 37 // cross the first leaf boundary
	wtx, err := res.BeginWrite()
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		_, err := wtx.CreateEntry(nodeRecord("rec"), page.KindNode)
		require.NoError(t, err)
	}
	maxKey, err := wtx.MaxRecordKey(page.KindNode)
	require.NoError(t, err)
	assert.Equal(t, int64(n-1), maxKey)
	_, err = wtx.Commit()
	require.NoError(t, err)
	require.NoError(t, wtx.Close())

	rtx, err := res.BeginRead(1)
	require.NoError(t, err)
	defer rtx.Close()
	for _, key := range []int64{0, page.LeafSize - 1, page.LeafSize, n - 1} {
		_, err := rtx.GetRecord(key, page.KindNode)
		require.NoError(t, err, "key %d", key)
	}
	_, err = rtx.GetRecord(int64(n), page.KindNode)
	assert.ErrorIs(t, err, ErrNotFound)
}

// Concurrent readers over distinct revisions share nothing but the page
// cache.
func TestConcurrentReaders(t *testing.T) {
	t.Parallel()

	res, _ := openResource(t)
	commitRecord(t, res, "v1")
	updateRecord(t, res, 0, "v2")
	updateRecord(t, res, 0, "v3")

	want := map[int32][]byte{1: []byte("v1"), 2: []byte("v2"), 3: []byte("v3")}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		rev := int32(i%3) + 1
		wg.Add(1)
		go func() {
			defer wg.Done()
			rtx, err := res.BeginRead(rev)
			if !assert.NoError(t, err) {
				return
			}
			defer rtx.Close()
			got, err := rtx.GetRecord(0, page.KindNode)
			if assert.NoError(t, err) {
				assert.Equal(t, want[rev], got.Data)
			}
		}()
	}
	wg.Wait()
}

// A reader opened before a commit keeps observing its snapshot.
func TestSnapshotIsolationAcrossCommit(t *testing.T) {
	t.Parallel()

	res, _ := openResource(t)
	commitRecord(t, res, "old")

	rtx, err := res.BeginRead(1)
	require.NoError(t, err)
	defer rtx.Close()

	updateRecord(t, res, 0, "new")

	got, err := rtx.GetRecord(0, page.KindNode)
	require.NoError(t, err)
	assert.Equal(t, []byte("old"), got.Data)
}

func TestSubtreesAreIndependent(t *testing.T) {
	t.Parallel()

	res, _ := openResource(t)

	wtx, err := res.BeginWrite()
	require.NoError(t, err)
	for _, kind := range []page.Kind{page.KindNode, page.KindPathSummary, page.KindTextValue, page.KindAttributeValue} {
		rec, err := wtx.CreateEntry(&page.Record{Kind: kind, Data: []byte(kind.String())}, kind)
		require.NoError(t, err)
		assert.Equal(t, int64(0), rec.Key, kind.String())
	}
	_, err = wtx.Commit()
	require.NoError(t, err)
	require.NoError(t, wtx.Close())

	rtx, err := res.BeginRead(1)
	require.NoError(t, err)
	defer rtx.Close()
	for _, kind := range []page.Kind{page.KindNode, page.KindPathSummary, page.KindTextValue, page.KindAttributeValue} {
		got, err := rtx.GetRecord(0, kind)
		require.NoError(t, err)
		assert.Equal(t, []byte(kind.String()), got.Data, kind.String())
	}
}

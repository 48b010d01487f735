package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sirixdb/internal/bytepipe"
	"sirixdb/internal/page"
)

func newWriter(t *testing.T) (*FileWriter, string) {
	t.Helper()
	dir := t.TempDir()
	w, err := NewFileWriter(
		filepath.Join(dir, "data.sirix"),
		filepath.Join(dir, "revisions-offsets.sirix"),
		bytepipe.NewPipeline(bytepipe.Snappy{}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w, dir
}

func recordPage(pageKey int64, revision int32) *page.KeyValuePage {
	p := page.NewKeyValuePage(pageKey, revision, page.KindNode)
	p.FullDump = true
	p.SetEntry(&page.Record{Key: pageKey << page.LeafBits, Kind: page.KindNode, Data: []byte("payload")})
	return p
}

func TestWriteAssignsFileKeyAndHash(t *testing.T) {
	t.Parallel()

	w, _ := newWriter(t)

	ref := page.NewReference()
	ref.Page = recordPage(1, 1)
	offset, err := w.Write(ref)
	require.NoError(t, err)

	assert.Equal(t, int64(FirstBeacon), offset)
	assert.Equal(t, offset, ref.Key)
	assert.Equal(t, page.KindNode, ref.Kind)
	assert.Len(t, ref.Hash, 32)
}

func TestWriteReadRoundTrip(t *testing.T) {
	t.Parallel()

	w, _ := newWriter(t)

	ref := page.NewReference()
	ref.Page = recordPage(3, 2)
	_, err := w.Write(ref)
	require.NoError(t, err)
	ref.Page = nil

	p, err := w.Read(ref)
	require.NoError(t, err)
	kv, ok := p.(*page.KeyValuePage)
	require.True(t, ok)
	assert.Equal(t, int64(3), kv.PageKey)
	assert.Equal(t, []byte("payload"), kv.Value(3<<page.LeafBits).Data)
}

func TestUberBeaconRoundTrip(t *testing.T) {
	t.Parallel()

	w, dir := newWriter(t)

	// Before any commit the beacon holds the null key.
	ref, err := w.ReadUberPageReference()
	require.NoError(t, err)
	assert.Equal(t, page.NullID, ref.Key)
	assert.Nil(t, ref.Page)

	uber := page.NewUberPage()
	uberRef := page.NewReference()
	uberRef.Page = uber
	require.NoError(t, w.WriteUberPageReference(uberRef))

	got, err := w.ReadUberPageReference()
	require.NoError(t, err)
	assert.Equal(t, uberRef.Key, got.Key)
	require.IsType(t, &page.UberPage{}, got.Page)
	assert.Equal(t, int32(1), got.Page.(*page.UberPage).RevisionCount)

	// An independent reader observes the same beacon.
	r, err := NewFileReader(
		filepath.Join(dir, "data.sirix"),
		filepath.Join(dir, "revisions-offsets.sirix"),
		bytepipe.NewPipeline(bytepipe.Snappy{}),
	)
	require.NoError(t, err)
	defer r.Close()
	got, err = r.ReadUberPageReference()
	require.NoError(t, err)
	assert.Equal(t, uberRef.Key, got.Key)
}

func TestCorruptBeaconDetected(t *testing.T) {
	t.Parallel()

	w, dir := newWriter(t)
	uberRef := page.NewReference()
	uberRef.Page = page.NewUberPage()
	require.NoError(t, w.WriteUberPageReference(uberRef))
	require.NoError(t, w.Close())

	// Flip a byte of the beacon key without fixing the checksum.
	path := filepath.Join(dir, "data.sirix")
	f, err := os.OpenFile(path, os.O_RDWR, 0o600)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte{0xFF}, 2)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	r, err := NewFileReader(path, filepath.Join(dir, "revisions-offsets.sirix"),
		bytepipe.NewPipeline(bytepipe.Snappy{}))
	require.NoError(t, err)
	defer r.Close()
	_, err = r.ReadUberPageReference()
	require.ErrorIs(t, err, ErrCorruptBeacon)
}

func TestRevisionsOffsetFile(t *testing.T) {
	t.Parallel()

	w, _ := newWriter(t)

	rootRef := page.NewReference()
	root := page.NewRevisionRootPage(0)
	rootRef.Page = root
	offset, err := w.Write(rootRef)
	require.NoError(t, err)
	require.NoError(t, w.AppendRevisionsOffset(0, offset))

	got, err := w.ReadRevisionRootPage(0)
	require.NoError(t, err)
	assert.Equal(t, int32(0), got.Revision)
	assert.Equal(t, int64(-1), got.MaxNodeKey)
}

func TestFrameEndAndTruncate(t *testing.T) {
	t.Parallel()

	w, _ := newWriter(t)

	ref := page.NewReference()
	ref.Page = recordPage(0, 1)
	offset, err := w.Write(ref)
	require.NoError(t, err)

	end, err := w.FrameEnd(offset)
	require.NoError(t, err)
	assert.Equal(t, w.Size(), end)

	// Simulate a torn append past the frame, then recover by truncating.
	garbage := page.NewReference()
	garbage.Page = recordPage(1, 1)
	_, err = w.Write(garbage)
	require.NoError(t, err)
	require.Greater(t, w.Size(), end)

	require.NoError(t, w.TruncateTo(end))
	assert.Equal(t, end, w.Size())

	// The first page is still readable.
	ref.Page = nil
	_, err = w.Read(ref)
	require.NoError(t, err)
}

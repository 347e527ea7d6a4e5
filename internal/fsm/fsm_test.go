package fsm

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/picodb/picodb/internal/bufferpool"
	"github.com/picodb/picodb/internal/storage"
)

func newTestAccessor(t *testing.T, pageSizeKB int) *Accessor {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "db")
	require.NoError(t, storage.Create(pageSizeKB, dir, false))
	m, err := storage.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })

	pool, err := bufferpool.New(4, m)
	require.NoError(t, err)
	return New(pool, m.PageSize)
}

func TestAddrComputesOwningFsmPage(t *testing.T) {
	a := newTestAccessor(t, 4)
	fsmPageId, offset := a.addr(2050)
	assert.Equal(t, uint32(0), fsmPageId)
	assert.Equal(t, uint32(2050), offset)

	fsmPageId, offset = a.addr(4096 + 7)
	assert.Equal(t, uint32(4096), fsmPageId)
	assert.Equal(t, uint32(7), offset)
}

func TestSetThenGetUsedSpacePercentRoundTrips(t *testing.T) {
	a := newTestAccessor(t, 4)

	require.NoError(t, a.SetUsedSpacePercent(2050, 75))
	pct, err := a.GetUsedSpacePercent(2050)
	require.NoError(t, err)
	assert.Equal(t, byte(75), pct)
}

func TestSetUsedSpacePercentRoundTripsFullByteRange(t *testing.T) {
	a := newTestAccessor(t, 4)

	// The stored value is a raw unsigned byte, so even values above 100
	// round-trip unchanged.
	for _, v := range []byte{0, 1, 50, 100, 101, 200, 255} {
		require.NoError(t, a.SetUsedSpacePercent(300, v))
		pct, err := a.GetUsedSpacePercent(300)
		require.NoError(t, err)
		assert.Equal(t, v, pct)
	}
}

func TestFreeSpaceLeftBytes(t *testing.T) {
	a := newTestAccessor(t, 4)
	assert.Equal(t, 100*a.pageSize, a.FreeSpaceLeftBytes(0))
	assert.Equal(t, uint32(0), a.FreeSpaceLeftBytes(100))
	assert.Equal(t, 50*a.pageSize, a.FreeSpaceLeftBytes(50))
}

func TestDistinctPagesShareNoState(t *testing.T) {
	a := newTestAccessor(t, 4)

	require.NoError(t, a.SetUsedSpacePercent(10, 20))
	require.NoError(t, a.SetUsedSpacePercent(20, 40))

	pct, err := a.GetUsedSpacePercent(10)
	require.NoError(t, err)
	assert.Equal(t, byte(20), pct)

	pct, err = a.GetUsedSpacePercent(20)
	require.NoError(t, err)
	assert.Equal(t, byte(40), pct)
}

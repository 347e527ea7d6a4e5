package bufferpool

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/picodb/picodb/internal/storage"
)

func newTestManager(t *testing.T, pageSizeKB int) *storage.Manager {
	m, _ := newTestManagerWithDir(t, pageSizeKB)
	return m
}

func newTestManagerWithDir(t *testing.T, pageSizeKB int) (*storage.Manager, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "db")
	require.NoError(t, storage.Create(pageSizeKB, dir, false))
	m, err := storage.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m, dir
}

func TestNewRejectsUndersizedPool(t *testing.T) {
	m := newTestManager(t, 4)
	_, err := New(3, m)
	require.Error(t, err)
	assert.True(t, storage.Is(err, storage.KindConfigOutOfRange))
}

func TestNewDerivesHistoryAndCacheBounds(t *testing.T) {
	m := newTestManager(t, 4)
	p, err := New(4, m)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), p.h)
	assert.Equal(t, uint32(3), p.c)
}

func TestAllocateAndFlush(t *testing.T) {
	m, dir := newTestManagerWithDir(t, 4)
	p, err := New(4, m)
	require.NoError(t, err)

	pageId, buf, err := p.CreatePage()
	require.NoError(t, err)
	assert.Equal(t, uint32(1), pageId)

	buf[0], buf[1], buf[2] = 0x41, 0x42, 0x43
	p.UnpinPage(pageId, true)
	require.NoError(t, p.FlushAll())
	require.NoError(t, m.Close())

	// A fresh Storage Manager over the same file must see the write-back.
	m2, err := storage.Open(dir)
	require.NoError(t, err)
	defer m2.Close()

	readBack, err := m2.ReadPage(pageId).Await()
	require.NoError(t, err)
	require.Len(t, readBack, 4096)
	assert.Equal(t, []byte{0x41, 0x42, 0x43}, readBack[:3])
}

func TestHistoryToCachePromotion(t *testing.T) {
	m := newTestManager(t, 4)
	p, err := New(4, m)
	require.NoError(t, err)

	var ids []uint32
	for i := 0; i < 5; i++ {
		id, _, err := p.CreatePage()
		require.NoError(t, err)
		p.UnpinPage(id, false)
		ids = append(ids, id)
	}
	page1 := ids[0]

	_, err = p.GetPage(page1)
	require.NoError(t, err)
	p.UnpinPage(page1, false)

	resident, inCache := p.residentList(page1)
	require.True(t, resident)
	assert.False(t, inCache, "first reference should stay in history")

	_, err = p.GetPage(page1)
	require.NoError(t, err)
	p.UnpinPage(page1, false)

	resident, inCache = p.residentList(page1)
	require.True(t, resident)
	assert.True(t, inCache, "second reference should promote to cache")
}

func TestEvictionWritesBackDirtyVictim(t *testing.T) {
	m := newTestManager(t, 4)
	p, err := New(4, m)
	require.NoError(t, err)

	page1, buf1, err := p.CreatePage()
	require.NoError(t, err)
	buf1[0] = 0xAA
	p.UnpinPage(page1, true)

	page2, _, err := p.CreatePage()
	require.NoError(t, err)
	p.UnpinPage(page2, false)

	resident, _ := p.residentList(page1)
	assert.False(t, resident, "page1 should have been evicted from the full history list")

	readBack, err := m.ReadPage(page1).Await()
	require.NoError(t, err)
	assert.Equal(t, byte(0xAA), readBack[0], "dirty victim must be written back before eviction")
}

func TestGetPageOnFullPinnedHistoryOverflows(t *testing.T) {
	m := newTestManager(t, 4)
	p, err := New(4, m)
	require.NoError(t, err)

	// H = 1: a single pinned entry fills history and can never be evicted.
	_, _, err = p.CreatePage()
	require.NoError(t, err)

	id2, err := m.AllocatePage().Await()
	require.NoError(t, err)
	_, err = p.GetPage(id2)
	require.Error(t, err)
	assert.True(t, storage.Is(err, storage.KindBufferPoolOverflow))
}

func TestPromotionIntoFullPinnedCacheOverflows(t *testing.T) {
	m := newTestManager(t, 4)
	p, err := New(4, m)
	require.NoError(t, err)

	var ids []uint32
	for i := 0; i < 4; i++ {
		id, err := m.AllocatePage().Await()
		require.NoError(t, err)
		ids = append(ids, id)
	}

	// Promote three pages into the cache (C = 3) and keep them pinned.
	for _, id := range ids[:3] {
		_, err := p.GetPage(id)
		require.NoError(t, err)
		p.UnpinPage(id, false)
		_, err = p.GetPage(id)
		require.NoError(t, err)
	}

	// A fourth promotion needs a cache victim, but every entry is pinned.
	last := ids[3]
	_, err = p.GetPage(last)
	require.NoError(t, err)
	p.UnpinPage(last, false)
	_, err = p.GetPage(last)
	require.Error(t, err)
	assert.True(t, storage.Is(err, storage.KindBufferPoolOverflow))
}

func TestUnpinOnZeroPinCountIsNoop(t *testing.T) {
	m := newTestManager(t, 4)
	p, err := New(4, m)
	require.NoError(t, err)

	pageId, _, err := p.CreatePage()
	require.NoError(t, err)
	p.UnpinPage(pageId, false)
	p.UnpinPage(pageId, false) // already zero, must not go negative

	p.mu.Lock()
	pinCount := p.entries[pageId].pinCount
	p.mu.Unlock()
	assert.Equal(t, 0, pinCount)
}

func TestFlushAllIsIdempotent(t *testing.T) {
	m := newTestManager(t, 4)
	p, err := New(4, m)
	require.NoError(t, err)

	pageId, _, err := p.CreatePage()
	require.NoError(t, err)
	p.UnpinPage(pageId, true)

	require.NoError(t, p.FlushAll())
	stats := p.Stats()
	assert.Equal(t, uint64(1), stats.Flushes)

	require.NoError(t, p.FlushAll())
	stats = p.Stats()
	assert.Equal(t, uint64(1), stats.Flushes, "second FlushAll should perform no writes")
}

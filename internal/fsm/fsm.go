// Package fsm is the FSM Accessor: a thin consumer of bufferpool.Pool that
// reads and writes per-page used-space percentages. Every page whose id is
// a multiple of the page size serves as the free-space map for the pageSize
// pages in its aligned range, one byte per page.
package fsm

import (
	"github.com/picodb/picodb/internal/bufferpool"
)

// Accessor reads and writes used-space percentages for data pages via an
// underlying buffer pool. One FSM page holds the percentage byte for
// PageSize consecutive data pages.
type Accessor struct {
	pool     *bufferpool.Pool
	pageSize uint32
}

// New constructs an Accessor over pool. pageSize must match the Storage
// Manager's page size pool was built on; it is required explicitly rather
// than read back off pool because bufferpool.Pool does not expose it.
func New(pool *bufferpool.Pool, pageSize uint32) *Accessor {
	return &Accessor{pool: pool, pageSize: pageSize}
}

// addr computes the FSM page id holding pageId's percentage byte, and the
// byte offset within that page: fsmPageId is the largest multiple of
// pageSize not exceeding pageId, and offset is pageId's remainder within
// it.
func (a *Accessor) addr(pageId uint32) (fsmPageId uint32, offset uint32) {
	fsmPageId = (pageId / a.pageSize) * a.pageSize
	offset = pageId % a.pageSize
	return fsmPageId, offset
}

// GetUsedSpacePercent returns pageId's recorded used-space percentage as
// the raw stored byte; values above 100 come back as they were set.
func (a *Accessor) GetUsedSpacePercent(pageId uint32) (byte, error) {
	fsmPageId, offset := a.addr(pageId)
	buf, err := a.pool.GetPage(fsmPageId)
	if err != nil {
		return 0, err
	}
	pct := buf[offset]
	a.pool.UnpinPage(fsmPageId, false)
	return pct, nil
}

// SetUsedSpacePercent records pageId's used-space percentage, dirtying the
// owning FSM page. The stored value is a raw unsigned byte; values above
// 100 round-trip unchanged even though only 0-100 are meaningful.
func (a *Accessor) SetUsedSpacePercent(pageId uint32, pct byte) error {
	fsmPageId, offset := a.addr(pageId)
	buf, err := a.pool.GetPage(fsmPageId)
	if err != nil {
		return err
	}
	buf[offset] = pct
	a.pool.UnpinPage(fsmPageId, true)
	return nil
}

// FreeSpaceLeftBytes returns the raw (100-pct)*pageSize figure. It is
// deliberately not divided down by 100; the disposition for this formula
// is recorded in DESIGN.md.
func (a *Accessor) FreeSpaceLeftBytes(pct byte) uint32 {
	if pct > 100 {
		pct = 100
	}
	return uint32(100-pct) * a.pageSize
}

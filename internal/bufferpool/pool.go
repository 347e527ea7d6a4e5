// Package bufferpool is the Buffer Pool Manager: a bounded, two-tier
// (history/cache) in-memory page cache sitting in front of the Storage
// Manager. A first reference lands a page in the history list; only a
// second reference promotes it to the cache list, so a single-probe page
// never displaces a hot one.
package bufferpool

import (
	"container/list"
	"fmt"
	"sync"

	"go.uber.org/atomic"

	"github.com/picodb/picodb/internal/storage"
)

// entry is the buffer pool's per-resident-page control block: page id,
// buffer, pin count, and dirty flag, plus bookkeeping for which list it
// currently lives in.
type entry struct {
	pageId   uint32
	buf      []byte
	pinCount int
	dirty    bool
	// dirtySeq increments every time dirty transitions to true, so a
	// write-back that released the pool lock can tell whether the page was
	// re-dirtied while the write was in flight.
	dirtySeq uint64
	elem     *list.Element
	inCache  bool
}

// Pool is the Buffer Pool Manager. N must be at least 4; H = floor(N/4)
// bounds the history list, C = 3*floor(N/4) bounds the cache list.
type Pool struct {
	mu sync.Mutex

	storage *storage.Manager

	h uint32
	c uint32

	history *list.List // of *entry
	cache   *list.List // of *entry
	entries map[uint32]*entry

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
	flushes   atomic.Uint64
}

// New constructs a Pool with capacity n over sm. n < 4 is a programmer
// error (ConfigOutOfRange): the history list would otherwise be unable to
// hold even a single page.
func New(n uint32, sm *storage.Manager) (*Pool, error) {
	if n < 4 {
		return nil, storage.New(storage.KindConfigOutOfRange, "bufferpool.New", nil)
	}
	h := n / 4
	return &Pool{
		storage: sm,
		h:       h,
		c:       3 * h,
		history: list.New(),
		cache:   list.New(),
		entries: make(map[uint32]*entry),
	}, nil
}

// CreatePage allocates a fresh page through the Storage Manager and
// registers it in the buffer pool, pinned and dirty, in the history list.
func (p *Pool) CreatePage() (uint32, []byte, error) {
	pageId, err := p.storage.AllocatePage().Await()
	if err != nil {
		return 0, nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for uint32(p.history.Len()) >= p.h {
		if err := p.evict(p.history, "evictFromHistory", "history"); err != nil {
			return 0, nil, err
		}
	}

	buf := make([]byte, p.storage.PageSize)
	e := &entry{pageId: pageId, buf: buf, pinCount: 1, dirty: true}
	e.elem = p.history.PushBack(e)
	p.entries[pageId] = e

	return pageId, buf, nil
}

// GetPage returns pageId's buffer, incrementing its pin count before any
// eviction the call might trigger so a resident page is never a candidate
// victim of its own request.
func (p *Pool) GetPage(pageId uint32) ([]byte, error) {
	p.mu.Lock()

	if e, ok := p.entries[pageId]; ok {
		e.pinCount++
		if e.inCache {
			p.cache.MoveToBack(e.elem)
			p.hits.Inc()
			buf := e.buf
			p.mu.Unlock()
			return buf, nil
		}

		// Second reference: promote history -> cache. evict may release
		// the lock during a dirty write-back, so a concurrent caller can
		// complete this same promotion first; e stays resident throughout
		// because its pin count is already raised.
		for !e.inCache && uint32(p.cache.Len()) >= p.c {
			if err := p.evict(p.cache, "evictFromCache", "cache"); err != nil {
				p.mu.Unlock()
				return nil, err
			}
		}
		if e.inCache {
			p.cache.MoveToBack(e.elem)
		} else {
			p.history.Remove(e.elem)
			e.elem = p.cache.PushBack(e)
			e.inCache = true
		}
		p.hits.Inc()
		buf := e.buf
		p.mu.Unlock()
		return buf, nil
	}

	p.misses.Inc()
	for uint32(p.history.Len()) >= p.h {
		if err := p.evict(p.history, "evictFromHistory", "history"); err != nil {
			p.mu.Unlock()
			return nil, err
		}
	}

	// Fetching from disk suspends; never hold mu across it.
	p.mu.Unlock()
	buf, err := p.storage.ReadPage(pageId).Await()
	p.mu.Lock()
	defer p.mu.Unlock()

	if err != nil {
		return nil, err
	}

	// Another caller may have loaded the same page, or taken the history
	// slot we made room for, while we were unlocked; re-check both before
	// inserting so the history bound still holds.
	for {
		if e, ok := p.entries[pageId]; ok {
			e.pinCount++
			return e.buf, nil
		}
		if uint32(p.history.Len()) < p.h {
			break
		}
		if err := p.evict(p.history, "evictFromHistory", "history"); err != nil {
			return nil, err
		}
	}

	e := &entry{pageId: pageId, buf: buf, pinCount: 1, dirty: false}
	e.elem = p.history.PushBack(e)
	p.entries[pageId] = e
	return buf, nil
}

// UnpinPage decrements pageId's pin count (a no-op if it is already zero or
// the page is not resident) and, if isDirty, marks it dirty. Dirty is
// sticky until a successful write-back.
func (p *Pool) UnpinPage(pageId uint32, isDirty bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[pageId]
	if !ok {
		return
	}
	if e.pinCount > 0 {
		e.pinCount--
	}
	if isDirty {
		e.dirty = true
		e.dirtySeq++
	}
}

// FlushAll writes every dirty resident page back through the Storage
// Manager, clearing its dirty flag only after the write has completed.
func (p *Pool) FlushAll() error {
	p.mu.Lock()
	var dirty []*entry
	for _, e := range p.entries {
		if e.dirty {
			dirty = append(dirty, e)
		}
	}
	p.mu.Unlock()

	for _, e := range dirty {
		p.mu.Lock()
		pageId, buf, stillDirty, seq := e.pageId, e.buf, e.dirty, e.dirtySeq
		p.mu.Unlock()
		if !stillDirty {
			continue
		}

		if _, err := p.storage.WritePage(pageId, buf).Await(); err != nil {
			return err
		}

		p.mu.Lock()
		// Re-dirtied while the write was in flight: the flag must survive
		// so the newer modification is not silently dropped.
		if e.dirtySeq == seq {
			e.dirty = false
		}
		p.mu.Unlock()
		p.flushes.Inc()
	}
	return nil
}

// Stats is a point-in-time snapshot of buffer pool counters.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Flushes   uint64
}

// Stats returns the current hit/miss/eviction/flush counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Hits:      p.hits.Load(),
		Misses:    p.misses.Load(),
		Evictions: p.evictions.Load(),
		Flushes:   p.flushes.Load(),
	}
}

// residentList reports which list (if either) pageId currently lives in,
// for tests asserting the promotion/residency invariants.
func (p *Pool) residentList(pageId uint32) (resident bool, inCache bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[pageId]
	if !ok {
		return false, false
	}
	return true, e.inCache
}

// evict scans lst front-to-back for the first unpinned entry, writes it
// back if dirty, and removes it. mu must be held on entry; evict may
// release and reacquire it while awaiting a write-back. Returns
// BufferPoolOverflow if every entry in lst is pinned.
func (p *Pool) evict(lst *list.List, op, where string) error {
	e := lst.Front()
	for e != nil {
		ent := e.Value.(*entry)
		if ent.pinCount != 0 {
			e = e.Next()
			continue
		}
		if !ent.dirty {
			lst.Remove(e)
			delete(p.entries, ent.pageId)
			p.evictions.Inc()
			return nil
		}

		pageId, buf, seq := ent.pageId, ent.buf, ent.dirtySeq
		p.mu.Unlock()
		_, err := p.storage.WritePage(pageId, buf).Await()
		p.mu.Lock()
		if err != nil {
			// Leave the victim in place, still dirty, still resident.
			return err
		}
		if ent.pinCount == 0 && ent.dirtySeq == seq {
			ent.dirty = false
			lst.Remove(e)
			delete(p.entries, pageId)
			p.evictions.Inc()
			return nil
		}
		// Pinned or re-dirtied while we were writing back; the list may
		// also have mutated, so restart the scan from the front.
		e = lst.Front()
	}
	return storage.New(storage.KindBufferPoolOverflow, op, fmt.Errorf("all pages in %s are pinned", where))
}

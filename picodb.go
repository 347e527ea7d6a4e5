// Package picodb is the public surface of the storage core: a DB handle
// combining the Storage Manager, Buffer Pool Manager, and FSM Accessor
// over one database directory. Higher layers (record and index code, the
// CLI) go through this package; the internal packages it assembles are not
// importable from outside the module.
package picodb

import (
	"os"
	"path/filepath"

	"github.com/picodb/picodb/internal/bufferpool"
	"github.com/picodb/picodb/internal/fsm"
	"github.com/picodb/picodb/internal/storage"
)

// DefaultPoolSize is the buffer pool capacity used when Options.PoolSize
// is zero.
const DefaultPoolSize = 64

// Options configures Open.
type Options struct {
	// Dir is the database directory. Empty means the per-user
	// application-data directory for "picodb" (see DefaultDir).
	Dir string
	// PoolSize is the buffer pool capacity N (minimum 4). Zero means
	// DefaultPoolSize.
	PoolSize uint32
}

// DB is an open database. Every GetPage must be paired with exactly one
// UnpinPage; pages still pinned at Close are flushed but their pins are
// the caller's leak.
type DB struct {
	manager *storage.Manager
	pool    *bufferpool.Pool
	fsm     *fsm.Accessor
}

// DefaultDir resolves the per-user application-data directory for picodb
// at call time. It is a function, not a package constant, so the resolved
// home directory always reflects the running process's environment.
func DefaultDir() string {
	cfgDir, err := os.UserConfigDir()
	if err != nil {
		return "picodb"
	}
	return filepath.Join(cfgDir, "picodb")
}

// Open opens an existing database directory. The directory must have been
// provisioned with Create first; otherwise Open fails with NotInitialized.
func Open(opts Options) (*DB, error) {
	dir := opts.Dir
	if dir == "" {
		dir = DefaultDir()
	}
	poolSize := opts.PoolSize
	if poolSize == 0 {
		poolSize = DefaultPoolSize
	}

	m, err := storage.Open(dir)
	if err != nil {
		return nil, err
	}
	pool, err := bufferpool.New(poolSize, m)
	if err != nil {
		m.Close()
		return nil, err
	}
	return &DB{
		manager: m,
		pool:    pool,
		fsm:     fsm.New(pool, m.PageSize),
	}, nil
}

// Close flushes every dirty resident page and releases the underlying file
// handles. The DB is unusable afterwards.
func (db *DB) Close() error {
	flushErr := db.pool.FlushAll()
	closeErr := db.manager.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

// PageSize is the database's page size in bytes, as recorded in the file
// header at creation.
func (db *DB) PageSize() uint32 { return db.manager.PageSize }

// CreatePage allocates a fresh zeroed page and returns it pinned and
// dirty.
func (db *DB) CreatePage() (uint32, []byte, error) { return db.pool.CreatePage() }

// GetPage returns pageId's buffer, pinned. Pair with exactly one
// UnpinPage.
func (db *DB) GetPage(pageId uint32) ([]byte, error) { return db.pool.GetPage(pageId) }

// UnpinPage releases one pin on pageId, marking it dirty if the caller
// modified the buffer.
func (db *DB) UnpinPage(pageId uint32, isDirty bool) { db.pool.UnpinPage(pageId, isDirty) }

// FlushAll writes every dirty resident page back to disk.
func (db *DB) FlushAll() error { return db.pool.FlushAll() }

// GetUsedSpacePercent returns pageId's recorded used-space percentage.
func (db *DB) GetUsedSpacePercent(pageId uint32) (byte, error) {
	return db.fsm.GetUsedSpacePercent(pageId)
}

// SetUsedSpacePercent records pageId's used-space percentage (0-100).
func (db *DB) SetUsedSpacePercent(pageId uint32, pct byte) error {
	return db.fsm.SetUsedSpacePercent(pageId, pct)
}

// FreeSpaceLeftBytes converts a used-space percentage to the free-space
// figure the FSM Accessor derives from it.
func (db *DB) FreeSpaceLeftBytes(pct byte) uint32 { return db.fsm.FreeSpaceLeftBytes(pct) }

// Metadata is the decoded data-file header.
type Metadata = storage.Metadata

// Create provisions a fresh database directory: the data file with its
// page-size header and zero-filled first page, the lock file, and the
// binary log. Administrative; not part of the hot path.
func Create(pageSizeKB int, dir string, overwrite bool) error {
	return storage.Create(pageSizeKB, dir, overwrite)
}

// GetMetadata decodes dir's data-file header without opening the rest of
// the database.
func GetMetadata(dir string) (Metadata, error) {
	return storage.GetMetadata(dir)
}

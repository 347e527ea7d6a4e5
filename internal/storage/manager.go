// Package storage is the Storage Manager: it owns the data file, lock
// file, and binary log, and exposes a page-granular view of the data file.
// Every page allocation, read, and write goes through an ioqueue.Queue and
// uses ReadAt/WriteAt at an absolute page offset; the administrative Create
// and GetMetadata do their file I/O directly.
package storage

import (
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"sync"

	pkgerrors "github.com/pkg/errors"

	"github.com/picodb/picodb/internal/ioqueue"
	"github.com/picodb/picodb/logger"
)

const (
	dataFileName   = "pico.db"
	lockFileName   = "picodb.lock"
	binlogFileName = "picodb.binlog"

	// headerSize is the leading little-endian uint32 page size field.
	headerSize = 4

	minPageSize = 1024
)

// Metadata is the decoded file header, returned by GetMetadata.
type Metadata struct {
	PageSize uint32
}

// Manager is the Storage Manager. The data file handle is exclusively
// owned by a Manager; no other component may read or write it.
type Manager struct {
	// PageSize is read from the file header during Open and is otherwise
	// immutable; exposed publicly because higher layers (the FSM
	// Accessor in particular) need it to compute page addressing.
	PageSize uint32

	dataFile   *os.File
	lockFile   *os.File
	binlogFile *os.File

	queue *ioqueue.Queue

	// allocMu serializes the read-length-then-append sequence in
	// AllocatePage; the I/O Queue's concurrency ceiling alone cannot make
	// that sequence atomic.
	allocMu sync.Mutex
}

// Open initializes a Manager over dirPath. It requires pico.db to already
// exist; use Create to provision a fresh database directory first.
func Open(dirPath string) (*Manager, error) {
	dbPath := filepath.Join(dirPath, dataFileName)
	if _, err := os.Stat(dbPath); err != nil {
		if os.IsNotExist(err) {
			return nil, newErr(KindNotInitialized, "Open", err)
		}
		return nil, newErr(KindAccessDenied, "Open", err)
	}

	dataFile, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, newErr(classifyOpenErr(err), "Open", err)
	}

	lockFd, err := os.OpenFile(filepath.Join(dirPath, lockFileName), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		dataFile.Close()
		return nil, newErr(classifyOpenErr(err), "Open", err)
	}
	if err := lockFile(lockFd.Fd()); err != nil {
		// Advisory only: multi-process exclusion is out of scope for the
		// core, so a contended lock does not fail Open.
		logger.Debugf("advisory lock on %s not acquired: %v", lockFileName, err)
	}

	binlog, err := os.OpenFile(filepath.Join(dirPath, binlogFileName), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		dataFile.Close()
		lockFd.Close()
		return nil, newErr(classifyOpenErr(err), "Open", err)
	}

	pageSize, err := readHeader(dataFile)
	if err != nil {
		dataFile.Close()
		lockFd.Close()
		binlog.Close()
		return nil, err
	}

	m := &Manager{
		PageSize:   pageSize,
		dataFile:   dataFile,
		lockFile:   lockFd,
		binlogFile: binlog,
		queue:      ioqueue.New(),
	}
	m.queue.Start()
	return m, nil
}

// Close releases the Manager's file handles. It does not flush any
// in-memory state; callers must flush the buffer pool first.
func (m *Manager) Close() error {
	var firstErr error
	for _, f := range []*os.File{m.dataFile, m.lockFile, m.binlogFile} {
		if f == nil {
			continue
		}
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// AllocatePage extends the data file by one page of zero bytes and returns
// its page id. Races with other allocations are prevented by allocMu, not
// by queue serialization, so concurrent reads/writes still get the I/O
// Queue's full concurrency.
func (m *Manager) AllocatePage() *ioqueue.Future[uint32] {
	return ioqueue.Enqueue(m.queue, func() (uint32, error) {
		m.allocMu.Lock()
		defer m.allocMu.Unlock()

		info, err := m.dataFile.Stat()
		if err != nil {
			return 0, newErr(KindIoError, "AllocatePage", pkgerrors.Wrap(err, "stat data file"))
		}
		length := info.Size()
		pageIndex := uint32(length / int64(m.PageSize))

		zero := make([]byte, m.PageSize)
		if _, err := m.dataFile.WriteAt(zero, length); err != nil {
			return 0, newErr(KindIoError, "AllocatePage", pkgerrors.Wrap(err, "extend data file"))
		}
		return pageIndex, nil
	})
}

// ReadPage reads exactly PageSize bytes for pageId.
func (m *Manager) ReadPage(pageId uint32) *ioqueue.Future[[]byte] {
	return ioqueue.Enqueue(m.queue, func() ([]byte, error) {
		buf := make([]byte, m.PageSize)
		offset := int64(headerSize) + int64(pageId)*int64(m.PageSize)
		n, err := m.dataFile.ReadAt(buf, offset)
		if err != nil && !(err == io.EOF && n == int(m.PageSize)) {
			return nil, newErr(KindIoError, "ReadPage", err)
		}
		if n != int(m.PageSize) {
			return nil, newErr(KindIoError, "ReadPage", io.ErrUnexpectedEOF)
		}
		return buf, nil
	})
}

// WritePage writes data, which must be exactly PageSize bytes, to pageId.
func (m *Manager) WritePage(pageId uint32, data []byte) *ioqueue.Future[struct{}] {
	return ioqueue.Enqueue(m.queue, func() (struct{}, error) {
		if uint32(len(data)) != m.PageSize {
			return struct{}{}, newErr(KindPageSizeMismatch, "WritePage", nil)
		}
		offset := int64(headerSize) + int64(pageId)*int64(m.PageSize)
		if _, err := m.dataFile.WriteAt(data, offset); err != nil {
			return struct{}{}, newErr(KindIoError, "WritePage", err)
		}
		return struct{}{}, nil
	})
}

// Create provisions a fresh database directory: it (re)creates dirPath and
// writes the three reserved files plus the zero-filled first page.
func Create(pageSizeKB int, dirPath string, overwrite bool) error {
	if pageSizeKB <= 0 {
		return newErr(KindConfigOutOfRange, "Create", nil)
	}
	pageSize := uint32(pageSizeKB) * 1024

	if _, err := os.Stat(dirPath); err == nil {
		if !overwrite {
			return newErr(KindAlreadyExists, "Create", nil)
		}
	} else if !os.IsNotExist(err) {
		return newErr(KindAccessDenied, "Create", err)
	}

	if err := os.RemoveAll(dirPath); err != nil {
		return newErr(KindAccessDenied, "Create", err)
	}
	if err := os.MkdirAll(dirPath, 0o755); err != nil {
		return newErr(KindAccessDenied, "Create", err)
	}

	dataFile, err := os.OpenFile(filepath.Join(dirPath, dataFileName), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return newErr(classifyOpenErr(err), "Create", err)
	}
	defer dataFile.Close()

	lockFd, err := os.OpenFile(filepath.Join(dirPath, lockFileName), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return newErr(classifyOpenErr(err), "Create", err)
	}
	lockFd.Close()
	binlog, err := os.OpenFile(filepath.Join(dirPath, binlogFileName), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return newErr(classifyOpenErr(err), "Create", err)
	}
	binlog.Close()

	header := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(header, pageSize)
	if _, err := dataFile.Write(header); err != nil {
		return newErr(KindIoError, "Create", err)
	}
	if _, err := dataFile.Write(make([]byte, pageSize)); err != nil {
		return newErr(KindIoError, "Create", err)
	}
	return nil
}

// GetMetadata opens dirPath's data file just long enough to decode its
// header. It does not start the I/O queue or touch the lock/binlog files;
// it is an administrative query, not a hot-path operation.
func GetMetadata(dirPath string) (Metadata, error) {
	f, err := os.Open(filepath.Join(dirPath, dataFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return Metadata{}, newErr(KindNotInitialized, "GetMetadata", err)
		}
		return Metadata{}, newErr(classifyOpenErr(err), "GetMetadata", err)
	}
	defer f.Close()

	pageSize, err := readHeader(f)
	if err != nil {
		return Metadata{}, err
	}
	return Metadata{PageSize: pageSize}, nil
}

func readHeader(f *os.File) (uint32, error) {
	header := make([]byte, headerSize)
	if _, err := f.ReadAt(header, 0); err != nil {
		return 0, newErr(KindIoError, "readHeader", err)
	}
	pageSize := binary.LittleEndian.Uint32(header)
	if pageSize == 0 || pageSize%minPageSize != 0 {
		return 0, newErr(KindConfigOutOfRange, "readHeader", nil)
	}
	return pageSize, nil
}

func classifyOpenErr(err error) Kind {
	if os.IsPermission(err) {
		return KindAccessDenied
	}
	return KindIoError
}

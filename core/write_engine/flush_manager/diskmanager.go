package flushmanager

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"sync/atomic"

	pagemanager "github.com/sushant-115/gojoheap/core/write_engine/page_manager"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	DBMagic   uint32 = 0x6010DB01
	DBVersion uint32 = 1

	MaxFilenameLength = 255

	// dbFileHeaderSize is the fixed prefix of page 0; catalog entries follow it.
	dbFileHeaderSize = 64
	// catalogEntryOverhead is nameLen u16 + headPageID u64.
	catalogEntryOverhead = 2 + 8

	// Free pages reuse the common page header: type at offset 6, next link at 16.
	freePageTypeOffset = 6
	freePageNextOffset = 16
)

// DBFileHeader is the fixed-size prefix of page 0.
// All fields have fixed sizes so binary.Read/Write round-trips exactly.
type DBFileHeader struct {
	Magic        uint32
	Version      uint32
	PageSize     uint32
	CatalogCount uint32
	NumPages     uint64 // pages in the file, header page included
	FreeListHead pagemanager.PageID
	_            [dbFileHeaderSize - (4*4 + 2*8)]byte
}

// --- DiskManager ---

// DiskManager owns the database file: page reads and writes, page
// allocation with an on-disk free list, and the file catalog that maps
// heap-file names to their head directory page.
type DiskManager struct {
	filePath string
	file     *os.File
	pageSize int
	header   DBFileHeader
	catalog  map[string]pagemanager.PageID
	free     map[pagemanager.PageID]struct{}
	limiter  *rate.Limiter
	logger   *zap.Logger
	reads    atomic.Uint64
	writes   atomic.Uint64
	mu       sync.Mutex
}

func NewDiskManager(filePath string, pageSize int, logger *zap.Logger) (*DiskManager, error) {
	if len(filePath) > MaxFilenameLength {
		return nil, fmt.Errorf("file path too long: %s", filePath)
	}
	if err := pagemanager.ValidatePageSize(pageSize); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DiskManager{
		filePath: filePath,
		pageSize: pageSize,
		catalog:  make(map[string]pagemanager.PageID),
		free:     make(map[pagemanager.PageID]struct{}),
		logger:   logger.Named("disk_manager"),
	}, nil
}

// ReadFileHeader reads the header of an existing database file without
// opening it for writing. It lets callers learn the page size a file was
// created with before building a DiskManager for it.
func ReadFileHeader(filePath string) (*DBFileHeader, error) {
	file, err := os.Open(filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrDBFileNotFound, filePath)
		}
		return nil, fmt.Errorf("%w: opening file %s: %v", ErrIO, filePath, err)
	}
	defer file.Close()

	raw := make([]byte, dbFileHeaderSize)
	if _, err := io.ReadFull(file, raw); err != nil {
		return nil, fmt.Errorf("%w: database file is too small (header too short)", ErrInvalidPageData)
	}
	var header DBFileHeader
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("%w: deserializing header: %v", ErrDeserialization, err)
	}
	if header.Magic != DBMagic {
		return nil, fmt.Errorf("%w: bad magic number 0x%x", ErrInvalidPageData, header.Magic)
	}
	return &header, nil
}

// OpenOrCreateFile opens an existing database file or creates a new one.
// The 'create' flag determines behavior if the file doesn't exist or already exists.
func (dm *DiskManager) OpenOrCreateFile(create bool) (*DBFileHeader, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	_, statErr := os.Stat(dm.filePath)
	switch {
	case os.IsNotExist(statErr):
		if !create {
			return nil, fmt.Errorf("%w: %s", ErrDBFileNotFound, dm.filePath)
		}
		file, err := os.OpenFile(dm.filePath, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0666)
		if err != nil {
			return nil, fmt.Errorf("%w: creating file %s: %v", ErrIO, dm.filePath, err)
		}
		dm.file = file
		dm.header = DBFileHeader{
			Magic:        DBMagic,
			Version:      DBVersion,
			PageSize:     uint32(dm.pageSize),
			NumPages:     1, // page 0 is the header
			FreeListHead: pagemanager.InvalidPageID,
		}
		if err := dm.writeHeader(); err != nil {
			dm.file.Close()
			dm.file = nil
			_ = os.Remove(dm.filePath)
			return nil, fmt.Errorf("failed to write initial header: %w", err)
		}
		if err := dm.file.Sync(); err != nil {
			return nil, fmt.Errorf("%w: syncing new file: %v", ErrIO, err)
		}
		dm.logger.Info("created database file", zap.String("path", dm.filePath), zap.Int("pageSize", dm.pageSize))

	case statErr == nil:
		if create {
			return nil, fmt.Errorf("%w: %s", ErrDBFileExists, dm.filePath)
		}
		file, err := os.OpenFile(dm.filePath, os.O_RDWR, 0666)
		if err != nil {
			return nil, fmt.Errorf("%w: opening file %s: %v", ErrIO, dm.filePath, err)
		}
		dm.file = file
		if err := dm.readHeader(); err != nil {
			dm.file.Close()
			dm.file = nil
			return nil, fmt.Errorf("failed to read database header: %w", err)
		}
		if err := dm.loadFreeList(); err != nil {
			dm.file.Close()
			dm.file = nil
			return nil, err
		}
		dm.logger.Info("opened database file",
			zap.String("path", dm.filePath),
			zap.Uint64("numPages", dm.header.NumPages),
			zap.Int("catalogEntries", len(dm.catalog)),
			zap.Int("freePages", len(dm.free)))

	default:
		return nil, fmt.Errorf("%w: stating file %s: %v", ErrIO, dm.filePath, statErr)
	}

	header := dm.header
	return &header, nil
}

// writeHeader serializes the header and the catalog into page 0.
// Must be called with dm.mu held.
func (dm *DiskManager) writeHeader() error {
	dm.header.CatalogCount = uint32(len(dm.catalog))

	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, &dm.header); err != nil {
		return fmt.Errorf("%w: serializing header: %v", ErrSerialization, err)
	}
	if buf.Len() != dbFileHeaderSize {
		return fmt.Errorf("%w: header serialized to %d bytes, want %d", ErrSerialization, buf.Len(), dbFileHeaderSize)
	}

	names := make([]string, 0, len(dm.catalog))
	for name := range dm.catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		var entry [catalogEntryOverhead]byte
		binary.LittleEndian.PutUint16(entry[0:2], uint16(len(name)))
		buf.Write(entry[0:2])
		buf.WriteString(name)
		binary.LittleEndian.PutUint64(entry[2:10], uint64(dm.catalog[name]))
		buf.Write(entry[2:10])
	}
	if buf.Len() > dm.pageSize {
		return ErrCatalogFull
	}

	page := make([]byte, dm.pageSize)
	copy(page, buf.Bytes())
	if _, err := dm.file.WriteAt(page, 0); err != nil {
		return fmt.Errorf("%w: writing header to disk: %v", ErrIO, err)
	}
	return nil
}

// readHeader loads the header and catalog from page 0.
// Must be called with dm.mu held.
func (dm *DiskManager) readHeader() error {
	page := make([]byte, dm.pageSize)
	n, err := dm.file.ReadAt(page, 0)
	if err != nil && !(errors.Is(err, io.EOF) && n >= dbFileHeaderSize) {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: database file is too small (header too short)", ErrInvalidPageData)
		}
		return fmt.Errorf("%w: reading header from disk: %v", ErrIO, err)
	}

	var header DBFileHeader
	if err := binary.Read(bytes.NewReader(page[:dbFileHeaderSize]), binary.LittleEndian, &header); err != nil {
		return fmt.Errorf("%w: deserializing header: %v", ErrDeserialization, err)
	}
	if header.Magic != DBMagic {
		return fmt.Errorf("%w: bad magic number 0x%x", ErrInvalidPageData, header.Magic)
	}
	if header.PageSize != uint32(dm.pageSize) {
		return fmt.Errorf("%w: database file page size (%d) does not match configured page size (%d)",
			ErrInvalidArgument, header.PageSize, dm.pageSize)
	}

	catalog := make(map[string]pagemanager.PageID, header.CatalogCount)
	off := dbFileHeaderSize
	for i := uint32(0); i < header.CatalogCount; i++ {
		if off+2 > len(page) {
			return fmt.Errorf("%w: catalog entry %d truncated", ErrDeserialization, i)
		}
		nameLen := int(binary.LittleEndian.Uint16(page[off:]))
		off += 2
		if off+nameLen+8 > len(page) {
			return fmt.Errorf("%w: catalog entry %d truncated", ErrDeserialization, i)
		}
		name := string(page[off : off+nameLen])
		off += nameLen
		catalog[name] = pagemanager.PageID(binary.LittleEndian.Uint64(page[off:]))
		off += 8
	}

	dm.header = header
	dm.catalog = catalog
	return nil
}

// loadFreeList walks the on-disk free list to rebuild the in-memory free set.
// Must be called with dm.mu held.
func (dm *DiskManager) loadFreeList() error {
	buf := make([]byte, dm.pageSize)
	for id := dm.header.FreeListHead; id != pagemanager.InvalidPageID; {
		if uint64(id) >= dm.header.NumPages {
			return fmt.Errorf("%w: free list points past end of file (page %d)", ErrInvalidPageData, id)
		}
		if _, ok := dm.free[id]; ok {
			return fmt.Errorf("%w: free list cycle at page %d", ErrInvalidPageData, id)
		}
		if err := dm.readAt(id, buf); err != nil {
			return err
		}
		dm.free[id] = struct{}{}
		id = pagemanager.PageID(binary.LittleEndian.Uint64(buf[freePageNextOffset:]))
	}
	return nil
}

func (dm *DiskManager) checkPage(pageID pagemanager.PageID, pageData []byte) error {
	if dm.file == nil {
		return ErrFileNotOpen
	}
	if len(pageData) != dm.pageSize {
		return fmt.Errorf("%w: page data buffer size (%d) != disk manager page size (%d)",
			ErrInvalidArgument, len(pageData), dm.pageSize)
	}
	if pageID == pagemanager.InvalidPageID || uint64(pageID) >= dm.header.NumPages {
		return fmt.Errorf("%w: page %d outside allocated range [1, %d)", ErrInvalidArgument, pageID, dm.header.NumPages)
	}
	return nil
}

func (dm *DiskManager) readAt(pageID pagemanager.PageID, pageData []byte) error {
	offset := int64(pageID) * int64(dm.pageSize)
	n, err := dm.file.ReadAt(pageData, offset)
	if err != nil && !(errors.Is(err, io.EOF) && n == dm.pageSize) {
		return fmt.Errorf("%w: reading page %d at offset %d: %v", ErrIO, pageID, offset, err)
	}
	dm.reads.Add(1)
	return nil
}

// ReadPage reads a page's data from disk into the provided pageData buffer.
func (dm *DiskManager) ReadPage(pageID pagemanager.PageID, pageData []byte) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if err := dm.checkPage(pageID, pageData); err != nil {
		return err
	}
	return dm.readAt(pageID, pageData)
}

// WritePage writes pageData to disk at the specified pageID's location.
func (dm *DiskManager) WritePage(pageID pagemanager.PageID, pageData []byte) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if err := dm.checkPage(pageID, pageData); err != nil {
		return err
	}
	if dm.limiter != nil {
		if err := dm.limiter.WaitN(context.Background(), len(pageData)); err != nil {
			return fmt.Errorf("write limiter: %w", err)
		}
	}
	offset := int64(pageID) * int64(dm.pageSize)
	if _, err := dm.file.WriteAt(pageData, offset); err != nil {
		return fmt.Errorf("%w: writing page %d at offset %d: %v", ErrIO, pageID, offset, err)
	}
	dm.writes.Add(1)
	return nil
}

// AllocatePages allocates a run of runSize contiguous pages and returns the
// first id. Single pages come from the free list when it is not empty; runs
// always extend the file.
func (dm *DiskManager) AllocatePages(runSize int) (pagemanager.PageID, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.file == nil {
		return pagemanager.InvalidPageID, ErrFileNotOpen
	}
	if runSize < 1 {
		return pagemanager.InvalidPageID, fmt.Errorf("%w: run size %d", ErrInvalidArgument, runSize)
	}

	if runSize == 1 && dm.header.FreeListHead != pagemanager.InvalidPageID {
		id := dm.header.FreeListHead
		buf := make([]byte, dm.pageSize)
		if err := dm.readAt(id, buf); err != nil {
			return pagemanager.InvalidPageID, err
		}
		dm.header.FreeListHead = pagemanager.PageID(binary.LittleEndian.Uint64(buf[freePageNextOffset:]))
		delete(dm.free, id)
		if err := dm.writeHeader(); err != nil {
			return pagemanager.InvalidPageID, err
		}
		dm.logger.Debug("allocated page from free list", zap.Uint64("pageID", uint64(id)))
		return id, nil
	}

	first := pagemanager.PageID(dm.header.NumPages)
	empty := make([]byte, dm.pageSize*runSize)
	if _, err := dm.file.WriteAt(empty, int64(first)*int64(dm.pageSize)); err != nil {
		return pagemanager.InvalidPageID, fmt.Errorf("%w: extending file for pages %d..%d: %v",
			ErrIO, first, uint64(first)+uint64(runSize)-1, err)
	}
	dm.header.NumPages += uint64(runSize)
	if err := dm.writeHeader(); err != nil {
		dm.header.NumPages -= uint64(runSize)
		return pagemanager.InvalidPageID, err
	}
	dm.logger.Debug("allocated page run", zap.Uint64("firstPageID", uint64(first)), zap.Int("runSize", runSize))
	return first, nil
}

// DeallocatePage pushes pageID onto the free list.
func (dm *DiskManager) DeallocatePage(pageID pagemanager.PageID) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.file == nil {
		return ErrFileNotOpen
	}
	if pageID == pagemanager.InvalidPageID || uint64(pageID) >= dm.header.NumPages {
		return fmt.Errorf("%w: cannot deallocate page %d", ErrInvalidArgument, pageID)
	}
	if _, ok := dm.free[pageID]; ok {
		return fmt.Errorf("%w: page %d is already free", ErrInvalidArgument, pageID)
	}

	buf := make([]byte, dm.pageSize)
	binary.LittleEndian.PutUint16(buf[freePageTypeOffset:], uint16(pagemanager.PageTypeFree))
	binary.LittleEndian.PutUint64(buf[freePageNextOffset:], uint64(dm.header.FreeListHead))
	if _, err := dm.file.WriteAt(buf, int64(pageID)*int64(dm.pageSize)); err != nil {
		return fmt.Errorf("%w: writing free page %d: %v", ErrIO, pageID, err)
	}

	prevHead := dm.header.FreeListHead
	dm.header.FreeListHead = pageID
	if err := dm.writeHeader(); err != nil {
		dm.header.FreeListHead = prevHead
		return err
	}
	dm.free[pageID] = struct{}{}
	dm.logger.Debug("deallocated page", zap.Uint64("pageID", uint64(pageID)))
	return nil
}

// IsFree reports whether pageID is currently on the free list.
func (dm *DiskManager) IsFree(pageID pagemanager.PageID) bool {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	_, ok := dm.free[pageID]
	return ok
}

// SetWriteLimiter throttles page writes to the limiter's byte rate. A nil
// limiter removes the throttle.
func (dm *DiskManager) SetWriteLimiter(limiter *rate.Limiter) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	dm.limiter = limiter
}

func (dm *DiskManager) PageSize() int { return dm.pageSize }

// NumPages returns the number of pages in the file, header page included.
func (dm *DiskManager) NumPages() uint64 {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.header.NumPages
}

// FreePageCount returns the length of the free list.
func (dm *DiskManager) FreePageCount() int {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return len(dm.free)
}

func (dm *DiskManager) Reads() uint64  { return dm.reads.Load() }
func (dm *DiskManager) Writes() uint64 { return dm.writes.Load() }

// Sync flushes all buffered data to disk.
func (dm *DiskManager) Sync() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.file != nil {
		return dm.file.Sync()
	}
	return nil
}

// Close closes the underlying file handle.
func (dm *DiskManager) Close() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.file == nil {
		return nil
	}
	if err := dm.file.Sync(); err != nil {
		dm.logger.Warn("sync on close failed", zap.Error(err))
	}
	err := dm.file.Close()
	dm.file = nil
	return err
}

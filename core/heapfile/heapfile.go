package heapfile

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sushant-115/gojoheap/core/write_engine/bufferpool"
	flushmanager "github.com/sushant-115/gojoheap/core/write_engine/flush_manager"
	pagemanager "github.com/sushant-115/gojoheap/core/write_engine/page_manager"
	"go.uber.org/zap"
)

// BufferPool is the subset of *bufferpool.BufferPoolManager a heap file uses.
type BufferPool interface {
	PinPage(pageID pagemanager.PageID, mode bufferpool.PinMode, content []byte) (*pagemanager.Page, error)
	UnpinPage(pageID pagemanager.PageID, dirty bool) error
	NewPages(runSize int, content []byte) (pagemanager.PageID, *pagemanager.Page, error)
	FreePage(pageID pagemanager.PageID) error
	PageSize() int
}

// Catalog maps heap file names to head directory pages.
// *flushmanager.DiskManager satisfies it.
type Catalog interface {
	GetFileEntry(name string) (pagemanager.PageID, bool, error)
	AddFileEntry(name string, headPageID pagemanager.PageID) error
	DeleteFileEntry(name string) error
}

var errFileDeleted = fmt.Errorf("%w: heap file has been deleted", flushmanager.ErrInvalidArgument)

type options struct {
	maxDirEntries int
	logger        *zap.Logger
}

// Option configures Open and CreateTemp.
type Option func(*options)

// WithMaxDirEntries caps the entries per directory page below what the page
// size allows. 0 means no cap.
func WithMaxDirEntries(n int) Option {
	return func(o *options) { o.maxDirEntries = n }
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// HeapFile is an unordered record file. Its data pages are indexed by a
// doubly linked chain of directory pages starting at a head page that lives
// as long as the file. Pages are only ever referenced by id and resolved
// through the buffer pool.
type HeapFile struct {
	name       string
	headPageID pagemanager.PageID
	temporary  bool
	bpm        BufferPool
	catalog    Catalog
	maxEntries int
	logger     *zap.Logger
	deleted    bool
	mu         sync.Mutex
}

func buildOptions(bpm BufferPool, opts []Option) (options, int, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.maxDirEntries < 0 {
		return o, 0, fmt.Errorf("%w: max directory entries %d", flushmanager.ErrInvalidArgument, o.maxDirEntries)
	}
	maxEntries := DirPageCapacity(bpm.PageSize())
	if o.maxDirEntries > 0 && o.maxDirEntries < maxEntries {
		maxEntries = o.maxDirEntries
	}
	return o, maxEntries, nil
}

// Open opens the named heap file, creating it if the catalog has no entry.
func Open(bpm BufferPool, catalog Catalog, name string, opts ...Option) (*HeapFile, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: heap file name is empty", flushmanager.ErrInvalidArgument)
	}
	o, maxEntries, err := buildOptions(bpm, opts)
	if err != nil {
		return nil, err
	}
	hf := &HeapFile{
		name:       name,
		bpm:        bpm,
		catalog:    catalog,
		maxEntries: maxEntries,
		logger:     o.logger.Named("heap_file").With(zap.String("file", name)),
	}

	headID, ok, err := catalog.GetFileEntry(name)
	if err != nil {
		return nil, fmt.Errorf("looking up heap file %q: %w", name, err)
	}
	if ok {
		hf.headPageID = headID
		hf.logger.Debug("opened heap file", zap.Uint64("headPageID", uint64(headID)))
		return hf, nil
	}

	headID, err = hf.newDirPage(pagemanager.InvalidPageID)
	if err != nil {
		return nil, err
	}
	if err := catalog.AddFileEntry(name, headID); err != nil {
		if ferr := bpm.FreePage(headID); ferr != nil {
			hf.logger.Error("failed to free head page", zap.Uint64("pageID", uint64(headID)), zap.Error(ferr))
		}
		return nil, fmt.Errorf("registering heap file %q: %w", name, err)
	}
	hf.headPageID = headID
	hf.logger.Info("created heap file", zap.Uint64("headPageID", uint64(headID)))
	return hf, nil
}

// CreateTemp creates an uncataloged heap file. Close deletes it.
func CreateTemp(bpm BufferPool, opts ...Option) (*HeapFile, error) {
	o, maxEntries, err := buildOptions(bpm, opts)
	if err != nil {
		return nil, err
	}
	name := "tmp-" + uuid.NewString()
	hf := &HeapFile{
		name:       name,
		temporary:  true,
		bpm:        bpm,
		maxEntries: maxEntries,
		logger:     o.logger.Named("heap_file").With(zap.String("file", name)),
	}
	headID, err := hf.newDirPage(pagemanager.InvalidPageID)
	if err != nil {
		return nil, err
	}
	hf.headPageID = headID
	hf.logger.Debug("created temporary heap file", zap.Uint64("headPageID", uint64(headID)))
	return hf, nil
}

// WithTempFile runs fn with a temporary heap file and deletes the file
// afterwards, whether fn returns normally, fails or panics.
func WithTempFile(bpm BufferPool, fn func(*HeapFile) error, opts ...Option) (err error) {
	hf, err := CreateTemp(bpm, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if derr := hf.DeleteFile(); derr != nil && !errors.Is(derr, errFileDeleted) {
			err = errors.Join(err, derr)
		}
	}()
	return fn(hf)
}

// Close deletes a temporary file. It is a no-op for named files.
func (hf *HeapFile) Close() error {
	if !hf.temporary {
		return nil
	}
	hf.mu.Lock()
	deleted := hf.deleted
	hf.mu.Unlock()
	if deleted {
		return nil
	}
	return hf.DeleteFile()
}

func (hf *HeapFile) Name() string                   { return hf.name }
func (hf *HeapFile) HeadPageID() pagemanager.PageID { return hf.headPageID }
func (hf *HeapFile) IsTemporary() bool              { return hf.temporary }
func (hf *HeapFile) MaxDirEntries() int             { return hf.maxEntries }

// newDirPage allocates and formats an empty directory page whose prev link
// is prev. The page is returned unpinned.
func (hf *HeapFile) newDirPage(prev pagemanager.PageID) (pagemanager.PageID, error) {
	id, page, err := hf.bpm.NewPages(1, nil)
	if err != nil {
		return pagemanager.InvalidPageID, fmt.Errorf("allocating directory page: %w", err)
	}
	dir := AsDirPage(page)
	dir.Init(id)
	dir.SetPrev(prev)
	if err := hf.bpm.UnpinPage(id, true); err != nil {
		return pagemanager.InvalidPageID, err
	}
	return id, nil
}

// release unpins pageID and returns opErr, or the unpin error if opErr is nil.
func (hf *HeapFile) release(pageID pagemanager.PageID, dirty bool, opErr error) error {
	if err := hf.bpm.UnpinPage(pageID, dirty); err != nil {
		if opErr == nil {
			return err
		}
		hf.logger.Error("unpin failed", zap.Uint64("pageID", uint64(pageID)), zap.Error(err))
	}
	return opErr
}

func (hf *HeapFile) pinDir(pageID pagemanager.PageID) (DirPage, error) {
	page, err := hf.bpm.PinPage(pageID, bufferpool.PinDiskIO, nil)
	if err != nil {
		return DirPage{}, fmt.Errorf("pinning directory page %d: %w", pageID, err)
	}
	dir := AsDirPage(page)
	if dir.Type() != pagemanager.PageTypeDirectory {
		err := fmt.Errorf("%w: page %d is a %s page, not a directory page",
			flushmanager.ErrInvalidPageData, pageID, dir.Type())
		return DirPage{}, hf.release(pageID, false, err)
	}
	return dir, nil
}

func (hf *HeapFile) pinData(pageID pagemanager.PageID) (DataPage, error) {
	page, err := hf.bpm.PinPage(pageID, bufferpool.PinDiskIO, nil)
	if err != nil {
		return DataPage{}, fmt.Errorf("pinning data page %d: %w", pageID, err)
	}
	dp := AsDataPage(page)
	if dp.Type() != pagemanager.PageTypeData {
		err := fmt.Errorf("%w: page %d is a %s page, not a data page",
			flushmanager.ErrInvalidArgument, pageID, dp.Type())
		return DataPage{}, hf.release(pageID, false, err)
	}
	return dp, nil
}

// InsertRecord stores rec in the first data page whose directory entry
// shows room for it, or in a new data page.
func (hf *HeapFile) InsertRecord(rec []byte) (RID, error) {
	hf.mu.Lock()
	defer hf.mu.Unlock()
	if hf.deleted {
		return RID{}, errFileDeleted
	}
	if maxLen := pagemanager.MaxRecordSize(hf.bpm.PageSize()); len(rec) > maxLen {
		return RID{}, fmt.Errorf("%w: record of %d bytes exceeds the %d byte limit",
			flushmanager.ErrInvalidArgument, len(rec), maxLen)
	}
	need := len(rec) + pagemanager.SlotSize

	// 1. First fit among existing data pages
	for dirID := hf.headPageID; dirID.IsValid(); {
		dir, err := hf.pinDir(dirID)
		if err != nil {
			return RID{}, err
		}
		for i := 0; i < dir.EntryCount(); i++ {
			if dir.FreeCnt(i) < need {
				continue
			}
			dataID := dir.PageIDAt(i)
			dp, err := hf.pinData(dataID)
			if err != nil {
				return RID{}, hf.release(dirID, false, err)
			}
			rid, err := dp.InsertRecord(rec)
			if err != nil {
				err = hf.release(dataID, false, err)
				return RID{}, hf.release(dirID, false, err)
			}
			dir.SetRecCnt(i, dir.RecCnt(i)+1)
			dir.SetFreeCnt(i, dp.FreeSpace())
			err = hf.release(dataID, true, nil)
			return rid, hf.release(dirID, true, err)
		}
		next := dir.Next()
		if err := hf.release(dirID, false, nil); err != nil {
			return RID{}, err
		}
		dirID = next
	}

	// 2. New data page
	dataID, page, err := hf.bpm.NewPages(1, nil)
	if err != nil {
		return RID{}, fmt.Errorf("allocating data page: %w", err)
	}
	dp := AsDataPage(page)
	dp.Init(dataID)
	rid, err := dp.InsertRecord(rec)
	if err != nil {
		err = hf.release(dataID, false, err)
		return RID{}, hf.discardPage(dataID, err)
	}
	free := dp.FreeSpace()
	if err := hf.release(dataID, true, nil); err != nil {
		return RID{}, err
	}
	hf.logger.Debug("new data page", zap.Uint64("pageID", uint64(dataID)))

	// 3. Register it in the directory
	if err := hf.addEntry(dataID, 1, free); err != nil {
		return RID{}, hf.discardPage(dataID, err)
	}
	return rid, nil
}

// discardPage frees an orphaned page after a failed insert.
func (hf *HeapFile) discardPage(pageID pagemanager.PageID, opErr error) error {
	if err := hf.bpm.FreePage(pageID); err != nil {
		hf.logger.Error("failed to free orphaned page", zap.Uint64("pageID", uint64(pageID)), zap.Error(err))
	}
	return opErr
}

// addEntry appends a directory entry to the first directory page with room,
// extending the chain when every page is full.
func (hf *HeapFile) addEntry(dataID pagemanager.PageID, recCnt, freeCnt int) error {
	dirID := hf.headPageID
	for {
		dir, err := hf.pinDir(dirID)
		if err != nil {
			return err
		}
		if dir.EntryCount() < hf.maxEntries {
			dir.AppendEntry(dataID, recCnt, freeCnt)
			return hf.release(dirID, true, nil)
		}
		next := dir.Next()
		if next.IsValid() {
			if err := hf.release(dirID, false, nil); err != nil {
				return err
			}
			dirID = next
			continue
		}

		// dirID is the full tail; it stays pinned while the new page is linked.
		newID, page, err := hf.bpm.NewPages(1, nil)
		if err != nil {
			return hf.release(dirID, false, fmt.Errorf("allocating directory page: %w", err))
		}
		newDir := AsDirPage(page)
		newDir.Init(newID)
		newDir.SetPrev(dirID)
		newDir.AppendEntry(dataID, recCnt, freeCnt)
		dir.SetNext(newID)
		err = hf.release(newID, true, nil)
		err = hf.release(dirID, true, err)
		hf.logger.Debug("new directory page",
			zap.Uint64("pageID", uint64(newID)),
			zap.Uint64("prevPageID", uint64(dirID)))
		return err
	}
}

// SelectRecord returns a copy of the record at rid.
func (hf *HeapFile) SelectRecord(rid RID) ([]byte, error) {
	hf.mu.Lock()
	defer hf.mu.Unlock()
	if hf.deleted {
		return nil, errFileDeleted
	}
	dp, err := hf.pinData(rid.PageID)
	if err != nil {
		return nil, err
	}
	rec, err := dp.SelectRecord(rid.SlotNo)
	if err != nil {
		return nil, hf.release(rid.PageID, false, err)
	}
	return rec, hf.release(rid.PageID, false, nil)
}

// UpdateRecord replaces the record at rid with rec of the same length.
func (hf *HeapFile) UpdateRecord(rid RID, rec []byte) error {
	hf.mu.Lock()
	defer hf.mu.Unlock()
	if hf.deleted {
		return errFileDeleted
	}
	dp, err := hf.pinData(rid.PageID)
	if err != nil {
		return err
	}
	if err := dp.UpdateRecord(rid.SlotNo, rec); err != nil {
		return hf.release(rid.PageID, false, err)
	}
	return hf.release(rid.PageID, true, nil)
}

// DeleteRecord removes the record at rid. A data page left empty is freed
// and dropped from the directory; a directory page left empty is spliced
// out of the chain unless it is the head.
func (hf *HeapFile) DeleteRecord(rid RID) error {
	hf.mu.Lock()
	defer hf.mu.Unlock()
	if hf.deleted {
		return errFileDeleted
	}

	// 1. Find the directory entry so a foreign page is rejected up front.
	dirID := hf.headPageID
	var dir DirPage
	entry := -1
	for dirID.IsValid() {
		d, err := hf.pinDir(dirID)
		if err != nil {
			return err
		}
		if i, ok := d.FindEntry(rid.PageID); ok {
			dir, entry = d, i
			break
		}
		next := d.Next()
		if err := hf.release(dirID, false, nil); err != nil {
			return err
		}
		dirID = next
	}
	if entry < 0 {
		return fmt.Errorf("%w: rid %s does not belong to heap file %q", flushmanager.ErrInvalidArgument, rid, hf.name)
	}

	// 2. Delete from the data page
	dp, err := hf.pinData(rid.PageID)
	if err != nil {
		return hf.release(dirID, false, err)
	}
	length, err := dp.SlotLength(rid.SlotNo)
	if err == nil {
		err = dp.DeleteRecord(rid.SlotNo)
	}
	if err != nil {
		err = hf.release(rid.PageID, false, err)
		return hf.release(dirID, false, err)
	}
	if err := hf.release(rid.PageID, true, nil); err != nil {
		return hf.release(dirID, false, err)
	}

	// 3. Update the entry
	recCnt := dir.RecCnt(entry) - 1
	dir.SetRecCnt(entry, recCnt)
	dir.SetFreeCnt(entry, dir.FreeCnt(entry)+length)
	if recCnt > 0 {
		return hf.release(dirID, true, nil)
	}

	if err := hf.bpm.FreePage(rid.PageID); err != nil {
		return hf.release(dirID, true, fmt.Errorf("freeing empty data page %d: %w", rid.PageID, err))
	}
	dir.Compact(entry)
	hf.logger.Debug("freed empty data page", zap.Uint64("pageID", uint64(rid.PageID)))
	if dir.EntryCount() > 0 || dirID == hf.headPageID {
		return hf.release(dirID, true, nil)
	}

	// 4. Splice the empty directory page out of the chain
	return hf.unlinkDirPage(dirID, dir)
}

// unlinkDirPage removes the pinned, empty, non-head directory page dirID.
// At most three pages are pinned here: prev, dirID and next.
func (hf *HeapFile) unlinkDirPage(dirID pagemanager.PageID, dir DirPage) error {
	prevID, nextID := dir.Prev(), dir.Next()

	prev, err := hf.pinDir(prevID)
	if err != nil {
		return hf.release(dirID, true, err)
	}
	prev.SetNext(nextID)
	if nextID.IsValid() {
		next, err := hf.pinDir(nextID)
		if err != nil {
			err = hf.release(prevID, false, err)
			return hf.release(dirID, true, err)
		}
		next.SetPrev(prevID)
		if err := hf.release(nextID, true, nil); err != nil {
			err = hf.release(prevID, true, err)
			return hf.release(dirID, true, err)
		}
	}
	if err := hf.release(prevID, true, nil); err != nil {
		return hf.release(dirID, true, err)
	}
	if err := hf.release(dirID, false, nil); err != nil {
		return err
	}
	if err := hf.bpm.FreePage(dirID); err != nil {
		return fmt.Errorf("freeing empty directory page %d: %w", dirID, err)
	}
	hf.logger.Debug("unlinked directory page",
		zap.Uint64("pageID", uint64(dirID)),
		zap.Uint64("prevPageID", uint64(prevID)),
		zap.Uint64("nextPageID", uint64(nextID)))
	return nil
}

// RecordCount sums the record counts of every directory entry.
func (hf *HeapFile) RecordCount() (int, error) {
	hf.mu.Lock()
	defer hf.mu.Unlock()
	if hf.deleted {
		return 0, errFileDeleted
	}
	total := 0
	for dirID := hf.headPageID; dirID.IsValid(); {
		dir, err := hf.pinDir(dirID)
		if err != nil {
			return 0, err
		}
		for i := 0; i < dir.EntryCount(); i++ {
			total += dir.RecCnt(i)
		}
		next := dir.Next()
		if err := hf.release(dirID, false, nil); err != nil {
			return 0, err
		}
		dirID = next
	}
	return total, nil
}

// DeleteFile frees every data and directory page of the file and removes a
// named file from the catalog. The handle is unusable afterwards. Entries
// leave the directory as their pages are freed and emptied directory pages
// are spliced out, so a DeleteFile that fails part way leaves a consistent,
// smaller file and can be retried.
func (hf *HeapFile) DeleteFile() error {
	hf.mu.Lock()
	defer hf.mu.Unlock()
	if hf.deleted {
		return errFileDeleted
	}

	freed := 0
	for dirID := hf.headPageID; dirID.IsValid(); {
		dir, err := hf.pinDir(dirID)
		if err != nil {
			return err
		}
		dropped := 0
		for dir.EntryCount() > 0 {
			last := dir.EntryCount() - 1
			dataID := dir.PageIDAt(last)
			if err := hf.bpm.FreePage(dataID); err != nil {
				return hf.release(dirID, dropped > 0, fmt.Errorf("freeing data page %d: %w", dataID, err))
			}
			dir.Compact(last)
			dropped++
		}
		freed += dropped

		next := dir.Next()
		if dirID == hf.headPageID {
			if err := hf.release(dirID, dropped > 0, nil); err != nil {
				return err
			}
		} else {
			if err := hf.unlinkDirPage(dirID, dir); err != nil {
				return err
			}
			freed++
		}
		dirID = next
	}

	if !hf.temporary {
		// A retry after a failed head free finds the entry already gone.
		if err := hf.catalog.DeleteFileEntry(hf.name); err != nil && !errors.Is(err, flushmanager.ErrFileEntryNotFound) {
			return fmt.Errorf("removing heap file %q from catalog: %w", hf.name, err)
		}
	}
	if err := hf.bpm.FreePage(hf.headPageID); err != nil {
		return fmt.Errorf("freeing head directory page %d: %w", hf.headPageID, err)
	}
	freed++
	hf.deleted = true
	hf.logger.Info("deleted heap file", zap.Int("pagesFreed", freed))
	return nil
}

// DirEntry is a decoded directory entry.
type DirEntry struct {
	PageID  pagemanager.PageID
	RecCnt  int
	FreeCnt int
}

// DirInfo describes one directory page of the chain.
type DirInfo struct {
	PageID  pagemanager.PageID
	Prev    pagemanager.PageID
	Next    pagemanager.PageID
	Entries []DirEntry
}

// DirectoryPages walks the chain from the head and decodes every page.
func (hf *HeapFile) DirectoryPages() ([]DirInfo, error) {
	hf.mu.Lock()
	defer hf.mu.Unlock()
	if hf.deleted {
		return nil, errFileDeleted
	}
	var infos []DirInfo
	for dirID := hf.headPageID; dirID.IsValid(); {
		dir, err := hf.pinDir(dirID)
		if err != nil {
			return nil, err
		}
		info := DirInfo{PageID: dirID, Prev: dir.Prev(), Next: dir.Next()}
		for i := 0; i < dir.EntryCount(); i++ {
			info.Entries = append(info.Entries, DirEntry{
				PageID:  dir.PageIDAt(i),
				RecCnt:  dir.RecCnt(i),
				FreeCnt: dir.FreeCnt(i),
			})
		}
		if err := hf.release(dirID, false, nil); err != nil {
			return nil, err
		}
		infos = append(infos, info)
		dirID = info.Next
	}
	return infos, nil
}

package bufferpool

import (
	"fmt"
	"sync"

	flushmanager "github.com/sushant-115/gojoheap/core/write_engine/flush_manager"
	pagemanager "github.com/sushant-115/gojoheap/core/write_engine/page_manager"
	internaltelemetry "github.com/sushant-115/gojoheap/internal/telemetry"
	"go.uber.org/zap"
)

// DiskManager is the page allocator and page I/O the pool sits on.
// *flushmanager.DiskManager satisfies it.
type DiskManager interface {
	AllocatePages(runSize int) (pagemanager.PageID, error)
	DeallocatePage(pageID pagemanager.PageID) error
	ReadPage(pageID pagemanager.PageID, pageData []byte) error
	WritePage(pageID pagemanager.PageID, pageData []byte) error
	Sync() error
	PageSize() int
}

// PinMode says how a newly claimed frame gets its content.
type PinMode int

const (
	// PinDiskIO reads the page from disk.
	PinDiskIO PinMode = iota
	// PinMemCopy copies caller-supplied bytes into the frame.
	PinMemCopy
	// PinNoOp leaves the frame content as is. The caller overwrites it.
	PinNoOp
)

func (m PinMode) String() string {
	switch m {
	case PinDiskIO:
		return "DiskIO"
	case PinMemCopy:
		return "MemCopy"
	case PinNoOp:
		return "NoOp"
	default:
		return fmt.Sprintf("PinMode(%d)", int(m))
	}
}

func (m PinMode) valid() bool {
	return m == PinDiskIO || m == PinMemCopy || m == PinNoOp
}

// Stats is a point-in-time snapshot of the pool.
type Stats struct {
	PoolSize   int
	Resident   int
	Pinned     int
	Dirty      int
	Hits       uint64
	Misses     uint64
	Evictions  uint64
	WriteBacks uint64
	Exhausted  uint64
}

// BufferPoolManager caches disk pages in a fixed array of frames. Residency
// is tracked in both directions: frames[i].pageID for frame -> page and
// pageTable for page -> frame. The two are only changed together, by
// mapFrame and unmapFrame. Eviction uses a clock replacer.
type BufferPoolManager struct {
	diskManager DiskManager
	poolSize    int
	pageSize    int
	pages       []*pagemanager.Page        // Page frames
	frames      []*FrameDescriptor         // Per-frame bookkeeping, same index as pages
	pageTable   map[pagemanager.PageID]int // PageID to frame index
	replacer    Replacer
	logger      *zap.Logger
	metrics     *internaltelemetry.BufferPoolMetrics
	mu          sync.Mutex

	hits, misses, evictions, writeBacks, exhausted uint64
}

// NewBufferPoolManager creates a pool of poolSize frames on top of diskManager.
func NewBufferPoolManager(poolSize int, diskManager DiskManager, logger *zap.Logger) (*BufferPoolManager, error) {
	if diskManager == nil {
		return nil, fmt.Errorf("%w: disk manager cannot be nil", flushmanager.ErrInvalidArgument)
	}
	if poolSize < 1 {
		return nil, fmt.Errorf("%w: pool size %d", flushmanager.ErrInvalidArgument, poolSize)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	pageSize := diskManager.PageSize()
	bpm := &BufferPoolManager{
		diskManager: diskManager,
		poolSize:    poolSize,
		pageSize:    pageSize,
		pages:       make([]*pagemanager.Page, poolSize),
		frames:      make([]*FrameDescriptor, poolSize),
		pageTable:   make(map[pagemanager.PageID]int, poolSize),
		logger:      logger.Named("buffer_pool"),
	}
	for i := 0; i < poolSize; i++ {
		bpm.pages[i] = pagemanager.NewPage(pagemanager.InvalidPageID, pageSize)
		bpm.frames[i] = &FrameDescriptor{pageID: pagemanager.InvalidPageID}
	}
	bpm.replacer = NewClockReplacer(bpm.frames)
	bpm.logger.Info("buffer pool initialized", zap.Int("poolSize", poolSize), zap.Int("pageSize", pageSize))
	return bpm, nil
}

// SetMetrics attaches metric instruments. nil detaches them.
func (bpm *BufferPoolManager) SetMetrics(metrics *internaltelemetry.BufferPoolMetrics) {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()
	bpm.metrics = metrics
}

// PinPage makes pageID resident and pins it. On a hit the pin count goes up
// and content is ignored, except in PinMemCopy mode where content replaces
// the frame bytes provided nobody else holds the page. On a miss a victim
// frame is written back if dirty and then filled according to mode.
func (bpm *BufferPoolManager) PinPage(pageID pagemanager.PageID, mode PinMode, content []byte) (*pagemanager.Page, error) {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()
	return bpm.pinPageInternal(pageID, mode, content)
}

// pinPageInternal must be called with bpm.mu held.
func (bpm *BufferPoolManager) pinPageInternal(pageID pagemanager.PageID, mode PinMode, content []byte) (*pagemanager.Page, error) {
	if !mode.valid() {
		return nil, fmt.Errorf("%w: unknown pin mode %v", flushmanager.ErrInvalidArgument, mode)
	}
	if !pageID.IsValid() {
		return nil, fmt.Errorf("%w: cannot pin invalid page id", flushmanager.ErrInvalidArgument)
	}
	if mode == PinMemCopy && len(content) != bpm.pageSize {
		return nil, fmt.Errorf("%w: content is %d bytes, page size is %d",
			flushmanager.ErrInvalidArgument, len(content), bpm.pageSize)
	}

	// 1. Already resident
	if frameIdx, ok := bpm.pageTable[pageID]; ok {
		frame := bpm.frames[frameIdx]
		page := bpm.pages[frameIdx]
		if mode == PinMemCopy {
			if frame.pinCount > 0 {
				return nil, fmt.Errorf("%w: page %d is pinned, cannot overwrite its content",
					flushmanager.ErrInvalidArgument, pageID)
			}
			page.SetData(content)
		}
		bpm.pinFrame(frame)
		bpm.hits++
		bpm.metrics.RecordHit()
		bpm.logger.Debug("page hit",
			zap.Uint64("pageID", uint64(pageID)),
			zap.Int("frame", frameIdx),
			zap.Uint32("pinCount", frame.pinCount))
		return page, nil
	}

	// 2. Claim a frame
	frameIdx, ok := bpm.replacer.PickVictim()
	if !ok {
		bpm.exhausted++
		bpm.metrics.RecordExhausted()
		bpm.logger.Warn("buffer pool exhausted", zap.Uint64("pageID", uint64(pageID)))
		return nil, fmt.Errorf("%w: no unpinned frame for page %d", flushmanager.ErrPoolExhausted, pageID)
	}
	frame := bpm.frames[frameIdx]
	page := bpm.pages[frameIdx]
	bpm.misses++
	bpm.metrics.RecordMiss()

	// 3. Write back the victim
	if frame.valid {
		if frame.dirty {
			bpm.logger.Debug("writing back dirty victim",
				zap.Uint64("victimPageID", uint64(frame.pageID)),
				zap.Int("frame", frameIdx))
			if err := bpm.diskManager.WritePage(frame.pageID, page.GetData()); err != nil {
				return nil, fmt.Errorf("failed to write back victim page %d: %w", frame.pageID, err)
			}
			frame.dirty = false
			bpm.writeBacks++
			bpm.metrics.RecordWriteBack()
		}
		bpm.evictions++
		bpm.metrics.RecordEviction()
		bpm.logger.Debug("evicting page",
			zap.Uint64("victimPageID", uint64(frame.pageID)),
			zap.Uint64("pageID", uint64(pageID)),
			zap.Int("frame", frameIdx))
	}

	// 4. Fill
	switch mode {
	case PinDiskIO:
		if err := bpm.diskManager.ReadPage(pageID, page.GetData()); err != nil {
			// The old content is gone; the frame holds nothing now.
			bpm.unmapFrame(frameIdx)
			return nil, fmt.Errorf("failed to read page %d from disk: %w", pageID, err)
		}
	case PinMemCopy:
		page.SetData(content)
	case PinNoOp:
	}

	// 5. Track
	bpm.mapFrame(frameIdx, pageID)
	bpm.pinFrame(frame)
	bpm.logger.Debug("page loaded",
		zap.Uint64("pageID", uint64(pageID)),
		zap.Int("frame", frameIdx),
		zap.Stringer("mode", mode))
	return page, nil
}

// mapFrame installs pageID in frameIdx, replacing whatever the frame held.
// Must be called with bpm.mu held.
func (bpm *BufferPoolManager) mapFrame(frameIdx int, pageID pagemanager.PageID) {
	frame := bpm.frames[frameIdx]
	if frame.valid {
		delete(bpm.pageTable, frame.pageID)
	}
	frame.pageID = pageID
	frame.valid = true
	frame.dirty = false
	frame.pinCount = 0
	frame.refBit = false
	bpm.pageTable[pageID] = frameIdx
	bpm.pages[frameIdx].SetPageID(pageID)
}

// unmapFrame empties frameIdx. Must be called with bpm.mu held.
func (bpm *BufferPoolManager) unmapFrame(frameIdx int) {
	frame := bpm.frames[frameIdx]
	if frame.valid {
		delete(bpm.pageTable, frame.pageID)
	}
	if frame.pinCount > 0 {
		bpm.metrics.PinnedDelta(-1)
	}
	frame.reset()
	bpm.pages[frameIdx].SetPageID(pagemanager.InvalidPageID)
}

func (bpm *BufferPoolManager) pinFrame(frame *FrameDescriptor) {
	frame.pinCount++
	if frame.pinCount == 1 {
		bpm.metrics.PinnedDelta(1)
	}
}

// UnpinPage drops one pin on pageID. dirty=true marks the frame dirty; the
// mark stays until the frame is written back.
func (bpm *BufferPoolManager) UnpinPage(pageID pagemanager.PageID, dirty bool) error {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	frameIdx, ok := bpm.pageTable[pageID]
	if !ok {
		return fmt.Errorf("%w: page %d is not resident", flushmanager.ErrInvalidArgument, pageID)
	}
	frame := bpm.frames[frameIdx]
	if frame.pinCount == 0 {
		return fmt.Errorf("%w: page %d is not pinned", flushmanager.ErrInvalidArgument, pageID)
	}
	if dirty {
		frame.dirty = true
	}
	frame.pinCount--
	if frame.pinCount == 0 {
		frame.refBit = true
		bpm.metrics.PinnedDelta(-1)
	}
	bpm.logger.Debug("unpinned page",
		zap.Uint64("pageID", uint64(pageID)),
		zap.Int("frame", frameIdx),
		zap.Uint32("pinCount", frame.pinCount),
		zap.Bool("dirty", frame.dirty))
	return nil
}

// NewPages allocates runSize contiguous pages and pins the first one with
// content copied in. A nil content yields a zeroed page. The run is given
// back to the allocator if the first page cannot be pinned.
func (bpm *BufferPoolManager) NewPages(runSize int, content []byte) (pagemanager.PageID, *pagemanager.Page, error) {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	if runSize < 1 {
		return pagemanager.InvalidPageID, nil, fmt.Errorf("%w: run size %d", flushmanager.ErrInvalidArgument, runSize)
	}
	if content == nil {
		content = make([]byte, bpm.pageSize)
	}
	if len(content) != bpm.pageSize {
		return pagemanager.InvalidPageID, nil, fmt.Errorf("%w: content is %d bytes, page size is %d",
			flushmanager.ErrInvalidArgument, len(content), bpm.pageSize)
	}
	// Refuse before touching the allocator when nothing can be evicted.
	if bpm.unpinnedCountInternal() == 0 {
		bpm.exhausted++
		bpm.metrics.RecordExhausted()
		return pagemanager.InvalidPageID, nil, fmt.Errorf("%w: no unpinned frame for a new page", flushmanager.ErrPoolExhausted)
	}

	firstID, err := bpm.diskManager.AllocatePages(runSize)
	if err != nil {
		return pagemanager.InvalidPageID, nil, fmt.Errorf("failed to allocate %d pages: %w", runSize, err)
	}

	page, err := bpm.pinPageInternal(firstID, PinMemCopy, content)
	if err != nil {
		for i := 0; i < runSize; i++ {
			id := firstID + pagemanager.PageID(i)
			if derr := bpm.diskManager.DeallocatePage(id); derr != nil {
				bpm.logger.Error("failed to return page to allocator",
					zap.Uint64("pageID", uint64(id)), zap.Error(derr))
			}
		}
		return pagemanager.InvalidPageID, nil, fmt.Errorf("failed to pin new page %d: %w", firstID, err)
	}
	bpm.logger.Debug("allocated new pages", zap.Uint64("firstPageID", uint64(firstID)), zap.Int("runSize", runSize))
	return firstID, page, nil
}

// FreePage returns pageID to the allocator. A resident copy is dropped
// without write-back; a pinned page cannot be freed.
func (bpm *BufferPoolManager) FreePage(pageID pagemanager.PageID) error {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	frameIdx, resident := bpm.pageTable[pageID]
	if resident && bpm.frames[frameIdx].pinCount > 0 {
		return fmt.Errorf("%w: page %d is pinned", flushmanager.ErrInvalidArgument, pageID)
	}
	if err := bpm.diskManager.DeallocatePage(pageID); err != nil {
		return fmt.Errorf("failed to free page %d: %w", pageID, err)
	}
	if resident {
		bpm.unmapFrame(frameIdx)
	}
	bpm.logger.Debug("freed page", zap.Uint64("pageID", uint64(pageID)), zap.Bool("wasResident", resident))
	return nil
}

// FlushPage writes pageID back if it is dirty. The page must be resident.
func (bpm *BufferPoolManager) FlushPage(pageID pagemanager.PageID) error {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	frameIdx, ok := bpm.pageTable[pageID]
	if !ok {
		return fmt.Errorf("%w: page %d is not resident", flushmanager.ErrInvalidArgument, pageID)
	}
	return bpm.flushFrameInternal(frameIdx)
}

func (bpm *BufferPoolManager) flushFrameInternal(frameIdx int) error {
	frame := bpm.frames[frameIdx]
	if !frame.valid || !frame.dirty {
		return nil
	}
	if err := bpm.diskManager.WritePage(frame.pageID, bpm.pages[frameIdx].GetData()); err != nil {
		return fmt.Errorf("failed to flush page %d: %w", frame.pageID, err)
	}
	frame.dirty = false
	bpm.writeBacks++
	bpm.metrics.RecordWriteBack()
	bpm.logger.Debug("flushed page", zap.Uint64("pageID", uint64(frame.pageID)), zap.Int("frame", frameIdx))
	return nil
}

// FlushAllPages writes back every dirty frame and syncs the disk manager.
// It keeps going after a failure and returns the first error.
func (bpm *BufferPoolManager) FlushAllPages() error {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	var firstErr error
	for i := range bpm.frames {
		if err := bpm.flushFrameInternal(i); err != nil {
			bpm.logger.Error("flush failed", zap.Int("frame", i), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if err := bpm.diskManager.Sync(); err != nil {
		bpm.logger.Error("sync failed", zap.Error(err))
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// BufferCount returns the number of frames.
func (bpm *BufferPoolManager) BufferCount() int {
	return bpm.poolSize
}

// UnpinnedCount returns the number of frames nobody has pinned, empty
// frames included.
func (bpm *BufferPoolManager) UnpinnedCount() int {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()
	return bpm.unpinnedCountInternal()
}

func (bpm *BufferPoolManager) unpinnedCountInternal() int {
	n := 0
	for _, f := range bpm.frames {
		if f.pinCount == 0 {
			n++
		}
	}
	return n
}

func (bpm *BufferPoolManager) Stats() Stats {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()
	s := Stats{
		PoolSize:   bpm.poolSize,
		Hits:       bpm.hits,
		Misses:     bpm.misses,
		Evictions:  bpm.evictions,
		WriteBacks: bpm.writeBacks,
		Exhausted:  bpm.exhausted,
	}
	for _, f := range bpm.frames {
		if f.valid {
			s.Resident++
		}
		if f.pinCount > 0 {
			s.Pinned++
		}
		if f.valid && f.dirty {
			s.Dirty++
		}
	}
	return s
}

func (bpm *BufferPoolManager) PageSize() int {
	return bpm.pageSize
}

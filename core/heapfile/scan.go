package heapfile

import (
	pagemanager "github.com/sushant-115/gojoheap/core/write_engine/page_manager"
)

type scanRecord struct {
	rid  RID
	data []byte
}

// HeapScan iterates over every record of a heap file in directory order.
// Each data page's records are copied out before the page is unpinned, so
// the scan holds no pins between calls to Next. The scan resumes after the
// last data page it returned, located by id, so deletes that compact the
// directory do not make it skip pages it has not reached.
type HeapScan struct {
	hf    *HeapFile
	dirID pagemanager.PageID
	// lastDataID and lastIdx name the data page most recently loaded from
	// dirID; lastDataID is invalid before the first load on each directory page.
	lastDataID pagemanager.PageID
	lastIdx    int
	buf        []scanRecord
	pos        int
	done       bool
}

// OpenScan starts a scan at the head of the directory chain.
func (hf *HeapFile) OpenScan() (*HeapScan, error) {
	hf.mu.Lock()
	defer hf.mu.Unlock()
	if hf.deleted {
		return nil, errFileDeleted
	}
	return &HeapScan{hf: hf, dirID: hf.headPageID}, nil
}

// Next returns the next record. ok is false once the scan is exhausted.
func (s *HeapScan) Next() (rid RID, data []byte, ok bool, err error) {
	for !s.done {
		if s.pos < len(s.buf) {
			r := s.buf[s.pos]
			s.pos++
			return r.rid, r.data, true, nil
		}
		if err := s.loadNextPage(); err != nil {
			return RID{}, nil, false, err
		}
	}
	return RID{}, nil, false, nil
}

// loadNextPage fills buf from the next data page, or advances to the next
// directory page, or marks the scan done.
func (s *HeapScan) loadNextPage() error {
	hf := s.hf
	hf.mu.Lock()
	defer hf.mu.Unlock()
	if hf.deleted {
		return errFileDeleted
	}

	s.buf, s.pos = s.buf[:0], 0
	if !s.dirID.IsValid() {
		s.done = true
		return nil
	}

	dir, err := hf.pinDir(s.dirID)
	if err != nil {
		return err
	}
	idx := 0
	if s.lastDataID.IsValid() {
		if i, ok := dir.FindEntry(s.lastDataID); ok {
			idx = i + 1
		} else {
			// The last page was dropped and its successors shifted down.
			idx = s.lastIdx
		}
	}
	if idx >= dir.EntryCount() {
		next := dir.Next()
		if err := hf.release(s.dirID, false, nil); err != nil {
			return err
		}
		s.dirID, s.lastDataID, s.lastIdx = next, pagemanager.InvalidPageID, 0
		return nil
	}
	dataID := dir.PageIDAt(idx)
	s.lastDataID, s.lastIdx = dataID, idx
	if err := hf.release(s.dirID, false, nil); err != nil {
		return err
	}

	dp, err := hf.pinData(dataID)
	if err != nil {
		return err
	}
	for slot, ok := dp.NextSlot(0); ok; slot, ok = dp.NextSlot(slot + 1) {
		rec, err := dp.SelectRecord(slot)
		if err != nil {
			return hf.release(dataID, false, err)
		}
		s.buf = append(s.buf, scanRecord{rid: RID{PageID: dataID, SlotNo: slot}, data: rec})
	}
	return hf.release(dataID, false, nil)
}

// Close ends the scan. It holds no pins, so this only stops iteration.
func (s *HeapScan) Close() {
	s.done = true
	s.buf = nil
}

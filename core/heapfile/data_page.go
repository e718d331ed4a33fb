package heapfile

import (
	"fmt"

	flushmanager "github.com/sushant-115/gojoheap/core/write_engine/flush_manager"
	pagemanager "github.com/sushant-115/gojoheap/core/write_engine/page_manager"
)

// DataPage is the slotted layout for record bytes. The slot array grows up
// from the header and records grow down from the end of the page. A slot
// with offset 0 is empty; deleting a record compacts the record area so the
// free space is always one contiguous gap.
type DataPage struct {
	slottedPage
}

// AsDataPage views page's bytes as a data page without changing them.
func AsDataPage(page *pagemanager.Page) DataPage {
	return DataPage{slottedPage(page.GetData())}
}

// Init formats the page as an empty data page.
func (dp DataPage) Init(pageID pagemanager.PageID) {
	dp.initHeader(pageID, pagemanager.PageTypeData)
}

func (dp DataPage) slotOff(slot int) int {
	return pagemanager.PageHeaderSize + slot*pagemanager.SlotSize
}

func (dp DataPage) slot(slot int) (offset, length int) {
	off := dp.slotOff(slot)
	return int(dp.u16(off)), int(dp.u16(off + 2))
}

func (dp DataPage) setSlot(slot, offset, length int) {
	off := dp.slotOff(slot)
	dp.putU16(off, uint16(offset))
	dp.putU16(off+2, uint16(length))
}

// SlotCount counts slots, empty ones included.
func (dp DataPage) SlotCount() int { return dp.slotCount() }

// RecordCount counts live records.
func (dp DataPage) RecordCount() int {
	n := 0
	for i := 0; i < dp.slotCount(); i++ {
		if off, _ := dp.slot(i); off != 0 {
			n++
		}
	}
	return n
}

func (dp DataPage) checkSlot(slot int) (offset, length int, err error) {
	if slot < 0 || slot >= dp.slotCount() {
		return 0, 0, fmt.Errorf("%w: slot %d out of range [0, %d) on page %d",
			flushmanager.ErrInvalidArgument, slot, dp.slotCount(), dp.Cur())
	}
	offset, length = dp.slot(slot)
	if offset == 0 {
		return 0, 0, fmt.Errorf("%w: slot %d on page %d is empty", flushmanager.ErrInvalidArgument, slot, dp.Cur())
	}
	return offset, length, nil
}

// SlotLength returns the length of the record in slot.
func (dp DataPage) SlotLength(slot int) (int, error) {
	_, length, err := dp.checkSlot(slot)
	return length, err
}

// InsertRecord stores rec, reusing the first empty slot if there is one.
func (dp DataPage) InsertRecord(rec []byte) (RID, error) {
	slot := -1
	for i := 0; i < dp.slotCount(); i++ {
		if off, _ := dp.slot(i); off == 0 {
			slot = i
			break
		}
	}
	need := len(rec)
	if slot < 0 {
		need += pagemanager.SlotSize
	}
	if need > dp.FreeSpace() {
		return RID{}, fmt.Errorf("%w: record of %d bytes does not fit in %d free bytes on page %d",
			flushmanager.ErrInvalidArgument, len(rec), dp.FreeSpace(), dp.Cur())
	}
	if slot < 0 {
		slot = dp.slotCount()
		dp.setSlotCount(slot + 1)
	}

	offset := dp.freePtr() - len(rec)
	copy(dp.slottedPage[offset:], rec)
	dp.setSlot(slot, offset, len(rec))
	dp.setFreePtr(offset)
	dp.setFreeSpace(dp.FreeSpace() - need)
	return RID{PageID: dp.Cur(), SlotNo: slot}, nil
}

// SelectRecord returns a copy of the record in slot.
func (dp DataPage) SelectRecord(slot int) ([]byte, error) {
	offset, length, err := dp.checkSlot(slot)
	if err != nil {
		return nil, err
	}
	rec := make([]byte, length)
	copy(rec, dp.slottedPage[offset:offset+length])
	return rec, nil
}

// UpdateRecord overwrites the record in slot. Records cannot change length.
func (dp DataPage) UpdateRecord(slot int, rec []byte) error {
	offset, length, err := dp.checkSlot(slot)
	if err != nil {
		return err
	}
	if len(rec) != length {
		return fmt.Errorf("%w: update of slot %d changes length %d -> %d",
			flushmanager.ErrInvalidArgument, slot, length, len(rec))
	}
	copy(dp.slottedPage[offset:offset+length], rec)
	return nil
}

// DeleteRecord empties slot and closes the hole it leaves in the record area.
// The slot itself is kept so other RIDs on the page stay valid.
func (dp DataPage) DeleteRecord(slot int) error {
	offset, length, err := dp.checkSlot(slot)
	if err != nil {
		return err
	}
	freePtr := dp.freePtr()
	// Records below the hole move up by length.
	copy(dp.slottedPage[freePtr+length:offset+length], dp.slottedPage[freePtr:offset])
	clear(dp.slottedPage[freePtr : freePtr+length])
	for i := 0; i < dp.slotCount(); i++ {
		// <= so zero-length records sitting at the hole's start move with it.
		if off, l := dp.slot(i); i != slot && off != 0 && off <= offset {
			dp.setSlot(i, off+length, l)
		}
	}
	dp.setSlot(slot, 0, 0)
	dp.setFreePtr(freePtr + length)
	dp.setFreeSpace(dp.FreeSpace() + length)
	return nil
}

// NextSlot returns the first live slot at or after from.
func (dp DataPage) NextSlot(from int) (int, bool) {
	for i := max(from, 0); i < dp.slotCount(); i++ {
		if off, _ := dp.slot(i); off != 0 {
			return i, true
		}
	}
	return -1, false
}

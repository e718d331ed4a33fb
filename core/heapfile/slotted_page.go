package heapfile

import (
	"encoding/binary"

	pagemanager "github.com/sushant-115/gojoheap/core/write_engine/page_manager"
)

// Header offsets shared by data and directory pages. See pagemanager.PageHeaderSize.
const (
	offSlotCount = 0
	offFreePtr   = 2
	offFreeSpace = 4
	offPageType  = 6
	offPrev      = 8
	offNext      = 16
	offCur       = 24
)

// slottedPage is a view over one frame's bytes. It holds no state of its own,
// so any mutation is immediately visible in the buffer pool frame.
type slottedPage []byte

func (p slottedPage) u16(off int) uint16 { return binary.LittleEndian.Uint16(p[off:]) }
func (p slottedPage) putU16(off int, v uint16) {
	binary.LittleEndian.PutUint16(p[off:], v)
}
func (p slottedPage) u64(off int) uint64 { return binary.LittleEndian.Uint64(p[off:]) }
func (p slottedPage) putU64(off int, v uint64) {
	binary.LittleEndian.PutUint64(p[off:], v)
}

func (p slottedPage) initHeader(pageID pagemanager.PageID, pageType pagemanager.PageType) {
	clear(p)
	p.putU16(offSlotCount, 0)
	p.putU16(offFreePtr, uint16(len(p)))
	p.putU16(offFreeSpace, uint16(len(p)-pagemanager.PageHeaderSize))
	p.putU16(offPageType, uint16(pageType))
	p.SetPrev(pagemanager.InvalidPageID)
	p.SetNext(pagemanager.InvalidPageID)
	p.putU64(offCur, uint64(pageID))
}

func (p slottedPage) Type() pagemanager.PageType { return pagemanager.PageType(p.u16(offPageType)) }

func (p slottedPage) Prev() pagemanager.PageID { return pagemanager.PageID(p.u64(offPrev)) }
func (p slottedPage) Next() pagemanager.PageID { return pagemanager.PageID(p.u64(offNext)) }
func (p slottedPage) Cur() pagemanager.PageID  { return pagemanager.PageID(p.u64(offCur)) }

func (p slottedPage) SetPrev(id pagemanager.PageID) { p.putU64(offPrev, uint64(id)) }
func (p slottedPage) SetNext(id pagemanager.PageID) { p.putU64(offNext, uint64(id)) }

func (p slottedPage) slotCount() int     { return int(p.u16(offSlotCount)) }
func (p slottedPage) setSlotCount(n int) { p.putU16(offSlotCount, uint16(n)) }
func (p slottedPage) freePtr() int       { return int(p.u16(offFreePtr)) }
func (p slottedPage) setFreePtr(v int)   { p.putU16(offFreePtr, uint16(v)) }

// FreeSpace is the contiguous gap between the slot array and the record area.
func (p slottedPage) FreeSpace() int     { return int(p.u16(offFreeSpace)) }
func (p slottedPage) setFreeSpace(v int) { p.putU16(offFreeSpace, uint16(v)) }

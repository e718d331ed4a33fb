package heapfile

import (
	pagemanager "github.com/sushant-115/gojoheap/core/write_engine/page_manager"
)

// DirEntrySize is one directory entry: pageID u64 | recCnt u16 | freeCnt u16.
const DirEntrySize = 12

// DirPageCapacity is the number of entries a directory page of pageSize holds.
func DirPageCapacity(pageSize int) int {
	return (pageSize - pagemanager.PageHeaderSize) / DirEntrySize
}

// DirPage is one link of a heap file's directory chain. Each entry names a
// data page with its live record count and free byte count. The header's
// slot count field holds the entry count.
type DirPage struct {
	slottedPage
}

func AsDirPage(page *pagemanager.Page) DirPage {
	return DirPage{slottedPage(page.GetData())}
}

func (d DirPage) Init(pageID pagemanager.PageID) {
	d.initHeader(pageID, pagemanager.PageTypeDirectory)
}

func (d DirPage) entryOff(i int) int {
	return pagemanager.PageHeaderSize + i*DirEntrySize
}

func (d DirPage) EntryCount() int     { return d.slotCount() }
func (d DirPage) SetEntryCount(n int) { d.setSlotCount(n) }

func (d DirPage) PageIDAt(i int) pagemanager.PageID {
	return pagemanager.PageID(d.u64(d.entryOff(i)))
}

func (d DirPage) SetPageIDAt(i int, id pagemanager.PageID) {
	d.putU64(d.entryOff(i), uint64(id))
}

func (d DirPage) RecCnt(i int) int    { return int(d.u16(d.entryOff(i) + 8)) }
func (d DirPage) SetRecCnt(i, n int)  { d.putU16(d.entryOff(i)+8, uint16(n)) }
func (d DirPage) FreeCnt(i int) int   { return int(d.u16(d.entryOff(i) + 10)) }
func (d DirPage) SetFreeCnt(i, n int) { d.putU16(d.entryOff(i)+10, uint16(n)) }

// AppendEntry adds an entry at the end. The caller checks capacity.
func (d DirPage) AppendEntry(id pagemanager.PageID, recCnt, freeCnt int) {
	i := d.EntryCount()
	d.SetPageIDAt(i, id)
	d.SetRecCnt(i, recCnt)
	d.SetFreeCnt(i, freeCnt)
	d.SetEntryCount(i + 1)
}

// FindEntry returns the index of the entry for dataPageID.
func (d DirPage) FindEntry(dataPageID pagemanager.PageID) (int, bool) {
	for i := 0; i < d.EntryCount(); i++ {
		if d.PageIDAt(i) == dataPageID {
			return i, true
		}
	}
	return -1, false
}

// Compact removes entry i and shifts the later entries down.
func (d DirPage) Compact(i int) {
	n := d.EntryCount()
	if i < 0 || i >= n {
		return
	}
	copy(d.slottedPage[d.entryOff(i):d.entryOff(n-1)], d.slottedPage[d.entryOff(i+1):d.entryOff(n)])
	clear(d.slottedPage[d.entryOff(n-1):d.entryOff(n)])
	d.SetEntryCount(n - 1)
}

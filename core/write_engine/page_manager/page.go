package pagemanager

import (
	"fmt"
)

// --- Page Management ---

const (
	// InvalidPageID marks "no page" and the end of a page chain. Page 0 holds
	// the database file header, so it is never handed out as a data page.
	InvalidPageID PageID = 0

	DefaultPageSize = 4096
	MinPageSize     = 512
	MaxPageSize     = 32768 // in-page offsets are 16 bit

	// PageHeaderSize is the header shared by data and directory pages:
	// slotCount u16 | freePtr u16 | freeSpace u16 | pageType u16 | prev u64 | next u64 | cur u64
	PageHeaderSize = 32
	// SlotSize is one slot directory entry: offset u16 | length u16.
	SlotSize = 4
)

// PageType is stored in the header of every formatted page.
type PageType uint16

const (
	PageTypeUnknown PageType = iota
	PageTypeData
	PageTypeDirectory
	PageTypeFree
	PageTypeHeader
)

func (t PageType) String() string {
	switch t {
	case PageTypeData:
		return "data"
	case PageTypeDirectory:
		return "directory"
	case PageTypeFree:
		return "free"
	case PageTypeHeader:
		return "header"
	default:
		return "unknown"
	}
}

// MaxRecordSize is the largest record a data page of pageSize bytes can hold.
func MaxRecordSize(pageSize int) int {
	return pageSize - PageHeaderSize - SlotSize
}

// ValidatePageSize checks that pageSize is usable by every page layout.
func ValidatePageSize(pageSize int) error {
	if pageSize < MinPageSize || pageSize > MaxPageSize {
		return fmt.Errorf("page size %d outside [%d, %d]", pageSize, MinPageSize, MaxPageSize)
	}
	return nil
}

// PageID represents a unique identifier for a page on disk.
type PageID uint64

func (p PageID) IsValid() bool { return p != InvalidPageID }

// Page is the in-memory byte buffer of one buffer pool frame. The frame's
// bookkeeping (pin count, dirty flag) lives in the buffer pool, not here.
type Page struct {
	id   PageID
	data []byte
}

// NewPage creates a new Page instance.
func NewPage(id PageID, size int) *Page {
	return &Page{
		id:   id,
		data: make([]byte, size),
	}
}

func (p *Page) Reset() {
	p.id = InvalidPageID
	clear(p.data)
}

func (p *Page) GetData() []byte     { return p.data }
func (p *Page) SetData(src []byte)  { copy(p.data, src) }
func (p *Page) GetPageID() PageID   { return p.id }
func (p *Page) SetPageID(id PageID) { p.id = id }
func (p *Page) Size() int           { return len(p.data) }

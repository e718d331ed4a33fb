package bufferpool

import (
	pagemanager "github.com/sushant-115/gojoheap/core/write_engine/page_manager"
)

// FrameDescriptor is the bookkeeping for one buffer pool frame.
type FrameDescriptor struct {
	pageID   pagemanager.PageID
	valid    bool
	dirty    bool
	pinCount uint32
	refBit   bool
}

func (f *FrameDescriptor) GetPageID() pagemanager.PageID { return f.pageID }
func (f *FrameDescriptor) IsValid() bool                 { return f.valid }
func (f *FrameDescriptor) IsDirty() bool                 { return f.dirty }
func (f *FrameDescriptor) GetPinCount() uint32           { return f.pinCount }
func (f *FrameDescriptor) RefBit() bool                  { return f.refBit }
func (f *FrameDescriptor) IsPinned() bool                { return f.pinCount > 0 }

func (f *FrameDescriptor) reset() {
	*f = FrameDescriptor{pageID: pagemanager.InvalidPageID}
}

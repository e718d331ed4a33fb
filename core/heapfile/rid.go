package heapfile

import (
	"fmt"
	"strconv"
	"strings"

	flushmanager "github.com/sushant-115/gojoheap/core/write_engine/flush_manager"
	pagemanager "github.com/sushant-115/gojoheap/core/write_engine/page_manager"
)

// RID identifies a record by data page and slot.
type RID struct {
	PageID pagemanager.PageID
	SlotNo int
}

func (r RID) String() string {
	return fmt.Sprintf("%d:%d", r.PageID, r.SlotNo)
}

// ParseRID parses the "page:slot" form produced by RID.String.
func ParseRID(s string) (RID, error) {
	pageStr, slotStr, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return RID{}, fmt.Errorf("%w: rid %q is not page:slot", flushmanager.ErrInvalidArgument, s)
	}
	pageID, err := strconv.ParseUint(pageStr, 10, 64)
	if err != nil {
		return RID{}, fmt.Errorf("%w: rid %q page: %v", flushmanager.ErrInvalidArgument, s, err)
	}
	slot, err := strconv.Atoi(slotStr)
	if err != nil || slot < 0 {
		return RID{}, fmt.Errorf("%w: rid %q slot", flushmanager.ErrInvalidArgument, s)
	}
	return RID{PageID: pagemanager.PageID(pageID), SlotNo: slot}, nil
}

package heapfile

import (
	"bytes"
	"testing"

	flushmanager "github.com/sushant-115/gojoheap/core/write_engine/flush_manager"
	pagemanager "github.com/sushant-115/gojoheap/core/write_engine/page_manager"
	"github.com/stretchr/testify/require"
)

func newDataPage(t *testing.T, size int, id pagemanager.PageID) DataPage {
	t.Helper()
	dp := AsDataPage(pagemanager.NewPage(id, size))
	dp.Init(id)
	return dp
}

func TestDataPage_Init(t *testing.T) {
	dp := newDataPage(t, 512, 9)
	require.Equal(t, pagemanager.PageTypeData, dp.Type())
	require.Equal(t, pagemanager.PageID(9), dp.Cur())
	require.Equal(t, pagemanager.InvalidPageID, dp.Prev())
	require.Equal(t, pagemanager.InvalidPageID, dp.Next())
	require.Equal(t, 512-pagemanager.PageHeaderSize, dp.FreeSpace())
	require.Zero(t, dp.SlotCount())
	_, ok := dp.NextSlot(0)
	require.False(t, ok)
}

func TestDataPage_InsertSelectUpdate(t *testing.T) {
	dp := newDataPage(t, 512, 3)

	rid, err := dp.InsertRecord([]byte("alpha"))
	require.NoError(t, err)
	require.Equal(t, RID{PageID: 3, SlotNo: 0}, rid)
	require.Equal(t, 512-pagemanager.PageHeaderSize-5-pagemanager.SlotSize, dp.FreeSpace())

	rec, err := dp.SelectRecord(0)
	require.NoError(t, err)
	require.Equal(t, []byte("alpha"), rec)

	// The returned slice is a copy.
	rec[0] = 'X'
	again, err := dp.SelectRecord(0)
	require.NoError(t, err)
	require.Equal(t, []byte("alpha"), again)

	require.NoError(t, dp.UpdateRecord(0, []byte("omega")))
	rec, err = dp.SelectRecord(0)
	require.NoError(t, err)
	require.Equal(t, []byte("omega"), rec)

	require.ErrorIs(t, dp.UpdateRecord(0, []byte("longer value")), flushmanager.ErrInvalidArgument)
	require.ErrorIs(t, dp.UpdateRecord(1, []byte("omega")), flushmanager.ErrInvalidArgument)
	_, err = dp.SelectRecord(-1)
	require.ErrorIs(t, err, flushmanager.ErrInvalidArgument)
}

func TestDataPage_FillsExactly(t *testing.T) {
	dp := newDataPage(t, 512, 1)
	maxLen := pagemanager.MaxRecordSize(512)

	_, err := dp.InsertRecord(bytes.Repeat([]byte{1}, maxLen+1))
	require.ErrorIs(t, err, flushmanager.ErrInvalidArgument)

	_, err = dp.InsertRecord(bytes.Repeat([]byte{1}, maxLen))
	require.NoError(t, err)
	require.Zero(t, dp.FreeSpace())

	_, err = dp.InsertRecord(nil)
	require.ErrorIs(t, err, flushmanager.ErrInvalidArgument, "no room for another slot")
}

func TestDataPage_DeleteCompacts(t *testing.T) {
	dp := newDataPage(t, 512, 1)
	a := bytes.Repeat([]byte{'a'}, 10)
	b := bytes.Repeat([]byte{'b'}, 20)
	c := bytes.Repeat([]byte{'c'}, 30)
	for _, rec := range [][]byte{a, b, c} {
		_, err := dp.InsertRecord(rec)
		require.NoError(t, err)
	}
	freeBefore := dp.FreeSpace()

	require.NoError(t, dp.DeleteRecord(1))
	require.Equal(t, freeBefore+len(b), dp.FreeSpace())
	require.Equal(t, 3, dp.SlotCount(), "slots are never shrunk")
	require.Equal(t, 2, dp.RecordCount())

	got, err := dp.SelectRecord(0)
	require.NoError(t, err)
	require.Equal(t, a, got)
	got, err = dp.SelectRecord(2)
	require.NoError(t, err)
	require.Equal(t, c, got)

	_, err = dp.SelectRecord(1)
	require.ErrorIs(t, err, flushmanager.ErrInvalidArgument)
	require.ErrorIs(t, dp.DeleteRecord(1), flushmanager.ErrInvalidArgument)
	_, err = dp.SlotLength(1)
	require.ErrorIs(t, err, flushmanager.ErrInvalidArgument)

	slot, ok := dp.NextSlot(1)
	require.True(t, ok)
	require.Equal(t, 2, slot)

	// The empty slot is reused and costs no slot bytes.
	free := dp.FreeSpace()
	rid, err := dp.InsertRecord([]byte("dd"))
	require.NoError(t, err)
	require.Equal(t, 1, rid.SlotNo)
	require.Equal(t, free-2, dp.FreeSpace())
	got, err = dp.SelectRecord(2)
	require.NoError(t, err)
	require.Equal(t, c, got)
}

func TestDataPage_DeleteEverythingRestoresSpace(t *testing.T) {
	dp := newDataPage(t, 1024, 1)
	var lengths []int
	for i := 0; i < 20; i++ {
		rec := bytes.Repeat([]byte{byte(i)}, i)
		_, err := dp.InsertRecord(rec)
		require.NoError(t, err)
		lengths = append(lengths, i)
	}
	// Delete in an order that exercises holes above and below.
	for _, slot := range []int{5, 0, 19, 10, 1, 2, 3, 4, 6, 7, 8, 9, 11, 12, 13, 14, 15, 16, 17, 18} {
		require.NoError(t, dp.DeleteRecord(slot))
		for s, ok := dp.NextSlot(0); ok; s, ok = dp.NextSlot(s + 1) {
			rec, err := dp.SelectRecord(s)
			require.NoError(t, err)
			require.Equal(t, bytes.Repeat([]byte{byte(s)}, lengths[s]), rec)
		}
	}
	require.Zero(t, dp.RecordCount())
	require.Equal(t, 1024-pagemanager.PageHeaderSize-20*pagemanager.SlotSize, dp.FreeSpace())
}

func TestDirPage_Entries(t *testing.T) {
	require.Equal(t, (4096-pagemanager.PageHeaderSize)/DirEntrySize, DirPageCapacity(4096))

	page := pagemanager.NewPage(4, 512)
	dir := AsDirPage(page)
	dir.Init(4)
	require.Equal(t, pagemanager.PageTypeDirectory, dir.Type())
	require.Zero(t, dir.EntryCount())

	for i := 0; i < 4; i++ {
		dir.AppendEntry(pagemanager.PageID(10+i), i+1, 100*i)
	}
	dir.SetNext(22)
	dir.SetPrev(2)

	i, ok := dir.FindEntry(12)
	require.True(t, ok)
	require.Equal(t, 2, i)
	_, ok = dir.FindEntry(99)
	require.False(t, ok)

	dir.Compact(1)
	require.Equal(t, 3, dir.EntryCount())
	require.Equal(t, pagemanager.PageID(10), dir.PageIDAt(0))
	require.Equal(t, pagemanager.PageID(12), dir.PageIDAt(1))
	require.Equal(t, 3, dir.RecCnt(1))
	require.Equal(t, 200, dir.FreeCnt(1))
	require.Equal(t, pagemanager.PageID(13), dir.PageIDAt(2))

	dir.Compact(2)
	require.Equal(t, 2, dir.EntryCount())
	require.Equal(t, pagemanager.PageID(22), dir.Next(), "compaction leaves the links alone")
	require.Equal(t, pagemanager.PageID(2), dir.Prev())
}

func TestRID_ParseAndString(t *testing.T) {
	rid := RID{PageID: 42, SlotNo: 7}
	require.Equal(t, "42:7", rid.String())

	parsed, err := ParseRID(" 42:7 ")
	require.NoError(t, err)
	require.Equal(t, rid, parsed)

	for _, bad := range []string{"", "42", "x:1", "1:y", "1:-2"} {
		_, err := ParseRID(bad)
		require.ErrorIs(t, err, flushmanager.ErrInvalidArgument, bad)
	}
}

package flushmanager

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	pagemanager "github.com/sushant-115/gojoheap/core/write_engine/page_manager"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// --- Test Helpers ---

func newTestDiskManager(t *testing.T, pageSize int) (*DiskManager, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	dm, err := NewDiskManager(path, pageSize, zaptest.NewLogger(t))
	require.NoError(t, err)
	_, err = dm.OpenOrCreateFile(true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dm.Close() })
	return dm, path
}

func filledPage(size int, b byte) []byte {
	return bytes.Repeat([]byte{b}, size)
}

// --- Test Cases ---

func TestDiskManager_CreateAndReopen(t *testing.T) {
	dm, path := newTestDiskManager(t, 1024)

	first, err := dm.AllocatePages(3)
	require.NoError(t, err)
	require.Equal(t, pagemanager.PageID(1), first, "page 0 is the header, allocation starts at 1")
	require.NoError(t, dm.WritePage(2, filledPage(1024, 0xAB)))
	require.NoError(t, dm.AddFileEntry("students", 3))
	require.NoError(t, dm.DeallocatePage(1))
	require.NoError(t, dm.Close())

	reopened, err := NewDiskManager(path, 1024, zaptest.NewLogger(t))
	require.NoError(t, err)
	header, err := reopened.OpenOrCreateFile(false)
	require.NoError(t, err)
	defer reopened.Close()

	require.Equal(t, DBMagic, header.Magic)
	require.Equal(t, uint64(4), header.NumPages)
	require.Equal(t, uint32(1), header.CatalogCount)
	require.Equal(t, pagemanager.PageID(1), header.FreeListHead)
	require.True(t, reopened.IsFree(1))

	id, ok, err := reopened.GetFileEntry("students")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, pagemanager.PageID(3), id)

	buf := make([]byte, 1024)
	require.NoError(t, reopened.ReadPage(2, buf))
	require.Equal(t, filledPage(1024, 0xAB), buf)
}

func TestDiskManager_CreateExistingAndOpenMissing(t *testing.T) {
	_, path := newTestDiskManager(t, 1024)

	dm, err := NewDiskManager(path, 1024, nil)
	require.NoError(t, err)
	_, err = dm.OpenOrCreateFile(true)
	require.ErrorIs(t, err, ErrDBFileExists)

	missing, err := NewDiskManager(filepath.Join(t.TempDir(), "missing.db"), 1024, nil)
	require.NoError(t, err)
	_, err = missing.OpenOrCreateFile(false)
	require.ErrorIs(t, err, ErrDBFileNotFound)
}

func TestDiskManager_PageSizeMismatch(t *testing.T) {
	dm, path := newTestDiskManager(t, 1024)
	require.NoError(t, dm.Close())

	other, err := NewDiskManager(path, 2048, nil)
	require.NoError(t, err)
	_, err = other.OpenOrCreateFile(false)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestReadFileHeader(t *testing.T) {
	dm, path := newTestDiskManager(t, 512)
	_, err := dm.AllocatePages(2)
	require.NoError(t, err)
	require.NoError(t, dm.Close())

	header, err := ReadFileHeader(path)
	require.NoError(t, err)
	require.Equal(t, uint32(512), header.PageSize)
	require.Equal(t, uint64(3), header.NumPages)

	// The reported size opens the file whatever the caller configured.
	reopened, err := NewDiskManager(path, int(header.PageSize), nil)
	require.NoError(t, err)
	_, err = reopened.OpenOrCreateFile(false)
	require.NoError(t, err)
	require.NoError(t, reopened.Close())

	_, err = ReadFileHeader(filepath.Join(t.TempDir(), "absent.db"))
	require.ErrorIs(t, err, ErrDBFileNotFound)

	junk := filepath.Join(t.TempDir(), "junk.db")
	require.NoError(t, os.WriteFile(junk, filledPage(512, 0x7F), 0644))
	_, err = ReadFileHeader(junk)
	require.ErrorIs(t, err, ErrInvalidPageData)

	short := filepath.Join(t.TempDir(), "short.db")
	require.NoError(t, os.WriteFile(short, []byte{1, 2, 3}, 0644))
	_, err = ReadFileHeader(short)
	require.ErrorIs(t, err, ErrInvalidPageData)
}

func TestDiskManager_RejectsBadPageSize(t *testing.T) {
	_, err := NewDiskManager(filepath.Join(t.TempDir(), "x.db"), 100, nil)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestDiskManager_FreeListReuse(t *testing.T) {
	dm, _ := newTestDiskManager(t, 512)

	first, err := dm.AllocatePages(4)
	require.NoError(t, err)
	require.NoError(t, dm.DeallocatePage(first+1))
	require.NoError(t, dm.DeallocatePage(first+3))
	require.Equal(t, 2, dm.FreePageCount())

	// LIFO reuse for single pages.
	id, err := dm.AllocatePages(1)
	require.NoError(t, err)
	require.Equal(t, first+3, id)
	id, err = dm.AllocatePages(1)
	require.NoError(t, err)
	require.Equal(t, first+1, id)
	require.Equal(t, 0, dm.FreePageCount())

	// Empty free list extends the file.
	id, err = dm.AllocatePages(1)
	require.NoError(t, err)
	require.Equal(t, first+4, id)
}

func TestDiskManager_RunsAlwaysExtendFile(t *testing.T) {
	dm, _ := newTestDiskManager(t, 512)

	id, err := dm.AllocatePages(1)
	require.NoError(t, err)
	require.NoError(t, dm.DeallocatePage(id))

	run, err := dm.AllocatePages(2)
	require.NoError(t, err)
	require.Equal(t, id+1, run)
	require.Equal(t, uint64(4), dm.NumPages())
	require.Equal(t, 1, dm.FreePageCount())
}

func TestDiskManager_InvalidArguments(t *testing.T) {
	dm, _ := newTestDiskManager(t, 512)
	id, err := dm.AllocatePages(1)
	require.NoError(t, err)

	testCases := []struct {
		name string
		run  func() error
	}{
		{"zero run", func() error { _, err := dm.AllocatePages(0); return err }},
		{"deallocate header", func() error { return dm.DeallocatePage(pagemanager.InvalidPageID) }},
		{"deallocate past end", func() error { return dm.DeallocatePage(id + 10) }},
		{"read past end", func() error { return dm.ReadPage(id+1, make([]byte, 512)) }},
		{"read header page", func() error { return dm.ReadPage(0, make([]byte, 512)) }},
		{"short buffer", func() error { return dm.WritePage(id, make([]byte, 100)) }},
		{"double free", func() error {
			if err := dm.DeallocatePage(id); err != nil {
				return err
			}
			return dm.DeallocatePage(id)
		}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.ErrorIs(t, tc.run(), ErrInvalidArgument)
		})
	}
}

func TestDiskManager_Catalog(t *testing.T) {
	dm, _ := newTestDiskManager(t, 512)

	_, ok, err := dm.GetFileEntry("orders")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, dm.AddFileEntry("orders", 7))
	require.ErrorIs(t, dm.AddFileEntry("orders", 8), ErrFileEntryExists)
	require.ErrorIs(t, dm.AddFileEntry("", 8), ErrInvalidArgument)
	require.NoError(t, dm.AddFileEntry("customers", 9))

	require.Equal(t, []FileEntry{{"customers", 9}, {"orders", 7}}, dm.FileEntries())

	require.NoError(t, dm.DeleteFileEntry("orders"))
	require.ErrorIs(t, dm.DeleteFileEntry("orders"), ErrFileEntryNotFound)
	_, ok, err = dm.GetFileEntry("orders")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDiskManager_CatalogFull(t *testing.T) {
	dm, _ := newTestDiskManager(t, 512)

	// Each entry costs 10 bytes plus the name; 448 bytes follow the header.
	var err error
	added := 0
	for i := 0; i < 100; i++ {
		err = dm.AddFileEntry(fmt.Sprintf("file-%03d", i), pagemanager.PageID(i+1))
		if err != nil {
			break
		}
		added++
	}
	require.ErrorIs(t, err, ErrCatalogFull)
	require.Equal(t, 448/18, added)
	require.Len(t, dm.FileEntries(), added, "failed entry must not stay in the catalog")
}

func TestDiskManager_ThrottledWrites(t *testing.T) {
	require.Nil(t, NewWriteLimiter(0, 512))

	dm, _ := newTestDiskManager(t, 512)
	dm.SetWriteLimiter(NewWriteLimiter(1<<20, 512))

	id, err := dm.AllocatePages(2)
	require.NoError(t, err)
	require.NoError(t, dm.WritePage(id, filledPage(512, 1)))
	require.NoError(t, dm.WritePage(id+1, filledPage(512, 2)))
	require.Equal(t, uint64(2), dm.Writes())

	buf := make([]byte, 512)
	require.NoError(t, dm.ReadPage(id+1, buf))
	require.Equal(t, filledPage(512, 2), buf)
	require.Equal(t, uint64(1), dm.Reads())
}

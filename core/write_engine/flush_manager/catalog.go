package flushmanager

import (
	"fmt"
	"sort"

	pagemanager "github.com/sushant-115/gojoheap/core/write_engine/page_manager"
	"go.uber.org/zap"
)

// FileEntry is one catalog row: a named heap file and its head directory page.
type FileEntry struct {
	Name       string
	HeadPageID pagemanager.PageID
}

// GetFileEntry returns the head page of the named file, if it is cataloged.
func (dm *DiskManager) GetFileEntry(name string) (pagemanager.PageID, bool, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.file == nil {
		return pagemanager.InvalidPageID, false, ErrFileNotOpen
	}
	id, ok := dm.catalog[name]
	return id, ok, nil
}

// AddFileEntry records name -> headPageID and persists the catalog.
func (dm *DiskManager) AddFileEntry(name string, headPageID pagemanager.PageID) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.file == nil {
		return ErrFileNotOpen
	}
	if name == "" || len(name) > MaxFilenameLength {
		return fmt.Errorf("%w: file name %q", ErrInvalidArgument, name)
	}
	if headPageID == pagemanager.InvalidPageID {
		return fmt.Errorf("%w: head page for %q", ErrInvalidArgument, name)
	}
	if _, ok := dm.catalog[name]; ok {
		return fmt.Errorf("%w: %s", ErrFileEntryExists, name)
	}

	dm.catalog[name] = headPageID
	if err := dm.writeHeader(); err != nil {
		delete(dm.catalog, name)
		return fmt.Errorf("adding file entry %q: %w", name, err)
	}
	dm.logger.Debug("added file entry", zap.String("name", name), zap.Uint64("headPageID", uint64(headPageID)))
	return nil
}

// DeleteFileEntry removes name from the catalog.
func (dm *DiskManager) DeleteFileEntry(name string) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.file == nil {
		return ErrFileNotOpen
	}
	id, ok := dm.catalog[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrFileEntryNotFound, name)
	}

	delete(dm.catalog, name)
	if err := dm.writeHeader(); err != nil {
		dm.catalog[name] = id
		return fmt.Errorf("deleting file entry %q: %w", name, err)
	}
	dm.logger.Debug("deleted file entry", zap.String("name", name))
	return nil
}

// FileEntries lists the catalog sorted by name.
func (dm *DiskManager) FileEntries() []FileEntry {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	entries := make([]FileEntry, 0, len(dm.catalog))
	for name, id := range dm.catalog {
		entries = append(entries, FileEntry{Name: name, HeadPageID: id})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries
}

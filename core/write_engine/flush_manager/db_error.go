package flushmanager

import "errors"

// --- Error Definitions ---

var (
	// ErrInvalidArgument covers a missing target, a target in the wrong state
	// or a violated precondition (unpin of an unpinned page, a bad RID, a
	// record too large for any page).
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrPoolExhausted means every frame is pinned and nothing can be evicted.
	ErrPoolExhausted = errors.New("buffer pool exhausted: all frames are pinned")

	ErrIO                = errors.New("i/o error")
	ErrSerialization     = errors.New("error during serialization")
	ErrDeserialization   = errors.New("error during deserialization")
	ErrInvalidPageData   = errors.New("invalid page data")
	ErrDBFileExists      = errors.New("database file already exists")
	ErrDBFileNotFound    = errors.New("database file not found")
	ErrFileNotOpen       = errors.New("database file not open")
	ErrCatalogFull       = errors.New("catalog has no room for another file entry")
	ErrFileEntryExists   = errors.New("file entry already exists")
	ErrFileEntryNotFound = errors.New("file entry not found")
)

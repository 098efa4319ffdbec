package storage

import (
	"os"
	"sync"

	"minidb/internal/dberr"
	"minidb/pkg/types"
)

// PageFile handles reading and writing fixed-size page images for one
// heap file. The file is a bare concatenation of page images; a length
// that is not a multiple of the page size means the file is corrupt.
type PageFile struct {
	mu       sync.Mutex
	file     *os.File
	path     string
	numPages uint64
}

// OpenPageFile creates or opens a heap file.
func OpenPageFile(path string) (*PageFile, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, dberr.New(dberr.KindIo, "open heap file %s: %v", path, err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, dberr.New(dberr.KindIo, "stat heap file %s: %v", path, err)
	}
	if info.Size()%PageSize != 0 {
		file.Close()
		return nil, dberr.New(dberr.KindStorage, "heap file %s is corrupt: %d bytes is not a whole number of pages", path, info.Size())
	}
	return &PageFile{
		file:     file,
		path:     path,
		numPages: uint64(info.Size()) / PageSize,
	}, nil
}

// NumPages returns the number of allocated pages.
func (f *PageFile) NumPages() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.numPages
}

// Allocate reserves the next page id and extends the file with a fresh
// empty page image.
func (f *PageFile) Allocate() (types.PageID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := types.PageID(f.numPages)
	page := NewPage(id)
	if _, err := f.file.WriteAt(page.Data[:], int64(id)*PageSize); err != nil {
		return 0, dberr.New(dberr.KindIo, "allocate page %d in %s: %v", id, f.path, err)
	}
	f.numPages++
	return id, nil
}

// ReadPage reads the page image for id. An allocated-but-never-written
// page (all zero bytes) reads back as a fresh empty page.
func (f *PageFile) ReadPage(id types.PageID) (*Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if uint64(id) >= f.numPages {
		return nil, dberr.New(dberr.KindStorage, "page %d does not exist in %s (%d pages)", id, f.path, f.numPages)
	}
	buf := make([]byte, PageSize)
	if _, err := f.file.ReadAt(buf, int64(id)*PageSize); err != nil {
		return nil, dberr.New(dberr.KindIo, "read page %d from %s: %v", id, f.path, err)
	}
	return PageFromBytes(id, buf), nil
}

// WritePage writes the page image back to its slot in the file.
func (f *PageFile) WritePage(p *Page) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, err := f.file.WriteAt(p.Data[:], int64(p.ID)*PageSize); err != nil {
		return dberr.New(dberr.KindIo, "write page %d to %s: %v", p.ID, f.path, err)
	}
	return nil
}

// Sync flushes pending writes to disk.
func (f *PageFile) Sync() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.file.Sync(); err != nil {
		return dberr.New(dberr.KindIo, "sync %s: %v", f.path, err)
	}
	return nil
}

// Close closes the underlying file.
func (f *PageFile) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.file.Close()
}

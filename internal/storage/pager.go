package storage

import (
	"container/list"
	"os"
	"path/filepath"
	"sync"

	"minidb/internal/dberr"
	"minidb/pkg/types"
)

// DefaultPoolPages is the buffer pool capacity used when none is given.
const DefaultPoolPages = 256

type frameKey struct {
	table string
	id    types.PageID
}

type frame struct {
	page  *Page
	dirty bool
	pins  int
	elem  *list.Element
}

// Pager is a bounded page cache keyed by (table, page id) with LRU
// eviction. It owns the heap files under its data directory and is the
// sole writer of on-disk page images during normal operation.
type Pager struct {
	mu       sync.Mutex
	dataDir  string
	capacity int

	files  map[string]*PageFile
	frames map[frameKey]*frame
	lru    *list.List // frameKey values, front = most recently used
}

// NewPager creates a pager over dataDir holding at most capacity pages.
func NewPager(dataDir string, capacity int) *Pager {
	if capacity <= 0 {
		capacity = DefaultPoolPages
	}
	return &Pager{
		dataDir:  dataDir,
		capacity: capacity,
		files:    make(map[string]*PageFile),
		frames:   make(map[frameKey]*frame),
		lru:      list.New(),
	}
}

// PageHandle pins one cached page for its lifetime. Mutations made
// through the handle must be followed by MarkDirty before Close.
type PageHandle struct {
	pager *Pager
	key   frameKey
	frame *frame
}

// Page returns the pinned page.
func (h *PageHandle) Page() *Page { return h.frame.page }

// MarkDirty records that the page image was mutated.
func (h *PageHandle) MarkDirty() {
	h.pager.mu.Lock()
	h.frame.dirty = true
	h.pager.mu.Unlock()
}

// Close releases the pin.
func (h *PageHandle) Close() {
	h.pager.mu.Lock()
	if h.frame.pins > 0 {
		h.frame.pins--
	}
	h.pager.mu.Unlock()
}

// HeapPath returns the heap file path for a table.
func (p *Pager) HeapPath(table string) string {
	return filepath.Join(p.dataDir, table+".heap")
}

// file returns the open PageFile for table, opening it on first use.
// Caller must hold p.mu.
func (p *Pager) file(table string) (*PageFile, error) {
	if f, ok := p.files[table]; ok {
		return f, nil
	}
	f, err := OpenPageFile(p.HeapPath(table))
	if err != nil {
		return nil, err
	}
	p.files[table] = f
	return f, nil
}

// NumPages returns the allocated page count for a table's heap file.
func (p *Pager) NumPages(table string) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	f, err := p.file(table)
	if err != nil {
		return 0, err
	}
	return f.NumPages(), nil
}

// AllocatePage reserves the next page for the table and pins it in
// cache as a zero-initialized dirty page.
func (p *Pager) AllocatePage(table string) (*PageHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	f, err := p.file(table)
	if err != nil {
		return nil, err
	}
	id, err := f.Allocate()
	if err != nil {
		return nil, err
	}

	if err := p.makeRoom(); err != nil {
		return nil, err
	}

	key := frameKey{table: table, id: id}
	fr := &frame{page: NewPage(id), dirty: true, pins: 1}
	fr.elem = p.lru.PushFront(key)
	p.frames[key] = fr

	return &PageHandle{pager: p, key: key, frame: fr}, nil
}

// FetchPage pins the page, reading it from the heap file if absent.
func (p *Pager) FetchPage(table string, id types.PageID) (*PageHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := frameKey{table: table, id: id}
	if fr, ok := p.frames[key]; ok {
		p.lru.MoveToFront(fr.elem)
		fr.pins++
		return &PageHandle{pager: p, key: key, frame: fr}, nil
	}

	f, err := p.file(table)
	if err != nil {
		return nil, err
	}
	page, err := f.ReadPage(id)
	if err != nil {
		return nil, err
	}

	if err := p.makeRoom(); err != nil {
		return nil, err
	}

	fr := &frame{page: page, pins: 1}
	fr.elem = p.lru.PushFront(key)
	p.frames[key] = fr

	return &PageHandle{pager: p, key: key, frame: fr}, nil
}

// makeRoom evicts the least-recently-used unpinned page when the cache
// is at capacity. Dirty pages are written back before the slot is
// reused. Caller must hold p.mu.
func (p *Pager) makeRoom() error {
	for len(p.frames) >= p.capacity {
		evicted := false
		for e := p.lru.Back(); e != nil; e = e.Prev() {
			key := e.Value.(frameKey)
			fr := p.frames[key]
			if fr.pins > 0 {
				continue
			}
			if fr.dirty {
				f, err := p.file(key.table)
				if err != nil {
					return err
				}
				if err := f.WritePage(fr.page); err != nil {
					return err
				}
			}
			p.lru.Remove(e)
			delete(p.frames, key)
			evicted = true
			break
		}
		if !evicted {
			return dberr.New(dberr.KindStorage, "buffer pool exhausted: all %d pages are pinned", p.capacity)
		}
	}
	return nil
}

// Flush writes every dirty cached page back to its heap file and clears
// the dirty flag. Nothing is evicted.
func (p *Pager) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flushLocked()
}

func (p *Pager) flushLocked() error {
	for key, fr := range p.frames {
		if !fr.dirty {
			continue
		}
		f, err := p.file(key.table)
		if err != nil {
			return err
		}
		if err := f.WritePage(fr.page); err != nil {
			return err
		}
		fr.dirty = false
	}
	for _, f := range p.files {
		if err := f.Sync(); err != nil {
			return err
		}
	}
	return nil
}

// DropTable discards all cached pages for the table, closes its heap
// file, and removes the file from disk.
func (p *Pager) DropTable(table string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for key, fr := range p.frames {
		if key.table == table {
			p.lru.Remove(fr.elem)
			delete(p.frames, key)
		}
	}
	if f, ok := p.files[table]; ok {
		f.Close()
		delete(p.files, table)
	}
	path := p.HeapPath(table)
	if _, err := os.Stat(path); err == nil {
		if err := os.Remove(path); err != nil {
			return dberr.New(dberr.KindIo, "remove heap file %s: %v", path, err)
		}
	}
	return nil
}

// Resident returns the count of pages currently cached.
func (p *Pager) Resident() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.frames)
}

// Close flushes all dirty pages and closes every open heap file.
func (p *Pager) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.flushLocked(); err != nil {
		return err
	}
	for name, f := range p.files {
		if err := f.Close(); err != nil {
			return err
		}
		delete(p.files, name)
	}
	p.frames = make(map[frameKey]*frame)
	p.lru.Init()
	return nil
}

package storage

import (
	"errors"

	"minidb/internal/dberr"
	"minidb/pkg/types"
)

// HeapFile provides row-level access to a single table's pages through
// the pager. Rows are serialized with the compact value encoding; the
// pages never interpret the bytes.
type HeapFile struct {
	pager   *Pager
	table   string
	tableID types.TableID
}

// OpenHeap binds a heap file for the named table. The underlying file
// is created lazily on first page allocation.
func OpenHeap(pager *Pager, table string, tableID types.TableID) *HeapFile {
	return &HeapFile{pager: pager, table: table, tableID: tableID}
}

// Table returns the table name this heap file stores.
func (h *HeapFile) Table() string { return h.table }

// TableID returns the owning table's identifier.
func (h *HeapFile) TableID() types.TableID { return h.tableID }

// Insert appends a row and returns its record id. The most recently
// appended page is tried first; a full page triggers allocation of a
// new one. Freed slots are not reused.
func (h *HeapFile) Insert(row types.Row) (types.RecordID, error) {
	data := types.EncodeRow(row)

	numPages, err := h.pager.NumPages(h.table)
	if err != nil {
		return types.RecordID{}, err
	}

	if numPages > 0 {
		last := types.PageID(numPages - 1)
		handle, err := h.pager.FetchPage(h.table, last)
		if err != nil {
			return types.RecordID{}, err
		}
		slot, err := handle.Page().AppendTuple(data)
		if err == nil {
			handle.MarkDirty()
			handle.Close()
			return types.RecordID{PageID: last, Slot: slot}, nil
		}
		handle.Close()
		if !errors.Is(err, ErrPageFull) && !errors.Is(err, ErrSlotOverflow) {
			return types.RecordID{}, err
		}
	}

	handle, err := h.pager.AllocatePage(h.table)
	if err != nil {
		return types.RecordID{}, err
	}
	defer handle.Close()

	slot, err := handle.Page().AppendTuple(data)
	if err != nil {
		return types.RecordID{}, err
	}
	handle.MarkDirty()
	return types.RecordID{PageID: handle.Page().ID, Slot: slot}, nil
}

// Get reads the row stored at rid.
func (h *HeapFile) Get(rid types.RecordID) (types.Row, error) {
	handle, err := h.pager.FetchPage(h.table, rid.PageID)
	if err != nil {
		return types.Row{}, err
	}
	defer handle.Close()

	data, err := handle.Page().ReadTuple(rid.Slot)
	if err != nil {
		return types.Row{}, err
	}
	row, err := types.DecodeRow(data)
	if err != nil {
		return types.Row{}, dberr.Wrap(dberr.KindStorage, err)
	}
	return row, nil
}

// Update rewrites the row at rid. When the new serialization fits the
// existing slot it is overwritten in place and rid is returned
// unchanged; otherwise the old slot is tombstoned and the row is
// reinserted, returning the new record id. The caller owns any index
// maintenance the move implies.
func (h *HeapFile) Update(rid types.RecordID, row types.Row) (types.RecordID, error) {
	data := types.EncodeRow(row)

	handle, err := h.pager.FetchPage(h.table, rid.PageID)
	if err != nil {
		return types.RecordID{}, err
	}

	page := handle.Page()
	slot, err := page.ReadSlot(rid.Slot)
	if err != nil {
		handle.Close()
		return types.RecordID{}, err
	}
	if slot.IsTombstone() {
		handle.Close()
		return types.RecordID{}, dberr.New(dberr.KindStorage, "empty slot %d on page %d", rid.Slot, rid.PageID)
	}

	if len(data) <= int(slot.Length) {
		if err := page.OverwriteTuple(rid.Slot, data); err != nil {
			handle.Close()
			return types.RecordID{}, err
		}
		handle.MarkDirty()
		handle.Close()
		return rid, nil
	}

	if err := page.Tombstone(rid.Slot); err != nil {
		handle.Close()
		return types.RecordID{}, err
	}
	handle.MarkDirty()
	handle.Close()

	return h.Insert(row)
}

// Delete tombstones the slot at rid. Deleting an already-deleted slot
// is an error; the space is not reclaimed.
func (h *HeapFile) Delete(rid types.RecordID) error {
	handle, err := h.pager.FetchPage(h.table, rid.PageID)
	if err != nil {
		return err
	}
	defer handle.Close()

	page := handle.Page()
	slot, err := page.ReadSlot(rid.Slot)
	if err != nil {
		return err
	}
	if slot.IsTombstone() {
		return dberr.New(dberr.KindStorage, "empty slot %d on page %d", rid.Slot, rid.PageID)
	}
	if err := page.Tombstone(rid.Slot); err != nil {
		return err
	}
	handle.MarkDirty()
	return nil
}

// ScanItem is one live row together with its location.
type ScanItem struct {
	RID types.RecordID
	Row types.Row
}

// Iterator walks a heap file in page-id, slot-index order, skipping
// tombstones.
type Iterator struct {
	heap     *HeapFile
	numPages uint64
	pageID   uint64
	items    []ScanItem // live rows of the current page
	pos      int
}

// Scan returns an iterator over all live rows.
func (h *HeapFile) Scan() (*Iterator, error) {
	numPages, err := h.pager.NumPages(h.table)
	if err != nil {
		return nil, err
	}
	return &Iterator{heap: h, numPages: numPages}, nil
}

// Next returns the next live row, or ok=false at end of heap.
func (it *Iterator) Next() (ScanItem, bool, error) {
	for {
		if it.pos < len(it.items) {
			item := it.items[it.pos]
			it.pos++
			return item, true, nil
		}
		if it.pageID >= it.numPages {
			return ScanItem{}, false, nil
		}
		if err := it.loadPage(types.PageID(it.pageID)); err != nil {
			return ScanItem{}, false, err
		}
		it.pageID++
	}
}

// loadPage decodes the live rows of one page into the item buffer so no
// page stays pinned between Next calls.
func (it *Iterator) loadPage(id types.PageID) error {
	handle, err := it.heap.pager.FetchPage(it.heap.table, id)
	if err != nil {
		return err
	}
	defer handle.Close()

	page := handle.Page()
	h := page.Header()
	it.items = it.items[:0]
	it.pos = 0
	for slot := uint16(0); slot < h.NumSlots; slot++ {
		s, err := page.ReadSlot(slot)
		if err != nil {
			return err
		}
		if s.IsTombstone() {
			continue
		}
		data, err := page.ReadTuple(slot)
		if err != nil {
			return err
		}
		row, err := types.DecodeRow(data)
		if err != nil {
			return dberr.Wrap(dberr.KindStorage, err)
		}
		it.items = append(it.items, ScanItem{
			RID: types.RecordID{PageID: id, Slot: slot},
			Row: row,
		})
	}
	return nil
}

// Package storage implements slotted-page heap files and the buffer pool.
package storage

import (
	"encoding/binary"
	"errors"
	"fmt"

	"minidb/internal/dberr"
	"minidb/pkg/types"
)

const (
	PageSize       = types.PageSize
	PageHeaderSize = 16

	slotSize = 4
)

var (
	// ErrPageFull means the tuple heap cannot take another tuple.
	ErrPageFull = errors.New("page full")
	// ErrSlotOverflow means the slot directory is at its maximum size.
	ErrSlotOverflow = errors.New("slot index overflow")
)

// Page is a fixed-size page with a slot directory growing up from the
// header and a tuple heap growing down from the end.
//
// Layout:
//
//	+----------------------+
//	| Header (16 bytes)    |
//	+----------------------+
//	| Slot directory →     |
//	+----------------------+
//	| Free space           |
//	+----------------------+
//	| ← Tuple heap         |
//	+----------------------+
//
// Header format:
//
//	PageID (8) + SlotCount (2) + SlotDirEnd (2) + FreeOffset (2) + Reserved (2)
//
// A slot whose offset and length are both zero is a tombstone.
type Page struct {
	ID   types.PageID
	Data [PageSize]byte
}

// Header is the decoded form of a page's 16-byte header.
type Header struct {
	PageID     types.PageID
	NumSlots   uint16
	SlotDirEnd uint16 // end of the slot directory
	FreeOffset uint16 // start of the tuple heap, grows downward
}

// Slot maps a slot index to a tuple's (offset, length) in the page.
type Slot struct {
	Offset uint16
	Length uint16
}

// IsTombstone reports whether the slot marks a deleted row.
func (s Slot) IsTombstone() bool {
	return s.Offset == 0 && s.Length == 0
}

// NewPage creates an empty page with an initialized header.
func NewPage(id types.PageID) *Page {
	p := &Page{ID: id}
	p.WriteHeader(Header{
		PageID:     id,
		NumSlots:   0,
		SlotDirEnd: PageHeaderSize,
		FreeOffset: PageSize,
	})
	return p
}

// PageFromBytes reconstructs a page from a raw on-disk image. A zeroed
// image (a hole in a grown file) comes back as a fresh empty page.
func PageFromBytes(id types.PageID, data []byte) *Page {
	p := &Page{ID: id}
	copy(p.Data[:], data)
	h := p.Header()
	if h.FreeOffset == 0 && h.SlotDirEnd == 0 {
		return NewPage(id)
	}
	return p
}

// Header decodes the page header.
func (p *Page) Header() Header {
	return Header{
		PageID:     types.PageID(binary.LittleEndian.Uint64(p.Data[0:8])),
		NumSlots:   binary.LittleEndian.Uint16(p.Data[8:10]),
		SlotDirEnd: binary.LittleEndian.Uint16(p.Data[10:12]),
		FreeOffset: binary.LittleEndian.Uint16(p.Data[12:14]),
	}
}

// WriteHeader encodes h into the page's header bytes.
func (p *Page) WriteHeader(h Header) {
	binary.LittleEndian.PutUint64(p.Data[0:8], uint64(h.PageID))
	binary.LittleEndian.PutUint16(p.Data[8:10], h.NumSlots)
	binary.LittleEndian.PutUint16(p.Data[10:12], h.SlotDirEnd)
	binary.LittleEndian.PutUint16(p.Data[12:14], h.FreeOffset)
}

// ReadSlot returns slot i, bounds-checked against the slot count.
func (p *Page) ReadSlot(i uint16) (Slot, error) {
	h := p.Header()
	if i >= h.NumSlots {
		return Slot{}, dberr.New(dberr.KindStorage, "invalid slot %d on page %d (have %d slots)", i, p.ID, h.NumSlots)
	}
	pos := PageHeaderSize + int(i)*slotSize
	return Slot{
		Offset: binary.LittleEndian.Uint16(p.Data[pos : pos+2]),
		Length: binary.LittleEndian.Uint16(p.Data[pos+2 : pos+4]),
	}, nil
}

// WriteSlot overwrites slot i, bounds-checked against the slot count.
func (p *Page) WriteSlot(i uint16, s Slot) error {
	h := p.Header()
	if i >= h.NumSlots {
		return dberr.New(dberr.KindStorage, "invalid slot %d on page %d (have %d slots)", i, p.ID, h.NumSlots)
	}
	pos := PageHeaderSize + int(i)*slotSize
	binary.LittleEndian.PutUint16(p.Data[pos:pos+2], s.Offset)
	binary.LittleEndian.PutUint16(p.Data[pos+2:pos+4], s.Length)
	return nil
}

// FreeSpace returns the bytes available for one more tuple, accounting
// for the slot directory entry the tuple would need.
func (p *Page) FreeSpace() int {
	h := p.Header()
	free := int(h.FreeOffset) - int(h.SlotDirEnd) - slotSize
	if free < 0 {
		return 0
	}
	return free
}

// AppendTuple writes data into the tuple heap and adds a slot for it.
// The new slot index equals the slot count before the append.
func (p *Page) AppendTuple(data []byte) (uint16, error) {
	if len(data) > types.MaxTupleSize {
		return 0, dberr.New(dberr.KindStorage, "tuple of %d bytes exceeds maximum tuple size %d", len(data), types.MaxTupleSize)
	}
	h := p.Header()
	if h.NumSlots == types.MaxSlotIndex {
		return 0, dberr.Wrap(dberr.KindStorage, fmt.Errorf("page %d: %w", p.ID, ErrSlotOverflow))
	}
	if int(h.FreeOffset)-int(h.SlotDirEnd)-slotSize < len(data) {
		return 0, dberr.Wrap(dberr.KindStorage, fmt.Errorf("page %d: %w: %d bytes needed, %d free", p.ID, ErrPageFull, len(data), p.FreeSpace()))
	}

	newOffset := h.FreeOffset - uint16(len(data))
	copy(p.Data[newOffset:h.FreeOffset], data)

	slot := h.NumSlots
	h.NumSlots++
	h.SlotDirEnd += slotSize
	h.FreeOffset = newOffset
	p.WriteHeader(h)

	pos := PageHeaderSize + int(slot)*slotSize
	binary.LittleEndian.PutUint16(p.Data[pos:pos+2], newOffset)
	binary.LittleEndian.PutUint16(p.Data[pos+2:pos+4], uint16(len(data)))

	return slot, nil
}

// ReadTuple returns a copy of the tuple at the given slot. Tombstoned
// slots read as an error.
func (p *Page) ReadTuple(i uint16) ([]byte, error) {
	s, err := p.ReadSlot(i)
	if err != nil {
		return nil, err
	}
	if s.IsTombstone() {
		return nil, dberr.New(dberr.KindStorage, "empty slot %d on page %d", i, p.ID)
	}
	out := make([]byte, s.Length)
	copy(out, p.Data[s.Offset:s.Offset+s.Length])
	return out, nil
}

// OverwriteTuple replaces the tuple at slot i in place. The new data must
// fit within the slot's current length; the slot's length shrinks to the
// new size.
func (p *Page) OverwriteTuple(i uint16, data []byte) error {
	s, err := p.ReadSlot(i)
	if err != nil {
		return err
	}
	if s.IsTombstone() {
		return dberr.New(dberr.KindStorage, "empty slot %d on page %d", i, p.ID)
	}
	if len(data) > int(s.Length) {
		return dberr.New(dberr.KindStorage, "page %d full: in-place write of %d bytes into slot of %d", p.ID, len(data), s.Length)
	}
	copy(p.Data[s.Offset:int(s.Offset)+len(data)], data)
	return p.WriteSlot(i, Slot{Offset: s.Offset, Length: uint16(len(data))})
}

// Tombstone marks slot i as deleted.
func (p *Page) Tombstone(i uint16) error {
	return p.WriteSlot(i, Slot{Offset: 0, Length: 0})
}

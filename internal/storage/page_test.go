package storage

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"minidb/pkg/types"
)

func TestNewPageInitialState(t *testing.T) {
	p := NewPage(0)
	h := p.Header()

	assert.Equal(t, types.PageID(0), h.PageID)
	assert.Equal(t, uint16(0), h.NumSlots)
	assert.Equal(t, uint16(PageHeaderSize), h.SlotDirEnd)
	assert.Equal(t, uint16(PageSize), h.FreeOffset)
}

func TestAppendTuple(t *testing.T) {
	p := NewPage(0)

	slot, err := p.AppendTuple([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, uint16(0), slot)

	h := p.Header()
	assert.Equal(t, uint16(1), h.NumSlots)
	assert.Equal(t, uint16(PageHeaderSize+slotSize), h.SlotDirEnd)
	assert.Equal(t, uint16(PageSize-5), h.FreeOffset)
}

func TestAppendTupleSlotIndexSequence(t *testing.T) {
	p := NewPage(0)
	for i := 0; i < 5; i++ {
		slot, err := p.AppendTuple([]byte("data"))
		require.NoError(t, err)
		assert.Equal(t, uint16(i), slot, "new slot index equals prior slot count")
	}
}

func TestReadTuple(t *testing.T) {
	p := NewPage(0)
	data := []byte("test data")

	slot, err := p.AppendTuple(data)
	require.NoError(t, err)

	got, err := p.ReadTuple(slot)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(got, data))

	// The returned bytes are a copy.
	got[0] = 'X'
	again, err := p.ReadTuple(slot)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(again, data))
}

func TestReadTupleInvalidSlot(t *testing.T) {
	p := NewPage(0)

	_, err := p.ReadTuple(0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid slot")

	p.AppendTuple([]byte("data"))
	_, err = p.ReadTuple(1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid slot")
}

func TestTombstone(t *testing.T) {
	p := NewPage(0)
	slot, err := p.AppendTuple([]byte("data"))
	require.NoError(t, err)

	require.NoError(t, p.Tombstone(slot))

	s, err := p.ReadSlot(slot)
	require.NoError(t, err)
	assert.True(t, s.IsTombstone())
	assert.Equal(t, uint16(0), s.Offset)
	assert.Equal(t, uint16(0), s.Length)

	_, err = p.ReadTuple(slot)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty slot")
}

func TestSlotBoundsChecks(t *testing.T) {
	p := NewPage(0)

	_, err := p.ReadSlot(65535)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid slot")

	err = p.WriteSlot(65535, Slot{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid slot")
}

func TestAppendTupleExceedsMaxSize(t *testing.T) {
	p := NewPage(0)
	oversized := make([]byte, types.MaxTupleSize+1)

	_, err := p.AppendTuple(oversized)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds maximum tuple size")
}

func TestAppendTuplePageFull(t *testing.T) {
	p := NewPage(0)
	massive := make([]byte, PageSize)

	_, err := p.AppendTuple(massive)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "page full")
}

func TestAppendTupleExactFit(t *testing.T) {
	p := NewPage(0)

	// Exactly the free capacity fits; one more byte does not.
	exact := make([]byte, p.FreeSpace())
	_, err := p.AppendTuple(exact)
	require.NoError(t, err)
	assert.Equal(t, 0, p.FreeSpace())

	p2 := NewPage(0)
	over := make([]byte, p2.FreeSpace()+1)
	_, err = p2.AppendTuple(over)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "page full")
}

func TestAppendTupleSlotOverflow(t *testing.T) {
	p := NewPage(0)
	h := p.Header()
	h.NumSlots = types.MaxSlotIndex
	p.WriteHeader(h)

	_, err := p.AppendTuple([]byte{1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "slot index overflow")
}

func TestOverwriteTupleInPlace(t *testing.T) {
	p := NewPage(0)
	slot, err := p.AppendTuple([]byte("hello world"))
	require.NoError(t, err)

	require.NoError(t, p.OverwriteTuple(slot, []byte("hi")))

	got, err := p.ReadTuple(slot)
	require.NoError(t, err)
	assert.Equal(t, []byte("hi"), got)

	s, err := p.ReadSlot(slot)
	require.NoError(t, err)
	assert.Equal(t, uint16(2), s.Length, "slot length shrinks to the new size")
}

func TestOverwriteTupleTooLarge(t *testing.T) {
	p := NewPage(0)
	slot, err := p.AppendTuple([]byte("hi"))
	require.NoError(t, err)

	err = p.OverwriteTuple(slot, []byte("much longer than before"))
	require.Error(t, err)
}

func TestHeaderInvariantHolds(t *testing.T) {
	p := NewPage(7)
	payload := make([]byte, 100)

	for {
		_, err := p.AppendTuple(payload)
		h := p.Header()
		assert.LessOrEqual(t, h.SlotDirEnd, h.FreeOffset)
		assert.LessOrEqual(t, int(h.FreeOffset), PageSize)
		if err != nil {
			break
		}
	}
}

func TestPageFromBytesZeroImage(t *testing.T) {
	// A page read out of a file hole is all zeroes and must come back
	// as a fresh empty page.
	p := PageFromBytes(3, make([]byte, PageSize))
	h := p.Header()

	assert.Equal(t, types.PageID(3), h.PageID)
	assert.Equal(t, uint16(0), h.NumSlots)
	assert.Equal(t, uint16(PageSize), h.FreeOffset)
}

func TestPageFromBytesRoundTrip(t *testing.T) {
	p := NewPage(42)
	p.AppendTuple([]byte("data1"))
	p.AppendTuple([]byte("data2"))

	p2 := PageFromBytes(42, p.Data[:])

	got, err := p2.ReadTuple(0)
	require.NoError(t, err)
	assert.Equal(t, []byte("data1"), got)
	got, err = p2.ReadTuple(1)
	require.NoError(t, err)
	assert.Equal(t, []byte("data2"), got)
}

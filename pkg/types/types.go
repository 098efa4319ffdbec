// Package types provides the tagged value, row, and schema model shared by
// every layer of the database: storage, the WAL, the expression evaluator,
// and the executor.
package types

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// PageID identifies a page within a single table's heap file. Dense and
// monotonically assigned starting at zero.
type PageID uint64

// TableID is a stable, process-lifetime-unique identifier for a table.
type TableID uint64

// LSN (log sequence number) is a position in the write-ahead log.
type LSN uint64

const (
	PageSize      = 4096
	InvalidPageID = PageID(^uint64(0))
	InvalidLSN    = LSN(0)

	// MaxTupleSize is the largest serialized tuple a page will accept.
	MaxTupleSize = 65535
	// MaxSlotIndex bounds how many slots a single page may hold.
	MaxSlotIndex = 65535
)

// RecordID names a row within a heap file: the page it lives on and its
// slot index on that page. Stable across in-place updates; relocating
// updates assign a new RecordID and tombstone the old slot.
type RecordID struct {
	PageID PageID
	Slot   uint16
}

func (r RecordID) String() string {
	return fmt.Sprintf("(%d,%d)", r.PageID, r.Slot)
}

// ValueType is the SQL type tag of a Value.
type ValueType uint8

const (
	TypeNull ValueType = iota
	TypeInt
	TypeText
	TypeBool
)

func (t ValueType) String() string {
	switch t {
	case TypeInt:
		return "INT"
	case TypeText:
		return "TEXT"
	case TypeBool:
		return "BOOL"
	default:
		return "NULL"
	}
}

// Value is a tagged scalar: a 64-bit signed integer, variable-length UTF-8
// text, a boolean, or null. Comparison is defined only between values of
// the same non-null tag.
type Value struct {
	Type   ValueType
	IsNull bool
	Int    int64
	Text   string
	Bool   bool
}

// NullValue returns the null value.
func NullValue() Value { return Value{Type: TypeNull, IsNull: true} }

// IntValue wraps an integer as a Value.
func IntValue(v int64) Value { return Value{Type: TypeInt, Int: v} }

// TextValue wraps a string as a Value.
func TextValue(v string) Value { return Value{Type: TypeText, Text: v} }

// BoolValue wraps a boolean as a Value.
func BoolValue(v bool) Value { return Value{Type: TypeBool, Bool: v} }

func (v Value) String() string {
	if v.IsNull {
		return "NULL"
	}
	switch v.Type {
	case TypeInt:
		return fmt.Sprintf("%d", v.Int)
	case TypeText:
		return v.Text
	case TypeBool:
		return fmt.Sprintf("%t", v.Bool)
	default:
		return "NULL"
	}
}

// Equal reports whether two values are equal. Null is never equal to
// anything, including another null, under comparison operators.
func (v Value) Equal(other Value) (bool, error) {
	if v.IsNull || other.IsNull {
		return false, nil
	}
	if v.Type != other.Type {
		return false, fmt.Errorf("cannot compare %s with %s", v.Type, other.Type)
	}
	switch v.Type {
	case TypeInt:
		return v.Int == other.Int, nil
	case TypeText:
		return v.Text == other.Text, nil
	case TypeBool:
		return v.Bool == other.Bool, nil
	default:
		return false, nil
	}
}

// Less reports whether v orders strictly before other. Only same-tag,
// non-null operands are comparable; a tag mismatch is an evaluation error.
func (v Value) Less(other Value) (bool, error) {
	if v.IsNull || other.IsNull {
		return false, fmt.Errorf("cannot order null values")
	}
	if v.Type != other.Type {
		return false, fmt.Errorf("cannot compare %s with %s", v.Type, other.Type)
	}
	switch v.Type {
	case TypeInt:
		return v.Int < other.Int, nil
	case TypeText:
		return v.Text < other.Text, nil
	default:
		return false, fmt.Errorf("type %s has no ordering", v.Type)
	}
}

// Row is an ordered sequence of values.
type Row struct {
	Values []Value
}

// Column is a name and a SQL type.
type Column struct {
	Name     string
	Type     ValueType
	Nullable bool
}

// Schema is an ordered sequence of columns, supporting both positional
// access and case-insensitive name lookup.
type Schema struct {
	Columns []Column
}

// IndexOf returns the ordinal of the named column, or -1 if absent.
// Lookup is case-insensitive.
func (s Schema) IndexOf(name string) int {
	for i, col := range s.Columns {
		if strings.EqualFold(col.Name, name) {
			return i
		}
	}
	return -1
}

func (s Schema) Names() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// EncodeValue writes the compact self-describing scalar encoding for v:
// a one-byte tag followed by a type-specific payload.
func EncodeValue(buf []byte, v Value) []byte {
	if v.IsNull {
		return append(buf, byte(TypeNull))
	}
	switch v.Type {
	case TypeInt:
		buf = append(buf, byte(TypeInt))
		var tmp [8]byte
		binary.LittleEndian.PutUint64(tmp[:], uint64(v.Int))
		return append(buf, tmp[:]...)
	case TypeText:
		buf = append(buf, byte(TypeText))
		var tmp [4]byte
		binary.LittleEndian.PutUint32(tmp[:], uint32(len(v.Text)))
		buf = append(buf, tmp[:]...)
		return append(buf, v.Text...)
	case TypeBool:
		buf = append(buf, byte(TypeBool))
		if v.Bool {
			return append(buf, 1)
		}
		return append(buf, 0)
	default:
		return append(buf, byte(TypeNull))
	}
}

// DecodeValue reads one encoded Value from buf, returning the value and
// the number of bytes consumed.
func DecodeValue(buf []byte) (Value, int, error) {
	if len(buf) < 1 {
		return Value{}, 0, fmt.Errorf("types: buffer too small for value tag")
	}
	tag := ValueType(buf[0])
	switch tag {
	case TypeNull:
		return NullValue(), 1, nil
	case TypeInt:
		if len(buf) < 9 {
			return Value{}, 0, fmt.Errorf("types: buffer too small for int value")
		}
		return IntValue(int64(binary.LittleEndian.Uint64(buf[1:9]))), 9, nil
	case TypeText:
		if len(buf) < 5 {
			return Value{}, 0, fmt.Errorf("types: buffer too small for text length")
		}
		n := int(binary.LittleEndian.Uint32(buf[1:5]))
		if len(buf) < 5+n {
			return Value{}, 0, fmt.Errorf("types: buffer too small for text payload")
		}
		return TextValue(string(buf[5 : 5+n])), 5 + n, nil
	case TypeBool:
		if len(buf) < 2 {
			return Value{}, 0, fmt.Errorf("types: buffer too small for bool value")
		}
		return BoolValue(buf[1] != 0), 2, nil
	default:
		return Value{}, 0, fmt.Errorf("types: unknown value tag %d", tag)
	}
}

// EncodeRow serializes a row as a 2-byte value count followed by each
// value's compact encoding.
func EncodeRow(row Row) []byte {
	buf := make([]byte, 0, 16*len(row.Values)+2)
	var count [2]byte
	binary.LittleEndian.PutUint16(count[:], uint16(len(row.Values)))
	buf = append(buf, count[:]...)
	for _, v := range row.Values {
		buf = EncodeValue(buf, v)
	}
	return buf
}

// DecodeRow deserializes a row produced by EncodeRow.
func DecodeRow(buf []byte) (Row, error) {
	if len(buf) < 2 {
		return Row{}, fmt.Errorf("types: buffer too small for row header")
	}
	count := int(binary.LittleEndian.Uint16(buf[0:2]))
	offset := 2
	values := make([]Value, 0, count)
	for i := 0; i < count; i++ {
		v, n, err := DecodeValue(buf[offset:])
		if err != nil {
			return Row{}, err
		}
		values = append(values, v)
		offset += n
	}
	return Row{Values: values}, nil
}

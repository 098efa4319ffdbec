// Package wal implements the append-only write-ahead log.
package wal

import (
	"encoding/binary"
	"fmt"

	"minidb/internal/dberr"
	"minidb/pkg/types"
)

// RecordType discriminates the logical operations the log can carry.
type RecordType uint8

const (
	RecordInsert RecordType = iota + 1
	RecordUpdate
	RecordDelete
	RecordCreateTable
	RecordDropTable
)

func (t RecordType) String() string {
	switch t {
	case RecordInsert:
		return "INSERT"
	case RecordUpdate:
		return "UPDATE"
	case RecordDelete:
		return "DELETE"
	case RecordCreateTable:
		return "CREATE_TABLE"
	case RecordDropTable:
		return "DROP_TABLE"
	default:
		return "UNKNOWN"
	}
}

// Record is a single logical WAL entry.
//
// Field usage by type:
//
//	Insert, Update:  TableID, RID, Row
//	Delete:          TableID, RID
//	CreateTable:     TableID, TableName, Schema, PrimaryKey
//	DropTable:       TableID
type Record struct {
	Type    RecordType
	LSN     types.LSN
	TableID types.TableID
	RID     types.RecordID

	Row types.Row

	TableName  string
	Schema     types.Schema
	PrimaryKey []int
}

// Header: Type(1) + LSN(8) + TableID(8) + PageID(8) + Slot(2)
const recordHeaderSize = 27

// Serialize converts the record to its payload bytes (without framing).
func (r *Record) Serialize() []byte {
	buf := make([]byte, recordHeaderSize, recordHeaderSize+64)
	buf[0] = byte(r.Type)
	binary.LittleEndian.PutUint64(buf[1:9], uint64(r.LSN))
	binary.LittleEndian.PutUint64(buf[9:17], uint64(r.TableID))
	binary.LittleEndian.PutUint64(buf[17:25], uint64(r.RID.PageID))
	binary.LittleEndian.PutUint16(buf[25:27], r.RID.Slot)

	switch r.Type {
	case RecordInsert, RecordUpdate:
		buf = append(buf, types.EncodeRow(r.Row)...)
	case RecordCreateTable:
		buf = appendString(buf, r.TableName)
		buf = appendUint16(buf, uint16(len(r.Schema.Columns)))
		for _, col := range r.Schema.Columns {
			buf = appendString(buf, col.Name)
			buf = append(buf, byte(col.Type))
			if col.Nullable {
				buf = append(buf, 1)
			} else {
				buf = append(buf, 0)
			}
		}
		buf = appendUint16(buf, uint16(len(r.PrimaryKey)))
		for _, ord := range r.PrimaryKey {
			buf = appendUint16(buf, uint16(ord))
		}
	}
	return buf
}

// Deserialize decodes a record payload produced by Serialize.
func Deserialize(buf []byte) (*Record, error) {
	if len(buf) < recordHeaderSize {
		return nil, dberr.New(dberr.KindWal, "record payload of %d bytes is shorter than the %d-byte header", len(buf), recordHeaderSize)
	}
	r := &Record{
		Type:    RecordType(buf[0]),
		LSN:     types.LSN(binary.LittleEndian.Uint64(buf[1:9])),
		TableID: types.TableID(binary.LittleEndian.Uint64(buf[9:17])),
		RID: types.RecordID{
			PageID: types.PageID(binary.LittleEndian.Uint64(buf[17:25])),
			Slot:   binary.LittleEndian.Uint16(buf[25:27]),
		},
	}
	rest := buf[recordHeaderSize:]

	switch r.Type {
	case RecordInsert, RecordUpdate:
		row, err := types.DecodeRow(rest)
		if err != nil {
			return nil, dberr.Wrap(dberr.KindWal, err)
		}
		r.Row = row
	case RecordDelete, RecordDropTable:
		// Header only.
	case RecordCreateTable:
		var err error
		if r.TableName, rest, err = readString(rest); err != nil {
			return nil, err
		}
		numCols, rest2, err := readUint16(rest)
		if err != nil {
			return nil, err
		}
		rest = rest2
		for i := 0; i < int(numCols); i++ {
			var name string
			if name, rest, err = readString(rest); err != nil {
				return nil, err
			}
			if len(rest) < 2 {
				return nil, dberr.New(dberr.KindWal, "truncated column definition in CREATE_TABLE record")
			}
			r.Schema.Columns = append(r.Schema.Columns, types.Column{
				Name:     name,
				Type:     types.ValueType(rest[0]),
				Nullable: rest[1] == 1,
			})
			rest = rest[2:]
		}
		numPK, rest3, err := readUint16(rest)
		if err != nil {
			return nil, err
		}
		rest = rest3
		for i := 0; i < int(numPK); i++ {
			ord, rest4, err := readUint16(rest)
			if err != nil {
				return nil, err
			}
			rest = rest4
			r.PrimaryKey = append(r.PrimaryKey, int(ord))
		}
	default:
		return nil, dberr.New(dberr.KindWal, "unknown record type %d", buf[0])
	}
	return r, nil
}

func (r *Record) String() string {
	switch r.Type {
	case RecordCreateTable:
		return fmt.Sprintf("Record{LSN:%d %s table=%q id=%d cols=%d}", r.LSN, r.Type, r.TableName, r.TableID, len(r.Schema.Columns))
	case RecordDropTable:
		return fmt.Sprintf("Record{LSN:%d %s id=%d}", r.LSN, r.Type, r.TableID)
	default:
		return fmt.Sprintf("Record{LSN:%d %s id=%d rid=%s}", r.LSN, r.Type, r.TableID, r.RID)
	}
}

func appendUint16(buf []byte, v uint16) []byte {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendString(buf []byte, s string) []byte {
	buf = appendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

func readUint16(buf []byte) (uint16, []byte, error) {
	if len(buf) < 2 {
		return 0, nil, dberr.New(dberr.KindWal, "truncated record payload")
	}
	return binary.LittleEndian.Uint16(buf[0:2]), buf[2:], nil
}

func readString(buf []byte) (string, []byte, error) {
	n, rest, err := readUint16(buf)
	if err != nil {
		return "", nil, err
	}
	if len(rest) < int(n) {
		return "", nil, dberr.New(dberr.KindWal, "truncated string in record payload")
	}
	return string(rest[:n]), rest[n:], nil
}

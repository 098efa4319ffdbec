package wal

import (
	"encoding/binary"
	"io"
	"os"
	"sync"

	"minidb/internal/dberr"
	"minidb/pkg/types"
)

const walBufferSize = 64 * 1024

// Log is an appendable, replayable record log. Each record is framed as
// a 4-byte little-endian length prefix followed by the serialized
// payload, so a torn final frame is detectable and discarded at replay.
type Log struct {
	mu   sync.Mutex
	file *os.File
	path string

	nextLSN types.LSN
	buffer  []byte
}

// Open opens (creating if absent) the log at path. A torn final frame
// left by a crash is truncated away so later appends start on a clean
// boundary.
func Open(path string) (*Log, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, dberr.New(dberr.KindIo, "open wal %s: %v", path, err)
	}

	l := &Log{
		file:    file,
		path:    path,
		nextLSN: 1,
		buffer:  make([]byte, 0, walBufferSize),
	}

	validEnd, lastLSN, err := scanLog(file)
	if err != nil {
		file.Close()
		return nil, err
	}
	if err := file.Truncate(validEnd); err != nil {
		file.Close()
		return nil, dberr.New(dberr.KindIo, "truncate torn wal tail in %s: %v", path, err)
	}
	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		file.Close()
		return nil, dberr.New(dberr.KindIo, "seek wal %s: %v", path, err)
	}
	l.nextLSN = lastLSN + 1

	return l, nil
}

// scanLog walks the frames of an open log file and returns the byte
// offset after the last complete frame plus the highest LSN seen.
func scanLog(file *os.File) (int64, types.LSN, error) {
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return 0, 0, dberr.New(dberr.KindIo, "seek wal: %v", err)
	}

	var (
		validEnd int64
		lastLSN  types.LSN
		lenBuf   [4]byte
	)
	for {
		if _, err := io.ReadFull(file, lenBuf[:]); err != nil {
			break // end of log or torn length prefix
		}
		payloadLen := binary.LittleEndian.Uint32(lenBuf[:])
		payload := make([]byte, payloadLen)
		if _, err := io.ReadFull(file, payload); err != nil {
			break // torn payload
		}
		record, err := Deserialize(payload)
		if err != nil {
			return 0, 0, err
		}
		lastLSN = record.LSN
		validEnd += 4 + int64(payloadLen)
	}
	return validEnd, lastLSN, nil
}

// Append assigns the record its LSN and adds its frame to the write
// buffer. The bytes are not durable until Sync.
func (l *Log) Append(record *Record) (types.LSN, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	record.LSN = l.nextLSN
	l.nextLSN++

	payload := record.Serialize()
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	l.buffer = append(l.buffer, lenBuf[:]...)
	l.buffer = append(l.buffer, payload...)

	if len(l.buffer) >= walBufferSize {
		if err := l.flushLocked(); err != nil {
			return 0, err
		}
	}
	return record.LSN, nil
}

// Sync writes any buffered frames and blocks until they reach
// non-volatile storage.
func (l *Log) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.flushLocked(); err != nil {
		return err
	}
	if err := l.file.Sync(); err != nil {
		return dberr.New(dberr.KindIo, "sync wal %s: %v", l.path, err)
	}
	return nil
}

func (l *Log) flushLocked() error {
	if len(l.buffer) == 0 {
		return nil
	}
	if _, err := l.file.Write(l.buffer); err != nil {
		return dberr.New(dberr.KindIo, "write wal %s: %v", l.path, err)
	}
	l.buffer = l.buffer[:0]
	return nil
}

// NextLSN returns the LSN the next appended record will receive.
func (l *Log) NextLSN() types.LSN {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nextLSN
}

// Close flushes buffered frames and closes the file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.flushLocked(); err != nil {
		return err
	}
	return l.file.Close()
}

// Replay reads every complete record from the log at path, in append
// order. A missing file replays as empty. A partially written final
// frame is discarded rather than reported as corruption; a complete
// frame that fails to decode is a log error.
func Replay(path string) ([]*Record, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, dberr.New(dberr.KindIo, "open wal %s: %v", path, err)
	}
	defer file.Close()

	var (
		records []*Record
		lenBuf  [4]byte
	)
	for {
		if _, err := io.ReadFull(file, lenBuf[:]); err != nil {
			break
		}
		payloadLen := binary.LittleEndian.Uint32(lenBuf[:])
		payload := make([]byte, payloadLen)
		if _, err := io.ReadFull(file, payload); err != nil {
			break
		}
		record, err := Deserialize(payload)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

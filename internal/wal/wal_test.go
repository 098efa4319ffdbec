package wal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"minidb/pkg/types"
)

func row(values ...types.Value) types.Row {
	return types.Row{Values: values}
}

func sampleRecords() []*Record {
	return []*Record{
		{
			Type:    RecordInsert,
			TableID: 1,
			RID:     types.RecordID{PageID: 0, Slot: 0},
			Row:     row(types.IntValue(1), types.TextValue("Alice")),
		},
		{
			Type:    RecordUpdate,
			TableID: 1,
			RID:     types.RecordID{PageID: 0, Slot: 0},
			Row:     row(types.IntValue(1), types.TextValue("Alicia")),
		},
		{
			Type:    RecordDelete,
			TableID: 1,
			RID:     types.RecordID{PageID: 0, Slot: 0},
		},
	}
}

func TestRecordRoundTripAllVariants(t *testing.T) {
	records := []*Record{
		{
			Type:    RecordInsert,
			LSN:     1,
			TableID: 3,
			RID:     types.RecordID{PageID: 9, Slot: 4},
			Row:     row(types.IntValue(-5), types.NullValue(), types.BoolValue(true)),
		},
		{
			Type:    RecordUpdate,
			LSN:     2,
			TableID: 3,
			RID:     types.RecordID{PageID: 10, Slot: 0},
			Row:     row(types.TextValue("x")),
		},
		{
			Type:    RecordDelete,
			LSN:     3,
			TableID: 3,
			RID:     types.RecordID{PageID: 1, Slot: 7},
		},
		{
			Type:      RecordCreateTable,
			LSN:       4,
			TableID:   8,
			TableName: "users",
			Schema: types.Schema{Columns: []types.Column{
				{Name: "id", Type: types.TypeInt},
				{Name: "name", Type: types.TypeText, Nullable: true},
				{Name: "active", Type: types.TypeBool, Nullable: true},
			}},
			PrimaryKey: []int{0},
		},
		{
			Type:    RecordDropTable,
			LSN:     5,
			TableID: 8,
		},
	}

	for _, want := range records {
		payload := want.Serialize()
		got, err := Deserialize(payload)
		require.NoError(t, err, "record %s", want)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("record %s round trip mismatch (-want +got):\n%s", want.Type, diff)
		}
	}
}

func TestAppendReplayOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal.log")

	log, err := Open(path)
	require.NoError(t, err)
	for _, record := range sampleRecords() {
		_, err := log.Append(record)
		require.NoError(t, err)
	}
	require.NoError(t, log.Sync())
	require.NoError(t, log.Close())

	replayed, err := Replay(path)
	require.NoError(t, err)
	require.Len(t, replayed, 3)

	assert.Equal(t, RecordInsert, replayed[0].Type)
	assert.Equal(t, RecordUpdate, replayed[1].Type)
	assert.Equal(t, RecordDelete, replayed[2].Type)
	assert.Equal(t, "Alice", replayed[0].Row.Values[1].Text)
	assert.Equal(t, "Alicia", replayed[1].Row.Values[1].Text)

	for i, record := range replayed {
		assert.Equal(t, types.LSN(i+1), record.LSN, "LSNs are dense from 1")
	}
}

func TestReplayMissingFileIsEmpty(t *testing.T) {
	records, err := Replay(filepath.Join(t.TempDir(), "absent.log"))
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestTornTailDiscardedAtEveryTruncation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wal.log")

	log, err := Open(path)
	require.NoError(t, err)
	for _, record := range sampleRecords() {
		_, err := log.Append(record)
		require.NoError(t, err)
	}
	require.NoError(t, log.Sync())
	require.NoError(t, log.Close())

	full, err := os.ReadFile(path)
	require.NoError(t, err)
	complete, err := Replay(path)
	require.NoError(t, err)

	// Frame boundaries of the three records.
	var boundaries []int
	offset := 0
	for _, record := range complete {
		offset += 4 + len(record.Serialize())
		boundaries = append(boundaries, offset)
	}

	for cut := 0; cut <= len(full); cut++ {
		truncPath := filepath.Join(dir, "trunc.log")
		require.NoError(t, os.WriteFile(truncPath, full[:cut], 0644))

		replayed, err := Replay(truncPath)
		require.NoError(t, err, "truncation at byte %d must not be corruption", cut)

		wantComplete := 0
		for _, b := range boundaries {
			if cut >= b {
				wantComplete++
			}
		}
		assert.Len(t, replayed, wantComplete, "cut at byte %d", cut)
	}
}

func TestOpenTruncatesTornTailBeforeAppending(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal.log")

	log, err := Open(path)
	require.NoError(t, err)
	_, err = log.Append(sampleRecords()[0])
	require.NoError(t, err)
	require.NoError(t, log.Sync())
	require.NoError(t, log.Close())

	// Simulate a crash mid-frame.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.Write([]byte{0xFF, 0x00, 0x00})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	log, err = Open(path)
	require.NoError(t, err)
	_, err = log.Append(sampleRecords()[2])
	require.NoError(t, err)
	require.NoError(t, log.Sync())
	require.NoError(t, log.Close())

	replayed, err := Replay(path)
	require.NoError(t, err)
	require.Len(t, replayed, 2, "torn bytes are gone, new frame is readable")
	assert.Equal(t, RecordInsert, replayed[0].Type)
	assert.Equal(t, RecordDelete, replayed[1].Type)
}

func TestLSNContinuesAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal.log")

	log, err := Open(path)
	require.NoError(t, err)
	lsn, err := log.Append(sampleRecords()[0])
	require.NoError(t, err)
	assert.Equal(t, types.LSN(1), lsn)
	require.NoError(t, log.Close())

	log, err = Open(path)
	require.NoError(t, err)
	defer log.Close()
	assert.Equal(t, types.LSN(2), log.NextLSN())
}

func TestSyncBeforeCloseMakesFramesDurable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal.log")

	log, err := Open(path)
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		_, err := log.Append(&Record{
			Type:    RecordInsert,
			TableID: 1,
			RID:     types.RecordID{PageID: types.PageID(i), Slot: 0},
			Row:     row(types.IntValue(int64(i))),
		})
		require.NoError(t, err)
	}
	require.NoError(t, log.Sync())

	// Replay through a separate handle while the writer is open.
	replayed, err := Replay(path)
	require.NoError(t, err)
	assert.Len(t, replayed, 100)
	require.NoError(t, log.Close())
}

package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"minidb/internal/dberr"
	"minidb/internal/wal"
	"minidb/pkg/types"
)

func openTestDB(t *testing.T, dir string) *Database {
	t.Helper()
	db, err := Open(Config{DataDir: dir, PoolPages: 32})
	require.NoError(t, err)
	return db
}

func mustExec(t *testing.T, db *Database, sqlText string) *Result {
	t.Helper()
	result, err := db.Execute(sqlText)
	require.NoError(t, err, "statement: %s", sqlText)
	return result
}

func rowInts(rows []types.Row, col int) []int64 {
	out := make([]int64, len(rows))
	for i, r := range rows {
		out[i] = r.Values[col].Int
	}
	return out
}

func TestCreateInsertSelectRoundTrip(t *testing.T) {
	db := openTestDB(t, t.TempDir())
	defer db.Close()

	mustExec(t, db, "CREATE TABLE users (id INT PRIMARY KEY, name TEXT, age INT)")
	mustExec(t, db, "INSERT INTO users VALUES (1, 'Alice', 30)")
	mustExec(t, db, "INSERT INTO users VALUES (2, 'Bob', 25)")

	result := mustExec(t, db, "SELECT * FROM users")
	require.Equal(t, ResultRows, result.Kind)
	assert.Equal(t, []string{"id", "name", "age"}, result.Columns)
	require.Len(t, result.Rows, 2)

	want := []types.Row{
		{Values: []types.Value{types.IntValue(1), types.TextValue("Alice"), types.IntValue(30)}},
		{Values: []types.Value{types.IntValue(2), types.TextValue("Bob"), types.IntValue(25)}},
	}
	if diff := cmp.Diff(want, result.Rows); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
}

func TestDuplicatePrimaryKeyRejected(t *testing.T) {
	db := openTestDB(t, t.TempDir())
	defer db.Close()

	mustExec(t, db, "CREATE TABLE users (id INT PRIMARY KEY, name TEXT, age INT)")
	mustExec(t, db, "INSERT INTO users VALUES (1, 'Alice', 30)")
	mustExec(t, db, "INSERT INTO users VALUES (2, 'Bob', 25)")

	_, err := db.Execute("INSERT INTO users VALUES (1, 'Dup', 0)")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate primary key")
	assert.Equal(t, dberr.KindConstraint, dberr.KindOf(err))

	result := mustExec(t, db, "SELECT * FROM users")
	assert.Len(t, result.Rows, 2)
}

func TestUpdateSelectDeleteLifecycle(t *testing.T) {
	db := openTestDB(t, t.TempDir())
	defer db.Close()

	mustExec(t, db, "CREATE TABLE kv (k INT PRIMARY KEY, v INT)")
	mustExec(t, db, "INSERT INTO kv VALUES (1, 10)")

	result := mustExec(t, db, "UPDATE kv SET v = 20 WHERE k = 1")
	assert.Equal(t, uint64(1), result.Affected)

	result = mustExec(t, db, "SELECT v FROM kv WHERE k = 1")
	require.Len(t, result.Rows, 1)
	assert.Equal(t, int64(20), result.Rows[0].Values[0].Int)

	result = mustExec(t, db, "DELETE FROM kv WHERE k = 1")
	assert.Equal(t, uint64(1), result.Affected)

	result = mustExec(t, db, "SELECT * FROM kv")
	assert.Empty(t, result.Rows)
}

func TestExplainSeqScanAndIndexScan(t *testing.T) {
	db := openTestDB(t, t.TempDir())
	defer db.Close()

	mustExec(t, db, "CREATE TABLE users (id INT PRIMARY KEY, name TEXT, age INT)")

	result := mustExec(t, db, "EXPLAIN SELECT * FROM users")
	require.Equal(t, ResultRows, result.Kind)
	require.NotEmpty(t, result.Rows)
	assert.Contains(t, result.Rows[0].Values[0].Text, "SeqScan")

	result = mustExec(t, db, "EXPLAIN SELECT * FROM users WHERE id = 1")
	require.NotEmpty(t, result.Rows)
	assert.Contains(t, result.Rows[0].Values[0].Text, "IndexScan")
}

func TestExplainAnalyzeExecutes(t *testing.T) {
	db := openTestDB(t, t.TempDir())
	defer db.Close()

	mustExec(t, db, "CREATE TABLE users (id INT PRIMARY KEY, name TEXT, age INT)")
	mustExec(t, db, "INSERT INTO users VALUES (1, 'Alice', 30)")

	result := mustExec(t, db, "EXPLAIN ANALYZE SELECT * FROM users")
	require.NotEmpty(t, result.Rows)
	assert.Contains(t, result.Rows[0].Values[0].Text, "rows=1")
}

func TestRestartPreservesState(t *testing.T) {
	dir := t.TempDir()

	db := openTestDB(t, dir)
	mustExec(t, db, "CREATE TABLE users (id INT PRIMARY KEY, name TEXT, age INT)")
	mustExec(t, db, "INSERT INTO users VALUES (1, 'Alice', 30)")
	mustExec(t, db, "INSERT INTO users VALUES (2, 'Bob', 25)")
	mustExec(t, db, "UPDATE users SET age = 26 WHERE id = 2")
	mustExec(t, db, "DELETE FROM users WHERE id = 1")
	before := mustExec(t, db, "SELECT * FROM users")
	require.NoError(t, db.Close())

	db = openTestDB(t, dir)
	defer db.Close()
	after := mustExec(t, db, "SELECT * FROM users")

	if diff := cmp.Diff(before.Rows, after.Rows); diff != "" {
		t.Errorf("restart changed visible rows (-before +after):\n%s", diff)
	}
	require.Len(t, after.Rows, 1)
	assert.Equal(t, int64(26), after.Rows[0].Values[2].Int)

	// The rebuilt index still enforces uniqueness.
	_, err := db.Execute("INSERT INTO users VALUES (2, 'Dup', 0)")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate primary key")
}

func TestRestartIdentityManyRows(t *testing.T) {
	dir := t.TempDir()

	db := openTestDB(t, dir)
	mustExec(t, db, "CREATE TABLE n (id INT PRIMARY KEY, sq INT)")
	for i := 0; i < 50; i++ {
		mustExec(t, db, fmt.Sprintf("INSERT INTO n VALUES (%d, %d)", i, i*i))
	}
	mustExec(t, db, "DELETE FROM n WHERE id < 10")
	require.NoError(t, db.Close())

	db = openTestDB(t, dir)
	defer db.Close()
	result := mustExec(t, db, "SELECT id FROM n")

	got := rowInts(result.Rows, 0)
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	require.Len(t, got, 40)
	for i, id := range got {
		assert.Equal(t, int64(i+10), id)
	}
}

func TestWalTruncationRestoresPrefix(t *testing.T) {
	dir := t.TempDir()

	db := openTestDB(t, dir)
	mustExec(t, db, "CREATE TABLE kv (k INT PRIMARY KEY, v INT)")
	mustExec(t, db, "INSERT INTO kv VALUES (1, 10)")
	mustExec(t, db, "INSERT INTO kv VALUES (2, 20)")
	mustExec(t, db, "INSERT INTO kv VALUES (3, 30)")
	require.NoError(t, db.Close())

	walPath := filepath.Join(dir, "wal.log")
	full, err := os.ReadFile(walPath)
	require.NoError(t, err)

	// Cut the log at every byte; each restart must succeed and show
	// exactly the rows whose frames are complete.
	for cut := 0; cut <= len(full); cut++ {
		cutDir := t.TempDir()
		cutWal := filepath.Join(cutDir, "wal.log")
		require.NoError(t, os.WriteFile(cutWal, full[:cut], 0644))

		// The complete frames in the truncated log define exactly the
		// state a restart must restore.
		records, err := wal.Replay(cutWal)
		require.NoError(t, err)
		tableExists := false
		inserts := 0
		for _, record := range records {
			switch record.Type {
			case wal.RecordCreateTable:
				tableExists = true
			case wal.RecordInsert:
				inserts++
			}
		}

		db, err := Open(Config{DataDir: cutDir, PoolPages: 32})
		require.NoError(t, err, "restart after truncation at byte %d", cut)

		result, err := db.Execute("SELECT * FROM kv")
		if !tableExists {
			require.Error(t, err, "cut at %d: table must not exist yet", cut)
		} else {
			require.NoError(t, err, "cut at %d", cut)
			assert.Len(t, result.Rows, inserts, "cut at %d", cut)
			for _, row := range result.Rows {
				assert.Equal(t, row.Values[0].Int*10, row.Values[1].Int)
			}
		}
		require.NoError(t, db.Close())
	}
}

func TestDropTableRemovesHeapFile(t *testing.T) {
	dir := t.TempDir()
	db := openTestDB(t, dir)
	defer db.Close()

	mustExec(t, db, "CREATE TABLE doomed (id INT PRIMARY KEY)")
	mustExec(t, db, "INSERT INTO doomed VALUES (1)")
	require.FileExists(t, filepath.Join(dir, "doomed.heap"))

	mustExec(t, db, "DROP TABLE doomed")
	assert.NoFileExists(t, filepath.Join(dir, "doomed.heap"))

	_, err := db.Execute("SELECT * FROM doomed")
	require.Error(t, err)
	assert.Equal(t, dberr.KindPlan, dberr.KindOf(err))
}

func TestReplayIgnoresDMLForDroppedTable(t *testing.T) {
	dir := t.TempDir()

	db := openTestDB(t, dir)
	mustExec(t, db, "CREATE TABLE keep (id INT PRIMARY KEY)")
	mustExec(t, db, "CREATE TABLE doomed (id INT PRIMARY KEY)")
	mustExec(t, db, "INSERT INTO doomed VALUES (1)")
	mustExec(t, db, "INSERT INTO keep VALUES (7)")
	mustExec(t, db, "DROP TABLE doomed")
	require.NoError(t, db.Close())

	db = openTestDB(t, dir)
	defer db.Close()

	result := mustExec(t, db, "SELECT * FROM keep")
	require.Len(t, result.Rows, 1)
	assert.Equal(t, int64(7), result.Rows[0].Values[0].Int)

	_, err := db.Execute("SELECT * FROM doomed")
	require.Error(t, err)
}

func TestCreateAfterDropAssignsFreshID(t *testing.T) {
	dir := t.TempDir()

	db := openTestDB(t, dir)
	mustExec(t, db, "CREATE TABLE t (id INT PRIMARY KEY)")
	mustExec(t, db, "INSERT INTO t VALUES (1)")
	mustExec(t, db, "DROP TABLE t")
	mustExec(t, db, "CREATE TABLE t (id INT PRIMARY KEY)")
	mustExec(t, db, "INSERT INTO t VALUES (2)")
	require.NoError(t, db.Close())

	db = openTestDB(t, dir)
	defer db.Close()
	result := mustExec(t, db, "SELECT * FROM t")
	require.Len(t, result.Rows, 1)
	assert.Equal(t, int64(2), result.Rows[0].Values[0].Int)
}

func TestIndexHandlesSurviveRestart(t *testing.T) {
	dir := t.TempDir()

	db := openTestDB(t, dir)
	mustExec(t, db, "CREATE TABLE users (id INT PRIMARY KEY, name TEXT)")
	mustExec(t, db, "CREATE INDEX users_by_name ON users (name)")
	mustExec(t, db, "INSERT INTO users VALUES (1, 'x')")

	_, err := db.Execute("CREATE INDEX users_by_name ON users (name)")
	require.Error(t, err, "duplicate index handle")
	require.NoError(t, db.Close())

	db = openTestDB(t, dir)
	defer db.Close()
	_, err = db.Execute("CREATE INDEX users_by_name ON users (name)")
	require.Error(t, err, "handle persisted across restart")

	mustExec(t, db, "DROP INDEX users_by_name ON users")
	mustExec(t, db, "CREATE INDEX users_by_name ON users (name)")
}

func TestJoinEndToEnd(t *testing.T) {
	db := openTestDB(t, t.TempDir())
	defer db.Close()

	mustExec(t, db, "CREATE TABLE users (id INT PRIMARY KEY, name TEXT)")
	mustExec(t, db, "CREATE TABLE orders (id INT PRIMARY KEY, user_id INT, total INT)")
	mustExec(t, db, "INSERT INTO users VALUES (1, 'Alice')")
	mustExec(t, db, "INSERT INTO users VALUES (2, 'Bob')")
	mustExec(t, db, "INSERT INTO orders VALUES (10, 1, 100)")
	mustExec(t, db, "INSERT INTO orders VALUES (11, 2, 200)")
	mustExec(t, db, "INSERT INTO orders VALUES (12, 1, 300)")

	result := mustExec(t, db, "SELECT u.name, o.total FROM users u JOIN orders o ON u.id = o.user_id WHERE o.total > 150")
	require.Len(t, result.Rows, 2)
}

func TestResetClearsEverything(t *testing.T) {
	dir := t.TempDir()
	db := openTestDB(t, dir)
	defer db.Close()

	mustExec(t, db, "CREATE TABLE t (id INT PRIMARY KEY)")
	mustExec(t, db, "INSERT INTO t VALUES (1)")
	require.NoError(t, db.Reset())

	_, err := db.Execute("SELECT * FROM t")
	require.Error(t, err)
	assert.NoFileExists(t, filepath.Join(dir, "t.heap"))

	// The database is usable again after reset.
	mustExec(t, db, "CREATE TABLE t (id INT PRIMARY KEY)")
	result := mustExec(t, db, "SELECT * FROM t")
	assert.Empty(t, result.Rows)
}

func TestErrorKindsMapToTaxonomy(t *testing.T) {
	db := openTestDB(t, t.TempDir())
	defer db.Close()

	_, err := db.Execute("SELEC nonsense")
	assert.Equal(t, dberr.KindParse, dberr.KindOf(err))

	_, err = db.Execute("SELECT * FROM missing")
	assert.Equal(t, dberr.KindPlan, dberr.KindOf(err), "unknown table surfaces at plan time")

	mustExec(t, db, "CREATE TABLE t (id INT PRIMARY KEY)")
	_, err = db.Execute("CREATE TABLE t (id INT PRIMARY KEY)")
	assert.Equal(t, dberr.KindCatalog, dberr.KindOf(err))

	mustExec(t, db, "INSERT INTO t VALUES (1)")
	_, err = db.Execute("INSERT INTO t VALUES (1)")
	assert.Equal(t, dberr.KindConstraint, dberr.KindOf(err))
}


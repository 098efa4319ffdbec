package exec

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"minidb/internal/catalog"
	"minidb/internal/dberr"
	"minidb/internal/plan"
	"minidb/internal/sql"
	"minidb/internal/storage"
	"minidb/internal/wal"
	"minidb/pkg/types"
)

type harness struct {
	ctx     *Context
	catalog *catalog.Catalog
	walPath string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()

	c := catalog.New()
	_, err := c.CreateTable("users", []catalog.ColumnDef{
		{Name: "id", Type: "INT"},
		{Name: "name", Type: "TEXT", Nullable: true},
		{Name: "age", Type: "INT", Nullable: true},
	}, []int{0})
	require.NoError(t, err)
	_, err = c.CreateTable("orders", []catalog.ColumnDef{
		{Name: "id", Type: "INT"},
		{Name: "user_id", Type: "INT", Nullable: true},
		{Name: "total", Type: "INT", Nullable: true},
	}, []int{0})
	require.NoError(t, err)

	walPath := filepath.Join(dir, "wal.log")
	log, err := wal.Open(walPath)
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })

	pager := storage.NewPager(dir, 32)
	t.Cleanup(func() { pager.Close() })

	return &harness{
		ctx: &Context{
			Catalog: c,
			Pager:   pager,
			Wal:     log,
			Indexes: NewIndexSet(pager),
		},
		catalog: c,
		walPath: walPath,
	}
}

func (h *harness) exec(t *testing.T, input string) ([]types.Row, error) {
	t.Helper()
	stmt, err := sql.Parse(input)
	require.NoError(t, err)
	node, err := plan.NewPlanner(h.catalog).Plan(stmt)
	if err != nil {
		return nil, err
	}
	op, err := Build(node)
	require.NoError(t, err)
	return Run(op, h.ctx)
}

func (h *harness) mustExec(t *testing.T, input string) []types.Row {
	t.Helper()
	rows, err := h.exec(t, input)
	require.NoError(t, err, "statement: %s", input)
	return rows
}

func (h *harness) seed(t *testing.T) {
	t.Helper()
	h.mustExec(t, "INSERT INTO users VALUES (1, 'Alice', 30)")
	h.mustExec(t, "INSERT INTO users VALUES (2, 'Bob', 25)")
	h.mustExec(t, "INSERT INTO users VALUES (3, 'Cara', 41)")
}

func ints(rows []types.Row, col int) []int64 {
	out := make([]int64, len(rows))
	for i, r := range rows {
		out[i] = r.Values[col].Int
	}
	return out
}

func TestInsertEmitsCountOne(t *testing.T) {
	h := newHarness(t)

	rows := h.mustExec(t, "INSERT INTO users VALUES (1, 'Alice', 30)")
	require.Len(t, rows, 1)
	require.Len(t, rows[0].Values, 1)
	assert.Equal(t, int64(1), rows[0].Values[0].Int)
}

func TestSeqScanReturnsInsertionOrder(t *testing.T) {
	h := newHarness(t)
	h.seed(t)

	rows := h.mustExec(t, "SELECT * FROM users")
	require.Len(t, rows, 3)
	assert.Equal(t, []int64{1, 2, 3}, ints(rows, 0))
	assert.Equal(t, "Alice", rows[0].Values[1].Text)
}

func TestFilterForwardsMatchingRows(t *testing.T) {
	h := newHarness(t)
	h.seed(t)

	rows := h.mustExec(t, "SELECT * FROM users WHERE age > 26")
	assert.Equal(t, []int64{1, 3}, ints(rows, 0))
}

func TestProjectByName(t *testing.T) {
	h := newHarness(t)
	h.seed(t)

	rows := h.mustExec(t, "SELECT name, id FROM users WHERE id = 2")
	require.Len(t, rows, 1)
	assert.Equal(t, "Bob", rows[0].Values[0].Text)
	assert.Equal(t, int64(2), rows[0].Values[1].Int)
}

func TestIndexScanFindsOneRow(t *testing.T) {
	h := newHarness(t)
	h.seed(t)

	stmt, err := sql.Parse("SELECT * FROM users WHERE id = 2")
	require.NoError(t, err)
	node, err := plan.NewPlanner(h.catalog).Plan(stmt)
	require.NoError(t, err)
	_, isIndexScan := node.(*plan.IndexScan)
	require.True(t, isIndexScan)

	op, err := Build(node)
	require.NoError(t, err)
	rows, err := Run(op, h.ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Bob", rows[0].Values[1].Text)
}

func TestIndexScanMissingKeyEmitsNothing(t *testing.T) {
	h := newHarness(t)
	h.seed(t)

	rows := h.mustExec(t, "SELECT * FROM users WHERE id = 99")
	assert.Empty(t, rows)
}

func TestDuplicateInsertLeavesNoTrace(t *testing.T) {
	h := newHarness(t)
	h.seed(t)
	require.NoError(t, h.ctx.Wal.Sync())
	before, err := wal.Replay(h.walPath)
	require.NoError(t, err)

	_, err = h.exec(t, "INSERT INTO users VALUES (1, 'Dup', 0)")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate primary key")
	assert.Equal(t, dberr.KindConstraint, dberr.KindOf(err))

	// No WAL record and no heap row persist from the failed attempt.
	require.NoError(t, h.ctx.Wal.Sync())
	after, err := wal.Replay(h.walPath)
	require.NoError(t, err)
	assert.Len(t, after, len(before))

	rows := h.mustExec(t, "SELECT * FROM users")
	assert.Len(t, rows, 3)
}

func TestUpdateInPlace(t *testing.T) {
	h := newHarness(t)
	h.seed(t)

	rows := h.mustExec(t, "UPDATE users SET age = 31 WHERE id = 1")
	assert.Equal(t, int64(1), rows[0].Values[0].Int)

	got := h.mustExec(t, "SELECT age FROM users WHERE id = 1")
	require.Len(t, got, 1)
	assert.Equal(t, int64(31), got[0].Values[0].Int)
}

func TestUpdateRelocationKeepsIndexCurrent(t *testing.T) {
	h := newHarness(t)
	h.mustExec(t, "INSERT INTO users VALUES (1, 'A', 1)")

	// Growing the text forces tombstone-then-insert; the index entry
	// must follow the row to its new record id.
	long := "a name considerably longer than the original one, by far"
	h.mustExec(t, "UPDATE users SET name = '"+long+"' WHERE id = 1")

	rows := h.mustExec(t, "SELECT name FROM users WHERE id = 1")
	require.Len(t, rows, 1)
	assert.Equal(t, long, rows[0].Values[0].Text)

	all := h.mustExec(t, "SELECT * FROM users")
	assert.Len(t, all, 1, "the old version is tombstoned, not visible")
}

func TestUpdatePKReKeysIndex(t *testing.T) {
	h := newHarness(t)
	h.seed(t)

	h.mustExec(t, "UPDATE users SET id = 10 WHERE id = 1")

	assert.Empty(t, h.mustExec(t, "SELECT * FROM users WHERE id = 1"))
	moved := h.mustExec(t, "SELECT name FROM users WHERE id = 10")
	require.Len(t, moved, 1)
	assert.Equal(t, "Alice", moved[0].Values[0].Text)
}

func TestUpdatePKCollisionFails(t *testing.T) {
	h := newHarness(t)
	h.seed(t)

	_, err := h.exec(t, "UPDATE users SET id = 2 WHERE id = 1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate primary key")
}

func TestUpdateAllRows(t *testing.T) {
	h := newHarness(t)
	h.seed(t)

	rows := h.mustExec(t, "UPDATE users SET age = 1")
	assert.Equal(t, int64(3), rows[0].Values[0].Int)
}

func TestDeleteRemovesRowAndKey(t *testing.T) {
	h := newHarness(t)
	h.seed(t)

	rows := h.mustExec(t, "DELETE FROM users WHERE id = 2")
	assert.Equal(t, int64(1), rows[0].Values[0].Int)

	assert.Len(t, h.mustExec(t, "SELECT * FROM users"), 2)
	assert.Empty(t, h.mustExec(t, "SELECT * FROM users WHERE id = 2"))

	// The key is free for reuse after delete.
	h.mustExec(t, "INSERT INTO users VALUES (2, 'Ben', 19)")
	assert.Len(t, h.mustExec(t, "SELECT * FROM users"), 3)
}

func TestJoinMatchesOnCondition(t *testing.T) {
	h := newHarness(t)
	h.seed(t)
	h.mustExec(t, "INSERT INTO orders VALUES (100, 1, 50)")
	h.mustExec(t, "INSERT INTO orders VALUES (101, 2, 75)")
	h.mustExec(t, "INSERT INTO orders VALUES (102, 1, 20)")

	rows := h.mustExec(t, "SELECT u.name, o.total FROM users u JOIN orders o ON u.id = o.user_id")
	require.Len(t, rows, 3)

	totalsByName := map[string][]int64{}
	for _, r := range rows {
		name := r.Values[0].Text
		totalsByName[name] = append(totalsByName[name], r.Values[1].Int)
	}
	assert.ElementsMatch(t, []int64{50, 20}, totalsByName["Alice"])
	assert.ElementsMatch(t, []int64{75}, totalsByName["Bob"])
}

func TestSortAndLimit(t *testing.T) {
	h := newHarness(t)
	h.seed(t)

	rows := h.mustExec(t, "SELECT id FROM users ORDER BY age DESC")
	assert.Equal(t, []int64{3, 1, 2}, ints(rows, 0))

	rows = h.mustExec(t, "SELECT id FROM users ORDER BY age LIMIT 2")
	assert.Equal(t, []int64{2, 1}, ints(rows, 0))

	rows = h.mustExec(t, "SELECT id FROM users ORDER BY age LIMIT 2 OFFSET 2")
	assert.Equal(t, []int64{3}, ints(rows, 0))
}

func TestNotNullConstraint(t *testing.T) {
	h := newHarness(t)

	_, err := h.exec(t, "INSERT INTO users VALUES (NULL, 'x', 1)")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not nullable")
}

func TestTypeMismatchRejected(t *testing.T) {
	h := newHarness(t)

	_, err := h.exec(t, "INSERT INTO users VALUES ('one', 'x', 1)")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expects INT")
}

func TestIndexBootstrapFromHeap(t *testing.T) {
	h := newHarness(t)
	h.seed(t)

	// A fresh index set must rebuild from storage and still reject
	// duplicates.
	h.ctx.Indexes = NewIndexSet(h.ctx.Pager)

	_, err := h.exec(t, "INSERT INTO users VALUES (2, 'Dup', 0)")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate primary key")
}

func TestExplainRendersSeqScan(t *testing.T) {
	h := newHarness(t)
	h.seed(t)

	stmt, err := sql.Parse("SELECT * FROM users")
	require.NoError(t, err)
	node, err := plan.NewPlanner(h.catalog).Plan(stmt)
	require.NoError(t, err)

	columns, rows := Explain(node)
	assert.Equal(t, []string{"plan"}, columns)
	require.NotEmpty(t, rows)
	assert.Contains(t, rows[0].Values[0].Text, "SeqScan")
}

func TestExplainAnalyzeCountsRows(t *testing.T) {
	h := newHarness(t)
	h.seed(t)

	stmt, err := sql.Parse("SELECT * FROM users WHERE age > 26")
	require.NoError(t, err)
	node, err := plan.NewPlanner(h.catalog).Plan(stmt)
	require.NoError(t, err)

	_, rows, err := ExplainAnalyze(node, h.ctx)
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	assert.Contains(t, rows[0].Values[0].Text, "Filter")
	assert.Contains(t, rows[0].Values[0].Text, "rows=2")
}

package catalog

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"minidb/pkg/types"
)

func userColumns() []ColumnDef {
	return []ColumnDef{
		{Name: "id", Type: "INT"},
		{Name: "name", Type: "TEXT", Nullable: true},
		{Name: "age", Type: "INT", Nullable: true},
	}
}

func TestCreateTableAssignsSequentialIDs(t *testing.T) {
	c := New()

	t1, err := c.CreateTable("users", userColumns(), []int{0})
	require.NoError(t, err)
	t2, err := c.CreateTable("orders", userColumns(), nil)
	require.NoError(t, err)

	assert.Equal(t, types.TableID(1), t1.ID)
	assert.Equal(t, types.TableID(2), t2.ID)
}

func TestCreateDuplicateTableFails(t *testing.T) {
	c := New()

	_, err := c.CreateTable("users", userColumns(), nil)
	require.NoError(t, err)

	_, err = c.CreateTable("USERS", userColumns(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestDropTableRemovesBothMappings(t *testing.T) {
	c := New()

	created, err := c.CreateTable("users", userColumns(), nil)
	require.NoError(t, err)

	dropped, err := c.DropTable("users")
	require.NoError(t, err)
	assert.Equal(t, created.ID, dropped.ID)

	_, err = c.Table("users")
	require.Error(t, err)
	_, err = c.TableByID(created.ID)
	require.Error(t, err)
}

func TestDropMissingTableFails(t *testing.T) {
	c := New()
	_, err := c.DropTable("ghost")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
}

func TestIDsAreNeverReused(t *testing.T) {
	c := New()

	first, err := c.CreateTable("a", userColumns(), nil)
	require.NoError(t, err)
	_, err = c.DropTable("a")
	require.NoError(t, err)

	second, err := c.CreateTable("a", userColumns(), nil)
	require.NoError(t, err)
	assert.Greater(t, second.ID, first.ID)
}

func TestTableLookupCaseInsensitive(t *testing.T) {
	c := New()
	_, err := c.CreateTable("Users", userColumns(), nil)
	require.NoError(t, err)

	table, err := c.Table("users")
	require.NoError(t, err)
	assert.Equal(t, "Users", table.Name, "display name keeps its original case")
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")

	c := New()
	_, err := c.CreateTable("users", userColumns(), []int{0})
	require.NoError(t, err)
	table, err := c.CreateTable("kv", []ColumnDef{
		{Name: "k", Type: "INT"},
		{Name: "v", Type: "INT", Nullable: true},
	}, []int{0})
	require.NoError(t, err)
	table.Indexes = append(table.Indexes, "kv_by_v")

	require.NoError(t, c.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)

	if diff := cmp.Diff(c.Tables(), loaded.Tables(), cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("catalog save/load mismatch (-want +got):\n%s", diff)
	}

	// The id counter is persisted too.
	next, err := loaded.CreateTable("more", userColumns(), nil)
	require.NoError(t, err)
	assert.Equal(t, types.TableID(3), next.ID)
}

func TestLoadMissingFileIsEmptyCatalog(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Empty(t, c.Tables())
}

func TestSchemaConversion(t *testing.T) {
	c := New()
	table, err := c.CreateTable("users", userColumns(), []int{0})
	require.NoError(t, err)

	schema := table.Schema()
	require.Len(t, schema.Columns, 3)
	assert.Equal(t, types.TypeInt, schema.Columns[0].Type)
	assert.Equal(t, types.TypeText, schema.Columns[1].Type)
	assert.Equal(t, 1, schema.IndexOf("NAME"))

	back := ColumnsFromSchema(schema)
	assert.Equal(t, userColumns(), back)
}

func TestCreateTableRejectsBadPKOrdinal(t *testing.T) {
	c := New()
	_, err := c.CreateTable("users", userColumns(), []int{7})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")
}

func TestTableSummaries(t *testing.T) {
	c := New()
	_, err := c.CreateTable("users", userColumns(), []int{0})
	require.NoError(t, err)

	summaries := c.TableSummaries()
	require.Len(t, summaries, 1)
	assert.Equal(t, "users", summaries[0].Name)
	assert.Contains(t, summaries[0].ColumnInfo, "id INT PRIMARY KEY")
	assert.Contains(t, summaries[0].ColumnInfo, "name TEXT")
}

// Package catalog tracks table metadata and persists it as a JSON
// snapshot, rewritten atomically on every DDL.
package catalog

import (
	"bytes"
	"encoding/json"
	"os"
	"sort"
	"strings"

	"github.com/natefinch/atomic"

	"minidb/internal/dberr"
	"minidb/pkg/types"
)

// ColumnDef is the persisted form of one column.
type ColumnDef struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable,omitempty"`
}

// Table holds the metadata for one table.
type Table struct {
	ID         types.TableID `json:"id"`
	Name       string        `json:"name"`
	Columns    []ColumnDef   `json:"columns"`
	PrimaryKey []int         `json:"primary_key,omitempty"`
	Indexes    []string      `json:"indexes,omitempty"`
}

// Schema returns the table's columns as a runtime schema.
func (t *Table) Schema() types.Schema {
	cols := make([]types.Column, len(t.Columns))
	for i, c := range t.Columns {
		cols[i] = types.Column{Name: c.Name, Type: parseType(c.Type), Nullable: c.Nullable}
	}
	return types.Schema{Columns: cols}
}

// HasIndex reports whether the table carries the named index handle.
func (t *Table) HasIndex(name string) bool {
	for _, idx := range t.Indexes {
		if strings.EqualFold(idx, name) {
			return true
		}
	}
	return false
}

func parseType(s string) types.ValueType {
	switch strings.ToUpper(s) {
	case "INT":
		return types.TypeInt
	case "TEXT":
		return types.TypeText
	case "BOOL":
		return types.TypeBool
	default:
		return types.TypeNull
	}
}

// ColumnsFromSchema converts a runtime schema back to persisted form.
func ColumnsFromSchema(schema types.Schema) []ColumnDef {
	cols := make([]ColumnDef, len(schema.Columns))
	for i, c := range schema.Columns {
		cols[i] = ColumnDef{Name: c.Name, Type: c.Type.String(), Nullable: c.Nullable}
	}
	return cols
}

// Catalog maps table names to metadata, with the inverse id mapping.
// It is not internally synchronized; the database's statement lock
// serializes access.
type Catalog struct {
	tables map[string]*Table // keyed by lower-cased name
	byID   map[types.TableID]*Table
	nextID types.TableID
}

// snapshot is the on-disk JSON layout.
type snapshot struct {
	NextTableID types.TableID `json:"next_table_id"`
	Tables      []*Table      `json:"tables"`
}

// New returns an empty catalog.
func New() *Catalog {
	return &Catalog{
		tables: make(map[string]*Table),
		byID:   make(map[types.TableID]*Table),
		nextID: 1,
	}
}

// Load reads a catalog snapshot. A missing file loads as an empty
// catalog.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(), nil
		}
		return nil, dberr.New(dberr.KindIo, "read catalog %s: %v", path, err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, dberr.New(dberr.KindCatalog, "parse catalog %s: %v", path, err)
	}

	c := New()
	if snap.NextTableID > 0 {
		c.nextID = snap.NextTableID
	}
	for _, t := range snap.Tables {
		c.tables[strings.ToLower(t.Name)] = t
		c.byID[t.ID] = t
	}
	return c, nil
}

// Save writes the whole-catalog snapshot atomically (temp file plus
// rename).
func (c *Catalog) Save(path string) error {
	snap := snapshot{NextTableID: c.nextID, Tables: c.sorted()}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return dberr.New(dberr.KindCatalog, "encode catalog: %v", err)
	}
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return dberr.New(dberr.KindIo, "write catalog %s: %v", path, err)
	}
	return nil
}

func (c *Catalog) sorted() []*Table {
	out := make([]*Table, 0, len(c.tables))
	for _, t := range c.tables {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CreateTable registers a new table and assigns the next identifier.
// Identifiers are never reused within a database lifetime.
func (c *Catalog) CreateTable(name string, columns []ColumnDef, primaryKey []int) (*Table, error) {
	key := strings.ToLower(name)
	if _, exists := c.tables[key]; exists {
		return nil, dberr.New(dberr.KindCatalog, "table %q already exists", name)
	}
	for _, ord := range primaryKey {
		if ord < 0 || ord >= len(columns) {
			return nil, dberr.New(dberr.KindCatalog, "primary key ordinal %d out of range for table %q", ord, name)
		}
	}

	t := &Table{
		ID:         c.nextID,
		Name:       name,
		Columns:    columns,
		PrimaryKey: primaryKey,
	}
	c.nextID++
	c.tables[key] = t
	c.byID[t.ID] = t
	return t, nil
}

// CreateTableWithID registers a table under a fixed identifier. Used
// when rebuilding the catalog from a replayed log.
func (c *Catalog) CreateTableWithID(id types.TableID, name string, columns []ColumnDef, primaryKey []int) (*Table, error) {
	key := strings.ToLower(name)
	if _, exists := c.tables[key]; exists {
		return nil, dberr.New(dberr.KindCatalog, "table %q already exists", name)
	}
	if _, exists := c.byID[id]; exists {
		return nil, dberr.New(dberr.KindCatalog, "table id %d already exists", id)
	}

	t := &Table{ID: id, Name: name, Columns: columns, PrimaryKey: primaryKey}
	c.tables[key] = t
	c.byID[id] = t
	if id >= c.nextID {
		c.nextID = id + 1
	}
	return t, nil
}

// DropTable removes a table from both mappings and returns its
// metadata so the caller can remove dependent state.
func (c *Catalog) DropTable(name string) (*Table, error) {
	key := strings.ToLower(name)
	t, ok := c.tables[key]
	if !ok {
		return nil, dberr.New(dberr.KindCatalog, "table %q does not exist", name)
	}
	delete(c.tables, key)
	delete(c.byID, t.ID)
	return t, nil
}

// Table looks a table up by name, case-insensitively.
func (c *Catalog) Table(name string) (*Table, error) {
	t, ok := c.tables[strings.ToLower(name)]
	if !ok {
		return nil, dberr.New(dberr.KindCatalog, "table %q does not exist", name)
	}
	return t, nil
}

// TableByID looks a table up by identifier.
func (c *Catalog) TableByID(id types.TableID) (*Table, error) {
	t, ok := c.byID[id]
	if !ok {
		return nil, dberr.New(dberr.KindCatalog, "table id %d does not exist", id)
	}
	return t, nil
}

// Summary is one row of the table listing.
type Summary struct {
	Name       string
	ColumnInfo string
}

// TableSummaries lists every table with a short column description,
// sorted by identifier.
func (c *Catalog) TableSummaries() []Summary {
	tables := c.sorted()
	out := make([]Summary, 0, len(tables))
	for _, t := range tables {
		var parts []string
		for i, col := range t.Columns {
			desc := col.Name + " " + col.Type
			if isPKOrdinal(t.PrimaryKey, i) {
				desc += " PRIMARY KEY"
			}
			parts = append(parts, desc)
		}
		out = append(out, Summary{Name: t.Name, ColumnInfo: strings.Join(parts, ", ")})
	}
	return out
}

func isPKOrdinal(pk []int, ord int) bool {
	for _, p := range pk {
		if p == ord {
			return true
		}
	}
	return false
}

// Tables returns every table, sorted by identifier.
func (c *Catalog) Tables() []*Table { return c.sorted() }

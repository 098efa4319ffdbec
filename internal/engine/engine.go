// Package engine ties the kernel together: catalog, pager, WAL,
// indexes, planner, and executor behind a single statement interface.
package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"minidb/internal/catalog"
	"minidb/internal/dberr"
	"minidb/internal/exec"
	"minidb/internal/plan"
	"minidb/internal/sql"
	"minidb/internal/storage"
	"minidb/internal/wal"
	"minidb/pkg/types"
)

const (
	defaultCatalogFile = "catalog.json"
	defaultWalFile     = "wal.log"
)

// Config holds database configuration.
type Config struct {
	DataDir     string
	PoolPages   int
	CatalogFile string
	WalFile     string
}

func (c *Config) fill() {
	if c.PoolPages == 0 {
		c.PoolPages = storage.DefaultPoolPages
	}
	if c.CatalogFile == "" {
		c.CatalogFile = defaultCatalogFile
	}
	if c.WalFile == "" {
		c.WalFile = defaultWalFile
	}
}

// Database is the storage and execution kernel for one data directory.
// A single exclusive lock serializes statements; the kernel is not
// internally concurrent.
type Database struct {
	mu sync.Mutex

	cfg         Config
	catalogPath string
	walPath     string

	catalog *catalog.Catalog
	pager   *storage.Pager
	wal     *wal.Log
	indexes *exec.IndexSet
}

// ResultKind distinguishes the three success shapes a statement has.
type ResultKind int

const (
	ResultEmpty ResultKind = iota
	ResultRows
	ResultCount
)

// Result is the outcome of one successfully executed statement.
type Result struct {
	Kind     ResultKind
	Columns  []string
	Rows     []types.Row
	Affected uint64
}

// Open starts a database over a data directory, performing recovery:
// the catalog snapshot is loaded, the WAL is replayed, and primary-key
// indexes are rebuilt lazily from the heaps.
func Open(cfg Config) (*Database, error) {
	cfg.fill()
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, dberr.New(dberr.KindIo, "create data directory %s: %v", cfg.DataDir, err)
	}

	db := &Database{
		cfg:         cfg,
		catalogPath: filepath.Join(cfg.DataDir, cfg.CatalogFile),
		walPath:     filepath.Join(cfg.DataDir, cfg.WalFile),
	}
	if err := db.start(); err != nil {
		return nil, err
	}
	return db, nil
}

func (db *Database) start() error {
	snapshot, err := catalog.Load(db.catalogPath)
	if err != nil {
		return err
	}

	records, err := wal.Replay(db.walPath)
	if err != nil {
		return err
	}

	db.pager = storage.NewPager(db.cfg.DataDir, db.cfg.PoolPages)
	db.indexes = exec.NewIndexSet(db.pager)

	if len(records) == 0 {
		db.catalog = snapshot
	} else {
		if err := db.recover(records, snapshot); err != nil {
			return err
		}
	}

	log, err := wal.Open(db.walPath)
	if err != nil {
		return err
	}
	db.wal = log
	return nil
}

// recover rebuilds the logical state by re-applying the full record
// log. The log is the durable history; heap files are reconstructed
// from it, so a log truncated at any frame boundary restores exactly
// the state after its last complete record. Index names, which have no
// log records, are carried over from the snapshot by table id.
func (db *Database) recover(records []*wal.Record, snapshot *catalog.Catalog) error {
	// Replay starts from genesis: discard existing heap images.
	entries, err := os.ReadDir(db.cfg.DataDir)
	if err != nil {
		return dberr.New(dberr.KindIo, "read data directory %s: %v", db.cfg.DataDir, err)
	}
	for _, entry := range entries {
		if filepath.Ext(entry.Name()) == ".heap" {
			if err := os.Remove(filepath.Join(db.cfg.DataDir, entry.Name())); err != nil {
				return dberr.New(dberr.KindIo, "remove heap file %s: %v", entry.Name(), err)
			}
		}
	}

	cat := catalog.New()
	heaps := make(map[types.TableID]*storage.HeapFile)

	for i, record := range records {
		switch record.Type {
		case wal.RecordCreateTable:
			table, err := cat.CreateTableWithID(record.TableID, record.TableName, catalog.ColumnsFromSchema(record.Schema), record.PrimaryKey)
			if err != nil {
				return dberr.Wrap(dberr.KindWal, err)
			}
			heaps[table.ID] = storage.OpenHeap(db.pager, table.Name, table.ID)

		case wal.RecordDropTable:
			table, err := cat.TableByID(record.TableID)
			if err != nil {
				return dberr.New(dberr.KindWal, "replay: DROP_TABLE for unknown table id %d", record.TableID)
			}
			if _, err := cat.DropTable(table.Name); err != nil {
				return dberr.Wrap(dberr.KindWal, err)
			}
			if err := db.pager.DropTable(table.Name); err != nil {
				return err
			}
			delete(heaps, record.TableID)

		case wal.RecordInsert, wal.RecordUpdate, wal.RecordDelete:
			heap, ok := heaps[record.TableID]
			if !ok {
				// DML for a table the log later drops is dead history;
				// anything else dangling is fatal.
				if droppedLater(records[i+1:], record.TableID) {
					continue
				}
				return dberr.New(dberr.KindWal, "replay: %s record for unknown table id %d", record.Type, record.TableID)
			}
			if err := db.replayDML(heap, record); err != nil {
				return err
			}

		default:
			return dberr.New(dberr.KindWal, "replay: unknown record type %d", record.Type)
		}
	}

	// DDL that never reached the log (index handles) survives via the
	// snapshot.
	for _, table := range cat.Tables() {
		if prev, err := snapshot.TableByID(table.ID); err == nil && prev.Name == table.Name {
			table.Indexes = prev.Indexes
		}
	}

	if err := cat.Save(db.catalogPath); err != nil {
		return err
	}
	if err := db.pager.Flush(); err != nil {
		return err
	}
	db.catalog = cat
	return nil
}

func droppedLater(rest []*wal.Record, id types.TableID) bool {
	for _, record := range rest {
		if record.Type == wal.RecordDropTable && record.TableID == id {
			return true
		}
	}
	return false
}

// replayDML re-applies one mutation. Replay from genesis is
// deterministic, so each record must land on the record id it was
// logged with; divergence means the log is corrupt.
func (db *Database) replayDML(heap *storage.HeapFile, record *wal.Record) error {
	switch record.Type {
	case wal.RecordInsert:
		rid, err := heap.Insert(record.Row)
		if err != nil {
			return dberr.Wrap(dberr.KindWal, err)
		}
		if rid != record.RID {
			return dberr.New(dberr.KindWal, "replay: insert landed at %s, log says %s", rid, record.RID)
		}
	case wal.RecordUpdate:
		if _, err := heap.Update(record.RID, record.Row); err != nil {
			return dberr.Wrap(dberr.KindWal, err)
		}
	case wal.RecordDelete:
		if err := heap.Delete(record.RID); err != nil {
			return dberr.Wrap(dberr.KindWal, err)
		}
	}
	return nil
}

func (db *Database) context() *exec.Context {
	return &exec.Context{
		Catalog: db.catalog,
		Pager:   db.pager,
		Wal:     db.wal,
		Indexes: db.indexes,
	}
}

// Execute parses, plans, and runs one SQL statement under the
// statement lock. DML durability (WAL sync) completes before success
// is returned.
func (db *Database) Execute(sqlText string) (*Result, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	stmt, err := sql.Parse(sqlText)
	if err != nil {
		return nil, err
	}
	return db.executeStmt(stmt)
}

func (db *Database) executeStmt(stmt sql.Statement) (*Result, error) {
	switch s := stmt.(type) {
	case *sql.CreateTableStmt:
		return db.createTable(s)
	case *sql.DropTableStmt:
		return db.dropTable(s.TableName)
	case *sql.CreateIndexStmt:
		return db.createIndex(s)
	case *sql.DropIndexStmt:
		return db.dropIndex(s)
	case *sql.ExplainStmt:
		return db.explain(s)
	case *sql.SelectStmt:
		return db.runQuery(s)
	case *sql.InsertStmt, *sql.UpdateStmt, *sql.DeleteStmt:
		return db.runDML(stmt)
	default:
		return nil, dberr.New(dberr.KindExecution, "unsupported statement %T", stmt)
	}
}

func (db *Database) createTable(stmt *sql.CreateTableStmt) (*Result, error) {
	cols := make([]catalog.ColumnDef, len(stmt.Columns))
	for i, c := range stmt.Columns {
		cols[i] = catalog.ColumnDef{Name: c.Name, Type: c.Type.String(), Nullable: c.Nullable}
	}

	table, err := db.catalog.CreateTable(stmt.TableName, cols, stmt.PrimaryKey)
	if err != nil {
		return nil, err
	}

	if _, err := db.wal.Append(&wal.Record{
		Type:       wal.RecordCreateTable,
		TableID:    table.ID,
		TableName:  table.Name,
		Schema:     table.Schema(),
		PrimaryKey: table.PrimaryKey,
	}); err != nil {
		return nil, err
	}
	if err := db.wal.Sync(); err != nil {
		return nil, err
	}
	if err := db.catalog.Save(db.catalogPath); err != nil {
		return nil, err
	}
	return &Result{Kind: ResultEmpty}, nil
}

func (db *Database) dropTable(name string) (*Result, error) {
	table, err := db.catalog.DropTable(name)
	if err != nil {
		return nil, err
	}

	if _, err := db.wal.Append(&wal.Record{Type: wal.RecordDropTable, TableID: table.ID}); err != nil {
		return nil, err
	}
	if err := db.wal.Sync(); err != nil {
		return nil, err
	}
	if err := db.pager.DropTable(table.Name); err != nil {
		return nil, err
	}
	db.indexes.Drop(table.ID)
	if err := db.catalog.Save(db.catalogPath); err != nil {
		return nil, err
	}
	return &Result{Kind: ResultEmpty}, nil
}

// createIndex records a name-only index handle. Planning never uses
// it: the only physical index is the primary key.
func (db *Database) createIndex(stmt *sql.CreateIndexStmt) (*Result, error) {
	table, err := db.catalog.Table(stmt.TableName)
	if err != nil {
		return nil, err
	}
	if table.Schema().IndexOf(stmt.Column) < 0 {
		return nil, dberr.New(dberr.KindCatalog, "table %s has no column %q", table.Name, stmt.Column)
	}
	if table.HasIndex(stmt.IndexName) {
		return nil, dberr.New(dberr.KindCatalog, "index %q already exists on table %s", stmt.IndexName, table.Name)
	}
	table.Indexes = append(table.Indexes, stmt.IndexName)
	if err := db.catalog.Save(db.catalogPath); err != nil {
		return nil, err
	}
	return &Result{Kind: ResultEmpty}, nil
}

func (db *Database) dropIndex(stmt *sql.DropIndexStmt) (*Result, error) {
	table, err := db.catalog.Table(stmt.TableName)
	if err != nil {
		return nil, err
	}
	for i, name := range table.Indexes {
		if name == stmt.IndexName {
			table.Indexes = append(table.Indexes[:i], table.Indexes[i+1:]...)
			if err := db.catalog.Save(db.catalogPath); err != nil {
				return nil, err
			}
			return &Result{Kind: ResultEmpty}, nil
		}
	}
	return nil, dberr.New(dberr.KindCatalog, "index %q does not exist on table %s", stmt.IndexName, table.Name)
}

func (db *Database) explain(stmt *sql.ExplainStmt) (*Result, error) {
	root, err := plan.NewPlanner(db.catalog).Plan(stmt.Stmt)
	if err != nil {
		return nil, err
	}

	if !stmt.Analyze {
		columns, rows := exec.Explain(root)
		return &Result{Kind: ResultRows, Columns: columns, Rows: rows}, nil
	}

	columns, rows, err := exec.ExplainAnalyze(root, db.context())
	if err != nil {
		return nil, err
	}
	// An analyzed DML ran for real; its records must be durable.
	if isDML(stmt.Stmt) {
		if err := db.wal.Sync(); err != nil {
			return nil, err
		}
	}
	return &Result{Kind: ResultRows, Columns: columns, Rows: rows}, nil
}

func isDML(stmt sql.Statement) bool {
	switch stmt.(type) {
	case *sql.InsertStmt, *sql.UpdateStmt, *sql.DeleteStmt:
		return true
	}
	return false
}

func (db *Database) runQuery(stmt *sql.SelectStmt) (*Result, error) {
	root, err := plan.NewPlanner(db.catalog).Plan(stmt)
	if err != nil {
		return nil, err
	}
	op, err := exec.Build(root)
	if err != nil {
		return nil, err
	}
	rows, err := exec.Run(op, db.context())
	if err != nil {
		return nil, err
	}
	return &Result{Kind: ResultRows, Columns: root.Columns(), Rows: rows}, nil
}

func (db *Database) runDML(stmt sql.Statement) (*Result, error) {
	root, err := plan.NewPlanner(db.catalog).Plan(stmt)
	if err != nil {
		return nil, err
	}
	op, err := exec.Build(root)
	if err != nil {
		return nil, err
	}
	affected, err := exec.RunDML(op, db.context())
	if err != nil {
		return nil, err
	}
	if err := db.wal.Sync(); err != nil {
		return nil, err
	}
	return &Result{Kind: ResultCount, Affected: affected}, nil
}

// TableSummaries lists the catalog for the meta-commands.
func (db *Database) TableSummaries() []catalog.Summary {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.catalog.TableSummaries()
}

// TableSchema describes one table for the .schema meta-command.
func (db *Database) TableSchema(name string) (string, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	table, err := db.catalog.Table(name)
	if err != nil {
		return "", err
	}
	out := fmt.Sprintf("CREATE TABLE %s (\n", table.Name)
	for i, col := range table.Columns {
		out += "  " + col.Name + " " + col.Type
		if len(table.PrimaryKey) == 1 && table.PrimaryKey[0] == i {
			out += " PRIMARY KEY"
		} else if !col.Nullable {
			out += " NOT NULL"
		}
		if i < len(table.Columns)-1 {
			out += ","
		}
		out += "\n"
	}
	out += ");"
	return out, nil
}

// Reset removes every table, the catalog snapshot, and the log,
// leaving an empty database.
func (db *Database) Reset() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, table := range db.catalog.Tables() {
		if err := db.pager.DropTable(table.Name); err != nil {
			return err
		}
	}
	if err := db.wal.Close(); err != nil {
		return err
	}
	for _, path := range []string{db.catalogPath, db.walPath} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return dberr.New(dberr.KindIo, "remove %s: %v", path, err)
		}
	}

	db.catalog = catalog.New()
	db.indexes.Reset()
	log, err := wal.Open(db.walPath)
	if err != nil {
		return err
	}
	db.wal = log
	return nil
}

// Close flushes dirty pages, syncs the log, and persists the catalog.
func (db *Database) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.wal.Sync(); err != nil {
		return err
	}
	if err := db.catalog.Save(db.catalogPath); err != nil {
		return err
	}
	if err := db.pager.Close(); err != nil {
		return err
	}
	return db.wal.Close()
}

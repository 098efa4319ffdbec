package engine

import (
	"minidb/internal/catalog"
	"minidb/internal/dberr"
	"minidb/internal/wal"
	"minidb/pkg/types"
)

// The Apply* methods are the replicated-command surface: they perform
// the same heap, catalog, and index operations the executor would,
// including WAL records, but never touch the SQL parser. The consensus
// layer invokes them in committed log order.

// ApplyCreateTable registers a table from a replicated command.
func (db *Database) ApplyCreateTable(name string, columns []catalog.ColumnDef, primaryKey []int) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	table, err := db.catalog.CreateTable(name, columns, primaryKey)
	if err != nil {
		return err
	}
	if _, err := db.wal.Append(&wal.Record{
		Type:       wal.RecordCreateTable,
		TableID:    table.ID,
		TableName:  table.Name,
		Schema:     table.Schema(),
		PrimaryKey: table.PrimaryKey,
	}); err != nil {
		return err
	}
	if err := db.wal.Sync(); err != nil {
		return err
	}
	return db.catalog.Save(db.catalogPath)
}

// ApplyDropTable removes a table by id from a replicated command.
func (db *Database) ApplyDropTable(id types.TableID) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	table, err := db.catalog.TableByID(id)
	if err != nil {
		return err
	}
	_, err = db.dropTable(table.Name)
	return err
}

// ApplyInsert writes a pre-built row into a table by id.
func (db *Database) ApplyInsert(id types.TableID, row types.Row) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	table, err := db.catalog.TableByID(id)
	if err != nil {
		return err
	}
	ctx := db.context()

	pk, err := db.indexes.For(table)
	if err != nil {
		return err
	}
	var key []types.Value
	if pk != nil {
		if key, err = pk.ExtractKey(row); err != nil {
			return err
		}
		if pk.Contains(key) {
			return dberr.New(dberr.KindConstraint, "duplicate primary key value")
		}
	}

	rid, err := ctx.Heap(table).Insert(row)
	if err != nil {
		return err
	}
	if _, err := db.wal.Append(&wal.Record{Type: wal.RecordInsert, TableID: id, RID: rid, Row: row}); err != nil {
		return err
	}
	if pk != nil {
		if err := pk.Insert(key, rid); err != nil {
			return err
		}
	}
	return db.wal.Sync()
}

// ApplyUpdate replaces the row at rid in a table by id.
func (db *Database) ApplyUpdate(id types.TableID, rid types.RecordID, row types.Row) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	table, err := db.catalog.TableByID(id)
	if err != nil {
		return err
	}
	ctx := db.context()
	heap := ctx.Heap(table)

	pk, err := db.indexes.For(table)
	if err != nil {
		return err
	}
	var oldKey []types.Value
	if pk != nil {
		oldRow, err := heap.Get(rid)
		if err != nil {
			return err
		}
		if oldKey, err = pk.ExtractKey(oldRow); err != nil {
			return err
		}
	}

	newRID, err := heap.Update(rid, row)
	if err != nil {
		return err
	}
	if _, err := db.wal.Append(&wal.Record{Type: wal.RecordUpdate, TableID: id, RID: rid, Row: row}); err != nil {
		return err
	}

	if pk != nil {
		newKey, err := pk.ExtractKey(row)
		if err != nil {
			return err
		}
		pk.Remove(oldKey)
		if err := pk.Insert(newKey, newRID); err != nil {
			return err
		}
	}
	return db.wal.Sync()
}

// ApplyDelete tombstones the row at rid in a table by id.
func (db *Database) ApplyDelete(id types.TableID, rid types.RecordID) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	table, err := db.catalog.TableByID(id)
	if err != nil {
		return err
	}
	ctx := db.context()
	heap := ctx.Heap(table)

	pk, err := db.indexes.For(table)
	if err != nil {
		return err
	}
	if pk != nil {
		row, err := heap.Get(rid)
		if err != nil {
			return err
		}
		key, err := pk.ExtractKey(row)
		if err != nil {
			return err
		}
		pk.Remove(key)
	}

	if _, err := db.wal.Append(&wal.Record{Type: wal.RecordDelete, TableID: id, RID: rid}); err != nil {
		return err
	}
	if err := heap.Delete(rid); err != nil {
		return err
	}
	return db.wal.Sync()
}

// Package exec executes physical plans with a pull-based iterator
// model: each operator exposes Open, Next, and Close, and rows stream
// one at a time from the root.
package exec

import (
	"minidb/internal/catalog"
	"minidb/internal/dberr"
	"minidb/internal/index"
	"minidb/internal/storage"
	"minidb/internal/wal"
	"minidb/pkg/types"
)

// Context is the shared execution state passed to every operator:
// the catalog (read), the pager (read/write), the WAL (append), and
// the primary-key indexes. Operators borrow it per call and hold no
// reference between calls.
type Context struct {
	Catalog *catalog.Catalog
	Pager   *storage.Pager
	Wal     *wal.Log
	Indexes *IndexSet
}

// Heap returns a heap file handle for the table.
func (ctx *Context) Heap(table *catalog.Table) *storage.HeapFile {
	return storage.OpenHeap(ctx.Pager, table.Name, table.ID)
}

// LogDML appends a WAL record for a statement's mutation. Durability
// is deferred to the statement boundary's sync.
func (ctx *Context) LogDML(record *wal.Record) error {
	_, err := ctx.Wal.Append(record)
	return err
}

// IndexSet holds the per-table primary-key indexes, built lazily on
// first access to a table by scanning its heap file.
type IndexSet struct {
	pager   *storage.Pager
	indexes map[types.TableID]*index.PrimaryKey
}

// NewIndexSet creates an empty index set over the pager.
func NewIndexSet(pager *storage.Pager) *IndexSet {
	return &IndexSet{
		pager:   pager,
		indexes: make(map[types.TableID]*index.PrimaryKey),
	}
}

// For returns the primary-key index for a table, building it from a
// heap scan on first use. Tables without a primary key return nil.
func (s *IndexSet) For(table *catalog.Table) (*index.PrimaryKey, error) {
	if len(table.PrimaryKey) == 0 {
		return nil, nil
	}
	if pk, ok := s.indexes[table.ID]; ok {
		return pk, nil
	}

	heap := storage.OpenHeap(s.pager, table.Name, table.ID)
	pk, err := index.Build(table.PrimaryKey, func(yield func(types.RecordID, types.Row) error) error {
		it, err := heap.Scan()
		if err != nil {
			return err
		}
		for {
			item, ok, err := it.Next()
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			if err := yield(item.RID, item.Row); err != nil {
				return err
			}
		}
	})
	if err != nil {
		return nil, dberr.Wrap(dberr.KindExecution, err)
	}
	s.indexes[table.ID] = pk
	return pk, nil
}

// Drop discards a table's index, as on DROP TABLE.
func (s *IndexSet) Drop(id types.TableID) {
	delete(s.indexes, id)
}

// Reset discards every cached index, forcing rebuilds from storage.
func (s *IndexSet) Reset() {
	s.indexes = make(map[types.TableID]*index.PrimaryKey)
}

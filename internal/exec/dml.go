package exec

import (
	"minidb/internal/catalog"
	"minidb/internal/dberr"
	"minidb/internal/expr"
	"minidb/internal/plan"
	"minidb/internal/wal"
	"minidb/pkg/types"
)

// checkRow validates a row against the table's schema: arity, value
// types, and nullability.
func checkRow(table *catalog.Table, schema types.Schema, row types.Row) error {
	if len(row.Values) != len(schema.Columns) {
		return dberr.New(dberr.KindExecution, "table %s expects %d columns, got %d", table.Name, len(schema.Columns), len(row.Values))
	}
	for i, v := range row.Values {
		col := schema.Columns[i]
		if v.IsNull {
			if !col.Nullable {
				return dberr.New(dberr.KindConstraint, "column %q of table %s is not nullable", col.Name, table.Name)
			}
			continue
		}
		if v.Type != col.Type {
			return dberr.New(dberr.KindExecution, "column %q of table %s expects %s, got %s", col.Name, table.Name, col.Type, v.Type)
		}
	}
	return nil
}

func countRow(n int64) types.Row {
	return types.Row{Values: []types.Value{types.IntValue(n)}}
}

// InsertOp evaluates its value expressions into one row, enforces
// primary-key uniqueness, and writes the row through the heap, WAL,
// and index. It emits a single affected-count row.
type InsertOp struct {
	node *plan.Insert
	done bool
}

func (op *InsertOp) Open(ctx *Context) error {
	op.done = false

	table := op.node.Table
	schema := table.Schema()

	row := types.Row{Values: make([]types.Value, 0, len(op.node.Values))}
	for _, valueExpr := range op.node.Values {
		v, err := expr.Eval(valueExpr, types.Row{}, schema.Names())
		if err != nil {
			return err
		}
		row.Values = append(row.Values, v)
	}
	if err := checkRow(table, schema, row); err != nil {
		return err
	}

	// Uniqueness is checked before any mutation so a rejected insert
	// leaves no WAL record and no heap write behind.
	pk, err := ctx.Indexes.For(table)
	if err != nil {
		return err
	}
	var key []types.Value
	if pk != nil {
		key, err = pk.ExtractKey(row)
		if err != nil {
			return err
		}
		if pk.Contains(key) {
			return dberr.New(dberr.KindConstraint, "duplicate primary key value: %s", keyString(key))
		}
	}

	rid, err := ctx.Heap(table).Insert(row)
	if err != nil {
		return err
	}
	if err := ctx.LogDML(&wal.Record{
		Type:    wal.RecordInsert,
		TableID: table.ID,
		RID:     rid,
		Row:     row,
	}); err != nil {
		return err
	}
	if pk != nil {
		if err := pk.Insert(key, rid); err != nil {
			return err
		}
	}
	return nil
}

func (op *InsertOp) Next(ctx *Context) (types.Row, bool, error) {
	if op.done {
		return types.Row{}, false, nil
	}
	op.done = true
	return countRow(1), true, nil
}

func (op *InsertOp) Close(ctx *Context) error { return nil }

func (op *InsertOp) Schema() []string { return op.node.Columns() }

func keyString(key []types.Value) string {
	out := "("
	for i, v := range key {
		if i > 0 {
			out += ", "
		}
		out += v.String()
	}
	return out + ")"
}

// candidate is one row a DML operator will mutate, captured with its
// location before any mutation starts.
type candidate struct {
	rid types.RecordID
	row types.Row
}

// drain pulls every row from a child along with its record id. The
// candidate set is materialized up front so rows relocated during the
// statement are never rescanned.
func drain(child Operator, ctx *Context) ([]candidate, error) {
	src, ok := child.(ridSource)
	if !ok {
		return nil, dberr.New(dberr.KindExecution, "input %T cannot report record ids", child)
	}
	var out []candidate
	for {
		row, more, err := child.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !more {
			return out, nil
		}
		out = append(out, candidate{rid: src.LastRID(), row: row})
	}
}

// UpdateOp applies assignments to each candidate row, maintaining the
// primary-key index across key changes and relocations. It emits a
// single affected-count row.
type UpdateOp struct {
	node  *plan.Update
	child Operator
	count int64
	done  bool
}

func (op *UpdateOp) Open(ctx *Context) error {
	op.count = 0
	op.done = false

	if err := op.child.Open(ctx); err != nil {
		return err
	}
	candidates, err := drain(op.child, ctx)
	if err != nil {
		return err
	}

	table := op.node.Table
	schema := table.Schema()
	names := schema.Names()
	heap := ctx.Heap(table)
	pk, err := ctx.Indexes.For(table)
	if err != nil {
		return err
	}

	for _, cand := range candidates {
		newRow := types.Row{Values: append([]types.Value{}, cand.row.Values...)}
		for _, assign := range op.node.Set {
			v, err := expr.Eval(assign.Value, cand.row, names)
			if err != nil {
				return err
			}
			newRow.Values[schema.IndexOf(assign.Column)] = v
		}
		if err := checkRow(table, schema, newRow); err != nil {
			return err
		}

		var oldKey, newKey []types.Value
		keyChanged := false
		if pk != nil {
			if oldKey, err = pk.ExtractKey(cand.row); err != nil {
				return err
			}
			if newKey, err = pk.ExtractKey(newRow); err != nil {
				return err
			}
			keyChanged = !sameKey(oldKey, newKey)
			if keyChanged && pk.Contains(newKey) {
				return dberr.New(dberr.KindConstraint, "duplicate primary key value: %s", keyString(newKey))
			}
		}

		newRID, err := heap.Update(cand.rid, newRow)
		if err != nil {
			return err
		}
		if err := ctx.LogDML(&wal.Record{
			Type:    wal.RecordUpdate,
			TableID: table.ID,
			RID:     cand.rid,
			Row:     newRow,
		}); err != nil {
			return err
		}

		if pk != nil {
			if keyChanged {
				pk.Remove(oldKey)
				if err := pk.Insert(newKey, newRID); err != nil {
					return err
				}
			} else if newRID != cand.rid {
				// Relocation keeps the key but moves the row.
				pk.Update(newKey, newRID)
			}
		}
		op.count++
	}
	return nil
}

func sameKey(a, b []types.Value) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].IsNull != b[i].IsNull || a[i].Type != b[i].Type {
			return false
		}
		if a[i].IsNull {
			continue
		}
		eq, err := a[i].Equal(b[i])
		if err != nil || !eq {
			return false
		}
	}
	return true
}

func (op *UpdateOp) Next(ctx *Context) (types.Row, bool, error) {
	if op.done {
		return types.Row{}, false, nil
	}
	op.done = true
	return countRow(op.count), true, nil
}

func (op *UpdateOp) Close(ctx *Context) error { return op.child.Close(ctx) }

func (op *UpdateOp) Schema() []string { return op.node.Columns() }

// DeleteOp tombstones each candidate row, logging before the index and
// heap mutations. It emits a single affected-count row.
type DeleteOp struct {
	node  *plan.Delete
	child Operator
	count int64
	done  bool
}

func (op *DeleteOp) Open(ctx *Context) error {
	op.count = 0
	op.done = false

	if err := op.child.Open(ctx); err != nil {
		return err
	}
	candidates, err := drain(op.child, ctx)
	if err != nil {
		return err
	}

	table := op.node.Table
	heap := ctx.Heap(table)
	pk, err := ctx.Indexes.For(table)
	if err != nil {
		return err
	}

	for _, cand := range candidates {
		if err := ctx.LogDML(&wal.Record{
			Type:    wal.RecordDelete,
			TableID: table.ID,
			RID:     cand.rid,
		}); err != nil {
			return err
		}
		if pk != nil {
			key, err := pk.ExtractKey(cand.row)
			if err != nil {
				return err
			}
			pk.Remove(key)
		}
		if err := heap.Delete(cand.rid); err != nil {
			return err
		}
		op.count++
	}
	return nil
}

func (op *DeleteOp) Next(ctx *Context) (types.Row, bool, error) {
	if op.done {
		return types.Row{}, false, nil
	}
	op.done = true
	return countRow(op.count), true, nil
}

func (op *DeleteOp) Close(ctx *Context) error { return op.child.Close(ctx) }

func (op *DeleteOp) Schema() []string { return op.node.Columns() }

package exec

import (
	"minidb/internal/dberr"
	"minidb/internal/expr"
	"minidb/internal/plan"
	"minidb/internal/storage"
	"minidb/pkg/types"
)

// SeqScanOp iterates a table's heap file in storage order.
type SeqScanOp struct {
	node *plan.SeqScan
	iter *storage.Iterator
	rid  types.RecordID
}

func (op *SeqScanOp) Open(ctx *Context) error {
	// Building the index here keeps the lazy-bootstrap promise: by the
	// time any operator reads the table, uniqueness state is loaded.
	if _, err := ctx.Indexes.For(op.node.Table); err != nil {
		return err
	}
	iter, err := ctx.Heap(op.node.Table).Scan()
	if err != nil {
		return err
	}
	op.iter = iter
	return nil
}

func (op *SeqScanOp) Next(ctx *Context) (types.Row, bool, error) {
	item, ok, err := op.iter.Next()
	if err != nil || !ok {
		return types.Row{}, false, err
	}
	op.rid = item.RID
	return item.Row, true, nil
}

func (op *SeqScanOp) Close(ctx *Context) error {
	op.iter = nil
	return nil
}

func (op *SeqScanOp) Schema() []string { return op.node.Names }

func (op *SeqScanOp) LastRID() types.RecordID { return op.rid }

// IndexScanOp resolves a primary-key equality to at most one row.
type IndexScanOp struct {
	node *plan.IndexScan
	row  types.Row
	rid  types.RecordID
	hit  bool
	done bool
}

func (op *IndexScanOp) Open(ctx *Context) error {
	op.hit = false
	op.done = false

	pk, err := ctx.Indexes.For(op.node.Table)
	if err != nil {
		return err
	}
	if pk == nil {
		return dberr.New(dberr.KindExecution, "table %s has no primary key to scan", op.node.Table.Name)
	}

	keyValue, err := expr.Eval(op.node.Key, types.Row{}, nil)
	if err != nil {
		return err
	}
	rid, ok := pk.Lookup([]types.Value{keyValue})
	if !ok {
		return nil
	}

	row, err := ctx.Heap(op.node.Table).Get(rid)
	if err != nil {
		return err
	}
	op.row = row
	op.rid = rid
	op.hit = true
	return nil
}

func (op *IndexScanOp) Next(ctx *Context) (types.Row, bool, error) {
	if op.done || !op.hit {
		return types.Row{}, false, nil
	}
	op.done = true
	return op.row, true, nil
}

func (op *IndexScanOp) Close(ctx *Context) error {
	op.row = types.Row{}
	return nil
}

func (op *IndexScanOp) Schema() []string { return op.node.Names }

func (op *IndexScanOp) LastRID() types.RecordID { return op.rid }

package exec

import (
	"sort"

	"minidb/internal/dberr"
	"minidb/internal/expr"
	"minidb/internal/plan"
	"minidb/pkg/types"
)

// FilterOp forwards rows whose predicate evaluates to true.
type FilterOp struct {
	node  *plan.Filter
	child Operator
	rid   types.RecordID
}

func (op *FilterOp) Open(ctx *Context) error { return op.child.Open(ctx) }

func (op *FilterOp) Next(ctx *Context) (types.Row, bool, error) {
	for {
		row, ok, err := op.child.Next(ctx)
		if err != nil || !ok {
			return types.Row{}, false, err
		}
		match, err := expr.Truthy(op.node.Predicate, row, op.child.Schema())
		if err != nil {
			return types.Row{}, false, err
		}
		if match {
			if src, ok := op.child.(ridSource); ok {
				op.rid = src.LastRID()
			}
			return row, true, nil
		}
	}
}

func (op *FilterOp) Close(ctx *Context) error { return op.child.Close(ctx) }

func (op *FilterOp) Schema() []string { return op.child.Schema() }

func (op *FilterOp) LastRID() types.RecordID { return op.rid }

// ProjectOp narrows rows to the named columns, by name.
type ProjectOp struct {
	node     *plan.Project
	child    Operator
	ordinals []int
}

func (op *ProjectOp) Open(ctx *Context) error {
	if err := op.child.Open(ctx); err != nil {
		return err
	}
	op.ordinals = op.ordinals[:0]
	for _, name := range op.node.Names {
		ord, err := expr.ResolveColumn(name, op.child.Schema())
		if err != nil {
			return err
		}
		op.ordinals = append(op.ordinals, ord)
	}
	return nil
}

func (op *ProjectOp) Next(ctx *Context) (types.Row, bool, error) {
	row, ok, err := op.child.Next(ctx)
	if err != nil || !ok {
		return types.Row{}, false, err
	}
	out := types.Row{Values: make([]types.Value, len(op.ordinals))}
	for i, ord := range op.ordinals {
		if ord >= len(row.Values) {
			return types.Row{}, false, dberr.New(dberr.KindExecution, "column %q missing from row", op.node.Names[i])
		}
		out.Values[i] = row.Values[ord]
	}
	return out, true, nil
}

func (op *ProjectOp) Close(ctx *Context) error { return op.child.Close(ctx) }

func (op *ProjectOp) Schema() []string { return op.node.Names }

// JoinOp is an inner nested-loop join. The inner input is re-opened
// and drained for every outer row.
type JoinOp struct {
	node  *plan.NestedLoopJoin
	outer Operator
	inner Operator

	outerRow  types.Row
	haveOuter bool
	innerOpen bool
}

func (op *JoinOp) Open(ctx *Context) error {
	op.haveOuter = false
	op.innerOpen = false
	return op.outer.Open(ctx)
}

func (op *JoinOp) Next(ctx *Context) (types.Row, bool, error) {
	for {
		if !op.haveOuter {
			row, ok, err := op.outer.Next(ctx)
			if err != nil || !ok {
				return types.Row{}, false, err
			}
			op.outerRow = row
			op.haveOuter = true
			if err := op.inner.Open(ctx); err != nil {
				return types.Row{}, false, err
			}
			op.innerOpen = true
		}

		innerRow, ok, err := op.inner.Next(ctx)
		if err != nil {
			return types.Row{}, false, err
		}
		if !ok {
			if err := op.inner.Close(ctx); err != nil {
				return types.Row{}, false, err
			}
			op.innerOpen = false
			op.haveOuter = false
			continue
		}

		combined := types.Row{Values: append(append([]types.Value{}, op.outerRow.Values...), innerRow.Values...)}
		match, err := expr.Truthy(op.node.Condition, combined, op.Schema())
		if err != nil {
			return types.Row{}, false, err
		}
		if match {
			return combined, true, nil
		}
	}
}

func (op *JoinOp) Close(ctx *Context) error {
	if op.innerOpen {
		if err := op.inner.Close(ctx); err != nil {
			return err
		}
		op.innerOpen = false
	}
	return op.outer.Close(ctx)
}

func (op *JoinOp) Schema() []string { return op.node.Columns() }

// SortOp materializes its input and emits it ordered by the sort
// terms. Values that cannot be ordered against each other fail the
// statement.
type SortOp struct {
	node  *plan.Sort
	child Operator
	rows  []types.Row
	pos   int
}

func (op *SortOp) Open(ctx *Context) error {
	if err := op.child.Open(ctx); err != nil {
		return err
	}
	op.rows = op.rows[:0]
	op.pos = 0

	schema := op.child.Schema()
	ordinals := make([]int, len(op.node.Terms))
	for i, term := range op.node.Terms {
		ord, err := expr.ResolveColumn(term.Column, schema)
		if err != nil {
			return err
		}
		ordinals[i] = ord
	}

	for {
		row, ok, err := op.child.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		op.rows = append(op.rows, row)
	}

	var sortErr error
	sort.SliceStable(op.rows, func(i, j int) bool {
		for t, ord := range ordinals {
			a, b := op.rows[i].Values[ord], op.rows[j].Values[ord]
			eq, err := a.Equal(b)
			if err == nil && eq {
				continue
			}
			less, err := a.Less(b)
			if err != nil {
				if sortErr == nil {
					sortErr = dberr.Wrap(dberr.KindExecution, err)
				}
				return false
			}
			if op.node.Terms[t].Desc {
				return !less
			}
			return less
		}
		return false
	})
	return sortErr
}

func (op *SortOp) Next(ctx *Context) (types.Row, bool, error) {
	if op.pos >= len(op.rows) {
		return types.Row{}, false, nil
	}
	row := op.rows[op.pos]
	op.pos++
	return row, true, nil
}

func (op *SortOp) Close(ctx *Context) error {
	op.rows = nil
	return op.child.Close(ctx)
}

func (op *SortOp) Schema() []string { return op.child.Schema() }

// LimitOp applies OFFSET then LIMIT.
type LimitOp struct {
	node    *plan.Limit
	child   Operator
	skipped int64
	emitted int64
}

func (op *LimitOp) Open(ctx *Context) error {
	op.skipped = 0
	op.emitted = 0
	return op.child.Open(ctx)
}

func (op *LimitOp) Next(ctx *Context) (types.Row, bool, error) {
	for {
		if op.node.Count != nil && op.emitted >= *op.node.Count {
			return types.Row{}, false, nil
		}
		row, ok, err := op.child.Next(ctx)
		if err != nil || !ok {
			return types.Row{}, false, err
		}
		if op.node.Offset != nil && op.skipped < *op.node.Offset {
			op.skipped++
			continue
		}
		op.emitted++
		return row, true, nil
	}
}

func (op *LimitOp) Close(ctx *Context) error { return op.child.Close(ctx) }

func (op *LimitOp) Schema() []string { return op.child.Schema() }

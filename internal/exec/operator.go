package exec

import (
	"minidb/internal/dberr"
	"minidb/internal/plan"
	"minidb/pkg/types"
)

// Operator is the iterator contract every physical operator follows.
// Open acquires resources, Next produces the next row or reports
// exhaustion, Close releases resources.
type Operator interface {
	Open(ctx *Context) error
	Next(ctx *Context) (types.Row, bool, error)
	Close(ctx *Context) error
	Schema() []string
}

// ridSource is implemented by operators that can report the record id
// of the row they last produced. DML operators require their input
// chain to expose it.
type ridSource interface {
	LastRID() types.RecordID
}

// Build constructs the operator tree for a physical plan.
func Build(node plan.Node) (Operator, error) {
	switch n := node.(type) {
	case *plan.SeqScan:
		return &SeqScanOp{node: n}, nil
	case *plan.IndexScan:
		return &IndexScanOp{node: n}, nil
	case *plan.Filter:
		child, err := Build(n.Input)
		if err != nil {
			return nil, err
		}
		return &FilterOp{node: n, child: child}, nil
	case *plan.Project:
		child, err := Build(n.Input)
		if err != nil {
			return nil, err
		}
		return &ProjectOp{node: n, child: child}, nil
	case *plan.NestedLoopJoin:
		outer, err := Build(n.Outer)
		if err != nil {
			return nil, err
		}
		inner, err := Build(n.Inner)
		if err != nil {
			return nil, err
		}
		return &JoinOp{node: n, outer: outer, inner: inner}, nil
	case *plan.Sort:
		child, err := Build(n.Input)
		if err != nil {
			return nil, err
		}
		return &SortOp{node: n, child: child}, nil
	case *plan.Limit:
		child, err := Build(n.Input)
		if err != nil {
			return nil, err
		}
		return &LimitOp{node: n, child: child}, nil
	case *plan.Insert:
		return &InsertOp{node: n}, nil
	case *plan.Update:
		child, err := Build(n.Input)
		if err != nil {
			return nil, err
		}
		return &UpdateOp{node: n, child: child}, nil
	case *plan.Delete:
		child, err := Build(n.Input)
		if err != nil {
			return nil, err
		}
		return &DeleteOp{node: n, child: child}, nil
	default:
		return nil, dberr.New(dberr.KindExecution, "no operator for plan node %T", node)
	}
}

// Run drives an operator tree to completion and collects its rows.
func Run(root Operator, ctx *Context) ([]types.Row, error) {
	if err := root.Open(ctx); err != nil {
		return nil, err
	}

	var rows []types.Row
	for {
		row, ok, err := root.Next(ctx)
		if err != nil {
			root.Close(ctx)
			return nil, err
		}
		if !ok {
			break
		}
		rows = append(rows, row)
	}

	if err := root.Close(ctx); err != nil {
		return nil, err
	}
	return rows, nil
}

// RunDML drives a DML operator tree and returns the affected count
// from its single result row.
func RunDML(root Operator, ctx *Context) (uint64, error) {
	rows, err := Run(root, ctx)
	if err != nil {
		return 0, err
	}
	if len(rows) != 1 || len(rows[0].Values) != 1 || rows[0].Values[0].Type != types.TypeInt {
		return 0, dberr.New(dberr.KindExecution, "DML produced no affected-count row")
	}
	return uint64(rows[0].Values[0].Int), nil
}

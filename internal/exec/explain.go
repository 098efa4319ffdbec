package exec

import (
	"fmt"
	"strings"
	"time"

	"minidb/internal/plan"
	"minidb/pkg/types"
)

// Explain renders a plan tree as one single-column row per operator
// without executing it.
func Explain(root plan.Node) ([]string, []types.Row) {
	lines := plan.Render(root)
	rows := make([]types.Row, len(lines))
	for i, line := range lines {
		rows[i] = types.Row{Values: []types.Value{types.TextValue(line)}}
	}
	return []string{"plan"}, rows
}

// NodeStats records what one operator did during an analyzed run.
type NodeStats struct {
	Rows    int64
	Elapsed time.Duration
}

// statsOp wraps an operator to observe its row count and elapsed time.
type statsOp struct {
	inner Operator
	stats *NodeStats
}

func (op *statsOp) Open(ctx *Context) error {
	start := time.Now()
	err := op.inner.Open(ctx)
	op.stats.Elapsed += time.Since(start)
	return err
}

func (op *statsOp) Next(ctx *Context) (types.Row, bool, error) {
	start := time.Now()
	row, ok, err := op.inner.Next(ctx)
	op.stats.Elapsed += time.Since(start)
	if ok {
		op.stats.Rows++
	}
	return row, ok, err
}

func (op *statsOp) Close(ctx *Context) error { return op.inner.Close(ctx) }

func (op *statsOp) Schema() []string { return op.inner.Schema() }

func (op *statsOp) LastRID() types.RecordID {
	if src, ok := op.inner.(ridSource); ok {
		return src.LastRID()
	}
	return types.RecordID{}
}

// buildInstrumented mirrors Build but wraps every operator so an
// analyzed run can annotate each plan node.
func buildInstrumented(node plan.Node, stats map[plan.Node]*NodeStats) (Operator, error) {
	op, err := Build(node)
	if err != nil {
		return nil, err
	}
	return instrument(op, node, stats), nil
}

// instrument wraps the operator tree bottom-up. Build mirrors the plan
// tree shape exactly, so children pair off positionally.
func instrument(op Operator, node plan.Node, stats map[plan.Node]*NodeStats) Operator {
	children := node.Children()
	switch o := op.(type) {
	case *FilterOp:
		o.child = instrument(o.child, children[0], stats)
	case *ProjectOp:
		o.child = instrument(o.child, children[0], stats)
	case *JoinOp:
		o.outer = instrument(o.outer, children[0], stats)
		o.inner = instrument(o.inner, children[1], stats)
	case *SortOp:
		o.child = instrument(o.child, children[0], stats)
	case *LimitOp:
		o.child = instrument(o.child, children[0], stats)
	case *UpdateOp:
		o.child = instrument(o.child, children[0], stats)
	case *DeleteOp:
		o.child = instrument(o.child, children[0], stats)
	}
	ns := &NodeStats{}
	stats[node] = ns
	return &statsOp{inner: op, stats: ns}
}

// ExplainAnalyze builds the plan's operator tree, drives it to
// completion, and renders the tree annotated with observed row counts
// and elapsed time per node.
func ExplainAnalyze(root plan.Node, ctx *Context) ([]string, []types.Row, error) {
	stats := make(map[plan.Node]*NodeStats)
	op, err := buildInstrumented(root, stats)
	if err != nil {
		return nil, nil, err
	}
	if _, err := Run(op, ctx); err != nil {
		return nil, nil, err
	}

	var rows []types.Row
	var walk func(n plan.Node, depth int)
	walk = func(n plan.Node, depth int) {
		line := strings.Repeat("  ", depth) + n.Label()
		if ns := stats[n]; ns != nil {
			line += fmt.Sprintf(" (rows=%d, time=%s)", ns.Rows, ns.Elapsed.Round(time.Microsecond))
		}
		rows = append(rows, types.Row{Values: []types.Value{types.TextValue(line)}})
		for _, child := range n.Children() {
			walk(child, depth+1)
		}
	}
	walk(root, 0)
	return []string{"plan"}, rows, nil
}

// Package plan defines physical plan trees and the planner that builds
// them from parsed statements.
package plan

import (
	"fmt"
	"strings"

	"minidb/internal/catalog"
	"minidb/internal/expr"
	"minidb/internal/sql"
)

// Node is one physical plan operator. Plans own their sub-trees.
type Node interface {
	// Label renders the node for EXPLAIN output.
	Label() string
	// Children returns the node's inputs, outermost first.
	Children() []Node
	// Columns returns the names of the columns the node produces.
	Columns() []string
}

// SeqScan reads a table in storage order.
type SeqScan struct {
	Table *catalog.Table
	Names []string // output column names, possibly qualified
}

func (n *SeqScan) Label() string     { return fmt.Sprintf("SeqScan on %s", n.Table.Name) }
func (n *SeqScan) Children() []Node  { return nil }
func (n *SeqScan) Columns() []string { return n.Names }

// IndexScan resolves a primary-key equality predicate to at most one
// record.
type IndexScan struct {
	Table     *catalog.Table
	IndexName string
	Key       expr.Expr // literal the key column must equal
	Names     []string
}

func (n *IndexScan) Label() string {
	return fmt.Sprintf("IndexScan on %s using %s (key = %s)", n.Table.Name, n.IndexName, n.Key.String())
}
func (n *IndexScan) Children() []Node  { return nil }
func (n *IndexScan) Columns() []string { return n.Names }

// Filter forwards only rows for which the predicate is true.
type Filter struct {
	Input     Node
	Predicate expr.Expr
}

func (n *Filter) Label() string     { return fmt.Sprintf("Filter (%s)", n.Predicate.String()) }
func (n *Filter) Children() []Node  { return []Node{n.Input} }
func (n *Filter) Columns() []string { return n.Input.Columns() }

// Project narrows rows to the named columns.
type Project struct {
	Input Node
	Names []string
}

func (n *Project) Label() string     { return fmt.Sprintf("Project (%s)", strings.Join(n.Names, ", ")) }
func (n *Project) Children() []Node  { return []Node{n.Input} }
func (n *Project) Columns() []string { return n.Names }

// NestedLoopJoin is an inner join: for each outer row the inner input
// is re-scanned and the condition evaluated over the concatenated row.
type NestedLoopJoin struct {
	Outer     Node
	Inner     Node
	Condition expr.Expr
}

func (n *NestedLoopJoin) Label() string    { return fmt.Sprintf("NestedLoopJoin (%s)", n.Condition.String()) }
func (n *NestedLoopJoin) Children() []Node { return []Node{n.Outer, n.Inner} }
func (n *NestedLoopJoin) Columns() []string {
	return append(append([]string{}, n.Outer.Columns()...), n.Inner.Columns()...)
}

// Sort orders its input by the given terms.
type Sort struct {
	Input Node
	Terms []sql.OrderBy
}

func (n *Sort) Label() string {
	parts := make([]string, len(n.Terms))
	for i, t := range n.Terms {
		parts[i] = t.Column
		if t.Desc {
			parts[i] += " DESC"
		}
	}
	return fmt.Sprintf("Sort (%s)", strings.Join(parts, ", "))
}
func (n *Sort) Children() []Node  { return []Node{n.Input} }
func (n *Sort) Columns() []string { return n.Input.Columns() }

// Limit applies OFFSET then LIMIT to its input.
type Limit struct {
	Input  Node
	Count  *int64
	Offset *int64
}

func (n *Limit) Label() string {
	label := "Limit"
	if n.Count != nil {
		label += fmt.Sprintf(" %d", *n.Count)
	}
	if n.Offset != nil {
		label += fmt.Sprintf(" offset %d", *n.Offset)
	}
	return label
}
func (n *Limit) Children() []Node  { return []Node{n.Input} }
func (n *Limit) Columns() []string { return n.Input.Columns() }

// Insert appends one row built from literal value expressions.
type Insert struct {
	Table  *catalog.Table
	Values []expr.Expr // in schema column order
}

func (n *Insert) Label() string     { return fmt.Sprintf("Insert into %s", n.Table.Name) }
func (n *Insert) Children() []Node  { return nil }
func (n *Insert) Columns() []string { return []string{"count"} }

// Update rewrites each row its input produces.
type Update struct {
	Table *catalog.Table
	Input Node
	Set   []sql.Assignment
}

func (n *Update) Label() string     { return fmt.Sprintf("Update %s", n.Table.Name) }
func (n *Update) Children() []Node  { return []Node{n.Input} }
func (n *Update) Columns() []string { return []string{"count"} }

// Delete tombstones each row its input produces.
type Delete struct {
	Table *catalog.Table
	Input Node
}

func (n *Delete) Label() string     { return fmt.Sprintf("Delete from %s", n.Table.Name) }
func (n *Delete) Children() []Node  { return []Node{n.Input} }
func (n *Delete) Columns() []string { return []string{"count"} }

// Render draws the plan tree as indented text lines, root first.
func Render(root Node) []string {
	var lines []string
	var walk func(n Node, depth int)
	walk = func(n Node, depth int) {
		lines = append(lines, strings.Repeat("  ", depth)+n.Label())
		for _, child := range n.Children() {
			walk(child, depth+1)
		}
	}
	walk(root, 0)
	return lines
}

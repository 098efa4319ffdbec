package plan

import (
	"strings"

	"minidb/internal/catalog"
	"minidb/internal/dberr"
	"minidb/internal/expr"
	"minidb/internal/sql"
	"minidb/pkg/types"
)

// Planner resolves statements against the catalog and produces
// physical plans.
type Planner struct {
	catalog *catalog.Catalog
}

// NewPlanner creates a planner over the given catalog.
func NewPlanner(c *catalog.Catalog) *Planner {
	return &Planner{catalog: c}
}

// planError reports a failed table lookup as a plan error, keeping the
// catalog's message.
func planError(err error) error {
	return &dberr.Error{Kind: dberr.KindPlan, Err: err}
}

// Plan builds a physical plan for a query or DML statement. DDL is
// handled above the planner and is rejected here.
func (p *Planner) Plan(stmt sql.Statement) (Node, error) {
	switch s := stmt.(type) {
	case *sql.SelectStmt:
		return p.planSelect(s)
	case *sql.InsertStmt:
		return p.planInsert(s)
	case *sql.UpdateStmt:
		return p.planUpdate(s)
	case *sql.DeleteStmt:
		return p.planDelete(s)
	default:
		return nil, dberr.New(dberr.KindPlan, "statement %T has no physical plan", stmt)
	}
}

// scanNames returns the output column names for a table scan. Names
// are qualified by the table's display name when the query involves a
// join or an alias, so conditions can disambiguate.
func scanNames(table *catalog.Table, ref sql.TableRef, qualify bool) []string {
	schema := table.Schema()
	names := schema.Names()
	if !qualify && ref.Alias == "" {
		return names
	}
	prefix := ref.DisplayName() + "."
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = prefix + n
	}
	return out
}

func (p *Planner) planSelect(stmt *sql.SelectStmt) (Node, error) {
	table, err := p.catalog.Table(stmt.From.Name)
	if err != nil {
		return nil, planError(err)
	}

	qualify := len(stmt.Joins) > 0
	var root Node = &SeqScan{Table: table, Names: scanNames(table, stmt.From, qualify)}

	// Joins are planned left-deep as nested scans filtered on the join
	// condition.
	for _, join := range stmt.Joins {
		inner, err := p.catalog.Table(join.Table.Name)
		if err != nil {
			return nil, planError(err)
		}
		root = &NestedLoopJoin{
			Outer:     root,
			Inner:     &SeqScan{Table: inner, Names: scanNames(inner, join.Table, true)},
			Condition: join.Condition,
		}
	}

	if stmt.Where != nil {
		root = p.pushdownPredicate(root, table, stmt.Where, len(stmt.Joins) == 0)
	}

	if len(stmt.OrderBy) > 0 {
		root = &Sort{Input: root, Terms: stmt.OrderBy}
	}

	// The wildcard elides Project.
	if !(len(stmt.Columns) == 1 && stmt.Columns[0] == "*") {
		for _, name := range stmt.Columns {
			if _, err := expr.ResolveColumn(name, root.Columns()); err != nil {
				return nil, dberr.Wrap(dberr.KindPlan, err)
			}
		}
		root = &Project{Input: root, Names: stmt.Columns}
	}

	if stmt.Limit != nil || stmt.Offset != nil {
		root = &Limit{Input: root, Count: stmt.Limit, Offset: stmt.Offset}
	}

	return root, nil
}

// pushdownPredicate places the selection. When the conjunction
// includes an equality between the table's single primary-key column
// and a literal, the scan becomes an IndexScan and only the remaining
// conjuncts stay in a Filter.
func (p *Planner) pushdownPredicate(input Node, table *catalog.Table, where expr.Expr, allowIndex bool) Node {
	scan, isScan := input.(*SeqScan)
	if !allowIndex || !isScan || len(table.PrimaryKey) != 1 {
		return &Filter{Input: input, Predicate: where}
	}

	pkName := table.Columns[table.PrimaryKey[0]].Name
	conjuncts := expr.Conjuncts(where)

	for i, c := range conjuncts {
		key, ok := pkEqualityLiteral(c, pkName)
		if !ok {
			continue
		}
		rest := expr.Conjoin(append(append([]expr.Expr{}, conjuncts[:i]...), conjuncts[i+1:]...))
		var out Node = &IndexScan{
			Table:     table,
			IndexName: "primary",
			Key:       key,
			Names:     scan.Names,
		}
		if rest != nil {
			out = &Filter{Input: out, Predicate: rest}
		}
		return out
	}

	return &Filter{Input: input, Predicate: where}
}

// pkEqualityLiteral matches `pk = literal` or `literal = pk` and
// returns the literal.
func pkEqualityLiteral(e expr.Expr, pkName string) (expr.Expr, bool) {
	b, ok := e.(*expr.Binary)
	if !ok || b.Op != expr.OpEq {
		return nil, false
	}
	if col, ok := b.Left.(*expr.Column); ok && strings.EqualFold(col.Name, pkName) {
		if lit, ok := b.Right.(*expr.Literal); ok {
			return lit, true
		}
	}
	if col, ok := b.Right.(*expr.Column); ok && strings.EqualFold(col.Name, pkName) {
		if lit, ok := b.Left.(*expr.Literal); ok {
			return lit, true
		}
	}
	return nil, false
}

func (p *Planner) planInsert(stmt *sql.InsertStmt) (Node, error) {
	table, err := p.catalog.Table(stmt.TableName)
	if err != nil {
		return nil, planError(err)
	}
	schema := table.Schema()

	// With no explicit column list the values map positionally.
	if len(stmt.Columns) == 0 {
		if len(stmt.Values) != len(schema.Columns) {
			return nil, dberr.New(dberr.KindPlan, "table %s has %d columns but %d values were supplied", table.Name, len(schema.Columns), len(stmt.Values))
		}
		return &Insert{Table: table, Values: stmt.Values}, nil
	}

	if len(stmt.Columns) != len(stmt.Values) {
		return nil, dberr.New(dberr.KindPlan, "%d columns named but %d values supplied", len(stmt.Columns), len(stmt.Values))
	}

	// Reorder the named values into schema order; unnamed columns
	// insert as NULL.
	values := make([]expr.Expr, len(schema.Columns))
	for i := range values {
		values[i] = &expr.Literal{Value: types.NullValue()}
	}
	for i, name := range stmt.Columns {
		ord := schema.IndexOf(name)
		if ord < 0 {
			return nil, dberr.New(dberr.KindPlan, "table %s has no column %q", table.Name, name)
		}
		values[ord] = stmt.Values[i]
	}
	return &Insert{Table: table, Values: values}, nil
}

func (p *Planner) planUpdate(stmt *sql.UpdateStmt) (Node, error) {
	table, err := p.catalog.Table(stmt.TableName)
	if err != nil {
		return nil, planError(err)
	}
	schema := table.Schema()
	for _, assign := range stmt.Set {
		if schema.IndexOf(assign.Column) < 0 {
			return nil, dberr.New(dberr.KindPlan, "table %s has no column %q", table.Name, assign.Column)
		}
	}

	var input Node = &SeqScan{Table: table, Names: schema.Names()}
	if stmt.Where != nil {
		input = &Filter{Input: input, Predicate: stmt.Where}
	}
	return &Update{Table: table, Input: input, Set: stmt.Set}, nil
}

func (p *Planner) planDelete(stmt *sql.DeleteStmt) (Node, error) {
	table, err := p.catalog.Table(stmt.TableName)
	if err != nil {
		return nil, planError(err)
	}

	var input Node = &SeqScan{Table: table, Names: table.Schema().Names()}
	if stmt.Where != nil {
		input = &Filter{Input: input, Predicate: stmt.Where}
	}
	return &Delete{Table: table, Input: input}, nil
}

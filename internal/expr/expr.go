// Package expr defines the expression tree and its typed evaluation
// over a row and schema.
package expr

import (
	"strings"

	"minidb/internal/dberr"
	"minidb/pkg/types"
)

// BinaryOp is a comparison or logical operator.
type BinaryOp int

const (
	OpEq BinaryOp = iota
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpAnd
	OpOr
)

func (op BinaryOp) String() string {
	switch op {
	case OpEq:
		return "="
	case OpNe:
		return "!="
	case OpLt:
		return "<"
	case OpLe:
		return "<="
	case OpGt:
		return ">"
	case OpGe:
		return ">="
	case OpAnd:
		return "AND"
	case OpOr:
		return "OR"
	default:
		return "?"
	}
}

// UnaryOp is a unary operator; logical NOT is the only one.
type UnaryOp int

const OpNot UnaryOp = iota

// Expr is one node of an expression tree.
type Expr interface {
	String() string
	exprNode()
}

// Literal is a constant value.
type Literal struct {
	Value types.Value
}

// Column references a column by name; lookup is case-insensitive.
type Column struct {
	Name string
}

// Unary applies a unary operator to an operand.
type Unary struct {
	Op   UnaryOp
	Expr Expr
}

// Binary applies a binary operator to two operands. Both sides are
// always evaluated; there is no short-circuiting.
type Binary struct {
	Left  Expr
	Op    BinaryOp
	Right Expr
}

func (*Literal) exprNode() {}
func (*Column) exprNode()  {}
func (*Unary) exprNode()   {}
func (*Binary) exprNode()  {}

func (e *Literal) String() string {
	if e.Value.Type == types.TypeText && !e.Value.IsNull {
		return "'" + e.Value.Text + "'"
	}
	return e.Value.String()
}

func (e *Column) String() string { return e.Name }

func (e *Unary) String() string { return "NOT " + e.Expr.String() }

func (e *Binary) String() string {
	return e.Left.String() + " " + e.Op.String() + " " + e.Right.String()
}

// Eval evaluates e against a row whose columns are named by schema, in
// order.
func Eval(e Expr, row types.Row, schema []string) (types.Value, error) {
	switch node := e.(type) {
	case *Literal:
		return node.Value, nil

	case *Column:
		i, err := ResolveColumn(node.Name, schema)
		if err != nil {
			return types.Value{}, err
		}
		if i >= len(row.Values) {
			return types.Value{}, dberr.New(dberr.KindExecution, "column %q has no value in row of %d", node.Name, len(row.Values))
		}
		return row.Values[i], nil

	case *Unary:
		v, err := Eval(node.Expr, row, schema)
		if err != nil {
			return types.Value{}, err
		}
		if v.Type != types.TypeBool || v.IsNull {
			return types.Value{}, dberr.New(dberr.KindExecution, "NOT expects a boolean, got %s", v.Type)
		}
		return types.BoolValue(!v.Bool), nil

	case *Binary:
		lv, err := Eval(node.Left, row, schema)
		if err != nil {
			return types.Value{}, err
		}
		rv, err := Eval(node.Right, row, schema)
		if err != nil {
			return types.Value{}, err
		}
		return evalBinary(lv, node.Op, rv)

	default:
		return types.Value{}, dberr.New(dberr.KindExecution, "unsupported expression node %T", e)
	}
}

func evalBinary(l types.Value, op BinaryOp, r types.Value) (types.Value, error) {
	switch op {
	case OpAnd, OpOr:
		if l.Type != types.TypeBool || l.IsNull || r.Type != types.TypeBool || r.IsNull {
			return types.Value{}, dberr.New(dberr.KindExecution, "%s expects booleans, got %s and %s", op, l.Type, r.Type)
		}
		if op == OpAnd {
			return types.BoolValue(l.Bool && r.Bool), nil
		}
		return types.BoolValue(l.Bool || r.Bool), nil

	case OpEq, OpNe:
		eq, err := l.Equal(r)
		if err != nil {
			return types.Value{}, dberr.Wrap(dberr.KindExecution, err)
		}
		if op == OpEq {
			return types.BoolValue(eq), nil
		}
		// NULL compares unequal to everything, including NULL, but
		// != on a null operand is still not a match.
		if l.IsNull || r.IsNull {
			return types.BoolValue(false), nil
		}
		return types.BoolValue(!eq), nil

	default:
		less, err := l.Less(r)
		if err != nil {
			return types.Value{}, dberr.Wrap(dberr.KindExecution, err)
		}
		eq, err := l.Equal(r)
		if err != nil {
			return types.Value{}, dberr.Wrap(dberr.KindExecution, err)
		}
		switch op {
		case OpLt:
			return types.BoolValue(less), nil
		case OpLe:
			return types.BoolValue(less || eq), nil
		case OpGt:
			return types.BoolValue(!less && !eq), nil
		case OpGe:
			return types.BoolValue(!less), nil
		}
		return types.Value{}, dberr.New(dberr.KindExecution, "unsupported operator %s", op)
	}
}

// ResolveColumn finds the ordinal of name in schema. Matching is
// case-insensitive. An unqualified name also matches a qualified schema
// entry by its part after the dot, provided the match is unambiguous.
func ResolveColumn(name string, schema []string) (int, error) {
	for i, col := range schema {
		if strings.EqualFold(col, name) {
			return i, nil
		}
	}
	if !strings.Contains(name, ".") {
		found := -1
		for i, col := range schema {
			if dot := strings.LastIndexByte(col, '.'); dot >= 0 && strings.EqualFold(col[dot+1:], name) {
				if found >= 0 {
					return -1, dberr.New(dberr.KindExecution, "ambiguous column %q", name)
				}
				found = i
			}
		}
		if found >= 0 {
			return found, nil
		}
	}
	return -1, dberr.New(dberr.KindExecution, "unknown column %q", name)
}

// Truthy evaluates e and reports whether the result is boolean true.
// A non-boolean result is an evaluation error.
func Truthy(e Expr, row types.Row, schema []string) (bool, error) {
	v, err := Eval(e, row, schema)
	if err != nil {
		return false, err
	}
	if v.IsNull {
		return false, nil
	}
	if v.Type != types.TypeBool {
		return false, dberr.New(dberr.KindExecution, "predicate must be boolean, got %s", v.Type)
	}
	return v.Bool, nil
}

// Conjuncts splits a tree of top-level ANDs into its conjuncts.
func Conjuncts(e Expr) []Expr {
	if b, ok := e.(*Binary); ok && b.Op == OpAnd {
		return append(Conjuncts(b.Left), Conjuncts(b.Right)...)
	}
	return []Expr{e}
}

// Conjoin rebuilds a conjunction from its parts; nil for an empty list.
func Conjoin(parts []Expr) Expr {
	if len(parts) == 0 {
		return nil
	}
	out := parts[0]
	for _, p := range parts[1:] {
		out = &Binary{Left: out, Op: OpAnd, Right: p}
	}
	return out
}

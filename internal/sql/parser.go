package sql

import (
	"fmt"
	"strconv"
	"strings"

	"minidb/internal/dberr"
	"minidb/internal/expr"
	"minidb/pkg/types"
)

// Parser parses SQL statements.
type Parser struct {
	lexer   *Lexer
	current Token
	peek    Token
	errors  []string
}

// NewParser creates a new parser.
func NewParser(input string) *Parser {
	p := &Parser{
		lexer: NewLexer(input),
	}
	// Load first two tokens
	p.nextToken()
	p.nextToken()
	return p
}

// Parse parses one SQL statement.
func Parse(input string) (Statement, error) {
	return NewParser(input).Parse()
}

func (p *Parser) nextToken() {
	p.current = p.peek
	p.peek = p.lexer.NextToken()
}

func (p *Parser) expect(t TokenType) bool {
	if p.current.Type == t {
		p.nextToken()
		return true
	}
	p.errorf("expected %s, got %s", t, p.current.Type)
	return false
}

func (p *Parser) errorf(format string, args ...interface{}) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

// Parse parses the input and returns a statement.
func (p *Parser) Parse() (Statement, error) {
	var stmt Statement

	switch p.current.Type {
	case TokenSelect:
		stmt = p.parseSelect()
	case TokenInsert:
		stmt = p.parseInsert()
	case TokenUpdate:
		stmt = p.parseUpdate()
	case TokenDelete:
		stmt = p.parseDelete()
	case TokenCreate:
		stmt = p.parseCreate()
	case TokenDrop:
		stmt = p.parseDrop()
	case TokenExplain:
		stmt = p.parseExplain()
	default:
		return nil, dberr.New(dberr.KindParse, "unexpected token: %s", p.current.Type)
	}

	if p.current.Type == TokenSemicolon {
		p.nextToken()
	}
	if p.current.Type != TokenEOF {
		p.errorf("unexpected trailing input at %s", p.current)
	}
	if len(p.errors) > 0 {
		return nil, dberr.New(dberr.KindParse, "parse error: %s", strings.Join(p.errors, "; "))
	}

	return stmt, nil
}

func (p *Parser) parseExplain() Statement {
	p.nextToken() // skip EXPLAIN

	stmt := &ExplainStmt{}
	if p.current.Type == TokenAnalyze {
		stmt.Analyze = true
		p.nextToken()
	}

	switch p.current.Type {
	case TokenSelect:
		stmt.Stmt = p.parseSelect()
	case TokenInsert:
		stmt.Stmt = p.parseInsert()
	case TokenUpdate:
		stmt.Stmt = p.parseUpdate()
	case TokenDelete:
		stmt.Stmt = p.parseDelete()
	default:
		p.errorf("EXPLAIN expects a query, got %s", p.current.Type)
		return nil
	}
	return stmt
}

func (p *Parser) parseSelect() *SelectStmt {
	stmt := &SelectStmt{}
	p.nextToken() // skip SELECT

	stmt.Columns = p.parseColumnList()

	if !p.expect(TokenFrom) {
		return nil
	}

	stmt.From = p.parseTableRef()

	for p.current.Type == TokenJoin || p.current.Type == TokenInner {
		if p.current.Type == TokenInner {
			p.nextToken()
		}
		if !p.expect(TokenJoin) {
			return nil
		}
		join := JoinClause{Table: p.parseTableRef()}
		if !p.expect(TokenOn) {
			return nil
		}
		join.Condition = p.parseExpr()
		stmt.Joins = append(stmt.Joins, join)
	}

	if p.current.Type == TokenWhere {
		p.nextToken()
		stmt.Where = p.parseExpr()
	}

	if p.current.Type == TokenOrder {
		p.nextToken()
		if !p.expect(TokenBy) {
			return nil
		}
		for {
			if p.current.Type != TokenIdent {
				p.errorf("expected column name in ORDER BY")
				return nil
			}
			term := OrderBy{Column: p.parseQualifiedName()}
			if p.current.Type == TokenAsc {
				p.nextToken()
			} else if p.current.Type == TokenDesc {
				term.Desc = true
				p.nextToken()
			}
			stmt.OrderBy = append(stmt.OrderBy, term)
			if p.current.Type != TokenComma {
				break
			}
			p.nextToken()
		}
	}

	if p.current.Type == TokenLimit {
		p.nextToken()
		if n, ok := p.parseInt("LIMIT"); ok {
			stmt.Limit = &n
		}
	}
	if p.current.Type == TokenOffset {
		p.nextToken()
		if n, ok := p.parseInt("OFFSET"); ok {
			stmt.Offset = &n
		}
	}

	return stmt
}

func (p *Parser) parseInt(clause string) (int64, bool) {
	if p.current.Type != TokenNumber {
		p.errorf("expected number after %s", clause)
		return 0, false
	}
	n, err := strconv.ParseInt(p.current.Literal, 10, 64)
	if err != nil || n < 0 {
		p.errorf("invalid %s value %q", clause, p.current.Literal)
		return 0, false
	}
	p.nextToken()
	return n, true
}

func (p *Parser) parseTableRef() TableRef {
	ref := TableRef{}
	if p.current.Type != TokenIdent {
		p.errorf("expected table name, got %s", p.current.Type)
		return ref
	}
	ref.Name = p.current.Literal
	p.nextToken()

	if p.current.Type == TokenAs {
		p.nextToken()
	}
	if p.current.Type == TokenIdent {
		ref.Alias = p.current.Literal
		p.nextToken()
	}
	return ref
}

func (p *Parser) parseInsert() *InsertStmt {
	stmt := &InsertStmt{}
	p.nextToken() // skip INSERT

	if !p.expect(TokenInto) {
		return nil
	}

	if p.current.Type != TokenIdent {
		p.errorf("expected table name")
		return nil
	}
	stmt.TableName = p.current.Literal
	p.nextToken()

	// Optional column list
	if p.current.Type == TokenLParen {
		p.nextToken()
		for p.current.Type == TokenIdent {
			stmt.Columns = append(stmt.Columns, p.current.Literal)
			p.nextToken()
			if p.current.Type == TokenComma {
				p.nextToken()
			}
		}
		if !p.expect(TokenRParen) {
			return nil
		}
	}

	if !p.expect(TokenValues) {
		return nil
	}
	if !p.expect(TokenLParen) {
		return nil
	}

	for p.current.Type != TokenRParen && p.current.Type != TokenEOF {
		e := p.parseExpr()
		if e != nil {
			stmt.Values = append(stmt.Values, e)
		}
		if p.current.Type == TokenComma {
			p.nextToken()
		}
	}

	p.expect(TokenRParen)

	return stmt
}

func (p *Parser) parseUpdate() *UpdateStmt {
	stmt := &UpdateStmt{}
	p.nextToken() // skip UPDATE

	if p.current.Type != TokenIdent {
		p.errorf("expected table name")
		return nil
	}
	stmt.TableName = p.current.Literal
	p.nextToken()

	if !p.expect(TokenSet) {
		return nil
	}

	for {
		if p.current.Type != TokenIdent {
			break
		}
		column := p.current.Literal
		p.nextToken()

		if !p.expect(TokenEq) {
			return nil
		}

		stmt.Set = append(stmt.Set, Assignment{Column: column, Value: p.parseExpr()})

		if p.current.Type != TokenComma {
			break
		}
		p.nextToken()
	}
	if len(stmt.Set) == 0 {
		p.errorf("UPDATE requires at least one assignment")
		return nil
	}

	if p.current.Type == TokenWhere {
		p.nextToken()
		stmt.Where = p.parseExpr()
	}

	return stmt
}

func (p *Parser) parseDelete() *DeleteStmt {
	stmt := &DeleteStmt{}
	p.nextToken() // skip DELETE

	if !p.expect(TokenFrom) {
		return nil
	}

	if p.current.Type != TokenIdent {
		p.errorf("expected table name")
		return nil
	}
	stmt.TableName = p.current.Literal
	p.nextToken()

	if p.current.Type == TokenWhere {
		p.nextToken()
		stmt.Where = p.parseExpr()
	}

	return stmt
}

func (p *Parser) parseCreate() Statement {
	p.nextToken() // skip CREATE
	switch p.current.Type {
	case TokenTable:
		return p.parseCreateTable()
	case TokenIndex:
		return p.parseCreateIndex()
	default:
		p.errorf("expected TABLE or INDEX after CREATE, got %s", p.current.Type)
		return nil
	}
}

func (p *Parser) parseDrop() Statement {
	p.nextToken() // skip DROP
	switch p.current.Type {
	case TokenTable:
		p.nextToken()
		if p.current.Type != TokenIdent {
			p.errorf("expected table name")
			return nil
		}
		stmt := &DropTableStmt{TableName: p.current.Literal}
		p.nextToken()
		return stmt
	case TokenIndex:
		p.nextToken()
		if p.current.Type != TokenIdent {
			p.errorf("expected index name")
			return nil
		}
		stmt := &DropIndexStmt{IndexName: p.current.Literal}
		p.nextToken()
		if !p.expect(TokenOn) {
			return nil
		}
		if p.current.Type != TokenIdent {
			p.errorf("expected table name")
			return nil
		}
		stmt.TableName = p.current.Literal
		p.nextToken()
		return stmt
	default:
		p.errorf("expected TABLE or INDEX after DROP, got %s", p.current.Type)
		return nil
	}
}

func (p *Parser) parseCreateTable() *CreateTableStmt {
	stmt := &CreateTableStmt{}
	p.nextToken() // skip TABLE

	if p.current.Type != TokenIdent {
		p.errorf("expected table name")
		return nil
	}
	stmt.TableName = p.current.Literal
	p.nextToken()

	if !p.expect(TokenLParen) {
		return nil
	}

	for p.current.Type != TokenRParen && p.current.Type != TokenEOF {
		// Table-level PRIMARY KEY (a, b) clause.
		if p.current.Type == TokenPrimary {
			p.nextToken()
			if !p.expect(TokenKey) {
				return nil
			}
			if !p.expect(TokenLParen) {
				return nil
			}
			for p.current.Type == TokenIdent {
				ord := columnOrdinal(stmt.Columns, p.current.Literal)
				if ord < 0 {
					p.errorf("PRIMARY KEY names unknown column %q", p.current.Literal)
					return nil
				}
				stmt.PrimaryKey = append(stmt.PrimaryKey, ord)
				p.nextToken()
				if p.current.Type == TokenComma {
					p.nextToken()
				}
			}
			if !p.expect(TokenRParen) {
				return nil
			}
		} else {
			colDef, isPK := p.parseColumnDef()
			if colDef == nil {
				return nil
			}
			if isPK {
				stmt.PrimaryKey = append(stmt.PrimaryKey, len(stmt.Columns))
			}
			stmt.Columns = append(stmt.Columns, *colDef)
		}

		if p.current.Type == TokenComma {
			p.nextToken()
		}
	}

	p.expect(TokenRParen)

	return stmt
}

func (p *Parser) parseColumnDef() (*ColumnDef, bool) {
	if p.current.Type != TokenIdent {
		p.errorf("expected column name")
		return nil, false
	}

	col := &ColumnDef{
		Name:     p.current.Literal,
		Nullable: true,
	}
	p.nextToken()

	switch p.current.Type {
	case TokenInt:
		col.Type = types.TypeInt
	case TokenText:
		col.Type = types.TypeText
	case TokenBool:
		col.Type = types.TypeBool
	default:
		p.errorf("expected type, got %s", p.current.Type)
		return nil, false
	}
	p.nextToken()

	isPK := false
	for {
		switch p.current.Type {
		case TokenNot:
			p.nextToken()
			if !p.expect(TokenNull) {
				return nil, false
			}
			col.Nullable = false
		case TokenPrimary:
			p.nextToken()
			if !p.expect(TokenKey) {
				return nil, false
			}
			isPK = true
			col.Nullable = false
		default:
			return col, isPK
		}
	}
}

func (p *Parser) parseCreateIndex() *CreateIndexStmt {
	stmt := &CreateIndexStmt{}
	p.nextToken() // skip INDEX

	if p.current.Type != TokenIdent {
		p.errorf("expected index name")
		return nil
	}
	stmt.IndexName = p.current.Literal
	p.nextToken()

	if !p.expect(TokenOn) {
		return nil
	}

	if p.current.Type != TokenIdent {
		p.errorf("expected table name")
		return nil
	}
	stmt.TableName = p.current.Literal
	p.nextToken()

	if !p.expect(TokenLParen) {
		return nil
	}
	if p.current.Type != TokenIdent {
		p.errorf("expected column name")
		return nil
	}
	stmt.Column = p.current.Literal
	p.nextToken()
	if !p.expect(TokenRParen) {
		return nil
	}

	if p.current.Type == TokenUsing {
		p.nextToken()
		if p.current.Type != TokenIdent {
			p.errorf("expected index type after USING")
			return nil
		}
		switch strings.ToLower(p.current.Literal) {
		case "btree":
			stmt.Type = IndexBTree
		case "hash":
			stmt.Type = IndexHash
		default:
			p.errorf("unknown index type %q", p.current.Literal)
			return nil
		}
		p.nextToken()
	}

	return stmt
}

func (p *Parser) parseColumnList() []string {
	var columns []string

	if p.current.Type == TokenStar {
		columns = append(columns, "*")
		p.nextToken()
		return columns
	}

	for p.current.Type == TokenIdent {
		columns = append(columns, p.parseQualifiedName())

		if p.current.Type == TokenComma {
			p.nextToken()
		} else {
			break
		}
	}

	return columns
}

// parseQualifiedName reads an identifier, possibly qualified as
// alias.column. Caller guarantees the current token is an identifier.
func (p *Parser) parseQualifiedName() string {
	name := p.current.Literal
	p.nextToken()
	if p.current.Type == TokenDot {
		p.nextToken()
		if p.current.Type != TokenIdent {
			p.errorf("expected column name after %q.", name)
			return name
		}
		name = name + "." + p.current.Literal
		p.nextToken()
	}
	return name
}

func (p *Parser) parseExpr() expr.Expr {
	return p.parseOrExpr()
}

func (p *Parser) parseOrExpr() expr.Expr {
	left := p.parseAndExpr()

	for p.current.Type == TokenOr {
		p.nextToken()
		right := p.parseAndExpr()
		left = &expr.Binary{Left: left, Op: expr.OpOr, Right: right}
	}

	return left
}

func (p *Parser) parseAndExpr() expr.Expr {
	left := p.parseNotExpr()

	for p.current.Type == TokenAnd {
		p.nextToken()
		right := p.parseNotExpr()
		left = &expr.Binary{Left: left, Op: expr.OpAnd, Right: right}
	}

	return left
}

func (p *Parser) parseNotExpr() expr.Expr {
	if p.current.Type == TokenNot {
		p.nextToken()
		return &expr.Unary{Op: expr.OpNot, Expr: p.parseNotExpr()}
	}
	return p.parseCompareExpr()
}

var compareOps = map[TokenType]expr.BinaryOp{
	TokenEq: expr.OpEq,
	TokenNe: expr.OpNe,
	TokenLt: expr.OpLt,
	TokenLe: expr.OpLe,
	TokenGt: expr.OpGt,
	TokenGe: expr.OpGe,
}

func (p *Parser) parseCompareExpr() expr.Expr {
	left := p.parsePrimaryExpr()

	if op, ok := compareOps[p.current.Type]; ok {
		p.nextToken()
		right := p.parsePrimaryExpr()
		return &expr.Binary{Left: left, Op: op, Right: right}
	}

	return left
}

func (p *Parser) parsePrimaryExpr() expr.Expr {
	switch p.current.Type {
	case TokenIdent:
		return &expr.Column{Name: p.parseQualifiedName()}

	case TokenNumber:
		val, err := strconv.ParseInt(p.current.Literal, 10, 64)
		if err != nil {
			p.errorf("invalid number %q", p.current.Literal)
		}
		p.nextToken()
		return &expr.Literal{Value: types.IntValue(val)}

	case TokenString:
		e := &expr.Literal{Value: types.TextValue(p.current.Literal)}
		p.nextToken()
		return e

	case TokenTrue:
		p.nextToken()
		return &expr.Literal{Value: types.BoolValue(true)}

	case TokenFalse:
		p.nextToken()
		return &expr.Literal{Value: types.BoolValue(false)}

	case TokenNull:
		p.nextToken()
		return &expr.Literal{Value: types.NullValue()}

	case TokenLParen:
		p.nextToken()
		e := p.parseExpr()
		p.expect(TokenRParen)
		return e
	}

	p.errorf("unexpected token in expression: %s", p.current.Type)
	p.nextToken()
	return nil
}

func columnOrdinal(cols []ColumnDef, name string) int {
	for i, c := range cols {
		if strings.EqualFold(c.Name, name) {
			return i
		}
	}
	return -1
}

// Package replication is the seam between the consensus layer and the
// kernel: a command log whose committed entries are applied, in index
// order, through the same heap, catalog, and index operations the
// executor uses.
package replication

import (
	"fmt"

	"minidb/internal/catalog"
	"minidb/pkg/types"
)

// CommandType discriminates replicated commands.
type CommandType uint8

const (
	// CmdExecuteSQL carries an opaque SQL string through the full
	// parse-plan-execute path.
	CmdExecuteSQL CommandType = iota + 1
	CmdCreateTable
	CmdDropTable
	CmdInsert
	CmdUpdate
	CmdDelete
)

func (t CommandType) String() string {
	switch t {
	case CmdExecuteSQL:
		return "execute-sql"
	case CmdCreateTable:
		return "create-table"
	case CmdDropTable:
		return "drop-table"
	case CmdInsert:
		return "insert"
	case CmdUpdate:
		return "update"
	case CmdDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Command is one replicated operation.
//
// Field usage by type:
//
//	ExecuteSQL:   SQL
//	CreateTable:  Name, Columns, PrimaryKey
//	DropTable:    TableID
//	Insert:       TableID, Row
//	Update:       TableID, RID, Row
//	Delete:       TableID, RID
type Command struct {
	Type CommandType

	SQL string

	Name       string
	Columns    []catalog.ColumnDef
	PrimaryKey []int

	TableID types.TableID
	RID     types.RecordID
	Row     types.Row
}

func (c Command) String() string {
	switch c.Type {
	case CmdExecuteSQL:
		return fmt.Sprintf("Command{%s %q}", c.Type, c.SQL)
	case CmdCreateTable:
		return fmt.Sprintf("Command{%s %q}", c.Type, c.Name)
	default:
		return fmt.Sprintf("Command{%s table=%d}", c.Type, c.TableID)
	}
}

// Response is the outcome of applying one command.
type Response struct {
	OK      bool
	Message string
}

// Applier is the kernel-side apply callback. Applying a command never
// goes back through the SQL parser unless the command itself is an
// opaque SQL string.
type Applier interface {
	Apply(cmd Command) Response
}

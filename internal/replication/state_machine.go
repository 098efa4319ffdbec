package replication

import (
	"minidb/internal/engine"
)

// StateMachine adapts a database to the Applier contract. Every
// command resolves to kernel operations that still produce WAL
// records, so a replica's log replay and a leader's direct execution
// converge on the same state.
type StateMachine struct {
	db *engine.Database
}

// NewStateMachine wraps a database for command application.
func NewStateMachine(db *engine.Database) *StateMachine {
	return &StateMachine{db: db}
}

// Apply executes one committed command against the kernel.
func (sm *StateMachine) Apply(cmd Command) Response {
	var err error
	switch cmd.Type {
	case CmdExecuteSQL:
		_, err = sm.db.Execute(cmd.SQL)
	case CmdCreateTable:
		err = sm.db.ApplyCreateTable(cmd.Name, cmd.Columns, cmd.PrimaryKey)
	case CmdDropTable:
		err = sm.db.ApplyDropTable(cmd.TableID)
	case CmdInsert:
		err = sm.db.ApplyInsert(cmd.TableID, cmd.Row)
	case CmdUpdate:
		err = sm.db.ApplyUpdate(cmd.TableID, cmd.RID, cmd.Row)
	case CmdDelete:
		err = sm.db.ApplyDelete(cmd.TableID, cmd.RID)
	default:
		return Response{OK: false, Message: "unknown command type"}
	}
	if err != nil {
		return Response{OK: false, Message: err.Error()}
	}
	return Response{OK: true}
}

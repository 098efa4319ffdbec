package replication

import (
	"sync"

	"minidb/internal/dberr"
)

// NodeID identifies one node in a cluster.
type NodeID uint64

// Config describes this node's place in the cluster.
type Config struct {
	NodeID NodeID
	// Peers maps the other voters to their addresses. Empty means
	// single-node mode, where this node is its own sole voter and
	// reaches a quorum trivially.
	Peers map[NodeID]string
}

// SingleNode returns a configuration for a standalone voter.
func SingleNode(id NodeID) Config {
	return Config{NodeID: id}
}

// Entry is one committed command with its log index.
type Entry struct {
	Index   uint64
	Command Command
}

// Log is the command log. In single-node mode a proposed command
// commits immediately and is applied synchronously; the apply callback
// is invoked in log-index order on every committed entry. Multi-node
// ordering belongs to the consensus transport, which is outside this
// seam.
type Log struct {
	mu      sync.Mutex
	cfg     Config
	applier Applier

	entries     []Entry
	lastApplied uint64
}

// NewLog creates a command log that applies committed entries through
// the given applier.
func NewLog(cfg Config, applier Applier) *Log {
	return &Log{cfg: cfg, applier: applier}
}

// Propose submits a command. In single-node mode it commits and
// applies before returning.
func (l *Log) Propose(cmd Command) (Response, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.cfg.Peers) > 0 {
		return Response{}, dberr.New(dberr.KindExecution, "multi-node replication requires a consensus transport")
	}

	entry := Entry{Index: uint64(len(l.entries)) + 1, Command: cmd}
	l.entries = append(l.entries, entry)

	resp := l.applier.Apply(entry.Command)
	l.lastApplied = entry.Index
	return resp, nil
}

// LastApplied returns the index of the last applied entry.
func (l *Log) LastApplied() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastApplied
}

// Entries returns a copy of the committed log.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Entry{}, l.entries...)
}

// Package server exposes the database over TCP, one goroutine per
// connection, speaking the framed wire protocol.
package server

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"minidb/internal/engine"
	"minidb/internal/wire"
)

// Server accepts client connections and executes their statements
// against one database.
type Server struct {
	db       *engine.Database
	listener net.Listener

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// Listen starts a server on addr.
func Listen(addr string, db *engine.Database) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	return &Server{db: db, listener: listener}, nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() string { return s.listener.Addr().String() }

// Serve accepts connections until Close. Each connection is served by
// its own goroutine; the kernel's statement lock serializes their
// statements.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return nil
			}
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(conn)
		}()
	}
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()

	for {
		var req wire.Request
		if err := wire.ReadMessage(conn, &req); err != nil {
			// Disconnects are transport-level and do not round-trip.
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return
			}
			wire.WriteMessage(conn, wire.ErrorResponse(err))
			return
		}

		switch req.Kind {
		case wire.RequestClose:
			return
		case wire.RequestExecute:
			resp := s.execute(req.SQL)
			if err := wire.WriteMessage(conn, resp); err != nil {
				return
			}
		default:
			resp := wire.Response{Kind: wire.ResponseError, Code: "Unknown", Message: fmt.Sprintf("unknown request kind %q", req.Kind)}
			if err := wire.WriteMessage(conn, resp); err != nil {
				return
			}
		}
	}
}

func (s *Server) execute(sqlText string) wire.Response {
	result, err := s.db.Execute(sqlText)
	if err != nil {
		return wire.ErrorResponse(err)
	}
	switch result.Kind {
	case engine.ResultRows:
		return wire.Response{
			Kind:   wire.ResponseRows,
			Schema: result.Columns,
			Rows:   wire.EncodeRows(result.Rows),
		}
	case engine.ResultCount:
		return wire.Response{Kind: wire.ResponseCount, Affected: result.Affected}
	default:
		return wire.Response{Kind: wire.ResponseEmpty}
	}
}

// Close stops accepting and waits for in-flight connections.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	err := s.listener.Close()
	s.wg.Wait()
	return err
}

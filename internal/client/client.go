// Package client is a minimal client for the framed wire protocol.
package client

import (
	"fmt"
	"net"

	"minidb/internal/wire"
)

// Client holds one connection to a server.
type Client struct {
	conn net.Conn
}

// Dial connects to a server at addr.
func Dial(addr string) (*Client, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// Execute sends one SQL statement and reads its response.
func (c *Client) Execute(sqlText string) (*wire.Response, error) {
	req := wire.Request{Kind: wire.RequestExecute, SQL: sqlText}
	if err := wire.WriteMessage(c.conn, req); err != nil {
		return nil, err
	}
	var resp wire.Response
	if err := wire.ReadMessage(c.conn, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Close tells the server the session is done and closes the
// connection.
func (c *Client) Close() error {
	wire.WriteMessage(c.conn, wire.Request{Kind: wire.RequestClose})
	return c.conn.Close()
}

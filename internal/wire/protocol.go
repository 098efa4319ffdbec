// Package wire implements the client-server protocol: length-prefixed
// frames carrying self-describing JSON messages.
package wire

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"minidb/internal/dberr"
	"minidb/pkg/types"
)

// MaxFrameSize bounds a single message; larger frames fail with an
// I/O error on both ends.
const MaxFrameSize = 64 * 1024 * 1024

// Request kinds.
const (
	RequestExecute = "execute"
	RequestClose   = "close"
)

// Request is a client-to-server message.
type Request struct {
	Kind string `json:"kind"`
	SQL  string `json:"sql,omitempty"`
}

// Response kinds.
const (
	ResponseRows  = "rows"
	ResponseCount = "count"
	ResponseEmpty = "empty"
	ResponseError = "error"
)

// Value is the wire form of one scalar.
type Value struct {
	Type string  `json:"type"`
	Int  *int64  `json:"int,omitempty"`
	Text *string `json:"text,omitempty"`
	Bool *bool   `json:"bool,omitempty"`
}

// Response is a server-to-client message.
type Response struct {
	Kind     string    `json:"kind"`
	Schema   []string  `json:"schema,omitempty"`
	Rows     [][]Value `json:"rows,omitempty"`
	Affected uint64    `json:"affected,omitempty"`
	Code     string    `json:"code,omitempty"`
	Message  string    `json:"message,omitempty"`
}

// EncodeValue converts a kernel value to its wire form.
func EncodeValue(v types.Value) Value {
	if v.IsNull {
		return Value{Type: "null"}
	}
	switch v.Type {
	case types.TypeInt:
		n := v.Int
		return Value{Type: "int", Int: &n}
	case types.TypeText:
		s := v.Text
		return Value{Type: "text", Text: &s}
	case types.TypeBool:
		b := v.Bool
		return Value{Type: "bool", Bool: &b}
	default:
		return Value{Type: "null"}
	}
}

// DecodeValue converts a wire value back to a kernel value.
func DecodeValue(v Value) (types.Value, error) {
	switch v.Type {
	case "null":
		return types.NullValue(), nil
	case "int":
		if v.Int == nil {
			return types.Value{}, fmt.Errorf("int value missing payload")
		}
		return types.IntValue(*v.Int), nil
	case "text":
		if v.Text == nil {
			return types.Value{}, fmt.Errorf("text value missing payload")
		}
		return types.TextValue(*v.Text), nil
	case "bool":
		if v.Bool == nil {
			return types.Value{}, fmt.Errorf("bool value missing payload")
		}
		return types.BoolValue(*v.Bool), nil
	default:
		return types.Value{}, fmt.Errorf("unknown value type %q", v.Type)
	}
}

// EncodeRows converts kernel rows to wire rows.
func EncodeRows(rows []types.Row) [][]Value {
	out := make([][]Value, len(rows))
	for i, row := range rows {
		encoded := make([]Value, len(row.Values))
		for j, v := range row.Values {
			encoded[j] = EncodeValue(v)
		}
		out[i] = encoded
	}
	return out
}

// DecodeRows converts wire rows back to kernel rows.
func DecodeRows(rows [][]Value) ([]types.Row, error) {
	out := make([]types.Row, len(rows))
	for i, row := range rows {
		values := make([]types.Value, len(row))
		for j, v := range row {
			decoded, err := DecodeValue(v)
			if err != nil {
				return nil, err
			}
			values[j] = decoded
		}
		out[i] = types.Row{Values: values}
	}
	return out, nil
}

// ErrorResponse maps an error to its wire code and message.
func ErrorResponse(err error) Response {
	return Response{
		Kind:    ResponseError,
		Code:    dberr.KindOf(err).String(),
		Message: err.Error(),
	}
}

// WriteMessage frames and writes one message: a 32-bit little-endian
// payload length followed by the JSON payload.
func WriteMessage(w io.Writer, message interface{}) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("message too large: %d bytes (max %d)", len(payload), MaxFrameSize)
	}

	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

// ReadMessage reads one framed message into out.
func ReadMessage(r io.Reader, out interface{}) error {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return err
	}
	length := binary.LittleEndian.Uint32(lenBuf[:])
	if length > MaxFrameSize {
		return fmt.Errorf("message too large: %d bytes (max %d)", length, MaxFrameSize)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return err
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	return nil
}

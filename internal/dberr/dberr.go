// Package dberr tags errors with the category the wire protocol reports.
package dberr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for protocol reporting.
type Kind int

const (
	KindUnknown Kind = iota
	KindParse
	KindPlan
	KindExecution
	KindCatalog
	KindStorage
	KindWal
	KindConstraint
	KindIo
)

func (k Kind) String() string {
	switch k {
	case KindParse:
		return "ParseError"
	case KindPlan:
		return "PlanError"
	case KindExecution:
		return "ExecutionError"
	case KindCatalog:
		return "CatalogError"
	case KindStorage:
		return "StorageError"
	case KindWal:
		return "WalError"
	case KindConstraint:
		return "ConstraintViolation"
	case KindIo:
		return "IoError"
	default:
		return "Unknown"
	}
}

// Error is an error with a protocol category attached.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }

// New creates a categorized error from a format string.
func New(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Wrap attaches a category to err. A nil err returns nil. If err already
// carries a category it is preserved.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return err
	}
	return &Error{Kind: kind, Err: err}
}

// KindOf returns the category of err, or KindUnknown if none is attached.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUnknown
}

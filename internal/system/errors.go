package system

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// ErrorKind classifies failures so callers can tell which part of a workflow broke
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindIO
	KindFormat
	KindMount
	KindUnmount
	KindState
	KindUsage
)

func (k ErrorKind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindFormat:
		return "format"
	case KindMount:
		return "mount"
	case KindUnmount:
		return "unmount"
	case KindState:
		return "state"
	case KindUsage:
		return "usage"
	default:
		return "unknown"
	}
}

// Error is a classified failure of a single operation on a path
type Error struct {
	Kind ErrorKind
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with a kind, operation and path
func NewError(kind ErrorKind, op, path string, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

// KindOf returns the kind of the outermost classified error in err's chain
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsOutOfSpace reports whether err was caused by ENOSPC
func IsOutOfSpace(err error) bool {
	return errors.Is(err, unix.ENOSPC)
}

package domain

import (
	"errors"
	"fmt"
)

// ErrorKind tells the caller whether a failure is recoverable for the run.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindConfiguration
	KindCollection
	KindResolution
	KindDispatch
	KindPersistence
	KindScheduler
)

func (k ErrorKind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindCollection:
		return "collection"
	case KindResolution:
		return "resolution"
	case KindDispatch:
		return "dispatch"
	case KindPersistence:
		return "persistence"
	case KindScheduler:
		return "scheduler"
	default:
		return "unknown"
	}
}

type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s error", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// E wraps err with a kind. A nil err stays nil.
func E(kind ErrorKind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the outermost *Error in the chain.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Fatal reports whether err must stop the process.
func Fatal(err error) bool {
	return KindOf(err) == KindConfiguration
}

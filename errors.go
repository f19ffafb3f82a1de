package inkdex

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zeebo/errs"

	"github.com/hupe1980/inkdex/internal/storeerr"
)

var (
	// ErrCorruptFormat is returned when a persisted structure fails validation.
	ErrCorruptFormat = errors.New("corrupt format")
	// ErrPrecondition is returned for arguments an operation cannot accept.
	ErrPrecondition = errors.New("precondition violation")
	// ErrIO is returned when the file system fails.
	ErrIO = errors.New("io failure")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("index closed")
	// ErrInvalidQuery is returned for queries that cannot be planned.
	ErrInvalidQuery = errors.New("invalid query")
	// ErrNoDocuments is returned by document operations on an index opened
	// WithoutDocuments.
	ErrNoDocuments = errors.New("index has no document store")
)

// ErrInvalidPattern indicates a wildcard term that does not compile.
//
// It matches ErrInvalidQuery with errors.Is; the compile error is available
// via errors.Unwrap.
type ErrInvalidPattern struct {
	Pattern string
	cause   error
}

func (e *ErrInvalidPattern) Error() string {
	return fmt.Sprintf("invalid wildcard pattern %q", e.Pattern)
}

func (e *ErrInvalidPattern) Unwrap() error { return e.cause }

func (e *ErrInvalidPattern) Is(target error) bool { return target == ErrInvalidQuery }

// classError carries a public sentinel next to the classified storage error.
// Its message drops the class prefix that would repeat the sentinel text.
type classError struct {
	sentinel error
	class    errs.Class
	err      error
}

func (e *classError) Error() string {
	msg := strings.TrimPrefix(e.err.Error(), string(e.class)+": ")
	return e.sentinel.Error() + ": " + msg
}

func (e *classError) Unwrap() []error { return []error{e.sentinel, e.err} }

func translateError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case storeerr.Corrupt.Has(err):
		return &classError{sentinel: ErrCorruptFormat, class: storeerr.Corrupt, err: err}
	case storeerr.Precondition.Has(err):
		return &classError{sentinel: ErrPrecondition, class: storeerr.Precondition, err: err}
	case storeerr.Closed.Has(err):
		return &classError{sentinel: ErrClosed, class: storeerr.Closed, err: err}
	case storeerr.IO.Has(err):
		return &classError{sentinel: ErrIO, class: storeerr.IO, err: err}
	}
	return err
}

package mexc

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a FetchError.
type ErrorKind string

const (
	KindNetwork      ErrorKind = "network"
	KindStatus       ErrorKind = "status"
	KindMalformed    ErrorKind = "malformed"
	KindInsufficient ErrorKind = "insufficient"
)

// FetchError is returned for every failed exchange call. Callers treat it as
// "no data this time", never as fatal.
type FetchError struct {
	Op         string
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	switch {
	case e.Kind == KindStatus:
		return fmt.Sprintf("mexc %s: unexpected status %d", e.Op, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("mexc %s: %s: %v", e.Op, e.Kind, e.Err)
	default:
		return fmt.Sprintf("mexc %s: %s", e.Op, e.Kind)
	}
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsFetchError reports whether err is (or wraps) a FetchError.
func IsFetchError(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}

func fetchErr(op string, kind ErrorKind, err error) *FetchError {
	return &FetchError{Op: op, Kind: kind, Err: err}
}

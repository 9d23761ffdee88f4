package hostcfg

import (
	"errors"
	"fmt"
)

var (
	// ErrHostNotFound indicates the requested alias has no entry in the
	// host table and no hostname override was supplied.
	ErrHostNotFound = errors.New("host alias not found")

	// ErrNoHostname indicates resolution produced an empty hostname.
	ErrNoHostname = errors.New("no hostname resolved")
)

// ParseError reports a malformed host configuration file.
type ParseError struct {
	Path string
	Err  error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("parse host config %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *ParseError) Unwrap() error {
	return e.Err
}

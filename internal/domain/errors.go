package domain

import (
	"fmt"
	"net/url"
)

// ConnectError reports that a source could not be opened
type ConnectError struct {
	// Address is the connection string with any password redacted
	Address string
	Err     error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Address, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// NewConnectError builds a ConnectError, redacting credentials from connString
func NewConnectError(connString string, err error) *ConnectError {
	return &ConnectError{Address: RedactAddress(connString), Err: err}
}

// ReadError reports that an open stream stopped yielding frames
type ReadError struct {
	Err error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read frame: %v", e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

// ProcessingError reports a frame that cannot be rendered
type ProcessingError struct {
	Reason string
}

func (e *ProcessingError) Error() string {
	return "process frame: " + e.Reason
}

// RedactAddress hides the password of a URL-shaped connection string.
// Strings that do not parse as URLs are returned unchanged.
func RedactAddress(connString string) string {
	u, err := url.Parse(connString)
	if err != nil || u.User == nil {
		return connString
	}
	return u.Redacted()
}

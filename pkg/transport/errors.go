package transport

import (
	"errors"
	"fmt"
	"net"
)

var (
	ErrNotConnected     = errors.New("secure connection is not connected")
	ErrAlreadyConnected = errors.New("secure connection is already connected")
	ErrClosed           = errors.New("secure connection is closed")
)

// ResolutionError means the name lookup failed outright or gave no usable addresses.
type ResolutionError struct {
	Host string
	Port string
	Err  error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("cannot resolve %s: %v", net.JoinHostPort(e.Host, e.Port), e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// ConnectError means every candidate address was tried and none accepted a connection.
// Err holds each attempt's failure, combined.
type ConnectError struct {
	Attempts int
	Err      error
}

func (e *ConnectError) Error() string {
	if e.Err == nil {
		return "failed to connect to a host"
	}
	return fmt.Sprintf("failed to connect to a host (%d attempts): %v", e.Attempts, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// TLSError means the TLS context couldn't be built or the handshake failed.
type TLSError struct {
	Err error
}

func (e *TLSError) Error() string {
	return fmt.Sprintf("TLS error: %v", e.Err)
}

func (e *TLSError) Unwrap() error { return e.Err }

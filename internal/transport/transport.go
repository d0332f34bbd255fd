// internal/transport/transport.go
package transport

import (
	"io"
	"time"
)

// LineTransport is the line-oriented serial contract the protocol driver and
// the discovery scanner speak through. One connection alive per transport;
// ownership transfers only via explicit close-then-reopen.
type LineTransport interface {
	// Open acquires the serial port. Idempotent after failure: a partially
	// opened handle is released on every exit path.
	Open() error

	// WriteLine appends the command terminator and drains the OS buffer
	// before returning.
	WriteLine(text string) error

	// ReadLine blocks until a full line terminator arrives or the timeout
	// elapses. The returned line has CR/LF stripped.
	ReadLine(timeout time.Duration) (string, error)

	// Close releases the OS handle. Safe to call multiple times.
	Close() error

	// IsOpen reports whether a connection is currently held.
	IsOpen() bool

	// PortName returns the device name this transport is bound to.
	PortName() string
}

// port is the subset of the serial port surface the transport uses. Kept
// narrow so tests can substitute an in-memory implementation.
type port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	Drain() error
}

// opener opens a raw serial port at the given baud rate. The production
// opener talks to the OS; transport tests inject their own.
type opener func(name string, baudRate int) (port, error)

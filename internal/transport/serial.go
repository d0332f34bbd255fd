// internal/transport/serial.go
package transport

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"psu-service/internal/instrument"
)

const (
	// commandTerminator ends every command sent to the instrument.
	commandTerminator = "\r"

	// responseTerminator ends every reply line from the instrument.
	responseTerminator = '\n'

	// readTick is the per-Read timeout inside the ReadLine loop. The serial
	// layer returns (0, nil) when this elapses without data, which lets the
	// loop check the outer deadline instead of blocking on a dead port.
	readTick = 50 * time.Millisecond

	// maxLineLength caps the accumulated reply. No DCS reply comes near this;
	// only a babbling device can reach it.
	maxLineLength = 4096
)

// Config holds the serial connection parameters. Read deadlines are per
// operation; ReadLine takes its timeout from the caller.
type Config struct {
	Port     string
	BaudRate int
}

// SerialTransport owns a single serial connection and exposes line-oriented
// send/receive over it.
type SerialTransport struct {
	config Config
	logger *zap.Logger
	open   opener

	mutex  sync.Mutex
	port   port
	isOpen bool
}

// New creates a transport bound to the configured port. No OS handle is
// acquired until Open.
func New(config Config, logger *zap.Logger) *SerialTransport {
	return &SerialTransport{
		config: config,
		logger: logger.With(
			zap.String("transport", "serial"),
			zap.String("port", config.Port),
		),
		open: openSystemPort,
	}
}

// openSystemPort opens a real OS serial port: 8N1, hardware flow control
// disabled.
func openSystemPort(name string, baudRate int) (port, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	p, err := serial.Open(name, mode)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Open acquires the serial port. Failures classify to ErrPortUnavailable or
// ErrPortAccessDenied; a partially opened handle never leaks.
func (st *SerialTransport) Open() error {
	st.mutex.Lock()
	defer st.mutex.Unlock()

	if st.isOpen {
		return nil
	}

	st.logger.Debug("Opening serial port",
		zap.Int("baud_rate", st.config.BaudRate),
	)

	p, err := st.open(st.config.Port, st.config.BaudRate)
	if err != nil {
		st.logger.Debug("Failed to open serial port", zap.Error(err))
		return instrument.ClassifyOpenError(st.config.Port, err)
	}

	if err := p.SetReadTimeout(readTick); err != nil {
		p.Close()
		return instrument.ClassifyOpenError(st.config.Port, err)
	}

	st.port = p
	st.isOpen = true

	st.logger.Info("Serial port opened")
	return nil
}

// WriteLine appends the command terminator, writes, and drains the OS buffer
// so the command is on the wire before returning.
func (st *SerialTransport) WriteLine(text string) error {
	st.mutex.Lock()
	defer st.mutex.Unlock()

	if !st.isOpen || st.port == nil {
		return fmt.Errorf("%w: %s: port not open", instrument.ErrWrite, st.config.Port)
	}

	data := []byte(text + commandTerminator)
	n, err := st.port.Write(data)
	if err != nil {
		st.logger.Warn("Serial write failed", zap.Error(err))
		return fmt.Errorf("%w: %s: %v", instrument.ErrWrite, st.config.Port, err)
	}
	if n != len(data) {
		return fmt.Errorf("%w: %s: incomplete write: wrote %d of %d bytes",
			instrument.ErrWrite, st.config.Port, n, len(data))
	}

	if err := st.port.Drain(); err != nil {
		return fmt.Errorf("%w: %s: %v", instrument.ErrWrite, st.config.Port, err)
	}

	return nil
}

// ReadLine accumulates bytes until the response terminator arrives or the
// timeout elapses. A timeout is the expected outcome when no instrument is
// present, so it surfaces as ErrReadTimeout distinctly from hard I/O errors.
func (st *SerialTransport) ReadLine(timeout time.Duration) (string, error) {
	st.mutex.Lock()
	defer st.mutex.Unlock()

	if !st.isOpen || st.port == nil {
		return "", fmt.Errorf("%w: %s: port not open", instrument.ErrRead, st.config.Port)
	}

	var line strings.Builder
	buf := make([]byte, 1)
	deadline := time.Now().Add(timeout)

	for {
		// Checked every iteration: a device that streams bytes without ever
		// sending the terminator (wrong baud rate, babbling port) must still
		// hit the deadline.
		if time.Now().After(deadline) {
			return "", fmt.Errorf("%w: %s: no line within %s",
				instrument.ErrReadTimeout, st.config.Port, timeout)
		}

		n, err := st.port.Read(buf)
		if err != nil {
			st.logger.Warn("Serial read failed", zap.Error(err))
			return "", fmt.Errorf("%w: %s: %v", instrument.ErrRead, st.config.Port, err)
		}
		if n == 0 {
			continue
		}

		if buf[0] == responseTerminator {
			return strings.TrimRight(line.String(), "\r"), nil
		}
		if line.Len() >= maxLineLength {
			return "", fmt.Errorf("%w: %s: line exceeds %d bytes without terminator",
				instrument.ErrRead, st.config.Port, maxLineLength)
		}
		line.WriteByte(buf[0])
	}
}

// Close releases the OS handle. Safe to call repeatedly; never fails once the
// port is released.
func (st *SerialTransport) Close() error {
	st.mutex.Lock()
	defer st.mutex.Unlock()

	if !st.isOpen || st.port == nil {
		return nil
	}

	if err := st.port.Close(); err != nil {
		st.logger.Warn("Failed to close serial port", zap.Error(err))
	}

	st.port = nil
	st.isOpen = false

	st.logger.Info("Serial port closed")
	return nil
}

// IsOpen reports whether the connection is open
func (st *SerialTransport) IsOpen() bool {
	st.mutex.Lock()
	defer st.mutex.Unlock()
	return st.isOpen && st.port != nil
}

// PortName returns the configured device name
func (st *SerialTransport) PortName() string {
	return st.config.Port
}

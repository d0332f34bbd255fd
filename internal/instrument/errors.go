// internal/instrument/errors.go
package instrument

import (
	"errors"
	"fmt"
	"os"

	"go.bug.st/serial"

	"psu-service/internal/model"
)

// Error taxonomy for the instrument layer. Callers match with errors.Is;
// wrapped errors carry the port name and the underlying cause.
var (
	// ErrPortUnavailable: the device node does not exist or is held
	// exclusively by another process.
	ErrPortUnavailable = errors.New("serial port unavailable")

	// ErrPortAccessDenied: the OS refused permission to open the port.
	ErrPortAccessDenied = errors.New("serial port access denied")

	// ErrWrite: the underlying serial write failed or the port is closed.
	ErrWrite = errors.New("transport write failed")

	// ErrRead: a hard I/O failure while reading.
	ErrRead = errors.New("transport read failed")

	// ErrReadTimeout: no full reply line arrived before the deadline. This is
	// the expected outcome when probing a port with no instrument behind it.
	ErrReadTimeout = errors.New("transport read timed out")

	// ErrParse: the instrument replied with something that does not match the
	// expected shape for the command.
	ErrParse = errors.New("malformed instrument reply")

	// ErrValueOutOfRange: a setpoint failed local validation and was never
	// sent to the instrument.
	ErrValueOutOfRange = errors.New("value out of range")

	// ErrEnumeration: the OS-level port listing call itself failed.
	ErrEnumeration = errors.New("port enumeration failed")

	// Session-level preconditions.
	ErrNotConnected     = errors.New("no instrument connected")
	ErrAlreadyConnected = errors.New("instrument already connected")
	ErrScanInProgress   = errors.New("discovery scan in progress")
)

// ClassifyOpenError maps a serial open failure onto the taxonomy. Exclusive
// holds by another process must surface distinctly from timeouts, so busy and
// missing ports both become ErrPortUnavailable while permission problems
// become ErrPortAccessDenied.
func ClassifyOpenError(port string, err error) error {
	var portErr *serial.PortError
	if errors.As(err, &portErr) {
		switch portErr.Code() {
		case serial.PortNotFound, serial.PortBusy, serial.InvalidSerialPort:
			return fmt.Errorf("%w: %s: %v", ErrPortUnavailable, port, err)
		case serial.PermissionDenied:
			return fmt.Errorf("%w: %s: %v", ErrPortAccessDenied, port, err)
		}
	}
	if errors.Is(err, os.ErrPermission) {
		return fmt.Errorf("%w: %s: %v", ErrPortAccessDenied, port, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrPortUnavailable, port, err)
}

// ProbeReason folds a probe failure into the non-responder annotation kept in
// a scan result. No probe error is ever dropped without a reason.
func ProbeReason(err error) model.ProbeReason {
	switch {
	case err == nil:
		return model.ProbeReasonNone
	case errors.Is(err, ErrReadTimeout):
		return model.ProbeReasonTimeout
	case errors.Is(err, ErrPortUnavailable):
		return model.ProbeReasonUnavailable
	case errors.Is(err, ErrPortAccessDenied):
		return model.ProbeReasonAccessDenied
	case errors.Is(err, ErrParse):
		return model.ProbeReasonProtocol
	default:
		return model.ProbeReasonTransport
	}
}

// internal/scpi/driver.go
package scpi

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"psu-service/internal/instrument"
	"psu-service/internal/model"
	"psu-service/internal/transport"
	"psu-service/internal/utils"
)

// Config holds protocol driver parameters.
type Config struct {
	// ReadTimeout bounds every query round trip.
	ReadTimeout time.Duration

	// Precision is the fixed number of decimal places for transmitted
	// setpoints. Received values are parsed permissively.
	Precision int32

	// MaxVoltage and MaxCurrent bound SetLimit. Connect replaces them with
	// the ratings the instrument reports when the capability queries succeed.
	MaxVoltage float64
	MaxCurrent float64
}

// Driver turns typed instrument operations into wire commands and decodes
// replies. It owns no connection state; the transport does.
type Driver struct {
	tr     transport.LineTransport
	config Config
	logger *zap.Logger
	cmdLog *utils.InstrumentLogger
}

// New creates a protocol driver over an open (or openable) transport.
func New(tr transport.LineTransport, config Config, logger *zap.Logger) *Driver {
	return &Driver{
		tr:     tr,
		config: config,
		logger: logger.With(zap.String("driver", "scpi")),
		cmdLog: utils.NewInstrumentLogger(logger, tr.PortName()),
	}
}

// query sends one command and reads one reply line.
func (d *Driver) query(command string) (string, error) {
	start := time.Now()
	if err := d.tr.WriteLine(command); err != nil {
		d.cmdLog.LogCommand(command, time.Since(start), err)
		return "", err
	}

	line, err := d.tr.ReadLine(d.config.ReadTimeout)
	d.cmdLog.LogCommand(command, time.Since(start), err)
	return line, err
}

// send transmits a one-way command.
func (d *Driver) send(command string) error {
	start := time.Now()
	err := d.tr.WriteLine(command)
	d.cmdLog.LogCommand(command, time.Since(start), err)
	return err
}

// Identify sends the identity query and parses the four comma-separated
// fields. Transport timeouts propagate unchanged: during discovery the caller
// treats them as "no instrument on this port".
func (d *Driver) Identify() (model.IdentityRecord, error) {
	line, err := d.query(Commands.Identify)
	if err != nil {
		return model.IdentityRecord{}, err
	}

	fields := strings.Split(line, ",")
	if len(fields) < identityFieldCount {
		return model.IdentityRecord{}, fmt.Errorf(
			"%w: identity reply %q has %d fields, want %d",
			instrument.ErrParse, line, len(fields), identityFieldCount)
	}

	record := model.IdentityRecord{
		Manufacturer: strings.TrimSpace(fields[0]),
		Model:        strings.TrimSpace(fields[1]),
		SerialNumber: strings.TrimSpace(fields[2]),
		Firmware:     strings.TrimSpace(fields[3]),
	}
	if record.Manufacturer == "" || record.Model == "" ||
		record.SerialNumber == "" || record.Firmware == "" {
		return model.IdentityRecord{}, fmt.Errorf(
			"%w: identity reply %q has empty fields", instrument.ErrParse, line)
	}

	record.Valid = true
	return record, nil
}

// ReadMeasurement queries the measured value on the given channel.
func (d *Driver) ReadMeasurement(channel model.Channel) (float64, error) {
	command, err := measureCommand(channel)
	if err != nil {
		return 0, err
	}

	line, err := d.query(command)
	if err != nil {
		return 0, err
	}

	value, err := ParseMeasurement(line)
	if err != nil {
		return 0, err
	}

	d.logger.Debug("Measurement read",
		zap.String("channel", string(channel)),
		zap.Float64("value", value),
	)
	return value, nil
}

// SetLimit transmits a setpoint for the given channel. The value is validated
// locally against [0, maxRating]; out-of-range values fail with
// ErrValueOutOfRange and are never written to the transport. The set command
// is one-way: success means the transport write succeeded.
func (d *Driver) SetLimit(channel model.Channel, value float64) error {
	command, max, err := d.limitCommand(channel)
	if err != nil {
		return err
	}

	if math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Errorf("%w: %s setpoint %v is not finite",
			instrument.ErrValueOutOfRange, channel, value)
	}
	if value < 0 || value > max {
		return fmt.Errorf("%w: %s setpoint %v outside [0, %v]",
			instrument.ErrValueOutOfRange, channel, value, max)
	}

	line := command + " " + FormatSetpoint(value, d.config.Precision)
	if err := d.send(line); err != nil {
		return err
	}

	d.logger.Info("Limit set",
		zap.String("channel", string(channel)),
		zap.Float64("value", value),
	)
	return nil
}

// SetRemoteMode toggles command authority between the serial link and the
// front panel. One-way.
func (d *Driver) SetRemoteMode(enabled bool) error {
	if enabled {
		return d.send(Commands.RemoteEnable)
	}
	return d.send(Commands.ReturnToLocal)
}

// ReturnToLocal hands the front panel back. Invoked on every disconnect path
// so the instrument is never left in remote lockout.
func (d *Driver) ReturnToLocal() error {
	return d.send(Commands.ReturnToLocal)
}

// MaxRating queries the instrument's rated maximum for the channel and
// adopts it as the SetLimit bound.
func (d *Driver) MaxRating(channel model.Channel) (float64, error) {
	var command string
	switch channel {
	case model.ChannelVoltage:
		command = Commands.MaxVoltage
	case model.ChannelCurrent:
		command = Commands.MaxCurrent
	default:
		return 0, fmt.Errorf("%w: unknown channel %q", instrument.ErrParse, channel)
	}

	line, err := d.query(command)
	if err != nil {
		return 0, err
	}

	value, err := ParseMeasurement(line)
	if err != nil {
		return 0, err
	}

	switch channel {
	case model.ChannelVoltage:
		d.config.MaxVoltage = value
	case model.ChannelCurrent:
		d.config.MaxCurrent = value
	}
	return value, nil
}

// measureCommand maps a channel onto its measurement query.
func measureCommand(channel model.Channel) (string, error) {
	switch channel {
	case model.ChannelVoltage:
		return Commands.MeasureVoltage, nil
	case model.ChannelCurrent:
		return Commands.MeasureCurrent, nil
	default:
		return "", fmt.Errorf("%w: unknown channel %q", instrument.ErrParse, channel)
	}
}

// limitCommand maps a channel onto its setpoint command and rating bound.
func (d *Driver) limitCommand(channel model.Channel) (string, float64, error) {
	switch channel {
	case model.ChannelVoltage:
		return Commands.SetVoltage, d.config.MaxVoltage, nil
	case model.ChannelCurrent:
		return Commands.SetCurrent, d.config.MaxCurrent, nil
	default:
		return "", 0, fmt.Errorf("%w: unknown channel %q", instrument.ErrParse, channel)
	}
}

// FormatSetpoint emits the strict canonical form the instrument accepts: a
// fixed number of decimal places, half-up rounded.
func FormatSetpoint(value float64, precision int32) string {
	return decimal.NewFromFloat(value).StringFixed(precision)
}

// ParseMeasurement parses an instrument reply permissively: surrounding
// whitespace, optional sign and exponent, and a trailing unit suffix are
// tolerated. "  12.500 V" parses the same as "12.500".
func ParseMeasurement(reply string) (float64, error) {
	s := strings.TrimSpace(reply)
	s = strings.TrimRightFunc(s, func(r rune) bool {
		return unicode.IsLetter(r) || unicode.IsSpace(r)
	})
	if s == "" {
		return 0, fmt.Errorf("%w: reply %q is not numeric", instrument.ErrParse, reply)
	}

	value, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: reply %q is not numeric", instrument.ErrParse, reply)
	}
	return value, nil
}

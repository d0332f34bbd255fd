// internal/model/instrument.go
package model

import (
	"time"

	"github.com/google/uuid"
)

// Channel identifies a measured or limited quantity on the supply output.
type Channel string

const (
	ChannelVoltage Channel = "VOLTAGE"
	ChannelCurrent Channel = "CURRENT"
)

// ParseChannel converts a request parameter into a Channel.
func ParseChannel(s string) (Channel, bool) {
	switch Channel(s) {
	case ChannelVoltage, ChannelCurrent:
		return Channel(s), true
	}
	// Accept the lowercase spellings used in URLs
	switch s {
	case "voltage":
		return ChannelVoltage, true
	case "current":
		return ChannelCurrent, true
	}
	return "", false
}

// SessionStatus represents the state of the live instrument session.
type SessionStatus string

const (
	SessionStatusDisconnected SessionStatus = "DISCONNECTED"
	SessionStatusConnected    SessionStatus = "CONNECTED"
)

// ScanStatus represents the state of a discovery scan.
type ScanStatus string

const (
	ScanStatusIdle      ScanStatus = "IDLE"
	ScanStatusScanning  ScanStatus = "SCANNING"
	ScanStatusCompleted ScanStatus = "COMPLETED"
	ScanStatusCancelled ScanStatus = "CANCELLED"
)

// ProbeReason explains why a candidate port did not respond during a scan.
type ProbeReason string

const (
	ProbeReasonNone         ProbeReason = ""
	ProbeReasonTimeout      ProbeReason = "TIMEOUT"
	ProbeReasonUnavailable  ProbeReason = "PORT_UNAVAILABLE"
	ProbeReasonAccessDenied ProbeReason = "ACCESS_DENIED"
	ProbeReasonProtocol     ProbeReason = "PROTOCOL_ERROR"
	ProbeReasonTransport    ProbeReason = "TRANSPORT_ERROR"
)

// IdentityRecord is the parsed reply to the instrument identity query.
// All four fields are non-empty when Valid is true; a malformed reply never
// produces a partially populated record marked valid.
type IdentityRecord struct {
	Manufacturer string `json:"manufacturer"`
	Model        string `json:"model"`
	SerialNumber string `json:"serial_number"`
	Firmware     string `json:"firmware"`
	Valid        bool   `json:"valid"`
}

// PortCandidate is a serial device that may host an instrument. Candidates
// are produced fresh on every enumeration because ports come and go.
type PortCandidate struct {
	Device      string `json:"device"`
	Description string `json:"description,omitempty"`
	IsUSB       bool   `json:"is_usb,omitempty"`
	VID         string `json:"vid,omitempty"`
	PID         string `json:"pid,omitempty"`
}

// ProbeOutcome records the result of probing one candidate port.
type ProbeOutcome struct {
	Candidate PortCandidate   `json:"candidate"`
	Identity  *IdentityRecord `json:"identity,omitempty"`
	Reason    ProbeReason     `json:"reason,omitempty"`
	Detail    string          `json:"detail,omitempty"`
	Latency   time.Duration   `json:"latency_ns"`
}

// Responder reports whether the candidate answered the identity query.
func (po *ProbeOutcome) Responder() bool {
	return po.Identity != nil && po.Identity.Valid
}

// ScanResult is the ordered outcome of one discovery scan.
type ScanResult struct {
	ID         uuid.UUID      `json:"id"`
	Status     ScanStatus     `json:"status"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Outcomes   []ProbeOutcome `json:"outcomes"`
}

// Responders returns the subset of outcomes that answered the identity query,
// in scan order.
func (sr *ScanResult) Responders() []ProbeOutcome {
	var responders []ProbeOutcome
	for _, o := range sr.Outcomes {
		if o.Responder() {
			responders = append(responders, o)
		}
	}
	return responders
}

// Measurement is one polled voltage/current sample.
type Measurement struct {
	Timestamp time.Time `json:"timestamp"`
	Voltage   float64   `json:"voltage"`
	Current   float64   `json:"current"`
}

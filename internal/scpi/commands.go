// internal/scpi/commands.go
package scpi

// Commands contains the DCS command set used by the driver. Queries end with
// '?' and expect exactly one reply line; set commands are one-way. Setpoint
// commands take the canonically formatted value as their argument.
var Commands = struct {
	// Identity
	Identify string // reply: manufacturer,model,serial,firmware

	// Measurement queries
	MeasureVoltage string
	MeasureCurrent string

	// Setpoints (followed by a formatted value)
	SetVoltage string
	SetCurrent string

	// Capability queries
	MaxVoltage string
	MaxCurrent string

	// Remote/local front panel authority
	RemoteEnable  string
	ReturnToLocal string
}{
	Identify: "*IDN?",

	MeasureVoltage: "MEAS:VOLT?",
	MeasureCurrent: "MEAS:CURR?",

	SetVoltage: "SOUR:VOLT",
	SetCurrent: "SOUR:CURR",

	MaxVoltage: "SOUR:VOLT:MAX?",
	MaxCurrent: "SOUR:CURR:MAX?",

	RemoteEnable:  "SYST:REM:STAT REM",
	ReturnToLocal: "SYST:REM:STAT LOC",
}

// identityFieldCount is the number of comma-separated fields in a valid
// identity reply.
const identityFieldCount = 4

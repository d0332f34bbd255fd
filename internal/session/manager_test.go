// internal/session/manager_test.go
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"psu-service/internal/config"
	"psu-service/internal/discovery"
	"psu-service/internal/instrument"
	"psu-service/internal/model"
	"psu-service/internal/transport"
)

// fakeSupply emulates the instrument behind a transport: it answers the last
// written query.
type fakeSupply struct {
	mu          sync.Mutex
	last        string
	writes      []string
	opens       int
	closes      int
	openErr     error
	identify    bool // answer the identity query
	voltage     string
	current     string
}

func newFakeSupply() *fakeSupply {
	return &fakeSupply{identify: true, voltage: "12.500", current: "1.250"}
}

func (f *fakeSupply) Open() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return f.openErr
	}
	f.opens++
	return nil
}

func (f *fakeSupply) WriteLine(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last = text
	f.writes = append(f.writes, text)
	return nil
}

func (f *fakeSupply) ReadLine(timeout time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch f.last {
	case "*IDN?":
		if f.identify {
			return "Sorensen,DCS60-50E,12345,1.00", nil
		}
	case "SOUR:VOLT:MAX?":
		return "60.0", nil
	case "SOUR:CURR:MAX?":
		return "50.0", nil
	case "MEAS:VOLT?":
		return f.voltage, nil
	case "MEAS:CURR?":
		return f.current, nil
	}
	return "", fmt.Errorf("%w: no reply", instrument.ErrReadTimeout)
}

func (f *fakeSupply) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeSupply) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens > f.closes
}

func (f *fakeSupply) PortName() string { return "/dev/ttyUSB0" }

func (f *fakeSupply) wroteCommand(command string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, w := range f.writes {
		if w == command {
			return true
		}
	}
	return false
}

func (f *fakeSupply) lastWrite() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.writes) == 0 {
		return ""
	}
	return f.writes[len(f.writes)-1]
}

// blockingLister lets a test hold a scan open until released.
type blockingLister struct {
	started  chan struct{}
	release  chan struct{}
	once     sync.Once
}

func (bl *blockingLister) ListCandidatePorts() ([]model.PortCandidate, error) {
	bl.once.Do(func() { close(bl.started) })
	<-bl.release
	return nil, nil
}

func (bl *blockingLister) Platform() string { return "test" }

type emptyLister struct{}

func (emptyLister) ListCandidatePorts() ([]model.PortCandidate, error) { return nil, nil }
func (emptyLister) Platform() string                                   { return "test" }

func testConfig(t *testing.T) *config.Config {
	cfg := &config.Config{}
	cfg.Instrument.BaudRate = 19200
	cfg.Instrument.ReadTimeout = 100 * time.Millisecond
	cfg.Instrument.Precision = 3
	cfg.Instrument.MaxVoltage = 60
	cfg.Instrument.MaxCurrent = 50
	cfg.Scan.ProbeTimeout = 50 * time.Millisecond
	cfg.Polling.Interval = 10 * time.Millisecond
	cfg.Recorder.Dir = t.TempDir()
	cfg.App.Name = "psu-service"
	return cfg
}

func newTestManager(t *testing.T, supply *fakeSupply, lister discovery.PortLister) *Manager {
	cfg := testConfig(t)
	factory := func(portName string) transport.LineTransport { return supply }
	scanner := discovery.NewScanner(lister, factory, discovery.Config{
		ProbeTimeout: cfg.Scan.ProbeTimeout,
		Precision:    cfg.Instrument.Precision,
	}, zap.NewNop())
	return NewManager(cfg, scanner, factory, nil, nil, zap.NewNop())
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}

func TestConnectAndDisconnect(t *testing.T) {
	supply := newFakeSupply()
	m := newTestManager(t, supply, emptyLister{})

	if err := m.Connect("/dev/ttyUSB0"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	status := m.Status()
	if status.Status != model.SessionStatusConnected {
		t.Errorf("Status = %q, want CONNECTED", status.Status)
	}
	if status.Identity == nil || status.Identity.Model != "DCS60-50E" {
		t.Errorf("Identity = %+v, want DCS60-50E", status.Identity)
	}
	if !supply.wroteCommand("SYST:REM:STAT REM") {
		t.Error("connect did not take remote control")
	}

	if err := m.Disconnect(); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}

	if supply.IsOpen() {
		t.Error("transport still open after Disconnect")
	}
	if supply.lastWrite() != "SYST:REM:STAT LOC" {
		t.Errorf("last write = %q, want return-to-local", supply.lastWrite())
	}
	if got := m.Status(); got.Status != model.SessionStatusDisconnected {
		t.Errorf("Status = %q, want DISCONNECTED", got.Status)
	}
}

func TestConnectRefusedWhileConnected(t *testing.T) {
	supply := newFakeSupply()
	m := newTestManager(t, supply, emptyLister{})

	if err := m.Connect("/dev/ttyUSB0"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer m.Disconnect()

	if err := m.Connect("/dev/ttyUSB0"); !errors.Is(err, instrument.ErrAlreadyConnected) {
		t.Errorf("second Connect = %v, want ErrAlreadyConnected", err)
	}
}

func TestConnectFailureReleasesEverything(t *testing.T) {
	supply := newFakeSupply()
	supply.identify = false
	m := newTestManager(t, supply, emptyLister{})

	err := m.Connect("/dev/ttyUSB0")
	if !errors.Is(err, instrument.ErrReadTimeout) {
		t.Fatalf("Connect = %v, want ErrReadTimeout", err)
	}

	if supply.IsOpen() {
		t.Error("transport leaked after failed connect")
	}
	// The instrument was put in remote before identification failed, so the
	// abort path must hand the front panel back.
	if !supply.wroteCommand("SYST:REM:STAT LOC") {
		t.Error("failed connect did not return instrument to local")
	}
	if got := m.Status(); got.Status != model.SessionStatusDisconnected {
		t.Errorf("Status = %q, want DISCONNECTED", got.Status)
	}
}

func TestScanRefusedWhileConnected(t *testing.T) {
	supply := newFakeSupply()
	m := newTestManager(t, supply, emptyLister{})

	if err := m.Connect("/dev/ttyUSB0"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer m.Disconnect()

	if _, err := m.Scan(context.Background()); !errors.Is(err, instrument.ErrAlreadyConnected) {
		t.Errorf("Scan while connected = %v, want ErrAlreadyConnected", err)
	}
}

func TestConnectRefusedWhileScanning(t *testing.T) {
	supply := newFakeSupply()
	lister := &blockingLister{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	m := newTestManager(t, supply, lister)

	scanDone := make(chan error, 1)
	go func() {
		_, err := m.Scan(context.Background())
		scanDone <- err
	}()

	<-lister.started
	if err := m.Connect("/dev/ttyUSB0"); !errors.Is(err, instrument.ErrScanInProgress) {
		t.Errorf("Connect during scan = %v, want ErrScanInProgress", err)
	}
	if _, err := m.Scan(context.Background()); !errors.Is(err, instrument.ErrScanInProgress) {
		t.Errorf("second Scan = %v, want ErrScanInProgress", err)
	}

	close(lister.release)
	if err := <-scanDone; err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	// The port is free again once the scan finishes.
	if err := m.Connect("/dev/ttyUSB0"); err != nil {
		t.Fatalf("Connect after scan failed: %v", err)
	}
	m.Disconnect()
}

func TestPollingPublishesSamples(t *testing.T) {
	supply := newFakeSupply()
	m := newTestManager(t, supply, emptyLister{})

	samples, cancel := m.Subscribe()
	defer cancel()

	if err := m.Connect("/dev/ttyUSB0"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer m.Disconnect()

	select {
	case sample := <-samples:
		if sample.Voltage != 12.5 {
			t.Errorf("sample voltage = %v, want 12.5", sample.Voltage)
		}
		if sample.Current != 1.25 {
			t.Errorf("sample current = %v, want 1.25", sample.Current)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no sample published")
	}

	waitFor(t, time.Second, func() bool {
		return m.Status().Latest != nil
	})
}

func TestDisconnectDuringPollingDoesNotDeadlock(t *testing.T) {
	supply := newFakeSupply()
	m := newTestManager(t, supply, emptyLister{})

	if err := m.Connect("/dev/ttyUSB0"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	// Let a few poll cycles run.
	waitFor(t, time.Second, func() bool {
		return m.Status().Latest != nil
	})

	done := make(chan error, 1)
	go func() { done <- m.Disconnect() }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Disconnect failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Disconnect deadlocked against the poller")
	}

	if supply.IsOpen() {
		t.Error("transport still open after Disconnect")
	}
}

func TestOperationsRequireConnection(t *testing.T) {
	supply := newFakeSupply()
	m := newTestManager(t, supply, emptyLister{})

	if _, err := m.Identity(); !errors.Is(err, instrument.ErrNotConnected) {
		t.Errorf("Identity = %v, want ErrNotConnected", err)
	}
	if _, err := m.Measurement(model.ChannelVoltage); !errors.Is(err, instrument.ErrNotConnected) {
		t.Errorf("Measurement = %v, want ErrNotConnected", err)
	}
	if err := m.SetLimit(model.ChannelVoltage, 5); !errors.Is(err, instrument.ErrNotConnected) {
		t.Errorf("SetLimit = %v, want ErrNotConnected", err)
	}
	if _, err := m.StartRecording(""); !errors.Is(err, instrument.ErrNotConnected) {
		t.Errorf("StartRecording = %v, want ErrNotConnected", err)
	}
	if err := m.Disconnect(); !errors.Is(err, instrument.ErrNotConnected) {
		t.Errorf("Disconnect = %v, want ErrNotConnected", err)
	}
}

func TestSetLimitValidation(t *testing.T) {
	supply := newFakeSupply()
	m := newTestManager(t, supply, emptyLister{})

	if err := m.Connect("/dev/ttyUSB0"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer m.Disconnect()

	if err := m.SetLimit(model.ChannelVoltage, 12.5); err != nil {
		t.Errorf("SetLimit(12.5) failed: %v", err)
	}
	if !supply.wroteCommand("SOUR:VOLT 12.500") {
		t.Error("setpoint not written in canonical form")
	}

	if err := m.SetLimit(model.ChannelVoltage, 75); !errors.Is(err, instrument.ErrValueOutOfRange) {
		t.Errorf("SetLimit(75) = %v, want ErrValueOutOfRange", err)
	}
	if supply.wroteCommand("SOUR:VOLT 75.000") {
		t.Error("rejected setpoint reached the wire")
	}
}

func TestRecording(t *testing.T) {
	supply := newFakeSupply()
	m := newTestManager(t, supply, emptyLister{})

	if err := m.Connect("/dev/ttyUSB0"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer m.Disconnect()

	path, err := m.StartRecording("")
	if err != nil {
		t.Fatalf("StartRecording failed: %v", err)
	}
	if !strings.HasSuffix(path, "-psu-service_IV.csv") {
		t.Errorf("recording path %q does not follow the naming convention", path)
	}

	status := m.Status()
	if !status.Recording || status.RecordingPath != path {
		t.Errorf("Status = %+v, want recording at %q", status, path)
	}

	// Wait until at least one sample lands in the file.
	waitFor(t, 2*time.Second, func() bool {
		data, rerr := os.ReadFile(path)
		return rerr == nil && strings.Count(string(data), "\n") >= 2
	})

	if err := m.StopRecording(); err != nil {
		t.Fatalf("StopRecording failed: %v", err)
	}
	if m.Status().Recording {
		t.Error("Status still reports recording after StopRecording")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading recording failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if lines[0] != "Timestamp,Voltage (V),Current (A)" {
		t.Errorf("header = %q", lines[0])
	}
	if len(lines) < 2 {
		t.Fatal("no measurement rows recorded")
	}
	if !strings.Contains(lines[1], "12.500") || !strings.Contains(lines[1], "1.250") {
		t.Errorf("row = %q, want recorded sample values", lines[1])
	}
}

func TestDisconnectDetachesRecorder(t *testing.T) {
	supply := newFakeSupply()
	m := newTestManager(t, supply, emptyLister{})

	if err := m.Connect("/dev/ttyUSB0"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if _, err := m.StartRecording(""); err != nil {
		t.Fatalf("StartRecording failed: %v", err)
	}
	if err := m.Disconnect(); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}

	// No recorder may survive the session it belonged to.
	if m.Status().Recording {
		t.Error("recorder still attached after Disconnect")
	}
	if _, err := m.StartRecording(""); !errors.Is(err, instrument.ErrNotConnected) {
		t.Errorf("StartRecording after Disconnect = %v, want ErrNotConnected", err)
	}
}

func TestSubscribeCancelIsIdempotent(t *testing.T) {
	supply := newFakeSupply()
	m := newTestManager(t, supply, emptyLister{})

	_, cancel := m.Subscribe()
	cancel()
	cancel()
}

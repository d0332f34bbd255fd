// internal/session/manager.go
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"psu-service/internal/config"
	"psu-service/internal/discovery"
	"psu-service/internal/instrument"
	"psu-service/internal/model"
	"psu-service/internal/recorder"
	"psu-service/internal/repository"
	"psu-service/internal/scpi"
	"psu-service/internal/transport"
)

// Manager owns the live instrument session. It enforces the shared-resource
// policy: one connection at a time, and the discovery scan and the live
// session are mutually exclusive.
type Manager struct {
	config       *config.Config
	logger       *zap.Logger
	scanner      *discovery.Scanner
	newTransport discovery.TransportFactory

	// Optional archive; nil when storage is disabled.
	samples repository.MeasurementRepository
	scans   repository.ScanRepository

	// mutex guards session state transitions (connect, disconnect, scan
	// start/stop). The poller never takes it, so disconnect can wait for an
	// in-flight poll without deadlocking.
	mutex    sync.Mutex
	status   model.SessionStatus
	scanning bool
	tr       transport.LineTransport
	driver   *scpi.Driver
	identity model.IdentityRecord
	port     string

	// ioMutex serializes command round trips on the connection: strictly
	// request-then-response, one in flight.
	ioMutex sync.Mutex

	// obsMutex guards the observation side (latest sample, recorder).
	obsMutex sync.Mutex
	latest   *model.Measurement
	rec      *recorder.CSVRecorder

	pollStop     chan struct{}
	pollDone     sync.WaitGroup
	pollInFlight atomic.Bool

	subMutex    sync.Mutex
	subscribers map[int]chan model.Measurement
	nextSubID   int
}

// Status is a snapshot of the session for the API surface.
type Status struct {
	Status        model.SessionStatus   `json:"status"`
	Port          string                `json:"port,omitempty"`
	Identity      *model.IdentityRecord `json:"identity,omitempty"`
	Latest        *model.Measurement    `json:"latest,omitempty"`
	Scanning      bool                  `json:"scanning"`
	Recording     bool                  `json:"recording"`
	RecordingPath string                `json:"recording_path,omitempty"`
}

// NewManager creates a session manager. The repositories may be nil when the
// archive is disabled.
func NewManager(
	cfg *config.Config,
	scanner *discovery.Scanner,
	factory discovery.TransportFactory,
	samples repository.MeasurementRepository,
	scans repository.ScanRepository,
	logger *zap.Logger,
) *Manager {
	return &Manager{
		config:       cfg,
		logger:       logger.With(zap.String("component", "session")),
		scanner:      scanner,
		newTransport: factory,
		samples:      samples,
		scans:        scans,
		status:       model.SessionStatusDisconnected,
		subscribers:  make(map[int]chan model.Measurement),
	}
}

// Connect opens the port, takes remote control, identifies the instrument,
// adopts its reported ratings, and starts the measurement poller. Refused
// while a scan is running.
func (m *Manager) Connect(port string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.scanning {
		return instrument.ErrScanInProgress
	}
	if m.status == model.SessionStatusConnected {
		return instrument.ErrAlreadyConnected
	}

	tr := m.newTransport(port)
	if err := tr.Open(); err != nil {
		return err
	}

	driver := scpi.New(tr, scpi.Config{
		ReadTimeout: m.config.Instrument.ReadTimeout,
		Precision:   m.config.Instrument.Precision,
		MaxVoltage:  m.config.Instrument.MaxVoltage,
		MaxCurrent:  m.config.Instrument.MaxCurrent,
	}, m.logger)

	if err := driver.SetRemoteMode(true); err != nil {
		tr.Close()
		return err
	}

	identity, err := driver.Identify()
	if err != nil {
		// Never leave the instrument in remote lockout on a failed connect.
		if lerr := driver.ReturnToLocal(); lerr != nil {
			m.logger.Warn("Return to local failed during aborted connect", zap.Error(lerr))
		}
		tr.Close()
		return err
	}

	// Adopt the instrument's own ratings when it reports them; the
	// configured bounds remain otherwise.
	for _, ch := range []model.Channel{model.ChannelVoltage, model.ChannelCurrent} {
		if _, rerr := driver.MaxRating(ch); rerr != nil {
			m.logger.Warn("Max rating query failed, using configured bound",
				zap.String("channel", string(ch)),
				zap.Error(rerr),
			)
		}
	}

	m.tr = tr
	m.driver = driver
	m.identity = identity
	m.port = port
	m.status = model.SessionStatusConnected
	m.startPoller()

	m.logger.Info("Instrument connected",
		zap.String("port", port),
		zap.String("model", identity.Model),
		zap.String("serial_number", identity.SerialNumber),
	)
	return nil
}

// Disconnect stops polling, returns the instrument to local control (best
// effort), and releases the port.
func (m *Manager) Disconnect() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.disconnectLocked()
}

func (m *Manager) disconnectLocked() error {
	if m.status != model.SessionStatusConnected {
		return instrument.ErrNotConnected
	}

	// Waits out an in-flight poll, bounded by the read timeout.
	m.stopPoller()

	m.ioMutex.Lock()
	if err := m.driver.ReturnToLocal(); err != nil {
		// The connection is being torn down anyway; record, don't escalate.
		m.logger.Warn("Return to local failed during disconnect", zap.Error(err))
	}
	m.tr.Close()
	m.ioMutex.Unlock()

	m.obsMutex.Lock()
	if m.rec != nil {
		m.rec.Close()
		m.rec = nil
	}
	m.latest = nil
	m.obsMutex.Unlock()

	port := m.port
	m.tr = nil
	m.driver = nil
	m.identity = model.IdentityRecord{}
	m.port = ""
	m.status = model.SessionStatusDisconnected

	m.logger.Info("Instrument disconnected", zap.String("port", port))
	return nil
}

// Scan runs a discovery scan. Refused while connected: the scanner must not
// touch ports while the live session holds one.
func (m *Manager) Scan(ctx context.Context) (*model.ScanResult, error) {
	m.mutex.Lock()
	if m.status == model.SessionStatusConnected {
		m.mutex.Unlock()
		return nil, instrument.ErrAlreadyConnected
	}
	if m.scanning {
		m.mutex.Unlock()
		return nil, instrument.ErrScanInProgress
	}
	m.scanning = true
	m.mutex.Unlock()

	defer func() {
		m.mutex.Lock()
		m.scanning = false
		m.mutex.Unlock()
	}()

	result, err := m.scanner.Scan(ctx)
	if err != nil {
		return nil, err
	}

	if m.scans != nil {
		archiveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if aerr := m.scans.Insert(archiveCtx, result); aerr != nil {
			m.logger.Warn("Failed to archive scan result", zap.Error(aerr))
		}
		cancel()
	}

	return result, nil
}

// Identity returns the identity record of the connected instrument.
func (m *Manager) Identity() (model.IdentityRecord, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.status != model.SessionStatusConnected {
		return model.IdentityRecord{}, instrument.ErrNotConnected
	}
	return m.identity, nil
}

// Measurement reads one value from the instrument on demand.
func (m *Manager) Measurement(channel model.Channel) (float64, error) {
	driver, err := m.currentDriver()
	if err != nil {
		return 0, err
	}

	m.ioMutex.Lock()
	defer m.ioMutex.Unlock()
	return driver.ReadMeasurement(channel)
}

// SetLimit transmits a validated setpoint for the channel.
func (m *Manager) SetLimit(channel model.Channel, value float64) error {
	driver, err := m.currentDriver()
	if err != nil {
		return err
	}

	m.ioMutex.Lock()
	defer m.ioMutex.Unlock()
	return driver.SetLimit(channel, value)
}

// StartRecording begins CSV recording of polled measurements. An empty path
// selects the conventional timestamped filename under the configured
// directory.
func (m *Manager) StartRecording(path string) (string, error) {
	// Held across open-and-install: a disconnect racing this call must never
	// leave a recorder attached to a dead session.
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.status != model.SessionStatusConnected {
		return "", instrument.ErrNotConnected
	}

	if path == "" {
		path = recorder.DefaultFilename(m.config.Recorder.Dir, m.config.App.Name, time.Now())
	}

	rec := recorder.New(path, m.logger)
	if err := rec.Open(); err != nil {
		return "", err
	}

	m.obsMutex.Lock()
	if m.rec != nil {
		m.rec.Close()
	}
	m.rec = rec
	m.obsMutex.Unlock()

	return path, nil
}

// StopRecording closes the active recording, if any.
func (m *Manager) StopRecording() error {
	m.obsMutex.Lock()
	defer m.obsMutex.Unlock()

	if m.rec == nil {
		return nil
	}
	err := m.rec.Close()
	m.rec = nil
	return err
}

// Subscribe returns a channel of polled measurements and a cancel function.
// Slow subscribers miss samples rather than backing up the poller.
func (m *Manager) Subscribe() (<-chan model.Measurement, func()) {
	m.subMutex.Lock()
	defer m.subMutex.Unlock()

	id := m.nextSubID
	m.nextSubID++
	ch := make(chan model.Measurement, 16)
	m.subscribers[id] = ch

	cancel := func() {
		m.subMutex.Lock()
		defer m.subMutex.Unlock()
		if _, ok := m.subscribers[id]; ok {
			delete(m.subscribers, id)
			close(ch)
		}
	}
	return ch, cancel
}

// Status returns a snapshot of the session.
func (m *Manager) Status() Status {
	m.mutex.Lock()
	s := Status{
		Status:   m.status,
		Port:     m.port,
		Scanning: m.scanning,
	}
	if m.status == model.SessionStatusConnected {
		identity := m.identity
		s.Identity = &identity
	}
	m.mutex.Unlock()

	m.obsMutex.Lock()
	if m.latest != nil {
		latest := *m.latest
		s.Latest = &latest
	}
	if m.rec != nil {
		s.Recording = true
		s.RecordingPath = m.rec.Path()
	}
	m.obsMutex.Unlock()

	return s
}

// Close tears the session down during shutdown.
func (m *Manager) Close() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.status == model.SessionStatusConnected {
		if err := m.disconnectLocked(); err != nil {
			m.logger.Warn("Disconnect during shutdown failed", zap.Error(err))
		}
	}
}

// currentDriver snapshots the driver pointer under the state lock. A
// concurrent disconnect leaves the snapshot pointing at a closed transport,
// which surfaces as a typed write failure rather than a race.
func (m *Manager) currentDriver() (*scpi.Driver, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.status != model.SessionStatusConnected || m.driver == nil {
		return nil, instrument.ErrNotConnected
	}
	return m.driver, nil
}

// startPoller launches the cooperative measurement timer. Called with the
// state lock held.
func (m *Manager) startPoller() {
	m.pollStop = make(chan struct{})
	driver := m.driver
	port := m.port

	m.pollDone.Add(1)
	go func() {
		defer m.pollDone.Done()
		ticker := time.NewTicker(m.config.Polling.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-m.pollStop:
				return
			case <-ticker.C:
				// A poll still in flight means the device is slow or
				// wedged; skip this tick rather than queue behind it.
				if !m.pollInFlight.CompareAndSwap(false, true) {
					m.logger.Debug("Poll still in flight, skipping tick")
					continue
				}
				m.pollDone.Add(1)
				go m.poll(driver, port)
			}
		}
	}()
}

// stopPoller stops the timer and waits for any in-flight poll. Called with
// the state lock held.
func (m *Manager) stopPoller() {
	if m.pollStop == nil {
		return
	}
	close(m.pollStop)
	m.pollDone.Wait()
	m.pollStop = nil
}

// poll reads one voltage/current pair and fans it out to the recorder, the
// archive, and subscribers.
func (m *Manager) poll(driver *scpi.Driver, port string) {
	defer m.pollDone.Done()
	defer m.pollInFlight.Store(false)

	m.ioMutex.Lock()
	voltage, verr := driver.ReadMeasurement(model.ChannelVoltage)
	var current float64
	var cerr error
	if verr == nil {
		current, cerr = driver.ReadMeasurement(model.ChannelCurrent)
	}
	m.ioMutex.Unlock()

	if verr != nil || cerr != nil {
		err := verr
		if err == nil {
			err = cerr
		}
		m.logger.Warn("Measurement poll failed", zap.Error(err))
		return
	}

	sample := model.Measurement{
		Timestamp: time.Now(),
		Voltage:   voltage,
		Current:   current,
	}

	m.obsMutex.Lock()
	m.latest = &sample
	if m.rec != nil {
		if err := m.rec.Record(sample); err != nil {
			m.logger.Warn("Failed to record measurement", zap.Error(err))
		}
	}
	m.obsMutex.Unlock()

	if m.samples != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := m.samples.Insert(ctx, port, sample); err != nil {
			m.logger.Warn("Failed to archive measurement", zap.Error(err))
		}
		cancel()
	}

	m.subMutex.Lock()
	for _, ch := range m.subscribers {
		select {
		case ch <- sample:
		default:
		}
	}
	m.subMutex.Unlock()
}

// internal/discovery/scanner.go
package discovery

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"psu-service/internal/instrument"
	"psu-service/internal/model"
	"psu-service/internal/scpi"
	"psu-service/internal/transport"
)

// TransportFactory builds a transport bound to one candidate port. Probes and
// the live session share one factory so they open ports identically.
type TransportFactory func(portName string) transport.LineTransport

// Config holds scanner parameters.
type Config struct {
	// ProbeTimeout bounds each candidate's identity round trip. A slow
	// device past this boundary is classified as absent.
	ProbeTimeout time.Duration

	// Precision for the per-probe protocol driver.
	Precision int32
}

// Scanner probes candidate ports sequentially for a responding instrument.
// A single port's failure never aborts the scan; only an enumeration failure
// does. Every opened transport is closed before the next candidate.
type Scanner struct {
	lister       PortLister
	newTransport TransportFactory
	config       Config
	logger       *zap.Logger
}

// NewScanner creates a discovery scanner.
func NewScanner(lister PortLister, factory TransportFactory, config Config, logger *zap.Logger) *Scanner {
	return &Scanner{
		lister:       lister,
		newTransport: factory,
		config:       config,
		logger:       logger.With(zap.String("component", "scanner")),
	}
}

// Scan enumerates candidates and probes each in enumeration order. On
// cancellation the in-flight probe finishes (bounded by the probe timeout)
// and a partial result is returned with status CANCELLED.
func (s *Scanner) Scan(ctx context.Context) (*model.ScanResult, error) {
	result := &model.ScanResult{
		ID:        uuid.New(),
		Status:    model.ScanStatusScanning,
		StartedAt: time.Now(),
	}

	candidates, err := s.lister.ListCandidatePorts()
	if err != nil {
		s.logger.Error("Port enumeration failed", zap.Error(err))
		return nil, err
	}

	s.logger.Info("Starting port scan",
		zap.String("scan_id", result.ID.String()),
		zap.Int("candidates", len(candidates)),
	)

	for _, candidate := range candidates {
		select {
		case <-ctx.Done():
			result.Status = model.ScanStatusCancelled
			result.FinishedAt = time.Now()
			s.logger.Info("Scan cancelled",
				zap.String("scan_id", result.ID.String()),
				zap.Int("probed", len(result.Outcomes)),
			)
			return result, nil
		default:
		}

		result.Outcomes = append(result.Outcomes, s.probe(candidate))
	}

	result.Status = model.ScanStatusCompleted
	result.FinishedAt = time.Now()

	s.logger.Info("Scan completed",
		zap.String("scan_id", result.ID.String()),
		zap.Int("candidates", len(result.Outcomes)),
		zap.Int("responders", len(result.Responders())),
	)
	return result, nil
}

// probe opens one candidate transiently and issues the identity query. The
// transport is closed on every exit path so a later manual connect on the
// same port is never blocked by a leaked handle.
func (s *Scanner) probe(candidate model.PortCandidate) model.ProbeOutcome {
	outcome := model.ProbeOutcome{Candidate: candidate}
	start := time.Now()

	tr := s.newTransport(candidate.Device)
	if err := tr.Open(); err != nil {
		outcome.Reason = instrument.ProbeReason(err)
		outcome.Detail = err.Error()
		outcome.Latency = time.Since(start)
		s.logger.Debug("Candidate not openable",
			zap.String("device", candidate.Device),
			zap.String("reason", string(outcome.Reason)),
		)
		return outcome
	}
	defer tr.Close()

	driver := scpi.New(tr, scpi.Config{
		ReadTimeout: s.config.ProbeTimeout,
		Precision:   s.config.Precision,
	}, s.logger)

	identity, err := driver.Identify()
	outcome.Latency = time.Since(start)

	if err != nil {
		outcome.Reason = instrument.ProbeReason(err)
		outcome.Detail = err.Error()
		s.logger.Debug("Candidate did not respond",
			zap.String("device", candidate.Device),
			zap.String("reason", string(outcome.Reason)),
		)
		return outcome
	}

	outcome.Identity = &identity
	s.logger.Info("Responder found",
		zap.String("device", candidate.Device),
		zap.String("model", identity.Model),
		zap.Duration("latency", outcome.Latency),
	)
	return outcome
}

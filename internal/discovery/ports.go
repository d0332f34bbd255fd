// internal/discovery/ports.go
package discovery

import (
	"fmt"
	"runtime"
	"sort"
	"strings"

	"go.bug.st/serial/enumerator"
	"go.uber.org/zap"

	"psu-service/internal/instrument"
	"psu-service/internal/model"
)

// PortLister enumerates candidate serial ports. One variant per platform
// family, selected once at startup; the returned shape is platform
// independent. Candidates are produced fresh on every call.
type PortLister interface {
	ListCandidatePorts() ([]model.PortCandidate, error)
	Platform() string
}

// detailedLister is the OS-level listing primitive, injectable for tests.
type detailedLister func() ([]*enumerator.PortDetails, error)

// patternLister filters the detailed port list by platform device-name
// prefixes.
type patternLister struct {
	platform string
	patterns []string
	list     detailedLister
	logger   *zap.Logger
}

// NewPortLister selects the enumeration variant for the host platform.
func NewPortLister(logger *zap.Logger) PortLister {
	return newPortListerFor(runtime.GOOS, enumerator.GetDetailedPortsList, logger)
}

func newPortListerFor(goos string, list detailedLister, logger *zap.Logger) PortLister {
	logger = logger.With(zap.String("component", "port-lister"))

	switch goos {
	case "windows":
		return &patternLister{
			platform: "windows",
			patterns: []string{"COM"},
			list:     list,
			logger:   logger,
		}
	case "darwin":
		return &patternLister{
			platform: "darwin",
			patterns: []string{"/dev/cu.", "/dev/tty.usb"},
			list:     list,
			logger:   logger,
		}
	default:
		return &patternLister{
			platform: "linux",
			patterns: []string{"/dev/ttyUSB", "/dev/ttyACM", "/dev/ttyS"},
			list:     list,
			logger:   logger,
		}
	}
}

// Platform returns the platform family this variant serves.
func (pl *patternLister) Platform() string {
	return pl.platform
}

// ListCandidatePorts returns the matching ports sorted by device name. An
// empty list is not an error; only a failing OS listing call is.
func (pl *patternLister) ListCandidatePorts() ([]model.PortCandidate, error) {
	details, err := pl.list()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", instrument.ErrEnumeration, err)
	}

	candidates := make([]model.PortCandidate, 0, len(details))
	for _, d := range details {
		if !pl.matches(d.Name) {
			continue
		}
		candidates = append(candidates, model.PortCandidate{
			Device:      d.Name,
			Description: d.Product,
			IsUSB:       d.IsUSB,
			VID:         d.VID,
			PID:         d.PID,
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Device < candidates[j].Device
	})

	pl.logger.Debug("Enumerated candidate ports",
		zap.String("platform", pl.platform),
		zap.Int("count", len(candidates)),
	)
	return candidates, nil
}

func (pl *patternLister) matches(name string) bool {
	for _, p := range pl.patterns {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

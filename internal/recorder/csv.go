// internal/recorder/csv.go
package recorder

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"psu-service/internal/model"
)

// DefaultFilename builds the conventional measurement log name:
// YYYY-MM-DD-HHMM-<app>_IV.csv.
func DefaultFilename(dir, appName string, now time.Time) string {
	name := fmt.Sprintf("%s-%s_IV.csv", now.Format("2006-01-02-1504"), appName)
	return filepath.Join(dir, name)
}

// CSVRecorder appends voltage/current samples to a CSV file, one row per
// measurement, flushed immediately so a crash loses at most the current row.
type CSVRecorder struct {
	mutex  sync.Mutex
	path   string
	file   *os.File
	writer *csv.Writer
	logger *zap.Logger
}

// New creates a recorder for the given file path. Nothing is written until
// Open.
func New(path string, logger *zap.Logger) *CSVRecorder {
	return &CSVRecorder{
		path:   path,
		logger: logger.With(zap.String("component", "recorder"), zap.String("path", path)),
	}
}

// Open creates the file (and its directory) and writes the header row.
func (r *CSVRecorder) Open() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.file != nil {
		return nil
	}

	if dir := filepath.Dir(r.path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create recording directory: %w", err)
		}
	}

	file, err := os.Create(r.path)
	if err != nil {
		return fmt.Errorf("failed to create recording file: %w", err)
	}

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"Timestamp", "Voltage (V)", "Current (A)"}); err != nil {
		file.Close()
		return fmt.Errorf("failed to write recording header: %w", err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		file.Close()
		return fmt.Errorf("failed to flush recording header: %w", err)
	}

	r.file = file
	r.writer = writer
	r.logger.Info("Recording started")
	return nil
}

// Record appends one measurement row.
func (r *CSVRecorder) Record(m model.Measurement) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.writer == nil {
		return fmt.Errorf("recorder not open")
	}

	row := []string{
		m.Timestamp.Format(time.RFC3339),
		strconv.FormatFloat(m.Voltage, 'f', 3, 64),
		strconv.FormatFloat(m.Current, 'f', 3, 64),
	}
	if err := r.writer.Write(row); err != nil {
		return fmt.Errorf("failed to write measurement row: %w", err)
	}

	r.writer.Flush()
	if err := r.writer.Error(); err != nil {
		return fmt.Errorf("failed to flush measurement row: %w", err)
	}
	return nil
}

// Path returns the recording file path.
func (r *CSVRecorder) Path() string {
	return r.path
}

// Close flushes and closes the file. Safe to call repeatedly.
func (r *CSVRecorder) Close() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.file == nil {
		return nil
	}

	r.writer.Flush()
	err := r.file.Close()
	r.file = nil
	r.writer = nil

	if err != nil {
		return fmt.Errorf("failed to close recording file: %w", err)
	}
	r.logger.Info("Recording stopped")
	return nil
}

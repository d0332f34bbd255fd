// internal/repository/interfaces.go
package repository

import (
	"context"
	"time"

	"psu-service/internal/model"
)

// MeasurementRepository archives polled samples.
type MeasurementRepository interface {
	Insert(ctx context.Context, port string, m model.Measurement) error
	ListSince(ctx context.Context, since time.Time, limit int) ([]ArchivedMeasurement, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// ScanRepository archives completed discovery scans.
type ScanRepository interface {
	Insert(ctx context.Context, result *model.ScanResult) error
	Get(ctx context.Context, id string) (*model.ScanResult, error)
}

// ArchivedMeasurement is a sample row read back from the archive.
type ArchivedMeasurement struct {
	Port        string            `json:"port"`
	Measurement model.Measurement `json:"measurement"`
}

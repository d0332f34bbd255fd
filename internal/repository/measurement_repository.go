// internal/repository/measurement_repository.go
package repository

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"psu-service/internal/database"
	"psu-service/internal/model"
)

// measurementRepository implements MeasurementRepository
type measurementRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewMeasurementRepository creates a new measurement repository
func NewMeasurementRepository(db *database.DB, logger *zap.Logger) MeasurementRepository {
	return &measurementRepository{
		db:     db,
		logger: logger,
	}
}

// Insert archives one polled sample
func (r *measurementRepository) Insert(ctx context.Context, port string, m model.Measurement) error {
	query := `
		INSERT INTO measurement_samples (port, recorded_at, voltage, current)
		VALUES ($1, $2, $3, $4)
	`

	_, err := r.db.ExecContext(ctx, query, port, m.Timestamp, m.Voltage, m.Current)
	if err != nil {
		r.logger.Error("Failed to archive measurement", zap.Error(err), zap.String("port", port))
		return fmt.Errorf("failed to archive measurement: %w", err)
	}

	return nil
}

// ListSince returns archived samples recorded at or after the given time,
// oldest first.
func (r *measurementRepository) ListSince(ctx context.Context, since time.Time, limit int) ([]ArchivedMeasurement, error) {
	query := `
		SELECT port, recorded_at, voltage, current
		FROM measurement_samples
		WHERE recorded_at >= $1
		ORDER BY recorded_at
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, since, limit)
	if err != nil {
		r.logger.Error("Failed to list archived measurements", zap.Error(err))
		return nil, fmt.Errorf("failed to list archived measurements: %w", err)
	}
	defer rows.Close()

	var samples []ArchivedMeasurement
	for rows.Next() {
		var s ArchivedMeasurement
		if err := rows.Scan(&s.Port, &s.Measurement.Timestamp, &s.Measurement.Voltage, &s.Measurement.Current); err != nil {
			return nil, fmt.Errorf("failed to scan measurement row: %w", err)
		}
		samples = append(samples, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate measurement rows: %w", err)
	}
	return samples, nil
}

// DeleteOlderThan removes archived samples older than the cutoff
func (r *measurementRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM measurement_samples WHERE recorded_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old measurements: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted measurements: %w", err)
	}
	return deleted, nil
}

// internal/repository/scan_repository.go
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"psu-service/internal/database"
	"psu-service/internal/model"
)

// scanRepository implements ScanRepository
type scanRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewScanRepository creates a new scan repository
func NewScanRepository(db *database.DB, logger *zap.Logger) ScanRepository {
	return &scanRepository{
		db:     db,
		logger: logger,
	}
}

// Insert archives a completed scan with its per-candidate outcomes
func (r *scanRepository) Insert(ctx context.Context, result *model.ScanResult) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin scan archive transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO scan_results (id, status, started_at, finished_at)
		VALUES ($1, $2, $3, $4)
	`, result.ID, result.Status, result.StartedAt, result.FinishedAt)
	if err != nil {
		r.logger.Error("Failed to archive scan", zap.Error(err), zap.String("scan_id", result.ID.String()))
		return fmt.Errorf("failed to archive scan: %w", err)
	}

	for _, o := range result.Outcomes {
		var manufacturer, deviceModel, serialNumber, firmware sql.NullString
		if o.Identity != nil {
			manufacturer = sql.NullString{String: o.Identity.Manufacturer, Valid: true}
			deviceModel = sql.NullString{String: o.Identity.Model, Valid: true}
			serialNumber = sql.NullString{String: o.Identity.SerialNumber, Valid: true}
			firmware = sql.NullString{String: o.Identity.Firmware, Valid: true}
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO scan_outcomes (
				scan_id, device, description, responder, reason,
				manufacturer, model, serial_number, firmware, latency_ms
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, result.ID, o.Candidate.Device, o.Candidate.Description, o.Responder(),
			string(o.Reason), manufacturer, deviceModel, serialNumber, firmware,
			o.Latency.Milliseconds())
		if err != nil {
			return fmt.Errorf("failed to archive scan outcome: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit scan archive: %w", err)
	}

	r.logger.Info("Scan archived",
		zap.String("scan_id", result.ID.String()),
		zap.Int("outcomes", len(result.Outcomes)),
	)
	return nil
}

// Get reads an archived scan back by id
func (r *scanRepository) Get(ctx context.Context, id string) (*model.ScanResult, error) {
	scanID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid scan id %q: %w", id, err)
	}

	result := &model.ScanResult{ID: scanID}
	var started, finished time.Time
	err = r.db.QueryRowContext(ctx, `
		SELECT status, started_at, finished_at FROM scan_results WHERE id = $1
	`, scanID).Scan(&result.Status, &started, &finished)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("scan not found: %s", id)
		}
		return nil, fmt.Errorf("failed to get scan: %w", err)
	}
	result.StartedAt = started
	result.FinishedAt = finished

	rows, err := r.db.QueryContext(ctx, `
		SELECT device, description, responder, reason,
		       manufacturer, model, serial_number, firmware, latency_ms
		FROM scan_outcomes WHERE scan_id = $1 ORDER BY id
	`, scanID)
	if err != nil {
		return nil, fmt.Errorf("failed to get scan outcomes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var o model.ProbeOutcome
		var description, reason sql.NullString
		var manufacturer, deviceModel, serialNumber, firmware sql.NullString
		var responder bool
		var latencyMs int64

		if err := rows.Scan(&o.Candidate.Device, &description, &responder, &reason,
			&manufacturer, &deviceModel, &serialNumber, &firmware, &latencyMs); err != nil {
			return nil, fmt.Errorf("failed to scan outcome row: %w", err)
		}

		o.Candidate.Description = description.String
		o.Reason = model.ProbeReason(reason.String)
		o.Latency = time.Duration(latencyMs) * time.Millisecond
		if responder {
			o.Identity = &model.IdentityRecord{
				Manufacturer: manufacturer.String,
				Model:        deviceModel.String,
				SerialNumber: serialNumber.String,
				Firmware:     firmware.String,
				Valid:        true,
			}
		}
		result.Outcomes = append(result.Outcomes, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate outcome rows: %w", err)
	}
	return result, nil
}

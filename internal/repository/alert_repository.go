package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"sos-service/internal/model"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

var ErrAlertNotFound = errors.New("alert not found")

const alertColumns = `id, reporter_id, reporter_name, bus_number, department, phone_number,
	alert_type, priority, location_text, latitude, longitude, additional_message, image_ref,
	status, created_at, resolved_at`

type AlertRepository struct {
	db *sql.DB
}

func NewAlertRepository(db *sql.DB) *AlertRepository {
	return &AlertRepository{db: db}
}

func (r *AlertRepository) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return r.db.BeginTx(ctx, nil)
}

// CreateInTransaction inserts the alert unless a row with the same ID already exists.
// It reports whether a new row was written, so a resubmitted report is stored once.
func (r *AlertRepository) CreateInTransaction(ctx context.Context, tx *sql.Tx, alert *model.EmergencyReport) (bool, error) {
	var lat, lng *float64
	if alert.Coordinates != nil {
		lat = &alert.Coordinates.Latitude
		lng = &alert.Coordinates.Longitude
	}

	query := `
		INSERT INTO emergency_alerts (id, reporter_id, reporter_name, bus_number, department, phone_number,
			alert_type, priority, location_text, latitude, longitude, additional_message, image_ref,
			status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO NOTHING
	`
	result, err := tx.ExecContext(ctx, query,
		alert.ID,
		alert.ReporterID,
		alert.ReporterName,
		alert.BusNumber,
		alert.Department,
		alert.PhoneNumber,
		alert.AlertType,
		alert.Priority,
		alert.LocationText,
		lat,
		lng,
		alert.AdditionalMessage,
		alert.AttachedImageRef,
		alert.Status,
		alert.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert alert: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rowsAffected > 0, nil
}

func (r *AlertRepository) FindByID(id uuid.UUID) (*model.EmergencyReport, error) {
	query := `SELECT ` + alertColumns + ` FROM emergency_alerts WHERE id = $1`

	alert, err := scanAlert(r.db.QueryRow(query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrAlertNotFound
		}
		return nil, err
	}
	return alert, nil
}

// Returns the reporter's alerts, newest first.
func (r *AlertRepository) FindByReporterID(reporterID uuid.UUID) ([]model.EmergencyReport, error) {
	query := `SELECT ` + alertColumns + ` FROM emergency_alerts WHERE reporter_id = $1 ORDER BY created_at DESC`

	rows, err := r.db.Query(query, reporterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanAlerts(rows)
}

// Returns all alerts for the dispatch board, optionally filtered by status.
// Critical alerts sort ahead of the rest.
func (r *AlertRepository) FindAll(status *model.AlertStatus) ([]model.EmergencyReport, error) {
	query := `SELECT ` + alertColumns + ` FROM emergency_alerts`
	var args []interface{}

	if status != nil {
		query += ` WHERE status = $1`
		args = append(args, *status)
	}
	query += ` ORDER BY CASE priority WHEN 'critical' THEN 0 WHEN 'high' THEN 1 WHEN 'medium' THEN 2 ELSE 3 END, created_at DESC`

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanAlerts(rows)
}

// ResolveInTransaction marks an active alert resolved and reports whether it changed.
func (r *AlertRepository) ResolveInTransaction(ctx context.Context, tx *sql.Tx, id uuid.UUID, at time.Time) (bool, error) {
	query := `UPDATE emergency_alerts SET status = $1, resolved_at = $2 WHERE id = $3 AND status = $4`
	result, err := tx.ExecContext(ctx, query, model.StatusResolved, at, id, model.StatusActive)
	if err != nil {
		return false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rowsAffected > 0, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAlert(row rowScanner) (*model.EmergencyReport, error) {
	alert := &model.EmergencyReport{}
	var lat, lng sql.NullFloat64
	var resolvedAt sql.NullTime

	err := row.Scan(
		&alert.ID,
		&alert.ReporterID,
		&alert.ReporterName,
		&alert.BusNumber,
		&alert.Department,
		&alert.PhoneNumber,
		&alert.AlertType,
		&alert.Priority,
		&alert.LocationText,
		&lat,
		&lng,
		&alert.AdditionalMessage,
		&alert.AttachedImageRef,
		&alert.Status,
		&alert.CreatedAt,
		&resolvedAt,
	)
	if err != nil {
		return nil, err
	}

	if lat.Valid && lng.Valid {
		alert.Coordinates = &model.Coordinates{Latitude: lat.Float64, Longitude: lng.Float64}
	}
	if resolvedAt.Valid {
		alert.ResolvedAt = &resolvedAt.Time
	}
	return alert, nil
}

func scanAlerts(rows *sql.Rows) ([]model.EmergencyReport, error) {
	var alerts []model.EmergencyReport
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, *alert)
	}
	return alerts, rows.Err()
}

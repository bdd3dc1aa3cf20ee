package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"sos-service/internal/messaging"
	"sos-service/internal/model"
	"sos-service/internal/repository"

	"github.com/google/uuid"
)

var (
	ErrAccessDenied    = errors.New("access denied")
	ErrAlreadyResolved = errors.New("alert already resolved")
)

type AlertService struct {
	alertRepo  *repository.AlertRepository
	outboxRepo *repository.OutboxRepository
	now        func() time.Time
}

func NewAlertService(alertRepo *repository.AlertRepository, outboxRepo *repository.OutboxRepository) *AlertService {
	return &AlertService{
		alertRepo:  alertRepo,
		outboxRepo: outboxRepo,
		now:        time.Now,
	}
}

// Submit stores the report and queues its broker event in one transaction.
// Submitting the same report again is a no-op, so a retry never raises a second alert.
func (s *AlertService) Submit(ctx context.Context, report *model.EmergencyReport) error {
	tx, err := s.alertRepo.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Insert alert, duplicate ids are skipped
	created, err := s.alertRepo.CreateInTransaction(ctx, tx, report)
	if err != nil {
		return err
	}

	// Queue broker event in the same transaction
	if created {
		if _, err := s.outboxRepo.Enqueue(ctx, tx, messaging.RoutingKeyAlertRaised, model.NewAlertRaisedMessage(report)); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	if created {
		log.Printf("alert: %s %s raised by %s", report.Priority, report.AlertType, report.ReporterID)
	} else {
		log.Printf("alert: %s already stored, skipping", report.ID)
	}
	return nil
}

// Returns a single alert. Reporters only see their own; dispatchers see all.
func (s *AlertService) GetAlert(id uuid.UUID, viewerID uuid.UUID, dispatcher bool) (*model.EmergencyReport, error) {
	alert, err := s.alertRepo.FindByID(id)
	if err != nil {
		return nil, err
	}
	// Check ownership
	if !dispatcher && alert.ReporterID != viewerID {
		return nil, ErrAccessDenied
	}
	return alert, nil
}

func (s *AlertService) ListMyAlerts(userID uuid.UUID) (*model.AlertListResponse, error) {
	alerts, err := s.alertRepo.FindByReporterID(userID)
	if err != nil {
		return nil, err
	}
	return listResponse(alerts), nil
}

func (s *AlertService) ListAlerts(status *model.AlertStatus) (*model.AlertListResponse, error) {
	// Validate status
	if status != nil && !status.Valid() {
		return nil, fmt.Errorf("invalid status %q", *status)
	}
	alerts, err := s.alertRepo.FindAll(status)
	if err != nil {
		return nil, err
	}
	return listResponse(alerts), nil
}

// ResolveAlert closes an active alert and notifies the reporter through the outbox.
func (s *AlertService) ResolveAlert(ctx context.Context, id uuid.UUID) (*model.EmergencyReport, error) {
	alert, err := s.alertRepo.FindByID(id)
	if err != nil {
		return nil, err
	}
	if alert.Status == model.StatusResolved {
		return nil, ErrAlreadyResolved
	}

	tx, err := s.alertRepo.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Conditional update, a concurrent resolve leaves changed false
	resolvedAt := s.now()
	changed, err := s.alertRepo.ResolveInTransaction(ctx, tx, id, resolvedAt)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, ErrAlreadyResolved
	}

	// Notify reporter through the outbox
	msg := model.AlertResolvedMessage{
		AlertID:    alert.ID.String(),
		AlertType:  string(alert.AlertType),
		ReporterID: alert.ReporterID.String(),
		Timestamp:  resolvedAt.UnixMilli(),
	}
	if _, err := s.outboxRepo.Enqueue(ctx, tx, messaging.RoutingKeyAlertResolved, msg); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	alert.Status = model.StatusResolved
	alert.ResolvedAt = &resolvedAt
	log.Printf("alert: %s resolved", alert.ID)
	return alert, nil
}

func listResponse(alerts []model.EmergencyReport) *model.AlertListResponse {
	if alerts == nil {
		alerts = []model.EmergencyReport{}
	}
	return &model.AlertListResponse{
		Alerts: alerts,
		Total:  len(alerts),
	}
}

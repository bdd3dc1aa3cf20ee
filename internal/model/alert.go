package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type AlertType string

const (
	AlertMedicalEmergency AlertType = "medical_emergency"
	AlertBusAccident      AlertType = "bus_accident"
	AlertFireInBus        AlertType = "fire_in_bus"
	AlertBusBreakdown     AlertType = "bus_breakdown"
	AlertBrakeFailure     AlertType = "brake_failure"
	AlertHarassment       AlertType = "harassment"
	AlertSafetyConcern    AlertType = "safety_concern"
	AlertOther            AlertType = "other"
	AlertSOSPanic         AlertType = "sos_panic"
)

type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

type AlertStatus string

const (
	StatusActive   AlertStatus = "active"
	StatusResolved AlertStatus = "resolved"
)

const (
	// LocationUnknown replaces the location text when no fix could be obtained.
	LocationUnknown = "Location unknown"
	// PanicMessage is attached to every report raised by the panic trigger.
	PanicMessage = "SOS Emergency - Immediate assistance required"
)

var defaultPriorities = map[AlertType]Priority{
	AlertMedicalEmergency: PriorityCritical,
	AlertBusAccident:      PriorityCritical,
	AlertFireInBus:        PriorityCritical,
	AlertBusBreakdown:     PriorityHigh,
	AlertBrakeFailure:     PriorityHigh,
	AlertHarassment:       PriorityHigh,
	AlertSafetyConcern:    PriorityMedium,
	AlertOther:            PriorityLow,
	AlertSOSPanic:         PriorityCritical,
}

// ReportableTypes lists the alert types a user can pick in the guided form, in display order.
var ReportableTypes = []AlertType{
	AlertMedicalEmergency,
	AlertBusAccident,
	AlertFireInBus,
	AlertBusBreakdown,
	AlertBrakeFailure,
	AlertHarassment,
	AlertSafetyConcern,
	AlertOther,
}

func (t AlertType) Valid() bool {
	_, ok := defaultPriorities[t]
	return ok
}

// Reportable reports whether t can be selected in the guided form. SOS panic reports
// are only synthesized by the countdown.
func (t AlertType) Reportable() bool {
	return t.Valid() && t != AlertSOSPanic
}

// DefaultPriority returns the priority a freshly selected alert type starts with.
func (t AlertType) DefaultPriority() Priority {
	return defaultPriorities[t]
}

func (p Priority) Valid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

func (s AlertStatus) Valid() bool {
	return s == StatusActive || s == StatusResolved
}

type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Profile is the reporter identity supplied by the gateway or the bearer token.
type Profile struct {
	UserID      uuid.UUID `json:"user_id"`
	Name        string    `json:"name"`
	Role        string    `json:"role"`
	Department  string    `json:"department"`
	PhoneNumber string    `json:"phone_number"`
	BusNumber   string    `json:"bus_number"`
}

// EmergencyReport is assembled once per submission and never mutated afterwards.
type EmergencyReport struct {
	ID                uuid.UUID    `json:"id"`
	ReporterID        uuid.UUID    `json:"reporter_id"`
	ReporterName      string       `json:"reporter_name"`
	BusNumber         string       `json:"bus_number"`
	Department        string       `json:"department"`
	PhoneNumber       string       `json:"phone_number"`
	AlertType         AlertType    `json:"alert_type"`
	Priority          Priority     `json:"priority"`
	LocationText      string       `json:"location_text"`
	Coordinates       *Coordinates `json:"coordinates,omitempty"`
	AdditionalMessage string       `json:"additional_message,omitempty"`
	AttachedImageRef  string       `json:"attached_image_ref,omitempty"`
	Status            AlertStatus  `json:"status"`
	CreatedAt         time.Time    `json:"created_at"`
	ResolvedAt        *time.Time   `json:"resolved_at,omitempty"`
}

// CreatedAtEpochMillis is the creation time in the unit mobile clients expect.
func (r *EmergencyReport) CreatedAtEpochMillis() int64 {
	return r.CreatedAt.UnixMilli()
}

type reportJSON EmergencyReport

// MarshalJSON writes created_at and resolved_at as epoch milliseconds.
func (r EmergencyReport) MarshalJSON() ([]byte, error) {
	out := struct {
		reportJSON
		CreatedAt  int64  `json:"created_at"`
		ResolvedAt *int64 `json:"resolved_at,omitempty"`
	}{reportJSON: reportJSON(r), CreatedAt: r.CreatedAt.UnixMilli()}
	if r.ResolvedAt != nil {
		ms := r.ResolvedAt.UnixMilli()
		out.ResolvedAt = &ms
	}
	return json.Marshal(out)
}

func (r *EmergencyReport) UnmarshalJSON(b []byte) error {
	in := struct {
		*reportJSON
		CreatedAt  int64  `json:"created_at"`
		ResolvedAt *int64 `json:"resolved_at,omitempty"`
	}{reportJSON: (*reportJSON)(r)}
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	r.CreatedAt = time.UnixMilli(in.CreatedAt).UTC()
	r.ResolvedAt = nil
	if in.ResolvedAt != nil {
		resolved := time.UnixMilli(*in.ResolvedAt).UTC()
		r.ResolvedAt = &resolved
	}
	return nil
}

// Draft holds the editable fields of the guided report form.
type Draft struct {
	AlertType         AlertType `json:"alert_type,omitempty"`
	Priority          Priority  `json:"priority,omitempty"`
	LocationText      string    `json:"location_text"`
	AdditionalMessage string    `json:"additional_message"`
	AttachedImageRef  string    `json:"attached_image_ref,omitempty"`
}

// Request/Response DTOs
type UpdateDraftRequest struct {
	AlertType         *AlertType `json:"alert_type"`
	Priority          *Priority  `json:"priority"`
	LocationText      *string    `json:"location_text"`
	AdditionalMessage *string    `json:"additional_message"`
	AttachedImageRef  *string    `json:"attached_image_ref"`
}

type LocationFixRequest struct {
	Latitude  *float64 `json:"latitude" binding:"required"`
	Longitude *float64 `json:"longitude" binding:"required"`
}

type AlertListResponse struct {
	Alerts []EmergencyReport `json:"alerts"`
	Total  int               `json:"total"`
}

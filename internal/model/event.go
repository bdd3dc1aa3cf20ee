package model

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventStateChanged EventType = "state_changed"
	EventCountdown    EventType = "countdown"
	EventSubmitted    EventType = "submitted"
	EventFailed       EventType = "failed"
	EventHapticStart  EventType = "haptic_start"
	EventHapticStop   EventType = "haptic_stop"
	EventNotification EventType = "notification"
)

// SessionEvent is pushed to a user's connected devices over SSE or WebSocket.
type SessionEvent struct {
	Type         EventType     `json:"type"`
	UserID       uuid.UUID     `json:"user_id"`
	State        string        `json:"state,omitempty"`
	Countdown    int           `json:"countdown,omitempty"`
	ReportID     *uuid.UUID    `json:"report_id,omitempty"`
	Message      string        `json:"message,omitempty"`
	Notification *Notification `json:"notification,omitempty"`
	Timestamp    time.Time     `json:"timestamp"`
}

type Notification struct {
	ID        uuid.UUID  `json:"id"`
	UserID    uuid.UUID  `json:"user_id"`
	AlertID   *uuid.UUID `json:"alert_id,omitempty"`
	Title     string     `json:"title"`
	Message   string     `json:"message"`
	IsRead    bool       `json:"is_read"`
	CreatedAt time.Time  `json:"created_at"`
}

type NotificationListResponse struct {
	Notifications []Notification `json:"notifications"`
	UnreadCount   int            `json:"unread_count"`
}

// Broker payloads
type AlertRaisedMessage struct {
	AlertID      string   `json:"alert_id"`
	AlertType    string   `json:"alert_type"`
	Priority     string   `json:"priority"`
	ReporterID   string   `json:"reporter_id"`
	ReporterName string   `json:"reporter_name"`
	BusNumber    string   `json:"bus_number,omitempty"`
	PhoneNumber  string   `json:"phone_number,omitempty"`
	LocationText string   `json:"location_text"`
	Latitude     *float64 `json:"latitude,omitempty"`
	Longitude    *float64 `json:"longitude,omitempty"`
	Message      string   `json:"message,omitempty"`
	Timestamp    int64    `json:"timestamp"`
}

type AlertResolvedMessage struct {
	AlertID    string `json:"alert_id"`
	AlertType  string `json:"alert_type"`
	ReporterID string `json:"reporter_id"`
	Timestamp  int64  `json:"timestamp"`
}

// NewAlertRaisedMessage flattens a report into the dispatch payload.
func NewAlertRaisedMessage(r *EmergencyReport) AlertRaisedMessage {
	msg := AlertRaisedMessage{
		AlertID:      r.ID.String(),
		AlertType:    string(r.AlertType),
		Priority:     string(r.Priority),
		ReporterID:   r.ReporterID.String(),
		ReporterName: r.ReporterName,
		BusNumber:    r.BusNumber,
		PhoneNumber:  r.PhoneNumber,
		LocationText: r.LocationText,
		Message:      r.AdditionalMessage,
		Timestamp:    r.CreatedAtEpochMillis(),
	}
	if r.Coordinates != nil {
		lat, lng := r.Coordinates.Latitude, r.Coordinates.Longitude
		msg.Latitude = &lat
		msg.Longitude = &lng
	}
	return msg
}

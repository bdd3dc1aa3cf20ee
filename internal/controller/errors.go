package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	SuccessMessage = "Emergency alert sent successfully. Help is on the way."
	FailureAdvice  = "Failed to send emergency alert. Please call emergency services directly."
)

var (
	ErrInvalidTransition   = errors.New("invalid state transition")
	ErrNotDrafting         = errors.New("no draft in progress")
	ErrInvalidAlertType    = errors.New("invalid alert type")
	ErrInvalidPriority     = errors.New("invalid priority")
	ErrLocationUnavailable = errors.New("location unavailable")
	ErrSuperseded          = errors.New("report superseded by reset")
)

// ValidationError is returned by SubmitDraft when required fields are missing.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "missing required fields: " + strings.Join(e.Fields, ", ")
}

// Message is the corrective text shown next to the form.
func (e *ValidationError) Message() string {
	return "Please select an emergency type and provide your location."
}

// SubmissionError wraps a failed or timed out hand-off to the AlertSubmitter.
type SubmissionError struct {
	ReportID uuid.UUID
	Err      error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submit alert %s: %v", e.ReportID, e.Err)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

func (e *SubmissionError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

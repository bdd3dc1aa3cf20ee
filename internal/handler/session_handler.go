package handler

import (
	"context"
	"errors"
	"log"
	"net/http"

	"sos-service/internal/controller"
	"sos-service/internal/model"
	"sos-service/internal/service"

	"github.com/gin-gonic/gin"
)

type SessionHandler struct {
	sessions *service.SessionService
}

func NewSessionHandler(sessions *service.SessionService) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

func (h *SessionHandler) session(c *gin.Context) *controller.Controller {
	return h.sessions.For(currentProfile(c))
}

// Handles GET /session - current state of the caller's emergency flow.
func (h *SessionHandler) GetSnapshot(c *gin.Context) {
	c.JSON(http.StatusOK, h.session(c).Snapshot())
}

// Handles POST /session/draft - opens the guided report form.
func (h *SessionHandler) StartDraft(c *gin.Context) {
	ctrl := h.session(c)
	if err := ctrl.StartDraft(); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ctrl.Snapshot())
}

// Handles PATCH /session/draft - edits any subset of the draft fields.
func (h *SessionHandler) UpdateDraft(c *gin.Context) {
	var req model.UpdateDraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Apply fields in form order, stop at the first rejection
	ctrl := h.session(c)
	var err error
	if req.AlertType != nil && err == nil {
		err = ctrl.SetAlertType(*req.AlertType)
	}
	if req.Priority != nil && err == nil {
		err = ctrl.SetPriority(*req.Priority)
	}
	if req.LocationText != nil && err == nil {
		err = ctrl.SetLocationText(*req.LocationText)
	}
	if req.AdditionalMessage != nil && err == nil {
		err = ctrl.SetAdditionalMessage(*req.AdditionalMessage)
	}
	if req.AttachedImageRef != nil && err == nil {
		err = ctrl.AttachImage(*req.AttachedImageRef)
	}
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, ctrl.Snapshot())
}

// Handles POST /session/draft/submit - blocks until dispatch accepts or the submit times out.
func (h *SessionHandler) SubmitDraft(c *gin.Context) {
	report, err := h.session(c).SubmitDraft(submitContext(c))
	if err != nil {
		writeSubmitError(c, report, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": controller.SuccessMessage,
		"report":  report,
	})
}

// Handles POST /session/panic - arms the SOS countdown.
func (h *SessionHandler) ArmPanic(c *gin.Context) {
	ctrl := h.session(c)
	if err := ctrl.ArmPanic(); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, ctrl.Snapshot())
}

// Handles DELETE /session/panic - cancels a running countdown.
func (h *SessionHandler) CancelPanic(c *gin.Context) {
	ctrl := h.session(c)
	cancelled := ctrl.CancelPanic()
	c.JSON(http.StatusOK, gin.H{
		"cancelled": cancelled,
		"state":     ctrl.State(),
	})
}

// Handles POST /session/retry - resubmits the failed report unchanged.
func (h *SessionHandler) Retry(c *gin.Context) {
	report, err := h.session(c).Retry(submitContext(c))
	if err != nil {
		writeSubmitError(c, report, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": controller.SuccessMessage,
		"report":  report,
	})
}

func (h *SessionHandler) Abandon(c *gin.Context) {
	ctrl := h.session(c)
	if err := ctrl.Abandon(); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ctrl.Snapshot())
}

func (h *SessionHandler) Reset(c *gin.Context) {
	ctrl := h.session(c)
	ctrl.Reset()
	c.JSON(http.StatusOK, ctrl.Snapshot())
}

// Handles POST /session/location - records the device's latest GPS fix.
func (h *SessionHandler) UpdateLocation(c *gin.Context) {
	var req model.LocationFixRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Binding already rejected missing coordinates
	profile := currentProfile(c)
	coords := model.Coordinates{Latitude: *req.Latitude, Longitude: *req.Longitude}
	if err := h.sessions.UpdateLocation(profile.UserID, coords); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "location updated"})
}

// A dropped HTTP connection must not abort an emergency submission; the
// controller applies its own timeout.
func submitContext(c *gin.Context) context.Context {
	return context.WithoutCancel(c.Request.Context())
}

func writeSubmitError(c *gin.Context, report *model.EmergencyReport, err error) {
	var serr *controller.SubmissionError
	if errors.As(err, &serr) {
		status := http.StatusBadGateway
		if serr.Timeout() {
			status = http.StatusGatewayTimeout
		}
		c.JSON(status, gin.H{
			"error":     controller.FailureAdvice,
			"detail":    serr.Error(),
			"report_id": serr.ReportID,
		})
		return
	}

	if errors.Is(err, controller.ErrSuperseded) && report != nil {
		c.JSON(http.StatusConflict, gin.H{
			"error":     err.Error(),
			"report_id": report.ID,
		})
		return
	}

	writeError(c, err)
}

func writeError(c *gin.Context, err error) {
	var verr *controller.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  verr.Message(),
			"fields": verr.Fields,
		})
	case errors.Is(err, controller.ErrInvalidAlertType), errors.Is(err, controller.ErrInvalidPriority):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, controller.ErrNotDrafting),
		errors.Is(err, controller.ErrInvalidTransition),
		errors.Is(err, controller.ErrSuperseded):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		log.Printf("handler: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

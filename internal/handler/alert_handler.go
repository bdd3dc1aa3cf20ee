package handler

import (
	"errors"
	"net/http"

	"sos-service/internal/model"
	"sos-service/internal/repository"
	"sos-service/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type AlertHandler struct {
	alertService *service.AlertService
}

func NewAlertHandler(alertService *service.AlertService) *AlertHandler {
	return &AlertHandler{alertService: alertService}
}

// Handles GET /alerts/my - the caller's alert history.
func (h *AlertHandler) GetMyAlerts(c *gin.Context) {
	response, err := h.alertService.ListMyAlerts(currentProfile(c).UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, response)
}

// Handles GET /alerts/:id - owner or dispatcher only.
func (h *AlertHandler) GetAlert(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid alert ID"})
		return
	}

	// Dispatchers bypass the ownership check
	profile := currentProfile(c)
	alert, err := h.alertService.GetAlert(id, profile.UserID, isDispatcher(profile.Role))
	if err != nil {
		writeAlertError(c, err)
		return
	}
	c.JSON(http.StatusOK, alert)
}

// Handles GET /alerts - dispatch board, optional ?status=active|resolved.
func (h *AlertHandler) GetAlerts(c *gin.Context) {
	// Validate status filter
	var status *model.AlertStatus
	if s := c.Query("status"); s != "" {
		st := model.AlertStatus(s)
		if !st.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
			return
		}
		status = &st
	}

	response, err := h.alertService.ListAlerts(status)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, response)
}

// Handles PATCH /alerts/:id/resolve
func (h *AlertHandler) ResolveAlert(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid alert ID"})
		return
	}

	alert, err := h.alertService.ResolveAlert(c.Request.Context(), id)
	if err != nil {
		writeAlertError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Alert resolved",
		"alert":   alert,
	})
}

func writeAlertError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repository.ErrAlertNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "alert not found"})
	case errors.Is(err, service.ErrAccessDenied):
		c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
	case errors.Is(err, service.ErrAlreadyResolved):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

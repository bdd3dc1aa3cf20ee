package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type Pinger interface {
	PingContext(ctx context.Context) error
}

type OutboxStats interface {
	Stats() (map[string]int, error)
}

type QueueInspector interface {
	QueueDepths() (map[string]int, error)
}

type HealthHandler struct {
	db     Pinger
	outbox OutboxStats
	queues QueueInspector
}

func NewHealthHandler(db Pinger, outbox OutboxStats, queues QueueInspector) *HealthHandler {
	return &HealthHandler{db: db, outbox: outbox, queues: queues}
}

// Handles GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "database": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "sos-service"})
}

// Handles GET /admin/outbox/stats - outbox backlog plus broker queue depths.
func (h *HealthHandler) OutboxStats(c *gin.Context) {
	stats, err := h.outbox.Stats()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	response := gin.H{"outbox": stats}
	if h.queues != nil {
		if depths, err := h.queues.QueueDepths(); err == nil {
			response["queues"] = depths
		} else {
			response["queues_error"] = err.Error()
		}
	}
	c.JSON(http.StatusOK, response)
}

package handler

import (
	"github.com/gin-gonic/gin"
)

type Handlers struct {
	Session      *SessionHandler
	Stream       *StreamHandler
	Alert        *AlertHandler
	Notification *NotificationHandler
	Health       *HealthHandler
}

func SetupRouter(h Handlers, jwtSecret string) *gin.Engine {
	r := gin.Default()

	// Health check
	r.GET("/health", h.Health.Health)

	auth := r.Group("/", Identity(jwtSecret))

	// Emergency flow routes (auth required)
	session := auth.Group("/session")
	{
		session.GET("", h.Session.GetSnapshot)
		session.POST("/draft", h.Session.StartDraft)
		session.PATCH("/draft", h.Session.UpdateDraft)
		session.POST("/draft/submit", h.Session.SubmitDraft)
		session.POST("/panic", h.Session.ArmPanic)
		session.DELETE("/panic", h.Session.CancelPanic)
		session.POST("/retry", h.Session.Retry)
		session.POST("/abandon", h.Session.Abandon)
		session.POST("/reset", h.Session.Reset)
		session.POST("/location", h.Session.UpdateLocation)
		session.GET("/stream", h.Stream.StreamSSE)
		session.GET("/ws", h.Stream.ServeWS)
	}

	// Alert routes, board and resolve are dispatcher only
	alerts := auth.Group("/alerts")
	{
		alerts.GET("/my", h.Alert.GetMyAlerts)
		alerts.GET("/:id", h.Alert.GetAlert)
		alerts.GET("", RequireDispatcher(), h.Alert.GetAlerts)
		alerts.PATCH("/:id/resolve", RequireDispatcher(), h.Alert.ResolveAlert)
	}

	// Notification routes (auth required)
	notifications := auth.Group("/notifications")
	{
		notifications.GET("", h.Notification.GetNotifications)
		notifications.PATCH("/:id/read", h.Notification.MarkAsRead)
		notifications.PATCH("/read-all", h.Notification.MarkAllAsRead)
	}

	// Admin/monitoring routes
	admin := auth.Group("/admin", RequireDispatcher())
	{
		admin.GET("/outbox/stats", h.Health.OutboxStats)
	}

	return r
}

package handler

import (
	"log"
	"net/http"
	"time"

	"sos-service/internal/messaging"
	"sos-service/internal/model"
	"sos-service/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	writeWait    = 10 * time.Second
	maxWSMessage = 1024
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StreamHandler pushes session events to the device over SSE or WebSocket.
type StreamHandler struct {
	sessions      *service.SessionService
	notifications *service.NotificationService
}

func NewStreamHandler(sessions *service.SessionService, notifications *service.NotificationService) *StreamHandler {
	return &StreamHandler{
		sessions:      sessions,
		notifications: notifications,
	}
}

// Handles GET /session/stream
func (h *StreamHandler) StreamSSE(c *gin.Context) {
	profile := currentProfile(c)

	// Set headers for SSE
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	client := h.notifications.RegisterClient(profile.UserID)
	defer h.notifications.UnregisterClient(client)

	// Send current state first so the client can render without waiting
	c.SSEvent("connected", h.sessions.For(profile).Snapshot())
	c.Writer.Flush()

	clientGone := c.Request.Context().Done()

	for {
		select {
		case <-clientGone:
			return
		case event, ok := <-client.Events:
			if !ok {
				return
			}
			c.SSEvent(string(event.Type), event)
			c.Writer.Flush()
		}
	}
}

type wsCommand struct {
	Type      string   `json:"type"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

type wsReply struct {
	Type     string      `json:"type"`
	Error    string      `json:"error,omitempty"`
	Snapshot interface{} `json:"snapshot,omitempty"`
}

// Handles GET /session/ws. Events flow out; location fixes and panic arm/cancel
// commands flow in.
func (h *StreamHandler) ServeWS(c *gin.Context) {
	profile := currentProfile(c)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("ws: upgrade failed for %s: %v", profile.UserID, err)
		return
	}

	client := h.notifications.RegisterClient(profile.UserID)
	replies := make(chan wsReply, 8)
	done := make(chan struct{})
	writerDone := make(chan struct{})

	replies <- wsReply{Type: "snapshot", Snapshot: h.sessions.For(profile).Snapshot()}

	go func() {
		defer close(writerDone)
		h.writeLoop(conn, client, replies, done)
	}()

	h.readLoop(conn, profile, replies)

	close(done)
	<-writerDone
	h.notifications.UnregisterClient(client)
	conn.Close()
	log.Printf("ws: connection closed for %s", profile.UserID)
}

func (h *StreamHandler) readLoop(conn *websocket.Conn, profile model.Profile, replies chan<- wsReply) {
	conn.SetReadLimit(maxWSMessage)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var cmd wsCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("ws: read from %s: %v", profile.UserID, err)
			}
			return
		}

		reply := h.apply(profile, cmd)
		select {
		case replies <- reply:
		default:
		}
	}
}

func (h *StreamHandler) apply(profile model.Profile, cmd wsCommand) wsReply {
	ctrl := h.sessions.For(profile)

	switch cmd.Type {
	case "location":
		if cmd.Latitude == nil || cmd.Longitude == nil {
			return wsReply{Type: "error", Error: "latitude and longitude are required"}
		}
		coords := model.Coordinates{Latitude: *cmd.Latitude, Longitude: *cmd.Longitude}
		if err := h.sessions.UpdateLocation(profile.UserID, coords); err != nil {
			return wsReply{Type: "error", Error: err.Error()}
		}
		return wsReply{Type: "ack"}
	case "arm":
		if err := ctrl.ArmPanic(); err != nil {
			return wsReply{Type: "error", Error: err.Error()}
		}
		return wsReply{Type: "ack"}
	case "cancel":
		ctrl.CancelPanic()
		return wsReply{Type: "ack"}
	case "snapshot":
		return wsReply{Type: "snapshot", Snapshot: ctrl.Snapshot()}
	}
	return wsReply{Type: "error", Error: "unknown command " + cmd.Type}
}

func (h *StreamHandler) writeLoop(conn *websocket.Conn, client *messaging.Client, replies <-chan wsReply, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	write := func(v interface{}) bool {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(v); err != nil {
			conn.Close()
			return false
		}
		return true
	}

	for {
		select {
		case <-done:
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case reply := <-replies:
			if !write(reply) {
				return
			}
		case event, ok := <-client.Events:
			if !ok {
				return
			}
			if !write(event) {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				conn.Close()
				return
			}
		}
	}
}

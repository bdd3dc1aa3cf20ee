package messaging

import (
	"log"
	"sync"

	"sos-service/internal/model"

	"github.com/google/uuid"
)

const (
	broadcastBuffer = 256
	clientBuffer    = 32
)

// Client is one connected device stream (SSE or WebSocket) for a user.
type Client struct {
	UserID uuid.UUID
	Events chan model.SessionEvent
}

// Hub fans session events out to every device a user has connected.
type Hub struct {
	clients    map[uuid.UUID][]*Client
	register   chan *Client
	unregister chan *Client
	broadcast  chan model.SessionEvent
	done       chan struct{}
	mu         sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[uuid.UUID][]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan model.SessionEvent, broadcastBuffer),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.UserID] = append(h.clients[client.UserID], client)
			h.mu.Unlock()
			log.Printf("hub: client registered for user %s", client.UserID)

		case client := <-h.unregister:
			h.mu.Lock()
			userClients := h.clients[client.UserID]
			for i, c := range userClients {
				if c == client {
					h.clients[client.UserID] = append(userClients[:i], userClients[i+1:]...)
					close(client.Events)
					break
				}
			}
			if len(h.clients[client.UserID]) == 0 {
				delete(h.clients, client.UserID)
			}
			h.mu.Unlock()
			log.Printf("hub: client unregistered for user %s", client.UserID)

		case event := <-h.broadcast:
			h.mu.RLock()
			for _, client := range h.clients[event.UserID] {
				select {
				case client.Events <- event:
				default:
					// slow client, drop
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) Stop() {
	close(h.done)
}

func (h *Hub) RegisterClient(userID uuid.UUID) *Client {
	client := &Client{
		UserID: userID,
		Events: make(chan model.SessionEvent, clientBuffer),
	}
	select {
	case h.register <- client:
	case <-h.done:
		// hub stopped, hand back a closed stream
		close(client.Events)
	}
	return client
}

func (h *Hub) UnregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Notify queues an event for the user's devices. It never blocks; events are
// dropped when the hub is saturated.
func (h *Hub) Notify(event model.SessionEvent) {
	select {
	case h.broadcast <- event:
	default:
		log.Printf("hub: dropped %s event for user %s", event.Type, event.UserID)
	}
}

// Connected reports how many devices the user currently has open.
func (h *Hub) Connected(userID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

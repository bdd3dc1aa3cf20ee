package device

import (
	"time"

	"sos-service/internal/controller"
	"sos-service/internal/model"

	"github.com/google/uuid"
)

// HubHaptics forwards vibration commands to the user's connected devices.
// A device that is not connected simply misses them.
type HubHaptics struct {
	notifier controller.Notifier
	userID   uuid.UUID
}

func NewHubHaptics(notifier controller.Notifier, userID uuid.UUID) *HubHaptics {
	return &HubHaptics{notifier: notifier, userID: userID}
}

func (h *HubHaptics) StartContinuous() {
	h.send(model.EventHapticStart)
}

func (h *HubHaptics) StopAll() {
	h.send(model.EventHapticStop)
}

func (h *HubHaptics) send(t model.EventType) {
	h.notifier.Notify(model.SessionEvent{
		Type:      t,
		UserID:    h.userID,
		Timestamp: time.Now(),
	})
}

package controller

import (
	"context"
	"time"

	"sos-service/internal/model"
)

// LocationProvider yields the reporter's current position. Unavailability is a normal
// outcome and is reported as an error the controller degrades to model.LocationUnknown.
type LocationProvider interface {
	CurrentLocation(ctx context.Context) (*model.Coordinates, error)
}

// HapticFeedback drives the device vibration. Calls are fire-and-forget and must not block.
type HapticFeedback interface {
	StartContinuous()
	StopAll()
}

// AlertSubmitter hands a finished report to the dispatch side. It is the only way a
// report leaves the controller.
type AlertSubmitter interface {
	Submit(ctx context.Context, report *model.EmergencyReport) error
}

// Notifier receives user-visible acknowledgments and state changes. Notify is called
// with the controller lock held and must not block.
type Notifier interface {
	Notify(event model.SessionEvent)
}

// Collaborators groups the capabilities a Controller depends on. Only Submitter is required.
type Collaborators struct {
	Location  LocationProvider
	Haptics   HapticFeedback
	Submitter AlertSubmitter
	Notifier  Notifier
}

// TickerFunc starts a repeating tick source and returns its channel and a stop function.
type TickerFunc func(d time.Duration) (<-chan time.Time, func())

func systemTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

type noopHaptics struct{}

func (noopHaptics) StartContinuous() {}
func (noopHaptics) StopAll()         {}

type noopNotifier struct{}

func (noopNotifier) Notify(model.SessionEvent) {}

type noLocation struct{}

func (noLocation) CurrentLocation(context.Context) (*model.Coordinates, error) {
	return nil, ErrLocationUnavailable
}

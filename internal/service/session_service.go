package service

import (
	"log"
	"sync"
	"time"

	"sos-service/config"
	"sos-service/internal/controller"
	"sos-service/internal/device"
	"sos-service/internal/model"

	"github.com/google/uuid"
)

type session struct {
	ctrl     *controller.Controller
	lastSeen time.Time
}

// SessionService owns one emergency controller per user. Controllers are built on
// first use and never shared between users.
type SessionService struct {
	mu        sync.Mutex
	sessions  map[uuid.UUID]*session
	submitter controller.AlertSubmitter
	locations *device.LocationStore
	notifier  controller.Notifier
	opts      controller.Options
	now       func() time.Time

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewSessionService(submitter controller.AlertSubmitter, locations *device.LocationStore, notifier controller.Notifier, opts controller.Options) *SessionService {
	return &SessionService{
		sessions:  make(map[uuid.UUID]*session),
		submitter: submitter,
		locations: locations,
		notifier:  notifier,
		opts:      opts,
		now:       time.Now,
		done:      make(chan struct{}),
	}
}

// ControllerOptions maps the controller section of the config file.
func ControllerOptions(cfg config.ControllerConfig) controller.Options {
	return controller.Options{
		CountdownTicks:  cfg.CountdownTicks,
		TickInterval:    cfg.TickInterval.Duration,
		SubmitTimeout:   cfg.SubmitTimeout.Duration,
		LocationTimeout: cfg.LocationTimeout.Duration,
		SOSActiveWindow: cfg.SOSActiveWindow.Duration,
	}
}

// For returns the user's controller, creating it if needed. The profile from the
// caller's token is pushed into an existing controller so later reports carry
// the latest name, bus and phone.
func (s *SessionService) For(profile model.Profile) *controller.Controller {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[profile.UserID]; ok {
		sess.ctrl.SetProfile(profile)
		sess.lastSeen = s.now()
		return sess.ctrl
	}

	c := controller.New(profile, controller.Collaborators{
		Location:  s.locations.ProviderFor(profile.UserID),
		Haptics:   device.NewHubHaptics(s.notifier, profile.UserID),
		Submitter: s.submitter,
		Notifier:  s.notifier,
	}, s.opts)
	s.sessions[profile.UserID] = &session{ctrl: c, lastSeen: s.now()}
	log.Printf("session: controller created for user %s", profile.UserID)
	return c
}

func (s *SessionService) Lookup(userID uuid.UUID) (*controller.Controller, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[userID]
	if !ok {
		return nil, false
	}
	return sess.ctrl, true
}

func (s *SessionService) UpdateLocation(userID uuid.UUID, coords model.Coordinates) error {
	return s.locations.Update(userID, coords)
}

func (s *SessionService) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// EvictIdle drops controllers untouched for longer than ttl. A controller is
// kept while it is mid-flow or its SOS window is still open.
func (s *SessionService) EvictIdle(ttl time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-ttl)
	evicted := 0
	for id, sess := range s.sessions {
		if sess.lastSeen.After(cutoff) {
			continue
		}
		if sess.ctrl.State() != controller.StateIdle || sess.ctrl.SOSActive() {
			continue
		}
		sess.ctrl.Close()
		delete(s.sessions, id)
		evicted++
	}
	if evicted > 0 {
		log.Printf("session: evicted %d idle controllers", evicted)
	}
	return evicted
}

// StartEviction runs EvictIdle every interval until Close.
func (s *SessionService) StartEviction(ttl, interval time.Duration) {
	if ttl <= 0 || interval <= 0 {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.done:
				return
			case <-ticker.C:
				s.EvictIdle(ttl)
			}
		}
	}()
}

// Close stops every countdown and in-flight wait. Alerts already handed to the
// submitter are not recalled.
func (s *SessionService) Close() {
	s.stopOnce.Do(func() { close(s.done) })
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, sess := range s.sessions {
		sess.ctrl.Close()
		delete(s.sessions, id)
	}
	log.Println("session: all controllers closed")
}

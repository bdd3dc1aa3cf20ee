package device

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sos-service/internal/controller"
	"sos-service/internal/model"

	"github.com/google/uuid"
)

type fix struct {
	coords model.Coordinates
	at     time.Time
}

// LocationStore keeps the most recent GPS fix each device pushed for its user.
type LocationStore struct {
	mu     sync.RWMutex
	fixes  map[uuid.UUID]fix
	maxAge time.Duration
	now    func() time.Time
}

func NewLocationStore(maxAge time.Duration) *LocationStore {
	return &LocationStore{
		fixes:  make(map[uuid.UUID]fix),
		maxAge: maxAge,
		now:    time.Now,
	}
}

// Update records a fix. Coordinates outside the valid lat/lng range are rejected.
func (s *LocationStore) Update(userID uuid.UUID, coords model.Coordinates) error {
	if coords.Latitude < -90 || coords.Latitude > 90 || coords.Longitude < -180 || coords.Longitude > 180 {
		return fmt.Errorf("coordinates out of range: %f, %f", coords.Latitude, coords.Longitude)
	}

	s.mu.Lock()
	s.fixes[userID] = fix{coords: coords, at: s.now()}
	s.mu.Unlock()
	return nil
}

// Latest returns the user's fix if it is not older than the max age.
func (s *LocationStore) Latest(userID uuid.UUID) (*model.Coordinates, bool) {
	s.mu.RLock()
	f, ok := s.fixes[userID]
	s.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if s.maxAge > 0 && s.now().Sub(f.at) > s.maxAge {
		return nil, false
	}
	coords := f.coords
	return &coords, true
}

func (s *LocationStore) Forget(userID uuid.UUID) {
	s.mu.Lock()
	delete(s.fixes, userID)
	s.mu.Unlock()
}

// ProviderFor binds the store to one user so it can back that user's controller.
func (s *LocationStore) ProviderFor(userID uuid.UUID) controller.LocationProvider {
	return &userLocation{store: s, userID: userID}
}

type userLocation struct {
	store  *LocationStore
	userID uuid.UUID
}

func (l *userLocation) CurrentLocation(ctx context.Context) (*model.Coordinates, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	coords, ok := l.store.Latest(l.userID)
	if !ok {
		return nil, controller.ErrLocationUnavailable
	}
	return coords, nil
}

package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/example/ride-dispatch/internal/models"
)

var (
	ErrRideNotFound  = errors.New("ride not found")
	ErrDuplicateRide = errors.New("ride already exists")
	// ErrStaleRide means the ride's status no longer matched the expected one.
	ErrStaleRide = errors.New("ride status changed concurrently")
)

// TripStore defines persistence operations for rides.
type TripStore interface {
	SaveRide(ctx context.Context, r *models.Ride) error
	GetRide(ctx context.Context, id string) (*models.Ride, error)
	// UpdateRide writes r only if the stored status still equals expected.
	UpdateRide(ctx context.Context, r *models.Ride, expected models.RideStatus) error
	ListByRider(ctx context.Context, riderID string) ([]models.Ride, error)
	ListByCaptain(ctx context.Context, captainID string) ([]models.Ride, error)
}

type MemoryStore struct {
	mu    sync.RWMutex
	rides map[string]*models.Ride
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rides: make(map[string]*models.Ride)}
}

func (m *MemoryStore) SaveRide(_ context.Context, r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rides[r.ID]; ok {
		return ErrDuplicateRide
	}
	m.rides[r.ID] = r.Clone()
	return nil
}

func (m *MemoryStore) GetRide(_ context.Context, id string) (*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, ErrRideNotFound
	}
	return r.Clone(), nil
}

func (m *MemoryStore) UpdateRide(_ context.Context, r *models.Ride, expected models.RideStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rides[r.ID]
	if !ok {
		return ErrRideNotFound
	}
	if cur.Status != expected {
		return ErrStaleRide
	}
	m.rides[r.ID] = r.Clone()
	return nil
}

func (m *MemoryStore) ListByRider(_ context.Context, riderID string) ([]models.Ride, error) {
	return m.list(func(r *models.Ride) bool { return r.RiderID == riderID }), nil
}

func (m *MemoryStore) ListByCaptain(_ context.Context, captainID string) ([]models.Ride, error) {
	return m.list(func(r *models.Ride) bool { return r.CaptainID != nil && *r.CaptainID == captainID }), nil
}

func (m *MemoryStore) list(keep func(*models.Ride) bool) []models.Ride {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Ride, 0)
	for _, r := range m.rides {
		if keep(r) {
			out = append(out, *r.Clone())
		}
	}
	SortNewestFirst(out)
	return out
}

// SortNewestFirst orders rides by creation time descending, then by id.
func SortNewestFirst(rides []models.Ride) {
	sort.Slice(rides, func(i, j int) bool {
		if !rides[i].CreatedAt.Equal(rides[j].CreatedAt) {
			return rides[i].CreatedAt.After(rides[j].CreatedAt)
		}
		return rides[i].ID < rides[j].ID
	})
}

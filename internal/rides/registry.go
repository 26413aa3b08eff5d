// Package rides owns ride records and their lifecycle. Every status change
// goes through the transition table in models and is committed with a
// conditional store update, so two callers can never both win the same
// transition.
package rides

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/storage"
)

type Estimator interface {
	Estimate(pickup, destination models.Coord, class models.VehicleClass) (models.Estimate, error)
}

// EventPublisher receives committed lifecycle changes.
type EventPublisher interface {
	PublishRideEvent(ctx context.Context, ev models.RideEvent) error
}

// The lifecycle is acyclic with at most three steps, so a caller can lose at
// most three races before the ride is terminal.
const maxTransitionAttempts = 5

type Registry struct {
	Store     storage.TripStore
	Estimator Estimator
	Events    EventPublisher // optional
	Logger    *slog.Logger
	Now       func() time.Time
	NewID     func() string
}

// CreateRide quotes and persists a new ride in the requested state.
func (g *Registry) CreateRide(ctx context.Context, riderID string, pickup, destination models.Place, class models.VehicleClass) (*models.Ride, error) {
	riderID = strings.TrimSpace(riderID)
	if riderID == "" {
		return nil, &models.ValidationError{Field: "rider_id", Reason: "is required"}
	}
	if err := pickup.Validate("pickup"); err != nil {
		return nil, err
	}
	if err := destination.Validate("destination"); err != nil {
		return nil, err
	}
	if !class.Valid() {
		return nil, &models.ValidationError{Field: "vehicle_class", Reason: fmt.Sprintf("unknown vehicle class %q", class)}
	}
	est, err := g.Estimator.Estimate(pickup.Coord(), destination.Coord(), class)
	if err != nil {
		return nil, err
	}

	now := g.now()
	r := &models.Ride{
		ID:            g.newID(),
		RiderID:       riderID,
		Pickup:        pickup,
		Destination:   destination,
		VehicleClass:  class,
		PriceEstimate: est.PriceEstimate,
		DistanceKm:    est.DistanceKm,
		ETAMinutes:    est.ETAMinutes,
		Status:        models.StatusRequested,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := g.Store.SaveRide(ctx, r); err != nil {
		return nil, fmt.Errorf("save ride: %w", err)
	}
	observability.RidesCreatedTotal.WithLabelValues(string(class)).Inc()
	g.logger().Info("ride created", "ride_id", r.ID, "rider_id", riderID, "vehicle_class", class, "price", r.PriceEstimate)
	g.publish(ctx, r, "")
	return r, nil
}

// AssignCaptain binds a captain to a requested ride and accepts it. Only the
// first of several concurrent calls succeeds.
func (g *Registry) AssignCaptain(ctx context.Context, rideID, captainID string) (*models.Ride, error) {
	captainID = strings.TrimSpace(captainID)
	if captainID == "" {
		return nil, &models.ValidationError{Field: "captain_id", Reason: "is required"}
	}
	return g.transition(ctx, rideID, models.StatusAccepted, func(r *models.Ride) {
		r.CaptainID = &captainID
	})
}

// UpdateStatus moves a ride along the lifecycle. Acceptance needs a captain
// and is only reachable through AssignCaptain.
func (g *Registry) UpdateStatus(ctx context.Context, rideID string, target models.RideStatus) (*models.Ride, error) {
	if _, err := models.ParseRideStatus(string(target)); err != nil {
		return nil, err
	}
	if target == models.StatusAccepted {
		cur, err := g.GetRide(ctx, rideID)
		if err != nil {
			return nil, err
		}
		return nil, &models.TransitionError{RideID: rideID, From: cur.Status, To: target}
	}
	return g.transition(ctx, rideID, target, nil)
}

func (g *Registry) GetRide(ctx context.Context, rideID string) (*models.Ride, error) {
	r, err := g.Store.GetRide(ctx, rideID)
	if errors.Is(err, storage.ErrRideNotFound) {
		return nil, &models.NotFoundError{Entity: "ride", ID: rideID}
	}
	if err != nil {
		return nil, fmt.Errorf("get ride: %w", err)
	}
	return r, nil
}

func (g *Registry) ListRidesForRider(ctx context.Context, riderID string) ([]models.Ride, error) {
	if strings.TrimSpace(riderID) == "" {
		return nil, &models.ValidationError{Field: "rider_id", Reason: "is required"}
	}
	out, err := g.Store.ListByRider(ctx, riderID)
	if err != nil {
		return nil, fmt.Errorf("list rider rides: %w", err)
	}
	return nonNil(out), nil
}

func (g *Registry) ListRidesForCaptain(ctx context.Context, captainID string) ([]models.Ride, error) {
	if strings.TrimSpace(captainID) == "" {
		return nil, &models.ValidationError{Field: "captain_id", Reason: "is required"}
	}
	out, err := g.Store.ListByCaptain(ctx, captainID)
	if err != nil {
		return nil, fmt.Errorf("list captain rides: %w", err)
	}
	return nonNil(out), nil
}

func (g *Registry) transition(ctx context.Context, rideID string, to models.RideStatus, apply func(*models.Ride)) (*models.Ride, error) {
	for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
		cur, err := g.GetRide(ctx, rideID)
		if err != nil {
			return nil, err
		}
		from := cur.Status
		if !models.CanTransition(from, to) {
			return nil, &models.TransitionError{RideID: rideID, From: from, To: to}
		}

		next := cur.Clone()
		now := g.now()
		next.Status = to
		next.UpdatedAt = now
		if apply != nil {
			apply(next)
		}
		if to == models.StatusCompleted {
			next.CompletedAt = &now
		}
		if !to.HasCaptain() {
			next.CaptainID = nil
		}

		err = g.Store.UpdateRide(ctx, next, from)
		switch {
		case err == nil:
			observability.RideTransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
			g.logger().Info("ride status changed", "ride_id", rideID, "from", from, "to", to)
			g.publish(ctx, next, from)
			return next, nil
		case errors.Is(err, storage.ErrStaleRide):
			observability.RideTransitionConflicts.Inc()
			g.logger().Debug("ride changed concurrently, re-reading", "ride_id", rideID, "attempt", attempt+1)
			continue
		case errors.Is(err, storage.ErrRideNotFound):
			return nil, &models.NotFoundError{Entity: "ride", ID: rideID}
		default:
			return nil, fmt.Errorf("update ride: %w", err)
		}
	}
	return nil, fmt.Errorf("ride %s: gave up after %d conflicting updates: %w", rideID, maxTransitionAttempts, storage.ErrStaleRide)
}

func (g *Registry) publish(ctx context.Context, r *models.Ride, from models.RideStatus) {
	if g.Events == nil {
		return
	}
	ev := models.RideEvent{RideID: r.ID, RiderID: r.RiderID, CaptainID: r.CaptainID, From: from, To: r.Status, At: r.UpdatedAt}
	if err := g.Events.PublishRideEvent(ctx, ev); err != nil {
		observability.RideEventPublishErrors.Inc()
		g.logger().Warn("ride event not published", "ride_id", r.ID, "to", r.Status, "error", err)
	}
}

func (g *Registry) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now().UTC()
}

func (g *Registry) newID() string {
	if g.NewID != nil {
		return g.NewID()
	}
	return uuid.NewString()
}

func (g *Registry) logger() *slog.Logger {
	if g.Logger != nil {
		return g.Logger
	}
	return slog.Default()
}

func nonNil(rs []models.Ride) []models.Ride {
	if rs == nil {
		return []models.Ride{}
	}
	return rs
}

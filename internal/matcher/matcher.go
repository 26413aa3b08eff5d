package matcher

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/example/ride-dispatch/internal/fare"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
)

// DriverSource lists the drivers currently able to take a ride.
type DriverSource interface {
	ListAvailable(ctx context.Context, class *models.VehicleClass) ([]models.Driver, error)
}

type Service struct {
	Source          DriverSource
	AverageSpeedKmh float64
	TopN            int // 0 returns every candidate
	Logger          *slog.Logger
}

// FindCandidates ranks available drivers against a pickup point: nearest
// first, then higher rating, then driver id.
func (s *Service) FindCandidates(ctx context.Context, pickup models.Coord, class *models.VehicleClass) ([]models.Candidate, error) {
	if err := pickup.Validate("pickup"); err != nil {
		return nil, err
	}
	if class != nil && !class.Valid() {
		return nil, &models.ValidationError{Field: "vehicle_class", Reason: "unknown vehicle class " + string(*class)}
	}
	start := time.Now()
	defer func() { observability.MatchLatency.Observe(time.Since(start).Seconds()) }()

	drivers, err := s.Source.ListAvailable(ctx, class)
	if err != nil {
		observability.SourceErrorsTotal.Inc()
		s.logger().Error("driver source failed", "error", err)
		return nil, &models.SourceUnavailableError{Err: err}
	}

	speed := s.AverageSpeedKmh
	if speed <= 0 {
		speed = fare.DefaultConfig().AverageSpeedKmh
	}
	out := make([]models.Candidate, 0, len(drivers))
	for _, d := range drivers {
		if !d.Available {
			continue
		}
		if class != nil && d.VehicleClass != *class {
			continue
		}
		dist := geo.DistanceKm(pickup, d.Loc)
		out = append(out, models.Candidate{
			DriverID:     d.ID,
			DisplayName:  d.DisplayName,
			VehicleClass: d.VehicleClass,
			Rating:       d.Rating,
			Plate:        d.Plate,
			Location:     d.Loc,
			DistanceKm:   dist,
			ETAMinutes:   fare.Minutes(dist, speed),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.DistanceKm != b.DistanceKm {
			return a.DistanceKm < b.DistanceKm
		}
		if a.Rating != b.Rating {
			return a.Rating > b.Rating
		}
		return a.DriverID < b.DriverID
	})
	if s.TopN > 0 && len(out) > s.TopN {
		out = out[:s.TopN]
	}
	observability.CandidatesReturned.Observe(float64(len(out)))
	if len(out) > 0 {
		observability.MatchesTotal.Inc()
	}
	return out, nil
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

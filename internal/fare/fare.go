// Package fare turns a pickup/destination pair into a price and travel-time
// quote. Everything here is a pure function of its inputs and the Config.
package fare

import (
	"errors"
	"fmt"
	"math"

	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
)

// Config holds the tariff. Amounts are in whole currency units.
type Config struct {
	BaseFare                float64
	PerKmRate               map[models.VehicleClass]float64
	AverageSpeedKmh         float64
	ZeroDistanceToleranceKm float64
	// RejectZeroDistance refuses quotes whose endpoints are within the tolerance.
	RejectZeroDistance bool
}

func DefaultConfig() Config {
	return Config{
		BaseFare: 50,
		PerKmRate: map[models.VehicleClass]float64{
			models.VehicleStandard: 15,
			models.VehicleMoto:     5,
			models.VehicleAuto:     8,
		},
		AverageSpeedKmh:         30,
		ZeroDistanceToleranceKm: 0.01,
		RejectZeroDistance:      true,
	}
}

func (c Config) Validate() error {
	var errs []error
	if c.BaseFare < 0 || math.IsNaN(c.BaseFare) {
		errs = append(errs, errors.New("base fare must be >= 0"))
	}
	for _, class := range models.VehicleClasses {
		if rate, ok := c.PerKmRate[class]; !ok || !(rate > 0) {
			errs = append(errs, fmt.Errorf("per-km rate for %s must be > 0", class))
		}
	}
	if !(c.AverageSpeedKmh > 0) {
		errs = append(errs, errors.New("average speed must be > 0"))
	}
	if c.ZeroDistanceToleranceKm < 0 || math.IsNaN(c.ZeroDistanceToleranceKm) {
		errs = append(errs, errors.New("zero-distance tolerance must be >= 0"))
	}
	return errors.Join(errs...)
}

type Estimator struct {
	cfg Config
}

func NewEstimator(cfg Config) (*Estimator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("fare config: %w", err)
	}
	rates := make(map[models.VehicleClass]float64, len(cfg.PerKmRate))
	for k, v := range cfg.PerKmRate {
		rates[k] = v
	}
	cfg.PerKmRate = rates
	return &Estimator{cfg: cfg}, nil
}

// Estimate quotes a ride of the given class between two points.
func (e *Estimator) Estimate(pickup, destination models.Coord, class models.VehicleClass) (models.Estimate, error) {
	if err := pickup.Validate("pickup"); err != nil {
		return models.Estimate{}, err
	}
	if err := destination.Validate("destination"); err != nil {
		return models.Estimate{}, err
	}
	rate, ok := e.cfg.PerKmRate[class]
	if !ok {
		return models.Estimate{}, &models.ValidationError{Field: "vehicle_class", Reason: fmt.Sprintf("unknown vehicle class %q", class)}
	}

	d := geo.DistanceKm(pickup, destination)
	if e.cfg.RejectZeroDistance && d <= e.cfg.ZeroDistanceToleranceKm {
		return models.Estimate{}, &models.ValidationError{Field: "destination", Reason: "must differ from pickup"}
	}
	price := math.Round(e.cfg.BaseFare + d*rate)
	if price <= 0 {
		return models.Estimate{}, &models.ValidationError{Field: "price_estimate", Reason: "must be positive"}
	}
	return models.Estimate{
		VehicleClass:  class,
		DistanceKm:    d,
		PriceEstimate: price,
		ETAMinutes:    Minutes(d, e.cfg.AverageSpeedKmh),
	}, nil
}

// Minutes is ceil(distance / speed * 60), never less than one minute.
func Minutes(distanceKm, speedKmh float64) int {
	m := int(math.Ceil(distanceKm / speedKmh * 60))
	if m < 1 {
		return 1
	}
	return m
}

// Package demo is a driver-location source for demos and local runs. It is
// never mixed into real results: the server uses it only when
// DRIVER_SOURCE=demo, and then it is the only source.
package demo

import (
	"context"

	"github.com/example/ride-dispatch/internal/models"
)

var roster = []models.Driver{
	{ID: "demo-captain-1", DisplayName: "Demo Driver", VehicleClass: models.VehicleStandard, Rating: 4.8, Plate: "DL01AB1234"},
	{ID: "demo-captain-2", DisplayName: "Ravi Kumar", VehicleClass: models.VehicleStandard, Rating: 4.5, Plate: "KA05MN4821"},
	{ID: "demo-captain-3", DisplayName: "Priya S", VehicleClass: models.VehicleMoto, Rating: 4.9, Plate: "KA03HX7710"},
	{ID: "demo-captain-4", DisplayName: "Imran Ali", VehicleClass: models.VehicleMoto, Rating: 4.2, Plate: "KA01EQ0932"},
	{ID: "demo-captain-5", DisplayName: "Lakshmi N", VehicleClass: models.VehicleAuto, Rating: 4.6, Plate: "KA02AA5561"},
}

// Provider places a fixed roster around a center point. Positions depend
// only on driver ids, so every call returns the same drivers.
type Provider struct {
	drivers []models.Driver
}

func NewProvider(center models.Coord) *Provider {
	drivers := make([]models.Driver, len(roster))
	for i, d := range roster {
		dLat, dLng := offset(d.ID)
		d.Loc = models.Coord{Lat: center.Lat + dLat, Lng: center.Lng + dLng}
		d.Available = true
		drivers[i] = d
	}
	return &Provider{drivers: drivers}
}

func (p *Provider) ListAvailable(_ context.Context, class *models.VehicleClass) ([]models.Driver, error) {
	out := make([]models.Driver, 0, len(p.drivers))
	for _, d := range p.drivers {
		if class != nil && d.VehicleClass != *class {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// offset maps an id checksum to a displacement of at most 0.01 degrees.
func offset(id string) (float64, float64) {
	sum := 0
	for _, r := range id {
		sum += int(r)
	}
	lat := float64(sum%20-10) / 1000
	lng := float64((sum*13)%20-10) / 1000
	return lat, lng
}

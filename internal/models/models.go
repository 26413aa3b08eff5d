package models

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// MinAddressLen is the shortest pickup or destination address accepted.
const MinAddressLen = 3

type Coord struct {
	Lat float64 `json:"lat" bson:"lat"`
	Lng float64 `json:"lng" bson:"lng"`
}

// Validate reports a ValidationError for field when the point is off the globe.
func (c Coord) Validate(field string) error {
	if math.IsNaN(c.Lat) || c.Lat < -90 || c.Lat > 90 {
		return &ValidationError{Field: field + ".lat", Reason: "latitude must be between -90 and 90"}
	}
	if math.IsNaN(c.Lng) || c.Lng < -180 || c.Lng > 180 {
		return &ValidationError{Field: field + ".lng", Reason: "longitude must be between -180 and 180"}
	}
	return nil
}

// Place is an addressed point: a ride pickup or destination.
type Place struct {
	Address string  `json:"address" bson:"address"`
	Lat     float64 `json:"lat" bson:"lat"`
	Lng     float64 `json:"lng" bson:"lng"`
}

func (p Place) Coord() Coord { return Coord{Lat: p.Lat, Lng: p.Lng} }

func (p Place) Validate(field string) error {
	if len([]rune(strings.TrimSpace(p.Address))) < MinAddressLen {
		return &ValidationError{Field: field + ".address", Reason: "must be at least 3 characters long"}
	}
	return p.Coord().Validate(field)
}

type VehicleClass string

const (
	VehicleStandard VehicleClass = "standard"
	VehicleMoto     VehicleClass = "moto"
	VehicleAuto     VehicleClass = "auto"
)

// VehicleClasses lists every class in display order.
var VehicleClasses = []VehicleClass{VehicleStandard, VehicleMoto, VehicleAuto}

// ParseVehicleClass accepts the canonical names plus the legacy app names
// ("uberGo", "car", "motorcycle").
func ParseVehicleClass(s string) (VehicleClass, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "standard", "ubergo", "car":
		return VehicleStandard, nil
	case "moto", "motorcycle":
		return VehicleMoto, nil
	case "auto":
		return VehicleAuto, nil
	}
	return "", &ValidationError{Field: "vehicle_class", Reason: "unknown vehicle class " + strconv.Quote(s)}
}

func (v VehicleClass) Valid() bool {
	switch v {
	case VehicleStandard, VehicleMoto, VehicleAuto:
		return true
	}
	return false
}

type RideStatus string

const (
	StatusRequested  RideStatus = "requested"
	StatusAccepted   RideStatus = "accepted"
	StatusInProgress RideStatus = "in_progress"
	StatusCompleted  RideStatus = "completed"
	StatusCancelled  RideStatus = "cancelled"
)

func ParseRideStatus(s string) (RideStatus, error) {
	st := RideStatus(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case StatusRequested, StatusAccepted, StatusInProgress, StatusCompleted, StatusCancelled:
		return st, nil
	}
	return "", &ValidationError{Field: "status", Reason: "unknown ride status " + strconv.Quote(s)}
}

// Terminal reports whether no transition may leave st.
func (st RideStatus) Terminal() bool {
	return st == StatusCompleted || st == StatusCancelled
}

// HasCaptain reports whether a ride in st must carry a captain.
func (st RideStatus) HasCaptain() bool {
	return st == StatusAccepted || st == StatusInProgress || st == StatusCompleted
}

type Ride struct {
	ID            string       `json:"id" bson:"_id"`
	RiderID       string       `json:"rider_id" bson:"rider_id"`
	CaptainID     *string      `json:"captain_id" bson:"captain_id"`
	Pickup        Place        `json:"pickup" bson:"pickup"`
	Destination   Place        `json:"destination" bson:"destination"`
	VehicleClass  VehicleClass `json:"vehicle_class" bson:"vehicle_class"`
	PriceEstimate float64      `json:"price_estimate" bson:"price_estimate"`
	DistanceKm    float64      `json:"distance_km" bson:"distance_km"`
	ETAMinutes    int          `json:"eta_minutes" bson:"eta_minutes"`
	Status        RideStatus   `json:"status" bson:"status"`
	CreatedAt     time.Time    `json:"created_at" bson:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at" bson:"updated_at"`
	CompletedAt   *time.Time   `json:"completed_at" bson:"completed_at"`
}

// Clone returns a deep copy so stores never share pointers with callers.
func (r *Ride) Clone() *Ride {
	c := *r
	if r.CaptainID != nil {
		id := *r.CaptainID
		c.CaptainID = &id
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// Driver is a record from the driver-location source.
type Driver struct {
	ID           string       `json:"id"`
	DisplayName  string       `json:"display_name"`
	VehicleClass VehicleClass `json:"vehicle_class"`
	Rating       float64      `json:"rating"` // 0..5
	Plate        string       `json:"plate"`
	Loc          Coord        `json:"loc"`
	Available    bool         `json:"available"`
	Updated      time.Time    `json:"updated"`
}

// Candidate is a driver ranked against one pickup point.
type Candidate struct {
	DriverID     string       `json:"driver_id"`
	DisplayName  string       `json:"display_name"`
	VehicleClass VehicleClass `json:"vehicle_class"`
	Rating       float64      `json:"rating"`
	Plate        string       `json:"plate"`
	Location     Coord        `json:"location"`
	DistanceKm   float64      `json:"distance_km"`
	ETAMinutes   int          `json:"eta_minutes"`
}

type Estimate struct {
	VehicleClass  VehicleClass `json:"vehicle_class"`
	DistanceKm    float64      `json:"distance_km"`
	PriceEstimate float64      `json:"price_estimate"`
	ETAMinutes    int          `json:"eta_minutes"`
}

// RideEvent records one committed lifecycle change.
type RideEvent struct {
	RideID    string     `json:"ride_id"`
	RiderID   string     `json:"rider_id"`
	CaptainID *string    `json:"captain_id,omitempty"`
	From      RideStatus `json:"from,omitempty"`
	To        RideStatus `json:"to"`
	At        time.Time  `json:"at"`
}

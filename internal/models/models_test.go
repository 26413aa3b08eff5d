package models

import (
	"errors"
	"fmt"
	"math"
	"testing"
)

func TestCanTransition(t *testing.T) {
	all := []RideStatus{StatusRequested, StatusAccepted, StatusInProgress, StatusCompleted, StatusCancelled}
	allowed := map[[2]RideStatus]bool{
		{StatusRequested, StatusAccepted}:   true,
		{StatusRequested, StatusCancelled}:  true,
		{StatusAccepted, StatusInProgress}:  true,
		{StatusAccepted, StatusCancelled}:   true,
		{StatusInProgress, StatusCompleted}: true,
		{StatusInProgress, StatusCancelled}: true,
	}
	for _, from := range all {
		for _, to := range all {
			want := allowed[[2]RideStatus{from, to}]
			if got := CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestTerminalStatusesHaveNoExits(t *testing.T) {
	for _, st := range []RideStatus{StatusCompleted, StatusCancelled} {
		if !st.Terminal() {
			t.Fatalf("%s should be terminal", st)
		}
		if _, ok := AllowedTransitions[st]; ok {
			t.Fatalf("%s has outgoing transitions", st)
		}
	}
}

func TestPlaceValidate(t *testing.T) {
	cases := []struct {
		name  string
		place Place
		field string
	}{
		{"short address", Place{Address: "ab", Lat: 1, Lng: 1}, "pickup.address"},
		{"blank address", Place{Address: "     ", Lat: 1, Lng: 1}, "pickup.address"},
		{"lat high", Place{Address: "Main St", Lat: 90.5, Lng: 1}, "pickup.lat"},
		{"lng low", Place{Address: "Main St", Lat: 1, Lng: -180.1}, "pickup.lng"},
		{"lat nan", Place{Address: "Main St", Lat: math.NaN(), Lng: 1}, "pickup.lat"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.place.Validate("pickup")
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if ve.Field != tc.field {
				t.Fatalf("field = %q, want %q", ve.Field, tc.field)
			}
		})
	}
	if err := (Place{Address: "MG Road", Lat: 12.9, Lng: 77.6}).Validate("pickup"); err != nil {
		t.Fatalf("valid place rejected: %v", err)
	}
}

func TestParseVehicleClassAliases(t *testing.T) {
	for in, want := range map[string]VehicleClass{
		"standard":   VehicleStandard,
		"uberGo":     VehicleStandard,
		"car":        VehicleStandard,
		"Moto":       VehicleMoto,
		"motorcycle": VehicleMoto,
		"auto":       VehicleAuto,
	} {
		got, err := ParseVehicleClass(in)
		if err != nil || got != want {
			t.Errorf("ParseVehicleClass(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseVehicleClass("helicopter"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestErrorKindsMatchSentinels(t *testing.T) {
	cause := errors.New("redis down")
	wrapped := fmt.Errorf("find: %w", &SourceUnavailableError{Err: cause})
	if !errors.Is(wrapped, ErrSourceUnavailable) || !errors.Is(wrapped, cause) {
		t.Fatalf("source error lost its identity: %v", wrapped)
	}
	if !errors.Is(&TransitionError{RideID: "r", From: StatusCompleted, To: StatusAccepted}, ErrInvalidTransition) {
		t.Fatal("transition error does not match sentinel")
	}
	if !errors.Is(&NotFoundError{Entity: "ride", ID: "x"}, ErrNotFound) {
		t.Fatal("not found error does not match sentinel")
	}
	if errors.Is(&NotFoundError{}, ErrValidation) {
		t.Fatal("not found must not match validation")
	}
}

func TestRideCloneIsDeep(t *testing.T) {
	captain := "c1"
	r := &Ride{ID: "r1", CaptainID: &captain}
	c := r.Clone()
	*c.CaptainID = "c2"
	if *r.CaptainID != "c1" {
		t.Fatal("clone shares captain pointer")
	}
}

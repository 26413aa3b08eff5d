package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-dispatch/internal/fare"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/matcher"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/rides"
)

// LocationPublisher forwards accepted location updates to the feed.
type LocationPublisher interface {
	PublishLocation(ctx context.Context, d models.Driver) error
}

type Options struct {
	Rides     *rides.Registry
	Matcher   *matcher.Service
	Estimator *fare.Estimator
	Geo       geo.Geo           // nil when the driver source is read-only
	Locations LocationPublisher // optional
	Auth      *Authenticator
	// Checks back /readyz; each must return promptly.
	Checks map[string]func(context.Context) error
	Logger *slog.Logger
	Now    func() time.Time
}

type Server struct {
	rides     *rides.Registry
	matcher   *matcher.Service
	estimator *fare.Estimator
	geo       geo.Geo
	locations LocationPublisher
	auth      *Authenticator
	checks    map[string]func(context.Context) error
	logger    *slog.Logger
	now       func() time.Time
	mux       *mux.Router
}

func NewServer(opts Options) *Server {
	s := &Server{
		rides:     opts.Rides,
		matcher:   opts.Matcher,
		estimator: opts.Estimator,
		geo:       opts.Geo,
		locations: opts.Locations,
		auth:      opts.Auth,
		checks:    opts.Checks,
		logger:    opts.Logger,
		now:       opts.Now,
		mux:       mux.NewRouter(),
	}
	if s.auth == nil {
		s.auth = NewAuthenticator("")
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/internal/driver/locations", s.handleDriverLocation).Methods("POST")
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.HandleFunc("/readyz", s.handleReady).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())

	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.Use(s.auth.Middleware)
	api.HandleFunc("/estimates", s.handleEstimate).Methods("POST")
	api.HandleFunc("/candidates", s.handleCandidates).Methods("GET")
	api.HandleFunc("/rides", s.handleCreateRide).Methods("POST")
	api.HandleFunc("/rides/{id}", s.handleGetRide).Methods("GET")
	api.HandleFunc("/rides/{id}/captain", s.handleAssignCaptain).Methods("PUT")
	api.HandleFunc("/rides/{id}/status", s.handleUpdateStatus).Methods("PUT")
	api.HandleFunc("/riders/me/rides", s.handleRiderRides).Methods("GET")
	api.HandleFunc("/captains/me/rides", s.handleCaptainRides).Methods("GET")
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type pointBody struct {
	Address string   `json:"address"`
	Lat     *float64 `json:"lat"`
	Lng     *float64 `json:"lng"`
}

func (p *pointBody) place(field string) (models.Place, error) {
	if p == nil {
		return models.Place{}, &models.ValidationError{Field: field, Reason: "is required"}
	}
	if p.Lat == nil {
		return models.Place{}, &models.ValidationError{Field: field + ".lat", Reason: "is required"}
	}
	if p.Lng == nil {
		return models.Place{}, &models.ValidationError{Field: field + ".lng", Reason: "is required"}
	}
	return models.Place{Address: p.Address, Lat: *p.Lat, Lng: *p.Lng}, nil
}

type estimateRequest struct {
	Pickup       *pointBody `json:"pickup"`
	Destination  *pointBody `json:"destination"`
	VehicleClass string     `json:"vehicle_class"`
}

// handleEstimate quotes one class, or every class when none is named.
func (s *Server) handleEstimate(w http.ResponseWriter, r *http.Request) {
	var req estimateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	pickup, err := req.Pickup.place("pickup")
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	dest, err := req.Destination.place("destination")
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	classes := models.VehicleClasses
	if req.VehicleClass != "" {
		class, err := models.ParseVehicleClass(req.VehicleClass)
		if err != nil {
			writeError(w, r, s.logger, err)
			return
		}
		classes = []models.VehicleClass{class}
	}

	out := make([]models.Estimate, 0, len(classes))
	for _, class := range classes {
		est, err := s.estimator.Estimate(pickup.Coord(), dest.Coord(), class)
		if err != nil {
			writeError(w, r, s.logger, err)
			return
		}
		out = append(out, est)
	}
	writeJSON(w, http.StatusOK, map[string]any{"estimates": out})
}

func (s *Server) handleCandidates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, err := parseFloatParam(q.Get("lat"), "lat")
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	lng, err := parseFloatParam(q.Get("lng"), "lng")
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	var class *models.VehicleClass
	if raw := q.Get("vehicle_class"); raw != "" {
		c, err := models.ParseVehicleClass(raw)
		if err != nil {
			writeError(w, r, s.logger, err)
			return
		}
		class = &c
	}

	cands, err := s.matcher.FindCandidates(r.Context(), models.Coord{Lat: lat, Lng: lng}, class)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"candidates": cands})
}

type createRideRequest struct {
	Pickup       *pointBody `json:"pickup"`
	Destination  *pointBody `json:"destination"`
	VehicleClass string     `json:"vehicle_class"`
}

func (s *Server) handleCreateRide(w http.ResponseWriter, r *http.Request) {
	id, err := requireRole(r, RoleRider)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	var req createRideRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	pickup, err := req.Pickup.place("pickup")
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	dest, err := req.Destination.place("destination")
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	class, err := models.ParseVehicleClass(req.VehicleClass)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}

	ride, err := s.rides.CreateRide(r.Context(), id.Subject, pickup, dest, class)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	w.Header().Set("Location", "/api/v1/rides/"+ride.ID)
	writeJSON(w, http.StatusCreated, ride)
}

func (s *Server) handleGetRide(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())
	ride, err := s.rides.GetRide(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	if !canView(id, ride) {
		writeError(w, r, s.logger, errForbidden)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

type assignCaptainRequest struct {
	CaptainID string `json:"captain_id"`
}

// handleAssignCaptain lets the owning rider or the system pick a captain, and
// a captain claim a ride for themselves.
func (s *Server) handleAssignCaptain(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())
	rideID := mux.Vars(r)["id"]
	var req assignCaptainRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, s.logger, err)
		return
	}

	switch id.Role {
	case RoleCaptain:
		if req.CaptainID == "" {
			req.CaptainID = id.Subject
		}
		if req.CaptainID != id.Subject {
			writeError(w, r, s.logger, errForbidden)
			return
		}
	case RoleRider:
		ride, err := s.rides.GetRide(r.Context(), rideID)
		if err != nil {
			writeError(w, r, s.logger, err)
			return
		}
		if ride.RiderID != id.Subject {
			writeError(w, r, s.logger, errForbidden)
			return
		}
	}

	ride, err := s.rides.AssignCaptain(r.Context(), rideID, req.CaptainID)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())
	rideID := mux.Vars(r)["id"]
	var req updateStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	target, err := models.ParseRideStatus(req.Status)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}

	if id.Role != RoleSystem {
		ride, err := s.rides.GetRide(r.Context(), rideID)
		if err != nil {
			writeError(w, r, s.logger, err)
			return
		}
		if !canUpdate(id, ride, target) {
			writeError(w, r, s.logger, errForbidden)
			return
		}
	}

	ride, err := s.rides.UpdateStatus(r.Context(), rideID, target)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleRiderRides(w http.ResponseWriter, r *http.Request) {
	id, err := requireRole(r, RoleRider)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	list, err := s.rides.ListRidesForRider(r.Context(), id.Subject)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rides": list})
}

func (s *Server) handleCaptainRides(w http.ResponseWriter, r *http.Request) {
	id, err := requireRole(r, RoleCaptain)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	list, err := s.rides.ListRidesForCaptain(r.Context(), id.Subject)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rides": list})
}

type driverLocationRequest struct {
	ID           string     `json:"id"`
	DisplayName  string     `json:"display_name"`
	VehicleClass string     `json:"vehicle_class"`
	Rating       float64    `json:"rating"`
	Plate        string     `json:"plate"`
	Loc          *pointBody `json:"loc"`
	Available    *bool      `json:"available"`
}

func (req driverLocationRequest) driver(now time.Time) (models.Driver, error) {
	id := strings.TrimSpace(req.ID)
	if id == "" {
		return models.Driver{}, &models.ValidationError{Field: "id", Reason: "is required"}
	}
	loc, err := req.Loc.place("loc")
	if err != nil {
		return models.Driver{}, err
	}
	if err := loc.Coord().Validate("loc"); err != nil {
		return models.Driver{}, err
	}
	class, err := models.ParseVehicleClass(req.VehicleClass)
	if err != nil {
		return models.Driver{}, err
	}
	if req.Rating < 0 || req.Rating > 5 {
		return models.Driver{}, &models.ValidationError{Field: "rating", Reason: "must be between 0 and 5"}
	}
	available := true
	if req.Available != nil {
		available = *req.Available
	}
	return models.Driver{
		ID:           id,
		DisplayName:  req.DisplayName,
		VehicleClass: class,
		Rating:       req.Rating,
		Plate:        req.Plate,
		Loc:          loc.Coord(),
		Available:    available,
		Updated:      now,
	}, nil
}

func (s *Server) handleDriverLocation(w http.ResponseWriter, r *http.Request) {
	if s.geo == nil {
		writeJSON(w, http.StatusNotImplemented, errorBody{Error: errorDetail{Code: "read_only_source", Message: "driver source does not accept updates"}})
		return
	}
	var req driverLocationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	d, err := req.driver(s.now())
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	if err := s.geo.Upsert(r.Context(), d); err != nil {
		writeError(w, r, s.logger, &models.SourceUnavailableError{Err: err})
		return
	}
	if s.locations != nil {
		if err := s.locations.PublishLocation(r.Context(), d); err != nil {
			s.logger.Warn("location not published", "driver_id", d.ID, "error", err)
		}
	}
	observability.DriverUpdatesTotal.Inc()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	failed := map[string]string{}
	for name, check := range s.checks {
		if err := check(r.Context()); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failed": failed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func requireRole(r *http.Request, role Role) (Identity, error) {
	id, ok := identityFrom(r.Context())
	if !ok {
		return Identity{}, errUnauthenticated
	}
	if id.Role != role {
		return Identity{}, errForbidden
	}
	return id, nil
}

// canView allows the ride's own parties, the system, and captains browsing
// rides that are still open.
func canView(id Identity, ride *models.Ride) bool {
	switch id.Role {
	case RoleSystem:
		return true
	case RoleRider:
		return ride.RiderID == id.Subject
	case RoleCaptain:
		return ride.Status == models.StatusRequested || isCaptain(id, ride)
	}
	return false
}

// canUpdate: riders may only cancel their own rides; the assigned captain
// drives the trip forward or cancels it.
func canUpdate(id Identity, ride *models.Ride, target models.RideStatus) bool {
	switch id.Role {
	case RoleSystem:
		return true
	case RoleRider:
		return ride.RiderID == id.Subject && target == models.StatusCancelled
	case RoleCaptain:
		return isCaptain(id, ride)
	}
	return false
}

func isCaptain(id Identity, ride *models.Ride) bool {
	return ride.CaptainID != nil && *ride.CaptainID == id.Subject
}

func parseFloatParam(raw, field string) (float64, error) {
	if raw == "" {
		return 0, &models.ValidationError{Field: field, Reason: "is required"}
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, &models.ValidationError{Field: field, Reason: "must be a number"}
	}
	return v, nil
}

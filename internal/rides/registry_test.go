package rides

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/fare"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/storage"
)

var (
	pickup      = models.Place{Address: "MG Road", Lat: 12.9, Lng: 77.6}
	destination = models.Place{Address: "Hebbal Flyover", Lat: 13.0, Lng: 77.7}
)

type recorder struct {
	mu     sync.Mutex
	events []models.RideEvent
	err    error
}

func (r *recorder) PublishRideEvent(_ context.Context, ev models.RideEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func newRegistry(t *testing.T) (*Registry, *recorder) {
	t.Helper()
	est, err := fare.NewEstimator(fare.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	var (
		mu    sync.Mutex
		clock = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
		seq   int
	)
	rec := &recorder{}
	return &Registry{
		Store:     storage.NewMemoryStore(),
		Estimator: est,
		Events:    rec,
		Now: func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			clock = clock.Add(time.Minute)
			return clock
		},
		NewID: func() string {
			mu.Lock()
			defer mu.Unlock()
			seq++
			return fmt.Sprintf("ride-%03d", seq)
		},
	}, rec
}

func mustCreate(t *testing.T, g *Registry, rider string) *models.Ride {
	t.Helper()
	r, err := g.CreateRide(context.Background(), rider, pickup, destination, models.VehicleStandard)
	if err != nil {
		t.Fatalf("create ride: %v", err)
	}
	return r
}

func checkInvariants(t *testing.T, r *models.Ride) {
	t.Helper()
	if (r.CaptainID != nil) != r.Status.HasCaptain() {
		t.Fatalf("captain invariant broken: status=%s captain=%v", r.Status, r.CaptainID)
	}
	if (r.CompletedAt != nil) != (r.Status == models.StatusCompleted) {
		t.Fatalf("completedAt invariant broken: status=%s completedAt=%v", r.Status, r.CompletedAt)
	}
}

func TestCreateRide(t *testing.T) {
	g, rec := newRegistry(t)
	r := mustCreate(t, g, "rider-1")
	if r.Status != models.StatusRequested || r.CaptainID != nil || r.CompletedAt != nil {
		t.Fatalf("unexpected new ride %+v", r)
	}
	if r.PriceEstimate <= 0 || r.DistanceKm <= 0 || r.ETAMinutes < 1 {
		t.Fatalf("ride not quoted: %+v", r)
	}
	stored, err := g.GetRide(context.Background(), r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.PriceEstimate != r.PriceEstimate || stored.Status != models.StatusRequested {
		t.Fatalf("stored ride differs: %+v", stored)
	}
	if len(rec.events) != 1 || rec.events[0].To != models.StatusRequested || rec.events[0].From != "" {
		t.Fatalf("unexpected events %+v", rec.events)
	}
}

func TestCreateRideValidation(t *testing.T) {
	g, _ := newRegistry(t)
	short := pickup
	short.Address = "ab"
	farNorth := destination
	farNorth.Lat = 95
	cases := []struct {
		name   string
		rider  string
		pickup models.Place
		dest   models.Place
		class  models.VehicleClass
	}{
		{"short pickup address", "rider-1", short, destination, models.VehicleStandard},
		{"bad destination lat", "rider-1", pickup, farNorth, models.VehicleStandard},
		{"unknown class", "rider-1", pickup, destination, "bus"},
		{"missing rider", " ", pickup, destination, models.VehicleStandard},
		{"zero distance", "rider-1", pickup, models.Place{Address: "Same place", Lat: pickup.Lat, Lng: pickup.Lng}, models.VehicleMoto},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := g.CreateRide(context.Background(), tc.rider, tc.pickup, tc.dest, tc.class)
			if !errors.Is(err, models.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestAssignCaptain(t *testing.T) {
	g, _ := newRegistry(t)
	ctx := context.Background()
	r := mustCreate(t, g, "rider-1")

	got, err := g.AssignCaptain(ctx, r.ID, "captain-7")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.StatusAccepted || got.CaptainID == nil || *got.CaptainID != "captain-7" {
		t.Fatalf("unexpected ride %+v", got)
	}
	if got.PriceEstimate != r.PriceEstimate || !got.CreatedAt.Equal(r.CreatedAt) {
		t.Fatal("immutable fields changed on assignment")
	}

	if _, err := g.AssignCaptain(ctx, r.ID, "captain-8"); !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("second assignment: expected invalid transition, got %v", err)
	}
	stored, _ := g.GetRide(ctx, r.ID)
	if *stored.CaptainID != "captain-7" {
		t.Fatal("captain was overwritten")
	}

	if _, err := g.AssignCaptain(ctx, "missing", "captain-7"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := g.AssignCaptain(ctx, r.ID, ""); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestConcurrentAssignOnlyOneWins(t *testing.T) {
	for round := 0; round < 20; round++ {
		g, _ := newRegistry(t)
		r := mustCreate(t, g, "rider-1")

		const callers = 8
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			winners []string
			losers  int
			other   []error
		)
		start := make(chan struct{})
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func(captain string) {
				defer wg.Done()
				<-start
				_, err := g.AssignCaptain(context.Background(), r.ID, captain)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					winners = append(winners, captain)
				case errors.Is(err, models.ErrInvalidTransition):
					losers++
				default:
					other = append(other, err)
				}
			}(fmt.Sprintf("captain-%d", i))
		}
		close(start)
		wg.Wait()

		if len(other) > 0 {
			t.Fatalf("unexpected errors: %v", other)
		}
		if len(winners) != 1 || losers != callers-1 {
			t.Fatalf("winners=%v losers=%d", winners, losers)
		}
		stored, _ := g.GetRide(context.Background(), r.ID)
		if *stored.CaptainID != winners[0] {
			t.Fatalf("stored captain %s, winner %s", *stored.CaptainID, winners[0])
		}
	}
}

// staleReadStore serves one outdated snapshot to force the registry through
// its conflict path.
type staleReadStore struct {
	storage.TripStore
	snapshot *models.Ride
}

func (s *staleReadStore) GetRide(ctx context.Context, id string) (*models.Ride, error) {
	if s.snapshot != nil {
		r := s.snapshot
		s.snapshot = nil
		return r.Clone(), nil
	}
	return s.TripStore.GetRide(ctx, id)
}

func TestAssignAfterLostRaceIsInvalidTransition(t *testing.T) {
	g, _ := newRegistry(t)
	ctx := context.Background()
	r := mustCreate(t, g, "rider-1")
	if _, err := g.AssignCaptain(ctx, r.ID, "captain-1"); err != nil {
		t.Fatal(err)
	}
	g.Store = &staleReadStore{TripStore: g.Store, snapshot: r}

	_, err := g.AssignCaptain(ctx, r.ID, "captain-2")
	var te *models.TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("expected transition error, got %v", err)
	}
	if te.From != models.StatusAccepted {
		t.Fatalf("error should report the re-read status, got %s", te.From)
	}
}

func TestUpdateStatusCannotSkipStates(t *testing.T) {
	g, _ := newRegistry(t)
	ctx := context.Background()
	r := mustCreate(t, g, "rider-1")

	for _, target := range []models.RideStatus{models.StatusCompleted, models.StatusInProgress, models.StatusRequested, models.StatusAccepted} {
		if _, err := g.UpdateStatus(ctx, r.ID, target); !errors.Is(err, models.ErrInvalidTransition) {
			t.Fatalf("requested -> %s: expected invalid transition, got %v", target, err)
		}
	}
	stored, _ := g.GetRide(ctx, r.ID)
	if stored.Status != models.StatusRequested {
		t.Fatalf("status changed to %s", stored.Status)
	}
	if _, err := g.UpdateStatus(ctx, r.ID, "flying"); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := g.UpdateStatus(ctx, "missing", models.StatusCancelled); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestFullLifecycle(t *testing.T) {
	g, rec := newRegistry(t)
	ctx := context.Background()
	r := mustCreate(t, g, "rider-1")
	if _, err := g.AssignCaptain(ctx, r.ID, "captain-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := g.UpdateStatus(ctx, r.ID, models.StatusInProgress); err != nil {
		t.Fatal(err)
	}
	done, err := g.UpdateStatus(ctx, r.ID, models.StatusCompleted)
	if err != nil {
		t.Fatal(err)
	}
	if done.CompletedAt == nil || !done.CompletedAt.Equal(done.UpdatedAt) {
		t.Fatalf("completedAt not set on completion: %+v", done)
	}
	checkInvariants(t, done)

	want := []models.RideStatus{models.StatusRequested, models.StatusAccepted, models.StatusInProgress, models.StatusCompleted}
	if len(rec.events) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(rec.events))
	}
	for i, ev := range rec.events {
		if ev.To != want[i] {
			t.Fatalf("event %d to=%s want %s", i, ev.To, want[i])
		}
	}
}

// Walks every path through the lifecycle and checks the ride invariants after
// each step, and that terminal rides refuse every further operation.
func TestInvariantsOnEveryReachablePath(t *testing.T) {
	var paths [][]models.RideStatus
	var walk func(path []models.RideStatus)
	walk = func(path []models.RideStatus) {
		last := path[len(path)-1]
		if last.Terminal() {
			paths = append(paths, append([]models.RideStatus(nil), path...))
			return
		}
		for _, next := range models.AllowedTransitions[last] {
			walk(append(path, next))
		}
	}
	walk([]models.RideStatus{models.StatusRequested})
	if len(paths) != 4 {
		t.Fatalf("expected 4 terminal paths, got %d", len(paths))
	}

	ctx := context.Background()
	for _, path := range paths {
		t.Run(fmt.Sprint(path), func(t *testing.T) {
			g, _ := newRegistry(t)
			r := mustCreate(t, g, "rider-1")
			checkInvariants(t, r)
			for _, step := range path[1:] {
				var err error
				if step == models.StatusAccepted {
					r, err = g.AssignCaptain(ctx, r.ID, "captain-1")
				} else {
					r, err = g.UpdateStatus(ctx, r.ID, step)
				}
				if err != nil {
					t.Fatalf("step %s: %v", step, err)
				}
				checkInvariants(t, r)
			}

			final, _ := g.GetRide(ctx, r.ID)
			for _, target := range []models.RideStatus{models.StatusRequested, models.StatusInProgress, models.StatusCompleted, models.StatusCancelled} {
				if _, err := g.UpdateStatus(ctx, r.ID, target); !errors.Is(err, models.ErrInvalidTransition) {
					t.Fatalf("terminal %s -> %s: expected invalid transition, got %v", final.Status, target, err)
				}
			}
			if _, err := g.AssignCaptain(ctx, r.ID, "captain-2"); !errors.Is(err, models.ErrInvalidTransition) {
				t.Fatalf("assign on terminal ride: expected invalid transition, got %v", err)
			}
			after, _ := g.GetRide(ctx, r.ID)
			if after.Status != final.Status || !after.UpdatedAt.Equal(final.UpdatedAt) {
				t.Fatal("terminal ride was mutated")
			}
		})
	}
}

func TestListRides(t *testing.T) {
	g, _ := newRegistry(t)
	ctx := context.Background()
	first := mustCreate(t, g, "rider-1")
	second := mustCreate(t, g, "rider-1")
	mustCreate(t, g, "rider-2")
	if _, err := g.AssignCaptain(ctx, first.ID, "captain-1"); err != nil {
		t.Fatal(err)
	}

	mine, err := g.ListRidesForRider(ctx, "rider-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(mine) != 2 || mine[0].ID != second.ID || mine[1].ID != first.ID {
		t.Fatalf("expected newest first, got %+v", mine)
	}

	captainRides, err := g.ListRidesForCaptain(ctx, "captain-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(captainRides) != 1 || captainRides[0].ID != first.ID {
		t.Fatalf("unexpected captain rides %+v", captainRides)
	}

	none, err := g.ListRidesForRider(ctx, "nobody")
	if err != nil || none == nil || len(none) != 0 {
		t.Fatalf("expected empty list, got %v %v", none, err)
	}
	if _, err := g.ListRidesForCaptain(ctx, ""); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestPublishFailureDoesNotFailTransition(t *testing.T) {
	g, rec := newRegistry(t)
	rec.err = errors.New("broker down")
	r := mustCreate(t, g, "rider-1")
	if _, err := g.UpdateStatus(context.Background(), r.ID, models.StatusCancelled); err != nil {
		t.Fatalf("transition failed because of publisher: %v", err)
	}
	stored, _ := g.GetRide(context.Background(), r.ID)
	if stored.Status != models.StatusCancelled {
		t.Fatal("cancellation not persisted")
	}
}

func TestCancelAcceptedRideReleasesCaptain(t *testing.T) {
	g, _ := newRegistry(t)
	ctx := context.Background()
	r := mustCreate(t, g, "rider-1")
	_, _ = g.AssignCaptain(ctx, r.ID, "captain-1")
	got, err := g.UpdateStatus(ctx, r.ID, models.StatusCancelled)
	if err != nil {
		t.Fatal(err)
	}
	checkInvariants(t, got)
}

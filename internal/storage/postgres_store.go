package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"

	"github.com/lib/pq"

	"github.com/example/ride-dispatch/internal/models"
)

//go:embed migrations/*.sql
var migrations embed.FS

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// Migrate applies the embedded schema files in name order. They are idempotent.
func (p *PostgresStore) Migrate(ctx context.Context) ([]string, error) {
	names, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	for _, name := range names {
		b, err := migrations.ReadFile(name)
		if err != nil {
			return nil, err
		}
		if _, err := p.db.ExecContext(ctx, string(b)); err != nil {
			return nil, fmt.Errorf("migration %s: %w", name, err)
		}
	}
	return names, nil
}

const rideColumns = `id, rider_id, captain_id, pickup_address, pickup_lat, pickup_lng,
	dest_address, dest_lat, dest_lng, vehicle_class, price_estimate, distance_km,
	eta_minutes, status, created_at, updated_at, completed_at`

func (p *PostgresStore) SaveRide(ctx context.Context, r *models.Ride) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO rides(`+rideColumns+`)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		r.ID, r.RiderID, r.CaptainID, r.Pickup.Address, r.Pickup.Lat, r.Pickup.Lng,
		r.Destination.Address, r.Destination.Lat, r.Destination.Lng, string(r.VehicleClass),
		r.PriceEstimate, r.DistanceKm, r.ETAMinutes, string(r.Status), r.CreatedAt, r.UpdatedAt, r.CompletedAt)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrDuplicateRide
	}
	if err != nil {
		return fmt.Errorf("insert ride: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetRide(ctx context.Context, id string) (*models.Ride, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+rideColumns+` FROM rides WHERE id = $1`, id)
	r, err := scanRide(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRideNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query ride %s: %w", id, err)
	}
	return r, nil
}

// UpdateRide is a single conditional UPDATE, so concurrent transitions on one
// ride are serialized by the row lock and only one can match the expected status.
func (p *PostgresStore) UpdateRide(ctx context.Context, r *models.Ride, expected models.RideStatus) error {
	res, err := p.db.ExecContext(ctx, `UPDATE rides SET captain_id=$1, status=$2, updated_at=$3, completed_at=$4
		WHERE id=$5 AND status=$6`,
		r.CaptainID, string(r.Status), r.UpdatedAt, r.CompletedAt, r.ID, string(expected))
	if err != nil {
		return fmt.Errorf("update ride %s: %w", r.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update ride %s: %w", r.ID, err)
	}
	if n == 1 {
		return nil
	}
	var exists bool
	if err := p.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM rides WHERE id = $1)`, r.ID).Scan(&exists); err != nil {
		return fmt.Errorf("check ride %s: %w", r.ID, err)
	}
	if !exists {
		return ErrRideNotFound
	}
	return ErrStaleRide
}

func (p *PostgresStore) ListByRider(ctx context.Context, riderID string) ([]models.Ride, error) {
	return p.list(ctx, `SELECT `+rideColumns+` FROM rides WHERE rider_id = $1 ORDER BY created_at DESC, id ASC`, riderID)
}

func (p *PostgresStore) ListByCaptain(ctx context.Context, captainID string) ([]models.Ride, error) {
	return p.list(ctx, `SELECT `+rideColumns+` FROM rides WHERE captain_id = $1 ORDER BY created_at DESC, id ASC`, captainID)
}

func (p *PostgresStore) list(ctx context.Context, query, arg string) ([]models.Ride, error) {
	rows, err := p.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("list rides: %w", err)
	}
	defer rows.Close()
	out := make([]models.Ride, 0)
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ride: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *PostgresStore) Close() error { return p.db.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRide(s rowScanner) (*models.Ride, error) {
	var (
		r           models.Ride
		captain     sql.NullString
		class       string
		status      string
		completedAt sql.NullTime
	)
	err := s.Scan(&r.ID, &r.RiderID, &captain, &r.Pickup.Address, &r.Pickup.Lat, &r.Pickup.Lng,
		&r.Destination.Address, &r.Destination.Lat, &r.Destination.Lng, &class, &r.PriceEstimate,
		&r.DistanceKm, &r.ETAMinutes, &status, &r.CreatedAt, &r.UpdatedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	r.VehicleClass = models.VehicleClass(class)
	r.Status = models.RideStatus(status)
	if captain.Valid {
		r.CaptainID = &captain.String
	}
	if completedAt.Valid {
		r.CompletedAt = &completedAt.Time
	}
	return &r, nil
}

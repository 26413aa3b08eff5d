package storage

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/example/ride-dispatch/internal/models"
)

// MongoStore keeps one document per ride in the "rides" collection.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	s := &MongoStore{client: client, coll: client.Database(database).Collection("rides")}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "rider_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "captain_id", Value: 1}, {Key: "created_at", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("create ride indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) SaveRide(ctx context.Context, r *models.Ride) error {
	_, err := s.coll.InsertOne(ctx, r)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicateRide
	}
	if err != nil {
		return fmt.Errorf("insert ride: %w", err)
	}
	return nil
}

func (s *MongoStore) GetRide(ctx context.Context, id string) (*models.Ride, error) {
	var r models.Ride
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&r)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrRideNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find ride %s: %w", id, err)
	}
	return &r, nil
}

// UpdateRide filters on the expected status, which makes the write a
// document-level compare-and-swap.
func (s *MongoStore) UpdateRide(ctx context.Context, r *models.Ride, expected models.RideStatus) error {
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": r.ID, "status": expected},
		bson.M{"$set": bson.M{
			"captain_id":   r.CaptainID,
			"status":       r.Status,
			"updated_at":   r.UpdatedAt,
			"completed_at": r.CompletedAt,
		}},
	)
	if err != nil {
		return fmt.Errorf("update ride %s: %w", r.ID, err)
	}
	if res.MatchedCount == 1 {
		return nil
	}
	n, err := s.coll.CountDocuments(ctx, bson.M{"_id": r.ID})
	if err != nil {
		return fmt.Errorf("check ride %s: %w", r.ID, err)
	}
	if n == 0 {
		return ErrRideNotFound
	}
	return ErrStaleRide
}

func (s *MongoStore) ListByRider(ctx context.Context, riderID string) ([]models.Ride, error) {
	return s.list(ctx, bson.M{"rider_id": riderID})
}

func (s *MongoStore) ListByCaptain(ctx context.Context, captainID string) ([]models.Ride, error) {
	return s.list(ctx, bson.M{"captain_id": captainID})
}

func (s *MongoStore) list(ctx context.Context, filter bson.M) ([]models.Ride, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: 1}})
	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("list rides: %w", err)
	}
	out := make([]models.Ride, 0)
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode rides: %w", err)
	}
	return out, nil
}

func (s *MongoStore) Ping(ctx context.Context) error { return s.client.Ping(ctx, nil) }

func (s *MongoStore) Close(ctx context.Context) error { return s.client.Disconnect(ctx) }

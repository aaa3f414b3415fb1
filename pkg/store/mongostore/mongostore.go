// Package mongostore persists notifications and reads reference data from
// MongoDB.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/roboricindustries/raycon-dispatch/pkg/schemas/alerts"
	"github.com/roboricindustries/raycon-dispatch/pkg/store"
)

const (
	NotificationsCollection = "notifications"
	EndpointsCollection     = "endpoints"
	TargetsCollection       = "targets"
	CategoriesCollection    = "categories"
)

// Connect opens a client and pings it. Embedded documents decode as maps so
// stored payloads and mappings come back in the generic document shape.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	opts := options.Client().
		ApplyURI(uri).
		SetBSONOptions(&options.BSONOptions{DefaultDocumentM: true})
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping MongoDB: %w", err)
	}
	return client, nil
}

type Store struct {
	notifications *mongo.Collection
	endpoints     *mongo.Collection
	targets       *mongo.Collection
	categories    *mongo.Collection
	timeout       time.Duration
}

// New binds the store to db and ensures its indexes exist.
func New(ctx context.Context, db *mongo.Database) (*Store, error) {
	s := &Store{
		notifications: db.Collection(NotificationsCollection),
		endpoints:     db.Collection(EndpointsCollection),
		targets:       db.Collection(TargetsCollection),
		categories:    db.Collection(CategoriesCollection),
		timeout:       5 * time.Second,
	}
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	tenantUnique := mongo.IndexModel{
		Keys:    bson.D{{Key: "organization_id", Value: 1}, {Key: "id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	for _, coll := range []*mongo.Collection{s.notifications, s.endpoints, s.targets, s.categories} {
		if _, err := coll.Indexes().CreateOne(ctx, tenantUnique); err != nil {
			return fmt.Errorf("create indexes on %s: %w", coll.Name(), err)
		}
	}
	_, err := s.notifications.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "organization_id", Value: 1}, {Key: "status", Value: 1}, {Key: "created_at", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("create status index: %w", err)
	}
	_, err = s.endpoints.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "organization_id", Value: 1}, {Key: "category_ids", Value: 1}, {Key: "is_active", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("create endpoint routing index: %w", err)
	}
	return nil
}

func (s *Store) Save(ctx context.Context, n alerts.Notification) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.notifications.ReplaceOne(ctx, byID(n.OrganizationID, n.ID), n, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save notification %s: %w", n.ID, err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context, orgID, id string) (alerts.Notification, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var n alerts.Notification
	if err := s.notifications.FindOne(ctx, byID(orgID, id)).Decode(&n); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return alerts.Notification{}, store.ErrNotFound
		}
		return alerts.Notification{}, fmt.Errorf("load notification %s: %w", id, err)
	}
	n.OriginalPayload = normalizeDocument(n.OriginalPayload)
	return n, nil
}

func (s *Store) FindEndpoints(ctx context.Context, categoryIDs []string, orgID string) ([]alerts.Endpoint, error) {
	if len(categoryIDs) == 0 {
		return nil, nil
	}
	out, err := findAll[alerts.Endpoint](ctx, s, s.endpoints, EndpointFilter(orgID, categoryIDs))
	if err != nil {
		return nil, fmt.Errorf("find endpoints: %w", err)
	}
	for i := range out {
		out[i].DataMapping = normalizeDocument(out[i].DataMapping)
	}
	return out, nil
}

func (s *Store) Targets(ctx context.Context, orgID string, ids []string) ([]alerts.Target, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	out, err := findAll[alerts.Target](ctx, s, s.targets, byIDs(orgID, ids))
	if err != nil {
		return nil, fmt.Errorf("find targets: %w", err)
	}
	return out, nil
}

func (s *Store) Categories(ctx context.Context, orgID string, ids []string) ([]alerts.Category, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	out, err := findAll[alerts.Category](ctx, s, s.categories, byIDs(orgID, ids))
	if err != nil {
		return nil, fmt.Errorf("find categories: %w", err)
	}
	return out, nil
}

func findAll[T any](ctx context.Context, s *Store, coll *mongo.Collection, filter bson.M) ([]T, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cursor, err := coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []T
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

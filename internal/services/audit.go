package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/denverlabs/cococrm/internal/logger"
	"github.com/denverlabs/cococrm/internal/models"
)

const (
	authEventsCollection = "auth_events"
	auditWriteTimeout    = 5 * time.Second
	auditRetention       = 90 * 24 * time.Hour
)

// AuditLog records authentication attempts.
type AuditLog interface {
	Record(ev models.AuthEvent)
	Recent(ctx context.Context, userID int64, limit int) ([]models.AuthEvent, error)
}

// NopAuditLog is used when MongoDB is not configured.
type NopAuditLog struct{}

func (NopAuditLog) Record(models.AuthEvent) {}

func (NopAuditLog) Recent(context.Context, int64, int) ([]models.AuthEvent, error) {
	return []models.AuthEvent{}, nil
}

// MongoAuditLog writes events to the auth_events collection. Writes are
// asynchronous; a failed write is logged and dropped.
type MongoAuditLog struct {
	coll *mongo.Collection
	wg   sync.WaitGroup
}

func NewMongoAuditLog(db *mongo.Database) *MongoAuditLog {
	return &MongoAuditLog{coll: db.Collection(authEventsCollection)}
}

// EnsureIndexes creates the per-user lookup index and the retention TTL.
func (a *MongoAuditLog) EnsureIndexes(ctx context.Context) error {
	_, err := a.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{
			Keys:    bson.D{{Key: "created_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(auditRetention.Seconds())),
		},
	})
	if err != nil {
		return fmt.Errorf("create audit indexes: %w", err)
	}
	return nil
}

func (a *MongoAuditLog) Record(ev models.AuthEvent) {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), auditWriteTimeout)
		defer cancel()
		if _, err := a.coll.InsertOne(ctx, ev); err != nil {
			logger.Warn("audit write failed", zap.String("method", ev.Method), zap.Error(err))
		}
	}()
}

// Recent returns the user's latest events, newest first.
func (a *MongoAuditLog) Recent(ctx context.Context, userID int64, limit int) ([]models.AuthEvent, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit))
	cur, err := a.coll.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("find audit events: %w", err)
	}
	defer cur.Close(ctx)

	events := make([]models.AuthEvent, 0, limit)
	if err := cur.All(ctx, &events); err != nil {
		return nil, fmt.Errorf("decode audit events: %w", err)
	}
	return events, nil
}

// Wait blocks until pending writes finish.
func (a *MongoAuditLog) Wait() { a.wg.Wait() }

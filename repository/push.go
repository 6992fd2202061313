package repository

import (
	"context"
	"time"

	"devconnect/database"
	"devconnect/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type PushRepository struct {
	subs *database.Collection[models.PushSubscription]
}

func NewPushRepository(store *database.Store) *PushRepository {
	return &PushRepository{subs: database.NewCollection[models.PushSubscription](store, database.PushSubscriptions)}
}

// Save upserts by endpoint so a browser re-subscribing never creates a second row.
func (r *PushRepository) Save(ctx context.Context, sub *models.PushSubscription) error {
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	_, err := r.subs.UpdateOne(ctx,
		bson.M{"endpoint": sub.Endpoint},
		bson.M{
			"$set":         bson.M{"userId": sub.UserID, "keys": sub.Keys},
			"$setOnInsert": bson.M{"createdAt": sub.CreatedAt},
		},
		options.Update().SetUpsert(true),
	)
	return err
}

func (r *PushRepository) ListByUser(ctx context.Context, userIDs []string) ([]models.PushSubscription, error) {
	return r.subs.Find(ctx, bson.M{"userId": database.In(userIDs)})
}

func (r *PushRepository) DeleteByEndpoint(ctx context.Context, endpoint string) error {
	_, err := r.subs.DeleteOne(ctx, bson.M{"endpoint": endpoint})
	return err
}

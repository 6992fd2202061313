package repository

import (
	"context"
	"time"

	"devconnect/database"
	"devconnect/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type NotificationRepository struct {
	notifications *database.Collection[models.Notification]
}

func NewNotificationRepository(store *database.Store) *NotificationRepository {
	return &NotificationRepository{notifications: database.NewCollection[models.Notification](store, database.Notifications)}
}

func (r *NotificationRepository) Insert(ctx context.Context, n *models.Notification) error {
	if n.ID.IsZero() {
		n.ID = primitive.NewObjectID()
	}
	_, err := r.notifications.Insert(ctx, n)
	return err
}

// List returns one page of notifications for any of userIDs, newest first, and the total count.
func (r *NotificationRepository) List(ctx context.Context, userIDs []string, skip, limit int64) ([]models.Notification, int64, error) {
	filter := bson.M{"userId": database.In(userIDs)}
	total, err := r.notifications.Count(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetSkip(skip).
		SetLimit(limit)
	items, err := r.notifications.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *NotificationRepository) CountUnread(ctx context.Context, userIDs []string) (int64, error) {
	return r.notifications.Count(ctx, bson.M{"userId": database.In(userIDs), "read": false})
}

// MarkRead returns database.ErrNotFound when id does not belong to any of userIDs.
func (r *NotificationRepository) MarkRead(ctx context.Context, id primitive.ObjectID, userIDs []string, at time.Time) (*models.Notification, error) {
	return r.notifications.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "userId": database.In(userIDs)},
		bson.M{"$set": bson.M{"read": true, "readAt": at}},
		false,
	)
}

func (r *NotificationRepository) MarkAllRead(ctx context.Context, userIDs []string, at time.Time) (int64, error) {
	return r.notifications.UpdateMany(ctx,
		bson.M{"userId": database.In(userIDs), "read": false},
		bson.M{"$set": bson.M{"read": true, "readAt": at}},
	)
}

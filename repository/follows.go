package repository

import (
	"context"

	"devconnect/database"
	"devconnect/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type FollowRepository struct {
	follows *database.Collection[models.Follow]
}

func NewFollowRepository(store *database.Store) *FollowRepository {
	return &FollowRepository{follows: database.NewCollection[models.Follow](store, database.Follows)}
}

// Find matches a follow edge between any id of the follower and any id of the target.
func (r *FollowRepository) Find(ctx context.Context, followerIDs, followingIDs []string) (*models.Follow, error) {
	return r.follows.FindOne(ctx, bson.M{
		"followerId":  database.In(followerIDs),
		"followingId": database.In(followingIDs),
	})
}

// Insert relies on the unique (followerId, followingId) index and returns database.ErrDuplicate on a race.
func (r *FollowRepository) Insert(ctx context.Context, f *models.Follow) error {
	if f.ID.IsZero() {
		f.ID = primitive.NewObjectID()
	}
	_, err := r.follows.Insert(ctx, f)
	return err
}

func (r *FollowRepository) Delete(ctx context.Context, id primitive.ObjectID) (bool, error) {
	n, err := r.follows.DeleteOne(ctx, bson.M{"_id": id})
	return n == 1, err
}

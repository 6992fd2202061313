package repository

import (
	"context"
	"time"

	"devconnect/database"
	"devconnect/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type GroupRepository struct {
	groups *database.Collection[models.Group]
}

func NewGroupRepository(store *database.Store) *GroupRepository {
	return &GroupRepository{groups: database.NewCollection[models.Group](store, database.Groups)}
}

func (r *GroupRepository) FindByID(ctx context.Context, id string) (*models.Group, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, database.ErrNotFound
	}
	return r.groups.FindOne(ctx, bson.M{"_id": oid})
}

func (r *GroupRepository) UpdateSettings(ctx context.Context, id string, settings models.GroupSettings, at time.Time) (*models.Group, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, database.ErrNotFound
	}
	return r.groups.FindOneAndUpdate(ctx,
		bson.M{"_id": oid},
		bson.M{"$set": bson.M{"settings": settings, "updatedAt": at}},
		false,
	)
}

package repository

import (
	"context"
	"time"

	"devconnect/database"
	"devconnect/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type UserRepository struct {
	users *database.Collection[models.User]
}

func NewUserRepository(store *database.Store) *UserRepository {
	return &UserRepository{users: database.NewCollection[models.User](store, database.Users)}
}

// FindByID looks a user up by storage id. Malformed ids are reported as not found.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, database.ErrNotFound
	}
	return r.users.FindOne(ctx, bson.M{"_id": oid})
}

func (r *UserRepository) FindByIDs(ctx context.Context, ids []string) ([]models.User, error) {
	oids := make([]primitive.ObjectID, 0, len(ids))
	for _, id := range ids {
		if oid, err := primitive.ObjectIDFromHex(id); err == nil {
			oids = append(oids, oid)
		}
	}
	if len(oids) == 0 {
		return []models.User{}, nil
	}
	return r.users.Find(ctx, bson.M{"_id": database.In(oids)})
}

// FindByLegacyID matches the OAuth subject some older user documents carry in "id".
func (r *UserRepository) FindByLegacyID(ctx context.Context, legacyID string) (*models.User, error) {
	return r.users.FindOne(ctx, bson.M{"id": legacyID})
}

func (r *UserRepository) FindByPhone(ctx context.Context, phone string) (*models.User, error) {
	return r.users.FindOne(ctx, bson.M{"phone": phone})
}

func (r *UserRepository) Create(ctx context.Context, u *models.User) error {
	if u.ID.IsZero() {
		u.ID = primitive.NewObjectID()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	_, err := r.users.Insert(ctx, u)
	return err
}

// UpdateProfile $sets the given fields and returns the updated user. A taken username surfaces
// as ErrDuplicate from the unique index.
func (r *UserRepository) UpdateProfile(ctx context.Context, id string, set map[string]interface{}) (*models.User, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, database.ErrNotFound
	}
	return r.users.FindOneAndUpdate(ctx, bson.M{"_id": oid}, bson.M{"$set": set}, false)
}

// SetOnline flips the presence flag. Going offline also stamps lastSeen.
func (r *UserRepository) SetOnline(ctx context.Context, id string, online bool, at time.Time) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return database.ErrNotFound
	}
	set := bson.M{"isOnline": online}
	if !online {
		set["lastSeen"] = at
	}
	_, err = r.users.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": set})
	return err
}

// IncCounter applies delta to a numeric field with $inc.
func (r *UserRepository) IncCounter(ctx context.Context, id, field string, delta int) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return database.ErrNotFound
	}
	res, err := r.users.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$inc": bson.M{field: delta}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return database.ErrNotFound
	}
	return nil
}

package database

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Collection is a typed view over a mongo collection.
type Collection[T any] struct {
	coll *mongo.Collection
}

func NewCollection[T any](s *Store, name string) *Collection[T] {
	return &Collection[T]{coll: s.Collection(name)}
}

func (c *Collection[T]) Raw() *mongo.Collection { return c.coll }

func (c *Collection[T]) Insert(ctx context.Context, doc *T) (interface{}, error) {
	res, err := c.coll.InsertOne(ctx, doc)
	if err != nil {
		return nil, translate(err)
	}
	return res.InsertedID, nil
}

func (c *Collection[T]) FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) (*T, error) {
	var out T
	if err := c.coll.FindOne(ctx, filter, opts...).Decode(&out); err != nil {
		return nil, translate(err)
	}
	return &out, nil
}

func (c *Collection[T]) Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) ([]T, error) {
	cursor, err := c.coll.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	out := []T{}
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FindOneAndUpdate returns the document after the update.
func (c *Collection[T]) FindOneAndUpdate(ctx context.Context, filter, update interface{}, upsert bool) (*T, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After).SetUpsert(upsert)
	var out T
	if err := c.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&out); err != nil {
		return nil, translate(err)
	}
	return &out, nil
}

// FindOneAndDelete returns the removed document.
func (c *Collection[T]) FindOneAndDelete(ctx context.Context, filter interface{}) (*T, error) {
	var out T
	if err := c.coll.FindOneAndDelete(ctx, filter).Decode(&out); err != nil {
		return nil, translate(err)
	}
	return &out, nil
}

func (c *Collection[T]) UpdateOne(ctx context.Context, filter, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	res, err := c.coll.UpdateOne(ctx, filter, update, opts...)
	return res, translate(err)
}

func (c *Collection[T]) UpdateMany(ctx context.Context, filter, update interface{}) (int64, error) {
	res, err := c.coll.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (c *Collection[T]) DeleteOne(ctx context.Context, filter interface{}) (int64, error) {
	res, err := c.coll.DeleteOne(ctx, filter)
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (c *Collection[T]) DeleteMany(ctx context.Context, filter interface{}) (int64, error) {
	res, err := c.coll.DeleteMany(ctx, filter)
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (c *Collection[T]) Count(ctx context.Context, filter interface{}) (int64, error) {
	return c.coll.CountDocuments(ctx, filter)
}

// Aggregate runs pipeline against coll and decodes every result into R.
func Aggregate[R any](ctx context.Context, coll *mongo.Collection, pipeline mongo.Pipeline) ([]R, error) {
	cursor, err := coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	out := []R{}
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// In builds {"$in": values} for any slice.
func In[V any](values []V) bson.M {
	return bson.M{"$in": values}
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return errors.Join(ErrDuplicate, err)
	}
	return err
}

func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicate)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

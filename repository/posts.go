package repository

import (
	"context"
	"fmt"
	"time"

	"devconnect/database"
	"devconnect/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type PostRepository struct {
	posts     *database.Collection[models.Post]
	comments  *database.Collection[models.Comment]
	likes     *database.Collection[models.Like]
	shares    *database.Collection[models.Share]
	bookmarks *database.Collection[models.Bookmark]
}

func NewPostRepository(store *database.Store) *PostRepository {
	return &PostRepository{
		posts:     database.NewCollection[models.Post](store, database.Posts),
		comments:  database.NewCollection[models.Comment](store, database.Comments),
		likes:     database.NewCollection[models.Like](store, database.Likes),
		shares:    database.NewCollection[models.Share](store, database.Shares),
		bookmarks: database.NewCollection[models.Bookmark](store, database.Bookmarks),
	}
}

func (r *PostRepository) FindByID(ctx context.Context, id string) (*models.Post, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, database.ErrNotFound
	}
	return r.posts.FindOne(ctx, bson.M{"_id": oid})
}

func (r *PostRepository) IncCounter(ctx context.Context, id, field string, delta int) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return database.ErrNotFound
	}
	res, err := r.posts.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$inc": bson.M{field: delta}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return database.ErrNotFound
	}
	return nil
}

// SetPollCounts writes every option count of an embedded poll in a single update.
func (r *PostRepository) SetPollCounts(ctx context.Context, id string, counts []int64, total int64) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return database.ErrNotFound
	}
	set := bson.M{"poll.totalVotes": total}
	for i, n := range counts {
		set[fmt.Sprintf("poll.options.%d.votes", i)] = n
	}
	_, err = r.posts.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": set})
	return err
}

func (r *PostRepository) InsertComment(ctx context.Context, c *models.Comment) error {
	if c.ID.IsZero() {
		c.ID = primitive.NewObjectID()
	}
	_, err := r.comments.Insert(ctx, c)
	return err
}

func (r *PostRepository) FindComment(ctx context.Context, id primitive.ObjectID) (*models.Comment, error) {
	return r.comments.FindOne(ctx, bson.M{"_id": id})
}

func (r *PostRepository) DeleteComment(ctx context.Context, id primitive.ObjectID) (bool, error) {
	n, err := r.comments.DeleteOne(ctx, bson.M{"_id": id})
	return n == 1, err
}

// AddLike reports whether a new like was stored; an existing like is left untouched.
func (r *PostRepository) AddLike(ctx context.Context, userID, postID string, at time.Time) (bool, error) {
	res, err := r.likes.UpdateOne(ctx,
		bson.M{"userId": userID, "postId": postID},
		bson.M{"$setOnInsert": bson.M{"createdAt": at}},
		options.Update().SetUpsert(true),
	)
	if database.IsDuplicate(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return res.UpsertedCount == 1, nil
}

func (r *PostRepository) RemoveLike(ctx context.Context, userIDs []string, postID string) (bool, error) {
	n, err := r.likes.DeleteOne(ctx, bson.M{"userId": database.In(userIDs), "postId": postID})
	return n == 1, err
}

func (r *PostRepository) HasLiked(ctx context.Context, userIDs []string, postID string) (bool, error) {
	n, err := r.likes.Count(ctx, bson.M{"userId": database.In(userIDs), "postId": postID})
	return n > 0, err
}

func (r *PostRepository) InsertShare(ctx context.Context, s *models.Share) error {
	if s.ID.IsZero() {
		s.ID = primitive.NewObjectID()
	}
	_, err := r.shares.Insert(ctx, s)
	return err
}

// AddBookmark saves postID for the first of userIDs (the canonical id). A bookmark already held
// under any of the ids only has its tags refreshed; the return value is true only when a new
// bookmark was stored.
func (r *PostRepository) AddBookmark(ctx context.Context, userIDs []string, b *models.Bookmark) (bool, error) {
	existing, err := r.bookmarks.UpdateOne(ctx,
		bson.M{"userId": database.In(userIDs), "postId": b.PostID},
		bson.M{"$set": bson.M{"tags": b.Tags}},
	)
	if err != nil {
		return false, err
	}
	if existing.MatchedCount > 0 {
		return false, nil
	}

	res, err := r.bookmarks.UpdateOne(ctx,
		bson.M{"userId": b.UserID, "postId": b.PostID},
		bson.M{
			"$set":         bson.M{"tags": b.Tags},
			"$setOnInsert": bson.M{"savedAt": b.SavedAt},
		},
		options.Update().SetUpsert(true),
	)
	if database.IsDuplicate(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return res.UpsertedCount == 1, nil
}

func (r *PostRepository) RemoveBookmark(ctx context.Context, userIDs []string, postID string) (bool, error) {
	n, err := r.bookmarks.DeleteOne(ctx, bson.M{"userId": database.In(userIDs), "postId": postID})
	return n == 1, err
}

func (r *PostRepository) ListBookmarks(ctx context.Context, userIDs []string) ([]models.Bookmark, error) {
	return r.bookmarks.Find(ctx,
		bson.M{"userId": database.In(userIDs)},
		options.Find().SetSort(bson.D{{Key: "savedAt", Value: -1}}).SetLimit(200),
	)
}

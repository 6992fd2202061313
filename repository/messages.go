package repository

import (
	"context"
	"time"

	"devconnect/database"
	"devconnect/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MessageRepository struct {
	messages *database.Collection[models.Message]
}

func NewMessageRepository(store *database.Store) *MessageRepository {
	return &MessageRepository{messages: database.NewCollection[models.Message](store, database.Messages)}
}

func (r *MessageRepository) Insert(ctx context.Context, m *models.Message) error {
	if m.ID.IsZero() {
		m.ID = primitive.NewObjectID()
	}
	return database.Retry(ctx, "insert message", func(ctx context.Context) error {
		_, err := r.messages.Insert(ctx, m)
		if database.IsDuplicate(err) {
			// an earlier attempt landed before its acknowledgement was lost
			return nil
		}
		return err
	})
}

func (r *MessageRepository) FindByID(ctx context.Context, id primitive.ObjectID) (*models.Message, error) {
	return r.messages.FindOne(ctx, bson.M{"_id": id})
}

func between(a, b []string) bson.M {
	return bson.M{"$or": bson.A{
		bson.M{"senderId": database.In(a), "receiverId": database.In(b)},
		bson.M{"senderId": database.In(b), "receiverId": database.In(a)},
	}}
}

// Conversation returns up to limit messages exchanged between the two id sets, oldest first.
// before, when set, pages backwards from that instant.
func (r *MessageRepository) Conversation(ctx context.Context, a, b []string, limit int64, before *time.Time) ([]models.Message, error) {
	filter := between(a, b)
	if before != nil {
		filter["createdAt"] = bson.M{"$lt": *before}
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}).SetLimit(limit)

	var out []models.Message
	err := database.Retry(ctx, "find conversation", func(ctx context.Context) error {
		var err error
		out, err = r.messages.Find(ctx, filter, opts)
		return err
	})
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (r *MessageRepository) Unread(ctx context.Context, senders, receivers []string) ([]models.Message, error) {
	return r.messages.Find(ctx, bson.M{
		"senderId":   database.In(senders),
		"receiverId": database.In(receivers),
		"read":       false,
	}, options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}))
}

// MarkRead flips one message to read. It reports false when the message was already read.
func (r *MessageRepository) MarkRead(ctx context.Context, id primitive.ObjectID, at time.Time) (bool, error) {
	res, err := r.messages.UpdateOne(ctx,
		bson.M{"_id": id, "read": false},
		bson.M{"$set": bson.M{"read": true, "readAt": at}},
	)
	if err != nil {
		return false, err
	}
	return res.ModifiedCount == 1, nil
}

// ReplaceContent swaps content only if it still equals prev, pushing prev onto editHistory.
// It reports false when another edit won the race.
func (r *MessageRepository) ReplaceContent(ctx context.Context, id primitive.ObjectID, prev, next string, at time.Time) (bool, error) {
	res, err := r.messages.UpdateOne(ctx,
		bson.M{"_id": id, "content": prev},
		bson.M{
			"$set":  bson.M{"content": next, "editedAt": at},
			"$push": bson.M{"editHistory": models.MessageEdit{Content: prev, EditedAt: at}},
		},
	)
	if err != nil {
		return false, err
	}
	return res.MatchedCount == 1, nil
}

func (r *MessageRepository) Delete(ctx context.Context, id primitive.ObjectID) (bool, error) {
	n, err := r.messages.DeleteOne(ctx, bson.M{"_id": id})
	return n == 1, err
}

// Conversations groups every message touching ids by partner, newest conversation first.
func (r *MessageRepository) Conversations(ctx context.Context, ids []string, limit int64) ([]models.Conversation, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"$or": bson.A{
			bson.M{"senderId": database.In(ids)},
			bson.M{"receiverId": database.In(ids)},
		}}}},
		{{Key: "$sort", Value: bson.D{{Key: "createdAt", Value: -1}}}},
		{{Key: "$addFields", Value: bson.M{"partner": bson.M{
			"$cond": bson.A{bson.M{"$in": bson.A{"$senderId", ids}}, "$receiverId", "$senderId"},
		}}}},
		{{Key: "$group", Value: bson.M{
			"_id":         "$partner",
			"lastMessage": bson.M{"$first": "$$ROOT"},
			"updatedAt":   bson.M{"$first": "$createdAt"},
			"unreadCount": bson.M{"$sum": bson.M{"$cond": bson.A{
				bson.M{"$and": bson.A{
					bson.M{"$in": bson.A{"$receiverId", ids}},
					bson.M{"$eq": bson.A{"$read", false}},
				}},
				1, 0,
			}}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "updatedAt", Value: -1}}}},
		{{Key: "$limit", Value: limit}},
	}
	return database.Aggregate[models.Conversation](ctx, r.messages.Raw(), pipeline)
}

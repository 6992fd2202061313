package repository

import (
	"context"
	"fmt"
	"time"

	"devconnect/database"
	"devconnect/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type PollRepository struct {
	polls *database.Collection[models.Poll]
	votes *database.Collection[models.PollVote]
}

func NewPollRepository(store *database.Store) *PollRepository {
	return &PollRepository{
		polls: database.NewCollection[models.Poll](store, database.Polls),
		votes: database.NewCollection[models.PollVote](store, database.PollVotes),
	}
}

func (r *PollRepository) FindByID(ctx context.Context, id string) (*models.Poll, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, database.ErrNotFound
	}
	return r.polls.FindOne(ctx, bson.M{"_id": oid})
}

func (r *PollRepository) SetCounts(ctx context.Context, id string, counts []int64, total int64) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return database.ErrNotFound
	}
	set := bson.M{"totalVotes": total}
	for i, n := range counts {
		set[fmt.Sprintf("options.%d.votes", i)] = n
	}
	_, err = r.polls.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": set})
	return err
}

// UpsertVote stores the user's choice under userID, replacing any earlier vote on the same poll.
// Votes cast under legacyIDs are removed so one person never counts twice.
func (r *PollRepository) UpsertVote(ctx context.Context, pollID, userID string, legacyIDs []string, option int, at time.Time) error {
	if len(legacyIDs) > 0 {
		if _, err := r.votes.DeleteMany(ctx, bson.M{"pollId": pollID, "userId": database.In(legacyIDs)}); err != nil {
			return err
		}
	}

	filter := bson.M{"pollId": pollID, "userId": userID}
	set := bson.M{"$set": bson.M{"optionIndex": option, "votedAt": at}}
	_, err := r.votes.UpdateOne(ctx, filter, set, options.Update().SetUpsert(true))
	if database.IsDuplicate(err) {
		// concurrent first votes from the same user: the loser retries as a plain update
		_, err = r.votes.UpdateOne(ctx, filter, set)
	}
	return err
}

type tallyRow struct {
	Option int   `bson:"_id"`
	Count  int64 `bson:"count"`
}

// Tally counts votes per option index with one aggregation.
func (r *PollRepository) Tally(ctx context.Context, pollID string) (map[int]int64, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"pollId": pollID}}},
		{{Key: "$group", Value: bson.M{"_id": "$optionIndex", "count": bson.M{"$sum": 1}}}},
	}
	rows, err := database.Aggregate[tallyRow](ctx, r.votes.Raw(), pipeline)
	if err != nil {
		return nil, err
	}
	out := make(map[int]int64, len(rows))
	for _, row := range rows {
		out[row.Option] = row.Count
	}
	return out, nil
}

package database

import (
	"context"
	"errors"
	"fmt"

	"devconnect/logger"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

type indexSpec struct {
	collection string
	model      mongo.IndexModel
}

func unique(keys bson.D, name string) mongo.IndexModel {
	return mongo.IndexModel{Keys: keys, Options: options.Index().SetUnique(true).SetName(name)}
}

func plain(keys bson.D, name string) mongo.IndexModel {
	return mongo.IndexModel{Keys: keys, Options: options.Index().SetName(name)}
}

var indexes = []indexSpec{
	{Users, plain(bson.D{{Key: "id", Value: 1}}, "legacy_id")},
	{Users, mongo.IndexModel{
		Keys:    bson.D{{Key: "phone", Value: 1}},
		Options: options.Index().SetUnique(true).SetSparse(true).SetName("phone_unique"),
	}},
	{Users, mongo.IndexModel{
		Keys:    bson.D{{Key: "username", Value: 1}},
		Options: options.Index().SetUnique(true).SetSparse(true).SetName("username_unique"),
	}},
	{Accounts, unique(bson.D{{Key: "provider", Value: 1}, {Key: "providerAccountId", Value: 1}}, "provider_account_unique")},
	{Accounts, plain(bson.D{{Key: "userId", Value: 1}}, "user")},
	{Follows, unique(bson.D{{Key: "followerId", Value: 1}, {Key: "followingId", Value: 1}}, "follow_pair_unique")},
	{Follows, plain(bson.D{{Key: "followingId", Value: 1}, {Key: "status", Value: 1}}, "following_status")},
	{PollVotes, unique(bson.D{{Key: "pollId", Value: 1}, {Key: "userId", Value: 1}}, "poll_voter_unique")},
	{Bookmarks, unique(bson.D{{Key: "userId", Value: 1}, {Key: "postId", Value: 1}}, "bookmark_unique")},
	{Likes, unique(bson.D{{Key: "userId", Value: 1}, {Key: "postId", Value: 1}}, "like_unique")},
	{Messages, plain(bson.D{{Key: "senderId", Value: 1}, {Key: "receiverId", Value: 1}, {Key: "createdAt", Value: -1}}, "conversation")},
	{Messages, plain(bson.D{{Key: "receiverId", Value: 1}, {Key: "read", Value: 1}}, "unread")},
	{Notifications, plain(bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}}, "user_recent")},
	{Comments, plain(bson.D{{Key: "postId", Value: 1}, {Key: "createdAt", Value: -1}}, "post_recent")},
	{PushSubscriptions, unique(bson.D{{Key: "endpoint", Value: 1}}, "endpoint_unique")},
	{PushSubscriptions, plain(bson.D{{Key: "userId", Value: 1}}, "user")},
	{OTPCodes, unique(bson.D{{Key: "phone", Value: 1}}, "phone_unique")},
	{OTPCodes, mongo.IndexModel{
		Keys:    bson.D{{Key: "expiresAt", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0).SetName("expires_ttl"),
	}},
}

// EnsureIndexes creates the indexes the services rely on for uniqueness. Safe to run on every boot.
// One failing index (e.g. duplicates in old data) does not stop the rest from being created.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	var errs []error
	for _, spec := range indexes {
		name, err := s.Collection(spec.collection).Indexes().CreateOne(ctx, spec.model)
		if err != nil {
			errs = append(errs, fmt.Errorf("create index %s on %s: %w", *spec.model.Options.Name, spec.collection, err))
			continue
		}
		logger.Debug("index ready", zap.String("collection", spec.collection), zap.String("index", name))
	}
	return errors.Join(errs...)
}

package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"devconnect/logger"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

const (
	Users             = "users"
	Accounts          = "accounts"
	Posts             = "posts"
	Comments          = "comments"
	Likes             = "likes"
	Shares            = "shares"
	Messages          = "messages"
	Notifications     = "notifications"
	Follows           = "follows"
	Polls             = "polls"
	PollVotes         = "poll_votes"
	Bookmarks         = "bookmarks"
	Groups            = "groups"
	AuditLogs         = "audit_logs"
	PushSubscriptions = "push_subscriptions"
	OTPCodes          = "otp_codes"
)

var (
	ErrNotFound  = errors.New("document not found")
	ErrDuplicate = errors.New("duplicate document")
)

// Store owns the mongo client and the application database.
type Store struct {
	Client       *mongo.Client
	DB           *mongo.Database
	transactions bool
}

func New(db *mongo.Database, transactions bool) *Store {
	return &Store{Client: db.Client(), DB: db, transactions: transactions}
}

// Connect dials MongoDB, retrying a few times before giving up, and pings the primary.
func Connect(ctx context.Context, uri, dbName string, transactions bool) (*Store, error) {
	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		store, err := connectOnce(ctx, uri, dbName, transactions)
		if err == nil {
			return store, nil
		}
		lastErr = err
		logger.Warn("mongo connection attempt failed", zap.Int("attempt", attempt), zap.Error(err))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	return nil, fmt.Errorf("connect mongo: %w", lastErr)
}

func connectOnce(ctx context.Context, uri, dbName string, transactions bool) (*Store, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return &Store{Client: client, DB: client.Database(dbName), transactions: transactions}, nil
}

func (s *Store) Collection(name string) *mongo.Collection {
	return s.DB.Collection(name)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.Client.Ping(ctx, nil)
}

func (s *Store) Disconnect(ctx context.Context) error {
	if s == nil || s.Client == nil {
		return nil
	}
	return s.Client.Disconnect(ctx)
}

// WithTransaction runs fn inside a multi-document transaction when transactions are enabled.
// Otherwise fn runs directly with ctx. fn may be invoked more than once on transient errors.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if !s.transactions {
		return fn(ctx)
	}

	session, err := s.Client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}

package services

import (
	"context"
	"errors"

	"devconnect/database"
	"devconnect/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type FollowStore interface {
	Find(ctx context.Context, followerIDs, followingIDs []string) (*models.Follow, error)
	Insert(ctx context.Context, f *models.Follow) error
	Delete(ctx context.Context, id primitive.ObjectID) (bool, error)
}

// FollowResult describes the relationship after a toggle. Status is empty once unfollowed.
type FollowResult struct {
	Following bool   `json:"following"`
	Status    string `json:"status,omitempty"`
	UserID    string `json:"userId"`
}

type FollowService struct {
	follows       FollowStore
	users         UserStore
	notifications *NotificationService
	tx            TxRunner
	fanout        *Fanout
	now           clock
}

func NewFollowService(follows FollowStore, users UserStore, notifications *NotificationService, tx TxRunner, fanout *Fanout) *FollowService {
	if tx == nil {
		tx = directTx{}
	}
	return &FollowService{follows: follows, users: users, notifications: notifications, tx: tx, fanout: fanout, now: utcNow}
}

// Toggle follows targetID when no relationship exists and removes it otherwise. Private targets get a
// pending request which leaves both counters untouched.
func (s *FollowService) Toggle(ctx context.Context, userID, targetID string) (*FollowResult, error) {
	me := s.fanout.Resolve(ctx, userID)
	target := s.fanout.Resolve(ctx, targetID)
	if me.Has(target.Canonical) {
		return nil, invalid("cannot follow yourself")
	}

	targetUser, err := s.users.FindByID(ctx, target.Canonical)
	if err != nil {
		return nil, storeErr(err, "user")
	}

	existing, err := s.follows.Find(ctx, me.All(), target.All())
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return nil, storeErr(err, "follow")
	}
	if existing != nil {
		return s.unfollow(ctx, existing, me.Canonical, target.Canonical)
	}

	follow := &models.Follow{
		FollowerID:  me.Canonical,
		FollowingID: target.Canonical,
		Status:      models.FollowAccepted,
		CreatedAt:   s.now(),
	}
	if targetUser.IsPrivate {
		follow.Status = models.FollowPending
	}

	follower, _ := s.users.FindByID(ctx, me.Canonical)
	name := displayName(follower, me.Canonical)

	note := &models.Notification{
		UserID:     target.Canonical,
		Type:       models.NotificationFollow,
		Title:      "New follower",
		Message:    name + " started following you",
		Link:       "/profile/" + me.Canonical,
		FromUserID: me.Canonical,
	}
	event := EventNewFollower
	if follow.Status == models.FollowPending {
		note.Type = models.NotificationFollowRequest
		note.Title = "Follow request"
		note.Message = name + " requested to follow you"
		event = EventFollowRequest
	}

	err = s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		follow.ID = primitive.NilObjectID
		note.ID = primitive.NilObjectID
		if err := s.follows.Insert(ctx, follow); err != nil {
			return err
		}
		if follow.Status == models.FollowAccepted {
			if err := s.users.IncCounter(ctx, target.Canonical, models.UserFollowers, 1); err != nil {
				return err
			}
			if err := s.users.IncCounter(ctx, me.Canonical, models.UserFollowing, 1); err != nil {
				return err
			}
		}
		return s.notifications.Record(ctx, note)
	})
	if err != nil {
		return nil, storeErr(err, "follow")
	}

	s.notifications.Deliver(ctx, note)
	s.fanout.ToUser(ctx, target.Canonical, event, map[string]interface{}{
		"followerId": me.Canonical,
		"follower":   userSummary(follower, me.Canonical),
		"status":     follow.Status,
	})
	return &FollowResult{Following: true, Status: follow.Status, UserID: target.Canonical}, nil
}

func (s *FollowService) unfollow(ctx context.Context, existing *models.Follow, me, target string) (*FollowResult, error) {
	err := s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		deleted, err := s.follows.Delete(ctx, existing.ID)
		if err != nil {
			return err
		}
		if !deleted || existing.Status != models.FollowAccepted {
			return nil
		}
		if err := s.users.IncCounter(ctx, target, models.UserFollowers, -1); err != nil {
			return err
		}
		return s.users.IncCounter(ctx, me, models.UserFollowing, -1)
	})
	if err != nil {
		return nil, storeErr(err, "follow")
	}
	return &FollowResult{Following: false, UserID: target}, nil
}

func displayName(u *models.User, fallback string) string {
	switch {
	case u == nil:
		return "Someone"
	case u.Name != "":
		return u.Name
	case u.Username != "":
		return u.Username
	}
	return fallback
}

func userSummary(u *models.User, id string) map[string]interface{} {
	if u == nil {
		return map[string]interface{}{"id": id}
	}
	return map[string]interface{}{
		"id":       id,
		"name":     u.Name,
		"username": u.Username,
		"avatar":   u.Avatar,
	}
}

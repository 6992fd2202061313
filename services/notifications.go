package services

import (
	"context"
	"time"

	"devconnect/models"
	"devconnect/push"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type NotificationStore interface {
	Insert(ctx context.Context, n *models.Notification) error
	List(ctx context.Context, userIDs []string, skip, limit int64) ([]models.Notification, int64, error)
	CountUnread(ctx context.Context, userIDs []string) (int64, error)
	MarkRead(ctx context.Context, id primitive.ObjectID, userIDs []string, at time.Time) (*models.Notification, error)
	MarkAllRead(ctx context.Context, userIDs []string, at time.Time) (int64, error)
}

type NotificationPage struct {
	Notifications []models.Notification `json:"notifications"`
	Total         int64                 `json:"total"`
	Page          int64                 `json:"page"`
	Limit         int64                 `json:"limit"`
	Unread        int64                 `json:"unreadCount"`
}

type NotificationService struct {
	store  NotificationStore
	fanout *Fanout
	now    clock
}

func NewNotificationService(store NotificationStore, fanout *Fanout) *NotificationService {
	return &NotificationService{store: store, fanout: fanout, now: utcNow}
}

// Record persists n under the canonical id of its recipient. Safe to call inside a transaction.
func (s *NotificationService) Record(ctx context.Context, n *models.Notification) error {
	n.UserID = s.fanout.Resolve(ctx, n.UserID).Canonical
	n.Read = false
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now()
	}
	return s.store.Insert(ctx, n)
}

// Deliver emits a recorded notification and pushes it when the recipient is offline.
func (s *NotificationService) Deliver(ctx context.Context, n *models.Notification) {
	ident := s.fanout.ToUser(ctx, n.UserID, EventNotification, n)
	s.fanout.PushIfOffline(ctx, ident, push.Message{
		Title: n.Title,
		Body:  n.Message,
		URL:   n.Link,
		Tag:   n.Type,
	})
}

func (s *NotificationService) Notify(ctx context.Context, n *models.Notification) error {
	if err := s.Record(ctx, n); err != nil {
		return storeErr(err, "notification")
	}
	s.Deliver(ctx, n)
	return nil
}

func (s *NotificationService) List(ctx context.Context, userID string, page, limit int64) (*NotificationPage, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	ids := s.fanout.Resolve(ctx, userID).All()

	items, total, err := s.store.List(ctx, ids, (page-1)*limit, limit)
	if err != nil {
		return nil, storeErr(err, "notifications")
	}
	unread, err := s.store.CountUnread(ctx, ids)
	if err != nil {
		return nil, storeErr(err, "notifications")
	}
	return &NotificationPage{Notifications: items, Total: total, Page: page, Limit: limit, Unread: unread}, nil
}

func (s *NotificationService) UnreadCount(ctx context.Context, userID string) (int64, error) {
	n, err := s.store.CountUnread(ctx, s.fanout.Resolve(ctx, userID).All())
	return n, storeErr(err, "notifications")
}

func (s *NotificationService) MarkRead(ctx context.Context, userID, id string) (*models.Notification, error) {
	oid, err := parseObjectID(id, "notification id")
	if err != nil {
		return nil, err
	}
	n, err := s.store.MarkRead(ctx, oid, s.fanout.Resolve(ctx, userID).All(), s.now())
	if err != nil {
		return nil, storeErr(err, "notification")
	}
	return n, nil
}

func (s *NotificationService) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	n, err := s.store.MarkAllRead(ctx, s.fanout.Resolve(ctx, userID).All(), s.now())
	return n, storeErr(err, "notifications")
}

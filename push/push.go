package push

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"devconnect/logger"
	"devconnect/models"

	"github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"
)

var ErrNotConfigured = errors.New("web push is not configured")

// Message is the JSON payload the service worker receives.
type Message struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Icon  string `json:"icon,omitempty"`
	URL   string `json:"url,omitempty"`
	Tag   string `json:"tag,omitempty"`
}

type SubscriptionStore interface {
	Save(ctx context.Context, sub *models.PushSubscription) error
	ListByUser(ctx context.Context, userIDs []string) ([]models.PushSubscription, error)
	DeleteByEndpoint(ctx context.Context, endpoint string) error
}

type Keys struct {
	Public     string
	Private    string
	Subscriber string
}

// Sender delivers web push notifications to every browser a user subscribed.
type Sender struct {
	store  SubscriptionStore
	keys   Keys
	client webpush.HTTPClient
	wg     sync.WaitGroup
}

// NewSender generates an ephemeral VAPID key pair when none is configured. Subscriptions made
// against ephemeral keys stop working after a restart, so production must configure them.
func NewSender(store SubscriptionStore, keys Keys) (*Sender, error) {
	if keys.Public == "" || keys.Private == "" {
		private, public, err := webpush.GenerateVAPIDKeys()
		if err != nil {
			return nil, err
		}
		keys.Public, keys.Private = public, private
		logger.Warn("generated ephemeral VAPID keys; set VAPID_PUBLIC_KEY and VAPID_PRIVATE_KEY",
			zap.String("publicKey", public))
	}
	return &Sender{store: store, keys: keys}, nil
}

// WithHTTPClient overrides the client used to reach push services.
func (s *Sender) WithHTTPClient(c webpush.HTTPClient) *Sender {
	s.client = c
	return s
}

func (s *Sender) PublicKey() string { return s.keys.Public }

func (s *Sender) Subscribe(ctx context.Context, userID string, endpoint string, keys models.PushKeys) error {
	return s.store.Save(ctx, &models.PushSubscription{
		UserID:    userID,
		Endpoint:  endpoint,
		Keys:      keys,
		CreatedAt: time.Now().UTC(),
	})
}

func (s *Sender) Unsubscribe(ctx context.Context, endpoint string) error {
	return s.store.DeleteByEndpoint(ctx, endpoint)
}

// NotifyAsync sends msg to every subscription of userIDs in the background.
func (s *Sender) NotifyAsync(userIDs []string, msg Message) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic in push notification", zap.Any("recovered", r))
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := s.Notify(ctx, userIDs, msg); err != nil {
			logger.Warn("push notification failed", zap.Strings("userIds", userIDs), zap.Error(err))
		}
	}()
}

// Wait blocks until every background send has finished.
func (s *Sender) Wait() { s.wg.Wait() }

// Notify sends synchronously and returns how many subscriptions accepted the message.
// Subscriptions the push service reports as gone are deleted.
func (s *Sender) Notify(ctx context.Context, userIDs []string, msg Message) (int, error) {
	subs, err := s.store.ListByUser(ctx, userIDs)
	if err != nil {
		return 0, err
	}
	if len(subs) == 0 {
		return 0, nil
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, sub := range subs {
		resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys:     webpush.Keys{P256dh: sub.Keys.P256dh, Auth: sub.Keys.Auth},
		}, &webpush.Options{
			HTTPClient:      s.client,
			Subscriber:      s.keys.Subscriber,
			VAPIDPublicKey:  s.keys.Public,
			VAPIDPrivateKey: s.keys.Private,
			TTL:             60,
		})
		if err != nil {
			logger.Warn("push send failed", zap.String("userId", sub.UserID), zap.Error(err))
			continue
		}
		status := resp.StatusCode
		if resp.Body != nil {
			resp.Body.Close()
		}

		switch {
		case status == http.StatusGone || status == http.StatusNotFound:
			logger.Info("push subscription expired, deleting", zap.String("userId", sub.UserID))
			if err := s.store.DeleteByEndpoint(ctx, sub.Endpoint); err != nil {
				logger.Warn("delete expired subscription failed", zap.Error(err))
			}
		case status >= 200 && status < 300:
			delivered++
		default:
			logger.Warn("push service rejected message", zap.String("userId", sub.UserID), zap.Int("status", status))
		}
	}
	return delivered, nil
}

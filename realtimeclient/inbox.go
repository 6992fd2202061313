package realtimeclient

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"devconnect/logger"
	"devconnect/models"

	"go.uber.org/zap"
)

var ErrUnknownNotification = errors.New("notification not in inbox")

// ReadMarker persists a read flag on the server.
type ReadMarker interface {
	MarkNotificationRead(ctx context.Context, id string) error
}

// Inbox holds the notification list and unread count. MarkRead only changes read state;
// opening the linked content is up to the caller.
type Inbox struct {
	marker ReadMarker
	now    func() time.Time

	mu     sync.Mutex
	items  []models.Notification
	unread int64
	subs   map[int]func(items []models.Notification, unread int64)
	nextID int
}

func NewInbox(marker ReadMarker) *Inbox {
	return &Inbox{
		marker: marker,
		now:    time.Now,
		subs:   make(map[int]func([]models.Notification, int64)),
	}
}

// Bind applies notification pushes from m.
func (i *Inbox) Bind(m *ConnectionManager) {
	m.On(EventNotification, func(payload json.RawMessage) {
		var n models.Notification
		if err := json.Unmarshal(payload, &n); err != nil {
			logger.Warn("bad notification payload", zap.Error(err))
			return
		}
		i.Apply(n)
	})
}

// Replace swaps in a REST snapshot, newest first.
func (i *Inbox) Replace(items []models.Notification, unread int64) {
	i.mu.Lock()
	i.items = append([]models.Notification(nil), items...)
	i.unread = unread
	i.mu.Unlock()
	i.publish()
}

// Apply prepends a pushed notification. Duplicates of an id already held are ignored.
func (i *Inbox) Apply(n models.Notification) bool {
	i.mu.Lock()
	if !n.ID.IsZero() && i.indexLocked(n.ID.Hex()) >= 0 {
		i.mu.Unlock()
		return false
	}
	i.items = append([]models.Notification{n}, i.items...)
	if !n.Read {
		i.unread++
	}
	i.mu.Unlock()
	i.publish()
	return true
}

// MarkRead flips the flag locally first and restores it if the server call fails.
func (i *Inbox) MarkRead(ctx context.Context, id string) error {
	i.mu.Lock()
	idx := i.indexLocked(id)
	if idx < 0 {
		i.mu.Unlock()
		return ErrUnknownNotification
	}
	if i.items[idx].Read {
		i.mu.Unlock()
		return nil
	}
	at := i.now()
	i.items[idx].Read = true
	i.items[idx].ReadAt = &at
	i.unread--
	i.mu.Unlock()
	i.publish()

	err := i.marker.MarkNotificationRead(ctx, id)
	if err == nil {
		return nil
	}

	i.mu.Lock()
	if idx := i.indexLocked(id); idx >= 0 && i.items[idx].Read {
		i.items[idx].Read = false
		i.items[idx].ReadAt = nil
		i.unread++
	}
	i.mu.Unlock()
	i.publish()
	return err
}

func (i *Inbox) Items() []models.Notification {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]models.Notification(nil), i.items...)
}

func (i *Inbox) Unread() int64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.unread
}

func (i *Inbox) Subscribe(fn func(items []models.Notification, unread int64)) (unsubscribe func()) {
	i.mu.Lock()
	id := i.nextID
	i.nextID++
	i.subs[id] = fn
	i.mu.Unlock()
	return func() {
		i.mu.Lock()
		delete(i.subs, id)
		i.mu.Unlock()
	}
}

func (i *Inbox) indexLocked(id string) int {
	for n := range i.items {
		if i.items[n].ID.Hex() == id {
			return n
		}
	}
	return -1
}

func (i *Inbox) publish() {
	i.mu.Lock()
	items := append([]models.Notification(nil), i.items...)
	unread := i.unread
	subs := make([]func([]models.Notification, int64), 0, len(i.subs))
	for _, fn := range i.subs {
		subs = append(subs, fn)
	}
	i.mu.Unlock()
	for _, fn := range subs {
		fn(items, unread)
	}
}

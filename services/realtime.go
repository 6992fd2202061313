package services

import (
	"context"
	"time"

	"devconnect/identity"
	"devconnect/push"
)

// Realtime event names emitted by the services.
const (
	EventNotification   = "notification"
	EventNewMessage     = "new_message"
	EventMessageRead    = "message_read"
	EventMessageEdited  = "message_edited"
	EventMessageDeleted = "message_deleted"
	EventNewFollower    = "new_follower"
	EventFollowRequest  = "follow_request"
	EventPollUpdate     = "poll_update"
	EventPollRefreshed  = "poll_refreshed"
	EventShareUpdated   = "share_updated"
	EventPostShared     = "post_shared"
	EventPostLiked      = "post_liked"
	EventNewComment     = "new_comment"
	EventCommentDeleted = "comment_deleted"
	EventGroupUpdated   = "group_updated"
	EventProfileUpdated = "profile_updated"
)

func PostRoom(id string) string  { return "post:" + id }
func GroupRoom(id string) string { return "group:" + id }
func PollRoom(id string) string  { return "poll:" + id }

type Emitter interface {
	Emit(event string, payload interface{}, rooms ...string)
}

type Identities interface {
	Resolve(ctx context.Context, id string) identity.Identity
}

type Presence interface {
	IsOnline(ctx context.Context, userID string) bool
}

type Pusher interface {
	NotifyAsync(userIDs []string, msg push.Message)
}

type TxRunner interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Fanout resolves who an event concerns and delivers it over the socket, falling back to
// web push for users with no live connection.
type Fanout struct {
	emitter  Emitter
	ids      Identities
	presence Presence
	pusher   Pusher
}

func NewFanout(emitter Emitter, ids Identities, presence Presence, pusher Pusher) *Fanout {
	return &Fanout{emitter: emitter, ids: ids, presence: presence, pusher: pusher}
}

func (f *Fanout) Resolve(ctx context.Context, id string) identity.Identity {
	return f.ids.Resolve(ctx, id)
}

// ToUser emits to every personal room of userID and returns the identity it resolved.
func (f *Fanout) ToUser(ctx context.Context, userID, event string, payload interface{}) identity.Identity {
	ident := f.ids.Resolve(ctx, userID)
	f.emitter.Emit(event, payload, ident.Rooms()...)
	return ident
}

func (f *Fanout) ToIdentity(ident identity.Identity, event string, payload interface{}) {
	f.emitter.Emit(event, payload, ident.Rooms()...)
}

func (f *Fanout) ToRooms(event string, payload interface{}, rooms ...string) {
	f.emitter.Emit(event, payload, rooms...)
}

// Online reports whether ident has a live socket on any node.
func (f *Fanout) Online(ctx context.Context, ident identity.Identity) bool {
	return f.presence != nil && f.presence.IsOnline(ctx, ident.Canonical)
}

// PushIfOffline sends msg as web push when ident has no live socket.
func (f *Fanout) PushIfOffline(ctx context.Context, ident identity.Identity, msg push.Message) bool {
	if f.pusher == nil {
		return false
	}
	if f.Online(ctx, ident) {
		return false
	}
	f.pusher.NotifyAsync(ident.All(), msg)
	return true
}

type clock func() time.Time

func utcNow() time.Time { return time.Now().UTC() }

// directTx runs fn without a transaction. Used when no store is configured.
type directTx struct{}

func (directTx) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

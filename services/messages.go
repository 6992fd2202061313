package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"devconnect/database"
	"devconnect/logger"
	"devconnect/models"
	"devconnect/push"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

const (
	maxMessageLength   = 5000
	defaultMessagePage = 50
	maxMessagePage     = 200
	editAttempts       = 3
)

type MessageStore interface {
	Insert(ctx context.Context, m *models.Message) error
	FindByID(ctx context.Context, id primitive.ObjectID) (*models.Message, error)
	Conversation(ctx context.Context, a, b []string, limit int64, before *time.Time) ([]models.Message, error)
	Unread(ctx context.Context, senders, receivers []string) ([]models.Message, error)
	MarkRead(ctx context.Context, id primitive.ObjectID, at time.Time) (bool, error)
	ReplaceContent(ctx context.Context, id primitive.ObjectID, prev, next string, at time.Time) (bool, error)
	Delete(ctx context.Context, id primitive.ObjectID) (bool, error)
	Conversations(ctx context.Context, ids []string, limit int64) ([]models.Conversation, error)
}

type UserStore interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByIDs(ctx context.Context, ids []string) ([]models.User, error)
	IncCounter(ctx context.Context, id, field string, delta int) error
}

type AuditStore interface {
	Insert(ctx context.Context, entry *models.AuditLog) error
}

type SendMessageInput struct {
	ReceiverID string `json:"receiverId" binding:"required"`
	Content    string `json:"content" binding:"required"`
	Type       string `json:"type"`
}

type MessageService struct {
	messages MessageStore
	users    UserStore
	audit    AuditStore
	tx       TxRunner
	fanout   *Fanout
	now      clock
}

func NewMessageService(messages MessageStore, users UserStore, audit AuditStore, tx TxRunner, fanout *Fanout) *MessageService {
	if tx == nil {
		tx = directTx{}
	}
	return &MessageService{messages: messages, users: users, audit: audit, tx: tx, fanout: fanout, now: utcNow}
}

// List returns the conversation between userID and partnerID, oldest first. It never marks anything read.
func (s *MessageService) List(ctx context.Context, userID, partnerID string, limit int64, before *time.Time) ([]models.Message, error) {
	if partnerID == "" {
		return nil, invalid("partner id is required")
	}
	if limit <= 0 {
		limit = defaultMessagePage
	}
	if limit > maxMessagePage {
		limit = maxMessagePage
	}
	me := s.fanout.Resolve(ctx, userID)
	partner := s.fanout.Resolve(ctx, partnerID)

	msgs, err := s.messages.Conversation(ctx, me.All(), partner.All(), limit, before)
	if err != nil {
		return nil, storeErr(err, "messages")
	}
	return msgs, nil
}

func (s *MessageService) Get(ctx context.Context, userID, id string) (*models.Message, error) {
	msg, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	me := s.fanout.Resolve(ctx, userID)
	if !me.Has(msg.SenderID) && !me.Has(msg.ReceiverID) {
		return nil, forbidden("not a participant of this message")
	}
	return msg, nil
}

func (s *MessageService) load(ctx context.Context, id string) (*models.Message, error) {
	oid, err := parseObjectID(id, "message id")
	if err != nil {
		return nil, err
	}
	msg, err := s.messages.FindByID(ctx, oid)
	if err != nil {
		return nil, storeErr(err, "message")
	}
	return msg, nil
}

// MarkRead marks every unread message from partnerID to userID as read and tells each sender.
func (s *MessageService) MarkRead(ctx context.Context, userID, partnerID string) (int, error) {
	if partnerID == "" {
		return 0, invalid("partner id is required")
	}
	me := s.fanout.Resolve(ctx, userID)
	partner := s.fanout.Resolve(ctx, partnerID)

	unread, err := s.messages.Unread(ctx, partner.All(), me.All())
	if err != nil {
		return 0, storeErr(err, "messages")
	}

	marked := 0
	for _, m := range unread {
		at := s.now()
		ok, err := s.messages.MarkRead(ctx, m.ID, at)
		if err != nil {
			return marked, storeErr(err, "message")
		}
		if !ok {
			continue
		}
		marked++
		s.fanout.ToIdentity(partner, EventMessageRead, map[string]interface{}{
			"messageId": m.ID.Hex(),
			"readBy":    me.Canonical,
			"readAt":    at,
		})
	}
	return marked, nil
}

func (s *MessageService) Send(ctx context.Context, senderID string, in SendMessageInput) (*models.Message, error) {
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return nil, invalid("content is required")
	}
	if utf8.RuneCountInString(content) > maxMessageLength {
		return nil, invalid(fmt.Sprintf("content exceeds %d characters", maxMessageLength))
	}
	kind := in.Type
	if kind == "" {
		kind = models.MessageText
	}
	if !models.ValidMessageType(kind) {
		return nil, invalid("unsupported message type " + kind)
	}

	sender := s.fanout.Resolve(ctx, senderID)
	receiver := s.fanout.Resolve(ctx, in.ReceiverID)
	if sender.Has(receiver.Canonical) {
		return nil, invalid("cannot message yourself")
	}
	if _, err := s.users.FindByID(ctx, receiver.Canonical); err != nil {
		return nil, storeErr(err, "recipient")
	}

	msg := &models.Message{
		SenderID:   sender.Canonical,
		ReceiverID: receiver.Canonical,
		Content:    content,
		Type:       kind,
		CreatedAt:  s.now(),
	}
	if err := s.messages.Insert(ctx, msg); err != nil {
		return nil, storeErr(err, "message")
	}

	s.fanout.ToIdentity(receiver, EventNewMessage, msg)
	s.fanout.ToIdentity(sender, EventNewMessage, msg)

	title := "New message"
	if u, err := s.users.FindByID(ctx, sender.Canonical); err == nil && u.Name != "" {
		title = u.Name
	}
	s.fanout.PushIfOffline(ctx, receiver, push.Message{
		Title: title,
		Body:  preview(content, kind),
		URL:   "/messages?with=" + sender.Canonical,
		Tag:   "message:" + sender.Canonical,
	})
	return msg, nil
}

func preview(content, kind string) string {
	if kind != models.MessageText {
		return "Sent a " + kind
	}
	if utf8.RuneCountInString(content) <= 120 {
		return content
	}
	return string([]rune(content)[:120]) + "..."
}

// Edit replaces the content of a message owned by userID. The previous content is appended to the
// edit history in the same update, guarded on the content it read so concurrent edits never drop an entry.
func (s *MessageService) Edit(ctx context.Context, userID, id, content string) (*models.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, invalid("content is required")
	}
	if utf8.RuneCountInString(content) > maxMessageLength {
		return nil, invalid(fmt.Sprintf("content exceeds %d characters", maxMessageLength))
	}
	me := s.fanout.Resolve(ctx, userID)

	for attempt := 0; attempt < editAttempts; attempt++ {
		msg, err := s.load(ctx, id)
		if err != nil {
			return nil, err
		}
		if !me.Has(msg.SenderID) {
			return nil, forbidden("only the sender can edit a message")
		}
		if msg.Content == content {
			return msg, nil
		}

		at := s.now()
		ok, err := s.messages.ReplaceContent(ctx, msg.ID, msg.Content, content, at)
		if err != nil {
			return nil, storeErr(err, "message")
		}
		if !ok {
			continue
		}

		msg.EditHistory = append(msg.EditHistory, models.MessageEdit{Content: msg.Content, EditedAt: at})
		msg.Content = content
		msg.EditedAt = &at
		s.fanout.ToUser(ctx, msg.ReceiverID, EventMessageEdited, msg)
		s.fanout.ToIdentity(me, EventMessageEdited, msg)
		return msg, nil
	}
	return nil, fmt.Errorf("%w: message was edited concurrently", ErrConflict)
}

// Delete removes a message. Senders delete their own messages; admins may delete any and are
// recorded as such in the audit log written with the delete.
func (s *MessageService) Delete(ctx context.Context, userID, id, requestID string) error {
	msg, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	me := s.fanout.Resolve(ctx, userID)

	initiatedBy := models.InitiatedByUser
	if !me.Has(msg.SenderID) {
		actor, err := s.users.FindByID(ctx, me.Canonical)
		if err != nil && !errors.Is(err, database.ErrNotFound) {
			return storeErr(err, "user")
		}
		if actor == nil || !actor.IsAdmin() {
			return forbidden("only the sender or an admin can delete a message")
		}
		initiatedBy = models.InitiatedByAdmin
	}

	err = s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		deleted, err := s.messages.Delete(ctx, msg.ID)
		if err != nil {
			return err
		}
		if !deleted {
			return database.ErrNotFound
		}
		return s.audit.Insert(ctx, &models.AuditLog{
			Action:      "message.delete",
			ActorID:     me.Canonical,
			InitiatedBy: initiatedBy,
			TargetType:  "message",
			TargetID:    msg.ID.Hex(),
			RequestID:   requestID,
			Details: map[string]any{
				"senderId":   msg.SenderID,
				"receiverId": msg.ReceiverID,
			},
			CreatedAt: s.now(),
		})
	})
	if err != nil {
		return storeErr(err, "message")
	}

	payload := map[string]interface{}{
		"messageId":  msg.ID.Hex(),
		"senderId":   msg.SenderID,
		"receiverId": msg.ReceiverID,
		"deletedBy":  me.Canonical,
	}
	s.fanout.ToUser(ctx, msg.SenderID, EventMessageDeleted, payload)
	s.fanout.ToUser(ctx, msg.ReceiverID, EventMessageDeleted, payload)
	return nil
}

// Conversations lists one row per partner. Rows stored under different ids of the same partner
// are merged into the row with the most recent message.
func (s *MessageService) Conversations(ctx context.Context, userID string, limit int64) ([]models.Conversation, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	me := s.fanout.Resolve(ctx, userID)

	rows, err := s.messages.Conversations(ctx, me.All(), limit)
	if err != nil {
		return nil, storeErr(err, "conversations")
	}

	merged := make([]models.Conversation, 0, len(rows))
	index := make(map[string]int, len(rows))
	for _, row := range rows {
		partner := s.fanout.Resolve(ctx, row.PartnerID).Canonical
		row.PartnerID = partner
		i, ok := index[partner]
		if !ok {
			index[partner] = len(merged)
			merged = append(merged, row)
			continue
		}
		unread := merged[i].UnreadCount + row.UnreadCount
		if row.UpdatedAt.After(merged[i].UpdatedAt) {
			merged[i] = row
		}
		merged[i].UnreadCount = unread
	}

	partners := make([]string, 0, len(merged))
	for _, c := range merged {
		partners = append(partners, c.PartnerID)
	}
	users, err := s.users.FindByIDs(ctx, partners)
	if err != nil {
		logger.Warn("conversation partners lookup failed", zap.Error(err))
		return merged, nil
	}
	byID := make(map[string]*models.User, len(users))
	for i := range users {
		byID[users[i].ID.Hex()] = &users[i]
	}
	for i := range merged {
		merged[i].Partner = byID[merged[i].PartnerID]
	}
	return merged, nil
}

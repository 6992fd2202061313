package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	MessageText  = "text"
	MessageImage = "image"
	MessageVideo = "video"
	MessageFile  = "file"
)

func ValidMessageType(t string) bool {
	switch t {
	case MessageText, MessageImage, MessageVideo, MessageFile:
		return true
	}
	return false
}

type Message struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	SenderID    string             `bson:"senderId" json:"senderId"`
	ReceiverID  string             `bson:"receiverId" json:"receiverId"`
	Content     string             `bson:"content" json:"content"`
	Type        string             `bson:"type" json:"type"`
	Read        bool               `bson:"read" json:"read"`
	ReadAt      *time.Time         `bson:"readAt,omitempty" json:"readAt,omitempty"`
	EditHistory []MessageEdit      `bson:"editHistory,omitempty" json:"editHistory,omitempty"`
	EditedAt    *time.Time         `bson:"editedAt,omitempty" json:"editedAt,omitempty"`
	CreatedAt   time.Time          `bson:"createdAt" json:"createdAt"`
}

// MessageEdit is a snapshot of content that was replaced by an edit.
type MessageEdit struct {
	Content  string    `bson:"content" json:"content"`
	EditedAt time.Time `bson:"editedAt" json:"editedAt"`
}

// Conversation is one row of the inbox: the latest message exchanged with a partner.
type Conversation struct {
	PartnerID   string    `bson:"_id" json:"partnerId"`
	LastMessage Message   `bson:"lastMessage" json:"lastMessage"`
	UnreadCount int64     `bson:"unreadCount" json:"unreadCount"`
	UpdatedAt   time.Time `bson:"updatedAt" json:"updatedAt"`
	Partner     *User     `bson:"-" json:"partner,omitempty"`
}

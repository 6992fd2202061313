package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	NotificationLike          = "like"
	NotificationComment       = "comment"
	NotificationFollow        = "follow"
	NotificationFollowRequest = "follow_request"
	NotificationShare         = "share"
	NotificationSystem        = "system"
)

type Notification struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID     string             `bson:"userId" json:"userId"`
	Type       string             `bson:"type" json:"type"`
	Title      string             `bson:"title" json:"title"`
	Message    string             `bson:"message" json:"message"`
	Link       string             `bson:"link,omitempty" json:"link,omitempty"`
	PostID     string             `bson:"postId,omitempty" json:"postId,omitempty"`
	FromUserID string             `bson:"fromUserId,omitempty" json:"fromUserId,omitempty"`
	Read       bool               `bson:"read" json:"read"`
	ReadAt     *time.Time         `bson:"readAt,omitempty" json:"readAt,omitempty"`
	CreatedAt  time.Time          `bson:"createdAt" json:"createdAt"`
}

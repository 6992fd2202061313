package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Poll is stored either in the polls collection or embedded on a post.
// Embedded polls carry the post id as their ID.
type Poll struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	PostID     string             `bson:"postId,omitempty" json:"postId,omitempty"`
	Question   string             `bson:"question" json:"question"`
	Options    []PollOption       `bson:"options" json:"options"`
	TotalVotes int64              `bson:"totalVotes" json:"totalVotes"`
	ExpiresAt  *time.Time         `bson:"expiresAt,omitempty" json:"expiresAt,omitempty"`
	CreatedAt  time.Time          `bson:"createdAt,omitempty" json:"createdAt,omitempty"`

	// Embedded is set when the poll lives on a post document.
	Embedded bool `bson:"-" json:"embedded"`
}

type PollOption struct {
	Text  string `bson:"text" json:"text"`
	Votes int64  `bson:"votes" json:"votes"`
}

func (p *Poll) Expired(now time.Time) bool {
	return p.ExpiresAt != nil && !now.Before(*p.ExpiresAt)
}

type PollVote struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	PollID      string             `bson:"pollId" json:"pollId"`
	UserID      string             `bson:"userId" json:"userId"`
	OptionIndex int                `bson:"optionIndex" json:"optionIndex"`
	VotedAt     time.Time          `bson:"votedAt" json:"votedAt"`
}

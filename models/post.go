package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Counter fields on Post, updated only through $inc.
const (
	PostLikes     = "likesCount"
	PostComments  = "commentsCount"
	PostShares    = "sharesCount"
	PostBookmarks = "bookmarksCount"
)

type Post struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	AuthorID       string             `bson:"authorId" json:"authorId"`
	GroupID        string             `bson:"groupId,omitempty" json:"groupId,omitempty"`
	Content        string             `bson:"content" json:"content"`
	LikesCount     int64              `bson:"likesCount" json:"likesCount"`
	CommentsCount  int64              `bson:"commentsCount" json:"commentsCount"`
	SharesCount    int64              `bson:"sharesCount" json:"sharesCount"`
	BookmarksCount int64              `bson:"bookmarksCount" json:"bookmarksCount"`
	Poll           *Poll              `bson:"poll,omitempty" json:"poll,omitempty"`
	CreatedAt      time.Time          `bson:"createdAt" json:"createdAt"`
}

type Comment struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	PostID    string             `bson:"postId" json:"postId"`
	AuthorID  string             `bson:"authorId" json:"authorId"`
	Content   string             `bson:"content" json:"content"`
	CreatedAt time.Time          `bson:"createdAt" json:"createdAt"`
}

type Like struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID    string             `bson:"userId" json:"userId"`
	PostID    string             `bson:"postId" json:"postId"`
	CreatedAt time.Time          `bson:"createdAt" json:"createdAt"`
}

type Share struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID    string             `bson:"userId" json:"userId"`
	PostID    string             `bson:"postId" json:"postId"`
	Message   string             `bson:"message,omitempty" json:"message,omitempty"`
	CreatedAt time.Time          `bson:"createdAt" json:"createdAt"`
}

type Bookmark struct {
	ID      primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID  string             `bson:"userId" json:"userId"`
	PostID  string             `bson:"postId" json:"postId"`
	Tags    []string           `bson:"tags,omitempty" json:"tags,omitempty"`
	SavedAt time.Time          `bson:"savedAt" json:"savedAt"`
}

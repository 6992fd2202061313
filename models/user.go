package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Counter fields on User, updated only through $inc.
const (
	UserFollowers = "followersCount"
	UserFollowing = "followingCount"
)

type User struct {
	ID primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	// LegacyID holds the OAuth subject on documents created before accounts were split out.
	LegacyID string `bson:"id,omitempty" json:"-"`

	Email    string `bson:"email,omitempty" json:"email,omitempty"`
	Phone    string `bson:"phone,omitempty" json:"phone,omitempty"`
	Username string `bson:"username" json:"username"`
	Name     string `bson:"name" json:"name"`
	Avatar   string `bson:"avatar" json:"avatar"`
	Bio      string `bson:"bio" json:"bio"`
	Role     string `bson:"role,omitempty" json:"role,omitempty"`

	IsPrivate bool      `bson:"isPrivate" json:"isPrivate"`
	IsOnline  bool      `bson:"isOnline" json:"isOnline"`
	LastSeen  time.Time `bson:"lastSeen,omitempty" json:"lastSeen,omitempty"`

	FollowersCount int64 `bson:"followersCount" json:"followersCount"`
	FollowingCount int64 `bson:"followingCount" json:"followingCount"`

	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
}

func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// Account links an external provider subject to a user.
type Account struct {
	ID                primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID            string             `bson:"userId" json:"userId"`
	Provider          string             `bson:"provider" json:"provider"`
	ProviderAccountID string             `bson:"providerAccountId" json:"providerAccountId"`
	Email             string             `bson:"email,omitempty" json:"email,omitempty"`
	CreatedAt         time.Time          `bson:"createdAt" json:"createdAt"`
}

package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type Group struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name        string             `bson:"name" json:"name"`
	Description string             `bson:"description" json:"description"`
	OwnerID     string             `bson:"ownerId" json:"ownerId"`
	Admins      []string           `bson:"admins" json:"admins"`
	IsPrivate   bool               `bson:"isPrivate" json:"isPrivate"`
	Settings    GroupSettings      `bson:"settings" json:"settings"`
	UpdatedAt   time.Time          `bson:"updatedAt" json:"updatedAt"`
}

type GroupSettings struct {
	AllowMemberPosts bool `bson:"allowMemberPosts" json:"allowMemberPosts"`
	RequireApproval  bool `bson:"requireApproval" json:"requireApproval"`
	AllowInvites     bool `bson:"allowInvites" json:"allowInvites"`
}

// CanManage reports whether any of ids owns or administers the group.
func (g *Group) CanManage(ids []string) bool {
	for _, id := range ids {
		if id == g.OwnerID {
			return true
		}
		for _, a := range g.Admins {
			if a == id {
				return true
			}
		}
	}
	return false
}

package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	InitiatedByUser  = "user"
	InitiatedByAdmin = "admin"
)

type AuditLog struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Action      string             `bson:"action" json:"action"`
	ActorID     string             `bson:"actorId" json:"actorId"`
	InitiatedBy string             `bson:"initiatedBy" json:"initiatedBy"`
	TargetType  string             `bson:"targetType" json:"targetType"`
	TargetID    string             `bson:"targetId" json:"targetId"`
	RequestID   string             `bson:"requestId,omitempty" json:"requestId,omitempty"`
	Details     map[string]any     `bson:"details,omitempty" json:"details,omitempty"`
	CreatedAt   time.Time          `bson:"createdAt" json:"createdAt"`
}

package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type PushSubscription struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID    string             `bson:"userId" json:"userId"`
	Endpoint  string             `bson:"endpoint" json:"endpoint"`
	Keys      PushKeys           `bson:"keys" json:"keys"`
	CreatedAt time.Time          `bson:"createdAt" json:"createdAt"`
}

type PushKeys struct {
	P256dh string `bson:"p256dh" json:"p256dh"`
	Auth   string `bson:"auth" json:"auth"`
}

type OTPCode struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	Phone     string             `bson:"phone" json:"phone"`
	CodeHash  string             `bson:"codeHash" json:"-"`
	Attempts  int                `bson:"attempts" json:"attempts"`
	ExpiresAt time.Time          `bson:"expiresAt" json:"expiresAt"`
	CreatedAt time.Time          `bson:"createdAt" json:"createdAt"`
}

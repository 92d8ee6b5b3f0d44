package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type ViolationKind string

const (
	ViolationKindNewEpisode ViolationKind = "user_new_episode"
	ViolationKindInEpisode  ViolationKind = "user_in_episode"
	ViolationKindIP         ViolationKind = "ip"
)

// ViolationEvent is one entry of the append-only violation audit log kept in MongoDB.
type ViolationEvent struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	CreatedAt time.Time          `bson:"created_at" json:"created_at"`
	Kind      ViolationKind      `bson:"kind" json:"kind"`

	// User violations
	UserID  string `bson:"user_id,omitempty" json:"user_id,omitempty"`
	Points  int    `bson:"points,omitempty" json:"points,omitempty"`
	Banned  bool   `bson:"banned,omitempty" json:"banned,omitempty"`
	InCount int    `bson:"sensitive_count,omitempty" json:"sensitive_count,omitempty"`

	// IP violations
	IPAddress      string `bson:"ip_address,omitempty" json:"ip_address,omitempty"`
	Endpoint       string `bson:"endpoint,omitempty" json:"endpoint,omitempty"`
	ViolationCount int    `bson:"violation_count,omitempty" json:"violation_count,omitempty"`

	CooldownUntil *time.Time `bson:"cooldown_until,omitempty" json:"cooldown_until,omitempty"`
}

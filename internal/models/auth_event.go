package models

import "time"

// AuthEvent is one authentication attempt, stored in the audit log.
type AuthEvent struct {
	Method    string    `bson:"method" json:"method"`
	UserID    int64     `bson:"user_id,omitempty" json:"user_id,omitempty"`
	Username  string    `bson:"username,omitempty" json:"username,omitempty"`
	Success   bool      `bson:"success" json:"success"`
	Created   bool      `bson:"created,omitempty" json:"created,omitempty"`
	Reason    string    `bson:"reason,omitempty" json:"reason,omitempty"`
	IPAddress string    `bson:"ip_address,omitempty" json:"ip_address,omitempty"`
	UserAgent string    `bson:"user_agent,omitempty" json:"user_agent,omitempty"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}

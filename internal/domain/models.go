// Package domain defines the persistence models for channel users, their
// conversation messages and queued delivery jobs. These types are mapped with
// GORM and form the core data layer of the gateway.
package domain

import (
	"time"
)

// Message roles. The messages table enforces the same set with a CHECK
// constraint.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChannelWhatsApp is the only channel the gateway currently ingests from.
const ChannelWhatsApp = "whatsapp"

// User is an end user on an external messaging channel, keyed by the
// channel-provided identifier (a phone number for WhatsApp). Users are
// created lazily on first contact and never deleted by the gateway.
//
// Fields:
//   - ID: auto-increment primary key.
//   - Channel: messaging channel name ("whatsapp").
//   - ChannelIdentifier: sender id on that channel; unique per channel.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
type User struct {
	ID                uint      `json:"id"                 gorm:"primaryKey"`
	Channel           string    `json:"channel"            gorm:"type:varchar(56);not null;default:'whatsapp';uniqueIndex:ux_users_channel_identifier,priority:1"`
	ChannelIdentifier string    `json:"channel_identifier" gorm:"type:varchar(56);not null;uniqueIndex:ux_users_channel_identifier,priority:2"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// Message is one persisted conversational turn. Messages are append-only:
// the gateway inserts a user/assistant pair per handled inbound message and
// never updates them afterwards.
//
// Fields:
//   - ID: auto-increment primary key, used as an ordering tie-breaker.
//   - UserID: owning user (indexed with CreatedAt for window reads).
//   - Role: "user" or "assistant" (enforced by DB constraint).
//   - Content: full text of the turn.
//   - CreatedAt: server-assigned UTC timestamp.
//   - User: FK association, cascade-deleted with the owner.
type Message struct {
	ID        uint      `json:"id"         gorm:"primaryKey"`
	UserID    uint      `json:"user_id"    gorm:"not null;index:idx_user_msgs,priority:1"`
	Role      string    `json:"role"       gorm:"type:varchar(16);not null;check:role IN ('user','assistant')"`
	Content   string    `json:"content"    gorm:"type:text;not null"`
	CreatedAt time.Time `json:"created_at" gorm:"index:idx_user_msgs,priority:2"`

	User User `json:"-" gorm:"foreignKey:UserID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

package models

import (
	"strings"
	"time"
)

// Presence windows derived from last_seen_at.
const (
	OnlineWindow = 2 * time.Minute
	AwayWindow   = 15 * time.Minute
)

// PlaceholderName is shown when no identity can be resolved for a counterpart.
const PlaceholderName = "Unknown user"

// User is the internal user record. Users are created elsewhere and read-only here.
type User struct {
	ID          int        `db:"id" json:"id"`
	ExternalID  string     `db:"external_id" json:"-"`
	Username    string     `db:"username" json:"username"`
	DisplayName *string    `db:"display_name" json:"display_name,omitempty"`
	Email       string     `db:"email" json:"-"`
	AvatarURL   *string    `db:"avatar_url" json:"avatar_url,omitempty"`
	LastSeenAt  *time.Time `db:"last_seen_at" json:"last_seen_at,omitempty"`
}

// DisplayIdentity picks display_name, then username, then the local part of the email.
func (u User) DisplayIdentity() string {
	if u.DisplayName != nil && strings.TrimSpace(*u.DisplayName) != "" {
		return strings.TrimSpace(*u.DisplayName)
	}
	if u.Username != "" {
		return u.Username
	}
	if local, _, ok := strings.Cut(u.Email, "@"); ok && local != "" {
		return local
	}
	if u.Email != "" {
		return u.Email
	}
	return PlaceholderName
}

// Presence is derived from the last time the user was seen.
type Presence string

const (
	PresenceOnline  Presence = "online"
	PresenceAway    Presence = "away"
	PresenceOffline Presence = "offline"
)

func (u User) PresenceAt(now time.Time) Presence {
	if u.LastSeenAt == nil {
		return PresenceOffline
	}
	since := now.Sub(*u.LastSeenAt)
	switch {
	case since <= OnlineWindow:
		return PresenceOnline
	case since <= AwayWindow:
		return PresenceAway
	default:
		return PresenceOffline
	}
}

// UserRef is the API view of a user as seen from a conversation.
type UserRef struct {
	ID          int      `json:"id,omitempty"`
	DisplayName string   `json:"display_name"`
	AvatarURL   *string  `json:"avatar_url,omitempty"`
	Presence    Presence `json:"presence"`
}

func (u User) Ref(now time.Time) UserRef {
	return UserRef{ID: u.ID, DisplayName: u.DisplayIdentity(), AvatarURL: u.AvatarURL, Presence: u.PresenceAt(now)}
}

// PlaceholderRef is used when a direct counterpart cannot be loaded.
func PlaceholderRef() UserRef {
	return UserRef{DisplayName: PlaceholderName, Presence: PresenceOffline}
}

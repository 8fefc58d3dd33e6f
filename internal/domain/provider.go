package domain

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

type Provider string

const (
	ProviderGmail     Provider = "gmail"
	ProviderSlack     Provider = "slack"
	ProviderInstagram Provider = "instagram"
)

type ConnectionStatus string

const (
	StatusConnected    ConnectionStatus = "connected"
	StatusExpired      ConnectionStatus = "expired"
	StatusError        ConnectionStatus = "error"
	StatusDisconnected ConnectionStatus = "disconnected"
)

const (
	MessagingWindow          = 24 * time.Hour
	MaxMessageLength         = 1000
	MaxScheduledRetries      = 3
	DefaultAutoReminderHours = 12
	DefaultReminderText      = "Just checking in - did you have any questions?"
	PreviewLength            = 100
	InstagramHourlyCallLimit = 200
)

// IntegrationStatus is embedded by every provider integration.
type IntegrationStatus struct {
	ConnectionStatus ConnectionStatus
	IsActive         bool
	LastRefreshAt    *time.Time
	LastError        string
	LastErrorAt      *time.Time
}

// Usable reports whether the integration may be used for provider calls.
func (s IntegrationStatus) Usable() bool {
	return s.IsActive && s.ConnectionStatus == StatusConnected
}

// Preview truncates text to PreviewLength runes.
func Preview(text string) string {
	if utf8.RuneCountInString(text) <= PreviewLength {
		return text
	}
	runes := []rune(text)
	return string(runes[:PreviewLength])
}

// ConversationUpdate is the payload pushed to a user's live inbox channel.
type ConversationUpdate struct {
	Type           string    `json:"type"`
	ConversationID uuid.UUID `json:"conversation_id"`
	Preview        string    `json:"preview"`
	Direction      Direction `json:"direction"`
	UnreadCount    int       `json:"unread_count"`
}

// InboxPublisher pushes live updates to connected UI clients.
type InboxPublisher interface {
	ConversationUpdated(ctx context.Context, userID uuid.UUID, update ConversationUpdate) error
}

// Debouncer collapses repeated triggers for the same key within ttl.
// ShouldTrigger returns true for the first call in each window.
type Debouncer interface {
	ShouldTrigger(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// RateLimiter enforces the hourly Graph API budget of an integration.
type RateLimiter interface {
	Allow(ctx context.Context, integrationID uuid.UUID) (allowed bool, resetAt time.Time, err error)
}

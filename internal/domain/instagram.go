package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type InstagramIntegration struct {
	ID                uuid.UUID
	UserID            uuid.UUID
	IMOID             *uuid.UUID
	InstagramUserID   string
	InstagramUsername string
	InstagramName     string
	AccountType       string

	AccessTokenEncrypted string
	TokenExpiresAt       *time.Time
	IntegrationStatus

	APICallsThisHour int
	APICallsResetAt  *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

type Conversation struct {
	ID                      uuid.UUID `json:"id"`
	IntegrationID           uuid.UUID `json:"integrationId"`
	InstagramConversationID string    `json:"instagramConversationId"`

	ParticipantInstagramID     string     `json:"participantInstagramId"`
	ParticipantUsername        string     `json:"participantUsername"`
	ParticipantName            string     `json:"participantName"`
	ParticipantProfilePicURL   string     `json:"participantProfilePicUrl"`
	ParticipantAvatarCachedURL string     `json:"participantAvatarCachedUrl"`
	ParticipantAvatarCachedAt  *time.Time `json:"participantAvatarCachedAt,omitempty"`
	LastMessageAt              *time.Time `json:"lastMessageAt,omitempty"`
	LastMessagePreview         string     `json:"lastMessagePreview"`
	LastMessageDirection       Direction  `json:"lastMessageDirection"`
	LastInboundAt              *time.Time `json:"lastInboundAt,omitempty"`
	CanReplyUntil              *time.Time `json:"canReplyUntil,omitempty"`
	UnreadCount                int        `json:"unreadCount"`
	IsPriority                 bool       `json:"isPriority"`
	AutoReminderEnabled        bool       `json:"autoReminderEnabled"`
	AutoReminderTemplateID     *uuid.UUID `json:"autoReminderTemplateId,omitempty"`
	AutoReminderHours          int        `json:"autoReminderHours"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// WindowOpen reports whether a reply is still allowed at now.
func (c *Conversation) WindowOpen(now time.Time) bool {
	return c.CanReplyUntil != nil && c.CanReplyUntil.After(now)
}

type MessageType string

const (
	MessageTypeText         MessageType = "text"
	MessageTypeMedia        MessageType = "media"
	MessageTypeStoryMention MessageType = "story_mention"
	MessageTypeStoryReply   MessageType = "story_reply"
)

type MessageStatus string

const (
	MessageSent      MessageStatus = "sent"
	MessageDelivered MessageStatus = "delivered"
	MessageRead      MessageStatus = "read"
	MessageFailed    MessageStatus = "failed"
)

type Message struct {
	ID                 uuid.UUID     `json:"id"`
	ConversationID     uuid.UUID     `json:"conversationId"`
	InstagramMessageID string        `json:"instagramMessageId"`
	MessageText        string        `json:"messageText"`
	MessageType        MessageType   `json:"messageType"`
	MediaURL           string        `json:"mediaUrl"`
	MediaType          string        `json:"mediaType"`
	MediaCachedURL     string        `json:"mediaCachedUrl"`
	MediaCachedAt      *time.Time    `json:"mediaCachedAt,omitempty"`
	StoryID            string        `json:"storyId"`
	StoryURL           string        `json:"storyUrl"`
	Direction          Direction     `json:"direction"`
	Status             MessageStatus `json:"status"`
	SenderInstagramID  string        `json:"senderInstagramId"`
	SenderUsername     string        `json:"senderUsername"`
	SentAt             time.Time     `json:"sentAt"`
	DeliveredAt        *time.Time    `json:"deliveredAt,omitempty"`
	ReadAt             *time.Time    `json:"readAt,omitempty"`
	TemplateID         *uuid.UUID    `json:"templateId,omitempty"`
	ScheduledMessageID *uuid.UUID    `json:"scheduledMessageId,omitempty"`
	CreatedAt          time.Time     `json:"createdAt"`
}

type ScheduledStatus string

const (
	ScheduledPending   ScheduledStatus = "pending"
	ScheduledSending   ScheduledStatus = "sending"
	ScheduledSent      ScheduledStatus = "sent"
	ScheduledFailed    ScheduledStatus = "failed"
	ScheduledExpired   ScheduledStatus = "expired"
	ScheduledCancelled ScheduledStatus = "cancelled"
)

type ScheduledMessage struct {
	ID                       uuid.UUID       `json:"id"`
	ConversationID           uuid.UUID       `json:"conversationId"`
	MessageText              string          `json:"messageText"`
	TemplateID               *uuid.UUID      `json:"templateId,omitempty"`
	ScheduledFor             time.Time       `json:"scheduledFor"`
	ScheduledBy              uuid.UUID       `json:"scheduledBy"`
	MessagingWindowExpiresAt time.Time       `json:"messagingWindowExpiresAt"`
	Status                   ScheduledStatus `json:"status"`
	RetryCount               int             `json:"retryCount"`
	ErrorMessage             string          `json:"errorMessage"`
	SentAt                   *time.Time      `json:"sentAt,omitempty"`
	SentMessageID            *uuid.UUID      `json:"sentMessageId,omitempty"`
	IsAutoReminder           bool            `json:"isAutoReminder"`
	CreatedAt                time.Time       `json:"createdAt"`
}

// DueMessage is a pending scheduled message joined with what is needed to send it.
type DueMessage struct {
	Scheduled    ScheduledMessage
	Conversation Conversation
	Integration  InstagramIntegration
}

type Template struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"userId"`
	Name      string    `json:"name"`
	Content   string    `json:"content"`
	IsActive  bool      `json:"isActive"`
	UseCount  int       `json:"useCount"`
	CreatedAt time.Time `json:"createdAt"`
}

// ReminderCandidate is a priority conversation due for an automatic follow-up.
type ReminderCandidate struct {
	ConversationID  uuid.UUID
	UserID          uuid.UUID
	CanReplyUntil   time.Time
	TemplateID      *uuid.UUID
	TemplateContent string
}

// ParticipantProfile is the provider-side metadata of a conversation participant.
type ParticipantProfile struct {
	Username      string
	Name          string
	ProfilePicURL string
}

type PrioritySettings struct {
	IsPriority             bool
	AutoReminderEnabled    bool
	AutoReminderTemplateID *uuid.UUID
	AutoReminderHours      int
}

// Cursor is a keyset position in (timestamp DESC NULLS LAST, id DESC) order.
// At is nil for rows that have no timestamp yet.
type Cursor struct {
	At *time.Time
	ID uuid.UUID
}

// Page bounds a keyset listing; rows strictly after the cursor are returned.
type Page struct {
	Limit int
	After *Cursor
}

// CursorArgs returns the (timestamp, id) query arguments, both NULL for the
// first page.
func (p Page) CursorArgs() (*time.Time, *uuid.UUID) {
	if p.After == nil {
		return nil, nil
	}
	id := p.After.ID
	return p.After.At, &id
}

type InstagramIntegrationRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*InstagramIntegration, error)
	GetActiveByInstagramUserID(ctx context.Context, instagramUserID string) (*InstagramIntegration, error)
	ListExpiring(ctx context.Context, before time.Time) ([]*InstagramIntegration, error)
	Upsert(ctx context.Context, integration *InstagramIntegration) (*InstagramIntegration, error)
	UpdateToken(ctx context.Context, id uuid.UUID, tokenEncrypted string, expiresAt, refreshedAt time.Time) error
	SetStatus(ctx context.Context, id uuid.UUID, status ConnectionStatus, lastError string) error
	Deactivate(ctx context.Context, id uuid.UUID) error
	RecordAPICalls(ctx context.Context, id uuid.UUID, count int, resetAt time.Time) error
}

type ConversationRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Conversation, error)
	GetByParticipant(ctx context.Context, integrationID uuid.UUID, participantID string) (*Conversation, error)
	Create(ctx context.Context, conv *Conversation) (*Conversation, error)
	UpsertSynced(ctx context.Context, convs []*Conversation) error
	List(ctx context.Context, integrationID uuid.UUID, page Page) ([]*Conversation, error)
	RecordInbound(ctx context.Context, id uuid.UUID, at time.Time, preview string) (*Conversation, error)
	RecordOutbound(ctx context.Context, id uuid.UUID, at time.Time, preview string) error
	UpdateWindow(ctx context.Context, id uuid.UUID, lastInboundAt time.Time) error
	ResetUnread(ctx context.Context, id uuid.UUID) error
	UpdateParticipant(ctx context.Context, id uuid.UUID, profile ParticipantProfile) error
	SetAvatarCache(ctx context.Context, id uuid.UUID, url string, at time.Time) error
	SetPriority(ctx context.Context, id uuid.UUID, settings PrioritySettings) error
	ListReminderCandidates(ctx context.Context, now time.Time) ([]ReminderCandidate, error)
}

type MessageRepository interface {
	// Upsert is idempotent on InstagramMessageID; inserted is false when the
	// message was already stored.
	Upsert(ctx context.Context, msg *Message) (stored *Message, inserted bool, err error)
	MarkReadUpTo(ctx context.Context, conversationID uuid.UUID, watermark, readAt time.Time) (int64, error)
	List(ctx context.Context, conversationID uuid.UUID, page Page) ([]*Message, error)
	LatestInboundAt(ctx context.Context, conversationID uuid.UUID) (*time.Time, error)
	SetMediaCache(ctx context.Context, id uuid.UUID, url string, at time.Time) error
}

type ScheduledMessageRepository interface {
	Create(ctx context.Context, msg *ScheduledMessage) (*ScheduledMessage, error)
	GetByID(ctx context.Context, id uuid.UUID) (*ScheduledMessage, error)
	ExpirePastWindow(ctx context.Context, now time.Time) (int64, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]*DueMessage, error)
	ListDueForConversation(ctx context.Context, conversationID uuid.UUID, now time.Time) ([]*DueMessage, error)
	GetDue(ctx context.Context, id uuid.UUID) (*DueMessage, error)
	// Claim moves a due pending message to sending. It reports false when the
	// message is no longer pending, not yet due or past its window.
	Claim(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	// FailStaleClaims fails messages left in sending since before cutoff.
	FailStaleClaims(ctx context.Context, cutoff time.Time, reason string) (int64, error)
	MarkSent(ctx context.Context, id uuid.UUID, sentAt time.Time, messageID uuid.UUID) error
	MarkExpired(ctx context.Context, id uuid.UUID, reason string) error
	RecordFailure(ctx context.Context, id uuid.UUID, retryCount int, status ScheduledStatus, reason string) error
	Cancel(ctx context.Context, id uuid.UUID) error
}

type TemplateRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Template, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*Template, error)
	Create(ctx context.Context, tmpl *Template) (*Template, error)
	IncrementUseCount(ctx context.Context, id uuid.UUID) error
}

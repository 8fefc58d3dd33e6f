package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type GmailIntegration struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	GmailAddress string
	GmailName    string

	AccessTokenEncrypted  string
	RefreshTokenEncrypted string
	TokenExpiresAt        *time.Time
	IntegrationStatus

	HistoryID     string
	LastSyncAt    *time.Time
	APICallsToday int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// FromHeader renders the address as `"Name" <addr>` when a name is known.
func (g *GmailIntegration) FromHeader() string {
	if g.GmailName == "" {
		return g.GmailAddress
	}
	return `"` + g.GmailName + `" <` + g.GmailAddress + `>`
}

type GmailThread struct {
	ID            uuid.UUID
	IntegrationID uuid.UUID
	GmailThreadID string
	Subject       string
	SubjectHash   string
	Snippet       string
	LastMessageAt time.Time
	MessageCount  int
	UnreadCount   int
}

type GmailMessage struct {
	ID              uuid.UUID
	ThreadID        uuid.UUID
	GmailMessageID  string
	GmailThreadID   string
	From            string
	To              string
	Cc              string
	Subject         string
	BodyText        string
	BodyHTML        string
	Snippet         string
	Labels          []string
	IsRead          bool
	SentAt          time.Time
	MessageIDHeader string
	InReplyTo       string
	References      string
}

type SyncType string

const (
	SyncInitial     SyncType = "initial"
	SyncIncremental SyncType = "incremental"
	SyncSend        SyncType = "send"
)

type SyncLog struct {
	IntegrationID  uuid.UUID
	SyncType       SyncType
	MessagesSynced int
	Status         string
	ErrorMessage   string
}

type GmailIntegrationRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*GmailIntegration, error)
	GetByUser(ctx context.Context, userID uuid.UUID) (*GmailIntegration, error)
	ListActive(ctx context.Context) ([]*GmailIntegration, error)
	ListExpiring(ctx context.Context, before time.Time) ([]*GmailIntegration, error)
	Upsert(ctx context.Context, integration *GmailIntegration) (*GmailIntegration, error)
	UpdateAccessToken(ctx context.Context, id uuid.UUID, tokenEncrypted string, expiresAt, refreshedAt time.Time) error
	SetStatus(ctx context.Context, id uuid.UUID, status ConnectionStatus, lastError string) error
	UpdateSyncState(ctx context.Context, id uuid.UUID, historyID string, syncedAt time.Time) error
	IncrementAPICalls(ctx context.Context, id uuid.UUID) error
}

type GmailMailboxRepository interface {
	UpsertThread(ctx context.Context, thread *GmailThread) (*GmailThread, error)
	// InsertMessage returns false when the message already exists.
	InsertMessage(ctx context.Context, msg *GmailMessage) (bool, error)
	WriteSyncLog(ctx context.Context, entry SyncLog) error
}

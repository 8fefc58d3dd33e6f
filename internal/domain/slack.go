package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type SlackIntegration struct {
	ID                uuid.UUID
	IMOID             uuid.UUID
	TeamID            string
	TeamName          string
	BotTokenEncrypted string
	BotUserID         string
	IntegrationStatus

	CreatedAt time.Time
	UpdatedAt time.Time
}

const (
	NotificationPolicyCreated    = "policy_created"
	NotificationDailyLeaderboard = "daily_leaderboard"
)

type SlackChannelConfig struct {
	ID                 uuid.UUID
	IMOID              uuid.UUID
	AgencyID           *uuid.UUID
	ChannelID          string
	ChannelName        string
	NotificationType   string
	IsActive           bool
	IncludeClientInfo  bool
	IncludeLeaderboard bool
	MinPremium         *float64
}

type SlackMessage struct {
	IntegrationID    uuid.UUID
	ChannelID        string
	NotificationType string
	RelatedEntityID  string
	MessageTS        string
	Status           string
	ErrorMessage     string
}

type LeaderboardEntry struct {
	AgentName    string
	TotalPremium float64
	PolicyCount  int
}

type SlackIntegrationRepository interface {
	GetActiveByIMO(ctx context.Context, imoID uuid.UUID) (*SlackIntegration, error)
	Upsert(ctx context.Context, integration *SlackIntegration) (*SlackIntegration, error)
	SetStatus(ctx context.Context, id uuid.UUID, status ConnectionStatus, lastError string) error
}

type SlackChannelRepository interface {
	// ListForAgency returns active configs of the type that target the agency or all agencies.
	ListForAgency(ctx context.Context, imoID uuid.UUID, agencyID *uuid.UUID, notificationType string) ([]*SlackChannelConfig, error)
	LogMessage(ctx context.Context, msg SlackMessage) error
}

type LeaderboardSource interface {
	AgencyProduction(ctx context.Context, agencyID uuid.UUID) ([]LeaderboardEntry, error)
}

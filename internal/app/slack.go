package app

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/commhub/internal/adapter/metrics"
	"github.com/pscheid92/commhub/internal/adapter/slack"
	"github.com/pscheid92/commhub/internal/domain"
	apperrors "github.com/pscheid92/commhub/internal/platform/errors"
)

const (
	unknownAgent   = "Unknown Agent"
	unknownCarrier = "Unknown Carrier"
	unknownProduct = "Unknown Product"
	noPolicyNumber = "N/A"
)

type PolicyNotification struct {
	IMOID         uuid.UUID  `json:"imoId"`
	AgencyID      *uuid.UUID `json:"agencyId"`
	PolicyID      string     `json:"policyId"`
	AgentID       string     `json:"agentId"`
	AgentName     string     `json:"agentName"`
	CarrierName   string     `json:"carrierName"`
	ProductName   string     `json:"productName"`
	PolicyNumber  string     `json:"policyNumber"`
	ClientName    string     `json:"clientName"`
	AnnualPremium float64    `json:"annualPremium"`
	EffectiveDate *time.Time `json:"effectiveDate"`
}

type ChannelResult struct {
	Channel            string `json:"channel"`
	PolicyNotification bool   `json:"policyNotification"`
	Leaderboard        *bool  `json:"leaderboard,omitempty"`
	Error              string `json:"error,omitempty"`
}

type NotifyResult struct {
	Skipped bool            `json:"skipped,omitempty"`
	Reason  string          `json:"reason,omitempty"`
	Results []ChannelResult `json:"results"`
}

// SlackService posts sales notifications to an IMO's Slack workspace.
type SlackService struct {
	integrations domain.SlackIntegrationRepository
	channels     domain.SlackChannelRepository
	leaderboard  domain.LeaderboardSource
	creds        *CredentialStore
	api          SlackAPI
	metrics      *metrics.MessagingMetrics
	clock        clockwork.Clock
}

type SlackServiceDeps struct {
	Integrations domain.SlackIntegrationRepository
	Channels     domain.SlackChannelRepository
	Leaderboard  domain.LeaderboardSource
	Credentials  *CredentialStore
	API          SlackAPI
	Metrics      *metrics.MessagingMetrics
	Clock        clockwork.Clock
}

func NewSlackService(d SlackServiceDeps) *SlackService {
	return &SlackService{
		integrations: d.Integrations,
		channels:     d.Channels,
		leaderboard:  d.Leaderboard,
		creds:        d.Credentials,
		api:          d.API,
		metrics:      d.Metrics,
		clock:        d.Clock,
	}
}

// NotifyPolicy announces a sold policy in every matching channel, optionally
// followed by the agency leaderboard in the message thread.
func (s *SlackService) NotifyPolicy(ctx context.Context, n PolicyNotification) (*NotifyResult, error) {
	if n.IMOID == uuid.Nil || n.PolicyID == "" || n.AgentID == "" {
		return nil, apperrors.ValidationError("imoId, policyId and agentId are required")
	}

	integration, err := s.integrations.GetActiveByIMO(ctx, n.IMOID)
	if errors.Is(err, domain.ErrIntegrationNotFound) {
		return skipped("No active integration"), nil
	}
	if err != nil {
		return nil, apperrors.InternalError("failed to load slack integration", err)
	}

	configs, err := s.channels.ListForAgency(ctx, n.IMOID, n.AgencyID, domain.NotificationPolicyCreated)
	if err != nil {
		return nil, apperrors.InternalError("failed to load slack channel configs", err)
	}
	if len(configs) == 0 {
		return skipped("No channel configs"), nil
	}

	token, err := s.creds.SlackBotToken(ctx, integration)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	details := policyDetails(n, now)
	text := slack.PolicyText(details)

	res := &NotifyResult{Results: []ChannelResult{}}
	for _, cfg := range configs {
		if cfg.MinPremium != nil && n.AnnualPremium < *cfg.MinPremium {
			slog.DebugContext(ctx, "Skipping channel below minimum premium", "channel", cfg.ChannelName, "premium", n.AnnualPremium, "min_premium", *cfg.MinPremium)
			continue
		}

		blocks := slack.PolicyNotificationBlocks(details, cfg.IncludeClientInfo, now)
		ts, postErr := s.api.PostBlocks(ctx, token, cfg.ChannelID, text, blocks, "")
		s.logMessage(ctx, integration.ID, cfg.ChannelID, domain.NotificationPolicyCreated, n.PolicyID, ts, postErr)

		result := ChannelResult{Channel: cfg.ChannelName, PolicyNotification: postErr == nil}
		if postErr != nil {
			result.Error = postErr.Error()
		} else if s.metrics != nil {
			s.metrics.MessagesSent.WithLabelValues(string(domain.ProviderSlack), "policy").Inc()
		}

		if cfg.IncludeLeaderboard && n.AgencyID != nil {
			if ok, posted := s.postLeaderboard(ctx, integration.ID, token, cfg.ChannelID, *n.AgencyID, ts, now); posted {
				result.Leaderboard = &ok
			}
		}
		res.Results = append(res.Results, result)
	}

	slog.InfoContext(ctx, "Policy notification sent", "imo_id", n.IMOID, "policy_id", n.PolicyID, "channels", len(res.Results))
	return res, nil
}

// postLeaderboard reports whether a leaderboard was attempted (posted) and
// whether it succeeded (ok).
func (s *SlackService) postLeaderboard(ctx context.Context, integrationID uuid.UUID, token, channelID string, agencyID uuid.UUID, threadTS string, now time.Time) (ok, posted bool) {
	entries, err := s.leaderboard.AgencyProduction(ctx, agencyID)
	if err != nil {
		slog.WarnContext(ctx, "Failed to load agency production", "agency_id", agencyID, "error", err)
		return false, false
	}
	if len(entries) == 0 {
		return false, false
	}

	slices.SortStableFunc(entries, func(a, b domain.LeaderboardEntry) int {
		return cmp.Compare(b.TotalPremium, a.TotalPremium)
	})
	var total float64
	for _, e := range entries {
		total += e.TotalPremium
	}

	blocks := slack.LeaderboardBlocks(entries, total, now)
	ts, err := s.api.PostBlocks(ctx, token, channelID, slack.LeaderboardHeader, blocks, threadTS)
	s.logMessage(ctx, integrationID, channelID, domain.NotificationDailyLeaderboard, "", ts, err)
	return err == nil, true
}

func (s *SlackService) logMessage(ctx context.Context, integrationID uuid.UUID, channelID, notificationType, entityID, ts string, postErr error) {
	msg := domain.SlackMessage{
		IntegrationID:    integrationID,
		ChannelID:        channelID,
		NotificationType: notificationType,
		RelatedEntityID:  entityID,
		MessageTS:        ts,
		Status:           "sent",
	}
	if postErr != nil {
		msg.Status = "failed"
		msg.ErrorMessage = postErr.Error()
		slog.WarnContext(ctx, "Slack post failed", "channel_id", channelID, "type", notificationType, "error", postErr)
	}
	if err := s.channels.LogMessage(ctx, msg); err != nil {
		slog.WarnContext(ctx, "Failed to log slack message", "channel_id", channelID, "error", err)
	}
}

// Connect validates a bot token and stores it for the IMO.
func (s *SlackService) Connect(ctx context.Context, imoID uuid.UUID, botToken string) (*domain.SlackIntegration, error) {
	botToken = strings.TrimSpace(botToken)
	if imoID == uuid.Nil || botToken == "" {
		return nil, apperrors.ValidationError("imoId and botToken are required")
	}

	info, err := s.api.AuthTest(ctx, botToken)
	if err != nil {
		return nil, apperrors.UnauthorizedError("slack rejected the bot token").WithCode(apperrors.CodeAuthFailed)
	}

	encrypted, err := s.creds.Encrypt(botToken)
	if err != nil {
		return nil, err
	}

	integration, err := s.integrations.Upsert(ctx, &domain.SlackIntegration{
		IMOID:             imoID,
		TeamID:            info.TeamID,
		TeamName:          info.Team,
		BotTokenEncrypted: encrypted,
		BotUserID:         info.UserID,
	})
	if err != nil {
		return nil, apperrors.InternalError("failed to save slack integration", err)
	}

	slog.InfoContext(ctx, "Slack workspace connected", "imo_id", imoID, "team", info.Team)
	return integration, nil
}

func policyDetails(n PolicyNotification, now time.Time) slack.PolicyDetails {
	d := slack.PolicyDetails{
		AgentName:     cmp.Or(strings.TrimSpace(n.AgentName), unknownAgent),
		AnnualPremium: n.AnnualPremium,
		CarrierName:   cmp.Or(n.CarrierName, unknownCarrier),
		ProductName:   cmp.Or(n.ProductName, unknownProduct),
		PolicyNumber:  cmp.Or(n.PolicyNumber, noPolicyNumber),
		ClientName:    n.ClientName,
		EffectiveDate: now,
	}
	if n.EffectiveDate != nil {
		d.EffectiveDate = *n.EffectiveDate
	}
	return d
}

func skipped(reason string) *NotifyResult {
	return &NotifyResult{Skipped: true, Reason: reason, Results: []ChannelResult{}}
}

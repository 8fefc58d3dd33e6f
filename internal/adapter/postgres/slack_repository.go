package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pscheid92/commhub/internal/domain"
)

const slackIntegrationColumns = `si.id, si.imo_id, si.team_id, si.team_name, si.bot_token_encrypted, si.bot_user_id,
	si.connection_status, si.is_active, si.last_refresh_at, si.last_error, si.last_error_at,
	si.created_at, si.updated_at`

type SlackRepo struct {
	pool *pgxpool.Pool
}

// NewSlackRepo returns a repository serving Slack integrations, channel
// configs, the send log and the production leaderboard.
func NewSlackRepo(pool *pgxpool.Pool) *SlackRepo {
	return &SlackRepo{pool: pool}
}

func scanSlackIntegration(row rowScanner) (*domain.SlackIntegration, error) {
	var s domain.SlackIntegration
	err := row.Scan(&s.ID, &s.IMOID, &s.TeamID, &s.TeamName, &s.BotTokenEncrypted, &s.BotUserID,
		&s.ConnectionStatus, &s.IsActive, &s.LastRefreshAt, &s.LastError, &s.LastErrorAt,
		&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *SlackRepo) GetActiveByIMO(ctx context.Context, imoID uuid.UUID) (*domain.SlackIntegration, error) {
	s, err := scanSlackIntegration(r.pool.QueryRow(ctx, `SELECT `+slackIntegrationColumns+`
		FROM slack_integrations si
		WHERE si.imo_id = $1 AND si.is_active AND si.connection_status = 'connected'`, imoID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrIntegrationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get slack integration: %w", err)
	}
	return s, nil
}

func (r *SlackRepo) Upsert(ctx context.Context, in *domain.SlackIntegration) (*domain.SlackIntegration, error) {
	s, err := scanSlackIntegration(r.pool.QueryRow(ctx, `INSERT INTO slack_integrations AS si (
			imo_id, team_id, team_name, bot_token_encrypted, bot_user_id, connection_status, is_active
		) VALUES ($1, $2, $3, $4, $5, 'connected', TRUE)
		ON CONFLICT (imo_id) DO UPDATE SET
			team_id = EXCLUDED.team_id,
			team_name = EXCLUDED.team_name,
			bot_token_encrypted = EXCLUDED.bot_token_encrypted,
			bot_user_id = EXCLUDED.bot_user_id,
			connection_status = 'connected',
			is_active = TRUE,
			last_error = '',
			last_error_at = NULL,
			updated_at = NOW()
		RETURNING `+slackIntegrationColumns,
		in.IMOID, in.TeamID, in.TeamName, in.BotTokenEncrypted, in.BotUserID))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert slack integration: %w", err)
	}
	return s, nil
}

func (r *SlackRepo) SetStatus(ctx context.Context, id uuid.UUID, status domain.ConnectionStatus, lastError string) error {
	return execOne(ctx, r.pool, domain.ErrIntegrationNotFound, "failed to set slack integration status",
		`UPDATE slack_integrations
		SET connection_status = $2, last_error = $3,
		    last_error_at = CASE WHEN $3 = '' THEN last_error_at ELSE NOW() END,
		    updated_at = NOW()
		WHERE id = $1`, id, status, lastError)
}

func (r *SlackRepo) ListForAgency(ctx context.Context, imoID uuid.UUID, agencyID *uuid.UUID, notificationType string) ([]*domain.SlackChannelConfig, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, imo_id, agency_id, channel_id, channel_name, notification_type,
			is_active, include_client_info, include_leaderboard, min_premium::float8
		FROM slack_channel_configs
		WHERE imo_id = $1 AND notification_type = $3 AND is_active
		  AND (agency_id IS NULL OR agency_id = $2)
		ORDER BY agency_id NULLS FIRST, created_at`, imoID, agencyID, notificationType)
	if err != nil {
		return nil, fmt.Errorf("failed to list slack channel configs: %w", err)
	}
	defer rows.Close()

	var out []*domain.SlackChannelConfig
	for rows.Next() {
		var c domain.SlackChannelConfig
		if err := rows.Scan(&c.ID, &c.IMOID, &c.AgencyID, &c.ChannelID, &c.ChannelName, &c.NotificationType,
			&c.IsActive, &c.IncludeClientInfo, &c.IncludeLeaderboard, &c.MinPremium); err != nil {
			return nil, fmt.Errorf("failed to scan slack channel config: %w", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

func (r *SlackRepo) LogMessage(ctx context.Context, m domain.SlackMessage) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO slack_messages (
			integration_id, channel_id, notification_type, related_entity_id, message_ts, status, error_message
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.IntegrationID, m.ChannelID, m.NotificationType, m.RelatedEntityID, m.MessageTS, m.Status, m.ErrorMessage)
	if err != nil {
		return fmt.Errorf("failed to log slack message: %w", err)
	}
	return nil
}

// AgencyProduction returns today's agent production for the agency, highest
// premium first.
func (r *SlackRepo) AgencyProduction(ctx context.Context, agencyID uuid.UUID) ([]domain.LeaderboardEntry, error) {
	rows, err := r.pool.Query(ctx, `SELECT agent_name, total_premium::float8, policy_count
		FROM slack_production_snapshots
		WHERE agency_id = $1 AND snapshot_date = CURRENT_DATE
		ORDER BY total_premium DESC, agent_name`, agencyID)
	if err != nil {
		return nil, fmt.Errorf("failed to load agency production: %w", err)
	}
	defer rows.Close()

	var out []domain.LeaderboardEntry
	for rows.Next() {
		var e domain.LeaderboardEntry
		if err := rows.Scan(&e.AgentName, &e.TotalPremium, &e.PolicyCount); err != nil {
			return nil, fmt.Errorf("failed to scan production row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pscheid92/commhub/internal/domain"
)

const instagramIntegrationColumns = `i.id, i.user_id, i.imo_id, i.instagram_user_id, i.instagram_username,
	i.instagram_name, i.account_type, i.access_token_encrypted, i.token_expires_at,
	i.connection_status, i.is_active, i.last_refresh_at, i.last_error, i.last_error_at,
	i.api_calls_this_hour, i.api_calls_reset_at, i.created_at, i.updated_at`

type InstagramIntegrationRepo struct {
	pool *pgxpool.Pool
}

func NewInstagramIntegrationRepo(pool *pgxpool.Pool) *InstagramIntegrationRepo {
	return &InstagramIntegrationRepo{pool: pool}
}

func instagramIntegrationDest(i *domain.InstagramIntegration) []any {
	return []any{
		&i.ID, &i.UserID, &i.IMOID, &i.InstagramUserID, &i.InstagramUsername,
		&i.InstagramName, &i.AccountType, &i.AccessTokenEncrypted, &i.TokenExpiresAt,
		&i.ConnectionStatus, &i.IsActive, &i.LastRefreshAt, &i.LastError, &i.LastErrorAt,
		&i.APICallsThisHour, &i.APICallsResetAt, &i.CreatedAt, &i.UpdatedAt,
	}
}

func scanInstagramIntegration(row rowScanner) (*domain.InstagramIntegration, error) {
	var i domain.InstagramIntegration
	if err := row.Scan(instagramIntegrationDest(&i)...); err != nil {
		return nil, err
	}
	return &i, nil
}

func (r *InstagramIntegrationRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.InstagramIntegration, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+instagramIntegrationColumns+` FROM instagram_integrations i WHERE i.id = $1`, id)
	integration, err := scanInstagramIntegration(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrIntegrationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get instagram integration: %w", err)
	}
	return integration, nil
}

func (r *InstagramIntegrationRepo) GetActiveByInstagramUserID(ctx context.Context, instagramUserID string) (*domain.InstagramIntegration, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+instagramIntegrationColumns+`
		FROM instagram_integrations i
		WHERE i.instagram_user_id = $1 AND i.is_active AND i.connection_status = 'connected'
		ORDER BY i.updated_at DESC
		LIMIT 1`, instagramUserID)
	integration, err := scanInstagramIntegration(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrIntegrationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get instagram integration by account: %w", err)
	}
	return integration, nil
}

func (r *InstagramIntegrationRepo) ListExpiring(ctx context.Context, before time.Time) ([]*domain.InstagramIntegration, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+instagramIntegrationColumns+`
		FROM instagram_integrations i
		WHERE i.is_active AND i.connection_status = 'connected'
		  AND i.token_expires_at IS NOT NULL AND i.token_expires_at < $1
		ORDER BY i.token_expires_at`, before)
	if err != nil {
		return nil, fmt.Errorf("failed to list expiring instagram integrations: %w", err)
	}
	defer rows.Close()

	var out []*domain.InstagramIntegration
	for rows.Next() {
		integration, err := scanInstagramIntegration(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instagram integration: %w", err)
		}
		out = append(out, integration)
	}
	return out, rows.Err()
}

// Upsert inserts a connected integration, or reconnects the existing one for
// the same Instagram account within the IMO.
func (r *InstagramIntegrationRepo) Upsert(ctx context.Context, in *domain.InstagramIntegration) (*domain.InstagramIntegration, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO instagram_integrations AS i (
			user_id, imo_id, instagram_user_id, instagram_username, instagram_name, account_type,
			access_token_encrypted, token_expires_at, connection_status, is_active, last_refresh_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'connected', TRUE, $9)
		ON CONFLICT (instagram_user_id, imo_id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			instagram_username = EXCLUDED.instagram_username,
			instagram_name = EXCLUDED.instagram_name,
			account_type = EXCLUDED.account_type,
			access_token_encrypted = EXCLUDED.access_token_encrypted,
			token_expires_at = EXCLUDED.token_expires_at,
			connection_status = 'connected',
			is_active = TRUE,
			last_refresh_at = EXCLUDED.last_refresh_at,
			last_error = '',
			last_error_at = NULL,
			updated_at = NOW()
		RETURNING `+instagramIntegrationColumns,
		in.UserID, in.IMOID, in.InstagramUserID, in.InstagramUsername, in.InstagramName, in.AccountType,
		in.AccessTokenEncrypted, in.TokenExpiresAt, in.LastRefreshAt)

	integration, err := scanInstagramIntegration(row)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert instagram integration: %w", err)
	}
	return integration, nil
}

func (r *InstagramIntegrationRepo) UpdateToken(ctx context.Context, id uuid.UUID, tokenEncrypted string, expiresAt, refreshedAt time.Time) error {
	return execOne(ctx, r.pool, domain.ErrIntegrationNotFound, "failed to update instagram token",
		`UPDATE instagram_integrations
		SET access_token_encrypted = $2, token_expires_at = $3, last_refresh_at = $4,
		    connection_status = 'connected', last_error = '', last_error_at = NULL, updated_at = NOW()
		WHERE id = $1`, id, tokenEncrypted, expiresAt, refreshedAt)
}

func (r *InstagramIntegrationRepo) SetStatus(ctx context.Context, id uuid.UUID, status domain.ConnectionStatus, lastError string) error {
	return execOne(ctx, r.pool, domain.ErrIntegrationNotFound, "failed to set instagram integration status",
		`UPDATE instagram_integrations
		SET connection_status = $2, last_error = $3,
		    last_error_at = CASE WHEN $3 = '' THEN last_error_at ELSE NOW() END,
		    updated_at = NOW()
		WHERE id = $1`, id, status, lastError)
}

func (r *InstagramIntegrationRepo) Deactivate(ctx context.Context, id uuid.UUID) error {
	return execOne(ctx, r.pool, domain.ErrIntegrationNotFound, "failed to deactivate instagram integration",
		`UPDATE instagram_integrations
		SET connection_status = 'disconnected', is_active = FALSE, updated_at = NOW()
		WHERE id = $1`, id)
}

func (r *InstagramIntegrationRepo) RecordAPICalls(ctx context.Context, id uuid.UUID, count int, resetAt time.Time) error {
	return execOne(ctx, r.pool, domain.ErrIntegrationNotFound, "failed to record instagram api calls",
		`UPDATE instagram_integrations SET api_calls_this_hour = $2, api_calls_reset_at = $3 WHERE id = $1`,
		id, count, resetAt)
}

// execOne runs a statement that must touch exactly one row.
func execOne(ctx context.Context, pool *pgxpool.Pool, notFound error, msg, sql string, args ...any) error {
	tag, err := pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", msg, err)
	}
	if tag.RowsAffected() == 0 {
		return notFound
	}
	return nil
}

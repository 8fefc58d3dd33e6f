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

const gmailIntegrationColumns = `g.id, g.user_id, g.gmail_address, g.gmail_name, g.access_token_encrypted,
	g.refresh_token_encrypted, g.token_expires_at, g.connection_status, g.is_active, g.last_refresh_at,
	g.last_error, g.last_error_at, g.history_id, g.last_sync_at, g.api_calls_today, g.created_at, g.updated_at`

type GmailIntegrationRepo struct {
	pool *pgxpool.Pool
}

func NewGmailIntegrationRepo(pool *pgxpool.Pool) *GmailIntegrationRepo {
	return &GmailIntegrationRepo{pool: pool}
}

func scanGmailIntegration(row rowScanner) (*domain.GmailIntegration, error) {
	var g domain.GmailIntegration
	err := row.Scan(&g.ID, &g.UserID, &g.GmailAddress, &g.GmailName, &g.AccessTokenEncrypted,
		&g.RefreshTokenEncrypted, &g.TokenExpiresAt, &g.ConnectionStatus, &g.IsActive, &g.LastRefreshAt,
		&g.LastError, &g.LastErrorAt, &g.HistoryID, &g.LastSyncAt, &g.APICallsToday, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (r *GmailIntegrationRepo) getOne(ctx context.Context, msg, sql string, args ...any) (*domain.GmailIntegration, error) {
	g, err := scanGmailIntegration(r.pool.QueryRow(ctx, sql, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrIntegrationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", msg, err)
	}
	return g, nil
}

func (r *GmailIntegrationRepo) list(ctx context.Context, sql string, args ...any) ([]*domain.GmailIntegration, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list gmail integrations: %w", err)
	}
	defer rows.Close()

	var out []*domain.GmailIntegration
	for rows.Next() {
		g, err := scanGmailIntegration(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan gmail integration: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (r *GmailIntegrationRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.GmailIntegration, error) {
	return r.getOne(ctx, "failed to get gmail integration",
		`SELECT `+gmailIntegrationColumns+` FROM gmail_integrations g WHERE g.id = $1`, id)
}

func (r *GmailIntegrationRepo) GetByUser(ctx context.Context, userID uuid.UUID) (*domain.GmailIntegration, error) {
	return r.getOne(ctx, "failed to get gmail integration by user",
		`SELECT `+gmailIntegrationColumns+` FROM gmail_integrations g WHERE g.user_id = $1`, userID)
}

func (r *GmailIntegrationRepo) ListActive(ctx context.Context) ([]*domain.GmailIntegration, error) {
	return r.list(ctx, `SELECT `+gmailIntegrationColumns+`
		FROM gmail_integrations g
		WHERE g.is_active AND g.connection_status = 'connected'
		ORDER BY g.last_sync_at NULLS FIRST`)
}

func (r *GmailIntegrationRepo) ListExpiring(ctx context.Context, before time.Time) ([]*domain.GmailIntegration, error) {
	return r.list(ctx, `SELECT `+gmailIntegrationColumns+`
		FROM gmail_integrations g
		WHERE g.is_active AND g.connection_status = 'connected'
		  AND g.token_expires_at IS NOT NULL AND g.token_expires_at < $1
		ORDER BY g.token_expires_at`, before)
}

// Upsert keeps the stored refresh token when Google omits one on reconnect.
func (r *GmailIntegrationRepo) Upsert(ctx context.Context, in *domain.GmailIntegration) (*domain.GmailIntegration, error) {
	g, err := scanGmailIntegration(r.pool.QueryRow(ctx, `INSERT INTO gmail_integrations AS g (
			user_id, gmail_address, gmail_name, access_token_encrypted, refresh_token_encrypted,
			token_expires_at, connection_status, is_active, last_refresh_at
		) VALUES ($1, $2, $3, $4, $5, $6, 'connected', TRUE, $7)
		ON CONFLICT (user_id) DO UPDATE SET
			gmail_address = EXCLUDED.gmail_address,
			gmail_name = EXCLUDED.gmail_name,
			access_token_encrypted = EXCLUDED.access_token_encrypted,
			refresh_token_encrypted = COALESCE(NULLIF(EXCLUDED.refresh_token_encrypted, ''), g.refresh_token_encrypted),
			token_expires_at = EXCLUDED.token_expires_at,
			connection_status = 'connected',
			is_active = TRUE,
			last_refresh_at = EXCLUDED.last_refresh_at,
			last_error = '',
			last_error_at = NULL,
			updated_at = NOW()
		RETURNING `+gmailIntegrationColumns,
		in.UserID, in.GmailAddress, in.GmailName, in.AccessTokenEncrypted, in.RefreshTokenEncrypted,
		in.TokenExpiresAt, in.LastRefreshAt))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert gmail integration: %w", err)
	}
	return g, nil
}

func (r *GmailIntegrationRepo) UpdateAccessToken(ctx context.Context, id uuid.UUID, tokenEncrypted string, expiresAt, refreshedAt time.Time) error {
	return execOne(ctx, r.pool, domain.ErrIntegrationNotFound, "failed to update gmail token",
		`UPDATE gmail_integrations
		SET access_token_encrypted = $2, token_expires_at = $3, last_refresh_at = $4,
		    connection_status = 'connected', last_error = '', last_error_at = NULL, updated_at = NOW()
		WHERE id = $1`, id, tokenEncrypted, expiresAt, refreshedAt)
}

func (r *GmailIntegrationRepo) SetStatus(ctx context.Context, id uuid.UUID, status domain.ConnectionStatus, lastError string) error {
	return execOne(ctx, r.pool, domain.ErrIntegrationNotFound, "failed to set gmail integration status",
		`UPDATE gmail_integrations
		SET connection_status = $2, last_error = $3,
		    last_error_at = CASE WHEN $3 = '' THEN last_error_at ELSE NOW() END,
		    updated_at = NOW()
		WHERE id = $1`, id, status, lastError)
}

func (r *GmailIntegrationRepo) UpdateSyncState(ctx context.Context, id uuid.UUID, historyID string, syncedAt time.Time) error {
	return execOne(ctx, r.pool, domain.ErrIntegrationNotFound, "failed to update gmail sync state",
		`UPDATE gmail_integrations
		SET history_id = COALESCE(NULLIF($2, ''), history_id), last_sync_at = $3, updated_at = NOW()
		WHERE id = $1`, id, historyID, syncedAt)
}

func (r *GmailIntegrationRepo) IncrementAPICalls(ctx context.Context, id uuid.UUID) error {
	return execOne(ctx, r.pool, domain.ErrIntegrationNotFound, "failed to increment gmail api calls",
		`UPDATE gmail_integrations SET api_calls_today = api_calls_today + 1 WHERE id = $1`, id)
}

type GmailMailboxRepo struct {
	pool *pgxpool.Pool
}

func NewGmailMailboxRepo(pool *pgxpool.Pool) *GmailMailboxRepo {
	return &GmailMailboxRepo{pool: pool}
}

// UpsertThread merges counters into an existing thread so incremental syncs
// accumulate message and unread counts.
func (r *GmailMailboxRepo) UpsertThread(ctx context.Context, in *domain.GmailThread) (*domain.GmailThread, error) {
	var t domain.GmailThread
	err := r.pool.QueryRow(ctx, `INSERT INTO gmail_threads AS t (
			integration_id, gmail_thread_id, subject, subject_hash, snippet, last_message_at, message_count, unread_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (integration_id, gmail_thread_id) DO UPDATE SET
			snippet = CASE WHEN EXCLUDED.last_message_at >= t.last_message_at THEN EXCLUDED.snippet ELSE t.snippet END,
			last_message_at = GREATEST(EXCLUDED.last_message_at, t.last_message_at),
			message_count = t.message_count + EXCLUDED.message_count,
			unread_count = t.unread_count + EXCLUDED.unread_count,
			updated_at = NOW()
		RETURNING t.id, t.integration_id, t.gmail_thread_id, t.subject, t.subject_hash, t.snippet,
			t.last_message_at, t.message_count, t.unread_count`,
		in.IntegrationID, in.GmailThreadID, in.Subject, in.SubjectHash, in.Snippet, in.LastMessageAt,
		in.MessageCount, in.UnreadCount,
	).Scan(&t.ID, &t.IntegrationID, &t.GmailThreadID, &t.Subject, &t.SubjectHash, &t.Snippet,
		&t.LastMessageAt, &t.MessageCount, &t.UnreadCount)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert gmail thread: %w", err)
	}
	return &t, nil
}

func (r *GmailMailboxRepo) InsertMessage(ctx context.Context, m *domain.GmailMessage) (bool, error) {
	labels := m.Labels
	if labels == nil {
		labels = []string{}
	}

	_, err := r.pool.Exec(ctx, `INSERT INTO gmail_messages (
			thread_id, gmail_message_id, from_address, to_addresses, cc_addresses, subject,
			body_text, body_html, snippet, labels, is_read, sent_at, message_id_header,
			in_reply_to, references_header
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		m.ThreadID, m.GmailMessageID, m.From, m.To, m.Cc, m.Subject,
		m.BodyText, m.BodyHTML, m.Snippet, labels, m.IsRead, m.SentAt, m.MessageIDHeader,
		m.InReplyTo, m.References)
	if isUniqueViolation(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to insert gmail message: %w", err)
	}
	return true, nil
}

func (r *GmailMailboxRepo) WriteSyncLog(ctx context.Context, e domain.SyncLog) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO gmail_sync_log (integration_id, sync_type, messages_synced, status, error_message)
		VALUES ($1, $2, $3, $4, $5)`, e.IntegrationID, e.SyncType, e.MessagesSynced, e.Status, e.ErrorMessage)
	if err != nil {
		return fmt.Errorf("failed to write gmail sync log: %w", err)
	}
	return nil
}

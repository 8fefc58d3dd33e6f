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

const scheduledColumns = `s.id, s.conversation_id, s.message_text, s.template_id, s.scheduled_for,
	s.scheduled_by, s.messaging_window_expires_at, s.status, s.retry_count, s.error_message,
	s.sent_at, s.sent_message_id, s.is_auto_reminder, s.created_at`

const dueSelect = `SELECT ` + scheduledColumns + `, ` + conversationColumns + `, ` + instagramIntegrationColumns + `
	FROM instagram_scheduled_messages s
	JOIN instagram_conversations c ON c.id = s.conversation_id
	JOIN instagram_integrations i ON i.id = c.integration_id`

type ScheduledMessageRepo struct {
	pool *pgxpool.Pool
}

func NewScheduledMessageRepo(pool *pgxpool.Pool) *ScheduledMessageRepo {
	return &ScheduledMessageRepo{pool: pool}
}

func scheduledDest(s *domain.ScheduledMessage) []any {
	return []any{
		&s.ID, &s.ConversationID, &s.MessageText, &s.TemplateID, &s.ScheduledFor,
		&s.ScheduledBy, &s.MessagingWindowExpiresAt, &s.Status, &s.RetryCount, &s.ErrorMessage,
		&s.SentAt, &s.SentMessageID, &s.IsAutoReminder, &s.CreatedAt,
	}
}

func scanScheduled(row rowScanner) (*domain.ScheduledMessage, error) {
	var s domain.ScheduledMessage
	if err := row.Scan(scheduledDest(&s)...); err != nil {
		return nil, err
	}
	return &s, nil
}

func scanDue(row rowScanner) (*domain.DueMessage, error) {
	var d domain.DueMessage
	dest := scheduledDest(&d.Scheduled)
	dest = append(dest, conversationDest(&d.Conversation)...)
	dest = append(dest, instagramIntegrationDest(&d.Integration)...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *ScheduledMessageRepo) Create(ctx context.Context, in *domain.ScheduledMessage) (*domain.ScheduledMessage, error) {
	s, err := scanScheduled(r.pool.QueryRow(ctx, `INSERT INTO instagram_scheduled_messages AS s (
			conversation_id, message_text, template_id, scheduled_for, scheduled_by,
			messaging_window_expires_at, is_auto_reminder
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+scheduledColumns,
		in.ConversationID, in.MessageText, in.TemplateID, in.ScheduledFor, in.ScheduledBy,
		in.MessagingWindowExpiresAt, in.IsAutoReminder))
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduled message: %w", err)
	}
	return s, nil
}

func (r *ScheduledMessageRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.ScheduledMessage, error) {
	s, err := scanScheduled(r.pool.QueryRow(ctx, `SELECT `+scheduledColumns+` FROM instagram_scheduled_messages s WHERE s.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrScheduledMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scheduled message: %w", err)
	}
	return s, nil
}

func (r *ScheduledMessageRepo) ExpirePastWindow(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE instagram_scheduled_messages
		SET status = 'expired', error_message = 'Messaging window expired before scheduled send time', updated_at = NOW()
		WHERE status = 'pending' AND messaging_window_expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to expire scheduled messages: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *ScheduledMessageRepo) listDue(ctx context.Context, sql string, args ...any) ([]*domain.DueMessage, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list due messages: %w", err)
	}
	defer rows.Close()

	var out []*domain.DueMessage
	for rows.Next() {
		d, err := scanDue(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan due message: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *ScheduledMessageRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]*domain.DueMessage, error) {
	return r.listDue(ctx, dueSelect+`
		WHERE s.status = 'pending' AND s.scheduled_for <= $1 AND s.retry_count < $2
		ORDER BY s.scheduled_for
		LIMIT $3`, now, domain.MaxScheduledRetries, limit)
}

func (r *ScheduledMessageRepo) ListDueForConversation(ctx context.Context, conversationID uuid.UUID, now time.Time) ([]*domain.DueMessage, error) {
	return r.listDue(ctx, dueSelect+`
		WHERE s.conversation_id = $1 AND s.status = 'pending' AND s.scheduled_for <= $2 AND s.retry_count < $3
		ORDER BY s.scheduled_for`, conversationID, now, domain.MaxScheduledRetries)
}

func (r *ScheduledMessageRepo) GetDue(ctx context.Context, id uuid.UUID) (*domain.DueMessage, error) {
	d, err := scanDue(r.pool.QueryRow(ctx, dueSelect+` WHERE s.id = $1 AND s.status = 'pending'`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrScheduledMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get due message: %w", err)
	}
	return d, nil
}

// Claim is the only way into 'sending'. Concurrent claimers serialise on the
// row lock and all but one see a non-pending row.
func (r *ScheduledMessageRepo) Claim(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE instagram_scheduled_messages
		SET status = 'sending', claimed_at = $2, updated_at = NOW()
		WHERE id = $1
		  AND status = 'pending'
		  AND scheduled_for <= $2
		  AND messaging_window_expires_at > $2
		  AND retry_count < $3`, id, now, domain.MaxScheduledRetries)
	if err != nil {
		return false, fmt.Errorf("failed to claim scheduled message: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// FailStaleClaims gives up on sends interrupted between claim and outcome.
// Whether Meta delivered them is unknown, so they are failed, not retried.
func (r *ScheduledMessageRepo) FailStaleClaims(ctx context.Context, cutoff time.Time, reason string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE instagram_scheduled_messages
		SET status = 'failed', error_message = $2, updated_at = NOW()
		WHERE status = 'sending' AND claimed_at < $1`, cutoff, reason)
	if err != nil {
		return 0, fmt.Errorf("failed to fail stale scheduled claims: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *ScheduledMessageRepo) MarkSent(ctx context.Context, id uuid.UUID, sentAt time.Time, messageID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `UPDATE instagram_scheduled_messages
		SET status = 'sent', sent_at = $2, sent_message_id = $3, error_message = '', updated_at = NOW()
		WHERE id = $1 AND status = 'sending'`, id, sentAt, messageID)
	if err != nil {
		return fmt.Errorf("failed to mark scheduled message sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrScheduledNotPending
	}
	return nil
}

func (r *ScheduledMessageRepo) MarkExpired(ctx context.Context, id uuid.UUID, reason string) error {
	return execOne(ctx, r.pool, domain.ErrScheduledMessageNotFound, "failed to expire scheduled message",
		`UPDATE instagram_scheduled_messages
		SET status = 'expired', error_message = $2, updated_at = NOW()
		WHERE id = $1`, id, reason)
}

func (r *ScheduledMessageRepo) RecordFailure(ctx context.Context, id uuid.UUID, retryCount int, status domain.ScheduledStatus, reason string) error {
	return execOne(ctx, r.pool, domain.ErrScheduledMessageNotFound, "failed to record scheduled message failure",
		`UPDATE instagram_scheduled_messages
		SET retry_count = $2, status = $3, error_message = $4, updated_at = NOW()
		WHERE id = $1`, id, retryCount, status, reason)
}

// Cancel cancels a pending message. Messages in any other state return
// domain.ErrScheduledNotPending.
func (r *ScheduledMessageRepo) Cancel(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `UPDATE instagram_scheduled_messages
		SET status = 'cancelled', updated_at = NOW()
		WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return fmt.Errorf("failed to cancel scheduled message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return domain.ErrScheduledNotPending
	}
	return nil
}

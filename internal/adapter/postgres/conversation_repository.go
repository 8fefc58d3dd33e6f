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

const conversationColumns = `c.id, c.integration_id, c.instagram_conversation_id, c.participant_instagram_id,
	c.participant_username, c.participant_name, c.participant_profile_pic_url,
	c.participant_avatar_cached_url, c.participant_avatar_cached_at, c.last_message_at,
	c.last_message_preview, c.last_message_direction, c.last_inbound_at, c.can_reply_until,
	c.unread_count, c.is_priority, c.auto_reminder_enabled, c.auto_reminder_template_id,
	COALESCE(c.auto_reminder_hours, 0), c.created_at, c.updated_at`

type ConversationRepo struct {
	pool *pgxpool.Pool
}

func NewConversationRepo(pool *pgxpool.Pool) *ConversationRepo {
	return &ConversationRepo{pool: pool}
}

func conversationDest(c *domain.Conversation) []any {
	return []any{
		&c.ID, &c.IntegrationID, &c.InstagramConversationID, &c.ParticipantInstagramID,
		&c.ParticipantUsername, &c.ParticipantName, &c.ParticipantProfilePicURL,
		&c.ParticipantAvatarCachedURL, &c.ParticipantAvatarCachedAt, &c.LastMessageAt,
		&c.LastMessagePreview, &c.LastMessageDirection, &c.LastInboundAt, &c.CanReplyUntil,
		&c.UnreadCount, &c.IsPriority, &c.AutoReminderEnabled, &c.AutoReminderTemplateID,
		&c.AutoReminderHours, &c.CreatedAt, &c.UpdatedAt,
	}
}

func scanConversation(row rowScanner) (*domain.Conversation, error) {
	var c domain.Conversation
	if err := row.Scan(conversationDest(&c)...); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *ConversationRepo) getOne(ctx context.Context, msg, sql string, args ...any) (*domain.Conversation, error) {
	conv, err := scanConversation(r.pool.QueryRow(ctx, sql, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", msg, err)
	}
	return conv, nil
}

func (r *ConversationRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Conversation, error) {
	return r.getOne(ctx, "failed to get conversation",
		`SELECT `+conversationColumns+` FROM instagram_conversations c WHERE c.id = $1`, id)
}

func (r *ConversationRepo) GetByParticipant(ctx context.Context, integrationID uuid.UUID, participantID string) (*domain.Conversation, error) {
	return r.getOne(ctx, "failed to get conversation by participant",
		`SELECT `+conversationColumns+`
		FROM instagram_conversations c
		WHERE c.integration_id = $1 AND c.participant_instagram_id = $2
		ORDER BY c.created_at
		LIMIT 1`, integrationID, participantID)
}

// Create inserts a conversation, returning the existing row when one with the
// same provider id already exists.
func (r *ConversationRepo) Create(ctx context.Context, in *domain.Conversation) (*domain.Conversation, error) {
	return r.getOne(ctx, "failed to create conversation",
		`INSERT INTO instagram_conversations AS c (
			integration_id, instagram_conversation_id, participant_instagram_id,
			participant_username, participant_name, participant_profile_pic_url
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (integration_id, instagram_conversation_id)
		DO UPDATE SET updated_at = c.updated_at
		RETURNING `+conversationColumns,
		in.IntegrationID, in.InstagramConversationID, in.ParticipantInstagramID,
		in.ParticipantUsername, in.ParticipantName, in.ParticipantProfilePicURL)
}

// UpsertSynced writes conversations fetched from the Graph API in one batch.
// Local state (unread count, priority, reminders) is left untouched.
func (r *ConversationRepo) UpsertSynced(ctx context.Context, convs []*domain.Conversation) error {
	if len(convs) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, c := range convs {
		batch.Queue(`INSERT INTO instagram_conversations AS c (
				integration_id, instagram_conversation_id, participant_instagram_id,
				participant_username, participant_name, participant_profile_pic_url,
				last_message_at, last_message_preview, last_message_direction,
				last_inbound_at, can_reply_until
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (integration_id, instagram_conversation_id) DO UPDATE SET
				participant_username = COALESCE(NULLIF(EXCLUDED.participant_username, ''), c.participant_username),
				participant_name = COALESCE(NULLIF(EXCLUDED.participant_name, ''), c.participant_name),
				participant_profile_pic_url = COALESCE(NULLIF(EXCLUDED.participant_profile_pic_url, ''), c.participant_profile_pic_url),
				last_message_at = COALESCE(EXCLUDED.last_message_at, c.last_message_at),
				last_message_preview = COALESCE(NULLIF(EXCLUDED.last_message_preview, ''), c.last_message_preview),
				last_message_direction = COALESCE(NULLIF(EXCLUDED.last_message_direction, ''), c.last_message_direction),
				last_inbound_at = GREATEST(EXCLUDED.last_inbound_at, c.last_inbound_at),
				can_reply_until = GREATEST(EXCLUDED.can_reply_until, c.can_reply_until),
				updated_at = NOW()`,
			c.IntegrationID, c.InstagramConversationID, c.ParticipantInstagramID,
			c.ParticipantUsername, c.ParticipantName, c.ParticipantProfilePicURL,
			c.LastMessageAt, c.LastMessagePreview, c.LastMessageDirection,
			c.LastInboundAt, c.CanReplyUntil)
	}

	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to upsert synced conversations: %w", err)
	}
	return nil
}

// List pages conversations by (last_message_at DESC NULLS LAST, id DESC).
// Conversations without messages sort last and page by id alone.
func (r *ConversationRepo) List(ctx context.Context, integrationID uuid.UUID, page domain.Page) ([]*domain.Conversation, error) {
	at, id := page.CursorArgs()
	rows, err := r.pool.Query(ctx, `SELECT `+conversationColumns+`
		FROM instagram_conversations c
		WHERE c.integration_id = $1
		  AND ($3::uuid IS NULL
		    OR ($2::timestamptz IS NULL AND c.last_message_at IS NULL AND c.id < $3)
		    OR ($2::timestamptz IS NOT NULL AND ((c.last_message_at, c.id) < ($2, $3) OR c.last_message_at IS NULL)))
		ORDER BY c.last_message_at DESC NULLS LAST, c.id DESC
		LIMIT $4`, integrationID, at, id, page.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var out []*domain.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// RecordInbound opens the 24h reply window from at and bumps the unread count.
// Timestamps only move forward, so a late delivery of an older message never
// shrinks the window or replaces a newer preview.
func (r *ConversationRepo) RecordInbound(ctx context.Context, id uuid.UUID, at time.Time, preview string) (*domain.Conversation, error) {
	return r.getOne(ctx, "failed to record inbound message",
		`UPDATE instagram_conversations c SET
			last_inbound_at = GREATEST(c.last_inbound_at, $2),
			can_reply_until = GREATEST(c.can_reply_until, $3),
			last_message_preview = CASE WHEN c.last_message_at IS NULL OR c.last_message_at <= $2
				THEN $4 ELSE c.last_message_preview END,
			last_message_direction = CASE WHEN c.last_message_at IS NULL OR c.last_message_at <= $2
				THEN 'inbound' ELSE c.last_message_direction END,
			last_message_at = GREATEST(c.last_message_at, $2),
			unread_count = c.unread_count + 1,
			updated_at = NOW()
		WHERE c.id = $1
		RETURNING `+conversationColumns,
		id, at, at.Add(domain.MessagingWindow), preview)
}

func (r *ConversationRepo) RecordOutbound(ctx context.Context, id uuid.UUID, at time.Time, preview string) error {
	return execOne(ctx, r.pool, domain.ErrConversationNotFound, "failed to record outbound message",
		`UPDATE instagram_conversations SET
			last_message_at = $2, last_message_preview = $3, last_message_direction = 'outbound', updated_at = NOW()
		WHERE id = $1`, id, at, preview)
}

// UpdateWindow moves the reply window forward; it never shrinks it.
func (r *ConversationRepo) UpdateWindow(ctx context.Context, id uuid.UUID, lastInboundAt time.Time) error {
	return execOne(ctx, r.pool, domain.ErrConversationNotFound, "failed to update reply window",
		`UPDATE instagram_conversations SET
			last_inbound_at = GREATEST(last_inbound_at, $2),
			can_reply_until = GREATEST(can_reply_until, $3),
			updated_at = NOW()
		WHERE id = $1`, id, lastInboundAt, lastInboundAt.Add(domain.MessagingWindow))
}

func (r *ConversationRepo) ResetUnread(ctx context.Context, id uuid.UUID) error {
	return execOne(ctx, r.pool, domain.ErrConversationNotFound, "failed to reset unread count",
		`UPDATE instagram_conversations SET unread_count = 0 WHERE id = $1`, id)
}

func (r *ConversationRepo) UpdateParticipant(ctx context.Context, id uuid.UUID, p domain.ParticipantProfile) error {
	return execOne(ctx, r.pool, domain.ErrConversationNotFound, "failed to update participant",
		`UPDATE instagram_conversations SET
			participant_username = COALESCE(NULLIF($2, ''), participant_username),
			participant_name = COALESCE(NULLIF($3, ''), participant_name),
			participant_profile_pic_url = COALESCE(NULLIF($4, ''), participant_profile_pic_url),
			updated_at = NOW()
		WHERE id = $1`, id, p.Username, p.Name, p.ProfilePicURL)
}

func (r *ConversationRepo) SetAvatarCache(ctx context.Context, id uuid.UUID, url string, at time.Time) error {
	return execOne(ctx, r.pool, domain.ErrConversationNotFound, "failed to set avatar cache",
		`UPDATE instagram_conversations
		SET participant_avatar_cached_url = $2, participant_avatar_cached_at = $3
		WHERE id = $1`, id, url, at)
}

func (r *ConversationRepo) SetPriority(ctx context.Context, id uuid.UUID, s domain.PrioritySettings) error {
	var hours *int
	if s.AutoReminderHours > 0 {
		hours = &s.AutoReminderHours
	}
	return execOne(ctx, r.pool, domain.ErrConversationNotFound, "failed to set priority",
		`UPDATE instagram_conversations SET
			is_priority = $2, auto_reminder_enabled = $3, auto_reminder_template_id = $4,
			auto_reminder_hours = $5, updated_at = NOW()
		WHERE id = $1`, id, s.IsPriority, s.AutoReminderEnabled, s.AutoReminderTemplateID, hours)
}

// ListReminderCandidates returns priority conversations whose last outbound
// message has gone unanswered for their reminder interval while the reply
// window is still open, skipping those that already have a queued reminder.
// The template id is kept even when the template was deactivated; only its
// content falls back to the default text.
func (r *ConversationRepo) ListReminderCandidates(ctx context.Context, now time.Time) ([]domain.ReminderCandidate, error) {
	rows, err := r.pool.Query(ctx, `SELECT c.id, i.user_id, c.can_reply_until, c.auto_reminder_template_id,
			CASE WHEN t.is_active THEN t.content ELSE '' END
		FROM instagram_conversations c
		JOIN instagram_integrations i ON i.id = c.integration_id
		LEFT JOIN instagram_message_templates t ON t.id = c.auto_reminder_template_id
		WHERE c.is_priority
		  AND c.auto_reminder_enabled
		  AND c.last_message_direction = 'outbound'
		  AND c.can_reply_until > $1
		  AND c.last_message_at IS NOT NULL
		  AND c.last_message_at <= $1 - make_interval(hours => COALESCE(c.auto_reminder_hours, $2))
		  AND i.is_active AND i.connection_status = 'connected'
		  AND NOT EXISTS (
			SELECT 1 FROM instagram_scheduled_messages s
			WHERE s.conversation_id = c.id AND s.is_auto_reminder AND s.status IN ('pending', 'sending')
		  )`, now, domain.DefaultAutoReminderHours)
	if err != nil {
		return nil, fmt.Errorf("failed to list reminder candidates: %w", err)
	}
	defer rows.Close()

	var out []domain.ReminderCandidate
	for rows.Next() {
		var rc domain.ReminderCandidate
		if err := rows.Scan(&rc.ConversationID, &rc.UserID, &rc.CanReplyUntil, &rc.TemplateID, &rc.TemplateContent); err != nil {
			return nil, fmt.Errorf("failed to scan reminder candidate: %w", err)
		}
		out = append(out, rc)
	}
	return out, rows.Err()
}

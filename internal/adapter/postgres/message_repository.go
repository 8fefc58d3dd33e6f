package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pscheid92/commhub/internal/domain"
)

const messageColumns = `m.id, m.conversation_id, m.instagram_message_id, m.message_text, m.message_type,
	m.media_url, m.media_type, m.media_cached_url, m.media_cached_at, m.story_id, m.story_url,
	m.direction, m.status, m.sender_instagram_id, m.sender_username, m.sent_at, m.delivered_at,
	m.read_at, m.template_id, m.scheduled_message_id, m.created_at`

type MessageRepo struct {
	pool *pgxpool.Pool
}

func NewMessageRepo(pool *pgxpool.Pool) *MessageRepo {
	return &MessageRepo{pool: pool}
}

func messageDest(m *domain.Message) []any {
	return []any{
		&m.ID, &m.ConversationID, &m.InstagramMessageID, &m.MessageText, &m.MessageType,
		&m.MediaURL, &m.MediaType, &m.MediaCachedURL, &m.MediaCachedAt, &m.StoryID, &m.StoryURL,
		&m.Direction, &m.Status, &m.SenderInstagramID, &m.SenderUsername, &m.SentAt, &m.DeliveredAt,
		&m.ReadAt, &m.TemplateID, &m.ScheduledMessageID, &m.CreatedAt,
	}
}

func scanMessage(row rowScanner) (*domain.Message, error) {
	var m domain.Message
	if err := row.Scan(messageDest(&m)...); err != nil {
		return nil, err
	}
	return &m, nil
}

// Upsert is idempotent on the provider message id. A redelivered webhook or a
// re-sync refreshes content but never regresses read state. inserted is true
// only for the first write of a provider id (xmax is zero for fresh tuples).
func (r *MessageRepo) Upsert(ctx context.Context, in *domain.Message) (*domain.Message, bool, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO instagram_messages AS m (
			conversation_id, instagram_message_id, message_text, message_type, media_url, media_type,
			story_id, story_url, direction, status, sender_instagram_id, sender_username,
			sent_at, delivered_at, template_id, scheduled_message_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (instagram_message_id) DO UPDATE SET
			message_text = COALESCE(NULLIF(EXCLUDED.message_text, ''), m.message_text),
			media_url = COALESCE(NULLIF(EXCLUDED.media_url, ''), m.media_url),
			media_type = COALESCE(NULLIF(EXCLUDED.media_type, ''), m.media_type),
			sender_username = COALESCE(NULLIF(EXCLUDED.sender_username, ''), m.sender_username),
			status = CASE WHEN m.status = 'read' THEN m.status ELSE EXCLUDED.status END
		RETURNING `+messageColumns+`, (xmax = 0)`,
		in.ConversationID, in.InstagramMessageID, in.MessageText, in.MessageType, in.MediaURL, in.MediaType,
		in.StoryID, in.StoryURL, in.Direction, in.Status, in.SenderInstagramID, in.SenderUsername,
		in.SentAt, in.DeliveredAt, in.TemplateID, in.ScheduledMessageID)

	var m domain.Message
	var inserted bool
	if err := row.Scan(append(messageDest(&m), &inserted)...); err != nil {
		return nil, false, fmt.Errorf("failed to upsert message: %w", err)
	}
	return &m, inserted, nil
}

// MarkReadUpTo marks outbound messages sent at or before watermark as read.
func (r *MessageRepo) MarkReadUpTo(ctx context.Context, conversationID uuid.UUID, watermark, readAt time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE instagram_messages
		SET status = 'read', read_at = $3
		WHERE conversation_id = $1 AND direction = 'outbound' AND sent_at <= $2 AND read_at IS NULL`,
		conversationID, watermark, readAt)
	if err != nil {
		return 0, fmt.Errorf("failed to mark messages read: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *MessageRepo) List(ctx context.Context, conversationID uuid.UUID, page domain.Page) ([]*domain.Message, error) {
	at, id := page.CursorArgs()
	rows, err := r.pool.Query(ctx, `SELECT `+messageColumns+`
		FROM instagram_messages m
		WHERE m.conversation_id = $1 AND ($3::uuid IS NULL OR (m.sent_at, m.id) < ($2, $3))
		ORDER BY m.sent_at DESC, m.id DESC
		LIMIT $4`, conversationID, at, id, page.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var out []*domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *MessageRepo) LatestInboundAt(ctx context.Context, conversationID uuid.UUID) (*time.Time, error) {
	var at *time.Time
	err := r.pool.QueryRow(ctx, `SELECT MAX(sent_at) FROM instagram_messages
		WHERE conversation_id = $1 AND direction = 'inbound'`, conversationID).Scan(&at)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest inbound message: %w", err)
	}
	return at, nil
}

func (r *MessageRepo) SetMediaCache(ctx context.Context, id uuid.UUID, url string, at time.Time) error {
	return execOne(ctx, r.pool, domain.ErrMessageNotFound, "failed to set media cache",
		`UPDATE instagram_messages SET media_cached_url = $2, media_cached_at = $3 WHERE id = $1`, id, url, at)
}

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

const templateColumns = `t.id, t.user_id, t.name, t.content, t.is_active, t.use_count, t.created_at`

type TemplateRepo struct {
	pool *pgxpool.Pool
}

func NewTemplateRepo(pool *pgxpool.Pool) *TemplateRepo {
	return &TemplateRepo{pool: pool}
}

func scanTemplate(row rowScanner) (*domain.Template, error) {
	var t domain.Template
	if err := row.Scan(&t.ID, &t.UserID, &t.Name, &t.Content, &t.IsActive, &t.UseCount, &t.CreatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *TemplateRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Template, error) {
	t, err := scanTemplate(r.pool.QueryRow(ctx, `SELECT `+templateColumns+` FROM instagram_message_templates t WHERE t.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrTemplateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	return t, nil
}

func (r *TemplateRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]*domain.Template, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+templateColumns+`
		FROM instagram_message_templates t
		WHERE t.user_id = $1 AND t.is_active
		ORDER BY t.use_count DESC, t.created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()

	var out []*domain.Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *TemplateRepo) Create(ctx context.Context, in *domain.Template) (*domain.Template, error) {
	t, err := scanTemplate(r.pool.QueryRow(ctx, `INSERT INTO instagram_message_templates AS t (user_id, name, content)
		VALUES ($1, $2, $3)
		RETURNING `+templateColumns, in.UserID, in.Name, in.Content))
	if err != nil {
		return nil, fmt.Errorf("failed to create template: %w", err)
	}
	return t, nil
}

func (r *TemplateRepo) IncrementUseCount(ctx context.Context, id uuid.UUID) error {
	return execOne(ctx, r.pool, domain.ErrTemplateNotFound, "failed to increment template use count",
		`UPDATE instagram_message_templates SET use_count = use_count + 1 WHERE id = $1`, id)
}

package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/velmark/TGImagineBot/internal/models"
)

// GenerationRepository is an append-only log of successful generations.
type GenerationRepository struct {
	db *sql.DB
}

func NewGenerationRepository(db *sql.DB) *GenerationRepository {
	return &GenerationRepository{db: db}
}

func (r *GenerationRepository) Record(ctx context.Context, userID int64, prompt, imageURL string) error {
	const query = `
INSERT INTO generations (user_id, prompt, image_url)
VALUES (?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, userID, prompt, imageURL); err != nil {
		return fmt.Errorf("insert generation: %w", err)
	}
	return nil
}

// ListRecent returns the newest generations first, for the admin panel.
func (r *GenerationRepository) ListRecent(ctx context.Context, limit int) ([]models.Generation, error) {
	const query = `
SELECT id, user_id, prompt, image_url, created_at
FROM generations ORDER BY id DESC LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list generations: %w", err)
	}
	defer rows.Close()

	var items []models.Generation
	for rows.Next() {
		var g models.Generation
		if err := rows.Scan(&g.ID, &g.UserID, &g.Prompt, &g.ImageURL, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan generation: %w", err)
		}
		items = append(items, g)
	}
	return items, rows.Err()
}

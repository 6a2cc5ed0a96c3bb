package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/velmark/TGImagineBot/internal/models"
)

// UserRepository is the single source of truth for per-user daily counters.
// All limit checks go through conditional UPDATE statements so that the
// database serializes concurrent requests for the same counter row.
type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) DB() *sql.DB {
	return r.db
}

// day formats a timestamp as the calendar date used in last_reset_date.
func day(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// ReserveSlot claims one generation slot for the user, creating the row on
// first contact and lazily resetting the counter when the stored reset date
// is older than today. The increment is guarded by daily_image_count < limit
// in a single UPDATE, so two concurrent callers can never both pass the
// check and push the counter over the limit.
func (r *UserRepository) ReserveSlot(ctx context.Context, telegramID int64, username string, limit int) (bool, int, error) {
	today := day(time.Now())

	const upsert = `
INSERT INTO users (telegram_id, username, daily_image_count, last_reset_date)
VALUES (?, NULLIF(?, ''), 0, ?)
ON DUPLICATE KEY UPDATE username = COALESCE(NULLIF(?, ''), username), updated_at = NOW()`
	if _, err := r.db.ExecContext(ctx, upsert, telegramID, username, today, username); err != nil {
		return false, 0, fmt.Errorf("upsert user: %w", err)
	}

	const reset = `
UPDATE users SET daily_image_count = 0, last_reset_date = ?, updated_at = NOW()
WHERE telegram_id = ? AND last_reset_date < ?`
	if _, err := r.db.ExecContext(ctx, reset, today, telegramID, today); err != nil {
		return false, 0, fmt.Errorf("reset daily count: %w", err)
	}

	const increment = `
UPDATE users SET daily_image_count = daily_image_count + 1, updated_at = NOW()
WHERE telegram_id = ? AND daily_image_count < ?`
	res, err := r.db.ExecContext(ctx, increment, telegramID, limit)
	if err != nil {
		return false, 0, fmt.Errorf("increment daily count: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, 0, fmt.Errorf("increment rows affected: %w", err)
	}

	count, err := r.dailyCount(ctx, telegramID)
	if err != nil {
		return false, 0, err
	}
	return affected > 0, count, nil
}

// ReleaseSlot gives back one previously reserved slot, floored at zero.
// A row whose last_reset_date is not today is already logically reset and
// must not be decremented.
func (r *UserRepository) ReleaseSlot(ctx context.Context, telegramID int64) error {
	const query = `
UPDATE users SET daily_image_count = GREATEST(daily_image_count - 1, 0), updated_at = NOW()
WHERE telegram_id = ? AND last_reset_date = ?`
	if _, err := r.db.ExecContext(ctx, query, telegramID, day(time.Now())); err != nil {
		return fmt.Errorf("release slot: %w", err)
	}
	return nil
}

// Stats reads the effective daily count without mutating the row. A stale
// reset date is treated as count zero.
func (r *UserRepository) Stats(ctx context.Context, telegramID int64) (int, error) {
	const query = `SELECT daily_image_count, last_reset_date FROM users WHERE telegram_id = ?`
	row := r.db.QueryRowContext(ctx, query, telegramID)

	var count int
	var lastReset time.Time
	if err := row.Scan(&count, &lastReset); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("scan stats: %w", err)
	}
	if day(lastReset) < day(time.Now()) {
		return 0, nil
	}
	return count, nil
}

// FindByTelegramID returns the stored user row, or nil when absent.
func (r *UserRepository) FindByTelegramID(ctx context.Context, telegramID int64) (*models.User, error) {
	const query = `
SELECT id, telegram_id, COALESCE(username, ''), daily_image_count, last_reset_date, created_at, updated_at
FROM users WHERE telegram_id = ?`
	row := r.db.QueryRowContext(ctx, query, telegramID)

	var u models.User
	if err := row.Scan(&u.ID, &u.TelegramID, &u.Username, &u.DailyCount, &u.LastResetDate, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

// ListTelegramIDs returns every known user id, for admin broadcasts.
func (r *UserRepository) ListTelegramIDs(ctx context.Context) ([]int64, error) {
	const query = `SELECT telegram_id FROM users`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list telegram ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan telegram id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *UserRepository) dailyCount(ctx context.Context, telegramID int64) (int, error) {
	const query = `SELECT daily_image_count FROM users WHERE telegram_id = ?`
	var count int
	if err := r.db.QueryRowContext(ctx, query, telegramID).Scan(&count); err != nil {
		return 0, fmt.Errorf("scan daily count: %w", err)
	}
	return count, nil
}

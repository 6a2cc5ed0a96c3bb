package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func today() string {
	return time.Now().UTC().Format("2006-01-02")
}

func TestReserveSlot_Granted(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO users").
		WithArgs(int64(42), "alice", today(), "alice").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE users SET daily_image_count = 0").
		WithArgs(today(), int64(42), today()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`UPDATE users SET daily_image_count = daily_image_count \+ 1`).
		WithArgs(int64(42), 3).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT daily_image_count FROM users").
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"daily_image_count"}).AddRow(2))

	repo := NewUserRepository(db)
	reserved, count, err := repo.ReserveSlot(context.Background(), 42, "alice", 3)
	require.NoError(t, err)
	assert.True(t, reserved)
	assert.Equal(t, 2, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReserveSlot_DeniedAtLimit(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO users").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE users SET daily_image_count = 0").
		WillReturnResult(sqlmock.NewResult(0, 0))
	// The guarded increment matches no row: counter already at the limit.
	mock.ExpectExec(`UPDATE users SET daily_image_count = daily_image_count \+ 1`).
		WithArgs(int64(42), 3).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT daily_image_count FROM users").
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"daily_image_count"}).AddRow(3))

	repo := NewUserRepository(db)
	reserved, count, err := repo.ReserveSlot(context.Background(), 42, "alice", 3)
	require.NoError(t, err)
	assert.False(t, reserved)
	assert.Equal(t, 3, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReserveSlot_StorageError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO users").
		WillReturnError(fmt.Errorf("connection refused"))

	repo := NewUserRepository(db)
	reserved, _, err := repo.ReserveSlot(context.Background(), 42, "alice", 3)
	require.Error(t, err)
	assert.False(t, reserved)
}

func TestReleaseSlot_OnlyForToday(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	// The decrement is floored by GREATEST and guarded by today's reset
	// date, so a stale row from a prior day is left alone.
	mock.ExpectExec(`UPDATE users SET daily_image_count = GREATEST\(daily_image_count - 1, 0\)`).
		WithArgs(int64(42), today()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	repo := NewUserRepository(db)
	require.NoError(t, repo.ReleaseSlot(context.Background(), 42))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStats_LazyResetOnRead(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT daily_image_count, last_reset_date FROM users").
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"daily_image_count", "last_reset_date"}).
			AddRow(4, time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)))

	repo := NewUserRepository(db)
	count, err := repo.Stats(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, 0, count, "a stale row reads as zero")
}

func TestStats_CurrentDay(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT daily_image_count, last_reset_date FROM users").
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"daily_image_count", "last_reset_date"}).
			AddRow(2, time.Now().UTC()))

	repo := NewUserRepository(db)
	count, err := repo.Stats(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestStats_UnknownUser(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT daily_image_count, last_reset_date FROM users").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"daily_image_count", "last_reset_date"}))

	repo := NewUserRepository(db)
	count, err := repo.Stats(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestGenerationRecord(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO generations").
		WithArgs(int64(42), "a red fox", "https://cdn.example.com/fox.png").
		WillReturnResult(sqlmock.NewResult(1, 1))

	repo := NewGenerationRepository(db)
	require.NoError(t, repo.Record(context.Background(), 42, "a red fox", "https://cdn.example.com/fox.png"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

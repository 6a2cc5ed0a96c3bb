package models

import "time"

// ChatKind distinguishes one-to-one conversations from group chats for
// limit selection.
type ChatKind string

const (
	ChatPrivate ChatKind = "private"
	ChatGroup   ChatKind = "group"
)

type User struct {
	ID            int64
	TelegramID    int64
	Username      string
	DailyCount    int
	LastResetDate time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Generation struct {
	ID        int64
	UserID    int64
	Prompt    string
	ImageURL  string
	CreatedAt time.Time
}

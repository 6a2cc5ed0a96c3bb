package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/velmark/TGImagineBot/internal/config"
	"github.com/velmark/TGImagineBot/internal/models"
)

// ErrQuotaUnavailable means the counter storage could not be reached.
// Generation is denied in that case: under doubt we fail closed rather than
// hand out unbounded free generations.
var ErrQuotaUnavailable = errors.New("quota store unavailable")

// adminRemaining is the sentinel "remaining" value reported for
// administrators, who bypass counting entirely.
const adminRemaining = 1 << 30

// QuotaStore is the atomic counter primitive backing reservations.
type QuotaStore interface {
	ReserveSlot(ctx context.Context, telegramID int64, username string, limit int) (reserved bool, countAfter int, err error)
	ReleaseSlot(ctx context.Context, telegramID int64) error
	Stats(ctx context.Context, telegramID int64) (int, error)
}

// ReservationOutcome is the result of one reservation attempt.
type ReservationOutcome struct {
	CanGenerate  bool
	DailyCount   int
	Remaining    int
	IsAdmin      bool
	LimitReached bool
	Message      string
}

// QuotaService selects the applicable daily limit by chat kind, exempts
// administrators and translates store outcomes into user-facing messages.
type QuotaService struct {
	cfg   config.Config
	log   *slog.Logger
	store QuotaStore
}

func NewQuotaService(cfg config.Config, log *slog.Logger, store QuotaStore) *QuotaService {
	return &QuotaService{cfg: cfg, log: log, store: store}
}

// LimitFor returns the configured ceiling for the chat kind.
func (s *QuotaService) LimitFor(kind models.ChatKind) int {
	if kind == models.ChatPrivate {
		return s.cfg.PrivateDailyLimit
	}
	return s.cfg.GroupDailyLimit
}

// Reserve atomically claims one slot for the user, or explains why not.
func (s *QuotaService) Reserve(ctx context.Context, telegramID int64, username string, kind models.ChatKind) (ReservationOutcome, error) {
	if s.cfg.IsAdmin(telegramID) {
		return ReservationOutcome{
			CanGenerate: true,
			IsAdmin:     true,
			Remaining:   adminRemaining,
		}, nil
	}

	limit := s.LimitFor(kind)
	reserved, count, err := s.store.ReserveSlot(ctx, telegramID, username, limit)
	if err != nil {
		s.log.Error("reserve slot", "user", telegramID, "err", err)
		return ReservationOutcome{
			Message: "Сервис временно недоступен, попробуйте позже.",
		}, fmt.Errorf("%w: %v", ErrQuotaUnavailable, err)
	}

	outcome := ReservationOutcome{
		CanGenerate: reserved,
		DailyCount:  count,
		Remaining:   remaining(limit, count),
	}
	if !reserved {
		outcome.LimitReached = true
		outcome.Message = limitReachedMessage(kind, count, limit)
		return outcome, nil
	}
	outcome.Message = fmt.Sprintf("Слот занят: осталось %d из %d генераций на сегодня.", outcome.Remaining, limit)
	return outcome, nil
}

// Release gives back a previously reserved slot. No-op for administrators,
// whose reservations never touched the store.
func (s *QuotaService) Release(ctx context.Context, telegramID int64) error {
	if s.cfg.IsAdmin(telegramID) {
		return nil
	}
	if err := s.store.ReleaseSlot(ctx, telegramID); err != nil {
		return fmt.Errorf("release slot: %w", err)
	}
	return nil
}

// Stats reads the current counter without mutating it.
func (s *QuotaService) Stats(ctx context.Context, telegramID int64, kind models.ChatKind) (ReservationOutcome, error) {
	if s.cfg.IsAdmin(telegramID) {
		return ReservationOutcome{
			CanGenerate: true,
			IsAdmin:     true,
			Remaining:   adminRemaining,
			Message:     "Администратор: лимит не применяется.",
		}, nil
	}

	limit := s.LimitFor(kind)
	count, err := s.store.Stats(ctx, telegramID)
	if err != nil {
		s.log.Error("read stats", "user", telegramID, "err", err)
		return ReservationOutcome{}, fmt.Errorf("%w: %v", ErrQuotaUnavailable, err)
	}

	outcome := ReservationOutcome{
		CanGenerate:  count < limit,
		DailyCount:   count,
		Remaining:    remaining(limit, count),
		LimitReached: count >= limit,
	}
	outcome.Message = fmt.Sprintf("Использовано %d из %d генераций на сегодня.", count, limit)
	return outcome, nil
}

func remaining(limit, count int) int {
	if count >= limit {
		return 0
	}
	return limit - count
}

func limitReachedMessage(kind models.ChatKind, count, limit int) string {
	if kind == models.ChatPrivate {
		return fmt.Sprintf("Дневной лимит исчерпан (%d/%d). Счётчик обнулится завтра.", count, limit)
	}
	return fmt.Sprintf("Дневной лимит для групповых чатов исчерпан (%d/%d). Счётчик обнулится завтра.", count, limit)
}

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/velmark/TGImagineBot/internal/models"
	"github.com/velmark/TGImagineBot/internal/provider"
)

var (
	// ErrLimitReached is returned when the reservation was denied; the
	// outcome carries the user-facing message.
	ErrLimitReached = errors.New("daily limit reached")
	// ErrAllProvidersFailed means no backend produced an artifact and the
	// reserved slot was given back.
	ErrAllProvidersFailed = errors.New("generation failed")
	// ErrDeliveryFailed means the artifact was generated but could not be
	// handed to the user. The slot stays consumed: the failure is
	// downstream of generation.
	ErrDeliveryFailed = errors.New("delivery failed")
)

// Generator produces an artifact from a prompt, trying its backends in
// priority order.
type Generator interface {
	Generate(ctx context.Context, req provider.Request) (*provider.Result, error)
}

// HistoryRecorder appends one record per successful generation.
type HistoryRecorder interface {
	Record(ctx context.Context, userID int64, prompt, imageURL string) error
}

// ArtifactStore persists artifact bytes and returns a public locator.
type ArtifactStore interface {
	Upload(ctx context.Context, data []byte, contentType string) (string, error)
}

// DeliverySink hands the finished artifact to the user.
type DeliverySink interface {
	DeliverImage(ctx context.Context, chatID int64, result *provider.Result, caption string, replyTo int) error
}

// GenerateRequest is one end-user generation request.
type GenerateRequest struct {
	TelegramID       int64
	Username         string
	ChatID           int64
	ChatKind         models.ChatKind
	Prompt           string
	SourceImageURLs  []string
	ReplyToMessageID int

	// OnReserved, when set, is called once the slot has been granted and
	// before generation starts.
	OnReserved func()
}

// GenerateResult reports the outcome alongside the artifact locator.
type GenerateResult struct {
	Outcome  ReservationOutcome
	Artifact *provider.Result
	Locator  string
}

// GenerationService coordinates one request end to end: reserve a slot,
// run the provider chain, compensate on total failure, record history and
// deliver. The slot is claimed before generation so a burst of concurrent
// requests from one user cannot collectively exceed the limit; it is
// released only when the system itself failed to produce anything.
type GenerationService struct {
	log       *slog.Logger
	quota     *QuotaService
	generator Generator
	history   HistoryRecorder
	artifacts ArtifactStore
	sink      DeliverySink
}

func NewGenerationService(log *slog.Logger, quota *QuotaService, generator Generator, history HistoryRecorder, artifacts ArtifactStore, sink DeliverySink) *GenerationService {
	return &GenerationService{
		log:       log,
		quota:     quota,
		generator: generator,
		history:   history,
		artifacts: artifacts,
		sink:      sink,
	}
}

// Handle runs the request through the reservation and fallback pipeline.
func (s *GenerationService) Handle(ctx context.Context, req GenerateRequest) (result *GenerateResult, err error) {
	if req.Prompt == "" {
		return nil, fmt.Errorf("prompt cannot be empty")
	}

	outcome, err := s.quota.Reserve(ctx, req.TelegramID, req.Username, req.ChatKind)
	if err != nil {
		return &GenerateResult{Outcome: outcome}, err
	}
	if !outcome.CanGenerate {
		return &GenerateResult{Outcome: outcome}, ErrLimitReached
	}

	// From here on the slot is held. A panic in any downstream collaborator
	// must not leak it: recover, give the slot back and report an error.
	defer func() {
		if r := recover(); r != nil {
			s.compensate(req.TelegramID, outcome)
			result = &GenerateResult{Outcome: outcome}
			err = fmt.Errorf("generation pipeline panic: %v", r)
		}
	}()

	if req.OnReserved != nil {
		req.OnReserved()
	}

	artifact, err := s.generator.Generate(ctx, provider.Request{
		Prompt:          req.Prompt,
		SourceImageURLs: req.SourceImageURLs,
	})
	if err != nil {
		s.compensate(req.TelegramID, outcome)
		return &GenerateResult{Outcome: outcome}, fmt.Errorf("%w: %v", ErrAllProvidersFailed, err)
	}

	result = &GenerateResult{
		Outcome:  outcome,
		Artifact: artifact,
		Locator:  s.locator(ctx, artifact),
	}

	// History is observability, not a quota ledger: a failed insert never
	// blocks delivery of the already generated artifact.
	if result.Locator != "" {
		if err := s.history.Record(ctx, req.TelegramID, req.Prompt, result.Locator); err != nil {
			s.log.Error("record generation history", "user", req.TelegramID, "err", err)
		}
	}

	caption := deliveryCaption(outcome)
	if err := s.sink.DeliverImage(ctx, req.ChatID, artifact, caption, req.ReplyToMessageID); err != nil {
		// The generation itself succeeded; a delivery failure must not
		// grant the user an extra free attempt, so no release here.
		s.log.Error("deliver artifact", "chat", req.ChatID, "err", err)
		return result, fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	return result, nil
}

// compensate gives back the reserved slot after a failure attributable to
// the system. Admin reservations never touched the store.
func (s *GenerationService) compensate(telegramID int64, outcome ReservationOutcome) {
	if outcome.IsAdmin {
		return
	}
	// The request context may already be cancelled; compensation should
	// still be attempted.
	if err := s.quota.Release(context.Background(), telegramID); err != nil {
		s.log.Error("release reserved slot", "user", telegramID, "err", err)
	}
}

func (s *GenerationService) locator(ctx context.Context, artifact *provider.Result) string {
	if artifact.URL != "" {
		return artifact.URL
	}
	url, err := s.artifacts.Upload(ctx, artifact.Bytes, "image/png")
	if err != nil {
		s.log.Error("upload artifact", "err", err)
		return ""
	}
	return url
}

func deliveryCaption(outcome ReservationOutcome) string {
	if outcome.IsAdmin {
		return "Готово!"
	}
	return fmt.Sprintf("Готово! Осталось %d генераций на сегодня.", outcome.Remaining)
}

package telegram

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/velmark/TGImagineBot/internal/provider"
)

// Sink delivers generated artifacts to Telegram chats. It is the delivery
// boundary of the generation pipeline: a send failure is reported back so
// the orchestrator can account for it, but it never reverts the quota.
type Sink struct {
	api *tgbotapi.BotAPI
}

func NewSink(api *tgbotapi.BotAPI) *Sink {
	return &Sink{api: api}
}

func (s *Sink) DeliverImage(ctx context.Context, chatID int64, result *provider.Result, caption string, replyTo int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var cfg tgbotapi.PhotoConfig
	switch {
	case result.URL != "":
		cfg = tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(result.URL))
	case len(result.Bytes) > 0:
		cfg = tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{
			Name:  "generation.png",
			Bytes: result.Bytes,
		})
	default:
		return fmt.Errorf("empty artifact")
	}
	cfg.Caption = caption
	if replyTo != 0 {
		cfg.ReplyToMessageID = replyTo
	}

	if _, err := s.api.Send(cfg); err != nil {
		return fmt.Errorf("send photo: %w", err)
	}
	return nil
}

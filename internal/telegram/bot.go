package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/velmark/TGImagineBot/internal/config"
	"github.com/velmark/TGImagineBot/internal/models"
	"github.com/velmark/TGImagineBot/internal/provider"
	"github.com/velmark/TGImagineBot/internal/service"
)

var errReferenceNotImage = errors.New("reference not image")

// ImageStorage persists reference photos and returns a public locator.
type ImageStorage interface {
	Upload(ctx context.Context, data []byte, contentType string) (string, error)
}

// Bot is the conversational front-end: it collects prompts and reference
// photos and feeds them to the generation pipeline.
type Bot struct {
	cfg        config.Config
	api        *tgbotapi.BotAPI
	log        *slog.Logger
	generation *service.GenerationService
	quota      *service.QuotaService
	storage    ImageStorage
	state      *StateManager
	httpClient *http.Client
}

func NewBot(cfg config.Config, api *tgbotapi.BotAPI, log *slog.Logger, generation *service.GenerationService, quota *service.QuotaService, storage ImageStorage) *Bot {
	return &Bot{
		cfg:        cfg,
		api:        api,
		log:        log,
		generation: generation,
		quota:      quota,
		storage:    storage,
		state:      NewStateManager(),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	b.log.Info("telegram bot started")

	for {
		select {
		case update := <-updates:
			if update.Message == nil {
				continue
			}
			// Each message is handled concurrently; quota correctness
			// rests on the store's atomic increment, not on serializing
			// updates here.
			go b.handleMessage(ctx, update.Message)
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return ctx.Err()
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if len(msg.Photo) > 0 || msg.Document != nil {
		if err := b.handleReferenceImage(ctx, msg); err != nil {
			if errors.Is(err, errReferenceNotImage) {
				b.sendText(msg.Chat.ID, "Это не изображение. Пришлите фото или картинку.")
			} else {
				b.log.Error("reference upload failed", "err", err)
				b.sendText(msg.Chat.ID, "Не удалось сохранить референс, попробуйте снова.")
			}
		}
		return
	}

	if msg.IsCommand() {
		b.handleCommand(ctx, msg)
		return
	}

	session := b.state.Snapshot(msg.Chat.ID)
	switch session.State {
	case StateAwaitingPrompt:
		b.handlePrompt(ctx, msg, session)
	default:
		b.sendText(msg.Chat.ID, "Нажмите /generate, чтобы начать генерацию.")
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		text := fmt.Sprintf(
			"Привет! Я генерирую изображения по текстовому описанию.\n\nМожно добавить до %d референсов (фото) и отправить промпт.\n\nКоманды:\n/generate — начать генерацию\n/limits — сколько генераций осталось сегодня\n/clearrefs — очистить референсы",
			provider.MaxSourceImages,
		)
		b.sendText(msg.Chat.ID, text)
	case "generate":
		b.state.SetState(msg.Chat.ID, StateAwaitingPrompt)
		b.sendText(msg.Chat.ID, fmt.Sprintf("Пришлите до %d изображений (если нужны референсы), затем отправьте промпт.", provider.MaxSourceImages))
	case "limits":
		b.handleLimits(ctx, msg)
	case "clearrefs":
		b.state.ClearReferences(msg.Chat.ID)
		b.sendText(msg.Chat.ID, "Референсы очищены.")
	default:
		b.sendText(msg.Chat.ID, "Неизвестная команда. Используйте /generate.")
	}
}

func (b *Bot) handleLimits(ctx context.Context, msg *tgbotapi.Message) {
	outcome, err := b.quota.Stats(ctx, userID(msg), chatKind(msg))
	if err != nil {
		b.log.Error("read limits", "err", err)
		b.sendText(msg.Chat.ID, "Сервис временно недоступен, попробуйте позже.")
		return
	}
	b.sendText(msg.Chat.ID, outcome.Message)
}

func (b *Bot) handlePrompt(ctx context.Context, msg *tgbotapi.Message, session Session) {
	if strings.TrimSpace(msg.Text) == "" {
		b.sendText(msg.Chat.ID, "Промпт не может быть пустым.")
		return
	}

	req := service.GenerateRequest{
		TelegramID:       userID(msg),
		Username:         username(msg),
		ChatID:           msg.Chat.ID,
		ChatKind:         chatKind(msg),
		Prompt:           msg.Text,
		SourceImageURLs:  session.ReferenceURLs,
		ReplyToMessageID: msg.MessageID,
		// The progress notice waits for the grant: an over-limit user
		// should see only the limit message.
		OnReserved: func() {
			b.sendText(msg.Chat.ID, "Генерация началась, это может занять до пары минут.")
		},
	}

	result, err := b.generation.Handle(ctx, req)
	if err != nil {
		b.reportFailure(msg.Chat.ID, result, err)
		return
	}

	b.state.Reset(msg.Chat.ID)
}

func (b *Bot) reportFailure(chatID int64, result *service.GenerateResult, err error) {
	switch {
	case errors.Is(err, service.ErrLimitReached):
		b.sendText(chatID, result.Outcome.Message)
	case errors.Is(err, service.ErrQuotaUnavailable):
		b.sendText(chatID, "Сервис временно недоступен, попробуйте позже.")
	case errors.Is(err, service.ErrDeliveryFailed):
		b.log.Error("delivery failed", "chat", chatID, "err", err)
		b.sendText(chatID, "Изображение сгенерировано, но отправить его не удалось.")
	default:
		b.log.Error("generate", "chat", chatID, "err", err)
		b.sendText(chatID, "Не удалось сгенерировать изображение, попробуйте позже. Попытка не списана.")
	}
}

func (b *Bot) handleReferenceImage(ctx context.Context, msg *tgbotapi.Message) error {
	var fileID string
	contentType := "image/jpeg"

	switch {
	case len(msg.Photo) > 0:
		photo := msg.Photo[len(msg.Photo)-1]
		fileID = photo.FileID
	case msg.Document != nil:
		if mt := strings.ToLower(msg.Document.MimeType); mt != "" && !strings.HasPrefix(mt, "image/") {
			return errReferenceNotImage
		}
		fileID = msg.Document.FileID
		if msg.Document.MimeType != "" {
			contentType = msg.Document.MimeType
		}
	default:
		return nil
	}

	data, detectedType, err := b.downloadFile(ctx, fileID)
	if err != nil {
		return err
	}
	if detectedType != "" {
		contentType = detectedType
	}

	url, err := b.storage.Upload(ctx, data, contentType)
	if err != nil {
		return err
	}

	count := b.state.AppendReference(msg.Chat.ID, url, provider.MaxSourceImages)
	b.sendText(msg.Chat.ID, fmt.Sprintf("Референс сохранён (%d/%d). Можно отправить промпт.", count, provider.MaxSourceImages))
	return nil
}

func (b *Bot) downloadFile(ctx context.Context, fileID string) ([]byte, string, error) {
	file, err := b.api.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, "", fmt.Errorf("get file: %w", err)
	}
	if file.FilePath == "" {
		return nil, "", fmt.Errorf("file path empty")
	}
	url := fmt.Sprintf("https://api.telegram.org/file/bot%s/%s", b.api.Token, file.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("telegram file status: %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read file body: %w", err)
	}
	ct, err := normalizeImageContentType(resp.Header.Get("Content-Type"), body)
	if err != nil {
		return nil, "", err
	}
	return body, ct, nil
}

func (b *Bot) sendText(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send text", "err", err)
	}
}

func userID(msg *tgbotapi.Message) int64 {
	if msg.From != nil {
		return msg.From.ID
	}
	return msg.Chat.ID
}

func username(msg *tgbotapi.Message) string {
	if msg.From != nil {
		return msg.From.UserName
	}
	return ""
}

func chatKind(msg *tgbotapi.Message) models.ChatKind {
	if msg.Chat.IsPrivate() {
		return models.ChatPrivate
	}
	return models.ChatGroup
}

func normalizeImageContentType(headerCT string, data []byte) (string, error) {
	ct := strings.ToLower(strings.TrimSpace(headerCT))
	if idx := strings.Index(ct, ";"); idx > 0 {
		ct = ct[:idx]
	}
	if ct == "" || ct == "application/octet-stream" || !strings.HasPrefix(ct, "image/") {
		if len(data) > 0 {
			ct = http.DetectContentType(data)
			if idx := strings.Index(ct, ";"); idx > 0 {
				ct = ct[:idx]
			}
		}
	}

	switch ct {
	case "image/jpeg", "image/jpg":
		return "image/jpeg", nil
	case "image/png":
		return "image/png", nil
	case "image/webp":
		return "image/webp", nil
	default:
		return "", errReferenceNotImage
	}
}

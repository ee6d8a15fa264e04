package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"NewsDesk/internal/domain"
	"NewsDesk/internal/ports"
)

const defaultAPIBase = "https://api.telegram.org"

// Bot drives the review surface and the target-channel publish via the
// Telegram bot API.
type Bot struct {
	token         string
	adminChatID   int64
	targetChannel int64
	apiBase       string
	client        *http.Client
}

var (
	_ ports.ReviewBot        = (*Bot)(nil)
	_ ports.ChannelPublisher = (*Bot)(nil)
)

// NewBot registers the bot token with the review chat and publish target.
func NewBot(token string, adminChatID, targetChannel int64) *Bot {
	return &Bot{
		token:         token,
		adminChatID:   adminChatID,
		targetChannel: targetChannel,
		apiBase:       defaultAPIBase,
		client:        &http.Client{Timeout: 15 * time.Second},
	}
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Result      struct {
		MessageID int64 `json:"message_id"`
		Chat      struct {
			ID int64 `json:"id"`
		} `json:"chat"`
	} `json:"result"`
}

type inlineKeyboard struct {
	InlineKeyboard [][]inlineButton `json:"inline_keyboard"`
}

type inlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

func reviewKeyboard(draftID string) inlineKeyboard {
	return inlineKeyboard{InlineKeyboard: [][]inlineButton{{
		{Text: "✅ Publish", CallbackData: "publish:" + draftID},
		{Text: "♻️ Redraft", CallbackData: "redraft:" + draftID},
		{Text: "✍️ Edit", CallbackData: "edit:" + draftID},
		{Text: "❌ Skip", CallbackData: "skip:" + draftID},
	}}}
}

// SendReview posts a fresh review message with action controls.
func (b *Bot) SendReview(ctx context.Context, draft domain.Draft) (int64, int64, error) {
	if b.token == "" || b.adminChatID == 0 {
		return 0, 0, fmt.Errorf("review bot misconfigured")
	}

	payload := map[string]any{
		"chat_id":      b.adminChatID,
		"text":         formatReview(draft),
		"parse_mode":   "HTML",
		"reply_markup": reviewKeyboard(draft.ID),
	}

	resp, err := b.post(ctx, "sendMessage", payload)
	if err != nil {
		return 0, 0, err
	}
	return b.adminChatID, resp.Result.MessageID, nil
}

// EditReview re-renders the existing review message in place.
func (b *Bot) EditReview(ctx context.Context, draft domain.Draft) error {
	if draft.ReviewMessageID == 0 {
		return fmt.Errorf("draft %s has no review message", draft.ID)
	}

	payload := map[string]any{
		"chat_id":      draft.ReviewChatID,
		"message_id":   draft.ReviewMessageID,
		"text":         formatReview(draft),
		"parse_mode":   "HTML",
		"reply_markup": reviewKeyboard(draft.ID),
	}

	_, err := b.post(ctx, "editMessageText", payload)
	return err
}

// AnswerCallback acknowledges an inline-button press.
func (b *Bot) AnswerCallback(ctx context.Context, callbackID, text string) error {
	_, err := b.post(ctx, "answerCallbackQuery", map[string]any{
		"callback_query_id": callbackID,
		"text":              text,
	})
	return err
}

// Publish sends the draft to the target channel and returns the new channel
// message id. With an image URL the draft goes out as a photo post with the
// text as caption. This is the one outbound publish side effect.
func (b *Bot) Publish(ctx context.Context, draft domain.Draft, imageURL string) (int64, int64, error) {
	if b.targetChannel == 0 {
		return 0, 0, fmt.Errorf("target channel is not configured")
	}

	method := "sendMessage"
	payload := map[string]any{
		"chat_id":    b.targetChannel,
		"text":       RenderHTML(draft.Text),
		"parse_mode": "HTML",
	}
	if imageURL != "" {
		method = "sendPhoto"
		payload = map[string]any{
			"chat_id":    b.targetChannel,
			"photo":      imageURL,
			"caption":    RenderHTML(draft.Text),
			"parse_mode": "HTML",
		}
	}

	resp, err := b.post(ctx, method, payload)
	if err != nil {
		return 0, 0, err
	}
	return b.targetChannel, resp.Result.MessageID, nil
}

// SendText posts a plain message, used for command replies in the admin chat.
func (b *Bot) SendText(ctx context.Context, chatID int64, text string) error {
	_, err := b.post(ctx, "sendMessage", map[string]any{
		"chat_id": chatID,
		"text":    text,
	})
	return err
}

func formatReview(draft domain.Draft) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Draft %s [%s] from %s\n\n", draft.ID, draft.State, draft.OriginKey())
	sb.WriteString(RenderHTML(draft.Text))
	if draft.ImagePrompt != "" {
		fmt.Fprintf(&sb, "\n\n🖼 %s", draft.ImagePrompt)
	}
	if draft.Error != "" {
		fmt.Fprintf(&sb, "\n\n⚠️ %s", draft.Error)
	}
	return strings.TrimSpace(sb.String())
}

func (b *Bot) post(ctx context.Context, method string, payload map[string]any) (apiResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return apiResponse{}, fmt.Errorf("marshal %s payload: %w", method, err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/%s", strings.TrimSuffix(b.apiBase, "/"), b.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return apiResponse{}, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return apiResponse{}, fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return apiResponse{}, fmt.Errorf("read %s response: %w", method, err)
	}

	var parsed apiResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return apiResponse{}, fmt.Errorf("decode %s response: %w", method, err)
	}
	if !parsed.OK {
		return apiResponse{}, fmt.Errorf("%s failed: %s", method, parsed.Description)
	}
	return parsed, nil
}

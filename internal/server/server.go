package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"NewsDesk/internal/domain"
	"NewsDesk/internal/infrastructure/queue"
	"NewsDesk/internal/usecase"
)

const webhookSecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// Verifier gates queue push deliveries before any processing.
type Verifier interface {
	Verify(ctx context.Context, r *http.Request) error
}

// Ingestor turns a verified envelope into a draft.
type Ingestor interface {
	Ingest(ctx context.Context, env domain.Envelope) (domain.Draft, bool, error)
}

// Reviewer exposes the operator actions served over the webhook.
type Reviewer interface {
	HandleNewDraft(ctx context.Context, draftID string) (usecase.Ack, error)
	Publish(ctx context.Context, draftID string) (usecase.Ack, error)
	Redraft(ctx context.Context, draftID string) (usecase.Ack, error)
	Edit(ctx context.Context, draftID, text string) (usecase.Ack, error)
	Skip(ctx context.Context, draftID string) (usecase.Ack, error)
}

// CallbackAnswerer acknowledges inline-button presses.
type CallbackAnswerer interface {
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

// Replier posts plain replies for text commands.
type Replier interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

// Deps wires the HTTP surface to the pipeline components.
type Deps struct {
	Verifier      Verifier
	Ingestor      Ingestor
	Reviewer      Reviewer
	Answerer      CallbackAnswerer
	Replier       Replier
	WebhookSecret string
	AdminChatID   int64
	Logger        *slog.Logger
}

// Server serves the push endpoint, the notify hint endpoint and the review
// bot webhook.
type Server struct {
	deps Deps
	mux  *http.ServeMux
}

// New builds the HTTP surface with all routes registered.
func New(deps Deps) *Server {
	s := &Server{deps: deps, mux: http.NewServeMux()}
	s.mux.HandleFunc("POST /pubsub/push", s.handlePush)
	s.mux.HandleFunc("POST /internal/notify", s.handleNotify)
	s.mux.HandleFunc("POST /telegram/webhook", s.handleWebhook)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	return s
}

// Handler exposes the routed handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// handlePush accepts one queue push delivery. Verification runs before any
// body processing; a verified duplicate still answers 200 so the queue stops
// retrying it.
func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if s.deps.Verifier != nil {
		if err := s.deps.Verifier.Verify(ctx, r); err != nil {
			s.warn("push rejected", "error", err)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	env, err := queue.DecodePush(body)
	if err != nil {
		s.warn("malformed push", "error", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	draft, created, err := s.deps.Ingestor.Ingest(ctx, env)
	if err != nil {
		s.warn("ingest failed", "origin", env.Origin().Key(), "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]any{"draft_id": draft.ID, "created": created})
}

// handleNotify reacts to a new-draft hint from the ingest side.
func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	var hint struct {
		DraftID string `json:"draft_id"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&hint); err != nil || hint.DraftID == "" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	ack, err := s.deps.Reviewer.HandleNewDraft(r.Context(), hint.DraftID)
	if err != nil {
		s.warn("notify handling failed", "draft_id", hint.DraftID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]any{"status": string(ack.Status)})
}

// update mirrors the subset of the bot API update payload the webhook uses.
type update struct {
	CallbackQuery *callbackQuery `json:"callback_query"`
	Message       *chatMessage   `json:"message"`
}

type callbackQuery struct {
	ID   string `json:"id"`
	Data string `json:"data"`
}

type chatMessage struct {
	Chat struct {
		ID int64 `json:"id"`
	} `json:"chat"`
	Text string `json:"text"`
}

// handleWebhook processes bot updates. It always answers 200 to processed
// updates so the bot API does not build a retry backlog; the outcome reaches
// the operator through the callback answer and the review message itself.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if s.deps.WebhookSecret != "" && r.Header.Get(webhookSecretHeader) != s.deps.WebhookSecret {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	var upd update
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&upd); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	switch {
	case upd.CallbackQuery != nil:
		s.handleCallback(r.Context(), *upd.CallbackQuery)
	case upd.Message != nil:
		s.handleCommand(r.Context(), *upd.Message)
	}
	w.WriteHeader(http.StatusOK)
}

// handleCallback dispatches one "<action>:<draft id>" button press.
func (s *Server) handleCallback(ctx context.Context, cb callbackQuery) {
	action, draftID, ok := strings.Cut(cb.Data, ":")
	if !ok || draftID == "" {
		s.answer(ctx, cb.ID, "Unknown action")
		return
	}

	var ack usecase.Ack
	var err error
	switch action {
	case "publish":
		ack, err = s.deps.Reviewer.Publish(ctx, draftID)
	case "redraft":
		ack, err = s.deps.Reviewer.Redraft(ctx, draftID)
	case "skip":
		ack, err = s.deps.Reviewer.Skip(ctx, draftID)
	case "edit":
		s.answer(ctx, cb.ID, "Reply with /edit "+draftID+" <new text>")
		return
	default:
		s.answer(ctx, cb.ID, "Unknown action")
		return
	}

	if err != nil {
		s.warn("callback action failed", "action", action, "draft_id", draftID, "error", err)
	}
	s.answer(ctx, cb.ID, ack.Text())
}

// handleCommand serves the /edit text command from the review chat. A
// successful edit is visible through the re-rendered review message; every
// other outcome is answered with a reply so the command never fails silently.
func (s *Server) handleCommand(ctx context.Context, msg chatMessage) {
	if s.deps.AdminChatID != 0 && msg.Chat.ID != s.deps.AdminChatID {
		return
	}
	if !strings.HasPrefix(msg.Text, "/edit") {
		return
	}

	parts := strings.SplitN(msg.Text, " ", 3)
	if len(parts) < 3 || strings.TrimSpace(parts[2]) == "" {
		s.reply(ctx, msg.Chat.ID, "Usage: /edit <draft-id> <new text>")
		return
	}
	draftID, text := parts[1], strings.TrimSpace(parts[2])

	ack, err := s.deps.Reviewer.Edit(ctx, draftID, text)
	if err != nil {
		s.warn("edit command failed", "draft_id", draftID, "error", err)
	}
	if ack.Status != usecase.AckDone {
		s.reply(ctx, msg.Chat.ID, ack.Text())
		return
	}
	s.debug("edit command", "draft_id", draftID, "status", ack.Status)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{"status": "ok"})
}

// answer delivers the short acknowledgment for a button press. A failure here
// only loses the toast, never the action result.
func (s *Server) answer(ctx context.Context, callbackID, text string) {
	if s.deps.Answerer == nil {
		return
	}
	if err := s.deps.Answerer.AnswerCallback(ctx, callbackID, text); err != nil {
		s.warn("answer callback", "error", err)
	}
}

// reply posts the acknowledgment for a text command.
func (s *Server) reply(ctx context.Context, chatID int64, text string) {
	if s.deps.Replier == nil {
		return
	}
	if err := s.deps.Replier.SendText(ctx, chatID, text); err != nil {
		s.warn("command reply", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) debug(msg string, args ...any) {
	if s.deps.Logger != nil {
		s.deps.Logger.Debug(msg, args...)
	}
}

func (s *Server) warn(msg string, args ...any) {
	if s.deps.Logger != nil {
		s.deps.Logger.Warn(msg, args...)
	}
}

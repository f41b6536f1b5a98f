package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/ashureev/roa-designer/internal/chatlog"
	"github.com/ashureev/roa-designer/internal/domain"
	"github.com/ashureev/roa-designer/internal/identity"
	"github.com/ashureev/roa-designer/internal/workflow"
)

// ErrRateLimited is returned by RunTurn when the user is throttled.
var ErrRateLimited = errors.New("rate limit exceeded")

// Turner runs one chat turn against a locked session.
type Turner interface {
	Turn(ctx context.Context, sess *domain.Session, in workflow.TurnInput) workflow.TurnResult
	Templates() []domain.Template
}

// ChatHandler serves the chat, session and catalog endpoints.
type ChatHandler struct {
	*Handler
	turns       Turner
	limiter     *RateLimiter
	maxBodySize int64
}

// NewChatHandler creates a chat handler.
func NewChatHandler(base *Handler, turns Turner, limiter *RateLimiter, maxBodySize int64) *ChatHandler {
	if maxBodySize <= 0 {
		maxBodySize = 10 << 20
	}
	return &ChatHandler{Handler: base, turns: turns, limiter: limiter, maxBodySize: maxBodySize}
}

// RegisterRoutes registers chat routes.
func (h *ChatHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/me", h.GetMe)
		r.Get("/templates", h.ListTemplates)
		r.Post("/chat", h.Chat)
		r.Get("/session", h.GetSession)
		r.Delete("/session", h.ResetSession)
	})
}

type chatRequest struct {
	Message  string `json:"message"`
	ImageURL string `json:"image_url,omitempty"`
}

// SessionView is the client-facing state of a session.
type SessionView struct {
	UserID    string                   `json:"user_id"`
	SessionID string                   `json:"session_id"`
	Design    domain.DesignContext     `json:"design"`
	Messages  []domain.TranscriptEntry `json:"messages"`
	UpdatedAt time.Time                `json:"updated_at"`
}

func viewOf(s *domain.Session) SessionView {
	msgs := make([]domain.TranscriptEntry, len(s.Transcript.Entries))
	copy(msgs, s.Transcript.Entries)
	return SessionView{
		UserID:    s.UserID,
		SessionID: s.SessionID,
		Design:    s.Design.Clone(),
		Messages:  msgs,
		UpdatedAt: s.UpdatedAt,
	}
}

// GetMe returns the current visitor's identity.
func (h *ChatHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	user, err := h.repo.GetUser(r.Context(), userID)
	if err != nil || user == nil {
		Error(w, http.StatusUnauthorized, "user not found")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"user_id":    user.UserID,
		"username":   user.Username,
		"session_id": identity.SessionIDFromContext(r.Context()),
	})
}

// ListTemplates returns the template catalog.
func (h *ChatHandler) ListTemplates(w http.ResponseWriter, _ *http.Request) {
	templates := h.turns.Templates()
	if templates == nil {
		templates = []domain.Template{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{"templates": templates})
}

// Chat processes one user message, either JSON or multipart with an image file.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	in, err := h.parseChatRequest(r)
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			Error(w, http.StatusRequestEntityTooLarge, "request too large")
			return
		}
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	in.Channel = chatlog.ChannelHTTP

	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())

	slog.Info("Chat request",
		"user_id", userID,
		"session_id", sessionID,
		"request_id", chiMiddleware.GetReqID(r.Context()),
		"message_length", len(in.Message),
		"has_image", len(in.Image) > 0 || in.ImageURL != "",
	)

	result, err := h.RunTurn(r.Context(), userID, sessionID, in)
	switch {
	case errors.Is(err, ErrRateLimited):
		Error(w, http.StatusTooManyRequests, "rate limit exceeded, please slow down")
		return
	case err != nil:
		Error(w, http.StatusServiceUnavailable, "session unavailable")
		return
	}

	JSON(w, http.StatusOK, result)
}

// RunTurn throttles, locks the session, runs the turn and persists the
// result. It is shared by the HTTP and WebSocket transports.
func (h *ChatHandler) RunTurn(ctx context.Context, userID, sessionID string, in workflow.TurnInput) (workflow.TurnResult, error) {
	if h.limiter != nil && !h.limiter.Allow(userID) {
		slog.Warn("Chat rate limited", "user_id", userID, "session_id", sessionID)
		return workflow.TurnResult{}, ErrRateLimited
	}

	handle, err := h.sessions.Acquire(ctx, userID, sessionID)
	if err != nil {
		slog.Error("Failed to acquire session", "user_id", userID, "session_id", sessionID, "error", err)
		return workflow.TurnResult{}, err
	}
	defer handle.Release()

	result := h.turns.Turn(ctx, handle.Session, in)

	// Detached so a dropped client does not lose a completed turn.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := h.sessions.Save(saveCtx, handle.Session); err != nil {
		slog.Error("Failed to save session", "user_id", userID, "session_id", sessionID, "error", err)
	}
	return result, nil
}

func (h *ChatHandler) parseChatRequest(r *http.Request) (workflow.TurnInput, error) {
	var in workflow.TurnInput

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(h.maxBodySize); err != nil {
			return in, fmt.Errorf("invalid multipart body: %w", err)
		}
		in.Message = strings.TrimSpace(r.FormValue("message"))
		in.ImageURL = strings.TrimSpace(r.FormValue("image_url"))

		file, _, err := r.FormFile("image")
		switch {
		case err == nil:
			defer func() { _ = file.Close() }()
			data, err := io.ReadAll(file)
			if err != nil {
				return in, fmt.Errorf("read image: %w", err)
			}
			in.Image = data
		case !errors.Is(err, http.ErrMissingFile):
			return in, fmt.Errorf("invalid image: %w", err)
		}
	} else {
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return in, fmt.Errorf("invalid request body: %w", err)
		}
		in.Message = strings.TrimSpace(req.Message)
		in.ImageURL = strings.TrimSpace(req.ImageURL)
	}

	if in.Message == "" && len(in.Image) == 0 && in.ImageURL == "" {
		return in, errors.New("message is required")
	}
	return in, nil
}

// GetSession returns the current design and transcript.
func (h *ChatHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())

	handle, err := h.sessions.Acquire(r.Context(), userID, sessionID)
	if err != nil {
		slog.Error("Failed to load session", "user_id", userID, "session_id", sessionID, "error", err)
		Error(w, http.StatusServiceUnavailable, "session unavailable")
		return
	}
	view := viewOf(handle.Session)
	handle.Release()

	JSON(w, http.StatusOK, view)
}

// ResetSession discards the design and transcript and returns the fresh session.
func (h *ChatHandler) ResetSession(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())

	if err := h.sessions.Reset(r.Context(), userID, sessionID); err != nil {
		slog.Error("Failed to reset session", "user_id", userID, "session_id", sessionID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to reset session")
		return
	}
	h.GetSession(w, r)
}

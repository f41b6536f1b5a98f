package chatws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/ashureev/roa-designer/internal/chatlog"
	"github.com/ashureev/roa-designer/internal/domain"
	"github.com/ashureev/roa-designer/internal/identity"
	"github.com/ashureev/roa-designer/internal/workflow"
)

const writeTimeout = 10 * time.Second

// rateLimitChecker reports whether a runner error means the user is throttled.
type rateLimitChecker func(error) bool

// TurnRunner runs one chat turn for a user tab.
type TurnRunner interface {
	RunTurn(ctx context.Context, userID, sessionID string, in workflow.TurnInput) (workflow.TurnResult, error)
}

// Handler handles WebSocket chat sessions.
type Handler struct {
	runner        TurnRunner
	conns         *Registry
	isRateLimited rateLimitChecker
	allowedOrigin string
	isDev         bool
}

// NewHandler creates a WebSocket chat handler. isRateLimited may be nil.
func NewHandler(runner TurnRunner, conns *Registry, isRateLimited func(error) bool, allowedOrigin string, isDev bool) *Handler {
	if conns == nil {
		conns = NewRegistry()
	}
	return &Handler{
		runner:        runner,
		conns:         conns,
		isRateLimited: isRateLimited,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// inbound is a client message.
type inbound struct {
	Type     string `json:"type"`
	Content  string `json:"content,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// outbound is a server message.
type outbound struct {
	Type     string                `json:"type"`
	Content  string                `json:"content,omitempty"`
	TurnID   string                `json:"turn_id,omitempty"`
	ImageURL string                `json:"image_url,omitempty"`
	Action   domain.Action         `json:"action,omitempty"`
	Design   *domain.DesignContext `json:"design,omitempty"`
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	slog.Info("WebSocket connection request", "user_id", userID, "session_id", sessionID, "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	h.conns.Register(userID, sessionID, ws)
	defer h.conns.Unregister(userID, sessionID, ws)

	h.readLoop(r.Context(), ws, userID, sessionID)
	slog.Info("Chat connection ended", "user_id", userID, "session_id", sessionID)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, userID, sessionID string) {
	for {
		var msg inbound
		if err := wsjson.Read(ctx, ws, &msg); err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				slog.Debug("WebSocket closed by client", "user_id", userID)
			} else {
				slog.Warn("WebSocket read error", "error", err, "user_id", userID)
			}
			return
		}

		switch msg.Type {
		case "chat":
			if !h.handleChat(ctx, ws, userID, sessionID, msg) {
				return
			}
		case "ping":
			if err := h.write(ctx, ws, outbound{Type: "pong"}); err != nil {
				return
			}
		default:
			if err := h.write(ctx, ws, outbound{Type: "error", Content: "unknown message type"}); err != nil {
				return
			}
		}
	}
}

// handleChat runs one turn and reports whether the connection is still usable.
func (h *Handler) handleChat(ctx context.Context, ws *websocket.Conn, userID, sessionID string, msg inbound) bool {
	in := workflow.TurnInput{
		Message:  strings.TrimSpace(msg.Content),
		ImageURL: strings.TrimSpace(msg.ImageURL),
		Channel:  chatlog.ChannelWebSocket,
	}
	if in.Message == "" && in.ImageURL == "" {
		return h.write(ctx, ws, outbound{Type: "error", Content: "message is required"}) == nil
	}

	if err := h.write(ctx, ws, outbound{Type: "typing"}); err != nil {
		return false
	}

	result, err := h.runner.RunTurn(ctx, userID, sessionID, in)
	if err != nil {
		content := "session unavailable"
		if h.isRateLimited != nil && h.isRateLimited(err) {
			content = "rate limit exceeded, please slow down"
		}
		return h.write(ctx, ws, outbound{Type: "error", Content: content}) == nil
	}

	design := result.Design
	return h.write(ctx, ws, outbound{
		Type:     "reply",
		Content:  result.Reply,
		TurnID:   result.TurnID,
		ImageURL: result.ImageURL,
		Action:   result.Action,
		Design:   &design,
	}) == nil
}

func (h *Handler) write(ctx context.Context, ws *websocket.Conn, v outbound) error {
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := wsjson.Write(writeCtx, ws, v); err != nil {
		slog.Debug("WebSocket write error", "error", err, "type", v.Type)
		return err
	}
	return nil
}

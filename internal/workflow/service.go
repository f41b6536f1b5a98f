package workflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/roa-designer/internal/chatlog"
	"github.com/ashureev/roa-designer/internal/domain"
	"github.com/ashureev/roa-designer/internal/metrics"
	"github.com/ashureev/roa-designer/internal/upload"
)

// DecisionRequest is everything the decision model sees for one turn.
type DecisionRequest struct {
	History   []domain.TranscriptEntry
	Design    domain.DesignContext
	Templates []domain.Template
	Message   string
}

// Decider produces one decision per user turn.
type Decider interface {
	Decide(ctx context.Context, req DecisionRequest) (domain.Decision, error)
}

// ImageUploader hosts user-supplied images and returns a public URL.
type ImageUploader interface {
	Upload(ctx context.Context, data []byte) (string, error)
}

// TurnInput is one user message. Image holds raw bytes to upload, ImageURL an
// already hosted image. When both are set Image wins.
type TurnInput struct {
	Message  string
	Image    []byte
	ImageURL string
	Channel  string
}

// TurnResult is what a transport sends back to the user.
type TurnResult struct {
	TurnID   string               `json:"turn_id"`
	Reply    string               `json:"reply"`
	ImageURL string               `json:"image_url,omitempty"`
	Action   domain.Action        `json:"action,omitempty"`
	Design   domain.DesignContext `json:"design"`
	Err      error                `json:"-"`
}

// ServiceConfig wires a Service.
type ServiceConfig struct {
	Decider      Decider
	Uploader     ImageUploader
	Controller   *Controller
	Templates    []domain.Template
	HistoryLimit int
	ConvLog      chatlog.Logger
}

// Service runs whole chat turns against a session.
type Service struct {
	decider      Decider
	uploader     ImageUploader
	controller   *Controller
	templates    []domain.Template
	historyLimit int
	convLog      chatlog.Logger
	logger       *slog.Logger
}

// NewService creates a turn service.
func NewService(cfg ServiceConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = domain.DefaultHistoryLimit
	}
	if cfg.ConvLog == nil {
		cfg.ConvLog = chatlog.Noop{}
	}
	return &Service{
		decider:      cfg.Decider,
		uploader:     cfg.Uploader,
		controller:   cfg.Controller,
		templates:    cfg.Templates,
		historyLimit: cfg.HistoryLimit,
		convLog:      cfg.ConvLog,
		logger:       logger,
	}
}

// Templates returns the catalog offered to the decision model.
func (s *Service) Templates() []domain.Template {
	return s.templates
}

// Turn processes one user message. The caller must hold the session lock.
// Failures are folded into the reply; Err is only informational.
func (s *Service) Turn(ctx context.Context, sess *domain.Session, in TurnInput) TurnResult {
	turnID := uuid.NewString()
	logger := s.logger.With("user_id", sess.UserID, "session_id", sess.SessionID, "turn_id", turnID)
	if in.Channel == "" {
		in.Channel = chatlog.ChannelHTTP
	}

	s.convLog.Log(chatlog.Event{
		UserID:     sess.UserID,
		SessionID:  sess.SessionID,
		TurnID:     turnID,
		Channel:    in.Channel,
		Direction:  chatlog.DirectionInbound,
		EventType:  "user_message",
		ContentRaw: in.Message,
		Meta:       map[string]any{"has_image": len(in.Image) > 0 || in.ImageURL != ""},
	})

	// The window is taken before this turn is appended, so the model sees up
	// to historyLimit prior entries plus the current message. Slicing after the
	// append would leave historyLimit-1 prior entries.
	history := sess.Transcript.Recent(s.historyLimit)
	result := TurnResult{TurnID: turnID}

	prompt, err := s.prompt(ctx, in)
	if err != nil {
		logger.Error("Image upload failed", "error", err)
		metrics.UploadFailuresTotal.Inc()
		result.Reply = ReplyUploadFailed
		result.Err = err
		return s.finish(sess, in, result, logger)
	}

	decision, err := s.decider.Decide(ctx, DecisionRequest{
		History:   history,
		Design:    sess.Design.Clone(),
		Templates: s.templates,
		Message:   prompt,
	})
	if err != nil {
		logger.Error("No decision for turn", "error", err)
		metrics.DecisionFailuresTotal.Inc()
		result.Reply = ReplyDecisionUnavailable
		if !errors.Is(err, domain.ErrDecisionUnavailable) {
			err = errors.Join(domain.ErrDecisionUnavailable, err)
		}
		result.Err = err
		return s.finish(sess, in, result, logger)
	}

	logger.Info("Decision received",
		"action", decision.Action,
		"template_id", decision.TemplateID,
		"modifications", len(decision.Modifications),
	)

	out := s.controller.Apply(ctx, &sess.Design, decision)
	metrics.TurnsTotal.WithLabelValues(string(out.Action)).Inc()

	result.Reply = out.Reply
	result.ImageURL = out.ImageURL
	result.Action = out.Action
	result.Err = out.Err
	return s.finish(sess, in, result, logger)
}

// prompt returns the text handed to the decision model, uploading the
// attached image first when there is one.
func (s *Service) prompt(ctx context.Context, in TurnInput) (string, error) {
	imageURL := in.ImageURL
	if len(in.Image) > 0 {
		if s.uploader == nil {
			return "", upload.ErrUploadFailed
		}
		url, err := s.uploader.Upload(ctx, in.Image)
		if err != nil {
			return "", err
		}
		imageURL = url
	}
	if imageURL == "" {
		return in.Message, nil
	}
	return upload.ImageContextPrompt(imageURL, in.Message), nil
}

func (s *Service) finish(sess *domain.Session, in TurnInput, result TurnResult, logger *slog.Logger) TurnResult {
	sess.Transcript.Append(domain.RoleUser, in.Message, false)
	sess.Transcript.Append(domain.RoleAssistant, result.Reply, result.ImageURL != "")
	sess.UpdatedAt = time.Now().UTC()
	result.Design = sess.Design.Clone()

	meta := map[string]any{}
	if result.ImageURL != "" {
		meta["image_url"] = result.ImageURL
	}
	if result.Err != nil {
		meta["error"] = result.Err.Error()
	}
	s.convLog.Log(chatlog.Event{
		UserID:     sess.UserID,
		SessionID:  sess.SessionID,
		TurnID:     result.TurnID,
		Channel:    in.Channel,
		Direction:  chatlog.DirectionOutbound,
		EventType:  "assistant_reply",
		Action:     string(result.Action),
		ContentRaw: result.Reply,
		Meta:       meta,
	})

	logger.Debug("Turn finished", "action", result.Action, "has_image", result.ImageURL != "")
	return result
}

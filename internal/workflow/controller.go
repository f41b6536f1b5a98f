// Package workflow interprets decisions from the design model: it mutates the
// session's design context, triggers image generation when needed and turns
// every failure into a user-facing reply.
package workflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ashureev/roa-designer/internal/domain"
	"github.com/ashureev/roa-designer/internal/metrics"
)

// Fixed replies.
const (
	ReplyMissingTemplate     = "I can't generate an image yet. Please describe the design you want first."
	ReplyJobStartFailed      = "❌ **Error:** Failed to start image generation."
	ReplyRenderFailed        = "❌ **Error:** Image generation failed during rendering."
	ReplyDecisionUnavailable = "I'm having trouble connecting right now. Please try again in a moment."
	ReplyUploadFailed        = "I'm sorry, something went wrong. Could you please try rephrasing?"
	ReplyNoResponseText      = "I'm not sure how to proceed."
)

// DefaultGenerationTimeout bounds how long a single render may be awaited.
const DefaultGenerationTimeout = 2 * time.Minute

// JobRunner starts render jobs and waits for them.
type JobRunner interface {
	Start(ctx context.Context, templateID string, mods []domain.Modification) (*domain.ImageJob, error)
	AwaitCompletion(ctx context.Context, job *domain.ImageJob) (*domain.ImageJob, error)
}

// Outcome is the result of applying one decision.
type Outcome struct {
	Action domain.Action
	Reply  string
	// ImageURL is set when a render completed and was appended to Reply.
	ImageURL string
	// Generated reports whether the generation branch was entered.
	Generated bool
	// Err carries the taxonomy error behind a fixed reply, if any.
	Err error
}

// CarriesImage reports whether the reply embeds a generated image.
func (o Outcome) CarriesImage() bool {
	return o.ImageURL != ""
}

// Controller applies decisions to a design context.
type Controller struct {
	jobs              JobRunner
	generationTimeout time.Duration
	logger            *slog.Logger
}

// NewController creates a controller. A non-positive timeout falls back to
// DefaultGenerationTimeout.
func NewController(jobs JobRunner, generationTimeout time.Duration, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if generationTimeout <= 0 {
		generationTimeout = DefaultGenerationTimeout
	}
	return &Controller{jobs: jobs, generationTimeout: generationTimeout, logger: logger}
}

// ImageMarkdown renders the reference appended to a reply after a render.
func ImageMarkdown(url string) string {
	return "\n\n![Generated Image](" + url + ")"
}

// Apply interprets one decision against design, mutating it in place.
// Errors never escape: each is mapped to a reply and reported in Outcome.Err.
func (c *Controller) Apply(ctx context.Context, design *domain.DesignContext, d domain.Decision) Outcome {
	reply := d.ResponseText
	if reply == "" {
		reply = ReplyNoResponseText
	}
	out := Outcome{Action: d.Action, Reply: reply}

	switch d.Action {
	case domain.ActionConverse:
		return out

	case domain.ActionReset:
		design.Reset()
		c.logger.Info("Design context reset")
		return out

	case domain.ActionModify:
		regenerate := false
		if d.TemplateID != "" && d.TemplateID != design.TemplateID {
			// Only a swap on an existing design re-renders; the first pick has no image yet.
			regenerate = design.HasTemplate()
			c.logger.Info("Template selected",
				"previous_template_id", design.TemplateID,
				"template_id", d.TemplateID,
				"regenerate", regenerate,
			)
			design.SetTemplate(d.TemplateID)
		}
		design.UpsertModifications(d.Modifications)
		if !regenerate {
			return out
		}
		return c.generate(ctx, design, out)

	case domain.ActionGenerate:
		return c.generate(ctx, design, out)

	default:
		c.logger.Warn("Unknown decision action, replying without changes", "action", d.Action)
		return out
	}
}

// generate renders the already-updated design and folds the result into out.
func (c *Controller) generate(ctx context.Context, design *domain.DesignContext, out Outcome) Outcome {
	out.Generated = true

	if !design.HasTemplate() {
		metrics.ObserveGeneration(metrics.OutcomeMissingTemplate, 0)
		out.Reply = ReplyMissingTemplate
		out.Err = domain.ErrMissingTemplate
		return out
	}

	started := time.Now()
	mods := design.ModificationList()
	job, err := c.jobs.Start(ctx, design.TemplateID, mods)
	if err != nil {
		c.logger.Error("Image generation could not start", "template_id", design.TemplateID, "error", err)
		metrics.ObserveGeneration(metrics.OutcomeStartFailed, time.Since(started))
		out.Reply = ReplyJobStartFailed
		out.Err = wrapIfBare(err, domain.ErrJobStart)
		return out
	}

	waitCtx, cancel := context.WithTimeout(ctx, c.generationTimeout)
	defer cancel()

	final, err := c.jobs.AwaitCompletion(waitCtx, job)
	if err == nil && (final == nil || final.ResultURL == "") {
		err = domain.ErrJobFailed
	}
	if err != nil {
		c.logger.Error("Image generation failed", "template_id", design.TemplateID, "job_uid", job.UID, "error", err)
		metrics.ObserveGeneration(metrics.OutcomeRenderFailed, time.Since(started))
		out.Reply = ReplyRenderFailed
		out.Err = wrapIfBare(err, domain.ErrJobFailed)
		return out
	}

	metrics.ObserveGeneration(metrics.OutcomeSuccess, time.Since(started))
	c.logger.Info("Image generated",
		"template_id", design.TemplateID,
		"job_uid", final.UID,
		"modifications", len(mods),
		"elapsed", time.Since(started),
	)
	out.ImageURL = final.ResultURL
	out.Reply += ImageMarkdown(final.ResultURL)
	return out
}

// wrapIfBare keeps taxonomy errors as they are and tags anything else with
// the fallback category.
func wrapIfBare(err, fallback error) error {
	for _, known := range []error{domain.ErrJobStart, domain.ErrJobFailed, domain.ErrPollingTransport} {
		if errors.Is(err, known) {
			return err
		}
	}
	return errors.Join(fallback, err)
}

// Package imagejob talks to the Bannerbear render API: it starts image jobs,
// waits for them to finish and lists the template catalog.
package imagejob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/roa-designer/internal/domain"
)

// maxErrorBody caps how much of a failed response body is kept for logging.
const maxErrorBody = 512

// ClientConfig holds configuration for the render API client.
type ClientConfig struct {
	BaseURL      string
	APIKey       string
	PollInterval time.Duration
	HTTPClient   *http.Client
}

// Client starts render jobs and polls them to completion. It holds no state
// between calls beyond its configuration.
type Client struct {
	baseURL      string
	apiKey       string
	pollInterval time.Duration
	http         *http.Client
	logger       *slog.Logger
}

// NewClient creates a render API client.
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:      cfg.BaseURL,
		apiKey:       cfg.APIKey,
		pollInterval: cfg.PollInterval,
		http:         cfg.HTTPClient,
		logger:       logger,
	}
}

type createImageRequest struct {
	Template      string                `json:"template"`
	Modifications []domain.Modification `json:"modifications"`
}

type imageResponse struct {
	UID         string `json:"uid"`
	Status      string `json:"status"`
	Self        string `json:"self"`
	ImageURLPNG string `json:"image_url_png"`
	ImageURL    string `json:"image_url"`
}

func (r imageResponse) toJob() *domain.ImageJob {
	job := &domain.ImageJob{
		UID:      r.UID,
		Status:   domain.NormalizeJobStatus(r.Status),
		SelfLink: r.Self,
	}
	if job.Status == domain.JobStatusCompleted {
		job.ResultURL = r.ImageURLPNG
		if job.ResultURL == "" {
			job.ResultURL = r.ImageURL
		}
	}
	return job
}

// Start submits the full modification set for templateID. Every failure is
// reported as domain.ErrJobStart and is never retried.
func (c *Client) Start(ctx context.Context, templateID string, mods []domain.Modification) (*domain.ImageJob, error) {
	if mods == nil {
		mods = []domain.Modification{}
	}
	body, err := json.Marshal(createImageRequest{Template: templateID, Modifications: mods})
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", domain.ErrJobStart, err)
	}

	var resp imageResponse
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/images", body, &resp); err != nil {
		c.logger.Error("Failed to start image job", "template_id", templateID, "error", err)
		return nil, fmt.Errorf("%w: %w", domain.ErrJobStart, err)
	}

	job := resp.toJob()
	c.logger.Info("Image job started",
		"template_id", templateID,
		"job_uid", job.UID,
		"status", job.Status,
		"modifications", len(mods),
	)
	return job, nil
}

// AwaitCompletion polls the job's self link every poll interval until it
// reaches a terminal state. A failed job is returned unchanged together with
// domain.ErrJobFailed. A single transport error aborts the wait with
// domain.ErrPollingTransport. The wait ends early when ctx is done.
func (c *Client) AwaitCompletion(ctx context.Context, job *domain.ImageJob) (*domain.ImageJob, error) {
	if job == nil {
		return nil, fmt.Errorf("%w: nil job", domain.ErrPollingTransport)
	}
	if job.Terminal() {
		if job.Status == domain.JobStatusFailed {
			return job, domain.ErrJobFailed
		}
		return job, nil
	}
	if job.SelfLink == "" {
		return job, fmt.Errorf("%w: job %s has no polling link", domain.ErrPollingTransport, job.UID)
	}

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	polls := 0
	for {
		select {
		case <-ctx.Done():
			c.logger.Warn("Stopped waiting for image job", "job_uid", job.UID, "polls", polls, "reason", ctx.Err())
			return job, fmt.Errorf("%w: %w", domain.ErrPollingTransport, ctx.Err())
		case <-ticker.C:
		}

		polls++
		var resp imageResponse
		if err := c.do(ctx, http.MethodGet, job.SelfLink, nil, &resp); err != nil {
			c.logger.Error("Image job poll failed", "job_uid", job.UID, "polls", polls, "error", err)
			return job, fmt.Errorf("%w: %w", domain.ErrPollingTransport, err)
		}

		next := resp.toJob()
		if next.SelfLink == "" {
			next.SelfLink = job.SelfLink
		}
		if next.UID == "" {
			next.UID = job.UID
		}

		if !next.Terminal() {
			job = next
			continue
		}
		if next.Status == domain.JobStatusFailed {
			c.logger.Warn("Image job failed", "job_uid", job.UID, "polls", polls)
			return job, domain.ErrJobFailed
		}
		c.logger.Info("Image job completed", "job_uid", next.UID, "polls", polls)
		return next, nil
	}
}

// do performs an authorized JSON request and decodes a 2xx body into out.
func (c *Client) do(ctx context.Context, method, url string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("failed to close response body", "error", closeErr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Method: method, URL: url, StatusCode: resp.StatusCode, Body: string(snippet)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, url, err)
	}
	return nil
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// IsStatus reports whether err carries the given HTTP status code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}

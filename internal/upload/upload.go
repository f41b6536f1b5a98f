// Package upload hosts user-attached images on freeimage.host so that the
// decision model and the renderer can reference them by URL.
package upload

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrUploadFailed is returned when the image host rejects an upload.
var ErrUploadFailed = errors.New("image upload failed")

// Config holds configuration for the image host.
type Config struct {
	UploadURL  string
	APIKey     string
	HTTPClient *http.Client
}

// Uploader uploads raw image bytes and returns a public URL.
type Uploader struct {
	uploadURL string
	apiKey    string
	http      *http.Client
	logger    *slog.Logger
}

// New creates an uploader.
func New(cfg Config, logger *slog.Logger) *Uploader {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Uploader{
		uploadURL: cfg.UploadURL,
		apiKey:    cfg.APIKey,
		http:      cfg.HTTPClient,
		logger:    logger,
	}
}

type uploadResponse struct {
	StatusCode int    `json:"status_code"`
	StatusTxt  string `json:"status_txt"`
	Image      *struct {
		URL string `json:"url"`
	} `json:"image"`
}

// Upload sends the image as a base64 form field and returns its direct URL.
func (u *Uploader) Upload(ctx context.Context, data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty image", ErrUploadFailed)
	}

	form := url.Values{}
	form.Set("key", u.apiKey)
	form.Set("action", "upload")
	form.Set("source", base64.StdEncoding.EncodeToString(data))
	form.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.uploadURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := u.http.Do(req)
	if err != nil {
		u.logger.Error("Image upload request failed", "error", err)
		return "", fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			u.logger.Debug("failed to close upload response body", "error", closeErr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		u.logger.Error("Image host rejected upload", "status", resp.StatusCode, "body", string(snippet))
		return "", fmt.Errorf("%w: status %d", ErrUploadFailed, resp.StatusCode)
	}

	var result uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("%w: decode response: %w", ErrUploadFailed, err)
	}
	if result.StatusCode != http.StatusOK || result.Image == nil || result.Image.URL == "" {
		msg := result.StatusTxt
		if msg == "" {
			msg = "unknown error from image host"
		}
		u.logger.Error("Image upload unsuccessful", "status_code", result.StatusCode, "message", msg)
		return "", fmt.Errorf("%w: %s", ErrUploadFailed, msg)
	}

	u.logger.Info("Image uploaded", "url", result.Image.URL, "bytes", len(data))
	return result.Image.URL, nil
}

// ImageContextPrompt folds an uploaded image URL into the user's message so
// the decision model can use it as a layer value.
func ImageContextPrompt(imageURL, message string) string {
	return fmt.Sprintf("Image context: The user has just uploaded an image, available at %s. Their text command is: '%s'", imageURL, message)
}

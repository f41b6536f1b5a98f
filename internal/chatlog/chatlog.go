// Package chatlog writes conversation events as newline-delimited JSON, one
// file per user session. Writes happen on a background goroutine so turns
// never block on disk.
package chatlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Event is one line of a conversation log.
type Event struct {
	Timestamp  string         `json:"ts"`
	UserID     string         `json:"user_id"`
	SessionID  string         `json:"session_id"`
	TurnID     string         `json:"turn_id,omitempty"`
	Channel    string         `json:"channel"`
	Direction  string         `json:"direction"`
	EventType  string         `json:"event_type"`
	Action     string         `json:"action,omitempty"`
	ContentRaw string         `json:"content_raw,omitempty"`
	Content    string         `json:"content,omitempty"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// Channels and directions used by callers.
const (
	ChannelHTTP      = "chat_http"
	ChannelWebSocket = "chat_ws"

	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Logger accepts events. Implementations must not block the caller.
type Logger interface {
	Log(Event)
	Close() error
}

// Config controls the file logger.
type Config struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// Noop discards every event.
type Noop struct{}

func (Noop) Log(Event)    {}
func (Noop) Close() error { return nil }

// FileLogger appends events to <dir>/<user>/<session>.ndjson.
type FileLogger struct {
	dir    string
	queue  chan Event
	done   chan struct{}
	once   sync.Once
	logger *slog.Logger

	closeMu sync.RWMutex // guards closed against sends on a closed queue
	closed  bool

	mu      sync.Mutex
	dropped int64
}

// New returns a Noop logger when disabled, else a started FileLogger.
func New(cfg Config, logger *slog.Logger) (Logger, error) {
	if !cfg.Enabled {
		return Noop{}, nil
	}
	return NewFileLogger(cfg, logger)
}

// NewFileLogger creates the log directory and starts the writer goroutine.
func NewFileLogger(cfg Config, logger *slog.Logger) (*FileLogger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Dir == "" {
		return nil, errors.New("conversation log dir is empty")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create conversation log dir: %w", err)
	}

	l := &FileLogger{
		dir:    cfg.Dir,
		queue:  make(chan Event, cfg.QueueSize),
		done:   make(chan struct{}),
		logger: logger,
	}
	go l.run()
	return l, nil
}

// Log enqueues an event. When the queue is full the event is dropped.
func (l *FileLogger) Log(e Event) {
	if e.Timestamp == "" {
		e.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if e.Content == "" && e.ContentRaw != "" {
		e.Content = CleanForReadability(e.ContentRaw)
	}

	l.closeMu.RLock()
	defer l.closeMu.RUnlock()
	if l.closed {
		l.logger.Debug("Conversation log closed, dropping event", "user_id", e.UserID, "session_id", e.SessionID)
		return
	}

	select {
	case l.queue <- e:
	default:
		l.mu.Lock()
		l.dropped++
		dropped := l.dropped
		l.mu.Unlock()
		l.logger.Warn("Conversation log queue full, dropping event",
			"user_id", e.UserID,
			"session_id", e.SessionID,
			"dropped_total", dropped,
		)
	}
}

// Close drains pending events and stops the writer.
func (l *FileLogger) Close() error {
	l.once.Do(func() {
		l.closeMu.Lock()
		l.closed = true
		close(l.queue)
		l.closeMu.Unlock()
	})
	<-l.done
	return nil
}

func (l *FileLogger) run() {
	defer close(l.done)
	for e := range l.queue {
		if err := l.write(e); err != nil {
			l.logger.Error("Failed to write conversation log",
				"user_id", e.UserID,
				"session_id", e.SessionID,
				"error", err,
			)
		}
	}
}

func (l *FileLogger) write(e Event) error {
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	userDir := filepath.Join(l.dir, safeName(e.UserID))
	if err := os.MkdirAll(userDir, 0o750); err != nil {
		return fmt.Errorf("create user log dir: %w", err)
	}

	path := filepath.Join(userDir, safeName(e.SessionID)+".ndjson")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		_ = f.Close()
		return fmt.Errorf("append log line: %w", err)
	}
	return f.Close()
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// safeName keeps identifiers usable as path segments.
func safeName(s string) string {
	s = unsafeChars.ReplaceAllString(s, "_")
	s = strings.Trim(s, ".")
	if s == "" {
		return "unknown"
	}
	return s
}

var (
	markdownImage = regexp.MustCompile(`!\[[^\]]*\]\(([^)]*)\)`)
	emphasis      = regexp.MustCompile(`\*\*([^*]*)\*\*`)
	whitespace    = regexp.MustCompile(`\s+`)
)

// CleanForReadability flattens markdown so log lines read as plain text.
func CleanForReadability(s string) string {
	s = markdownImage.ReplaceAllString(s, "[image: $1]")
	s = emphasis.ReplaceAllString(s, "$1")
	s = whitespace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

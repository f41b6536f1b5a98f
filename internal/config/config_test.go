package config

import (
	"strings"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("GEMINI_API_KEY", "gemini-key")
	t.Setenv("BANNERBEAR_API_KEY", "bb-key")
	t.Setenv("FREEIMAGE_API_KEY", "fi-key")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("unexpected port %q", cfg.Port)
	}
	if cfg.Generation.PollInterval != time.Second {
		t.Errorf("unexpected poll interval %v", cfg.Generation.PollInterval)
	}
	if cfg.Gemini.HistoryLimit != 8 {
		t.Errorf("unexpected history limit %d", cfg.Gemini.HistoryLimit)
	}
	if cfg.Bannerbear.BaseURL != "https://api.bannerbear.com/v2" {
		t.Errorf("unexpected base url %q", cfg.Bannerbear.BaseURL)
	}
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("GENERATION_TIMEOUT", "45s")
	t.Setenv("BANNERBEAR_BASE_URL", "http://localhost:9999/v2/")
	t.Setenv("CONVERSATION_LOG_ENABLED", "off")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Generation.Timeout != 45*time.Second {
		t.Errorf("unexpected timeout %v", cfg.Generation.Timeout)
	}
	if cfg.Bannerbear.BaseURL != "http://localhost:9999/v2" {
		t.Errorf("expected trailing slash trimmed, got %q", cfg.Bannerbear.BaseURL)
	}
	if cfg.ConversationLog.Enabled {
		t.Error("expected conversation log disabled")
	}
}

func TestLoadRequiresAPIKeys(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("BANNERBEAR_API_KEY", "bb-key")
	t.Setenv("FREEIMAGE_API_KEY", "fi-key")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "GEMINI_API_KEY") {
		t.Fatalf("expected GEMINI_API_KEY error, got %v", err)
	}
}

func TestInvalidDurationFallsBack(t *testing.T) {
	setRequired(t)
	t.Setenv("POLL_INTERVAL", "soon")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Generation.PollInterval != time.Second {
		t.Fatalf("expected fallback poll interval, got %v", cfg.Generation.PollInterval)
	}
}

func TestSessionTTLMustOutlastGeneration(t *testing.T) {
	setRequired(t)
	t.Setenv("SESSION_TTL", "1m")
	t.Setenv("GENERATION_TIMEOUT", "2m")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "SESSION_TTL") {
		t.Fatalf("expected SESSION_TTL error, got %v", err)
	}
}

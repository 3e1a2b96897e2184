package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewDefaultConfig(t *testing.T) {
	config := NewDefaultConfig()

	if config.Server.Port != 8085 {
		t.Errorf("Expected default port 8085, got %d", config.Server.Port)
	}
	if config.Reprocess.PollInterval != "5s" {
		t.Errorf("Expected default poll interval 5s, got %s", config.Reprocess.PollInterval)
	}
	if config.Reprocess.MaxPollAttempts != 360 {
		t.Errorf("Expected default poll budget 360, got %d", config.Reprocess.MaxPollAttempts)
	}
	if config.IsProduction() {
		t.Error("Defaults must not be production")
	}
}

func TestLoadFromFiles_LaterFileWins(t *testing.T) {
	tmpDir := t.TempDir()

	base := filepath.Join(tmpDir, "base.toml")
	if err := os.WriteFile(base, []byte(`
[server]
port = 9000
host = "0.0.0.0"

[reprocess]
base_url = "http://backend:9090"
`), 0644); err != nil {
		t.Fatal(err)
	}

	override := filepath.Join(tmpDir, "override.toml")
	if err := os.WriteFile(override, []byte(`
[server]
port = 9001
`), 0644); err != nil {
		t.Fatal(err)
	}

	config, err := LoadFromFiles(base, override)
	if err != nil {
		t.Fatalf("LoadFromFiles failed: %v", err)
	}

	if config.Server.Port != 9001 {
		t.Errorf("Expected later file to win, got port %d", config.Server.Port)
	}
	if config.Server.Host != "0.0.0.0" {
		t.Errorf("Expected earlier file value kept, got host %s", config.Server.Host)
	}
	if config.Reprocess.BaseURL != "http://backend:9090" {
		t.Errorf("Expected backend url from file, got %s", config.Reprocess.BaseURL)
	}
	// Untouched sections keep defaults
	if config.Reprocess.MaxPollAttempts != 360 {
		t.Errorf("Expected default poll budget, got %d", config.Reprocess.MaxPollAttempts)
	}
}

func TestLoadFromFiles_MissingFile(t *testing.T) {
	if _, err := LoadFromFiles("/does/not/exist.toml"); err == nil {
		t.Fatal("Expected an error for a missing config file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CALLDECK_SERVER_PORT", "7070")
	t.Setenv("CALLDECK_REPROCESS_BASE_URL", "http://env-backend:9090")
	t.Setenv("CALLDECK_REPROCESS_MAX_POLL_ATTEMPTS", "120")

	config, err := LoadFromFiles()
	if err != nil {
		t.Fatal(err)
	}

	if config.Server.Port != 7070 {
		t.Errorf("Expected env port 7070, got %d", config.Server.Port)
	}
	if config.Reprocess.BaseURL != "http://env-backend:9090" {
		t.Errorf("Expected env backend url, got %s", config.Reprocess.BaseURL)
	}
	if config.Reprocess.MaxPollAttempts != 120 {
		t.Errorf("Expected env poll budget 120, got %d", config.Reprocess.MaxPollAttempts)
	}
}

func TestApplyFlagOverrides(t *testing.T) {
	config := NewDefaultConfig()

	ApplyFlagOverrides(config, 6060, "127.0.0.1")
	if config.Server.Port != 6060 || config.Server.Host != "127.0.0.1" {
		t.Errorf("Expected flag overrides applied, got %s:%d", config.Server.Host, config.Server.Port)
	}

	// Zero values leave config untouched
	ApplyFlagOverrides(config, 0, "")
	if config.Server.Port != 6060 || config.Server.Host != "127.0.0.1" {
		t.Errorf("Zero flags must not override, got %s:%d", config.Server.Host, config.Server.Port)
	}
}

func TestDurationFallbacks(t *testing.T) {
	r := ReprocessConfig{PollInterval: "garbage", RequestTimeout: ""}

	if d := r.PollIntervalDuration(); d != 5*time.Second {
		t.Errorf("Expected 5s fallback, got %v", d)
	}
	if d := r.RequestTimeoutDuration(); d != 30*time.Second {
		t.Errorf("Expected 30s fallback, got %v", d)
	}

	r = ReprocessConfig{PollInterval: "250ms", RequestTimeout: "10s"}
	if d := r.PollIntervalDuration(); d != 250*time.Millisecond {
		t.Errorf("Expected parsed interval, got %v", d)
	}
	if d := r.RequestTimeoutDuration(); d != 10*time.Second {
		t.Errorf("Expected parsed timeout, got %v", d)
	}

	ws := WebSocketConfig{ProgressThrottle: "2s"}
	if d := ws.ProgressThrottleDuration(); d != 2*time.Second {
		t.Errorf("Expected parsed throttle, got %v", d)
	}
	ws = WebSocketConfig{}
	if d := ws.ProgressThrottleDuration(); d != 0 {
		t.Errorf("Expected zero throttle when unset, got %v", d)
	}
}

func TestValidateSweepSchedule(t *testing.T) {
	valid := []string{"@every 2m", "@hourly", "*/5 * * * *"}
	for _, s := range valid {
		if err := ValidateSweepSchedule(s); err != nil {
			t.Errorf("Expected %q to be valid, got %v", s, err)
		}
	}

	invalid := []string{"", "not a schedule", "* * *"}
	for _, s := range invalid {
		if err := ValidateSweepSchedule(s); err == nil {
			t.Errorf("Expected %q to be rejected", s)
		}
	}
}

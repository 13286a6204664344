package config

import (
	"strings"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("TELEGRAM_BOT_TOKEN", "token")
	t.Setenv("MYSQL_DSN", "user:pass@tcp(localhost:3306)/bot?parseTime=true")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("REPLICATE_API_TOKEN", "r8-test")
	t.Setenv("S3_REGION", "us-east-1")
	t.Setenv("S3_ACCESS_KEY", "ak")
	t.Setenv("S3_SECRET_KEY", "sk")
	t.Setenv("S3_BUCKET", "media")
	t.Setenv("S3_PUBLIC_BASE_URL", "https://media.example.com")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.OpenAIBaseURL != "https://api.openai.com" {
		t.Errorf("OpenAIBaseURL = %q", cfg.OpenAIBaseURL)
	}
	if cfg.ReplicateModel != "wan-video/wan-2.2-i2v-fast" {
		t.Errorf("ReplicateModel = %q", cfg.ReplicateModel)
	}
	if cfg.RequestTimeout != 120*time.Second {
		t.Errorf("RequestTimeout = %v", cfg.RequestTimeout)
	}
	if cfg.MaxConcurrentGenerations != 4 {
		t.Errorf("MaxConcurrentGenerations = %d", cfg.MaxConcurrentGenerations)
	}
	if cfg.S3Prefix != "generations" {
		t.Errorf("S3Prefix = %q", cfg.S3Prefix)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("HTTP_TIMEOUT_SECONDS", "30")
	t.Setenv("MAX_CONCURRENT_GENERATIONS", "-1")
	t.Setenv("S3_USE_PATH_STYLE", "true")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.RequestTimeout != 30*time.Second {
		t.Errorf("RequestTimeout = %v", cfg.RequestTimeout)
	}
	if cfg.MaxConcurrentGenerations != 1 {
		t.Errorf("MaxConcurrentGenerations = %d, want clamp to 1", cfg.MaxConcurrentGenerations)
	}
	if !cfg.S3UsePathStyle {
		t.Error("S3UsePathStyle = false, want true")
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want lowercased", cfg.LogLevel)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	setRequired(t)
	t.Setenv("REPLICATE_API_TOKEN", "")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "REPLICATE_API_TOKEN") {
		t.Fatalf("Load err = %v, want missing REPLICATE_API_TOKEN", err)
	}
}

func TestGetIntBadValue(t *testing.T) {
	t.Setenv("HTTP_TIMEOUT_SECONDS", "not-a-number")

	if got := getInt("HTTP_TIMEOUT_SECONDS", 120); got != 120 {
		t.Errorf("getInt = %d, want fallback 120", got)
	}
}

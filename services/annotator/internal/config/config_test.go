package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadQueueEnvOverrides(t *testing.T) {
	t.Setenv("ANNOTATOR_QUEUE_CONCURRENCY", "4")
	t.Setenv("ANNOTATOR_QUEUE_MAX_RETRIES", "5")

	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	content := `
port: "8091"
logLevel: "info"
redisAddr: "localhost:6379"
queueStream: "photovault:annotate"
queueGroup: "annotator"
visionBaseURL: "http://localhost:9100"
`
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.QueueConcurrency != 4 {
		t.Fatalf("queueConcurrency = %d, want 4", cfg.QueueConcurrency)
	}
	if cfg.QueueMaxRetries != 5 {
		t.Fatalf("queueMaxRetries = %d, want 5", cfg.QueueMaxRetries)
	}
}

func TestLoadRequiresVisionBaseURL(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("port: \"8091\"\nredisAddr: \"localhost:6379\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	_, err := Load(cfgPath)
	if err == nil || !strings.Contains(err.Error(), "visionBaseURL") {
		t.Fatalf("expected visionBaseURL error, got %v", err)
	}
}

package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Server.Port != DefaultPort {
		t.Errorf("port = %d, want %d", cfg.Server.Port, DefaultPort)
	}
	if cfg.Agent.Model != DefaultModel {
		t.Errorf("model = %q, want %q", cfg.Agent.Model, DefaultModel)
	}
	if cfg.Agent.EscalatedModel != DefaultEscalatedModel {
		t.Errorf("escalated model = %q, want %q", cfg.Agent.EscalatedModel, DefaultEscalatedModel)
	}
	if !cfg.Experiment.Enabled {
		t.Error("experiment should be enabled by default")
	}
	if cfg.Experiment.SplitRatio != DefaultSplitRatio {
		t.Errorf("split ratio = %d, want %d", cfg.Experiment.SplitRatio, DefaultSplitRatio)
	}
}

func TestLoadConfigFrom_Missing(t *testing.T) {
	cfg, err := loadConfigFrom(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != DefaultPort {
		t.Errorf("port = %d, want default %d", cfg.Server.Port, DefaultPort)
	}
}

func TestLoadConfigFrom_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	stored := map[string]any{
		"server": map[string]any{"port": 8080},
		"line":   map[string]any{"channelSecret": "sec", "channelAccessToken": "tok"},
		"agent":  map[string]any{"model": "gpt-4o-mini", "maxTokens": 300},
	}
	data, _ := json.Marshal(stored)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadConfigFrom(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Line.ChannelSecret != "sec" {
		t.Errorf("channel secret = %q, want sec", cfg.Line.ChannelSecret)
	}
	if cfg.Agent.MaxTokens != 300 {
		t.Errorf("max tokens = %d, want 300", cfg.Agent.MaxTokens)
	}
	// Unset fields fall back to defaults.
	if cfg.Agent.EscalatedTokens != DefaultEscalatedTokens {
		t.Errorf("escalated tokens = %d, want default", cfg.Agent.EscalatedTokens)
	}
}

func TestLoadConfigFrom_EnvOverride(t *testing.T) {
	t.Setenv("LINE_CHANNEL_SECRET", "env-secret")
	t.Setenv("PORT", "9090")

	cfg, err := loadConfigFrom(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Line.ChannelSecret != "env-secret" {
		t.Errorf("channel secret = %q, want env-secret", cfg.Line.ChannelSecret)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Server.Port)
	}
}

func TestLoadConfigFrom_InvalidSplitRatio(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"experiment":{"enabled":true,"splitRatio":250}}`), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := loadConfigFrom(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Experiment.SplitRatio != DefaultSplitRatio {
		t.Errorf("split ratio = %d, want default %d", cfg.Experiment.SplitRatio, DefaultSplitRatio)
	}
}

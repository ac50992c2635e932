package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

const (
	DefaultHost             = "0.0.0.0"
	DefaultPort             = 3000
	DefaultBufSize          = 100
	DefaultModel            = "gpt-4o-mini"
	DefaultMaxTokens        = 250
	DefaultEscalatedModel   = "gpt-4o"
	DefaultEscalatedTokens  = 500
	DefaultTemperature      = 0.8
	DefaultSplitRatio       = 50
	DefaultSnapshotRedisKey = "mentorbot:usage"
)

type Config struct {
	Server     ServerConfig     `json:"server"`
	Line       LineConfig       `json:"line"`
	OpenAI     OpenAIConfig     `json:"openai"`
	Agent      AgentConfig      `json:"agent"`
	Experiment ExperimentConfig `json:"experiment"`
	Snapshot   SnapshotConfig   `json:"snapshot"`
}

type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

type LineConfig struct {
	ChannelSecret      string `json:"channelSecret"`
	ChannelAccessToken string `json:"channelAccessToken"`
}

type OpenAIConfig struct {
	APIKey  string `json:"apiKey"`
	BaseURL string `json:"baseUrl,omitempty"`
}

type AgentConfig struct {
	Model           string  `json:"model"`
	MaxTokens       int     `json:"maxTokens"`
	EscalatedModel  string  `json:"escalatedModel"`
	EscalatedTokens int     `json:"escalatedTokens"`
	Temperature     float64 `json:"temperature"`
}

type ExperimentConfig struct {
	Enabled    bool `json:"enabled"`
	SplitRatio int  `json:"splitRatio"`
}

type SnapshotConfig struct {
	Path          string `json:"path,omitempty"`
	RedisAddr     string `json:"redisAddr,omitempty"`
	RedisPassword string `json:"redisPassword,omitempty"`
	RedisDB       int    `json:"redisDb,omitempty"`
	RedisKey      string `json:"redisKey,omitempty"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: DefaultHost,
			Port: DefaultPort,
		},
		Agent: AgentConfig{
			Model:           DefaultModel,
			MaxTokens:       DefaultMaxTokens,
			EscalatedModel:  DefaultEscalatedModel,
			EscalatedTokens: DefaultEscalatedTokens,
			Temperature:     DefaultTemperature,
		},
		Experiment: ExperimentConfig{
			Enabled:    true,
			SplitRatio: DefaultSplitRatio,
		},
		Snapshot: SnapshotConfig{
			Path:     filepath.Join(ConfigDir(), "data", "usage.json"),
			RedisKey: DefaultSnapshotRedisKey,
		},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".mentorbot")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

func LoadConfig() (*Config, error) {
	return loadConfigFrom(ConfigPath())
}

func loadConfigFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if v := os.Getenv("LINE_CHANNEL_SECRET"); v != "" {
		cfg.Line.ChannelSecret = v
	}
	if v := os.Getenv("LINE_CHANNEL_ACCESS_TOKEN"); v != "" {
		cfg.Line.ChannelAccessToken = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.OpenAI.APIKey = v
	}
	if v := os.Getenv("MENTORBOT_BASE_URL"); v != "" {
		cfg.OpenAI.BaseURL = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = parsed
		}
	}
	if v := os.Getenv("MENTORBOT_EXPERIMENT_ENABLED"); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			cfg.Experiment.Enabled = parsed
		}
	}
	if v := os.Getenv("MENTORBOT_SNAPSHOT_PATH"); v != "" {
		cfg.Snapshot.Path = v
	}
	if v := os.Getenv("MENTORBOT_REDIS_ADDR"); v != "" {
		cfg.Snapshot.RedisAddr = v
	}
	if v := os.Getenv("MENTORBOT_REDIS_PASSWORD"); v != "" {
		cfg.Snapshot.RedisPassword = v
	}
	if v := os.Getenv("MENTORBOT_REDIS_DB"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Snapshot.RedisDB = parsed
		}
	}

	if cfg.Agent.Model == "" {
		cfg.Agent.Model = DefaultModel
	}
	if cfg.Agent.MaxTokens <= 0 {
		cfg.Agent.MaxTokens = DefaultMaxTokens
	}
	if cfg.Agent.EscalatedModel == "" {
		cfg.Agent.EscalatedModel = DefaultEscalatedModel
	}
	if cfg.Agent.EscalatedTokens <= 0 {
		cfg.Agent.EscalatedTokens = DefaultEscalatedTokens
	}
	if cfg.Agent.Temperature <= 0 {
		cfg.Agent.Temperature = DefaultTemperature
	}
	if cfg.Experiment.SplitRatio <= 0 || cfg.Experiment.SplitRatio > 100 {
		cfg.Experiment.SplitRatio = DefaultSplitRatio
	}
	if cfg.Snapshot.RedisKey == "" {
		cfg.Snapshot.RedisKey = DefaultSnapshotRedisKey
	}

	return cfg, nil
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0644)
}

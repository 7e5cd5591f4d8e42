// Package config loads server configuration from an optional YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full server configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Room   RoomConfig   `yaml:"room"`
	Judge  JudgeConfig  `yaml:"judge"`
}

// ServerConfig holds HTTP surface settings.
type ServerConfig struct {
	Port string `yaml:"port"`
}

// RoomConfig holds room engine settings.
type RoomConfig struct {
	// Topics is the candidate topic catalog served by get-topics.
	Topics []string `yaml:"topics"`
	// MaxAudioBytes bounds an encoded audio payload per message.
	MaxAudioBytes int `yaml:"max_audio_bytes"`
	// JudgeTimeoutSec bounds a single judging call.
	JudgeTimeoutSec int `yaml:"judge_timeout_sec"`
}

// JudgeConfig holds judging service settings. The API key comes from the
// environment only, never from the file.
type JudgeConfig struct {
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: "4000"},
		Room: RoomConfig{
			Topics: []string{
				"Should artificial intelligence be regulated?",
				"Is social media doing more harm than good?",
				"Should college education be free?",
				"Is remote work better than office work?",
			},
			MaxAudioBytes:   5 << 20,
			JudgeTimeoutSec: 60,
		},
		Judge: JudgeConfig{MaxTokens: 500},
	}
}

// Load reads the YAML file at path (skipped when path is empty or the file
// is absent) and applies environment overrides on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.Server.Port = getEnv("PORT", cfg.Server.Port)
	cfg.Room.MaxAudioBytes = getEnvAsInt("MAX_AUDIO_BYTES", cfg.Room.MaxAudioBytes)
	cfg.Room.JudgeTimeoutSec = getEnvAsInt("JUDGE_TIMEOUT_SEC", cfg.Room.JudgeTimeoutSec)
	cfg.Judge.Model = getEnv("JUDGE_MODEL", cfg.Judge.Model)
	cfg.Judge.MaxTokens = getEnvAsInt("JUDGE_MAX_TOKENS", cfg.Judge.MaxTokens)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if len(c.Room.Topics) == 0 {
		return fmt.Errorf("room.topics must not be empty")
	}
	if c.Room.MaxAudioBytes <= 0 {
		return fmt.Errorf("room.max_audio_bytes must be positive: %d", c.Room.MaxAudioBytes)
	}
	if c.Room.JudgeTimeoutSec <= 0 {
		return fmt.Errorf("room.judge_timeout_sec must be positive: %d", c.Room.JudgeTimeoutSec)
	}
	return nil
}

// JudgeTimeout returns the judging call bound as a duration.
func (c *Config) JudgeTimeout() time.Duration {
	return time.Duration(c.Room.JudgeTimeoutSec) * time.Second
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

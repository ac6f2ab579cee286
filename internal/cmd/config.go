package main

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds the coordinator's runtime configuration. Values load from an
// optional yaml file, then environment variables override.
type Config struct {
	Port            string `yaml:"port"`
	LogLevel        string `yaml:"log_level"`
	NATSURL         string `yaml:"nats_url"`
	VotingWindowSec int    `yaml:"voting_window_sec"`
}

func defaultConfig() Config {
	return Config{
		Port:            "8080",
		LogLevel:        "info",
		VotingWindowSec: 60,
	}
}

func loadConfig(path string) (Config, error) {
	config := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return config, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return config, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	config.Port = getEnv("PORT", config.Port)
	config.LogLevel = getEnv("LOG_LEVEL", config.LogLevel)
	config.NATSURL = getEnv("NATS_URL", config.NATSURL)
	config.VotingWindowSec = getEnvAsInt("VOTING_WINDOW_SEC", config.VotingWindowSec)

	if config.VotingWindowSec <= 0 {
		return config, fmt.Errorf("voting window must be positive, got %d", config.VotingWindowSec)
	}

	return config, nil
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

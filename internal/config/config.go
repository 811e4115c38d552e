package config

import (
	"errors"
	"os"
	"strconv"
)

type Config struct {
	ServerPort      string
	ServerID        string
	DatabaseURL     string
	RedisURL        string
	TokenSecret     string
	SeedExampleData bool
}

func LoadConfig() (*Config, error) {
	seed, err := strconv.ParseBool(getEnv("SEED_EXAMPLE_DATA", "false"))
	if err != nil {
		return nil, errors.New("invalid SEED_EXAMPLE_DATA format")
	}

	cfg := &Config{
		ServerPort:      getEnv("SERVER_PORT", "8080"),
		ServerID:        getEnv("SERVER_ID", "srv-1"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		RedisURL:        os.Getenv("REDIS_URL"),
		TokenSecret:     os.Getenv("TOKEN_SECRET"),
		SeedExampleData: seed,
	}

	// Validate required fields
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.TokenSecret == "" {
		return nil, errors.New("TOKEN_SECRET is required")
	}

	return cfg, nil
}

// Helper: get env with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

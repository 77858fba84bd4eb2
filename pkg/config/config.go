// Package config provides configuration management for the clearing engine.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/shunichi-ikebuchi/clearing-engine/pkg/matching"
	"github.com/shunichi-ikebuchi/clearing-engine/pkg/pathutil"
)

// Config represents the application configuration.
type Config struct {
	// Home is the data directory holding the database and, optionally, chart.yaml.
	Home     string
	Database DatabaseConfig
	Matching MatchingConfig
	// ChartFile is an optional YAML chart of accounts.
	ChartFile string
	Debug     bool
}

// DatabaseConfig represents the SQLite store configuration.
type DatabaseConfig struct {
	Path string
	// BusyTimeout is how long a writer waits for a concurrent writer's lock.
	BusyTimeout time.Duration
}

// MatchingConfig represents engine tuning.
type MatchingConfig struct {
	Tolerance     decimal.Decimal
	ToleranceDays int
	Threshold     float64
	MaxGroupSize  int
	SearchWindow  int
}

// Load loads configuration from environment variables.
// It automatically loads .env file from the current directory if available.
// You can optionally specify a custom .env file path.
func Load(envPath ...string) (*Config, error) {
	if len(envPath) > 0 && envPath[0] != "" {
		if err := godotenv.Load(envPath[0]); err != nil {
			return nil, fmt.Errorf("failed to load .env file: %w", err)
		}
	} else {
		// Ignore a missing .env in the working directory
		_ = godotenv.Load()
	}

	tolerance, err := parseDecimalEnv("CLEARING_TOLERANCE", matching.DefaultTolerance)
	if err != nil {
		return nil, err
	}
	toleranceDays, err := parseIntEnv("CLEARING_TOLERANCE_DAYS", matching.DefaultToleranceDays)
	if err != nil {
		return nil, err
	}
	threshold, err := parseFloatEnv("CLEARING_MATCH_THRESHOLD", matching.DefaultThreshold)
	if err != nil {
		return nil, err
	}
	maxGroupSize, err := parseIntEnv("CLEARING_MAX_GROUP_SIZE", matching.DefaultMaxGroupSize)
	if err != nil {
		return nil, err
	}
	searchWindow, err := parseIntEnv("CLEARING_SEARCH_WINDOW", matching.DefaultSearchWindow)
	if err != nil {
		return nil, err
	}

	busyTimeout, err := parseIntEnv("CLEARING_DB_BUSY_TIMEOUT_MS", 5000)
	if err != nil {
		return nil, err
	}

	paths := pathutil.FromEnv()
	config := &Config{
		Home: paths.GetRoot(),
		Database: DatabaseConfig{
			Path:        paths.GetDatabasePath(),
			BusyTimeout: time.Duration(busyTimeout) * time.Millisecond,
		},
		Matching: MatchingConfig{
			Tolerance:     tolerance,
			ToleranceDays: toleranceDays,
			Threshold:     threshold,
			MaxGroupSize:  maxGroupSize,
			SearchWindow:  searchWindow,
		},
		ChartFile: paths.GetChartFile(),
		Debug:     os.Getenv("DEBUG") == "true",
	}

	return config, nil
}

// Validate validates the configuration.
// It checks that all required fields are set and the tuning values are in range.
func (c *Config) Validate(required ...[]string) error {
	var missing []string

	for _, path := range required {
		if len(path) < 2 {
			continue
		}

		var value string
		switch path[0] {
		case "database":
			if path[1] == "path" {
				value = c.Database.Path
			}
		case "chart":
			if path[1] == "file" {
				value = c.ChartFile
			}
		}

		if value == "" {
			missing = append(missing, strings.Join(path, "."))
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %v\nPlease check your .env file or environment variables", missing)
	}

	if c.Database.BusyTimeout < 0 {
		return fmt.Errorf("CLEARING_DB_BUSY_TIMEOUT_MS must not be negative: %d", c.Database.BusyTimeout.Milliseconds())
	}

	m := c.Matching
	switch {
	case !m.Tolerance.IsPositive():
		return fmt.Errorf("CLEARING_TOLERANCE must be positive: %s", m.Tolerance)
	case m.ToleranceDays < 0:
		return fmt.Errorf("CLEARING_TOLERANCE_DAYS must not be negative: %d", m.ToleranceDays)
	case m.Threshold <= 0:
		return fmt.Errorf("CLEARING_MATCH_THRESHOLD must be positive: %v", m.Threshold)
	case m.MaxGroupSize < 2:
		return fmt.Errorf("CLEARING_MAX_GROUP_SIZE must be at least 2: %d", m.MaxGroupSize)
	case m.SearchWindow < 1:
		return fmt.Errorf("CLEARING_SEARCH_WINDOW must be at least 1: %d", m.SearchWindow)
	}

	return nil
}

// Engine returns the matching options described by the configuration.
func (c *Config) Engine() matching.Options {
	return matching.Options{
		Tolerance:     c.Matching.Tolerance,
		ToleranceDays: c.Matching.ToleranceDays,
		Threshold:     c.Matching.Threshold,
		MaxGroupSize:  c.Matching.MaxGroupSize,
		SearchWindow:  c.Matching.SearchWindow,
	}
}

func parseIntEnv(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid integer value for %s: %s", key, value)
	}
	return parsed, nil
}

func parseFloatEnv(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}

	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number for %s: %s", key, value)
	}
	return parsed, nil
}

func parseDecimalEnv(key string, defaultValue decimal.Decimal) (decimal.Decimal, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}

	parsed, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount for %s: %s", key, value)
	}
	return parsed, nil
}

package reliability

import (
	"os"
	"strconv"
	"time"
)

// ReliabilityConfig holds configuration for reliability testing.
type ReliabilityConfig struct {
	Level         string        // "basic" or "stress"
	Duration      time.Duration // Test duration for stress tests
	MaxGoroutines int           // Maximum goroutines for concurrent tests
	MaxDepth      int           // Deepest call tree built by hierarchy tests
}

// getReliabilityConfig reads configuration from environment variables.
func getReliabilityConfig() ReliabilityConfig {
	return ReliabilityConfig{
		Level:         os.Getenv("PROFZ_RELIABILITY_LEVEL"),
		Duration:      parseDuration(getEnv("PROFZ_RELIABILITY_DURATION", "10s")),
		MaxGoroutines: parseInt(getEnv("PROFZ_RELIABILITY_MAX_GOROUTINES", "100"), 100),
		MaxDepth:      parseInt(getEnv("PROFZ_RELIABILITY_MAX_DEPTH", "200"), 200),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseInt(s string, fallback int) int {
	if value, err := strconv.Atoi(s); err == nil && value > 0 {
		return value
	}
	return fallback
}

func parseDuration(s string) time.Duration {
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return 10 * time.Second
}

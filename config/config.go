package config

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

var (
	envFile = ".env"
	envOnce sync.Once
)

// SetEnvFile changes the dotenv file read on first lookup. It must be called
// before the first Config call.
func SetEnvFile(path string) {
	envFile = path
}

func load() {
	envOnce.Do(func() {
		// Missing file is fine, the process environment still applies.
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("file", envFile).Msg("failed to load env file")
		}
	})
}

// Config returns the value of key from the env file or the process environment.
func Config(key string) string {
	load()
	return os.Getenv(key)
}

func Default(key string, fallback string) string {
	if v := strings.TrimSpace(Config(key)); v != "" {
		return v
	}
	return fallback
}

func Int(key string, fallback int) int {
	v, err := strconv.Atoi(strings.TrimSpace(Config(key)))
	if err != nil {
		return fallback
	}
	return v
}

func Float(key string, fallback float64) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(Config(key)), 64)
	if err != nil {
		return fallback
	}
	return v
}

func Bool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(Config(key)))
	if err != nil {
		return fallback
	}
	return v
}

// Duration accepts Go duration strings ("90s", "5m").
func Duration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(strings.TrimSpace(Config(key)))
	if err != nil {
		return fallback
	}
	return v
}

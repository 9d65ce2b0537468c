// Package config loads modcache's process configuration from environment
// variables, following the getEnv/LoadConfig shape of zstore's
// internal/config.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds the inputs the core reads at startup (§6 Environment).
type Config struct {
	AppName         string
	AppDataDir      string
	ModIndexAPIKey  string
	HTTPTimeout     time.Duration
	LogLevel        string
}

const defaultAppName = "modcache"

// LoadFromEnv loads configuration from the process environment, filling in
// documented defaults for anything unset.
func LoadFromEnv() (*Config, error) {
	appName := getEnv("MODCACHE_APP_NAME", defaultAppName)

	dataDir := getEnv("MODCACHE_APP_DATA_DIR", "")
	if dataDir == "" {
		dir, err := os.UserCacheDir()
		if err != nil {
			return nil, err
		}
		dataDir = filepath.Join(dir, appName)
	}

	timeout := 180 * time.Minute
	if raw := os.Getenv("MODCACHE_HTTP_TIMEOUT"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err == nil && secs > 0 {
			timeout = time.Duration(secs) * time.Second
		}
	}

	return &Config{
		AppName:        appName,
		AppDataDir:     dataDir,
		ModIndexAPIKey: getEnv("MODCACHE_MODINDEX_API_KEY", ""),
		HTTPTimeout:    timeout,
		LogLevel:       getEnv("MODCACHE_LOG_LEVEL", "error"),
	}, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

package logger

import (
	"io"
	"os"
	"strconv"
)

// EnvConfig is the logger setup read from LOG_* variables. Outside APP_ENV=local
// logs also go to a lumberjack-rotated file.
type EnvConfig struct {
	Level       string
	Format      string
	Output      io.Writer // overrides stdout and file when set
	ServiceName string
	Environment string

	LogFile     string
	LogFileOnly bool

	// rotation, sizes in MB and ages in days
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
}

// LoadFromEnv reads EnvConfig, falling back to defaults for unset or malformed values.
func LoadFromEnv() *EnvConfig {
	return &EnvConfig{
		Level:       envOr("LOG_LEVEL", "info", parseString),
		Format:      envOr("LOG_FORMAT", "json", parseString),
		ServiceName: envOr("SERVICE_NAME", "tweetpurge", parseString),
		Environment: envOr("APP_ENV", "local", parseString),
		LogFile:     envOr("LOG_FILE", "/var/log/tweetpurge/app.log", parseString),
		LogFileOnly: envOr("LOG_FILE_ONLY", false, strconv.ParseBool),
		MaxSize:     envOr("LOG_MAX_SIZE", 100, strconv.Atoi),
		MaxBackups:  envOr("LOG_MAX_BACKUPS", 7, strconv.Atoi),
		MaxAge:      envOr("LOG_MAX_AGE", 30, strconv.Atoi),
		Compress:    envOr("LOG_COMPRESS", true, strconv.ParseBool),
	}
}

func envOr[T any](key string, def T, parse func(string) (T, error)) T {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return def
	}
	v, err := parse(raw)
	if err != nil {
		return def
	}
	return v
}

func parseString(s string) (string, error) {
	return s, nil
}

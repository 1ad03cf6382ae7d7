// Package logging builds the process logger and its sink.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/darshan-rambhia/healthcheck/internal/config"
)

// Setup returns a logger for cfg and a function that releases its sink.
// The sink is chosen by cfg.LogTarget, which the HEALTHCHECK_LOG_TARGET
// variable has already overridden during config loading.
func Setup(cfg *config.Config) (*slog.Logger, func() error, error) {
	w, closer, err := sink(cfg)
	if err != nil {
		return nil, nil, err
	}
	return New(w, cfg.LogLevel, cfg.LogFormat), closer, nil
}

// New builds a logger writing to w.
func New(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// ParseLevel maps a config level name to a slog level.
func ParseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func sink(cfg *config.Config) (io.Writer, func() error, error) {
	switch cfg.LogTarget {
	case "file":
		if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o755); err != nil {
			return nil, nil, fmt.Errorf("creating log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file: %w", err)
		}
		return f, f.Close, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("connecting to redis %s: %w", cfg.Redis.Addr, err)
		}
		return NewRedisWriter(client, cfg.Redis.Key), client.Close, nil
	default:
		return os.Stderr, func() error { return nil }, nil
	}
}

// RedisWriter pushes every log record onto a redis list.
type RedisWriter struct {
	client redis.Cmdable
	key    string
}

// NewRedisWriter returns a writer appending records to key.
func NewRedisWriter(client redis.Cmdable, key string) *RedisWriter {
	return &RedisWriter{client: client, key: key}
}

// Write pushes p as one list element. slog handlers emit one record per call.
func (w *RedisWriter) Write(p []byte) (int, error) {
	line := strings.TrimRight(string(p), "\n")
	if err := w.client.RPush(context.Background(), w.key, line).Err(); err != nil {
		return 0, fmt.Errorf("pushing log record: %w", err)
	}
	return len(p), nil
}

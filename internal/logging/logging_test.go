package logging

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darshan-rambhia/healthcheck/internal/config"
)

type fakeRedis struct {
	redis.Cmdable
	key    string
	values []string
}

func (f *fakeRedis) RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	f.key = key
	for _, v := range values {
		f.values = append(f.values, v.(string))
	}
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(int64(len(f.values)))
	return cmd
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warn"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("info"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, "info", "json").Info("hello", "test", "nodes-test")
	assert.Contains(t, buf.String(), `"msg":"hello"`)
	assert.Contains(t, buf.String(), `"test":"nodes-test"`)
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "warn", "text")
	l.Info("dropped")
	l.Warn("kept")
	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), "kept")
}

func TestSetup_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "healthcheck.log")
	cfg := &config.Config{LogLevel: "info", LogFormat: "text", LogTarget: "file", LogFile: path}

	logger, closer, err := Setup(cfg)
	require.NoError(t, err)
	logger.Info("written to file")
	require.NoError(t, closer())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")
}

func TestSetup_Console(t *testing.T) {
	cfg := &config.Config{LogLevel: "info", LogFormat: "text", LogTarget: "console"}
	logger, closer, err := Setup(cfg)
	require.NoError(t, err)
	assert.NotNil(t, logger)
	assert.NoError(t, closer())
}

func TestRedisWriter(t *testing.T) {
	fake := &fakeRedis{}
	logger := New(NewRedisWriter(fake, "healthcheck:log"), "info", "json")
	logger.Info("first")
	logger.Warn("second")

	assert.Equal(t, "healthcheck:log", fake.key)
	require.Len(t, fake.values, 2)
	assert.Contains(t, fake.values[0], `"msg":"first"`)
	assert.NotContains(t, fake.values[0], "\n")
	assert.Contains(t, fake.values[1], `"level":"WARN"`)
}

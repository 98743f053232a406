package app

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duesledger/duesledger/internal/cache"
	"github.com/duesledger/duesledger/internal/config"
	"github.com/duesledger/duesledger/internal/model"
)

const testSealKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func TestRedactURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"postgres://dues:hunter2@db:5432/dues", "postgres://dues@db:5432/dues"},
		{"redis://:hunter2@cache:6379/0", "redis://redacted@cache:6379/0"},
		{"/var/lib/dues/ledger.db", "/var/lib/dues/ledger.db"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RedactURL(tt.in), tt.in)
	}
}

func TestSanitizeError(t *testing.T) {
	dsn := "postgres://dues:hunter2@db:5432/dues"
	err := errors.New("dial " + dsn + " failed: password=hunter2 rejected")

	got := SanitizeError(err, dsn, "")
	assert.NotContains(t, got, "hunter2")
	assert.Contains(t, got, "postgres://dues@db:5432/dues")
	assert.Contains(t, got, "password=redacted")

	assert.Empty(t, SanitizeError(nil, dsn))
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLogLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLogLevel("WARN"))
	assert.Equal(t, slog.LevelError, ParseLogLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLogLevel("verbose"))
}

func TestNewLoggerFormats(t *testing.T) {
	defer slog.SetDefault(slog.Default())

	for _, format := range []string{"json", "text", "pretty"} {
		var buf bytes.Buffer
		logger := NewLogger(&config.Config{LogFormat: format, LogLevel: "warn"}, &buf)

		logger.Info("hidden")
		logger.Warn("shown", slog.String("member", "alice"))

		out := buf.String()
		assert.NotContains(t, out, "hidden", format)
		assert.Contains(t, out, "shown", format)
		assert.Contains(t, out, "alice", format)
		if format == "json" {
			assert.True(t, strings.HasPrefix(out, "{"), out)
		}
	}
}

func TestOpenSQLite(t *testing.T) {
	ctx := context.Background()
	cfg := &config.Config{
		DatabaseURL:   "sqlite://" + filepath.Join(t.TempDir(), "ledger.db"),
		StorageDriver: config.DriverSQLite,
		APIKeySealKey: testSealKey,
	}
	now := func() time.Time { return time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC) }

	a, err := Open(ctx, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), Options{Now: now})
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.Cache)
	assert.IsType(t, cache.Nop{}, a.PageCache())
	assert.Equal(t, config.DefaultPolicy(), a.Policy)
	require.NoError(t, a.Store.Ping(ctx))

	_, err = a.Members.Add(ctx, "alice", model.TierNormal, []string{"11 2222"})
	require.NoError(t, err)

	names, err := a.Members.Usernames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, names)

	issued, err := a.APIKeys.Issue(ctx, "ops", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, issued.Secret)
}

func TestOpenRejectsBadSealKey(t *testing.T) {
	cfg := &config.Config{
		DatabaseURL:   filepath.Join(t.TempDir(), "ledger.db"),
		StorageDriver: config.DriverSQLite,
		APIKeySealKey: "short",
	}
	_, err := Open(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API_KEY_SEAL_KEY")
}

func TestOpenStoreUnknownDriver(t *testing.T) {
	_, err := OpenStore(context.Background(), "mysql", "x")
	require.Error(t, err)
}

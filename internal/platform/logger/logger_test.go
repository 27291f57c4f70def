package logger

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup(t *testing.T) {
	// Not parallel: Setup mutates the process default logger.

	t.Run("valid levels", func(t *testing.T) {
		for _, level := range []string{"debug", "info", "warn", "error", "DEBUG", "Info"} {
			log, err := Setup(Config{Level: level})
			require.NoError(t, err)
			require.NotNil(t, log)
		}
	})

	t.Run("invalid level falls back to info", func(t *testing.T) {
		log, err := Setup(Config{Level: "verbose"})
		require.NoError(t, err)
		require.NotNil(t, log)

		assert.True(t, log.Enabled(context.Background(), slog.LevelInfo))
		assert.False(t, log.Enabled(context.Background(), slog.LevelDebug))
	})
}

func TestContextHelpers(t *testing.T) {
	t.Parallel()

	scoped := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("round trip", func(t *testing.T) {
		t.Parallel()

		ctx := WithLogger(context.Background(), scoped)
		assert.Same(t, scoped, FromContext(ctx))
		assert.Same(t, scoped, FromContextOrDefault(ctx, nil))
	})

	t.Run("missing logger returns default", func(t *testing.T) {
		t.Parallel()

		assert.NotNil(t, FromContext(context.Background()))
	})

	t.Run("missing logger returns fallback", func(t *testing.T) {
		t.Parallel()

		fallback := slog.New(slog.NewTextHandler(io.Discard, nil))
		assert.Same(t, fallback, FromContextOrDefault(context.Background(), fallback))
	})
}

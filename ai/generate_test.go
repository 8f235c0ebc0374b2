package ai

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/poiesic/plansight/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestCandidateModels(t *testing.T) {
	req := GenerateRequest{Model: "", FallbackModels: []string{"b", " ", "a", "b"}}
	assert.Equal(t, []string{"a", "b"}, CandidateModels(req, "a"))
	assert.Empty(t, CandidateModels(GenerateRequest{}, ""))
}

func TestGenerateWithFallback(t *testing.T) {
	t.Run("primary succeeds", func(t *testing.T) {
		var called []string
		resp, err := GenerateWithFallback(context.Background(), discard,
			GenerateRequest{Model: "big", FallbackModels: []string{"small"}}, "",
			func(ctx context.Context, model string) (string, error) {
				called = append(called, model)
				return "ok", nil
			})
		require.NoError(t, err)
		assert.Equal(t, "big", resp.Model)
		assert.Equal(t, []string{"big"}, called)
	})

	t.Run("falls back on error and empty text", func(t *testing.T) {
		var called []string
		resp, err := GenerateWithFallback(context.Background(), discard,
			GenerateRequest{Model: "a", FallbackModels: []string{"b", "c"}}, "",
			func(ctx context.Context, model string) (string, error) {
				called = append(called, model)
				switch model {
				case "a":
					return "", errors.New("503")
				case "b":
					return "   ", nil
				}
				return "from c", nil
			})
		require.NoError(t, err)
		assert.Equal(t, "c", resp.Model)
		assert.Equal(t, "from c", resp.Text)
		assert.Equal(t, []string{"a", "b", "c"}, called)
	})

	t.Run("every model fails", func(t *testing.T) {
		_, err := GenerateWithFallback(context.Background(), discard,
			GenerateRequest{Model: "a", FallbackModels: []string{"b"}}, "",
			func(ctx context.Context, model string) (string, error) {
				return "", errors.New("boom " + model)
			})
		require.Error(t, err)
		assert.ErrorIs(t, err, core.ErrExternalService)
		assert.Contains(t, err.Error(), "boom a")
		assert.Contains(t, err.Error(), "boom b")
	})

	t.Run("each call is bounded by the timeout", func(t *testing.T) {
		start := time.Now()
		_, err := GenerateWithFallback(context.Background(), discard,
			GenerateRequest{Model: "slow", Timeout: 20 * time.Millisecond}, "",
			func(ctx context.Context, model string) (string, error) {
				<-ctx.Done()
				return "", ctx.Err()
			})
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Less(t, time.Since(start), 5*time.Second)
	})

	t.Run("a timeout moves on to the next model", func(t *testing.T) {
		var called []string
		resp, err := GenerateWithFallback(context.Background(), discard,
			GenerateRequest{Model: "slow", FallbackModels: []string{"fast"}, Timeout: 20 * time.Millisecond}, "",
			func(ctx context.Context, model string) (string, error) {
				called = append(called, model)
				if model == "slow" {
					<-ctx.Done()
					return "", ctx.Err()
				}
				require.NoError(t, ctx.Err(), "the fallback gets a fresh deadline")
				return "from fast", nil
			})
		require.NoError(t, err)
		assert.Equal(t, "fast", resp.Model)
		assert.Equal(t, []string{"slow", "fast"}, called)
	})

	t.Run("no model", func(t *testing.T) {
		_, err := GenerateWithFallback(context.Background(), discard, GenerateRequest{}, "",
			func(ctx context.Context, model string) (string, error) { return "x", nil })
		assert.ErrorIs(t, err, core.ErrConfiguration)
	})

	t.Run("cancelled parent", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := GenerateWithFallback(ctx, discard, GenerateRequest{Model: "a"}, "",
			func(ctx context.Context, model string) (string, error) { return "x", nil })
		assert.ErrorIs(t, err, context.Canceled)
	})
}

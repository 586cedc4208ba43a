package provider

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/roswellcsy/NiBot/internal/domain"
)

const defaultMaxRetries = 3

// Gateway wraps a provider with retry on transient failures. Terminal
// failures (auth, malformed request) return immediately; rate limits,
// timeouts, network errors and 5xx responses are retried with exponential
// backoff plus jitter to prevent thundering herd.
type Gateway struct {
	inner      domain.Provider
	maxRetries int
	logger     *slog.Logger

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewGateway(inner domain.Provider, maxRetries int, logger *slog.Logger) *Gateway {
	if maxRetries < 0 {
		maxRetries = defaultMaxRetries
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		inner:      inner,
		maxRetries: maxRetries,
		logger:     logger,
		sleep: func(ctx context.Context, d time.Duration) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d):
				return nil
			}
		},
	}
}

func (g *Gateway) Name() string { return g.inner.Name() }

// Chat forwards to the wrapped provider, retrying transient failures.
func (g *Gateway) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	var lastErr error

	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			base := time.Duration(attempt*attempt) * time.Second
			jitter := time.Duration(rand.Int63n(int64(base/2 + 1)))
			backoff := base + jitter
			g.logger.Warn("retrying model request",
				"provider", g.inner.Name(), "attempt", attempt+1, "backoff", backoff)
			if err := g.sleep(ctx, backoff); err != nil {
				return nil, err
			}
		}

		resp, err := g.inner.Chat(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !Transient(err) {
			g.logger.Error("model request failed",
				"provider", g.inner.Name(), "category", Classify(err), "error", err)
			return nil, err
		}
		g.logger.Warn("transient model failure",
			"provider", g.inner.Name(), "category", Classify(err), "error", err)
	}

	return nil, fmt.Errorf("chat failed after %d retries: %w", g.maxRetries, lastErr)
}

package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/webitel/fortunes-client/internal/domain/model"
)

// providerMiddleware implements [DECORATOR_PATTERN] to add observability
// to random fetches without touching the provider.
type providerMiddleware struct {
	next   RandomProvider
	logger *slog.Logger
}

// NewProviderMiddleware creates a new logging decorator for the RandomProvider.
func NewProviderMiddleware(next RandomProvider, logger *slog.Logger) RandomProvider {
	return &providerMiddleware{
		next:   next,
		logger: logger,
	}
}

// GetData wraps the callback flow with execution timing and outcome logging.
func (m *providerMiddleware) GetData(ctx context.Context, cb func(model.RandomMessage)) error {
	start := time.Now()

	err := m.next.GetData(ctx, cb)

	// [OBSERVABILITY] Scoped logging for performance auditing
	m.record("RANDOM_GET_DATA", start, err)
	return err
}

// Fetch wraps a single random lookup.
func (m *providerMiddleware) Fetch(ctx context.Context) (model.RandomMessage, error) {
	start := time.Now()

	msg, err := m.next.Fetch(ctx)
	m.record("RANDOM_FETCH", start, err)

	return msg, err
}

func (m *providerMiddleware) record(op string, start time.Time, err error) {
	duration := time.Since(start)

	if err != nil {
		m.logger.Warn(op+"_FAILED",
			"err", err,
			"duration_ms", duration.Milliseconds(),
		)
		return
	}

	m.logger.Debug(op+"_COMPLETED",
		"duration_ms", duration.Milliseconds(),
	)
}

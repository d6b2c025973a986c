package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jakopako/dealskyr/internal/log"
)

// newBackOff waits base, 2*base, 4*base, ... between attempts and gives up
// after retries retries.
func newBackOff(ctx context.Context, base time.Duration, retries int) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	if retries > 0 && retries < 30 {
		b.MaxInterval = max(b.MaxInterval, base<<retries)
	}
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(max(retries, 0))), ctx)
}

// retry runs op until it succeeds or the retries are used up. The last
// error is returned.
func retry[T any](ctx context.Context, base time.Duration, retries int, m *Metrics, op func(ctx context.Context) (T, error)) (T, error) {
	logger := log.LoggerFromContext(ctx)
	attempt := 0
	return backoff.RetryNotifyWithData(
		func() (T, error) {
			attempt++
			m.IncAttempt()
			return op(ctx)
		},
		newBackOff(ctx, base, retries),
		func(err error, d time.Duration) {
			m.IncError(errorTypeLabel(err))
			logger.Warn(fmt.Sprintf("attempt %d failed, retrying in %v", attempt, d), slog.String("err", err.Error()))
		},
	)
}

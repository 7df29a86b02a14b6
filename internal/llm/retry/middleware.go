// Package retry retries transient provider failures with exponential
// backoff and full jitter.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/ahrav/go-t2ieval/internal/llm/configuration"
	llmerrors "github.com/ahrav/go-t2ieval/internal/llm/errors"
	"github.com/ahrav/go-t2ieval/internal/llm/transport"
)

var (
	errMaxAttemptsInvalid     = errors.New("maxAttempts must be greater than 0")
	errInitialIntervalInvalid = errors.New("initialInterval must be greater than 0")
	errMaxIntervalInvalid     = errors.New("maxInterval must be >= initialInterval")
	errMultiplierInvalid      = errors.New("multiplier must be >= 1.0")

	errContextCancelledDuringRetry = errors.New("context cancelled during retry")
)

// Observer is notified before every backoff.
type Observer func(req *transport.Request, attempt int, err error)

type retryMiddleware struct {
	config   configuration.RetryConfig
	logger   *slog.Logger
	observer Observer
	sleep    func(ctx context.Context, d time.Duration) error
}

// Option configures the middleware.
type Option func(*retryMiddleware)

// WithObserver registers a callback run before each retry.
func WithObserver(o Observer) Option {
	return func(r *retryMiddleware) { r.observer = o }
}

// NewRetryMiddlewareWithConfig creates retry middleware with the given policy.
func NewRetryMiddlewareWithConfig(cfg configuration.RetryConfig, opts ...Option) (transport.Middleware, error) {
	if cfg.MaxAttempts <= 0 {
		return nil, fmt.Errorf("%w, got %d", errMaxAttemptsInvalid, cfg.MaxAttempts)
	}
	if cfg.InitialInterval <= 0 {
		return nil, fmt.Errorf("%w, got %v", errInitialIntervalInvalid, cfg.InitialInterval)
	}
	if cfg.MaxInterval < cfg.InitialInterval {
		return nil, fmt.Errorf("%w, MaxInterval: %v, InitialInterval: %v", errMaxIntervalInvalid, cfg.MaxInterval, cfg.InitialInterval)
	}
	if cfg.Multiplier < 1.0 {
		return nil, fmt.Errorf("%w, got %f", errMultiplierInvalid, cfg.Multiplier)
	}

	r := &retryMiddleware{
		config: cfg,
		logger: slog.Default().With("component", "retry"),
		sleep:  sleepContext,
	}
	for _, o := range opts {
		o(r)
	}
	return r.middleware(), nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *retryMiddleware) middleware() transport.Middleware {
	return func(next transport.Handler) transport.Handler {
		return transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
			start := time.Now()
			var lastErr error

			for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
				resp, err := next.Handle(ctx, req)
				if err == nil {
					if attempt > 1 {
						r.logger.Info("request succeeded after retry",
							"attempt", attempt,
							"provider", req.Provider,
							"model", req.Model)
					}
					return resp, nil
				}
				if !llmerrors.IsRetryableError(err) {
					return nil, err
				}
				lastErr = err
				if attempt == r.config.MaxAttempts {
					break
				}

				backoff := r.backoff(attempt, err)
				if r.config.MaxElapsedTime > 0 && time.Since(start)+backoff > r.config.MaxElapsedTime {
					r.logger.Warn("max elapsed time exceeded",
						"elapsed", time.Since(start),
						"attempts", attempt,
						"last_error", err)
					break
				}

				r.logger.Warn("retrying after backoff",
					"attempt", attempt,
					"backoff", backoff,
					"error", err,
					"provider", req.Provider)
				if r.observer != nil {
					r.observer(req, attempt, err)
				}
				if err := r.sleep(ctx, backoff); err != nil {
					return nil, fmt.Errorf("%w: %w", errContextCancelledDuringRetry, err)
				}
			}

			return nil, fmt.Errorf("%w: %w", llmerrors.ErrMaxRetriesExceeded, lastErr)
		})
	}
}

// backoff returns the wait before the attempt after attempt. A provider's
// Retry-After wins over the computed interval.
func (r *retryMiddleware) backoff(attempt int, err error) time.Duration {
	if ra := llmerrors.RetryAfter(err); ra > 0 {
		return ra
	}
	return ExponentialBackoff(attempt, r.config)
}

// ExponentialBackoff computes InitialInterval·Multiplier^(attempt-1) capped at
// MaxInterval, with full jitter when enabled.
func ExponentialBackoff(attempt int, config configuration.RetryConfig) time.Duration {
	if attempt <= 0 {
		return 0
	}

	backoff := config.InitialInterval
	for i := 1; i < attempt; i++ {
		backoff = time.Duration(float64(backoff) * config.Multiplier)
		if backoff > config.MaxInterval {
			backoff = config.MaxInterval
			break
		}
	}

	if config.UseJitter {
		return time.Duration(rand.Int64N(int64(backoff) + 1)) // #nosec G404 -- non-cryptographic jitter is appropriate here
	}
	return backoff
}

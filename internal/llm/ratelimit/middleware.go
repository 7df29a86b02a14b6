// Package ratelimit paces provider calls with a local token bucket per
// provider and model.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"

	"github.com/ahrav/go-t2ieval/internal/llm/configuration"
	"github.com/ahrav/go-t2ieval/internal/llm/transport"
)

var errInvalidRate = errors.New("tokens per second and burst size must be positive")

type rateLimitMiddleware struct {
	config configuration.RateLimitConfig
	logger *slog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewRateLimitMiddleware creates the limiter. Calls wait for a token
// rather than failing, since the pipeline issues them one at a time.
func NewRateLimitMiddleware(cfg configuration.RateLimitConfig) (transport.Middleware, error) {
	if cfg.TokensPerSecond <= 0 || cfg.BurstSize <= 0 {
		return nil, fmt.Errorf("%w: %v/s burst %d", errInvalidRate, cfg.TokensPerSecond, cfg.BurstSize)
	}
	r := &rateLimitMiddleware{
		config:   cfg,
		logger:   slog.Default().With("component", "ratelimit"),
		limiters: make(map[string]*rate.Limiter),
	}
	return r.middleware(), nil
}

func (r *rateLimitMiddleware) middleware() transport.Middleware {
	return func(next transport.Handler) transport.Handler {
		return transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
			lim := r.limiter(req.Provider + ":" + req.Model)
			if err := lim.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rate limit wait: %w", err)
			}
			return next.Handle(ctx, req)
		})
	}
}

func (r *rateLimitMiddleware) limiter(key string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if lim, ok := r.limiters[key]; ok {
		return lim
	}
	lim := rate.NewLimiter(rate.Limit(r.config.TokensPerSecond), r.config.BurstSize)
	r.limiters[key] = lim
	return lim
}

// Package llm is the model-call collaborator of the pipeline. A Client sends
// one chat round, optionally carrying the target and reference images, and
// returns the reply together with the updated history.
//
// Every call passes through a middleware chain around the provider adapter:
// logging, rate limiting, response caching and retry of transient failures.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ahrav/go-t2ieval/internal/domain"
	"github.com/ahrav/go-t2ieval/internal/llm/cache"
	"github.com/ahrav/go-t2ieval/internal/llm/configuration"
	"github.com/ahrav/go-t2ieval/internal/llm/providers"
	"github.com/ahrav/go-t2ieval/internal/llm/ratelimit"
	"github.com/ahrav/go-t2ieval/internal/llm/retry"
	"github.com/ahrav/go-t2ieval/internal/llm/transport"
	"github.com/ahrav/go-t2ieval/internal/prompt"
)

// ChatRequest is one chat round.
type ChatRequest struct {
	Prompt string

	// TargetImage and ReferenceImage are file paths. They are attached only
	// to the first round of a conversation, at the prompt's image markers.
	TargetImage    string
	ReferenceImage string

	// History continues an earlier conversation.
	History []domain.Turn
}

// ChatResponse is the model's reply. History is the request history followed
// by the user turn and the reply.
type ChatResponse struct {
	Text    string
	History []domain.Turn
	Usage   transport.NormalizedUsage
}

// Client sends chat rounds to the configured model.
type Client interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

type client struct {
	provider    string
	model       string
	maxTokens   int64
	temperature float64
	timeout     time.Duration

	images  transport.ImageLoader
	handler transport.Handler
	logger  *slog.Logger
}

type clientOptions struct {
	imageRoot string
	core      transport.Handler
	metrics   *Metrics
	logger    *slog.Logger
	store     cache.Store
}

// Option configures NewClient.
type Option func(*clientOptions)

// WithImageRoot resolves relative image paths against root.
func WithImageRoot(root string) Option {
	return func(o *clientOptions) { o.imageRoot = root }
}

// WithMetrics records call metrics.
func WithMetrics(m *Metrics) Option {
	return func(o *clientOptions) { o.metrics = m }
}

// WithLogger replaces the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *clientOptions) { o.logger = l }
}

// WithCoreHandler replaces the provider handler at the bottom of the chain.
func WithCoreHandler(h transport.Handler) Option {
	return func(o *clientOptions) { o.core = h }
}

// WithCacheStore uses store instead of dialing Redis when caching is enabled.
func WithCacheStore(store cache.Store) Option {
	return func(o *clientOptions) { o.store = store }
}

// NewClient builds the middleware chain for cfg.
func NewClient(ctx context.Context, cfg *configuration.Config, opts ...Option) (Client, error) {
	if cfg == nil {
		cfg = configuration.DefaultConfig()
	}
	o := &clientOptions{}
	for _, opt := range opts {
		opt(o)
	}
	logger := o.logger
	if logger == nil {
		logger = slog.Default().With("component", "llm")
	}

	core := o.core
	if core == nil {
		httpClient := cfg.HTTPClient
		if httpClient == nil {
			httpClient = newHTTPClient(cfg.HTTPTimeout)
		}
		router, err := providers.NewRouter(ctx, cfg.Providers, httpClient)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize router: %w", err)
		}
		core = transport.NewHTTPHandler(httpClient, router)
	}

	var observer retry.Observer
	if o.metrics != nil {
		observer = func(req *transport.Request, _ int, _ error) { o.metrics.retried(req) }
	}
	retryMiddleware, err := retry.NewRetryMiddlewareWithConfig(cfg.Retry, retry.WithObserver(observer))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize retry middleware: %w", err)
	}

	middlewares := []transport.Middleware{NewLoggingMiddleware(logger, o.metrics)}
	if cfg.RateLimit.Enabled {
		rl, err := ratelimit.NewRateLimitMiddleware(cfg.RateLimit)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize rate limiter: %w", err)
		}
		middlewares = append(middlewares, rl)
	}
	if cfg.Cache.Enabled {
		var cacheOpts []cache.Option
		if o.metrics != nil {
			cacheOpts = append(cacheOpts, cache.WithObserver(o.metrics.cacheLookup))
		}
		middlewares = append(middlewares, cache.NewCacheMiddlewareWithRedis(ctx, cfg.Cache, o.store, cacheOpts...))
	}
	middlewares = append(middlewares, retryMiddleware)

	var timeout time.Duration
	if pc, ok := cfg.Providers[cfg.Provider]; ok {
		timeout = pc.Timeout
	}

	return &client{
		provider:    cfg.Provider,
		model:       cfg.Model,
		maxTokens:   cfg.Generation.MaxTokens,
		temperature: cfg.Generation.Temperature,
		timeout:     timeout,
		images:      transport.ImageLoader{Root: o.imageRoot},
		handler:     transport.Chain(core, middlewares...),
		logger:      logger,
	}, nil
}

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          configuration.DefaultMaxIdleConns,
			IdleConnTimeout:       configuration.DefaultIdleTimeoutSeconds * time.Second,
			TLSHandshakeTimeout:   configuration.DefaultTLSTimeoutSeconds * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
		Timeout: timeout,
	}
}

// Chat implements Client.
func (c *client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	messages := make([]transport.Message, 0, len(req.History)+1)
	for i, turn := range req.History {
		msg, err := c.message(turn)
		if err != nil {
			return nil, fmt.Errorf("history turn %d: %w", i, err)
		}
		messages = append(messages, msg)
	}

	user := domain.Turn{Role: domain.RoleUser, Text: req.Prompt}
	if req.TargetImage != "" && len(req.History) == 0 {
		user.Images = attachedImages(req.Prompt, req.TargetImage, req.ReferenceImage)
	}
	msg, err := c.message(user)
	if err != nil {
		return nil, err
	}
	messages = append(messages, msg)

	resp, err := c.handler.Handle(ctx, &transport.Request{
		Provider:    c.provider,
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		Timeout:     c.timeout,
	})
	if err != nil {
		return nil, err
	}

	history := make([]domain.Turn, 0, len(req.History)+2)
	history = append(history, req.History...)
	history = append(history, user, domain.Turn{Role: domain.RoleAssistant, Text: resp.Content})
	return &ChatResponse{Text: resp.Content, History: history, Usage: resp.Usage}, nil
}

// attachedImages lists the images a first-round prompt carries. A prompt
// without markers takes only the target image.
func attachedImages(text, target, reference string) []string {
	if prompt.ImageCount(text) == 0 || reference == "" {
		return []string{target}
	}
	return []string{target, reference}
}

// message rebuilds the interleaved content of a turn from its image paths.
func (c *client) message(turn domain.Turn) (transport.Message, error) {
	images := make([]transport.Image, 0, len(turn.Images))
	for _, path := range turn.Images {
		img, err := c.images.Load(path)
		if err != nil {
			return transport.Message{}, err
		}
		images = append(images, img)
	}
	parts, err := transport.Interleave(turn.Text, prompt.ImageMarker, images)
	if err != nil {
		return transport.Message{}, err
	}
	return transport.Message{Role: turn.Role, Parts: parts}, nil
}

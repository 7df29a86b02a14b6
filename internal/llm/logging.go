package llm

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	llmerrors "github.com/ahrav/go-t2ieval/internal/llm/errors"
	"github.com/ahrav/go-t2ieval/internal/llm/transport"
)

const responsePreviewLen = 200

// Metrics collects Prometheus metrics for model calls. A nil *Metrics
// records nothing.
type Metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	tokens   *prometheus.CounterVec
	retries  *prometheus.CounterVec
	cache    *prometheus.CounterVec
}

// NewMetrics registers the call metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "t2ieval",
			Subsystem: "llm",
			Name:      "requests_total",
			Help:      "Model calls by provider, model and outcome.",
		}, []string{"provider", "model", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "t2ieval",
			Subsystem: "llm",
			Name:      "request_duration_seconds",
			Help:      "Model call latency including retries.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}, []string{"provider", "model"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "t2ieval",
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "Tokens consumed by kind.",
		}, []string{"provider", "model", "kind"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "t2ieval",
			Subsystem: "llm",
			Name:      "retries_total",
			Help:      "Transport retries of transient failures.",
		}, []string{"provider", "model"}),
		cache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "t2ieval",
			Subsystem: "llm",
			Name:      "cache_lookups_total",
			Help:      "Response cache lookups by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(m.requests, m.duration, m.tokens, m.retries, m.cache)
	return m
}

func (m *Metrics) observe(req *transport.Request, resp *transport.Response, err error, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = string(errorType(err))
	}
	m.requests.WithLabelValues(req.Provider, req.Model, outcome).Inc()
	m.duration.WithLabelValues(req.Provider, req.Model).Observe(d.Seconds())
	if resp != nil {
		m.tokens.WithLabelValues(req.Provider, req.Model, "prompt").Add(float64(resp.Usage.PromptTokens))
		m.tokens.WithLabelValues(req.Provider, req.Model, "completion").Add(float64(resp.Usage.CompletionTokens))
	}
}

func (m *Metrics) retried(req *transport.Request) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(req.Provider, req.Model).Inc()
}

func (m *Metrics) cacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cache.WithLabelValues(result).Inc()
}

func errorType(err error) llmerrors.ErrorType {
	var pe *llmerrors.ProviderError
	if errors.As(err, &pe) {
		return pe.Type
	}
	return llmerrors.ErrorTypeUnknown
}

// NewLoggingMiddleware logs the start and end of every call and records
// metrics when m is non-nil.
func NewLoggingMiddleware(logger *slog.Logger, m *Metrics) transport.Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next transport.Handler) transport.Handler {
		return transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
			if req.TraceID == "" {
				req.TraceID = uuid.NewString()
			}
			logger.Debug("LLM request started",
				"request_id", req.TraceID,
				"provider", req.Provider,
				"model", req.Model,
				"messages", len(req.Messages),
				"max_tokens", req.MaxTokens,
				"temperature", req.Temperature,
			)

			start := time.Now()
			resp, err := next.Handle(ctx, req)
			duration := time.Since(start)
			m.observe(req, resp, err, duration)

			if err != nil {
				logger.Error("LLM request failed",
					"request_id", req.TraceID,
					"provider", req.Provider,
					"model", req.Model,
					"duration_ms", duration.Milliseconds(),
					"error_type", errorType(err),
					"error", err.Error(),
				)
				return nil, err
			}

			content := resp.Content
			if len(content) > responsePreviewLen {
				content = content[:responsePreviewLen] + "..."
			}
			logger.Debug("LLM request completed",
				"request_id", req.TraceID,
				"provider", req.Provider,
				"model", req.Model,
				"duration_ms", duration.Milliseconds(),
				"finish_reason", resp.FinishReason,
				"prompt_tokens", resp.Usage.PromptTokens,
				"completion_tokens", resp.Usage.CompletionTokens,
				"provider_request_ids", strings.Join(resp.ProviderRequestIDs, ","),
				"response_preview", content,
			)
			return resp, nil
		})
	}
}

package configuration

import (
	"time"
)

// HTTP transport defaults.
const (
	DefaultMaxIdleConns       = 100
	DefaultIdleTimeoutSeconds = 90
	DefaultTLSTimeoutSeconds  = 10
	// Vision rounds over long prompts are slow; keep well above chat defaults.
	DefaultHTTPTimeoutSeconds = 300
)

// Retry defaults.
const (
	DefaultMaxAttempts       = 3
	DefaultMaxElapsedTime    = 10 * time.Minute
	DefaultInitialInterval   = 500 * time.Millisecond
	DefaultMaxInterval       = 30 * time.Second
	DefaultBackoffMultiplier = 2.0
)

// Rate limit and cache defaults.
const (
	DefaultTokensPerSecond = 5
	DefaultBurstSize       = 5
	DefaultCacheTTL        = 7 * 24 * time.Hour
	DefaultCacheKeyPrefix  = "t2ieval:llm"
)

// Provider names understood by the router.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// DefaultAbsencePhrases mark a response stating that an entity is missing.
var DefaultAbsencePhrases = []string{
	"not present in the image",
	"does not appear in the image",
	"is not in the image",
	"not visible in the image",
	"absent from the image",
}

// DefaultConfig returns a configuration for an OpenAI-compatible server on
// localhost running coarse-grained, multi-stage, simple-format evaluation.
func DefaultConfig() *Config {
	return &Config{
		Provider:    ProviderOpenAI,
		HTTPTimeout: DefaultHTTPTimeoutSeconds * time.Second,
		Providers: map[string]ProviderConfig{
			ProviderOpenAI: {Endpoint: "http://localhost:8000/v1", APIKeyEnv: "OPENAI_API_KEY"},
		},
		Retry: RetryConfig{
			MaxAttempts:     DefaultMaxAttempts,
			MaxElapsedTime:  DefaultMaxElapsedTime,
			InitialInterval: DefaultInitialInterval,
			MaxInterval:     DefaultMaxInterval,
			Multiplier:      DefaultBackoffMultiplier,
			UseJitter:       true,
		},
		RateLimit: RateLimitConfig{
			TokensPerSecond: DefaultTokensPerSecond,
			BurstSize:       DefaultBurstSize,
		},
		Cache: CacheConfig{
			TTL:       DefaultCacheTTL,
			KeyPrefix: DefaultCacheKeyPrefix,
		},
		Pipeline: PipelineConfig{
			Granularity:         GranularityCoarse,
			MultiStage:          true,
			SimpleAnswerAndEval: true,
			StrictQuestions:     true,
			AbsencePhrases:      append([]string(nil), DefaultAbsencePhrases...),
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "text",
		},
	}
}

// Package configuration holds the settings of a t2ieval run: model
// providers, client resilience, pipeline behaviour and observability.
package configuration

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned when a configuration fails validation.
var ErrInvalidConfig = errors.New("invalid configuration")

var validate = validator.New(validator.WithRequiredStructEnabled())

// Config configures one evaluation run.
type Config struct {
	// Provider and Model select the model that answers every round. An
	// empty Model lets OpenAI-compatible servers pick their first listed model.
	Provider string `yaml:"provider" json:"provider" validate:"required"`
	Model    string `yaml:"model" json:"model"`

	HTTPTimeout time.Duration `yaml:"http_timeout" json:"http_timeout"`
	HTTPClient  *http.Client  `yaml:"-" json:"-"`

	Providers map[string]ProviderConfig `yaml:"providers" json:"providers" validate:"dive"`

	Generation GenerationConfig `yaml:"generation" json:"generation"`

	Retry RetryConfig `yaml:"retry" json:"retry"`

	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`

	Cache CacheConfig `yaml:"cache" json:"cache"`

	Pipeline PipelineConfig `yaml:"pipeline" json:"pipeline"`

	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

// ProviderConfig configures one provider endpoint.
type ProviderConfig struct {
	// Endpoint is the service base URL, e.g. a vllm server's /v1 root.
	Endpoint  string            `yaml:"endpoint" json:"endpoint"`
	APIKey    string            `yaml:"api_key" json:"-"`
	APIKeyEnv string            `yaml:"api_key_env" json:"api_key_env"`
	Timeout   time.Duration     `yaml:"timeout" json:"timeout"`
	Headers   map[string]string `yaml:"headers" json:"headers"`
}

// GenerationConfig holds sampling parameters sent with every call. Zero
// values leave the provider defaults in place.
type GenerationConfig struct {
	MaxTokens   int64   `yaml:"max_tokens" json:"max_tokens" validate:"gte=0"`
	Temperature float64 `yaml:"temperature" json:"temperature" validate:"gte=0,lte=2"`
}

// RetryConfig configures transport retries of transient provider failures.
// They are independent of the pipeline's reconciliation retries.
type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts" json:"max_attempts" validate:"gte=1"`
	MaxElapsedTime  time.Duration `yaml:"max_elapsed_time" json:"max_elapsed_time" validate:"gte=0"`
	InitialInterval time.Duration `yaml:"initial_interval" json:"initial_interval" validate:"gt=0"`
	MaxInterval     time.Duration `yaml:"max_interval" json:"max_interval" validate:"gtefield=InitialInterval"`
	Multiplier      float64       `yaml:"multiplier" json:"multiplier" validate:"gte=1"`
	UseJitter       bool          `yaml:"use_jitter" json:"use_jitter"`
}

// RateLimitConfig configures the local token bucket.
type RateLimitConfig struct {
	Enabled         bool    `yaml:"enabled" json:"enabled"`
	TokensPerSecond float64 `yaml:"tokens_per_second" json:"tokens_per_second" validate:"required_if=Enabled true,gte=0"`
	BurstSize       int     `yaml:"burst_size" json:"burst_size" validate:"required_if=Enabled true,gte=0"`
}

// CacheConfig configures the optional Redis response cache.
type CacheConfig struct {
	Enabled       bool          `yaml:"enabled" json:"enabled"`
	TTL           time.Duration `yaml:"ttl" json:"ttl" validate:"gte=0"`
	RedisAddr     string        `yaml:"redis_addr" json:"redis_addr" validate:"required_if=Enabled true"`
	RedisPassword string        `yaml:"redis_password" json:"-"`
	RedisDB       int           `yaml:"redis_db" json:"redis_db" validate:"gte=0"`
	KeyPrefix     string        `yaml:"key_prefix" json:"key_prefix"`
}

// Granularity names the two orchestration modes.
type Granularity string

const (
	// GranularityFine takes the structure information from the dataset.
	GranularityFine Granularity = "fine"
	// GranularityCoarse extracts it live from the caption.
	GranularityCoarse Granularity = "coarse"
)

// PipelineConfig selects how items are evaluated.
type PipelineConfig struct {
	Granularity Granularity `yaml:"granularity" json:"granularity" validate:"oneof=fine coarse"`
	// MultiStage splits explanation and scoring into separate calls.
	MultiStage bool `yaml:"multi_stage" json:"multi_stage"`
	// SimpleAnswerAndEval sends bare questions instead of the templated
	// answer and evaluation prompts.
	SimpleAnswerAndEval bool `yaml:"simple_answer_and_eval" json:"simple_answer_and_eval"`
	// SeparateAspects summarises each category before merging.
	SeparateAspects bool `yaml:"separate_aspects" json:"separate_aspects"`
	// SkipSummarize stops each item after its per-question stages.
	SkipSummarize bool `yaml:"skip_summarize" json:"skip_summarize"`
	// MaxRetry bounds extra attempts of extract and summarize rounds whose
	// response does not reconcile.
	MaxRetry        int  `yaml:"max_retry" json:"max_retry" validate:"gte=0"`
	StrictQuestions bool `yaml:"strict_questions" json:"strict_questions"`
	// Stage1FromPrimary uses the single-call template for the explanation
	// call of split rounds.
	Stage1FromPrimary bool `yaml:"stage1_from_primary" json:"stage1_from_primary"`
	// AbsencePhrases mark responses stating an entity is not in the image.
	AbsencePhrases []string `yaml:"absence_phrases" json:"absence_phrases"`
}

// ObservabilityConfig configures logging and metrics.
type ObservabilityConfig struct {
	LogLevel    string `yaml:"log_level" json:"log_level" validate:"oneof=debug info warn error"`
	LogFormat   string `yaml:"log_format" json:"log_format" validate:"oneof=json text"`
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr"`
}

// Load reads a YAML file over DefaultConfig. Environment references in the
// file (${VAR}) are expanded before decoding. An empty path returns the
// defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(raw))), cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	return cfg, nil
}

// ResolveAPIKeys fills empty API keys from their APIKeyEnv variables.
func (c *Config) ResolveAPIKeys() {
	for name, p := range c.Providers {
		if p.APIKey == "" && p.APIKeyEnv != "" {
			p.APIKey = os.Getenv(p.APIKeyEnv)
			c.Providers[name] = p
		}
	}
}

// Validate checks struct constraints and that the selected provider is configured.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if _, ok := c.Providers[c.Provider]; !ok {
		return fmt.Errorf("%w: provider %q has no configuration", ErrInvalidConfig, c.Provider)
	}
	return nil
}

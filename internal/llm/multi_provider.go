package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/yoon0701/ZeroGravity/internal/gemini"
	"github.com/yoon0701/ZeroGravity/internal/models"
	"github.com/yoon0701/ZeroGravity/internal/openai"
)

// ProviderType represents the type of LLM provider
type ProviderType string

const (
	ProviderOpenAI     ProviderType = "openai"
	ProviderGemini     ProviderType = "gemini"
	ProviderGroq       ProviderType = "groq"
	ProviderOpenRouter ProviderType = "openrouter"
)

// ProviderConfig holds configuration for a single provider instance
type ProviderConfig struct {
	Type      ProviderType  `yaml:"type"`
	APIKey    string        `yaml:"api_key"`
	ModelName string        `yaml:"model_name"`
	BaseURL   string        `yaml:"base_url"`
	Timeout   time.Duration `yaml:"timeout"`
	// Client-side throttle; 0 disables it
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

// Provider is any chat-completion style model endpoint.
type Provider interface {
	Complete(ctx context.Context, req models.CompletionRequest) (*models.CompletionResponse, error)
	Close() error
	GetModelInfo() map[string]interface{}
}

// NewProvider builds the client for cfg.Type.
func NewProvider(cfg ProviderConfig, logger *zap.Logger) (Provider, error) {
	switch cfg.Type {
	case ProviderGemini:
		return gemini.NewClient(gemini.Config{
			APIKey:    cfg.APIKey,
			ModelName: cfg.ModelName,
			Timeout:   cfg.Timeout,
		}, logger)
	case ProviderOpenAI, ProviderGroq, ProviderOpenRouter:
		return openai.NewClient(openai.Config{
			Name:      string(cfg.Type),
			APIKey:    cfg.APIKey,
			ModelName: cfg.ModelName,
			BaseURL:   cfg.BaseURL,
			Timeout:   cfg.Timeout,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown provider type %q", cfg.Type)
	}
}

// RateLimitedProvider wraps a provider with rate limiting
type RateLimitedProvider struct {
	provider Provider
	limiter  *rate.Limiter
	logger   *zap.Logger
}

// NewRateLimitedProvider spaces calls evenly so that at most
// requestsPerMinute go out per minute. A non-positive value means no limit.
func NewRateLimitedProvider(provider Provider, requestsPerMinute int, logger *zap.Logger) *RateLimitedProvider {
	limit := rate.Inf
	if requestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(requestsPerMinute))
	}
	return &RateLimitedProvider{
		provider: provider,
		limiter:  rate.NewLimiter(limit, 1),
		logger:   logger,
	}
}

func (p *RateLimitedProvider) Complete(ctx context.Context, req models.CompletionRequest) (*models.CompletionResponse, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait cancelled: %w", err)
	}
	return p.provider.Complete(ctx, req)
}

func (p *RateLimitedProvider) Close() error {
	return p.provider.Close()
}

func (p *RateLimitedProvider) GetModelInfo() map[string]interface{} {
	info := p.provider.GetModelInfo()
	if p.limiter.Limit() != rate.Inf {
		info["requests_per_minute"] = int(math.Round(float64(p.limiter.Limit()) * 60))
	}
	return info
}

// MultiProviderClient manages multiple LLM providers with fallback
type MultiProviderClient struct {
	providers    []Provider
	currentIndex int
	mu           sync.RWMutex
	logger       *zap.Logger
	failureCount map[int]int
	maxFailures  int
}

// MultiProviderConfig holds configuration for multiple providers
type MultiProviderConfig struct {
	Providers   []ProviderConfig
	MaxFailures int // Max consecutive failures before switching provider
}

// NewMultiProviderClient creates every configured provider, skipping the
// ones that fail to initialize.
func NewMultiProviderClient(cfg MultiProviderConfig, logger *zap.Logger) (*MultiProviderClient, error) {
	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("at least one provider is required")
	}

	providers := make([]Provider, 0, len(cfg.Providers))
	for i, providerCfg := range cfg.Providers {
		provider, err := NewProvider(providerCfg, logger)
		if err != nil {
			logger.Error("Failed to create provider",
				zap.String("type", string(providerCfg.Type)),
				zap.Int("index", i),
				zap.Error(err))
			continue
		}

		providers = append(providers, NewRateLimitedProvider(provider, providerCfg.RequestsPerMinute, logger))

		logger.Info("Provider initialized",
			zap.String("type", string(providerCfg.Type)),
			zap.String("model", providerCfg.ModelName),
			zap.Int("rate_limit", providerCfg.RequestsPerMinute),
			zap.Int("index", i))
	}

	if len(providers) == 0 {
		return nil, fmt.Errorf("no providers could be initialized")
	}
	return NewMultiProviderClientWith(providers, cfg.MaxFailures, logger), nil
}

// NewMultiProviderClientWith wraps already built providers.
func NewMultiProviderClientWith(providers []Provider, maxFailures int, logger *zap.Logger) *MultiProviderClient {
	if maxFailures <= 0 {
		maxFailures = 3
	}
	return &MultiProviderClient{
		providers:    providers,
		logger:       logger,
		failureCount: make(map[int]int),
		maxFailures:  maxFailures,
	}
}

// getCurrentProvider returns the current provider and its index
func (c *MultiProviderClient) getCurrentProvider() (Provider, int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.providers[c.currentIndex], c.currentIndex
}

// switchToNextProvider switches to the next available provider
func (c *MultiProviderClient) switchToNextProvider() {
	c.mu.Lock()
	defer c.mu.Unlock()

	oldIndex := c.currentIndex
	c.currentIndex = (c.currentIndex + 1) % len(c.providers)

	c.logger.Info("Switching provider",
		zap.Int("from_index", oldIndex),
		zap.Int("to_index", c.currentIndex),
		zap.Int("total_providers", len(c.providers)))
}

// recordFailure records a failure and reports whether the provider has used
// up its allowance.
func (c *MultiProviderClient) recordFailure(providerIndex int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.failureCount[providerIndex]++
	if c.failureCount[providerIndex] >= c.maxFailures {
		c.logger.Warn("Provider reached max failures",
			zap.Int("provider_index", providerIndex),
			zap.Int("failures", c.failureCount[providerIndex]))
		c.failureCount[providerIndex] = 0
		return true
	}
	return false
}

func (c *MultiProviderClient) resetFailureCount(providerIndex int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failureCount[providerIndex] = 0
}

// Complete makes up to one attempt per configured provider, moving on to the
// next provider after a rate limit or too many consecutive failures. The
// returned error wraps the last provider error, so
// errors.Is(err, models.ErrRateLimited) holds when the last one throttled.
func (c *MultiProviderClient) Complete(ctx context.Context, req models.CompletionRequest) (*models.CompletionResponse, error) {
	var lastErr error
	for attempts := 0; attempts < len(c.providers); attempts++ {
		provider, providerIndex := c.getCurrentProvider()

		c.logger.Debug("Attempting completion",
			zap.Int("provider_index", providerIndex),
			zap.Int("attempt", attempts+1))

		result, err := provider.Complete(ctx, req)
		if err == nil {
			c.resetFailureCount(providerIndex)
			return result, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		lastErr = err
		c.logger.Warn("Provider failed",
			zap.Int("provider_index", providerIndex),
			zap.Error(err))

		shouldSwitch := c.recordFailure(providerIndex)
		if shouldSwitch || errors.Is(err, models.ErrRateLimited) {
			c.switchToNextProvider()
		}
	}

	return nil, fmt.Errorf("all providers failed: %w", lastErr)
}

// Close closes all providers
func (c *MultiProviderClient) Close() error {
	var errs error
	for i, provider := range c.providers {
		if err := provider.Close(); err != nil {
			c.logger.Error("Failed to close provider", zap.Int("index", i), zap.Error(err))
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// GetModelInfo returns information about the current provider
func (c *MultiProviderClient) GetModelInfo() map[string]interface{} {
	provider, index := c.getCurrentProvider()
	info := provider.GetModelInfo()

	c.mu.RLock()
	defer c.mu.RUnlock()
	info["provider_index"] = index
	info["total_providers"] = len(c.providers)
	info["failure_count"] = c.failureCount[index]
	return info
}

// GetProvidersInfo returns information about all providers
func (c *MultiProviderClient) GetProvidersInfo() []map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	info := make([]map[string]interface{}, len(c.providers))
	for i, provider := range c.providers {
		providerInfo := provider.GetModelInfo()
		providerInfo["is_current"] = i == c.currentIndex
		providerInfo["failure_count"] = c.failureCount[i]
		info[i] = providerInfo
	}
	return info
}

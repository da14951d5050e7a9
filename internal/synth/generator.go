// Package synth generates synthetic ham and spam messages with an LLM and
// filters what comes back.
package synth

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/buger/jsonparser"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/yoon0701/ZeroGravity/internal/models"
	"github.com/yoon0701/ZeroGravity/internal/normalize"
)

// Completer is the part of an LLM provider the generators need.
type Completer interface {
	Complete(ctx context.Context, req models.CompletionRequest) (*models.CompletionResponse, error)
}

// Generation is model output together with where it came from.
type Generation struct {
	Texts    []string
	Origin   models.Origin
	Provider string
	Model    string
}

// HamConfig tunes HamGenerator.
type HamConfig struct {
	Temperature float32
	// Fixed wait after a rate-limit response
	RateLimitDelay time.Duration
	// Rate-limit retries per item before giving up; 0 means unbounded
	MaxRateLimitRetries int
}

// HamGenerator writes one casual message per call.
type HamGenerator struct {
	client Completer
	cfg    HamConfig
	logger *zap.Logger
}

func NewHamGenerator(client Completer, cfg HamConfig, logger *zap.Logger) *HamGenerator {
	if cfg.Temperature == 0 {
		cfg.Temperature = 1.0
	}
	if cfg.RateLimitDelay == 0 {
		cfg.RateLimitDelay = 5 * time.Second
	}
	return &HamGenerator{client: client, cfg: cfg, logger: logger}
}

// Generate asks for one message satisfying cond. Rate limits are waited out
// with a fixed delay; any other failure is returned at once and the caller
// is expected to skip the item.
func (g *HamGenerator) Generate(ctx context.Context, cond models.Condition) (*Generation, error) {
	req := models.CompletionRequest{
		System:      HamSystemPrompt,
		User:        HamPrompt(cond),
		Temperature: g.cfg.Temperature,
	}

	for attempt := 0; ; attempt++ {
		resp, err := g.client.Complete(ctx, req)
		if err == nil {
			text := normalize.TrimWrappingQuotes(resp.Text)
			if text == "" {
				return nil, models.ErrEmptyResponse
			}
			return &Generation{
				Texts:    []string{text},
				Origin:   models.OriginHamLLM,
				Provider: resp.Provider,
				Model:    resp.ModelVersion,
			}, nil
		}
		if !errors.Is(err, models.ErrRateLimited) {
			return nil, err
		}
		if g.cfg.MaxRateLimitRetries > 0 && attempt >= g.cfg.MaxRateLimitRetries {
			return nil, fmt.Errorf("gave up after %d rate-limit retries: %w", attempt, err)
		}

		g.logger.Warn("Rate limited, waiting before retry",
			zap.Duration("delay", g.cfg.RateLimitDelay),
			zap.Int("attempt", attempt+1))
		if err := sleep(ctx, g.cfg.RateLimitDelay); err != nil {
			return nil, err
		}
	}
}

// SpamConfig tunes SpamGenerator.
type SpamConfig struct {
	Temperature float32
	TopP        float32
	// Total attempts per seed
	Retries int
	// Replace model output with TemplateMessage once retries run out
	Fallback bool
	// First backoff interval; it grows exponentially from there
	InitialBackoff time.Duration
}

// SpamGenerator turns an instruct seed into spam candidates.
type SpamGenerator struct {
	client Completer
	cfg    SpamConfig
	rng    *rand.Rand
	logger *zap.Logger
}

// NewSpamGenerator creates a generator. rng drives the template fallback and
// must not be shared with other goroutines.
func NewSpamGenerator(client Completer, cfg SpamConfig, rng *rand.Rand, logger *zap.Logger) *SpamGenerator {
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.8
	}
	if cfg.TopP == 0 {
		cfg.TopP = 0.9
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 3
	}
	if cfg.InitialBackoff == 0 {
		cfg.InitialBackoff = 1500 * time.Millisecond
	}
	return &SpamGenerator{client: client, cfg: cfg, rng: rng, logger: logger}
}

func (g *SpamGenerator) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = g.cfg.InitialBackoff
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(g.cfg.Retries-1)), ctx)
}

// Generate returns up to n raw candidates for instructText. Candidates are
// not yet sanitized. When every attempt fails the result is n template
// messages if fallback is enabled, and an error otherwise.
func (g *SpamGenerator) Generate(ctx context.Context, instructText string, n int) (*Generation, error) {
	if n <= 0 {
		n = 1
	}
	req := models.CompletionRequest{
		System:      SpamSystemPrompt,
		User:        SpamPrompt(instructText),
		Temperature: g.cfg.Temperature,
		TopP:        g.cfg.TopP,
		JSON:        true,
	}

	var out *Generation
	attempt := 0
	op := func() error {
		attempt++
		resp, err := g.client.Complete(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		texts, err := ParseItems(resp.Text)
		if err != nil {
			return err
		}
		if len(texts) > n {
			texts = texts[:n]
		}
		out = &Generation{
			Texts:    texts,
			Origin:   models.OriginSpamLLM,
			Provider: resp.Provider,
			Model:    resp.ModelVersion,
		}
		return nil
	}
	notify := func(err error, wait time.Duration) {
		g.logger.Warn("Spam generation attempt failed",
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", wait),
			zap.Error(err))
	}

	err := backoff.RetryNotify(op, g.backOff(ctx), notify)
	if err == nil {
		return out, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if !g.cfg.Fallback {
		return nil, fmt.Errorf("LLM failed after %d attempts: %w", attempt, err)
	}

	g.logger.Info("Using template fallback", zap.Int("attempts", attempt), zap.Error(err))
	texts := make([]string, n)
	for i := range texts {
		texts[i] = TemplateMessage(instructText, g.rng)
	}
	return &Generation{Texts: texts, Origin: models.OriginTemplate, Provider: "template"}, nil
}

var errEmptyItems = errors.New("empty items")

// ParseItems reads {"items":[{"text":"..."}]} and returns every non-blank
// text in order. Markdown code fences around the object are tolerated.
func ParseItems(raw string) ([]string, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.TrimPrefix(clean, "```json")
	clean = strings.TrimPrefix(clean, "```")
	clean = strings.TrimSuffix(clean, "```")
	clean = strings.TrimSpace(clean)

	var texts []string
	var itemErr error
	_, err := jsonparser.ArrayEach([]byte(clean), func(value []byte, dataType jsonparser.ValueType, _ int, err error) {
		if err != nil {
			itemErr = err
			return
		}
		if dataType != jsonparser.Object {
			return
		}
		text, err := jsonparser.GetString(value, "text")
		if err != nil || strings.TrimSpace(text) == "" {
			return
		}
		texts = append(texts, text)
	}, "items")
	if err == nil {
		err = itemErr
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse items: %w", err)
	}
	if len(texts) == 0 {
		return nil, errEmptyItems
	}
	return texts, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

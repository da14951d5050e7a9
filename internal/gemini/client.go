package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/yoon0701/ZeroGravity/internal/models"
)

// Client wraps the Gemini API client
type Client struct {
	client    *genai.Client
	logger    *zap.Logger
	modelName string
	timeout   time.Duration
}

// Config for Gemini client
type Config struct {
	APIKey    string
	ModelName string // Default: "gemini-2.0-flash"
	Timeout   time.Duration
}

// NewClient creates a new Gemini client
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if cfg.ModelName == "" {
		cfg.ModelName = "gemini-2.0-flash"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 40 * time.Second
	}

	client, err := genai.NewClient(context.Background(), option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	logger.Info("Gemini client initialized", zap.String("model", cfg.ModelName))

	return &Client{
		client:    client,
		logger:    logger,
		modelName: cfg.ModelName,
		timeout:   cfg.Timeout,
	}, nil
}

// Close closes the Gemini client
func (c *Client) Close() error {
	return c.client.Close()
}

// model builds a per-request model handle, since the system instruction and
// sampling parameters differ between callers.
func (c *Client) model(in models.CompletionRequest) *genai.GenerativeModel {
	model := c.client.GenerativeModel(c.modelName)
	if in.System != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(in.System)},
		}
	}
	model.SetTemperature(in.Temperature)
	if in.TopP > 0 {
		model.SetTopP(in.TopP)
	}
	if in.JSON {
		model.ResponseMIMEType = "application/json"
	}
	return model
}

// Complete runs a single generation. Quota and rate-limit failures are
// reported as models.ErrRateLimited.
func (c *Client) Complete(ctx context.Context, in models.CompletionRequest) (*models.CompletionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.model(in).GenerateContent(ctx, genai.Text(in.User))
	if err != nil {
		if isRateLimitError(err) {
			c.logger.Warn("Gemini rate limited", zap.Error(err))
			return nil, fmt.Errorf("gemini API error: %v: %w", err, models.ErrRateLimited)
		}
		return nil, fmt.Errorf("gemini API error: %w", err)
	}

	text := responseText(resp)
	if text == "" {
		return nil, fmt.Errorf("gemini returned no text: %w", models.ErrEmptyResponse)
	}

	return &models.CompletionResponse{
		Text:         text,
		Provider:     "gemini",
		ModelVersion: c.modelName,
		GeneratedAt:  time.Now(),
	}, nil
}

// responseText joins the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return strings.TrimSpace(b.String())
}

func isRateLimitError(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusTooManyRequests {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "quota") ||
		strings.Contains(msg, "resource_exhausted") ||
		strings.Contains(msg, "rate limit")
}

// GetModelInfo returns model information
func (c *Client) GetModelInfo() map[string]interface{} {
	return map[string]interface{}{
		"provider": "gemini",
		"model":    c.modelName,
		"timeout":  c.timeout.String(),
	}
}

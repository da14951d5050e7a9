// Package openai talks to any OpenAI-compatible chat-completions endpoint:
// OpenAI itself, Groq and OpenRouter.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/yoon0701/ZeroGravity/internal/models"
)

// Preset is a known chat-completions host
type Preset struct {
	BaseURL      string
	DefaultModel string
}

// Presets by provider name.
var Presets = map[string]Preset{
	"openai":     {BaseURL: "https://api.openai.com/v1", DefaultModel: "gpt-4o-mini"},
	"groq":       {BaseURL: "https://api.groq.com/openai/v1", DefaultModel: "llama-3.3-70b-versatile"},
	"openrouter": {BaseURL: "https://openrouter.ai/api/v1", DefaultModel: "meta-llama/llama-3.2-3b-instruct:free"},
}

// Client is a chat-completions client. Each Complete call is a single
// request; retry policy belongs to the caller.
type Client struct {
	name       string
	apiKey     string
	baseURL    string
	modelName  string
	httpClient *http.Client
	logger     *zap.Logger
}

// Config for Client. Name selects a preset; BaseURL and ModelName override it.
type Config struct {
	Name      string
	APIKey    string
	ModelName string
	BaseURL   string
	Timeout   time.Duration // Default: 40s
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Stream         bool            `json:"stream"`
	Temperature    float32         `json:"temperature,omitempty"`
	TopP           float32         `json:"top_p,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// NewClient creates a new chat-completions client
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.Name == "" {
		cfg.Name = "openai"
	}
	preset, known := Presets[cfg.Name]
	if cfg.BaseURL == "" {
		if !known {
			return nil, fmt.Errorf("base URL is required for provider %q", cfg.Name)
		}
		cfg.BaseURL = preset.BaseURL
	}
	if cfg.ModelName == "" {
		if !known {
			return nil, fmt.Errorf("model name is required for provider %q", cfg.Name)
		}
		cfg.ModelName = preset.DefaultModel
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s API key is required", cfg.Name)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 40 * time.Second
	}

	logger.Info("Chat completions client initialized",
		zap.String("provider", cfg.Name),
		zap.String("model", cfg.ModelName),
		zap.String("base_url", cfg.BaseURL))

	return &Client{
		name:       cfg.Name,
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		modelName:  cfg.ModelName,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}, nil
}

// Close is a no-op; the HTTP client holds no resources of its own.
func (c *Client) Close() error {
	return nil
}

// Complete sends one system + user exchange and returns the reply text.
// HTTP 429 is reported as models.ErrRateLimited.
func (c *Client) Complete(ctx context.Context, in models.CompletionRequest) (*models.CompletionResponse, error) {
	reqBody := chatRequest{
		Model: c.modelName,
		Messages: []chatMessage{
			{Role: "system", Content: in.System},
			{Role: "user", Content: in.User},
		},
		Temperature: in.Temperature,
		TopP:        in.TopP,
	}
	if in.JSON {
		reqBody.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s API error: %w", c.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		c.logger.Warn("Rate limited", zap.String("provider", c.name), zap.String("body", string(body)))
		return nil, fmt.Errorf("%s API returned status %d: %w", c.name, resp.StatusCode, models.ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.Error("Chat completions error",
			zap.String("provider", c.name),
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(body)))
		return nil, fmt.Errorf("%s API returned status %d: %s", c.name, resp.StatusCode, string(body))
	}

	var chatResp chatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return nil, fmt.Errorf("%s returned no choices: %w", c.name, models.ErrEmptyResponse)
	}
	content := strings.TrimSpace(chatResp.Choices[0].Message.Content)
	if content == "" {
		return nil, fmt.Errorf("%s returned blank content: %w", c.name, models.ErrEmptyResponse)
	}

	modelVersion := chatResp.Model
	if modelVersion == "" {
		modelVersion = c.modelName
	}
	return &models.CompletionResponse{
		Text:         content,
		Provider:     c.name,
		ModelVersion: modelVersion,
		GeneratedAt:  time.Now(),
	}, nil
}

// GetModelInfo returns model information
func (c *Client) GetModelInfo() map[string]interface{} {
	return map[string]interface{}{
		"provider": c.name,
		"model":    c.modelName,
		"base_url": c.baseURL,
	}
}

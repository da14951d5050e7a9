package models

import (
	"errors"
	"time"
)

// CompletionRequest is one chat-completion style call.
type CompletionRequest struct {
	System      string
	User        string
	Temperature float32
	TopP        float32 // 0 leaves the provider default
	JSON        bool    // ask the provider for a JSON object response
}

// CompletionResponse returned by LLM providers (gemini, openai, groq, openrouter)
type CompletionResponse struct {
	Text         string    `json:"text"`
	Provider     string    `json:"provider"`
	ModelVersion string    `json:"model_version"`
	GeneratedAt  time.Time `json:"generated_at"`
}

var (
	// ErrRateLimited is wrapped by providers when the remote side throttles us.
	ErrRateLimited = errors.New("rate limited")
	// ErrEmptyResponse means the provider answered without any text.
	ErrEmptyResponse = errors.New("empty response")
	// ErrNoCandidate means a document held no usable utterance.
	ErrNoCandidate = errors.New("no usable utterance")
)

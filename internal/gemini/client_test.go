package gemini

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
	"google.golang.org/api/googleapi"
)

func TestResponseText(t *testing.T) {
	assert.Equal(t, "", responseText(nil))
	assert.Equal(t, "", responseText(&genai.GenerateContentResponse{}))
	assert.Equal(t, "", responseText(&genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{}},
	}))

	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []genai.Part{
				genai.Text(` {"items":`),
				genai.Text(`[]} `),
			}},
		}},
	}
	assert.Equal(t, `{"items":[]}`, responseText(resp))
}

func TestIsRateLimitError(t *testing.T) {
	assert.True(t, isRateLimitError(fmt.Errorf("wrapped: %w", &googleapi.Error{Code: 429})))
	assert.True(t, isRateLimitError(errors.New("rpc error: code = ResourceExhausted desc = RESOURCE_EXHAUSTED")))
	assert.True(t, isRateLimitError(errors.New("Quota exceeded for metric")))
	assert.False(t, isRateLimitError(&googleapi.Error{Code: 400, Message: "bad request"}))
}

func TestNewClientRequiresKey(t *testing.T) {
	_, err := NewClient(Config{}, zaptest.NewLogger(t))
	assert.Error(t, err)
}

package synth

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/yoon0701/ZeroGravity/internal/detect"
	"github.com/yoon0701/ZeroGravity/internal/models"
	"github.com/yoon0701/ZeroGravity/internal/normalize"
)

type step struct {
	text string
	err  error
}

type scriptedClient struct {
	steps []step
	reqs  []models.CompletionRequest
}

func (c *scriptedClient) Complete(ctx context.Context, req models.CompletionRequest) (*models.CompletionResponse, error) {
	c.reqs = append(c.reqs, req)
	if len(c.steps) == 0 {
		return nil, errors.New("script exhausted")
	}
	s := c.steps[0]
	c.steps = c.steps[1:]
	if s.err != nil {
		return nil, s.err
	}
	return &models.CompletionResponse{Text: s.text, Provider: "fake", ModelVersion: "fake-1"}, nil
}

var errThrottled = fmt.Errorf("429: %w", models.ErrRateLimited)

func TestSanitize(t *testing.T) {
	assert.Equal(t, "지금 바로 확인하세요 확인: <URL>", Sanitize(`  "지금   바로 확인하세요"  `))
	assert.Equal(t, "상세 안내 <URL> 참고", Sanitize("상세 안내 <URL> 참고"))
	assert.Equal(t, "입력 후 확인: <URL>", Sanitize("주민등록번호 입력 후"))
	assert.Equal(t, `혜택 받기 "<URL>"`, Sanitize(`혜택 받기 "<URL>"`))
}

func TestCheck(t *testing.T) {
	long := "오늘만 한정 혜택이 제공됩니다. 당첨 혜택을 놓치지 마세요! 확인: <URL>"

	tests := []struct {
		name string
		in   string
		want error
	}{
		{"valid", long, nil},
		{"valid with phone token", long + " 문의: <PHONE>", nil},
		{"too short", "짧은 메시지 <URL>", ErrLength},
		{"too long", strings.Repeat("가", 161) + "<URL>", ErrLength},
		{"no url", strings.Repeat("혜택 안내입니다 ", 6), ErrNoURL},
		{"real url counts", "오늘만 한정 혜택이 제공됩니다. 당첨 혜택을 놓치지 마세요! www.example.com", nil},
		{"real phone", long + " 010-1234-5678", ErrRealPhone},
		{"phone beside token", long + " <PHONE> 010-1234-5678", nil},
		{"pii", "오늘만 한정 혜택이 제공됩니다. 실명 확인이 필요합니다. 확인: <URL>", ErrPII},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Check(tt.in)
			if tt.want == nil {
				assert.NoError(t, err)
				assert.True(t, Validate(tt.in))
			} else {
				assert.ErrorIs(t, err, tt.want)
				assert.False(t, Validate(tt.in))
			}
		})
	}
}

func TestRealPhoneCandidateIsDiscarded(t *testing.T) {
	s := Sanitize("지금 바로 확인하세요 http://bit.ly/abc 전화는 010-1234-5678")
	assert.Contains(t, s, detect.URLToken)
	assert.ErrorIs(t, Check(s), ErrRealPhone)
	assert.False(t, Validate(s))
}

func TestRejectReason(t *testing.T) {
	assert.Equal(t, "length", RejectReason(ErrLength))
	assert.Equal(t, "real_phone", RejectReason(fmt.Errorf("x: %w", ErrRealPhone)))
	assert.Equal(t, "other", RejectReason(errors.New("?")))
}

func TestTemplateMessage(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 50; i++ {
		msg := TemplateMessage("봄맞이 이벤트 안내 문자를 만들어줘", rng)
		assert.Contains(t, msg, detect.URLToken)
		assert.Contains(t, msg, "이벤트")
		assert.NoError(t, Check(msg), msg)
		assert.LessOrEqual(t, strings.Count(msg, ".")+strings.Count(msg, "!"), 2, msg)
	}

	for i := 0; i < 50; i++ {
		msg := TemplateMessage("", rng)
		assert.NoError(t, Check(msg), msg)
	}

	a := TemplateMessage("쿠폰 환급", rand.New(rand.NewSource(9)))
	b := TemplateMessage("쿠폰 환급", rand.New(rand.NewSource(9)))
	assert.Equal(t, a, b)
}

func TestPickCondition(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 20; i++ {
		assert.Contains(t, models.HamConditions, PickCondition(rng))
	}
}

func TestParseItems(t *testing.T) {
	got, err := ParseItems("```json\n{\"items\":[{\"text\":\"하나\"},{\"text\":\"  \"},\"x\",{\"other\":1},{\"text\":\"둘\"}]}\n```")
	require.NoError(t, err)
	assert.Equal(t, []string{"하나", "둘"}, got)

	_, err = ParseItems(`{"items":[]}`)
	assert.Error(t, err)
	_, err = ParseItems(`not json`)
	assert.Error(t, err)
}

func TestHamGenerator(t *testing.T) {
	client := &scriptedClient{steps: []step{{err: errThrottled}, {text: `"사진 여기 올려놨어 <URL> 봐봐 ㅋㅋ"`}}}
	g := NewHamGenerator(client, HamConfig{RateLimitDelay: time.Millisecond}, zaptest.NewLogger(t))

	out, err := g.Generate(context.Background(), models.Condition{HasURL: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"사진 여기 올려놨어 <URL> 봐봐 ㅋㅋ"}, out.Texts)
	assert.Equal(t, models.OriginHamLLM, out.Origin)
	assert.Equal(t, "fake-1", out.Model)

	require.Len(t, client.reqs, 2)
	assert.Equal(t, HamSystemPrompt, client.reqs[0].System)
	assert.Contains(t, client.reqs[0].User, "has_url=1, has_phone=0")
	assert.InDelta(t, 1.0, client.reqs[0].Temperature, 1e-6)
	assert.False(t, client.reqs[0].JSON)
}

func TestHamGeneratorKeepsInnerQuotes(t *testing.T) {
	tests := []struct {
		reply string
		want  string
	}{
		{`링크 여기 "<URL>"`, `링크 여기 "<URL>"`},
		{`그거 'ㅋㅋ' 진짜 웃겨 '<URL>'`, `그거 'ㅋㅋ' 진짜 웃겨 '<URL>'`},
		{`"번호 <PHONE> 로 연락 줘"`, "번호 <PHONE> 로 연락 줘"},
	}
	for _, tt := range tests {
		client := &scriptedClient{steps: []step{{text: tt.reply}}}
		g := NewHamGenerator(client, HamConfig{RateLimitDelay: time.Millisecond}, zaptest.NewLogger(t))

		out, err := g.Generate(context.Background(), models.Condition{HasURL: 1})
		require.NoError(t, err)
		assert.Equal(t, []string{tt.want}, out.Texts)
	}
}

func TestHamGeneratorSkipsOnOtherErrors(t *testing.T) {
	client := &scriptedClient{steps: []step{{err: errors.New("bad request")}}}
	g := NewHamGenerator(client, HamConfig{RateLimitDelay: time.Millisecond}, zaptest.NewLogger(t))

	_, err := g.Generate(context.Background(), models.Condition{HasPhone: 1})
	assert.Error(t, err)
	assert.Len(t, client.reqs, 1)
}

func TestHamGeneratorBoundedRateLimit(t *testing.T) {
	client := &scriptedClient{steps: []step{{err: errThrottled}, {err: errThrottled}, {err: errThrottled}, {text: "never"}}}
	g := NewHamGenerator(client, HamConfig{RateLimitDelay: time.Millisecond, MaxRateLimitRetries: 2}, zaptest.NewLogger(t))

	_, err := g.Generate(context.Background(), models.Condition{HasURL: 1})
	assert.ErrorIs(t, err, models.ErrRateLimited)
	assert.Len(t, client.reqs, 3)
}

func TestHamGeneratorCancelledWhileWaiting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client := &scriptedClient{steps: []step{{err: errThrottled}}}
	g := NewHamGenerator(client, HamConfig{RateLimitDelay: time.Hour}, zaptest.NewLogger(t))

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := g.Generate(ctx, models.Condition{HasURL: 1})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSpamGenerator(t *testing.T) {
	client := &scriptedClient{steps: []step{
		{err: errors.New("timeout")},
		{text: `{"items":[]}`},
		{text: `{"items":[{"text":"첫째"},{"text":"둘째"},{"text":"셋째"}]}`},
	}}
	g := NewSpamGenerator(client, SpamConfig{Retries: 3, InitialBackoff: time.Millisecond},
		rand.New(rand.NewSource(1)), zaptest.NewLogger(t))

	out, err := g.Generate(context.Background(), "쿠폰 안내", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"첫째", "둘째"}, out.Texts)
	assert.Equal(t, models.OriginSpamLLM, out.Origin)

	require.Len(t, client.reqs, 3)
	req := client.reqs[0]
	assert.True(t, req.JSON)
	assert.Equal(t, SpamSystemPrompt, req.System)
	assert.Contains(t, req.User, "쿠폰 안내")
	assert.InDelta(t, 0.8, req.Temperature, 1e-6)
	assert.InDelta(t, 0.9, req.TopP, 1e-6)
}

func TestSpamGeneratorExhausted(t *testing.T) {
	client := &scriptedClient{steps: []step{{err: errThrottled}, {err: errThrottled}}}
	g := NewSpamGenerator(client, SpamConfig{Retries: 2, InitialBackoff: time.Millisecond},
		rand.New(rand.NewSource(1)), zaptest.NewLogger(t))

	_, err := g.Generate(context.Background(), "계정 정지 안내", 1)
	assert.ErrorIs(t, err, models.ErrRateLimited)
	assert.Len(t, client.reqs, 2)
}

func TestSpamGeneratorFallback(t *testing.T) {
	client := &scriptedClient{steps: []step{{err: errors.New("down")}}}
	g := NewSpamGenerator(client, SpamConfig{Retries: 1, Fallback: true, InitialBackoff: time.Millisecond},
		rand.New(rand.NewSource(5)), zaptest.NewLogger(t))

	out, err := g.Generate(context.Background(), "이벤트 당첨 안내", 3)
	require.NoError(t, err)
	assert.Equal(t, models.OriginTemplate, out.Origin)
	require.Len(t, out.Texts, 3)
	for _, s := range out.Texts {
		assert.Contains(t, s, detect.URLToken)
		assert.True(t, Validate(Sanitize(s)))
		assert.Equal(t, normalize.RuneLen(s), len([]rune(s)))
	}
	assert.Len(t, client.reqs, 1)
}

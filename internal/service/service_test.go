package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/yoon0701/ZeroGravity/internal/dataset"
	"github.com/yoon0701/ZeroGravity/internal/metrics"
	"github.com/yoon0701/ZeroGravity/internal/models"
	"github.com/yoon0701/ZeroGravity/internal/repository"
	"github.com/yoon0701/ZeroGravity/internal/synth"
)

type fakeCompleter struct {
	mu    sync.Mutex
	calls int
	reply func(call int, req models.CompletionRequest) (string, error)
}

func (f *fakeCompleter) Complete(ctx context.Context, req models.CompletionRequest) (*models.CompletionResponse, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()

	text, err := f.reply(call, req)
	if err != nil {
		return nil, err
	}
	return &models.CompletionResponse{Text: text, Provider: "fake", ModelVersion: "fake-1"}, nil
}

func (f *fakeCompleter) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newLedger(t *testing.T) *repository.RunRepository {
	t.Helper()
	repo, err := repository.NewRunRepository("sqlite", filepath.Join(t.TempDir(), "ledger.db"), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func spamItems(call, n int) string {
	items := make([]string, n)
	for i := range items {
		items[i] = fmt.Sprintf(`{"text":"고객님 %d번 이벤트에 당첨되셨습니다. 지금 바로 혜택을 확인해 주세요 <URL>"}`, call*10+i)
	}
	return `{"items":[` + strings.Join(items, ",") + `]}`
}

func writeSeeds(t *testing.T, dir string, ids ...string) {
	t.Helper()
	for i, id := range ids {
		doc := fmt.Sprintf(`{"data":[{"instruct_id":%q,"instruct_text":"택배 배송 안내 문자를 작성하세요 %d"}]}`, id, i)
		writeFile(t, filepath.Join(dir, fmt.Sprintf("seed_%02d.json", i)), doc)
	}
}

func TestHamBuilderRun(t *testing.T) {
	in := t.TempDir()
	writeFile(t, filepath.Join(in, "a.json"),
		`{"info":[{"id":"A1","annotations":{"lines":[{"norm_text":"철수: 오늘 저녁에 시간 돼?"}]}}]}`)
	writeFile(t, filepath.Join(in, "c.json"), `{"info":[]}`)
	writeFile(t, filepath.Join(in, "d.json"),
		`{"info":[{"id":"D4","annotations":{"lines":[{"norm_text":"오늘 저녁에 시간 돼?"}]}}]}`)
	writeFile(t, filepath.Join(in, "sub", "b.json"),
		`{"info":[{"id":"B2","annotations":{"text":"영희: 링크 www.example.com 확인해줘"}}]}`)
	writeFile(t, filepath.Join(in, "broken.json"), `{"info":`)

	out := filepath.Join(t.TempDir(), "out", "ham.csv")
	ledger := newLedger(t)
	reg := prometheus.NewRegistry()
	b := NewHamBuilder(ledger, metrics.New(reg), zaptest.NewLogger(t))

	var progress []int
	b.Progress = func(done, total int) { progress = append(progress, done) }

	res, err := b.Run(context.Background(), HamOptions{InputDir: in, Output: out, Target: 10, Seed: 42})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Produced)
	assert.Equal(t, 2, res.Skipped)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, progress)

	rows, err := dataset.ReadCSV(out)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, models.Record{Text: "오늘 저녁에 시간 돼?", ID: "A1", Length: 12, Label: models.LabelHam}, rows[0])
	assert.Equal(t, "B2", rows[1].ID)
	assert.Equal(t, "링크 www.example.com 확인해줘", rows[1].Text)
	assert.Equal(t, 1, rows[1].HasURL)

	run, err := ledger.GetRun(res.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, run.Status)
	assert.Equal(t, 2, run.ProducedCount)
	assert.Equal(t, 1.0, testutil.ToFloat64(b.metrics.RunsTotal.WithLabelValues("ham", "completed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(b.metrics.RecordsTotal.WithLabelValues("ham", "extracted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(b.metrics.SkippedTotal.WithLabelValues("ham", "unreadable")))
}

func TestHamBuilderSamplesToTarget(t *testing.T) {
	in := t.TempDir()
	for i := 0; i < 6; i++ {
		writeFile(t, filepath.Join(in, fmt.Sprintf("f%d.json", i)),
			fmt.Sprintf(`{"info":[{"id":"S%d","annotations":{"text":"메시지 번호 %d 입니다"}}]}`, i, i))
	}
	out := filepath.Join(t.TempDir(), "ham.csv")
	b := NewHamBuilder(nil, nil, zaptest.NewLogger(t))

	first, err := b.Run(context.Background(), HamOptions{InputDir: in, Output: out, Target: 3, Seed: 7})
	require.NoError(t, err)
	require.Len(t, first.Records, 3)

	second, err := b.Run(context.Background(), HamOptions{InputDir: in, Output: out, Target: 3, Seed: 7})
	require.NoError(t, err)
	assert.Equal(t, first.Records, second.Records)
}

func TestHamBuilderNothingCollected(t *testing.T) {
	in := t.TempDir()
	writeFile(t, filepath.Join(in, "empty.json"), `{"info":[]}`)
	out := filepath.Join(t.TempDir(), "ham.csv")

	res, err := NewHamBuilder(nil, nil, zaptest.NewLogger(t)).
		Run(context.Background(), HamOptions{InputDir: in, Output: out, Target: 5})
	require.NoError(t, err)
	assert.Zero(t, res.Produced)
	assert.NoFileExists(t, out)
}

func TestHamBuilderMissingInput(t *testing.T) {
	_, err := NewHamBuilder(nil, nil, zaptest.NewLogger(t)).
		Run(context.Background(), HamOptions{InputDir: filepath.Join(t.TempDir(), "nope"), Output: "x.csv", Target: 1})
	assert.Error(t, err)
}

func newAugmenter(t *testing.T, fc *fakeCompleter, ledger Ledger) *HamAugmenter {
	gen := synth.NewHamGenerator(fc, synth.HamConfig{RateLimitDelay: time.Millisecond, MaxRateLimitRetries: 2}, zaptest.NewLogger(t))
	return NewHamAugmenter(gen, ledger, nil, zaptest.NewLogger(t))
}

func writeHamSource(t *testing.T, path string, n int) {
	t.Helper()
	rows := make([]models.Record, n)
	for i := range rows {
		rows[i] = dataset.NewHamRecord(fmt.Sprintf("원본 문장 %d", i), fmt.Sprintf("h%d", i+1))
	}
	require.NoError(t, dataset.WriteCSV(path, rows))
}

func TestHamAugmenterRunAndResume(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "ham.csv")
	out := filepath.Join(dir, "aug.csv")
	writeHamSource(t, src, 5)

	fc := &fakeCompleter{reply: func(call int, req models.CompletionRequest) (string, error) {
		assert.Equal(t, synth.HamSystemPrompt, req.System)
		assert.Equal(t, float32(1.0), req.Temperature)
		return fmt.Sprintf(`"내일 %d시에 <URL> 보고 연락줘"`, call), nil
	}}
	ledger := newLedger(t)
	a := newAugmenter(t, fc, ledger)

	res, err := a.Run(context.Background(), AugmentOptions{HamCSV: src, Output: out, Target: 3, Seed: 1, CheckpointEvery: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Produced)

	rows, err := dataset.ReadCSV(out)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	for i, r := range rows {
		assert.Equal(t, fmt.Sprintf("h%d", i+1), r.ID)
		assert.Equal(t, models.LabelHam, r.Label)
		assert.False(t, strings.HasPrefix(r.Text, `"`))
		assert.True(t, r.HasURL == 1 || r.HasPhone == 1)
	}

	res, err = a.Run(context.Background(), AugmentOptions{HamCSV: src, Output: out, Target: 5, Seed: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Existing)
	assert.Equal(t, 2, res.Produced)
	assert.Equal(t, 5, fc.Calls())

	rows, err = dataset.ReadCSV(out)
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, "h4", rows[3].ID)
	assert.Equal(t, "h5", rows[4].ID)

	records, err := ledger.GetRecords(repository.RecordFilter{RunID: res.RunID})
	require.NoError(t, err)
	assert.Len(t, records, 2)
	for _, r := range records {
		assert.Equal(t, models.OriginHamLLM, r.Origin)
		assert.Equal(t, "fake", r.Provider)
	}
}

func TestHamAugmenterTargetReached(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "aug.csv")
	writeHamSource(t, out, 2)

	fc := &fakeCompleter{reply: func(int, models.CompletionRequest) (string, error) {
		return "", errors.New("must not be called")
	}}
	res, err := newAugmenter(t, fc, nil).Run(context.Background(),
		AugmentOptions{HamCSV: filepath.Join(dir, "missing.csv"), Output: out, Target: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Existing)
	assert.Zero(t, fc.Calls())
}

func TestHamAugmenterFailureConsumesSourceRow(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "ham.csv")
	out := filepath.Join(dir, "aug.csv")
	writeHamSource(t, src, 4)

	fc := &fakeCompleter{reply: func(call int, req models.CompletionRequest) (string, error) {
		if call == 2 {
			return "", errors.New("upstream exploded")
		}
		return fmt.Sprintf("저녁 %d시 <PHONE> 로 전화줘", call), nil
	}}
	res, err := newAugmenter(t, fc, nil).Run(context.Background(),
		AugmentOptions{HamCSV: src, Output: out, Target: 3, Seed: 3})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Produced)
	assert.Equal(t, 1, res.Failed)

	rows, err := dataset.ReadCSV(out)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "h1", rows[0].ID)
	assert.Equal(t, "h3", rows[1].ID)
}

func TestHamAugmenterRateLimitGivesUp(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "ham.csv")
	writeHamSource(t, src, 1)

	fc := &fakeCompleter{reply: func(int, models.CompletionRequest) (string, error) {
		return "", fmt.Errorf("429: %w", models.ErrRateLimited)
	}}
	res, err := newAugmenter(t, fc, nil).Run(context.Background(),
		AugmentOptions{HamCSV: src, Output: filepath.Join(dir, "aug.csv"), Target: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 3, fc.Calls())
}

func newSynthesizer(t *testing.T, fc *fakeCompleter, cfg synth.SpamConfig, ledger Ledger, m *metrics.Metrics) *SpamSynthesizer {
	if cfg.InitialBackoff == 0 {
		cfg.InitialBackoff = time.Millisecond
	}
	return NewSpamSynthesizer(fc, cfg, ledger, m, zaptest.NewLogger(t))
}

func TestSpamSynthesizerRun(t *testing.T) {
	seeds := t.TempDir()
	writeSeeds(t, seeds, "S1", "S2", "S3")
	out := filepath.Join(t.TempDir(), "spam.csv")

	fc := &fakeCompleter{reply: func(call int, req models.CompletionRequest) (string, error) {
		assert.True(t, req.JSON)
		assert.Equal(t, float32(0.9), req.TopP)
		return spamItems(call, 2), nil
	}}
	var progress []int
	s := newSynthesizer(t, fc, synth.SpamConfig{}, nil, nil)
	s.Progress = func(rows, target int) { progress = append(progress, rows) }

	res, err := s.Run(context.Background(), SpamOptions{InPath: seeds, Output: out, NPer: 2, Target: 3, Seed: 42})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Produced)
	assert.Equal(t, 2, fc.Calls())
	assert.Equal(t, []int{2, 3}, progress)

	rows, err := dataset.ReadCSV(out)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"S1-01", "S1-02", "S2-01"}, []string{rows[0].ID, rows[1].ID, rows[2].ID})
	for _, r := range rows {
		assert.Equal(t, models.LabelSpam, r.Label)
		assert.Equal(t, 1, r.HasURL)
		assert.Equal(t, r.Length, len([]rune(r.Text)))
		assert.True(t, synth.Validate(r.Text))
	}
}

func TestSpamSynthesizerResumeSkipsSeeds(t *testing.T) {
	seeds := t.TempDir()
	writeSeeds(t, seeds, "S1", "S2", "S3")
	out := filepath.Join(t.TempDir(), "spam.csv")
	existing := dataset.NewSpamRecord("기존 당첨 안내 문자입니다. 지금 바로 확인하시고 혜택을 받아가세요 <URL>", "S1")
	require.NoError(t, dataset.WriteCSV(out, []models.Record{existing}))

	var prompts []string
	fc := &fakeCompleter{reply: func(call int, req models.CompletionRequest) (string, error) {
		prompts = append(prompts, req.User)
		return spamItems(call, 1), nil
	}}
	res, err := newSynthesizer(t, fc, synth.SpamConfig{}, nil, nil).
		Run(context.Background(), SpamOptions{InPath: seeds, Output: out, NPer: 1, Target: 2, Seed: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Existing)
	assert.Equal(t, 1, fc.Calls())
	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0], "작성하세요 1")

	rows, err := dataset.ReadCSV(out)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.ElementsMatch(t, []string{"S1", "S2"}, []string{rows[0].ID, rows[1].ID})
}

func TestSpamSynthesizerResumeAfterRejectedFirstCandidate(t *testing.T) {
	seeds := t.TempDir()
	writeSeeds(t, seeds, "S1")
	out := filepath.Join(t.TempDir(), "spam.csv")
	opts := SpamOptions{InPath: seeds, Output: out, NPer: 2, Target: 5, Seed: 3}
	reply := func(int, models.CompletionRequest) (string, error) {
		return `{"items":[{"text":"짧음"},{"text":"고객님 이벤트에 당첨되셨습니다. 오늘 안에 지금 바로 혜택을 확인해 주세요 <URL>"}]}`, nil
	}

	first := &fakeCompleter{reply: reply}
	res, err := newSynthesizer(t, first, synth.SpamConfig{}, nil, nil).Run(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Produced)
	assert.Equal(t, 1, first.Calls())

	second := &fakeCompleter{reply: reply}
	res, err = newSynthesizer(t, second, synth.SpamConfig{}, nil, nil).Run(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Existing)
	assert.Zero(t, res.Produced)
	assert.Zero(t, second.Calls())

	rows, err := dataset.ReadCSV(out)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "S1-02", rows[0].ID)
}

func TestSpamSynthesizerRejectsInvalid(t *testing.T) {
	seeds := t.TempDir()
	writeSeeds(t, seeds, "S1", "S2")
	out := filepath.Join(t.TempDir(), "spam.csv")

	fc := &fakeCompleter{reply: func(int, models.CompletionRequest) (string, error) {
		return `{"items":[{"text":"짧은 글"},{"text":"주민등록번호 입력하면 혜택 드림 010-1234-5678 지금 바로 연락 주세요 오늘까지"}]}`, nil
	}}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	res, err := newSynthesizer(t, fc, synth.SpamConfig{}, nil, m).
		Run(context.Background(), SpamOptions{InPath: seeds, Output: out, NPer: 2, Target: 5})
	require.NoError(t, err)
	assert.Zero(t, res.Produced)
	assert.Equal(t, 2, res.Skipped)
	assert.NoFileExists(t, out)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ValidationRejects.WithLabelValues("length")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ValidationRejects.WithLabelValues("real_phone")))
}

func TestSpamSynthesizerFallback(t *testing.T) {
	seeds := t.TempDir()
	writeSeeds(t, seeds, "S1", "S2")
	out := filepath.Join(t.TempDir(), "spam.csv")

	fc := &fakeCompleter{reply: func(int, models.CompletionRequest) (string, error) {
		return "", errors.New("provider down")
	}}
	ledger := newLedger(t)
	res, err := newSynthesizer(t, fc, synth.SpamConfig{Retries: 2, Fallback: true}, ledger, nil).
		Run(context.Background(), SpamOptions{InPath: seeds, Output: out, NPer: 1, Target: 2, Seed: 5})
	require.NoError(t, err)
	// Two template draws may coincide; the copy is dropped as a duplicate.
	assert.Equal(t, 2, res.Produced+res.Skipped)
	assert.GreaterOrEqual(t, res.Produced, 1)
	assert.Equal(t, 4, fc.Calls())

	records, err := ledger.GetRecords(repository.RecordFilter{RunID: res.RunID})
	require.NoError(t, err)
	require.Len(t, records, res.Produced)
	for _, r := range records {
		assert.Equal(t, models.OriginTemplate, r.Origin)
		assert.Contains(t, r.Text, "<URL>")
	}
}

func TestSpamSynthesizerNoFallbackSkipsSeed(t *testing.T) {
	seeds := t.TempDir()
	writeSeeds(t, seeds, "S1")
	out := filepath.Join(t.TempDir(), "spam.csv")

	fc := &fakeCompleter{reply: func(int, models.CompletionRequest) (string, error) {
		return "not json", nil
	}}
	ledger := newLedger(t)
	res, err := newSynthesizer(t, fc, synth.SpamConfig{Retries: 3}, ledger, nil).
		Run(context.Background(), SpamOptions{InPath: seeds, Output: out, NPer: 1, Target: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 3, fc.Calls())

	run, err := ledger.GetRun(res.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, run.Status)
	assert.Equal(t, 1, run.FailedCount)
}

func TestSpamSynthesizerCancelled(t *testing.T) {
	seeds := t.TempDir()
	writeSeeds(t, seeds, "S1")
	out := filepath.Join(t.TempDir(), "spam.csv")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fc := &fakeCompleter{reply: func(call int, _ models.CompletionRequest) (string, error) {
		return spamItems(call, 1), nil
	}}
	ledger := newLedger(t)
	s := newSynthesizer(t, fc, synth.SpamConfig{}, ledger, nil)
	_, err := s.Run(ctx, SpamOptions{RunID: "run-cancel", InPath: seeds, Output: out, Target: 1})
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoFileExists(t, out)

	run, err := ledger.GetRun("run-cancel")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, run.Status)
	assert.NotEmpty(t, run.ErrorMessage)
}

func TestSpamRowID(t *testing.T) {
	assert.Equal(t, "S1", spamRowID("S1", 1, 1))
	assert.Equal(t, "S1-01", spamRowID("S1", 1, 2))
	assert.Equal(t, "S1-12", spamRowID("S1", 12, 20))
}

func TestRunnerOneAtATime(t *testing.T) {
	r := NewRunner(zaptest.NewLogger(t))
	release := make(chan struct{})

	id, err := r.Start(func(ctx context.Context, runID string) error {
		<-release
		return nil
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, id, r.Current())

	_, err = r.Start(func(context.Context, string) error { return nil })
	assert.ErrorIs(t, err, ErrBusy)

	close(release)
	assert.Eventually(t, func() bool { return r.Current() == "" }, time.Second, 5*time.Millisecond)

	_, err = r.Start(func(context.Context, string) error { return errors.New("logged only") })
	assert.NoError(t, err)
}

func TestRunnerShutdownCancelsRun(t *testing.T) {
	r := NewRunner(zaptest.NewLogger(t))
	stopped := make(chan error, 1)

	_, err := r.Start(func(ctx context.Context, runID string) error {
		<-ctx.Done()
		stopped <- ctx.Err()
		return ctx.Err()
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.Shutdown(ctx))
	assert.ErrorIs(t, <-stopped, context.Canceled)

	_, err = r.Start(func(context.Context, string) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

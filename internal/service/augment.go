package service

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/yoon0701/ZeroGravity/internal/dataset"
	"github.com/yoon0701/ZeroGravity/internal/metrics"
	"github.com/yoon0701/ZeroGravity/internal/models"
	"github.com/yoon0701/ZeroGravity/internal/synth"
)

// AugmentOptions configures one synthetic ham run.
type AugmentOptions struct {
	RunID  string
	HamCSV string
	Output string
	Target int
	Seed   int64
	// Rewrite the output every this many items
	CheckpointEvery int
}

// HamAugmenter adds generated ham messages that carry URLs and phone
// numbers, borrowing identifiers from the extracted ham table.
type HamAugmenter struct {
	gen     *synth.HamGenerator
	ledger  Ledger
	metrics *metrics.Metrics
	logger  *zap.Logger
	// Progress, if set, is called after every item.
	Progress func(done, total int)
}

func NewHamAugmenter(gen *synth.HamGenerator, ledger Ledger, m *metrics.Metrics, logger *zap.Logger) *HamAugmenter {
	if m == nil {
		m = metrics.NewNop()
	}
	return &HamAugmenter{gen: gen, ledger: ledger, metrics: m, logger: logger}
}

// Run resumes from opts.Output and generates only the missing rows. Every
// source row used, whether generation succeeded or not, is consumed.
func (a *HamAugmenter) Run(ctx context.Context, opts AugmentOptions) (res *Result, err error) {
	t := startRun(opts.RunID, models.RunAugment, opts.Output, opts.Target, a.ledger, a.metrics, a.logger)
	defer func() { t.finish(err) }()

	state, err := dataset.Resume(opts.Output, opts.Target)
	if err != nil {
		return nil, err
	}
	if len(state.Existing) > 0 {
		t.logger.Info("Resuming from existing output", zap.Int("existing", len(state.Existing)))
	}
	if state.Deficit == 0 {
		t.logger.Info("Target already reached, nothing to generate")
		return t.result(len(state.Existing), state.Existing), nil
	}

	source, err := dataset.ReadCSV(opts.HamCSV)
	if err != nil {
		return nil, err
	}
	available := make([]models.Record, 0, len(source))
	for _, r := range source {
		if !state.IsUsed(r.ID) {
			available = append(available, r)
		}
	}

	n := state.Deficit
	if n > len(available) {
		t.logger.Warn("Not enough unused source rows",
			zap.Int("needed", n),
			zap.Int("available", len(available)))
		n = len(available)
	}
	t.logger.Info("Generating synthetic ham", zap.Int("count", n))

	seen := make(map[string]struct{}, len(state.Existing)+n)
	for _, r := range state.Existing {
		seen[r.Text] = struct{}{}
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	cp := dataset.NewCheckpointer(opts.Output, opts.CheckpointEvery, state.Existing, t.logger)

	for i := 0; i < n; i++ {
		row := available[i]
		cond := synth.PickCondition(rng)

		start := time.Now()
		gen, genErr := a.gen.Generate(ctx, cond)
		a.metrics.LLMLatency.WithLabelValues(t.pipeline()).Observe(time.Since(start).Seconds())
		a.metrics.LLMRequestsTotal.WithLabelValues(t.pipeline(), metrics.RequestStatus(genErr)).Inc()

		if ctx.Err() != nil {
			if cp.Len() > 0 {
				if flushErr := cp.Flush(); flushErr != nil {
					t.logger.Error("Failed to save checkpoint", zap.Error(flushErr))
				}
			}
			return nil, ctx.Err()
		}

		switch {
		case genErr != nil:
			t.logger.Warn("Generation failed, skipping item", zap.String("source_id", row.ID), zap.Error(genErr))
			t.failed(metrics.RequestStatus(genErr))
		default:
			text := gen.Texts[0]
			if _, dup := seen[text]; dup {
				t.skipped("duplicate")
				break
			}
			seen[text] = struct{}{}
			rec := dataset.NewSyntheticHamRecord(text, row.ID, cond)
			cp.Add(rec)
			t.produced(rec, gen.Origin, gen.Provider, gen.Model)
		}

		if err := cp.Tick(); err != nil {
			return nil, fmt.Errorf("failed to save checkpoint: %w", err)
		}
		if opts.CheckpointEvery > 0 && (i+1)%opts.CheckpointEvery == 0 {
			t.checkpoint()
		}
		if a.Progress != nil {
			a.Progress(i+1, n)
		}
	}

	if n > 0 {
		if err := cp.Flush(); err != nil {
			return nil, fmt.Errorf("failed to save output: %w", err)
		}
	}
	return t.result(len(state.Existing), cp.Records()), nil
}

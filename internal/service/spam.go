package service

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/yoon0701/ZeroGravity/internal/dataset"
	"github.com/yoon0701/ZeroGravity/internal/extract"
	"github.com/yoon0701/ZeroGravity/internal/instruct"
	"github.com/yoon0701/ZeroGravity/internal/metrics"
	"github.com/yoon0701/ZeroGravity/internal/models"
	"github.com/yoon0701/ZeroGravity/internal/synth"
)

// SpamOptions configures one spam synthesis run.
type SpamOptions struct {
	RunID string
	// Directory of instruct files, or a single file
	InPath string
	Output string
	// Maximum number of instruct files to read; 0 reads all
	Limit int
	// Messages requested per seed
	NPer   int
	Target int
	Seed   int64
	// Rewrite the output every this many seeds
	CheckpointEvery int
}

// SpamSynthesizer turns instruct seeds into the spam table.
type SpamSynthesizer struct {
	client  synth.Completer
	cfg     synth.SpamConfig
	ledger  Ledger
	metrics *metrics.Metrics
	logger  *zap.Logger
	// Progress, if set, is called after every seed with the row count so far.
	Progress func(rows, target int)
}

func NewSpamSynthesizer(client synth.Completer, cfg synth.SpamConfig, ledger Ledger, m *metrics.Metrics, logger *zap.Logger) *SpamSynthesizer {
	if m == nil {
		m = metrics.NewNop()
	}
	return &SpamSynthesizer{client: client, cfg: cfg, ledger: ledger, metrics: m, logger: logger}
}

func spamRowID(seedID string, index, nper int) string {
	if nper > 1 {
		return fmt.Sprintf("%s-%02d", seedID, index)
	}
	return seedID
}

// Run generates until the table holds opts.Target rows or the seeds run out,
// then writes the deduplicated, sampled table. Seeds already present in
// opts.Output are not generated again.
func (s *SpamSynthesizer) Run(ctx context.Context, opts SpamOptions) (res *Result, err error) {
	if opts.NPer <= 0 {
		opts.NPer = 1
	}
	t := startRun(opts.RunID, models.RunSpam, opts.Output, opts.Target, s.ledger, s.metrics, s.logger)
	defer func() { t.finish(err) }()

	files, err := extract.ListJSONFiles(opts.InPath, false, opts.Limit)
	if err != nil {
		return nil, err
	}
	t.logger.Info("Found instruct files", zap.Int("count", len(files)), zap.String("path", opts.InPath))
	for i, f := range files {
		if i == 10 {
			break
		}
		t.logger.Debug("Instruct file", zap.String("file", f))
	}

	items := instruct.LoadItems(files, t.logger)
	t.logger.Info("Loaded instruct items", zap.Int("count", len(items)))

	state, err := dataset.Resume(opts.Output, opts.Target)
	if err != nil {
		return nil, err
	}
	if len(state.Existing) > 0 {
		t.logger.Info("Resuming from existing output", zap.Int("existing", len(state.Existing)))
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	gen := synth.NewSpamGenerator(s.client, s.cfg, rng, t.logger)
	cp := dataset.NewCheckpointer(opts.Output, opts.CheckpointEvery, state.Existing, t.logger)

	usedSeeds := state.UsedSeeds(opts.NPer > 1)
	seen := make(map[string]struct{}, opts.Target)
	for _, r := range state.Existing {
		seen[r.Text] = struct{}{}
	}

	for _, item := range items {
		if cp.Len() >= opts.Target {
			break
		}
		if err := ctx.Err(); err != nil {
			s.saveOnCancel(t, cp)
			return nil, err
		}

		seedID := item.ID(rng)
		if _, done := usedSeeds[seedID]; done {
			t.logger.Debug("Seed already in output", zap.String("seed", seedID))
			continue
		}
		text := item.Text()
		if text == "" {
			t.skipped("empty_seed")
			continue
		}

		start := time.Now()
		g, genErr := gen.Generate(ctx, text, opts.NPer)
		s.metrics.LLMLatency.WithLabelValues(t.pipeline()).Observe(time.Since(start).Seconds())
		s.metrics.LLMRequestsTotal.WithLabelValues(t.pipeline(), metrics.RequestStatus(genErr)).Inc()
		if genErr != nil {
			if ctx.Err() != nil {
				s.saveOnCancel(t, cp)
				return nil, ctx.Err()
			}
			t.logger.Warn("Generation failed, skipping seed", zap.String("seed", seedID), zap.Error(genErr))
			t.failed(metrics.RequestStatus(genErr))
		} else {
			s.keep(t, cp, seen, g, seedID, opts)
		}

		if err := cp.Tick(); err != nil {
			return nil, fmt.Errorf("failed to save checkpoint: %w", err)
		}
		if s.Progress != nil {
			s.Progress(cp.Len(), opts.Target)
		}
	}

	final := dataset.Assemble(cp.Records(), opts.Target, opts.Seed)
	if len(final) == 0 {
		t.logger.Warn("No rows generated", zap.Int("seeds", len(items)))
		return t.result(len(state.Existing), nil), nil
	}
	if err := dataset.WriteCSV(opts.Output, final); err != nil {
		return nil, fmt.Errorf("failed to write spam table: %w", err)
	}
	t.logger.Info("Saved spam table",
		zap.String("path", opts.Output),
		zap.Int("rows", len(final)),
		zap.Int("skipped", t.run.SkippedCount+t.run.FailedCount))
	return t.result(len(state.Existing), final), nil
}

// keep sanitizes and validates the candidates of one seed and adds the ones
// that pass, at most NPer of them.
func (s *SpamSynthesizer) keep(t *runTracker, cp *dataset.Checkpointer, seen map[string]struct{}, g *synth.Generation, seedID string, opts SpamOptions) {
	kept := 0
	for i, raw := range g.Texts {
		if kept >= opts.NPer || cp.Len() >= opts.Target {
			return
		}
		msg := synth.Sanitize(raw)
		if err := synth.Check(msg); err != nil {
			reason := synth.RejectReason(err)
			s.metrics.ValidationRejects.WithLabelValues(reason).Inc()
			t.logger.Debug("Candidate rejected", zap.String("seed", seedID), zap.String("reason", reason))
			continue
		}
		if _, dup := seen[msg]; dup {
			t.skipped("duplicate")
			continue
		}
		seen[msg] = struct{}{}

		rec := dataset.NewSpamRecord(msg, spamRowID(seedID, i+1, opts.NPer))
		cp.Add(rec)
		t.produced(rec, g.Origin, g.Provider, g.Model)
		kept++
	}
	if kept == 0 {
		t.skipped("all_rejected")
	}
}

func (s *SpamSynthesizer) saveOnCancel(t *runTracker, cp *dataset.Checkpointer) {
	if cp.Len() == 0 {
		return
	}
	if err := cp.Flush(); err != nil {
		t.logger.Error("Failed to save checkpoint", zap.Error(err))
	}
}

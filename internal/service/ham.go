package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/yoon0701/ZeroGravity/internal/dataset"
	"github.com/yoon0701/ZeroGravity/internal/extract"
	"github.com/yoon0701/ZeroGravity/internal/metrics"
	"github.com/yoon0701/ZeroGravity/internal/models"
	"github.com/yoon0701/ZeroGravity/internal/normalize"
)

// HamOptions configures one ham extraction run.
type HamOptions struct {
	RunID    string
	InputDir string
	Output   string
	Target   int
	Seed     int64
	// Maximum number of files to scan; 0 scans everything
	Limit int
}

// HamBuilder turns a tree of annotation documents into the ham table.
type HamBuilder struct {
	ledger  Ledger
	metrics *metrics.Metrics
	logger  *zap.Logger
	// Progress, if set, is called after every scanned file.
	Progress func(done, total int)
}

func NewHamBuilder(ledger Ledger, m *metrics.Metrics, logger *zap.Logger) *HamBuilder {
	if m == nil {
		m = metrics.NewNop()
	}
	return &HamBuilder{ledger: ledger, metrics: m, logger: logger}
}

// Run extracts, normalizes, tags, dedupes and samples, then writes the
// output table. Nothing is written when no row survives.
func (b *HamBuilder) Run(ctx context.Context, opts HamOptions) (res *Result, err error) {
	t := startRun(opts.RunID, models.RunHam, opts.Output, opts.Target, b.ledger, b.metrics, b.logger)
	defer func() { t.finish(err) }()

	files, err := extract.ListJSONFiles(opts.InputDir, true, opts.Limit)
	if err != nil {
		return nil, err
	}
	t.logger.Info("Found JSON files", zap.Int("count", len(files)), zap.String("dir", opts.InputDir))

	batch := extract.NewBatch(t.logger)
	done := 0
	batch.OnFile = func(path string, ok bool) {
		done++
		if b.Progress != nil {
			b.Progress(done, len(files))
		}
	}
	extracted, err := batch.Run(ctx, files)
	if err != nil {
		return nil, err
	}
	for i := 0; i < extracted.Skipped-extracted.Unreadable; i++ {
		t.skipped("no_candidate")
	}
	for i := 0; i < extracted.Unreadable; i++ {
		t.skipped("unreadable")
	}

	rows := make([]models.Record, 0, len(extracted.Utterances))
	for _, u := range extracted.Utterances {
		text := normalize.Normalize(u.Text)
		if text == "" {
			t.skipped("empty")
			continue
		}
		rows = append(rows, dataset.NewHamRecord(text, u.ID))
	}

	final := dataset.Assemble(rows, opts.Target, opts.Seed)
	if dropped := len(rows) - len(final); dropped > 0 {
		t.logger.Info("Dropped rows while assembling", zap.Int("dropped", dropped))
	}
	if len(final) == 0 {
		t.logger.Warn("No rows collected", zap.Int("skipped_files", extracted.Skipped))
		return t.result(0, nil), nil
	}

	if err := dataset.WriteCSV(opts.Output, final); err != nil {
		return nil, fmt.Errorf("failed to write ham table: %w", err)
	}
	for _, rec := range final {
		t.produced(rec, models.OriginExtracted, "", "")
	}

	t.logger.Info("Saved ham table",
		zap.String("path", opts.Output),
		zap.Int("rows", len(final)),
		zap.Int("skipped_files", extracted.Skipped))
	return t.result(0, final), nil
}

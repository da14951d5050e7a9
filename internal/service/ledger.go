package service

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yoon0701/ZeroGravity/internal/metrics"
	"github.com/yoon0701/ZeroGravity/internal/models"
)

// Ledger records runs and the rows they produce. A nil Ledger disables
// recording.
type Ledger interface {
	CreateRun(run *models.Run) error
	UpdateRun(run *models.Run) error
	SaveRecord(rec *models.LedgerRecord) error
}

// Result summarizes one finished run.
type Result struct {
	RunID    string
	Output   string
	Existing int
	Produced int
	Skipped  int
	Failed   int
	Records  []models.Record
}

// runTracker keeps the ledger row and the metrics of one run in step.
type runTracker struct {
	run     *models.Run
	ledger  Ledger
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func startRun(id string, kind models.RunKind, output string, target int, ledger Ledger, m *metrics.Metrics, logger *zap.Logger) *runTracker {
	if id == "" {
		id = uuid.New().String()
	}
	t := &runTracker{
		run: &models.Run{
			ID:        id,
			Kind:      kind,
			Status:    models.StatusProcessing,
			Output:    output,
			Target:    target,
			CreatedAt: time.Now().UTC(),
		},
		ledger:  ledger,
		metrics: m,
		logger:  logger.With(zap.String("run_id", id), zap.String("pipeline", string(kind))),
	}
	if ledger != nil {
		if err := ledger.CreateRun(t.run); err != nil {
			t.logger.Warn("Failed to record run", zap.Error(err))
		}
	}
	t.logger.Info("Run started", zap.String("output", output), zap.Int("target", target))
	return t
}

func (t *runTracker) pipeline() string {
	return string(t.run.Kind)
}

func (t *runTracker) produced(rec models.Record, origin models.Origin, provider, model string) {
	t.run.ProducedCount++
	t.metrics.RecordsTotal.WithLabelValues(t.pipeline(), string(origin)).Inc()
	if t.ledger == nil {
		return
	}
	lr := &models.LedgerRecord{
		RunID:     t.run.ID,
		Origin:    origin,
		Provider:  provider,
		Model:     model,
		CreatedAt: time.Now().UTC(),
		Record:    rec,
	}
	if err := t.ledger.SaveRecord(lr); err != nil {
		t.logger.Warn("Failed to record row", zap.String("id", rec.ID), zap.Error(err))
	}
}

func (t *runTracker) skipped(reason string) {
	t.run.SkippedCount++
	t.metrics.SkippedTotal.WithLabelValues(t.pipeline(), reason).Inc()
}

func (t *runTracker) failed(reason string) {
	t.run.FailedCount++
	t.metrics.SkippedTotal.WithLabelValues(t.pipeline(), reason).Inc()
}

// checkpoint stores the counters without closing the run.
func (t *runTracker) checkpoint() {
	if t.ledger == nil {
		return
	}
	if err := t.ledger.UpdateRun(t.run); err != nil {
		t.logger.Warn("Failed to update run", zap.Error(err))
	}
}

func (t *runTracker) finish(err error) {
	now := time.Now().UTC()
	t.run.CompletedAt = &now
	if err != nil {
		t.run.Status = models.StatusFailed
		t.run.ErrorMessage = err.Error()
	} else {
		t.run.Status = models.StatusCompleted
	}
	t.metrics.RunsTotal.WithLabelValues(t.pipeline(), t.run.Status).Inc()
	t.checkpoint()

	t.logger.Info("Run finished",
		zap.String("status", t.run.Status),
		zap.Int("produced", t.run.ProducedCount),
		zap.Int("skipped", t.run.SkippedCount),
		zap.Int("failed", t.run.FailedCount))
}

func (t *runTracker) result(existing int, records []models.Record) *Result {
	return &Result{
		RunID:    t.run.ID,
		Output:   t.run.Output,
		Existing: existing,
		Produced: t.run.ProducedCount,
		Skipped:  t.run.SkippedCount,
		Failed:   t.run.FailedCount,
		Records:  records,
	}
}

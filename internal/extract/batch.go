package extract

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/yoon0701/ZeroGravity/internal/models"
)

// BatchResult is the outcome of one pass over a list of files.
type BatchResult struct {
	Utterances []Utterance
	Scanned    int
	Skipped    int
	Unreadable int
}

// Batch extracts one utterance per file, one file at a time.
type Batch struct {
	logger *zap.Logger
	// OnFile is called after every file, if set.
	OnFile func(path string, ok bool)
}

func NewBatch(logger *zap.Logger) *Batch {
	return &Batch{logger: logger}
}

// Run processes files in order. A file that cannot be read or parsed, or that
// holds no usable utterance, is counted as skipped and does not stop the
// batch. Only context cancellation ends the run early.
func (b *Batch) Run(ctx context.Context, files []string) (*BatchResult, error) {
	res := &BatchResult{}
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Scanned++

		u, err := ExtractFile(path)
		ok := err == nil
		switch {
		case ok:
			res.Utterances = append(res.Utterances, u)
		case errors.Is(err, models.ErrNoCandidate):
			res.Skipped++
			b.logger.Debug("No utterance found", zap.String("file", path))
		default:
			res.Skipped++
			res.Unreadable++
			b.logger.Warn("Skipping unreadable file", zap.String("file", path), zap.Error(err))
		}
		if b.OnFile != nil {
			b.OnFile(path, ok)
		}
	}

	b.logger.Info("Extraction finished",
		zap.Int("scanned", res.Scanned),
		zap.Int("extracted", len(res.Utterances)),
		zap.Int("skipped", res.Skipped))
	return res, nil
}

package service

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrBusy is returned when a run is already in progress.
var ErrBusy = errors.New("a run is already in progress")

// Runner starts pipeline runs in the background, one at a time.
type Runner struct {
	mu      sync.Mutex
	current string
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  *zap.Logger
}

func NewRunner(logger *zap.Logger) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{ctx: ctx, cancel: cancel, logger: logger}
}

// Start assigns a run id and calls fn with it in a new goroutine.
func (r *Runner) Start(fn func(ctx context.Context, runID string) error) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current != "" {
		return "", ErrBusy
	}
	if r.ctx.Err() != nil {
		return "", r.ctx.Err()
	}

	runID := uuid.New().String()
	r.current = runID
	r.wg.Add(1)

	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			r.current = ""
			r.mu.Unlock()
		}()

		if err := fn(r.ctx, runID); err != nil {
			r.logger.Error("Background run failed", zap.String("run_id", runID), zap.Error(err))
		}
	}()

	return runID, nil
}

// Current returns the id of the active run, or "".
func (r *Runner) Current() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Shutdown cancels the active run and waits for it to save its checkpoint.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

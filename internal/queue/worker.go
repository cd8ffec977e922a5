package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/bissquit/notification-queue/internal/pkg/ctxlog"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

const cycleKey = "dispatch-cycle"

// CycleResult summarizes one dispatch cycle.
type CycleResult struct {
	Recovered  int64 `json:"recovered"`
	Dispatched int   `json:"dispatched"`
	Retried    int   `json:"retried"`
}

// Worker runs the dispatch cycle on a fixed period.
type Worker struct {
	config     Config
	dispatcher *Dispatcher
	group      singleflight.Group

	// life bounds every cycle. Stop cancels it.
	life   context.Context
	cancel context.CancelFunc

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewWorker creates a new dispatch worker.
func NewWorker(config Config, dispatcher *Dispatcher) *Worker {
	life, cancel := context.WithCancel(context.Background())
	return &Worker{
		config:     config,
		dispatcher: dispatcher,
		life:       life,
		cancel:     cancel,
		stopCh:     make(chan struct{}),
	}
}

// Start launches the worker goroutine. The first cycle runs one period after
// start. Cancelling ctx stops the loop and aborts an in-flight cycle.
func (w *Worker) Start(ctx context.Context) {
	if !w.config.Enabled {
		slog.Info("notification queue disabled, dispatch worker not started")
		return
	}

	slog.Info("starting dispatch worker",
		"batch_size", w.config.BatchSize,
		"processing_interval", w.config.processingInterval(),
		"retry_interval", w.config.RetryInterval,
		"max_attempts", w.config.maxAttempts(),
	)

	context.AfterFunc(ctx, w.cancel)

	w.wg.Add(1)
	go w.run(ctx)
}

// Stop aborts any in-flight cycle and waits for the loop to return. Items an
// aborted cycle did not hand off go back to pending.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.cancel()
	})
	w.wg.Wait()
	slog.Info("dispatch worker stopped")
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.processingInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			if _, err := w.RunNow(ctx); err != nil {
				slog.Error("dispatch cycle failed", "error", err)
			}
		}
	}
}

// RunNow runs a cycle immediately. A call made while a cycle is in flight
// waits for that cycle and shares its result. The cycle does not inherit
// ctx cancellation: a caller that gives up gets ctx.Err() while the cycle
// runs to completion for everyone else sharing it.
func (w *Worker) RunNow(ctx context.Context) (CycleResult, error) {
	ch := w.group.DoChan(cycleKey, func() (any, error) {
		cycleCtx, cancel := w.cycleContext(ctx)
		defer cancel()
		return w.runCycle(cycleCtx)
	})

	select {
	case res := <-ch:
		if res.Shared {
			slog.Debug("joined in-flight dispatch cycle")
		}
		result, _ := res.Val.(CycleResult)
		return result, res.Err
	case <-ctx.Done():
		return CycleResult{}, ctx.Err()
	}
}

// cycleContext keeps the values of ctx and takes cancellation from the worker.
func (w *Worker) cycleContext(ctx context.Context) (context.Context, context.CancelFunc) {
	cycleCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(w.life, cancel)
	return cycleCtx, func() {
		stop()
		cancel()
	}
}

func (w *Worker) runCycle(ctx context.Context) (CycleResult, error) {
	start := time.Now()
	ctx, logger := ctxlog.With(ctx, "cycle_id", uuid.NewString())

	var (
		result CycleResult
		errs   []error
	)

	recovered, err := w.dispatcher.RecoverStuckClaims(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	result.Recovered = recovered

	dispatched, err := w.dispatcher.ProcessDueNotifications(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	result.Dispatched = len(dispatched)

	retried, err := w.dispatcher.RetryFailedNotifications(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	result.Retried = retried

	duration := time.Since(start)
	recordCycleDuration(duration)

	logger.Debug("dispatch cycle finished",
		"recovered", result.Recovered,
		"dispatched", result.Dispatched,
		"retried", result.Retried,
		"duration", duration,
	)

	return result, errors.Join(errs...)
}

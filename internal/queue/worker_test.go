package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bissquit/notification-queue/internal/pkg/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockingRepository holds FindDue until released.
type blockingRepository struct {
	*mockRepository
	entered chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (b *blockingRepository) FindDue(ctx context.Context, filter DueFilter) ([]*QueueItem, error) {
	if b.calls.Add(1) == 1 {
		close(b.entered)
	}
	<-b.release
	return b.mockRepository.FindDue(ctx, filter)
}

func TestWorker_RunNow(t *testing.T) {
	repo := newMockRepository()
	repo.add(&QueueItem{UserID: "user-1", Status: QueueStatusPending, ScheduledFor: testNow})
	stale := testNow.Add(-time.Hour)
	repo.add(&QueueItem{UserID: "user-1", Status: QueueStatusFailed, Attempts: 1, MaxAttempts: 3, LastAttemptAt: &stale})

	w := NewWorker(DefaultConfig(), NewDispatcher(DefaultConfig(), repo, clock.Fixed(testNow), nil))
	result, err := w.RunNow(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Dispatched)
	assert.Equal(t, 1, result.Retried)
	assert.Zero(t, result.Recovered)
}

func TestWorker_RunNow_SingleFlight(t *testing.T) {
	repo := &blockingRepository{
		mockRepository: newMockRepository(),
		entered:        make(chan struct{}),
		release:        make(chan struct{}),
	}
	repo.add(&QueueItem{UserID: "user-1", Status: QueueStatusPending, ScheduledFor: testNow})

	w := NewWorker(DefaultConfig(), NewDispatcher(DefaultConfig(), repo, clock.Fixed(testNow), nil))

	var wg sync.WaitGroup
	results := make([]CycleResult, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := w.RunNow(context.Background())
			assert.NoError(t, err)
			results[i] = res
		}(i)
		if i == 0 {
			<-repo.entered
		}
	}

	// Give the second caller time to join the in-flight cycle.
	time.Sleep(50 * time.Millisecond)
	close(repo.release)
	wg.Wait()

	assert.Equal(t, int32(1), repo.calls.Load(), "concurrent runs must share one cycle")
	assert.Equal(t, 1, results[0].Dispatched)
	assert.Equal(t, results[0], results[1])
}

func TestWorker_StartStop(t *testing.T) {
	repo := newMockRepository()
	repo.add(&QueueItem{UserID: "user-1", Status: QueueStatusPending, ScheduledFor: testNow})

	config := DefaultConfig()
	config.ProcessingInterval = 10 * time.Millisecond
	w := NewWorker(config, NewDispatcher(config, repo, clock.Fixed(testNow), nil))

	w.Start(context.Background())
	assert.Eventually(t, func() bool {
		stats, err := repo.GetQueueStats(context.Background())
		return err == nil && stats.Sent == 1
	}, time.Second, 5*time.Millisecond)

	w.Stop()
	w.Stop()
}

func TestWorker_DisabledDoesNotStart(t *testing.T) {
	repo := newMockRepository()
	repo.add(&QueueItem{UserID: "user-1", Status: QueueStatusPending, ScheduledFor: testNow})

	config := DefaultConfig()
	config.Enabled = false
	config.ProcessingInterval = time.Millisecond
	w := NewWorker(config, NewDispatcher(config, repo, clock.Fixed(testNow), nil))

	w.Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	w.Stop()

	assert.Zero(t, repo.saveAllCalls)
}

// waitingPublisher blocks until the dispatch context ends.
type waitingPublisher struct {
	entered chan struct{}
	once    sync.Once
}

func (p *waitingPublisher) Publish(ctx context.Context, _ ItemView) error {
	p.once.Do(func() { close(p.entered) })
	<-ctx.Done()
	return ctx.Err()
}

func (p *waitingPublisher) Close() error {
	return nil
}

func TestWorker_RunNow_CallerCancelDoesNotAbortCycle(t *testing.T) {
	repo := &blockingRepository{
		mockRepository: newMockRepository(),
		entered:        make(chan struct{}),
		release:        make(chan struct{}),
	}
	id := repo.add(&QueueItem{UserID: "user-1", Status: QueueStatusPending, ScheduledFor: testNow, MaxAttempts: 1})
	publisher := &mockPublisher{}
	w := NewWorker(DefaultConfig(), NewDispatcher(DefaultConfig(), repo, clock.Fixed(testNow), publisher))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := w.RunNow(ctx)
		done <- err
	}()

	<-repo.entered
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	close(repo.release)
	assert.Eventually(t, func() bool {
		return repo.get(id).Status == QueueStatusSent
	}, time.Second, 5*time.Millisecond)

	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	assert.Len(t, publisher.published, 1)
}

func TestWorker_StopAbortsInFlightCycle(t *testing.T) {
	repo := newMockRepository()
	id := repo.add(&QueueItem{UserID: "user-1", Status: QueueStatusPending, ScheduledFor: testNow, MaxAttempts: 1})
	publisher := &waitingPublisher{entered: make(chan struct{})}
	w := NewWorker(DefaultConfig(), NewDispatcher(DefaultConfig(), repo, clock.Fixed(testNow), publisher))

	done := make(chan CycleResult, 1)
	go func() {
		result, _ := w.RunNow(context.Background())
		done <- result
	}()

	<-publisher.entered
	w.Stop()

	select {
	case result := <-done:
		assert.Zero(t, result.Dispatched)
	case <-time.After(time.Second):
		t.Fatal("cycle did not stop")
	}

	item := repo.get(id)
	assert.Equal(t, QueueStatusPending, item.Status)
	assert.Zero(t, item.Attempts)
}

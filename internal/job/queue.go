package job

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/RaajeevKalyan/portfolio-analyzer/internal/logging"
	"github.com/RaajeevKalyan/portfolio-analyzer/internal/metrics"
)

// ErrQueueFull is returned when the queue cannot accept more snapshots
var ErrQueueFull = errors.New("resolution queue is full")

// ErrQueueStopped is returned when enqueuing after Stop
var ErrQueueStopped = errors.New("resolution queue is stopped")

// Runner resolves one snapshot
type Runner interface {
	Run(ctx context.Context, snapshotID int64) error
}

// SweepSource lists snapshots that still have unresolved holdings
type SweepSource interface {
	SnapshotsNeedingResolution(ctx context.Context) ([]int64, error)
}

// Queue serializes resolution runs on a single background worker so only
// one run touches the tracker at a time. A snapshot already waiting in the
// queue is not added twice.
type Queue struct {
	mu sync.Mutex

	runner  Runner
	items   chan int64
	pending map[int64]bool
	active  int64

	started bool
	stopped bool
	stopCh  chan struct{}
	done    chan struct{}
}

// NewQueue creates a queue holding up to size waiting snapshots
func NewQueue(runner Runner, size int) *Queue {
	if size <= 0 {
		size = 64
	}
	return &Queue{
		runner:  runner,
		items:   make(chan int64, size),
		pending: make(map[int64]bool),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start begins processing snapshots
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.started {
		return fmt.Errorf("queue already started")
	}
	q.started = true

	go q.process(ctx)
	return nil
}

// Stop ends the worker after the current run finishes
func (q *Queue) Stop() error {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return fmt.Errorf("queue already stopped")
	}
	q.stopped = true
	started := q.started
	close(q.stopCh)
	q.mu.Unlock()

	if started {
		<-q.done
	}
	return nil
}

// Enqueue adds a snapshot. It returns false when the snapshot is already
// waiting.
func (q *Queue) Enqueue(snapshotID int64) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		return false, ErrQueueStopped
	}
	if q.pending[snapshotID] {
		return false, nil
	}

	select {
	case q.items <- snapshotID:
		q.pending[snapshotID] = true
		metrics.SetQueueDepth(len(q.pending))
		return true, nil
	default:
		return false, ErrQueueFull
	}
}

// EnqueueUnresolved queues every snapshot that still has work and returns
// how many were added.
func (q *Queue) EnqueueUnresolved(ctx context.Context, src SweepSource) (int, error) {
	ids, err := src.SnapshotsNeedingResolution(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list unresolved snapshots: %w", err)
	}

	added := 0
	for _, id := range ids {
		ok, err := q.Enqueue(id)
		if err != nil {
			return added, err
		}
		if ok {
			added++
		}
	}
	return added, nil
}

// Pending returns the number of waiting snapshots
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Active returns the snapshot being resolved, or 0
func (q *Queue) Active() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active
}

// process is the worker loop
func (q *Queue) process(ctx context.Context) {
	defer close(q.done)
	logger := logging.FromContext(ctx).WithField("component", "resolution-queue")

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stopCh:
			return
		case id := <-q.items:
			q.mu.Lock()
			delete(q.pending, id)
			q.active = id
			metrics.SetQueueDepth(len(q.pending))
			q.mu.Unlock()

			if err := q.runner.Run(ctx, id); err != nil {
				logger.WithError(err).WithField("snapshotId", id).Warn("Resolution run ended with error")
			}

			q.mu.Lock()
			q.active = 0
			q.mu.Unlock()
		}
	}
}

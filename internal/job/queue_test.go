package job

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingRunner struct {
	mu      sync.Mutex
	ran     []int64
	release chan struct{}
	started chan int64
}

func newRecordingRunner() *recordingRunner {
	return &recordingRunner{release: make(chan struct{}), started: make(chan int64, 16)}
}

func (r *recordingRunner) Run(ctx context.Context, snapshotID int64) error {
	r.started <- snapshotID
	<-r.release
	r.mu.Lock()
	r.ran = append(r.ran, snapshotID)
	r.mu.Unlock()
	return nil
}

func (r *recordingRunner) order() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.ran...)
}

type staticSweepSource struct {
	ids []int64
	err error
}

func (s staticSweepSource) SnapshotsNeedingResolution(ctx context.Context) ([]int64, error) {
	return s.ids, s.err
}

func TestQueue_DeduplicatesPendingSnapshots(t *testing.T) {
	q := NewQueue(newRecordingRunner(), 4)

	ok, err := q.Enqueue(1)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = q.Enqueue(1)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, 1, q.Pending())
}

func TestQueue_Full(t *testing.T) {
	q := NewQueue(newRecordingRunner(), 1)
	_, err := q.Enqueue(1)
	require.NoError(t, err)

	_, err = q.Enqueue(2)
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestQueue_RunsSerially(t *testing.T) {
	runner := newRecordingRunner()
	q := NewQueue(runner, 4)
	require.NoError(t, q.Start(context.Background()))

	for _, id := range []int64{1, 2, 3} {
		_, err := q.Enqueue(id)
		require.NoError(t, err)
	}

	for _, want := range []int64{1, 2, 3} {
		select {
		case got := <-runner.started:
			assert.Equal(t, want, got)
			assert.Equal(t, want, q.Active())
		case <-time.After(2 * time.Second):
			t.Fatalf("run %d never started", want)
		}
		// the next run cannot start until this one is released
		select {
		case id := <-runner.started:
			t.Fatalf("run %d started concurrently", id)
		case <-time.After(20 * time.Millisecond):
		}
		runner.release <- struct{}{}
	}

	require.NoError(t, q.Stop())
	assert.Equal(t, []int64{1, 2, 3}, runner.order())
}

func TestQueue_EnqueueAfterRunStartedIsAccepted(t *testing.T) {
	runner := newRecordingRunner()
	q := NewQueue(runner, 4)
	require.NoError(t, q.Start(context.Background()))

	_, err := q.Enqueue(5)
	require.NoError(t, err)
	<-runner.started

	// 5 is active, not pending, so a new upload may queue it again
	ok, err := q.Enqueue(5)
	require.NoError(t, err)
	assert.True(t, ok)

	runner.release <- struct{}{}
	<-runner.started
	runner.release <- struct{}{}
	require.NoError(t, q.Stop())
}

func TestQueue_StopRejectsEnqueue(t *testing.T) {
	q := NewQueue(newRecordingRunner(), 4)
	require.NoError(t, q.Start(context.Background()))
	require.NoError(t, q.Stop())

	_, err := q.Enqueue(1)
	assert.ErrorIs(t, err, ErrQueueStopped)
	assert.Error(t, q.Stop())
}

func TestQueue_EnqueueUnresolved(t *testing.T) {
	q := NewQueue(newRecordingRunner(), 8)
	_, err := q.Enqueue(2)
	require.NoError(t, err)

	added, err := q.EnqueueUnresolved(context.Background(), staticSweepSource{ids: []int64{1, 2, 3}})
	require.NoError(t, err)
	assert.Equal(t, 2, added)
	assert.Equal(t, 3, q.Pending())

	_, err = q.EnqueueUnresolved(context.Background(), staticSweepSource{err: errors.New("db down")})
	assert.Error(t, err)
}

func TestSweeper_RunNowAndInvalidSchedule(t *testing.T) {
	q := NewQueue(newRecordingRunner(), 8)
	src := staticSweepSource{ids: []int64{4, 5}}

	_, err := NewSweeper("not a schedule", q, src, nil)
	require.Error(t, err)

	s, err := NewSweeper("@every 6h", q, src, nil)
	require.NoError(t, err)
	s.Start()
	defer s.Stop()

	added, err := s.RunNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, added)
}

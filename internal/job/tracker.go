package job

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/RaajeevKalyan/portfolio-analyzer/internal/logging"
	"github.com/RaajeevKalyan/portfolio-analyzer/internal/models"
)

// MaxTrackedErrors bounds the tracker error log
const MaxTrackedErrors = 50

// ErrAlreadyRunning is returned by Start while a run is active
var ErrAlreadyRunning = errors.New("a resolution run is already active")

// ErrRunLocked is returned by Start when another process owns the run lock
var ErrRunLocked = fmt.Errorf("%w in another process", ErrAlreadyRunning)

// StatusMirror persists the tracker state so it survives a restart
type StatusMirror interface {
	SaveStatus(ctx context.Context, status *models.ResolutionStatus) error
	LoadStatus(ctx context.Context) (*models.ResolutionStatus, error)
}

// RunLock is a lease shared by every process that runs resolution
type RunLock interface {
	Acquire(ctx context.Context, owner string) (bool, error)
	Refresh(ctx context.Context, owner string) (bool, error)
	Release(ctx context.Context, owner string) error
	Holder(ctx context.Context) (string, error)
	TTL() time.Duration
}

// TrackerOption configures a Tracker
type TrackerOption func(*Tracker)

// WithRunLock makes Start take lock so only one process runs at a time.
// The lease is refreshed every third of its TTL until the run finishes.
func WithRunLock(lock RunLock) TrackerOption {
	return func(t *Tracker) {
		t.lock = lock
	}
}

// Tracker is the process-wide progress state of the single active
// resolution run. All methods are safe for concurrent use.
type Tracker struct {
	mu     sync.Mutex
	status models.ResolutionStatus
	mirror StatusMirror
	lock   RunLock
	now    func() time.Time

	// stopRefresh ends the lease refresh loop of the active run
	stopRefresh chan struct{}
}

// NewTracker creates an idle tracker. mirror may be nil.
func NewTracker(mirror StatusMirror, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		status: models.ResolutionStatus{CurrentStep: models.StepIdle, Errors: []models.ResolutionError{}},
		mirror: mirror,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Restore loads the mirrored status. A run that was still marked running
// belonged to a process that died, unless its run lock is still held; a
// dead run is recorded as failed. A live run in another process is left
// untouched and reported through Current.
func (t *Tracker) Restore(ctx context.Context) error {
	if t.mirror == nil {
		return nil
	}
	saved, err := t.mirror.LoadStatus(ctx)
	if err != nil {
		return err
	}
	if saved == nil {
		return nil
	}
	if saved.IsRunning && t.lock != nil {
		holder, err := t.lock.Holder(ctx)
		if err != nil {
			return err
		}
		if holder != "" {
			return nil
		}
	}

	t.mu.Lock()
	t.status = saved.Clone()
	interrupted := t.status.IsRunning
	if interrupted {
		now := t.now().UTC()
		t.status.IsRunning = false
		t.status.CurrentStep = models.StepFailed
		t.status.CurrentSymbol = ""
		t.status.CompletedAt = &now
		t.status.CompletionMessage = "interrupted by restart"
	}
	t.mu.Unlock()

	if interrupted {
		t.persist()
	}
	return nil
}

// Snapshot returns a copy of the current status
func (t *Tracker) Snapshot() models.ResolutionStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status.Clone()
}

// Current returns the local status, or the mirrored one when another
// process is running (or has more recently run) resolution
func (t *Tracker) Current(ctx context.Context) models.ResolutionStatus {
	local := t.Snapshot()
	if local.IsRunning || t.mirror == nil {
		return local
	}
	saved, err := t.mirror.LoadStatus(ctx)
	if err != nil || saved == nil || saved.RunID == "" || saved.RunID == local.RunID {
		return local
	}
	if saved.IsRunning {
		if t.lock == nil {
			return local
		}
		holder, err := t.lock.Holder(ctx)
		if err != nil || holder != saved.RunID {
			return local
		}
		return *saved
	}
	if local.LastUpdate == nil || (saved.LastUpdate != nil && saved.LastUpdate.After(*local.LastUpdate)) {
		return *saved
	}
	return local
}

// IsRunning reports whether a run is active
func (t *Tracker) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status.IsRunning
}

// Start resets the status for a new run
func (t *Tracker) Start(snapshotID int64, runID string) error {
	t.mu.Lock()
	if t.status.IsRunning {
		t.mu.Unlock()
		return ErrAlreadyRunning
	}
	if err := t.acquire(runID); err != nil {
		t.mu.Unlock()
		return err
	}
	now := t.now().UTC()
	t.status = models.ResolutionStatus{
		IsRunning:   true,
		RunID:       runID,
		SnapshotID:  snapshotID,
		CurrentStep: models.StepInitializing,
		StartedAt:   &now,
		LastUpdate:  &now,
		Errors:      []models.ResolutionError{},
	}
	if t.lock != nil {
		t.stopRefresh = make(chan struct{})
		go t.refreshLoop(runID, t.stopRefresh)
	}
	t.mu.Unlock()

	t.persist()
	return nil
}

// acquire takes the run lock. Redis failures are logged and the run
// proceeds; the lock only guards against a second process.
func (t *Tracker) acquire(runID string) error {
	if t.lock == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ok, err := t.lock.Acquire(ctx, runID)
	if err != nil {
		logging.WithError(err).Warn("Run lock unavailable, starting without it")
		return nil
	}
	if !ok {
		return ErrRunLocked
	}
	return nil
}

func (t *Tracker) refreshLoop(runID string, stop <-chan struct{}) {
	interval := t.lock.TTL() / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			ok, err := t.lock.Refresh(ctx, runID)
			cancel()
			if err != nil {
				logging.WithError(err).WithField("runId", runID).Warn("Failed to refresh run lock")
			} else if !ok {
				logging.WithField("runId", runID).Warn("Run lock lost")
			}
		}
	}
}

func (t *Tracker) releaseLock(runID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := t.lock.Release(ctx, runID); err != nil {
		logging.WithError(err).WithField("runId", runID).Warn("Failed to release run lock")
	}
}

// SetTotals records the work discovered for the run
func (t *Tracker) SetTotals(funds, parents, underlying int) {
	t.update(func(s *models.ResolutionStatus) {
		s.FundsTotal = funds
		s.ParentTotal = parents
		s.UnderlyingTotal = underlying
	})
}

// SetUnderlyingTotal updates the constituent count once fund lists are known
func (t *Tracker) SetUnderlyingTotal(n int) {
	t.update(func(s *models.ResolutionStatus) {
		s.UnderlyingTotal = n
	})
}

// SetStep moves the run to a new phase
func (t *Tracker) SetStep(step models.ResolutionStep) {
	t.update(func(s *models.ResolutionStatus) {
		s.CurrentStep = step
		s.CurrentSymbol = ""
	})
	t.persist()
}

// SetSymbol records the symbol being processed
func (t *Tracker) SetSymbol(symbol string) {
	t.update(func(s *models.ResolutionStatus) {
		s.CurrentSymbol = symbol
	})
}

// FundProcessed counts one fund through constituent resolution
func (t *Tracker) FundProcessed() {
	t.update(func(s *models.ResolutionStatus) {
		s.FundsProcessed++
	})
}

// ParentProcessed counts one holding through sector/country enrichment.
// cacheHit is true when no provider call was needed.
func (t *Tracker) ParentProcessed(cacheHit bool) {
	t.update(func(s *models.ResolutionStatus) {
		s.ParentProcessed++
		countLookup(s, cacheHit)
	})
}

// UnderlyingProcessed counts one constituent through enrichment
func (t *Tracker) UnderlyingProcessed(cacheHit bool) {
	t.update(func(s *models.ResolutionStatus) {
		s.UnderlyingProcessed++
		countLookup(s, cacheHit)
	})
}

// AddAPICalls counts provider calls made outside symbol enrichment
func (t *Tracker) AddAPICalls(n int) {
	t.update(func(s *models.ResolutionStatus) {
		s.APICalls += n
	})
}

func countLookup(s *models.ResolutionStatus, cacheHit bool) {
	if cacheHit {
		s.CachedHits++
	} else {
		s.APICalls++
	}
}

// AddError appends to the bounded error log, keeping the most recent entries
func (t *Tracker) AddError(symbol string, err error) {
	t.update(func(s *models.ResolutionStatus) {
		s.Errors = append(s.Errors, models.ResolutionError{
			Symbol:    symbol,
			Error:     err.Error(),
			Timestamp: t.now().UTC(),
		})
		if over := len(s.Errors) - MaxTrackedErrors; over > 0 {
			s.Errors = append([]models.ResolutionError(nil), s.Errors[over:]...)
		}
	})
	t.persist()
}

// Complete marks the run finished
func (t *Tracker) Complete(message string) {
	t.finish(models.StepComplete, message)
}

// Fail marks the run failed
func (t *Tracker) Fail(message string) {
	t.finish(models.StepFailed, message)
}

func (t *Tracker) finish(step models.ResolutionStep, message string) {
	var runID string
	var stop chan struct{}
	t.update(func(s *models.ResolutionStatus) {
		now := t.now().UTC()
		s.IsRunning = false
		s.CurrentStep = step
		s.CurrentSymbol = ""
		s.CompletedAt = &now
		s.CompletionMessage = message
		runID = s.RunID
		stop, t.stopRefresh = t.stopRefresh, nil
	})
	t.persist()

	if stop != nil {
		close(stop)
		t.releaseLock(runID)
	}
}

func (t *Tracker) update(fn func(s *models.ResolutionStatus)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.status)
	now := t.now().UTC()
	t.status.LastUpdate = &now
}

// persist mirrors the status. Mirror failures are logged, never returned.
func (t *Tracker) persist() {
	if t.mirror == nil {
		return
	}
	status := t.Snapshot()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := t.mirror.SaveStatus(ctx, &status); err != nil {
		logging.WithError(err).Warn("Failed to mirror resolution status")
	}
}

// Package job runs holdings resolution in the background: fund constituent
// resolution, then sector/country enrichment of parent holdings, then of
// every constituent. Runs are serialized through a single queue and their
// progress is published through a Tracker.
package job

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/RaajeevKalyan/portfolio-analyzer/internal/fundholdings"
	"github.com/RaajeevKalyan/portfolio-analyzer/internal/logging"
	"github.com/RaajeevKalyan/portfolio-analyzer/internal/metrics"
	"github.com/RaajeevKalyan/portfolio-analyzer/internal/models"
	"github.com/RaajeevKalyan/portfolio-analyzer/internal/securityinfo"
	"github.com/shopspring/decimal"
)

// HoldingStore is the persistence the orchestrator needs. Each call is
// its own short transaction.
type HoldingStore interface {
	ListHoldings(ctx context.Context, snapshotID int64) ([]*models.Holding, error)
	UpdateResolution(ctx context.Context, holdings []*models.Holding) error
}

// FundResolver resolves a fund into constituents
type FundResolver interface {
	Resolve(ctx context.Context, symbol string, assetType models.AssetType, fundValue decimal.Decimal) *fundholdings.Result
}

// InfoSource is the security metadata cache
type InfoSource interface {
	GetOrFetch(ctx context.Context, symbol string) (*securityinfo.Lookup, error)
}

// CompletionHook runs after a successful run, e.g. to record history
type CompletionHook func(ctx context.Context, snapshotID int64) error

// OrchestratorConfig configures an Orchestrator
type OrchestratorConfig struct {
	Store   HoldingStore
	Funds   FundResolver
	Info    InfoSource
	Tracker *Tracker

	// MaxTransientAttempts is how many provider failures a fund may have
	// before it is given up. Default 3.
	MaxTransientAttempts int
	// CommitBatchSize bounds lost work during parent enrichment. Default 10.
	CommitBatchSize int
	OnComplete      CompletionHook
}

// Orchestrator runs the three resolution phases for one snapshot
type Orchestrator struct {
	store       HoldingStore
	funds       FundResolver
	info        InfoSource
	tracker     *Tracker
	maxAttempts int
	batchSize   int
	onComplete  CompletionHook
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	if cfg.MaxTransientAttempts <= 0 {
		cfg.MaxTransientAttempts = 3
	}
	if cfg.CommitBatchSize <= 0 {
		cfg.CommitBatchSize = 10
	}
	if cfg.Tracker == nil {
		cfg.Tracker = NewTracker(nil)
	}
	return &Orchestrator{
		store:       cfg.Store,
		funds:       cfg.Funds,
		info:        cfg.Info,
		tracker:     cfg.Tracker,
		maxAttempts: cfg.MaxTransientAttempts,
		batchSize:   cfg.CommitBatchSize,
		onComplete:  cfg.OnComplete,
	}
}

// Tracker returns the progress tracker
func (o *Orchestrator) Tracker() *Tracker {
	return o.tracker
}

// Run resolves one snapshot. Provider failures never fail the run; they
// are recorded in the tracker error log. Store failures and cancellation
// end the run as failed, leaving unfinished holdings for the next run.
func (o *Orchestrator) Run(ctx context.Context, snapshotID int64) (err error) {
	runID := uuid.NewString()
	if err := o.tracker.Start(snapshotID, runID); err != nil {
		return err
	}

	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"snapshotId": snapshotID,
		"runId":      runID,
	})
	ctx = logging.WithLogger(ctx, logger)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("resolution panicked: %v", r)
		}
		if err != nil {
			logger.WithError(err).Error("Resolution run failed")
			o.tracker.AddError("", err)
			o.tracker.Fail(err.Error())
			metrics.RecordRun(string(models.StepFailed), time.Since(start))
		}
	}()

	logger.Info("Resolution run started")

	holdings, err := o.store.ListHoldings(ctx, snapshotID)
	if err != nil {
		return fmt.Errorf("failed to load holdings: %w", err)
	}

	var funds, parents []*models.Holding
	underlying := 0
	for _, h := range holdings {
		if h.NeedsFundResolution() {
			funds = append(funds, h)
		}
		if !h.InfoFetched {
			parents = append(parents, h)
		}
		underlying += constituentsNeedingInfo(h)
	}
	o.tracker.SetTotals(len(funds), len(parents), underlying)

	if err := o.resolveFunds(ctx, funds); err != nil {
		return err
	}
	if err := o.enrichParents(ctx, parents); err != nil {
		return err
	}
	if err := o.enrichConstituents(ctx, snapshotID); err != nil {
		return err
	}

	status := o.tracker.Snapshot()
	message := fmt.Sprintf("resolved %d funds, %d holdings, %d constituents (%d cached, %d api calls, %d errors)",
		status.FundsProcessed, status.ParentProcessed, status.UnderlyingProcessed,
		status.CachedHits, status.APICalls, len(status.Errors))
	o.tracker.Complete(message)
	metrics.RecordRun(string(models.StepComplete), time.Since(start))
	logger.WithField("duration", time.Since(start).String()).Info("Resolution run complete: " + message)

	if o.onComplete != nil {
		if hookErr := o.onComplete(ctx, snapshotID); hookErr != nil {
			logger.WithError(hookErr).Warn("Post-resolution hook failed")
		}
	}
	return nil
}

// resolveFunds is phase 1. Results are committed once at the end.
func (o *Orchestrator) resolveFunds(ctx context.Context, funds []*models.Holding) error {
	o.tracker.SetStep(models.StepFundResolution)
	logger := logging.FromContext(ctx)

	changed := make([]*models.Holding, 0, len(funds))
	for _, h := range funds {
		if err := ctx.Err(); err != nil {
			return o.flushThen(ctx, changed, err)
		}
		o.tracker.SetSymbol(h.Symbol)

		res := o.funds.Resolve(ctx, h.Symbol, h.AssetType, h.TotalValue)
		o.tracker.AddAPICalls(1)
		metrics.RecordFundOutcome(string(res.Outcome))

		switch res.Outcome {
		case fundholdings.OutcomeResolved:
			h.Underlying = res.Constituents
			h.UnderlyingParsed = true
		case fundholdings.OutcomeTransient:
			h.ResolutionAttempts++
			if h.ResolutionAttempts >= o.maxAttempts {
				h.UnderlyingParsed = true
				o.tracker.AddError(h.Symbol, fmt.Errorf("giving up after %d attempts: %w", h.ResolutionAttempts, res.Err))
			} else {
				o.tracker.AddError(h.Symbol, fmt.Errorf("transient failure, attempt %d of %d: %w", h.ResolutionAttempts, o.maxAttempts, res.Err))
			}
		default:
			h.UnderlyingParsed = true
			if res.Err != nil {
				o.tracker.AddError(h.Symbol, res.Err)
			}
		}
		changed = append(changed, h)
		o.tracker.FundProcessed()

		logger.WithFields(map[string]interface{}{
			"symbol":       h.Symbol,
			"outcome":      res.Outcome,
			"constituents": len(h.Underlying),
		}).Debug("Fund processed")
	}

	if err := o.commit(ctx, changed); err != nil {
		return err
	}
	return nil
}

// enrichParents is phase 2, committed every batchSize holdings
func (o *Orchestrator) enrichParents(ctx context.Context, parents []*models.Holding) error {
	o.tracker.SetStep(models.StepParentInfo)

	batch := make([]*models.Holding, 0, o.batchSize)
	for _, h := range parents {
		if err := ctx.Err(); err != nil {
			return o.flushThen(ctx, batch, err)
		}
		o.tracker.SetSymbol(h.Symbol)

		if h.IsCash() {
			h.Sector = "Cash"
			h.Industry = "Cash"
			h.InfoFetched = true
			o.tracker.ParentProcessed(true)
			batch = append(batch, h)
		} else {
			lookup, err := o.info.GetOrFetch(ctx, h.Symbol)
			if err != nil {
				return o.flushThen(ctx, batch, err)
			}
			h.Sector = lookup.Info.Sector
			h.Industry = lookup.Info.Industry
			h.Country = lookup.Info.Country
			h.InfoFetched = true
			if lookup.Failure != nil {
				o.tracker.AddError(h.Symbol, lookup.Failure)
			}
			o.tracker.ParentProcessed(lookup.CacheHit)
			metrics.RecordLookup(string(models.StepParentInfo), lookup.CacheHit)
			batch = append(batch, h)
		}

		if len(batch) >= o.batchSize {
			if err := o.commit(ctx, batch); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	return o.commit(ctx, batch)
}

// enrichConstituents is phase 3. It reloads holdings so it sees the
// constituent lists committed by phase 1, and commits once per fund.
func (o *Orchestrator) enrichConstituents(ctx context.Context, snapshotID int64) error {
	o.tracker.SetStep(models.StepUnderlyingInfo)

	holdings, err := o.store.ListHoldings(ctx, snapshotID)
	if err != nil {
		return fmt.Errorf("failed to reload holdings: %w", err)
	}

	total := 0
	for _, h := range holdings {
		total += constituentsNeedingInfo(h)
	}
	o.tracker.SetUnderlyingTotal(total)

	for _, h := range holdings {
		if constituentsNeedingInfo(h) == 0 {
			continue
		}
		list := h.Underlying.Clone()
		changed := false
		for i := range list {
			if !list[i].NeedsInfo() {
				continue
			}
			if err := ctx.Err(); err != nil {
				return o.saveConstituentsThen(ctx, h, list, changed, err)
			}
			o.tracker.SetSymbol(list[i].Symbol)

			lookup, err := o.info.GetOrFetch(ctx, list[i].Symbol)
			if err != nil {
				return o.saveConstituentsThen(ctx, h, list, changed, err)
			}
			list[i].Sector = lookup.Info.Sector
			list[i].Industry = lookup.Info.Industry
			list[i].Country = lookup.Info.Country
			list[i].Geography = lookup.Info.Geography
			changed = true
			if lookup.Failure != nil {
				o.tracker.AddError(list[i].Symbol, lookup.Failure)
			}
			o.tracker.UnderlyingProcessed(lookup.CacheHit)
			metrics.RecordLookup(string(models.StepUnderlyingInfo), lookup.CacheHit)
		}
		if err := o.saveConstituentsThen(ctx, h, list, changed, nil); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) saveConstituentsThen(ctx context.Context, h *models.Holding, list models.Constituents, changed bool, cause error) error {
	if changed {
		h.Underlying = list
		if err := o.commit(context.WithoutCancel(ctx), []*models.Holding{h}); err != nil {
			return err
		}
	}
	return cause
}

// flushThen commits finished work before returning cause
func (o *Orchestrator) flushThen(ctx context.Context, done []*models.Holding, cause error) error {
	if err := o.commit(context.WithoutCancel(ctx), done); err != nil {
		return err
	}
	return cause
}

func (o *Orchestrator) commit(ctx context.Context, holdings []*models.Holding) error {
	if len(holdings) == 0 {
		return nil
	}
	if err := o.store.UpdateResolution(ctx, holdings); err != nil {
		return fmt.Errorf("failed to commit %d holdings: %w", len(holdings), err)
	}
	return nil
}

func constituentsNeedingInfo(h *models.Holding) int {
	if !h.HasConstituents() {
		return 0
	}
	n := 0
	for i := range h.Underlying {
		if h.Underlying[i].NeedsInfo() {
			n++
		}
	}
	return n
}

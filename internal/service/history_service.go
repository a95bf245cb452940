package service

import (
	"context"
	"time"

	"github.com/RaajeevKalyan/portfolio-analyzer/internal/logging"
	"github.com/RaajeevKalyan/portfolio-analyzer/internal/models"
)

// HistoryStore is the append-only portfolio value history
type HistoryStore interface {
	Record(ctx context.Context, snap *models.AggregateSnapshot) error
	List(ctx context.Context, from, to time.Time) ([]models.AggregateSnapshot, error)
}

// HistoryService records a history point after each resolution run. A nil
// store disables history.
type HistoryService struct {
	aggregator *HoldingsAggregator
	store      HistoryStore
	now        func() time.Time
}

// NewHistoryService creates a history service
func NewHistoryService(aggregator *HoldingsAggregator, store HistoryStore) *HistoryService {
	return &HistoryService{aggregator: aggregator, store: store, now: time.Now}
}

// Enabled reports whether a history store is configured
func (s *HistoryService) Enabled() bool {
	return s.store != nil
}

// RecordAfterResolution captures the current aggregate. It matches the
// resolution job's completion hook.
func (s *HistoryService) RecordAfterResolution(ctx context.Context, snapshotID int64) error {
	if s.store == nil {
		return nil
	}

	p, err := s.aggregator.Aggregate(ctx)
	if err != nil {
		return err
	}
	snap := BuildAggregateSnapshot(p, s.now().UTC())
	if err := s.store.Record(ctx, snap); err != nil {
		return err
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"snapshotId": snapshotID,
		"totalValue": snap.TotalValue.StringFixed(2),
		"riskLevel":  snap.RiskLevel,
	}).Info("Recorded portfolio history point")
	return nil
}

// BuildAggregateSnapshot summarizes an aggregate into one history point
func BuildAggregateSnapshot(p *AggregatedPortfolio, at time.Time) *models.AggregateSnapshot {
	risk := ComputeRisk(p.Positions())
	ids := append([]int64(nil), p.SnapshotIDs...)
	if ids == nil {
		ids = []int64{}
	}
	return &models.AggregateSnapshot{
		RecordedAt:       at,
		SnapshotIDs:      ids,
		TotalValue:       p.TotalValue,
		TotalCash:        p.TotalCash,
		TotalInvestments: p.TotalInvestments,
		HoldingCount:     uint32(len(p.Holdings)), // #nosec G115 - bounded by the number of positions
		OverlapCount:     uint32(len(p.Overlaps)), // #nosec G115 - bounded by the number of positions
		RiskLevel:        string(risk.OverallRisk),
	}
}

// List returns history in [from, to]; empty when history is disabled
func (s *HistoryService) List(ctx context.Context, from, to time.Time) ([]models.AggregateSnapshot, error) {
	if s.store == nil {
		return []models.AggregateSnapshot{}, nil
	}
	if to.IsZero() {
		to = s.now().UTC()
	}
	if from.IsZero() {
		from = to.AddDate(-1, 0, 0)
	}
	rows, err := s.store.List(ctx, from, to)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []models.AggregateSnapshot{}
	}
	return rows, nil
}

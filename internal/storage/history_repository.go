package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/RaajeevKalyan/portfolio-analyzer/internal/models"
)

// HistoryRepository stores the portfolio value history in ClickHouse
type HistoryRepository struct {
	db *HistoryDB
}

// NewHistoryRepository creates a new history repository
func NewHistoryRepository(db *HistoryDB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// Record appends one history point
func (r *HistoryRepository) Record(ctx context.Context, snap *models.AggregateSnapshot) error {
	batch, err := r.db.Conn().PrepareBatch(ctx, `
		INSERT INTO portfolio_history (
			recorded_at, snapshot_ids, total_value, total_cash, total_investments,
			holding_count, overlap_count, risk_level
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare history batch: %w", err)
	}

	err = batch.Append(
		snap.RecordedAt,
		snap.SnapshotIDs,
		snap.TotalValue,
		snap.TotalCash,
		snap.TotalInvestments,
		snap.HoldingCount,
		snap.OverlapCount,
		snap.RiskLevel,
	)
	if err != nil {
		_ = batch.Abort()
		return fmt.Errorf("failed to append history row: %w", err)
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to insert history row: %w", err)
	}
	return nil
}

// List returns history points recorded in [from, to], oldest first
func (r *HistoryRepository) List(ctx context.Context, from, to time.Time) ([]models.AggregateSnapshot, error) {
	var rows []models.AggregateSnapshot
	err := r.db.Conn().Select(ctx, &rows, `
		SELECT
			recorded_at, snapshot_ids, total_value, total_cash, total_investments,
			holding_count, overlap_count, risk_level
		FROM portfolio_history
		WHERE recorded_at >= ? AND recorded_at <= ?
		ORDER BY recorded_at ASC
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	return rows, nil
}

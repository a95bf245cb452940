package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/RaajeevKalyan/portfolio-analyzer/internal/models"
)

// HoldingRepository reads holdings and writes resolution results. It is
// the store behind the resolution job.
type HoldingRepository struct {
	db *PostgresDB
}

// NewHoldingRepository creates a new holding repository
func NewHoldingRepository(db *PostgresDB) *HoldingRepository {
	return &HoldingRepository{db: db}
}

const holdingColumns = `
	id, snapshot_id, symbol, name, quantity, price, total_value, asset_type,
	account_type, sector, industry, country, info_fetched, underlying_parsed,
	resolution_attempts, underlying_holdings`

func insertHoldings(ctx context.Context, tx pgx.Tx, snapshotID int64, holdings []*models.Holding) error {
	query := `
		INSERT INTO holdings (
			snapshot_id, symbol, name, quantity, price, total_value, asset_type,
			account_type, sector, industry, country, info_fetched, underlying_parsed,
			resolution_attempts, underlying_holdings
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id
	`
	for _, h := range holdings {
		h.SnapshotID = snapshotID
		err := tx.QueryRow(ctx, query,
			h.SnapshotID,
			h.Symbol,
			h.Name,
			h.Quantity,
			h.Price,
			h.TotalValue,
			string(h.AssetType),
			h.AccountType,
			h.Sector,
			h.Industry,
			h.Country,
			h.InfoFetched,
			h.UnderlyingParsed,
			h.ResolutionAttempts,
			h.Underlying,
		).Scan(&h.ID)
		if err != nil {
			return fmt.Errorf("failed to insert holding %s: %w", h.Symbol, err)
		}
	}
	return nil
}

// ListHoldings returns the holdings of one snapshot ordered by value
func (r *HoldingRepository) ListHoldings(ctx context.Context, snapshotID int64) ([]*models.Holding, error) {
	query := `SELECT ` + holdingColumns + `
		FROM holdings
		WHERE snapshot_id = $1
		ORDER BY total_value DESC, id ASC`

	rows, err := r.db.Pool().Query(ctx, query, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("failed to query holdings: %w", err)
	}
	defer rows.Close()

	var holdings []*models.Holding
	for rows.Next() {
		var h models.Holding
		var assetType string
		err := rows.Scan(
			&h.ID,
			&h.SnapshotID,
			&h.Symbol,
			&h.Name,
			&h.Quantity,
			&h.Price,
			&h.TotalValue,
			&assetType,
			&h.AccountType,
			&h.Sector,
			&h.Industry,
			&h.Country,
			&h.InfoFetched,
			&h.UnderlyingParsed,
			&h.ResolutionAttempts,
			&h.Underlying,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan holding row: %w", err)
		}
		h.AssetType = models.ParseAssetType(assetType)
		holdings = append(holdings, &h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating holdings: %w", err)
	}
	return holdings, nil
}

// UpdateResolution writes enrichment fields and resolution flags for a
// batch of holdings in one short transaction
func (r *HoldingRepository) UpdateResolution(ctx context.Context, holdings []*models.Holding) error {
	if len(holdings) == 0 {
		return nil
	}

	query := `
		UPDATE holdings SET
			sector = $2,
			industry = $3,
			country = $4,
			info_fetched = $5,
			underlying_parsed = $6,
			resolution_attempts = $7,
			underlying_holdings = $8
		WHERE id = $1
	`

	return r.db.inTx(ctx, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, h := range holdings {
			batch.Queue(query,
				h.ID,
				h.Sector,
				h.Industry,
				h.Country,
				h.InfoFetched,
				h.UnderlyingParsed,
				h.ResolutionAttempts,
				h.Underlying,
			)
		}

		br := tx.SendBatch(ctx, batch)
		for _, h := range holdings {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return fmt.Errorf("failed to update holding %d: %w", h.ID, err)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("failed to close batch: %w", err)
		}
		return nil
	})
}

// SnapshotsNeedingResolution lists snapshots with a fund still awaiting
// constituent resolution or any holding not yet enriched, oldest first
func (r *HoldingRepository) SnapshotsNeedingResolution(ctx context.Context) ([]int64, error) {
	query := `
		SELECT DISTINCT snapshot_id
		FROM holdings
		WHERE info_fetched = FALSE
		   OR (asset_type IN ('etf', 'mutual_fund') AND underlying_parsed = FALSE)
		ORDER BY snapshot_id
	`

	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query unresolved snapshots: %w", err)
	}
	defer rows.Close()

	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("failed to scan unresolved snapshots: %w", err)
	}
	return ids, nil
}

// CountUnresolved returns funds awaiting constituents and holdings awaiting
// enrichment across all snapshots
func (r *HoldingRepository) CountUnresolved(ctx context.Context) (funds int, holdings int, err error) {
	err = r.db.Pool().QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE asset_type IN ('etf', 'mutual_fund') AND underlying_parsed = FALSE),
			COUNT(*) FILTER (WHERE info_fetched = FALSE)
		FROM holdings
	`).Scan(&funds, &holdings)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count unresolved holdings: %w", err)
	}
	return funds, holdings, nil
}

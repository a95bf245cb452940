package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/RaajeevKalyan/portfolio-analyzer/internal/models"
)

// Upload is everything persisted for one accepted CSV file
type Upload struct {
	Broker       string
	AccountLast4 string
	Filename     string
	Snapshot     *models.PortfolioSnapshot
	Holdings     []*models.Holding
}

// SnapshotRepository handles portfolio snapshot storage operations
type SnapshotRepository struct {
	db *PostgresDB
}

// NewSnapshotRepository creates a new snapshot repository
func NewSnapshotRepository(db *PostgresDB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

// CreateUpload stores the account, snapshot and holdings of one upload in a
// single transaction. IDs are written back into the upload.
func (r *SnapshotRepository) CreateUpload(ctx context.Context, upload *Upload) (*models.BrokerAccount, error) {
	var account *models.BrokerAccount
	now := time.Now().UTC()

	err := r.db.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		account, err = upsertAccount(ctx, tx, upload.Broker, upload.AccountLast4, upload.Filename, now)
		if err != nil {
			return err
		}

		s := upload.Snapshot
		s.AccountID = account.ID
		s.CreatedAt = now
		err = tx.QueryRow(ctx, `
			INSERT INTO portfolio_snapshots (broker_account_id, snapshot_date, total_value, total_positions, upload_source, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id
		`, s.AccountID, s.SnapshotDate, s.TotalValue, s.TotalPositions, s.UploadSource, s.CreatedAt).Scan(&s.ID)
		if err != nil {
			return fmt.Errorf("failed to insert snapshot: %w", err)
		}

		return insertHoldings(ctx, tx, s.ID, upload.Holdings)
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

// GetByID returns a snapshot or nil when it does not exist
func (r *SnapshotRepository) GetByID(ctx context.Context, id int64) (*models.PortfolioSnapshot, error) {
	var s models.PortfolioSnapshot
	err := r.db.Pool().QueryRow(ctx, `
		SELECT id, broker_account_id, snapshot_date, total_value, total_positions, upload_source, created_at
		FROM portfolio_snapshots
		WHERE id = $1
	`, id).Scan(&s.ID, &s.AccountID, &s.SnapshotDate, &s.TotalValue, &s.TotalPositions, &s.UploadSource, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	return &s, nil
}

// ListForActiveAccounts returns every snapshot of every active account
// paired with its account, newest first
func (r *SnapshotRepository) ListForActiveAccounts(ctx context.Context) ([]models.LatestSnapshot, error) {
	query := `
		SELECT
			a.id, a.broker_name, a.account_last4, a.is_active, a.last_uploaded_at, a.last_upload_filename, a.created_at,
			s.id, s.broker_account_id, s.snapshot_date, s.total_value, s.total_positions, s.upload_source, s.created_at
		FROM portfolio_snapshots s
		JOIN broker_accounts a ON a.id = s.broker_account_id
		WHERE a.is_active
		ORDER BY s.snapshot_date DESC, s.id DESC
	`

	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var out []models.LatestSnapshot
	for rows.Next() {
		var ls models.LatestSnapshot
		var filename *string
		err := rows.Scan(
			&ls.Account.ID,
			&ls.Account.BrokerName,
			&ls.Account.AccountLast4,
			&ls.Account.IsActive,
			&ls.Account.LastUploadedAt,
			&filename,
			&ls.Account.CreatedAt,
			&ls.Snapshot.ID,
			&ls.Snapshot.AccountID,
			&ls.Snapshot.SnapshotDate,
			&ls.Snapshot.TotalValue,
			&ls.Snapshot.TotalPositions,
			&ls.Snapshot.UploadSource,
			&ls.Snapshot.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}
		if filename != nil {
			ls.Account.LastUploadFilename = *filename
		}
		out = append(out, ls)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshots: %w", err)
	}
	return out, nil
}

// DeleteBeyondRetention removes the oldest snapshots of an account so that
// at most keep remain. Holdings are removed by cascade.
func (r *SnapshotRepository) DeleteBeyondRetention(ctx context.Context, accountID int64, keep int) (int64, error) {
	if keep <= 0 {
		return 0, fmt.Errorf("retention must be positive, got %d", keep)
	}
	tag, err := r.db.Pool().Exec(ctx, `
		DELETE FROM portfolio_snapshots
		WHERE broker_account_id = $1
		  AND id NOT IN (
			SELECT id FROM portfolio_snapshots
			WHERE broker_account_id = $1
			ORDER BY snapshot_date DESC, id DESC
			LIMIT $2
		  )
	`, accountID, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to apply snapshot retention: %w", err)
	}
	return tag.RowsAffected(), nil
}

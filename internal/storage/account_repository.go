package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/RaajeevKalyan/portfolio-analyzer/internal/models"
)

// AccountRepository handles broker account persistence
type AccountRepository struct {
	db *PostgresDB
}

// NewAccountRepository creates a new account repository
func NewAccountRepository(db *PostgresDB) *AccountRepository {
	return &AccountRepository{db: db}
}

const accountColumns = `id, broker_name, account_last4, is_active, last_uploaded_at, last_upload_filename, created_at`

func scanAccount(row pgx.Row) (*models.BrokerAccount, error) {
	var a models.BrokerAccount
	var filename *string
	if err := row.Scan(
		&a.ID,
		&a.BrokerName,
		&a.AccountLast4,
		&a.IsActive,
		&a.LastUploadedAt,
		&filename,
		&a.CreatedAt,
	); err != nil {
		return nil, err
	}
	if filename != nil {
		a.LastUploadFilename = *filename
	}
	return &a, nil
}

// GetByID returns an account or nil when it does not exist
func (r *AccountRepository) GetByID(ctx context.Context, id int64) (*models.BrokerAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM broker_accounts WHERE id = $1`

	account, err := scanAccount(r.db.Pool().QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return account, nil
}

// List returns every account, active first
func (r *AccountRepository) List(ctx context.Context) ([]*models.BrokerAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM broker_accounts ORDER BY is_active DESC, broker_name, account_last4`

	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*models.BrokerAccount
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account row: %w", err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}
	return accounts, nil
}

// SetActive includes or excludes an account from aggregation
func (r *AccountRepository) SetActive(ctx context.Context, id int64, active bool) error {
	tag, err := r.db.Pool().Exec(ctx, `UPDATE broker_accounts SET is_active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// upsertAccount creates the (broker, last4) account on first upload and
// records the upload on every later one.
func upsertAccount(ctx context.Context, tx pgx.Tx, broker, last4, filename string, uploadedAt time.Time) (*models.BrokerAccount, error) {
	query := `
		INSERT INTO broker_accounts (broker_name, account_last4, is_active, last_uploaded_at, last_upload_filename, created_at)
		VALUES ($1, $2, TRUE, $3, $4, $3)
		ON CONFLICT (broker_name, account_last4)
		DO UPDATE SET
			last_uploaded_at = EXCLUDED.last_uploaded_at,
			last_upload_filename = EXCLUDED.last_upload_filename
		RETURNING ` + accountColumns

	account, err := scanAccount(tx.QueryRow(ctx, query, broker, last4, uploadedAt, filename))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert account: %w", err)
	}
	return account, nil
}

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PortfolioSnapshot is one CSV upload: a point-in-time statement of all
// holdings for one BrokerAccount. Immutable once created except for the
// enrichment of its holdings.
type PortfolioSnapshot struct {
	ID             int64           `json:"id" db:"id"`
	AccountID      int64           `json:"accountId" db:"broker_account_id"`
	SnapshotDate   time.Time       `json:"snapshotDate" db:"snapshot_date"`
	TotalValue     decimal.Decimal `json:"totalValue" db:"total_value"`
	TotalPositions int             `json:"totalPositions" db:"total_positions"`
	UploadSource   string          `json:"uploadSource" db:"upload_source"`
	CreatedAt      time.Time       `json:"createdAt" db:"created_at"`
}

// LatestSnapshot pairs the latest snapshot of an active account with the account itself
type LatestSnapshot struct {
	Account  BrokerAccount     `json:"account"`
	Snapshot PortfolioSnapshot `json:"snapshot"`
}

// AggregateSnapshot is one point of the portfolio value history,
// recorded after a resolution run completes.
type AggregateSnapshot struct {
	RecordedAt       time.Time       `json:"recordedAt" ch:"recorded_at"`
	SnapshotIDs      []int64         `json:"snapshotIds" ch:"snapshot_ids"`
	TotalValue       decimal.Decimal `json:"totalValue" ch:"total_value"`
	TotalCash        decimal.Decimal `json:"totalCash" ch:"total_cash"`
	TotalInvestments decimal.Decimal `json:"totalInvestments" ch:"total_investments"`
	HoldingCount     uint32          `json:"holdingCount" ch:"holding_count"`
	OverlapCount     uint32          `json:"overlapCount" ch:"overlap_count"`
	RiskLevel        string          `json:"riskLevel" ch:"risk_level"`
}

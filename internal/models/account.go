package models

import (
	"time"
)

// BrokerAccount identifies one account at one broker.
// Unique per (broker_name, account_last4).
type BrokerAccount struct {
	ID                 int64      `json:"id" db:"id"`
	BrokerName         string     `json:"brokerName" db:"broker_name"`
	AccountLast4       string     `json:"accountLast4" db:"account_last4"`
	IsActive           bool       `json:"isActive" db:"is_active"`
	LastUploadedAt     *time.Time `json:"lastUploadedAt,omitempty" db:"last_uploaded_at"`
	LastUploadFilename string     `json:"lastUploadFilename,omitempty" db:"last_upload_filename"`
	CreatedAt          time.Time  `json:"createdAt" db:"created_at"`
}

// DisplayName returns e.g. "merrill ...1234"
func (a *BrokerAccount) DisplayName() string {
	return a.BrokerName + " ..." + a.AccountLast4
}

// UserSettings holds the user-adjustable settings row
type UserSettings struct {
	SnapshotRetentionLimit int       `json:"snapshotRetentionLimit" db:"snapshot_retention_limit"`
	UpdatedAt              time.Time `json:"updatedAt" db:"updated_at"`
}

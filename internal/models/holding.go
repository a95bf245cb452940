package models

import (
	"strings"

	"github.com/shopspring/decimal"
)

// AssetType classifies a holding
type AssetType string

const (
	AssetTypeStock      AssetType = "stock"
	AssetTypeETF        AssetType = "etf"
	AssetTypeMutualFund AssetType = "mutual_fund"
	AssetTypeBond       AssetType = "bond"
	AssetTypeCash       AssetType = "cash"
	AssetTypeOption     AssetType = "option"
	AssetTypeOther      AssetType = "other"
)

// ParseAssetType maps a stored string back to an AssetType, defaulting to other.
func ParseAssetType(s string) AssetType {
	switch t := AssetType(strings.ToLower(strings.TrimSpace(s))); t {
	case AssetTypeStock, AssetTypeETF, AssetTypeMutualFund, AssetTypeBond,
		AssetTypeCash, AssetTypeOption, AssetTypeOther:
		return t
	default:
		return AssetTypeOther
	}
}

// IsFund reports whether constituents can be resolved for this type
func (t AssetType) IsFund() bool {
	return t == AssetTypeETF || t == AssetTypeMutualFund
}

// CashSymbol is synthesized for cash and money market rows with no ticker
const CashSymbol = "CASH"

// Holding is one line item within a snapshot.
//
// InfoFetched and UnderlyingParsed are terminal once true: the resolution
// job never looks the holding up again.
type Holding struct {
	ID                 int64           `json:"id" db:"id"`
	SnapshotID         int64           `json:"snapshotId" db:"snapshot_id"`
	Symbol             string          `json:"symbol" db:"symbol"`
	Name               string          `json:"name" db:"name"`
	Quantity           decimal.Decimal `json:"quantity" db:"quantity"`
	Price              decimal.Decimal `json:"price" db:"price"`
	TotalValue         decimal.Decimal `json:"totalValue" db:"total_value"`
	AssetType          AssetType       `json:"assetType" db:"asset_type"`
	AccountType        string          `json:"accountType,omitempty" db:"account_type"`
	Sector             string          `json:"sector,omitempty" db:"sector"`
	Industry           string          `json:"industry,omitempty" db:"industry"`
	Country            string          `json:"country,omitempty" db:"country"`
	InfoFetched        bool            `json:"infoFetched" db:"info_fetched"`
	UnderlyingParsed   bool            `json:"underlyingParsed" db:"underlying_parsed"`
	ResolutionAttempts int             `json:"resolutionAttempts" db:"resolution_attempts"`
	Underlying         Constituents    `json:"underlyingHoldings,omitempty" db:"underlying_holdings"`
}

// IsCash reports whether the holding is cash or a money market position
func (h *Holding) IsCash() bool {
	return h.AssetType == AssetTypeCash
}

// NeedsFundResolution reports whether constituent resolution is still pending
func (h *Holding) NeedsFundResolution() bool {
	return h.AssetType.IsFund() && !h.UnderlyingParsed
}

// HasConstituents reports whether a fund holding carries a constituent list
func (h *Holding) HasConstituents() bool {
	return h.AssetType.IsFund() && len(h.Underlying) > 0
}

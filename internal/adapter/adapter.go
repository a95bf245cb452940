// Package adapter holds the HTTP clients for the external market-data and
// fund-data providers. Both are unreliable and rate limited; callers go
// through securityinfo and fundholdings rather than using them directly.
package adapter

import (
	"context"
	"fmt"
)

// QuoteInfo is the metadata the market-data provider returns for a symbol
type QuoteInfo struct {
	Symbol    string `json:"symbol"`
	QuoteType string `json:"quoteType"` // ETF, MUTUALFUND, EQUITY, BOND, OPTION
	Name      string `json:"name,omitempty"`
	Sector    string `json:"sector,omitempty"`
	Industry  string `json:"industry,omitempty"`
	Country   string `json:"country,omitempty"`
}

// FundListing is one search hit from the fund-data provider
type FundListing struct {
	SecurityID     string `json:"securityId"`
	Ticker         string `json:"ticker"`
	Name           string `json:"name"`
	Exchange       string `json:"exchange"`
	InvestmentType string `json:"investmentType"` // FE (ETF) or FO (open-end fund)
}

// FundPosition is one row of a fund's holdings table. WeightPct is a
// percentage (0-100) as reported by the provider.
type FundPosition struct {
	Ticker     string  `json:"ticker"`
	SecurityID string  `json:"secId"`
	Name       string  `json:"securityName"`
	WeightPct  float64 `json:"weighting"`
}

// Investment types accepted by the fund search
const (
	InvestmentTypeETF        = "FE"
	InvestmentTypeMutualFund = "FO"
)

// MarketDataProvider looks up quote metadata for a symbol.
// A symbol the provider does not know yields an errors.IsNotFound error.
type MarketDataProvider interface {
	QuoteInfo(ctx context.Context, symbol string) (*QuoteInfo, error)
	Name() string
}

// FundDataProvider searches funds and fetches their holdings tables
type FundDataProvider interface {
	SearchFunds(ctx context.Context, ticker, investmentType string) ([]FundListing, error)
	FundHoldings(ctx context.Context, securityID string) ([]FundPosition, error)
	Name() string
}

// Common error types for provider adapters

var (
	// ErrEmptySymbol indicates a lookup was attempted without a symbol
	ErrEmptySymbol = fmt.Errorf("empty symbol")

	// ErrMalformedResponse indicates the provider answered with an unexpected payload
	ErrMalformedResponse = fmt.Errorf("malformed provider response")

	// ErrPacing indicates the request was never sent because the pacer gave up
	ErrPacing = fmt.Errorf("provider pacing aborted")
)

// AdapterError wraps errors with additional context
type AdapterError struct {
	Provider string
	Op       string // Operation that failed (e.g., "QuoteInfo", "FundHoldings")
	Err      error
	Details  map[string]interface{}
}

func (e *AdapterError) Error() string {
	if len(e.Details) > 0 {
		return fmt.Sprintf("provider adapter error [%s:%s]: %v (details: %+v)", e.Provider, e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("provider adapter error [%s:%s]: %v", e.Provider, e.Op, e.Err)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

// NewAdapterError creates a new AdapterError
func NewAdapterError(provider, op string, err error, details map[string]interface{}) *AdapterError {
	return &AdapterError{
		Provider: provider,
		Op:       op,
		Err:      err,
		Details:  details,
	}
}

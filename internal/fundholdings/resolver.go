// Package fundholdings resolves an ETF or mutual fund into its constituent
// securities using the fund-data provider.
package fundholdings

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/RaajeevKalyan/portfolio-analyzer/internal/adapter"
	apperrors "github.com/RaajeevKalyan/portfolio-analyzer/internal/errors"
	"github.com/RaajeevKalyan/portfolio-analyzer/internal/logging"
	"github.com/RaajeevKalyan/portfolio-analyzer/internal/models"
	"github.com/shopspring/decimal"
)

// USExchanges are the listings accepted when a ticker is cross-listed
var USExchanges = map[string]bool{
	"ARCX": true, "XNAS": true, "XNYS": true, "BATS": true, "NYSE": true, "NASDAQ": true,
}

// Outcome classifies a resolution attempt
type Outcome string

const (
	// OutcomeResolved means a non-empty constituent list was produced
	OutcomeResolved Outcome = "resolved"
	// OutcomeNotFound means no US listing exists for the ticker. Terminal.
	OutcomeNotFound Outcome = "not_found"
	// OutcomeNoHoldings means the fund was found but has no usable holdings. Terminal.
	OutcomeNoHoldings Outcome = "no_holdings"
	// OutcomeSkipped means the asset type is not a fund. Terminal.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeTransient means the provider failed; a later run may succeed.
	OutcomeTransient Outcome = "transient"
)

// Terminal reports whether the holding should not be resolved again
func (o Outcome) Terminal() bool {
	return o != OutcomeTransient
}

// Result is the typed outcome of Resolve
type Result struct {
	Outcome      Outcome
	Constituents models.Constituents
	Listing      *adapter.FundListing
	Err          error
}

// Resolver implements constituent resolution against a FundDataProvider
type Resolver struct {
	provider adapter.FundDataProvider
}

// NewResolver creates a resolver
func NewResolver(provider adapter.FundDataProvider) *Resolver {
	return &Resolver{provider: provider}
}

// Resolve looks the fund up on a US exchange, fetches its holdings and
// converts percentage weights into fractions and estimated dollar values.
func (r *Resolver) Resolve(ctx context.Context, symbol string, assetType models.AssetType, fundValue decimal.Decimal) *Result {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"symbol":    symbol,
		"assetType": assetType,
	})

	if !assetType.IsFund() {
		return &Result{Outcome: OutcomeSkipped}
	}

	listing, err := r.findUSListing(ctx, symbol, assetType)
	if err != nil {
		logger.WithError(err).Warn("Fund search failed")
		return &Result{Outcome: OutcomeTransient, Err: err}
	}
	if listing == nil {
		logger.Warn("No US fund listing found")
		return &Result{
			Outcome: OutcomeNotFound,
			Err:     apperrors.NewProviderNotFoundError(r.provider.Name(), symbol),
		}
	}
	logger = logger.WithFields(map[string]interface{}{
		"securityId": listing.SecurityID,
		"exchange":   listing.Exchange,
	})

	positions, err := r.provider.FundHoldings(ctx, listing.SecurityID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			logger.Warn("Fund has no holdings data")
			return &Result{Outcome: OutcomeNoHoldings, Listing: listing, Err: err}
		}
		logger.WithError(err).Warn("Fund holdings fetch failed")
		return &Result{Outcome: OutcomeTransient, Listing: listing, Err: err}
	}

	constituents := ToConstituents(positions, fundValue)
	if len(constituents) == 0 {
		logger.Warn("No usable holdings extracted")
		return &Result{
			Outcome: OutcomeNoHoldings,
			Listing: listing,
			Err:     fmt.Errorf("no usable holdings for %s", symbol),
		}
	}

	logger.WithFields(map[string]interface{}{
		"constituents": len(constituents),
		"totalWeight":  constituents.TotalWeight().StringFixed(4),
	}).Info("Resolved fund constituents")
	return &Result{Outcome: OutcomeResolved, Constituents: constituents, Listing: listing}
}

// findUSListing searches ETFs and open-end funds for an exact ticker match
// on a US exchange. It returns nil, nil when none exists and an error only
// when every search failed for a reason other than not-found.
func (r *Resolver) findUSListing(ctx context.Context, symbol string, assetType models.AssetType) (*adapter.FundListing, error) {
	types := []string{adapter.InvestmentTypeETF, adapter.InvestmentTypeMutualFund}
	if assetType == models.AssetTypeMutualFund {
		types[0], types[1] = types[1], types[0]
	}

	var lastErr error
	searched := 0
	for _, investmentType := range types {
		listings, err := r.provider.SearchFunds(ctx, symbol, investmentType)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if apperrors.IsNotFound(err) {
				searched++
				continue
			}
			lastErr = err
			continue
		}
		searched++
		for i := range listings {
			if USExchanges[strings.ToUpper(listings[i].Exchange)] {
				return &listings[i], nil
			}
		}
		if len(listings) > 0 {
			exchanges := make([]string, 0, len(listings))
			for _, l := range listings {
				exchanges = append(exchanges, l.Exchange)
			}
			logging.FromContext(ctx).WithFields(map[string]interface{}{
				"symbol":    symbol,
				"exchanges": exchanges,
			}).Debug("Ticker listed only on non-US exchanges")
		}
	}
	if searched == 0 && lastErr != nil {
		return nil, lastErr
	}
	return nil, nil
}

var hundred = decimal.NewFromInt(100)

// ToConstituents converts provider rows into constituents. Weight is the
// percentage divided by 100 and rounded to 6 places; Value is
// round(weight x fundValue, 2). Rows without a ticker or with a weight
// outside (0, 1] are dropped. The result is sorted by weight descending.
func ToConstituents(positions []adapter.FundPosition, fundValue decimal.Decimal) models.Constituents {
	out := make(models.Constituents, 0, len(positions))
	for _, p := range positions {
		symbol := strings.ToUpper(strings.TrimSpace(p.Ticker))
		if symbol == "" {
			symbol = strings.ToUpper(strings.TrimSpace(p.SecurityID))
		}
		if symbol == "" {
			continue
		}
		weight := decimal.NewFromFloat(p.WeightPct).Div(hundred).Round(6)
		if !weight.IsPositive() || weight.GreaterThan(decimal.NewFromInt(1)) {
			continue
		}
		name := strings.TrimSpace(p.Name)
		if name == "" {
			name = symbol
		}
		out = append(out, models.Constituent{
			Symbol: symbol,
			Name:   name,
			Weight: weight,
			Value:  weight.Mul(fundValue).Round(2),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Weight.GreaterThan(out[j].Weight)
	})
	if len(out) == 0 {
		return nil
	}
	return out
}

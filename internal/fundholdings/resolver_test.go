package fundholdings

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/RaajeevKalyan/portfolio-analyzer/internal/adapter"
	apperrors "github.com/RaajeevKalyan/portfolio-analyzer/internal/errors"
	"github.com/RaajeevKalyan/portfolio-analyzer/internal/models"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubFunds struct {
	listings    map[string][]adapter.FundListing // key: ticker + "/" + investment type
	holdings    map[string][]adapter.FundPosition
	searchErr   error
	holdingsErr error
	searches    []string
}

func (s *stubFunds) Name() string { return "stub-funds" }

func (s *stubFunds) SearchFunds(ctx context.Context, ticker, investmentType string) ([]adapter.FundListing, error) {
	s.searches = append(s.searches, investmentType)
	if s.searchErr != nil {
		return nil, s.searchErr
	}
	return s.listings[ticker+"/"+investmentType], nil
}

func (s *stubFunds) FundHoldings(ctx context.Context, securityID string) ([]adapter.FundPosition, error) {
	if s.holdingsErr != nil {
		return nil, s.holdingsErr
	}
	return s.holdings[securityID], nil
}

func vtiProvider() *stubFunds {
	return &stubFunds{
		listings: map[string][]adapter.FundListing{
			"VTI/FE": {
				{SecurityID: "LON", Ticker: "VTI", Exchange: "XLON"},
				{SecurityID: "US1", Ticker: "VTI", Exchange: "ARCX"},
			},
		},
		holdings: map[string][]adapter.FundPosition{
			"US1": {
				{Ticker: "MSFT", Name: "Microsoft", WeightPct: 5.8},
				{Ticker: "AAPL", Name: "Apple", WeightPct: 6.25},
				{Ticker: "", SecurityID: "", Name: "Cash Collateral", WeightPct: 0.4},
				{Ticker: "XYZ", Name: "Zero", WeightPct: 0},
				{Ticker: "", SecurityID: "0P0000BOND", Name: "Some Bond", WeightPct: 0.1},
			},
		},
	}
}

func TestResolver_Resolve(t *testing.T) {
	r := NewResolver(vtiProvider())
	res := r.Resolve(context.Background(), "vti", models.AssetTypeETF, decimal.NewFromInt(10000))

	require.Equal(t, OutcomeResolved, res.Outcome)
	require.NoError(t, res.Err)
	assert.Equal(t, "US1", res.Listing.SecurityID)
	require.Len(t, res.Constituents, 3)

	aapl := res.Constituents[0]
	assert.Equal(t, "AAPL", aapl.Symbol)
	assert.Equal(t, "0.0625", aapl.Weight.String())
	assert.Equal(t, "625", aapl.Value.String())

	assert.Equal(t, "MSFT", res.Constituents[1].Symbol)
	assert.Equal(t, "0P0000BOND", res.Constituents[2].Symbol)
	assert.Equal(t, "10", res.Constituents[2].Value.String())
}

func TestResolver_MutualFundSearchesOpenEndFirst(t *testing.T) {
	p := &stubFunds{
		listings: map[string][]adapter.FundListing{
			"FXAIX/FO": {{SecurityID: "F1", Ticker: "FXAIX", Exchange: "XNAS"}},
		},
		holdings: map[string][]adapter.FundPosition{"F1": {{Ticker: "NVDA", WeightPct: 7}}},
	}
	res := NewResolver(p).Resolve(context.Background(), "FXAIX", models.AssetTypeMutualFund, decimal.NewFromInt(200))
	require.Equal(t, OutcomeResolved, res.Outcome)
	assert.Equal(t, []string{adapter.InvestmentTypeMutualFund}, p.searches)
	assert.Equal(t, "NVDA", res.Constituents[0].Name)
}

func TestResolver_Outcomes(t *testing.T) {
	transient := apperrors.NewProviderError("stub-funds", errors.New("connection reset"))

	tests := []struct {
		name      string
		provider  *stubFunds
		assetType models.AssetType
		want      Outcome
	}{
		{
			name:      "not a fund",
			provider:  vtiProvider(),
			assetType: models.AssetTypeStock,
			want:      OutcomeSkipped,
		},
		{
			name:      "only non-US listings",
			provider:  &stubFunds{listings: map[string][]adapter.FundListing{"VTI/FE": {{SecurityID: "L", Ticker: "VTI", Exchange: "XLON"}}}},
			assetType: models.AssetTypeETF,
			want:      OutcomeNotFound,
		},
		{
			name:      "search not found",
			provider:  &stubFunds{searchErr: apperrors.NewProviderNotFoundError("stub-funds", "VTI")},
			assetType: models.AssetTypeETF,
			want:      OutcomeNotFound,
		},
		{
			name:      "search transient",
			provider:  &stubFunds{searchErr: transient},
			assetType: models.AssetTypeETF,
			want:      OutcomeTransient,
		},
		{
			name: "holdings transient",
			provider: func() *stubFunds {
				p := vtiProvider()
				p.holdingsErr = transient
				return p
			}(),
			assetType: models.AssetTypeETF,
			want:      OutcomeTransient,
		},
		{
			name: "holdings empty",
			provider: func() *stubFunds {
				p := vtiProvider()
				p.holdings = nil
				return p
			}(),
			assetType: models.AssetTypeETF,
			want:      OutcomeNoHoldings,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := NewResolver(tt.provider).Resolve(context.Background(), "VTI", tt.assetType, decimal.NewFromInt(1000))
			assert.Equal(t, tt.want, res.Outcome)
			assert.Equal(t, tt.want != OutcomeTransient, res.Outcome.Terminal())
			assert.Nil(t, res.Constituents)
		})
	}
}

func TestToConstituents_WeightValueConsistency(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("value equals round(weight x fund value, 2) with weight in [0, 1]", prop.ForAll(
		func(pcts []float64, cents int64) bool {
			fundValue := decimal.New(cents, -2)
			positions := make([]adapter.FundPosition, len(pcts))
			for i, pct := range pcts {
				positions[i] = adapter.FundPosition{Ticker: fmt.Sprintf("T%d", i), WeightPct: pct}
			}

			constituents := ToConstituents(positions, fundValue)
			one := decimal.NewFromInt(1)
			for i, c := range constituents {
				if c.Weight.IsNegative() || c.Weight.GreaterThan(one) {
					return false
				}
				if !c.Value.Equal(c.Weight.Mul(fundValue).Round(2)) {
					return false
				}
				if i > 0 && c.Weight.GreaterThan(constituents[i-1].Weight) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.Float64Range(-5, 120)),
		gen.Int64Range(0, 1_000_000_00),
	))

	properties.TestingRun(t)
}

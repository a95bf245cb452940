package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RaajeevKalyan/portfolio-analyzer/internal/models"
	"github.com/RaajeevKalyan/portfolio-analyzer/internal/securityinfo"
)

func labels(allocs []Allocation) []string {
	out := make([]string, 0, len(allocs))
	for _, a := range allocs {
		out = append(out, a.Label)
	}
	return out
}

func TestComputeRisk_EmbeddedExposureCounts(t *testing.T) {
	positions := []*models.Holding{
		stockHolding("AAPL", "30", "100"),
		fundHolding("VTI", models.AssetTypeETF, "7000", true,
			constituent("AAPL", "0.1", "700", "Technology", "United States"),
			constituent("MSFT", "0.1", "700", "Technology", "United States"),
			constituent("JPM", "0.2", "1400", "Financial Services", "United States"),
		),
	}

	m := ComputeRisk(positions)

	require.Len(t, m.Concentration, 1)
	assert.Equal(t, "AAPL", m.Concentration[0].Symbol)
	assert.Equal(t, "3700", m.Concentration[0].Value.String())
	assert.Equal(t, "37", m.Concentration[0].AllocationPct.String())
	assert.Equal(t, RiskHigh, m.OverallRisk)

	assert.Equal(t, []string{"Technology", "Financial Services"}, labels(m.Sectors))
	assert.Equal(t, "44", m.Sectors[0].Percentage.String())
	assert.Equal(t, "14", m.Sectors[1].Percentage.String())

	// the fund's uncovered 42% lands in Other
	require.Len(t, m.Geography, 2)
	assert.Equal(t, securityinfo.GeographyUS, m.Geography[0].Label)
	assert.Equal(t, "58", m.Geography[0].Percentage.String())
	assert.Equal(t, bucketOther, m.Geography[1].Label)
	assert.Equal(t, "42", m.Geography[1].Percentage.String())
}

func TestComputeRisk_OverallLevels(t *testing.T) {
	tests := []struct {
		name   string
		values []string
		want   RiskLevel
	}{
		{name: "nothing above threshold", values: []string{"20", "20", "20", "20", "20"}, want: RiskLow},
		{name: "between thresholds", values: []string{"25", "19", "19", "19", "18"}, want: RiskMedium},
		{name: "above high threshold", values: []string{"31", "23", "23", "23"}, want: RiskHigh},
	}

	symbols := []string{"A", "B", "C", "D", "E"}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var positions []*models.Holding
			for i, v := range tt.values {
				positions = append(positions, stockHolding(symbols[i], "1", v))
			}
			assert.Equal(t, tt.want, ComputeRisk(positions).OverallRisk)
		})
	}
}

func TestComputeRisk_CashAndUnknownBuckets(t *testing.T) {
	noData := stockHolding("XYZ", "1", "50")
	noData.Sector = ""
	noData.Country = ""

	m := ComputeRisk([]*models.Holding{noData, cashHolding("50")})

	assert.Equal(t, "100", m.TotalValue.String())
	assert.Equal(t, "50", m.CashValue.String())
	assert.Equal(t, []string{securityinfo.Unknown}, labels(m.Sectors))
	assert.Equal(t, []string{bucketCash, securityinfo.GeographyUnknown}, labels(m.Geography))
}

func TestComputeRisk_EmptyPortfolio(t *testing.T) {
	m := ComputeRisk(nil)

	assert.Equal(t, RiskLow, m.OverallRisk)
	assert.NotNil(t, m.Concentration)
	assert.Empty(t, m.Sectors)
	assert.Empty(t, m.Geography)
	assert.True(t, m.TotalValue.IsZero())
}

func TestRiskService_Metrics(t *testing.T) {
	reader := newMockPortfolioReader()
	reader.addSnapshot(merrillAccount, 10, octFirst, stockHolding("AAPL", "1", "100"), cashHolding("100"))

	m, err := NewRiskService(NewHoldingsAggregator(reader)).Metrics(context.Background())
	require.NoError(t, err)

	// a single stock at 50% is concentrated
	require.Len(t, m.Concentration, 1)
	assert.Equal(t, RiskHigh, m.OverallRisk)
}

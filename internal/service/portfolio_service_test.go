package service

import (
	"context"
	"fmt"
	"strconv"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/RaajeevKalyan/portfolio-analyzer/internal/errors"
	"github.com/RaajeevKalyan/portfolio-analyzer/internal/models"
)

func newTestPortfolioService() *PortfolioService {
	reader := newMockPortfolioReader()
	reader.addSnapshot(merrillAccount, 10, octFirst,
		stockHolding("AAPL", "10", "100"),
		stockHolding("MSFT", "2", "250"),
		fundHolding("VTI", models.AssetTypeETF, "2000", true,
			constituent("AAPL", "0.1", "200", "Technology", "United States"),
			constituent("NVDA", "0.1", "200", "Technology", "United States"),
		),
		fundHolding("FXAIX", models.AssetTypeMutualFund, "1000", false),
		cashHolding("500"),
	)
	return NewPortfolioService(NewHoldingsAggregator(reader))
}

func TestPortfolioService_Summary(t *testing.T) {
	s, err := newTestPortfolioService().Summary(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "5000", s.TotalValue.String())
	assert.Equal(t, "500", s.TotalCash.String())
	assert.Equal(t, "10", s.CashPercentage.String())
	assert.Equal(t, 5, s.HoldingsCount)
	assert.Equal(t, 2, s.StockCount)
	assert.Equal(t, 1, s.ETFCount)
	assert.Equal(t, 1, s.MutualFundCount)
	assert.Equal(t, 1, s.CashCount)
	assert.Equal(t, 1, s.OverlapCount)
}

func TestPortfolioService_CashBreakdown(t *testing.T) {
	entries, err := newTestPortfolioService().CashBreakdown(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "Investments", entries[0].Label)
	assert.Equal(t, "90", entries[0].Percentage.String())
	assert.Equal(t, "Cash", entries[1].Label)
	assert.Equal(t, "500", entries[1].Value.String())
}

func TestPortfolioService_AssetBreakdown(t *testing.T) {
	entries, err := newTestPortfolioService().AssetBreakdown(context.Background())
	require.NoError(t, err)

	var got []string
	for _, e := range entries {
		got = append(got, e.Label)
	}
	// stocks 1500, ETFs 2000, mutual funds 1000, cash 500
	assert.Equal(t, []string{"ETFs", "Stocks", "Mutual Funds", "Cash"}, got)
	assert.Equal(t, 2, entries[1].Count)
	assert.True(t, entries[1].Value.Equal(decimal.NewFromInt(1500)))
	assert.Equal(t, "30", entries[1].Percentage.String())
}

func TestPortfolioService_FundDetail(t *testing.T) {
	svc := newTestPortfolioService()

	detail, err := svc.FundDetail(context.Background(), " vti ")
	require.NoError(t, err)
	assert.Equal(t, "VTI", detail.Symbol)
	assert.True(t, detail.Resolved)
	assert.Len(t, detail.Underlying, 2)
	assert.Equal(t, []string{"AAPL", "MSFT"}, detail.DirectHoldings)

	pending, err := svc.FundDetail(context.Background(), "FXAIX")
	require.NoError(t, err)
	assert.False(t, pending.Resolved)
	assert.NotNil(t, pending.Underlying)
	assert.Empty(t, pending.Underlying)

	tests := []struct {
		symbol   string
		wantCode string
	}{
		{symbol: "", wantCode: apperrors.CodeInvalidParameter},
		{symbol: "QQQ", wantCode: apperrors.CodeNotFound},
		{symbol: "AAPL", wantCode: apperrors.CodeInvalidParameter},
	}
	for _, tt := range tests {
		t.Run(tt.symbol, func(t *testing.T) {
			_, err := svc.FundDetail(context.Background(), tt.symbol)
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, apperrors.Categorize(err).Code)
		})
	}
}

func TestPortfolioService_TopHoldings(t *testing.T) {
	top, err := newTestPortfolioService().TopHoldings(context.Background())
	require.NoError(t, err)

	var symbols []string
	for _, h := range top.Holdings {
		symbols = append(symbols, h.Symbol)
	}
	// FXAIX is unresolved and contributes nothing
	assert.Equal(t, []string{"AAPL", "MSFT", "NVDA"}, symbols)
	assert.Equal(t, 3, top.UniqueStocks)
	assert.Equal(t, "1900", top.TotalStockValue.String())
	assert.Equal(t, "1500", top.TotalDirectValue.String())
	assert.Equal(t, "400", top.TotalIndirectValue.String())

	aapl := top.Holdings[0]
	assert.Equal(t, "1200", aapl.TotalValue.String())
	assert.Equal(t, "1000", aapl.DirectValue.String())
	assert.Equal(t, "10", aapl.DirectShares.String())
	assert.Equal(t, "200", aapl.IndirectValue.String())
	assert.True(t, aapl.AlsoHeld)
	assert.Equal(t, 1, aapl.FundCount)
	require.Len(t, aapl.IndirectSources, 1)
	assert.Equal(t, "VTI", aapl.IndirectSources[0].Fund)
	assert.Equal(t, "VTI FUND", aapl.IndirectSources[0].FundName)

	nvda := top.Holdings[2]
	assert.False(t, nvda.AlsoHeld)
	assert.Equal(t, "NVDA CORP", nvda.Name)
	assert.True(t, nvda.DirectValue.IsZero())
}

func TestPortfolioService_TopHoldingsLimits(t *testing.T) {
	var holdings []*models.Holding
	for i := 1; i <= 6; i++ {
		value := strconv.Itoa(i * 10)
		holdings = append(holdings, fundHolding("F"+strconv.Itoa(i), models.AssetTypeETF, "1000", true,
			constituent("AAPL", "0.01", value, "Technology", "United States"),
		))
	}
	var wide []models.Constituent
	for i := 1; i <= 12; i++ {
		wide = append(wide, constituent(fmt.Sprintf("C%02d", i), "0.001", strconv.Itoa(i), "", ""))
	}
	wide = append(wide, constituent("ZERO", "0", "0", "", ""))
	holdings = append(holdings, fundHolding("WIDE", models.AssetTypeMutualFund, "5000", true, wide...))

	reader := newMockPortfolioReader()
	reader.addSnapshot(merrillAccount, 10, octFirst, holdings...)
	top, err := NewPortfolioService(NewHoldingsAggregator(reader)).TopHoldings(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 13, top.UniqueStocks)
	require.Len(t, top.Holdings, 10)
	assert.Equal(t, "C04", top.Holdings[9].Symbol)

	aapl := top.Holdings[0]
	assert.Equal(t, "AAPL", aapl.Symbol)
	assert.Equal(t, "210", aapl.TotalValue.String())
	assert.Equal(t, 6, aapl.FundCount)
	require.Len(t, aapl.IndirectSources, 5)
	assert.Equal(t, "F6", aapl.IndirectSources[0].Fund)
	assert.Equal(t, "F2", aapl.IndirectSources[4].Fund)
}

func TestPortfolioService_TopHoldingsEmpty(t *testing.T) {
	svc := NewPortfolioService(NewHoldingsAggregator(newMockPortfolioReader()))
	top, err := svc.TopHoldings(context.Background())
	require.NoError(t, err)
	assert.Empty(t, top.Holdings)
	assert.NotNil(t, top.Holdings)
	assert.True(t, top.TotalStockValue.IsZero())
}

func TestFormatUSD(t *testing.T) {
	tests := []struct {
		amount string
		want   string
	}{
		{amount: "14945.67", want: "$14,945.67"},
		{amount: "0", want: "$0.00"},
		{amount: "1234567.891", want: "$1,234,567.89"},
	}
	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatUSD(decimal.RequireFromString(tt.amount)))
		})
	}

	assert.Equal(t, "12.50 XYZ", FormatMoney(decimal.RequireFromString("12.5"), "XYZ"))
}

package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RaajeevKalyan/portfolio-analyzer/internal/models"
)

// Mock reader for testing

type mockPortfolioReader struct {
	snapshots []models.LatestSnapshot
	holdings  map[int64][]*models.Holding
	listErr   error
}

func newMockPortfolioReader() *mockPortfolioReader {
	return &mockPortfolioReader{holdings: make(map[int64][]*models.Holding)}
}

func (m *mockPortfolioReader) ListForActiveAccounts(ctx context.Context) ([]models.LatestSnapshot, error) {
	return m.snapshots, m.listErr
}

func (m *mockPortfolioReader) ListHoldings(ctx context.Context, snapshotID int64) ([]*models.Holding, error) {
	return m.holdings[snapshotID], nil
}

func (m *mockPortfolioReader) addSnapshot(account models.BrokerAccount, snapshotID int64, date time.Time, holdings ...*models.Holding) {
	m.snapshots = append(m.snapshots, models.LatestSnapshot{
		Account:  account,
		Snapshot: models.PortfolioSnapshot{ID: snapshotID, AccountID: account.ID, SnapshotDate: date},
	})
	m.holdings[snapshotID] = holdings
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func stockHolding(symbol string, qty, price string) *models.Holding {
	q, p := dec(qty), dec(price)
	return &models.Holding{
		Symbol:      symbol,
		Name:        symbol + " INC",
		Quantity:    q,
		Price:       p,
		TotalValue:  q.Mul(p),
		AssetType:   models.AssetTypeStock,
		Sector:      "Technology",
		Country:     "United States",
		InfoFetched: true,
	}
}

func cashHolding(value string) *models.Holding {
	v := dec(value)
	return &models.Holding{
		Symbol:      models.CashSymbol,
		Name:        "Cash",
		Quantity:    decimal.NewFromInt(1),
		Price:       v,
		TotalValue:  v,
		AssetType:   models.AssetTypeCash,
		InfoFetched: true,
	}
}

func fundHolding(symbol string, assetType models.AssetType, value string, resolved bool, constituents ...models.Constituent) *models.Holding {
	v := dec(value)
	return &models.Holding{
		Symbol:           symbol,
		Name:             symbol + " FUND",
		Quantity:         decimal.NewFromInt(1),
		Price:            v,
		TotalValue:       v,
		AssetType:        assetType,
		InfoFetched:      true,
		UnderlyingParsed: resolved,
		Underlying:       constituents,
	}
}

func constituent(symbol, weight, value, sector, country string) models.Constituent {
	return models.Constituent{
		Symbol:  symbol,
		Name:    symbol + " CORP",
		Weight:  dec(weight),
		Value:   dec(value),
		Sector:  sector,
		Country: country,
	}
}

var (
	merrillAccount  = models.BrokerAccount{ID: 1, BrokerName: "merrill", AccountLast4: "2345", IsActive: true}
	fidelityAccount = models.BrokerAccount{ID: 2, BrokerName: "fidelity", AccountLast4: "5678", IsActive: true}
	octFirst        = time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
)

func TestHoldingsAggregator_DetectsOverlap(t *testing.T) {
	reader := newMockPortfolioReader()
	reader.addSnapshot(merrillAccount, 10, octFirst,
		stockHolding("AAPL", "10", "100"),
		fundHolding("VTI", models.AssetTypeETF, "10000", true,
			constituent("AAPL", "0.05", "500", "Technology", "United States"),
			constituent("MSFT", "0.05", "500", "Technology", "United States"),
		),
		cashHolding("500"),
	)

	p, err := NewHoldingsAggregator(reader).Aggregate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "11500", p.TotalValue.String())
	assert.Equal(t, "500", p.TotalCash.String())
	assert.Equal(t, "11000", p.TotalInvestments.String())
	assert.Equal(t, "4.35", p.CashPercentage.String())
	assert.Equal(t, "95.65", p.InvestmentPercentage.String())
	assert.Equal(t, []int64{10}, p.SnapshotIDs)

	require.Len(t, p.Overlaps, 1)
	overlap := p.Overlaps["AAPL"]
	assert.Equal(t, "1000", overlap.DirectValue.String())
	assert.Equal(t, "500", overlap.UnderlyingValue.String())
	require.Len(t, overlap.Sources, 1)
	assert.Equal(t, "VTI", overlap.Sources[0].Fund)

	assert.Len(t, p.DirectHoldings, 2)
	_, cashIsDirect := p.DirectHoldings[models.CashSymbol]
	assert.False(t, cashIsDirect)
	assert.Len(t, p.UnderlyingHoldings, 2)

	require.Len(t, p.Holdings, 3)
	assert.Equal(t, "VTI", p.Holdings[0].Symbol)
	assert.Equal(t, 2, p.Holdings[0].UnderlyingCount)
	assert.Equal(t, "AAPL", p.Holdings[1].Symbol)
	assert.True(t, p.Holdings[1].HasOverlap)
	assert.Equal(t, models.CashSymbol, p.Holdings[2].Symbol)
}

func TestHoldingsAggregator_UsesLatestSnapshotPerAccount(t *testing.T) {
	reader := newMockPortfolioReader()
	reader.addSnapshot(merrillAccount, 9, octFirst.AddDate(0, -1, 0), stockHolding("AAPL", "100", "100"))
	reader.addSnapshot(merrillAccount, 10, octFirst, stockHolding("AAPL", "10", "100"))
	reader.addSnapshot(fidelityAccount, 20, octFirst, stockHolding("AAPL", "5", "120"))

	p, err := NewHoldingsAggregator(reader).Aggregate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int64{10, 20}, p.SnapshotIDs)
	require.Len(t, p.Holdings, 1)
	aapl := p.Holdings[0]
	assert.Equal(t, "15", aapl.TotalQuantity.String())
	assert.Equal(t, "1600", aapl.TotalValue.String())
	assert.Equal(t, "106.6667", aapl.AveragePrice.String())
	assert.Equal(t, "100", aapl.AllocationPct.String())
	require.Len(t, aapl.Brokers, 2)
	assert.Equal(t, "merrill", aapl.Brokers[0].Broker)
	assert.Equal(t, "fidelity", aapl.Brokers[1].Broker)
}

func TestHoldingsAggregator_SameDateTieGoesToNewerSnapshot(t *testing.T) {
	reader := newMockPortfolioReader()
	reader.addSnapshot(merrillAccount, 11, octFirst, stockHolding("MSFT", "1", "300"))
	reader.addSnapshot(merrillAccount, 10, octFirst, stockHolding("AAPL", "1", "100"))

	latest, err := NewHoldingsAggregator(reader).LatestSnapshots(context.Background())
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, int64(11), latest[0].Snapshot.ID)
}

func TestHoldingsAggregator_UnresolvedFundsKeepShape(t *testing.T) {
	tests := []struct {
		name string
		fund *models.Holding
	}{
		{
			name: "resolution pending",
			fund: fundHolding("VTI", models.AssetTypeETF, "1000", false,
				constituent("AAPL", "0.5", "500", "Technology", "United States")),
		},
		{
			name: "gave up with no constituents",
			fund: fundHolding("VTI", models.AssetTypeETF, "1000", true),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := newMockPortfolioReader()
			reader.addSnapshot(merrillAccount, 10, octFirst, stockHolding("AAPL", "1", "100"), tt.fund)

			p, err := NewHoldingsAggregator(reader).Aggregate(context.Background())
			require.NoError(t, err)

			assert.Equal(t, "1100", p.TotalValue.String())
			assert.NotNil(t, p.Overlaps)
			assert.Empty(t, p.Overlaps)
			assert.NotNil(t, p.UnderlyingHoldings)
			assert.Empty(t, p.UnderlyingHoldings)
			assert.Len(t, p.DirectHoldings, 2)
			assert.Equal(t, 0, p.Holdings[0].UnderlyingCount)
		})
	}
}

func TestHoldingsAggregator_EmptyPortfolio(t *testing.T) {
	p, err := NewHoldingsAggregator(newMockPortfolioReader()).Aggregate(context.Background())
	require.NoError(t, err)

	assert.True(t, p.TotalValue.IsZero())
	assert.True(t, p.CashPercentage.IsZero())
	assert.NotNil(t, p.Holdings)
	assert.Empty(t, p.Holdings)
	assert.Equal(t, []int64{}, p.SnapshotIDs)
	assert.Empty(t, p.Overlaps)
}

func TestHoldingsAggregator_ReaderError(t *testing.T) {
	reader := newMockPortfolioReader()
	reader.listErr = errors.New("connection refused")

	_, err := NewHoldingsAggregator(reader).Aggregate(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, reader.listErr)
}

func TestHoldingsAggregator_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	build := func(direct, embedded []int64, cash int64) *AggregatedPortfolio {
		var holdings []*models.Holding
		fundValue := decimal.Zero
		var constituents models.Constituents
		for i, v := range direct {
			symbol := fmt.Sprintf("S%d", i)
			holdings = append(holdings, stockHolding(symbol, "1", decimal.New(v, -2).String()))
		}
		for i, v := range embedded {
			value := decimal.New(v, -2)
			fundValue = fundValue.Add(value)
			constituents = append(constituents, models.Constituent{Symbol: fmt.Sprintf("S%d", i), Value: value})
		}
		holdings = append(holdings,
			fundHolding("FUND", models.AssetTypeMutualFund, fundValue.String(), true, constituents...),
			cashHolding(decimal.New(cash, -2).String()),
		)

		entries := make([]positionEntry, 0, len(holdings))
		for _, h := range holdings {
			entries = append(entries, positionEntry{account: merrillAccount, holding: h})
		}
		return aggregatePositions(entries)
	}

	properties.Property("a symbol overlaps iff it is held directly and through a fund", prop.ForAll(
		func(direct, embedded []int64, cash int64) bool {
			p := build(direct, embedded, cash)
			for i := range direct {
				symbol := fmt.Sprintf("S%d", i)
				_, overlapping := p.Overlaps[symbol]
				want := direct[i] > 0 && i < len(embedded) && embedded[i] > 0
				if overlapping != want {
					return false
				}
			}
			return len(p.Overlaps) <= len(direct)
		},
		gen.SliceOfN(5, gen.Int64Range(0, 10_000_000)),
		gen.SliceOfN(5, gen.Int64Range(0, 10_000_000)),
		gen.Int64Range(0, 10_000_000),
	))

	properties.Property("cash plus investments equals total", prop.ForAll(
		func(direct, embedded []int64, cash int64) bool {
			p := build(direct, embedded, cash)
			return p.TotalCash.Add(p.TotalInvestments).Equal(p.TotalValue) &&
				p.TotalCash.Equal(decimal.New(cash, -2))
		},
		gen.SliceOfN(5, gen.Int64Range(0, 10_000_000)),
		gen.SliceOfN(5, gen.Int64Range(0, 10_000_000)),
		gen.Int64Range(0, 10_000_000),
	))

	properties.TestingRun(t)
}

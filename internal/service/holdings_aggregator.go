package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/RaajeevKalyan/portfolio-analyzer/internal/logging"
	"github.com/RaajeevKalyan/portfolio-analyzer/internal/models"
)

var hundred = decimal.NewFromInt(100)

// PortfolioReader is the read side of the snapshot and holding repositories
type PortfolioReader interface {
	ListForActiveAccounts(ctx context.Context) ([]models.LatestSnapshot, error)
	ListHoldings(ctx context.Context, snapshotID int64) ([]*models.Holding, error)
}

// BrokerPosition is one account's contribution to an aggregated symbol
type BrokerPosition struct {
	Broker       string          `json:"broker"`
	AccountLast4 string          `json:"accountLast4"`
	Quantity     decimal.Decimal `json:"quantity"`
	Price        decimal.Decimal `json:"price"`
	Value        decimal.Decimal `json:"value"`
}

// AggregatedHolding is one symbol summed across the latest snapshots
type AggregatedHolding struct {
	Symbol          string           `json:"symbol"`
	Name            string           `json:"name"`
	AssetType       models.AssetType `json:"assetType"`
	Sector          string           `json:"sector,omitempty"`
	Country         string           `json:"country,omitempty"`
	TotalQuantity   decimal.Decimal  `json:"totalQuantity"`
	AveragePrice    decimal.Decimal  `json:"averagePrice"`
	TotalValue      decimal.Decimal  `json:"totalValue"`
	AllocationPct   decimal.Decimal  `json:"allocationPct"`
	IsFund          bool             `json:"isFund"`
	UnderlyingCount int              `json:"underlyingCount"`
	Brokers         []BrokerPosition `json:"brokers"`
	HasOverlap      bool             `json:"hasOverlap"`
}

// DirectHolding is a non-cash position held outright
type DirectHolding struct {
	Value         decimal.Decimal `json:"value"`
	Quantity      decimal.Decimal `json:"quantity"`
	AllocationPct decimal.Decimal `json:"allocationPct"`
}

// UnderlyingSource is one fund's contribution to a constituent
type UnderlyingSource struct {
	Fund   string          `json:"fund"`
	Weight decimal.Decimal `json:"weight"`
	Value  decimal.Decimal `json:"value"`
}

// UnderlyingHolding is a constituent summed across every held fund
type UnderlyingHolding struct {
	Symbol     string             `json:"symbol"`
	Name       string             `json:"name"`
	TotalValue decimal.Decimal    `json:"totalValue"`
	Sources    []UnderlyingSource `json:"sources"`
}

// Overlap is a symbol held both directly and through funds
type Overlap struct {
	DirectValue     decimal.Decimal    `json:"directValue"`
	UnderlyingValue decimal.Decimal    `json:"underlyingValue"`
	Sources         []UnderlyingSource `json:"underlyingSources"`
}

// AggregatedPortfolio is the dashboard read model. Its shape does not
// depend on how much resolution has completed.
type AggregatedPortfolio struct {
	TotalValue           decimal.Decimal               `json:"totalValue"`
	TotalCash            decimal.Decimal               `json:"totalCash"`
	TotalInvestments     decimal.Decimal               `json:"totalInvestments"`
	CashPercentage       decimal.Decimal               `json:"cashPercentage"`
	InvestmentPercentage decimal.Decimal               `json:"investmentPercentage"`
	SnapshotIDs          []int64                       `json:"snapshotIds"`
	Holdings             []*AggregatedHolding          `json:"holdings"`
	DirectHoldings       map[string]DirectHolding      `json:"directHoldings"`
	UnderlyingHoldings   map[string]*UnderlyingHolding `json:"underlyingHoldings"`
	Overlaps             map[string]Overlap            `json:"overlaps"`

	// positions are the raw holdings of the latest snapshots
	positions []*models.Holding
}

// Positions returns the holdings the aggregate was built from
func (p *AggregatedPortfolio) Positions() []*models.Holding {
	return p.positions
}

func emptyPortfolio() *AggregatedPortfolio {
	return &AggregatedPortfolio{
		TotalValue:           decimal.Zero,
		TotalCash:            decimal.Zero,
		TotalInvestments:     decimal.Zero,
		CashPercentage:       decimal.Zero,
		InvestmentPercentage: decimal.Zero,
		SnapshotIDs:          []int64{},
		Holdings:             []*AggregatedHolding{},
		DirectHoldings:       map[string]DirectHolding{},
		UnderlyingHoldings:   map[string]*UnderlyingHolding{},
		Overlaps:             map[string]Overlap{},
	}
}

// HoldingsAggregator merges the latest snapshot of every active account
// into one consolidated view
type HoldingsAggregator struct {
	reader PortfolioReader
}

// NewHoldingsAggregator creates an aggregator
func NewHoldingsAggregator(reader PortfolioReader) *HoldingsAggregator {
	return &HoldingsAggregator{reader: reader}
}

// LatestSnapshots returns the single most recent snapshot per active account
func (a *HoldingsAggregator) LatestSnapshots(ctx context.Context) ([]models.LatestSnapshot, error) {
	all, err := a.reader.ListForActiveAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	return selectLatest(all), nil
}

// Aggregate builds the consolidated view. An empty portfolio yields a
// zeroed result, not an error.
func (a *HoldingsAggregator) Aggregate(ctx context.Context) (*AggregatedPortfolio, error) {
	latest, err := a.LatestSnapshots(ctx)
	if err != nil {
		return nil, err
	}

	var entries []positionEntry
	var snapshotIDs []int64
	for _, ls := range latest {
		holdings, err := a.reader.ListHoldings(ctx, ls.Snapshot.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load holdings for snapshot %d: %w", ls.Snapshot.ID, err)
		}
		snapshotIDs = append(snapshotIDs, ls.Snapshot.ID)
		for _, h := range holdings {
			entries = append(entries, positionEntry{account: ls.Account, holding: h})
		}
	}

	result := aggregatePositions(entries)
	result.SnapshotIDs = snapshotIDs
	if result.SnapshotIDs == nil {
		result.SnapshotIDs = []int64{}
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"snapshots": len(snapshotIDs),
		"symbols":   len(result.Holdings),
		"overlaps":  len(result.Overlaps),
	}).Debug("Aggregated holdings")
	return result, nil
}

// selectLatest keeps the newest snapshot per account. Ties on date go to
// the higher snapshot id.
func selectLatest(all []models.LatestSnapshot) []models.LatestSnapshot {
	best := make(map[int64]models.LatestSnapshot)
	for _, ls := range all {
		cur, ok := best[ls.Account.ID]
		if !ok || ls.Snapshot.SnapshotDate.After(cur.Snapshot.SnapshotDate) ||
			(ls.Snapshot.SnapshotDate.Equal(cur.Snapshot.SnapshotDate) && ls.Snapshot.ID > cur.Snapshot.ID) {
			best[ls.Account.ID] = ls
		}
	}

	out := make([]models.LatestSnapshot, 0, len(best))
	for _, ls := range best {
		out = append(out, ls)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Account.ID < out[j].Account.ID })
	return out
}

type positionEntry struct {
	account models.BrokerAccount
	holding *models.Holding
}

// constituentsOf returns the constituent list only once resolution has
// finished for the fund
func constituentsOf(h *models.Holding) models.Constituents {
	if !h.AssetType.IsFund() || !h.UnderlyingParsed {
		return nil
	}
	return h.Underlying
}

func aggregatePositions(entries []positionEntry) *AggregatedPortfolio {
	result := emptyPortfolio()
	if len(entries) == 0 {
		return result
	}

	bySymbol := make(map[string]*AggregatedHolding)
	var order []string
	for _, e := range entries {
		h := e.holding
		result.positions = append(result.positions, h)

		agg, ok := bySymbol[h.Symbol]
		if !ok {
			agg = &AggregatedHolding{
				Symbol:        h.Symbol,
				Name:          h.Name,
				AssetType:     h.AssetType,
				Sector:        h.Sector,
				Country:       h.Country,
				TotalQuantity: decimal.Zero,
				TotalValue:    decimal.Zero,
				IsFund:        h.AssetType.IsFund(),
			}
			bySymbol[h.Symbol] = agg
			order = append(order, h.Symbol)
		}
		if agg.UnderlyingCount == 0 {
			agg.UnderlyingCount = len(constituentsOf(h))
		}
		agg.TotalQuantity = agg.TotalQuantity.Add(h.Quantity)
		agg.TotalValue = agg.TotalValue.Add(h.TotalValue)
		agg.Brokers = append(agg.Brokers, BrokerPosition{
			Broker:       e.account.BrokerName,
			AccountLast4: e.account.AccountLast4,
			Quantity:     h.Quantity,
			Price:        h.Price,
			Value:        h.TotalValue,
		})

		result.TotalValue = result.TotalValue.Add(h.TotalValue)
		if h.IsCash() {
			result.TotalCash = result.TotalCash.Add(h.TotalValue)
		} else {
			result.TotalInvestments = result.TotalInvestments.Add(h.TotalValue)
		}
	}

	result.CashPercentage = percentOf(result.TotalCash, result.TotalValue, 2)
	result.InvestmentPercentage = percentOf(result.TotalInvestments, result.TotalValue, 2)

	for _, symbol := range order {
		agg := bySymbol[symbol]
		if agg.TotalQuantity.IsPositive() {
			agg.AveragePrice = agg.TotalValue.Div(agg.TotalQuantity).Round(4)
		} else {
			agg.AveragePrice = decimal.Zero
		}
		agg.AllocationPct = percentOf(agg.TotalValue, result.TotalValue, 2)
		result.Holdings = append(result.Holdings, agg)

		if agg.AssetType != models.AssetTypeCash {
			result.DirectHoldings[symbol] = DirectHolding{
				Value:         agg.TotalValue,
				Quantity:      agg.TotalQuantity,
				AllocationPct: agg.AllocationPct,
			}
		}
	}
	sort.SliceStable(result.Holdings, func(i, j int) bool {
		return result.Holdings[i].TotalValue.GreaterThan(result.Holdings[j].TotalValue)
	})

	for _, e := range entries {
		h := e.holding
		for _, c := range constituentsOf(h) {
			u, ok := result.UnderlyingHoldings[c.Symbol]
			if !ok {
				name := c.Name
				if name == "" {
					name = c.Symbol
				}
				u = &UnderlyingHolding{Symbol: c.Symbol, Name: name, TotalValue: decimal.Zero}
				result.UnderlyingHoldings[c.Symbol] = u
			}
			u.TotalValue = u.TotalValue.Add(c.Value)
			u.Sources = append(u.Sources, UnderlyingSource{Fund: h.Symbol, Weight: c.Weight, Value: c.Value})
		}
	}

	for symbol, direct := range result.DirectHoldings {
		u, ok := result.UnderlyingHoldings[symbol]
		if !ok || !direct.Value.IsPositive() || !u.TotalValue.IsPositive() {
			continue
		}
		result.Overlaps[symbol] = Overlap{
			DirectValue:     direct.Value,
			UnderlyingValue: u.TotalValue,
			Sources:         u.Sources,
		}
		bySymbol[symbol].HasOverlap = true
	}

	return result
}

// percentOf returns part/total*100 rounded to places, or zero for an empty total
func percentOf(part, total decimal.Decimal, places int32) decimal.Decimal {
	if !total.IsPositive() {
		return decimal.Zero
	}
	return part.Div(total).Mul(hundred).Round(places)
}

package service

import (
	"context"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	apperrors "github.com/RaajeevKalyan/portfolio-analyzer/internal/errors"
	"github.com/RaajeevKalyan/portfolio-analyzer/internal/models"
)

// PortfolioService serves the dashboard views built on the aggregator
type PortfolioService struct {
	aggregator *HoldingsAggregator
}

// NewPortfolioService creates a new portfolio service
func NewPortfolioService(aggregator *HoldingsAggregator) *PortfolioService {
	return &PortfolioService{aggregator: aggregator}
}

// Summary is the headline view of the portfolio
type Summary struct {
	TotalValue           decimal.Decimal `json:"totalValue"`
	TotalInvestments     decimal.Decimal `json:"totalInvestments"`
	TotalCash            decimal.Decimal `json:"totalCash"`
	CashPercentage       decimal.Decimal `json:"cashPercentage"`
	InvestmentPercentage decimal.Decimal `json:"investmentPercentage"`
	HoldingsCount        int             `json:"holdingsCount"`
	StockCount           int             `json:"stockCount"`
	ETFCount             int             `json:"etfCount"`
	MutualFundCount      int             `json:"mutualFundCount"`
	CashCount            int             `json:"cashCount"`
	OverlapCount         int             `json:"overlapCount"`
}

// BreakdownEntry is one slice of the cash or asset type breakdown
type BreakdownEntry struct {
	Type       string          `json:"type,omitempty"`
	Label      string          `json:"label"`
	Value      decimal.Decimal `json:"value"`
	Count      int             `json:"count,omitempty"`
	Percentage decimal.Decimal `json:"percentage"`
}

// FundDetail lists a held fund's constituents next to the directly held
// stocks so overlaps can be highlighted
type FundDetail struct {
	Symbol         string              `json:"symbol"`
	Name           string              `json:"name"`
	AssetType      models.AssetType    `json:"assetType"`
	TotalValue     decimal.Decimal     `json:"totalValue"`
	Quantity       decimal.Decimal     `json:"quantity"`
	Price          decimal.Decimal     `json:"price"`
	Resolved       bool                `json:"resolved"`
	Underlying     models.Constituents `json:"underlyingHoldings"`
	DirectHoldings []string            `json:"directHoldings"`
}

// Holdings returns the aggregated portfolio
func (s *PortfolioService) Holdings(ctx context.Context) (*AggregatedPortfolio, error) {
	return s.aggregator.Aggregate(ctx)
}

// Summary returns totals and counts by asset type
func (s *PortfolioService) Summary(ctx context.Context) (*Summary, error) {
	p, err := s.aggregator.Aggregate(ctx)
	if err != nil {
		return nil, err
	}
	return summarize(p), nil
}

func summarize(p *AggregatedPortfolio) *Summary {
	out := &Summary{
		TotalValue:           p.TotalValue,
		TotalInvestments:     p.TotalInvestments,
		TotalCash:            p.TotalCash,
		CashPercentage:       p.CashPercentage,
		InvestmentPercentage: p.InvestmentPercentage,
		HoldingsCount:        len(p.Holdings),
		OverlapCount:         len(p.Overlaps),
	}
	for _, h := range p.Holdings {
		switch h.AssetType {
		case models.AssetTypeStock:
			out.StockCount++
		case models.AssetTypeETF:
			out.ETFCount++
		case models.AssetTypeMutualFund:
			out.MutualFundCount++
		case models.AssetTypeCash:
			out.CashCount++
		}
	}
	return out
}

// CashBreakdown splits the portfolio into investments and cash
func (s *PortfolioService) CashBreakdown(ctx context.Context) ([]BreakdownEntry, error) {
	p, err := s.aggregator.Aggregate(ctx)
	if err != nil {
		return nil, err
	}
	return []BreakdownEntry{
		{Label: "Investments", Value: p.TotalInvestments, Percentage: p.InvestmentPercentage},
		{Label: "Cash", Value: p.TotalCash, Percentage: p.CashPercentage},
	}, nil
}

var assetTypeLabels = map[models.AssetType]string{
	models.AssetTypeStock:      "Stocks",
	models.AssetTypeETF:        "ETFs",
	models.AssetTypeMutualFund: "Mutual Funds",
	models.AssetTypeBond:       "Bonds",
	models.AssetTypeCash:       "Cash",
	models.AssetTypeOption:     "Options",
	models.AssetTypeOther:      "Other",
}

// AssetBreakdown groups the aggregated holdings by asset type, largest first
func (s *PortfolioService) AssetBreakdown(ctx context.Context) ([]BreakdownEntry, error) {
	p, err := s.aggregator.Aggregate(ctx)
	if err != nil {
		return nil, err
	}
	return assetBreakdown(p), nil
}

func assetBreakdown(p *AggregatedPortfolio) []BreakdownEntry {
	byType := make(map[models.AssetType]*BreakdownEntry)
	for _, h := range p.Holdings {
		e, ok := byType[h.AssetType]
		if !ok {
			label, known := assetTypeLabels[h.AssetType]
			if !known {
				label = string(h.AssetType)
			}
			e = &BreakdownEntry{Type: string(h.AssetType), Label: label, Value: decimal.Zero}
			byType[h.AssetType] = e
		}
		e.Value = e.Value.Add(h.TotalValue)
		e.Count++
	}

	out := make([]BreakdownEntry, 0, len(byType))
	for _, e := range byType {
		e.Percentage = percentOf(e.Value, p.TotalValue, 2)
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Value.Equal(out[j].Value) {
			return out[i].Value.GreaterThan(out[j].Value)
		}
		return out[i].Type < out[j].Type
	})
	return out
}

// FundDetail returns the constituents of a held fund
func (s *PortfolioService) FundDetail(ctx context.Context, symbol string) (*FundDetail, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, apperrors.NewInvalidParameterError("symbol", "must not be empty")
	}

	p, err := s.aggregator.Aggregate(ctx)
	if err != nil {
		return nil, err
	}

	var fund *models.Holding
	direct := make(map[string]bool)
	for _, h := range p.Positions() {
		if fund == nil && h.Symbol == symbol {
			fund = h
		}
		if h.AssetType == models.AssetTypeStock {
			direct[h.Symbol] = true
		}
	}
	if fund == nil {
		return nil, apperrors.NewNotFoundError("holding", symbol)
	}
	if !fund.AssetType.IsFund() {
		return nil, apperrors.NewInvalidParameterError("symbol", symbol+" is not an ETF or mutual fund")
	}

	detail := &FundDetail{
		Symbol:         fund.Symbol,
		Name:           fund.Name,
		AssetType:      fund.AssetType,
		TotalValue:     fund.TotalValue,
		Quantity:       fund.Quantity,
		Price:          fund.Price,
		Resolved:       fund.UnderlyingParsed,
		Underlying:     constituentsOf(fund),
		DirectHoldings: make([]string, 0, len(direct)),
	}
	if detail.Underlying == nil {
		detail.Underlying = models.Constituents{}
	}
	for s := range direct {
		detail.DirectHoldings = append(detail.DirectHoldings, s)
	}
	sort.Strings(detail.DirectHoldings)
	return detail, nil
}

const (
	topHoldingsLimit = 10
	topSourcesLimit  = 5
)

// TopHoldingSource is one fund's share of a top holding
type TopHoldingSource struct {
	Fund     string          `json:"fund"`
	FundName string          `json:"fundName"`
	Weight   decimal.Decimal `json:"weight"`
	Value    decimal.Decimal `json:"value"`
}

// TopHolding is a stock's combined exposure: shares held outright plus
// its weighted value inside every held fund
type TopHolding struct {
	Symbol          string             `json:"symbol"`
	Name            string             `json:"name"`
	TotalValue      decimal.Decimal    `json:"totalValue"`
	DirectValue     decimal.Decimal    `json:"directValue"`
	DirectShares    decimal.Decimal    `json:"directShares"`
	IndirectValue   decimal.Decimal    `json:"indirectValue"`
	IndirectSources []TopHoldingSource `json:"indirectSources"`
	FundCount       int                `json:"fundCount"`
	Sector          string             `json:"sector,omitempty"`
	Country         string             `json:"country,omitempty"`
	AlsoHeld        bool               `json:"isAlsoHeld"`
}

// TopHoldings lists the largest stock exposures and the totals across all
// of them
type TopHoldings struct {
	Holdings           []TopHolding    `json:"topHoldings"`
	TotalStockValue    decimal.Decimal `json:"totalStockValue"`
	TotalDirectValue   decimal.Decimal `json:"totalDirectValue"`
	TotalIndirectValue decimal.Decimal `json:"totalIndirectValue"`
	UniqueStocks       int             `json:"totalUniqueStocks"`
}

// TopHoldings returns the ten largest stocks by direct plus fund-embedded value
func (s *PortfolioService) TopHoldings(ctx context.Context) (*TopHoldings, error) {
	p, err := s.aggregator.Aggregate(ctx)
	if err != nil {
		return nil, err
	}
	return topHoldings(p), nil
}

func topHoldings(p *AggregatedPortfolio) *TopHoldings {
	bySymbol := make(map[string]*TopHolding)
	get := func(symbol, name, sector, country string) *TopHolding {
		t, ok := bySymbol[symbol]
		if !ok {
			if name == "" {
				name = symbol
			}
			t = &TopHolding{
				Symbol:          symbol,
				Name:            name,
				TotalValue:      decimal.Zero,
				DirectValue:     decimal.Zero,
				DirectShares:    decimal.Zero,
				IndirectValue:   decimal.Zero,
				IndirectSources: []TopHoldingSource{},
				Sector:          sector,
				Country:         country,
			}
			bySymbol[symbol] = t
		}
		return t
	}

	for _, h := range p.Holdings {
		if h.AssetType != models.AssetTypeStock {
			continue
		}
		t := get(h.Symbol, h.Name, h.Sector, h.Country)
		t.DirectValue = t.DirectValue.Add(h.TotalValue)
		t.DirectShares = t.DirectShares.Add(h.TotalQuantity)
		t.Sector, t.Country = h.Sector, h.Country
	}

	// a fund held in two accounts contributes one source per account
	for _, fund := range p.Positions() {
		if !fund.AssetType.IsFund() {
			continue
		}
		for _, c := range constituentsOf(fund) {
			if c.Symbol == "" || !c.Value.IsPositive() {
				continue
			}
			t := get(c.Symbol, c.Name, c.Sector, c.Country)
			t.IndirectValue = t.IndirectValue.Add(c.Value)
			t.IndirectSources = append(t.IndirectSources, TopHoldingSource{
				Fund:     fund.Symbol,
				FundName: fund.Name,
				Weight:   c.Weight,
				Value:    c.Value,
			})
		}
	}

	out := &TopHoldings{
		Holdings:           []TopHolding{},
		TotalStockValue:    decimal.Zero,
		TotalDirectValue:   decimal.Zero,
		TotalIndirectValue: decimal.Zero,
	}
	all := make([]*TopHolding, 0, len(bySymbol))
	for _, t := range bySymbol {
		t.TotalValue = t.DirectValue.Add(t.IndirectValue)
		if !t.TotalValue.IsPositive() {
			continue
		}
		t.FundCount = len(t.IndirectSources)
		t.AlsoHeld = t.DirectValue.IsPositive() && t.IndirectValue.IsPositive()
		sort.SliceStable(t.IndirectSources, func(i, j int) bool {
			return t.IndirectSources[i].Value.GreaterThan(t.IndirectSources[j].Value)
		})
		if len(t.IndirectSources) > topSourcesLimit {
			t.IndirectSources = t.IndirectSources[:topSourcesLimit]
		}

		out.TotalStockValue = out.TotalStockValue.Add(t.TotalValue)
		out.TotalDirectValue = out.TotalDirectValue.Add(t.DirectValue)
		out.TotalIndirectValue = out.TotalIndirectValue.Add(t.IndirectValue)
		all = append(all, t)
	}
	out.UniqueStocks = len(all)

	sort.Slice(all, func(i, j int) bool {
		if !all[i].TotalValue.Equal(all[j].TotalValue) {
			return all[i].TotalValue.GreaterThan(all[j].TotalValue)
		}
		return all[i].Symbol < all[j].Symbol
	})
	if len(all) > topHoldingsLimit {
		all = all[:topHoldingsLimit]
	}
	for _, t := range all {
		out.Holdings = append(out.Holdings, *t)
	}
	return out
}

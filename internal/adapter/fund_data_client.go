package adapter

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const (
	FundDataProviderName   = "fund-data"
	DefaultFundDataBaseURL = "https://eodhd.com/api"
	fundSearchPageSize     = 100
)

// FundDataClient searches the fund universe and fetches holdings tables
type FundDataClient struct {
	*httpClient
}

// NewFundDataClient creates a new fund-data client
func NewFundDataClient(opts ...ClientOption) *FundDataClient {
	return &FundDataClient{
		httpClient: newHTTPClient(FundDataProviderName, DefaultFundDataBaseURL, "api_token", opts...),
	}
}

type screenerResponse struct {
	Total int `json:"total"`
	Rows  []struct {
		Meta struct {
			SecurityID string `json:"securityID"`
			Ticker     string `json:"ticker"`
			Exchange   string `json:"exchange"`
		} `json:"meta"`
		Fields struct {
			Name struct {
				Value string `json:"value"`
			} `json:"name"`
		} `json:"fields"`
	} `json:"rows"`
}

type holdingsResponse struct {
	Holdings []struct {
		Ticker       string      `json:"ticker"`
		SecID        string      `json:"secId"`
		SecurityName string      `json:"securityName"`
		Weighting    flexFloat64 `json:"weighting"`
	} `json:"holdings"`
}

// SearchFunds returns every listing whose ticker matches exactly. The
// screener does fuzzy matching so unrelated rows are filtered here.
func (c *FundDataClient) SearchFunds(ctx context.Context, ticker, investmentType string) ([]FundListing, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if ticker == "" {
		return nil, NewAdapterError(c.provider, "SearchFunds", ErrEmptySymbol, nil)
	}

	params := url.Values{}
	params.Set("term", ticker)
	params.Set("investmentType", investmentType)
	params.Set("pageSize", strconv.Itoa(fundSearchPageSize))

	var resp screenerResponse
	if err := c.get(ctx, ticker, "/screener", params, &resp); err != nil {
		return nil, err
	}

	var listings []FundListing
	for _, row := range resp.Rows {
		if !strings.EqualFold(row.Meta.Ticker, ticker) {
			continue
		}
		listings = append(listings, FundListing{
			SecurityID:     row.Meta.SecurityID,
			Ticker:         strings.ToUpper(row.Meta.Ticker),
			Name:           row.Fields.Name.Value,
			Exchange:       strings.ToUpper(row.Meta.Exchange),
			InvestmentType: investmentType,
		})
	}
	return listings, nil
}

// FundHoldings fetches the equity holdings table, falling back to all
// holdings when the fund reports no equity positions.
func (c *FundDataClient) FundHoldings(ctx context.Context, securityID string) ([]FundPosition, error) {
	if securityID == "" {
		return nil, NewAdapterError(c.provider, "FundHoldings", ErrEmptySymbol, nil)
	}
	path := fmt.Sprintf("/funds/%s/holdings", url.PathEscape(securityID))

	params := url.Values{}
	params.Set("holdingType", "equity")

	var resp holdingsResponse
	if err := c.get(ctx, securityID, path, params, &resp); err != nil {
		return nil, err
	}
	if len(resp.Holdings) == 0 {
		resp = holdingsResponse{}
		if err := c.get(ctx, securityID, path, nil, &resp); err != nil {
			return nil, err
		}
	}

	positions := make([]FundPosition, 0, len(resp.Holdings))
	for _, h := range resp.Holdings {
		positions = append(positions, FundPosition{
			Ticker:     strings.ToUpper(strings.TrimSpace(h.Ticker)),
			SecurityID: strings.TrimSpace(h.SecID),
			Name:       strings.TrimSpace(h.SecurityName),
			WeightPct:  float64(h.Weighting),
		})
	}
	return positions, nil
}

package adapter

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	apperrors "github.com/RaajeevKalyan/portfolio-analyzer/internal/errors"
)

const (
	MarketDataProviderName   = "market-data"
	DefaultMarketDataBaseURL = "https://query2.finance.yahoo.com"
)

// MarketDataClient fetches quote type and sector/industry/country profile
// data from a quoteSummary style endpoint.
type MarketDataClient struct {
	*httpClient
}

// NewMarketDataClient creates a new market-data client
func NewMarketDataClient(opts ...ClientOption) *MarketDataClient {
	return &MarketDataClient{
		httpClient: newHTTPClient(MarketDataProviderName, DefaultMarketDataBaseURL, "apikey", opts...),
	}
}

type quoteSummaryResponse struct {
	QuoteSummary struct {
		Result []struct {
			AssetProfile *struct {
				Sector   string `json:"sector"`
				Industry string `json:"industry"`
				Country  string `json:"country"`
			} `json:"assetProfile"`
			QuoteType *struct {
				Symbol    string `json:"symbol"`
				QuoteType string `json:"quoteType"`
				LongName  string `json:"longName"`
				ShortName string `json:"shortName"`
			} `json:"quoteType"`
			FundProfile *struct {
				CategoryName string `json:"categoryName"`
			} `json:"fundProfile"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"quoteSummary"`
}

// QuoteInfo retrieves quote type and profile for one symbol. Funds carry no
// asset profile; their sector is left empty.
func (c *MarketDataClient) QuoteInfo(ctx context.Context, symbol string) (*QuoteInfo, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, NewAdapterError(c.provider, "QuoteInfo", ErrEmptySymbol, nil)
	}

	params := url.Values{}
	params.Set("modules", "assetProfile,quoteType,fundProfile")

	var resp quoteSummaryResponse
	path := fmt.Sprintf("/v10/finance/quoteSummary/%s", url.PathEscape(symbol))
	if err := c.get(ctx, symbol, path, params, &resp); err != nil {
		return nil, err
	}

	if resp.QuoteSummary.Error != nil && resp.QuoteSummary.Error.Code != "" {
		if strings.EqualFold(resp.QuoteSummary.Error.Code, "Not Found") {
			return nil, apperrors.NewProviderNotFoundError(c.provider, symbol)
		}
		return nil, apperrors.NewProviderError(c.provider, fmt.Errorf("%s: %s", resp.QuoteSummary.Error.Code, resp.QuoteSummary.Error.Description))
	}
	if len(resp.QuoteSummary.Result) == 0 {
		return nil, apperrors.NewProviderNotFoundError(c.provider, symbol)
	}

	r := resp.QuoteSummary.Result[0]
	info := &QuoteInfo{Symbol: symbol}
	if r.QuoteType != nil {
		info.QuoteType = strings.ToUpper(r.QuoteType.QuoteType)
		info.Name = r.QuoteType.LongName
		if info.Name == "" {
			info.Name = r.QuoteType.ShortName
		}
	}
	if r.AssetProfile != nil {
		info.Sector = r.AssetProfile.Sector
		info.Industry = r.AssetProfile.Industry
		info.Country = r.AssetProfile.Country
	}
	if info.Industry == "" && r.FundProfile != nil {
		info.Industry = r.FundProfile.CategoryName
	}
	return info, nil
}

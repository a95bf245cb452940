// Package assettype classifies a symbol as stock, etf, mutual_fund, bond,
// option or cash. Sources are tried in priority order and the first match wins.
package assettype

import (
	"context"
	"strings"
	"unicode"

	"github.com/RaajeevKalyan/portfolio-analyzer/internal/logging"
	"github.com/RaajeevKalyan/portfolio-analyzer/internal/models"
)

// Source records which step produced a classification
const (
	SourceNoSymbol    = "no_symbol"
	SourceCache       = "cache"
	SourceQuoteType   = "quote_type"
	SourceCSVType     = "csv_type"
	SourceKnownList   = "known_list"
	SourceDescription = "description"
	SourcePattern     = "pattern"
	SourceDefault     = "default"
)

var knownETFs = map[string]bool{
	"VOO": true, "VTI": true, "SPY": true, "QQQ": true, "IVV": true, "VEA": true,
	"VWO": true, "BND": true, "AGG": true, "VNQ": true, "VGT": true, "XLF": true,
	"XLE": true, "XLK": true, "XLV": true, "GLD": true, "SLV": true, "ARKK": true,
	"VT": true, "VXUS": true, "SCHB": true, "SCHX": true, "ITOT": true, "IEMG": true,
	"VIG": true, "VYM": true, "SCHD": true, "VUG": true, "VTV": true, "IJR": true,
	"IJH": true, "IWM": true, "IWF": true, "IWD": true, "EFA": true, "EEM": true,
	"TLT": true, "LQD": true, "HYG": true, "TIP": true, "SHY": true, "IEF": true,
}

// CachedTypes returns a previously resolved asset type for a symbol
type CachedTypes interface {
	CachedAssetType(symbol string) (models.AssetType, bool)
}

// QuoteTypeLookup asks the market-data provider for a symbol's quote type
// (ETF, MUTUALFUND, EQUITY, BOND, OPTION).
type QuoteTypeLookup interface {
	QuoteType(ctx context.Context, symbol string) (string, error)
}

// Resolver implements the classification chain. Both collaborators are
// optional; a nil or failing collaborator is skipped.
type Resolver struct {
	cache  CachedTypes
	quotes QuoteTypeLookup
}

// NewResolver creates a resolver
func NewResolver(cache CachedTypes, quotes QuoteTypeLookup) *Resolver {
	return &Resolver{cache: cache, quotes: quotes}
}

// Resolve returns the asset type and the source that decided it
func (r *Resolver) Resolve(ctx context.Context, symbol, description, typeHint string) (models.AssetType, string) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return models.AssetTypeOther, SourceNoSymbol
	}
	logger := logging.FromContext(ctx).WithField("symbol", symbol)

	if r.cache != nil {
		if t, ok := r.cache.CachedAssetType(symbol); ok {
			return t, SourceCache
		}
	}

	if r.quotes != nil {
		quoteType, err := r.quotes.QuoteType(ctx, symbol)
		if err != nil {
			logger.WithError(err).Debug("Quote type lookup failed, using heuristics")
		} else if t, ok := FromQuoteType(quoteType); ok {
			return t, SourceQuoteType
		}
	}

	if t, ok := fromCSVType(typeHint); ok {
		return t, SourceCSVType
	}

	if knownETFs[symbol] {
		return models.AssetTypeETF, SourceKnownList
	}

	if t, ok := fromDescription(description); ok {
		return t, SourceDescription
	}

	if len(symbol) == 5 && strings.HasSuffix(symbol, "X") {
		return models.AssetTypeMutualFund, SourcePattern
	}
	if len(symbol) <= 4 && isAlpha(symbol) {
		return models.AssetTypeStock, SourcePattern
	}

	return models.AssetTypeStock, SourceDefault
}

// FromQuoteType maps a provider quote type to an asset type
func FromQuoteType(quoteType string) (models.AssetType, bool) {
	switch strings.ToUpper(strings.TrimSpace(quoteType)) {
	case "ETF":
		return models.AssetTypeETF, true
	case "MUTUALFUND":
		return models.AssetTypeMutualFund, true
	case "EQUITY":
		return models.AssetTypeStock, true
	case "BOND":
		return models.AssetTypeBond, true
	case "OPTION":
		return models.AssetTypeOption, true
	default:
		return "", false
	}
}

func fromCSVType(hint string) (models.AssetType, bool) {
	switch strings.ToLower(strings.TrimSpace(hint)) {
	case "stock", "equity":
		return models.AssetTypeStock, true
	case "etf":
		return models.AssetTypeETF, true
	case "mutual fund", "mf":
		return models.AssetTypeMutualFund, true
	case "bond", "bonds", "fixed income":
		return models.AssetTypeBond, true
	case "option":
		return models.AssetTypeOption, true
	default:
		return "", false
	}
}

func fromDescription(description string) (models.AssetType, bool) {
	d := strings.ToLower(description)
	switch {
	case strings.Contains(d, "etf"), strings.Contains(d, "exchange traded"):
		return models.AssetTypeETF, true
	case strings.Contains(d, "fund") && !strings.Contains(d, "exchange"):
		return models.AssetTypeMutualFund, true
	case strings.Contains(d, "bond"), strings.Contains(d, "treasury"):
		return models.AssetTypeBond, true
	default:
		return "", false
	}
}

func isAlpha(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

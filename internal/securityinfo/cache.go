// Package securityinfo caches sector, industry and country metadata per
// symbol in a JSON file. Entries never expire; an entry without a known
// sector or country is refetched on the next lookup.
package securityinfo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/RaajeevKalyan/portfolio-analyzer/internal/adapter"
	"github.com/RaajeevKalyan/portfolio-analyzer/internal/assettype"
	apperrors "github.com/RaajeevKalyan/portfolio-analyzer/internal/errors"
	"github.com/RaajeevKalyan/portfolio-analyzer/internal/logging"
	"github.com/RaajeevKalyan/portfolio-analyzer/internal/models"
)

// Info is one cached entry
type Info struct {
	Symbol    string           `json:"symbol"`
	Sector    string           `json:"sector"`
	Industry  string           `json:"industry"`
	Country   string           `json:"country"`
	Geography string           `json:"geography"`
	QuoteType string           `json:"quoteType,omitempty"`
	AssetType models.AssetType `json:"assetType,omitempty"`
	FetchedAt time.Time        `json:"fetchedAt"`
}

// Complete reports whether the entry is good enough to skip refetching
func (i *Info) Complete() bool {
	return known(i.Sector) || known(i.Country)
}

// Lookup is the outcome of GetOrFetch
type Lookup struct {
	Info Info
	// CacheHit is true when no provider call was made
	CacheHit bool
	// APICalls counts provider requests made for this lookup
	APICalls int
	// Failure is the provider error behind a placeholder result
	Failure error
}

// Config configures a Cache
type Config struct {
	Path     string
	// Provider is paced at the transport, one budget call per HTTP attempt
	Provider adapter.MarketDataProvider
}

// Cache is the process-wide security metadata cache. It is safe for
// concurrent use by the resolution job and request handlers.
type Cache struct {
	path     string
	provider adapter.MarketDataProvider
	now      func() time.Time

	mu      sync.RWMutex
	entries map[string]*Info

	// fetchMu serializes provider lookups so a symbol is fetched once
	fetchMu sync.Mutex
	saveMu  sync.Mutex
}

// NewCache loads the cache file. A missing file starts an empty cache.
func NewCache(cfg Config) (*Cache, error) {
	c := &Cache{
		path:     cfg.Path,
		provider: cfg.Provider,
		now:      time.Now,
		entries:  make(map[string]*Info),
	}
	if err := c.load(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Cache) load() error {
	entries, err := c.readFile()
	if err != nil {
		return err
	}
	for symbol, info := range entries {
		c.entries[symbol] = info
	}
	return nil
}

// readFile returns the entries currently on disk. A missing file is empty.
func (c *Cache) readFile() (map[string]*Info, error) {
	entries := make(map[string]*Info)
	if c.path == "" {
		return entries, nil
	}
	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return entries, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", c.path, err)
	}
	if len(data) == 0 {
		return entries, nil
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", c.path, err)
	}
	for symbol, info := range entries {
		if info == nil {
			delete(entries, symbol)
			continue
		}
		info.Symbol = symbol
	}
	return entries, nil
}

// mergeLocked adopts entries written by another process: symbols missing
// here, complete entries where ours is a placeholder, and newer fetches.
// Caller holds c.mu.
func (c *Cache) mergeLocked(disk map[string]*Info) {
	for symbol, theirs := range disk {
		ours, ok := c.entries[symbol]
		switch {
		case !ok:
		case theirs.Complete() && !ours.Complete():
		case theirs.Complete() == ours.Complete() && theirs.FetchedAt.After(ours.FetchedAt):
		default:
			continue
		}
		c.entries[symbol] = theirs
	}
}

// refresh merges the file into memory so entries fetched by another
// process are not fetched again
func (c *Cache) refresh() error {
	disk, err := c.readFile()
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.mergeLocked(disk)
	c.mu.Unlock()
	return nil
}

// save merges the file on disk, drops removed symbols, then writes the
// whole cache atomically: temp file in the same directory, then rename.
func (c *Cache) save(removed ...string) error {
	if c.path == "" {
		return nil
	}
	c.saveMu.Lock()
	defer c.saveMu.Unlock()

	// an unreadable file is overwritten with what this process knows
	disk, err := c.readFile()
	if err != nil {
		disk = nil
	}
	for _, symbol := range removed {
		delete(disk, symbol)
	}

	c.mu.Lock()
	c.mergeLocked(disk)
	jsonData, err := json.MarshalIndent(c.entries, "", "  ")
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	jsonData = append(jsonData, '\n')

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(jsonData); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// Get returns a copy of the cached entry
func (c *Cache) Get(symbol string) (Info, bool) {
	symbol = normalize(symbol)
	c.mu.RLock()
	defer c.mu.RUnlock()
	info, ok := c.entries[symbol]
	if !ok {
		return Info{}, false
	}
	return *info, true
}

// Len returns the number of cached entries
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Symbols lists cached symbols in sorted order
func (c *Cache) Symbols() []string {
	c.mu.RLock()
	symbols := make([]string, 0, len(c.entries))
	for s := range c.entries {
		symbols = append(symbols, s)
	}
	c.mu.RUnlock()
	sort.Strings(symbols)
	return symbols
}

// Clear removes an entry so the next lookup refetches it
func (c *Cache) Clear(symbol string) error {
	symbol = normalize(symbol)
	c.mu.Lock()
	_, ok := c.entries[symbol]
	delete(c.entries, symbol)
	c.mu.Unlock()
	if !ok {
		return nil
	}
	if err := c.save(symbol); err != nil {
		return apperrors.NewCacheError("clear", err)
	}
	return nil
}

// GetOrFetch returns the cached entry when complete, otherwise asks the
// provider. Provider failures yield a persisted Unknown placeholder rather
// than an error; the returned error is only set when ctx is done.
func (c *Cache) GetOrFetch(ctx context.Context, symbol string) (*Lookup, error) {
	symbol = normalize(symbol)
	if symbol == "" {
		return &Lookup{Info: placeholder(""), CacheHit: true}, nil
	}

	if info, ok := c.Get(symbol); ok && info.Complete() {
		return &Lookup{Info: info, CacheHit: true}, nil
	}

	c.fetchMu.Lock()
	defer c.fetchMu.Unlock()

	// another caller, or another process, may have filled it while we waited
	if info, ok := c.Get(symbol); ok && info.Complete() {
		return &Lookup{Info: info, CacheHit: true}, nil
	}
	if err := c.refresh(); err != nil {
		logging.FromContext(ctx).WithError(err).Warn("Failed to re-read security info cache")
	} else if info, ok := c.Get(symbol); ok && info.Complete() {
		return &Lookup{Info: info, CacheHit: true}, nil
	}

	lookup, err := c.fetch(ctx, symbol)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	entry := lookup.Info
	c.entries[symbol] = &entry
	c.mu.Unlock()

	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"symbol":  symbol,
		"sector":  entry.Sector,
		"country": entry.Country,
	})
	if err := c.save(); err != nil {
		logger.WithError(err).Warn("Failed to persist security info cache")
	} else {
		logger.Debug("Cached security info")
	}
	return lookup, nil
}

func (c *Cache) fetch(ctx context.Context, symbol string) (*Lookup, error) {
	lookup := &Lookup{Info: placeholder(symbol)}
	if c.provider == nil {
		lookup.Failure = apperrors.NewServiceUnavailableError(adapter.MarketDataProviderName)
		return lookup, nil
	}

	for _, variant := range TickerVariants(symbol) {
		lookup.APICalls++
		quote, err := c.provider.QuoteInfo(ctx, variant)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, adapter.ErrPacing) {
				return nil, err
			}
			lookup.Failure = err
			if apperrors.IsNotFound(err) {
				continue
			}
			break
		}
		lookup.Failure = nil
		lookup.Info = fromQuote(symbol, quote)
		break
	}

	if !known(lookup.Info.Country) {
		if country, ok := CountryFromSuffix(symbol); ok {
			lookup.Info.Country = country
		}
	}
	lookup.Info.Geography = GeographyFor(lookup.Info.Country)
	lookup.Info.FetchedAt = c.now().UTC()
	return lookup, nil
}

// CachedAssetType returns the asset type recorded for a symbol, if any
func (c *Cache) CachedAssetType(symbol string) (models.AssetType, bool) {
	info, ok := c.Get(symbol)
	if !ok || info.AssetType == "" {
		return "", false
	}
	return info.AssetType, true
}

// QuoteType returns the provider quote type, fetching and caching the full
// entry on a miss.
func (c *Cache) QuoteType(ctx context.Context, symbol string) (string, error) {
	if info, ok := c.Get(symbol); ok && info.QuoteType != "" {
		return info.QuoteType, nil
	}
	lookup, err := c.GetOrFetch(ctx, symbol)
	if err != nil {
		return "", err
	}
	if lookup.Failure != nil {
		return "", lookup.Failure
	}
	return lookup.Info.QuoteType, nil
}

func fromQuote(symbol string, quote *adapter.QuoteInfo) Info {
	info := Info{
		Symbol:    symbol,
		Sector:    orUnknown(quote.Sector),
		Industry:  orUnknown(quote.Industry),
		Country:   orUnknown(quote.Country),
		QuoteType: strings.ToUpper(quote.QuoteType),
	}
	if t, ok := assettype.FromQuoteType(quote.QuoteType); ok {
		info.AssetType = t
	}
	return info
}

func placeholder(symbol string) Info {
	return Info{
		Symbol:    symbol,
		Sector:    Unknown,
		Industry:  Unknown,
		Country:   Unknown,
		Geography: GeographyUnknown,
	}
}

func orUnknown(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return Unknown
	}
	return s
}

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

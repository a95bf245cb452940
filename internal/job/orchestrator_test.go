package job

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RaajeevKalyan/portfolio-analyzer/internal/fundholdings"
	"github.com/RaajeevKalyan/portfolio-analyzer/internal/models"
	"github.com/RaajeevKalyan/portfolio-analyzer/internal/securityinfo"
)

// mockHoldingStore keeps holdings in memory and hands out copies so only
// UpdateResolution changes stored state.
type mockHoldingStore struct {
	mu       sync.Mutex
	holdings map[int64]*models.Holding
	updates  int
	listErr  error
}

func newMockHoldingStore(holdings ...*models.Holding) *mockHoldingStore {
	s := &mockHoldingStore{holdings: make(map[int64]*models.Holding)}
	for _, h := range holdings {
		s.holdings[h.ID] = copyHolding(h)
	}
	return s
}

func copyHolding(h *models.Holding) *models.Holding {
	c := *h
	c.Underlying = h.Underlying.Clone()
	return &c
}

func (s *mockHoldingStore) ListHoldings(ctx context.Context, snapshotID int64) ([]*models.Holding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []*models.Holding
	for _, h := range s.holdings {
		if h.SnapshotID == snapshotID {
			out = append(out, copyHolding(h))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *mockHoldingStore) UpdateResolution(ctx context.Context, holdings []*models.Holding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates++
	for _, h := range holdings {
		s.holdings[h.ID] = copyHolding(h)
	}
	return nil
}

func (s *mockHoldingStore) get(id int64) *models.Holding {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyHolding(s.holdings[id])
}

type stubFundResolver struct {
	results map[string]*fundholdings.Result
	calls   int
	panics  bool
}

func (r *stubFundResolver) Resolve(ctx context.Context, symbol string, assetType models.AssetType, fundValue decimal.Decimal) *fundholdings.Result {
	r.calls++
	if r.panics {
		panic("resolver exploded")
	}
	if res, ok := r.results[symbol]; ok {
		return res
	}
	return &fundholdings.Result{Outcome: fundholdings.OutcomeNotFound}
}

type stubInfoSource struct {
	info     map[string]securityinfo.Info
	failures map[string]error
	calls    int
	seen     map[string]bool
}

func newStubInfoSource() *stubInfoSource {
	return &stubInfoSource{
		info:     make(map[string]securityinfo.Info),
		failures: make(map[string]error),
		seen:     make(map[string]bool),
	}
}

func (s *stubInfoSource) GetOrFetch(ctx context.Context, symbol string) (*securityinfo.Lookup, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.calls++
	hit := s.seen[symbol]
	s.seen[symbol] = true
	if err, ok := s.failures[symbol]; ok {
		return &securityinfo.Lookup{
			Info:    securityinfo.Info{Symbol: symbol, Sector: "Unknown", Industry: "Unknown", Country: "Unknown", Geography: "Unknown"},
			Failure: err,
		}, nil
	}
	info, ok := s.info[symbol]
	if !ok {
		info = securityinfo.Info{Symbol: symbol, Sector: "Technology", Industry: "Software", Country: "United States", Geography: "US"}
	}
	return &securityinfo.Lookup{Info: info, CacheHit: hit}, nil
}

func fundHolding(id int64, symbol string, value int64) *models.Holding {
	return &models.Holding{
		ID: id, SnapshotID: 1, Symbol: symbol, AssetType: models.AssetTypeETF,
		TotalValue: decimal.NewFromInt(value),
	}
}

func stockHolding(id int64, symbol string) *models.Holding {
	return &models.Holding{
		ID: id, SnapshotID: 1, Symbol: symbol, AssetType: models.AssetTypeStock,
		TotalValue: decimal.NewFromInt(1000),
	}
}

func resolvedResult(symbols ...string) *fundholdings.Result {
	list := make(models.Constituents, 0, len(symbols))
	for _, s := range symbols {
		list = append(list, models.Constituent{Symbol: s, Name: s, Weight: decimal.RequireFromString("0.1"), Value: decimal.NewFromInt(100)})
	}
	return &fundholdings.Result{Outcome: fundholdings.OutcomeResolved, Constituents: list}
}

func TestOrchestrator_ResolvesAllPhases(t *testing.T) {
	store := newMockHoldingStore(
		fundHolding(1, "VTI", 1000),
		stockHolding(2, "AAPL"),
		&models.Holding{ID: 3, SnapshotID: 1, Symbol: models.CashSymbol, AssetType: models.AssetTypeCash, TotalValue: decimal.NewFromInt(50)},
	)
	funds := &stubFundResolver{results: map[string]*fundholdings.Result{"VTI": resolvedResult("AAPL", "MSFT")}}
	info := newStubInfoSource()

	var hooked int64
	orch := NewOrchestrator(OrchestratorConfig{
		Store: store, Funds: funds, Info: info,
		OnComplete: func(ctx context.Context, snapshotID int64) error {
			hooked = snapshotID
			return nil
		},
	})

	require.NoError(t, orch.Run(context.Background(), 1))

	vti := store.get(1)
	assert.True(t, vti.UnderlyingParsed)
	assert.True(t, vti.InfoFetched)
	require.Len(t, vti.Underlying, 2)
	for _, c := range vti.Underlying {
		assert.Equal(t, "Technology", c.Sector)
		assert.Equal(t, "US", c.Geography)
	}

	cash := store.get(3)
	assert.Equal(t, "Cash", cash.Sector)
	assert.True(t, cash.InfoFetched)

	status := orch.Tracker().Snapshot()
	assert.Equal(t, models.StepComplete, status.CurrentStep)
	assert.False(t, status.IsRunning)
	assert.Equal(t, 1, status.FundsProcessed)
	assert.Equal(t, 3, status.ParentProcessed)
	assert.Equal(t, 2, status.UnderlyingProcessed)
	// AAPL was looked up as a parent first, so the constituent is a hit
	assert.Equal(t, 2, status.CachedHits)
	assert.Equal(t, int64(1), hooked)
	assert.Empty(t, status.Errors)
}

func TestOrchestrator_SecondRunMakesNoCalls(t *testing.T) {
	store := newMockHoldingStore(fundHolding(1, "VTI", 1000), stockHolding(2, "AAPL"))
	funds := &stubFundResolver{results: map[string]*fundholdings.Result{"VTI": resolvedResult("MSFT")}}
	info := newStubInfoSource()
	orch := NewOrchestrator(OrchestratorConfig{Store: store, Funds: funds, Info: info})

	require.NoError(t, orch.Run(context.Background(), 1))
	fundCalls, infoCalls := funds.calls, info.calls

	require.NoError(t, orch.Run(context.Background(), 1))
	assert.Equal(t, fundCalls, funds.calls)
	assert.Equal(t, infoCalls, info.calls)

	status := orch.Tracker().Snapshot()
	assert.Equal(t, 0, status.FundsTotal)
	assert.Equal(t, 0, status.ParentTotal)
	assert.Equal(t, 0, status.UnderlyingTotal)
}

func TestOrchestrator_TransientFailuresGiveUpAfterMaxAttempts(t *testing.T) {
	store := newMockHoldingStore(fundHolding(1, "QQQ", 1000))
	funds := &stubFundResolver{results: map[string]*fundholdings.Result{
		"QQQ": {Outcome: fundholdings.OutcomeTransient, Err: errors.New("provider 503")},
	}}
	orch := NewOrchestrator(OrchestratorConfig{Store: store, Funds: funds, Info: newStubInfoSource(), MaxTransientAttempts: 2})

	require.NoError(t, orch.Run(context.Background(), 1))
	h := store.get(1)
	assert.False(t, h.UnderlyingParsed)
	assert.Equal(t, 1, h.ResolutionAttempts)

	require.NoError(t, orch.Run(context.Background(), 1))
	h = store.get(1)
	assert.True(t, h.UnderlyingParsed)
	assert.Equal(t, 2, h.ResolutionAttempts)
	assert.Empty(t, h.Underlying)

	errs := orch.Tracker().Snapshot().Errors
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error, "giving up")

	require.NoError(t, orch.Run(context.Background(), 1))
	assert.Equal(t, 2, funds.calls)
}

func TestOrchestrator_TerminalOutcomesAreNotRetried(t *testing.T) {
	store := newMockHoldingStore(fundHolding(1, "ZZZZ", 500), fundHolding(2, "EMPTY", 500))
	funds := &stubFundResolver{results: map[string]*fundholdings.Result{
		"EMPTY": {Outcome: fundholdings.OutcomeNoHoldings},
	}}
	orch := NewOrchestrator(OrchestratorConfig{Store: store, Funds: funds, Info: newStubInfoSource()})

	require.NoError(t, orch.Run(context.Background(), 1))
	require.NoError(t, orch.Run(context.Background(), 1))

	assert.Equal(t, 2, funds.calls)
	assert.True(t, store.get(1).UnderlyingParsed)
	assert.True(t, store.get(2).UnderlyingParsed)
}

func TestOrchestrator_ProviderFailureDoesNotFailRun(t *testing.T) {
	store := newMockHoldingStore(stockHolding(1, "AAPL"), stockHolding(2, "BROKEN"))
	info := newStubInfoSource()
	info.failures["BROKEN"] = errors.New("rate limited")
	orch := NewOrchestrator(OrchestratorConfig{Store: store, Funds: &stubFundResolver{}, Info: info})

	require.NoError(t, orch.Run(context.Background(), 1))

	broken := store.get(2)
	assert.True(t, broken.InfoFetched)
	assert.Equal(t, "Unknown", broken.Sector)

	status := orch.Tracker().Snapshot()
	assert.Equal(t, models.StepComplete, status.CurrentStep)
	require.Len(t, status.Errors, 1)
	assert.Equal(t, "BROKEN", status.Errors[0].Symbol)
}

func TestOrchestrator_CommitsInBatches(t *testing.T) {
	var holdings []*models.Holding
	for i := int64(1); i <= 5; i++ {
		holdings = append(holdings, stockHolding(i, string(rune('A'+i))))
	}
	store := newMockHoldingStore(holdings...)
	orch := NewOrchestrator(OrchestratorConfig{Store: store, Funds: &stubFundResolver{}, Info: newStubInfoSource(), CommitBatchSize: 2})

	require.NoError(t, orch.Run(context.Background(), 1))
	// 2 + 2 + 1
	assert.Equal(t, 3, store.updates)
}

func TestOrchestrator_CancelledRunKeepsFinishedWork(t *testing.T) {
	store := newMockHoldingStore(stockHolding(1, "AAPL"), stockHolding(2, "MSFT"))
	ctx, cancel := context.WithCancel(context.Background())
	info := &cancellingInfo{inner: newStubInfoSource(), cancel: cancel}
	orch := NewOrchestrator(OrchestratorConfig{Store: store, Funds: &stubFundResolver{}, Info: info})

	err := orch.Run(ctx, 1)
	require.ErrorIs(t, err, context.Canceled)

	assert.True(t, store.get(1).InfoFetched)
	assert.False(t, store.get(2).InfoFetched)
	assert.Equal(t, models.StepFailed, orch.Tracker().Snapshot().CurrentStep)
}

// cancellingInfo cancels the run after its first lookup
type cancellingInfo struct {
	inner  *stubInfoSource
	cancel context.CancelFunc
}

func (c *cancellingInfo) GetOrFetch(ctx context.Context, symbol string) (*securityinfo.Lookup, error) {
	l, err := c.inner.GetOrFetch(ctx, symbol)
	c.cancel()
	return l, err
}

func TestOrchestrator_PanicMarksRunFailed(t *testing.T) {
	store := newMockHoldingStore(fundHolding(1, "VTI", 1000))
	orch := NewOrchestrator(OrchestratorConfig{Store: store, Funds: &stubFundResolver{panics: true}, Info: newStubInfoSource()})

	err := orch.Run(context.Background(), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")

	status := orch.Tracker().Snapshot()
	assert.False(t, status.IsRunning)
	assert.Equal(t, models.StepFailed, status.CurrentStep)

	// the tracker is usable again
	require.NoError(t, orch.Run(context.Background(), 2))
}

func TestOrchestrator_StoreFailureFailsRun(t *testing.T) {
	store := newMockHoldingStore()
	store.listErr = errors.New("connection refused")
	orch := NewOrchestrator(OrchestratorConfig{Store: store, Funds: &stubFundResolver{}, Info: newStubInfoSource()})

	err := orch.Run(context.Background(), 1)
	require.Error(t, err)
	assert.Equal(t, models.StepFailed, orch.Tracker().Snapshot().CurrentStep)
}

func TestOrchestrator_RejectsConcurrentRun(t *testing.T) {
	tr := NewTracker(nil)
	require.NoError(t, tr.Start(9, "other"))
	orch := NewOrchestrator(OrchestratorConfig{Store: newMockHoldingStore(), Funds: &stubFundResolver{}, Info: newStubInfoSource(), Tracker: tr})

	assert.ErrorIs(t, orch.Run(context.Background(), 1), ErrAlreadyRunning)
	assert.Equal(t, int64(9), tr.Snapshot().SnapshotID)
}

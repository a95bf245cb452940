package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/RaajeevKalyan/portfolio-analyzer/internal/errors"
	"github.com/RaajeevKalyan/portfolio-analyzer/internal/models"
	"github.com/RaajeevKalyan/portfolio-analyzer/internal/service"
)

// Mock services for testing

type mockUploadService struct {
	got    *service.UploadInput
	result *service.UploadResult
	err    error
}

func (m *mockUploadService) Upload(ctx context.Context, in service.UploadInput) (*service.UploadResult, error) {
	m.got = &in
	return m.result, m.err
}

type mockPortfolioService struct {
	portfolio *service.AggregatedPortfolio
	detail    *service.FundDetail
	err       error
	detailErr error
}

func (m *mockPortfolioService) Holdings(ctx context.Context) (*service.AggregatedPortfolio, error) {
	return m.portfolio, m.err
}

func (m *mockPortfolioService) Summary(ctx context.Context) (*service.Summary, error) {
	return &service.Summary{TotalValue: m.portfolio.TotalValue, HoldingsCount: len(m.portfolio.Holdings)}, m.err
}

func (m *mockPortfolioService) CashBreakdown(ctx context.Context) ([]service.BreakdownEntry, error) {
	return []service.BreakdownEntry{{Label: "Investments"}, {Label: "Cash"}}, m.err
}

func (m *mockPortfolioService) AssetBreakdown(ctx context.Context) ([]service.BreakdownEntry, error) {
	return []service.BreakdownEntry{{Type: "stock", Label: "Stocks", Count: 1}}, m.err
}

func (m *mockPortfolioService) FundDetail(ctx context.Context, symbol string) (*service.FundDetail, error) {
	return m.detail, m.detailErr
}

func (m *mockPortfolioService) TopHoldings(ctx context.Context) (*service.TopHoldings, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &service.TopHoldings{
		Holdings: []service.TopHolding{{
			Symbol:        "AAPL",
			TotalValue:    decimal.NewFromInt(1200),
			DirectValue:   decimal.NewFromInt(1000),
			IndirectValue: decimal.NewFromInt(200),
			IndirectSources: []service.TopHoldingSource{
				{Fund: "VTI", Value: decimal.NewFromInt(200)},
			},
			FundCount: 1,
			AlsoHeld:  true,
		}},
		TotalStockValue: decimal.NewFromInt(1200),
		UniqueStocks:    1,
	}, nil
}

type mockRiskService struct {
	metrics *service.RiskMetrics
	err     error
}

func (m *mockRiskService) Metrics(ctx context.Context) (*service.RiskMetrics, error) {
	return m.metrics, m.err
}

type mockHistoryService struct {
	from, to time.Time
}

func (m *mockHistoryService) List(ctx context.Context, from, to time.Time) ([]models.AggregateSnapshot, error) {
	m.from, m.to = from, to
	return []models.AggregateSnapshot{}, nil
}

type mockSettingsService struct {
	settings models.UserSettings
}

func (m *mockSettingsService) Get(ctx context.Context) (*models.UserSettings, error) {
	s := m.settings
	return &s, nil
}

func (m *mockSettingsService) Update(ctx context.Context, in service.UpdateInput) (*models.UserSettings, error) {
	if in.SnapshotRetentionLimit != nil {
		if *in.SnapshotRetentionLimit < 1 {
			return nil, apperrors.NewInvalidParameterError("snapshotRetentionLimit", "must be between 1 and 1000")
		}
		m.settings.SnapshotRetentionLimit = *in.SnapshotRetentionLimit
	}
	return m.Get(ctx)
}

type mockAccounts struct{}

func (mockAccounts) List(ctx context.Context) ([]*models.BrokerAccount, error) {
	return []*models.BrokerAccount{{ID: 1, BrokerName: "merrill", AccountLast4: "2345", IsActive: true}}, nil
}

type mockSnapshots struct {
	known map[int64]bool
}

func (m mockSnapshots) GetByID(ctx context.Context, id int64) (*models.PortfolioSnapshot, error) {
	if !m.known[id] {
		return nil, nil
	}
	return &models.PortfolioSnapshot{ID: id}, nil
}

type mockStatus struct {
	status models.ResolutionStatus
}

func (m mockStatus) Current(ctx context.Context) models.ResolutionStatus {
	return m.status
}

type mockQueue struct {
	ids []int64
	err error
}

func (m *mockQueue) Enqueue(snapshotID int64) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	m.ids = append(m.ids, snapshotID)
	return true, nil
}

func (m *mockQueue) Pending() int { return len(m.ids) }
func (m *mockQueue) Active() int64 { return 0 }

type mockSweeper struct {
	added int
}

func (m *mockSweeper) RunNow(ctx context.Context) (int, error) {
	return m.added, nil
}

type testServer struct {
	*Server
	uploads   *mockUploadService
	portfolio *mockPortfolioService
	risk      *mockRiskService
	history   *mockHistoryService
	settings  *mockSettingsService
	queue     *mockQueue
}

func newTestServer(cfg *ServerConfig) *testServer {
	if cfg == nil {
		cfg = &ServerConfig{Host: "localhost", Port: "0"}
	}
	ts := &testServer{
		uploads: &mockUploadService{},
		portfolio: &mockPortfolioService{portfolio: &service.AggregatedPortfolio{
			TotalValue: decimal.NewFromInt(1500),
			Holdings:   []*service.AggregatedHolding{{Symbol: "AAPL", TotalValue: decimal.NewFromInt(1500)}},
		}},
		risk:     &mockRiskService{metrics: &service.RiskMetrics{OverallRisk: service.RiskLow}},
		history:  &mockHistoryService{},
		settings: &mockSettingsService{settings: models.UserSettings{SnapshotRetentionLimit: 25}},
		queue:    &mockQueue{},
	}

	started := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	ts.Server = NewServer(cfg, Services{
		Uploads:   ts.uploads,
		Portfolio: ts.portfolio,
		Risk:      ts.risk,
		History:   ts.history,
		Settings:  ts.settings,
		Accounts:  mockAccounts{},
		Snapshots: mockSnapshots{known: map[int64]bool{42: true}},
		Status: mockStatus{status: models.ResolutionStatus{
			IsRunning:           true,
			SnapshotID:          42,
			CurrentStep:         models.StepParentInfo,
			ParentTotal:         8,
			ParentProcessed:     4,
			UnderlyingTotal:     2,
			UnderlyingProcessed: 1,
			StartedAt:           &started,
		}},
		Queue:   ts.queue,
		Sweeper: &mockSweeper{added: 3},
	}, nil)
	ts.Server.now = func() time.Time { return started.Add(90 * time.Second) }
	return ts
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) apperrors.ServiceError {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func multipartUpload(t *testing.T, broker, filename, content string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("broker", broker))
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/uploads", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestHealth(t *testing.T) {
	ts := newTestServer(nil)

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
	assert.NotEmpty(t, rec.Header().Get(HeaderRequestID))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(HeaderRequestID, "abc-123")
	rec = ts.do(req)
	assert.Equal(t, "abc-123", rec.Header().Get(HeaderRequestID))
}

func TestMetricsEndpoint(t *testing.T) {
	rec := newTestServer(nil).do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUpload_Success(t *testing.T) {
	ts := newTestServer(nil)
	ts.uploads.result = &service.UploadResult{SnapshotID: 42, PositionCount: 4, Message: "Successfully uploaded 4 positions"}

	rec := ts.do(multipartUpload(t, "merrill", "holdings.csv", "Symbol,Value\nAAPL,1\n"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	require.NotNil(t, ts.uploads.got)
	assert.Equal(t, "merrill", ts.uploads.got.Broker)
	assert.Equal(t, "holdings.csv", ts.uploads.got.Filename)
	assert.Equal(t, "Symbol,Value\nAAPL,1\n", string(ts.uploads.got.Data))

	var result service.UploadResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, int64(42), result.SnapshotID)
}

func TestUpload_Errors(t *testing.T) {
	ts := newTestServer(nil)

	rec := ts.do(multipartUpload(t, "merrill", "", ""))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, apperrors.CodeInvalidParameter, decodeError(t, rec).Code)

	rec = ts.do(httptest.NewRequest(http.MethodPost, "/api/uploads", strings.NewReader("not a form")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	ts.uploads.err = apperrors.NewUnsupportedBrokerError("robinhood", []string{"fidelity", "merrill"})
	rec = ts.do(multipartUpload(t, "robinhood", "a.csv", "x"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	e := decodeError(t, rec)
	assert.Equal(t, apperrors.CodeUnsupportedBroker, e.Code)
	assert.Equal(t, "robinhood", e.Details["broker"])

	ts.uploads.err = apperrors.NewFileTooLargeError(10)
	rec = ts.do(multipartUpload(t, "merrill", "a.csv", "more than ten bytes"))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestHoldingsEndpoints(t *testing.T) {
	ts := newTestServer(nil)

	for _, path := range []string{
		"/api/holdings",
		"/api/holdings/summary",
		"/api/holdings/cash-breakdown",
		"/api/holdings/asset-breakdown",
		"/api/holdings/top",
		"/api/risk",
		"/api/accounts",
		"/api/history",
		"/api/settings",
	} {
		t.Run(path, func(t *testing.T) {
			rec := ts.do(httptest.NewRequest(http.MethodGet, path, nil))
			assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		})
	}

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/holdings", nil))
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "1500", body["totalValue"])
}

func TestTopHoldings(t *testing.T) {
	ts := newTestServer(nil)

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/holdings/top", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		TopHoldings []struct {
			Symbol          string `json:"symbol"`
			TotalValue      string `json:"totalValue"`
			IsAlsoHeld      bool   `json:"isAlsoHeld"`
			IndirectSources []struct {
				Fund string `json:"fund"`
			} `json:"indirectSources"`
		} `json:"topHoldings"`
		TotalUniqueStocks int `json:"totalUniqueStocks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.TopHoldings, 1)
	assert.Equal(t, "AAPL", body.TopHoldings[0].Symbol)
	assert.Equal(t, "1200", body.TopHoldings[0].TotalValue)
	assert.True(t, body.TopHoldings[0].IsAlsoHeld)
	assert.Equal(t, "VTI", body.TopHoldings[0].IndirectSources[0].Fund)
	assert.Equal(t, 1, body.TotalUniqueStocks)

	ts.portfolio.err = apperrors.NewDatabaseError("aggregate", errors.New("down"))
	rec = ts.do(httptest.NewRequest(http.MethodGet, "/api/holdings/top", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestFundDetailErrors(t *testing.T) {
	ts := newTestServer(nil)

	ts.portfolio.detailErr = apperrors.NewNotFoundError("holding", "QQQ")
	rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/holdings/QQQ/underlying", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, apperrors.CodeNotFound, decodeError(t, rec).Code)

	ts.portfolio.detailErr = nil
	ts.portfolio.detail = &service.FundDetail{Symbol: "VTI", Underlying: models.Constituents{}, DirectHoldings: []string{}}
	rec = ts.do(httptest.NewRequest(http.MethodGet, "/api/holdings/VTI/underlying", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestInternalErrorsAreHidden(t *testing.T) {
	ts := newTestServer(nil)
	ts.risk.err = errors.New("pq: password authentication failed")

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/risk", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	e := decodeError(t, rec)
	assert.Equal(t, apperrors.CodeInternal, e.Code)
	assert.NotContains(t, e.Message, "password")
}

func TestResolutionStatus(t *testing.T) {
	ts := newTestServer(nil)
	ts.queue.ids = []int64{7}

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/resolution/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var view map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, true, view["isRunning"])
	assert.Equal(t, "parent_info", view["currentStep"])
	assert.Equal(t, 50.0, view["progressPercent"])
	assert.Equal(t, 90.0, view["elapsedSeconds"])
	assert.Equal(t, 4.0, view["parentSymbolsRemaining"])
	assert.Equal(t, 1.0, view["underlyingSymbolsRemaining"])
	assert.Equal(t, 1.0, view["queuePending"])
}

func TestEnqueueSnapshot(t *testing.T) {
	ts := newTestServer(nil)

	rec := ts.do(httptest.NewRequest(http.MethodPost, "/api/resolution/snapshots/42", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []int64{42}, ts.queue.ids)

	rec = ts.do(httptest.NewRequest(http.MethodPost, "/api/resolution/snapshots/99", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	ts.queue.err = errors.New("resolution queue is full")
	rec = ts.do(httptest.NewRequest(http.MethodPost, "/api/resolution/snapshots/42", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSweep(t *testing.T) {
	rec := newTestServer(nil).do(httptest.NewRequest(http.MethodPost, "/api/resolution/sweep", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 3.0, body["queued"])
}

func TestSettingsUpdate(t *testing.T) {
	ts := newTestServer(nil)

	rec := ts.do(httptest.NewRequest(http.MethodPut, "/api/settings", strings.NewReader(`{"snapshotRetentionLimit": 5}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, ts.settings.settings.SnapshotRetentionLimit)

	rec = ts.do(httptest.NewRequest(http.MethodPut, "/api/settings", strings.NewReader(`{"snapshotRetentionLimit": 0}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(httptest.NewRequest(http.MethodPut, "/api/settings", strings.NewReader(`{"unknown": true}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHistoryParams(t *testing.T) {
	ts := newTestServer(nil)

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/history?from=2026-01-01&to=2026-10-19T00:00:00Z", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), ts.history.from)

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/api/history?from=yesterday", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/api/history?from=2026-10-19&to=2026-01-01", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(&ServerConfig{Host: "localhost", Port: "0", RequestsPerSec: 1, Burst: 1})

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/settings", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/api/settings", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Equal(t, apperrors.CodeRateLimited, decodeError(t, rec).Code)

	// health checks are never limited
	rec = ts.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCompression(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/holdings", nil)
	req.Header.Set("Accept-Encoding", "gzip")

	rec := newTestServer(nil).do(req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
}

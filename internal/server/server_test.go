package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/upkeep-automator/internal/automation"
	"github.com/smartdevs17/upkeep-automator/internal/bus"
	"github.com/smartdevs17/upkeep-automator/internal/chain"
	"github.com/smartdevs17/upkeep-automator/internal/config"
	"github.com/smartdevs17/upkeep-automator/internal/coordinator"
	"github.com/smartdevs17/upkeep-automator/internal/metrics"
	"github.com/smartdevs17/upkeep-automator/internal/storage"
	"github.com/smartdevs17/upkeep-automator/internal/watcher"
)

const (
	testContract = "0x1111111111111111111111111111111111111111"
	testOwner    = "0x3333333333333333333333333333333333333333"
)

// stubChain implements chain.Client with canned success values
type stubChain struct{}

func (stubChain) EstimateCheckAndExecute(ctx context.Context, network string, automator common.Address) (uint64, error) {
	return 100000, nil
}

func (stubChain) FeeData(ctx context.Context, network string) (*chain.FeeData, error) {
	return &chain.FeeData{GasPrice: big.NewInt(1)}, nil
}

func (stubChain) SubmitCheckAndExecute(ctx context.Context, network string, automator common.Address, opts *chain.TxOptions) (common.Hash, error) {
	return common.HexToHash("0xabc1"), nil
}

func (stubChain) WaitForReceipt(ctx context.Context, network string, txHash common.Hash) (*chain.Receipt, error) {
	return &chain.Receipt{TxHash: txHash, BlockNumber: 42, GasUsed: 90000, Status: 1}, nil
}

func (stubChain) DeployAutomator(ctx context.Context, network string, target common.Address, intervalSeconds int64, owner common.Address) (*chain.Receipt, error) {
	return &chain.Receipt{TxHash: common.HexToHash("0xdeadbeef"), BlockNumber: 7, Status: 1}, nil
}

func (stubChain) SubscribeAutomatorDeployed(network string, handler func(chain.AutomatorDeployedEvent)) (chain.CancelFunc, error) {
	return func() {}, nil
}

func (stubChain) SubscribeAutomationTriggered(network string, automator common.Address, handler func(chain.AutomationTriggeredEvent)) (chain.CancelFunc, error) {
	return nil, errors.New("not implemented")
}

func (stubChain) Close() error { return nil }

func testServerConfig() *config.ServerConfig {
	return &config.ServerConfig{
		Port:          0,
		Host:          "127.0.0.1",
		ReadTimeout:   5 * time.Second,
		WriteTimeout:  5 * time.Second,
		EnableMetrics: true,
		EnableHealth:  true,
		RateLimit:     1000,
		RateBurst:     1000,
	}
}

func newTestServer(t *testing.T, cfg *config.ServerConfig) (*HTTPServer, storage.Storage) {
	t.Helper()

	store := storage.NewSQLiteStorage(&storage.StorageConfig{
		ConnectionString: filepath.Join(t.TempDir(), "test.db"),
		MaxConnections:   4,
		MaxIdleTime:      time.Minute,
	})
	require.NoError(t, store.Connect())
	require.NoError(t, store.Migrate())
	t.Cleanup(func() { store.Close() })

	chainCfg := &config.ChainConfig{
		Networks:       map[string]string{"anvil": "http://127.0.0.1:8545"},
		DefaultNetwork: "anvil",
		RequestTimeout: time.Second,
	}
	coordCfg := &config.CoordinatorConfig{
		SubmitTimeout:    time.Second,
		ConfirmTimeout:   time.Second,
		FeeRetryAttempts: 1,
		FeeRetryDelay:    time.Millisecond,
	}

	client := stubChain{}
	eventBus := bus.New()
	coord := coordinator.NewCoordinator(coordCfg, store, client,
		metrics.NewExecutionTracker(nil), nil, eventBus)
	automationService := automation.NewService(chainCfg, store, client, eventBus, nil)
	eventWatcher := watcher.NewWatcher(chainCfg, store, client, coord, eventBus, nil)

	srv, err := NewHTTPServer(cfg, store, automationService, coord, eventWatcher, nil)
	require.NoError(t, err)

	return srv, store
}

func doRequest(srv *HTTPServer, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	return rec
}

func createRequestBody() map[string]interface{} {
	return map[string]interface{}{
		"contractAddress": testContract,
		"name":            "price feed upkeep",
		"owner":           testOwner,
	}
}

func TestCreateUpkeepEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, testServerConfig())

	rec := doRequest(srv, "POST", "/api/automation/create", createRequestBody())
	require.Equal(t, http.StatusCreated, rec.Code)

	var created map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, testContract, created["contract_address"])
	assert.NotEmpty(t, created["id"])
}

func TestCreateUpkeepDuplicateReturnsConflict(t *testing.T) {
	srv, _ := newTestServer(t, testServerConfig())

	rec := doRequest(srv, "POST", "/api/automation/create", createRequestBody())
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(srv, "POST", "/api/automation/create", createRequestBody())
	require.Equal(t, http.StatusConflict, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp, "existing")
}

func TestCreateUpkeepRejectsBadInput(t *testing.T) {
	srv, _ := newTestServer(t, testServerConfig())

	// malformed JSON
	req := httptest.NewRequest("POST", "/api/automation/create", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// missing owner
	body := createRequestBody()
	delete(body, "owner")
	rec = doRequest(srv, "POST", "/api/automation/create", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListUpkeepsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, testServerConfig())

	rec := doRequest(srv, "POST", "/api/automation/create", createRequestBody())
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(srv, "GET", "/api/automation", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Upkeeps []map[string]interface{} `json:"upkeeps"`
		Total   int                      `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Total)

	// inactive filter matches nothing
	rec = doRequest(srv, "GET", "/api/automation?active=false", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp.Total)

	// invalid active value
	rec = doRequest(srv, "GET", "/api/automation?active=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetUpkeepEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, testServerConfig())

	rec := doRequest(srv, "POST", "/api/automation/create", createRequestBody())
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(srv, "GET", "/api/automation/"+testContract, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(srv, "GET", "/api/automation/0x9999999999999999999999999999999999999999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(srv, "GET", "/api/automation/bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHistoryEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, testServerConfig())

	rec := doRequest(srv, "POST", "/api/automation/create", createRequestBody())
	require.Equal(t, http.StatusCreated, rec.Code)

	// registration writes one history row
	rec = doRequest(srv, "GET", "/api/automation/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		History []map[string]interface{} `json:"history"`
		Limit   int                      `json:"limit"`
		Total   int                      `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Total)
	assert.Equal(t, defaultHistoryLimit, resp.Limit)

	// contract filter
	rec = doRequest(srv, "GET", "/api/automation/history?contractAddress="+testContract, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Total)

	// limit is clamped to the maximum
	rec = doRequest(srv, "GET", fmt.Sprintf("/api/automation/history?limit=%d", maxHistoryLimit*10), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, maxHistoryLimit, resp.Limit)

	// invalid parameters
	rec = doRequest(srv, "GET", "/api/automation/history?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = doRequest(srv, "GET", "/api/automation/history?offset=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPauseResumeEndpoints(t *testing.T) {
	srv, store := newTestServer(t, testServerConfig())

	rec := doRequest(srv, "POST", "/api/automation/create", createRequestBody())
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(srv, "POST", "/api/automation/"+testContract+"/pause", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	got, err := store.GetUpkeepByAddress(context.Background(), testContract)
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	rec = doRequest(srv, "POST", "/api/automation/"+testContract+"/resume", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	got, err = store.GetUpkeepByAddress(context.Background(), testContract)
	require.NoError(t, err)
	assert.True(t, got.IsActive)

	rec = doRequest(srv, "POST", "/api/automation/0x9999999999999999999999999999999999999999/pause", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, testServerConfig())

	rec := doRequest(srv, "GET", "/api/v1/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var health map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health["status"])

	// watcher never started, so detailed health reports degraded
	rec = doRequest(srv, "GET", "/api/v1/health/detailed", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "degraded", health["status"])

	components := health["components"].(map[string]interface{})
	assert.Equal(t, true, components["storage"])
	assert.Equal(t, false, components["watcher"])
}

func TestStatsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, testServerConfig())

	rec := doRequest(srv, "GET", "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Contains(t, stats, "storage")
	assert.Contains(t, stats, "coordinator")
	assert.Contains(t, stats, "watcher")
}

func TestRateLimit(t *testing.T) {
	cfg := testServerConfig()
	cfg.RateLimit = 1
	cfg.RateBurst = 1
	srv, _ := newTestServer(t, cfg)

	rec := doRequest(srv, "GET", "/api/v1/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(srv, "GET", "/api/v1/health", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestStopTerminatesMetricsUpdater(t *testing.T) {
	srv, _ := newTestServer(t, testServerConfig())

	done := make(chan struct{})
	go func() {
		srv.systemMetricsUpdater()
		close(done)
	}()

	require.NoError(t, srv.Stop())

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("metrics updater still running after Stop")
	}

	// stopping twice must not close the quit channel again
	require.NoError(t, srv.Stop())
}

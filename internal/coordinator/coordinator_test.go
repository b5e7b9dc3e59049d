package coordinator

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/upkeep-automator/internal/bus"
	"github.com/smartdevs17/upkeep-automator/internal/chain"
	"github.com/smartdevs17/upkeep-automator/internal/config"
	"github.com/smartdevs17/upkeep-automator/internal/metrics"
	"github.com/smartdevs17/upkeep-automator/internal/models"
	"github.com/smartdevs17/upkeep-automator/internal/storage"
	"github.com/smartdevs17/upkeep-automator/pkg/utils"
)

const (
	testNetwork   = "anvil"
	testContract  = "0x1111111111111111111111111111111111111111"
	testAutomator = "0x2222222222222222222222222222222222222222"
	testOwner     = "0x3333333333333333333333333333333333333333"
)

// fakeClient scripts the chain interactions of one execution attempt
type fakeClient struct {
	mu sync.Mutex

	estimateGas  uint64
	estimateErr  error
	estimateGate chan struct{} // when set, EstimateCheckAndExecute blocks until closed

	fee      *chain.FeeData
	feeErr   error
	feeCalls int

	submitHash common.Hash
	submitErr  error
	lastOpts   *chain.TxOptions

	receipt    *chain.Receipt
	receiptErr error
	waitForCtx bool // when set, WaitForReceipt blocks until the context expires
}

func (f *fakeClient) EstimateCheckAndExecute(ctx context.Context, network string, automator common.Address) (uint64, error) {
	if f.estimateGate != nil {
		<-f.estimateGate
	}
	return f.estimateGas, f.estimateErr
}

func (f *fakeClient) FeeData(ctx context.Context, network string) (*chain.FeeData, error) {
	f.mu.Lock()
	f.feeCalls++
	f.mu.Unlock()
	if f.feeErr != nil {
		return nil, f.feeErr
	}
	return f.fee, nil
}

func (f *fakeClient) SubmitCheckAndExecute(ctx context.Context, network string, automator common.Address, opts *chain.TxOptions) (common.Hash, error) {
	f.mu.Lock()
	f.lastOpts = opts
	f.mu.Unlock()
	return f.submitHash, f.submitErr
}

func (f *fakeClient) WaitForReceipt(ctx context.Context, network string, txHash common.Hash) (*chain.Receipt, error) {
	if f.waitForCtx {
		<-ctx.Done()
		return nil, utils.NewAppError(utils.ErrCodeTimeout, "Transaction confirmation timeout", txHash.Hex())
	}
	return f.receipt, f.receiptErr
}

func (f *fakeClient) DeployAutomator(ctx context.Context, network string, target common.Address, intervalSeconds int64, owner common.Address) (*chain.Receipt, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeClient) SubscribeAutomatorDeployed(network string, handler func(chain.AutomatorDeployedEvent)) (chain.CancelFunc, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeClient) SubscribeAutomationTriggered(network string, automator common.Address, handler func(chain.AutomationTriggeredEvent)) (chain.CancelFunc, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeClient) Close() error { return nil }

func newTestStorage(t *testing.T) storage.Storage {
	t.Helper()

	store := storage.NewSQLiteStorage(&storage.StorageConfig{
		ConnectionString: filepath.Join(t.TempDir(), "test.db"),
		MaxConnections:   4,
		MaxIdleTime:      time.Minute,
	})
	require.NoError(t, store.Connect())
	require.NoError(t, store.Migrate())
	t.Cleanup(func() { store.Close() })

	return store
}

func seedUpkeep(t *testing.T, store storage.Storage) *models.UpkeepContract {
	t.Helper()

	now := time.Now()
	upkeep := &models.UpkeepContract{
		ID:               uuid.New().String(),
		ContractAddress:  testContract,
		Name:             "counter upkeep",
		Network:          testNetwork,
		Owner:            testOwner,
		Interval:         300,
		IsActive:         true,
		AutomatorAddress: testAutomator,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	require.NoError(t, store.CreateUpkeep(context.Background(), upkeep))
	return upkeep
}

func testCoordinatorConfig() *config.CoordinatorConfig {
	return &config.CoordinatorConfig{
		SubmitTimeout:    time.Second,
		ConfirmTimeout:   time.Second,
		FeeRetryAttempts: 2,
		FeeRetryDelay:    time.Millisecond,
	}
}

func newTestCoordinator(t *testing.T, store storage.Storage, client chain.Client) *Coordinator {
	t.Helper()
	tracker := metrics.NewExecutionTracker(nil)
	return NewCoordinator(testCoordinatorConfig(), store, client, tracker, nil, bus.New())
}

func historyByStatus(t *testing.T, store storage.Storage, status models.ExecStatus) []*models.HistoryEntry {
	t.Helper()
	entries, err := store.GetHistory(context.Background(), models.HistoryFilter{Status: &status})
	require.NoError(t, err)
	return entries
}

func TestExecuteConfirmed(t *testing.T) {
	store := newTestStorage(t)
	upkeep := seedUpkeep(t, store)

	client := &fakeClient{
		estimateGas: 100000,
		fee: &chain.FeeData{
			GasPrice:             big.NewInt(10),
			MaxFeePerGas:         big.NewInt(40),
			MaxPriorityFeePerGas: big.NewInt(2),
		},
		submitHash: common.HexToHash("0xabc1"),
		receipt:    &chain.Receipt{TxHash: common.HexToHash("0xabc1"), BlockNumber: 42, GasUsed: 90000, Status: 1},
	}
	coord := newTestCoordinator(t, store, client)

	result := coord.Execute(context.Background(), testNetwork, testAutomator, 0)

	assert.Equal(t, OutcomeConfirmed, result.Outcome)
	assert.Equal(t, uint64(42), result.BlockNumber)
	assert.Equal(t, uint64(90000), result.GasUsed)
	assert.NoError(t, result.Err)

	// EIP-1559 pricing with a 20% gas buffer
	require.NotNil(t, client.lastOpts)
	assert.Equal(t, uint8(2), client.lastOpts.Type)
	assert.Equal(t, uint64(120000), client.lastOpts.GasLimit)

	// PENDING row first, then SUCCESS, both referencing the tx
	pending := historyByStatus(t, store, models.StatusPending)
	require.Len(t, pending, 1)
	assert.False(t, pending[0].UpkeepPerformed)

	success := historyByStatus(t, store, models.StatusSuccess)
	require.Len(t, success, 1)
	assert.True(t, success[0].UpkeepPerformed)
	assert.Equal(t, pending[0].TxHash, success[0].TxHash)
	require.NotNil(t, success[0].BlockNumber)
	assert.Equal(t, uint64(42), *success[0].BlockNumber)
	assert.Equal(t, "90000", success[0].GasUsed)

	// upkeep counters advanced
	stored, err := store.GetUpkeepByAddress(context.Background(), upkeep.ContractAddress)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.CheckCount)
	assert.NotNil(t, stored.LastCheckedAt)

	snap := coord.tracker.Snapshot()
	assert.Equal(t, int64(1), snap.Attempts)
	assert.Equal(t, int64(1), snap.Successes)
	assert.Equal(t, int64(0), snap.Failures)
	assert.Equal(t, "90000", snap.GasUsedTotal)

	assert.Equal(t, 0, coord.Registry().Len())
}

func TestExecuteLegacyPricing(t *testing.T) {
	store := newTestStorage(t)
	seedUpkeep(t, store)

	client := &fakeClient{
		estimateGas: 50000,
		fee:         &chain.FeeData{GasPrice: big.NewInt(10)},
		submitHash:  common.HexToHash("0xabc2"),
		receipt:     &chain.Receipt{BlockNumber: 7, GasUsed: 40000, Status: 1},
	}
	coord := newTestCoordinator(t, store, client)

	result := coord.Execute(context.Background(), testNetwork, testAutomator, 0)

	assert.Equal(t, OutcomeConfirmed, result.Outcome)
	require.NotNil(t, client.lastOpts)
	assert.Equal(t, uint8(0), client.lastOpts.Type)
	assert.Equal(t, big.NewInt(10), client.lastOpts.GasPrice)
	assert.Equal(t, uint64(60000), client.lastOpts.GasLimit)
}

func TestExecuteSkipsWhenInFlight(t *testing.T) {
	store := newTestStorage(t)
	seedUpkeep(t, store)

	gate := make(chan struct{})
	client := &fakeClient{
		estimateGas:  100000,
		estimateGate: gate,
		fee:          &chain.FeeData{GasPrice: big.NewInt(10)},
		submitHash:   common.HexToHash("0xabc3"),
		receipt:      &chain.Receipt{BlockNumber: 1, GasUsed: 1000, Status: 1},
	}
	coord := newTestCoordinator(t, store, client)

	done := make(chan Result, 1)
	go func() {
		done <- coord.Execute(context.Background(), testNetwork, testAutomator, 0)
	}()

	// wait until the first execution holds the key
	key := utils.ExecutionKey(testNetwork, testAutomator)
	require.Eventually(t, func() bool {
		return coord.Registry().Contains(key)
	}, time.Second, time.Millisecond)

	second := coord.Execute(context.Background(), testNetwork, testAutomator, 0)
	assert.Equal(t, OutcomeSkipped, second.Outcome)

	close(gate)
	first := <-done
	assert.Equal(t, OutcomeConfirmed, first.Outcome)

	// the skipped attempt left no history behind
	entries, err := store.GetHistory(context.Background(), models.HistoryFilter{})
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	snap := coord.tracker.Snapshot()
	assert.Equal(t, int64(1), snap.Attempts)

	// once the key is released a fresh attempt runs instead of skipping
	assert.Equal(t, 0, coord.Registry().Len())
	third := coord.Execute(context.Background(), testNetwork, testAutomator, 0)
	assert.Equal(t, OutcomeConfirmed, third.Outcome)

	entries, err = store.GetHistory(context.Background(), models.HistoryFilter{})
	require.NoError(t, err)
	assert.Len(t, entries, 4)

	snap = coord.tracker.Snapshot()
	assert.Equal(t, int64(2), snap.Attempts)
	assert.Equal(t, 0, coord.Registry().Len())
}

func TestExecuteUnknownAutomator(t *testing.T) {
	store := newTestStorage(t)
	client := &fakeClient{}
	coord := newTestCoordinator(t, store, client)

	result := coord.Execute(context.Background(), testNetwork, testAutomator, 0)

	assert.Equal(t, OutcomeNotAssociated, result.Outcome)
	assert.Error(t, result.Err)

	// no chain calls, no history rows
	assert.Equal(t, 0, client.feeCalls)
	entries, err := store.GetHistory(context.Background(), models.HistoryFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)

	assert.Equal(t, 0, coord.Registry().Len())
}

func TestExecuteFeeRetryExhaustion(t *testing.T) {
	store := newTestStorage(t)
	seedUpkeep(t, store)

	client := &fakeClient{
		estimateGas: 100000,
		feeErr:      errors.New("rpc down"),
	}
	coord := newTestCoordinator(t, store, client)

	result := coord.Execute(context.Background(), testNetwork, testAutomator, 0)

	assert.Equal(t, OutcomeFailed, result.Outcome)
	assert.Empty(t, result.TxHash)
	// one initial attempt plus the configured two retries
	assert.Equal(t, 3, client.feeCalls)

	errored := historyByStatus(t, store, models.StatusError)
	require.Len(t, errored, 1)
	assert.Empty(t, errored[0].TxHash)
	assert.NotEmpty(t, errored[0].ErrorMessage)

	snap := coord.tracker.Snapshot()
	assert.Equal(t, int64(1), snap.Failures)
	assert.Equal(t, 0, coord.Registry().Len())
}

func TestExecuteConfirmationTimeout(t *testing.T) {
	store := newTestStorage(t)
	seedUpkeep(t, store)

	client := &fakeClient{
		estimateGas: 100000,
		fee:         &chain.FeeData{GasPrice: big.NewInt(10)},
		submitHash:  common.HexToHash("0xabc4"),
		waitForCtx:  true,
	}
	coord := newTestCoordinator(t, store, client)
	coord.config.ConfirmTimeout = 20 * time.Millisecond

	result := coord.Execute(context.Background(), testNetwork, testAutomator, 0)

	assert.Equal(t, OutcomeFailed, result.Outcome)
	assert.True(t, utils.IsCode(result.Err, utils.ErrCodeTimeout))
	assert.NotEmpty(t, result.TxHash)

	// PENDING row exists from submission, ERROR row carries the tx hash
	pending := historyByStatus(t, store, models.StatusPending)
	require.Len(t, pending, 1)
	errored := historyByStatus(t, store, models.StatusError)
	require.Len(t, errored, 1)
	assert.Equal(t, result.TxHash, errored[0].TxHash)

	assert.Equal(t, 0, coord.Registry().Len())
}

func TestExecuteRevertedTransaction(t *testing.T) {
	store := newTestStorage(t)
	seedUpkeep(t, store)

	client := &fakeClient{
		estimateGas: 100000,
		fee:         &chain.FeeData{GasPrice: big.NewInt(10)},
		submitHash:  common.HexToHash("0xabc5"),
		receipt:     &chain.Receipt{BlockNumber: 9, GasUsed: 30000, Status: 0},
	}
	coord := newTestCoordinator(t, store, client)

	result := coord.Execute(context.Background(), testNetwork, testAutomator, 0)

	assert.Equal(t, OutcomeFailed, result.Outcome)
	assert.True(t, utils.IsCode(result.Err, utils.ErrCodeExecution))

	reverted := historyByStatus(t, store, models.StatusReverted)
	require.Len(t, reverted, 1)
	require.NotNil(t, reverted[0].BlockNumber)
	assert.Equal(t, uint64(9), *reverted[0].BlockNumber)

	snap := coord.tracker.Snapshot()
	assert.Equal(t, int64(1), snap.Failures)
	assert.Equal(t, int64(0), snap.Successes)
}

func TestExecutePublishesBusEvent(t *testing.T) {
	store := newTestStorage(t)
	seedUpkeep(t, store)

	client := &fakeClient{
		estimateGas: 100000,
		fee:         &chain.FeeData{GasPrice: big.NewInt(10)},
		submitHash:  common.HexToHash("0xabc6"),
		receipt:     &chain.Receipt{BlockNumber: 3, GasUsed: 1000, Status: 1},
	}

	eventBus := bus.New()
	var mu sync.Mutex
	var events []ExecutionEvent
	eventBus.Subscribe(bus.TopicAutomatorExecution, func(e bus.Event) {
		mu.Lock()
		events = append(events, e.Payload.(ExecutionEvent))
		mu.Unlock()
	})

	tracker := metrics.NewExecutionTracker(nil)
	coord := NewCoordinator(testCoordinatorConfig(), store, client, tracker, nil, eventBus)

	coord.Execute(context.Background(), testNetwork, testAutomator, 0)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 1)
	assert.Equal(t, OutcomeConfirmed, events[0].Outcome)
	assert.Equal(t, testNetwork, events[0].Network)
}

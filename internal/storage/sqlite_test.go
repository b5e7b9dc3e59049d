package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/upkeep-automator/internal/config"
	"github.com/smartdevs17/upkeep-automator/internal/models"
	"github.com/smartdevs17/upkeep-automator/pkg/utils"
)

func newTestSQLite(t *testing.T) *SQLiteStorage {
	t.Helper()

	store := NewSQLiteStorage(&StorageConfig{
		ConnectionString: filepath.Join(t.TempDir(), "test.db"),
		MaxConnections:   4,
		MaxIdleTime:      time.Minute,
	})
	require.NoError(t, store.Connect())
	require.NoError(t, store.Migrate())
	t.Cleanup(func() { store.Close() })

	return store
}

func makeUpkeep(address string) *models.UpkeepContract {
	now := time.Now()
	return &models.UpkeepContract{
		ID:              uuid.New().String(),
		ContractAddress: address,
		Name:            "test upkeep",
		Network:         "anvil",
		Owner:           "0x3333333333333333333333333333333333333333",
		Interval:        300,
		IsActive:        true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func TestCreateAndGetUpkeep(t *testing.T) {
	store := newTestSQLite(t)
	ctx := context.Background()

	upkeep := makeUpkeep("0xAAAA567890123456789012345678901234567890")
	require.NoError(t, store.CreateUpkeep(ctx, upkeep))

	// lookup is case insensitive via normalization
	got, err := store.GetUpkeepByAddress(ctx, "0xaaaa567890123456789012345678901234567890")
	require.NoError(t, err)
	assert.Equal(t, upkeep.ID, got.ID)
	assert.Equal(t, "0xaaaa567890123456789012345678901234567890", got.ContractAddress)
	assert.Equal(t, int64(300), got.Interval)
	assert.True(t, got.IsActive)
	assert.Empty(t, got.AutomatorAddress)
	assert.Nil(t, got.LastCheckedAt)
}

func TestCreateUpkeepDuplicateAddress(t *testing.T) {
	store := newTestSQLite(t)
	ctx := context.Background()

	addr := "0x1111111111111111111111111111111111111111"
	require.NoError(t, store.CreateUpkeep(ctx, makeUpkeep(addr)))

	err := store.CreateUpkeep(ctx, makeUpkeep(addr))
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.ErrCodeDatabase))
}

func TestGetUpkeepNotFound(t *testing.T) {
	store := newTestSQLite(t)

	_, err := store.GetUpkeepByAddress(context.Background(), "0x1111111111111111111111111111111111111111")
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.ErrCodeNotFound))

	_, err = store.GetUpkeepByAutomator(context.Background(), "0x2222222222222222222222222222222222222222")
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.ErrCodeNotFound))
}

func TestSetAutomatorAddressIdempotent(t *testing.T) {
	store := newTestSQLite(t)
	ctx := context.Background()

	contract := "0x1111111111111111111111111111111111111111"
	automator := "0x2222222222222222222222222222222222222222"
	require.NoError(t, store.CreateUpkeep(ctx, makeUpkeep(contract)))

	// first assignment
	require.NoError(t, store.SetAutomatorAddress(ctx, contract, automator))

	// same value again is a no-op
	require.NoError(t, store.SetAutomatorAddress(ctx, contract, automator))

	// a different value is a conflict
	err := store.SetAutomatorAddress(ctx, contract, "0x4444444444444444444444444444444444444444")
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.ErrCodeConflict))

	// unknown contract
	err = store.SetAutomatorAddress(ctx, "0x9999999999999999999999999999999999999999", automator)
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.ErrCodeNotFound))

	// automator lookup resolves
	got, err := store.GetUpkeepByAutomator(ctx, automator)
	require.NoError(t, err)
	assert.Equal(t, contract, got.ContractAddress)
}

func TestSetUpkeepActive(t *testing.T) {
	store := newTestSQLite(t)
	ctx := context.Background()

	contract := "0x1111111111111111111111111111111111111111"
	require.NoError(t, store.CreateUpkeep(ctx, makeUpkeep(contract)))

	require.NoError(t, store.SetUpkeepActive(ctx, contract, false))
	got, err := store.GetUpkeepByAddress(ctx, contract)
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	err = store.SetUpkeepActive(ctx, "0x9999999999999999999999999999999999999999", true)
	assert.True(t, utils.IsCode(err, utils.ErrCodeNotFound))
}

func TestRecordCheck(t *testing.T) {
	store := newTestSQLite(t)
	ctx := context.Background()

	upkeep := makeUpkeep("0x1111111111111111111111111111111111111111")
	require.NoError(t, store.CreateUpkeep(ctx, upkeep))

	checkedAt := time.Now()
	require.NoError(t, store.RecordCheck(ctx, upkeep.ID, checkedAt))
	require.NoError(t, store.RecordCheck(ctx, upkeep.ID, checkedAt.Add(time.Minute)))

	got, err := store.GetUpkeepByAddress(ctx, upkeep.ContractAddress)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.CheckCount)
	require.NotNil(t, got.LastCheckedAt)

	err = store.RecordCheck(ctx, "missing-id", checkedAt)
	assert.True(t, utils.IsCode(err, utils.ErrCodeNotFound))
}

func TestGetUpkeepsFilter(t *testing.T) {
	store := newTestSQLite(t)
	ctx := context.Background()

	first := makeUpkeep("0x1111111111111111111111111111111111111111")
	first.CreatedAt = time.Now().Add(-time.Hour)
	require.NoError(t, store.CreateUpkeep(ctx, first))

	second := makeUpkeep("0x2222222222222222222222222222222222222222")
	second.IsActive = false
	require.NoError(t, store.CreateUpkeep(ctx, second))

	all, err := store.GetUpkeeps(ctx, models.UpkeepFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	// newest first
	assert.Equal(t, second.ID, all[0].ID)

	active := true
	onlyActive, err := store.GetUpkeeps(ctx, models.UpkeepFilter{IsActive: &active})
	require.NoError(t, err)
	require.Len(t, onlyActive, 1)
	assert.Equal(t, first.ID, onlyActive[0].ID)
}

func TestAppendAndQueryHistory(t *testing.T) {
	store := newTestSQLite(t)
	ctx := context.Background()

	upkeep := makeUpkeep("0x1111111111111111111111111111111111111111")
	require.NoError(t, store.CreateUpkeep(ctx, upkeep))

	block := uint64(42)
	entries := []*models.HistoryEntry{
		{
			UpkeepID:        upkeep.ID,
			ContractAddress: upkeep.ContractAddress,
			TxHash:          "0xdead",
			ActivityType:    models.ActivityCheckExecute,
			Status:          models.StatusPending,
			CreatedAt:       time.Now().Add(-2 * time.Minute),
		},
		{
			UpkeepID:        upkeep.ID,
			ContractAddress: upkeep.ContractAddress,
			TxHash:          "0xdead",
			BlockNumber:     &block,
			GasUsed:         "90000",
			ActivityType:    models.ActivityCheckExecute,
			Status:          models.StatusSuccess,
			UpkeepPerformed: true,
			CreatedAt:       time.Now().Add(-time.Minute),
		},
		{
			UpkeepID:        upkeep.ID,
			ContractAddress: upkeep.ContractAddress,
			TxHash:          "0xbeef",
			LinkAmount:      "5000000000000000000",
			ActivityType:    models.ActivityFund,
			Status:          models.StatusSuccess,
		},
	}
	for _, e := range entries {
		require.NoError(t, store.AppendHistory(ctx, e))
		assert.NotEmpty(t, e.ID)
	}

	// newest first
	all, err := store.GetHistory(ctx, models.HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, models.ActivityFund, all[0].ActivityType)

	// filter by status
	pending := models.StatusPending
	got, err := store.GetHistory(ctx, models.HistoryFilter{Status: &pending})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "0xdead", got[0].TxHash)

	// filter by activity type
	fund := models.ActivityFund
	got, err = store.GetHistory(ctx, models.HistoryFilter{ActivityType: &fund})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "5000000000000000000", got[0].LinkAmount)

	// filter by tx hash with count
	txHash := "0xdead"
	count, err := store.GetHistoryCount(ctx, models.HistoryFilter{TxHash: &txHash})
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	// pagination
	got, err = store.GetHistory(ctx, models.HistoryFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, models.StatusSuccess, got[0].Status)

	// block number round trip
	success := models.StatusSuccess
	checkExecute := models.ActivityCheckExecute
	got, err = store.GetHistory(ctx, models.HistoryFilter{Status: &success, ActivityType: &checkExecute})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.NotNil(t, got[0].BlockNumber)
	assert.Equal(t, uint64(42), *got[0].BlockNumber)
}

func TestGetStats(t *testing.T) {
	store := newTestSQLite(t)
	ctx := context.Background()

	upkeep := makeUpkeep("0x1111111111111111111111111111111111111111")
	require.NoError(t, store.CreateUpkeep(ctx, upkeep))

	inactive := makeUpkeep("0x2222222222222222222222222222222222222222")
	inactive.IsActive = false
	require.NoError(t, store.CreateUpkeep(ctx, inactive))

	require.NoError(t, store.AppendHistory(ctx, &models.HistoryEntry{
		UpkeepID:        upkeep.ID,
		ContractAddress: upkeep.ContractAddress,
		ActivityType:    models.ActivityRegister,
		Status:          models.StatusSuccess,
	}))

	stats, err := store.GetStats()
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalUpkeeps)
	assert.Equal(t, int64(1), stats.ActiveUpkeeps)
	assert.Equal(t, int64(1), stats.TotalHistory)
	assert.Equal(t, "sqlite", stats.DatabaseType)
	assert.True(t, store.IsHealthy())
}

func TestFactory(t *testing.T) {
	store, err := NewStorage(&config.StorageConfig{
		Type:             "sqlite",
		ConnectionString: filepath.Join(t.TempDir(), "factory.db"),
		MaxConnections:   2,
		MaxIdleTime:      time.Minute,
	})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStorage{}, store)

	_, err = NewStorage(&config.StorageConfig{Type: "redis"})
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.ErrCodeConfiguration))
}

package storage

import (
	"context"
	"time"

	"github.com/smartdevs17/upkeep-automator/internal/metrics"
	"github.com/smartdevs17/upkeep-automator/internal/models"
)

// InstrumentedStorage wraps a Storage backend and records every operation
// into Prometheus metrics.
type InstrumentedStorage struct {
	inner      Storage
	prometheus *metrics.PrometheusMetrics
}

// WithMetrics wraps a storage backend with Prometheus instrumentation.
// A nil metrics handle returns the backend unchanged.
func WithMetrics(inner Storage, prom *metrics.PrometheusMetrics) Storage {
	if prom == nil {
		return inner
	}
	return &InstrumentedStorage{inner: inner, prometheus: prom}
}

func (s *InstrumentedStorage) record(operation, table string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	s.prometheus.RecordDatabaseOperation(operation, table, status, time.Since(start))
}

func (s *InstrumentedStorage) Connect() error { return s.inner.Connect() }
func (s *InstrumentedStorage) Close() error   { return s.inner.Close() }
func (s *InstrumentedStorage) Ping() error    { return s.inner.Ping() }
func (s *InstrumentedStorage) Migrate() error { return s.inner.Migrate() }

func (s *InstrumentedStorage) CreateUpkeep(ctx context.Context, upkeep *models.UpkeepContract) error {
	start := time.Now()
	err := s.inner.CreateUpkeep(ctx, upkeep)
	s.record("insert", "upkeep_contracts", start, err)
	return err
}

func (s *InstrumentedStorage) GetUpkeepByAddress(ctx context.Context, contractAddress string) (*models.UpkeepContract, error) {
	start := time.Now()
	upkeep, err := s.inner.GetUpkeepByAddress(ctx, contractAddress)
	s.record("select", "upkeep_contracts", start, err)
	return upkeep, err
}

func (s *InstrumentedStorage) GetUpkeepByAutomator(ctx context.Context, automatorAddress string) (*models.UpkeepContract, error) {
	start := time.Now()
	upkeep, err := s.inner.GetUpkeepByAutomator(ctx, automatorAddress)
	s.record("select", "upkeep_contracts", start, err)
	return upkeep, err
}

func (s *InstrumentedStorage) GetUpkeeps(ctx context.Context, filter models.UpkeepFilter) ([]*models.UpkeepContract, error) {
	start := time.Now()
	upkeeps, err := s.inner.GetUpkeeps(ctx, filter)
	s.record("select", "upkeep_contracts", start, err)
	return upkeeps, err
}

func (s *InstrumentedStorage) SetAutomatorAddress(ctx context.Context, contractAddress, automatorAddress string) error {
	start := time.Now()
	err := s.inner.SetAutomatorAddress(ctx, contractAddress, automatorAddress)
	s.record("update", "upkeep_contracts", start, err)
	return err
}

func (s *InstrumentedStorage) SetUpkeepActive(ctx context.Context, contractAddress string, active bool) error {
	start := time.Now()
	err := s.inner.SetUpkeepActive(ctx, contractAddress, active)
	s.record("update", "upkeep_contracts", start, err)
	return err
}

func (s *InstrumentedStorage) RecordCheck(ctx context.Context, upkeepID string, checkedAt time.Time) error {
	start := time.Now()
	err := s.inner.RecordCheck(ctx, upkeepID, checkedAt)
	s.record("update", "upkeep_contracts", start, err)
	return err
}

func (s *InstrumentedStorage) AppendHistory(ctx context.Context, entry *models.HistoryEntry) error {
	start := time.Now()
	err := s.inner.AppendHistory(ctx, entry)
	s.record("insert", "upkeep_history", start, err)
	return err
}

func (s *InstrumentedStorage) GetHistory(ctx context.Context, filter models.HistoryFilter) ([]*models.HistoryEntry, error) {
	start := time.Now()
	entries, err := s.inner.GetHistory(ctx, filter)
	s.record("select", "upkeep_history", start, err)
	return entries, err
}

func (s *InstrumentedStorage) GetHistoryCount(ctx context.Context, filter models.HistoryFilter) (int64, error) {
	start := time.Now()
	count, err := s.inner.GetHistoryCount(ctx, filter)
	s.record("select", "upkeep_history", start, err)
	return count, err
}

func (s *InstrumentedStorage) GetStats() (*StorageStats, error) { return s.inner.GetStats() }
func (s *InstrumentedStorage) IsHealthy() bool                  { return s.inner.IsHealthy() }

package storage

import (
	"context"
	"time"

	"github.com/smartdevs17/upkeep-automator/internal/models"
)

// Storage defines the persistence operations the automator needs. Upkeep rows
// are mutable records keyed by contract address; history rows are append-only.
type Storage interface {
	// Connection management
	Connect() error
	Close() error
	Ping() error
	Migrate() error

	// Upkeep operations
	CreateUpkeep(ctx context.Context, upkeep *models.UpkeepContract) error
	GetUpkeepByAddress(ctx context.Context, contractAddress string) (*models.UpkeepContract, error)
	GetUpkeepByAutomator(ctx context.Context, automatorAddress string) (*models.UpkeepContract, error)
	GetUpkeeps(ctx context.Context, filter models.UpkeepFilter) ([]*models.UpkeepContract, error)
	SetAutomatorAddress(ctx context.Context, contractAddress, automatorAddress string) error
	SetUpkeepActive(ctx context.Context, contractAddress string, active bool) error
	RecordCheck(ctx context.Context, upkeepID string, checkedAt time.Time) error

	// History operations (append-only, no updates)
	AppendHistory(ctx context.Context, entry *models.HistoryEntry) error
	GetHistory(ctx context.Context, filter models.HistoryFilter) ([]*models.HistoryEntry, error)
	GetHistoryCount(ctx context.Context, filter models.HistoryFilter) (int64, error)

	// Statistics and monitoring
	GetStats() (*StorageStats, error)
	IsHealthy() bool
}

// StorageStats provides storage statistics
type StorageStats struct {
	TotalUpkeeps   int64      `json:"total_upkeeps"`
	ActiveUpkeeps  int64      `json:"active_upkeeps"`
	TotalHistory   int64      `json:"total_history"`
	OldestHistory  *time.Time `json:"oldest_history,omitempty"`
	LatestHistory  *time.Time `json:"latest_history,omitempty"`
	DatabaseType   string     `json:"database_type"`
	LastStatsCheck time.Time  `json:"last_stats_check"`
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Type             string        `json:"type"`
	ConnectionString string        `json:"connection_string"`
	MaxConnections   int           `json:"max_connections"`
	MaxIdleTime      time.Duration `json:"max_idle_time"`
}

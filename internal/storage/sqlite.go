package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/smartdevs17/upkeep-automator/internal/models"
	"github.com/smartdevs17/upkeep-automator/pkg/utils"
)

// SQLiteStorage implements Storage interface using SQLite
type SQLiteStorage struct {
	db         *sql.DB
	config     *StorageConfig
	logger     *logrus.Logger
	migrations []*Migration
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(config *StorageConfig) *SQLiteStorage {
	return &SQLiteStorage{
		config:     config,
		logger:     utils.GetLogger(),
		migrations: GetSQLiteMigrations(),
	}
}

// Connect establishes database connection
func (s *SQLiteStorage) Connect() error {
	// Ensure directory exists
	dir := filepath.Dir(s.config.ConnectionString)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to create database directory", err.Error())
		}
	}

	db, err := sql.Open("sqlite", s.config.ConnectionString)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to open SQLite database", err.Error())
	}

	// Configure connection pool
	db.SetMaxOpenConns(s.config.MaxConnections)
	db.SetMaxIdleConns(s.config.MaxConnections / 2)
	db.SetConnMaxLifetime(s.config.MaxIdleTime)

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to enable WAL mode", err.Error())
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to enable foreign keys", err.Error())
	}

	s.db = db
	s.logger.Info("SQLite database connected", logrus.Fields{"path": s.config.ConnectionString})

	return nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		s.logger.Info("SQLite database connection closed")
		return err
	}
	return nil
}

// Ping checks database connectivity
func (s *SQLiteStorage) Ping() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}
	return s.db.Ping()
}

// Migrate runs database migrations
func (s *SQLiteStorage) Migrate() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}

	s.logger.Info("Starting database migrations")

	for _, migration := range s.migrations {
		s.logger.Info("Applying migration", logrus.Fields{
			"version":     migration.Version,
			"description": migration.Description,
		})

		if _, err := s.db.Exec(migration.SQL); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase,
				fmt.Sprintf("Migration %s failed", migration.Version),
				err.Error())
		}
	}

	s.logger.Info("Database migrations completed")
	return nil
}

// CreateUpkeep inserts a new upkeep contract record
func (s *SQLiteStorage) CreateUpkeep(ctx context.Context, upkeep *models.UpkeepContract) error {
	query := `
		INSERT INTO upkeep_contracts
		(id, contract_address, name, network, owner, interval_seconds, is_active,
		 automator_address, last_checked_at, check_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		upkeep.ID, utils.NormalizeAddress(upkeep.ContractAddress), upkeep.Name,
		upkeep.Network, utils.NormalizeAddress(upkeep.Owner), upkeep.Interval,
		upkeep.IsActive, upkeep.AutomatorAddress, upkeep.LastCheckedAt,
		upkeep.CheckCount, upkeep.CreatedAt, upkeep.UpdatedAt)

	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to create upkeep", err.Error())
	}

	return nil
}

const upkeepColumns = `id, contract_address, name, network, owner, interval_seconds,
	is_active, automator_address, last_checked_at, check_count, created_at, updated_at`

func scanUpkeep(row interface{ Scan(...interface{}) error }) (*models.UpkeepContract, error) {
	var upkeep models.UpkeepContract
	var lastChecked sql.NullTime

	err := row.Scan(&upkeep.ID, &upkeep.ContractAddress, &upkeep.Name, &upkeep.Network,
		&upkeep.Owner, &upkeep.Interval, &upkeep.IsActive, &upkeep.AutomatorAddress,
		&lastChecked, &upkeep.CheckCount, &upkeep.CreatedAt, &upkeep.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if lastChecked.Valid {
		upkeep.LastCheckedAt = &lastChecked.Time
	}

	return &upkeep, nil
}

// GetUpkeepByAddress retrieves an upkeep by target contract address
func (s *SQLiteStorage) GetUpkeepByAddress(ctx context.Context, contractAddress string) (*models.UpkeepContract, error) {
	query := `SELECT ` + upkeepColumns + ` FROM upkeep_contracts WHERE contract_address = ?`

	upkeep, err := scanUpkeep(s.db.QueryRowContext(ctx, query, utils.NormalizeAddress(contractAddress)))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, utils.NewAppError(utils.ErrCodeNotFound, "Upkeep not found", contractAddress)
		}
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get upkeep", err.Error())
	}

	return upkeep, nil
}

// GetUpkeepByAutomator retrieves an upkeep by its automator address
func (s *SQLiteStorage) GetUpkeepByAutomator(ctx context.Context, automatorAddress string) (*models.UpkeepContract, error) {
	query := `SELECT ` + upkeepColumns + ` FROM upkeep_contracts WHERE automator_address = ?`

	upkeep, err := scanUpkeep(s.db.QueryRowContext(ctx, query, utils.NormalizeAddress(automatorAddress)))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, utils.NewAppError(utils.ErrCodeNotFound, "No upkeep for automator", automatorAddress)
		}
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get upkeep by automator", err.Error())
	}

	return upkeep, nil
}

// GetUpkeeps retrieves upkeeps based on filter, newest first
func (s *SQLiteStorage) GetUpkeeps(ctx context.Context, filter models.UpkeepFilter) ([]*models.UpkeepContract, error) {
	query := `SELECT ` + upkeepColumns + ` FROM upkeep_contracts WHERE 1=1`
	args := []interface{}{}

	if filter.IsActive != nil {
		query += " AND is_active = ?"
		args = append(args, *filter.IsActive)
	}

	if filter.Network != nil {
		query += " AND network = ?"
		args = append(args, *filter.Network)
	}

	query += " ORDER BY created_at DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to query upkeeps", err.Error())
	}
	defer rows.Close()

	var upkeeps []*models.UpkeepContract
	for rows.Next() {
		upkeep, err := scanUpkeep(rows)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan upkeep", err.Error())
		}
		upkeeps = append(upkeeps, upkeep)
	}

	return upkeeps, rows.Err()
}

// SetAutomatorAddress assigns the automator address once. Setting the same
// value again is a no-op; a conflicting non-empty value is an error.
func (s *SQLiteStorage) SetAutomatorAddress(ctx context.Context, contractAddress, automatorAddress string) error {
	contractAddress = utils.NormalizeAddress(contractAddress)
	automatorAddress = utils.NormalizeAddress(automatorAddress)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to begin transaction", err.Error())
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx,
		`SELECT automator_address FROM upkeep_contracts WHERE contract_address = ?`,
		contractAddress).Scan(&current)
	if err != nil {
		if err == sql.ErrNoRows {
			return utils.NewAppError(utils.ErrCodeNotFound, "Upkeep not found", contractAddress)
		}
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to read automator address", err.Error())
	}

	if current == automatorAddress {
		return nil
	}
	if current != "" {
		return utils.NewAppError(utils.ErrCodeConflict, "Automator address already assigned",
			fmt.Sprintf("existing %s, attempted %s", current, automatorAddress))
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE upkeep_contracts SET automator_address = ?, updated_at = ? WHERE contract_address = ?`,
		automatorAddress, time.Now().UTC(), contractAddress)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to set automator address", err.Error())
	}

	if err := tx.Commit(); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to commit transaction", err.Error())
	}

	return nil
}

// SetUpkeepActive toggles the active flag for an upkeep
func (s *SQLiteStorage) SetUpkeepActive(ctx context.Context, contractAddress string, active bool) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE upkeep_contracts SET is_active = ?, updated_at = ? WHERE contract_address = ?`,
		active, time.Now().UTC(), utils.NormalizeAddress(contractAddress))
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to update active flag", err.Error())
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return utils.NewAppError(utils.ErrCodeNotFound, "Upkeep not found", contractAddress)
	}

	return nil
}

// RecordCheck updates the last-checked timestamp and increments the check counter
func (s *SQLiteStorage) RecordCheck(ctx context.Context, upkeepID string, checkedAt time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE upkeep_contracts
		 SET last_checked_at = ?, check_count = check_count + 1, updated_at = ?
		 WHERE id = ?`,
		checkedAt, time.Now().UTC(), upkeepID)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to record check", err.Error())
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return utils.NewAppError(utils.ErrCodeNotFound, "Upkeep not found", upkeepID)
	}

	return nil
}

// AppendHistory inserts a new history entry. History rows are never updated.
func (s *SQLiteStorage) AppendHistory(ctx context.Context, entry *models.HistoryEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO upkeep_history
		(id, upkeep_id, contract_address, automator_address, tx_hash, block_number,
		 gas_used, link_amount, activity_type, status, upkeep_performed, error_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		entry.ID, entry.UpkeepID, utils.NormalizeAddress(entry.ContractAddress),
		entry.AutomatorAddress, entry.TxHash, entry.BlockNumber, entry.GasUsed,
		entry.LinkAmount, string(entry.ActivityType), string(entry.Status),
		entry.UpkeepPerformed, entry.ErrorMessage, entry.CreatedAt)

	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to append history entry", err.Error())
	}

	return nil
}

func buildHistoryFilter(filter models.HistoryFilter, placeholder func(int) string) (string, []interface{}) {
	clause := ""
	args := []interface{}{}

	add := func(column string, value interface{}) {
		clause += fmt.Sprintf(" AND %s = %s", column, placeholder(len(args)+1))
		args = append(args, value)
	}

	if filter.UpkeepID != nil {
		add("upkeep_id", *filter.UpkeepID)
	}
	if filter.ContractAddress != nil {
		add("contract_address", utils.NormalizeAddress(*filter.ContractAddress))
	}
	if filter.TxHash != nil {
		add("tx_hash", *filter.TxHash)
	}
	if filter.ActivityType != nil {
		add("activity_type", string(*filter.ActivityType))
	}
	if filter.Status != nil {
		add("status", string(*filter.Status))
	}

	return clause, args
}

const historyColumns = `id, upkeep_id, contract_address, automator_address, tx_hash,
	block_number, gas_used, link_amount, activity_type, status, upkeep_performed,
	error_message, created_at`

func scanHistory(row interface{ Scan(...interface{}) error }) (*models.HistoryEntry, error) {
	var entry models.HistoryEntry
	var blockNumber sql.NullInt64

	err := row.Scan(&entry.ID, &entry.UpkeepID, &entry.ContractAddress,
		&entry.AutomatorAddress, &entry.TxHash, &blockNumber, &entry.GasUsed,
		&entry.LinkAmount, &entry.ActivityType, &entry.Status,
		&entry.UpkeepPerformed, &entry.ErrorMessage, &entry.CreatedAt)
	if err != nil {
		return nil, err
	}

	if blockNumber.Valid {
		block := uint64(blockNumber.Int64)
		entry.BlockNumber = &block
	}

	return &entry, nil
}

// GetHistory retrieves history entries based on filter, newest first
func (s *SQLiteStorage) GetHistory(ctx context.Context, filter models.HistoryFilter) ([]*models.HistoryEntry, error) {
	clause, args := buildHistoryFilter(filter, func(int) string { return "?" })
	query := `SELECT ` + historyColumns + ` FROM upkeep_history WHERE 1=1` + clause
	query += " ORDER BY created_at DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to query history", err.Error())
	}
	defer rows.Close()

	var entries []*models.HistoryEntry
	for rows.Next() {
		entry, err := scanHistory(rows)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan history entry", err.Error())
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// GetHistoryCount returns the number of history entries matching the filter
func (s *SQLiteStorage) GetHistoryCount(ctx context.Context, filter models.HistoryFilter) (int64, error) {
	clause, args := buildHistoryFilter(filter, func(int) string { return "?" })
	query := `SELECT COUNT(*) FROM upkeep_history WHERE 1=1` + clause

	var count int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to count history", err.Error())
	}

	return count, nil
}

// GetStats returns storage statistics
func (s *SQLiteStorage) GetStats() (*StorageStats, error) {
	stats := &StorageStats{
		DatabaseType:   "sqlite",
		LastStatsCheck: time.Now(),
	}

	if err := s.db.QueryRow(`SELECT COUNT(*) FROM upkeep_contracts`).Scan(&stats.TotalUpkeeps); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to count upkeeps", err.Error())
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM upkeep_contracts WHERE is_active = TRUE`).Scan(&stats.ActiveUpkeeps); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to count active upkeeps", err.Error())
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM upkeep_history`).Scan(&stats.TotalHistory); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to count history", err.Error())
	}

	var oldest, latest sql.NullTime
	if err := s.db.QueryRow(`SELECT MIN(created_at), MAX(created_at) FROM upkeep_history`).Scan(&oldest, &latest); err == nil {
		if oldest.Valid {
			stats.OldestHistory = &oldest.Time
		}
		if latest.Valid {
			stats.LatestHistory = &latest.Time
		}
	}

	return stats, nil
}

// IsHealthy reports whether the storage connection is usable
func (s *SQLiteStorage) IsHealthy() bool {
	return s.Ping() == nil
}

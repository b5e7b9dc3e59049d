package models

import (
	"time"
)

// ActivityType classifies a history entry
type ActivityType string

const (
	ActivityCheckExecute ActivityType = "CHECK_EXECUTE"
	ActivityFund         ActivityType = "FUND"
	ActivityRegister     ActivityType = "REGISTER"
	ActivityCancel       ActivityType = "CANCEL"
	ActivityWithdraw     ActivityType = "WITHDRAW"
)

// ExecStatus is the recorded outcome of an execution attempt
type ExecStatus string

const (
	StatusPending  ExecStatus = "PENDING"
	StatusSuccess  ExecStatus = "SUCCESS"
	StatusReverted ExecStatus = "REVERTED"
	StatusError    ExecStatus = "ERROR"
	StatusSkipped  ExecStatus = "SKIPPED"
)

// HistoryEntry is an append-only execution/funding record. Rows are never
// updated; a later state transition appends a new row for the same attempt.
type HistoryEntry struct {
	ID               string       `json:"id" db:"id"`
	UpkeepID         string       `json:"upkeep_id" db:"upkeep_id"`
	ContractAddress  string       `json:"contract_address" db:"contract_address"`
	AutomatorAddress string       `json:"automator_address,omitempty" db:"automator_address"`
	TxHash           string       `json:"tx_hash,omitempty" db:"tx_hash"`
	BlockNumber      *uint64      `json:"block_number,omitempty" db:"block_number"`
	GasUsed          string       `json:"gas_used,omitempty" db:"gas_used"`
	LinkAmount       string       `json:"link_amount,omitempty" db:"link_amount"`
	ActivityType     ActivityType `json:"activity_type" db:"activity_type"`
	Status           ExecStatus   `json:"status" db:"status"`
	UpkeepPerformed  bool         `json:"upkeep_performed" db:"upkeep_performed"`
	ErrorMessage     string       `json:"error_message,omitempty" db:"error_message"`
	CreatedAt        time.Time    `json:"created_at" db:"created_at"`
}

// HistoryFilter for querying history entries
type HistoryFilter struct {
	UpkeepID        *string       `json:"upkeep_id,omitempty"`
	ContractAddress *string       `json:"contract_address,omitempty"`
	TxHash          *string       `json:"tx_hash,omitempty"`
	ActivityType    *ActivityType `json:"activity_type,omitempty"`
	Status          *ExecStatus   `json:"status,omitempty"`
	Limit           int           `json:"limit,omitempty"`
	Offset          int           `json:"offset,omitempty"`
}

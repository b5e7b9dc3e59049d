package models

import (
	"time"
)

// UpkeepContract represents a registered target contract under automation.
// AutomatorAddress stays empty until the on-chain deployment event is observed.
type UpkeepContract struct {
	ID               string     `json:"id" db:"id"`
	ContractAddress  string     `json:"contract_address" db:"contract_address"`
	Name             string     `json:"name" db:"name"`
	Network          string     `json:"network" db:"network"`
	Owner            string     `json:"owner" db:"owner"`
	Interval         int64      `json:"interval" db:"interval_seconds"`
	IsActive         bool       `json:"is_active" db:"is_active"`
	AutomatorAddress string     `json:"automator_address" db:"automator_address"`
	LastCheckedAt    *time.Time `json:"last_checked_at,omitempty" db:"last_checked_at"`
	CheckCount       int64      `json:"check_count" db:"check_count"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at" db:"updated_at"`
}

// UpkeepFilter for querying upkeep contracts
type UpkeepFilter struct {
	IsActive *bool   `json:"is_active,omitempty"`
	Network  *string `json:"network,omitempty"`
	Limit    int     `json:"limit,omitempty"`
	Offset   int     `json:"offset,omitempty"`
}

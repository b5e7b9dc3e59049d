package storage

// Migration represents a database migration
type Migration struct {
	Version     string
	Description string
	SQL         string
}

// GetSQLiteMigrations returns SQLite migration scripts
func GetSQLiteMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create upkeep_contracts table",
			SQL: `
				CREATE TABLE IF NOT EXISTS upkeep_contracts (
					id TEXT PRIMARY KEY,
					contract_address TEXT NOT NULL UNIQUE,
					name TEXT NOT NULL,
					network TEXT NOT NULL,
					owner TEXT NOT NULL,
					interval_seconds INTEGER NOT NULL DEFAULT 300,
					is_active BOOLEAN DEFAULT TRUE,
					automator_address TEXT NOT NULL DEFAULT '',
					last_checked_at DATETIME,
					check_count INTEGER NOT NULL DEFAULT 0,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				);

				CREATE UNIQUE INDEX IF NOT EXISTS idx_upkeeps_contract_address ON upkeep_contracts(contract_address);
				CREATE INDEX IF NOT EXISTS idx_upkeeps_automator_address ON upkeep_contracts(automator_address);
				CREATE INDEX IF NOT EXISTS idx_upkeeps_is_active ON upkeep_contracts(is_active);
				CREATE INDEX IF NOT EXISTS idx_upkeeps_created_at ON upkeep_contracts(created_at);
			`,
		},
		{
			Version:     "002",
			Description: "Create upkeep_history table",
			SQL: `
				CREATE TABLE IF NOT EXISTS upkeep_history (
					id TEXT PRIMARY KEY,
					upkeep_id TEXT NOT NULL,
					contract_address TEXT NOT NULL,
					automator_address TEXT NOT NULL DEFAULT '',
					tx_hash TEXT NOT NULL DEFAULT '',
					block_number INTEGER,
					gas_used TEXT NOT NULL DEFAULT '',
					link_amount TEXT NOT NULL DEFAULT '',
					activity_type TEXT NOT NULL,
					status TEXT NOT NULL,
					upkeep_performed BOOLEAN DEFAULT FALSE,
					error_message TEXT NOT NULL DEFAULT '',
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					FOREIGN KEY (upkeep_id) REFERENCES upkeep_contracts(id)
				);

				CREATE INDEX IF NOT EXISTS idx_history_upkeep_id ON upkeep_history(upkeep_id);
				CREATE INDEX IF NOT EXISTS idx_history_contract_address ON upkeep_history(contract_address);
				CREATE INDEX IF NOT EXISTS idx_history_tx_hash ON upkeep_history(tx_hash);
				CREATE INDEX IF NOT EXISTS idx_history_status ON upkeep_history(status);
				CREATE INDEX IF NOT EXISTS idx_history_created_at ON upkeep_history(created_at);
			`,
		},
	}
}

// GetPostgreSQLMigrations returns PostgreSQL migration scripts
func GetPostgreSQLMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create upkeep_contracts table",
			SQL: `
				CREATE TABLE IF NOT EXISTS upkeep_contracts (
					id UUID PRIMARY KEY,
					contract_address TEXT NOT NULL UNIQUE,
					name TEXT NOT NULL,
					network TEXT NOT NULL,
					owner TEXT NOT NULL,
					interval_seconds BIGINT NOT NULL DEFAULT 300,
					is_active BOOLEAN DEFAULT TRUE,
					automator_address TEXT NOT NULL DEFAULT '',
					last_checked_at TIMESTAMPTZ,
					check_count BIGINT NOT NULL DEFAULT 0,
					created_at TIMESTAMPTZ DEFAULT NOW(),
					updated_at TIMESTAMPTZ DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_upkeeps_automator_address ON upkeep_contracts(automator_address);
				CREATE INDEX IF NOT EXISTS idx_upkeeps_is_active ON upkeep_contracts(is_active);
				CREATE INDEX IF NOT EXISTS idx_upkeeps_created_at ON upkeep_contracts(created_at);
			`,
		},
		{
			Version:     "002",
			Description: "Create upkeep_history table",
			SQL: `
				CREATE TABLE IF NOT EXISTS upkeep_history (
					id UUID PRIMARY KEY,
					upkeep_id UUID NOT NULL REFERENCES upkeep_contracts(id),
					contract_address TEXT NOT NULL,
					automator_address TEXT NOT NULL DEFAULT '',
					tx_hash TEXT NOT NULL DEFAULT '',
					block_number BIGINT,
					gas_used TEXT NOT NULL DEFAULT '',
					link_amount TEXT NOT NULL DEFAULT '',
					activity_type TEXT NOT NULL,
					status TEXT NOT NULL,
					upkeep_performed BOOLEAN DEFAULT FALSE,
					error_message TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMPTZ DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_history_upkeep_id ON upkeep_history(upkeep_id);
				CREATE INDEX IF NOT EXISTS idx_history_contract_address ON upkeep_history(contract_address);
				CREATE INDEX IF NOT EXISTS idx_history_tx_hash ON upkeep_history(tx_hash);
				CREATE INDEX IF NOT EXISTS idx_history_status ON upkeep_history(status);
				CREATE INDEX IF NOT EXISTS idx_history_created_at ON upkeep_history(created_at);
			`,
		},
	}
}

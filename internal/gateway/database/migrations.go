package database

import "fmt"

// migrate 建表（幂等）。
func (s *AuditStore) migrate() error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	statements := []string{
		`CREATE TABLE IF NOT EXISTS cycle_records (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            cycle_id TEXT NOT NULL,
            symbol TEXT NOT NULL,
            action TEXT NOT NULL,
            confidence REAL NOT NULL DEFAULT 0,
            source TEXT NOT NULL DEFAULT '',
            reasoning TEXT NOT NULL DEFAULT '',
            approved INTEGER NOT NULL DEFAULT 0,
            veto_reason TEXT NOT NULL DEFAULT '',
            corrections TEXT NOT NULL DEFAULT '',
            outcome TEXT NOT NULL DEFAULT '',
            detail TEXT NOT NULL DEFAULT '',
            created_at INTEGER NOT NULL
        )`,
		`CREATE INDEX IF NOT EXISTS idx_cycle_records_cycle ON cycle_records(cycle_id)`,
		`CREATE INDEX IF NOT EXISTS idx_cycle_records_symbol ON cycle_records(symbol, id)`,
		`CREATE TABLE IF NOT EXISTS trades (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            cycle_id TEXT NOT NULL,
            symbol TEXT NOT NULL,
            side TEXT NOT NULL,
            action TEXT NOT NULL,
            quantity REAL NOT NULL DEFAULT 0,
            price REAL NOT NULL DEFAULT 0,
            pnl REAL NOT NULL DEFAULT 0,
            order_id TEXT NOT NULL DEFAULT '',
            created_at INTEGER NOT NULL
        )`,
		`CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol, id)`,
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("审计库迁移失败: %w", err)
		}
	}
	return nil
}

package store

import (
	"fmt"

	"go.uber.org/zap"
)

// migration adds one column to an existing table.
type migration struct {
	Table  string
	Column string
	Def    string
}

// pendingMigrations lists column additions for databases created before the
// columns existed. CREATE TABLE above already includes them for fresh files.
var pendingMigrations = []migration{
	// AI summary fields (opaque to the analyzer; written by an external
	// summarizer through SetAISummary).
	{"changes", "ai_summary", "TEXT"},
	{"changes", "ai_summary_status", "TEXT"},
	{"changes", "ai_summary_generated_at", "DATETIME"},
	// Failure details recorded when a pipeline step aborts the session.
	{"sessions", "error_log", "TEXT"},
}

// runMigrations applies pending column additions idempotently.
func (s *Store) runMigrations() error {
	applied := 0
	for _, m := range pendingMigrations {
		if s.columnExists(m.Table, m.Column) {
			continue
		}
		query := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.Table, m.Column, m.Def)
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("migration %s.%s failed: %w", m.Table, m.Column, err)
		}
		applied++
	}
	if applied > 0 {
		s.logger.Info("Schema migrations applied", zap.Int("count", applied))
	}
	return nil
}

// columnExists checks a table for a column using PRAGMA table_info.
func (s *Store) columnExists(table, column string) bool {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt any
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			continue
		}
		if name == column {
			return true
		}
	}
	return false
}

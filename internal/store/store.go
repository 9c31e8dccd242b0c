// Package store persists analysis sessions to SQLite: the session record,
// its three packages, object versions against the shared object registry,
// both delta sets, and the classified change list with review state.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"appmerge/internal/types"
)

// Store wraps the SQLite database. The mutex serializes writers; SQLite
// handles read concurrency.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
	logger *zap.Logger
}

// Open initializes the database at the given path, creating the schema and
// applying pending migrations.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db, dbPath: path, logger: logger}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// initialize creates the required tables.
func (s *Store) initialize() error {
	if _, err := s.db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	sessionTable := `
	CREATE TABLE IF NOT EXISTS sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		reference_id TEXT NOT NULL UNIQUE,
		status TEXT NOT NULL DEFAULT 'processing',
		reviewed_count INTEGER NOT NULL DEFAULT 0,
		skipped_count INTEGER NOT NULL DEFAULT 0,
		error_log TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
	`

	packageTable := `
	CREATE TABLE IF NOT EXISTS packages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id INTEGER NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		role TEXT NOT NULL,
		file_name TEXT NOT NULL,
		object_count INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(session_id, role)
	);
	`

	// Process-wide registry: one row per uuid ever seen, shared by all
	// sessions. Display names from later sessions live on version rows.
	objectTable := `
	CREATE TABLE IF NOT EXISTS objects (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		uuid TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		object_type TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_objects_type ON objects(object_type);
	`

	versionTable := `
	CREATE TABLE IF NOT EXISTS object_versions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id INTEGER NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		package_id INTEGER NOT NULL REFERENCES packages(id) ON DELETE CASCADE,
		object_id INTEGER NOT NULL REFERENCES objects(id),
		name TEXT NOT NULL,
		version_uuid TEXT,
		code TEXT,
		fields_json TEXT,
		properties_json TEXT,
		fingerprint TEXT NOT NULL,
		deprecated INTEGER NOT NULL DEFAULT 0,
		UNIQUE(object_id, package_id)
	);
	CREATE INDEX IF NOT EXISTS idx_versions_session ON object_versions(session_id);
	`

	vendorDeltaTable := `
	CREATE TABLE IF NOT EXISTS vendor_delta (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id INTEGER NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		object_id INTEGER NOT NULL REFERENCES objects(id),
		change_kind TEXT NOT NULL,
		old_version_id INTEGER REFERENCES object_versions(id),
		new_version_id INTEGER REFERENCES object_versions(id),
		summary TEXT,
		UNIQUE(session_id, object_id)
	);
	`

	customerDeltaTable := `
	CREATE TABLE IF NOT EXISTS customer_delta (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id INTEGER NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		object_id INTEGER NOT NULL REFERENCES objects(id),
		change_kind TEXT NOT NULL,
		old_version_id INTEGER REFERENCES object_versions(id),
		new_version_id INTEGER REFERENCES object_versions(id),
		summary TEXT,
		UNIQUE(session_id, object_id)
	);
	`

	changeTable := `
	CREATE TABLE IF NOT EXISTS changes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id INTEGER NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		object_id INTEGER NOT NULL REFERENCES objects(id),
		classification TEXT NOT NULL,
		vendor_kind TEXT,
		customer_kind TEXT,
		review_status TEXT NOT NULL DEFAULT 'pending',
		notes TEXT,
		ai_summary TEXT,
		ai_summary_status TEXT,
		ai_summary_generated_at DATETIME,
		order_index INTEGER,
		UNIQUE(session_id, object_id)
	);
	CREATE INDEX IF NOT EXISTS idx_changes_session ON changes(session_id);
	CREATE INDEX IF NOT EXISTS idx_changes_status ON changes(session_id, review_status);
	`

	tables := []string{sessionTable, packageTable, objectTable, versionTable,
		vendorDeltaTable, customerDeltaTable, changeTable}
	for _, table := range tables {
		if _, err := s.db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	return s.initDetailTables()
}

// detailTableFor maps each non-Unknown object type to its satellite detail
// table holding the structured payload for on-demand rendering.
var detailTableFor = map[types.ObjectType]string{
	types.TypeInterface:       "interface_details",
	types.TypeExpressionRule:  "expression_rule_details",
	types.TypeProcessModel:    "process_model_details",
	types.TypeRecordType:      "record_type_details",
	types.TypeCDT:             "cdt_details",
	types.TypeConstant:        "constant_details",
	types.TypeSite:            "site_details",
	types.TypeGroup:           "group_details",
	types.TypeIntegration:     "integration_details",
	types.TypeWebAPI:          "web_api_details",
	types.TypeConnectedSystem: "connected_system_details",
	types.TypeDataStore:       "data_store_details",
}

// initDetailTables creates the twelve per-type satellite tables. Each keys
// on the object version and stores the structured payload as JSON.
func (s *Store) initDetailTables() error {
	for _, table := range detailTableFor {
		ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			object_version_id INTEGER PRIMARY KEY REFERENCES object_versions(id) ON DELETE CASCADE,
			payload_json TEXT NOT NULL
		);`, table)
		if _, err := s.db.Exec(ddl); err != nil {
			return fmt.Errorf("failed to create detail table %s: %w", table, err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

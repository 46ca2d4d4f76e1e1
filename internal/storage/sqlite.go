// Package storage keeps a SQLite history of analysis cycles.
package storage

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Storage handles database operations
type Storage struct {
	db *sql.DB
}

// Record is the persisted outcome of one backend cycle.
type Record struct {
	ID              int64     `yaml:"id"`
	RunID           string    `yaml:"run_id"`
	Timestamp       time.Time `yaml:"timestamp"`
	Hostname        string    `yaml:"hostname"`
	Backend         string    `yaml:"backend"`
	Window          string    `yaml:"window"`
	State           string    `yaml:"state"`
	Outcome         string    `yaml:"outcome,omitempty"`
	Content         string    `yaml:"content,omitempty"`
	Error           string    `yaml:"error,omitempty"`
	InputTokens     int       `yaml:"input_tokens"`
	OutputTokens    int       `yaml:"output_tokens"`
	CostUSD         float64   `yaml:"cost_usd"`
	DurationSeconds float64   `yaml:"duration_seconds"`
}

// Database configuration constants
const (
	// busyTimeoutMs is how long SQLite waits when database is locked (5 seconds)
	busyTimeoutMs = 5000
	// maxOpenConns limits concurrent connections (SQLite works best with 1)
	maxOpenConns = 1
	// maxIdleConns is the number of idle connections to keep
	maxIdleConns = 1
	// connMaxLifetime is how long a connection can be reused
	connMaxLifetime = 30 * time.Minute
)

// New creates a new storage instance
func New(dbPath string) (*Storage, error) {
	// 0700: the history holds report bodies
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_busy_timeout=%d", dbPath, busyTimeoutMs)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	storage := &Storage{db: db}

	if err := storage.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return storage, nil
}

// currentSchemaVersion is the latest schema version.
// Increment this when adding new migrations.
const currentSchemaVersion = 2

// initSchema creates the database schema if it doesn't exist
func (s *Storage) initSchema() error {
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY
		)
	`); err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}

	if err := s.migrateSchema(s.getSchemaVersion()); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}

	return nil
}

// getSchemaVersion returns the current schema version (0 if not set)
func (s *Storage) getSchemaVersion() int {
	var version int
	err := s.db.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	if err != nil {
		return 0
	}
	return version
}

func (s *Storage) setSchemaVersion(version int) error {
	if _, err := s.db.Exec(`DELETE FROM schema_version`); err != nil {
		return err
	}
	if _, err := s.db.Exec(`INSERT INTO schema_version (version) VALUES (?)`, version); err != nil {
		return err
	}
	return nil
}

// migrateSchema runs migrations from currentVersion to latest
func (s *Storage) migrateSchema(currentVersion int) error {
	if currentVersion >= currentSchemaVersion {
		return nil
	}

	log.Printf("storage: migrating schema from version %d to %d", currentVersion, currentSchemaVersion)

	if currentVersion < 1 {
		if err := s.migrateV1(); err != nil {
			return fmt.Errorf("migration v1 failed: %w", err)
		}
	}

	if currentVersion < 2 {
		if err := s.migrateV2(); err != nil {
			return fmt.Errorf("migration v2 failed: %w", err)
		}
	}

	if err := s.setSchemaVersion(currentSchemaVersion); err != nil {
		return fmt.Errorf("failed to update schema version: %w", err)
	}

	log.Printf("storage: schema migration completed successfully (now at version %d)", currentSchemaVersion)
	return nil
}

// migrateV1 creates the reports table
func (s *Storage) migrateV1() error {
	schema := `
	CREATE TABLE IF NOT EXISTS reports (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		backend TEXT NOT NULL,
		time_window TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL,
		outcome TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		input_tokens INTEGER DEFAULT 0,
		output_tokens INTEGER DEFAULT 0,
		cost_usd REAL DEFAULT 0.0,
		duration_seconds REAL DEFAULT 0.0
	);

	CREATE INDEX IF NOT EXISTS idx_reports_timestamp ON reports(timestamp);
	CREATE INDEX IF NOT EXISTS idx_reports_run ON reports(run_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// migrateV2 adds the hostname column so a shared database can tell hosts apart.
func (s *Storage) migrateV2() error {
	hasHostname, err := s.hasColumn("reports", "hostname")
	if err != nil {
		return err
	}

	if !hasHostname {
		if _, err := s.db.Exec(`ALTER TABLE reports ADD COLUMN hostname TEXT NOT NULL DEFAULT ''`); err != nil {
			return fmt.Errorf("failed to add hostname column: %w", err)
		}
	}

	if _, err := s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_reports_host_backend ON reports(hostname, backend)`); err != nil {
		return fmt.Errorf("failed to create host_backend index: %w", err)
	}

	return nil
}

func (s *Storage) hasColumn(table, column string) (bool, error) {
	rows, err := s.db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		return false, fmt.Errorf("failed to get table info: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var cid int
		var name, colType string
		var notNull, pk int
		var dfltValue interface{}
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return false, fmt.Errorf("failed to scan column info: %w", err)
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// SaveRecord inserts rec and sets its ID.
func (s *Storage) SaveRecord(rec *Record) error {
	if rec.RunID == "" {
		return fmt.Errorf("record run ID is required")
	}
	if rec.Backend == "" {
		return fmt.Errorf("record backend is required")
	}

	query := `
		INSERT INTO reports (
			run_id, timestamp, hostname, backend, time_window, state, outcome,
			content, error, input_tokens, output_tokens, cost_usd, duration_seconds
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.Exec(
		query,
		rec.RunID,
		rec.Timestamp.UTC().Format(time.RFC3339),
		rec.Hostname,
		rec.Backend,
		rec.Window,
		rec.State,
		rec.Outcome,
		rec.Content,
		rec.Error,
		rec.InputTokens,
		rec.OutputTokens,
		rec.CostUSD,
		rec.DurationSeconds,
	)
	if err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	rec.ID = id
	return nil
}

const selectRecord = `
	SELECT id, run_id, timestamp, hostname, backend, time_window, state, outcome,
	       content, error, input_tokens, output_tokens, cost_usd, duration_seconds
	FROM reports
`

// GetRecent returns the newest limit records, newest first.
func (s *Storage) GetRecent(limit int) ([]*Record, error) {
	if limit <= 0 {
		return nil, nil
	}
	return s.queryRecords(selectRecord+` ORDER BY timestamp DESC, id DESC LIMIT ?`, limit)
}

// GetRun returns every record written by one run, in insertion order.
func (s *Storage) GetRun(runID string) ([]*Record, error) {
	return s.queryRecords(selectRecord+` WHERE run_id = ? ORDER BY id`, runID)
}

func (s *Storage) queryRecords(query string, args ...interface{}) ([]*Record, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer func(rows *sql.Rows) {
		err = rows.Close()
		if err != nil {
			log.Printf("storage: failed to close database rows: %v", err)
		}
	}(rows)

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// CleanupOldRecords deletes records older than N days
func (s *Storage) CleanupOldRecords(days int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days).Format(time.RFC3339)

	result, err := s.db.Exec(`DELETE FROM reports WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup old records: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return affected, nil
}

// GetStatistics returns record count, state distribution and total cost.
func (s *Storage) GetStatistics() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var total int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM reports`).Scan(&total); err != nil {
		return nil, err
	}
	stats["total_records"] = total

	rows, err := s.db.Query(`SELECT state, COUNT(*) FROM reports GROUP BY state`)
	if err != nil {
		return nil, err
	}
	defer func(rows *sql.Rows) {
		err = rows.Close()
		if err != nil {
			log.Printf("storage: failed to close database rows: %v", err)
		}
	}(rows)

	stateDist := make(map[string]int)
	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, err
		}
		stateDist[state] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	stats["state_distribution"] = stateDist

	var totalCost float64
	if err := s.db.QueryRow(`SELECT COALESCE(SUM(cost_usd), 0) FROM reports`).Scan(&totalCost); err != nil {
		return nil, err
	}
	stats["total_cost_usd"] = totalCost

	return stats, nil
}

func scanRecord(rows *sql.Rows) (*Record, error) {
	var (
		rec       Record
		timestamp string
	)

	err := rows.Scan(
		&rec.ID, &rec.RunID, &timestamp, &rec.Hostname, &rec.Backend, &rec.Window,
		&rec.State, &rec.Outcome, &rec.Content, &rec.Error,
		&rec.InputTokens, &rec.OutputTokens, &rec.CostUSD, &rec.DurationSeconds,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan row: %w", err)
	}

	rec.Timestamp, err = time.Parse(time.RFC3339, timestamp)
	if err != nil {
		return nil, fmt.Errorf("failed to parse timestamp: %w", err)
	}

	return &rec, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

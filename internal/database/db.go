package database

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the sql.DB connection with pooling tuned for the matching
// engine's read-heavy workload.
type DB struct {
	*sql.DB
}

// NewDB creates a new database connection with optimized pooling
func NewDB(dataDir string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "venire.db")

	connStr := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", dbPath)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	database := &DB{DB: db}

	if err := database.migrate(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	slog.Info("Database initialized", "path", dbPath)

	return database, nil
}

// migrate creates the necessary tables
func (db *DB) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS signals (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			category TEXT NOT NULL,
			kind INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS personas (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL,
			characteristic_phrases TEXT, -- JSON array
			attributes TEXT, -- JSON object
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS persona_signal_weights (
			persona_id TEXT NOT NULL,
			signal_id TEXT NOT NULL,
			weight REAL NOT NULL CHECK (weight >= 0 AND weight <= 1),
			direction TEXT NOT NULL CHECK (direction IN ('POSITIVE', 'NEGATIVE')),
			PRIMARY KEY (persona_id, signal_id),
			FOREIGN KEY (persona_id) REFERENCES personas(id),
			FOREIGN KEY (signal_id) REFERENCES signals(id)
		)`,

		`CREATE TABLE IF NOT EXISTS jurors (
			id TEXT PRIMARY KEY,
			case_id TEXT NOT NULL,
			name TEXT,
			case_type TEXT,
			age_range TEXT,
			occupation TEXT,
			education TEXT,
			location TEXT,
			marital_status TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS juror_signals (
			juror_id TEXT NOT NULL,
			signal_id TEXT NOT NULL,
			value_kind INTEGER NOT NULL,
			value_bool BOOLEAN,
			value_number REAL,
			value_string TEXT,
			source TEXT,
			observed_at DATETIME NOT NULL,
			PRIMARY KEY (juror_id, signal_id),
			FOREIGN KEY (juror_id) REFERENCES jurors(id),
			FOREIGN KEY (signal_id) REFERENCES signals(id)
		)`,

		`CREATE TABLE IF NOT EXISTS research_artifacts (
			id TEXT PRIMARY KEY,
			juror_id TEXT NOT NULL,
			summary TEXT NOT NULL,
			source TEXT,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (juror_id) REFERENCES jurors(id)
		)`,

		`CREATE TABLE IF NOT EXISTS voir_dire_entries (
			id TEXT PRIMARY KEY,
			juror_id TEXT NOT NULL,
			question TEXT NOT NULL,
			answer TEXT,
			asked_at DATETIME NOT NULL,
			FOREIGN KEY (juror_id) REFERENCES jurors(id)
		)`,

		`CREATE TABLE IF NOT EXISTS juror_persona_mappings (
			id TEXT PRIMARY KEY,
			juror_id TEXT NOT NULL,
			persona_id TEXT NOT NULL,
			confidence REAL NOT NULL,
			rank INTEGER NOT NULL,
			rationale TEXT,
			counterfactual TEXT,
			confirmed BOOLEAN NOT NULL DEFAULT FALSE,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			UNIQUE(juror_id, persona_id),
			FOREIGN KEY (juror_id) REFERENCES jurors(id),
			FOREIGN KEY (persona_id) REFERENCES personas(id)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_juror_signals_juror ON juror_signals(juror_id)`,
		`CREATE INDEX IF NOT EXISTS idx_weights_persona ON persona_signal_weights(persona_id)`,
		`CREATE INDEX IF NOT EXISTS idx_weights_signal ON persona_signal_weights(signal_id)`,
		`CREATE INDEX IF NOT EXISTS idx_artifacts_juror ON research_artifacts(juror_id)`,
		`CREATE INDEX IF NOT EXISTS idx_voir_dire_juror ON voir_dire_entries(juror_id)`,
		`CREATE INDEX IF NOT EXISTS idx_mappings_juror ON juror_persona_mappings(juror_id)`,
		`CREATE INDEX IF NOT EXISTS idx_jurors_case ON jurors(case_id)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DB wraps the database connection and provides initialization
type DB struct {
	*sql.DB
}

// NewDB creates and initializes a new database connection
func NewDB(dbPath string) (*DB, error) {
	// Ensure the directory exists
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_time_format=sqlite"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Ingestion and health workers write concurrently; sqlite serializes writers
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(5)

	db := &DB{DB: sqlDB}

	if err := db.initSchema(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// initSchema creates the database tables and indexes
func (db *DB) initSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS proxy_ips (
    unique_id TEXT NOT NULL,
    ip TEXT NOT NULL,
    port INTEGER NOT NULL,
    protocol TEXT NOT NULL,
    anonymity INTEGER NOT NULL CHECK (anonymity IN (1, 2)),

    -- Location, filled asynchronously
    country TEXT NOT NULL DEFAULT '',
    region TEXT NOT NULL DEFAULT '',
    city TEXT NOT NULL DEFAULT '',
    isp TEXT NOT NULL DEFAULT '',
    source TEXT NOT NULL DEFAULT '',

    -- Health tracking
    speed INTEGER NOT NULL DEFAULT 0,
    validated_at DATETIME NOT NULL,
    success_count INTEGER NOT NULL DEFAULT 1,
    failed_count INTEGER NOT NULL DEFAULT 0,
    success_ratio REAL NOT NULL DEFAULT 0,

    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL,

    PRIMARY KEY (ip, port, protocol)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_proxy_ips_unique_id ON proxy_ips(unique_id);
CREATE INDEX IF NOT EXISTS idx_proxy_ips_ip ON proxy_ips(ip);
CREATE INDEX IF NOT EXISTS idx_proxy_ips_validated_at ON proxy_ips(validated_at, unique_id);

-- Ingestion attempt counters keyed by protocol://ip:port
CREATE TABLE IF NOT EXISTS ingest_attempts (
    cache_key TEXT PRIMARY KEY,
    attempts INTEGER NOT NULL DEFAULT 0,
    updated_at DATETIME NOT NULL
);`

	_, err := db.Exec(schema)
	return err
}

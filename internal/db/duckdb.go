// Package db opens the DuckDB connection export queries run on.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/marcboeker/go-duckdb"
	"go.uber.org/zap"
)

// DefaultExtensions are loaded when Config.Extensions is nil. httpfs lets
// read_parquet reach the s3:// release bucket.
var DefaultExtensions = []string{"httpfs", "parquet"}

// Config holds database configuration.
type Config struct {
	// DataDir holds the database file; empty opens an in-memory database.
	DataDir string
	DBName  string
	// Extensions to install and load. An empty non-nil slice loads none.
	Extensions []string
	Log        *zap.Logger
}

// Open returns a DuckDB connection with the configured extensions loaded.
func Open(cfg Config) (*sql.DB, error) {
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	dsn := ""
	if cfg.DataDir != "" {
		dir := filepath.Join(cfg.DataDir, "duckdb")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create duckdb directory: %w", err)
		}
		name := cfg.DBName
		if name == "" {
			name = "explore"
		}
		dsn = filepath.Join(dir, name+".duckdb")
	}
	conn, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	exts := cfg.Extensions
	if exts == nil {
		exts = DefaultExtensions
	}
	for _, ext := range exts {
		// may already be installed, or offline; queries needing it will fail loudly
		if _, err := conn.Exec(fmt.Sprintf("INSTALL %s; LOAD %s;", ext, ext)); err != nil {
			log.Warn("duckdb extension unavailable", zap.String("extension", ext), zap.Error(err))
		}
	}
	return conn, nil
}

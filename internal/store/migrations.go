package store

import (
	"database/sql"
	"fmt"
	"time"
)

const schemaVersion = "1"

// migrate creates all tables if they don't exist and seeds metadata.
func (s *SQLiteStore) migrate() error {
	done, err := s.isMetaFlagEnabled("schema_bootstrap_complete")
	if err != nil {
		return fmt.Errorf("checking bootstrap state: %w", err)
	}
	if done {
		return nil
	}
	if err := s.runBootstrapDDL(); err != nil {
		return err
	}
	if err := s.seedMeta(); err != nil {
		return fmt.Errorf("seeding metadata: %w", err)
	}
	if err := s.setMetaFlag("schema_bootstrap_complete"); err != nil {
		return fmt.Errorf("marking bootstrap complete: %w", err)
	}
	return nil
}

func (s *SQLiteStore) runBootstrapDDL() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS runs (
			id              TEXT PRIMARY KEY,
			created_at      TEXT NOT NULL,
			inputs          TEXT NOT NULL DEFAULT '[]',
			params          TEXT NOT NULL DEFAULT '{}',
			nodes           INTEGER NOT NULL DEFAULT 0,
			edges           INTEGER NOT NULL DEFAULT 0,
			content_items   INTEGER NOT NULL DEFAULT 0,
			clusters        INTEGER NOT NULL DEFAULT 0,
			clustered_pages INTEGER NOT NULL DEFAULT 0
		)`,

		// pmi_with_seed is NULL when the page never co-occurs with its seed
		`CREATE TABLE IF NOT EXISTS cluster_members (
			run_id                  TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			position                INTEGER NOT NULL,
			cluster_id              INTEGER NOT NULL,
			cluster_seed            TEXT NOT NULL,
			cluster_size            INTEGER NOT NULL,
			cluster_score           REAL NOT NULL,
			nameid                  TEXT NOT NULL,
			title                   TEXT NOT NULL DEFAULT '',
			followers               INTEGER NOT NULL DEFAULT 0,
			total_interactions      INTEGER NOT NULL DEFAULT 0,
			num_posts               INTEGER NOT NULL DEFAULT 0,
			coverage_within_cluster REAL NOT NULL,
			pmi_with_seed           REAL,
			npmi_with_seed          REAL NOT NULL,
			dnpmi_with_seed         REAL NOT NULL,
			dnpmi_cov               REAL NOT NULL,
			country                 TEXT NOT NULL DEFAULT '',
			name                    TEXT NOT NULL DEFAULT '',
			url                     TEXT NOT NULL DEFAULT '',
			cluster_lang            TEXT NOT NULL DEFAULT '',
			page_lang               TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (run_id, nameid)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_cluster_members_cluster ON cluster_members(run_id, cluster_id)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at)`,
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning bootstrap: %w", err)
	}
	defer tx.Rollback()
	for _, stmt := range statements {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("executing migration: %w\nSQL: %s", err, stmt)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) isMetaFlagEnabled(key string) (bool, error) {
	var exists int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='meta'`).Scan(&exists); err != nil {
		return false, err
	}
	if exists == 0 {
		return false, nil
	}

	var value string
	err := s.db.QueryRow("SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	return value == "true", nil
}

func (s *SQLiteStore) setMetaFlag(key string) error {
	_, err := s.db.Exec("INSERT OR REPLACE INTO meta (key, value) VALUES (?, 'true')", key)
	return err
}

func (s *SQLiteStore) seedMeta() error {
	defaults := map[string]string{
		"schema_version": schemaVersion,
		"created_at":     time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range defaults {
		if _, err := s.db.Exec("INSERT OR IGNORE INTO meta (key, value) VALUES (?, ?)", k, v); err != nil {
			return fmt.Errorf("seeding meta key %q: %w", k, err)
		}
	}
	return nil
}

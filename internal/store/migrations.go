package store

import (
	"fmt"
)

// Migration represents a database schema migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// migrations is the ordered list of all migrations
// New migrations should be appended to the end with incrementing version numbers
var migrations = []Migration{
	{
		Version:     1,
		Description: "Users and sessions",
		SQL: `
		CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username TEXT UNIQUE NOT NULL,
			display_name TEXT NOT NULL DEFAULT '',
			password_hash TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS sessions (
			token TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id),
			expires_at DATETIME NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);
		CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at);
		`,
	},
	{
		Version:     2,
		Description: "Question bank",
		SQL: `
		CREATE TABLE IF NOT EXISTS questions (
			id TEXT PRIMARY KEY,
			prompt TEXT UNIQUE NOT NULL,
			answer REAL NOT NULL,
			unit TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL DEFAULT '',
			year INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		`,
	},
	{
		Version:     3,
		Description: "Games, rounds, quotes, trades",
		SQL: `
		CREATE TABLE IF NOT EXISTS games (
			id TEXT PRIMARY KEY,
			join_code TEXT UNIQUE NOT NULL,
			status TEXT NOT NULL DEFAULT 'LOBBY',
			maker_user_id TEXT NOT NULL REFERENCES users(id),
			taker_user_id TEXT NOT NULL DEFAULT '',
			current_round_index INTEGER NOT NULL DEFAULT 0,
			winner_user_id TEXT NOT NULL DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			started_at DATETIME,
			finished_at DATETIME
		);

		CREATE TABLE IF NOT EXISTS rounds (
			id TEXT PRIMARY KEY,
			game_id TEXT NOT NULL REFERENCES games(id),
			round_index INTEGER NOT NULL,
			status TEXT NOT NULL DEFAULT 'PENDING',
			question_id TEXT NOT NULL REFERENCES questions(id),
			current_turn_index INTEGER NOT NULL DEFAULT 0,
			maker_pnl REAL NOT NULL DEFAULT 0,
			taker_pnl REAL NOT NULL DEFAULT 0,
			started_at DATETIME,
			ended_at DATETIME,
			UNIQUE(game_id, round_index)
		);

		CREATE TABLE IF NOT EXISTS quotes (
			id TEXT PRIMARY KEY,
			round_id TEXT NOT NULL REFERENCES rounds(id),
			turn_index INTEGER NOT NULL,
			maker_user_id TEXT NOT NULL REFERENCES users(id),
			bid REAL NOT NULL,
			ask REAL NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(round_id, turn_index)
		);

		CREATE TABLE IF NOT EXISTS trades (
			id TEXT PRIMARY KEY,
			round_id TEXT NOT NULL REFERENCES rounds(id),
			game_id TEXT NOT NULL REFERENCES games(id),
			turn_index INTEGER NOT NULL,
			taker_user_id TEXT NOT NULL REFERENCES users(id),
			side TEXT NOT NULL,
			price REAL NOT NULL,
			quantity INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(round_id, turn_index)
		);

		CREATE INDEX IF NOT EXISTS idx_rounds_game ON rounds(game_id);
		CREATE INDEX IF NOT EXISTS idx_quotes_round ON quotes(round_id);
		CREATE INDEX IF NOT EXISTS idx_trades_round ON trades(round_id);
		CREATE INDEX IF NOT EXISTS idx_trades_game ON trades(game_id);
		`,
	},
}

// initMigrationsTable creates the migrations tracking table
func (s *Store) initMigrationsTable() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

// getCurrentVersion returns the highest applied migration version
func (s *Store) getCurrentVersion() (int, error) {
	var version int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	return version, err
}

// Migrate runs all pending migrations
func (s *Store) Migrate() error {
	if err := s.initMigrationsTable(); err != nil {
		return fmt.Errorf("failed to init migrations table: %w", err)
	}

	currentVersion, err := s.getCurrentVersion()
	if err != nil {
		return fmt.Errorf("failed to get current version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}

		if err := s.applyMigration(m); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", m.Version, m.Description, err)
		}
	}

	return nil
}

// applyMigration runs a single migration in a transaction
func (s *Store) applyMigration(m Migration) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.SQL); err != nil {
		return err
	}

	if _, err := tx.Exec(
		"INSERT INTO schema_migrations (version, description) VALUES (?, ?)",
		m.Version, m.Description,
	); err != nil {
		return err
	}

	return tx.Commit()
}

// MigrationStatus returns applied and pending migrations
func (s *Store) MigrationStatus() (applied []int, pending []int, err error) {
	if err := s.initMigrationsTable(); err != nil {
		return nil, nil, err
	}

	rows, err := s.db.Query("SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	appliedSet := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, nil, err
		}
		applied = append(applied, v)
		appliedSet[v] = true
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	for _, m := range migrations {
		if !appliedSet[m.Version] {
			pending = append(pending, m.Version)
		}
	}

	return applied, pending, nil
}

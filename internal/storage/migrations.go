package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/theorem-bounty-sync/pkg/utils"
)

// Migration represents a database migration
type Migration struct {
	ID          int       `db:"id"`
	Version     string    `db:"version"`
	Description string    `db:"description"`
	SQL         string    `db:"sql"`
	AppliedAt   time.Time `db:"applied_at"`
	Checksum    string    `db:"checksum"`
}

// ComputeChecksum returns the keccak256 hex digest of the migration SQL
func (m *Migration) ComputeChecksum() string {
	return crypto.Keccak256Hash([]byte(m.SQL)).Hex()
}

// GetSQLiteMigrations returns SQLite migration scripts
func GetSQLiteMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create bounties table",
			SQL: `
				CREATE TABLE IF NOT EXISTS bounties (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					theorem TEXT NOT NULL,
					amount TEXT NOT NULL DEFAULT '0',
					status TEXT NOT NULL DEFAULT 'open' CHECK (status IN ('open', 'closed')),
					proof TEXT,
					created_at DATETIME NOT NULL,
					updated_at DATETIME NOT NULL
				);

				CREATE UNIQUE INDEX IF NOT EXISTS idx_bounties_theorem ON bounties(theorem);
				CREATE INDEX IF NOT EXISTS idx_bounties_status ON bounties(status);
			`,
		},
		{
			Version:     "002",
			Description: "Create sync_runs table",
			SQL: `
				CREATE TABLE IF NOT EXISTS sync_runs (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					from_block INTEGER NOT NULL,
					head_block INTEGER NOT NULL,
					verified_through INTEGER,
					open_count INTEGER NOT NULL DEFAULT 0,
					closed_count INTEGER NOT NULL DEFAULT 0,
					inserted INTEGER NOT NULL DEFAULT 0,
					updated INTEGER NOT NULL DEFAULT 0,
					unchanged INTEGER NOT NULL DEFAULT 0,
					skipped_chunks INTEGER NOT NULL DEFAULT 0,
					dropped_events INTEGER NOT NULL DEFAULT 0,
					started_at DATETIME NOT NULL,
					completed_at DATETIME NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_sync_runs_completed_at ON sync_runs(completed_at);
			`,
		},
	}
}

// GetPostgresMigrations returns PostgreSQL migration scripts
func GetPostgresMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create bounties table",
			SQL: `
				CREATE TABLE IF NOT EXISTS bounties (
					id BIGSERIAL PRIMARY KEY,
					theorem TEXT NOT NULL,
					amount NUMERIC(78, 18) NOT NULL DEFAULT 0,
					status VARCHAR(20) NOT NULL DEFAULT 'open' CHECK (status IN ('open', 'closed')),
					proof TEXT,
					created_at TIMESTAMP WITH TIME ZONE NOT NULL,
					updated_at TIMESTAMP WITH TIME ZONE NOT NULL
				);

				CREATE UNIQUE INDEX IF NOT EXISTS idx_bounties_theorem ON bounties(theorem);
				CREATE INDEX IF NOT EXISTS idx_bounties_status ON bounties(status);
			`,
		},
		{
			Version:     "002",
			Description: "Create sync_runs table",
			SQL: `
				CREATE TABLE IF NOT EXISTS sync_runs (
					id BIGSERIAL PRIMARY KEY,
					from_block BIGINT NOT NULL,
					head_block BIGINT NOT NULL,
					verified_through BIGINT,
					open_count INTEGER NOT NULL DEFAULT 0,
					closed_count INTEGER NOT NULL DEFAULT 0,
					inserted INTEGER NOT NULL DEFAULT 0,
					updated INTEGER NOT NULL DEFAULT 0,
					unchanged INTEGER NOT NULL DEFAULT 0,
					skipped_chunks INTEGER NOT NULL DEFAULT 0,
					dropped_events INTEGER NOT NULL DEFAULT 0,
					started_at TIMESTAMP WITH TIME ZONE NOT NULL,
					completed_at TIMESTAMP WITH TIME ZONE NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_sync_runs_completed_at ON sync_runs(completed_at);
			`,
		},
	}
}

const createMigrationsTableSQL = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		description TEXT NOT NULL,
		checksum TEXT NOT NULL,
		applied_at TIMESTAMP NOT NULL
	)
`

// applyMigrations applies pending migrations in order, each in its own
// transaction. An applied migration whose SQL has since changed is an error.
func (s *sqlStore) applyMigrations(ctx context.Context, migrations []*Migration) error {
	if err := s.connected(); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, createMigrationsTableSQL); err != nil {
		return utils.WrapError(utils.ErrCodeDatabase, "Failed to create migrations table", err)
	}

	applied, err := s.appliedMigrations(ctx)
	if err != nil {
		return err
	}

	s.logger.Info("Starting database migrations")

	for _, migration := range migrations {
		checksum := migration.ComputeChecksum()
		log := s.logger.WithFields(logrus.Fields{
			"version":     migration.Version,
			"description": migration.Description,
		})

		if existing, ok := applied[migration.Version]; ok {
			if existing != checksum {
				return utils.NewAppError(utils.ErrCodeDatabase,
					fmt.Sprintf("Migration %s was modified after being applied", migration.Version),
					fmt.Sprintf("expected %s, found %s", checksum, existing))
			}
			log.Debug("Migration already applied")
			continue
		}

		log.Info("Applying migration")
		if err := s.applyMigration(ctx, migration, checksum); err != nil {
			return err
		}
	}

	s.logger.Info("Database migrations completed")
	return nil
}

func (s *sqlStore) appliedMigrations(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT version, checksum FROM schema_migrations`)
	if err != nil {
		return nil, utils.WrapError(utils.ErrCodeDatabase, "Failed to read applied migrations", err)
	}
	defer rows.Close()

	applied := make(map[string]string)
	for rows.Next() {
		var version, checksum string
		if err := rows.Scan(&version, &checksum); err != nil {
			return nil, utils.WrapError(utils.ErrCodeDatabase, "Failed to scan migration", err)
		}
		applied[version] = checksum
	}
	return applied, rows.Err()
}

func (s *sqlStore) applyMigration(ctx context.Context, migration *Migration, checksum string) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return utils.WrapError(utils.ErrCodeDatabase, "Failed to begin migration", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
		return utils.WrapError(utils.ErrCodeDatabase,
			fmt.Sprintf("Migration %s failed", migration.Version), err)
	}

	if _, err := tx.ExecContext(ctx,
		s.rebind(`INSERT INTO schema_migrations (version, description, checksum, applied_at) VALUES (?, ?, ?, ?)`),
		migration.Version, migration.Description, checksum, time.Now().UTC()); err != nil {
		return utils.WrapError(utils.ErrCodeDatabase,
			fmt.Sprintf("Failed to record migration %s", migration.Version), err)
	}

	if err := tx.Commit(); err != nil {
		return utils.WrapError(utils.ErrCodeDatabase,
			fmt.Sprintf("Failed to commit migration %s", migration.Version), err)
	}
	return nil
}

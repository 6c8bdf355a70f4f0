package storage

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/theorem-bounty-sync/internal/metrics"
	"github.com/smartdevs17/theorem-bounty-sync/internal/models"
	"github.com/smartdevs17/theorem-bounty-sync/pkg/utils"
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

const (
	tableBounties = "bounties"
	tableSyncRuns = "sync_runs"
)

const bountyColumns = `id, theorem, amount, status, proof, created_at, updated_at`

const upsertBountySQL = `
	INSERT INTO bounties (theorem, amount, status, proof, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT (theorem) DO UPDATE SET
		amount = excluded.amount,
		status = excluded.status,
		proof = excluded.proof,
		updated_at = excluded.updated_at
`

const insertSyncRunSQL = `
	INSERT INTO sync_runs
	(from_block, head_block, verified_through, open_count, closed_count,
	 inserted, updated, unchanged, skipped_chunks, dropped_events, started_at, completed_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

const syncRunColumns = `id, from_block, head_block, verified_through, open_count, closed_count,
	inserted, updated, unchanged, skipped_chunks, dropped_events, started_at, completed_at`

// queryer is satisfied by both *sql.DB and *sql.Tx
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// sqlStore holds the queries shared by the SQLite and PostgreSQL backends
type sqlStore struct {
	db             *sql.DB
	dialect        dialect
	logger         *logrus.Logger
	metricsManager *metrics.Manager
}

// rebind rewrites ? placeholders to $n for PostgreSQL
func (s *sqlStore) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) observe(operation, table string, start time.Time, err error) {
	if s.metricsManager == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	s.metricsManager.GetPrometheusMetrics().RecordDatabaseOperation(operation, table, status, time.Since(start))
}

func (s *sqlStore) connected() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}
	return nil
}

// Ping checks database connectivity
func (s *sqlStore) Ping() error {
	if err := s.connected(); err != nil {
		return err
	}
	return s.db.Ping()
}

// Close closes the database connection
func (s *sqlStore) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		s.logger.Info("Database connection closed")
		return err
	}
	return nil
}

// GetBounties returns bounties ordered by theorem
func (s *sqlStore) GetBounties(ctx context.Context, filter BountyFilter) ([]models.BountyRecord, error) {
	if err := s.connected(); err != nil {
		return nil, err
	}
	return s.findBounties(ctx, s.db, filter)
}

// GetBounty returns the bounty for one theorem
func (s *sqlStore) GetBounty(ctx context.Context, theorem string) (*models.BountyRecord, error) {
	if err := s.connected(); err != nil {
		return nil, err
	}

	start := time.Now()
	row := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT `+bountyColumns+` FROM bounties WHERE theorem = ?`), theorem)

	record, err := scanBounty(row)
	s.observe("select", tableBounties, start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, utils.NewAppError(utils.ErrCodeNotFound, "Bounty not found", theorem)
	}
	if err != nil {
		return nil, utils.WrapError(utils.ErrCodeDatabase, "Failed to get bounty", err)
	}
	return record, nil
}

// GetLatestSyncRun returns the most recent committed run, or nil if none
func (s *sqlStore) GetLatestSyncRun(ctx context.Context) (*models.SyncRun, error) {
	if err := s.connected(); err != nil {
		return nil, err
	}

	start := time.Now()
	row := s.db.QueryRowContext(ctx,
		`SELECT `+syncRunColumns+` FROM sync_runs ORDER BY id DESC LIMIT 1`)

	run, err := scanSyncRun(row)
	s.observe("select", tableSyncRuns, start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, utils.WrapError(utils.ErrCodeDatabase, "Failed to get latest sync run", err)
	}
	return run, nil
}

// GetStorageStats returns bounty and run counts
func (s *sqlStore) GetStorageStats(ctx context.Context) (*StorageStats, error) {
	if err := s.connected(); err != nil {
		return nil, err
	}

	stats := &StorageStats{}
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM bounties GROUP BY status`)
	if err != nil {
		return nil, utils.WrapError(utils.ErrCodeDatabase, "Failed to count bounties", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, utils.WrapError(utils.ErrCodeDatabase, "Failed to scan bounty count", err)
		}
		stats.TotalBounties += count
		switch models.BountyStatus(status) {
		case models.BountyStatusOpen:
			stats.OpenBounties = count
		case models.BountyStatusClosed:
			stats.ClosedBounties = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, utils.WrapError(utils.ErrCodeDatabase, "Failed to count bounties", err)
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_runs`).Scan(&stats.TotalSyncRuns); err != nil {
		return nil, utils.WrapError(utils.ErrCodeDatabase, "Failed to count sync runs", err)
	}

	latest, err := s.GetLatestSyncRun(ctx)
	if err != nil {
		return nil, err
	}
	if latest != nil {
		completed := latest.CompletedAt
		stats.LastSyncAt = &completed
	}

	return stats, nil
}

// BeginTx starts a reconciliation transaction
func (s *sqlStore) BeginTx(ctx context.Context) (Tx, error) {
	if err := s.connected(); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, utils.WrapError(utils.ErrCodeDatabase, "Failed to begin transaction", err)
	}
	return &sqlTx{tx: tx, store: s}, nil
}

func (s *sqlStore) findBounties(ctx context.Context, q queryer, filter BountyFilter) ([]models.BountyRecord, error) {
	start := time.Now()

	query := `SELECT ` + bountyColumns + ` FROM bounties`
	var args []interface{}
	if filter.Status != nil {
		query += ` WHERE status = ?`
		args = append(args, string(*filter.Status))
	}
	query += ` ORDER BY theorem`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, filter.Offset)
		}
	}

	rows, err := q.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		s.observe("select", tableBounties, start, err)
		return nil, utils.WrapError(utils.ErrCodeDatabase, "Failed to query bounties", err)
	}
	defer rows.Close()

	var records []models.BountyRecord
	for rows.Next() {
		record, err := scanBounty(rows)
		if err != nil {
			s.observe("select", tableBounties, start, err)
			return nil, utils.WrapError(utils.ErrCodeDatabase, "Failed to scan bounty", err)
		}
		records = append(records, *record)
	}

	err = rows.Err()
	s.observe("select", tableBounties, start, err)
	if err != nil {
		return nil, utils.WrapError(utils.ErrCodeDatabase, "Failed to iterate bounties", err)
	}
	return records, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBounty(row rowScanner) (*models.BountyRecord, error) {
	var (
		record models.BountyRecord
		status string
		proof  sql.NullString
	)
	if err := row.Scan(&record.ID, &record.Theorem, &record.Amount, &status, &proof,
		&record.CreatedAt, &record.UpdatedAt); err != nil {
		return nil, err
	}

	record.Status = models.BountyStatus(status)
	if proof.Valid {
		p := proof.String
		record.Proof = &p
	}
	record.CreatedAt = record.CreatedAt.UTC()
	record.UpdatedAt = record.UpdatedAt.UTC()
	return &record, nil
}

func scanSyncRun(row rowScanner) (*models.SyncRun, error) {
	var (
		run             models.SyncRun
		fromBlock       int64
		headBlock       int64
		verifiedThrough sql.NullInt64
	)
	if err := row.Scan(&run.ID, &fromBlock, &headBlock, &verifiedThrough,
		&run.OpenCount, &run.ClosedCount, &run.Inserted, &run.Updated, &run.Unchanged,
		&run.SkippedChunks, &run.DroppedEvents, &run.StartedAt, &run.CompletedAt); err != nil {
		return nil, err
	}

	run.FromBlock = uint64(fromBlock)
	run.HeadBlock = uint64(headBlock)
	if verifiedThrough.Valid {
		v := uint64(verifiedThrough.Int64)
		run.VerifiedThrough = &v
	}
	run.StartedAt = run.StartedAt.UTC()
	run.CompletedAt = run.CompletedAt.UTC()
	return &run, nil
}

// sqlTx implements Tx over a database/sql transaction
type sqlTx struct {
	tx    *sql.Tx
	store *sqlStore
}

// FindAll returns every bounty as seen by the transaction
func (t *sqlTx) FindAll(ctx context.Context) ([]models.BountyRecord, error) {
	return t.store.findBounties(ctx, t.tx, BountyFilter{})
}

// UpsertByTheorem inserts the record or overwrites amount, status, proof
// and updated_at of the existing row. created_at of an existing row is kept.
func (t *sqlTx) UpsertByTheorem(ctx context.Context, record *models.BountyRecord) error {
	if record.Theorem == "" {
		return utils.NewAppError(utils.ErrCodeValidation, "Theorem is required", "")
	}
	if !record.Status.Valid() {
		return utils.NewAppError(utils.ErrCodeValidation, "Invalid bounty status", string(record.Status))
	}
	if record.Amount.IsNegative() {
		return utils.NewAppError(utils.ErrCodeValidation, "Bounty amount is negative", record.Amount.String())
	}

	var proof interface{}
	if record.Proof != nil {
		proof = *record.Proof
	}

	start := time.Now()
	_, err := t.tx.ExecContext(ctx, t.store.rebind(upsertBountySQL),
		record.Theorem, record.Amount, string(record.Status), proof,
		record.CreatedAt.UTC(), record.UpdatedAt.UTC())
	t.store.observe("upsert", tableBounties, start, err)
	if err != nil {
		return utils.WrapError(utils.ErrCodeDatabase, "Failed to upsert bounty", err)
	}
	return nil
}

// RecordSyncRun appends the audit row for this run
func (t *sqlTx) RecordSyncRun(ctx context.Context, run *models.SyncRun) error {
	var verifiedThrough interface{}
	if run.VerifiedThrough != nil {
		verifiedThrough = int64(*run.VerifiedThrough)
	}

	start := time.Now()
	_, err := t.tx.ExecContext(ctx, t.store.rebind(insertSyncRunSQL),
		int64(run.FromBlock), int64(run.HeadBlock), verifiedThrough,
		run.OpenCount, run.ClosedCount, run.Inserted, run.Updated, run.Unchanged,
		run.SkippedChunks, run.DroppedEvents, run.StartedAt.UTC(), run.CompletedAt.UTC())
	t.store.observe("insert", tableSyncRuns, start, err)
	if err != nil {
		return utils.WrapError(utils.ErrCodeDatabase, "Failed to record sync run", err)
	}
	return nil
}

// Commit commits the transaction
func (t *sqlTx) Commit() error {
	start := time.Now()
	err := t.tx.Commit()
	t.store.observe("commit", tableBounties, start, err)
	if err != nil {
		return utils.WrapError(utils.ErrCodeDatabase, "Failed to commit transaction", err)
	}
	return nil
}

// Rollback discards the transaction. Rolling back a finished transaction is a no-op.
func (t *sqlTx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return utils.WrapError(utils.ErrCodeDatabase, "Failed to roll back transaction", err)
	}
	return nil
}

// Package syncer runs one end-to-end reconciliation of ledger events into
// the bounty store.
package syncer

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/theorem-bounty-sync/internal/amount"
	"github.com/smartdevs17/theorem-bounty-sync/internal/fetcher"
	"github.com/smartdevs17/theorem-bounty-sync/internal/metrics"
	"github.com/smartdevs17/theorem-bounty-sync/internal/models"
	"github.com/smartdevs17/theorem-bounty-sync/internal/normalizer"
	"github.com/smartdevs17/theorem-bounty-sync/internal/reconcile"
	"github.com/smartdevs17/theorem-bounty-sync/internal/reconstruct"
	"github.com/smartdevs17/theorem-bounty-sync/internal/storage"
	"github.com/smartdevs17/theorem-bounty-sync/pkg/utils"
)

// ErrRunInProgress is returned by TryRun while another run holds the driver
var ErrRunInProgress = utils.NewAppError(utils.ErrCodeInternal, "Sync run already in progress", "")

// Ledger is the read-only ledger view a run needs
type Ledger interface {
	fetcher.LogSource
	normalizer.Ledger
	HeadBlock(ctx context.Context) (uint64, error)
}

// TxStore is the part of the store a run writes through
type TxStore interface {
	BeginTx(ctx context.Context) (storage.Tx, error)
}

// RunObserver is told about every finished run. report is nil when err is set.
type RunObserver interface {
	RunFinished(ctx context.Context, fromBlock uint64, report *Report, err error)
}

// Config holds run configuration
type Config struct {
	ChunkSize        uint64
	ConcurrentChunks int
	AmountDecimals   int32
}

// Deps are the collaborators of a run
type Deps struct {
	Ledger  Ledger
	Decoder normalizer.CallDecoder
	Store   TxStore
	Metrics *metrics.Manager
	Config  Config

	// Observer is optional
	Observer RunObserver
}

// Report summarises one committed run
type Report struct {
	FromBlock       uint64                 `json:"from_block"`
	HeadBlock       uint64                 `json:"head_block"`
	VerifiedThrough *uint64                `json:"verified_through,omitempty"`
	OpenCount       int                    `json:"open_count"`
	ClosedCount     int                    `json:"closed_count"`
	Inserted        int                    `json:"inserted"`
	Updated         int                    `json:"updated"`
	Unchanged       int                    `json:"unchanged"`
	SkippedChunks   []fetcher.SkippedChunk `json:"skipped_chunks,omitempty"`
	DroppedEvents   int                    `json:"dropped_events"`
	StartedAt       time.Time              `json:"started_at"`
	CompletedAt     time.Time              `json:"completed_at"`
}

// Driver orchestrates fetch, normalize, reconstruct and reconcile
type Driver struct {
	deps      Deps
	converter *amount.Converter
	logger    *logrus.Entry
	running   sync.Mutex
}

// NewDriver creates a new sync driver
func NewDriver(deps Deps) *Driver {
	return &Driver{
		deps:      deps,
		converter: amount.NewConverter(deps.Config.AmountDecimals),
		logger:    utils.ComponentLogger("syncer"),
	}
}

// TryRun runs unless another run is in progress, in which case it returns
// ErrRunInProgress without waiting.
func (d *Driver) TryRun(ctx context.Context, fromBlock uint64) (*Report, error) {
	if !d.running.TryLock() {
		return nil, ErrRunInProgress
	}
	defer d.running.Unlock()
	return d.run(ctx, fromBlock)
}

// Run performs one reconciliation from fromBlock to the current head.
// All store writes of the run are committed together or not at all.
func (d *Driver) Run(ctx context.Context, fromBlock uint64) (*Report, error) {
	d.running.Lock()
	defer d.running.Unlock()
	return d.run(ctx, fromBlock)
}

func (d *Driver) run(ctx context.Context, fromBlock uint64) (report *Report, err error) {
	startedAt := time.Now().UTC()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
		}
		d.recordRun(status, time.Since(startedAt))
		if d.deps.Observer != nil {
			d.deps.Observer.RunFinished(ctx, fromBlock, report, err)
		}
	}()

	log := d.logger.WithField("from_block", fromBlock)
	log.Info("Starting sync run")

	head, err := d.deps.Ledger.HeadBlock(ctx)
	if err != nil {
		return nil, utils.WrapError(utils.ErrCodeBlockchain, "Ledger head unreachable", err)
	}
	log = log.WithField("head", head)

	f := fetcher.NewFetcher(d.deps.Ledger, fetcher.Config{
		ChunkSize:        d.deps.Config.ChunkSize,
		ConcurrentChunks: d.deps.Config.ConcurrentChunks,
	}, d.deps.Metrics)

	entries, fetchReport, err := f.Fetch(ctx, fromBlock, head)
	if err != nil {
		return nil, err
	}

	norm := normalizer.NewNormalizer(d.deps.Ledger, d.deps.Decoder, d.deps.Metrics)
	events, dropped, err := norm.NormalizeAll(ctx, entries)
	if err != nil {
		return nil, err
	}

	state, err := reconstruct.NewReconstructor(d.converter).Reconstruct(events)
	if err != nil {
		return nil, err
	}

	report = &Report{
		FromBlock:     fromBlock,
		HeadBlock:     head,
		OpenCount:     len(state.Open),
		ClosedCount:   len(state.Closed),
		SkippedChunks: fetchReport.SkippedChunks,
		DroppedEvents: dropped,
		StartedAt:     startedAt,
	}
	if verified, ok := fetchReport.VerifiedThrough(); ok {
		report.VerifiedThrough = &verified
	}

	result, err := d.commit(ctx, state, report)
	if err != nil {
		log.WithError(err).Error("Sync run rolled back")
		return nil, err
	}

	report.Inserted = result.Inserted
	report.Updated = result.Updated
	report.Unchanged = result.Unchanged
	d.recordReport(report)

	log.WithFields(logrus.Fields{
		"open":           report.OpenCount,
		"closed":         report.ClosedCount,
		"inserted":       report.Inserted,
		"updated":        report.Updated,
		"unchanged":      report.Unchanged,
		"skipped_chunks": len(report.SkippedChunks),
		"dropped_events": report.DroppedEvents,
	}).Info("Sync run committed")

	return report, nil
}

// commit plans against the rows visible inside the transaction, applies the
// plan, records the run and commits. Any failure rolls everything back.
func (d *Driver) commit(ctx context.Context, state *reconstruct.State, report *Report) (result reconcile.Result, err error) {
	tx, err := d.deps.Store.BeginTx(ctx)
	if err != nil {
		return result, err
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				d.logger.WithError(rbErr).Warn("Rollback failed")
			}
		}
	}()

	existing, err := tx.FindAll(ctx)
	if err != nil {
		return result, err
	}

	plan := reconcile.BuildPlan(state, existing)
	result, err = reconcile.Apply(ctx, tx, plan)
	if err != nil {
		return result, err
	}

	report.CompletedAt = time.Now().UTC()
	if err = tx.RecordSyncRun(ctx, &models.SyncRun{
		FromBlock:       report.FromBlock,
		HeadBlock:       report.HeadBlock,
		VerifiedThrough: report.VerifiedThrough,
		OpenCount:       report.OpenCount,
		ClosedCount:     report.ClosedCount,
		Inserted:        result.Inserted,
		Updated:         result.Updated,
		Unchanged:       result.Unchanged,
		SkippedChunks:   len(report.SkippedChunks),
		DroppedEvents:   report.DroppedEvents,
		StartedAt:       report.StartedAt,
		CompletedAt:     report.CompletedAt,
	}); err != nil {
		return result, err
	}

	if err = tx.Commit(); err != nil {
		return result, err
	}
	return result, nil
}

func (d *Driver) recordRun(status string, duration time.Duration) {
	if d.deps.Metrics != nil {
		d.deps.Metrics.GetPrometheusMetrics().RecordSyncRun(status, duration)
	}
}

func (d *Driver) recordReport(report *Report) {
	if d.deps.Metrics == nil {
		return
	}
	m := d.deps.Metrics.GetPrometheusMetrics()
	m.UpdateBounties(report.OpenCount, report.ClosedCount)
	m.RecordRecordsWritten("insert", report.Inserted)
	m.RecordRecordsWritten("update", report.Updated)
	var verified uint64
	if report.VerifiedThrough != nil {
		verified = *report.VerifiedThrough
	}
	m.UpdateBlocks(report.HeadBlock, verified, report.VerifiedThrough != nil)
}

// Package fetcher retrieves raw bounty log entries over a block range in
// fixed-size chunks, tolerating individual chunk failures.
package fetcher

import (
	"context"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/smartdevs17/theorem-bounty-sync/internal/metrics"
	"github.com/smartdevs17/theorem-bounty-sync/internal/models"
	"github.com/smartdevs17/theorem-bounty-sync/pkg/utils"
)

// DefaultChunkSize is the number of blocks covered by one log query
const DefaultChunkSize uint64 = 10000

// LogSource is the part of the ledger the fetcher queries
type LogSource interface {
	GetLogs(ctx context.Context, kind models.EventKind, fromBlock, toBlock uint64) ([]models.RawLogEntry, error)
}

// Config holds fetcher configuration
type Config struct {
	ChunkSize        uint64
	ConcurrentChunks int
	Kinds            []models.EventKind
}

// Range is an inclusive block range
type Range struct {
	From uint64 `json:"from"`
	To   uint64 `json:"to"`
}

// SkippedChunk is a (range, kind) query that failed and was not retried
type SkippedChunk struct {
	Kind  models.EventKind `json:"kind"`
	From  uint64           `json:"from"`
	To    uint64           `json:"to"`
	Error string           `json:"error"`
}

// FetchReport describes the coverage of one fetch
type FetchReport struct {
	FromBlock     uint64         `json:"from_block"`
	ToBlock       uint64         `json:"to_block"`
	Chunks        int            `json:"chunks"`
	Queries       int            `json:"queries"`
	Entries       int            `json:"entries"`
	SkippedChunks []SkippedChunk `json:"skipped_chunks,omitempty"`
}

// Complete reports whether every query succeeded
func (r *FetchReport) Complete() bool {
	return len(r.SkippedChunks) == 0
}

// VerifiedThrough returns the last block up to which every query succeeded.
// The second result is false when not even the first chunk is verified.
func (r *FetchReport) VerifiedThrough() (uint64, bool) {
	if r.Chunks == 0 {
		return 0, false
	}
	if r.Complete() {
		return r.ToBlock, true
	}

	lowest := r.SkippedChunks[0].From
	for _, skipped := range r.SkippedChunks[1:] {
		if skipped.From < lowest {
			lowest = skipped.From
		}
	}
	if lowest <= r.FromBlock {
		return 0, false
	}
	return lowest - 1, true
}

// ChunkRanges partitions [from, head] into contiguous, non-overlapping,
// inclusive ranges of at most size blocks.
func ChunkRanges(from, head, size uint64) []Range {
	if from > head {
		return nil
	}
	if size == 0 {
		size = DefaultChunkSize
	}

	var ranges []Range
	for start := from; ; {
		end := start + size - 1
		if end < start || end > head {
			end = head
		}
		ranges = append(ranges, Range{From: start, To: end})
		if end == head {
			break
		}
		start = end + 1
	}
	return ranges
}

// Fetcher runs chunked log queries against a LogSource
type Fetcher struct {
	source         LogSource
	config         Config
	logger         *logrus.Entry
	metricsManager *metrics.Manager
}

// NewFetcher creates a new fetcher
func NewFetcher(source LogSource, cfg Config, metricsManager *metrics.Manager) *Fetcher {
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.ConcurrentChunks <= 0 {
		cfg.ConcurrentChunks = 1
	}
	if len(cfg.Kinds) == 0 {
		cfg.Kinds = models.EventKinds
	}

	return &Fetcher{
		source:         source,
		config:         cfg,
		logger:         utils.ComponentLogger("fetcher"),
		metricsManager: metricsManager,
	}
}

type query struct {
	kind  models.EventKind
	block Range
}

// Fetch returns every entry of the configured kinds in [fromBlock, head].
// Failed queries are skipped and listed in the report; only cancellation of
// ctx is returned as an error. Entries are not ordered.
func (f *Fetcher) Fetch(ctx context.Context, fromBlock, head uint64) ([]models.RawLogEntry, *FetchReport, error) {
	report := &FetchReport{FromBlock: fromBlock, ToBlock: head}

	ranges := ChunkRanges(fromBlock, head, f.config.ChunkSize)
	report.Chunks = len(ranges)
	if len(ranges) == 0 {
		f.logger.WithFields(logrus.Fields{
			"from_block": fromBlock,
			"head":       head,
		}).Info("Checkpoint is past head, nothing to fetch")
		return nil, report, nil
	}

	queries := make([]query, 0, len(ranges)*len(f.config.Kinds))
	for _, r := range ranges {
		for _, kind := range f.config.Kinds {
			queries = append(queries, query{kind: kind, block: r})
		}
	}
	report.Queries = len(queries)

	results := make([][]models.RawLogEntry, len(queries))
	failures := make([]error, len(queries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.config.ConcurrentChunks)

	for i, q := range queries {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			entries, err := f.source.GetLogs(gctx, q.kind, q.block.From, q.block.To)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				failures[i] = err
				f.recordChunk(q.kind, "error", 0)
				return nil
			}

			results[i] = entries
			f.recordChunk(q.kind, "success", len(entries))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var all []models.RawLogEntry
	for i, q := range queries {
		if err := failures[i]; err != nil {
			f.logger.WithFields(logrus.Fields{
				"event_kind": q.kind,
				"from":       q.block.From,
				"to":         q.block.To,
				"error":      err,
			}).Warn("Log query failed, skipping chunk")

			report.SkippedChunks = append(report.SkippedChunks, SkippedChunk{
				Kind:  q.kind,
				From:  q.block.From,
				To:    q.block.To,
				Error: err.Error(),
			})
			continue
		}
		all = append(all, results[i]...)
	}
	report.Entries = len(all)

	fields := logrus.Fields{
		"from_block": fromBlock,
		"head":       head,
		"chunks":     report.Chunks,
		"entries":    report.Entries,
		"skipped":    len(report.SkippedChunks),
	}
	if verified, ok := report.VerifiedThrough(); ok {
		fields["verified_through"] = verified
	}
	f.logger.WithFields(fields).Info("Fetched ledger entries")

	return all, report, nil
}

func (f *Fetcher) recordChunk(kind models.EventKind, status string, entries int) {
	if f.metricsManager != nil {
		f.metricsManager.GetPrometheusMetrics().RecordChunk(string(kind), status, entries)
	}
}

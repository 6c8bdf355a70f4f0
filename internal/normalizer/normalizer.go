// Package normalizer turns raw ledger entries into canonical bounty events.
package normalizer

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/theorem-bounty-sync/internal/amount"
	"github.com/smartdevs17/theorem-bounty-sync/internal/contract"
	"github.com/smartdevs17/theorem-bounty-sync/internal/metrics"
	"github.com/smartdevs17/theorem-bounty-sync/internal/models"
	"github.com/smartdevs17/theorem-bounty-sync/pkg/utils"
)

var (
	// ErrUnrecognizedShape is returned for entries that are neither declarations nor payouts
	ErrUnrecognizedShape = errors.New("unrecognized event shape")
	// ErrEmptyTheorem is returned when the theorem argument is missing or blank
	ErrEmptyTheorem = errors.New("empty theorem")
	// ErrBadRequestTxHash is returned when requestTxHash is not a 32-byte hash
	ErrBadRequestTxHash = errors.New("malformed request transaction hash")
	// ErrBlockTimeUnavailable is returned when a block timestamp cannot be read.
	// Unlike the errors above it aborts the run instead of dropping the entry.
	ErrBlockTimeUnavailable = errors.New("block time unavailable")
)

// TxResolver looks up settlement transactions
type TxResolver interface {
	GetTransaction(ctx context.Context, hash common.Hash) (*models.LedgerTransaction, error)
}

// BlockClock returns block timestamps
type BlockClock interface {
	BlockTime(ctx context.Context, blockNumber uint64) (time.Time, error)
}

// Ledger is everything the normalizer reads from the chain
type Ledger interface {
	TxResolver
	BlockClock
}

// CallDecoder recovers the proof from a settlement transaction's input
type CallDecoder interface {
	DecodeRequestBounty(input []byte) (*contract.RequestBountyCall, error)
}

// Normalizer maps raw entries to canonical events. Block times are cached
// for the lifetime of the normalizer, so create one per run.
type Normalizer struct {
	ledger         Ledger
	decoder        CallDecoder
	logger         *logrus.Entry
	metricsManager *metrics.Manager

	mu         sync.Mutex
	blockTimes map[uint64]time.Time
}

// NewNormalizer creates a new normalizer
func NewNormalizer(ledger Ledger, decoder CallDecoder, metricsManager *metrics.Manager) *Normalizer {
	return &Normalizer{
		ledger:         ledger,
		decoder:        decoder,
		logger:         utils.ComponentLogger("normalizer"),
		metricsManager: metricsManager,
		blockTimes:     make(map[uint64]time.Time),
	}
}

// Normalize maps one entry to exactly one canonical event
func (n *Normalizer) Normalize(ctx context.Context, entry models.RawLogEntry) (models.CanonicalEvent, error) {
	args := entry.EventArgs

	if rawHash, ok := args[models.ArgRequestTxHash]; ok {
		return n.normalizeClosed(ctx, entry, rawHash)
	}

	_, hasTheorem := args[models.ArgTheorem]
	_, hasValue := args[models.ArgValue]
	if hasTheorem && hasValue {
		return n.normalizeDeclared(ctx, entry)
	}

	return nil, utils.WrapError(utils.ErrCodeDecode,
		fmt.Sprintf("Entry at block %d index %d has no known event shape", entry.BlockNumber, entry.LogIndex),
		ErrUnrecognizedShape)
}

// NormalizeAll normalizes entries, dropping and counting those that fail.
// Cancellation of ctx and ErrBlockTimeUnavailable are returned as errors.
func (n *Normalizer) NormalizeAll(ctx context.Context, entries []models.RawLogEntry) ([]models.CanonicalEvent, int, error) {
	events := make([]models.CanonicalEvent, 0, len(entries))
	dropped := 0

	for _, entry := range entries {
		event, err := n.Normalize(ctx, entry)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, dropped, ctxErr
			}
			if errors.Is(err, ErrBlockTimeUnavailable) {
				return nil, dropped, err
			}
			dropped++
			n.recordNormalized(string(entry.Kind), "dropped")
			n.logger.WithFields(logrus.Fields{
				"event_kind": entry.Kind,
				"block":      entry.BlockNumber,
				"log_index":  entry.LogIndex,
				"tx_hash":    entry.TxHash.Hex(),
				"error":      err,
			}).Warn("Dropping ledger entry")
			continue
		}

		n.recordNormalized(variantOf(event), "ok")
		events = append(events, event)
	}

	return events, dropped, nil
}

func (n *Normalizer) normalizeDeclared(ctx context.Context, entry models.RawLogEntry) (models.CanonicalEvent, error) {
	theorem, err := theoremArg(entry.EventArgs)
	if err != nil {
		return nil, err
	}

	baseUnits, err := amount.ParseBaseUnits(entry.EventArgs[models.ArgValue])
	if err != nil {
		return nil, err
	}

	occurredAt, err := n.blockTime(ctx, entry.BlockNumber)
	if err != nil {
		return nil, err
	}

	return &models.DeclaredEvent{
		Order:           entry.Key(),
		Theorem:         theorem,
		AmountBaseUnits: baseUnits,
		OccurredAt:      occurredAt,
	}, nil
}

func (n *Normalizer) normalizeClosed(ctx context.Context, entry models.RawLogEntry, rawHash interface{}) (models.CanonicalEvent, error) {
	theorem, err := theoremArg(entry.EventArgs)
	if err != nil {
		return nil, err
	}

	rawValue, ok := entry.EventArgs[models.ArgValue]
	if !ok {
		return nil, utils.WrapError(utils.ErrCodeDecode, "Payout entry has no value", ErrUnrecognizedShape)
	}
	baseUnits, err := amount.ParseBaseUnits(rawValue)
	if err != nil {
		return nil, err
	}

	requestTxHash, err := ParseHash(rawHash)
	if err != nil {
		return nil, err
	}

	tx, err := n.ledger.GetTransaction(ctx, requestTxHash)
	if err != nil {
		return nil, utils.WrapError(utils.ErrCodeBlockchain,
			"Settlement transaction unresolvable: "+requestTxHash.Hex(), err)
	}

	call, err := n.decoder.DecodeRequestBounty(tx.Input)
	if err != nil {
		return nil, err
	}
	if call.Theorem != "" && call.Theorem != theorem {
		n.logger.WithFields(logrus.Fields{
			"theorem":         theorem,
			"request_theorem": call.Theorem,
			"request_tx_hash": requestTxHash.Hex(),
		}).Warn("Settlement transaction names a different theorem")
	}

	occurredAt, err := n.closedTime(ctx, entry, tx)
	if err != nil {
		return nil, err
	}

	return &models.ClosedEvent{
		Order:           entry.Key(),
		Theorem:         theorem,
		AmountBaseUnits: baseUnits,
		Proof:           call.Proof,
		RequestTxHash:   requestTxHash,
		OccurredAt:      occurredAt,
	}, nil
}

// closedTime prefers the settlement transaction's block time
func (n *Normalizer) closedTime(ctx context.Context, entry models.RawLogEntry, tx *models.LedgerTransaction) (time.Time, error) {
	if tx.BlockNumber != nil && tx.BlockNumber.IsUint64() {
		ts, err := n.blockTime(ctx, tx.BlockNumber.Uint64())
		if err == nil {
			return ts, nil
		}
		if ctx.Err() != nil {
			return time.Time{}, ctx.Err()
		}
		n.logger.WithFields(logrus.Fields{
			"block": tx.BlockNumber.Uint64(),
			"error": err,
		}).Debug("Settlement block time unavailable, using log block")
	}
	return n.blockTime(ctx, entry.BlockNumber)
}

func (n *Normalizer) blockTime(ctx context.Context, blockNumber uint64) (time.Time, error) {
	n.mu.Lock()
	ts, ok := n.blockTimes[blockNumber]
	n.mu.Unlock()
	if ok {
		return ts, nil
	}

	ts, err := n.ledger.BlockTime(ctx, blockNumber)
	if err != nil {
		return time.Time{}, utils.WrapError(utils.ErrCodeBlockchain,
			fmt.Sprintf("Failed to read time of block %d", blockNumber),
			fmt.Errorf("%w: %v", ErrBlockTimeUnavailable, err))
	}
	ts = ts.UTC()

	n.mu.Lock()
	n.blockTimes[blockNumber] = ts
	n.mu.Unlock()
	return ts, nil
}

func (n *Normalizer) recordNormalized(variant, status string) {
	if n.metricsManager != nil {
		n.metricsManager.GetPrometheusMetrics().RecordNormalized(variant, status)
	}
}

func theoremArg(args map[string]interface{}) (string, error) {
	theorem, _ := args[models.ArgTheorem].(string)
	if strings.TrimSpace(theorem) == "" {
		return "", utils.WrapError(utils.ErrCodeDecode, "Theorem argument missing or blank", ErrEmptyTheorem)
	}
	return theorem, nil
}

func variantOf(event models.CanonicalEvent) string {
	switch event.(type) {
	case *models.ClosedEvent:
		return "closed"
	default:
		return "declared"
	}
}

// ParseHash accepts the shapes a decoded bytes32 argument can take
func ParseHash(raw interface{}) (common.Hash, error) {
	switch v := raw.(type) {
	case common.Hash:
		return v, nil
	case [32]byte:
		return common.Hash(v), nil
	case []byte:
		if len(v) == common.HashLength {
			return common.BytesToHash(v), nil
		}
	case string:
		s := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(v), "0x"), "0X")
		if b, err := hex.DecodeString(s); err == nil && len(b) == common.HashLength {
			return common.BytesToHash(b), nil
		}
	}
	return common.Hash{}, utils.WrapError(utils.ErrCodeDecode, fmt.Sprintf("Cannot use %T as hash", raw), ErrBadRequestTxHash)
}

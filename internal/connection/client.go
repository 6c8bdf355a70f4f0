package connection

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/theorem-bounty-sync/internal/contract"
	"github.com/smartdevs17/theorem-bounty-sync/internal/metrics"
	"github.com/smartdevs17/theorem-bounty-sync/internal/models"
	"github.com/smartdevs17/theorem-bounty-sync/pkg/utils"
)

// LedgerClient is the read-only view of the chain used by a sync run:
// log queries, transaction resolution and block times.
type LedgerClient struct {
	manager        Manager
	contract       *contract.BountyContract
	logger         *logrus.Logger
	metricsManager *metrics.Manager
}

// NewLedgerClient creates a ledger client for the bounty contract
func NewLedgerClient(manager Manager, bounty *contract.BountyContract, metricsManager *metrics.Manager) *LedgerClient {
	return &LedgerClient{
		manager:        manager,
		contract:       bounty,
		logger:         utils.GetLogger(),
		metricsManager: metricsManager,
	}
}

// HeadBlock returns the current head block number
func (lc *LedgerClient) HeadBlock(ctx context.Context) (uint64, error) {
	start := time.Now()
	client, err := lc.manager.GetClientWithContext(ctx)
	if err != nil {
		return 0, err
	}

	head, err := client.BlockNumber(ctx)
	lc.recordRPC("eth_blockNumber", err, start)
	if err != nil {
		return 0, utils.WrapError(utils.ErrCodeBlockchain, "Failed to get head block", err)
	}
	return head, nil
}

// GetLogs returns decoded entries of one event kind in [fromBlock, toBlock].
// Logs whose data cannot be decoded are skipped with a warning.
func (lc *LedgerClient) GetLogs(ctx context.Context, kind models.EventKind, fromBlock, toBlock uint64) ([]models.RawLogEntry, error) {
	eventID, err := lc.contract.EventID(kind)
	if err != nil {
		return nil, err
	}

	client, err := lc.manager.GetClientWithContext(ctx)
	if err != nil {
		return nil, err
	}

	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{lc.contract.Address()},
		Topics:    [][]common.Hash{{eventID}},
	}

	start := time.Now()
	logs, err := client.FilterLogs(ctx, query)
	lc.recordRPC("eth_getLogs", err, start)
	if err != nil {
		return nil, utils.WrapError(utils.ErrCodeBlockchain, "Failed to filter logs", err)
	}

	entries := make([]models.RawLogEntry, 0, len(logs))
	for _, log := range logs {
		if log.Removed {
			continue
		}

		// Undecodable logs are kept with nil args so normalization counts them.
		args, err := lc.contract.DecodeLog(kind, log)
		if err != nil {
			lc.logger.WithFields(logrus.Fields{
				"event_kind": kind,
				"block":      log.BlockNumber,
				"log_index":  log.Index,
				"tx_hash":    log.TxHash.Hex(),
				"error":      err,
			}).Warn("Failed to decode log")
			args = nil
		}

		entries = append(entries, models.RawLogEntry{
			Kind:        kind,
			BlockNumber: log.BlockNumber,
			LogIndex:    log.Index,
			BlockHash:   log.BlockHash,
			TxHash:      log.TxHash,
			EventArgs:   args,
		})
	}

	lc.logger.WithFields(logrus.Fields{
		"event_kind": kind,
		"from":       fromBlock,
		"to":         toBlock,
		"count":      len(entries),
	}).Debug("Filtered logs")

	return entries, nil
}

// GetTransaction resolves a transaction and the block it was mined in
func (lc *LedgerClient) GetTransaction(ctx context.Context, hash common.Hash) (*models.LedgerTransaction, error) {
	client, err := lc.manager.GetClientWithContext(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	tx, pending, err := client.TransactionByHash(ctx, hash)
	lc.recordRPC("eth_getTransactionByHash", err, start)
	if err != nil {
		return nil, utils.WrapError(utils.ErrCodeBlockchain, "Failed to get transaction", err)
	}

	result := &models.LedgerTransaction{
		Hash:  hash,
		To:    tx.To(),
		Input: tx.Data(),
	}

	if from, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx); err == nil {
		result.From = from
	}

	if pending {
		return result, nil
	}

	start = time.Now()
	receipt, err := client.TransactionReceipt(ctx, hash)
	lc.recordRPC("eth_getTransactionReceipt", err, start)
	if err != nil {
		// The caller falls back to the log's own block time.
		lc.logger.WithFields(logrus.Fields{
			"tx_hash": hash.Hex(),
			"error":   err,
		}).Debug("Receipt unavailable for transaction")
		return result, nil
	}
	result.BlockNumber = receipt.BlockNumber

	return result, nil
}

// BlockTime returns the timestamp of a block
func (lc *LedgerClient) BlockTime(ctx context.Context, blockNumber uint64) (time.Time, error) {
	client, err := lc.manager.GetClientWithContext(ctx)
	if err != nil {
		return time.Time{}, err
	}

	start := time.Now()
	header, err := client.HeaderByNumber(ctx, new(big.Int).SetUint64(blockNumber))
	lc.recordRPC("eth_getBlockByNumber", err, start)
	if err != nil {
		return time.Time{}, utils.WrapError(utils.ErrCodeBlockchain, "Failed to get block header", err)
	}

	return time.Unix(int64(header.Time), 0).UTC(), nil
}

func (lc *LedgerClient) recordRPC(method string, err error, start time.Time) {
	if lc.metricsManager == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	lc.metricsManager.GetPrometheusMetrics().RecordRPCRequest(lc.manager.CurrentURL(), method, status, time.Since(start))
}

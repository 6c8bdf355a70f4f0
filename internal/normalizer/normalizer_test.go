package normalizer

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/theorem-bounty-sync/internal/contract"
	"github.com/smartdevs17/theorem-bounty-sync/internal/models"
	"github.com/smartdevs17/theorem-bounty-sync/pkg/utils"
)

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeLedger struct {
	txs        map[common.Hash]*models.LedgerTransaction
	blockCalls map[uint64]int
	failBlocks map[uint64]bool
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		txs:        make(map[common.Hash]*models.LedgerTransaction),
		blockCalls: make(map[uint64]int),
		failBlocks: make(map[uint64]bool),
	}
}

func (l *fakeLedger) GetTransaction(_ context.Context, hash common.Hash) (*models.LedgerTransaction, error) {
	tx, ok := l.txs[hash]
	if !ok {
		return nil, errors.New("not found")
	}
	return tx, nil
}

func (l *fakeLedger) BlockTime(_ context.Context, n uint64) (time.Time, error) {
	l.blockCalls[n]++
	if l.failBlocks[n] {
		return time.Time{}, errors.New("header unavailable")
	}
	return baseTime.Add(time.Duration(n) * time.Minute), nil
}

func newTestNormalizer(t *testing.T) (*Normalizer, *fakeLedger, *contract.BountyContract) {
	t.Helper()
	bounty, err := contract.NewBountyContract("")
	require.NoError(t, err)
	ledger := newFakeLedger()
	return NewNormalizer(ledger, bounty, nil), ledger, bounty
}

func declaredEntry(theorem string, value interface{}, block uint64, index uint) models.RawLogEntry {
	return models.RawLogEntry{
		Kind:        models.EventKindDeclared,
		BlockNumber: block,
		LogIndex:    index,
		EventArgs: map[string]interface{}{
			models.ArgTheorem: theorem,
			models.ArgValue:   value,
		},
	}
}

func closedEntry(theorem string, value interface{}, hash interface{}, block uint64) models.RawLogEntry {
	return models.RawLogEntry{
		Kind:        models.EventKindClosed,
		BlockNumber: block,
		EventArgs: map[string]interface{}{
			models.ArgTheorem:       theorem,
			models.ArgValue:         value,
			models.ArgRequestTxHash: hash,
		},
	}
}

func TestNormalizeDeclared(t *testing.T) {
	n, _, _ := newTestNormalizer(t)

	event, err := n.Normalize(context.Background(), declaredEntry("T1", big.NewInt(2e18), 10, 3))
	require.NoError(t, err)

	declared, ok := event.(*models.DeclaredEvent)
	require.True(t, ok)
	assert.Equal(t, "T1", declared.Theorem)
	assert.Equal(t, "2000000000000000000", declared.AmountBaseUnits.String())
	assert.Equal(t, models.OrderKey{BlockNumber: 10, LogIndex: 3}, declared.Key())
	assert.True(t, baseTime.Add(10*time.Minute).Equal(declared.OccurredAt))
}

func TestNormalizeClosedRecoversProof(t *testing.T) {
	n, ledger, bounty := newTestNormalizer(t)

	input, err := bounty.PackRequestBounty("T1", "p")
	require.NoError(t, err)

	hash := common.HexToHash("0xabc1")
	ledger.txs[hash] = &models.LedgerTransaction{Hash: hash, Input: input, BlockNumber: big.NewInt(18)}

	event, err := n.Normalize(context.Background(), closedEntry("T1", big.NewInt(2e18), [32]byte(hash), 20))
	require.NoError(t, err)

	closed, ok := event.(*models.ClosedEvent)
	require.True(t, ok)
	assert.Equal(t, "p", closed.Proof)
	assert.Equal(t, hash, closed.RequestTxHash)
	assert.True(t, baseTime.Add(18*time.Minute).Equal(closed.OccurredAt), "uses settlement block time")
}

func TestNormalizeClosedFallsBackToLogBlockTime(t *testing.T) {
	n, ledger, bounty := newTestNormalizer(t)

	input, err := bounty.PackRequestBounty("T2", "qed")
	require.NoError(t, err)

	pending := common.HexToHash("0x01")
	ledger.txs[pending] = &models.LedgerTransaction{Hash: pending, Input: input}

	failing := common.HexToHash("0x02")
	ledger.txs[failing] = &models.LedgerTransaction{Hash: failing, Input: input, BlockNumber: big.NewInt(7)}
	ledger.failBlocks[7] = true

	for _, hash := range []common.Hash{pending, failing} {
		event, err := n.Normalize(context.Background(), closedEntry("T2", "5", hash.Hex(), 30))
		require.NoError(t, err)
		assert.True(t, baseTime.Add(30*time.Minute).Equal(event.Time()))
	}
}

func TestNormalizeErrors(t *testing.T) {
	n, ledger, bounty := newTestNormalizer(t)

	declareInput, err := bounty.ABI().Pack("declareBounty", "T1")
	require.NoError(t, err)
	wrongCall := common.HexToHash("0x99")
	ledger.txs[wrongCall] = &models.LedgerTransaction{Hash: wrongCall, Input: declareInput}

	tests := []struct {
		name     string
		entry    models.RawLogEntry
		sentinel error
		code     string
	}{
		{
			name:     "unknown shape",
			entry:    models.RawLogEntry{EventArgs: map[string]interface{}{"requestID": "x"}},
			sentinel: ErrUnrecognizedShape,
		},
		{
			name:     "blank theorem",
			entry:    declaredEntry("  ", big.NewInt(1), 1, 0),
			sentinel: ErrEmptyTheorem,
		},
		{
			name:  "negative amount",
			entry: declaredEntry("T1", big.NewInt(-1), 1, 0),
			code:  utils.ErrCodeConversion,
		},
		{
			name:  "malformed amount",
			entry: declaredEntry("T1", "12abc", 1, 0),
			code:  utils.ErrCodeConversion,
		},
		{
			name:     "bad hash",
			entry:    closedEntry("T1", big.NewInt(1), []byte{1, 2, 3}, 1),
			sentinel: ErrBadRequestTxHash,
		},
		{
			name:  "unresolvable transaction",
			entry: closedEntry("T1", big.NewInt(1), common.HexToHash("0xdead"), 1),
			code:  utils.ErrCodeBlockchain,
		},
		{
			name:  "wrong method",
			entry: closedEntry("T1", big.NewInt(1), wrongCall, 1),
			code:  utils.ErrCodeDecode,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := n.Normalize(context.Background(), tt.entry)
			require.Error(t, err)
			assert.Nil(t, event)
			if tt.sentinel != nil {
				assert.ErrorIs(t, err, tt.sentinel)
			}
			if tt.code != "" {
				assert.True(t, utils.HasCode(err, tt.code), "expected %s, got %v", tt.code, err)
			}
		})
	}
}

func TestNormalizeAllDropsAndCaches(t *testing.T) {
	n, ledger, _ := newTestNormalizer(t)

	entries := []models.RawLogEntry{
		declaredEntry("A", big.NewInt(1), 5, 0),
		declaredEntry("B", big.NewInt(2), 5, 1),
		declaredEntry("", big.NewInt(3), 5, 2),
		declaredEntry("C", "0x10", 6, 0),
	}

	events, dropped, err := n.NormalizeAll(context.Background(), entries)
	require.NoError(t, err)
	assert.Len(t, events, 3)
	assert.Equal(t, 1, dropped)
	assert.Equal(t, 1, ledger.blockCalls[5], "block time fetched once per block")
	assert.Equal(t, "16", events[2].BaseUnits().String())
}

func TestNormalizeAllBlockTimeFailureAborts(t *testing.T) {
	n, ledger, _ := newTestNormalizer(t)
	ledger.failBlocks[9] = true

	entries := []models.RawLogEntry{
		declaredEntry("A", big.NewInt(1), 5, 0),
		declaredEntry("A", big.NewInt(2), 9, 0),
	}

	events, _, err := n.NormalizeAll(context.Background(), entries)
	require.Error(t, err)
	assert.Nil(t, events)
	assert.ErrorIs(t, err, ErrBlockTimeUnavailable)
	assert.True(t, utils.HasCode(err, utils.ErrCodeBlockchain))
}

func TestNormalizeAllUndecodedEntryIsDropped(t *testing.T) {
	n, _, _ := newTestNormalizer(t)

	entries := []models.RawLogEntry{
		declaredEntry("A", big.NewInt(1), 5, 0),
		{Kind: models.EventKindDeclared, BlockNumber: 5, LogIndex: 1},
	}

	events, dropped, err := n.NormalizeAll(context.Background(), entries)
	require.NoError(t, err)
	assert.Len(t, events, 1)
	assert.Equal(t, 1, dropped)
}

func TestParseHash(t *testing.T) {
	want := common.HexToHash("0x0102")

	for _, raw := range []interface{}{want, [32]byte(want), want.Bytes(), want.Hex(), want.Hex()[2:]} {
		got, err := ParseHash(raw)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseHash(42)
	assert.ErrorIs(t, err, ErrBadRequestTxHash)
}

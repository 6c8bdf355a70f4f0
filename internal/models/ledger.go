package models

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EventKind names the two ledger events the sync consumes
type EventKind string

const (
	EventKindDeclared EventKind = "BountyDeclared"
	EventKindClosed   EventKind = "BountyPaid"
)

// EventKinds lists the kinds fetched on every run, in query order
var EventKinds = []EventKind{EventKindDeclared, EventKindClosed}

// Event argument names as they appear in decoded logs
const (
	ArgTheorem       = "theorem"
	ArgValue         = "value"
	ArgRequestTxHash = "requestTxHash"
)

// RawLogEntry is one decoded log as returned by the ledger
type RawLogEntry struct {
	Kind        EventKind              `json:"kind"`
	BlockNumber uint64                 `json:"block_number"`
	LogIndex    uint                   `json:"log_index"`
	BlockHash   common.Hash            `json:"block_hash"`
	TxHash      common.Hash            `json:"tx_hash"`
	EventArgs   map[string]interface{} `json:"event_args"`
}

// OrderKey is the total order of events on the ledger
type OrderKey struct {
	BlockNumber uint64
	LogIndex    uint
}

// Less orders by block number, then log index
func (k OrderKey) Less(other OrderKey) bool {
	if k.BlockNumber != other.BlockNumber {
		return k.BlockNumber < other.BlockNumber
	}
	return k.LogIndex < other.LogIndex
}

// Key returns the order key of the entry
func (e *RawLogEntry) Key() OrderKey {
	return OrderKey{BlockNumber: e.BlockNumber, LogIndex: e.LogIndex}
}

// CanonicalEvent is either a DeclaredEvent or a ClosedEvent.
type CanonicalEvent interface {
	Key() OrderKey
	TheoremKey() string
	BaseUnits() *big.Int
	Time() time.Time

	canonical()
}

// DeclaredEvent opens (or re-declares) a bounty on a theorem
type DeclaredEvent struct {
	Order           OrderKey
	Theorem         string
	AmountBaseUnits *big.Int
	OccurredAt      time.Time
}

// ClosedEvent records a paid bounty together with the accepted proof
type ClosedEvent struct {
	Order           OrderKey
	Theorem         string
	AmountBaseUnits *big.Int
	Proof           string
	RequestTxHash   common.Hash
	OccurredAt      time.Time
}

func (e *DeclaredEvent) Key() OrderKey       { return e.Order }
func (e *DeclaredEvent) TheoremKey() string  { return e.Theorem }
func (e *DeclaredEvent) BaseUnits() *big.Int { return e.AmountBaseUnits }
func (e *DeclaredEvent) Time() time.Time     { return e.OccurredAt }
func (*DeclaredEvent) canonical()            {}

func (e *ClosedEvent) Key() OrderKey       { return e.Order }
func (e *ClosedEvent) TheoremKey() string  { return e.Theorem }
func (e *ClosedEvent) BaseUnits() *big.Int { return e.AmountBaseUnits }
func (e *ClosedEvent) Time() time.Time     { return e.OccurredAt }
func (*ClosedEvent) canonical()            {}

// LedgerTransaction is the subset of a transaction the normalizer needs
type LedgerTransaction struct {
	Hash        common.Hash
	From        common.Address
	To          *common.Address
	Input       []byte
	BlockNumber *big.Int // nil while pending
}

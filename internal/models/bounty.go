package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// BountyStatus is the lifecycle state of a bounty
type BountyStatus string

const (
	BountyStatusOpen   BountyStatus = "open"
	BountyStatusClosed BountyStatus = "closed"
)

// Valid reports whether s is a known status
func (s BountyStatus) Valid() bool {
	return s == BountyStatusOpen || s == BountyStatusClosed
}

// BountyRecord is the persisted bounty row, keyed by theorem text
type BountyRecord struct {
	ID        int64           `json:"id" db:"id"`
	Theorem   string          `json:"theorem" db:"theorem"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`
	Status    BountyStatus    `json:"status" db:"status"`
	Proof     *string         `json:"proof,omitempty" db:"proof"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// SameState reports whether r already holds the reconciled fields of other.
// ID and CreatedAt are not compared.
func (r *BountyRecord) SameState(other *BountyRecord) bool {
	if r == nil || other == nil {
		return r == other
	}
	if r.Theorem != other.Theorem || r.Status != other.Status {
		return false
	}
	if !r.Amount.Equal(other.Amount) || !r.UpdatedAt.Equal(other.UpdatedAt) {
		return false
	}
	switch {
	case r.Proof == nil && other.Proof == nil:
		return true
	case r.Proof == nil || other.Proof == nil:
		return false
	default:
		return *r.Proof == *other.Proof
	}
}

// SyncRun is the audit row written by every committed reconciliation run
type SyncRun struct {
	ID              int64     `json:"id" db:"id"`
	FromBlock       uint64    `json:"from_block" db:"from_block"`
	HeadBlock       uint64    `json:"head_block" db:"head_block"`
	VerifiedThrough *uint64   `json:"verified_through,omitempty" db:"verified_through"`
	OpenCount       int       `json:"open_count" db:"open_count"`
	ClosedCount     int       `json:"closed_count" db:"closed_count"`
	Inserted        int       `json:"inserted" db:"inserted"`
	Updated         int       `json:"updated" db:"updated"`
	Unchanged       int       `json:"unchanged" db:"unchanged"`
	SkippedChunks   int       `json:"skipped_chunks" db:"skipped_chunks"`
	DroppedEvents   int       `json:"dropped_events" db:"dropped_events"`
	StartedAt       time.Time `json:"started_at" db:"started_at"`
	CompletedAt     time.Time `json:"completed_at" db:"completed_at"`
}

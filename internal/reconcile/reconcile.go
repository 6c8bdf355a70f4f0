// Package reconcile plans and applies the writes that bring persisted bounty
// records in line with reconstructed ledger state.
package reconcile

import (
	"context"
	"sort"

	"github.com/smartdevs17/theorem-bounty-sync/internal/models"
	"github.com/smartdevs17/theorem-bounty-sync/internal/reconstruct"
	"github.com/smartdevs17/theorem-bounty-sync/pkg/utils"
)

// Op is the action planned for one theorem
type Op string

const (
	OpInsert    Op = "insert"
	OpUpdate    Op = "update"
	OpUnchanged Op = "unchanged"
)

// Writer is the transactional write side of the store
type Writer interface {
	UpsertByTheorem(ctx context.Context, record *models.BountyRecord) error
}

// Change is the desired record for one theorem
type Change struct {
	Op     Op
	Record models.BountyRecord
}

// Plan is the full set of changes for one run, ordered by theorem
type Plan struct {
	Changes []Change
}

// Result counts the records of a plan by operation
type Result struct {
	Inserted  int `json:"inserted"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
}

// Counts tallies the plan's changes by operation
func (p *Plan) Counts() Result {
	var r Result
	for _, c := range p.Changes {
		switch c.Op {
		case OpInsert:
			r.Inserted++
		case OpUpdate:
			r.Updated++
		default:
			r.Unchanged++
		}
	}
	return r
}

// BuildPlan compares reconstructed state with existing records. Records for
// theorems absent from state never appear in the plan.
func BuildPlan(state *reconstruct.State, existing []models.BountyRecord) *Plan {
	byTheorem := make(map[string]*models.BountyRecord, len(existing))
	for i := range existing {
		byTheorem[existing[i].Theorem] = &existing[i]
	}

	plan := &Plan{Changes: make([]Change, 0, len(state.Open)+len(state.Closed))}

	for theorem, open := range state.Open {
		desired := models.BountyRecord{
			Theorem:   theorem,
			Amount:    open.Amount,
			Status:    models.BountyStatusOpen,
			CreatedAt: open.CreatedAt,
			UpdatedAt: open.CreatedAt,
		}
		plan.Changes = append(plan.Changes, diff(desired, byTheorem[theorem]))
	}

	for theorem, closed := range state.Closed {
		proof := closed.Proof
		desired := models.BountyRecord{
			Theorem:   theorem,
			Amount:    closed.Amount,
			Status:    models.BountyStatusClosed,
			Proof:     &proof,
			CreatedAt: closed.ClosedAt,
			UpdatedAt: closed.ClosedAt,
		}
		plan.Changes = append(plan.Changes, diff(desired, byTheorem[theorem]))
	}

	sort.Slice(plan.Changes, func(i, j int) bool {
		return plan.Changes[i].Record.Theorem < plan.Changes[j].Record.Theorem
	})
	return plan
}

func diff(desired models.BountyRecord, current *models.BountyRecord) Change {
	if current == nil {
		return Change{Op: OpInsert, Record: desired}
	}

	desired.ID = current.ID
	desired.CreatedAt = current.CreatedAt
	if current.SameState(&desired) {
		return Change{Op: OpUnchanged, Record: *current}
	}
	return Change{Op: OpUpdate, Record: desired}
}

// Apply writes every insert and update in the plan through w, stopping at
// the first failure.
func Apply(ctx context.Context, w Writer, plan *Plan) (Result, error) {
	var result Result
	for i := range plan.Changes {
		change := &plan.Changes[i]
		if change.Op == OpUnchanged {
			result.Unchanged++
			continue
		}

		if err := ctx.Err(); err != nil {
			return result, err
		}

		if err := w.UpsertByTheorem(ctx, &change.Record); err != nil {
			return result, utils.WrapError(utils.ErrCodeDatabase,
				"Failed to upsert bounty "+change.Record.Theorem, err)
		}

		if change.Op == OpInsert {
			result.Inserted++
		} else {
			result.Updated++
		}
	}
	return result, nil
}

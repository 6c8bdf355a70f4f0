// Package reconstruct folds canonical ledger events into the current
// open and closed bounty sets.
package reconstruct

import (
	"math/big"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/smartdevs17/theorem-bounty-sync/internal/amount"
	"github.com/smartdevs17/theorem-bounty-sync/internal/models"
)

// OpenBounty is a theorem whose latest ledger state is a declaration
type OpenBounty struct {
	Amount    decimal.Decimal
	BaseUnits *big.Int
	CreatedAt time.Time
}

// ClosedBounty is a theorem that has been paid out
type ClosedBounty struct {
	Amount    decimal.Decimal
	BaseUnits *big.Int
	Proof     string
	ClosedAt  time.Time
}

// State is the reconstructed marketplace state. A theorem appears in at
// most one of the two maps.
type State struct {
	Open   map[string]OpenBounty
	Closed map[string]ClosedBounty
}

// Reconstructor converts amounts while folding events
type Reconstructor struct {
	converter *amount.Converter
}

// NewReconstructor creates a reconstructor using converter for amounts
func NewReconstructor(converter *amount.Converter) *Reconstructor {
	if converter == nil {
		converter = amount.NewConverter(amount.DefaultDecimals)
	}
	return &Reconstructor{converter: converter}
}

// SortEvents orders events by (block number, log index), keeping the input
// order of events with equal keys.
func SortEvents(events []models.CanonicalEvent) []models.CanonicalEvent {
	sorted := make([]models.CanonicalEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Key().Less(sorted[j].Key())
	})
	return sorted
}

// Reconstruct folds events in ledger order. Any payout closes a theorem for
// good; the last payout supplies amount, proof and time. Theorems that were
// only declared take the amount and time of their last declaration.
func (r *Reconstructor) Reconstruct(events []models.CanonicalEvent) (*State, error) {
	state := &State{
		Open:   make(map[string]OpenBounty),
		Closed: make(map[string]ClosedBounty),
	}

	for _, event := range SortEvents(events) {
		display, err := r.converter.FromBaseUnits(event.BaseUnits())
		if err != nil {
			return nil, err
		}

		switch e := event.(type) {
		case *models.ClosedEvent:
			delete(state.Open, e.Theorem)
			state.Closed[e.Theorem] = ClosedBounty{
				Amount:    display,
				BaseUnits: e.AmountBaseUnits,
				Proof:     e.Proof,
				ClosedAt:  e.OccurredAt,
			}
		case *models.DeclaredEvent:
			if _, closed := state.Closed[e.Theorem]; closed {
				continue
			}
			state.Open[e.Theorem] = OpenBounty{
				Amount:    display,
				BaseUnits: e.AmountBaseUnits,
				CreatedAt: e.OccurredAt,
			}
		}
	}

	return state, nil
}

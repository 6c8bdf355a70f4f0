package reconstruct

import (
	"math/big"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/theorem-bounty-sync/internal/models"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func wei(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic(s)
	}
	return v
}

func declared(theorem, amount string, block uint64, index uint) models.CanonicalEvent {
	return &models.DeclaredEvent{
		Order:           models.OrderKey{BlockNumber: block, LogIndex: index},
		Theorem:         theorem,
		AmountBaseUnits: wei(amount),
		OccurredAt:      t0.Add(time.Duration(block) * time.Hour),
	}
}

func closed(theorem, amount, proof string, block uint64, index uint) models.CanonicalEvent {
	return &models.ClosedEvent{
		Order:           models.OrderKey{BlockNumber: block, LogIndex: index},
		Theorem:         theorem,
		AmountBaseUnits: wei(amount),
		Proof:           proof,
		OccurredAt:      t0.Add(time.Duration(block) * time.Hour),
	}
}

func TestReconstructDeclaredThenClosed(t *testing.T) {
	r := NewReconstructor(nil)

	state, err := r.Reconstruct([]models.CanonicalEvent{
		closed("T1", "2000000000000000000", "p", 20, 0),
		declared("T1", "2000000000000000000", 10, 0),
	})
	require.NoError(t, err)

	assert.Empty(t, state.Open)
	require.Contains(t, state.Closed, "T1")
	assert.True(t, decimal.RequireFromString("2").Equal(state.Closed["T1"].Amount))
	assert.Equal(t, "p", state.Closed["T1"].Proof)
	assert.True(t, t0.Add(20*time.Hour).Equal(state.Closed["T1"].ClosedAt))
}

func TestReconstructOnlyDeclared(t *testing.T) {
	r := NewReconstructor(nil)

	state, err := r.Reconstruct([]models.CanonicalEvent{declared("T1", "2000000000000000000", 10, 0)})
	require.NoError(t, err)

	assert.Empty(t, state.Closed)
	assert.True(t, decimal.RequireFromString("2.0").Equal(state.Open["T1"].Amount))
	assert.True(t, t0.Add(10*time.Hour).Equal(state.Open["T1"].CreatedAt))
}

func TestReconstructLastDeclarationReplaces(t *testing.T) {
	r := NewReconstructor(nil)

	state, err := r.Reconstruct([]models.CanonicalEvent{
		declared("T1", "1000000000000000000", 5, 1),
		declared("T1", "3000000000000000000", 5, 2),
	})
	require.NoError(t, err)

	assert.True(t, decimal.RequireFromString("3").Equal(state.Open["T1"].Amount))
	assert.True(t, t0.Add(5*time.Hour).Equal(state.Open["T1"].CreatedAt))
}

func TestReconstructClosedWinsOverLaterDeclaration(t *testing.T) {
	r := NewReconstructor(nil)

	state, err := r.Reconstruct([]models.CanonicalEvent{
		declared("T1", "1", 1, 0),
		closed("T1", "1", "first", 2, 0),
		declared("T1", "7", 3, 0),
		closed("T1", "5", "second", 4, 0),
		declared("T1", "9", 5, 0),
	})
	require.NoError(t, err)

	assert.NotContains(t, state.Open, "T1")
	assert.Equal(t, "second", state.Closed["T1"].Proof)
	assert.Equal(t, "5", state.Closed["T1"].BaseUnits.String())
}

func TestReconstructClosedWithoutDeclaration(t *testing.T) {
	r := NewReconstructor(nil)

	state, err := r.Reconstruct([]models.CanonicalEvent{closed("T9", "0", "orphan", 3, 0)})
	require.NoError(t, err)

	assert.Empty(t, state.Open)
	assert.True(t, state.Closed["T9"].Amount.IsZero())
}

func TestReconstructEmpty(t *testing.T) {
	state, err := NewReconstructor(nil).Reconstruct(nil)
	require.NoError(t, err)
	assert.Empty(t, state.Open)
	assert.Empty(t, state.Closed)
}

func TestReconstructOrderIndependent(t *testing.T) {
	events := []models.CanonicalEvent{
		declared("A", "100", 1, 0),
		declared("B", "200", 1, 1),
		declared("A", "150", 2, 0),
		closed("B", "200", "pb", 3, 0),
		declared("C", "300", 3, 1),
		declared("B", "999", 4, 0),
		declared("D", "1", 4, 1),
		closed("D", "1", "pd1", 5, 0),
		closed("D", "2", "pd2", 5, 1),
	}

	r := NewReconstructor(nil)
	expected, err := r.Reconstruct(events)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 20; i++ {
		shuffled := make([]models.CanonicalEvent, len(events))
		copy(shuffled, events)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

		got, err := r.Reconstruct(shuffled)
		require.NoError(t, err)
		assert.Equal(t, expected, got)
	}

	assert.Equal(t, "150", expected.Open["A"].BaseUnits.String())
	assert.Equal(t, "pd2", expected.Closed["D"].Proof)
	assert.Len(t, expected.Open, 2)
	assert.Len(t, expected.Closed, 2)
}

func TestReconstructRejectsNegativeAmount(t *testing.T) {
	_, err := NewReconstructor(nil).Reconstruct([]models.CanonicalEvent{declared("A", "-1", 1, 0)})
	assert.Error(t, err)
}

func TestSortEventsIsStable(t *testing.T) {
	first := declared("A", "1", 1, 0)
	second := closed("A", "1", "p", 1, 0)

	sorted := SortEvents([]models.CanonicalEvent{second, declared("B", "1", 0, 5), first})
	assert.Equal(t, "B", sorted[0].TheoremKey())
	assert.Same(t, second, sorted[1])
	assert.Same(t, first, sorted[2])
}

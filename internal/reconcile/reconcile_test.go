package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/theorem-bounty-sync/internal/models"
	"github.com/smartdevs17/theorem-bounty-sync/internal/reconstruct"
)

var (
	declaredAt = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	closedAt   = declaredAt.Add(2 * time.Hour)
)

// memoryWriter is a theorem-keyed in-memory table
type memoryWriter struct {
	rows   map[string]models.BountyRecord
	nextID int64
	failOn string
	calls  int
}

func newMemoryWriter(existing ...models.BountyRecord) *memoryWriter {
	w := &memoryWriter{rows: make(map[string]models.BountyRecord)}
	for _, r := range existing {
		w.nextID++
		r.ID = w.nextID
		w.rows[r.Theorem] = r
	}
	return w
}

func (w *memoryWriter) UpsertByTheorem(_ context.Context, record *models.BountyRecord) error {
	w.calls++
	if record.Theorem == w.failOn {
		return errors.New("disk full")
	}
	if current, ok := w.rows[record.Theorem]; ok {
		current.Amount = record.Amount
		current.Status = record.Status
		current.Proof = record.Proof
		current.UpdatedAt = record.UpdatedAt
		w.rows[record.Theorem] = current
		return nil
	}
	w.nextID++
	r := *record
	r.ID = w.nextID
	w.rows[record.Theorem] = r
	return nil
}

func (w *memoryWriter) all() []models.BountyRecord {
	out := make([]models.BountyRecord, 0, len(w.rows))
	for _, r := range w.rows {
		out = append(out, r)
	}
	return out
}

func sampleState() *reconstruct.State {
	return &reconstruct.State{
		Open: map[string]reconstruct.OpenBounty{
			"T-open": {Amount: decimal.RequireFromString("2"), CreatedAt: declaredAt},
		},
		Closed: map[string]reconstruct.ClosedBounty{
			"T-closed": {Amount: decimal.RequireFromString("1.5"), Proof: "p", ClosedAt: closedAt},
		},
	}
}

func strPtr(s string) *string { return &s }

func TestBuildPlanInsertsNewTheorems(t *testing.T) {
	plan := BuildPlan(sampleState(), nil)

	require.Len(t, plan.Changes, 2)
	assert.Equal(t, Result{Inserted: 2}, plan.Counts())

	closedChange := plan.Changes[0]
	assert.Equal(t, "T-closed", closedChange.Record.Theorem)
	assert.Equal(t, models.BountyStatusClosed, closedChange.Record.Status)
	require.NotNil(t, closedChange.Record.Proof)
	assert.Equal(t, "p", *closedChange.Record.Proof)
	assert.True(t, closedAt.Equal(closedChange.Record.CreatedAt))
	assert.True(t, closedAt.Equal(closedChange.Record.UpdatedAt))

	openChange := plan.Changes[1]
	assert.Equal(t, models.BountyStatusOpen, openChange.Record.Status)
	assert.Nil(t, openChange.Record.Proof)
	assert.True(t, declaredAt.Equal(openChange.Record.UpdatedAt))
}

func TestBuildPlanOverwritesStub(t *testing.T) {
	stubCreated := declaredAt.Add(-24 * time.Hour)
	existing := []models.BountyRecord{{
		ID:        7,
		Theorem:   "T-closed",
		Amount:    decimal.Zero,
		Status:    models.BountyStatusOpen,
		CreatedAt: stubCreated,
		UpdatedAt: stubCreated,
	}}

	plan := BuildPlan(sampleState(), existing)
	assert.Equal(t, Result{Inserted: 1, Updated: 1}, plan.Counts())

	update := plan.Changes[0]
	assert.Equal(t, OpUpdate, update.Op)
	assert.Equal(t, int64(7), update.Record.ID)
	assert.True(t, stubCreated.Equal(update.Record.CreatedAt), "createdAt preserved")
	assert.True(t, closedAt.Equal(update.Record.UpdatedAt))
	assert.True(t, decimal.RequireFromString("1.5").Equal(update.Record.Amount))
}

func TestBuildPlanReopenedClearsProof(t *testing.T) {
	existing := []models.BountyRecord{{
		Theorem:   "T-open",
		Amount:    decimal.RequireFromString("2"),
		Status:    models.BountyStatusOpen,
		Proof:     strPtr("submitted by form"),
		CreatedAt: declaredAt,
		UpdatedAt: declaredAt,
	}}

	plan := BuildPlan(&reconstruct.State{
		Open: map[string]reconstruct.OpenBounty{
			"T-open": {Amount: decimal.RequireFromString("2"), CreatedAt: declaredAt},
		},
	}, existing)

	require.Len(t, plan.Changes, 1)
	assert.Equal(t, OpUpdate, plan.Changes[0].Op)
	assert.Nil(t, plan.Changes[0].Record.Proof)
}

func TestApplyIsIdempotent(t *testing.T) {
	ctx := context.Background()
	w := newMemoryWriter()

	first, err := Apply(ctx, w, BuildPlan(sampleState(), w.all()))
	require.NoError(t, err)
	assert.Equal(t, Result{Inserted: 2}, first)
	snapshot := w.all()

	second, err := Apply(ctx, w, BuildPlan(sampleState(), w.all()))
	require.NoError(t, err)
	assert.Equal(t, Result{Unchanged: 2}, second)
	assert.Equal(t, 2, w.calls, "second run issues no writes")
	assert.ElementsMatch(t, snapshot, w.all())
}

func TestApplyLeavesAbsentTheoremsUntouched(t *testing.T) {
	orphan := models.BountyRecord{
		Theorem:   "T-orphan",
		Amount:    decimal.RequireFromString("42"),
		Status:    models.BountyStatusOpen,
		CreatedAt: declaredAt,
		UpdatedAt: declaredAt,
	}
	w := newMemoryWriter(orphan)
	before := w.rows["T-orphan"]

	plan := BuildPlan(sampleState(), w.all())
	for _, c := range plan.Changes {
		assert.NotEqual(t, "T-orphan", c.Record.Theorem)
	}

	_, err := Apply(context.Background(), w, plan)
	require.NoError(t, err)
	assert.Equal(t, before, w.rows["T-orphan"])
	assert.Len(t, w.rows, 3)
}

func TestApplyStopsOnWriteFailure(t *testing.T) {
	w := newMemoryWriter()
	w.failOn = "T-closed"

	result, err := Apply(context.Background(), w, BuildPlan(sampleState(), nil))
	require.Error(t, err)
	assert.Equal(t, Result{}, result)
	assert.Equal(t, 1, w.calls)
}

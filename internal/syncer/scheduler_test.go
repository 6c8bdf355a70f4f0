package syncer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startScheduler runs s until the test ends and returns a stop func that
// cancels it and waits for Start to return
func startScheduler(t *testing.T, s *Scheduler) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	var once sync.Once
	stop = func() {
		once.Do(func() {
			cancel()
			select {
			case <-done:
			case <-time.After(2 * time.Second):
				t.Fatal("scheduler did not stop")
			}
		})
	}
	t.Cleanup(stop)
	return stop
}

func TestSchedulerRejectsOverlappingTrigger(t *testing.T) {
	f := newFixture(t, 12)
	f.ledger.declare("T1", ether(1), 4, 0)
	f.ledger.block = make(chan struct{})
	f.ledger.entered = make(chan struct{})

	s := NewScheduler(f.driver, time.Hour, 0, func() (uint64, error) { return 0, nil })
	startScheduler(t, s)

	<-f.ledger.entered
	assert.True(t, s.Running())
	assert.ErrorIs(t, s.TriggerSync(), ErrRunInProgress)

	close(f.ledger.block)
	require.Eventually(t, func() bool { return !s.Running() }, 2*time.Second, 10*time.Millisecond)

	report, err := s.LastReport()
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Equal(t, 1, report.OpenCount)
}

func TestSchedulerRecordsCheckpointError(t *testing.T) {
	f := newFixture(t, 12)
	bad := errors.New("invalid checkpoint")
	s := NewScheduler(f.driver, time.Hour, time.Second, func() (uint64, error) { return 0, bad })
	startScheduler(t, s)

	require.Eventually(t, func() bool {
		_, err := s.LastReport()
		return err != nil
	}, 2*time.Second, 10*time.Millisecond)

	report, err := s.LastReport()
	assert.Nil(t, report)
	assert.ErrorIs(t, err, bad)
}

func TestSchedulerStartStopsWithContext(t *testing.T) {
	f := newFixture(t, 3)
	s := NewScheduler(f.driver, 20*time.Millisecond, time.Second, func() (uint64, error) { return 0, nil })
	stop := startScheduler(t, s)

	require.Eventually(t, func() bool {
		report, _ := s.LastReport()
		return report != nil
	}, 2*time.Second, 10*time.Millisecond)

	stop()
}

func TestSchedulerTriggerOutsideStart(t *testing.T) {
	f := newFixture(t, 3)
	s := NewScheduler(f.driver, time.Hour, time.Second, func() (uint64, error) { return 0, nil })

	assert.ErrorIs(t, s.TriggerSync(), ErrSchedulerNotRunning)

	stop := startScheduler(t, s)
	require.Eventually(t, func() bool {
		report, _ := s.LastReport()
		return report != nil
	}, 2*time.Second, 10*time.Millisecond)
	stop()

	assert.ErrorIs(t, s.TriggerSync(), ErrSchedulerNotRunning)
	assert.False(t, s.Running())
}

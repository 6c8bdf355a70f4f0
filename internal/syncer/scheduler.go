package syncer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/theorem-bounty-sync/pkg/utils"
)

// ErrSchedulerNotRunning is returned by TriggerSync before Start or after
// its context is done
var ErrSchedulerNotRunning = errors.New("scheduler is not running")

// CheckpointFunc resolves the start block for the next run
type CheckpointFunc func() (uint64, error)

// Scheduler runs the driver on a fixed interval and on demand. At most one
// run is in flight; triggers that arrive meanwhile are rejected.
type Scheduler struct {
	driver     *Driver
	interval   time.Duration
	runTimeout time.Duration
	checkpoint CheckpointFunc
	logger     *logrus.Entry

	inFlight atomic.Bool
	wg       sync.WaitGroup

	// mu guards the lifecycle fields; wg.Add only happens under it while
	// running, so Start's final Wait never races a new run
	mu      sync.RWMutex
	baseCtx context.Context
	running bool
	last    *Report
	lastErr error
}

// NewScheduler creates a scheduler. A zero runTimeout means no timeout.
func NewScheduler(driver *Driver, interval, runTimeout time.Duration, checkpoint CheckpointFunc) *Scheduler {
	return &Scheduler{
		driver:     driver,
		interval:   interval,
		runTimeout: runTimeout,
		checkpoint: checkpoint,
		logger:     utils.ComponentLogger("scheduler"),
	}
}

// Start runs immediately and then on every tick until ctx is done. It
// waits for an in-flight run before returning.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.baseCtx = ctx
	s.running = true
	s.mu.Unlock()

	s.logger.WithField("interval", s.interval).Info("Scheduler started")

	s.TriggerSync()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
			s.wg.Wait()
			s.logger.Info("Scheduler stopped")
			return
		case <-ticker.C:
			if err := s.TriggerSync(); err != nil {
				s.logger.Warn("Previous sync run still in progress, skipping tick")
			}
		}
	}
}

// TriggerSync starts a run in the background. It returns ErrRunInProgress
// while a run is in flight and ErrSchedulerNotRunning outside Start.
func (s *Scheduler) TriggerSync() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return ErrSchedulerNotRunning
	}
	if !s.inFlight.CompareAndSwap(false, true) {
		return ErrRunInProgress
	}

	ctx := s.baseCtx
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.inFlight.Store(false)
		s.runOnce(ctx)
	}()
	return nil
}

// Running reports whether a run is in flight
func (s *Scheduler) Running() bool {
	return s.inFlight.Load()
}

// LastReport returns the outcome of the most recent run
func (s *Scheduler) LastReport() (*Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last, s.lastErr
}

func (s *Scheduler) runOnce(ctx context.Context) {
	fromBlock, err := s.checkpoint()
	if err != nil {
		s.setLast(nil, err)
		s.logger.WithError(err).Error("Cannot resolve checkpoint")
		return
	}

	if s.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.runTimeout)
		defer cancel()
	}

	report, err := s.driver.TryRun(ctx, fromBlock)
	s.setLast(report, err)
	if err != nil {
		s.logger.WithError(err).Error("Scheduled sync run failed")
	}
}

func (s *Scheduler) setLast(report *Report, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = err
	if report != nil {
		s.last = report
	}
}

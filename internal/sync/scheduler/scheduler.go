// Package scheduler drives background sweeps of the sync queue.
//
// Wake requests are coalesced: however many arrive while a sweep runs, at
// most one follow-up sweep is queued.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/kimhsiao/fieldsync/backend/internal/logging"
)

// SweepFunc runs one sweep. The scheduler never runs two concurrently.
type SweepFunc func(ctx context.Context)

// SchedulerConfig holds scheduler configuration.
type SchedulerConfig struct {
	Interval time.Duration // Safety-net sweep period (default: 5 minutes)
}

// DefaultSchedulerConfig returns default scheduler configuration.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		Interval: 5 * time.Minute,
	}
}

// Scheduler runs a SweepFunc on a timer and on demand.
type Scheduler struct {
	sweep    SweepFunc
	interval time.Duration

	wakeCh chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu        sync.Mutex
	isRunning bool
	timer     *time.Timer
	deadline  time.Time
	lastRun   time.Time
	runs      int
}

// SchedulerStatus is a snapshot of the scheduler.
type SchedulerStatus struct {
	IsRunning   bool
	Interval    time.Duration
	LastRunTime *time.Time
	NextWake    *time.Time
	Runs        int
}

// NewScheduler creates a Scheduler. A nil config uses the defaults.
func NewScheduler(sweep SweepFunc, config *SchedulerConfig) *Scheduler {
	if config == nil {
		config = DefaultSchedulerConfig()
	}
	interval := config.Interval
	if interval <= 0 {
		interval = DefaultSchedulerConfig().Interval
	}

	return &Scheduler{
		sweep:    sweep,
		interval: interval,
		wakeCh:   make(chan struct{}, 1),
	}
}

// Start launches the sweep loop. It is a no-op when already running.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(ctx, stopCh)

	logging.Info("Background sync scheduler started", map[string]interface{}{
		"interval_seconds": s.interval.Seconds(),
	})
}

// Stop halts the loop, cancels any delayed wake and waits for an in-flight sweep.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	close(s.stopCh)
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
		s.deadline = time.Time{}
	}
	s.mu.Unlock()

	s.wg.Wait()

	logging.Info("Background sync scheduler stopped", nil)
}

// Wake requests a sweep as soon as the loop is free. Never blocks.
func (s *Scheduler) Wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
		// A wake is already pending.
	}
}

// WakeAfter requests a sweep after d. When a delayed wake is already pending,
// the earlier of the two deadlines wins.
func (s *Scheduler) WakeAfter(d time.Duration) {
	if d <= 0 {
		s.Wake()
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return
	}

	deadline := time.Now().Add(d)
	if s.timer != nil && !s.deadline.After(deadline) {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}

	s.deadline = deadline
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		s.mu.Lock()
		if s.timer == t {
			s.timer = nil
			s.deadline = time.Time{}
		}
		s.mu.Unlock()
		s.Wake()
	})
	s.timer = t
}

func (s *Scheduler) loop(ctx context.Context, stopCh chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			s.run(ctx)
		case <-s.wakeCh:
			s.run(ctx)
		}
	}
}

func (s *Scheduler) run(ctx context.Context) {
	s.sweep(ctx)

	s.mu.Lock()
	s.lastRun = time.Now()
	s.runs++
	s.mu.Unlock()
}

// GetStatus returns the current status of the scheduler.
func (s *Scheduler) GetStatus() SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := SchedulerStatus{
		IsRunning: s.isRunning,
		Interval:  s.interval,
		Runs:      s.runs,
	}
	if !s.lastRun.IsZero() {
		last := s.lastRun
		status.LastRunTime = &last
	}
	if !s.deadline.IsZero() {
		next := s.deadline
		status.NextWake = &next
	}
	return status
}

// IsRunning returns whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

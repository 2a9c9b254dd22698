package sync

import (
	"context"
	"fmt"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultInterval is the period between scheduled runs
const DefaultInterval = time.Hour

// Job is the unit of work the scheduler repeats
type Job interface {
	Run(ctx context.Context) (Report, error)
}

// SchedulerState is Stopped or Running
type SchedulerState string

const (
	StateStopped SchedulerState = "stopped"
	StateRunning SchedulerState = "running"
)

// SchedulerStatus is a snapshot of scheduler activity
type SchedulerStatus struct {
	State        SchedulerState `json:"state"`
	Interval     string         `json:"interval"`
	InFlight     bool           `json:"in_flight"`
	Runs         int64          `json:"runs"`
	SkippedTicks int64          `json:"skipped_ticks"`
	LastRunAt    *time.Time     `json:"last_run_at,omitempty"`
	LastFetched  int            `json:"last_fetched"`
	LastInserted int            `json:"last_inserted"`
	LastError    string         `json:"last_error,omitempty"`
}

// SchedulerConfig tunes a Scheduler
type SchedulerConfig struct {
	Interval   time.Duration
	RunOnStart bool
	Logger     logrus.FieldLogger
}

// Scheduler runs a Job on a fixed interval. A tick that fires while the previous
// scheduled run is still in flight is skipped.
type Scheduler struct {
	job        Job
	interval   time.Duration
	runOnStart bool
	log        logrus.FieldLogger

	mu       gosync.Mutex
	running  bool
	cancel   context.CancelFunc
	loopDone chan struct{}
	status   SchedulerStatus

	busy     atomic.Bool
	inFlight gosync.WaitGroup
}

// NewScheduler creates a stopped scheduler for job
func NewScheduler(job Job, cfg SchedulerConfig) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	return &Scheduler{
		job:        job,
		interval:   cfg.Interval,
		runOnStart: cfg.RunOnStart,
		log:        cfg.Logger.WithField("component", "scheduler"),
		status:     SchedulerStatus{State: StateStopped, Interval: cfg.Interval.String()},
	}
}

// Start registers the recurring job
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true
	s.loopDone = make(chan struct{})
	s.status.State = StateRunning

	go s.loop(ctx, s.loopDone)

	s.log.WithField("interval", s.interval.String()).Info("scheduler started")
	return nil
}

// Stop cancels the timer. A run already in flight finishes on its own; use Wait to block on it.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.running = false
	s.status.State = StateStopped
	done := s.loopDone
	s.mu.Unlock()

	<-done
	s.log.Info("scheduler stopped")
}

// Wait blocks until every scheduled run in flight has returned
func (s *Scheduler) Wait() {
	s.inFlight.Wait()
}

// IsRunning reports whether the timer is registered
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Status returns a snapshot of scheduler activity
func (s *Scheduler) Status() SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status
	st.InFlight = s.busy.Load()
	return st
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	if s.runOnStart {
		s.tick(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if !s.busy.CompareAndSwap(false, true) {
		s.mu.Lock()
		s.status.SkippedTicks++
		s.mu.Unlock()
		s.log.Warn("previous retrieval still in flight, skipping tick")
		return
	}

	s.inFlight.Add(1)
	go func() {
		defer s.inFlight.Done()
		defer s.busy.Store(false)
		// stopping the scheduler must not interrupt this run
		s.runOnce(context.WithoutCancel(ctx))
	}()
}

func (s *Scheduler) runOnce(ctx context.Context) {
	var (
		report Report
		err    error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic in scheduled run: %v", r)
			}
		}()
		report, err = s.job.Run(ctx)
	}()

	now := time.Now()
	s.mu.Lock()
	s.status.Runs++
	s.status.LastRunAt = &now
	s.status.LastFetched = report.Fetched
	s.status.LastInserted = report.Inserted
	s.status.LastError = ""
	if err != nil {
		s.status.LastError = err.Error()
	}
	s.mu.Unlock()

	if err != nil {
		s.log.WithError(err).Error("scheduled retrieval failed")
		return
	}
	s.log.WithFields(logrus.Fields{
		"run_id":   report.RunID,
		"fetched":  report.Fetched,
		"inserted": report.Inserted,
	}).Info("scheduled retrieval finished")
}

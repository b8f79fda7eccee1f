// Package scheduler owns the market-calendar-gated control loop. A single
// loop re-evaluates market state every five minutes: while the market is
// open it keeps the recurring jobs (pipeline, executor, reconciler) ticking,
// each fired immediately once and then on its own interval; when the market
// closes the jobs are stopped. A separate daily timer refreshes the broker
// session at a fixed wall-clock time.
//
// Overlapping firings of the same job are skipped via a per-job TryLock:
// a pipeline run that outlives its interval must not double-count the daily
// signal cap.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"signalbot/internal/markethours"
	"signalbot/internal/notify"
)

// Job is one recurring unit of scheduled work.
type Job func(ctx context.Context) error

// SessionRefresher renews the broker session once per day.
type SessionRefresher interface {
	Refresh(ctx context.Context) error
}

// Config holds scheduler settings.
type Config struct {
	ControlInterval time.Duration // market re-evaluation cadence, default 5m

	// Daily session refresh wall-clock time (IST). Zero values disable it.
	RefreshHour   int
	RefreshMinute int
}

type job struct {
	name     string
	interval time.Duration
	run      Job
	mu       sync.Mutex // TryLock guard against overlapping firings
}

// Scheduler starts and stops the recurring jobs around market hours.
type Scheduler struct {
	cfg      Config
	notifier notify.Notifier
	session  SessionRefresher // nil disables the refresh timer
	now      func() time.Time

	jobs []*job

	mu         sync.Mutex
	running    bool
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	jobsCancel context.CancelFunc
	jobsWG     *sync.WaitGroup
}

// New creates a stopped scheduler.
func New(cfg Config, notifier notify.Notifier, session SessionRefresher) *Scheduler {
	if cfg.ControlInterval == 0 {
		cfg.ControlInterval = 5 * time.Minute
	}
	return &Scheduler{
		cfg:      cfg,
		notifier: notifier,
		session:  session,
		now:      time.Now,
	}
}

// SetClock overrides the scheduler clock.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}

// AddJob registers a recurring job. Must be called before Start.
func (s *Scheduler) AddJob(name string, interval time.Duration, run Job) {
	s.jobs = append(s.jobs, &job{name: name, interval: interval, run: run})
}

// Start launches the control loop and the daily refresh timer.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler: already running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true

	s.wg.Add(1)
	go s.controlLoop(ctx)

	if s.session != nil && (s.cfg.RefreshHour != 0 || s.cfg.RefreshMinute != 0) {
		s.wg.Add(1)
		go s.refreshLoop(ctx)
	}

	log.Printf("[scheduler] started, %d jobs registered", len(s.jobs))
	return nil
}

// Stop halts the control loop and all jobs, waiting for in-flight firings.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	log.Printf("[scheduler] stopped")
}

// IsRunning reports whether the control loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// TriggerJob fires one registered job immediately, honoring the overlap
// guard. Serves the manual admin trigger.
func (s *Scheduler) TriggerJob(ctx context.Context, name string) error {
	for _, j := range s.jobs {
		if j.name != name {
			continue
		}
		if !j.mu.TryLock() {
			return fmt.Errorf("scheduler: job %s already running", name)
		}
		defer j.mu.Unlock()
		return j.run(ctx)
	}
	return fmt.Errorf("scheduler: unknown job %s", name)
}

// JobNames lists the registered job names.
func (s *Scheduler) JobNames() []string {
	names := make([]string, 0, len(s.jobs))
	for _, j := range s.jobs {
		names = append(names, j.name)
	}
	return names
}

// controlLoop re-evaluates market state on the control interval, starting
// and stopping the job tickers around open/close transitions.
func (s *Scheduler) controlLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.ControlInterval)
	defer ticker.Stop()

	wasOpen := false
	evaluate := func() {
		open := markethours.IsMarketOpen(s.now())

		if open && s.jobsWG == nil {
			s.startJobs(ctx)
		}
		if !open && s.jobsWG != nil {
			s.stopJobs()
		}

		if open != wasOpen {
			state := "closed"
			if open {
				state = "open"
			}
			log.Printf("[scheduler] market %s", state)
			if err := s.notifier.SendSystemAlert(ctx, notify.AlertInfo,
				"Market is now "+state); err != nil {
				log.Printf("[scheduler] alert: %v", err)
			}
			wasOpen = open
		}
	}

	evaluate()
	for {
		select {
		case <-ctx.Done():
			if s.jobsWG != nil {
				s.stopJobs()
			}
			return
		case <-ticker.C:
			evaluate()
		}
	}
}

// startJobs launches one ticker goroutine per job. Each job fires once
// immediately, then on its interval. jobsWG/jobsCancel are only touched from
// the control loop goroutine.
func (s *Scheduler) startJobs(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	wg := &sync.WaitGroup{}
	s.jobsCancel = cancel
	s.jobsWG = wg

	for _, j := range s.jobs {
		wg.Add(1)
		go func(j *job) {
			defer wg.Done()

			fire := func() {
				if !j.mu.TryLock() {
					log.Printf("[scheduler] job %s still running, skipping firing", j.name)
					return
				}
				defer j.mu.Unlock()

				start := time.Now()
				if err := j.run(ctx); err != nil {
					log.Printf("[scheduler] job %s: %v", j.name, err)
				}
				log.Printf("[scheduler] job %s took %v", j.name, time.Since(start).Round(time.Millisecond))
			}

			ticker := time.NewTicker(j.interval)
			defer ticker.Stop()

			fire()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					fire()
				}
			}
		}(j)
	}
	log.Printf("[scheduler] jobs started")
}

func (s *Scheduler) stopJobs() {
	s.jobsCancel()
	s.jobsWG.Wait()
	s.jobsCancel = nil
	s.jobsWG = nil
	log.Printf("[scheduler] jobs stopped")
}

// refreshLoop fires the session refresh once per calendar day at the
// configured wall-clock time, rescheduling regardless of outcome.
func (s *Scheduler) refreshLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		next := markethours.NextTimeOfDay(s.now(), s.cfg.RefreshHour, s.cfg.RefreshMinute)
		timer := time.NewTimer(next.Sub(s.now()))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if err := s.session.Refresh(ctx); err != nil {
				log.Printf("[scheduler] session refresh: %v", err)
				if err := s.notifier.SendSystemAlert(ctx, notify.AlertWarning,
					fmt.Sprintf("Session refresh failed: %v", err)); err != nil {
					log.Printf("[scheduler] alert: %v", err)
				}
			}
		}
	}
}

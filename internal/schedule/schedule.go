// Package schedule runs the periodic refresh jobs on cron specs.
package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "startpage/internal/log"
)

// Job is one refresh pipeline. Run errors are logged and never stop the
// scheduler or other jobs.
type Job struct {
	Name string
	Spec string
	Run  func(ctx context.Context) error
}

// Scheduler owns the cron runner.
type Scheduler struct {
	jobs    []Job
	cron    *cron.Cron
	timeout time.Duration

	ctx context.Context

	mu      sync.Mutex
	running map[string]bool
}

// New validates every spec and registers the jobs. timeout bounds each run
// (zero means no bound beyond the parent context).
func New(loc *time.Location, timeout time.Duration, jobs ...Job) (*Scheduler, error) {
	if loc == nil {
		loc = time.Local
	}
	s := &Scheduler{
		jobs:    jobs,
		cron:    cron.New(cron.WithLocation(loc)),
		timeout: timeout,
		running: make(map[string]bool),
	}
	for _, j := range jobs {
		if _, err := s.cron.AddFunc(j.Spec, func() { s.run(s.ctx, j) }); err != nil {
			return nil, fmt.Errorf("schedule %s %q: %w", j.Name, j.Spec, err)
		}
	}
	return s, nil
}

// Start runs every job once right away, concurrently, and then on its spec
// until ctx is done. Call it once; Stop waits for cron-triggered runs.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx = ctx
	for _, j := range s.jobs {
		go s.run(ctx, j)
	}
	s.cron.Start()
	appLog.Info("scheduler started", "jobs", len(s.jobs))
}

// Stop halts the cron runner and waits for running cron-triggered jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	appLog.Info("scheduler stopped")
}

// RunAll runs every job once concurrently and waits for all of them.
func (s *Scheduler) RunAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, j := range s.jobs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.run(ctx, j)
		}()
	}
	wg.Wait()
}

// run executes j unless a previous run of the same job is still going.
func (s *Scheduler) run(ctx context.Context, j Job) {
	if ctx.Err() != nil {
		return
	}
	s.mu.Lock()
	if s.running[j.Name] {
		s.mu.Unlock()
		appLog.Debug("job still running; skipping", "job", j.Name)
		return
	}
	s.running[j.Name] = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.running, j.Name)
		s.mu.Unlock()
	}()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	if err := j.Run(ctx); err != nil {
		appLog.Warn("refresh job failed", err, "job", j.Name, "elapsed", time.Since(start))
		return
	}
	appLog.Debug("refresh job done", "job", j.Name, "elapsed", time.Since(start))
}

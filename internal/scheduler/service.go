// Package scheduler runs periodic maintenance jobs: the ledger reconciliation
// sweep and the unfinished-wash report.
package scheduler

import (
	"context"
	"sync"
	"time"

	"qatmarket/internal/coordinator"
	"qatmarket/pkg/logger"
)

// Job is one periodic task. Run errors are logged and the job stays scheduled.
type Job struct {
	Name     string
	Interval time.Duration
	NextRun  time.Time
	Run      func(ctx context.Context) error

	runs int
}

type Scheduler struct {
	tick   time.Duration
	jobs   map[string]*Job
	mu     sync.Mutex
	logger logger.Logger
	stop   chan struct{}
	done   chan struct{}
	now    func() time.Time
}

func NewScheduler(tick time.Duration, log logger.Logger) *Scheduler {
	if tick <= 0 {
		tick = time.Second
	}
	return &Scheduler{
		tick:   tick,
		jobs:   make(map[string]*Job),
		logger: log,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		now:    time.Now,
	}
}

// Schedule adds or replaces job. A zero NextRun means one interval from now.
func (s *Scheduler) Schedule(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job.NextRun.IsZero() {
		job.NextRun = s.now().Add(job.Interval)
	}
	s.jobs[job.Name] = job
	s.logger.Info("Scheduled job", map[string]interface{}{
		"job":      job.Name,
		"interval": job.Interval.String(),
	})
}

// Runs reports how many times the named job has finished.
func (s *Scheduler) Runs(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[name]; ok {
		return j.runs
	}
	return 0
}

func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	go func() {
		defer close(s.done)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.runDue(ctx)
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			}
		}
	}()
	s.logger.Info("Scheduler started", nil)
}

// Stop waits for an in-flight job to finish.
func (s *Scheduler) Stop() {
	close(s.stop)
	<-s.done
}

// runDue runs jobs one after another so two sweeps never overlap.
func (s *Scheduler) runDue(ctx context.Context) {
	now := s.now()
	s.mu.Lock()
	var due []*Job
	for _, job := range s.jobs {
		if !now.Before(job.NextRun) {
			due = append(due, job)
			job.NextRun = now.Add(job.Interval)
		}
	}
	s.mu.Unlock()

	for _, job := range due {
		start := time.Now()
		err := job.Run(ctx)

		s.mu.Lock()
		job.runs++
		s.mu.Unlock()

		if err != nil {
			s.logger.Error("Scheduled job failed", map[string]interface{}{
				"job":   job.Name,
				"error": err.Error(),
			})
			continue
		}
		s.logger.Debug("Scheduled job finished", map[string]interface{}{
			"job":         job.Name,
			"duration_ms": time.Since(start).Milliseconds(),
		})
	}
}

// ReconcileJob sweeps every wallet. Inconsistent wallets are frozen by the
// coordinator; repair is left to an operator.
func ReconcileJob(coord *coordinator.Coordinator, interval time.Duration, log logger.Logger) *Job {
	return &Job{
		Name:     "reconcile",
		Interval: interval,
		Run: func(ctx context.Context) error {
			sweep, err := coord.ReconcileAll(ctx, false)
			if err != nil {
				return err
			}
			if len(sweep.Inconsistent) > 0 {
				log.Warn("Reconciliation found inconsistent wallets", map[string]interface{}{
					"count": len(sweep.Inconsistent),
				})
			}
			return nil
		},
	}
}

// FlaggedJob reports delivered orders whose wash never finished.
func FlaggedJob(coord *coordinator.Coordinator, interval time.Duration, log logger.Logger) *Job {
	return &Job{
		Name:     "flagged_orders",
		Interval: interval,
		Run: func(ctx context.Context) error {
			orders, err := coord.FlaggedOrders(ctx, 500)
			if err != nil {
				return err
			}
			if len(orders) > 0 {
				codes := make([]string, 0, len(orders))
				for _, o := range orders {
					codes = append(codes, o.OrderCode)
				}
				log.Warn("Orders delivered with unfinished wash", map[string]interface{}{
					"count":  len(orders),
					"orders": codes,
				})
			}
			return nil
		},
	}
}

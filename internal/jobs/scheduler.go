package jobs

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"time"

	"github.com/officialn8/prediction-market-movers-sub000/internal/observability"
)

// Job is one periodic unit of work. Run does a single cycle.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Scheduler runs venue loops and periodic jobs, each on its own goroutine,
// under a single cancellation context. Stop waits for every goroutine.
type Scheduler struct {
	metrics *observability.Metrics
	logger  *log.Logger

	mu       sync.Mutex
	periodic []scheduledJob
	loops    []namedLoop

	wg sync.WaitGroup
}

type scheduledJob struct {
	job      Job
	interval time.Duration
}

type namedLoop struct {
	name string
	run  func(ctx context.Context) error
}

func NewScheduler(metrics *observability.Metrics, logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.Default()
	}
	if metrics == nil {
		metrics = observability.NewMetrics(nil, "")
	}
	return &Scheduler{metrics: metrics, logger: logger}
}

// AddPeriodic registers a job to run every interval, first cycle immediately
// on Start.
func (s *Scheduler) AddPeriodic(job Job, interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.periodic = append(s.periodic, scheduledJob{job: job, interval: interval})
}

// AddLoop registers a long-running loop, such as a venue runner. The loop
// owns its own retry behavior; the scheduler only starts it and waits.
func (s *Scheduler) AddLoop(name string, run func(ctx context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loops = append(s.loops, namedLoop{name: name, run: run})
}

// Start launches everything. It returns immediately; cancel ctx and call
// Wait to shut down.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	periodic := append([]scheduledJob(nil), s.periodic...)
	loops := append([]namedLoop(nil), s.loops...)
	s.mu.Unlock()

	for _, l := range loops {
		s.wg.Add(1)
		go func(l namedLoop) {
			defer s.wg.Done()
			s.logger.Printf("[scheduler] loop %s starting", l.name)
			if err := l.run(ctx); err != nil && ctx.Err() == nil {
				s.logger.Printf("[scheduler] loop %s exited: %v", l.name, err)
			}
		}(l)
	}

	for _, p := range periodic {
		s.wg.Add(1)
		go func(p scheduledJob) {
			defer s.wg.Done()
			s.runPeriodic(ctx, p)
		}(p)
	}
}

// Wait blocks until every loop and periodic goroutine has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) runPeriodic(ctx context.Context, p scheduledJob) {
	s.logger.Printf("[scheduler] job %s every %s", p.job.Name(), p.interval)
	for {
		s.runOnce(ctx, p.job)
		t := time.NewTimer(p.interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// runOnce executes a single cycle, converting panics into errors so one bad
// cycle never takes the scheduler down.
func (s *Scheduler) runOnce(ctx context.Context, job Job) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
			}
		}()
		return job.Run(ctx)
	}()

	s.metrics.JobDuration.WithLabelValues(job.Name()).Observe(time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.metrics.JobRuns.WithLabelValues(job.Name(), "error").Inc()
		s.logger.Printf("[scheduler] job %s failed: %v", job.Name(), err)
		return
	}
	s.metrics.JobRuns.WithLabelValues(job.Name(), "ok").Inc()
}

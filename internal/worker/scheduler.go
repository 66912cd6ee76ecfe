package worker

import (
	"context"
	"sync"
	"time"

	"offsync/internal/domain"

	"github.com/rs/zerolog"
)

// Job is a periodically executed synchronization task.
type Job interface {
	Name() string
	Interval() time.Duration
	Run(ctx context.Context) error
}

// JobFunc adapts a function into a Job.
type JobFunc struct {
	JobName  string
	Every    time.Duration
	Function func(ctx context.Context) error
}

func (j JobFunc) Name() string                  { return j.JobName }
func (j JobFunc) Interval() time.Duration       { return j.Every }
func (j JobFunc) Run(ctx context.Context) error { return j.Function(ctx) }

// Scheduler ticks registered jobs and hands each tick to a work scheduler.
// A job whose previous run has not finished skips the tick.
type Scheduler struct {
	pool   domain.WorkScheduler
	logger *zerolog.Logger

	mu        sync.Mutex
	jobs      []Job
	inFlight  map[string]bool
	isRunning bool
	ctx       context.Context
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

func NewScheduler(pool domain.WorkScheduler, logger *zerolog.Logger) *Scheduler {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Scheduler{
		pool:     pool,
		logger:   logger,
		inFlight: make(map[string]bool),
	}
}

// Add registers a job. Jobs added after Start begin ticking immediately.
func (s *Scheduler) Add(job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
	if s.isRunning {
		s.startJob(job)
	}
}

// Jobs returns the registered jobs.
func (s *Scheduler) Jobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Job(nil), s.jobs...)
}

func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return
	}
	s.isRunning = true
	s.ctx = ctx
	s.stopCh = make(chan struct{})

	for _, job := range s.jobs {
		s.startJob(job)
	}
	s.logger.Info().Int("jobs", len(s.jobs)).Msg("job scheduler started")
}

// Stop stops ticking and waits for the tick loops to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info().Msg("job scheduler stopped")
}

// startJob must be called with s.mu held.
func (s *Scheduler) startJob(job Job) {
	if job.Interval() <= 0 {
		s.logger.Warn().Str("job", job.Name()).Msg("job has no interval, not scheduled")
		return
	}
	s.wg.Add(1)
	go s.tickLoop(s.ctx, s.stopCh, job)
}

func (s *Scheduler) tickLoop(ctx context.Context, stopCh chan struct{}, job Job) {
	defer s.wg.Done()

	ticker := time.NewTicker(job.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			s.dispatch(job)
		}
	}
}

func (s *Scheduler) dispatch(job Job) {
	s.mu.Lock()
	if s.inFlight[job.Name()] {
		s.mu.Unlock()
		s.logger.Debug().Str("job", job.Name()).Msg("job still running, skipping tick")
		return
	}
	s.inFlight[job.Name()] = true
	s.mu.Unlock()

	accepted := s.pool.QueueUserWorkItem(func(ctx context.Context) {
		defer s.finish(job)
		start := time.Now()
		if err := job.Run(ctx); err != nil {
			s.logger.Error().Err(err).Str("job", job.Name()).Msg("job failed")
			return
		}
		s.logger.Debug().Str("job", job.Name()).Dur("took", time.Since(start)).Msg("job finished")
	})
	if !accepted {
		s.finish(job)
	}
}

func (s *Scheduler) finish(job Job) {
	s.mu.Lock()
	delete(s.inFlight, job.Name())
	s.mu.Unlock()
}

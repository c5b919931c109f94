// Package scheduler runs recurring maintenance jobs on cron expressions.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job is one recurring task.
type Job interface {
	// Name identifies the job in logs.
	Name() string
	// Schedule is a standard five-field cron expression.
	Schedule() string
	// Run executes one sweep.
	Run(ctx context.Context) error
}

// Scheduler manages scheduled jobs.
type Scheduler struct {
	cron   *cron.Cron
	logger *zap.Logger
	mu     sync.RWMutex
	jobs   map[string]Job

	maxRetries int
	retryDelay time.Duration
}

// New creates a scheduler.
func New(logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cron:       cron.New(),
		logger:     logger.Named("scheduler"),
		jobs:       make(map[string]Job),
		maxRetries: 3,
		retryDelay: time.Minute,
	}
}

// AddJob registers and schedules a job. Duplicate names are an error.
func (s *Scheduler) AddJob(job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := job.Name()
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %s already exists", name)
	}

	if _, err := s.cron.AddFunc(job.Schedule(), func() {
		s.runJob(job)
	}); err != nil {
		return fmt.Errorf("schedule job %s: %w", name, err)
	}
	s.jobs[name] = job

	s.logger.Info("Job scheduled",
		zap.String("job", name),
		zap.String("schedule", job.Schedule()),
	)
	return nil
}

// Start starts the scheduler.
func (s *Scheduler) Start() {
	s.logger.Info("Starting scheduler")
	s.cron.Start()
}

// Stop stops the scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Scheduler stopped")
}

// RunJob runs a registered job immediately, outside its schedule.
func (s *Scheduler) RunJob(name string) error {
	s.mu.RLock()
	job, exists := s.jobs[name]
	s.mu.RUnlock()
	if !exists {
		return fmt.Errorf("job %s not found", name)
	}
	go s.runJob(job)
	return nil
}

// runJob executes a job with retries.
func (s *Scheduler) runJob(job Job) {
	name := job.Name()
	start := time.Now()

	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if err := job.Run(context.Background()); err != nil {
			lastErr = err
			s.logger.Warn("Job execution failed",
				zap.String("job", name),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			if attempt < s.maxRetries {
				time.Sleep(s.retryDelay)
			}
			continue
		}
		s.logger.Info("Job completed",
			zap.String("job", name),
			zap.Duration("duration", time.Since(start)),
		)
		return
	}

	s.logger.Error("Job failed after all retries",
		zap.String("job", name),
		zap.Duration("duration", time.Since(start)),
		zap.Error(lastErr),
	)
}

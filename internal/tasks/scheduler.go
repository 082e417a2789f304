package tasks

import (
	"context"
	"time"

	"estate-backend/internal/logger"
)

type periodic struct {
	name  string
	every time.Duration
	fn    func(ctx context.Context) error
}

// Scheduler runs registered functions on fixed intervals.
type Scheduler struct {
	jobs []periodic
}

func (s *Scheduler) Every(name string, every time.Duration, fn func(ctx context.Context) error) {
	s.jobs = append(s.jobs, periodic{name: name, every: every, fn: fn})
}

// Run starts one ticker per job and blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	done := make(chan struct{}, len(s.jobs))
	for _, j := range s.jobs {
		go func(j periodic) {
			defer func() { done <- struct{}{} }()
			t := time.NewTicker(j.every)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-t.C:
					s.runOnce(ctx, j)
				}
			}
		}(j)
	}
	for range s.jobs {
		<-done
	}
}

func (s *Scheduler) runOnce(ctx context.Context, j periodic) {
	start := time.Now()
	if err := j.fn(ctx); err != nil {
		logger.Log.WithError(err).WithField("task", j.name).Error("periodic task failed")
		return
	}
	logger.Log.WithField("task", j.name).WithField("took_ms", time.Since(start).Milliseconds()).Debug("periodic task done")
}

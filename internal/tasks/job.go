package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"estate-backend/internal/logger"
	"estate-backend/internal/metrics"
)

const (
	JobPaymentSucceeded = "payment.succeeded"
	JobMediaProcess     = "media.process"
	JobSendEmail        = "email.send"
)

type Job struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// NewJob marshals payload into a Job of the given type.
func NewJob(typ string, payload any) (Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Job{}, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	return Job{Type: typ, Payload: raw}, nil
}

type Publisher interface {
	Publish(ctx context.Context, job Job) error
}

type HandlerFunc func(ctx context.Context, payload json.RawMessage) error

// ErrUnknownJob is returned for job types nobody registered; such messages are dropped.
var ErrUnknownJob = errors.New("unknown job type")

type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: map[string]HandlerFunc{}}
}

func (d *Dispatcher) Register(typ string, h HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[typ] = h
}

func (d *Dispatcher) Dispatch(ctx context.Context, job Job) error {
	d.mu.RLock()
	h, ok := d.handlers[job.Type]
	d.mu.RUnlock()
	if !ok {
		metrics.JobsProcessed.WithLabelValues(job.Type, "unknown").Inc()
		return fmt.Errorf("%w: %s", ErrUnknownJob, job.Type)
	}
	if err := h(ctx, job.Payload); err != nil {
		metrics.JobsProcessed.WithLabelValues(job.Type, "error").Inc()
		return err
	}
	metrics.JobsProcessed.WithLabelValues(job.Type, "ok").Inc()
	return nil
}

// InlinePublisher runs jobs in the current process when no broker is configured.
type InlinePublisher struct {
	d     *Dispatcher
	async bool
	wg    sync.WaitGroup
}

func NewInlinePublisher(d *Dispatcher, async bool) *InlinePublisher {
	return &InlinePublisher{d: d, async: async}
}

func (p *InlinePublisher) Publish(ctx context.Context, job Job) error {
	if !p.async {
		return p.d.Dispatch(ctx, job)
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.d.Dispatch(context.Background(), job); err != nil {
			logger.Log.WithError(err).WithField("job", job.Type).Error("inline job failed")
		}
	}()
	return nil
}

// Wait blocks until every async job has finished.
func (p *InlinePublisher) Wait() {
	p.wg.Wait()
}

// Recorder collects published jobs without running them.
type Recorder struct {
	mu   sync.Mutex
	Jobs []Job
}

func (r *Recorder) Publish(_ context.Context, job Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Jobs = append(r.Jobs, job)
	return nil
}

func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.Jobs))
	for i, j := range r.Jobs {
		out[i] = j.Type
	}
	return out
}

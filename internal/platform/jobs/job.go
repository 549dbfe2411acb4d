// Package jobs runs deferred background work. A job is scheduled for a point
// in time, parked in a delay store until due, then delivered through a work
// queue to the handler registered under its name. Delivery is at-least-once;
// handlers must be idempotent.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// MaxAttempts bounds how many times a failing job is delivered.
const MaxAttempts = 5

// Job is the envelope stored in the delay set and carried on the queue.
type Job struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Args    json.RawMessage `json:"args"`
	RunAt   time.Time       `json:"run_at"`
	Attempt int             `json:"attempt"`
}

// NewJob builds an envelope with a fresh id and args encoded as JSON.
func NewJob(name string, args interface{}, runAt time.Time) (Job, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return Job{}, fmt.Errorf("encode args for %s: %w", name, err)
	}
	return Job{ID: uuid.NewString(), Name: name, Args: raw, RunAt: runAt.UTC()}, nil
}

// Encode serializes the envelope.
func (j Job) Encode() ([]byte, error) {
	return json.Marshal(j)
}

// Decode parses an envelope produced by Encode.
func Decode(data []byte) (Job, error) {
	var j Job
	if err := json.Unmarshal(data, &j); err != nil {
		return Job{}, fmt.Errorf("decode job: %w", err)
	}
	if j.Name == "" {
		return Job{}, fmt.Errorf("decode job: missing name")
	}
	return j, nil
}

// Bind decodes the job args into v.
func (j Job) Bind(v interface{}) error {
	if err := json.Unmarshal(j.Args, v); err != nil {
		return fmt.Errorf("decode args for %s: %w", j.Name, err)
	}
	return nil
}

// Scheduler arms a job to run at runAt and returns its id.
type Scheduler interface {
	Schedule(ctx context.Context, name string, args interface{}, runAt time.Time) (string, error)
}

// HandlerFunc processes one job delivery.
type HandlerFunc func(ctx context.Context, job Job) error

// Dispatcher routes jobs to handlers by name.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]HandlerFunc)}
}

// Register binds name to h, replacing any previous handler.
func (d *Dispatcher) Register(name string, h HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[name] = h
}

// Dispatch runs the handler registered for job.Name.
func (d *Dispatcher) Dispatch(ctx context.Context, job Job) error {
	d.mu.RLock()
	h, ok := d.handlers[job.Name]
	d.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no handler registered for job %q", job.Name)
	}
	return h(ctx, job)
}

// Backoff returns the delay before the given retry attempt (1-based):
// 5s, 10s, 20s, 40s, capped at 5 minutes.
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := 5 * time.Second
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= 5*time.Minute {
			return 5 * time.Minute
		}
	}
	return d
}

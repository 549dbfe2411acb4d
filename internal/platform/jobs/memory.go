package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// MemoryScheduler runs jobs in-process on timers. It is used in development
// when no broker is configured; pending jobs are lost on restart.
type MemoryScheduler struct {
	dispatcher *Dispatcher
	logger     zerolog.Logger
	now        func() time.Time

	mu      sync.Mutex
	timers  map[string]*time.Timer
	wg      sync.WaitGroup
	closed  bool
	baseCtx context.Context
	cancel  context.CancelFunc
}

func NewMemoryScheduler(dispatcher *Dispatcher, logger zerolog.Logger) *MemoryScheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &MemoryScheduler{
		dispatcher: dispatcher,
		logger:     logger,
		now:        time.Now,
		timers:     make(map[string]*time.Timer),
		baseCtx:    ctx,
		cancel:     cancel,
	}
}

func (s *MemoryScheduler) Schedule(ctx context.Context, name string, args interface{}, runAt time.Time) (string, error) {
	job, err := NewJob(name, args, runAt)
	if err != nil {
		return "", err
	}
	s.arm(job)
	return job.ID, nil
}

func (s *MemoryScheduler) arm(job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	delay := job.RunAt.Sub(s.now())
	if delay < 0 {
		delay = 0
	}
	s.wg.Add(1)
	s.timers[job.ID] = time.AfterFunc(delay, func() {
		defer s.wg.Done()
		s.fire(job)
	})
}

func (s *MemoryScheduler) fire(job Job) {
	s.mu.Lock()
	delete(s.timers, job.ID)
	s.mu.Unlock()

	err := s.dispatcher.Dispatch(s.baseCtx, job)
	if err == nil {
		return
	}
	job.Attempt++
	if job.Attempt >= MaxAttempts {
		s.logger.Error().Err(err).Str("job_id", job.ID).Str("job", job.Name).Msg("job failed, giving up")
		return
	}
	s.logger.Warn().Err(err).Str("job_id", job.ID).Str("job", job.Name).Int("attempt", job.Attempt).Msg("job failed, retrying")
	job.RunAt = s.now().Add(Backoff(job.Attempt))
	s.arm(job)
}

// Pending returns the number of armed jobs.
func (s *MemoryScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Close stops every pending timer and waits for running handlers.
func (s *MemoryScheduler) Close() {
	s.mu.Lock()
	s.closed = true
	for id, t := range s.timers {
		if t.Stop() {
			s.wg.Done()
		}
		delete(s.timers, id)
	}
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
}

package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Locker grants exclusive ownership of a key for a bounded time.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Unlock(ctx context.Context, key, token string) error
}

// SweepFunc performs one periodic pass and reports how many rows it touched.
type SweepFunc func(ctx context.Context, now time.Time) (int, error)

// Sweeper runs a SweepFunc on a cron schedule. When a Locker is set only the
// instance holding the lock runs a given tick.
type Sweeper struct {
	name    string
	spec    string
	fn      SweepFunc
	locker  Locker
	lockTTL time.Duration
	logger  zerolog.Logger
	now     func() time.Time

	cron   *cron.Cron
	cancel context.CancelFunc
}

func NewSweeper(name, spec string, fn SweepFunc, locker Locker, logger zerolog.Logger) *Sweeper {
	return &Sweeper{
		name:    name,
		spec:    spec,
		fn:      fn,
		locker:  locker,
		lockTTL: 2 * time.Minute,
		logger:  logger.With().Str("sweeper", name).Logger(),
		now:     time.Now,
	}
}

// Start schedules the sweeper. An invalid spec falls back to every minute.
func (s *Sweeper) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	c := cron.New()
	if _, err := c.AddFunc(s.spec, func() { s.RunOnce(runCtx) }); err != nil {
		s.logger.Warn().Err(err).Str("spec", s.spec).Msg("invalid cron spec, falling back to @every 1m")
		c = cron.New()
		_, _ = c.AddFunc("@every 1m", func() { s.RunOnce(runCtx) })
	}
	c.Start()
	s.cron = c
}

// Stop cancels in-flight passes and waits for them to return.
func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// RunOnce executes a single pass.
func (s *Sweeper) RunOnce(ctx context.Context) {
	if s.locker != nil {
		key := "sweeper:" + s.name
		token, ok, err := s.locker.TryLock(ctx, key, s.lockTTL)
		if err != nil {
			s.logger.Warn().Err(err).Msg("leader lock attempt failed")
			return
		}
		if !ok {
			s.logger.Debug().Msg("leader lock held elsewhere, skipping")
			return
		}
		defer func() {
			if err := s.locker.Unlock(context.WithoutCancel(ctx), key, token); err != nil {
				s.logger.Warn().Err(err).Msg("leader lock release failed")
			}
		}()
	}

	n, err := s.fn(ctx, s.now())
	if err != nil {
		s.logger.Error().Err(err).Msg("sweep failed")
		return
	}
	if n > 0 {
		s.logger.Info().Int("released", n).Msg("sweep done")
	}
}

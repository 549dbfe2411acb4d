package jobs

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DelayedKey is the sorted set holding parked jobs scored by run time.
const DelayedKey = "jobs:delayed"

// Publisher hands a due job to the work queue.
type Publisher interface {
	Publish(ctx context.Context, job Job) error
}

// RedisDelayStore parks jobs in a Redis sorted set until they are due.
type RedisDelayStore struct {
	client *redis.Client
	key    string
	now    func() time.Time
}

func NewRedisDelayStore(client *redis.Client) *RedisDelayStore {
	return &RedisDelayStore{client: client, key: DelayedKey, now: time.Now}
}

// Schedule implements Scheduler.
func (s *RedisDelayStore) Schedule(ctx context.Context, name string, args interface{}, runAt time.Time) (string, error) {
	job, err := NewJob(name, args, runAt)
	if err != nil {
		return "", err
	}
	if err := s.Park(ctx, job); err != nil {
		return "", err
	}
	return job.ID, nil
}

// Park stores job until its RunAt.
func (s *RedisDelayStore) Park(ctx context.Context, job Job) error {
	data, err := job.Encode()
	if err != nil {
		return err
	}
	z := redis.Z{Score: score(job.RunAt), Member: data}
	if err := s.client.ZAdd(ctx, s.key, z).Err(); err != nil {
		return fmt.Errorf("park job %s: %w", job.ID, err)
	}
	return nil
}

// score is the run time in milliseconds, rounded up so that Claim never
// hands a job out before its RunAt.
func score(t time.Time) float64 {
	ms := t.UnixMilli()
	if t.After(time.UnixMilli(ms)) {
		ms++
	}
	return float64(ms)
}

// Claim removes and returns up to limit jobs due at or before now. Each
// member is claimed with its own ZREM so concurrent promoters never hand the
// same job out twice.
func (s *RedisDelayStore) Claim(ctx context.Context, now time.Time, limit int64) ([]Job, error) {
	members, err := s.client.ZRangeByScore(ctx, s.key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: limit,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("range due jobs: %w", err)
	}

	jobs := make([]Job, 0, len(members))
	for _, m := range members {
		n, err := s.client.ZRem(ctx, s.key, m).Result()
		if err != nil {
			return jobs, fmt.Errorf("claim job: %w", err)
		}
		if n == 0 {
			continue
		}
		job, err := Decode([]byte(m))
		if err != nil {
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Len returns the number of parked jobs.
func (s *RedisDelayStore) Len(ctx context.Context) (int64, error) {
	return s.client.ZCard(ctx, s.key).Result()
}

// Promoter moves due jobs from the delay store onto the work queue.
type Promoter struct {
	store     *RedisDelayStore
	publisher Publisher
	logger    zerolog.Logger
	interval  time.Duration
	batch     int64
}

func NewPromoter(store *RedisDelayStore, publisher Publisher, logger zerolog.Logger) *Promoter {
	return &Promoter{
		store:     store,
		publisher: publisher,
		logger:    logger,
		interval:  time.Second,
		batch:     100,
	}
}

// Run polls until ctx is cancelled.
func (p *Promoter) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := p.promoteOnce(ctx); err != nil && ctx.Err() == nil {
				p.logger.Warn().Err(err).Msg("job promoter pass failed")
			}
		}
	}
}

func (p *Promoter) promoteOnce(ctx context.Context) error {
	jobs, err := p.store.Claim(ctx, p.store.now(), p.batch)
	var failed int
	for _, job := range jobs {
		if perr := p.publisher.Publish(ctx, job); perr != nil {
			failed++
			p.logger.Warn().Err(perr).Str("job_id", job.ID).Msg("job publish failed, parking again")
			// Put it back so the next pass retries the hand-off.
			if rerr := p.store.Park(context.WithoutCancel(ctx), job); rerr != nil {
				p.logger.Error().Err(rerr).Str("job_id", job.ID).Msg("job lost after failed publish")
			}
			continue
		}
		p.logger.Debug().Str("job_id", job.ID).Str("job", job.Name).Msg("job promoted")
	}
	if err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d jobs not published", failed, len(jobs))
	}
	return nil
}

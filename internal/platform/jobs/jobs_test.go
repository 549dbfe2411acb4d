package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type releaseArgs struct {
	ReserveID    string `json:"reserve_id"`
	ClearPayment bool   `json:"clear_payment"`
}

func TestJob_EncodeDecode(t *testing.T) {
	runAt := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	job, err := NewJob("reserve.release", releaseArgs{ReserveID: "abc", ClearPayment: true}, runAt)
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)

	data, err := job.Encode()
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, "reserve.release", got.Name)
	assert.True(t, runAt.Equal(got.RunAt))

	var args releaseArgs
	require.NoError(t, got.Bind(&args))
	assert.Equal(t, "abc", args.ReserveID)
	assert.True(t, args.ClearPayment)
}

func TestDecode_Invalid(t *testing.T) {
	_, err := Decode([]byte("not json"))
	assert.Error(t, err)

	_, err = Decode([]byte(`{"id":"x"}`))
	assert.Error(t, err)
}

func TestDispatcher(t *testing.T) {
	d := NewDispatcher()
	var got string
	d.Register("greet", func(ctx context.Context, job Job) error {
		got = job.ID
		return nil
	})

	require.NoError(t, d.Dispatch(context.Background(), Job{ID: "1", Name: "greet"}))
	assert.Equal(t, "1", got)

	err := d.Dispatch(context.Background(), Job{ID: "2", Name: "unknown"})
	assert.Error(t, err)
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, 5*time.Second, Backoff(0))
	assert.Equal(t, 5*time.Second, Backoff(1))
	assert.Equal(t, 10*time.Second, Backoff(2))
	assert.Equal(t, 40*time.Second, Backoff(4))
	assert.Equal(t, 5*time.Minute, Backoff(20))
}

func TestNextAttempt(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	next, ok := nextAttempt(Job{ID: "j", Name: "n"}, now)
	require.True(t, ok)
	assert.Equal(t, 1, next.Attempt)
	assert.Equal(t, now.Add(5*time.Second), next.RunAt)

	_, ok = nextAttempt(Job{ID: "j", Name: "n", Attempt: MaxAttempts - 1}, now)
	assert.False(t, ok)
}

func TestScore_NeverBeforeRunAt(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	assert.Equal(t, float64(base.UnixMilli()), score(base))
	assert.Equal(t, float64(base.UnixMilli()+1), score(base.Add(time.Microsecond)))
	assert.Equal(t, float64(base.UnixMilli()+1), score(base.Add(999*time.Microsecond)))
	assert.Equal(t, float64(base.UnixMilli()+1), score(base.Add(time.Millisecond)))

	// A job scored for 10:30:00.000400 is not due at 10:30:00.000.
	runAt := base.Add(400 * time.Microsecond)
	assert.Greater(t, score(runAt), float64(base.UnixMilli()))
}

type fakeConfirm chan bool

func (c fakeConfirm) WaitContext(ctx context.Context) (bool, error) {
	select {
	case acked := <-c:
		return acked, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// fakeBroker confirms each message by id. Held ids get no confirm until the
// test sends one.
type fakeBroker struct {
	confirms map[string]fakeConfirm
	hold     map[string]bool
	nack     map[string]bool
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		confirms: map[string]fakeConfirm{},
		hold:     map[string]bool{},
		nack:     map[string]bool{},
	}
}

func (b *fakeBroker) publish(_ context.Context, msg amqp.Publishing) (confirmation, error) {
	c := make(fakeConfirm, 1)
	if !b.hold[msg.MessageId] {
		c <- !b.nack[msg.MessageId]
	}
	b.confirms[msg.MessageId] = c
	return c, nil
}

func TestAMQPQueue_PublishWaitsForOwnConfirm(t *testing.T) {
	b := newFakeBroker()
	b.hold["first"] = true
	b.nack["second"] = true
	q := &AMQPQueue{publish: b.publish, logger: zerolog.Nop()}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := q.Publish(ctx, Job{ID: "first", Name: "reservation.release"})
	require.ErrorIs(t, err, context.Canceled)

	// The late ack for the abandoned message must not confirm the next one.
	b.confirms["first"] <- true
	err = q.Publish(context.Background(), Job{ID: "second", Name: "reservation.release"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not confirmed")

	require.NoError(t, q.Publish(context.Background(), Job{ID: "third", Name: "reservation.release"}))
	assert.Len(t, b.confirms, 3)
}

func TestMemoryScheduler_Fires(t *testing.T) {
	d := NewDispatcher()
	done := make(chan releaseArgs, 1)
	d.Register("reserve.release", func(ctx context.Context, job Job) error {
		var args releaseArgs
		if err := job.Bind(&args); err != nil {
			return err
		}
		done <- args
		return nil
	})

	s := NewMemoryScheduler(d, zerolog.Nop())
	defer s.Close()

	id, err := s.Schedule(context.Background(), "reserve.release", releaseArgs{ReserveID: "r1"}, time.Now().Add(-time.Second))
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	select {
	case args := <-done:
		assert.Equal(t, "r1", args.ReserveID)
	case <-time.After(2 * time.Second):
		t.Fatal("job did not fire")
	}
}

func TestMemoryScheduler_CloseDropsPending(t *testing.T) {
	d := NewDispatcher()
	d.Register("late", func(ctx context.Context, job Job) error { return nil })

	s := NewMemoryScheduler(d, zerolog.Nop())
	_, err := s.Schedule(context.Background(), "late", nil, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, s.Pending())

	s.Close()
	assert.Equal(t, 0, s.Pending())
}

type fakeLocker struct {
	mu       sync.Mutex
	held     bool
	err      error
	unlocked int
}

func (l *fakeLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return "", false, l.err
	}
	if l.held {
		return "", false, nil
	}
	l.held = true
	return "token", true, nil
}

func (l *fakeLocker) Unlock(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held = false
	l.unlocked++
	return nil
}

func TestSweeper_RunOnce(t *testing.T) {
	calls := 0
	fn := func(ctx context.Context, now time.Time) (int, error) {
		calls++
		return 2, nil
	}
	locker := &fakeLocker{}
	s := NewSweeper("stale-claims", "@every 1m", fn, locker, zerolog.Nop())

	s.RunOnce(context.Background())
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, locker.unlocked)
	assert.False(t, locker.held)
}

func TestSweeper_SkipsWhenLockHeld(t *testing.T) {
	calls := 0
	fn := func(ctx context.Context, now time.Time) (int, error) {
		calls++
		return 0, nil
	}
	s := NewSweeper("stale-claims", "@every 1m", fn, &fakeLocker{held: true}, zerolog.Nop())
	s.RunOnce(context.Background())
	assert.Equal(t, 0, calls)

	s = NewSweeper("stale-claims", "@every 1m", fn, &fakeLocker{err: errors.New("redis down")}, zerolog.Nop())
	s.RunOnce(context.Background())
	assert.Equal(t, 0, calls)
}

func TestSweeper_StartStop(t *testing.T) {
	fn := func(ctx context.Context, now time.Time) (int, error) { return 0, nil }
	s := NewSweeper("noop", "not a cron spec", fn, nil, zerolog.Nop())
	s.Start(context.Background())
	s.Stop()
}

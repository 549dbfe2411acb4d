package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// QueueName is the durable work queue carrying due jobs.
const QueueName = "tasks"

const maxPriority = 10

// confirmation resolves once the broker acks or nacks one publishing.
type confirmation interface {
	WaitContext(ctx context.Context) (bool, error)
}

type publishFunc func(ctx context.Context, msg amqp.Publishing) (confirmation, error)

// AMQPQueue publishes due jobs to RabbitMQ and consumes them with manual ack.
type AMQPQueue struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	publish  publishFunc
	logger   zerolog.Logger
	prefetch int
	mu       sync.Mutex
}

// Dial connects to the broker at url.
func Dial(url string) (*amqp.Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	return conn, nil
}

// NewAMQPQueue declares the work queue, sets QoS and enables publisher
// confirms on a dedicated publishing channel.
func NewAMQPQueue(conn *amqp.Connection, logger zerolog.Logger, prefetch int) (*AMQPQueue, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := declare(ch); err != nil {
		ch.Close()
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("enable confirms: %w", err)
	}
	if prefetch <= 0 {
		prefetch = 1
	}
	return &AMQPQueue{
		conn:     conn,
		ch:       ch,
		publish:  deferredPublish(ch),
		logger:   logger,
		prefetch: prefetch,
	}, nil
}

// deferredPublish publishes to the work queue and returns the confirmation
// tied to that delivery tag.
func deferredPublish(ch *amqp.Channel) publishFunc {
	return func(ctx context.Context, msg amqp.Publishing) (confirmation, error) {
		dc, err := ch.PublishWithDeferredConfirmWithContext(ctx, "", QueueName, false, false, msg)
		if err != nil {
			return nil, err
		}
		if dc == nil {
			return nil, fmt.Errorf("channel is not in confirm mode")
		}
		return dc, nil
	}
}

func declare(ch *amqp.Channel) error {
	_, err := ch.QueueDeclare(
		QueueName,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		amqp.Table{"x-max-priority": int32(maxPriority)},
	)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", QueueName, err)
	}
	return nil
}

// Publish sends job persistently and waits for the broker's confirm of that
// message. A confirm arriving after ctx is done is dropped with its
// DeferredConfirmation.
func (q *AMQPQueue) Publish(ctx context.Context, job Job) error {
	body, err := job.Encode()
	if err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	msg := amqp.Publishing{
		ContentType:  "application/json",
		MessageId:    job.ID,
		Type:         job.Name,
		Timestamp:    time.Now().UTC(),
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Priority:     5,
	}
	conf, err := q.publish(ctx, msg)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", QueueName, err)
	}
	acked, err := conf.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", QueueName, err)
	}
	if !acked {
		return fmt.Errorf("publish to %s: message not confirmed", QueueName)
	}
	return nil
}

// Consume delivers jobs to d until ctx is cancelled. A delivery is acked
// only after its handler ran; failures are parked again on retry with
// backoff until MaxAttempts is reached.
func (q *AMQPQueue) Consume(ctx context.Context, d *Dispatcher, retry *RedisDelayStore) error {
	ch, err := q.conn.Channel()
	if err != nil {
		return fmt.Errorf("open consumer channel: %w", err)
	}
	defer ch.Close()

	if err := declare(ch); err != nil {
		return err
	}
	if err := ch.Qos(q.prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.ConsumeWithContext(ctx, QueueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", QueueName, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("consume %s: delivery channel closed", QueueName)
			}
			q.handle(ctx, msg, d, retry)
		}
	}
}

func (q *AMQPQueue) handle(ctx context.Context, msg amqp.Delivery, d *Dispatcher, retry *RedisDelayStore) {
	job, err := Decode(msg.Body)
	if err != nil {
		q.logger.Error().Err(err).Str("message_id", msg.MessageId).Msg("dropping undecodable job")
		_ = msg.Ack(false)
		return
	}

	log := q.logger.With().Str("job_id", job.ID).Str("job", job.Name).Int("attempt", job.Attempt).Logger()

	if err := d.Dispatch(ctx, job); err != nil {
		if next, ok := nextAttempt(job, time.Now()); ok && retry != nil {
			if perr := retry.Park(context.WithoutCancel(ctx), next); perr != nil {
				log.Error().Err(perr).Msg("job retry could not be parked, requeueing")
				_ = msg.Nack(false, true)
				return
			}
			log.Warn().Err(err).Time("retry_at", next.RunAt).Msg("job failed, retry scheduled")
		} else {
			log.Error().Err(err).Msg("job failed, giving up")
		}
		_ = msg.Ack(false)
		return
	}

	log.Debug().Msg("job done")
	_ = msg.Ack(false)
}

// nextAttempt returns the retry envelope for a failed job, or false when
// the attempt budget is spent.
func nextAttempt(job Job, now time.Time) (Job, bool) {
	job.Attempt++
	if job.Attempt >= MaxAttempts {
		return Job{}, false
	}
	job.RunAt = now.Add(Backoff(job.Attempt)).UTC()
	return job, true
}

// Close releases the publishing channel.
func (q *AMQPQueue) Close() error {
	return q.ch.Close()
}

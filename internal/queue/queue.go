// Package queue carries transcription jobs and their results over RabbitMQ.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/config"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/logging"
	"github.com/therealutkarshpriyadarshi/transcribe/pkg/models"
)

const (
	ExchangeName      = "transcribe"
	RequestQueueName  = "transcribe_requests"
	ResultQueueName   = "transcribe_results"
	defaultPrefetch   = 2
	contentTypeJSON   = "application/json"
	headerRetryCount  = "x-retry-count"
	headerFailReason  = "x-failure-reason"
	headerFailedAt    = "x-failed-at"
	headerResultToJob = "x-job-id"

	// MaxPriority bounds job priorities; paid plans are consumed first.
	MaxPriority = 3
)

// Channel is the subset of *amqp.Channel the queue uses after setup
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Qos(prefetchCount, prefetchSize int, global bool) error
	QueueInspect(name string) (amqp.Queue, error)
	Close() error
}

// Handler processes one job. A returned error requeues the message.
type Handler func(ctx context.Context, job *models.TranscriptionJob) error

// Queue provides message queue operations
type Queue struct {
	conn     *amqp.Connection
	channel  Channel
	prefetch int
	logger   *logging.Logger
}

// New connects to RabbitMQ and declares the topology
func New(cfg config.QueueConfig, logger *logging.Logger) (*Queue, error) {
	url := fmt.Sprintf("amqp://%s:%s@%s:%d%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Vhost)

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := declare(channel); err != nil {
		channel.Close()
		conn.Close()
		return nil, err
	}

	q := NewWithChannel(channel, cfg.Prefetch, logger)
	q.conn = conn
	logger.Info("Queue topology declared")
	return q, nil
}

// NewWithChannel wraps an already configured channel
func NewWithChannel(ch Channel, prefetch int, logger *logging.Logger) *Queue {
	if prefetch <= 0 {
		prefetch = defaultPrefetch
	}
	return &Queue{channel: ch, prefetch: prefetch, logger: logger}
}

func declare(ch *amqp.Channel) error {
	err := ch.ExchangeDeclare(
		ExchangeName,
		"direct",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	if err := setupDeadLetterQueue(ch); err != nil {
		return err
	}

	// Requests that cannot be decoded are rejected into the DLQ.
	queues := map[string]amqp.Table{
		RequestQueueName: {
			"x-dead-letter-exchange":    DeadLetterExchangeName,
			"x-dead-letter-routing-key": DeadLetterQueueName,
			"x-max-priority":            int32(MaxPriority),
		},
		ResultQueueName: nil,
	}
	for name, args := range queues {
		if _, err := ch.QueueDeclare(name, true, false, false, false, args); err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", name, err)
		}
		if err := ch.QueueBind(name, name, ExchangeName, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue %s: %w", name, err)
		}
	}
	return nil
}

// Close closes the queue connection
func (q *Queue) Close() error {
	if q.channel != nil {
		q.channel.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}

func (q *Queue) publish(ctx context.Context, exchange, key string, v any, headers amqp.Table, expiration string, priority uint8) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	return q.channel.PublishWithContext(ctx,
		exchange,
		key,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  contentTypeJSON,
			Body:         body,
			Timestamp:    time.Now(),
			Headers:      headers,
			Expiration:   expiration,
			Priority:     priority,
		},
	)
}

// PublishJob enqueues a transcription request
func (q *Queue) PublishJob(ctx context.Context, job *models.TranscriptionJob) error {
	headers := amqp.Table{headerRetryCount: int32(job.RetryCount)}
	if err := q.publish(ctx, ExchangeName, RequestQueueName, job, headers, "", clampPriority(job.Priority)); err != nil {
		return fmt.Errorf("failed to publish job: %w", err)
	}
	return nil
}

func clampPriority(p uint8) uint8 {
	if p > MaxPriority {
		return MaxPriority
	}
	return p
}

// PublishResult sends a finished job's outcome to the messaging client
func (q *Queue) PublishResult(ctx context.Context, result *models.JobResult) error {
	headers := amqp.Table{headerResultToJob: result.JobID}
	if err := q.publish(ctx, ExchangeName, ResultQueueName, result, headers, "", 0); err != nil {
		return fmt.Errorf("failed to publish result: %w", err)
	}
	return nil
}

// ConsumeJobs dispatches requests to handler until ctx is done or the
// channel closes.
func (q *Queue) ConsumeJobs(ctx context.Context, handler Handler) error {
	err := q.channel.Qos(
		q.prefetch, // prefetch count
		0,          // prefetch size
		false,      // global
	)
	if err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := q.channel.Consume(
		RequestQueueName,
		"",    // consumer
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				q.dispatch(ctx, msg, handler)
			}
		}
	}()

	return nil
}

func (q *Queue) dispatch(ctx context.Context, msg amqp.Delivery, handler Handler) {
	var job models.TranscriptionJob
	if err := json.Unmarshal(msg.Body, &job); err != nil {
		q.logger.WithError(err).Warn("Discarding malformed job message")
		msg.Nack(false, false)
		return
	}

	if err := handler(ctx, &job); err != nil {
		q.logger.WithJobID(job.ID).WithError(err).Warn("Job handler failed, requeueing")
		msg.Nack(false, true)
		return
	}
	msg.Ack(false)
}

// Depth returns the number of messages waiting in the request queue
func (q *Queue) Depth() (int, error) {
	info, err := q.channel.QueueInspect(RequestQueueName)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect queue: %w", err)
	}

	return info.Messages, nil
}

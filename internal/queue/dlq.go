package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/metrics"
	"github.com/therealutkarshpriyadarshi/transcribe/pkg/models"
)

const (
	DeadLetterQueueName    = "transcribe_requests_dlq"
	DeadLetterExchangeName = "transcribe_dlq"
	RetryQueueName         = "transcribe_requests_retry"
	MaxRetries             = 5
)

func setupDeadLetterQueue(ch *amqp.Channel) error {
	err := ch.ExchangeDeclare(
		DeadLetterExchangeName,
		"direct",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare DLQ exchange: %w", err)
	}

	_, err = ch.QueueDeclare(
		DeadLetterQueueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare DLQ: %w", err)
	}

	err = ch.QueueBind(
		DeadLetterQueueName,
		DeadLetterQueueName,
		DeadLetterExchangeName,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to bind DLQ: %w", err)
	}

	// Expired retry messages flow back into the request queue; the per
	// message expiration sets the delay.
	retryArgs := amqp.Table{
		"x-dead-letter-exchange":    ExchangeName,
		"x-dead-letter-routing-key": RequestQueueName,
	}

	_, err = ch.QueueDeclare(
		RetryQueueName,
		true,
		false,
		false,
		false,
		retryArgs,
	)
	if err != nil {
		return fmt.Errorf("failed to declare retry queue: %w", err)
	}

	return nil
}

// PublishToRetryQueue schedules job for another attempt, or moves it to the
// DLQ once MaxRetries is reached. It reports whether the job was dead-lettered.
func (q *Queue) PublishToRetryQueue(ctx context.Context, job *models.TranscriptionJob, reason string) (bool, error) {
	if job.RetryCount >= MaxRetries {
		return true, q.PublishToDeadLetterQueue(ctx, job, "max retries exceeded: "+reason)
	}

	delay := retryDelay(job.RetryCount)
	next := *job
	next.RetryCount++

	headers := amqp.Table{headerRetryCount: int32(next.RetryCount)}
	expiration := strconv.FormatInt(delay.Milliseconds(), 10)
	if err := q.publish(ctx, "", RetryQueueName, &next, headers, expiration, clampPriority(next.Priority)); err != nil {
		return false, fmt.Errorf("failed to publish to retry queue: %w", err)
	}

	metrics.RecordJobRetry("retry")
	q.logger.WithJobID(job.ID).WithFields(map[string]interface{}{
		"attempt": next.RetryCount,
		"delay":   delay.String(),
		"reason":  reason,
	}).Info("Job queued for retry")
	return false, nil
}

// PublishToDeadLetterQueue parks a failed job for manual inspection
func (q *Queue) PublishToDeadLetterQueue(ctx context.Context, job *models.TranscriptionJob, reason string) error {
	headers := amqp.Table{
		headerFailReason: reason,
		headerFailedAt:   time.Now().UTC().Format(time.RFC3339),
		headerRetryCount: int32(job.RetryCount),
	}

	if err := q.publish(ctx, DeadLetterExchangeName, DeadLetterQueueName, job, headers, "", 0); err != nil {
		return fmt.Errorf("failed to publish to DLQ: %w", err)
	}

	metrics.RecordJobRetry("dlq")
	q.logger.WithJobID(job.ID).WithField("reason", reason).Warn("Job moved to dead letter queue")
	return nil
}

// retryDelay backs off exponentially: 30s, 1m, 2m, 4m, 8m, capped at 15m
func retryDelay(retryCount int) time.Duration {
	baseDelay := 30 * time.Second
	delay := baseDelay * (1 << retryCount)

	if delay > 15*time.Minute {
		delay = 15 * time.Minute
	}

	return delay
}

// DLQDepth returns the number of messages in the dead letter queue
func (q *Queue) DLQDepth() (int, error) {
	info, err := q.channel.QueueInspect(DeadLetterQueueName)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect DLQ: %w", err)
	}

	return info.Messages, nil
}

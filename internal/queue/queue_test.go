package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/logging"
	"github.com/therealutkarshpriyadarshi/transcribe/pkg/models"
)

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakeChannel struct {
	mu         sync.Mutex
	published  []published
	deliveries chan amqp.Delivery
	prefetch   int
	depths     map[string]int
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{deliveries: make(chan amqp.Delivery, 8), depths: map[string]int{}}
}

func (c *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, published{exchange, key, msg})
	return nil
}

func (c *fakeChannel) Consume(string, string, bool, bool, bool, bool, amqp.Table) (<-chan amqp.Delivery, error) {
	return c.deliveries, nil
}

func (c *fakeChannel) Qos(prefetchCount, _ int, _ bool) error {
	c.prefetch = prefetchCount
	return nil
}

func (c *fakeChannel) QueueInspect(name string) (amqp.Queue, error) {
	return amqp.Queue{Name: name, Messages: c.depths[name]}, nil
}

func (c *fakeChannel) Close() error { return nil }

func (c *fakeChannel) last(t *testing.T) published {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.published)
	return c.published[len(c.published)-1]
}

type ackResult struct {
	acked   bool
	requeue bool
}

type fakeAcknowledger struct {
	results chan ackResult
}

func (a *fakeAcknowledger) Ack(uint64, bool) error {
	a.results <- ackResult{acked: true}
	return nil
}

func (a *fakeAcknowledger) Nack(_ uint64, _ bool, requeue bool) error {
	a.results <- ackResult{requeue: requeue}
	return nil
}

func (a *fakeAcknowledger) Reject(_ uint64, requeue bool) error {
	a.results <- ackResult{requeue: requeue}
	return nil
}

func newTestQueue() (*Queue, *fakeChannel) {
	ch := newFakeChannel()
	return NewWithChannel(ch, 0, logging.NewNopLogger()), ch
}

func TestPublishJob(t *testing.T) {
	q, ch := newTestQueue()
	job := &models.TranscriptionJob{ID: "job-1", UserID: 7, Media: models.MediaRef{Key: "a.ogg", Kind: models.MediaKindVoice}}

	require.NoError(t, q.PublishJob(context.Background(), job))

	p := ch.last(t)
	assert.Equal(t, ExchangeName, p.exchange)
	assert.Equal(t, RequestQueueName, p.key)
	assert.Equal(t, amqp.Persistent, p.msg.DeliveryMode)
	assert.Equal(t, "application/json", p.msg.ContentType)

	var decoded models.TranscriptionJob
	require.NoError(t, json.Unmarshal(p.msg.Body, &decoded))
	assert.Equal(t, "job-1", decoded.ID)
	assert.Equal(t, int64(7), decoded.UserID)
}

func TestPublishJobPriority(t *testing.T) {
	q, ch := newTestQueue()

	require.NoError(t, q.PublishJob(context.Background(), &models.TranscriptionJob{ID: "paid", Priority: 2}))
	assert.Equal(t, uint8(2), ch.last(t).msg.Priority)

	require.NoError(t, q.PublishJob(context.Background(), &models.TranscriptionJob{ID: "clamped", Priority: 9}))
	assert.Equal(t, uint8(MaxPriority), ch.last(t).msg.Priority)

	_, err := q.PublishToRetryQueue(context.Background(), &models.TranscriptionJob{ID: "retry", Priority: 3}, "canceled")
	require.NoError(t, err)
	assert.Equal(t, uint8(3), ch.last(t).msg.Priority)
}

func TestPublishResult(t *testing.T) {
	q, ch := newTestQueue()

	require.NoError(t, q.PublishResult(context.Background(), &models.JobResult{JobID: "job-2", Status: "delivered"}))

	p := ch.last(t)
	assert.Equal(t, ResultQueueName, p.key)
	assert.Equal(t, "job-2", p.msg.Headers[headerResultToJob])
}

func TestPublishToRetryQueue(t *testing.T) {
	q, ch := newTestQueue()
	job := &models.TranscriptionJob{ID: "job-3", RetryCount: 1}

	dead, err := q.PublishToRetryQueue(context.Background(), job, "backend_unavailable")
	require.NoError(t, err)
	assert.False(t, dead)

	p := ch.last(t)
	assert.Equal(t, "", p.exchange)
	assert.Equal(t, RetryQueueName, p.key)
	assert.Equal(t, "60000", p.msg.Expiration)
	assert.Equal(t, int32(2), p.msg.Headers[headerRetryCount])

	var decoded models.TranscriptionJob
	require.NoError(t, json.Unmarshal(p.msg.Body, &decoded))
	assert.Equal(t, 2, decoded.RetryCount)
	assert.Equal(t, 1, job.RetryCount, "caller's job is not mutated")
}

func TestPublishToRetryQueueDeadLettersAfterMax(t *testing.T) {
	q, ch := newTestQueue()
	job := &models.TranscriptionJob{ID: "job-4", RetryCount: MaxRetries}

	dead, err := q.PublishToRetryQueue(context.Background(), job, "backend_unavailable")
	require.NoError(t, err)
	assert.True(t, dead)

	p := ch.last(t)
	assert.Equal(t, DeadLetterExchangeName, p.exchange)
	assert.Equal(t, DeadLetterQueueName, p.key)
	assert.Equal(t, "max retries exceeded: backend_unavailable", p.msg.Headers[headerFailReason])
}

func TestRetryDelay(t *testing.T) {
	assert.Equal(t, 30*time.Second, retryDelay(0))
	assert.Equal(t, time.Minute, retryDelay(1))
	assert.Equal(t, 8*time.Minute, retryDelay(4))
	assert.Equal(t, 15*time.Minute, retryDelay(10))
}

func TestConsumeJobs(t *testing.T) {
	q, ch := newTestQueue()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handled := make(chan string, 4)
	err := q.ConsumeJobs(ctx, func(_ context.Context, job *models.TranscriptionJob) error {
		handled <- job.ID
		if job.ID == "bad" {
			return errors.New("redis unavailable")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, defaultPrefetch, ch.prefetch)

	ack := &fakeAcknowledger{results: make(chan ackResult, 4)}
	send := func(body string) {
		ch.deliveries <- amqp.Delivery{Acknowledger: ack, Body: []byte(body)}
	}

	send(`{"id":"good"}`)
	assert.Equal(t, "good", <-handled)
	assert.Equal(t, ackResult{acked: true}, <-ack.results)

	send(`{"id":"bad"}`)
	assert.Equal(t, "bad", <-handled)
	assert.Equal(t, ackResult{requeue: true}, <-ack.results)

	send(`not json`)
	assert.Equal(t, ackResult{requeue: false}, <-ack.results)
}

func TestDepth(t *testing.T) {
	q, ch := newTestQueue()
	ch.depths[RequestQueueName] = 3
	ch.depths[DeadLetterQueueName] = 1

	depth, err := q.Depth()
	require.NoError(t, err)
	assert.Equal(t, 3, depth)

	dlq, err := q.DLQDepth()
	require.NoError(t, err)
	assert.Equal(t, 1, dlq)
}

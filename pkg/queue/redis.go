package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"QuantSim/pkg/logger"
)

// RedisBroker stores queues as Redis lists and retries as a sorted set.
type RedisBroker struct {
	client redis.Cmdable
}

func NewRedisBroker(client redis.Cmdable) *RedisBroker {
	return &RedisBroker{client: client}
}

func (b *RedisBroker) Push(ctx context.Context, key string, data []byte) error {
	if err := b.client.LPush(ctx, key, data).Err(); err != nil {
		return fmt.Errorf("lpush %s: %w", key, err)
	}
	return nil
}

func (b *RedisBroker) Pop(ctx context.Context, key string, timeout time.Duration) ([]byte, error) {
	res, err := b.client.BRPop(ctx, timeout, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrEmpty
		}
		return nil, err
	}
	if len(res) < 2 {
		return nil, ErrEmpty
	}
	return []byte(res[1]), nil
}

func (b *RedisBroker) Schedule(ctx context.Context, key string, data []byte, at time.Time) error {
	return b.client.ZAdd(ctx, key, redis.Z{Score: float64(at.UnixMilli()), Member: data}).Err()
}

// Due claims members by ZREM so two pollers never move the same entry.
func (b *RedisBroker) Due(ctx context.Context, key string, now time.Time) ([][]byte, error) {
	members, err := b.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: "0",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, err
	}
	var out [][]byte
	for _, m := range members {
		n, err := b.client.ZRem(ctx, key, m).Result()
		if err != nil {
			return out, err
		}
		if n > 0 {
			out = append(out, []byte(m))
		}
	}
	return out, nil
}

func (b *RedisBroker) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return b.client.Expire(ctx, key, ttl).Err()
}

func (b *RedisBroker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Queue runs registered jobs on a worker pool. With no jobs registered it
// only produces.
type Queue struct {
	logger    *logger.Logger
	config    *QueueConfig
	broker    Broker
	jobs      map[string]Job
	keyPrefix string
	now       func() time.Time

	mu        sync.RWMutex
	wg        sync.WaitGroup
	isRunning bool
	cancel    context.CancelFunc
}

// Option configures a Queue.
type Option func(*Queue)

// WithKeyPrefix sets the key namespace.
func WithKeyPrefix(prefix string) Option {
	return func(q *Queue) { q.keyPrefix = prefix }
}

// WithClock replaces the time source used for retry scheduling.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

func New(lgr *logger.Logger, broker Broker, cfg *QueueConfig, opts ...Option) *Queue {
	if lgr == nil {
		lgr = logger.Nop()
	}
	q := &Queue{
		logger:    lgr,
		config:    cfg.withDefaults(),
		broker:    broker,
		jobs:      make(map[string]Job),
		keyPrefix: "quantsim:queue",
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// RegisterJob registers a handler for its message type.
func (q *Queue) RegisterJob(job Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, exists := q.jobs[job.Type()]; exists {
		q.logger.Warn("job already registered", logger.String("job", job.Name()))
		return
	}
	q.jobs[job.Type()] = job
	q.logger.Info("job registered", logger.String("job", job.Name()), logger.String("type", job.Type()))
}

// Start pings the broker and launches workers plus the retry mover.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.isRunning {
		return fmt.Errorf("queue already running")
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err := q.broker.Ping(pctx)
	cancel()
	if err != nil {
		return fmt.Errorf("queue ping: %w", err)
	}

	ctx, q.cancel = context.WithCancel(ctx)
	q.isRunning = true
	if len(q.jobs) == 0 {
		q.logger.Info("queue publisher started", logger.String("prefix", q.keyPrefix))
		return nil
	}
	for i := 0; i < q.config.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}
	q.wg.Add(1)
	go q.retryLoop(ctx)
	q.logger.Info("queue started", logger.Int("workers", q.config.Workers), logger.String("prefix", q.keyPrefix))
	return nil
}

// Stop cancels workers and waits for in-flight jobs.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.isRunning {
		q.mu.Unlock()
		return nil
	}
	q.isRunning = false
	q.cancel()
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("timeout waiting for queue workers: %w", ctx.Err())
	case <-done:
		q.logger.Info("queue stopped")
		return nil
	}
}

// EnqueueOption adjusts a single message.
type EnqueueOption func(*Message)

// WithReplyTo asks the worker to push its Reply onto key.
func WithReplyTo(key string) EnqueueOption {
	return func(m *Message) { m.ReplyTo = key }
}

// Enqueue adds a message and returns its id.
func (q *Queue) Enqueue(ctx context.Context, msgType string, payload interface{}, opts ...EnqueueOption) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	msg := Message{
		ID:        uuid.NewString(),
		Type:      msgType,
		Payload:   raw,
		Timestamp: q.now(),
	}
	for _, opt := range opts {
		opt(&msg)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("marshal message: %w", err)
	}
	if err := q.broker.Push(ctx, q.queueKey(), data); err != nil {
		return "", err
	}
	return msg.ID, nil
}

// PublishMessage enqueues without a reply.
func (q *Queue) PublishMessage(ctx context.Context, msgType string, payload interface{}) error {
	_, err := q.Enqueue(ctx, msgType, payload)
	return err
}

// ReplyKey returns a namespaced reply list for a batch.
func (q *Queue) ReplyKey(batch string) string {
	return fmt.Sprintf("%s:replies:%s", q.keyPrefix, batch)
}

// Await collects n replies from key, in arrival order. It returns what it
// has so far with ctx.Err() when the context ends first.
func (q *Queue) Await(ctx context.Context, key string, n int) ([]Reply, error) {
	out := make([]Reply, 0, n)
	for len(out) < n {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		data, err := q.broker.Pop(ctx, key, q.config.PollTimeout)
		if errors.Is(err, ErrEmpty) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			return out, fmt.Errorf("await replies: %w", err)
		}
		var r Reply
		if err := json.Unmarshal(data, &r); err != nil {
			q.logger.Error("unmarshal reply", logger.Error(err))
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (q *Queue) worker(ctx context.Context, id int) {
	defer q.wg.Done()
	for ctx.Err() == nil {
		data, err := q.broker.Pop(ctx, q.queueKey(), q.config.PollTimeout)
		if err != nil {
			if errors.Is(err, ErrEmpty) || ctx.Err() != nil {
				continue
			}
			q.logger.Error("queue pop failed", logger.Int("worker_id", id), logger.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(q.config.PollTimeout):
			}
			continue
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			q.logger.Error("unmarshal message", logger.Error(err))
			continue
		}
		q.process(ctx, msg)
	}
}

func (q *Queue) process(ctx context.Context, msg Message) {
	q.mu.RLock()
	job, ok := q.jobs[msg.Type]
	q.mu.RUnlock()
	if !ok {
		q.logger.Error("no job found", logger.String("type", msg.Type), logger.String("id", msg.ID))
		q.deadLetter(ctx, msg)
		return
	}

	start := time.Now()
	result, err := job.Handle(ctx, msg.Payload)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			q.logger.Warn("message cancelled", logger.String("id", msg.ID), logger.Duration("elapsed_ms", time.Since(start)))
			return
		}
		q.handleError(ctx, msg, job, err)
		return
	}
	q.reply(ctx, msg, result, nil)
}

func (q *Queue) handleError(ctx context.Context, msg Message, job Job, err error) {
	q.logger.Error("message processing error",
		logger.String("id", msg.ID),
		logger.String("job", job.Name()),
		logger.Int("attempt", msg.Attempts+1),
		logger.Error(err))

	if msg.Attempts < q.config.RetryLimit {
		msg.Attempts++
		data, merr := json.Marshal(msg)
		if merr == nil {
			merr = q.broker.Schedule(ctx, q.retryKey(), data, q.now().Add(q.config.RetryDelay))
		}
		if merr != nil {
			q.logger.Error("schedule retry", logger.Error(merr))
		}
		return
	}
	q.logger.Error("max retries reached", logger.String("id", msg.ID), logger.String("job", job.Name()))
	q.deadLetter(ctx, msg)
	q.reply(ctx, msg, nil, err)
}

func (q *Queue) reply(ctx context.Context, msg Message, result interface{}, jobErr error) {
	if msg.ReplyTo == "" {
		return
	}
	r := Reply{ID: msg.ID}
	if jobErr != nil {
		r.Error = jobErr.Error()
	} else if result != nil {
		raw, err := json.Marshal(result)
		if err != nil {
			r.Error = fmt.Sprintf("marshal result: %v", err)
		} else {
			r.Result = raw
		}
	}
	data, err := json.Marshal(r)
	if err != nil {
		q.logger.Error("marshal reply", logger.Error(err))
		return
	}
	if err := q.broker.Push(ctx, msg.ReplyTo, data); err != nil {
		q.logger.Error("push reply", logger.String("reply_to", msg.ReplyTo), logger.Error(err))
		return
	}
	_ = q.broker.Expire(ctx, msg.ReplyTo, q.config.ReplyTTL)
}

func (q *Queue) deadLetter(ctx context.Context, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := q.broker.Push(ctx, q.deadLetterKey(), data); err != nil {
		q.logger.Error("push dlq", logger.Error(err))
	}
}

func (q *Queue) retryLoop(ctx context.Context) {
	defer q.wg.Done()
	t := time.NewTicker(q.config.RetryInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			q.moveDue(ctx)
		}
	}
}

func (q *Queue) moveDue(ctx context.Context) {
	due, err := q.broker.Due(ctx, q.retryKey(), q.now())
	if err != nil && ctx.Err() == nil {
		q.logger.Error("fetch retry messages", logger.Error(err))
	}
	for _, data := range due {
		if err := q.broker.Push(ctx, q.queueKey(), data); err != nil {
			q.logger.Error("move retry to queue", logger.Error(err))
		}
	}
}

func (q *Queue) queueKey() string      { return q.keyPrefix + ":messages" }
func (q *Queue) retryKey() string      { return q.keyPrefix + ":retry" }
func (q *Queue) deadLetterKey() string { return q.keyPrefix + ":dlq" }

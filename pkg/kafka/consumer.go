package kafka

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"

	"QuantSim/pkg/logger"
)

// MessageHandler handles messages from a specific topic.
type MessageHandler interface {
	Topic() string
	Handle(context.Context, []byte) error
}

// MessageReader is the subset of *kafka.Reader the consumer needs.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer fans messages out to a worker pool. Messages from one partition
// always land on the same worker, so per-partition order is preserved.
type Consumer struct {
	cfg       *ConsumerConfig
	log       *logger.Logger
	handlers  map[string]MessageHandler
	readers   map[string]MessageReader
	newReader func(topic string) MessageReader
	dlq       MessageWriter
	hook      ConsumerHook

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewConsumer creates a consumer; readers are created per topic on Start.
func NewConsumer(l *logger.Logger, opts ...ConsumerOption) (*Consumer, error) {
	cfg := defaultConsumerConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("brokers are required")
	}
	if l == nil {
		l = logger.Nop()
	}

	c := &Consumer{
		cfg:      cfg,
		log:      l,
		handlers: make(map[string]MessageHandler),
		readers:  make(map[string]MessageReader),
		hook:     NoopHook{},
	}
	c.newReader = func(topic string) MessageReader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Brokers,
			Topic:    topic,
			GroupID:  cfg.GroupID,
			MinBytes: cfg.MinBytes,
			MaxBytes: cfg.MaxBytes,
		})
	}
	if cfg.DLQTopic != "" {
		c.dlq = &kafka.Writer{Addr: kafka.TCP(cfg.Brokers...), Balancer: &kafka.LeastBytes{}}
	}
	initConsumerMetrics()
	return c, nil
}

// SetReaderFactory replaces how topic readers are built.
func (c *Consumer) SetReaderFactory(f func(topic string) MessageReader) { c.newReader = f }

// SetDLQWriter replaces the dead-letter writer.
func (c *Consumer) SetDLQWriter(w MessageWriter) { c.dlq = w }

// WithConsumerHook sets a hook implementation for lifecycle events.
func (c *Consumer) WithConsumerHook(h ConsumerHook) {
	if h != nil {
		c.hook = h
	}
}

// RegisterHandler registers a handler; a second handler for the same topic is ignored.
func (c *Consumer) RegisterHandler(h MessageHandler) {
	if _, ok := c.handlers[h.Topic()]; ok {
		c.log.Warn("kafka handler already registered", logger.String("topic", h.Topic()))
		return
	}
	c.handlers[h.Topic()] = h
}

// Start launches one fetch loop per topic plus its workers.
func (c *Consumer) Start(ctx context.Context) error {
	if len(c.handlers) == 0 {
		return fmt.Errorf("no handlers registered")
	}
	ctx, c.cancel = context.WithCancel(ctx)

	for topic, h := range c.handlers {
		r := c.newReader(topic)
		c.readers[topic] = r

		lanes := make([]chan kafka.Message, c.cfg.WorkerCount)
		for i := range lanes {
			lanes[i] = make(chan kafka.Message, c.cfg.BufferSize)
			c.wg.Add(1)
			go c.work(ctx, h, r, lanes[i])
		}
		c.wg.Add(1)
		go c.fetch(ctx, topic, r, lanes)
	}
	c.log.Info("kafka consumer started",
		logger.Int("topics", len(c.handlers)),
		logger.Int("workers", c.cfg.WorkerCount))
	return nil
}

func (c *Consumer) fetch(ctx context.Context, topic string, r MessageReader, lanes []chan kafka.Message) {
	defer c.wg.Done()
	defer func() {
		for _, l := range lanes {
			close(l)
		}
	}()

	for {
		msg, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Warn("kafka fetch failed", logger.String("topic", topic), logger.Error(err))
			if !sleepCtx(ctx, c.cfg.BackoffMin) {
				return
			}
			continue
		}
		lane := lanes[msg.Partition%len(lanes)]
		select {
		case lane <- msg:
			consumerQueueDepth.WithLabelValues(topic).Set(float64(len(lane)))
		case <-ctx.Done():
			return
		}
	}
}

func (c *Consumer) work(ctx context.Context, h MessageHandler, r MessageReader, lane <-chan kafka.Message) {
	defer c.wg.Done()
	for msg := range lane {
		c.process(ctx, h, r, msg)
	}
}

// process runs the handler with retries. After the last attempt the message
// goes to the DLQ when one is configured. The offset is committed on success
// or after a DLQ write so a poison message cannot stall the partition.
func (c *Consumer) process(ctx context.Context, h MessageHandler, r MessageReader, msg kafka.Message) {
	start := time.Now()
	topic := h.Topic()
	err := c.handleWithRetry(ctx, h, msg)

	dead := false
	if err != nil {
		c.log.Error("kafka message failed",
			logger.String("topic", topic),
			logger.Int64("offset", msg.Offset),
			logger.Error(err))
		dead = c.deadLetter(ctx, topic, msg)
	}
	if err == nil || dead {
		if cerr := c.commit(ctx, r, msg); cerr != nil {
			c.log.Error("kafka commit failed", logger.String("topic", topic), logger.Error(cerr))
		}
	}
	consumerHandleLatency.WithLabelValues(topic).Observe(time.Since(start).Seconds())
}

func (c *Consumer) handleWithRetry(ctx context.Context, h MessageHandler, msg kafka.Message) (err error) {
	topic := h.Topic()
	for attempt := 1; ; attempt++ {
		err = c.handleOnce(ctx, h, msg)
		if err == nil || attempt > c.cfg.RetryMax {
			return err
		}
		c.hook.OnError(ctx, topic, msg, msg.Value, err)
		if !sleepCtx(ctx, backoffWithJitter(c.cfg.BackoffMin, c.cfg.BackoffMax, attempt)) {
			return err
		}
	}
}

func (c *Consumer) handleOnce(ctx context.Context, h MessageHandler, msg kafka.Message) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &HookError{Code: "ERR_PANIC", Err: fmt.Errorf("handler panic: %v", rec)}
		}
	}()
	hctx, hmsg, data, err := c.hook.BeforeHandle(ctx, h.Topic(), msg, msg.Value)
	if err != nil {
		return err
	}
	err = h.Handle(hctx, data)
	c.hook.AfterHandle(hctx, h.Topic(), hmsg, data, err)
	return err
}

func (c *Consumer) deadLetter(ctx context.Context, topic string, msg kafka.Message) bool {
	if c.dlq == nil || c.cfg.DLQTopic == "" {
		return false
	}
	err := c.dlq.WriteMessages(ctx, kafka.Message{
		Topic:   c.cfg.DLQTopic,
		Key:     msg.Key,
		Value:   msg.Value,
		Time:    time.Now(),
		Headers: []kafka.Header{{Key: "source_topic", Value: []byte(topic)}},
	})
	if err != nil {
		c.log.Error("kafka dlq write failed", logger.String("dlq", c.cfg.DLQTopic), logger.Error(err))
		return false
	}
	return true
}

func (c *Consumer) commit(ctx context.Context, r MessageReader, msg kafka.Message) error {
	var err error
	for attempt := 1; attempt <= 3; attempt++ {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		err = r.CommitMessages(cctx, msg)
		cancel()
		if err == nil {
			return nil
		}
		time.Sleep(backoffWithJitter(50*time.Millisecond, 500*time.Millisecond, attempt))
	}
	return err
}

// Stop cancels fetch loops, drains workers, and closes readers.
func (c *Consumer) Stop(ctx context.Context) error {
	var stopErr error
	c.stopOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		done := make(chan struct{})
		go func() {
			c.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			stopErr = fmt.Errorf("timeout waiting for consumer to stop: %w", ctx.Err())
		}
		var errs []error
		for topic, r := range c.readers {
			if err := r.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close reader %s: %w", topic, err))
			}
		}
		if c.dlq != nil {
			if err := c.dlq.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close dlq: %w", err))
			}
		}
		if stopErr == nil {
			stopErr = errors.Join(errs...)
		}
	})
	return stopErr
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func backoffWithJitter(min, max time.Duration, attempt int) time.Duration {
	if min <= 0 {
		min = 50 * time.Millisecond
	}
	if max < min {
		max = min
	}
	exp := min << uint(attempt-1)
	if exp > max || exp <= 0 {
		exp = max
	}
	half := int64(exp) / 2
	if half <= 0 {
		return exp
	}
	return exp - time.Duration(rand.Int63n(half))
}

var (
	consumerQueueDepth    *prometheus.GaugeVec
	consumerHandleLatency *prometheus.HistogramVec
	consumerOnce          sync.Once
)

func initConsumerMetrics() {
	consumerOnce.Do(func() {
		consumerQueueDepth = promauto.NewGaugeVec(
			prometheus.GaugeOpts{Name: "quantsim_kafka_consumer_queue_depth", Help: "Messages waiting in a consumer lane"},
			[]string{"topic"},
		)
		consumerHandleLatency = promauto.NewHistogramVec(
			prometheus.HistogramOpts{Name: "quantsim_kafka_consumer_handle_seconds", Help: "Handling time per message"},
			[]string{"topic"},
		)
	})
}

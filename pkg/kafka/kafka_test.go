package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"QuantSim/pkg/logger"
)

type memWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *memWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *memWriter) Close() error { return nil }

func (w *memWriter) written() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.msgs...)
}

type memReader struct {
	in        chan kafka.Message
	mu        sync.Mutex
	committed []int64
}

func newMemReader(msgs ...kafka.Message) *memReader {
	r := &memReader{in: make(chan kafka.Message, len(msgs))}
	for _, m := range msgs {
		r.in <- m
	}
	return r
}

func (r *memReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.in:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *memReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *memReader) commits() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.committed)
}

func (r *memReader) Close() error { return nil }

type funcHandler struct {
	topic string
	fn    func([]byte) error
}

func (h funcHandler) Topic() string                            { return h.topic }
func (h funcHandler) Handle(_ context.Context, b []byte) error { return h.fn(b) }

func TestProducerEncodesJSON(t *testing.T) {
	w := &memWriter{}
	p := NewProducerWithWriter(w, "none")

	err := p.PublishBatch(context.Background(), "events", []Message{
		{Key: []byte("run-1"), Value: map[string]int{"seq": 1}},
		{Key: []byte("run-1"), Value: "raw"},
	})
	require.NoError(t, err)

	got := w.written()
	require.Len(t, got, 2)
	assert.Equal(t, "events", got[0].Topic)
	assert.JSONEq(t, `{"seq":1}`, string(got[0].Value))
	assert.Equal(t, "raw", string(got[1].Value))
}

func TestProducerEmptyBatchIsNoop(t *testing.T) {
	w := &memWriter{err: errors.New("must not be called")}
	p := NewProducerWithWriter(w, "none")
	assert.NoError(t, p.PublishBatch(context.Background(), "events", nil))
}

func TestNewProducerRequiresBrokers(t *testing.T) {
	_, err := NewProducer()
	assert.Error(t, err)
}

func TestConsumerHandlesAndCommits(t *testing.T) {
	c, err := NewConsumer(logger.Nop(), WithConsumerBrokers([]string{"localhost:9092"}), WithConsumerWorkers(2))
	require.NoError(t, err)

	reader := newMemReader(
		kafka.Message{Partition: 0, Offset: 1, Value: []byte("a")},
		kafka.Message{Partition: 1, Offset: 2, Value: []byte("b")},
		kafka.Message{Partition: 0, Offset: 3, Value: []byte("c")},
	)
	c.SetReaderFactory(func(string) MessageReader { return reader })
	c.SetDLQWriter(nil)

	var mu sync.Mutex
	seen := map[string]bool{}
	c.RegisterHandler(funcHandler{topic: "audit", fn: func(b []byte) error {
		mu.Lock()
		seen[string(b)] = true
		mu.Unlock()
		return nil
	}})

	require.NoError(t, c.Start(context.Background()))
	assert.Eventually(t, func() bool { return reader.commits() == 3 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, c.Stop(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, seen, 3)
}

func TestConsumerDeadLettersAfterRetries(t *testing.T) {
	c, err := NewConsumer(logger.Nop(),
		WithConsumerBrokers([]string{"localhost:9092"}),
		WithConsumerWorkers(1),
		WithConsumerRetry(2, time.Millisecond, 2*time.Millisecond),
		WithConsumerDLQ("audit.dlq"),
	)
	require.NoError(t, err)

	dlq := &memWriter{}
	c.SetDLQWriter(dlq)
	reader := newMemReader(kafka.Message{Offset: 7, Value: []byte("poison")})
	c.SetReaderFactory(func(string) MessageReader { return reader })

	var mu sync.Mutex
	attempts := 0
	c.RegisterHandler(funcHandler{topic: "audit", fn: func([]byte) error {
		mu.Lock()
		attempts++
		mu.Unlock()
		return errors.New("bad payload")
	}})

	require.NoError(t, c.Start(context.Background()))
	assert.Eventually(t, func() bool { return reader.commits() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, c.Stop(context.Background()))

	mu.Lock()
	assert.Equal(t, 3, attempts)
	mu.Unlock()
	got := dlq.written()
	require.Len(t, got, 1)
	assert.Equal(t, "audit.dlq", got[0].Topic)
	assert.Equal(t, "poison", string(got[0].Value))
}

func TestHandlerPanicIsRecovered(t *testing.T) {
	c, err := NewConsumer(logger.Nop(), WithConsumerBrokers([]string{"localhost:9092"}), WithConsumerRetry(0, time.Millisecond, time.Millisecond))
	require.NoError(t, err)

	h := funcHandler{topic: "audit", fn: func([]byte) error { panic("boom") }}
	err = c.handleWithRetry(context.Background(), h, kafka.Message{Value: []byte("x")})

	var he *HookError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, "ERR_PANIC", he.Code)
}

func TestHookChainOrderAndValidation(t *testing.T) {
	var order []string
	first := HookFuncs{
		Before: func(ctx context.Context, _ string, km kafka.Message, data []byte) (context.Context, kafka.Message, []byte, error) {
			order = append(order, "before-1")
			return ctx, km, data, nil
		},
		After: func(context.Context, string, kafka.Message, []byte, error) { order = append(order, "after-1") },
	}
	second := HookFuncs{
		Before: func(ctx context.Context, _ string, km kafka.Message, data []byte) (context.Context, kafka.Message, []byte, error) {
			order = append(order, "before-2")
			return ctx, km, data, nil
		},
		After: func(context.Context, string, kafka.Message, []byte, error) { order = append(order, "after-2") },
	}
	chain := NewHookChain(first, nil, second)

	ctx, km, data, err := chain.BeforeHandle(context.Background(), "t", kafka.Message{}, []byte("x"))
	require.NoError(t, err)
	chain.AfterHandle(ctx, "t", km, data, nil)
	assert.Equal(t, []string{"before-1", "before-2", "after-2", "after-1"}, order)

	reject := HookFuncs{Before: func(ctx context.Context, _ string, km kafka.Message, data []byte) (context.Context, kafka.Message, []byte, error) {
		return ctx, km, data, &HookError{Code: "ERR_VALIDATION", Err: errors.New("empty")}
	}}
	_, _, _, err = NewHookChain(reject).BeforeHandle(context.Background(), "t", kafka.Message{}, nil)
	var he *HookError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, "ERR_VALIDATION", he.Code)
}

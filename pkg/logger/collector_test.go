package logger

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu      sync.Mutex
	batches [][]AggregatedLogEntry
}

func (p *recordingPublisher) PublishMessage(_ context.Context, _ string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches = append(p.batches, payload.([]AggregatedLogEntry))
	return nil
}

func TestCollectorDeduplicatesRepeatedWarnings(t *testing.T) {
	pub := &recordingPublisher{}
	var buf bytes.Buffer
	l := NewWithWriter(&buf, "debug")
	l.AddCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 1000, Topic: "logs", Publisher: pub})
	defer l.RemoveCollector()

	for i := 0; i < 5; i++ {
		l.Warn("strategy fault", String("strategy", "ema_cross"))
	}
	l.Error("persistence degraded", String("sink", "kafka"))

	pending := l.collector.Pending()
	require.Len(t, pending, 2)
	counts := map[string]int{}
	for _, e := range pending {
		counts[e.Level+":"+e.Message] = e.Count
	}
	assert.Equal(t, 5, counts["warn:strategy fault"])
	assert.Equal(t, 1, counts["error:persistence degraded"])

	require.NoError(t, l.collector.Flush(context.Background()))
	require.Len(t, pub.batches, 1)
	assert.Len(t, pub.batches[0], 2)
	assert.Empty(t, l.collector.Pending())
	assert.Contains(t, buf.String(), "strategy fault")
}

func TestNopLoggerDiscards(t *testing.T) {
	l := Nop()
	l.Info("nothing", Float("x", 1.5), Time("at", time.Now()))
	l.With(String("k", "v")).Error("still nothing")
}

package logger

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"
)

// Publisher ships aggregated log batches, usually to a Kafka topic.
type Publisher interface {
	PublishMessage(ctx context.Context, topic string, payload interface{}) error
}

type CollectionConfig struct {
	TimeInterval   time.Duration // flush interval
	CountThreshold int           // unique entries before an early flush
	Topic          string
	Publisher      Publisher
}

// AggregatedLogEntry is one distinct warn/error line with its repeat count.
// A strategy faulting on every bar of a long replay becomes one entry.
type AggregatedLogEntry struct {
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields"`
	Caller    string                 `json:"caller"`
	Count     int                    `json:"count"`
	FirstSeen time.Time              `json:"first_seen"`
	LastSeen  time.Time              `json:"last_seen"`
}

type LogCollector struct {
	config  *CollectionConfig
	entries map[string]*AggregatedLogEntry
	mu      sync.Mutex
	now     func() time.Time
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewLogCollector(config *CollectionConfig) *LogCollector {
	if config.TimeInterval <= 0 {
		config.TimeInterval = 30 * time.Second
	}
	if config.CountThreshold <= 0 {
		config.CountThreshold = 100
	}
	ctx, cancel := context.WithCancel(context.Background())

	c := &LogCollector{
		config:  config,
		entries: make(map[string]*AggregatedLogEntry),
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
	}

	c.wg.Add(1)
	go c.periodicFlush()

	return c
}

func (c *LogCollector) AddLog(level, message string, fields map[string]interface{}, caller string) {
	key := entryKey(level, message, fields, caller)
	now := c.now()

	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		e.Count++
		e.LastSeen = now
	} else {
		c.entries[key] = &AggregatedLogEntry{
			Level:     level,
			Message:   message,
			Fields:    fields,
			Caller:    caller,
			Count:     1,
			FirstSeen: now,
			LastSeen:  now,
		}
	}
	var batch []AggregatedLogEntry
	if len(c.entries) >= c.config.CountThreshold {
		batch = c.drainLocked()
	}
	c.mu.Unlock()

	if batch != nil {
		go c.publish(batch)
	}
}

// Pending returns a snapshot of aggregated entries, ordered by first sighting.
func (c *LogCollector) Pending() []AggregatedLogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]AggregatedLogEntry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, *e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].FirstSeen.Before(out[j].FirstSeen) })
	return out
}

// Flush publishes everything aggregated so far and waits for the result.
func (c *LogCollector) Flush(ctx context.Context) error {
	c.mu.Lock()
	batch := c.drainLocked()
	c.mu.Unlock()
	if len(batch) == 0 || c.config.Publisher == nil {
		return nil
	}
	return c.config.Publisher.PublishMessage(ctx, c.config.Topic, batch)
}

func entryKey(level, message string, fields map[string]interface{}, caller string) string {
	data := struct {
		Level   string                 `json:"level"`
		Message string                 `json:"message"`
		Fields  map[string]interface{} `json:"fields"`
		Caller  string                 `json:"caller"`
	}{level, message, fields, caller}

	b, _ := json.Marshal(data)
	return fmt.Sprintf("%x", sha256.Sum256(b))
}

func (c *LogCollector) periodicFlush() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.TimeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = c.Flush(c.ctx)
		case <-c.ctx.Done():
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := c.Flush(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "failed to send aggregated logs: %v\n", err)
			}
			cancel()
			return
		}
	}
}

func (c *LogCollector) drainLocked() []AggregatedLogEntry {
	if len(c.entries) == 0 {
		return nil
	}
	out := make([]AggregatedLogEntry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, *e)
	}
	c.entries = make(map[string]*AggregatedLogEntry)
	return out
}

func (c *LogCollector) publish(batch []AggregatedLogEntry) {
	if c.config.Publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := c.config.Publisher.PublishMessage(ctx, c.config.Topic, batch); err != nil {
		fmt.Fprintf(os.Stderr, "failed to send aggregated logs: %v\n", err)
	}
}

func (c *LogCollector) Close() {
	c.cancel()
	c.wg.Wait()
}

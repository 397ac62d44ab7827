package queue

import (
	"context"
	"sort"
	"sync"
	"time"
)

type scheduled struct {
	at   time.Time
	data []byte
}

// MemoryBroker is an in-process Broker for single-node runs and tests.
type MemoryBroker struct {
	mu     sync.Mutex
	lists  map[string][][]byte
	sets   map[string][]scheduled
	notify chan struct{}
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		lists:  make(map[string][][]byte),
		sets:   make(map[string][]scheduled),
		notify: make(chan struct{}),
	}
}

func (b *MemoryBroker) Push(_ context.Context, key string, data []byte) error {
	b.mu.Lock()
	b.lists[key] = append(b.lists[key], append([]byte(nil), data...))
	close(b.notify)
	b.notify = make(chan struct{})
	b.mu.Unlock()
	return nil
}

// Pop returns the oldest entry of key, waiting up to timeout.
func (b *MemoryBroker) Pop(ctx context.Context, key string, timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		b.mu.Lock()
		if l := b.lists[key]; len(l) > 0 {
			data := l[0]
			b.lists[key] = l[1:]
			b.mu.Unlock()
			return data, nil
		}
		wait := b.notify
		b.mu.Unlock()

		select {
		case <-wait:
		case <-timer.C:
			return nil, ErrEmpty
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (b *MemoryBroker) Schedule(_ context.Context, key string, data []byte, at time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sets[key] = append(b.sets[key], scheduled{at: at, data: append([]byte(nil), data...)})
	sort.SliceStable(b.sets[key], func(i, j int) bool { return b.sets[key][i].at.Before(b.sets[key][j].at) })
	return nil
}

func (b *MemoryBroker) Due(_ context.Context, key string, now time.Time) ([][]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var due [][]byte
	rest := b.sets[key][:0]
	for _, s := range b.sets[key] {
		if !s.at.After(now) {
			due = append(due, s.data)
		} else {
			rest = append(rest, s)
		}
	}
	b.sets[key] = rest
	return due, nil
}

func (b *MemoryBroker) Expire(context.Context, string, time.Duration) error { return nil }

func (b *MemoryBroker) Ping(context.Context) error { return nil }

// Len reports the length of a list.
func (b *MemoryBroker) Len(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.lists[key])
}

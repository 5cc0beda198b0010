package discovery

import (
	"context"
	"sync"

	"github.com/jllopis/skillmesh/pkg/errors"
)

const subscriberBuffer = 64

// MemoryBus fans announcements out to in-process subscribers. A subscriber
// whose buffer is full misses the message; heartbeats repeat.
type MemoryBus struct {
	mu     sync.Mutex
	subs   map[chan Announcement]struct{}
	closed bool
}

// NewMemoryBus returns an empty bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[chan Announcement]struct{})}
}

// Publish delivers a to every current subscriber.
func (b *MemoryBus) Publish(_ context.Context, a Announcement) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errors.New(errors.CodeConnection, "bus closed", nil)
	}
	for ch := range b.subs {
		select {
		case ch <- a:
		default:
		}
	}
	return nil
}

// Subscribe registers a subscriber for the lifetime of ctx.
func (b *MemoryBus) Subscribe(ctx context.Context) (<-chan Announcement, error) {
	ch := make(chan Announcement, subscriberBuffer)
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, errors.New(errors.CodeConnection, "bus closed", nil)
	}
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
		b.mu.Unlock()
	}()
	return ch, nil
}

// Close closes every subscriber channel.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
	return nil
}

// Package cluster propagates catalog reload signals between gateway nodes
// as monotonic timestamps on a shared bus.
package cluster

import (
	"context"
	"sync"
)

// TopicModules is the bus topic carrying catalog reload timestamps.
const TopicModules = "okapi.conf.modules"

// Bus is the intra-cluster message bus the reload protocol runs on.
// Subscribe returns a receive channel and a cancel function; Publish
// delivers the timestamp to every subscriber of the topic, including
// subscribers on the publishing node.
type Bus interface {
	Publish(ctx context.Context, topic string, ts int64) error
	Subscribe(topic string) (<-chan int64, func())
	Close() error
}

// LocalBus is an in-process bus for single-node deployments and tests.
// Fan-out is channel based with buffered subscribers; a subscriber that
// falls behind drops messages, which the sync protocol tolerates.
type LocalBus struct {
	mu   sync.RWMutex
	subs map[string]map[chan int64]bool
}

// NewLocalBus creates an in-process bus.
func NewLocalBus() *LocalBus {
	return &LocalBus{subs: make(map[string]map[chan int64]bool)}
}

// Publish delivers ts to every subscriber of topic.
func (b *LocalBus) Publish(_ context.Context, topic string, ts int64) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs[topic] {
		select {
		case ch <- ts:
		default:
			// Subscriber buffer full; a later publish resyncs it.
		}
	}
	return nil
}

// Subscribe registers a buffered subscriber on topic.
func (b *LocalBus) Subscribe(topic string) (<-chan int64, func()) {
	ch := make(chan int64, 16)
	b.mu.Lock()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[chan int64]bool)
	}
	b.subs[topic][ch] = true
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[topic], ch)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Close releases all subscriptions.
func (b *LocalBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, subs := range b.subs {
		for ch := range subs {
			close(ch)
		}
	}
	b.subs = make(map[string]map[chan int64]bool)
	return nil
}

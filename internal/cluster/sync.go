package cluster

import (
	"context"
	"log/slog"
	"sync"
)

// TimestampKey identifies the single catalog timestamp record.
const TimestampKey = "modules"

// TimestampStore advances the persisted monotonic timestamp. The returned
// value is strictly greater than any value previously stored for the key.
type TimestampStore interface {
	Advance(ctx context.Context, key string, current int64) (int64, error)
}

// Loader repopulates the local catalog from the store. The swap it
// performs must be atomic so readers never see a partial catalog.
type Loader func(ctx context.Context) error

// Sync keeps a node's catalog converged with the cluster. Writers call
// Signal after persisting a catalog change; every node reloads when it
// sees a timestamp newer than its own.
type Sync struct {
	bus    Bus
	store  TimestampStore
	load   Loader
	logger *slog.Logger

	mu      sync.Mutex
	localTs int64

	cancel func()
}

// NewSync creates a sync whose local timestamp starts at -1, so the first
// signal observed from any node triggers a reload.
func NewSync(bus Bus, store TimestampStore, load Loader, logger *slog.Logger) *Sync {
	return &Sync{bus: bus, store: store, load: load, logger: logger, localTs: -1}
}

// Start subscribes to the reload topic and processes signals until Stop.
func (s *Sync) Start(ctx context.Context) {
	ch, cancel := s.bus.Subscribe(TopicModules)
	s.cancel = cancel
	go func() {
		for ts := range ch {
			s.handle(ctx, ts)
		}
	}()
}

// Stop ends the subscription.
func (s *Sync) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Signal advances the shared timestamp and publishes it. The catalog write
// must already be persisted; a bus failure is logged only, since the next
// successful signal resyncs every node.
func (s *Sync) Signal(ctx context.Context) error {
	s.mu.Lock()
	current := s.localTs
	s.mu.Unlock()

	ts, err := s.store.Advance(ctx, TimestampKey, current)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if ts > s.localTs {
		s.localTs = ts
	}
	s.mu.Unlock()

	if err := s.bus.Publish(ctx, TopicModules, ts); err != nil {
		s.logger.Error("publishing reload signal failed",
			slog.Int64("ts", ts), slog.String("error", err.Error()))
	}
	return nil
}

// LocalTs returns the node's view of the catalog timestamp.
func (s *Sync) LocalTs() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localTs
}

// handle processes one bus message. Older or equal timestamps are ignored,
// which makes out-of-order delivery and self-publish harmless.
func (s *Sync) handle(ctx context.Context, received int64) {
	s.mu.Lock()
	stale := received <= s.localTs
	s.mu.Unlock()
	if stale {
		return
	}
	if err := s.load(ctx); err != nil {
		s.logger.Error("catalog reload failed", slog.String("error", err.Error()))
		return
	}
	s.mu.Lock()
	if received > s.localTs {
		s.localTs = received
	}
	s.mu.Unlock()
	s.logger.Debug("catalog reloaded", slog.Int64("ts", received))
}

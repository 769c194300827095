package cluster

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type fakeTimestamps struct {
	mu    sync.Mutex
	value int64
}

func (f *fakeTimestamps) Advance(_ context.Context, _ string, current int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	next := f.value + 1
	if next <= current {
		next = current + 1
	}
	f.value = next
	return next, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestSync_SignalAdvancesAndPublishes(t *testing.T) {
	bus := NewLocalBus()
	defer bus.Close()
	ch, cancel := bus.Subscribe(TopicModules)
	defer cancel()

	s := NewSync(bus, &fakeTimestamps{}, func(context.Context) error { return nil }, testLogger())
	if s.LocalTs() != -1 {
		t.Fatalf("initial localTs = %d, want -1", s.LocalTs())
	}
	if err := s.Signal(context.Background()); err != nil {
		t.Fatal(err)
	}
	if s.LocalTs() != 1 {
		t.Errorf("localTs = %d after first signal", s.LocalTs())
	}
	select {
	case ts := <-ch:
		if ts != 1 {
			t.Errorf("published ts = %d", ts)
		}
	case <-time.After(time.Second):
		t.Fatal("no publish observed")
	}
}

func TestSync_AdvanceStrictlyIncreasing(t *testing.T) {
	ts := &fakeTimestamps{}
	var prev int64 = -1
	for i := 0; i < 10; i++ {
		v, err := ts.Advance(context.Background(), TimestampKey, prev)
		if err != nil {
			t.Fatal(err)
		}
		if v <= prev {
			t.Fatalf("advance returned %d after %d", v, prev)
		}
		prev = v
	}
}

func TestSync_ReloadOnNewerTimestamp(t *testing.T) {
	bus := NewLocalBus()
	defer bus.Close()

	var mu sync.Mutex
	reloads := 0
	load := func(context.Context) error {
		mu.Lock()
		reloads++
		mu.Unlock()
		return nil
	}
	s := NewSync(bus, &fakeTimestamps{}, load, testLogger())
	s.Start(context.Background())
	defer s.Stop()

	bus.Publish(context.Background(), TopicModules, 42)
	waitFor(t, func() bool { return s.LocalTs() == 42 })
	mu.Lock()
	if reloads != 1 {
		t.Errorf("reloads = %d", reloads)
	}
	mu.Unlock()

	// An older timestamp is ignored.
	bus.Publish(context.Background(), TopicModules, 17)
	time.Sleep(50 * time.Millisecond)
	if s.LocalTs() != 42 {
		t.Errorf("localTs dropped to %d", s.LocalTs())
	}
	mu.Lock()
	if reloads != 1 {
		t.Errorf("stale timestamp triggered a reload, reloads = %d", reloads)
	}
	mu.Unlock()
}

func TestSync_SelfPublishIsNoOp(t *testing.T) {
	bus := NewLocalBus()
	defer bus.Close()

	var mu sync.Mutex
	reloads := 0
	s := NewSync(bus, &fakeTimestamps{}, func(context.Context) error {
		mu.Lock()
		reloads++
		mu.Unlock()
		return nil
	}, testLogger())
	s.Start(context.Background())
	defer s.Stop()

	if err := s.Signal(context.Background()); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if reloads != 0 {
		t.Errorf("self-publish reloaded the catalog %d times", reloads)
	}
}

func TestSync_FailedReloadKeepsTimestamp(t *testing.T) {
	bus := NewLocalBus()
	defer bus.Close()

	fail := true
	var mu sync.Mutex
	s := NewSync(bus, &fakeTimestamps{}, func(context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			return context.DeadlineExceeded
		}
		return nil
	}, testLogger())
	s.Start(context.Background())
	defer s.Stop()

	bus.Publish(context.Background(), TopicModules, 5)
	time.Sleep(50 * time.Millisecond)
	if s.LocalTs() != -1 {
		t.Errorf("localTs advanced past a failed reload: %d", s.LocalTs())
	}

	// A later publish retries the reload.
	mu.Lock()
	fail = false
	mu.Unlock()
	bus.Publish(context.Background(), TopicModules, 6)
	waitFor(t, func() bool { return s.LocalTs() == 6 })
}

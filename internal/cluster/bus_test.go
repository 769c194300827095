package cluster

import (
	"context"
	"testing"
	"time"
)

func TestLocalBus_FanOut(t *testing.T) {
	bus := NewLocalBus()
	defer bus.Close()

	ch1, cancel1 := bus.Subscribe(TopicModules)
	defer cancel1()
	ch2, cancel2 := bus.Subscribe(TopicModules)
	defer cancel2()

	if err := bus.Publish(context.Background(), TopicModules, 7); err != nil {
		t.Fatal(err)
	}
	for i, ch := range []<-chan int64{ch1, ch2} {
		select {
		case ts := <-ch:
			if ts != 7 {
				t.Errorf("subscriber %d got %d", i, ts)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d got nothing", i)
		}
	}
}

func TestLocalBus_TopicIsolation(t *testing.T) {
	bus := NewLocalBus()
	defer bus.Close()

	ch, cancel := bus.Subscribe("other.topic")
	defer cancel()
	bus.Publish(context.Background(), TopicModules, 1)
	select {
	case ts := <-ch:
		t.Errorf("subscriber on other topic got %d", ts)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLocalBus_CancelStopsDelivery(t *testing.T) {
	bus := NewLocalBus()
	defer bus.Close()

	ch, cancel := bus.Subscribe(TopicModules)
	cancel()
	if _, open := <-ch; open {
		t.Error("channel should be closed after cancel")
	}
	// Publishing after cancel must not panic.
	bus.Publish(context.Background(), TopicModules, 2)
}

package events

import (
	"sync"
	"testing"
	"time"
)

func TestPublishReachesTypedAndGlobalSubscribers(t *testing.T) {
	bus := NewEventBus()

	var wg sync.WaitGroup
	var mu sync.Mutex
	got := map[string]Event{}

	wg.Add(2)
	bus.Subscribe(EventTradeOpened, func(e Event) {
		defer wg.Done()
		mu.Lock()
		got["typed"] = e
		mu.Unlock()
	})
	bus.SubscribeAll(func(e Event) {
		defer wg.Done()
		mu.Lock()
		got["all"] = e
		mu.Unlock()
	})
	bus.Subscribe(EventTradeClosed, func(e Event) {
		t.Errorf("closed subscriber received %s", e.Type)
	})

	bus.PublishTradeOpened("BTC", "OPEN_LONG", 0.009, 65000, 0.72)

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("subscribers not called")
	}

	for _, key := range []string{"typed", "all"} {
		e := got[key]
		if e.Type != EventTradeOpened || e.Data["coin"] != "BTC" {
			t.Errorf("%s subscriber got %+v", key, e)
		}
		if e.Timestamp.IsZero() {
			t.Errorf("%s subscriber got zero timestamp", key)
		}
	}
}

func TestNilBusDropsEvents(t *testing.T) {
	var bus *EventBus
	bus.PublishError("test", "ignored", nil)
}

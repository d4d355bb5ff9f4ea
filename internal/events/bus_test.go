package events

import (
	"sync"
	"testing"
	"time"
)

// collector gathers events delivered on subscriber goroutines
type collector struct {
	mu     sync.Mutex
	events []Event
	signal chan struct{}
}

func newCollector() *collector {
	return &collector{signal: make(chan struct{}, 64)}
}

func (c *collector) handle(e Event) {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
	c.signal <- struct{}{}
}

func (c *collector) wait(t *testing.T, n int) []Event {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-c.signal:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %d of %d", i+1, n)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

func TestSubscribeByType(t *testing.T) {
	bus := NewEventBus()
	opened := newCollector()
	closed := newCollector()
	bus.Subscribe(EventPositionOpened, opened.handle)
	bus.Subscribe(EventPositionClosed, closed.handle)

	bus.PublishPositionOpened(1, "KRW-BTC", 50_000, 0.01, 1)
	bus.PublishPositionClosed(1, "KRW-BTC", 1234.5, "TAKE_PROFIT")

	got := opened.wait(t, 1)
	if got[0].Type != EventPositionOpened {
		t.Errorf("type = %s", got[0].Type)
	}
	if got[0].Data["market"] != "KRW-BTC" || got[0].Data["entry_phase"] != 1 {
		t.Errorf("data = %v", got[0].Data)
	}
	if got[0].Timestamp.IsZero() {
		t.Error("timestamp not stamped")
	}

	got = closed.wait(t, 1)
	if got[0].Data["realized_pnl"] != 1234.5 || got[0].Data["exit_reason"] != "TAKE_PROFIT" {
		t.Errorf("data = %v", got[0].Data)
	}

	// Each collector saw only its own type
	if len(opened.wait(t, 0)) != 1 || len(closed.wait(t, 0)) != 1 {
		t.Error("events leaked across types")
	}
}

func TestSubscribeAll(t *testing.T) {
	bus := NewEventBus()
	all := newCollector()
	bus.SubscribeAll(all.handle)

	bus.PublishRiskDenied(1, "KRW-BTC", "COOLDOWN", "cooldown active")
	bus.PublishTaskStarted("task-1", "MULTI_BACKTEST")
	bus.PublishTunerApplied(9, 0.62, 31)

	got := all.wait(t, 3)
	seen := make(map[EventType]bool)
	for _, e := range got {
		seen[e.Type] = true
	}
	for _, want := range []EventType{EventRiskDenied, EventTaskStarted, EventTunerApplied} {
		if !seen[want] {
			t.Errorf("missing %s in %v", want, seen)
		}
	}
}

func TestPublishWithoutSubscribers(t *testing.T) {
	bus := NewEventBus()
	// Must not panic or block
	bus.PublishError("test", "no listeners", nil)
	bus.Publish(Event{Type: EventOrderPlaced})
}

func TestTaskFinishedErrorField(t *testing.T) {
	bus := NewEventBus()
	c := newCollector()
	bus.Subscribe(EventTaskFinished, c.handle)

	bus.PublishTaskFinished("task-1", "COMPLETED", "")
	bus.PublishTaskFinished("task-2", "FAILED", "candle gap")

	got := c.wait(t, 2)
	for _, e := range got {
		errText, hasErr := e.Data["error"]
		switch e.Data["task_id"] {
		case "task-1":
			if hasErr {
				t.Errorf("completed task carries error %v", errText)
			}
		case "task-2":
			if errText != "candle gap" {
				t.Errorf("failed task error = %v", errText)
			}
		}
	}
}

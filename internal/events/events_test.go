package events

import (
	"testing"
	"time"
)

func TestQueueFIFO(t *testing.T) {
	var q Queue
	ts := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	q.Push(Market{Symbol: "BTCUSDT", Timestamp: ts})
	q.Push(Signal{Symbol: "BTCUSDT", Timestamp: ts, Type: SignalBuy})
	q.Push(Fill{Symbol: "BTCUSDT", Timestamp: ts})

	if q.Len() != 3 {
		t.Fatalf("len = %d, want 3", q.Len())
	}
	if _, ok := q.Pop().(Market); !ok {
		t.Error("first pop should be the market event")
	}
	if _, ok := q.Pop().(Signal); !ok {
		t.Error("second pop should be the signal event")
	}
	if _, ok := q.Pop().(Fill); !ok {
		t.Error("third pop should be the fill event")
	}
	if q.Pop() != nil {
		t.Error("empty queue should pop nil")
	}
}

func TestQueueReset(t *testing.T) {
	var q Queue
	q.Push(Market{})
	q.Push(Risk{})
	q.Reset()
	if q.Len() != 0 || q.Pop() != nil {
		t.Error("reset should discard queued events")
	}
}

func TestFillTotalCost(t *testing.T) {
	fill := Fill{Quantity: 50, Price: 100, Commission: 5}
	if got := fill.TotalCost(); got != 5005 {
		t.Errorf("total cost = %v, want 5005", got)
	}
}

func TestBusDelivers(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(TopicFill, 10)
	defer unsub()

	fill := Fill{Symbol: "BTCUSDT", Quantity: 1}
	bus.Publish(TopicFill, fill)

	select {
	case msg := <-ch:
		got, ok := msg.(Fill)
		if !ok || got.Symbol != "BTCUSDT" {
			t.Errorf("message = %#v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
	}
}

func TestBusTopicsAreIndependent(t *testing.T) {
	bus := NewBus()
	fills, unsubFills := bus.Subscribe(TopicFill, 10)
	defer unsubFills()

	bus.Publish(TopicRiskAlert, Risk{Type: "DRAWDOWN"})

	select {
	case msg := <-fills:
		t.Errorf("fill subscriber got %#v from another topic", msg)
	default:
	}
}

func TestBusDropsWhenSubscriberIsFull(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(TopicEquityPoint, 1)
	defer unsub()

	// Second publish must not block even though nobody is reading.
	done := make(chan struct{})
	go func() {
		bus.Publish(TopicEquityPoint, 1)
		bus.Publish(TopicEquityPoint, 2)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	if got := <-ch; got != 1 {
		t.Errorf("first buffered message = %v, want 1", got)
	}
}

func TestBusUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(TopicRunFinished, 1)
	unsub()

	if _, open := <-ch; open {
		t.Error("channel should be closed after unsubscribe")
	}
	// Publishing after unsubscribe must not panic.
	bus.Publish(TopicRunFinished, struct{}{})
}

package events

import (
	"sync"
)

// Topic enumerates the progress streams a running backtest publishes.
type Topic string

const (
	TopicEquityPoint Topic = "equity_point"
	TopicFill        Topic = "fill"
	TopicRiskAlert   Topic = "risk_alert"
	TopicRunFinished Topic = "run_finished"
)

// Bus is a lightweight pub/sub broker using channels. The engine publishes
// progress here so transports (websocket, logs) can observe a run without
// the engine knowing about them.
type Bus struct {
	mu   sync.RWMutex
	subs map[Topic][]chan any
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Topic][]chan any)}
}

// Subscribe registers a listener for a topic and returns the channel and an
// unsubscribe function.
func (b *Bus) Subscribe(t Topic, buffer int) (<-chan any, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan any, buffer)
	b.subs[t] = append(b.subs[t], ch)

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[t]
		for i, c := range subs {
			if c == ch {
				close(c)
				b.subs[t] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}

	return ch, unsub
}

// Publish fan-outs the payload to subscribers without blocking the run.
func (b *Bus) Publish(t Topic, payload any) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[t] {
		select {
		case ch <- payload:
		default:
			// drop if subscriber is slow; the simulation must not stall
		}
	}
}

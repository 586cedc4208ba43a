package bus

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/roswellcsy/NiBot/internal/domain"
)

// ErrQueueFull is the backpressure signal returned to producers when a
// bounded queue is saturated. Messages are never silently dropped on publish.
var ErrQueueFull = errors.New("bus: queue full")

// ErrClosed is returned when publishing to a closed bus.
var ErrClosed = errors.New("bus: closed")

const defaultCapacity = 100

// InMemoryBus is a Go-channel based message bus with an inbound queue for
// the agent loop and an outbound queue drained by a background dispatcher.
// FIFO order holds per queue; no ordering exists across the two queues.
type InMemoryBus struct {
	inbound  chan domain.Envelope
	outbound chan domain.Envelope
	mu       sync.RWMutex
	subs     map[string][]func(domain.Envelope) error
	closed   bool
	dropped  atomic.Int64
	logger   *slog.Logger
}

// New creates a bus with the given queue capacities. Non-positive values
// fall back to the default.
func New(inboundCap, outboundCap int, logger *slog.Logger) *InMemoryBus {
	if inboundCap <= 0 {
		inboundCap = defaultCapacity
	}
	if outboundCap <= 0 {
		outboundCap = defaultCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &InMemoryBus{
		inbound:  make(chan domain.Envelope, inboundCap),
		outbound: make(chan domain.Envelope, outboundCap),
		subs:     make(map[string][]func(domain.Envelope) error),
		logger:   logger,
	}
}

func (b *InMemoryBus) PublishInbound(env domain.Envelope) error {
	return b.publish(b.inbound, env)
}

func (b *InMemoryBus) PublishOutbound(env domain.Envelope) error {
	return b.publish(b.outbound, env)
}

func (b *InMemoryBus) publish(queue chan domain.Envelope, env domain.Envelope) error {
	if !env.Routable() {
		return errors.New("bus: envelope missing channel or chat id")
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	select {
	case queue <- env:
		return nil
	default:
		b.logger.Warn("queue full, rejecting publish",
			"channel", env.Channel,
			"sender", env.SenderID,
		)
		return ErrQueueFull
	}
}

// Inbound returns the consumer side of the inbound queue.
func (b *InMemoryBus) Inbound() <-chan domain.Envelope {
	return b.inbound
}

// SubscribeOutbound registers a delivery callback for a channel name.
// Registering the same channel twice fans out to both subscribers.
func (b *InMemoryBus) SubscribeOutbound(channel string, fn func(domain.Envelope) error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[channel] = append(b.subs[channel], fn)
}

// Dispatch drains the outbound queue and invokes every subscriber registered
// for the envelope's channel. Blocks until ctx is cancelled. An envelope with
// no subscriber is dropped with a warning: scheduler-originated channels with
// no live listener are expected, not an error.
func (b *InMemoryBus) Dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-b.outbound:
			b.deliver(env)
		}
	}
}

func (b *InMemoryBus) deliver(env domain.Envelope) {
	b.mu.RLock()
	subs := b.subs[env.Channel]
	b.mu.RUnlock()

	if len(subs) == 0 {
		b.dropped.Add(1)
		b.logger.Warn("no subscriber for channel, dropping envelope",
			"channel", env.Channel,
			"chat_id", env.ChatID,
		)
		return
	}
	for _, fn := range subs {
		if err := fn(env); err != nil {
			b.logger.Error("outbound delivery failed",
				"channel", env.Channel,
				"chat_id", env.ChatID,
				"err", err,
			)
		}
	}
}

// Dropped reports how many outbound envelopes were discarded for lack of a
// subscriber since startup.
func (b *InMemoryBus) Dropped() int64 {
	return b.dropped.Load()
}

// Close marks the bus closed for publishing. Safe to call once.
func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.inbound)
	}
}

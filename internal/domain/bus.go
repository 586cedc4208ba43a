package domain

// MessageBus decouples channel adapters from the agent loop with two
// directional FIFO queues and an outbound subscriber directory.
type MessageBus interface {
	// PublishInbound enqueues an envelope for the agent loop. Returns
	// bus.ErrQueueFull when the bounded inbound queue is saturated.
	PublishInbound(Envelope) error
	// Inbound returns the receive side of the inbound queue; reading from it
	// is the single admission point into the agent loop.
	Inbound() <-chan Envelope
	// PublishOutbound enqueues an envelope for dispatch to channel subscribers.
	PublishOutbound(Envelope) error
	// SubscribeOutbound registers a delivery callback for a channel name.
	// Multiple subscribers per channel fan out.
	SubscribeOutbound(channel string, fn func(Envelope) error)
}

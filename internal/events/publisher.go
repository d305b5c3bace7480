package events

import (
	"log/slog"
	"sync"
)

// Publisher delivers call events to the presentation layer.
type Publisher interface {
	// Publish sends one event. Implementations must not block the
	// caller for long; the controller publishes under its session lock.
	Publish(event Event)

	// Close releases resources.
	Close() error
}

// NoopPublisher discards all events.
type NoopPublisher struct{}

// NewNoopPublisher creates a publisher that silently discards events.
func NewNoopPublisher() *NoopPublisher { return &NoopPublisher{} }

func (p *NoopPublisher) Publish(Event) {}
func (p *NoopPublisher) Close() error  { return nil }

// LoggingPublisher logs events at debug level. Useful for development.
type LoggingPublisher struct {
	logger *slog.Logger
}

// NewLoggingPublisher creates a publisher that logs events.
func NewLoggingPublisher(logger *slog.Logger) *LoggingPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingPublisher{logger: logger}
}

func (p *LoggingPublisher) Publish(event Event) {
	p.logger.Debug("event published",
		"subject", event.Subject(),
		"type", event.Type(),
		"session_id", event.SessionID(),
	)
}

func (p *LoggingPublisher) Close() error { return nil }

// ChannelPublisher buffers events on a channel for a consumer such as a
// UI loop or a test. Events are dropped when the buffer is full rather
// than blocking the controller.
type ChannelPublisher struct {
	mu     sync.Mutex
	ch     chan Event
	closed bool
}

// NewChannelPublisher creates a channel publisher with the given buffer.
func NewChannelPublisher(buffer int) *ChannelPublisher {
	if buffer <= 0 {
		buffer = 64
	}
	return &ChannelPublisher{ch: make(chan Event, buffer)}
}

// Events returns the consumer side of the channel.
func (p *ChannelPublisher) Events() <-chan Event { return p.ch }

func (p *ChannelPublisher) Publish(event Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.ch <- event:
	default:
	}
}

func (p *ChannelPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.ch)
	}
	return nil
}

package transport

import (
	"context"
	"fmt"
	"sync"

	"ai-relay-be/pkg/relay/envelope"

	"github.com/google/uuid"
)

// Loopback is an in-memory Adapter used by tests and by local development
// when no NATS cluster is configured. Outbound envelopes land in Sent;
// tests inject worker replies with Inject. Like the real platform it makes
// no delivery or ordering promises beyond what channels give for free.
type Loopback struct {
	mu       sync.Mutex
	sent     chan Inbound
	inbound  chan Inbound
	channels map[uuid.UUID]ChannelHandle
	closed   bool
	down     bool
}

func NewLoopback() *Loopback {
	return &Loopback{
		sent:     make(chan Inbound, 64),
		inbound:  make(chan Inbound, 64),
		channels: make(map[uuid.UUID]ChannelHandle),
	}
}

func (l *Loopback) CreateChannel(ctx context.Context, sessionId uuid.UUID) (ChannelHandle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	handle := ChannelHandle("loopback.session." + sessionId.String())
	l.channels[sessionId] = handle
	return handle, nil
}

func (l *Loopback) Send(ctx context.Context, handle ChannelHandle, env envelope.Envelope) error {
	l.mu.Lock()
	down := l.down
	l.mu.Unlock()
	if down {
		return fmt.Errorf("loopback is down: %w", ErrTransportUnavailable)
	}

	select {
	case l.sent <- Inbound{Channel: handle, Envelope: env}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loopback) Receive(ctx context.Context) (<-chan Inbound, error) {
	out := make(chan Inbound, 64)
	go func() {
		defer close(out)
		for {
			select {
			case in, ok := <-l.inbound:
				if !ok {
					return
				}
				out <- in
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Sent exposes envelopes posted by the relay, for a test's fake worker.
func (l *Loopback) Sent() <-chan Inbound {
	return l.sent
}

// Inject delivers an envelope as if the worker posted it. Injections after
// Close are dropped, matching a platform that no longer has a subscriber.
func (l *Loopback) Inject(in Inbound) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.inbound <- in
}

// SetDown toggles simulated platform unavailability.
func (l *Loopback) SetDown(down bool) {
	l.mu.Lock()
	l.down = down
	l.mu.Unlock()
}

func (l *Loopback) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.closed = true
		close(l.inbound)
	}
}

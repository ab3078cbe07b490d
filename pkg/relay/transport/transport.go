package transport

import (
	"context"
	"errors"

	"ai-relay-be/pkg/relay/envelope"

	"github.com/google/uuid"
)

// ErrTransportUnavailable signals that the messaging platform is
// unreachable. Sends are retried with backoff upstream; the request stays
// pending until its deadline.
var ErrTransportUnavailable = errors.New("transport unavailable")

// ChannelHandle addresses one transport-level conduit. A handle is bound
// one-to-one with a session for the session's whole lifetime and is never
// reused across sessions.
type ChannelHandle string

// Inbound is one received envelope together with the channel it arrived on.
type Inbound struct {
	Channel  ChannelHandle
	Envelope envelope.Envelope
}

// Adapter abstracts the external messaging platform used as an unreliable,
// unordered message bus. Delivery is at-most-once per message with no
// ordering guarantee between independent channels; a sent envelope may
// simply vanish, which is why timeouts exist upstream.
type Adapter interface {
	// CreateChannel allocates a private channel for the session. Channel
	// visibility is restricted to the worker and administrative identities.
	CreateChannel(ctx context.Context, sessionId uuid.UUID) (ChannelHandle, error)

	// Send posts an envelope to a channel.
	Send(ctx context.Context, handle ChannelHandle, env envelope.Envelope) error

	// Receive returns a stream of all inbound envelopes (worker-to-relay
	// direction plus control traffic). The stream is infinite and survives
	// transient disconnection; it closes only when ctx is done.
	Receive(ctx context.Context) (<-chan Inbound, error)

	Close()
}

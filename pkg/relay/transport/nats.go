package transport

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"ai-relay-be/pkg/relay/envelope"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	outboundSuffix = ".out" // relay -> worker
	inboundSuffix  = ".in"  // worker -> relay
	metricsSubject = "control.metrics"

	streamName   = "RELAY"
	durableName  = "relay-inbound"
	inboundQueue = 256
)

// NatsAdapter rides a NATS JetStream cluster as the external messaging
// platform. Each session channel maps to a subject pair
// <prefix>.session.<id>.{out,in}; worker-health reports arrive on
// <prefix>.control.metrics. Subject-level permissions on the platform side
// restrict channel visibility to the worker and administrative identities.
type NatsAdapter struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	prefix string
}

// NewNatsAdapter connects to NATS and ensures the relay stream exists.
// The connection reconnects indefinitely on transient failure; the receive
// stream resumes from the durable consumer's position after a reconnect.
func NewNatsAdapter(url, channelPrefix string) (*NatsAdapter, error) {
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	a := &NatsAdapter{nc: nc, js: js, prefix: channelPrefix}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  []string{channelPrefix + ".>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.WorkQueuePolicy,
	})
	if err != nil {
		log.Printf("Warn: Failed to ensure stream %q: %v", streamName, err)
		// Don't fail hard here, maybe it already exists or NATS isn't ready
	}

	return a, nil
}

// CreateChannel allocates the subject pair for a session. NATS subjects are
// cheap; allocation is a pure naming decision, so this never reuses a handle
// because session ids are unique.
func (a *NatsAdapter) CreateChannel(ctx context.Context, sessionId uuid.UUID) (ChannelHandle, error) {
	return ChannelHandle(fmt.Sprintf("%s.session.%s", a.prefix, sessionId)), nil
}

// Send publishes an envelope to the outbound side of a channel.
func (a *NatsAdapter) Send(ctx context.Context, handle ChannelHandle, env envelope.Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}

	if !a.nc.IsConnected() {
		return fmt.Errorf("nats not connected: %w", ErrTransportUnavailable)
	}

	if _, err := a.js.Publish(ctx, string(handle)+outboundSuffix, data); err != nil {
		return fmt.Errorf("publish to %s failed: %w: %v", handle, ErrTransportUnavailable, err)
	}
	return nil
}

// Receive consumes every inbound subject (session responses and control
// traffic) through one durable consumer. Malformed messages are acked and
// dropped so one bad envelope never stops processing others.
func (a *NatsAdapter) Receive(ctx context.Context) (<-chan Inbound, error) {
	consumer, err := a.js.CreateOrUpdateConsumer(ctx, streamName, jetstream.ConsumerConfig{
		Durable: durableName,
		FilterSubjects: []string{
			a.prefix + ".session.*" + inboundSuffix,
			a.prefix + "." + metricsSubject,
		},
		AckPolicy: jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	out := make(chan Inbound, inboundQueue)

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		env, err := envelope.Decode(msg.Data())
		if err != nil {
			log.Printf("Dropping malformed envelope on %s: %v", msg.Subject(), err)
			msg.Ack()
			return
		}

		select {
		case out <- Inbound{Channel: a.channelOf(msg.Subject()), Envelope: *env}:
			msg.Ack()
		case <-ctx.Done():
			msg.Nak()
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	go func() {
		<-ctx.Done()
		cc.Stop()
		close(out)
	}()

	return out, nil
}

// channelOf strips the inbound suffix so callers see the session's channel
// handle rather than the raw subject.
func (a *NatsAdapter) channelOf(subject string) ChannelHandle {
	return ChannelHandle(strings.TrimSuffix(subject, inboundSuffix))
}

func (a *NatsAdapter) Close() {
	if a.nc != nil {
		a.nc.Close()
	}
}

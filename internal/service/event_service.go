package service

import (
	"encoding/json"
	"time"

	"ai-relay-be/internal/pkg/logger"
	"ai-relay-be/pkg/events"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
)

// SessionEventsTopic is the in-process bus topic for session events.
const SessionEventsTopic = "session-events"

// wireEvent is the serialized form of an event on the bus.
type wireEvent struct {
	Type      string                 `json:"type"`
	OwnerId   string                 `json:"owner_id"`
	Payload   map[string]interface{} `json:"payload"`
	Timestamp time.Time              `json:"timestamp"`
}

type IEventPublisher interface {
	Publish(event events.Event)
}

type eventPublisher struct {
	pubSub *gochannel.GoChannel
	logger logger.ILogger
}

func NewEventPublisher(pubSub *gochannel.GoChannel, log logger.ILogger) IEventPublisher {
	return &eventPublisher{
		pubSub: pubSub,
		logger: log,
	}
}

// Publish is fire-and-forget: delivery of session events is best-effort
// and never blocks or fails the relay hot path.
func (p *eventPublisher) Publish(event events.Event) {
	we := wireEvent{
		Type:      event.EventType(),
		OwnerId:   event.Owner().String(),
		Payload:   event.Payload(),
		Timestamp: event.Timestamp(),
	}

	data, err := json.Marshal(we)
	if err != nil {
		p.logger.Error("EventPublisher", "Failed to marshal event", map[string]interface{}{"type": event.EventType(), "error": err.Error()})
		return
	}

	msg := message.NewMessage(uuid.NewString(), data)
	if err := p.pubSub.Publish(SessionEventsTopic, msg); err != nil {
		p.logger.Error("EventPublisher", "Failed to publish event", map[string]interface{}{"type": event.EventType(), "error": err.Error()})
	}
}

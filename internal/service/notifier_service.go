package service

import (
	"context"
	"encoding/json"
	"fmt"

	"ai-relay-be/internal/pkg/logger"
	"ai-relay-be/internal/pkg/mailer"
	"ai-relay-be/internal/websocket"
	"ai-relay-be/pkg/events"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
)

type INotifierService interface {
	Start(ctx context.Context) error
}

// notifierService fans session events out to connected clients and, for
// degradations, to the operators' inbox. It is decoupled from the relay
// hot path by the in-process bus: a slow mail server never delays a reply.
type notifierService struct {
	pubSub     *gochannel.GoChannel
	hub        *websocket.Hub
	alerts     mailer.IAlertService
	alertEmail string
	logger     logger.ILogger
}

func NewNotifierService(
	pubSub *gochannel.GoChannel,
	hub *websocket.Hub,
	alerts mailer.IAlertService,
	alertEmail string,
	log logger.ILogger,
) INotifierService {
	return &notifierService{
		pubSub:     pubSub,
		hub:        hub,
		alerts:     alerts,
		alertEmail: alertEmail,
		logger:     log,
	}
}

func (s *notifierService) Start(ctx context.Context) error {
	messages, err := s.pubSub.Subscribe(ctx, SessionEventsTopic)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			s.processMessage(msg)
		}
	}()

	s.logger.Info("NotifierService", "Notifier started, listening to "+SessionEventsTopic, nil)
	return nil
}

func (s *notifierService) processMessage(msg *message.Message) {
	defer msg.Ack()

	var we wireEvent
	if err := json.Unmarshal(msg.Payload, &we); err != nil {
		s.logger.Error("NotifierService", "Failed to unmarshal event", map[string]interface{}{"error": err.Error()})
		return
	}

	data, _ := json.Marshal(map[string]interface{}{
		"type": "session_event",
		"data": we,
	})

	// Intake toggles concern everyone; everything else targets the owner.
	if we.Type == events.TypeIntakeChanged {
		s.hub.Broadcast(data)
	} else if owner, err := uuid.Parse(we.OwnerId); err == nil {
		s.hub.Send(owner, data)
	}

	if we.Type == events.TypeSessionDegraded && s.alerts != nil && s.alertEmail != "" {
		sessionId, _ := we.Payload["session_id"].(string)
		reason, _ := we.Payload["reason"].(string)
		if reason == "" {
			reason = "no response before the deadline"
		}
		if err := s.alerts.SendDegradedAlert(s.alertEmail, sessionId, reason); err != nil {
			s.logger.Error("NotifierService", fmt.Sprintf("Failed to send degraded alert for %s", sessionId), map[string]interface{}{"error": err.Error()})
		}
	}
}

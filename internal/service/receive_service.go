package service

import (
	"context"
	"encoding/json"
	"errors"

	"ai-relay-be/internal/pkg/logger"
	"ai-relay-be/pkg/relay/cipher"
	"ai-relay-be/pkg/relay/correlator"
	"ai-relay-be/pkg/relay/envelope"
	"ai-relay-be/pkg/relay/metrics"
	"ai-relay-be/pkg/relay/transport"
)

type IReceiveService interface {
	Start(ctx context.Context) error
}

// receiveService is the single consumer of the inbound transport stream.
// It opens each envelope and routes the plaintext: responses to the
// correlator, worker reports to the metrics collector. Anything that fails
// authentication is dropped silently, exactly as if it never arrived, so a
// forged response costs the attacker nothing but also gains nothing.
type receiveService struct {
	adapter    transport.Adapter
	correlator *correlator.Correlator
	collector  *metrics.Collector
	logger     logger.ILogger
	key        []byte
}

func NewReceiveService(
	adapter transport.Adapter,
	corr *correlator.Correlator,
	collector *metrics.Collector,
	log logger.ILogger,
	key []byte,
) IReceiveService {
	return &receiveService{
		adapter:    adapter,
		correlator: corr,
		collector:  collector,
		logger:     log,
		key:        key,
	}
}

func (s *receiveService) Start(ctx context.Context) error {
	inbound, err := s.adapter.Receive(ctx)
	if err != nil {
		return err
	}

	go func() {
		for in := range inbound {
			s.process(in)
		}
		s.logger.Info("ReceiveService", "Inbound stream closed", nil)
	}()

	s.logger.Info("ReceiveService", "Receive loop started", nil)
	return nil
}

func (s *receiveService) process(in transport.Inbound) {
	env := in.Envelope

	plaintext, err := cipher.Open(s.key, env.Payload, env.AssociatedData())
	if err != nil {
		if errors.Is(err, cipher.ErrDecryptionFailure) {
			// Tampered, replayed into the wrong slot, or sealed under a
			// foreign key. Drop without feedback to the sender.
			s.logger.Warn("ReceiveService", "Dropping undecryptable envelope", map[string]interface{}{
				"channel":    string(in.Channel),
				"direction":  string(env.Direction),
				"request_id": env.RequestId,
			})
		} else {
			s.logger.Error("ReceiveService", "Failed to open envelope", map[string]interface{}{"error": err.Error()})
		}
		return
	}

	switch env.Direction {
	case envelope.DirectionResponse:
		if !s.correlator.Resolve(env.RequestId, plaintext) {
			s.logger.Info("ReceiveService", "Discarded late or duplicate response", map[string]interface{}{
				"request_id": env.RequestId,
			})
		}

	case envelope.DirectionMetrics:
		// Worker reports carry the worker id in the correlation-id slot.
		var report envelope.MetricsPayload
		if err := json.Unmarshal(plaintext, &report); err != nil {
			s.logger.Warn("ReceiveService", "Malformed worker report", map[string]interface{}{"error": err.Error()})
			return
		}
		s.collector.Ingest(env.RequestId, report)

	default:
		s.logger.Warn("ReceiveService", "Ignoring envelope with unexpected direction", map[string]interface{}{
			"direction": string(env.Direction),
		})
	}
}

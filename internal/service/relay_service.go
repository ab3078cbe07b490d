package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"ai-relay-be/internal/constant"
	"ai-relay-be/internal/dto"
	"ai-relay-be/internal/entity"
	"ai-relay-be/internal/pkg/logger"
	"ai-relay-be/internal/pkg/serverutils"
	"ai-relay-be/internal/repository/unitofwork"
	"ai-relay-be/pkg/events"
	"ai-relay-be/pkg/relay/cipher"
	"ai-relay-be/pkg/relay/correlator"
	"ai-relay-be/pkg/relay/envelope"
	"ai-relay-be/pkg/relay/fallback"
	"ai-relay-be/pkg/relay/registry"
	"ai-relay-be/pkg/relay/transport"
	"ai-relay-be/pkg/store"

	"github.com/google/uuid"
)

// sendRetryBase is the initial backoff between send attempts when the
// messaging platform is unavailable. Doubles up to sendRetryCap.
const (
	sendRetryBase = 500 * time.Millisecond
	sendRetryCap  = 5 * time.Second
)

// IntakeGate is the administrative kill switch for new prompt intake.
// Sessions already waiting on a response are unaffected by a toggle.
type IntakeGate struct {
	disabled atomic.Bool
}

func (g *IntakeGate) Enabled() bool {
	return !g.disabled.Load()
}

func (g *IntakeGate) Set(enabled bool) {
	g.disabled.Store(!enabled)
}

type IRelayService interface {
	SendPrompt(ctx context.Context, userId uuid.UUID, request *dto.SendPromptRequest) (*dto.SendPromptResponse, error)
}

// relayService drives one prompt through the full path: claim the session's
// request slot, seal and send the envelope, wait for the correlated
// response, and fall back locally if the deadline fires first.
type relayService struct {
	uowFactory unitofwork.RepositoryFactory
	registry   *registry.Registry
	correlator *correlator.Correlator
	adapter    transport.Adapter
	generator  fallback.Generator
	publisher  IEventPublisher
	intake     *IntakeGate
	logger     logger.ILogger

	key             []byte
	responseTimeout time.Duration
	fallbackEnabled bool
}

func NewRelayService(
	uowFactory unitofwork.RepositoryFactory,
	reg *registry.Registry,
	corr *correlator.Correlator,
	adapter transport.Adapter,
	generator fallback.Generator,
	publisher IEventPublisher,
	intake *IntakeGate,
	log logger.ILogger,
	key []byte,
	responseTimeout time.Duration,
	fallbackEnabled bool,
) IRelayService {
	return &relayService{
		uowFactory:      uowFactory,
		registry:        reg,
		correlator:      corr,
		adapter:         adapter,
		generator:       generator,
		publisher:       publisher,
		intake:          intake,
		logger:          log,
		key:             key,
		responseTimeout: responseTimeout,
		fallbackEnabled: fallbackEnabled,
	}
}

func (s *relayService) SendPrompt(ctx context.Context, userId uuid.UUID, request *dto.SendPromptRequest) (*dto.SendPromptResponse, error) {
	if !s.intake.Enabled() {
		return nil, serverutils.ErrIntakeDisabled
	}

	session, err := s.registry.Get(ctx, request.ChatSessionId)
	if err != nil {
		return nil, err
	}
	// Ownership failures look identical to missing sessions on purpose.
	if session.OwnerId != userId {
		return nil, registry.ErrSessionNotFound
	}
	if session.Status == constant.SessionStatusEnded {
		return nil, registry.ErrSessionEnded
	}

	rs, err := s.registry.Runtime(ctx, session.Id)
	if err != nil {
		return nil, err
	}

	requestId := s.correlator.Submit(session.Id)
	if err := s.registry.AcquireInFlight(rs, requestId); err != nil {
		s.correlator.Cancel(requestId)
		return nil, err
	}
	defer s.registry.ReleaseInFlight(rs, requestId)

	env, err := s.sealRequest(requestId, session, request.Prompt)
	if err != nil {
		s.correlator.Cancel(requestId)
		return nil, err
	}

	deadline := time.Now().Add(s.responseTimeout)
	sendErr := s.sendWithRetry(ctx, transport.ChannelHandle(session.ChannelHandle), env, deadline)
	if sendErr != nil && !s.fallbackEnabled {
		s.correlator.Cancel(requestId)
		return nil, sendErr
	}

	plaintext, err := s.correlator.AwaitResult(ctx, requestId, time.Until(deadline))
	switch {
	case err == nil:
		return s.deliverResponse(ctx, session, rs, requestId, request.Prompt, plaintext)
	case errors.Is(err, correlator.ErrExpired) || errors.Is(err, context.DeadlineExceeded):
		if !s.fallbackEnabled {
			return nil, correlator.ErrExpired
		}
		return s.deliverFallback(ctx, session, rs, requestId, request.Prompt)
	default:
		return nil, err
	}
}

func (s *relayService) sealRequest(requestId string, session *entity.ChatSession, prompt string) (envelope.Envelope, error) {
	payload := envelope.RequestPayload{
		RequestId: requestId,
		SessionId: session.Id.String(),
		Prompt:    prompt,
		Parameters: envelope.GenerationParams{
			Temperature:  session.Temperature,
			SystemPrompt: session.SystemPrompt,
		},
	}

	plaintext, err := json.Marshal(payload)
	if err != nil {
		return envelope.Envelope{}, fmt.Errorf("failed to marshal request payload: %w", err)
	}

	sealed, err := cipher.Seal(s.key, plaintext, envelope.AssociatedData(requestId, envelope.DirectionRequest))
	if err != nil {
		return envelope.Envelope{}, err
	}

	return envelope.Envelope{
		RequestId: requestId,
		Direction: envelope.DirectionRequest,
		Payload:   sealed,
	}, nil
}

// sendWithRetry keeps trying while the platform is unavailable, up to the
// response deadline. An unsendable request is indistinguishable from an
// unanswered one: it expires and falls back like any other.
func (s *relayService) sendWithRetry(ctx context.Context, handle transport.ChannelHandle, env envelope.Envelope, deadline time.Time) error {
	backoff := sendRetryBase
	for {
		err := s.adapter.Send(ctx, handle, env)
		if err == nil {
			return nil
		}
		if !errors.Is(err, transport.ErrTransportUnavailable) {
			return err
		}

		remaining := time.Until(deadline)
		if remaining <= backoff {
			return err
		}

		s.logger.Warn("RelayService", "Transport unavailable, retrying send", map[string]interface{}{
			"request_id": env.RequestId,
			"backoff_ms": backoff.Milliseconds(),
		})

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}

		backoff *= 2
		if backoff > sendRetryCap {
			backoff = sendRetryCap
		}
	}
}

func (s *relayService) deliverResponse(ctx context.Context, session *entity.ChatSession, rs *store.RuntimeSession, requestId, prompt string, plaintext []byte) (*dto.SendPromptResponse, error) {
	var payload envelope.ResponsePayload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response payload: %w", err)
	}

	if payload.Error == envelope.WorkerErrorOverload {
		// Remote saturation, not a timeout: no fallback and no degraded
		// flag, the caller backs off and retries.
		return nil, serverutils.ErrWorkerOverload
	}
	if payload.Error != "" {
		return nil, fmt.Errorf("worker error: %s", payload.Error)
	}

	sent, reply, err := s.persistExchange(ctx, session, requestId, prompt, payload.ResponseText, false)
	if err != nil {
		return nil, err
	}

	rs.LastPrompt = prompt
	rs.AppendTranscript(prompt)
	rs.AppendTranscript(payload.ResponseText)

	s.publisher.Publish(events.SessionEvent{
		Type:      events.TypeResponseDelivered,
		OwnerId:   session.OwnerId,
		SessionId: session.Id,
		Data: map[string]interface{}{
			"request_id": requestId,
		},
		OccurredAt: time.Now(),
	})

	return &dto.SendPromptResponse{
		ChatSessionId: session.Id,
		RequestId:     requestId,
		Sent:          toResponseChat(sent),
		Reply:         toResponseChat(reply),
		Degraded:      false,
	}, nil
}

func (s *relayService) deliverFallback(ctx context.Context, session *entity.ChatSession, rs *store.RuntimeSession, requestId, prompt string) (*dto.SendPromptResponse, error) {
	text := s.generator.Generate(fallback.SessionContext{
		SessionId:  session.Id.String(),
		LastPrompt: prompt,
		Transcript: rs.Transcript,
	})

	if err := s.registry.MarkDegraded(ctx, session.Id); err != nil {
		s.logger.Error("RelayService", "Failed to mark session degraded", map[string]interface{}{
			"session_id": session.Id.String(),
			"error":      err.Error(),
		})
	}

	sent, reply, err := s.persistExchange(ctx, session, requestId, prompt, text, true)
	if err != nil {
		return nil, err
	}

	rs.LastPrompt = prompt
	rs.AppendTranscript(prompt)

	s.logger.Warn("RelayService", "Deadline expired, fallback delivered", map[string]interface{}{
		"session_id": session.Id.String(),
		"request_id": requestId,
	})

	s.publisher.Publish(events.SessionEvent{
		Type:      events.TypeSessionDegraded,
		OwnerId:   session.OwnerId,
		SessionId: session.Id,
		Data: map[string]interface{}{
			"request_id": requestId,
			"reason":     "no response before the deadline",
		},
		OccurredAt: time.Now(),
	})

	return &dto.SendPromptResponse{
		ChatSessionId: session.Id,
		RequestId:     requestId,
		Sent:          toResponseChat(sent),
		Reply:         toResponseChat(reply),
		Degraded:      true,
	}, nil
}

// persistExchange stores the user prompt and the assistant reply in one
// transaction, naming the session from its first prompt.
func (s *relayService) persistExchange(ctx context.Context, session *entity.ChatSession, requestId, prompt, reply string, isFallback bool) (*entity.ChatMessage, *entity.ChatMessage, error) {
	now := time.Now()

	userMsg := &entity.ChatMessage{
		Id:            uuid.New(),
		ChatSessionId: session.Id,
		Role:          constant.ChatMessageRoleUser,
		Content:       prompt,
		RequestId:     &requestId,
		CreatedAt:     now,
	}
	assistantMsg := &entity.ChatMessage{
		Id:            uuid.New(),
		ChatSessionId: session.Id,
		Role:          constant.ChatMessageRoleAssistant,
		Content:       reply,
		RequestId:     &requestId,
		Fallback:      isFallback,
		CreatedAt:     now.Add(time.Millisecond), // keep ordering stable
	}

	uow := s.uowFactory.NewUnitOfWork(ctx)
	if err := uow.Begin(ctx); err != nil {
		return nil, nil, err
	}

	if err := uow.ChatMessageRepository().CreateBulk(ctx, []*entity.ChatMessage{userMsg, assistantMsg}); err != nil {
		uow.Rollback()
		return nil, nil, err
	}

	if session.Title == constant.DefaultSessionTitle {
		session.Title = titleFromPrompt(prompt)
	}
	session.UpdatedAt = &now
	if err := uow.ChatSessionRepository().Update(ctx, session); err != nil {
		uow.Rollback()
		return nil, nil, err
	}

	if err := uow.Commit(); err != nil {
		return nil, nil, err
	}
	return userMsg, assistantMsg, nil
}

func titleFromPrompt(prompt string) string {
	title := strings.TrimSpace(prompt)
	if len(title) > 60 {
		title = strings.TrimSpace(title[:60]) + "..."
	}
	if title == "" {
		return constant.DefaultSessionTitle
	}
	return title
}

func toResponseChat(m *entity.ChatMessage) *dto.SendPromptResponseChat {
	return &dto.SendPromptResponseChat{
		Id:        m.Id,
		Role:      m.Role,
		Content:   m.Content,
		Fallback:  m.Fallback,
		CreatedAt: m.CreatedAt,
	}
}

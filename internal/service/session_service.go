package service

import (
	"context"
	"time"

	"ai-relay-be/internal/constant"
	"ai-relay-be/internal/dto"
	"ai-relay-be/internal/entity"
	"ai-relay-be/internal/pkg/logger"
	"ai-relay-be/internal/repository/specification"
	"ai-relay-be/internal/repository/unitofwork"
	"ai-relay-be/pkg/relay/registry"

	"github.com/google/uuid"
)

type ISessionService interface {
	StartSession(ctx context.Context, userId uuid.UUID, request *dto.StartSessionRequest) (*dto.StartSessionResponse, error)
	GetAllSessions(ctx context.Context, userId uuid.UUID) ([]*dto.GetAllSessionsResponse, error)
	GetChatHistory(ctx context.Context, userId uuid.UUID, sessionId uuid.UUID) ([]*dto.GetChatHistoryResponse, error)
	UpdateSession(ctx context.Context, userId uuid.UUID, request *dto.UpdateSessionRequest) error
	EndSession(ctx context.Context, userId uuid.UUID, request *dto.EndSessionRequest) error
	StartReaper(ctx context.Context)
}

type sessionService struct {
	uowFactory unitofwork.RepositoryFactory
	registry   *registry.Registry
	logger     logger.ILogger
	maxIdle    time.Duration
}

func NewSessionService(uowFactory unitofwork.RepositoryFactory, reg *registry.Registry, log logger.ILogger, maxIdle time.Duration) ISessionService {
	return &sessionService{
		uowFactory: uowFactory,
		registry:   reg,
		logger:     log,
		maxIdle:    maxIdle,
	}
}

func (s *sessionService) StartSession(ctx context.Context, userId uuid.UUID, request *dto.StartSessionRequest) (*dto.StartSessionResponse, error) {
	origin := request.Origin
	if origin == "" {
		origin = constant.SessionOriginWeb
	}

	session, err := s.registry.Create(ctx, origin, userId, registry.Params{
		Temperature:  request.Temperature,
		SystemPrompt: request.SystemPrompt,
		Title:        request.Title,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("SessionService", "Session started", map[string]interface{}{
		"session_id": session.Id.String(),
		"origin":     origin,
	})

	return &dto.StartSessionResponse{
		Id:        session.Id,
		Title:     session.Title,
		Origin:    session.Origin,
		CreatedAt: session.CreatedAt,
	}, nil
}

func (s *sessionService) GetAllSessions(ctx context.Context, userId uuid.UUID) ([]*dto.GetAllSessionsResponse, error) {
	uow := s.uowFactory.NewUnitOfWork(ctx)
	sessions, err := uow.ChatSessionRepository().FindAll(ctx,
		specification.OwnedBy{OwnerID: userId},
		specification.OrderBy{Field: "created_at", Desc: true},
	)
	if err != nil {
		return nil, err
	}

	res := make([]*dto.GetAllSessionsResponse, 0, len(sessions))
	for _, session := range sessions {
		res = append(res, &dto.GetAllSessionsResponse{
			Id:        session.Id,
			Title:     session.Title,
			Status:    session.Status,
			Degraded:  session.Degraded,
			CreatedAt: session.CreatedAt,
			UpdatedAt: session.UpdatedAt,
		})
	}
	return res, nil
}

func (s *sessionService) GetChatHistory(ctx context.Context, userId uuid.UUID, sessionId uuid.UUID) ([]*dto.GetChatHistoryResponse, error) {
	if _, err := s.ownedSession(ctx, userId, sessionId); err != nil {
		return nil, err
	}

	uow := s.uowFactory.NewUnitOfWork(ctx)
	messages, err := uow.ChatMessageRepository().FindAll(ctx,
		specification.ByChatSessionID{ChatSessionID: sessionId},
		specification.OrderBy{Field: "created_at", Desc: false},
	)
	if err != nil {
		return nil, err
	}

	res := make([]*dto.GetChatHistoryResponse, 0, len(messages))
	for _, m := range messages {
		res = append(res, &dto.GetChatHistoryResponse{
			Id:        m.Id,
			Role:      m.Role,
			Content:   m.Content,
			Fallback:  m.Fallback,
			CreatedAt: m.CreatedAt,
		})
	}
	return res, nil
}

func (s *sessionService) UpdateSession(ctx context.Context, userId uuid.UUID, request *dto.UpdateSessionRequest) error {
	session, err := s.ownedSession(ctx, userId, request.ChatSessionId)
	if err != nil {
		return err
	}
	if session.Status == constant.SessionStatusEnded {
		return registry.ErrSessionEnded
	}

	if request.Title != nil {
		session.Title = *request.Title
	}
	if request.Temperature != nil {
		session.Temperature = *request.Temperature
	}
	if request.SystemPrompt != nil {
		session.SystemPrompt = request.SystemPrompt
	}
	now := time.Now()
	session.UpdatedAt = &now

	uow := s.uowFactory.NewUnitOfWork(ctx)
	return uow.ChatSessionRepository().Update(ctx, session)
}

func (s *sessionService) EndSession(ctx context.Context, userId uuid.UUID, request *dto.EndSessionRequest) error {
	if _, err := s.ownedSession(ctx, userId, request.ChatSessionId); err != nil {
		return err
	}
	return s.registry.End(ctx, request.ChatSessionId)
}

// StartReaper retires idle sessions on a fixed cadence. Best-effort: a
// failed sweep is retried on the next tick.
func (s *sessionService) StartReaper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(15 * time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				reaped, err := s.registry.ReapIdle(ctx, s.maxIdle)
				if err != nil {
					s.logger.Error("SessionService", "Idle reap failed", map[string]interface{}{"error": err.Error()})
					continue
				}
				if reaped > 0 {
					s.logger.Info("SessionService", "Idle sessions retired", map[string]interface{}{"count": reaped})
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// ownedSession loads a session and hides it from non-owners.
func (s *sessionService) ownedSession(ctx context.Context, userId uuid.UUID, sessionId uuid.UUID) (*entity.ChatSession, error) {
	session, err := s.registry.Get(ctx, sessionId)
	if err != nil {
		return nil, err
	}
	if session.OwnerId != userId {
		return nil, registry.ErrSessionNotFound
	}
	return session, nil
}

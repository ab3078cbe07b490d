package service

import (
	"context"
	"time"

	"ai-relay-be/internal/dto"
	"ai-relay-be/internal/pkg/logger"
	"ai-relay-be/internal/repository/specification"
	"ai-relay-be/internal/repository/unitofwork"
	"ai-relay-be/pkg/backup"
	"ai-relay-be/pkg/events"
	"ai-relay-be/pkg/relay/correlator"
	"ai-relay-be/pkg/relay/metrics"
	"ai-relay-be/pkg/relay/registry"

	"github.com/google/uuid"
)

type IAdminService interface {
	SetIntake(enabled bool)
	IntakeStatus() *dto.IntakeStatusResponse
	GetMetrics() *dto.RelayMetricsResponse
	TransferSession(ctx context.Context, request *dto.TransferSessionRequest) error
	BackupSession(ctx context.Context, request *dto.BackupSessionRequest) (*dto.BackupSessionResponse, error)
	ReapIdle(ctx context.Context) (*dto.ReapIdleResponse, error)
	GetLogs(level string, limit, offset int) ([]logger.LogEntry, error)
}

type adminService struct {
	uowFactory unitofwork.RepositoryFactory
	registry   *registry.Registry
	collector  *metrics.Collector
	correlator *correlator.Correlator
	intake     *IntakeGate
	publisher  IEventPublisher
	backups    *backup.Writer
	sysLogger  *logger.ZapLogger
	maxIdle    time.Duration
}

func NewAdminService(
	uowFactory unitofwork.RepositoryFactory,
	reg *registry.Registry,
	collector *metrics.Collector,
	corr *correlator.Correlator,
	intake *IntakeGate,
	publisher IEventPublisher,
	backups *backup.Writer,
	sysLogger *logger.ZapLogger,
	maxIdle time.Duration,
) IAdminService {
	return &adminService{
		uowFactory: uowFactory,
		registry:   reg,
		collector:  collector,
		correlator: corr,
		intake:     intake,
		publisher:  publisher,
		backups:    backups,
		sysLogger:  sysLogger,
		maxIdle:    maxIdle,
	}
}

// SetIntake flips the intake gate. In-flight requests are never affected;
// only new prompts see the toggle.
func (s *adminService) SetIntake(enabled bool) {
	s.intake.Set(enabled)
	s.sysLogger.Warn("AdminService", "Intake toggled", map[string]interface{}{"enabled": enabled})

	s.publisher.Publish(events.SessionEvent{
		Type:    events.TypeIntakeChanged,
		OwnerId: uuid.Nil, // broadcast
		Data: map[string]interface{}{
			"enabled": enabled,
		},
		OccurredAt: time.Now(),
	})
}

func (s *adminService) IntakeStatus() *dto.IntakeStatusResponse {
	return &dto.IntakeStatusResponse{Enabled: s.intake.Enabled()}
}

func (s *adminService) GetMetrics() *dto.RelayMetricsResponse {
	snap := s.collector.GetSnapshot()
	return &dto.RelayMetricsResponse{
		Workers:     snap.Workers,
		ReportsSeen: snap.ReportsSeen,
		Correlation: s.correlator.Snapshot(),
		TakenAt:     snap.TakenAt,
	}
}

func (s *adminService) TransferSession(ctx context.Context, request *dto.TransferSessionRequest) error {
	if err := s.registry.Transfer(ctx, request.ChatSessionId, request.NewOwnerId); err != nil {
		return err
	}
	s.sysLogger.Info("AdminService", "Session transferred", map[string]interface{}{
		"session_id": request.ChatSessionId.String(),
		"new_owner":  request.NewOwnerId.String(),
	})
	return nil
}

// BackupSession dumps the full transcript of one session as a sealed
// archive file on local disk.
func (s *adminService) BackupSession(ctx context.Context, request *dto.BackupSessionRequest) (*dto.BackupSessionResponse, error) {
	session, err := s.registry.Get(ctx, request.ChatSessionId)
	if err != nil {
		return nil, err
	}

	uow := s.uowFactory.NewUnitOfWork(ctx)
	messages, err := uow.ChatMessageRepository().FindAll(ctx,
		specification.ByChatSessionID{ChatSessionID: session.Id},
		specification.OrderBy{Field: "created_at", Desc: false},
	)
	if err != nil {
		return nil, err
	}

	path, err := s.backups.Dump(session, messages)
	if err != nil {
		return nil, err
	}

	s.sysLogger.Info("AdminService", "Session backed up", map[string]interface{}{
		"session_id": session.Id.String(),
		"file":       path,
	})

	return &dto.BackupSessionResponse{
		ChatSessionId: session.Id,
		File:          path,
		Messages:      len(messages),
		CreatedAt:     time.Now(),
	}, nil
}

func (s *adminService) ReapIdle(ctx context.Context) (*dto.ReapIdleResponse, error) {
	reaped, err := s.registry.ReapIdle(ctx, s.maxIdle)
	if err != nil {
		return nil, err
	}
	return &dto.ReapIdleResponse{Reaped: reaped}, nil
}

func (s *adminService) GetLogs(level string, limit, offset int) ([]logger.LogEntry, error) {
	return s.sysLogger.GetLogs(level, limit, offset)
}

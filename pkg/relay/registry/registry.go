package registry

import (
	"context"
	"errors"
	"sync"
	"time"

	"ai-relay-be/internal/constant"
	"ai-relay-be/internal/entity"
	"ai-relay-be/internal/repository/memory"
	"ai-relay-be/internal/repository/specification"
	"ai-relay-be/internal/repository/unitofwork"
	"ai-relay-be/pkg/relay/transport"
	"ai-relay-be/pkg/store"

	"github.com/google/uuid"
)

var (
	// ErrSessionNotFound is surfaced to the caller as a rejected request.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionEnded rejects prompts against a retired session.
	ErrSessionEnded = errors.New("session has ended")

	// ErrRequestInFlight enforces the at-most-one-in-flight default.
	ErrRequestInFlight = errors.New("session already has a request in flight")
)

// Params are the client-supplied generation parameters at session start.
type Params struct {
	Temperature  *float64
	SystemPrompt *string
	Title        string
}

// Registry creates, looks up and retires chat sessions, and binds each
// session to exactly one transport channel for its lifetime. Mutation of a
// single session is serialized through the registry's lock; different
// sessions never contend on anything but that short critical section.
type Registry struct {
	uowFactory unitofwork.RepositoryFactory
	runtime    *memory.SessionRepository
	transport  transport.Adapter

	mu sync.Mutex // serializes channel binding and in-flight transitions
}

func New(uowFactory unitofwork.RepositoryFactory, runtime *memory.SessionRepository, adapter transport.Adapter) *Registry {
	return &Registry{
		uowFactory: uowFactory,
		runtime:    runtime,
		transport:  adapter,
	}
}

// Create allocates the channel first, then persists the session bound to
// it. The channel handle is unique per session id and never reassigned.
func (r *Registry) Create(ctx context.Context, origin string, owner uuid.UUID, params Params) (*entity.ChatSession, error) {
	sessionId := uuid.New()

	handle, err := r.transport.CreateChannel(ctx, sessionId)
	if err != nil {
		return nil, err
	}

	temperature := constant.DefaultTemperature
	if params.Temperature != nil {
		temperature = *params.Temperature
	}
	title := params.Title
	if title == "" {
		title = constant.DefaultSessionTitle
	}

	session := &entity.ChatSession{
		Id:            sessionId,
		OwnerId:       owner,
		Origin:        origin,
		ChannelHandle: string(handle),
		Status:        constant.SessionStatusActive,
		Title:         title,
		Temperature:   temperature,
		SystemPrompt:  params.SystemPrompt,
		CreatedAt:     time.Now(),
	}

	uow := r.uowFactory.NewUnitOfWork(ctx)
	if err := uow.ChatSessionRepository().Create(ctx, session); err != nil {
		return nil, err
	}

	r.runtime.Save(&store.RuntimeSession{
		ID:            sessionId.String(),
		OwnerID:       owner.String(),
		ChannelHandle: string(handle),
	})

	return session, nil
}

// Get loads a session, preferring the persisted record as truth.
func (r *Registry) Get(ctx context.Context, sessionId uuid.UUID) (*entity.ChatSession, error) {
	uow := r.uowFactory.NewUnitOfWork(ctx)
	session, err := uow.ChatSessionRepository().FindOne(ctx, specification.ByID{ID: sessionId})
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// Runtime returns the in-memory state for a session, rebuilding it from
// the persisted record on a cache miss.
func (r *Registry) Runtime(ctx context.Context, sessionId uuid.UUID) (*store.RuntimeSession, error) {
	if rs, found := r.runtime.Get(sessionId.String()); found {
		return rs, nil
	}

	session, err := r.Get(ctx, sessionId)
	if err != nil {
		return nil, err
	}

	rs := &store.RuntimeSession{
		ID:            session.Id.String(),
		OwnerID:       session.OwnerId.String(),
		ChannelHandle: session.ChannelHandle,
		Degraded:      session.Degraded,
	}
	r.runtime.Save(rs)
	return rs, nil
}

// AcquireInFlight claims the session's single request slot. The claim is
// released by ReleaseInFlight once the result (real or fallback) has been
// delivered.
func (r *Registry) AcquireInFlight(rs *store.RuntimeSession, requestId string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rs.InFlightRequestId != "" {
		return ErrRequestInFlight
	}
	rs.InFlightRequestId = requestId
	r.runtime.Save(rs)
	return nil
}

func (r *Registry) ReleaseInFlight(rs *store.RuntimeSession, requestId string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rs.InFlightRequestId == requestId {
		rs.InFlightRequestId = ""
		r.runtime.Save(rs)
	}
}

// End retires a session. The bound channel dies with it; handles are never
// recycled into new sessions.
func (r *Registry) End(ctx context.Context, sessionId uuid.UUID) error {
	uow := r.uowFactory.NewUnitOfWork(ctx)
	session, err := uow.ChatSessionRepository().FindOne(ctx, specification.ByID{ID: sessionId})
	if err != nil {
		return err
	}
	if session == nil {
		return ErrSessionNotFound
	}

	now := time.Now()
	session.Status = constant.SessionStatusEnded
	session.EndedAt = &now
	session.UpdatedAt = &now
	if err := uow.ChatSessionRepository().Update(ctx, session); err != nil {
		return err
	}

	r.runtime.Delete(sessionId.String())
	return nil
}

// Transfer reassigns session ownership. Authorization is the caller's
// responsibility; the registry only mutates state.
func (r *Registry) Transfer(ctx context.Context, sessionId uuid.UUID, newOwner uuid.UUID) error {
	uow := r.uowFactory.NewUnitOfWork(ctx)
	session, err := uow.ChatSessionRepository().FindOne(ctx, specification.ByID{ID: sessionId})
	if err != nil {
		return err
	}
	if session == nil {
		return ErrSessionNotFound
	}

	now := time.Now()
	session.OwnerId = newOwner
	session.UpdatedAt = &now
	if err := uow.ChatSessionRepository().Update(ctx, session); err != nil {
		return err
	}

	if rs, found := r.runtime.Get(sessionId.String()); found {
		rs.OwnerID = newOwner.String()
		r.runtime.Save(rs)
	}
	return nil
}

// MarkDegraded flags the session after a fallback delivery, both in the
// persisted record and the runtime mirror.
func (r *Registry) MarkDegraded(ctx context.Context, sessionId uuid.UUID) error {
	uow := r.uowFactory.NewUnitOfWork(ctx)
	session, err := uow.ChatSessionRepository().FindOne(ctx, specification.ByID{ID: sessionId})
	if err != nil {
		return err
	}
	if session == nil {
		return ErrSessionNotFound
	}

	now := time.Now()
	session.Degraded = true
	session.UpdatedAt = &now
	if err := uow.ChatSessionRepository().Update(ctx, session); err != nil {
		return err
	}

	if rs, found := r.runtime.Get(sessionId.String()); found {
		rs.Degraded = true
		r.runtime.Save(rs)
	}
	return nil
}

// ReapIdle ends active sessions whose last activity predates maxIdle.
// Returns how many were retired.
func (r *Registry) ReapIdle(ctx context.Context, maxIdle time.Duration) (int, error) {
	uow := r.uowFactory.NewUnitOfWork(ctx)
	cutoff := time.Now().Add(-maxIdle)

	stale, err := uow.ChatSessionRepository().FindAll(ctx,
		specification.ByStatus{Status: constant.SessionStatusActive},
		specification.UpdatedBefore{Cutoff: cutoff},
	)
	if err != nil {
		return 0, err
	}

	reaped := 0
	for _, session := range stale {
		if err := r.End(ctx, session.Id); err != nil {
			continue
		}
		reaped++
	}
	return reaped, nil
}

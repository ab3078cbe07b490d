package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"ai-relay-be/internal/constant"
	"ai-relay-be/internal/entity"
	"ai-relay-be/internal/repository/contract"
	"ai-relay-be/internal/repository/memory"
	"ai-relay-be/internal/repository/specification"
	"ai-relay-be/internal/repository/unitofwork"
	"ai-relay-be/pkg/relay/transport"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubStore struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*entity.ChatSession
}

type stubUow struct{ store *stubStore }

func (u *stubUow) Begin(ctx context.Context) error { return nil }
func (u *stubUow) Commit() error                   { return nil }
func (u *stubUow) Rollback() error                 { return nil }
func (u *stubUow) ChatMessageRepository() contract.ChatMessageRepository {
	return nil
}
func (u *stubUow) ChatSessionRepository() contract.ChatSessionRepository {
	return &stubSessionRepo{store: u.store}
}

type stubFactory struct{ store *stubStore }

func (f *stubFactory) NewUnitOfWork(ctx context.Context) unitofwork.UnitOfWork {
	return &stubUow{store: f.store}
}

type stubSessionRepo struct{ store *stubStore }

func (r *stubSessionRepo) Create(ctx context.Context, s *entity.ChatSession) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	copied := *s
	r.store.sessions[s.Id] = &copied
	return nil
}

func (r *stubSessionRepo) Update(ctx context.Context, s *entity.ChatSession) error {
	return r.Create(ctx, s)
}

func (r *stubSessionRepo) Delete(ctx context.Context, id uuid.UUID) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	delete(r.store.sessions, id)
	return nil
}

func (r *stubSessionRepo) FindOne(ctx context.Context, specs ...specification.Specification) (*entity.ChatSession, error) {
	all, err := r.FindAll(ctx, specs...)
	if err != nil || len(all) == 0 {
		return nil, err
	}
	return all[0], nil
}

func (r *stubSessionRepo) FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.ChatSession, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var out []*entity.ChatSession
	for _, s := range r.store.sessions {
		keep := true
		for _, spec := range specs {
			switch v := spec.(type) {
			case specification.ByID:
				if s.Id != v.ID {
					keep = false
				}
			case specification.ByStatus:
				if s.Status != v.Status {
					keep = false
				}
			case specification.UpdatedBefore:
				if s.UpdatedAt == nil || !s.UpdatedAt.Before(v.Cutoff) {
					keep = false
				}
			}
		}
		if keep {
			copied := *s
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *stubSessionRepo) Count(ctx context.Context, specs ...specification.Specification) (int64, error) {
	all, err := r.FindAll(ctx, specs...)
	return int64(len(all)), err
}

func newTestRegistry(t *testing.T) (*Registry, *stubStore) {
	t.Helper()
	store := &stubStore{sessions: make(map[uuid.UUID]*entity.ChatSession)}
	loop := transport.NewLoopback()
	t.Cleanup(func() { loop.Close() })
	return New(&stubFactory{store: store}, memory.NewSessionRepository(), loop), store
}

func TestCreateBindsOneChannelForLife(t *testing.T) {
	reg, _ := newTestRegistry(t)
	owner := uuid.New()

	first, err := reg.Create(context.Background(), constant.SessionOriginWeb, owner, Params{})
	require.NoError(t, err)
	assert.NotEmpty(t, first.ChannelHandle)

	// The handle is stable across runtime lookups and never reassigned.
	rs, err := reg.Runtime(context.Background(), first.Id)
	require.NoError(t, err)
	assert.Equal(t, first.ChannelHandle, rs.ChannelHandle)

	second, err := reg.Create(context.Background(), constant.SessionOriginWeb, owner, Params{})
	require.NoError(t, err)
	assert.NotEqual(t, first.ChannelHandle, second.ChannelHandle)
}

func TestRuntimeRebuildsFromPersistedRecord(t *testing.T) {
	reg, _ := newTestRegistry(t)
	owner := uuid.New()

	session, err := reg.Create(context.Background(), constant.SessionOriginWeb, owner, Params{})
	require.NoError(t, err)

	// Simulate a cache eviction; the runtime mirror must come back from
	// the persisted record with the same channel binding.
	reg.runtime.Delete(session.Id.String())

	rs, err := reg.Runtime(context.Background(), session.Id)
	require.NoError(t, err)
	assert.Equal(t, session.ChannelHandle, rs.ChannelHandle)
	assert.Equal(t, owner.String(), rs.OwnerID)
}

func TestInFlightSlotIsExclusive(t *testing.T) {
	reg, _ := newTestRegistry(t)

	session, err := reg.Create(context.Background(), constant.SessionOriginWeb, uuid.New(), Params{})
	require.NoError(t, err)
	rs, err := reg.Runtime(context.Background(), session.Id)
	require.NoError(t, err)

	require.NoError(t, reg.AcquireInFlight(rs, "req-1"))
	assert.ErrorIs(t, reg.AcquireInFlight(rs, "req-2"), ErrRequestInFlight)

	// Releasing with the wrong id is a no-op.
	reg.ReleaseInFlight(rs, "req-2")
	assert.ErrorIs(t, reg.AcquireInFlight(rs, "req-3"), ErrRequestInFlight)

	reg.ReleaseInFlight(rs, "req-1")
	assert.NoError(t, reg.AcquireInFlight(rs, "req-3"))
}

func TestEndRetiresSession(t *testing.T) {
	reg, store := newTestRegistry(t)

	session, err := reg.Create(context.Background(), constant.SessionOriginWeb, uuid.New(), Params{})
	require.NoError(t, err)

	require.NoError(t, reg.End(context.Background(), session.Id))

	stored := store.sessions[session.Id]
	assert.Equal(t, constant.SessionStatusEnded, stored.Status)
	require.NotNil(t, stored.EndedAt)

	assert.ErrorIs(t, reg.End(context.Background(), uuid.New()), ErrSessionNotFound)
}

func TestTransferMovesOwnership(t *testing.T) {
	reg, store := newTestRegistry(t)
	newOwner := uuid.New()

	session, err := reg.Create(context.Background(), constant.SessionOriginWeb, uuid.New(), Params{})
	require.NoError(t, err)
	_, err = reg.Runtime(context.Background(), session.Id)
	require.NoError(t, err)

	require.NoError(t, reg.Transfer(context.Background(), session.Id, newOwner))

	assert.Equal(t, newOwner, store.sessions[session.Id].OwnerId)
	rs, err := reg.Runtime(context.Background(), session.Id)
	require.NoError(t, err)
	assert.Equal(t, newOwner.String(), rs.OwnerID)
}

func TestReapIdleRetiresOnlyStaleSessions(t *testing.T) {
	reg, store := newTestRegistry(t)
	ctx := context.Background()

	stale, err := reg.Create(ctx, constant.SessionOriginWeb, uuid.New(), Params{})
	require.NoError(t, err)
	fresh, err := reg.Create(ctx, constant.SessionOriginWeb, uuid.New(), Params{})
	require.NoError(t, err)

	old := time.Now().Add(-2 * time.Hour)
	store.mu.Lock()
	store.sessions[stale.Id].UpdatedAt = &old
	now := time.Now()
	store.sessions[fresh.Id].UpdatedAt = &now
	store.mu.Unlock()

	reaped, err := reg.ReapIdle(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, reaped)

	assert.Equal(t, constant.SessionStatusEnded, store.sessions[stale.Id].Status)
	assert.Equal(t, constant.SessionStatusActive, store.sessions[fresh.Id].Status)
}

package service

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"ai-relay-be/internal/constant"
	"ai-relay-be/internal/dto"
	"ai-relay-be/internal/entity"
	"ai-relay-be/internal/pkg/logger"
	"ai-relay-be/internal/pkg/serverutils"
	"ai-relay-be/internal/repository/contract"
	"ai-relay-be/internal/repository/memory"
	"ai-relay-be/internal/repository/specification"
	"ai-relay-be/internal/repository/unitofwork"
	"ai-relay-be/pkg/events"
	"ai-relay-be/pkg/relay/cipher"
	"ai-relay-be/pkg/relay/correlator"
	"ai-relay-be/pkg/relay/envelope"
	"ai-relay-be/pkg/relay/fallback"
	"ai-relay-be/pkg/relay/metrics"
	"ai-relay-be/pkg/relay/registry"
	"ai-relay-be/pkg/relay/transport"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- in-memory repository fakes ---

type fakeStore struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*entity.ChatSession
	messages []*entity.ChatMessage
}

func newFakeStore() *fakeStore {
	return &fakeStore{sessions: make(map[uuid.UUID]*entity.ChatSession)}
}

type fakeUow struct{ store *fakeStore }

func (u *fakeUow) Begin(ctx context.Context) error { return nil }
func (u *fakeUow) Commit() error                   { return nil }
func (u *fakeUow) Rollback() error                 { return nil }
func (u *fakeUow) ChatSessionRepository() contract.ChatSessionRepository {
	return &fakeSessionRepo{store: u.store}
}
func (u *fakeUow) ChatMessageRepository() contract.ChatMessageRepository {
	return &fakeMessageRepo{store: u.store}
}

type fakeFactory struct{ store *fakeStore }

func (f *fakeFactory) NewUnitOfWork(ctx context.Context) unitofwork.UnitOfWork {
	return &fakeUow{store: f.store}
}

type fakeSessionRepo struct{ store *fakeStore }

func (r *fakeSessionRepo) Create(ctx context.Context, session *entity.ChatSession) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	copied := *session
	r.store.sessions[session.Id] = &copied
	return nil
}

func (r *fakeSessionRepo) Update(ctx context.Context, session *entity.ChatSession) error {
	return r.Create(ctx, session)
}

func (r *fakeSessionRepo) Delete(ctx context.Context, id uuid.UUID) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	delete(r.store.sessions, id)
	return nil
}

func (r *fakeSessionRepo) FindOne(ctx context.Context, specs ...specification.Specification) (*entity.ChatSession, error) {
	all, err := r.FindAll(ctx, specs...)
	if err != nil || len(all) == 0 {
		return nil, err
	}
	return all[0], nil
}

func (r *fakeSessionRepo) FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.ChatSession, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var out []*entity.ChatSession
	for _, s := range r.store.sessions {
		if matchesSession(s, specs) {
			copied := *s
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *fakeSessionRepo) Count(ctx context.Context, specs ...specification.Specification) (int64, error) {
	all, err := r.FindAll(ctx, specs...)
	return int64(len(all)), err
}

func matchesSession(s *entity.ChatSession, specs []specification.Specification) bool {
	for _, spec := range specs {
		switch v := spec.(type) {
		case specification.ByID:
			if s.Id != v.ID {
				return false
			}
		case specification.OwnedBy:
			if s.OwnerId != v.OwnerID {
				return false
			}
		case specification.ByStatus:
			if s.Status != v.Status {
				return false
			}
		case specification.UpdatedBefore:
			if s.UpdatedAt == nil || !s.UpdatedAt.Before(v.Cutoff) {
				return false
			}
		}
	}
	return true
}

type fakeMessageRepo struct{ store *fakeStore }

func (r *fakeMessageRepo) Create(ctx context.Context, message *entity.ChatMessage) error {
	return r.CreateBulk(ctx, []*entity.ChatMessage{message})
}

func (r *fakeMessageRepo) CreateBulk(ctx context.Context, messages []*entity.ChatMessage) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, m := range messages {
		copied := *m
		r.store.messages = append(r.store.messages, &copied)
	}
	return nil
}

func (r *fakeMessageRepo) FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.ChatMessage, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var out []*entity.ChatMessage
	for _, m := range r.store.messages {
		keep := true
		for _, spec := range specs {
			if v, ok := spec.(specification.ByChatSessionID); ok && m.ChatSessionId != v.ChatSessionID {
				keep = false
			}
		}
		if keep {
			copied := *m
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *fakeMessageRepo) DeleteByChatSessionId(ctx context.Context, sessionId uuid.UUID) error {
	return nil
}

// --- other doubles ---

type nopLogger struct{}

func (nopLogger) Debug(module, message string, details map[string]interface{}) {}
func (nopLogger) Info(module, message string, details map[string]interface{})  {}
func (nopLogger) Warn(module, message string, details map[string]interface{})  {}
func (nopLogger) Error(module, message string, details map[string]interface{}) {}
func (nopLogger) Sync() error                                                  { return nil }
func (nopLogger) GetLogs(level string, limit, offset int) ([]logger.LogEntry, error) {
	return nil, nil
}
func (nopLogger) GetLogById(id string) (*logger.LogEntry, error) { return nil, nil }

type capturedEvents struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *capturedEvents) Publish(event events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *capturedEvents) byType(eventType string) []events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []events.Event
	for _, e := range c.events {
		if e.EventType() == eventType {
			out = append(out, e)
		}
	}
	return out
}

// --- harness ---

type relayHarness struct {
	svc    IRelayService
	reg    *registry.Registry
	corr   *correlator.Correlator
	loop   *transport.Loopback
	store  *fakeStore
	pub    *capturedEvents
	intake *IntakeGate
	key    []byte
	cancel context.CancelFunc
}

func newRelayHarness(t *testing.T, timeout time.Duration) *relayHarness {
	t.Helper()

	key := make([]byte, cipher.KeySize)
	_, err := rand.Read(key)
	require.NoError(t, err)

	store := newFakeStore()
	factory := &fakeFactory{store: store}
	loop := transport.NewLoopback()
	runtime := memory.NewSessionRepository()
	reg := registry.New(factory, runtime, loop)
	corr := correlator.New()
	pub := &capturedEvents{}
	intake := &IntakeGate{}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	t.Cleanup(loop.Close)

	receive := NewReceiveService(loop, corr, metrics.NewCollector(), nopLogger{}, key)
	require.NoError(t, receive.Start(ctx))

	svc := NewRelayService(
		factory, reg, corr, loop,
		fallback.New(fallback.TypeEcho),
		pub, intake, nopLogger{},
		key, timeout, true,
	)

	return &relayHarness{
		svc:    svc,
		reg:    reg,
		corr:   corr,
		loop:   loop,
		store:  store,
		pub:    pub,
		intake: intake,
		key:    key,
		cancel: cancel,
	}
}

func (h *relayHarness) startSession(t *testing.T, owner uuid.UUID) *entity.ChatSession {
	t.Helper()
	session, err := h.reg.Create(context.Background(), constant.SessionOriginWeb, owner, registry.Params{})
	require.NoError(t, err)
	return session
}

// runWorker answers each outbound request through reply. A nil result
// means stay silent.
func (h *relayHarness) runWorker(t *testing.T, reply func(req envelope.RequestPayload) *envelope.ResponsePayload) {
	t.Helper()
	go func() {
		for out := range h.loop.Sent() {
			env := out.Envelope
			plaintext, err := cipher.Open(h.key, env.Payload, env.AssociatedData())
			if err != nil {
				continue
			}
			var req envelope.RequestPayload
			if err := json.Unmarshal(plaintext, &req); err != nil {
				continue
			}
			resp := reply(req)
			if resp == nil {
				continue
			}
			h.injectResponse(t, out.Channel, *resp)
		}
	}()
}

func (h *relayHarness) injectResponse(t *testing.T, channel transport.ChannelHandle, resp envelope.ResponsePayload) {
	t.Helper()
	plain, err := json.Marshal(resp)
	require.NoError(t, err)
	sealed, err := cipher.Seal(h.key, plain, envelope.AssociatedData(resp.RequestId, envelope.DirectionResponse))
	require.NoError(t, err)
	h.loop.Inject(transport.Inbound{
		Channel: channel,
		Envelope: envelope.Envelope{
			RequestId: resp.RequestId,
			Direction: envelope.DirectionResponse,
			Payload:   sealed,
		},
	})
}

// --- scenarios ---

func TestSendPromptHappyPath(t *testing.T) {
	h := newRelayHarness(t, 2*time.Second)
	owner := uuid.New()
	session := h.startSession(t, owner)

	h.runWorker(t, func(req envelope.RequestPayload) *envelope.ResponsePayload {
		return &envelope.ResponsePayload{
			RequestId:    req.RequestId,
			ResponseText: "echoing " + req.Prompt,
		}
	})

	res, err := h.svc.SendPrompt(context.Background(), owner, &dto.SendPromptRequest{
		ChatSessionId: session.Id,
		Prompt:        "hello worker",
	})
	require.NoError(t, err)
	assert.False(t, res.Degraded)
	assert.Equal(t, "echoing hello worker", res.Reply.Content)
	assert.Equal(t, "hello worker", res.Sent.Content)
	assert.False(t, res.Reply.Fallback)

	// Both sides of the exchange were persisted under the request id.
	h.store.mu.Lock()
	assert.Len(t, h.store.messages, 2)
	stored := h.store.sessions[session.Id]
	h.store.mu.Unlock()
	assert.False(t, stored.Degraded)
	assert.Equal(t, "hello worker", stored.Title) // first prompt names the session

	assert.Len(t, h.pub.byType(events.TypeResponseDelivered), 1)

	// The request slot is free again.
	res2, err := h.svc.SendPrompt(context.Background(), owner, &dto.SendPromptRequest{
		ChatSessionId: session.Id,
		Prompt:        "second prompt",
	})
	require.NoError(t, err)
	assert.False(t, res2.Degraded)
}

func TestSendPromptDeadlineFallsBack(t *testing.T) {
	h := newRelayHarness(t, 150*time.Millisecond)
	owner := uuid.New()
	session := h.startSession(t, owner)

	// Worker never answers.
	h.runWorker(t, func(envelope.RequestPayload) *envelope.ResponsePayload { return nil })

	res, err := h.svc.SendPrompt(context.Background(), owner, &dto.SendPromptRequest{
		ChatSessionId: session.Id,
		Prompt:        "anyone there",
	})
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.True(t, res.Reply.Fallback)
	assert.NotEmpty(t, res.Reply.Content)

	h.store.mu.Lock()
	stored := h.store.sessions[session.Id]
	h.store.mu.Unlock()
	assert.True(t, stored.Degraded)

	assert.Len(t, h.pub.byType(events.TypeSessionDegraded), 1)
	assert.Equal(t, uint64(1), h.corr.Snapshot().Expired)
}

func TestTamperedResponseIsDroppedAndFallbackFires(t *testing.T) {
	h := newRelayHarness(t, 150*time.Millisecond)
	owner := uuid.New()
	session := h.startSession(t, owner)

	// Worker answers promptly, but sealed under the wrong key: the relay
	// must treat it as if it never arrived.
	wrongKey := make([]byte, cipher.KeySize)
	go func() {
		for out := range h.loop.Sent() {
			plain, _ := json.Marshal(envelope.ResponsePayload{
				RequestId:    out.Envelope.RequestId,
				ResponseText: "forged",
			})
			sealed, _ := cipher.Seal(wrongKey, plain, envelope.AssociatedData(out.Envelope.RequestId, envelope.DirectionResponse))
			h.loop.Inject(transport.Inbound{
				Channel: out.Channel,
				Envelope: envelope.Envelope{
					RequestId: out.Envelope.RequestId,
					Direction: envelope.DirectionResponse,
					Payload:   sealed,
				},
			})
		}
	}()

	res, err := h.svc.SendPrompt(context.Background(), owner, &dto.SendPromptRequest{
		ChatSessionId: session.Id,
		Prompt:        "secure channel check",
	})
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.NotContains(t, res.Reply.Content, "forged")
}

func TestLateResponseIsDiscarded(t *testing.T) {
	h := newRelayHarness(t, 100*time.Millisecond)
	owner := uuid.New()
	session := h.startSession(t, owner)

	// Worker answers well after the deadline.
	h.runWorker(t, func(req envelope.RequestPayload) *envelope.ResponsePayload {
		time.Sleep(300 * time.Millisecond)
		return &envelope.ResponsePayload{RequestId: req.RequestId, ResponseText: "too late"}
	})

	res, err := h.svc.SendPrompt(context.Background(), owner, &dto.SendPromptRequest{
		ChatSessionId: session.Id,
		Prompt:        "slow day",
	})
	require.NoError(t, err)
	assert.True(t, res.Degraded)

	// Wait for the straggler to arrive and be counted as discarded.
	assert.Eventually(t, func() bool {
		return h.corr.Snapshot().LateDiscards >= 1
	}, 2*time.Second, 20*time.Millisecond)

	// The late text never reached the transcript.
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	for _, m := range h.store.messages {
		assert.NotEqual(t, "too late", m.Content)
	}
}

func TestWorkerOverloadSurfacesWithoutFallback(t *testing.T) {
	h := newRelayHarness(t, 2*time.Second)
	owner := uuid.New()
	session := h.startSession(t, owner)

	h.runWorker(t, func(req envelope.RequestPayload) *envelope.ResponsePayload {
		return &envelope.ResponsePayload{RequestId: req.RequestId, Error: envelope.WorkerErrorOverload}
	})

	_, err := h.svc.SendPrompt(context.Background(), owner, &dto.SendPromptRequest{
		ChatSessionId: session.Id,
		Prompt:        "busy?",
	})
	assert.ErrorIs(t, err, serverutils.ErrWorkerOverload)

	h.store.mu.Lock()
	stored := h.store.sessions[session.Id]
	messageCount := len(h.store.messages)
	h.store.mu.Unlock()
	assert.False(t, stored.Degraded, "overload is not a degradation")
	assert.Zero(t, messageCount, "overloaded exchanges are not persisted")
}

func TestSecondPromptConflictsWhileInFlight(t *testing.T) {
	h := newRelayHarness(t, 400*time.Millisecond)
	owner := uuid.New()
	session := h.startSession(t, owner)

	release := make(chan struct{})
	h.runWorker(t, func(req envelope.RequestPayload) *envelope.ResponsePayload {
		<-release
		return &envelope.ResponsePayload{RequestId: req.RequestId, ResponseText: "done"}
	})

	firstDone := make(chan error, 1)
	go func() {
		_, err := h.svc.SendPrompt(context.Background(), owner, &dto.SendPromptRequest{
			ChatSessionId: session.Id,
			Prompt:        "first",
		})
		firstDone <- err
	}()

	// Let the first request claim the slot.
	time.Sleep(50 * time.Millisecond)

	_, err := h.svc.SendPrompt(context.Background(), owner, &dto.SendPromptRequest{
		ChatSessionId: session.Id,
		Prompt:        "second",
	})
	assert.ErrorIs(t, err, registry.ErrRequestInFlight)

	close(release)
	require.NoError(t, <-firstDone)
}

func TestIntakeGateRejectsNewPrompts(t *testing.T) {
	h := newRelayHarness(t, time.Second)
	owner := uuid.New()
	session := h.startSession(t, owner)

	h.intake.Set(false)
	_, err := h.svc.SendPrompt(context.Background(), owner, &dto.SendPromptRequest{
		ChatSessionId: session.Id,
		Prompt:        "hello?",
	})
	assert.ErrorIs(t, err, serverutils.ErrIntakeDisabled)

	h.intake.Set(true)
	h.runWorker(t, func(req envelope.RequestPayload) *envelope.ResponsePayload {
		return &envelope.ResponsePayload{RequestId: req.RequestId, ResponseText: "back"}
	})
	res, err := h.svc.SendPrompt(context.Background(), owner, &dto.SendPromptRequest{
		ChatSessionId: session.Id,
		Prompt:        "hello again",
	})
	require.NoError(t, err)
	assert.Equal(t, "back", res.Reply.Content)
}

func TestForeignSessionLooksMissing(t *testing.T) {
	h := newRelayHarness(t, time.Second)
	owner := uuid.New()
	session := h.startSession(t, owner)

	_, err := h.svc.SendPrompt(context.Background(), uuid.New(), &dto.SendPromptRequest{
		ChatSessionId: session.Id,
		Prompt:        "not mine",
	})
	assert.ErrorIs(t, err, registry.ErrSessionNotFound)
}

func TestEndedSessionRejectsPrompts(t *testing.T) {
	h := newRelayHarness(t, time.Second)
	owner := uuid.New()
	session := h.startSession(t, owner)

	require.NoError(t, h.reg.End(context.Background(), session.Id))

	_, err := h.svc.SendPrompt(context.Background(), owner, &dto.SendPromptRequest{
		ChatSessionId: session.Id,
		Prompt:        "still there?",
	})
	assert.ErrorIs(t, err, registry.ErrSessionEnded)
}

func TestTransportOutageFallsBack(t *testing.T) {
	h := newRelayHarness(t, 200*time.Millisecond)
	owner := uuid.New()
	session := h.startSession(t, owner)

	h.loop.SetDown(true)

	res, err := h.svc.SendPrompt(context.Background(), owner, &dto.SendPromptRequest{
		ChatSessionId: session.Id,
		Prompt:        "can you hear me",
	})
	require.NoError(t, err)
	assert.True(t, res.Degraded, "unsendable request degrades like an unanswered one")
}

func TestConcurrentSessionsKeepRepliesApartOutOfOrder(t *testing.T) {
	h := newRelayHarness(t, 5*time.Second)
	owner := uuid.New()
	alpha := h.startSession(t, owner)
	beta := h.startSession(t, owner)

	type outbound struct {
		channel transport.ChannelHandle
		req     envelope.RequestPayload
	}
	arrivals := make(chan outbound, 2)
	go func() {
		for out := range h.loop.Sent() {
			plaintext, err := cipher.Open(h.key, out.Envelope.Payload, out.Envelope.AssociatedData())
			if err != nil {
				continue
			}
			var req envelope.RequestPayload
			if err := json.Unmarshal(plaintext, &req); err != nil {
				continue
			}
			arrivals <- outbound{channel: out.Channel, req: req}
		}
	}()

	// The worker holds both requests and answers them in reverse
	// submission order.
	go func() {
		first := <-arrivals
		second := <-arrivals
		for _, out := range []outbound{second, first} {
			h.injectResponse(t, out.channel, envelope.ResponsePayload{
				RequestId:    out.req.RequestId,
				ResponseText: "answer to " + out.req.Prompt,
			})
		}
	}()

	replies := make(map[uuid.UUID]*dto.SendPromptResponse, 2)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, call := range []struct {
		session *entity.ChatSession
		prompt  string
	}{
		{session: alpha, prompt: "alpha question"},
		{session: beta, prompt: "beta question"},
	} {
		wg.Add(1)
		go func(sessionId uuid.UUID, prompt string) {
			defer wg.Done()
			res, err := h.svc.SendPrompt(context.Background(), owner, &dto.SendPromptRequest{
				ChatSessionId: sessionId,
				Prompt:        prompt,
			})
			assert.NoError(t, err)
			mu.Lock()
			replies[sessionId] = res
			mu.Unlock()
		}(call.session.Id, call.prompt)
	}
	wg.Wait()

	require.NotNil(t, replies[alpha.Id])
	require.NotNil(t, replies[beta.Id])
	assert.Equal(t, "answer to alpha question", replies[alpha.Id].Reply.Content)
	assert.Equal(t, "answer to beta question", replies[beta.Id].Reply.Content)
	assert.False(t, replies[alpha.Id].Degraded)
	assert.False(t, replies[beta.Id].Degraded)

	// Each exchange landed under its own session.
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	perSession := make(map[uuid.UUID]int)
	for _, msg := range h.store.messages {
		perSession[msg.ChatSessionId]++
	}
	assert.Equal(t, 2, perSession[alpha.Id])
	assert.Equal(t, 2, perSession[beta.Id])
}

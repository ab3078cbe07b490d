package correlator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrExpired is returned by AwaitResult when no matching response
	// arrived before the deadline. This is an expected outcome, not a
	// fault: the caller falls back to a locally generated substitute.
	ErrExpired = errors.New("request expired before a response arrived")

	// ErrUnknownRequest is returned when awaiting a request id that was
	// never submitted or has already been retired.
	ErrUnknownRequest = errors.New("unknown request id")
)

// resolveGrace is how long an expiring waiter gives a resolver that
// already claimed the request but has not delivered into the channel yet.
const resolveGrace = 100 * time.Millisecond

// pendingRequest is the single-slot wait handle for one in-flight request.
// The entry stays in the map until the waiter consumes or expires it, so a
// response arriving before the waiter even blocks is still delivered.
type pendingRequest struct {
	sessionId  uuid.UUID
	enqueuedAt time.Time
	result     chan []byte // buffered, capacity 1
	claimed    bool        // guarded by Correlator.mu; exactly one claim wins
}

// Correlator matches outbound requests to their eventual inbound responses
// by request id. Resolution is idempotent: exactly one delivery wins, late
// or duplicate resolutions are discarded and counted, never delivered to a
// second waiter.
type Correlator struct {
	mu      sync.Mutex
	pending map[string]*pendingRequest

	resolved     atomic.Uint64
	expired      atomic.Uint64
	lateDiscards atomic.Uint64
}

func New() *Correlator {
	return &Correlator{
		pending: make(map[string]*pendingRequest),
	}
}

// Submit registers a PendingRequest for the session and returns the fresh
// request id immediately. The caller embeds the id in the outbound payload
// and later blocks in AwaitResult.
func (c *Correlator) Submit(sessionId uuid.UUID) string {
	requestId := uuid.NewString()

	c.mu.Lock()
	c.pending[requestId] = &pendingRequest{
		sessionId:  sessionId,
		enqueuedAt: time.Now(),
		result:     make(chan []byte, 1),
	}
	c.mu.Unlock()

	return requestId
}

// Resolve delivers plaintext to the waiter of requestId. It returns false
// if the request id is unknown, expired or already resolved; this is the
// core de-duplication guard against duplicate and late responses.
func (c *Correlator) Resolve(requestId string, plaintext []byte) bool {
	c.mu.Lock()
	p, ok := c.pending[requestId]
	if !ok || p.claimed {
		c.mu.Unlock()
		c.lateDiscards.Add(1)
		return false
	}
	p.claimed = true
	c.mu.Unlock()

	p.result <- plaintext
	c.resolved.Add(1)
	return true
}

// Cancel retires a pending request whose envelope was never sent, without
// touching the resolved or expired counters.
func (c *Correlator) Cancel(requestId string) {
	c.mu.Lock()
	delete(c.pending, requestId)
	c.mu.Unlock()
}

// AwaitResult suspends the caller until the request resolves or the timeout
// fires, whichever comes first. The pending entry is retired either way: a
// genuine response arriving after expiry is discarded by Resolve, and
// ErrExpired is returned. Context cancellation expires the wait the same way.
func (c *Correlator) AwaitResult(ctx context.Context, requestId string, timeout time.Duration) ([]byte, error) {
	c.mu.Lock()
	p, ok := c.pending[requestId]
	c.mu.Unlock()
	if !ok {
		return nil, ErrUnknownRequest
	}

	defer func() {
		c.mu.Lock()
		delete(c.pending, requestId)
		c.mu.Unlock()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case plaintext := <-p.result:
		return plaintext, nil
	case <-timer.C:
		return c.expire(p, ErrExpired)
	case <-ctx.Done():
		return c.expire(p, ctx.Err())
	}
}

// expire claims the request for the waiter. If a concurrent Resolve claimed
// it first, the delivered result is preferred over the deadline.
func (c *Correlator) expire(p *pendingRequest, cause error) ([]byte, error) {
	c.mu.Lock()
	alreadyClaimed := p.claimed
	p.claimed = true
	c.mu.Unlock()

	if alreadyClaimed {
		// Resolver won the claim; the result is either in the channel now
		// or about to be.
		select {
		case plaintext := <-p.result:
			return plaintext, nil
		case <-time.After(resolveGrace):
			// Resolver was interrupted between claim and send. Treat as
			// expired rather than blocking forever.
		}
	}

	c.expired.Add(1)
	return nil, cause
}

// PendingCount reports the number of in-flight requests.
func (c *Correlator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Stats is a snapshot of correlator counters for the metrics surface.
type Stats struct {
	Pending      int    `json:"pending"`
	Resolved     uint64 `json:"resolved"`
	Expired      uint64 `json:"expired"`
	LateDiscards uint64 `json:"late_discards"`
}

func (c *Correlator) Snapshot() Stats {
	return Stats{
		Pending:      c.PendingCount(),
		Resolved:     c.resolved.Load(),
		Expired:      c.expired.Load(),
		LateDiscards: c.lateDiscards.Load(),
	}
}

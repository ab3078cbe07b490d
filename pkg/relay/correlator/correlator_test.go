package correlator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestResolveDeliversToWaiter(t *testing.T) {
	c := New()
	requestId := c.Submit(uuid.New())

	go func() {
		time.Sleep(20 * time.Millisecond)
		if !c.Resolve(requestId, []byte("answer")) {
			t.Error("Resolve returned false for a pending request")
		}
	}()

	got, err := c.AwaitResult(context.Background(), requestId, time.Second)
	if err != nil {
		t.Fatalf("AwaitResult: %v", err)
	}
	if string(got) != "answer" {
		t.Fatalf("got %q", got)
	}

	stats := c.Snapshot()
	if stats.Resolved != 1 || stats.Pending != 0 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestDuplicateResolveIsDiscarded(t *testing.T) {
	c := New()
	requestId := c.Submit(uuid.New())

	if !c.Resolve(requestId, []byte("first")) {
		t.Fatal("first Resolve should win")
	}
	if c.Resolve(requestId, []byte("second")) {
		t.Fatal("second Resolve should be discarded")
	}

	// The winning response is buffered for the waiter even though it
	// arrived before AwaitResult was called.
	got, err := c.AwaitResult(context.Background(), requestId, time.Second)
	if err != nil {
		t.Fatalf("AwaitResult: %v", err)
	}
	if string(got) != "first" {
		t.Fatalf("got %q, want the first response", got)
	}

	if c.Snapshot().LateDiscards != 1 {
		t.Fatalf("late discards = %d, want 1", c.Snapshot().LateDiscards)
	}
	if c.PendingCount() != 0 {
		t.Fatal("entry not retired after delivery")
	}
}

func TestExpiryThenLateResponse(t *testing.T) {
	c := New()
	requestId := c.Submit(uuid.New())

	_, err := c.AwaitResult(context.Background(), requestId, 10*time.Millisecond)
	if err != ErrExpired {
		t.Fatalf("err = %v, want ErrExpired", err)
	}

	// The genuine response arrives after the deadline: silently discarded.
	if c.Resolve(requestId, []byte("too late")) {
		t.Fatal("late response was delivered")
	}

	stats := c.Snapshot()
	if stats.Expired != 1 || stats.LateDiscards != 1 || stats.Pending != 0 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestAwaitUnknownRequest(t *testing.T) {
	c := New()
	if _, err := c.AwaitResult(context.Background(), "never-submitted", time.Second); err != ErrUnknownRequest {
		t.Fatalf("err = %v, want ErrUnknownRequest", err)
	}
}

func TestCancelRemovesPendingSilently(t *testing.T) {
	c := New()
	requestId := c.Submit(uuid.New())
	c.Cancel(requestId)

	if c.PendingCount() != 0 {
		t.Fatal("pending entry survived Cancel")
	}
	stats := c.Snapshot()
	if stats.Resolved != 0 || stats.Expired != 0 {
		t.Fatalf("Cancel touched counters: %+v", stats)
	}
}

func TestContextCancellationExpiresWait(t *testing.T) {
	c := New()
	requestId := c.Submit(uuid.New())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	if _, err := c.AwaitResult(ctx, requestId, time.Minute); err != context.Canceled {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if c.Resolve(requestId, []byte("late")) {
		t.Fatal("response delivered after cancelled wait")
	}
}

func TestConcurrentResolversExactlyOneWins(t *testing.T) {
	c := New()
	requestId := c.Submit(uuid.New())

	const racers = 16
	var wg sync.WaitGroup
	wins := make(chan struct{}, racers)

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.Resolve(requestId, []byte("winner")) {
				wins <- struct{}{}
			}
		}()
	}

	got, err := c.AwaitResult(context.Background(), requestId, time.Second)
	if err != nil {
		t.Fatalf("AwaitResult: %v", err)
	}
	if string(got) != "winner" {
		t.Fatalf("got %q", got)
	}

	wg.Wait()
	close(wins)
	count := 0
	for range wins {
		count++
	}
	if count != 1 {
		t.Fatalf("%d resolvers won, want exactly 1", count)
	}
}

func TestIndependentSessionsDoNotInterfere(t *testing.T) {
	c := New()
	a := c.Submit(uuid.New())
	b := c.Submit(uuid.New())

	c.Resolve(b, []byte("for b"))

	got, err := c.AwaitResult(context.Background(), b, time.Second)
	if err != nil || string(got) != "for b" {
		t.Fatalf("b: got %q, err %v", got, err)
	}

	if _, err := c.AwaitResult(context.Background(), a, 10*time.Millisecond); err != ErrExpired {
		t.Fatalf("a should expire untouched, err = %v", err)
	}
}

package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeSession struct {
	id       string
	mu       sync.Mutex
	received []interface{}
	fail     bool
}

func (f *fakeSession) SessionID() string { return f.id }
func (f *fakeSession) WriteJSON(v interface{}) error {
	if f.fail {
		return errFakeWriteFailed
	}
	f.mu.Lock()
	f.received = append(f.received, v)
	f.mu.Unlock()
	return nil
}
func (f *fakeSession) Close() error { return nil }

var errFakeWriteFailed = errFake("write failed")

type errFake string

func (e errFake) Error() string { return string(e) }

func newTestRegistry() *Registry {
	return New(zerolog.Nop(), nil, nil, Config{SendTextPerMin: 30, SendMediaPerMin: 5})
}

func TestOfflineQueueDrainsOnRegister(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	if err := r.SendToUser(ctx, "u1", map[string]string{"a": "1"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := r.SendToUser(ctx, "u1", map[string]string{"a": "2"}); err != nil {
		t.Fatalf("send: %v", err)
	}

	s := &fakeSession{id: "s1"}
	r.Register("u1", s)

	if len(s.received) != 2 {
		t.Fatalf("expected 2 queued messages drained, got %d", len(s.received))
	}
}

func TestOfflineQueueCapsAndTrims(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()
	for i := 0; i < 120; i++ {
		_ = r.SendToUser(ctx, "u1", map[string]int{"i": i})
	}
	us := r.sessionsFor("u1", false)
	if us == nil {
		t.Fatalf("expected queue to exist")
	}
	us.mu.Lock()
	n := len(us.queue)
	us.mu.Unlock()
	if n > offlineQueueCap {
		t.Fatalf("queue exceeded cap: %d", n)
	}
}

func TestDeadSessionCulledMidIteration(t *testing.T) {
	r := newTestRegistry()
	good := &fakeSession{id: "good"}
	bad := &fakeSession{id: "bad", fail: true}
	r.Register("u1", good)
	r.Register("u1", bad)

	_ = r.SendToUser(context.Background(), "u1", map[string]string{"x": "y"})

	us := r.sessionsFor("u1", false)
	us.mu.Lock()
	_, stillThere := us.byID["bad"]
	us.mu.Unlock()
	if stillThere {
		t.Fatalf("expected failed session to be culled")
	}
}

func TestTokenBucketRefillAndExhaustion(t *testing.T) {
	orig := monotonicNow
	defer func() { monotonicNow = orig }()

	now := time.Now()
	monotonicNow = func() time.Time { return now }

	b := newTokenBucket(5)
	for i := 0; i < 5; i++ {
		if !b.consume() {
			t.Fatalf("expected token available on attempt %d", i)
		}
	}
	if b.consume() {
		t.Fatalf("expected bucket exhausted")
	}

	now = now.Add(12 * time.Second) // 5/60 * 12 = 1 token
	if !b.consume() {
		t.Fatalf("expected one token to have refilled")
	}
	if b.consume() {
		t.Fatalf("expected bucket exhausted again")
	}
}

func TestConsumeUsesSeparateBucketsPerKind(t *testing.T) {
	r := newTestRegistry()
	for i := 0; i < 5; i++ {
		if !r.Consume("agent1", KindMedia) {
			t.Fatalf("expected media token at %d", i)
		}
	}
	if r.Consume("agent1", KindMedia) {
		t.Fatalf("expected media bucket exhausted")
	}
	if !r.Consume("agent1", KindText) {
		t.Fatalf("expected text bucket independent of media bucket")
	}
}

package registry

import (
	"sync"
	"time"
)

// tokenBucket refills at capacity/60 tokens per second (spec.md §4.4).
type tokenBucket struct {
	mu         sync.Mutex
	capacity   float64
	tokens     float64
	refillRate float64 // tokens per second
	last       time.Time
}

func newTokenBucket(capacity float64) *tokenBucket {
	return &tokenBucket{
		capacity:   capacity,
		tokens:     capacity,
		refillRate: capacity / 60,
		last:       monotonicNow(),
	}
}

func (b *tokenBucket) consume() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := monotonicNow()
	elapsed := now.Sub(b.last).Seconds()
	b.last = now
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// monotonicNow isolates the one Now() call so the bucket's clock
// source stays easy to fake in tests.
var monotonicNow = time.Now

// agentBuckets holds the two buckets named in spec.md §4.4.
type agentBuckets struct {
	text  *tokenBucket
	media *tokenBucket
}

// Kind distinguishes which bucket a send consumes.
type Kind int

const (
	KindText Kind = iota
	KindMedia
)

func (r *Registry) bucketsFor(agent string) *agentBuckets {
	r.bucketsMu.Lock()
	defer r.bucketsMu.Unlock()
	b, ok := r.buckets[agent]
	if !ok {
		b = &agentBuckets{
			text:  newTokenBucket(r.textCapacity),
			media: newTokenBucket(r.mediaCapacity),
		}
		r.buckets[agent] = b
	}
	return b
}

// Consume returns true if the agent has a token available for the
// given kind, decrementing it; false means the caller must respond
// with a rate_limited error and drop the send (spec.md §4.4).
func (r *Registry) Consume(agent string, kind Kind) bool {
	b := r.bucketsFor(agent)
	if kind == KindMedia {
		return b.media.consume()
	}
	return b.text.consume()
}

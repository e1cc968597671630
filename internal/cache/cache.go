// Package cache implements the Cache & Bus tier of spec.md §4.2:
// recent-message cache, cooldown markers, survey state KV, and the
// cross-instance event bus. The teacher and its two sibling examples
// declare no Redis client; the broader retrieval pack does
// (other_examples/60eb026a_.../cmd/server/main.go wires
// github.com/redis/go-redis/v9 via redis.ParseURL + redis.NewClient),
// and this component is a close structural match for the Python
// original's RedisManager -- see DESIGN.md's Open Question entry.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	recentCap        = 50  // cache_message keeps the last 50 per user
	recentTrim       = 100 // trim back to recentCap once the list exceeds this
	busChannel       = "ws_events"
	defaultStateTTL  = 3 * 24 * time.Hour
	extendedStateTTL = 7 * 24 * time.Hour
)

// Event is the single envelope carried on the bus topic.
type Event struct {
	UserID  string          `json:"user_id"`
	Payload json.RawMessage `json:"payload"`
}

// Handler processes one bus Event delivered to this instance.
// Implementations MUST NOT republish -- spec.md §4.2/§5/§8 property 8.
type Handler func(Event)

// Bus is the Cache & Bus contract.
type Bus interface {
	CacheMessage(ctx context.Context, userID string, msg interface{}) error
	RecentMessages(ctx context.Context, userID string, n int) ([]json.RawMessage, error)

	PublishWSEvent(ctx context.Context, userID string, payload interface{}) error
	SubscribeWSEvents(ctx context.Context, h Handler) error

	CooldownSet(ctx context.Context, key string, ttl time.Duration) error
	CooldownExists(ctx context.Context, key string) (bool, error)

	SetJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error
	GetJSON(ctx context.Context, key string, v interface{}) (bool, error)
	DeleteKey(ctx context.Context, key string) error

	// Incr increments key's fixed-window counter, stamping ttl on the
	// window's first increment, and returns the post-increment count
	// (spec.md §5 "Admission control": a coarse per-minute rate limit
	// shared across a cluster, backed by the same cache tier).
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)

	Close() error
}

// RedisBus implements Bus over a single go-redis client: lists for the
// recent-message cache, plain keys with TTL for cooldowns/survey state,
// and native pub/sub for the cross-instance bus.
type RedisBus struct {
	rdb *redis.Client
}

// New connects to the cache URL (e.g. "redis://localhost:6379/0").
func New(url string) (*RedisBus, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("cache: parse CACHE_URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("cache: ping redis: %w", err)
	}
	return &RedisBus{rdb: rdb}, nil
}

func (b *RedisBus) Close() error { return b.rdb.Close() }

func recentKey(userID string) string { return "recent:" + userID }

// CacheMessage pushes to the head of the per-user capped list, trimming
// back to recentCap once it exceeds recentTrim (spec.md §4.2).
func (b *RedisBus) CacheMessage(ctx context.Context, userID string, msg interface{}) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	key := recentKey(userID)
	pipe := b.rdb.TxPipeline()
	pipe.LPush(ctx, key, raw)
	pipe.LLen(ctx, key)
	cmds, err := pipe.Exec(ctx)
	if err != nil {
		return err
	}
	if lenCmd, ok := cmds[1].(*redis.IntCmd); ok && lenCmd.Val() > recentTrim {
		b.rdb.LTrim(ctx, key, 0, recentCap-1)
	}
	b.rdb.Expire(ctx, key, time.Hour)
	return nil
}

// RecentMessages returns up to n cached messages, newest-first order
// preserved as pushed (callers reverse for chronological display).
func (b *RedisBus) RecentMessages(ctx context.Context, userID string, n int) ([]json.RawMessage, error) {
	vals, err := b.rdb.LRange(ctx, recentKey(userID), 0, int64(n-1)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	out := make([]json.RawMessage, len(vals))
	for i, v := range vals {
		out[i] = json.RawMessage(v)
	}
	return out, nil
}

// PublishWSEvent publishes {user_id, payload} on the single bus topic.
func (b *RedisBus) PublishWSEvent(ctx context.Context, userID string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	env, err := json.Marshal(Event{UserID: userID, Payload: raw})
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, busChannel, env).Err()
}

// SubscribeWSEvents blocks, delivering every event on the bus topic to
// h until ctx is cancelled. Callers MUST treat h as local-only delivery
// -- never republish what arrives here (spec.md §4.2, §9).
func (b *RedisBus) SubscribeWSEvents(ctx context.Context, h Handler) error {
	sub := b.rdb.Subscribe(ctx, busChannel)
	defer sub.Close()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var evt Event
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				continue
			}
			h(evt)
		}
	}
}

func cooldownKey(key string) string { return "cooldown:" + key }

func (b *RedisBus) CooldownSet(ctx context.Context, key string, ttl time.Duration) error {
	return b.rdb.Set(ctx, cooldownKey(key), "1", ttl).Err()
}

func (b *RedisBus) CooldownExists(ctx context.Context, key string) (bool, error) {
	n, err := b.rdb.Exists(ctx, cooldownKey(key)).Result()
	return n > 0, err
}

func stateKey(key string) string { return "kv:" + key }

func (b *RedisBus) SetJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = defaultStateTTL
	}
	return b.rdb.Set(ctx, stateKey(key), raw, ttl).Err()
}

func (b *RedisBus) GetJSON(ctx context.Context, key string, v interface{}) (bool, error) {
	raw, err := b.rdb.Get(ctx, stateKey(key)).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal(raw, v)
}

func (b *RedisBus) DeleteKey(ctx context.Context, key string) error {
	return b.rdb.Del(ctx, stateKey(key)).Err()
}

func burstKey(key string) string { return "burst:" + key }

// Incr implements a fixed-window counter: INCR the key, and on the
// window's first hit (count==1) stamp the TTL so the window expires
// on its own.
func (b *RedisBus) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := b.rdb.Incr(ctx, burstKey(key)).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		b.rdb.Expire(ctx, burstKey(key), ttl)
	}
	return count, nil
}

// Cooldown key helpers named in spec.md §4.2/§4.6.
func AutoReplyCooldownKey(userID string) string { return "auto_reply_sent:" + userID }
func SurveyInviteCooldownKey(userID string) string { return "survey_invited:" + userID }
func SurveyStateKey(userID string) string { return "survey_state:" + userID }

const (
	AutoReplyCooldownTTL = 24 * time.Hour
	SurveyInviteTTL      = 30 * 24 * time.Hour
	SurveyStateTTL       = defaultStateTTL
	SurveyStateDoneTTL   = extendedStateTTL
)

// Package registry implements the Connection Registry (spec.md §4.4):
// per-user duplex session sets, the offline queue, admin broadcast,
// cross-instance fan-out, and per-agent rate limiting. The session
// hub/register/unregister/broadcast-channel shape is grounded on
// AzielCF-az-wap's ui/websocket/websocket.go (its global Clients map +
// Register/Unregister/Broadcast channel loop), generalized from one
// global connection set to a per-user set and from a single broadcast
// channel to send_to_user/broadcast_to_admins.
package registry

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"github.com/MuhamadAgungGumelar/wa-agent-gateway/internal/cache"
	"github.com/MuhamadAgungGumelar/wa-agent-gateway/internal/store"
)

const (
	offlineQueueCap  = 100
	offlineQueueTrim = 50
)

// Session is the minimal duplex-connection contract the registry
// needs; *websocket.Conn (gofiber/contrib/websocket) satisfies it via
// the edge package's adapter.
type Session interface {
	SessionID() string
	WriteJSON(v interface{}) error
	Close() error
}

type userSessions struct {
	mu    sync.Mutex
	byID  map[string]Session
	queue []json.RawMessage
}

// Registry owns all live sessions keyed by user_id, plus the
// per-agent token buckets named in spec.md §4.4.
type Registry struct {
	log zerolog.Logger
	db  store.Store
	bus cache.Bus

	mu    sync.RWMutex
	users map[string]*userSessions

	bucketsMu sync.Mutex
	buckets   map[string]*agentBuckets

	textCapacity, mediaCapacity float64

	pubsubEnabled bool
}

// Config carries the tunables spec.md §6 names for rate limiting.
type Config struct {
	SendTextPerMin  int
	SendMediaPerMin int
	EnablePubsub    bool
}

func New(log zerolog.Logger, db store.Store, bus cache.Bus, cfg Config) *Registry {
	textCap := cfg.SendTextPerMin
	if textCap <= 0 {
		textCap = 30
	}
	mediaCap := cfg.SendMediaPerMin
	if mediaCap <= 0 {
		mediaCap = 5
	}
	return &Registry{
		log:           log,
		db:            db,
		bus:           bus,
		users:         make(map[string]*userSessions),
		buckets:       make(map[string]*agentBuckets),
		textCapacity:  float64(textCap),
		mediaCapacity: float64(mediaCap),
		pubsubEnabled: cfg.EnablePubsub,
	}
}

// StartBusSubscriber runs the cross-instance subscriber loop until ctx
// is cancelled; events arriving here are delivered local-only, they
// are never republished (spec.md §4.2/§9, property 8).
func (r *Registry) StartBusSubscriber(ctx context.Context) {
	if !r.pubsubEnabled || r.bus == nil {
		return
	}
	go func() {
		err := r.bus.SubscribeWSEvents(ctx, func(evt cache.Event) {
			r.deliverLocal(evt.UserID, evt.Payload)
		})
		if err != nil && ctx.Err() == nil {
			r.log.Error().Err(err).Msg("bus subscriber exited")
		}
	}()
}

func (r *Registry) sessionsFor(userID string, create bool) *userSessions {
	r.mu.RLock()
	us, ok := r.users[userID]
	r.mu.RUnlock()
	if ok || !create {
		return us
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if us, ok := r.users[userID]; ok {
		return us
	}
	us = &userSessions{byID: make(map[string]Session)}
	r.users[userID] = us
	return us
}

// Register accepts a new session for userID, draining the offline
// queue in FIFO order; any write failure mid-drain disconnects the
// session immediately.
func (r *Registry) Register(userID string, s Session) {
	us := r.sessionsFor(userID, true)
	us.mu.Lock()
	us.byID[s.SessionID()] = s
	pending := us.queue
	us.queue = nil
	us.mu.Unlock()

	for _, payload := range pending {
		if err := s.WriteJSON(json.RawMessage(payload)); err != nil {
			r.Unregister(userID, s.SessionID())
			return
		}
	}
}

// Unregister removes a session and collapses the user's entry once
// empty.
func (r *Registry) Unregister(userID, sessionID string) {
	r.mu.RLock()
	us, ok := r.users[userID]
	r.mu.RUnlock()
	if !ok {
		return
	}
	us.mu.Lock()
	delete(us.byID, sessionID)
	empty := len(us.byID) == 0 && len(us.queue) == 0
	us.mu.Unlock()

	if empty {
		r.mu.Lock()
		if us2, ok := r.users[userID]; ok && len(us2.byID) == 0 && len(us2.queue) == 0 {
			delete(r.users, userID)
		}
		r.mu.Unlock()
	}
}

// SendToUser delivers payload to every live session for userID,
// culling dead sessions mid-iteration; with no live session the
// payload is appended to the capped offline queue. After local
// delivery the payload is published on the bus when enabled.
func (r *Registry) SendToUser(ctx context.Context, userID string, payload interface{}) error {
	r.deliverLocalAndQueue(userID, payload)

	if r.pubsubEnabled && r.bus != nil {
		return r.bus.PublishWSEvent(ctx, userID, payload)
	}
	return nil
}

func (r *Registry) deliverLocalAndQueue(userID string, payload interface{}) {
	us := r.sessionsFor(userID, true)

	us.mu.Lock()
	defer us.mu.Unlock()

	if len(us.byID) == 0 {
		raw, err := json.Marshal(payload)
		if err != nil {
			r.log.Error().Err(err).Msg("marshal payload for offline queue")
			return
		}
		us.queue = append(us.queue, raw)
		if len(us.queue) > offlineQueueCap {
			us.queue = us.queue[len(us.queue)-offlineQueueTrim:]
		}
		return
	}

	for id, s := range us.byID {
		if err := s.WriteJSON(payload); err != nil {
			delete(us.byID, id)
			_ = s.Close()
		}
	}
}

// SendToUserExcept delivers payload to every live session for userID
// other than exceptSessionID -- used for peer rebroadcast (spec.md
// §4.7 typing) where the sender's own session should not echo back.
// Unlike SendToUser this never queues offline or publishes to the
// bus: a typing indicator has no meaning to a session that wasn't
// live to see it.
func (r *Registry) SendToUserExcept(userID string, payload interface{}, exceptSessionID string) {
	us := r.sessionsFor(userID, false)
	if us == nil {
		return
	}
	us.mu.Lock()
	defer us.mu.Unlock()
	for id, s := range us.byID {
		if id == exceptSessionID {
			continue
		}
		if err := s.WriteJSON(payload); err != nil {
			delete(us.byID, id)
			_ = s.Close()
		}
	}
}

// deliverLocal is the subscriber-side delivery path used for events
// arriving from other instances: local delivery only, never
// re-published (spec.md §9 property 8).
func (r *Registry) deliverLocal(userID string, payload json.RawMessage) {
	us := r.sessionsFor(userID, false)
	if us == nil {
		return
	}
	us.mu.Lock()
	defer us.mu.Unlock()
	for id, s := range us.byID {
		if err := s.WriteJSON(payload); err != nil {
			delete(us.byID, id)
			_ = s.Close()
		}
	}
}

// BroadcastToAdmins enumerates admin users from the Store and
// delivers individually, excluding the given user_id (e.g. the
// sender, if it happens to be an admin too).
func (r *Registry) BroadcastToAdmins(ctx context.Context, payload interface{}, exclude string) error {
	admins, err := r.db.ListAdmins(ctx)
	if err != nil {
		return err
	}
	for _, userID := range admins {
		if userID == exclude {
			continue
		}
		if err := r.SendToUser(ctx, userID, payload); err != nil {
			r.log.Warn().Err(err).Str("user_id", userID).Msg("broadcast to admin failed")
		}
	}
	return nil
}

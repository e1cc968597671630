package edge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/MuhamadAgungGumelar/wa-agent-gateway/internal/processor"
	"github.com/MuhamadAgungGumelar/wa-agent-gateway/internal/registry"
	"github.com/MuhamadAgungGumelar/wa-agent-gateway/internal/store"
)

const (
	recentMessagesLimit = 20
	historyDefaultLimit = 50
	historyMaxLimit     = 200
	resumeSinceMaxLimit = 500
)

var sessionSeq uint64

// wsSession adapts *websocket.Conn to registry.Session.
type wsSession struct {
	id   string
	conn *websocket.Conn
}

func (w *wsSession) SessionID() string            { return w.id }
func (w *wsSession) WriteJSON(v interface{}) error { return w.conn.WriteJSON(v) }
func (w *wsSession) Close() error                  { return w.conn.Close() }

// handleWebsocket implements spec.md §6's duplex /ws/{user_id} session.
// Authentication is a ?token= query param validated the same way the
// REST Bearer header is, since the browser WebSocket API cannot set
// custom headers on the upgrade request.
func (s *Server) handleWebsocket(c *fiber.Ctx) error {
	token := c.Query("token")
	claims, err := s.tokens.ParseToken(token)
	if err != nil {
		return fiber.ErrUnauthorized
	}
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	userID := c.Params("user_id")
	agent := claims.Username
	return websocket.New(func(conn *websocket.Conn) {
		s.runWebsocketSession(userID, agent, conn)
	})(c)
}

// runWebsocketSession owns one duplex connection end to end: register
// with the Connection Registry (draining the offline queue), backfill
// recent history, then dispatch each client message until it
// disconnects.
func (s *Server) runWebsocketSession(userID, agent string, conn *websocket.Conn) {
	sess := &wsSession{id: fmt.Sprintf("ws_%d_%s", atomic.AddUint64(&sessionSeq, 1), uuid.NewString()), conn: conn}
	ctx := context.Background()

	s.reg.Register(userID, sess)
	websocketSessionsActive.Inc()
	defer websocketSessionsActive.Dec()
	defer s.reg.Unregister(userID, sess.id)

	s.sendRecentMessages(ctx, userID, sess)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s.dispatchWebsocketMessage(ctx, userID, agent, sess, raw)
	}
}

// inboundEnvelope is the duplex session's client->server wire shape:
// `{type, data}`, the same envelope spec.md §6 uses server-side
// (processor.Envelope).
type inboundEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// dispatchWebsocketMessage implements the seven client->server
// message types spec.md §4.7 names.
func (s *Server) dispatchWebsocketMessage(ctx context.Context, userID, agent string, sess *wsSession, raw []byte) {
	var in inboundEnvelope
	if err := json.Unmarshal(raw, &in); err != nil {
		_ = sess.WriteJSON(processor.Envelope{Type: processor.EventError, Data: fiber.Map{"error": "invalid message"}})
		return
	}

	switch in.Type {
	case "ping":
		s.wsPing(sess, in.Data)
	case "send_message":
		s.wsSendMessage(ctx, userID, agent, sess, in.Data)
	case "mark_as_read":
		s.wsMarkAsRead(ctx, userID, sess, in.Data)
	case "typing":
		s.wsTyping(ctx, userID, sess, in.Data)
	case "react":
		s.wsReact(ctx, userID, sess, in.Data)
	case "get_conversation_history":
		s.wsConversationHistory(ctx, userID, sess, in.Data)
	case "resume_since":
		s.wsResumeSince(ctx, userID, sess, in.Data)
	default:
		_ = sess.WriteJSON(processor.Envelope{Type: processor.EventError, Data: fiber.Map{"error": "unknown message type: " + in.Type}})
	}
}

func (s *Server) wsPing(sess *wsSession, data json.RawMessage) {
	var req struct {
		TS string `json:"ts"`
	}
	_ = json.Unmarshal(data, &req)
	_ = sess.WriteJSON(processor.Envelope{Type: processor.EventPong, Data: fiber.Map{"ts": req.TS}})
}

// wsSendMessage routes send_message{data} through the same optimistic
// outbound pipeline as POST /send-message (spec.md §4.7); ProcessOutgoing
// itself fans out message_sent, so there is nothing further to emit here.
func (s *Server) wsSendMessage(ctx context.Context, userID, agent string, sess *wsSession, data json.RawMessage) {
	var req sendMessageRequest
	if err := json.Unmarshal(data, &req); err != nil {
		_ = sess.WriteJSON(processor.Envelope{Type: processor.EventError, Data: fiber.Map{"error": "invalid send_message payload"}})
		return
	}
	if !s.reg.Consume(agent, registry.KindText) {
		_ = sess.WriteJSON(processor.Envelope{Type: processor.EventError, Data: fiber.Map{"error": "rate_limited"}})
		return
	}
	kind := store.KindText
	if req.Type != "" {
		kind = store.Kind(req.Type)
	}
	if _, err := s.proc.ProcessOutgoing(ctx, processor.OutgoingRequest{
		UserID:  userID,
		Kind:    kind,
		Body:    req.Message,
		TempID:  req.TempID,
		ReplyTo: req.ReplyTo,
	}); err != nil {
		_ = sess.WriteJSON(processor.Envelope{Type: processor.EventError, Data: fiber.Map{"error": err.Error()}})
		return
	}
	messagesOutboundTotal.WithLabelValues(string(kind)).Inc()
}

// wsMarkAsRead implements mark_as_read{message_ids?, all?}: mark in
// Store, best-effort forward each id to the upstream read-receipt
// endpoint, then notify the requesting session (spec.md §4.7).
func (s *Server) wsMarkAsRead(ctx context.Context, userID string, sess *wsSession, data json.RawMessage) {
	var req markReadRequest
	_ = json.Unmarshal(data, &req)
	if err := s.db.MarkRead(ctx, userID, req.MessageIDs, req.All); err != nil {
		_ = sess.WriteJSON(processor.Envelope{Type: processor.EventError, Data: fiber.Map{"error": err.Error()}})
		return
	}
	for _, id := range req.MessageIDs {
		if err := s.upstream.MarkRead(ctx, id); err != nil {
			s.log.Warn().Err(err).Str("upstream_id", id).Msg("upstream read-receipt failed")
		}
	}
	_ = sess.WriteJSON(processor.Envelope{Type: processor.EventMessagesMarkedRead, Data: fiber.Map{
		"message_ids": req.MessageIDs,
		"all":         req.All,
	}})
}

// wsTyping implements typing{is_typing}: rebroadcast to peer sessions
// of the same user excluding the sender, and to admins (spec.md
// §4.7).
func (s *Server) wsTyping(ctx context.Context, userID string, sess *wsSession, data json.RawMessage) {
	var req struct {
		IsTyping bool `json:"is_typing"`
	}
	_ = json.Unmarshal(data, &req)
	payload := fiber.Map{"user_id": userID, "is_typing": req.IsTyping}
	s.reg.SendToUserExcept(userID, processor.Envelope{Type: processor.EventTyping, Data: payload}, sess.id)
	if err := s.reg.BroadcastToAdmins(ctx, processor.Envelope{Type: processor.EventTyping, Data: payload}, userID); err != nil {
		s.log.Warn().Err(err).Msg("typing admin broadcast failed")
	}
}

// wsReact implements react{target_upstream_id, emoji, action}:
// forward to upstream synchronously; on success fan out
// reaction_update and persist a reaction row (spec.md §4.7).
func (s *Server) wsReact(ctx context.Context, userID string, sess *wsSession, data json.RawMessage) {
	var req struct {
		TargetUpstreamID string `json:"target_upstream_id"`
		Emoji            string `json:"emoji"`
		Action           string `json:"action"`
	}
	if err := json.Unmarshal(data, &req); err != nil || req.TargetUpstreamID == "" {
		_ = sess.WriteJSON(processor.Envelope{Type: processor.EventError, Data: fiber.Map{"error": "target_upstream_id is required"}})
		return
	}
	action := store.ReactionAction(req.Action)
	if action == "" {
		action = store.ReactionReact
	}
	if _, err := s.proc.ProcessReaction(ctx, processor.ReactionRequest{
		UserID:           userID,
		TargetUpstreamID: req.TargetUpstreamID,
		Emoji:            req.Emoji,
		Action:           action,
	}); err != nil {
		_ = sess.WriteJSON(processor.Envelope{Type: processor.EventError, Data: fiber.Map{"error": err.Error()}})
	}
}

// wsConversationHistory implements get_conversation_history{offset,
// limit}, mirroring GET /messages/{user_id}'s pagination (spec.md
// §4.7).
func (s *Server) wsConversationHistory(ctx context.Context, userID string, sess *wsSession, data json.RawMessage) {
	var req struct {
		Offset int `json:"offset"`
		Limit  int `json:"limit"`
	}
	_ = json.Unmarshal(data, &req)
	if req.Limit <= 0 || req.Limit > historyMaxLimit {
		req.Limit = historyDefaultLimit
	}
	rows, err := s.db.GetMessages(ctx, userID, req.Offset, req.Limit)
	if err != nil {
		_ = sess.WriteJSON(processor.Envelope{Type: processor.EventError, Data: fiber.Map{"error": err.Error()}})
		return
	}
	_ = sess.WriteJSON(processor.Envelope{Type: processor.EventConversationHistory, Data: rows})
}

// wsResumeSince implements resume_since{since, limit}: all messages
// strictly newer than the cursor, ascending, capped at 500 (spec.md
// §4.7).
func (s *Server) wsResumeSince(ctx context.Context, userID string, sess *wsSession, data json.RawMessage) {
	var req struct {
		Since string `json:"since"`
		Limit int    `json:"limit"`
	}
	_ = json.Unmarshal(data, &req)
	if req.Limit <= 0 || req.Limit > resumeSinceMaxLimit {
		req.Limit = resumeSinceMaxLimit
	}
	rows, err := s.db.GetMessagesSince(ctx, userID, req.Since, req.Limit)
	if err != nil {
		_ = sess.WriteJSON(processor.Envelope{Type: processor.EventError, Data: fiber.Map{"error": err.Error()}})
		return
	}
	_ = sess.WriteJSON(processor.Envelope{Type: processor.EventConversationHistory, Data: rows})
}

// sendRecentMessages implements the connect-time backfill: up to 20
// entries by COALESCE(server_ts, client_ts) ascending, Cache preferred
// and Store fallback.
func (s *Server) sendRecentMessages(ctx context.Context, userID string, sess *wsSession) {
	if s.bus != nil {
		if raw, err := s.bus.RecentMessages(ctx, userID, recentMessagesLimit); err == nil && len(raw) > 0 {
			ordered := make([]json.RawMessage, len(raw))
			for i, r := range raw {
				ordered[len(raw)-1-i] = r
			}
			_ = sess.WriteJSON(processor.Envelope{Type: processor.EventRecentMessages, Data: ordered})
			return
		}
	}
	rows, err := s.db.GetMessages(ctx, userID, 0, recentMessagesLimit)
	if err != nil {
		return
	}
	_ = sess.WriteJSON(processor.Envelope{Type: processor.EventRecentMessages, Data: rows})
}

package edge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/MuhamadAgungGumelar/wa-agent-gateway/internal/auth"
	"github.com/MuhamadAgungGumelar/wa-agent-gateway/internal/ecommerce"
	"github.com/MuhamadAgungGumelar/wa-agent-gateway/internal/processor"
	"github.com/MuhamadAgungGumelar/wa-agent-gateway/internal/registry"
	"github.com/MuhamadAgungGumelar/wa-agent-gateway/internal/store"
	"github.com/MuhamadAgungGumelar/wa-agent-gateway/internal/upstream"
)

type stubBackend struct{}

func (stubBackend) ListProducts(ctx context.Context) ([]ecommerce.Product, error) { return nil, nil }
func (stubBackend) ResolveVariant(ctx context.Context, variantID string) (ecommerce.Product, bool, error) {
	return ecommerce.Product{}, false, nil
}
func (stubBackend) ResolveProductFirstVariant(ctx context.Context, productID string) (ecommerce.Product, bool, error) {
	return ecommerce.Product{}, false, nil
}
func (stubBackend) CustomerOrders(ctx context.Context, phone string, since time.Time, limit int) ([]ecommerce.Order, error) {
	return nil, nil
}
func (stubBackend) VariantImageURLs(ctx context.Context, variantID string, max int) ([]string, error) {
	return nil, nil
}

func newTestServer(t *testing.T) (*fiber.App, *Server) {
	t.Helper()
	db, err := store.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	up, err := upstream.New(upstream.Config{PhoneNumberID: "1", AccessToken: "t"})
	if err != nil {
		t.Fatalf("upstream.New: %v", err)
	}
	reg := registry.New(zerolog.Nop(), db, nil, registry.Config{SendTextPerMin: 30, SendMediaPerMin: 5})
	proc := processor.New(zerolog.Nop(), db, nil, reg, up, processor.Config{PublicBaseURL: "http://localhost:8080"})
	tokens := auth.NewTokenService("test-secret")

	srv := New(zerolog.Nop(), db, nil, reg, proc, up, stubBackend{}, tokens, nil, Config{WAVerifyToken: "verify-me", DefaultCatalogID: "cat1"}, "2026-07-31T00:00:00Z")

	app := fiber.New()
	srv.RegisterRoutes(app)
	return app, srv
}

func TestHandleWebhookVerifyEchoesChallenge(t *testing.T) {
	app, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=12345", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	if buf.String() != "12345" {
		t.Fatalf("body = %q, want 12345", buf.String())
	}
}

func TestHandleWebhookVerifyRejectsBadToken(t *testing.T) {
	app, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
}

func TestSendMessageRequiresAuth(t *testing.T) {
	app, _ := newTestServer(t)

	body, _ := json.Marshal(sendMessageRequest{UserID: "212600000001", Message: "hi"})
	req := httptest.NewRequest(http.MethodPost, "/send-message", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestSendMessageWithBearerToken(t *testing.T) {
	app, srv := newTestServer(t)

	token, err := srv.tokens.IssueToken("agent-1", false)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	body, _ := json.Marshal(sendMessageRequest{UserID: "212600000001", Message: "hi"})
	req := httptest.NewRequest(http.MethodPost, "/send-message", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var msg store.Message
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.UserID != "212600000001" || msg.Kind != store.KindText {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestHandleListTagOptionsWithoutRepoReturnsEmpty(t *testing.T) {
	app, srv := newTestServer(t)

	token, err := srv.tokens.IssueToken("agent-1", false)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/tag-options/", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var rows []store.TagOption
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected empty tag option list, got %v", rows)
	}
}

// serveForWebsocket starts app on a real loopback listener, since
// fiber's in-memory app.Test harness can't perform an HTTP upgrade;
// it returns the ws:// base URL and a cleanup func.
func serveForWebsocket(t *testing.T, app *fiber.App) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() { _ = app.Listener(ln) }()
	t.Cleanup(func() { _ = app.Shutdown() })
	return fmt.Sprintf("ws://%s", ln.Addr().String())
}

func dialWebsocket(t *testing.T, base, userID, token string) *websocket.Conn {
	t.Helper()
	url := fmt.Sprintf("%s/ws/%s?token=%s", base, userID, token)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readEnvelope drains recent_messages (always sent on connect) then
// returns the next envelope of the given type, failing the test on
// timeout or mismatch.
func readEnvelope(t *testing.T, conn *websocket.Conn, wantType string) processor.Envelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for i := 0; i < 5; i++ {
		var env processor.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			t.Fatalf("read websocket message: %v", err)
		}
		if env.Type == wantType {
			return env
		}
	}
	t.Fatalf("did not see a %q envelope in time", wantType)
	return processor.Envelope{}
}

func TestWebsocketPing(t *testing.T) {
	app, srv := newTestServer(t)
	token, err := srv.tokens.IssueToken("agent-1", false)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	base := serveForWebsocket(t, app)
	conn := dialWebsocket(t, base, "212600000001", token)

	if err := conn.WriteJSON(inboundEnvelope{Type: "ping", Data: json.RawMessage(`{"ts":"abc"}`)}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	env := readEnvelope(t, conn, processor.EventPong)
	data, _ := env.Data.(map[string]interface{})
	if data["ts"] != "abc" {
		t.Fatalf("pong data = %+v, want ts=abc", env.Data)
	}
}

func TestWebsocketSendMessage(t *testing.T) {
	app, srv := newTestServer(t)
	token, err := srv.tokens.IssueToken("agent-1", false)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	base := serveForWebsocket(t, app)
	conn := dialWebsocket(t, base, "212600000001", token)

	payload, _ := json.Marshal(sendMessageRequest{Message: "hi there"})
	if err := conn.WriteJSON(inboundEnvelope{Type: "send_message", Data: payload}); err != nil {
		t.Fatalf("write send_message: %v", err)
	}
	env := readEnvelope(t, conn, processor.EventMessageSent)
	raw, _ := json.Marshal(env.Data)
	var msg store.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("decode message_sent payload: %v", err)
	}
	if msg.Body != "hi there" || msg.UserID != "212600000001" {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestWebsocketMarkAsRead(t *testing.T) {
	app, srv := newTestServer(t)
	token, err := srv.tokens.IssueToken("agent-1", false)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	base := serveForWebsocket(t, app)
	conn := dialWebsocket(t, base, "212600000001", token)

	if err := conn.WriteJSON(inboundEnvelope{Type: "mark_as_read", Data: json.RawMessage(`{"all":true}`)}); err != nil {
		t.Fatalf("write mark_as_read: %v", err)
	}
	env := readEnvelope(t, conn, processor.EventMessagesMarkedRead)
	data, _ := env.Data.(map[string]interface{})
	if data["all"] != true {
		t.Fatalf("messages_marked_read data = %+v, want all=true", env.Data)
	}
}

func TestWebsocketTypingExcludesSenderAndReachesPeer(t *testing.T) {
	app, srv := newTestServer(t)
	token, err := srv.tokens.IssueToken("agent-1", false)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	base := serveForWebsocket(t, app)
	sender := dialWebsocket(t, base, "212600000001", token)
	peer := dialWebsocket(t, base, "212600000001", token)

	// drain each connection's recent_messages backfill before asserting.
	readEnvelope(t, sender, processor.EventRecentMessages)
	readEnvelope(t, peer, processor.EventRecentMessages)

	if err := sender.WriteJSON(inboundEnvelope{Type: "typing", Data: json.RawMessage(`{"is_typing":true}`)}); err != nil {
		t.Fatalf("write typing: %v", err)
	}

	env := readEnvelope(t, peer, processor.EventTyping)
	data, _ := env.Data.(map[string]interface{})
	if data["is_typing"] != true {
		t.Fatalf("typing data = %+v, want is_typing=true", env.Data)
	}

	_ = sender.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	var echoed processor.Envelope
	if err := sender.ReadJSON(&echoed); err == nil && echoed.Type == processor.EventTyping {
		t.Fatalf("sender should not receive its own typing event")
	}
}

func TestWebsocketReactForwardsToUpstream(t *testing.T) {
	app, srv := newTestServer(t)
	token, err := srv.tokens.IssueToken("agent-1", false)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	base := serveForWebsocket(t, app)
	conn := dialWebsocket(t, base, "212600000001", token)

	body, _ := json.Marshal(map[string]string{
		"target_upstream_id": "wamid.abc",
		"emoji":              "👍",
		"action":             "react",
	})
	if err := conn.WriteJSON(inboundEnvelope{Type: "react", Data: body}); err != nil {
		t.Fatalf("write react: %v", err)
	}
	// The test environment has no route to the WhatsApp Cloud API, so
	// the synchronous upstream call fails and the session should be
	// told rather than hang -- this confirms the react{} payload is
	// actually forwarded to upstream.SendReaction, not swallowed.
	env := readEnvelope(t, conn, processor.EventError)
	if env.Data == nil {
		t.Fatalf("expected an error payload describing the upstream failure")
	}
}

func TestWebsocketConversationHistory(t *testing.T) {
	app, srv := newTestServer(t)
	token, err := srv.tokens.IssueToken("agent-1", false)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if _, err := srv.proc.ProcessOutgoing(context.Background(), processor.OutgoingRequest{UserID: "212600000001", Kind: store.KindText, Body: "hello"}); err != nil {
		t.Fatalf("seed message: %v", err)
	}

	base := serveForWebsocket(t, app)
	conn := dialWebsocket(t, base, "212600000001", token)

	if err := conn.WriteJSON(inboundEnvelope{Type: "get_conversation_history", Data: json.RawMessage(`{"offset":0,"limit":10}`)}); err != nil {
		t.Fatalf("write get_conversation_history: %v", err)
	}
	env := readEnvelope(t, conn, processor.EventConversationHistory)
	rows, ok := env.Data.([]interface{})
	if !ok || len(rows) == 0 {
		t.Fatalf("conversation_history data = %+v, want at least one row", env.Data)
	}
}

func TestWebsocketResumeSince(t *testing.T) {
	app, srv := newTestServer(t)
	token, err := srv.tokens.IssueToken("agent-1", false)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if _, err := srv.proc.ProcessOutgoing(context.Background(), processor.OutgoingRequest{UserID: "212600000001", Kind: store.KindText, Body: "hello"}); err != nil {
		t.Fatalf("seed message: %v", err)
	}

	base := serveForWebsocket(t, app)
	conn := dialWebsocket(t, base, "212600000001", token)

	if err := conn.WriteJSON(inboundEnvelope{Type: "resume_since", Data: json.RawMessage(`{"since":"2000-01-01T00:00:00Z"}`)}); err != nil {
		t.Fatalf("write resume_since: %v", err)
	}
	env := readEnvelope(t, conn, processor.EventConversationHistory)
	rows, ok := env.Data.([]interface{})
	if !ok || len(rows) == 0 {
		t.Fatalf("resume_since data = %+v, want at least one row", env.Data)
	}
}

func TestHandleHealthReportsPerDependencyStatus(t *testing.T) {
	app, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	var report healthReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		t.Fatalf("decode health report: %v", err)
	}

	if !report.Store.OK {
		t.Fatalf("store status = %+v, want ok (in-memory sqlite)", report.Store)
	}
	if !report.Cache.OK {
		t.Fatalf("cache status = %+v, want ok (no cache configured, no-op)", report.Cache)
	}
	if report.Upstream.OK {
		t.Fatalf("upstream status = %+v, want unreachable in the test sandbox", report.Upstream)
	}
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status code = %d, want 503 when upstream is down", resp.StatusCode)
	}
}

package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	c, err := New(Config{PhoneNumberID: "123", AccessToken: "tok", MaxConcurrency: 2})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.baseURL = srv.URL
	c.mediaBase = srv.URL
	return c, srv
}

func TestSendTextReturnsUpstreamID(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Fatalf("missing bearer token, got %q", got)
		}
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["type"] != "text" {
			t.Fatalf("expected type=text, got %v", body["type"])
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"messaging_product":"whatsapp","messages":[{"id":"wamid.ABC"}]}`))
	})
	defer srv.Close()

	env, err := c.SendText(context.Background(), "6281234@c.us", "hello", "")
	if err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if env.UpstreamID() != "wamid.ABC" {
		t.Fatalf("expected wamid.ABC, got %q", env.UpstreamID())
	}
}

func TestSendTextPropagatesTypedError(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid recipient"}`))
	})
	defer srv.Close()

	_, err := c.SendText(context.Background(), "bad", "hi", "")
	if err == nil {
		t.Fatalf("expected error")
	}
	upErr, ok := err.(*Error)
	if !ok {
		t.Fatalf("expected *Error, got %T", err)
	}
	if upErr.Status != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", upErr.Status)
	}
}

func TestChunkProductListSplitsAt30(t *testing.T) {
	items := make([]ProductItem, 65)
	for i := range items {
		items[i] = ProductItem{RetailerID: "sku"}
	}
	chunks := ChunkProductList(items)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	if len(chunks[0]) != 30 || len(chunks[1]) != 30 || len(chunks[2]) != 5 {
		t.Fatalf("unexpected chunk sizes: %v %v %v", len(chunks[0]), len(chunks[1]), len(chunks[2]))
	}
}

func TestButtonTitleTruncatedTo20(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		interactive := body["interactive"].(map[string]interface{})
		action := interactive["action"].(map[string]interface{})
		buttons := action["buttons"].([]interface{})
		reply := buttons[0].(map[string]interface{})["reply"].(map[string]interface{})
		title := reply["title"].(string)
		if len([]rune(title)) > 20 {
			t.Fatalf("expected truncated title, got %q (%d runes)", title, len([]rune(title)))
		}
		w.Write([]byte(`{"messages":[{"id":"wamid.X"}]}`))
	})
	defer srv.Close()

	longTitle := "This button title is way too long for WhatsApp"
	_, err := c.SendInteractiveButtons(context.Background(), "to", "body", []Button{{ID: "b1", Title: longTitle}})
	if err != nil {
		t.Fatalf("SendInteractiveButtons: %v", err)
	}
}

func TestConcurrencySemaphoreBounded(t *testing.T) {
	c, err := New(Config{PhoneNumberID: "1", AccessToken: "t", MaxConcurrency: 2})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if cap(c.sem) != 2 {
		t.Fatalf("expected semaphore capacity 2, got %d", cap(c.sem))
	}
}

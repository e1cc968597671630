package processor

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/MuhamadAgungGumelar/wa-agent-gateway/internal/registry"
	"github.com/MuhamadAgungGumelar/wa-agent-gateway/internal/store"
	"github.com/MuhamadAgungGumelar/wa-agent-gateway/internal/upstream"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestProcessor(t *testing.T) (*Processor, store.Store) {
	t.Helper()
	db := newTestStore(t)

	up, err := upstream.New(upstream.Config{PhoneNumberID: "1", AccessToken: "t"})
	if err != nil {
		t.Fatalf("upstream.New: %v", err)
	}

	reg := registry.New(zerolog.Nop(), db, nil, registry.Config{SendTextPerMin: 30, SendMediaPerMin: 5})
	p := New(zerolog.Nop(), db, nil, reg, up, Config{PublicBaseURL: "http://localhost:8080"})
	return p, db
}

func TestIsInternalChannel(t *testing.T) {
	cases := map[string]bool{
		"team:ops":    true,
		"agent:jane":  true,
		"dm:bob":      true,
		"212600001":   false,
		"":            false,
	}
	for userID, want := range cases {
		if got := isInternalChannel(userID); got != want {
			t.Errorf("isInternalChannel(%q) = %v, want %v", userID, got, want)
		}
	}
}

func TestProcessOutgoingMissingUserID(t *testing.T) {
	p, _ := newTestProcessor(t)
	_, err := p.ProcessOutgoing(context.Background(), OutgoingRequest{Kind: store.KindText, Body: "hi"})
	if err != store.ErrMissingUserID {
		t.Fatalf("expected ErrMissingUserID, got %v", err)
	}
}

func TestProcessOutgoingInternalChannelMarkedSentImmediately(t *testing.T) {
	p, db := newTestProcessor(t)
	msg, err := p.ProcessOutgoing(context.Background(), OutgoingRequest{
		UserID: "team:ops",
		Kind:   store.KindText,
		Body:   "broadcast",
	})
	if err != nil {
		t.Fatalf("ProcessOutgoing: %v", err)
	}
	if msg.Status != store.StatusSent {
		t.Fatalf("expected internal channel message marked sent immediately, got %s", msg.Status)
	}

	rows, err := db.GetMessages(context.Background(), "team:ops", 0, 10)
	if err != nil || len(rows) != 1 {
		t.Fatalf("expected persisted row, got %d rows err=%v", len(rows), err)
	}
}

func TestProcessOutgoingExternalStartsAsSending(t *testing.T) {
	p, _ := newTestProcessor(t)
	msg, err := p.ProcessOutgoing(context.Background(), OutgoingRequest{
		UserID: "212600000001",
		Kind:   store.KindText,
		Body:   "hello",
		TempID: "t_a",
	})
	if err != nil {
		t.Fatalf("ProcessOutgoing: %v", err)
	}
	if msg.Status != store.StatusSending {
		t.Fatalf("expected status=sending, got %s", msg.Status)
	}
	if msg.TempID != "t_a" {
		t.Fatalf("expected temp_id preserved, got %s", msg.TempID)
	}
	// The background dispatch goroutine is fire-and-forget (spec.md §5);
	// this test only asserts the synchronous optimistic-record contract.
}

func TestMergeStatusNeverDowngrades(t *testing.T) {
	db := newTestStore(t)
	ctx := context.Background()
	msg := &store.Message{UserID: "u1", UpstreamID: "wamid.1", Status: store.StatusDelivered, Kind: store.KindText}
	if _, err := db.UpsertMessage(ctx, msg); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	updated, err := db.UpdateStatus(ctx, "wamid.1", store.StatusSent)
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if updated.Status != store.StatusDelivered {
		t.Fatalf("expected status to remain delivered, got %s", updated.Status)
	}
}

func TestIsWorkflowReplyNamespaces(t *testing.T) {
	for _, id := range []string{"survey_start_ok", "order_status", "buy_item", "gender_girls"} {
		if !isWorkflowReply(id) {
			t.Errorf("expected %q to be a workflow reply", id)
		}
	}
	if isWorkflowReply("random_button") {
		t.Errorf("expected random_button to not be a workflow reply")
	}
}

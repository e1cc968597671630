package store

import (
	"context"
	"fmt"
	"testing"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	s, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertMessageStatusMonotonicity(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	m, err := s.UpsertMessage(ctx, &Message{UserID: "212600000001", TempID: "t_a", Status: StatusSending, Kind: KindText, ClientTS: "2026-01-01T00:00:00Z"})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	m2, err := s.UpsertMessage(ctx, &Message{UserID: "212600000001", TempID: "t_a", UpstreamID: "wamid.X", Status: StatusDelivered})
	if err != nil {
		t.Fatalf("upgrade: %v", err)
	}
	if m2.Status != StatusDelivered || m2.UpstreamID != "wamid.X" {
		t.Fatalf("expected delivered+upstream_id, got %+v", m2)
	}

	// S2: downgrade is ignored.
	m3, err := s.UpdateStatus(ctx, "wamid.X", StatusSent)
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if m3.Status != StatusDelivered {
		t.Fatalf("expected status to stay delivered, got %s", m3.Status)
	}
	_ = m
}

func TestGetMessagesPagination(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for i := 0; i < 120; i++ {
		ts := fmt.Sprintf("2026-01-01T%02d:%02d:%02dZ", i/3600, (i/60)%60, i%60)
		if _, err := s.UpsertMessage(ctx, &Message{
			UserID: "u1", TempID: fmt.Sprintf("t_%03d", i), Status: StatusSent, Kind: KindText, ClientTS: ts, ServerTS: ts,
		}); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	page, err := s.GetMessages(ctx, "u1", 50, 50)
	if err != nil {
		t.Fatalf("get messages: %v", err)
	}
	if len(page) != 50 {
		t.Fatalf("expected 50 rows, got %d", len(page))
	}
	if page[0].TempID != "t_020" || page[len(page)-1].TempID != "t_069" {
		t.Fatalf("expected window [20..69], got %s..%s", page[0].TempID, page[len(page)-1].TempID)
	}
	for i := 1; i < len(page); i++ {
		if page[i-1].ServerTS > page[i].ServerTS {
			t.Fatalf("page not ascending at index %d", i)
		}
	}
}

func TestReactionNeverMutatesAnotherRow(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if _, err := s.UpsertMessage(ctx, &Message{
		UserID: "u1", UpstreamID: "wamid.T", Kind: KindText, Body: "hello", Status: StatusDelivered,
		ClientTS: "2025-12-31T23:59:59Z",
	}); err != nil {
		t.Fatalf("insert target: %v", err)
	}

	if _, err := s.UpsertMessage(ctx, &Message{
		UserID: "u1", UpstreamID: "wamid.R", Kind: KindReaction, Status: StatusSent,
		ReactionTargetUpstreamID: "wamid.T", ReactionEmoji: "👍", ReactionAction: ReactionReact,
		ClientTS: "2026-01-01T00:00:00Z",
	}); err != nil {
		t.Fatalf("insert reaction: %v", err)
	}

	msgs, err := s.GetMessages(ctx, "u1", 0, 10)
	if err != nil {
		t.Fatalf("get messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected the target row and the reaction row, got %+v", msgs)
	}
	for _, m := range msgs {
		switch m.UpstreamID {
		case "wamid.T":
			if m.Kind != KindText || m.Body != "hello" || m.Status != StatusDelivered || m.ReactionEmoji != "" {
				t.Fatalf("reaction mutated the target row: %+v", m)
			}
		case "wamid.R":
			if m.Kind != KindReaction {
				t.Fatalf("expected the reaction row, got %+v", m)
			}
		default:
			t.Fatalf("unexpected row %+v", m)
		}
	}
}

func TestMissingUserIDRejected(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_, err := s.UpsertMessage(ctx, &Message{TempID: "t_a", Status: StatusSending})
	if err != ErrMissingUserID {
		t.Fatalf("expected ErrMissingUserID, got %v", err)
	}
}

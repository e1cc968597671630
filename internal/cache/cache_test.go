package cache

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
)

func newMockBus(t *testing.T) (*RedisBus, redismock.ClientMock) {
	t.Helper()
	client, mock := redismock.NewClientMock()
	return &RedisBus{rdb: client}, mock
}

func TestCooldownRoundTrip(t *testing.T) {
	b, mock := newMockBus(t)
	ctx := context.Background()

	mock.ExpectSet(cooldownKey(AutoReplyCooldownKey("u1")), "1", AutoReplyCooldownTTL).SetVal("OK")
	if err := b.CooldownSet(ctx, AutoReplyCooldownKey("u1"), AutoReplyCooldownTTL); err != nil {
		t.Fatalf("set: %v", err)
	}

	mock.ExpectExists(cooldownKey(AutoReplyCooldownKey("u1"))).SetVal(1)
	ok, err := b.CooldownExists(ctx, AutoReplyCooldownKey("u1"))
	if err != nil || !ok {
		t.Fatalf("expected cooldown present, got ok=%v err=%v", ok, err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSurveyStateTTLChoice(t *testing.T) {
	if SurveyStateDoneTTL <= SurveyStateTTL {
		t.Fatalf("done-stage TTL must extend the default TTL")
	}
	if SurveyInviteTTL != 30*24*time.Hour {
		t.Fatalf("survey invite cooldown must be 30 days, got %s", SurveyInviteTTL)
	}
}

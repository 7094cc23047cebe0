package ratelimit

import (
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/fediwatch/watcher-backend/internal/logger"
)

func testGovernor(t *testing.T) *Governor {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return NewGovernor(log)
}

func respWith(remaining, reset string) *http.Response {
	h := http.Header{}
	if remaining != "" {
		h.Set("X-RateLimit-Remaining", remaining)
	}
	if reset != "" {
		h.Set("X-RateLimit-Reset", reset)
	}
	return &http.Response{Header: h}
}

func TestObserveTracksBudget(t *testing.T) {
	g := testGovernor(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }

	g.Observe("admin", respWith("42", now.Add(2*time.Minute).Format(time.RFC3339)))

	budgets := g.Budgets()
	if len(budgets) != 1 {
		t.Fatalf("expected one bucket, got %d", len(budgets))
	}
	b := budgets[0]
	if b.Family != "admin" || b.Remaining != 42 || !b.Known {
		t.Fatalf("unexpected budget: %+v", b)
	}
}

func TestSuspensionWhenExhausted(t *testing.T) {
	g := testGovernor(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }

	reset := now.Add(90 * time.Second)
	g.Observe("reports", respWith("0", reset.Format(time.RFC3339)))

	if d := g.suspension("reports"); d != 90*time.Second {
		t.Fatalf("expected 90s suspension, got %s", d)
	}

	// Past the reset the bucket no longer blocks.
	g.now = func() time.Time { return reset.Add(time.Second) }
	if d := g.suspension("reports"); d != 0 {
		t.Fatalf("expected no suspension after reset, got %s", d)
	}
}

func TestSuspensionUnknownFamily(t *testing.T) {
	g := testGovernor(t)
	if d := g.suspension("never-seen"); d != 0 {
		t.Fatalf("unknown families must not block, got %s", d)
	}
}

func TestObserveIgnoresMissingHeaders(t *testing.T) {
	g := testGovernor(t)
	g.Observe("admin", &http.Response{Header: http.Header{}})
	if len(g.Budgets()) != 0 {
		t.Fatal("no headers should mean no bucket")
	}
}

func TestParseReset(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	if at, ok := parseReset("2025-06-01T12:05:00Z", now); !ok || !at.Equal(now.Add(5*time.Minute)) {
		t.Fatalf("rfc3339 parse failed: %v %v", at, ok)
	}
	if at, ok := parseReset("300", now); !ok || !at.Equal(now.Add(5*time.Minute)) {
		t.Fatalf("relative seconds parse failed: %v %v", at, ok)
	}
	epoch := now.Add(10 * time.Minute).Unix()
	if at, ok := parseReset(strconv.FormatInt(epoch, 10), now); !ok || at.Unix() != epoch {
		t.Fatalf("epoch parse failed: %v %v", at, ok)
	}
	if _, ok := parseReset("not-a-time", now); ok {
		t.Fatal("garbage should not parse")
	}
}

package mastodon

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/fediwatch/watcher-backend/internal/logger"
)

func TestParseLinkNextMaxID(t *testing.T) {
	cases := []struct {
		name   string
		header string
		want   string
	}{
		{
			"next and prev",
			`<https://host/api/v1/admin/accounts?max_id=123>; rel="next", <https://host/api/v1/admin/accounts?min_id=456>; rel="prev"`,
			"123",
		},
		{
			"unquoted rel",
			`<https://host/api/v1/admin/accounts?max_id=77>; rel=next`,
			"77",
		},
		{
			"prev only",
			`<https://host/api/v1/admin/accounts?min_id=456>; rel="prev"`,
			"",
		},
		{"empty", "", ""},
		{"garbage", "not a link header", ""},
	}
	for _, tc := range cases {
		if got := parseLinkNextMaxID(tc.header); got != tc.want {
			t.Errorf("%s: got %q, want %q", tc.name, got, tc.want)
		}
	}
}

func newTestClient(t *testing.T, srv *httptest.Server) Client {
	t.Helper()
	t.Setenv("MASTODON_BASE_URL", srv.URL)
	t.Setenv("MASTODON_ADMIN_TOKEN", "admin-token")
	t.Setenv("MASTODON_BOT_TOKEN", "bot-token")
	t.Setenv("MASTODON_MAX_RETRIES", "1")
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	c, err := NewClient(log, nil)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	return c
}

func TestAdminAccountsPagination(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer admin-token" {
			t.Errorf("admin reads must use the admin token, got %q", got)
		}
		if got := r.URL.Query().Get("origin"); got != "remote" {
			t.Errorf("origin = %q, want remote", got)
		}
		w.Header().Set("Link", `<http://`+r.Host+`/api/v1/admin/accounts?max_id=42>; rel="next"`)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"id":"1","username":"alice"},{"id":"2","username":"bob"}]`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	page, err := c.AdminAccounts(context.Background(), AdminAccountsParams{Origin: OriginRemote, Limit: 100})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page.Accounts) != 2 {
		t.Fatalf("got %d accounts, want 2", len(page.Accounts))
	}
	if page.NextMaxID != "42" {
		t.Fatalf("NextMaxID = %q, want 42", page.NextMaxID)
	}
}

func TestAccountStatusesGone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.AccountStatuses(context.Background(), "1", StatusesParams{Limit: 40})
	if !errors.Is(err, ErrGone) {
		t.Fatalf("expected ErrGone, got %v", err)
	}
}

func TestFileReportRejectionIsNotTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer bot-token" {
			t.Errorf("report writes must use the bot token, got %q", got)
		}
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"error":"Record invalid"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.FileReport(context.Background(), ReportRequest{AccountID: "1", Comment: "spam"})

	var ue *UpstreamError
	if !errors.As(err, &ue) || ue.StatusCode != 422 {
		t.Fatalf("expected 422 UpstreamError, got %v", err)
	}
	var te *TransportError
	if errors.As(err, &te) {
		t.Fatal("a rejection must not classify as transport trouble")
	}
}

func TestRateLimitedThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"9","username":"alice","acct":"alice"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	acct, err := c.GetAccount(context.Background(), "9")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if acct.ID != "9" {
		t.Fatalf("acct.ID = %q, want 9", acct.ID)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 calls, got %d", calls.Load())
	}
}

func TestRetriesExhaust(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.GetInstance(context.Background())

	var te *TransportError
	if !errors.As(err, &te) || te.Kind != "exhausted" {
		t.Fatalf("expected exhausted TransportError, got %v", err)
	}
}

func TestVerifyCredentialsUsesCallerToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer operator-oauth" {
			t.Errorf("verify must use the caller token, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"3","username":"mod","acct":"mod","role":{"name":"Admin"}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	cred, err := c.VerifyCredentials(context.Background(), "operator-oauth")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cred.Role == nil || cred.Role.Name != "Admin" {
		t.Fatalf("role not decoded: %+v", cred)
	}
}

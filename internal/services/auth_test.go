package services

import (
	"context"
	"errors"
	"testing"

	"github.com/fediwatch/watcher-backend/internal/clients/mastodon"
	"github.com/fediwatch/watcher-backend/internal/logger"
)

// credsClient satisfies mastodon.Client with canned verify_credentials
// responses; the other methods are never touched here.
type credsClient struct {
	mastodon.Client
	cred *mastodon.CredentialAccount
	err  error
}

func (c *credsClient) VerifyCredentials(ctx context.Context, token string) (*mastodon.CredentialAccount, error) {
	return c.cred, c.err
}

func newAuth(t *testing.T, client mastodon.Client) AuthService {
	t.Helper()
	t.Setenv("JWT_SECRET", "test-secret")
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	auth, err := NewAuthService(log, client)
	if err != nil {
		t.Fatalf("auth service: %v", err)
	}
	return auth
}

func TestSessionRoundTrip(t *testing.T) {
	auth := newAuth(t, &credsClient{cred: &mastodon.CredentialAccount{
		ID:   "1",
		Acct: "mod",
		Role: &mastodon.Role{Name: "Admin"},
	}})

	session, err := auth.CreateSession(context.Background(), "oauth-token")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if session.Acct != "mod" || session.Role != "Admin" {
		t.Fatalf("unexpected session: %+v", session)
	}

	claims, err := auth.ValidateSession(session.Token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.Acct != "mod" || claims.Role != "Admin" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestSessionRefusedForNonOperator(t *testing.T) {
	auth := newAuth(t, &credsClient{cred: &mastodon.CredentialAccount{
		ID:   "2",
		Acct: "user",
		Role: &mastodon.Role{Name: "Moderator"},
	}})

	if _, err := auth.CreateSession(context.Background(), "oauth-token"); !errors.Is(err, ErrNotOperator) {
		t.Fatalf("expected ErrNotOperator, got %v", err)
	}
}

func TestSessionRefusedWithoutRole(t *testing.T) {
	auth := newAuth(t, &credsClient{cred: &mastodon.CredentialAccount{ID: "3", Acct: "norole"}})
	if _, err := auth.CreateSession(context.Background(), "oauth-token"); !errors.Is(err, ErrNotOperator) {
		t.Fatalf("expected ErrNotOperator, got %v", err)
	}
}

func TestValidateRejectsGarbage(t *testing.T) {
	auth := newAuth(t, &credsClient{})
	if _, err := auth.ValidateSession("not.a.jwt"); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected ErrInvalidSession, got %v", err)
	}
}

func TestValidateRejectsForeignSignature(t *testing.T) {
	authA := newAuth(t, &credsClient{cred: &mastodon.CredentialAccount{
		ID:   "1",
		Acct: "mod",
		Role: &mastodon.Role{Name: "Owner"},
	}})
	session, err := authA.CreateSession(context.Background(), "oauth-token")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	t.Setenv("JWT_SECRET", "different-secret")
	log, _ := logger.New("development")
	authB, err := NewAuthService(log, &credsClient{})
	if err != nil {
		t.Fatalf("second auth service: %v", err)
	}
	if _, err := authB.ValidateSession(session.Token); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected ErrInvalidSession, got %v", err)
	}
}

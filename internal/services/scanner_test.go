package services

import (
	"testing"

	"github.com/fediwatch/watcher-backend/internal/clients/mastodon"
	"github.com/fediwatch/watcher-backend/internal/types"
)

func TestStatusIDOrdering(t *testing.T) {
	cases := []struct {
		a, b string
		less bool
	}{
		{"", "1", true},
		{"1", "", false},
		{"9", "10", true},
		{"10", "9", false},
		{"100", "101", true},
		{"101", "100", false},
		{"5", "5", false},
	}
	for _, tc := range cases {
		if got := statusIDLess(tc.a, tc.b); got != tc.less {
			t.Errorf("statusIDLess(%q, %q) = %v, want %v", tc.a, tc.b, got, tc.less)
		}
	}
}

func TestHighestStatusID(t *testing.T) {
	if got := highestStatusID("", []string{"9", "100", "42"}); got != "100" {
		t.Fatalf("got %q, want 100", got)
	}
	if got := highestStatusID("500", []string{"9", "100"}); got != "500" {
		t.Fatalf("existing high-water mark should hold, got %q", got)
	}
	if got := highestStatusID("", nil); got != "" {
		t.Fatalf("empty inputs should stay empty, got %q", got)
	}
}

func TestAcctAndDomain(t *testing.T) {
	local := mastodon.AdminAccount{Username: "alice", Account: &mastodon.Account{Acct: "alice"}}
	acct, domain := acctAndDomain(local)
	if acct != "alice" || domain != "" {
		t.Fatalf("local account: acct=%q domain=%q", acct, domain)
	}

	remote := mastodon.AdminAccount{Username: "bob", Domain: "Spam.Example"}
	acct, domain = acctAndDomain(remote)
	if acct != "bob@spam.example" || domain != "spam.example" {
		t.Fatalf("remote account: acct=%q domain=%q", acct, domain)
	}

	full := mastodon.AdminAccount{Username: "carol", Domain: "other.example", Account: &mastodon.Account{Acct: "carol@other.example"}}
	acct, domain = acctAndDomain(full)
	if acct != "carol@other.example" || domain != "other.example" {
		t.Fatalf("acct field wins: acct=%q domain=%q", acct, domain)
	}
}

func TestDomainOfAcct(t *testing.T) {
	if got := domainOfAcct("alice"); got != "" {
		t.Fatalf("local acct has no domain, got %q", got)
	}
	if got := domainOfAcct("bob@Spam.Example"); got != "spam.example" {
		t.Fatalf("got %q", got)
	}
}

func TestOriginAndCursor(t *testing.T) {
	origin, cursor, err := originAndCursor(types.ScanSessionTypeFederated)
	if err != nil || origin != mastodon.OriginRemote || cursor != types.CursorRemoteAccounts {
		t.Fatalf("federated: %q %q %v", origin, cursor, err)
	}
	origin, cursor, err = originAndCursor(types.ScanSessionTypeLocal)
	if err != nil || origin != mastodon.OriginLocal || cursor != types.CursorLocalAccounts {
		t.Fatalf("local: %q %q %v", origin, cursor, err)
	}
	if _, _, err := originAndCursor(types.ScanSessionTypeDomainCheck); err == nil {
		t.Fatal("domain checks do not page by origin")
	}
}

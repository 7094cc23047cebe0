package mastodon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fediwatch/watcher-backend/internal/logger"
	"github.com/fediwatch/watcher-backend/internal/pkg/httpx"
)

// Endpoint families for rate accounting. Budgets are tracked per family, not
// per endpoint.
const (
	FamilyAdminRead   = "admin-read"
	FamilyAccountRead = "account-read"
	FamilyReportWrite = "report-write"
)

// Governor is the rate-limit gate the client consults around every request.
// Wait suspends until the family has budget; Observe feeds response headers
// back into the bucket.
type Governor interface {
	Wait(ctx context.Context, family string) error
	Observe(family string, resp *http.Response)
}

// Client is the typed surface over the upstream instance API.
type Client interface {
	// Admin-scope reads.
	AdminAccounts(ctx context.Context, p AdminAccountsParams) (*AdminAccountsPage, error)
	GetAccount(ctx context.Context, id string) (*Account, error)
	AccountStatuses(ctx context.Context, id string, p StatusesParams) ([]Status, error)
	GetInstance(ctx context.Context) (*Instance, error)

	// Bot-scope write.
	FileReport(ctx context.Context, req ReportRequest) (*Report, error)

	// Caller-token read, used to verify operator OAuth tokens.
	VerifyCredentials(ctx context.Context, token string) (*CredentialAccount, error)
}

type client struct {
	log        *logger.Logger
	baseURL    string
	adminToken string
	botToken   string
	httpClient *http.Client
	governor   Governor
	maxRetries int
}

// NewClient reads MASTODON_BASE_URL, MASTODON_ADMIN_TOKEN and
// MASTODON_BOT_TOKEN. The two tokens are distinct by contract: admin for
// reads, bot for report writes. Missing config fails construction so the
// process refuses to start.
func NewClient(log *logger.Logger, governor Governor) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	baseURL := strings.TrimSpace(os.Getenv("MASTODON_BASE_URL"))
	if baseURL == "" {
		return nil, fmt.Errorf("missing MASTODON_BASE_URL")
	}
	baseURL = strings.TrimRight(baseURL, "/")

	adminToken := strings.TrimSpace(os.Getenv("MASTODON_ADMIN_TOKEN"))
	if adminToken == "" {
		return nil, fmt.Errorf("missing MASTODON_ADMIN_TOKEN")
	}
	botToken := strings.TrimSpace(os.Getenv("MASTODON_BOT_TOKEN"))
	if botToken == "" {
		return nil, fmt.Errorf("missing MASTODON_BOT_TOKEN")
	}

	connectTimeout := 15 * time.Second
	totalTimeout := 30 * time.Second
	if v := os.Getenv("MASTODON_TIMEOUT_SECONDS"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed > 0 {
			totalTimeout = time.Duration(parsed) * time.Second
		}
	}

	maxRetries := 5
	if v := os.Getenv("MASTODON_MAX_RETRIES"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed >= 0 {
			maxRetries = parsed
		}
	}

	transport := &http.Transport{
		DialContext:         (&net.Dialer{Timeout: connectTimeout}).DialContext,
		TLSHandshakeTimeout: connectTimeout,
	}

	return &client{
		log:        log.With("service", "MastodonClient"),
		baseURL:    baseURL,
		adminToken: adminToken,
		botToken:   botToken,
		httpClient: &http.Client{Timeout: totalTimeout, Transport: transport},
		governor:   governor,
		maxRetries: maxRetries,
	}, nil
}

func (c *client) AdminAccounts(ctx context.Context, p AdminAccountsParams) (*AdminAccountsPage, error) {
	switch p.Origin {
	case "", OriginLocal, OriginRemote:
	default:
		return nil, fmt.Errorf("invalid origin %q", p.Origin)
	}
	if p.Limit < 0 || p.Limit > 200 {
		return nil, fmt.Errorf("invalid limit %d (0..200)", p.Limit)
	}

	q := url.Values{}
	if p.Origin != "" {
		q.Set("origin", p.Origin)
	}
	if p.Status != "" {
		q.Set("status", p.Status)
	}
	if p.Limit > 0 {
		q.Set("limit", strconv.Itoa(p.Limit))
	}
	if p.MaxID != "" {
		q.Set("max_id", p.MaxID)
	}

	var accounts []AdminAccount
	resp, err := c.do(ctx, FamilyAdminRead, c.adminToken, http.MethodGet, "/api/v1/admin/accounts", q, nil, &accounts)
	if err != nil {
		return nil, err
	}
	return &AdminAccountsPage{
		Accounts:  accounts,
		NextMaxID: parseLinkNextMaxID(resp.Header.Get("Link")),
	}, nil
}

func (c *client) GetAccount(ctx context.Context, id string) (*Account, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("account id required")
	}
	var acct Account
	if _, err := c.do(ctx, FamilyAccountRead, c.adminToken, http.MethodGet, "/api/v1/accounts/"+url.PathEscape(id), nil, nil, &acct); err != nil {
		return nil, err
	}
	return &acct, nil
}

func (c *client) AccountStatuses(ctx context.Context, id string, p StatusesParams) ([]Status, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("account id required")
	}
	if p.Limit < 0 || p.Limit > 40 {
		return nil, fmt.Errorf("invalid limit %d (0..40)", p.Limit)
	}
	q := url.Values{}
	if p.Limit > 0 {
		q.Set("limit", strconv.Itoa(p.Limit))
	}
	if p.SinceID != "" {
		q.Set("since_id", p.SinceID)
	}
	var statuses []Status
	if _, err := c.do(ctx, FamilyAccountRead, c.adminToken, http.MethodGet, "/api/v1/accounts/"+url.PathEscape(id)+"/statuses", q, nil, &statuses); err != nil {
		return nil, err
	}
	return statuses, nil
}

func (c *client) GetInstance(ctx context.Context) (*Instance, error) {
	var inst Instance
	if _, err := c.do(ctx, FamilyAccountRead, c.adminToken, http.MethodGet, "/api/v1/instance", nil, nil, &inst); err != nil {
		return nil, err
	}
	return &inst, nil
}

func (c *client) FileReport(ctx context.Context, req ReportRequest) (*Report, error) {
	if strings.TrimSpace(req.AccountID) == "" {
		return nil, fmt.Errorf("report account_id required")
	}
	var rep Report
	if _, err := c.do(ctx, FamilyReportWrite, c.botToken, http.MethodPost, "/api/v1/reports", nil, req, &rep); err != nil {
		return nil, err
	}
	return &rep, nil
}

func (c *client) VerifyCredentials(ctx context.Context, token string) (*CredentialAccount, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("token required")
	}
	var cred CredentialAccount
	if _, err := c.do(ctx, FamilyAccountRead, token, http.MethodGet, "/api/v1/accounts/verify_credentials", nil, nil, &cred); err != nil {
		return nil, err
	}
	return &cred, nil
}

func (c *client) doOnce(ctx context.Context, token, method, path string, query url.Values, body any) (*http.Response, []byte, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, nil, err
		}
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, &buf)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, classifyTransport(err)
	}

	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, &TransportError{Kind: "io", Err: readErr}
	}

	if resp.StatusCode == http.StatusGone {
		return resp, raw, fmt.Errorf("%s %s: %w", method, path, ErrGone)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, &UpstreamError{StatusCode: resp.StatusCode, Body: truncateBody(raw)}
	}
	return resp, raw, nil
}

// do runs a request under the rate contract: governor wait before each
// attempt, headers observed on every response, 429 suspended per Retry-After
// without consuming a retry, 5xx/transport retried with full-jitter backoff
// (0.5s doubling, 30s cap), and exhaustion surfaced as a transport error.
func (c *client) do(ctx context.Context, family, token, method, path string, query url.Values, body any, out any) (*http.Response, error) {
	backoff := 500 * time.Millisecond
	const backoffCap = 30 * time.Second

	attempt := 0
	for {
		if ctx.Err() != nil {
			return nil, &TransportError{Kind: "timeout", Err: ctx.Err()}
		}
		if c.governor != nil {
			if err := c.governor.Wait(ctx, family); err != nil {
				return nil, &TransportError{Kind: "timeout", Err: err}
			}
		}

		resp, raw, err := c.doOnce(ctx, token, method, path, query, body)
		if resp != nil && c.governor != nil {
			c.governor.Observe(family, resp)
		}
		if err == nil {
			if out == nil {
				return resp, nil
			}
			if uErr := json.Unmarshal(raw, out); uErr != nil {
				return resp, fmt.Errorf("mastodon decode %s %s: %w", method, path, uErr)
			}
			return resp, nil
		}

		if errors.Is(err, ErrGone) {
			return resp, err
		}

		// 429: suspend for Retry-After (or the reset observed above) and go
		// again; the attempt is not consumed.
		if IsRateLimited(err) {
			sleepFor := httpx.RetryAfterDuration(resp, backoff, backoffCap)
			c.log.Warn("Upstream rate limited, suspending",
				"family", family,
				"path", path,
				"sleep", sleepFor.String(),
			)
			if sleepErr := sleepCtx(ctx, sleepFor); sleepErr != nil {
				return resp, &TransportError{Kind: "timeout", Err: sleepErr}
			}
			continue
		}

		if !httpx.IsRetryableError(err) {
			return resp, err
		}
		attempt++
		if attempt >= c.maxRetries {
			return resp, &TransportError{Kind: "exhausted", Err: err}
		}

		sleepFor := httpx.FullJitter(backoff)
		c.log.Warn("Upstream request retrying",
			"family", family,
			"path", path,
			"attempt", attempt,
			"max_retries", c.maxRetries,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)
		if sleepErr := sleepCtx(ctx, sleepFor); sleepErr != nil {
			return resp, &TransportError{Kind: "timeout", Err: sleepErr}
		}
		backoff *= 2
		if backoff > backoffCap {
			backoff = backoffCap
		}
	}
}

func classifyTransport(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TransportError{Kind: "timeout", Err: err}
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return &TransportError{Kind: "dns", Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return &TransportError{Kind: "refused", Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &TransportError{Kind: "timeout", Err: err}
	}
	return &TransportError{Kind: "io", Err: err}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func truncateBody(raw []byte) string {
	const max = 512
	if len(raw) > max {
		return string(raw[:max]) + "..."
	}
	return string(raw)
}

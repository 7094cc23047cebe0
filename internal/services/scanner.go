package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/fediwatch/watcher-backend/internal/clients/mastodon"
	redisclient "github.com/fediwatch/watcher-backend/internal/clients/redis"
	"github.com/fediwatch/watcher-backend/internal/evaluator"
	"github.com/fediwatch/watcher-backend/internal/logger"
	"github.com/fediwatch/watcher-backend/internal/observability"
	"github.com/fediwatch/watcher-backend/internal/repos"
	"github.com/fediwatch/watcher-backend/internal/types"
	"github.com/fediwatch/watcher-backend/internal/utils"
)

var (
	ErrScanAlreadyRunning = errors.New("a scan of this kind is already running")
	ErrSessionNotFound    = errors.New("scan session not found")
	ErrSessionTerminal    = errors.New("scan session already finished")
)

// maxConsecutivePageFailures ends a session; a single bad page only skips
// the cursor advance.
const maxConsecutivePageFailures = 3

// CacheStatus summarizes the content-scan memo table for the console.
type CacheStatus struct {
	TotalEntries       int64  `json:"total_entries"`
	StaleEntries       int64  `json:"stale_entries"`
	RulesetVersion     string `json:"ruleset_version"`
	RuleCount          int    `json:"rule_count"`
	LastInvalidatedAt  string `json:"last_invalidated_at,omitempty"`
	RefreshRecommended bool   `json:"refresh_recommended"`
}

// AccountScanResult is the on-demand scan response.
type AccountScanResult struct {
	SessionID  uuid.UUID          `json:"session_id"`
	AccountID  string             `json:"account_id"`
	Acct       string             `json:"acct"`
	Cached     bool               `json:"cached"`
	TotalScore float64            `json:"total_score"`
	Findings   int                `json:"findings"`
	Reportable bool               `json:"reportable"`
	Outcome    string             `json:"report_outcome,omitempty"`
	Evidence   evaluator.Evidence `json:"evidence"`
}

type ScannerService interface {
	// StartSession opens a session of the given kind unless one is already
	// active. It does not run the walk; a job picks the session up.
	StartSession(ctx context.Context, sessionType string, metadata map[string]any) (*types.ScanSession, error)
	// RunSession drives the page walk. maxPages 0 means walk until the
	// listing wraps; a positive budget completes the session early so the
	// periodic polls stay short. The cursor survives across sessions.
	RunSession(ctx context.Context, sessionID uuid.UUID, maxPages int) error
	// RunDomainCheck re-evaluates the known accounts of one domain.
	RunDomainCheck(ctx context.Context, sessionID uuid.UUID, domain string) error
	ScanAccount(ctx context.Context, mastodonID string) (*AccountScanResult, error)

	CancelSession(ctx context.Context, id uuid.UUID) error
	GetSession(ctx context.Context, id uuid.UUID) (*types.ScanSession, error)
	ListSessions(ctx context.Context, limit int) ([]*types.ScanSession, error)

	CacheStatus(ctx context.Context) (*CacheStatus, error)
	// InvalidateCache marks memo rows for rescan: one account, or all when
	// accountID is empty. Returns affected rows.
	InvalidateCache(ctx context.Context, accountID string) (int64, error)
}

type scannerService struct {
	db       *gorm.DB
	log      *logger.Logger
	client   mastodon.Client
	rules    RuleService
	config   ConfigService
	reporter ReporterService
	domains  DomainService
	bus      redisclient.EventBus
	metrics  *observability.Metrics

	accounts     repos.AccountRepo
	analyses     repos.AnalysisRepo
	cursors      repos.CursorRepo
	contentScans repos.ContentScanRepo
	sessions     repos.ScanSessionRepo

	pageSize      int
	concurrency   int
	goneThreshold int

	now func() time.Time
}

func NewScannerService(
	db *gorm.DB,
	log *logger.Logger,
	client mastodon.Client,
	rules RuleService,
	config ConfigService,
	reporter ReporterService,
	domains DomainService,
	bus redisclient.EventBus,
	metrics *observability.Metrics,
	accounts repos.AccountRepo,
	analyses repos.AnalysisRepo,
	cursors repos.CursorRepo,
	contentScans repos.ContentScanRepo,
	sessions repos.ScanSessionRepo,
) ScannerService {
	return &scannerService{
		db:            db,
		log:           log.With("service", "Scanner"),
		client:        client,
		rules:         rules,
		config:        config,
		reporter:      reporter,
		domains:       domains,
		bus:           bus,
		metrics:       metrics,
		accounts:      accounts,
		analyses:      analyses,
		cursors:       cursors,
		contentScans:  contentScans,
		sessions:      sessions,
		pageSize:      utils.GetEnvAsInt("SCAN_PAGE_SIZE", 100, log),
		concurrency:   utils.GetEnvAsInt("SCAN_ACCOUNT_CONCURRENCY", 4, log),
		goneThreshold: utils.GetEnvAsInt("ACCOUNT_GONE_THRESHOLD", 3, log),
		now:           time.Now,
	}
}

func (s *scannerService) StartSession(ctx context.Context, sessionType string, metadata map[string]any) (*types.ScanSession, error) {
	switch sessionType {
	case types.ScanSessionTypeFederated, types.ScanSessionTypeLocal, types.ScanSessionTypeDomainCheck, types.ScanSessionTypeOnDemand:
	default:
		return nil, fmt.Errorf("unknown session type %q", sessionType)
	}
	active, err := s.sessions.ActiveByType(ctx, nil, sessionType)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, fmt.Errorf("%w: session %s", ErrScanAlreadyRunning, active.ID)
	}

	ruleset, err := s.rules.ActiveRuleset(ctx)
	if err != nil {
		return nil, err
	}
	applied, _ := json.Marshal(map[string]any{
		"version":    ruleset.Version,
		"rule_count": len(ruleset.Rules),
	})
	session := &types.ScanSession{
		SessionType:  sessionType,
		Status:       types.ScanSessionActive,
		RulesApplied: datatypes.JSON(applied),
	}
	if metadata != nil {
		meta, err := json.Marshal(metadata)
		if err != nil {
			return nil, fmt.Errorf("encoding session metadata: %w", err)
		}
		session.SessionMetadata = datatypes.JSON(meta)
	}
	created, err := s.sessions.Create(ctx, nil, session)
	if err != nil {
		return nil, err
	}
	s.metrics.ActiveScans.Inc()
	s.log.Info("scan session started", "session_id", created.ID, "type", sessionType)
	return created, nil
}

func originAndCursor(sessionType string) (origin, cursorName string, err error) {
	switch sessionType {
	case types.ScanSessionTypeFederated:
		return mastodon.OriginRemote, types.CursorRemoteAccounts, nil
	case types.ScanSessionTypeLocal:
		return mastodon.OriginLocal, types.CursorLocalAccounts, nil
	default:
		return "", "", fmt.Errorf("session type %q has no page walk", sessionType)
	}
}

func (s *scannerService) RunSession(ctx context.Context, sessionID uuid.UUID, maxPages int) error {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.Terminal() {
		return ErrSessionTerminal
	}
	origin, cursorName, err := originAndCursor(session.SessionType)
	if err != nil {
		return err
	}
	ruleset, err := s.rules.ActiveRuleset(ctx)
	if err != nil {
		return err
	}

	position := ""
	if cur, err := s.cursors.Get(ctx, nil, cursorName); err != nil {
		return err
	} else if cur != nil {
		position = cur.Position
	}

	processedTotal := session.AccountsProcessed
	failures := 0
	pages := 0
	for {
		if err := ctx.Err(); err != nil {
			s.failSession(session.ID, fmt.Sprintf("context: %v", err))
			return err
		}
		fresh, err := s.GetSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if fresh.Status == types.ScanSessionCancelled {
			s.finishSession(session.ID, types.ScanSessionCancelled, position)
			s.log.Info("scan session cancelled, cursor kept", "session_id", sessionID, "cursor", position)
			return nil
		}
		if maxPages > 0 && pages >= maxPages {
			s.finishSession(session.ID, types.ScanSessionCompleted, position)
			s.log.Info("scan session page budget spent", "session_id", sessionID, "pages", pages)
			return nil
		}

		pageStart := s.now()
		page, err := s.client.AdminAccounts(ctx, mastodon.AdminAccountsParams{
			Origin: origin,
			Status: "active",
			Limit:  s.pageSize,
			MaxID:  position,
		})
		if err != nil {
			failures++
			s.metrics.UpstreamErrors.WithLabelValues(mastodon.FamilyAdminRead, "page_fetch").Inc()
			s.log.Warn("page fetch failed", "session_id", sessionID, "cursor", position, "failures", failures, "error", err)
			if failures >= maxConsecutivePageFailures {
				s.failSession(session.ID, fmt.Sprintf("%d consecutive page failures: %v", failures, err))
				return fmt.Errorf("aborting session after %d consecutive page failures: %w", failures, err)
			}
			continue
		}

		if len(page.Accounts) == 0 {
			// Listing exhausted: drop the cursor so the next session starts
			// from the top of the account space.
			if err := s.cursors.Clear(ctx, nil, cursorName); err != nil {
				s.log.Warn("cursor clear failed", "cursor", cursorName, "error", err)
			}
			s.finishSession(session.ID, types.ScanSessionCompleted, "")
			s.publishScanCompleted(ctx, session.ID, processedTotal)
			s.log.Info("scan session wrapped listing", "session_id", sessionID, "accounts", processedTotal)
			return nil
		}

		processed, lastAccountID, err := s.processPage(ctx, session.SessionType, ruleset, page.Accounts, cursorName, page.NextMaxID)
		s.metrics.PageDuration.Observe(time.Since(pageStart).Seconds())
		if err != nil {
			failures++
			s.log.Warn("page processing failed, cursor not advanced", "session_id", sessionID, "failures", failures, "error", err)
			if failures >= maxConsecutivePageFailures {
				s.failSession(session.ID, fmt.Sprintf("%d consecutive page failures: %v", failures, err))
				return fmt.Errorf("aborting session after %d consecutive page failures: %w", failures, err)
			}
			continue
		}
		failures = 0
		pages++
		processedTotal += int64(processed)
		position = page.NextMaxID

		if err := s.sessions.UpdateFields(ctx, nil, session.ID, map[string]interface{}{
			"accounts_processed": processedTotal,
			"current_cursor":     position,
			"last_account_id":    lastAccountID,
		}); err != nil {
			s.log.Warn("session progress update failed", "session_id", sessionID, "error", err)
		}

		if position == "" {
			if err := s.cursors.Clear(ctx, nil, cursorName); err != nil {
				s.log.Warn("cursor clear failed", "cursor", cursorName, "error", err)
			}
			s.finishSession(session.ID, types.ScanSessionCompleted, "")
			s.publishScanCompleted(ctx, session.ID, processedTotal)
			s.log.Info("scan session completed", "session_id", sessionID, "accounts", processedTotal, "pages", pages)
			return nil
		}
	}
}

// accountEval carries one account's result from the concurrent fetch and
// evaluate stage into the serial commit stage.
type accountEval struct {
	admin     mastodon.AdminAccount
	acct      string
	domain    string
	gone      bool
	skipped   bool
	cached    bool
	err       error
	hash      string
	evidence  evaluator.Evidence
	seenID    string
	bundle    *ReportBundle
	scanType  string
	statusIDs []string
}

// processPage fetches and evaluates the page's accounts concurrently, then
// commits every row change plus the cursor advance in one transaction.
// Reports and domain bumps dispatch after commit. A single account's error
// is logged and skipped; the page fails only on infrastructure errors.
func (s *scannerService) processPage(
	ctx context.Context,
	sessionType string,
	ruleset *Ruleset,
	adminAccounts []mastodon.AdminAccount,
	cursorName, nextCursor string,
) (processed int, lastAccountID string, err error) {
	ids := make([]string, 0, len(adminAccounts))
	for _, a := range adminAccounts {
		ids = append(ids, a.ID)
	}
	known, err := s.accounts.GetByMastodonIDs(ctx, nil, ids)
	if err != nil {
		return 0, "", fmt.Errorf("loading page accounts: %w", err)
	}
	knownByID := make(map[string]*types.Account, len(known))
	for _, a := range known {
		knownByID[a.MastodonAccountID] = a
	}

	evals := make([]*accountEval, len(adminAccounts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, admin := range adminAccounts {
		i, admin := i, admin
		g.Go(func() error {
			evals[i] = s.evalOne(gctx, sessionType, ruleset, admin, knownByID[admin.ID])
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return 0, "", err
	}

	sightings := make([]*types.Account, 0, len(adminAccounts))
	for _, ev := range evals {
		sightings = append(sightings, &types.Account{
			MastodonAccountID: ev.admin.ID,
			Acct:              ev.acct,
			Domain:            ev.domain,
		})
	}

	now := s.now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.accounts.UpsertSightings(ctx, tx, sightings); err != nil {
			return err
		}
		for _, ev := range evals {
			if err := s.commitEval(ctx, tx, ev, ruleset, now); err != nil {
				return err
			}
		}
		return s.cursors.Set(ctx, tx, cursorName, nextCursor)
	})
	if err != nil {
		return 0, "", err
	}

	for _, ev := range evals {
		if ev.err != nil {
			s.log.Warn("account evaluation failed", "acct", ev.acct, "error", ev.err)
			continue
		}
		if ev.skipped {
			continue
		}
		processed++
		lastAccountID = ev.admin.ID
		s.metrics.AccountsProcessed.WithLabelValues(sessionType).Inc()
		s.dispatch(ctx, ev)
	}
	return processed, lastAccountID, nil
}

// commitEval applies one account's row changes inside the page transaction.
func (s *scannerService) commitEval(ctx context.Context, tx *gorm.DB, ev *accountEval, ruleset *Ruleset, now time.Time) error {
	if ev.err != nil || ev.skipped {
		return nil
	}
	if ev.gone {
		if _, err := s.accounts.RecordGone(ctx, tx, ev.admin.ID, s.goneThreshold); err != nil {
			return err
		}
		return nil
	}

	// Lock the row so concurrent sessions touching the same account
	// serialize their bookkeeping writes.
	if _, err := s.accounts.LockByMastodonID(ctx, tx, ev.admin.ID); err != nil {
		return err
	}

	updates := map[string]interface{}{
		"last_checked_at": now,
		"content_hash":    ev.hash,
		"gone_count":      0,
	}
	if ev.seenID != "" {
		updates["last_status_seen_id"] = ev.seenID
	}

	if ev.cached {
		return s.accounts.UpdateScanState(ctx, tx, ev.admin.ID, updates)
	}

	resultJSON, merr := evaluator.MarshalEvidence(ev.evidence)
	if merr != nil {
		return merr
	}
	if len(ev.evidence.Findings) > 0 {
		rows := make([]*types.Analysis, 0, len(ev.evidence.Findings))
		for _, f := range ev.evidence.Findings {
			fJSON, err := json.Marshal(f)
			if err != nil {
				return err
			}
			var statusID *string
			if len(f.MatchedStatusIDs) > 0 {
				statusID = &f.MatchedStatusIDs[0]
			}
			rows = append(rows, &types.Analysis{
				MastodonAccountID: ev.admin.ID,
				StatusID:          statusID,
				RuleKey:           f.RuleName,
				Score:             f.Score,
				Evidence:          datatypes.JSON(fJSON),
			})
		}
		if err := s.analyses.Create(ctx, tx, rows); err != nil {
			return err
		}
		if err := s.rules.RecordTriggers(ctx, tx, ev.evidence.Findings); err != nil {
			return err
		}
		s.metrics.FindingsTotal.Add(float64(len(ev.evidence.Findings)))
	}

	if err := s.contentScans.Upsert(ctx, tx, &types.ContentScan{
		ContentHash:       ev.hash,
		MastodonAccountID: ev.admin.ID,
		ScanType:          ev.scanType,
		LastScannedAt:     now,
		ScanResult:        datatypes.JSON(resultJSON),
		RulesVersion:      ruleset.Version,
	}); err != nil {
		return err
	}
	return s.accounts.UpdateScanState(ctx, tx, ev.admin.ID, updates)
}

// countsForDomain says whether a File outcome represents a reportable
// violation for the domain tally. Dry-run suppresses the upstream report
// but still counts the violation; a dedupe hit already counted.
func countsForDomain(outcome ReportOutcome) bool {
	switch outcome {
	case OutcomeFiled, OutcomePendingRetry, OutcomeDryRun:
		return true
	default:
		return false
	}
}

// dispatch files the report and bumps the domain tally for one reportable
// account. Both run outside the page transaction: the report insert has its
// own unique-key dedupe and the domain bump is an atomic upsert.
func (s *scannerService) dispatch(ctx context.Context, ev *accountEval) {
	if ev.bundle == nil {
		return
	}
	outcome, err := s.reporter.File(ctx, *ev.bundle)
	if err != nil {
		s.log.Error("report dispatch failed", "acct", ev.acct, "error", err)
		return
	}
	if ev.domain != "" && countsForDomain(outcome) {
		if _, err := s.domains.RecordViolation(ctx, nil, ev.domain); err != nil {
			s.log.Error("domain violation record failed", "domain", ev.domain, "error", err)
		}
	}
}

// evalOne runs the network fetch and the pure evaluation for one account.
// No database writes happen here.
func (s *scannerService) evalOne(ctx context.Context, sessionType string, ruleset *Ruleset, admin mastodon.AdminAccount, known *types.Account) *accountEval {
	ev := &accountEval{admin: admin, scanType: sessionType}
	ev.acct, ev.domain = acctAndDomain(admin)

	if known != nil && known.IsGone {
		ev.skipped = true
		return ev
	}

	sinceID := ""
	if known != nil {
		sinceID = known.LastStatusSeenID
	}
	statuses, err := s.client.AccountStatuses(ctx, admin.ID, mastodon.StatusesParams{
		Limit:   s.config.MaxStatusesPerAccount(ctx),
		SinceID: sinceID,
	})
	if err != nil {
		if errors.Is(err, mastodon.ErrGone) {
			ev.gone = true
			return ev
		}
		s.metrics.UpstreamErrors.WithLabelValues(mastodon.FamilyAccountRead, "statuses").Inc()
		ev.err = fmt.Errorf("fetching statuses: %w", err)
		return ev
	}

	profile := profileFromAdmin(admin)
	inputs := make([]evaluator.StatusInput, 0, len(statuses))
	for _, st := range statuses {
		inputs = append(inputs, evaluator.StatusInput{
			ID:         st.ID,
			Content:    st.Content,
			MediaCount: len(st.MediaAttachments),
		})
		ev.statusIDs = append(ev.statusIDs, st.ID)
	}
	ev.seenID = highestStatusID(sinceID, ev.statusIDs)
	ev.hash = evaluator.ContentHash(ruleset.Version, admin.ID, profile, inputs)

	memo, err := s.contentScans.GetByHash(ctx, nil, ev.hash)
	if err != nil {
		ev.err = err
		return ev
	}
	if memo != nil && !memo.NeedsRescan && memo.RulesVersion == ruleset.Version {
		s.metrics.CacheHits.Inc()
		ev.cached = true
		return ev
	}
	s.metrics.CacheMisses.Inc()

	evalStart := s.now()
	ev.evidence = evaluator.Evaluate(profile, inputs, ruleset.Rules, evaluator.DefaultMaxMatchesPerRule)
	s.metrics.EvaluateDuration.Observe(time.Since(evalStart).Seconds())

	if s.reportable(ctx, ev) {
		ev.bundle = s.buildBundle(ctx, ev, ruleset)
	}
	return ev
}

func (s *scannerService) reportable(ctx context.Context, ev *accountEval) bool {
	if len(ev.evidence.Findings) == 0 {
		return false
	}
	if ev.evidence.TotalScore < s.config.ReportThreshold(ctx) {
		return false
	}
	if len(ev.evidence.Findings) < s.config.MinFindingsToReport(ctx) {
		return false
	}
	if s.config.IsAllowListed(ctx, ev.acct) {
		s.log.Info("reportable account is allow-listed, skipping report", "acct", ev.acct)
		return false
	}
	return true
}

func (s *scannerService) buildBundle(ctx context.Context, ev *accountEval, ruleset *Ruleset) *ReportBundle {
	statusSet := map[string]struct{}{}
	ruleIDs := make([]string, 0, len(ev.evidence.Findings))
	ruleNames := make([]string, 0, len(ev.evidence.Findings))
	for _, f := range ev.evidence.Findings {
		ruleIDs = append(ruleIDs, f.RuleID)
		ruleNames = append(ruleNames, f.RuleName)
		for _, id := range f.MatchedStatusIDs {
			statusSet[id] = struct{}{}
		}
	}
	statusIDs := make([]string, 0, len(statusSet))
	for id := range statusSet {
		statusIDs = append(statusIDs, id)
	}
	sort.Strings(statusIDs)

	return &ReportBundle{
		AccountID:  ev.admin.ID,
		Acct:       ev.acct,
		Domain:     ev.domain,
		StatusIDs:  statusIDs,
		RuleIDs:    ruleIDs,
		TotalScore: ev.evidence.TotalScore,
		Comment: fmt.Sprintf("Automated moderation finding: rules [%s], score %.2f",
			strings.Join(ruleNames, ", "), ev.evidence.TotalScore),
	}
}

func (s *scannerService) RunDomainCheck(ctx context.Context, sessionID uuid.UUID, domain string) error {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.Terminal() {
		return ErrSessionTerminal
	}
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		s.failSession(sessionID, "domain check without domain")
		return fmt.Errorf("domain required")
	}
	ruleset, err := s.rules.ActiveRuleset(ctx)
	if err != nil {
		return err
	}

	known, err := s.accounts.ListByDomain(ctx, nil, domain, 0)
	if err != nil {
		s.failSession(sessionID, err.Error())
		return err
	}
	processed := int64(0)
	for _, acct := range known {
		fresh, err := s.GetSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if fresh.Status == types.ScanSessionCancelled {
			s.finishSession(sessionID, types.ScanSessionCancelled, "")
			return nil
		}
		admin := mastodon.AdminAccount{ID: acct.MastodonAccountID, Username: acct.Acct, Domain: domain}
		if upstream, err := s.client.GetAccount(ctx, acct.MastodonAccountID); err == nil {
			admin.Account = upstream
		}
		ev := s.evalOne(ctx, types.ScanSessionTypeDomainCheck, ruleset, admin, acct)
		now := s.now()
		if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return s.commitEval(ctx, tx, ev, ruleset, now)
		}); err != nil {
			s.log.Warn("domain check account commit failed", "acct", ev.acct, "error", err)
			continue
		}
		if ev.err != nil || ev.skipped || ev.gone {
			continue
		}
		processed++
		s.metrics.AccountsProcessed.WithLabelValues(types.ScanSessionTypeDomainCheck).Inc()
		s.dispatch(ctx, ev)
		if err := s.sessions.UpdateFields(ctx, nil, sessionID, map[string]interface{}{
			"accounts_processed": processed,
			"last_account_id":    ev.admin.ID,
		}); err != nil {
			s.log.Warn("session progress update failed", "session_id", sessionID, "error", err)
		}
	}
	s.finishSession(sessionID, types.ScanSessionCompleted, "")
	s.publishScanCompleted(ctx, sessionID, processed)
	s.log.Info("domain check completed", "domain", domain, "accounts", processed)
	return nil
}

func (s *scannerService) ScanAccount(ctx context.Context, mastodonID string) (*AccountScanResult, error) {
	mastodonID = strings.TrimSpace(mastodonID)
	if mastodonID == "" {
		return nil, fmt.Errorf("account id required")
	}
	upstream, err := s.client.GetAccount(ctx, mastodonID)
	if err != nil {
		return nil, fmt.Errorf("fetching account: %w", err)
	}
	session, err := s.StartSession(ctx, types.ScanSessionTypeOnDemand, map[string]any{"account_id": mastodonID})
	if err != nil {
		return nil, err
	}
	ruleset, err := s.rules.ActiveRuleset(ctx)
	if err != nil {
		s.failSession(session.ID, err.Error())
		return nil, err
	}

	admin := mastodon.AdminAccount{
		ID:       mastodonID,
		Username: upstream.Username,
		Domain:   domainOfAcct(upstream.Acct),
		Account:  upstream,
	}
	known, err := s.accounts.GetByMastodonID(ctx, nil, mastodonID)
	if err != nil {
		s.failSession(session.ID, err.Error())
		return nil, err
	}
	ev := s.evalOne(ctx, types.ScanSessionTypeOnDemand, ruleset, admin, known)
	if ev.err != nil {
		s.failSession(session.ID, ev.err.Error())
		return nil, ev.err
	}

	now := s.now()
	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.accounts.UpsertSightings(ctx, tx, []*types.Account{{
			MastodonAccountID: admin.ID,
			Acct:              ev.acct,
			Domain:            ev.domain,
		}}); err != nil {
			return err
		}
		return s.commitEval(ctx, tx, ev, ruleset, now)
	}); err != nil {
		s.failSession(session.ID, err.Error())
		return nil, err
	}

	result := &AccountScanResult{
		SessionID:  session.ID,
		AccountID:  admin.ID,
		Acct:       ev.acct,
		Cached:     ev.cached,
		TotalScore: ev.evidence.TotalScore,
		Findings:   len(ev.evidence.Findings),
		Reportable: ev.bundle != nil,
		Evidence:   ev.evidence,
	}
	if ev.bundle != nil {
		outcome, err := s.reporter.File(ctx, *ev.bundle)
		if err != nil {
			s.log.Error("on-demand report failed", "acct", ev.acct, "error", err)
		} else {
			result.Outcome = string(outcome)
			if ev.domain != "" && countsForDomain(outcome) {
				if _, err := s.domains.RecordViolation(ctx, nil, ev.domain); err != nil {
					s.log.Error("domain violation record failed", "domain", ev.domain, "error", err)
				}
			}
		}
	}
	if err := s.sessions.UpdateFields(ctx, nil, session.ID, map[string]interface{}{
		"accounts_processed": 1,
		"last_account_id":    admin.ID,
	}); err != nil {
		s.log.Warn("session progress update failed", "session_id", session.ID, "error", err)
	}
	s.finishSession(session.ID, types.ScanSessionCompleted, "")
	s.metrics.AccountsProcessed.WithLabelValues(types.ScanSessionTypeOnDemand).Inc()
	return result, nil
}

func (s *scannerService) CancelSession(ctx context.Context, id uuid.UUID) error {
	session, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if session.Terminal() {
		return ErrSessionTerminal
	}
	if err := s.sessions.UpdateFields(ctx, nil, id, map[string]interface{}{
		"status": types.ScanSessionCancelled,
	}); err != nil {
		return err
	}
	s.log.Info("scan session cancel requested", "session_id", id)
	return nil
}

func (s *scannerService) GetSession(ctx context.Context, id uuid.UUID) (*types.ScanSession, error) {
	session, err := s.sessions.GetByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

func (s *scannerService) ListSessions(ctx context.Context, limit int) ([]*types.ScanSession, error) {
	return s.sessions.ListRecent(ctx, nil, limit)
}

func (s *scannerService) CacheStatus(ctx context.Context) (*CacheStatus, error) {
	ruleset, err := s.rules.ActiveRuleset(ctx)
	if err != nil {
		return nil, err
	}
	total, err := s.contentScans.Count(ctx, nil)
	if err != nil {
		return nil, err
	}
	stale, err := s.contentScans.CountStale(ctx, nil, ruleset.Version)
	if err != nil {
		return nil, err
	}
	var lastInvalidated string
	if all, err := s.config.All(ctx); err == nil {
		if raw, ok := all[types.ConfigKeyLastCacheInvalidation]; ok {
			_ = json.Unmarshal(raw, &lastInvalidated)
		}
	}
	return &CacheStatus{
		TotalEntries:       total,
		StaleEntries:       stale,
		RulesetVersion:     ruleset.Version,
		RuleCount:          len(ruleset.Rules),
		LastInvalidatedAt:  lastInvalidated,
		RefreshRecommended: stale > 0,
	}, nil
}

func (s *scannerService) InvalidateCache(ctx context.Context, accountID string) (int64, error) {
	affected, err := s.contentScans.MarkNeedsRescan(ctx, nil, accountID)
	if err != nil {
		return 0, err
	}
	scope := "all"
	if accountID != "" {
		scope = "account"
	}
	if s.bus != nil {
		_ = s.bus.Publish(ctx, redisclient.Event{
			Name: redisclient.EventCacheInvalidated,
			At:   s.now().UTC(),
			Data: map[string]any{"scope": scope, "account_id": accountID, "rows": affected},
		})
	}
	stamp, _ := json.Marshal(s.now().UTC().Format(time.RFC3339))
	if err := s.config.Set(ctx, types.ConfigKeyLastCacheInvalidation, stamp, "system"); err != nil {
		s.log.Warn("recording cache invalidation time failed", "error", err)
	}
	s.log.Info("content cache invalidated", "scope", scope, "rows", affected)
	return affected, nil
}

func (s *scannerService) finishSession(id uuid.UUID, status, cursor string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	updates := map[string]interface{}{
		"status":       status,
		"completed_at": s.now(),
	}
	if cursor != "" {
		updates["current_cursor"] = cursor
	}
	if err := s.sessions.UpdateFields(ctx, nil, id, updates); err != nil {
		s.log.Error("session finish update failed", "session_id", id, "status", status, "error", err)
	}
	s.metrics.ActiveScans.Dec()
}

func (s *scannerService) failSession(id uuid.UUID, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	meta, _ := json.Marshal(map[string]any{"failure": reason})
	if err := s.sessions.UpdateFields(ctx, nil, id, map[string]interface{}{
		"status":           types.ScanSessionFailed,
		"completed_at":     s.now(),
		"session_metadata": datatypes.JSON(meta),
	}); err != nil {
		s.log.Error("session fail update failed", "session_id", id, "error", err)
	}
	s.metrics.ActiveScans.Dec()
}

func (s *scannerService) publishScanCompleted(ctx context.Context, id uuid.UUID, processed int64) {
	if s.bus == nil {
		return
	}
	_ = s.bus.Publish(ctx, redisclient.Event{
		Name: redisclient.EventScanCompleted,
		At:   s.now().UTC(),
		Data: map[string]any{"session_id": id.String(), "accounts_processed": processed},
	})
}

func acctAndDomain(admin mastodon.AdminAccount) (acct, domain string) {
	domain = strings.ToLower(strings.TrimSpace(admin.Domain))
	acct = admin.Username
	if admin.Account != nil && admin.Account.Acct != "" {
		acct = admin.Account.Acct
	} else if domain != "" {
		acct = admin.Username + "@" + domain
	}
	return acct, domain
}

func profileFromAdmin(admin mastodon.AdminAccount) evaluator.Profile {
	p := evaluator.Profile{ID: admin.ID, Username: admin.Username}
	if admin.Account == nil {
		return p
	}
	a := admin.Account
	p.Username = a.Username
	p.Acct = a.Acct
	p.DisplayName = a.DisplayName
	p.Note = a.Note
	p.FollowersCount = a.FollowersCount
	p.FollowingCount = a.FollowingCount
	for _, f := range a.Fields {
		p.Fields = append(p.Fields, evaluator.ProfileField{Name: f.Name, Value: f.Value})
	}
	return p
}

func domainOfAcct(acct string) string {
	if i := strings.IndexByte(acct, '@'); i >= 0 {
		return strings.ToLower(acct[i+1:])
	}
	return ""
}

// highestStatusID compares ids as the upstream's increasing numeric strings.
func highestStatusID(current string, ids []string) string {
	best := current
	for _, id := range ids {
		if statusIDLess(best, id) {
			best = id
		}
	}
	return best
}

func statusIDLess(a, b string) bool {
	if a == "" {
		return b != ""
	}
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}

package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/fediwatch/watcher-backend/internal/logger"
	"github.com/fediwatch/watcher-backend/internal/utils"
)

// Governor tracks the upstream's remaining budget per endpoint family from
// X-RateLimit-Remaining / X-RateLimit-Reset and suspends callers that would
// spend the safety margin before the window resets. A token-bucket floor
// limiter additionally paces bursts regardless of what the headers say.
//
// The bucket lock is held only across counter reads and writes, never across
// a sleep.
type Governor struct {
	log          *logger.Logger
	safetyMargin int

	mu       sync.Mutex
	buckets  map[string]*bucket
	limiters map[string]*rate.Limiter

	floorRPS   float64
	floorBurst int

	now func() time.Time
}

type bucket struct {
	remaining int
	reset     time.Time
	known     bool
}

// Budget is the read-only view exported to queue stats and the health
// endpoint.
type Budget struct {
	Family    string    `json:"family"`
	Remaining int       `json:"remaining"`
	Reset     time.Time `json:"reset"`
	Known     bool      `json:"known"`
}

func NewGovernor(baseLog *logger.Logger) *Governor {
	margin := utils.GetEnvAsInt("RATE_SAFETY_MARGIN", 1, baseLog)
	if margin < 0 {
		margin = 0
	}
	floorRPS := utils.GetEnvAsFloat("RATE_FLOOR_RPS", 5, baseLog)
	if floorRPS <= 0 {
		floorRPS = 5
	}
	return &Governor{
		log:          baseLog.With("service", "RateGovernor"),
		safetyMargin: margin,
		buckets:      make(map[string]*bucket),
		limiters:     make(map[string]*rate.Limiter),
		floorRPS:     floorRPS,
		floorBurst:   int(floorRPS) + 1,
		now:          time.Now,
	}
}

// Wait blocks until the family has budget: first the pacing floor, then any
// header-derived suspension until the window resets.
func (g *Governor) Wait(ctx context.Context, family string) error {
	if err := g.limiter(family).Wait(ctx); err != nil {
		return err
	}
	for {
		delay := g.suspension(family)
		if delay <= 0 {
			return nil
		}
		g.log.Debug("Rate budget exhausted, suspending",
			"family", family,
			"delay", delay.String(),
		)
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Observe updates the family bucket from a response's rate headers. Missing
// headers leave the bucket untouched.
func (g *Governor) Observe(family string, resp *http.Response) {
	if resp == nil {
		return
	}
	remainingHdr := strings.TrimSpace(resp.Header.Get("X-RateLimit-Remaining"))
	resetHdr := strings.TrimSpace(resp.Header.Get("X-RateLimit-Reset"))
	if remainingHdr == "" && resetHdr == "" {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	b := g.buckets[family]
	if b == nil {
		b = &bucket{}
		g.buckets[family] = b
	}
	if remainingHdr != "" {
		if v, err := strconv.Atoi(remainingHdr); err == nil {
			b.remaining = v
			b.known = true
		}
	}
	if resetHdr != "" {
		if at, ok := parseReset(resetHdr, g.now()); ok {
			b.reset = at
		}
	}
}

// Budgets snapshots all known buckets, for the stats sampler.
func (g *Governor) Budgets() []Budget {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Budget, 0, len(g.buckets))
	for family, b := range g.buckets {
		out = append(out, Budget{
			Family:    family,
			Remaining: b.remaining,
			Reset:     b.reset,
			Known:     b.known,
		})
	}
	return out
}

func (g *Governor) suspension(family string) time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	b := g.buckets[family]
	if b == nil || !b.known {
		return 0
	}
	now := g.now()
	if b.remaining > g.safetyMargin || !b.reset.After(now) {
		return 0
	}
	return b.reset.Sub(now)
}

func (g *Governor) limiter(family string) *rate.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.limiters[family]
	if !ok {
		l = rate.NewLimiter(rate.Limit(g.floorRPS), g.floorBurst)
		g.limiters[family] = l
	}
	return l
}

// parseReset accepts the two formats Mastodon has shipped: RFC 3339 and unix
// epoch seconds.
func parseReset(raw string, now time.Time) (time.Time, bool) {
	if at, err := time.Parse(time.RFC3339, raw); err == nil {
		return at, true
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil && secs > 0 {
		// Small values are "seconds from now", large ones absolute epochs.
		if secs < 100_000 {
			return now.Add(time.Duration(secs) * time.Second), true
		}
		return time.Unix(secs, 0), true
	}
	return time.Time{}, false
}

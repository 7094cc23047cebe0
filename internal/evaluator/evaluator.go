// Package evaluator scores an account's profile and recent statuses against
// a compiled ruleset. Everything here is a pure function of its inputs:
// given the same profile, statuses and ruleset version the output is
// identical, which is what makes the content-scan memoization sound.
package evaluator

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/fediwatch/watcher-backend/internal/types"
)

// DefaultMaxMatchesPerRule caps a single rule's contribution so one noisy
// pattern cannot dominate the total score.
const DefaultMaxMatchesPerRule = 10

type CompiledRule struct {
	ID     string
	Name   string
	Type   string
	Weight float64

	// Regex is set for the *_regex types, Threshold for the numeric ones.
	Regex     *regexp.Regexp
	Threshold float64
}

// StatusScoped reports whether the rule applies once per status rather than
// once per profile.
func (r CompiledRule) StatusScoped() bool {
	switch r.Type {
	case types.RuleTypeContentRegex, types.RuleTypeMediaCount:
		return true
	default:
		return false
	}
}

// Compile validates and compiles a stored rule. Regex patterns that do not
// compile and non-finite or negative thresholds are write-time errors.
func Compile(rule *types.Rule) (CompiledRule, error) {
	cr := CompiledRule{
		ID:     rule.ID.String(),
		Name:   rule.Name,
		Type:   rule.RuleType,
		Weight: rule.Weight,
	}
	if rule.Weight < 0 {
		return cr, fmt.Errorf("rule %q: weight must be >= 0", rule.Name)
	}
	if types.RegexType(rule.RuleType) {
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return cr, fmt.Errorf("rule %q: invalid pattern: %w", rule.Name, err)
		}
		cr.Regex = re
		return cr, nil
	}
	switch rule.RuleType {
	case types.RuleTypeMediaCount, types.RuleTypeFollowerRatio:
		v, err := strconv.ParseFloat(strings.TrimSpace(rule.Pattern), 64)
		if err != nil {
			return cr, fmt.Errorf("rule %q: numeric threshold required: %w", rule.Name, err)
		}
		cr.Threshold = v
		return cr, nil
	default:
		return cr, fmt.Errorf("rule %q: unknown rule_type %q", rule.Name, rule.RuleType)
	}
}

// Profile is the evaluator's view of an account. Only fields rules can
// target are carried.
type Profile struct {
	ID             string
	Username       string
	Acct           string
	DisplayName    string
	Note           string
	Fields         []ProfileField
	FollowersCount int64
	FollowingCount int64
}

type ProfileField struct {
	Name  string
	Value string
}

// StatusInput is the transient view of a post; statuses are never persisted
// in full.
type StatusInput struct {
	ID         string
	Content    string
	MediaCount int
}

type Finding struct {
	RuleID           string             `json:"rule_id"`
	RuleName         string             `json:"rule_name"`
	Score            float64            `json:"score"`
	MatchCount       int                `json:"match_count"`
	MatchedTerms     []string           `json:"matched_terms,omitempty"`
	MatchedStatusIDs []string           `json:"matched_status_ids,omitempty"`
	Metrics          map[string]float64 `json:"metrics,omitempty"`
}

type Evidence struct {
	Findings   []Finding `json:"findings"`
	TotalScore float64   `json:"total_score"`
}

// Evaluate applies every rule once per status (status-scoped types) or once
// per profile. Score contribution per rule is weight × match count,
// saturated at weight × maxMatches. Findings come back ordered by rule name
// so the output is deterministic.
func Evaluate(profile Profile, statuses []StatusInput, rules []CompiledRule, maxMatches int) Evidence {
	if maxMatches <= 0 {
		maxMatches = DefaultMaxMatchesPerRule
	}

	findings := make([]Finding, 0, len(rules))
	for _, rule := range rules {
		var f *Finding
		if rule.StatusScoped() {
			f = applyStatusRule(rule, statuses)
		} else {
			f = applyProfileRule(rule, profile)
		}
		if f == nil {
			continue
		}
		count := f.MatchCount
		if count > maxMatches {
			count = maxMatches
		}
		f.Score = rule.Weight * float64(count)
		findings = append(findings, *f)
	}

	sort.Slice(findings, func(i, j int) bool { return findings[i].RuleName < findings[j].RuleName })

	total := 0.0
	for _, f := range findings {
		total += f.Score
	}
	return Evidence{Findings: findings, TotalScore: total}
}

func applyStatusRule(rule CompiledRule, statuses []StatusInput) *Finding {
	var (
		matchCount int
		terms      []string
		statusIDs  []string
	)
	for _, st := range statuses {
		switch rule.Type {
		case types.RuleTypeContentRegex:
			hits := rule.Regex.FindAllString(StripHTML(st.Content), -1)
			if len(hits) == 0 {
				continue
			}
			matchCount += len(hits)
			terms = append(terms, hits...)
			statusIDs = append(statusIDs, st.ID)
		case types.RuleTypeMediaCount:
			if float64(st.MediaCount) >= rule.Threshold {
				matchCount++
				statusIDs = append(statusIDs, st.ID)
			}
		}
	}
	if matchCount == 0 {
		return nil
	}
	sort.Strings(statusIDs)
	return &Finding{
		RuleID:           rule.ID,
		RuleName:         rule.Name,
		MatchCount:       matchCount,
		MatchedTerms:     dedupeSorted(terms),
		MatchedStatusIDs: statusIDs,
	}
}

func applyProfileRule(rule CompiledRule, profile Profile) *Finding {
	switch rule.Type {
	case types.RuleTypeUsernameRegex:
		if hits := rule.Regex.FindAllString(profile.Username, -1); len(hits) > 0 {
			return &Finding{
				RuleID:       rule.ID,
				RuleName:     rule.Name,
				MatchCount:   len(hits),
				MatchedTerms: dedupeSorted(hits),
			}
		}
	case types.RuleTypeDisplayNameRegex:
		if hits := rule.Regex.FindAllString(profile.DisplayName, -1); len(hits) > 0 {
			return &Finding{
				RuleID:       rule.ID,
				RuleName:     rule.Name,
				MatchCount:   len(hits),
				MatchedTerms: dedupeSorted(hits),
			}
		}
	case types.RuleTypeMetadataRegex:
		var hits []string
		hits = append(hits, rule.Regex.FindAllString(StripHTML(profile.Note), -1)...)
		for _, f := range profile.Fields {
			hits = append(hits, rule.Regex.FindAllString(f.Name, -1)...)
			hits = append(hits, rule.Regex.FindAllString(StripHTML(f.Value), -1)...)
		}
		if len(hits) > 0 {
			return &Finding{
				RuleID:       rule.ID,
				RuleName:     rule.Name,
				MatchCount:   len(hits),
				MatchedTerms: dedupeSorted(hits),
			}
		}
	case types.RuleTypeFollowerRatio:
		ratio := followerRatio(profile.FollowersCount, profile.FollowingCount)
		if ratio >= rule.Threshold {
			return &Finding{
				RuleID:     rule.ID,
				RuleName:   rule.Name,
				MatchCount: 1,
				Metrics: map[string]float64{
					"follower_ratio": ratio,
					"followers":      float64(profile.FollowersCount),
					"following":      float64(profile.FollowingCount),
				},
			}
		}
	}
	return nil
}

// followerRatio is following/followers, the classic follow-spam signal. A
// zero follower count is treated as one so fresh spam accounts still score.
func followerRatio(followers, following int64) float64 {
	if following <= 0 {
		return 0
	}
	if followers <= 0 {
		followers = 1
	}
	return float64(following) / float64(followers)
}

func dedupeSorted(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

var tagRe = regexp.MustCompile(`<[^>]*>`)

// StripHTML removes markup so regex rules match the visible text. Statuses
// arrive as sanitized HTML from the upstream; a tag strip plus entity
// unescape of the common entities is enough for matching.
func StripHTML(s string) string {
	if s == "" {
		return ""
	}
	out := tagRe.ReplaceAllString(s, " ")
	replacer := strings.NewReplacer(
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
		"&nbsp;", " ",
	)
	return strings.Join(strings.Fields(replacer.Replace(out)), " ")
}

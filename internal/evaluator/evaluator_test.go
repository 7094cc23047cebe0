package evaluator

import (
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/fediwatch/watcher-backend/internal/types"
)

func mustCompile(t *testing.T, name, ruleType, pattern string, weight float64) CompiledRule {
	t.Helper()
	cr, err := Compile(&types.Rule{
		ID:       uuid.New(),
		Name:     name,
		RuleType: ruleType,
		Pattern:  pattern,
		Weight:   weight,
	})
	if err != nil {
		t.Fatalf("compile %s: %v", name, err)
	}
	return cr
}

func TestCompileRejectsBadInput(t *testing.T) {
	cases := []struct {
		name     string
		ruleType string
		pattern  string
		weight   float64
	}{
		{"bad-regex", types.RuleTypeContentRegex, "(unclosed", 1},
		{"bad-threshold", types.RuleTypeMediaCount, "lots", 1},
		{"bad-type", "sentiment", "x", 1},
		{"bad-weight", types.RuleTypeContentRegex, "x", -1},
	}
	for _, c := range cases {
		_, err := Compile(&types.Rule{Name: c.name, RuleType: c.ruleType, Pattern: c.pattern, Weight: c.weight})
		if err == nil {
			t.Errorf("%s: expected compile error", c.name)
		}
	}
}

func TestContentRegexCountsAcrossStatuses(t *testing.T) {
	rule := mustCompile(t, "casino-spam", types.RuleTypeContentRegex, `(?i)casino`, 2.0)
	statuses := []StatusInput{
		{ID: "103", Content: "<p>Best CASINO casino deals</p>"},
		{ID: "101", Content: "<p>nothing here</p>"},
		{ID: "102", Content: "<p>casino again</p>"},
	}
	ev := Evaluate(Profile{ID: "1"}, statuses, []CompiledRule{rule}, 0)
	if len(ev.Findings) != 1 {
		t.Fatalf("findings = %d, want 1", len(ev.Findings))
	}
	f := ev.Findings[0]
	if f.MatchCount != 3 {
		t.Errorf("match count = %d, want 3", f.MatchCount)
	}
	if f.Score != 6.0 {
		t.Errorf("score = %v, want 6", f.Score)
	}
	if got := strings.Join(f.MatchedStatusIDs, ","); got != "102,103" {
		t.Errorf("matched status ids = %s, want 102,103", got)
	}
}

func TestScoreSaturates(t *testing.T) {
	rule := mustCompile(t, "spam-word", types.RuleTypeContentRegex, `buy`, 1.5)
	st := StatusInput{ID: "1", Content: strings.Repeat("buy ", 50)}
	ev := Evaluate(Profile{}, []StatusInput{st}, []CompiledRule{rule}, 10)
	if ev.Findings[0].MatchCount != 50 {
		t.Errorf("match count = %d, want 50", ev.Findings[0].MatchCount)
	}
	if ev.TotalScore != 15.0 {
		t.Errorf("total = %v, want capped 15", ev.TotalScore)
	}
}

func TestProfileRules(t *testing.T) {
	profile := Profile{
		Username:    "hot_deals_4u",
		DisplayName: "FREE MONEY NOW",
		Note:        `<p>Visit <a href="https://spam.example">spam.example</a></p>`,
		Fields: []ProfileField{
			{Name: "telegram", Value: "@getrichquick"},
		},
		FollowersCount: 3,
		FollowingCount: 4500,
	}
	rules := []CompiledRule{
		mustCompile(t, "deal-username", types.RuleTypeUsernameRegex, `deals?`, 1),
		mustCompile(t, "free-money", types.RuleTypeDisplayNameRegex, `(?i)free money`, 3),
		mustCompile(t, "telegram-handle", types.RuleTypeMetadataRegex, `@getrich\w+`, 2),
		mustCompile(t, "follow-spam", types.RuleTypeFollowerRatio, "100", 5),
	}
	ev := Evaluate(profile, nil, rules, 0)
	if len(ev.Findings) != 4 {
		t.Fatalf("findings = %d, want 4", len(ev.Findings))
	}
	// Sorted by rule name.
	wantOrder := []string{"deal-username", "follow-spam", "free-money", "telegram-handle"}
	for i, f := range ev.Findings {
		if f.RuleName != wantOrder[i] {
			t.Errorf("finding %d = %s, want %s", i, f.RuleName, wantOrder[i])
		}
	}
	if ev.TotalScore != 1+3+2+5 {
		t.Errorf("total = %v, want 11", ev.TotalScore)
	}
	var ratio float64
	for _, f := range ev.Findings {
		if f.RuleName == "follow-spam" {
			ratio = f.Metrics["follower_ratio"]
		}
	}
	if ratio != 1500 {
		t.Errorf("follower_ratio = %v, want 1500", ratio)
	}
}

func TestMediaCountThreshold(t *testing.T) {
	rule := mustCompile(t, "media-flood", types.RuleTypeMediaCount, "4", 2)
	statuses := []StatusInput{
		{ID: "1", MediaCount: 4},
		{ID: "2", MediaCount: 1},
		{ID: "3", MediaCount: 6},
	}
	ev := Evaluate(Profile{}, statuses, []CompiledRule{rule}, 0)
	f := ev.Findings[0]
	if f.MatchCount != 2 || f.Score != 4 {
		t.Errorf("count=%d score=%v, want 2 and 4", f.MatchCount, f.Score)
	}
}

func TestNoMatchesProducesEmptyEvidence(t *testing.T) {
	rule := mustCompile(t, "casino", types.RuleTypeContentRegex, `casino`, 1)
	ev := Evaluate(Profile{Username: "alice"}, []StatusInput{{ID: "1", Content: "hello"}}, []CompiledRule{rule}, 0)
	if len(ev.Findings) != 0 || ev.TotalScore != 0 {
		t.Errorf("expected empty evidence, got %+v", ev)
	}
}

func TestStripHTML(t *testing.T) {
	in := `<p>Hello <a href="https://x.example">there</a> &amp; welcome</p>`
	if got := StripHTML(in); got != "Hello there & welcome" {
		t.Errorf("StripHTML = %q", got)
	}
}

func TestContentHashStableUnderStatusOrder(t *testing.T) {
	profile := Profile{Username: "bob"}
	a := []StatusInput{{ID: "1", Content: "x"}, {ID: "2", Content: "y"}}
	b := []StatusInput{{ID: "2", Content: "y"}, {ID: "1", Content: "x"}}
	h1 := ContentHash("v1", "acct-1", profile, a)
	h2 := ContentHash("v1", "acct-1", profile, b)
	if h1 != h2 {
		t.Error("hash changed with status order")
	}
	if h1 == ContentHash("v2", "acct-1", profile, a) {
		t.Error("hash did not change with ruleset version")
	}
	if h1 == ContentHash("v1", "acct-2", profile, a) {
		t.Error("hash did not change with account")
	}
}

func TestRulesetVersionIgnoresOrder(t *testing.T) {
	r1 := mustCompile(t, "a", types.RuleTypeContentRegex, "x", 1)
	r2 := mustCompile(t, "b", types.RuleTypeMediaCount, "3", 2)
	v1 := RulesetVersion([]CompiledRule{r1, r2})
	v2 := RulesetVersion([]CompiledRule{r2, r1})
	if v1 != v2 {
		t.Error("version changed with rule order")
	}
	r2.Weight = 9
	if v1 == RulesetVersion([]CompiledRule{r1, r2}) {
		t.Error("version did not change with weight")
	}
}

func TestMarshalEvidenceDeterministic(t *testing.T) {
	ev := Evidence{
		Findings: []Finding{{
			RuleID:   "r",
			RuleName: "n",
			Score:    2,
			Metrics:  map[string]float64{"b": 2, "a": 1},
		}},
		TotalScore: 2,
	}
	b1, err := MarshalEvidence(ev)
	if err != nil {
		t.Fatal(err)
	}
	b2, _ := MarshalEvidence(ev)
	if string(b1) != string(b2) {
		t.Error("marshal not deterministic")
	}
	if !strings.Contains(string(b1), `"total_score":2`) {
		t.Errorf("unexpected shape: %s", b1)
	}
}

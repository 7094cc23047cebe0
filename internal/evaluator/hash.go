package evaluator

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
)

// fieldSep keeps hash inputs unambiguous; it cannot appear in ids or in
// stripped content.
const fieldSep = "\x1f"

// ContentHash fingerprints exactly what a scan saw: the ruleset version,
// the account, the set of status ids and their visible text. Any change to
// any of those produces a different hash, so a matching hash means the
// memoized verdict is still valid.
func ContentHash(rulesetVersion, accountID string, profile Profile, statuses []StatusInput) string {
	ordered := make([]StatusInput, len(statuses))
	copy(ordered, statuses)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	h := sha256.New()
	write := func(s string) {
		h.Write([]byte(s))
		h.Write([]byte(fieldSep))
	}
	write(rulesetVersion)
	write(accountID)
	write(profile.Username)
	write(profile.DisplayName)
	write(StripHTML(profile.Note))
	for _, f := range profile.Fields {
		write(f.Name)
		write(StripHTML(f.Value))
	}
	for _, st := range ordered {
		write(st.ID)
		write(StripHTML(st.Content))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// RulesetVersion hashes the enabled rules in a canonical order. Two
// rulesets with the same rules in any storage order share a version.
func RulesetVersion(rules []CompiledRule) string {
	lines := make([]string, 0, len(rules))
	for _, r := range rules {
		pattern := ""
		if r.Regex != nil {
			pattern = r.Regex.String()
		} else {
			pattern = trimFloat(r.Threshold)
		}
		lines = append(lines, strings.Join([]string{r.Name, r.Type, pattern, trimFloat(r.Weight)}, fieldSep))
	}
	sort.Strings(lines)
	h := sha256.Sum256([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(h[:])
}

func trimFloat(v float64) string {
	b, _ := json.Marshal(v)
	return string(b)
}

// MarshalEvidence produces the canonical JSON stored in analyses and
// content scans. Struct field order is fixed and findings are already
// sorted, so equal evidence always serializes to equal bytes.
func MarshalEvidence(ev Evidence) ([]byte, error) {
	return json.Marshal(ev)
}

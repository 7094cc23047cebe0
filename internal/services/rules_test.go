package services

import (
	"testing"

	"github.com/fediwatch/watcher-backend/internal/types"
)

func weightPtr(v float64) *float64 { return &v }

func TestValidateInputRejectsBadRules(t *testing.T) {
	cases := []struct {
		name string
		in   RuleInput
	}{
		{"empty name", RuleInput{RuleType: types.RuleTypeContentRegex, Pattern: "x", Weight: weightPtr(1)}},
		{"bad regex", RuleInput{Name: "r", RuleType: types.RuleTypeContentRegex, Pattern: "(", Weight: weightPtr(1)}},
		{"unknown type", RuleInput{Name: "r", RuleType: "shoe_size", Pattern: "x", Weight: weightPtr(1)}},
		{"non numeric threshold", RuleInput{Name: "r", RuleType: types.RuleTypeMediaCount, Pattern: "lots", Weight: weightPtr(1)}},
		{"negative weight", RuleInput{Name: "r", RuleType: types.RuleTypeContentRegex, Pattern: "x", Weight: weightPtr(-1)}},
	}
	for _, tc := range cases {
		if _, err := validateInput(tc.in); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}

func TestValidateInputDefaultsEnabled(t *testing.T) {
	rule, err := validateInput(RuleInput{Name: "r", RuleType: types.RuleTypeContentRegex, Pattern: "spam", Weight: weightPtr(1)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !rule.Enabled {
		t.Fatal("rules should default to enabled")
	}

	off := false
	rule, err = validateInput(RuleInput{Name: "r", RuleType: types.RuleTypeContentRegex, Pattern: "spam", Weight: weightPtr(1), Enabled: &off})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rule.Enabled {
		t.Fatal("explicit enabled=false should stick")
	}
}

func TestValidateInputWeightOptionalAndZeroable(t *testing.T) {
	rule, err := validateInput(RuleInput{Name: "r", RuleType: types.RuleTypeContentRegex, Pattern: "spam"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rule.Weight != 1 {
		t.Fatalf("omitted weight should default to 1, got %v", rule.Weight)
	}

	rule, err = validateInput(RuleInput{Name: "r", RuleType: types.RuleTypeContentRegex, Pattern: "spam", Weight: weightPtr(0)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rule.Weight != 0 {
		t.Fatalf("explicit weight 0 should stick, got %v", rule.Weight)
	}
}

func TestBehaviorUnchanged(t *testing.T) {
	current := &types.Rule{Name: "r", RuleType: types.RuleTypeContentRegex, Pattern: "spam", Weight: 2, Description: "d", Enabled: true}

	toggled := *current
	toggled.Enabled = false
	if !behaviorUnchanged(current, &toggled) {
		t.Fatal("enabled flips alone should count as unchanged behavior")
	}

	edited := *current
	edited.Pattern = "ham"
	if behaviorUnchanged(current, &edited) {
		t.Fatal("a pattern edit changes behavior")
	}

	reweighted := *current
	reweighted.Weight = 5
	if behaviorUnchanged(current, &reweighted) {
		t.Fatal("a weight edit changes behavior")
	}
}

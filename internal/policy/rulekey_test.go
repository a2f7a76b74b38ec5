package policy

import (
	"strings"
	"testing"
)

func TestRuleKey(t *testing.T) {
	cases := map[string]string{
		"rule-1":  "rule-1",
		"Rule_1":  "_52ule_5f1",
		"a b/c":   "a_20b_2fc",
		"42":      "42",
		"_5f":     "_5f5f",
		"blocked": "blocked",
	}
	for in, want := range cases {
		if got := RuleKey(in); got != want {
			t.Fatalf("%q: expected %q, got %q", in, want, got)
		}
	}

	seen := map[string]string{}
	for _, id := range []string{"Rule_1", "rule-1", "rule_1", "RULE-1", "rule 1", "_72ule-1", "r_75le-1"} {
		key := RuleKey(id)
		if prev, ok := seen[key]; ok {
			t.Fatalf("%q and %q share key %q", prev, id, key)
		}
		seen[key] = id
	}
}

func TestRuleProblems(t *testing.T) {
	cfg := FirewallConfig{Rules: []FirewallRule{
		{ID: "admin"},
		{ID: "admin", LeakSpeed: "banana"},
		{ID: "", Mode: "sideways"},
		{ID: strings.Repeat("x", MaxRuleIDLength+1), Operator: "xor"},
		{ID: "ok", Capacity: -1, LeakSpeed: "-5s", RemediationDuration: -1, Action: "shrug"},
	}}

	problems := cfg.RuleProblems()
	want := []string{
		`rules[1].id "admin" is duplicated`,
		`rules[1].leakSpeed invalid`,
		`rules[2].id is required`,
		`rules[2].mode must be`,
		`rules[3].id is longer than 64 characters`,
		`rules[3].operator must be AND|OR`,
		`rules[4].action must be`,
		`rules[4].capacity must be >= 0`,
		`rules[4].leakSpeed must be > 0`,
		`rules[4].remediationDuration must be >= 0`,
	}
	joined := strings.Join(problems, "\n")
	for _, w := range want {
		if !strings.Contains(joined, w) {
			t.Fatalf("expected %q among:\n%s", w, joined)
		}
	}
	if strings.Contains(joined, "rules[0]") {
		t.Fatalf("first rule is valid, got:\n%s", joined)
	}
}

func TestRuleProblemsAcceptsDistinctIDs(t *testing.T) {
	cfg := FirewallConfig{Rules: []FirewallRule{{ID: "r_2d1"}, {ID: "r-1"}, {ID: "R-1"}}}
	problems := cfg.RuleProblems()
	if len(problems) != 0 {
		t.Fatalf("ids with distinct keys must pass, got %v", problems)
	}

	if got := (FirewallConfig{Rules: []FirewallRule{{ID: "or"}, {ID: "OR"}}}).RuleProblems(); len(got) != 0 {
		t.Fatalf("case differences are distinct ids, got %v", got)
	}
}

func TestLogicalOperatorCanonical(t *testing.T) {
	for _, in := range []LogicalOperator{"or", " Or ", "OR"} {
		if !in.Known() || in.Canonical() != LogicalOr {
			t.Fatalf("%q: expected canonical OR, got %q", in, in.Canonical())
		}
	}
	if LogicalOperator("xor").Known() {
		t.Fatalf("xor must not be known")
	}
}

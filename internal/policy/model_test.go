package policy

import "testing"

func TestConditionProblem(t *testing.T) {
	cases := []struct {
		name string
		cond Condition
		want bool
	}{
		{"ok", Condition{Field: FieldRequestPath, Operator: OpContains, Value: "/admin"}, true},
		{"alias", Condition{Field: "path", Operator: OpEquals, Value: "/"}, true},
		{"missing-field", Condition{Operator: OpEquals, Value: "x"}, false},
		{"missing-operator", Condition{Field: FieldMethod, Value: "GET"}, false},
		{"unknown-field", Condition{Field: "cookie_jar", Operator: OpEquals, Value: "x"}, false},
		{"missing-value", Condition{Field: FieldUserAgent, Operator: OpContains}, false},
		{"ml-no-value", Condition{Field: FieldQueryParameter, Operator: OpLibInjectionSQL}, true},
		{"header-name", Condition{Field: FieldHeader, Operator: OpEquals, Value: "x"}, false},
		{"bad-transform", Condition{Field: FieldMethod, Operator: OpEquals, Value: "GET", Transforms: []Transform{"rot13"}}, false},
	}

	for _, tt := range cases {
		got := tt.cond.Problem() == ""
		if got != tt.want {
			t.Fatalf("%s: expected usable=%v, got problem %q", tt.name, tt.want, tt.cond.Problem())
		}
	}
}

func TestEnabledRulesOrdering(t *testing.T) {
	cfg := FirewallConfig{Rules: []FirewallRule{
		{ID: "3", Enabled: true, Priority: 10},
		{ID: "1", Enabled: true, Priority: 20},
		{ID: "2", Enabled: false, Priority: 0},
		{ID: "0", Enabled: true, Priority: 10},
	}}

	rules := cfg.EnabledRules()
	if len(rules) != 3 {
		t.Fatalf("expected 3 enabled rules, got %d", len(rules))
	}
	if rules[0].ID != "0" || rules[1].ID != "3" || rules[2].ID != "1" {
		t.Fatalf("unexpected order %s,%s,%s", rules[0].ID, rules[1].ID, rules[2].ID)
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := FirewallConfig{Rules: []FirewallRule{{ID: "1"}}}
	cfg.ApplyDefaults()

	if cfg.BanDuration != DefaultBanDuration || cfg.BlockedHTTPCode != 403 || cfg.PassedHTTPCode != 200 {
		t.Fatalf("unexpected config defaults %+v", cfg)
	}
	rule := cfg.Rules[0]
	if rule.Capacity != 1 || rule.LeakSpeed != "10s" || rule.RemediationDuration != DefaultBanDuration {
		t.Fatalf("unexpected rule defaults %+v", rule)
	}
	if rule.Mode != ModeHybrid || rule.Action != ActionBlock || rule.Operator != LogicalAnd {
		t.Fatalf("unexpected rule enums %+v", rule)
	}
	if !cfg.Inband() || !cfg.AppSec() {
		t.Fatalf("expected inband and appsec on by default")
	}
}

func TestRemediation(t *testing.T) {
	cases := []struct {
		action  Action
		want    string
		decides bool
	}{
		{ActionBlock, "ban", true},
		{ActionCaptcha, "captcha", true},
		{ActionLog, "", false},
		{ActionAllow, "", false},
	}
	for _, tt := range cases {
		got, decides := tt.action.Remediation()
		if got != tt.want || decides != tt.decides {
			t.Fatalf("%s: expected (%q,%v) got (%q,%v)", tt.action, tt.want, tt.decides, got, decides)
		}
	}
}

func TestValidateUUID(t *testing.T) {
	if err := ValidateUUID("0b7c6f0e-5d1a-4f37-9c33-2f1e5b8a9d10"); err != nil {
		t.Fatalf("expected valid uuid: %v", err)
	}
	if err := ValidateUUID("not-a-uuid"); err == nil {
		t.Fatalf("expected invalid uuid error")
	}
}

func TestSplitList(t *testing.T) {
	got := SplitList(" CN, RU ,,")
	if len(got) != 2 || got[0] != "CN" || got[1] != "RU" {
		t.Fatalf("unexpected split %v", got)
	}
}

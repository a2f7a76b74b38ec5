package rules

import (
	"reflect"
	"strings"
	"testing"

	"github.com/sentinelhq/sentinel/internal/policy"
)

const appUUID = "0b7c6f0e-5d1a-4f37-9c33-2f1e5b8a9d10"

func rule(mode policy.ProtectionMode, op policy.LogicalOperator, conds ...policy.Condition) policy.FirewallRule {
	return policy.FirewallRule{
		ID:         "42",
		Name:       "Block admin",
		Enabled:    true,
		Mode:       mode,
		Action:     policy.ActionBlock,
		Operator:   op,
		Conditions: conds,
	}
}

func TestOperatorMappingExhaustive(t *testing.T) {
	for _, op := range policy.Operators {
		spec, ok := operatorFor(op)
		if !ok {
			t.Fatalf("operator %s has no mapping", op)
		}
		if spec.AppSec == nil {
			t.Fatalf("operator %s has no appsec mapping", op)
		}
		if spec.Expr == nil && !op.ML() {
			t.Fatalf("operator %s has no scenario mapping", op)
		}
	}
	if _, ok := operatorFor("sounds_like"); ok {
		t.Fatalf("unknown operator must have no mapping")
	}
	for _, f := range policy.Fields {
		if _, ok := fieldTable[f]; !ok {
			t.Fatalf("field %s has no table entry", f)
		}
	}
	for _, tr := range policy.Transforms {
		if _, ok := transformTable[tr]; !ok {
			t.Fatalf("transform %s has no table entry", tr)
		}
	}
}

func TestCompileAdminPath(t *testing.T) {
	res := Compile(rule(policy.ModeHybrid, policy.LogicalAnd, policy.Condition{
		Field: policy.FieldRequestPath, Operator: policy.OpContains, Value: "/admin",
	}), appUUID)

	if res.Filter != `evt.Parsed.request contains "/admin"` {
		t.Fatalf("unexpected filter %q", res.Filter)
	}
	if res.Fragment == nil {
		t.Fatalf("expected appsec fragment")
	}
	node := res.Fragment.Rules[0]
	if len(node.Zones) != 1 || node.Zones[0] != "URI" {
		t.Fatalf("unexpected zones %v", node.Zones)
	}
	if node.Match == nil || node.Match.Type != MatchRegex || node.Match.Value != `.*\/admin.*` {
		t.Fatalf("unexpected match %+v", node.Match)
	}
	if res.Fragment.Name != "sentinel/custom-"+appUUID+"-42" {
		t.Fatalf("unexpected fragment name %q", res.Fragment.Name)
	}
}

func TestCompileProtectionModes(t *testing.T) {
	cond := policy.Condition{Field: policy.FieldUserAgent, Operator: policy.OpContains, Value: "sqlmap"}
	cases := []struct {
		mode         policy.ProtectionMode
		wantFragment bool
		wantFilter   bool
	}{
		{policy.ModePathOnly, true, false},
		{policy.ModeIPBan, false, true},
		{policy.ModeHybrid, true, true},
	}

	for _, tt := range cases {
		res := Compile(rule(tt.mode, policy.LogicalAnd, cond), appUUID)
		if (res.Fragment != nil) != tt.wantFragment {
			t.Fatalf("%s: expected fragment=%v", tt.mode, tt.wantFragment)
		}
		if (res.Filter != "") != tt.wantFilter {
			t.Fatalf("%s: expected filter=%v", tt.mode, tt.wantFilter)
		}
	}
}

func TestCompileDeterministic(t *testing.T) {
	r := rule(policy.ModeHybrid, policy.LogicalOr,
		policy.Condition{Field: policy.FieldMethod, Operator: policy.OpIn, Value: "PUT, DELETE"},
		policy.Condition{Field: "path", Operator: policy.OpRegex, Value: `^/wp-(admin|login)`, Transforms: []policy.Transform{policy.TransformLowercase}},
	)

	first := Compile(r, appUUID)
	second := Compile(r, appUUID)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected identical results")
	}
}

func TestCompileSkipsMalformedConditions(t *testing.T) {
	res := Compile(rule(policy.ModeIPBan, policy.LogicalAnd,
		policy.Condition{Operator: policy.OpEquals, Value: "x"},
		policy.Condition{Field: policy.FieldMethod, Operator: policy.OpEquals, Value: "POST"},
		policy.Condition{Field: policy.FieldHost, Value: "example.com"},
	), appUUID)

	if res.Filter != `evt.Parsed.verb == "POST"` {
		t.Fatalf("unexpected filter %q", res.Filter)
	}
	if len(res.Diagnostics) != 2 {
		t.Fatalf("expected 2 diagnostics, got %d", len(res.Diagnostics))
	}
}

func TestCompileNoUsableConditions(t *testing.T) {
	res := Compile(rule(policy.ModeHybrid, policy.LogicalAnd, policy.Condition{Field: policy.FieldMethod}), appUUID)
	if !res.Empty() {
		t.Fatalf("expected empty result")
	}
	if len(res.Diagnostics) == 0 {
		t.Fatalf("expected diagnostics")
	}
}

func TestAppSecPatterns(t *testing.T) {
	cases := []struct {
		op    policy.Operator
		value string
		typ   MatchType
		want  string
	}{
		{policy.OpEquals, "/login", MatchEquals, "/login"},
		{policy.OpNotEquals, "/login", MatchRegex, `^(?!\/login$)`},
		{policy.OpContains, "a.b", MatchRegex, `.*a\.b.*`},
		{policy.OpNotContains, "x", MatchRegex, `^((?!x).)*$`},
		{policy.OpStartsWith, "/api", MatchRegex, `\/api.*`},
		{policy.OpEndsWith, ".php", MatchRegex, `.*\.php`},
		{policy.OpRegex, "wp-admin", MatchRegex, ".*wp-admin.*"},
		{policy.OpRegex, "^/admin$", MatchRegex, "^/admin$"},
		{policy.OpGreater, "100", MatchGreater, "100"},
		{policy.OpLibInjectionSQL, "", MatchLibInjectionSQL, ""},
	}

	for _, tt := range cases {
		node, reason := appSecNode(policy.Condition{Field: policy.FieldRequestPath, Operator: tt.op, Value: tt.value})
		if reason != "" {
			t.Fatalf("%s: unexpected reason %q", tt.op, reason)
		}
		if node.Match == nil || node.Match.Type != tt.typ || node.Match.Value != tt.want {
			t.Fatalf("%s: expected %s %q, got %+v", tt.op, tt.typ, tt.want, node.Match)
		}
	}
}

func TestAppSecLists(t *testing.T) {
	node, _ := appSecNode(policy.Condition{Field: policy.FieldMethod, Operator: policy.OpIn, Value: "PUT,DELETE"})
	if len(node.Or) != 2 || node.Or[0].Match.Value != "PUT" || node.Or[1].Match.Type != MatchEquals {
		t.Fatalf("unexpected in node %+v", node)
	}

	node, _ = appSecNode(policy.Condition{Field: policy.FieldMethod, Operator: policy.OpNotIn, Value: "GET,HEAD"})
	if len(node.And) != 2 || !node.And[0].Match.Not || !node.And[1].Match.Not {
		t.Fatalf("unexpected not_in node %+v", node)
	}
}

func TestAppSecHeaderVariables(t *testing.T) {
	node, _ := appSecNode(policy.Condition{Field: policy.FieldUserAgent, Operator: policy.OpContains, Value: "curl", Transforms: []policy.Transform{policy.TransformLowercase, policy.TransformLowercase}})
	if node.Zones[0] != "HEADERS" || len(node.Variables) != 1 || node.Variables[0] != "User-Agent" {
		t.Fatalf("unexpected header node %+v", node)
	}
	if len(node.Transform) != 1 || node.Transform[0] != "lowercase" {
		t.Fatalf("expected deduplicated transforms, got %v", node.Transform)
	}

	node, _ = appSecNode(policy.Condition{Field: policy.FieldHeader, Header: "X-Forwarded-For", Operator: policy.OpEquals, Value: "1.2.3.4"})
	if node.Variables[0] != "X-Forwarded-For" {
		t.Fatalf("expected explicit header variable, got %v", node.Variables)
	}
}

func TestScenarioExpressions(t *testing.T) {
	cases := []struct {
		cond policy.Condition
		want string
	}{
		{policy.Condition{Field: policy.FieldMethod, Operator: policy.OpEquals, Value: "POST"}, `evt.Parsed.verb == "POST"`},
		{policy.Condition{Field: policy.FieldUserAgent, Operator: policy.OpNotContains, Value: `say "hi"`}, `!(evt.Parsed.http_user_agent contains "say \"hi\"")`},
		{policy.Condition{Field: policy.FieldRequestPath, Operator: policy.OpStartsWith, Value: "/api"}, `evt.Parsed.request startsWith "/api"`},
		{policy.Condition{Field: policy.FieldRequestPath, Operator: policy.OpRegex, Value: `"(a|b)"`}, `evt.Parsed.request matches '"(a|b)"'`},
		{policy.Condition{Field: policy.FieldIPAddress, Operator: policy.OpIn, Value: "1.1.1.1, 2.2.2.2"}, `evt.Meta.source_ip in ['1.1.1.1', '2.2.2.2']`},
		{policy.Condition{Field: policy.FieldIPAddress, Operator: policy.OpNotIn, Value: "1.1.1.1"}, `evt.Meta.source_ip not in ['1.1.1.1']`},
		{policy.Condition{Field: policy.FieldRequestPath, Operator: policy.OpEquals, Value: "/x", Transforms: []policy.Transform{policy.TransformLowercase}}, `lower(evt.Parsed.request) == "/x"`},
		{policy.Condition{Field: policy.FieldProtocol, Operator: policy.OpLess, Value: "2"}, `Atof(evt.Parsed.http_version) < 2`},
	}

	for _, tt := range cases {
		got, reason := scenarioExpr(tt.cond)
		if reason != "" {
			t.Fatalf("%s: unexpected reason %q", tt.cond.Operator, reason)
		}
		if got != tt.want {
			t.Fatalf("expected %q, got %q", tt.want, got)
		}
	}
}

func TestCompileGeoSemantics(t *testing.T) {
	block := Compile(rule(policy.ModeIPBan, policy.LogicalAnd, policy.Condition{Field: policy.FieldCountryCode, Operator: policy.OpIn, Value: "CN,RU"}), appUUID)
	if block.Filter != "evt.Enriched.IsoCode in ['CN', 'RU']" || !block.Geo || !block.GeoBlock {
		t.Fatalf("unexpected block-list result %+v", block)
	}

	allow := Compile(rule(policy.ModeIPBan, policy.LogicalAnd, policy.Condition{Field: policy.FieldCountryCode, Operator: policy.OpNotIn, Value: "cn,ru"}), appUUID)
	if allow.Filter != "evt.Enriched.IsoCode not in ['CN', 'RU']" || !allow.Geo || allow.GeoBlock {
		t.Fatalf("unexpected allow-list result %+v", allow)
	}
}

func TestCompileAndSkipsInexpressibleDialect(t *testing.T) {
	res := Compile(rule(policy.ModeHybrid, policy.LogicalAnd,
		policy.Condition{Field: policy.FieldCountryCode, Operator: policy.OpIn, Value: "CN"},
		policy.Condition{Field: policy.FieldRequestPath, Operator: policy.OpContains, Value: "/admin"},
	), appUUID)

	if res.Fragment != nil {
		t.Fatalf("expected appsec output to be skipped under AND")
	}
	if !strings.Contains(res.Filter, " and ") {
		t.Fatalf("expected combined filter, got %q", res.Filter)
	}
	if len(res.Diagnostics) != 1 || res.Diagnostics[0].Dialect != DialectAppSec {
		t.Fatalf("expected one appsec diagnostic, got %+v", res.Diagnostics)
	}
}

func TestCompileOrDropsInexpressibleCondition(t *testing.T) {
	res := Compile(rule(policy.ModeHybrid, policy.LogicalOr,
		policy.Condition{Field: policy.FieldPostBody, Operator: policy.OpLibInjectionSQL},
		policy.Condition{Field: policy.FieldRequestPath, Operator: policy.OpContains, Value: "/admin"},
	), appUUID)

	if res.Fragment == nil || len(res.Fragment.Rules[0].Or) != 2 {
		t.Fatalf("expected or group with both conditions, got %+v", res.Fragment)
	}
	if res.Filter != `evt.Parsed.request contains "/admin"` {
		t.Fatalf("unexpected filter %q", res.Filter)
	}
}

func TestCompileNumericNeedsNumber(t *testing.T) {
	res := Compile(rule(policy.ModeIPBan, policy.LogicalAnd, policy.Condition{Field: policy.FieldProtocol, Operator: policy.OpGreater, Value: "1 or true"}), appUUID)
	if !res.Empty() {
		t.Fatalf("expected non-numeric comparison to be dropped")
	}
}

func TestNormalizeRegex(t *testing.T) {
	cases := map[string]string{
		"admin":    ".*admin.*",
		"^admin":   "^admin",
		"admin$":   "admin$",
		".*admin":  ".*admin",
		"admin.*":  "admin.*",
		"(a|b)+x":  ".*(a|b)+x.*",
	}
	for in, want := range cases {
		if got := NormalizeRegex(in); got != want {
			t.Fatalf("%q: expected %q, got %q", in, want, got)
		}
	}
}

func TestSlug(t *testing.T) {
	if got := Slug("Block  Admin/Panel!"); got != "block-admin-panel" {
		t.Fatalf("unexpected slug %q", got)
	}
}

func TestCompileLowercaseOr(t *testing.T) {
	res := Compile(rule(policy.ModeIPBan, "or",
		policy.Condition{Field: policy.FieldRequestPath, Operator: policy.OpContains, Value: "/admin"},
		policy.Condition{Field: policy.FieldUserAgent, Operator: policy.OpContains, Value: "sqlmap"},
	), appUUID)

	want := `evt.Parsed.request contains "/admin" or evt.Parsed.http_user_agent contains "sqlmap"`
	if res.Filter != want {
		t.Fatalf("expected %q, got %q", want, res.Filter)
	}
	if len(res.Diagnostics) != 0 {
		t.Fatalf("unexpected diagnostics %+v", res.Diagnostics)
	}
}

func TestCompileUnknownLogicalOperator(t *testing.T) {
	res := Compile(rule(policy.ModeHybrid, "XOR",
		policy.Condition{Field: policy.FieldRequestPath, Operator: policy.OpContains, Value: "/admin"},
	), appUUID)

	if !res.Empty() {
		t.Fatalf("expected no output for an unknown operator, got %+v", res)
	}
	if len(res.Diagnostics) != 1 || !strings.Contains(res.Diagnostics[0].Reason, "logical operator") {
		t.Fatalf("expected logical operator diagnostic, got %+v", res.Diagnostics)
	}
}

func TestFragmentNamesDistinguishSimilarIDs(t *testing.T) {
	a := FragmentName(appUUID, "Rule_1")
	b := FragmentName(appUUID, "rule-1")
	if a == b {
		t.Fatalf("distinct rule ids share fragment name %q", a)
	}
	if b != "sentinel/custom-"+appUUID+"-rule-1" {
		t.Fatalf("unexpected fragment name %q", b)
	}
}

package rules

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/sentinelhq/sentinel/internal/policy"
)

const NamePrefix = "sentinel"

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// Slug lowercases s and collapses every run of other characters into '-'.
func Slug(s string) string {
	return strings.Trim(slugPattern.ReplaceAllString(strings.ToLower(s), "-"), "-")
}

// FragmentName is the engine registry name of a rule's AppSec fragment.
func FragmentName(appUUID, ruleID string) string {
	return fmt.Sprintf("%s/custom-%s-%s", NamePrefix, appUUID, policy.RuleKey(ruleID))
}

type indexed struct {
	index int
	cond  policy.Condition
}

// Compile turns one rule into its AppSec fragment and scenario filter
// according to its protection mode. It never fails: skipped conditions
// and dialects are reported as diagnostics.
func Compile(rule policy.FirewallRule, appUUID string) Result {
	var res Result
	diag := func(index int, dialect Dialect, reason string) {
		res.Diagnostics = append(res.Diagnostics, Diagnostic{RuleID: rule.ID, Condition: index, Dialect: dialect, Reason: reason})
	}

	if !rule.Mode.Known() {
		diag(-1, "", fmt.Sprintf("unknown protection mode %q", rule.Mode))
		return res
	}
	op := rule.Operator.Canonical()
	switch {
	case op == "":
		op = policy.LogicalAnd
	case !op.Known():
		diag(-1, "", fmt.Sprintf("unknown logical operator %q", rule.Operator))
		return res
	}

	usable := make([]indexed, 0, len(rule.Conditions))
	for i, cond := range rule.Conditions {
		cond.Field = cond.Field.Canonical()
		if reason := problem(cond); reason != "" {
			diag(i, "", reason)
			continue
		}
		usable = append(usable, indexed{index: i, cond: cond})
	}
	if len(usable) == 0 {
		diag(-1, "", "no usable conditions")
		return res
	}

	if rule.Mode.EmitsAppSec() {
		nodes, ok := foldDialect(usable, op, DialectAppSec, appSecNode, diag)
		if ok {
			res.Fragment = &AppSecRule{
				Name:        FragmentName(appUUID, rule.ID),
				Description: describe(rule),
				Rules:       []RuleNode{combineNodes(nodes, op)},
				Labels: AppSecLabels{
					Type:           "exploit",
					Service:        "http",
					Behavior:       "http:exploit",
					Confidence:     2,
					Spoofable:      0,
					Label:          rule.Name,
					Classification: []string{"attack.T1190"},
				},
			}
		}
	}

	if rule.Mode.EmitsScenario() {
		type part struct {
			expr     string
			geo      bool
			geoBlock bool
		}
		parts, ok := foldDialect(usable, op, DialectScenario, func(c policy.Condition) (part, string) {
			if c.Field == policy.FieldCountryCode {
				expr, block, reason := geoExpr(c)
				return part{expr: expr, geo: true, geoBlock: block}, reason
			}
			expr, reason := scenarioExpr(c)
			return part{expr: expr}, reason
		}, diag)
		if ok {
			exprs := make([]string, 0, len(parts))
			for _, p := range parts {
				exprs = append(exprs, p.expr)
				res.Geo = res.Geo || p.geo
				res.GeoBlock = res.GeoBlock || p.geoBlock
			}
			res.Filter = strings.Join(exprs, " "+strings.ToLower(string(op))+" ")
		}
	}

	return res
}

// foldDialect compiles each usable condition for one dialect. A condition
// the dialect cannot express is dropped under OR; under AND the dialect
// output is abandoned, since dropping a conjunct would widen the match.
func foldDialect[T any](conds []indexed, op policy.LogicalOperator, dialect Dialect, build func(policy.Condition) (T, string), diag func(int, Dialect, string)) ([]T, bool) {
	out := make([]T, 0, len(conds))
	for _, c := range conds {
		item, reason := build(c.cond)
		if reason == "" {
			out = append(out, item)
			continue
		}
		if op == policy.LogicalAnd {
			diag(c.index, dialect, reason+"; "+string(dialect)+" output skipped")
			return nil, false
		}
		diag(c.index, dialect, reason)
	}
	return out, len(out) > 0
}

func problem(c policy.Condition) string {
	if reason := c.Problem(); reason != "" {
		return reason
	}
	if c.Operator.Numeric() && !isNumber(c.Value) {
		return fmt.Sprintf("operator %s needs a numeric value, got %q", c.Operator, c.Value)
	}
	if c.Operator.List() && len(policy.SplitList(c.Value)) == 0 {
		return fmt.Sprintf("operator %s needs at least one value", c.Operator)
	}
	return ""
}

func appSecNode(c policy.Condition) (RuleNode, string) {
	z := fieldTable[c.Field]
	if z.Zone == "" {
		return RuleNode{}, fmt.Sprintf("field %s has no appsec zone", c.Field)
	}
	spec, _ := operatorFor(c.Operator)
	if spec.AppSec == nil {
		return RuleNode{}, fmt.Sprintf("operator %s is not supported by appsec", c.Operator)
	}

	base := RuleNode{Zones: []string{z.Zone}}
	switch {
	case c.Field == policy.FieldHeader:
		base.Variables = []string{strings.TrimSpace(c.Header)}
	case z.Variable != "":
		base.Variables = []string{z.Variable}
	}
	for _, t := range dedupTransforms(c.Transforms) {
		if name := transformTable[t].AppSec; name != "" {
			base.Transform = append(base.Transform, name)
		}
	}

	matches, alternatives := spec.AppSec(c.Value)
	if len(matches) == 1 {
		m := matches[0]
		base.Match = &m
		return base, ""
	}

	children := make([]RuleNode, 0, len(matches))
	for _, m := range matches {
		child := base
		match := m
		child.Match = &match
		children = append(children, child)
	}
	if alternatives {
		return RuleNode{Or: children}, ""
	}
	return RuleNode{And: children}, ""
}

func combineNodes(nodes []RuleNode, op policy.LogicalOperator) RuleNode {
	if len(nodes) == 1 {
		return nodes[0]
	}
	if op == policy.LogicalOr {
		return RuleNode{Or: nodes}
	}
	return RuleNode{And: nodes}
}

func scenarioExpr(c policy.Condition) (string, string) {
	z := fieldTable[c.Field]
	if z.Expr == "" {
		return "", fmt.Sprintf("field %s has no scenario field", c.Field)
	}
	spec, _ := operatorFor(c.Operator)
	if spec.Expr == nil {
		return "", fmt.Sprintf("operator %s is not supported by scenarios", c.Operator)
	}

	field := z.Expr
	for _, t := range dedupTransforms(c.Transforms) {
		if fn := transformTable[t].Expr; fn != "" {
			field = fn + "(" + field + ")"
		}
	}
	return spec.Expr(field, c.Value), ""
}

// geoExpr compiles a country condition. in and equals block the listed
// countries; every other operator allows only them.
func geoExpr(c policy.Condition) (string, bool, string) {
	items := policy.SplitList(strings.ToUpper(c.Value))
	if len(items) == 0 {
		return "", false, "country list is empty"
	}
	field := fieldTable[policy.FieldCountryCode].Expr
	block := c.Operator == policy.OpIn || c.Operator == policy.OpEquals
	if block {
		return field + " in " + quoteList(items), true, ""
	}
	return field + " not in " + quoteList(items), false, ""
}

func dedupTransforms(in []policy.Transform) []policy.Transform {
	seen := make(map[policy.Transform]struct{}, len(in))
	out := make([]policy.Transform, 0, len(in))
	for _, t := range in {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func describe(rule policy.FirewallRule) string {
	if rule.Description != "" {
		return rule.Description
	}
	return rule.Name
}

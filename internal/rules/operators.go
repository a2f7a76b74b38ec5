package rules

import (
	"strconv"
	"strings"

	"github.com/sentinelhq/sentinel/internal/policy"
)

// appSecFunc returns the matches for a value and whether they are
// alternatives (or) rather than requirements (and).
type appSecFunc func(value string) (matches []Match, any bool)

// exprFunc renders a scenario expression for an already transformed field.
type exprFunc func(field, value string) string

type operatorSpec struct {
	AppSec appSecFunc
	Expr   exprFunc
}

// operatorFor returns the mapping of an operator into both dialects. The
// switch lists every policy.Operator so the exhaustive linter flags a new
// one. A nil function marks the operator as not expressible in that dialect.
func operatorFor(op policy.Operator) (operatorSpec, bool) {
	switch op {
	case policy.OpEquals:
		return operatorSpec{AppSec: single(MatchEquals, identity), Expr: binary("==")}, true
	case policy.OpNotEquals:
		return operatorSpec{
			AppSec: single(MatchRegex, func(v string) string { return "^(?!" + QuoteMeta(v) + "$)" }),
			Expr:   binary("!="),
		}, true
	case policy.OpContains:
		return operatorSpec{
			AppSec: single(MatchRegex, func(v string) string { return ".*" + QuoteMeta(v) + ".*" }),
			Expr:   binary("contains"),
		}, true
	case policy.OpNotContains:
		return operatorSpec{
			AppSec: single(MatchRegex, func(v string) string { return "^((?!" + QuoteMeta(v) + ").)*$" }),
			Expr: func(f, v string) string {
				return "!(" + f + " contains " + quote(v) + ")"
			},
		}, true
	case policy.OpStartsWith:
		return operatorSpec{
			AppSec: single(MatchRegex, func(v string) string { return QuoteMeta(v) + ".*" }),
			Expr:   binary("startsWith"),
		}, true
	case policy.OpEndsWith:
		return operatorSpec{
			AppSec: single(MatchRegex, func(v string) string { return ".*" + QuoteMeta(v) }),
			Expr:   binary("endsWith"),
		}, true
	case policy.OpRegex:
		return operatorSpec{
			AppSec: single(MatchRegex, NormalizeRegex),
			Expr: func(f, v string) string {
				return f + " matches '" + v + "'"
			},
		}, true
	case policy.OpIn:
		return operatorSpec{AppSec: list(false), Expr: listExpr("in")}, true
	case policy.OpNotIn:
		return operatorSpec{AppSec: list(true), Expr: listExpr("not in")}, true
	case policy.OpGreater:
		return operatorSpec{AppSec: single(MatchGreater, identity), Expr: numeric(">")}, true
	case policy.OpGreaterOrEqual:
		return operatorSpec{AppSec: single(MatchGreaterOrEqual, identity), Expr: numeric(">=")}, true
	case policy.OpLess:
		return operatorSpec{AppSec: single(MatchLess, identity), Expr: numeric("<")}, true
	case policy.OpLessOrEqual:
		return operatorSpec{AppSec: single(MatchLessOrEqual, identity), Expr: numeric("<=")}, true
	case policy.OpLibInjectionSQL:
		return operatorSpec{AppSec: single(MatchLibInjectionSQL, none)}, true
	case policy.OpLibInjectionXSS:
		return operatorSpec{AppSec: single(MatchLibInjectionXSS, none)}, true
	}
	return operatorSpec{}, false
}

func identity(v string) string { return v }

func none(string) string { return "" }

func single(t MatchType, pattern func(string) string) appSecFunc {
	return func(v string) ([]Match, bool) {
		return []Match{{Type: t, Value: pattern(v)}}, false
	}
}

func list(negate bool) appSecFunc {
	return func(v string) ([]Match, bool) {
		items := policy.SplitList(v)
		out := make([]Match, 0, len(items))
		for _, item := range items {
			out = append(out, Match{Type: MatchEquals, Value: item, Not: negate})
		}
		return out, !negate
	}
}

func binary(op string) exprFunc {
	return func(f, v string) string {
		return f + " " + op + " " + quote(v)
	}
}

func numeric(op string) exprFunc {
	return func(f, v string) string {
		return "Atof(" + f + ") " + op + " " + strings.TrimSpace(v)
	}
}

func listExpr(op string) exprFunc {
	return func(f, v string) string {
		return f + " " + op + " " + quoteList(policy.SplitList(v))
	}
}

func quote(v string) string {
	return `"` + strings.ReplaceAll(v, `"`, `\"`) + `"`
}

func quoteList(items []string) string {
	quoted := make([]string, 0, len(items))
	for _, item := range items {
		quoted = append(quoted, "'"+strings.ReplaceAll(item, "'", `\'`)+"'")
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

func isNumber(v string) bool {
	_, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return err == nil
}

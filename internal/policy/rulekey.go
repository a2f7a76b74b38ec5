package policy

import (
	"fmt"
	"strings"
	"time"
)

const MaxRuleIDLength = 64

// RuleKey encodes a rule ID for engine names and file names. Lowercase
// letters, digits and '-' are kept; every other byte becomes "_xx" in hex.
// '_' is never kept literally, so distinct IDs always give distinct keys.
func RuleKey(id string) string {
	var b strings.Builder
	b.Grow(len(id))
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "_%02x", c)
		}
	}
	return b.String()
}

// RuleProblems checks the rules of one firewall and returns every problem,
// each prefixed with the rule's position. Condition problems are left to
// the compiler, which reports them as diagnostics.
func (c FirewallConfig) RuleProblems() []string {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	seen := map[string]bool{}
	for j, rule := range c.Rules {
		prefix := fmt.Sprintf("rules[%d]", j)
		switch {
		case rule.ID == "":
			add("%s.id is required", prefix)
		case len(rule.ID) > MaxRuleIDLength:
			add("%s.id is longer than %d characters", prefix, MaxRuleIDLength)
		case seen[rule.ID]:
			add("%s.id %q is duplicated", prefix, rule.ID)
		}
		seen[rule.ID] = true
		if rule.Mode != "" && !rule.Mode.Known() {
			add("%s.mode must be path_only|ip_ban|hybrid", prefix)
		}
		if rule.Action != "" && !rule.Action.Known() {
			add("%s.action must be block|allow|captcha|log", prefix)
		}
		if rule.Operator != "" && !rule.Operator.Known() {
			add("%s.operator must be AND|OR", prefix)
		}
		if rule.Capacity < 0 {
			add("%s.capacity must be >= 0", prefix)
		}
		if rule.LeakSpeed != "" {
			if d, err := time.ParseDuration(rule.LeakSpeed); err != nil {
				add("%s.leakSpeed invalid: %v", prefix, err)
			} else if d <= 0 {
				add("%s.leakSpeed must be > 0", prefix)
			}
		}
		if rule.RemediationDuration < 0 {
			add("%s.remediationDuration must be >= 0", prefix)
		}
	}
	return problems
}

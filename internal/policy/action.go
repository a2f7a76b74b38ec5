package policy

import "strings"

type Action string

const (
	ActionBlock   Action = "block"
	ActionAllow   Action = "allow"
	ActionCaptcha Action = "captcha"
	ActionLog     Action = "log"
)

type ProtectionMode string

const (
	ModePathOnly ProtectionMode = "path_only"
	ModeIPBan    ProtectionMode = "ip_ban"
	ModeHybrid   ProtectionMode = "hybrid"
)

type LogicalOperator string

const (
	LogicalAnd LogicalOperator = "AND"
	LogicalOr  LogicalOperator = "OR"
)

func (a Action) Known() bool {
	switch a {
	case ActionBlock, ActionAllow, ActionCaptcha, ActionLog:
		return true
	default:
		return false
	}
}

// Remediation maps an action to the engine decision type and whether the
// scenario should produce a decision at all.
func (a Action) Remediation() (string, bool) {
	switch a {
	case ActionBlock:
		return "ban", true
	case ActionCaptcha:
		return "captcha", true
	case ActionLog, ActionAllow:
		return "", false
	default:
		return "", false
	}
}

func (m ProtectionMode) Known() bool {
	switch m {
	case ModePathOnly, ModeIPBan, ModeHybrid:
		return true
	default:
		return false
	}
}

// EmitsAppSec reports whether the mode produces an inline AppSec fragment.
func (m ProtectionMode) EmitsAppSec() bool {
	return m == ModePathOnly || m == ModeHybrid
}

// EmitsScenario reports whether the mode produces a scenario document.
func (m ProtectionMode) EmitsScenario() bool {
	return m == ModeIPBan || m == ModeHybrid
}

// Canonical trims and upper-cases the operator, so "or" reads as OR.
func (o LogicalOperator) Canonical() LogicalOperator {
	return LogicalOperator(strings.ToUpper(strings.TrimSpace(string(o))))
}

func (o LogicalOperator) Known() bool {
	c := o.Canonical()
	return c == LogicalAnd || c == LogicalOr
}

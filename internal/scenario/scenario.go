package scenario

import (
	"fmt"

	"github.com/sentinelhq/sentinel/internal/policy"
	"github.com/sentinelhq/sentinel/internal/rules"
)

const (
	TypeLeaky   = "leaky"
	TypeTrigger = "trigger"

	GroupBySourceIP = "evt.Meta.source_ip"
)

type Scenario struct {
	Type        string `yaml:"type"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Filter      string `yaml:"filter"`
	GroupBy     string `yaml:"groupby"`
	Capacity    int    `yaml:"capacity,omitempty"`
	LeakSpeed   string `yaml:"leakspeed,omitempty"`
	Blackhole   string `yaml:"blackhole"`
	Labels      Labels `yaml:"labels"`
}

type Labels struct {
	Service         string `yaml:"service"`
	Type            string `yaml:"type"`
	Remediation     bool   `yaml:"remediation"`
	RemediationType string `yaml:"remediation_type,omitempty"`
	GeoMode         string `yaml:"geo_mode,omitempty"`
	ProtectionMode  string `yaml:"protection_mode"`
	ApplicationUUID string `yaml:"application_uuid"`
	RuleID          string `yaml:"rule_id"`
	RuleName        string `yaml:"rule_name"`
}

// IsolationClause restricts a scenario to traffic routed to one application.
func IsolationClause(appUUID string) string {
	return fmt.Sprintf("evt.Parsed.program == 'traefik' and (evt.Meta.traefik_router_name contains '%s' or evt.Meta.http_host contains '%s')", appUUID, appUUID)
}

// Name embeds both the application and the rule identifier so equal
// rules never collide in the engine registry.
func Name(appUUID string, rule policy.FirewallRule) string {
	slug := rules.Slug(rule.Name)
	if slug == "" {
		slug = "rule"
	}
	return fmt.Sprintf("%s/%s-%s-%s", rules.NamePrefix, slug, appUUID, policy.RuleKey(rule.ID))
}

func FileName(appUUID, ruleID string) string {
	return fmt.Sprintf("%s-%s-%s.yaml", rules.NamePrefix, appUUID, policy.RuleKey(ruleID))
}

// Generate wraps a compiled filter into a tenant-isolated scenario. It
// returns nil when the rule produced no scenario filter.
func Generate(appUUID string, rule policy.FirewallRule, res rules.Result, banDuration int) *Scenario {
	if res.Filter == "" {
		return nil
	}

	duration := rule.RemediationDuration
	if duration <= 0 {
		duration = banDuration
	}
	if duration <= 0 {
		duration = policy.DefaultBanDuration
	}
	remediationType, decides := rule.Action.Remediation()

	s := &Scenario{
		Name:        Name(appUUID, rule),
		Description: description(rule),
		Filter:      IsolationClause(appUUID) + " and (" + res.Filter + ")",
		GroupBy:     GroupBySourceIP,
		Blackhole:   fmt.Sprintf("%ds", duration),
		Labels: Labels{
			Service:         "http",
			Type:            "custom_block",
			Remediation:     decides,
			RemediationType: remediationType,
			ProtectionMode:  string(rule.Mode),
			ApplicationUUID: appUUID,
			RuleID:          rule.ID,
			RuleName:        rule.Name,
		},
	}

	if res.Geo {
		s.Type = TypeTrigger
		s.Labels.Type = "geo_blocking"
		s.Labels.GeoMode = "allow"
		if res.GeoBlock {
			s.Labels.GeoMode = "block"
		}
		return s
	}

	s.Type = TypeLeaky
	s.Capacity = rule.Capacity
	if s.Capacity <= 0 {
		s.Capacity = policy.DefaultCapacity
	}
	s.LeakSpeed = rule.LeakSpeed
	if s.LeakSpeed == "" {
		s.LeakSpeed = policy.DefaultLeakSpeed
	}
	return s
}

func description(rule policy.FirewallRule) string {
	if rule.Description != "" {
		return rule.Description
	}
	return fmt.Sprintf("%s (rule %s)", rule.Name, rule.ID)
}

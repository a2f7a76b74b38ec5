package policy

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
)

const (
	DefaultBanDuration     = 3600
	DefaultBlockedHTTPCode = 403
	DefaultPassedHTTPCode  = 200
	DefaultCapacity        = 1
	DefaultLeakSpeed       = "10s"
	DefaultRemediation     = "ban"
)

type Application struct {
	UUID     string         `yaml:"uuid" json:"uuid"`
	Name     string         `yaml:"name" json:"name"`
	Server   string         `yaml:"server" json:"server"`
	Router   Router         `yaml:"router" json:"router"`
	Firewall FirewallConfig `yaml:"firewall" json:"firewall"`
}

// Router describes how the reverse proxy reaches the application.
type Router struct {
	Name        string   `yaml:"name" json:"name"`
	Rule        string   `yaml:"rule" json:"rule"`
	Service     string   `yaml:"service" json:"service"`
	EntryPoints []string `yaml:"entryPoints" json:"entryPoints"`
	Middlewares []string `yaml:"middlewares" json:"middlewares"`
}

type FirewallConfig struct {
	Enabled            bool           `yaml:"enabled" json:"enabled"`
	InbandEnabled      *bool          `yaml:"inbandEnabled" json:"inbandEnabled"`
	OutOfBandEnabled   bool           `yaml:"outOfBandEnabled" json:"outOfBandEnabled"`
	AppSecEnabled      *bool          `yaml:"appsecEnabled" json:"appsecEnabled"`
	DefaultRemediation string         `yaml:"defaultRemediation" json:"defaultRemediation"`
	BanDuration        int            `yaml:"banDuration" json:"banDuration"`
	BlockedHTTPCode    int            `yaml:"blockedHttpCode" json:"blockedHttpCode"`
	PassedHTTPCode     int            `yaml:"passedHttpCode" json:"passedHttpCode"`
	Rules              []FirewallRule `yaml:"rules" json:"rules"`
}

type FirewallRule struct {
	ID                  string          `yaml:"id" json:"id"`
	Name                string          `yaml:"name" json:"name"`
	Description         string          `yaml:"description" json:"description,omitempty"`
	Enabled             bool            `yaml:"enabled" json:"enabled"`
	Priority            int             `yaml:"priority" json:"priority"`
	Mode                ProtectionMode  `yaml:"mode" json:"mode"`
	Action              Action          `yaml:"action" json:"action"`
	RemediationDuration int             `yaml:"remediationDuration" json:"remediationDuration"`
	Capacity            int             `yaml:"capacity" json:"capacity"`
	LeakSpeed           string          `yaml:"leakSpeed" json:"leakSpeed"`
	Operator            LogicalOperator `yaml:"operator" json:"operator"`
	Conditions          []Condition     `yaml:"conditions" json:"conditions"`
}

// Inband reports whether custom AppSec rules run in-band. Unset means true.
func (c FirewallConfig) Inband() bool {
	return c.InbandEnabled == nil || *c.InbandEnabled
}

// AppSec reports whether AppSec output is produced at all. Unset means true.
func (c FirewallConfig) AppSec() bool {
	return c.AppSecEnabled == nil || *c.AppSecEnabled
}

func (c *FirewallConfig) ApplyDefaults() {
	if c.DefaultRemediation == "" {
		c.DefaultRemediation = DefaultRemediation
	}
	if c.BanDuration <= 0 {
		c.BanDuration = DefaultBanDuration
	}
	if c.BlockedHTTPCode == 0 {
		c.BlockedHTTPCode = DefaultBlockedHTTPCode
	}
	if c.PassedHTTPCode == 0 {
		c.PassedHTTPCode = DefaultPassedHTTPCode
	}
	for i := range c.Rules {
		c.Rules[i].applyDefaults(c.BanDuration)
	}
}

func (r *FirewallRule) applyDefaults(banDuration int) {
	if r.Mode == "" {
		r.Mode = ModeHybrid
	}
	if r.Action == "" {
		r.Action = ActionBlock
	}
	if r.Operator == "" {
		r.Operator = LogicalAnd
	}
	if r.Operator.Known() {
		r.Operator = r.Operator.Canonical()
	}
	if r.Capacity <= 0 {
		r.Capacity = DefaultCapacity
	}
	if r.LeakSpeed == "" {
		r.LeakSpeed = DefaultLeakSpeed
	}
	if r.RemediationDuration <= 0 {
		r.RemediationDuration = banDuration
	}
}

// EnabledRules returns enabled rules ordered by priority, then ID.
func (c FirewallConfig) EnabledRules() []FirewallRule {
	out := make([]FirewallRule, 0, len(c.Rules))
	for _, rule := range c.Rules {
		if rule.Enabled {
			out = append(out, rule)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority == out[j].Priority {
			return out[i].ID < out[j].ID
		}
		return out[i].Priority < out[j].Priority
	})
	return out
}

// ValidateUUID checks the application identifier used for tenant isolation.
func ValidateUUID(id string) error {
	if id == "" {
		return fmt.Errorf("application uuid is required")
	}
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("application uuid %q: %w", id, err)
	}
	return nil
}

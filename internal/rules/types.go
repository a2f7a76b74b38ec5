package rules

import "github.com/sentinelhq/sentinel/internal/policy"

// MatchType is the AppSec match kind understood by the engine.
type MatchType string

const (
	MatchEquals          MatchType = "equals"
	MatchRegex           MatchType = "regex"
	MatchGreater         MatchType = "gt"
	MatchGreaterOrEqual  MatchType = "gte"
	MatchLess            MatchType = "lt"
	MatchLessOrEqual     MatchType = "lte"
	MatchLibInjectionSQL MatchType = "libinjectionSQL"
	MatchLibInjectionXSS MatchType = "libinjectionXSS"
)

type Dialect string

const (
	DialectAppSec   Dialect = "appsec"
	DialectScenario Dialect = "scenario"
)

// AppSecRule is one inline AppSec rule document.
type AppSecRule struct {
	Name        string       `yaml:"name"`
	Description string       `yaml:"description,omitempty"`
	Rules       []RuleNode   `yaml:"rules"`
	Labels      AppSecLabels `yaml:"labels"`
}

type RuleNode struct {
	And       []RuleNode `yaml:"and,omitempty"`
	Or        []RuleNode `yaml:"or,omitempty"`
	Zones     []string   `yaml:"zones,omitempty"`
	Variables []string   `yaml:"variables,omitempty"`
	Transform []string   `yaml:"transform,omitempty"`
	Match     *Match     `yaml:"match,omitempty"`
}

type Match struct {
	Type  MatchType `yaml:"type"`
	Value string    `yaml:"value,omitempty"`
	Not   bool      `yaml:"not,omitempty"`
}

type AppSecLabels struct {
	Type           string   `yaml:"type"`
	Service        string   `yaml:"service"`
	Behavior       string   `yaml:"behavior"`
	Confidence     int      `yaml:"confidence"`
	Spoofable      int      `yaml:"spoofable"`
	Label          string   `yaml:"label"`
	Classification []string `yaml:"classification"`
}

// Diagnostic records a condition or dialect output that was skipped.
type Diagnostic struct {
	RuleID    string  `json:"rule_id"`
	Condition int     `json:"condition"`
	Dialect   Dialect `json:"dialect,omitempty"`
	Reason    string  `json:"reason"`
}

// Result is the compiled form of one rule. Both outputs may be empty.
type Result struct {
	Fragment    *AppSecRule
	Filter      string
	Geo         bool
	GeoBlock    bool
	Diagnostics []Diagnostic
}

func (r Result) Empty() bool {
	return r.Fragment == nil && r.Filter == ""
}

// zone describes where a field lives in each dialect. An empty Zone or
// Expr means the field cannot be expressed in that dialect.
type zone struct {
	Zone     string
	Variable string
	Expr     string
}

var fieldTable = map[policy.Field]zone{
	policy.FieldRequestPath:    {Zone: "URI", Expr: "evt.Parsed.request"},
	policy.FieldURIFull:        {Zone: "URI_FULL", Expr: "evt.Parsed.uri"},
	policy.FieldQueryParameter: {Zone: "ARGS", Expr: "evt.Parsed.uri"},
	policy.FieldPostBody:       {Zone: "BODY_ARGS"},
	policy.FieldHeader:         {Zone: "HEADERS"},
	policy.FieldUserAgent:      {Zone: "HEADERS", Variable: "User-Agent", Expr: "evt.Parsed.http_user_agent"},
	policy.FieldReferer:        {Zone: "HEADERS", Variable: "Referer", Expr: "evt.Parsed.http_referer"},
	policy.FieldHost:           {Zone: "HEADERS", Variable: "Host", Expr: "evt.Meta.target_fqdn"},
	policy.FieldMethod:         {Zone: "METHOD", Expr: "evt.Parsed.verb"},
	policy.FieldIPAddress:      {Expr: "evt.Meta.source_ip"},
	policy.FieldCountryCode:    {Expr: "evt.Enriched.IsoCode"},
	policy.FieldProtocol:       {Zone: "PROTOCOL", Expr: "evt.Parsed.http_version"},
}

var transformTable = map[policy.Transform]struct {
	AppSec string
	Expr   string
}{
	policy.TransformLowercase:     {AppSec: "lowercase", Expr: "lower"},
	policy.TransformTrim:          {AppSec: "trim", Expr: "trim"},
	policy.TransformURLDecode:     {AppSec: "urldecode", Expr: "PathUnescape"},
	policy.TransformBase64Decode:  {AppSec: "b64decode", Expr: "B64Decode"},
	policy.TransformPathNormalize: {AppSec: "normalizepath"},
}

package artifact

import (
	"fmt"
	"net"

	"github.com/sentinelhq/sentinel/internal/policy"
	"github.com/sentinelhq/sentinel/internal/rules"
	"github.com/sentinelhq/sentinel/internal/scenario"
)

const (
	DefaultAccessLog    = "/traefik/access.log"
	DefaultAppSecListen = "0.0.0.0:7422"
)

// AppSecConfig is the per-application AppSec config document.
type AppSecConfig struct {
	Name               string    `yaml:"name"`
	DefaultRemediation string    `yaml:"default_remediation"`
	DefaultPassAction  string    `yaml:"default_pass_action"`
	BlockedHTTPCode    int       `yaml:"blocked_http_code"`
	PassedHTTPCode     int       `yaml:"passed_http_code"`
	InbandRules        []string  `yaml:"inband_rules"`
	OutOfBandRules     *[]string `yaml:"outofband_rules,omitempty"`
	LogLevel           string    `yaml:"log_level"`
}

// RuleOutput is what one rule contributes to a bundle.
type RuleOutput struct {
	Fragment    *rules.AppSecRule
	Scenario    *scenario.Scenario
	Diagnostics []rules.Diagnostic
}

type Builder struct {
	Layout    Layout
	AccessLog string
	// AppSecListen is the listen address of the engine's AppSec source.
	AppSecListen string
}

// AppSecListenAddr derives the engine-side listen address from the address
// the proxy plugin dials, keeping only its port.
func AppSecListenAddr(appSecHost string) string {
	_, port, err := net.SplitHostPort(appSecHost)
	if err != nil || port == "" {
		return DefaultAppSecListen
	}
	return net.JoinHostPort("0.0.0.0", port)
}

func AppSecConfigName(appUUID string) string {
	return fmt.Sprintf("%s/app-%s", rules.NamePrefix, appUUID)
}

// CompileRule compiles one rule for an application into both dialects.
func CompileRule(appUUID string, rule policy.FirewallRule, banDuration int) RuleOutput {
	res := rules.Compile(rule, appUUID)
	return RuleOutput{
		Fragment:    res.Fragment,
		Scenario:    scenario.Generate(appUUID, rule, res, banDuration),
		Diagnostics: res.Diagnostics,
	}
}

// Build assembles the full bundle for one application. The output is
// byte-identical for identical input. Skipped conditions and rules are
// returned as diagnostics, never as an error.
func (b Builder) Build(app policy.Application) (Set, []rules.Diagnostic, error) {
	if err := policy.ValidateUUID(app.UUID); err != nil {
		return nil, nil, err
	}
	cfg := app.Firewall
	cfg.ApplyDefaults()
	if !cfg.Enabled {
		return Set{}, nil, nil
	}

	var (
		diagnostics []rules.Diagnostic
		fragments   []*rules.AppSecRule
		set         Set
	)

	for _, rule := range cfg.EnabledRules() {
		out := CompileRule(app.UUID, rule, cfg.BanDuration)
		diagnostics = append(diagnostics, out.Diagnostics...)

		if out.Fragment != nil && cfg.AppSec() {
			fragments = append(fragments, out.Fragment)
		}
		if out.Scenario != nil {
			content, err := Encode(out.Scenario)
			if err != nil {
				return nil, nil, fmt.Errorf("rule %s: %w", rule.ID, err)
			}
			set = append(set, Artifact{
				Name:       out.Scenario.Name,
				Kind:       KindScenario,
				RemotePath: b.Layout.ScenarioPath(app.UUID, rule.ID),
				Content:    content,
			})
		}
	}

	names := make([]string, 0, len(fragments))
	for _, f := range fragments {
		names = append(names, f.Name)
	}

	doc := AppSecConfig{
		Name:               AppSecConfigName(app.UUID),
		DefaultRemediation: cfg.DefaultRemediation,
		DefaultPassAction:  "allow",
		BlockedHTTPCode:    cfg.BlockedHTTPCode,
		PassedHTTPCode:     cfg.PassedHTTPCode,
		InbandRules:        []string{},
		LogLevel:           "info",
	}
	if cfg.Inband() {
		doc.InbandRules = append(doc.InbandRules, names...)
	}
	if cfg.OutOfBandEnabled {
		outOfBand := append([]string{}, names...)
		doc.OutOfBandRules = &outOfBand
	}
	content, err := Encode(doc)
	if err != nil {
		return nil, nil, err
	}
	set = append(set, Artifact{
		Name:       doc.Name,
		Kind:       KindAppSecConfig,
		RemotePath: b.Layout.AppSecConfigPath(app.UUID),
		Content:    content,
	})

	if cfg.AppSec() {
		listen := b.AppSecListen
		if listen == "" {
			listen = DefaultAppSecListen
		}
		content, err := Encode(scenario.AppSecAcquisition(listen, doc.Name, app.UUID))
		if err != nil {
			return nil, nil, err
		}
		set = append(set, Artifact{
			Name:       "appsec-acquisition-" + app.UUID,
			Kind:       KindAcquisition,
			RemotePath: b.Layout.AppSecAcquisitionPath(app.UUID),
			Content:    content,
		})
	}

	if len(fragments) > 0 {
		docs := make([]any, 0, len(fragments))
		for _, f := range fragments {
			docs = append(docs, f)
		}
		content, err := Encode(docs...)
		if err != nil {
			return nil, nil, err
		}
		set = append(set, Artifact{
			Name:       fmt.Sprintf("%s/custom-%s", rules.NamePrefix, app.UUID),
			Kind:       KindAppSecRules,
			RemotePath: b.Layout.AppSecRulesPath(app.UUID),
			Content:    content,
		})
	}

	set = set.sorted()
	for i := 1; i < len(set); i++ {
		if set[i].RemotePath == set[i-1].RemotePath {
			return nil, nil, fmt.Errorf("two artifacts share %s", set[i].RemotePath)
		}
	}
	return set, diagnostics, nil
}

// HostDocuments returns the fixed parser and acquisition documents every
// host needs before any scenario receives events.
func (b Builder) HostDocuments() (Set, error) {
	accessLog := b.AccessLog
	if accessLog == "" {
		accessLog = DefaultAccessLog
	}

	docs := []struct {
		name string
		kind Kind
		path string
		doc  any
	}{
		{scenario.RawParserName, KindParser, b.Layout.RawParserPath(), scenario.RawParser()},
		{scenario.EnrichParserName, KindParser, b.Layout.EnrichParserPath(), scenario.EnrichParser()},
		{"traefik-acquisition", KindAcquisition, b.Layout.AcquisitionPath(), scenario.TraefikAcquisition(accessLog)},
	}

	set := make(Set, 0, len(docs))
	for _, d := range docs {
		content, err := Encode(d.doc)
		if err != nil {
			return nil, err
		}
		set = append(set, Artifact{Name: d.name, Kind: d.kind, RemotePath: d.path, Content: content})
	}
	return set.sorted(), nil
}

// HasGeo reports whether any scenario in the set depends on GeoIP enrichment.
func HasGeo(set Set) bool {
	for _, a := range set {
		if a.Kind == KindScenario && containsGeo(a.Content) {
			return true
		}
	}
	return false
}

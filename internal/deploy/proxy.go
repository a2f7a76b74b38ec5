package deploy

import (
	"context"
	"fmt"
	"net/url"
	"path"

	"gopkg.in/yaml.v3"

	"github.com/sentinelhq/sentinel/internal/policy"
	"github.com/sentinelhq/sentinel/internal/remote"
	"github.com/sentinelhq/sentinel/internal/rules"
)

const bouncerPlugin = "crowdsec-bouncer-traefik-plugin"

// DynamicConfig is a Traefik file provider document.
type DynamicConfig struct {
	HTTP HTTPConfig `yaml:"http"`
}

type HTTPConfig struct {
	Middlewares map[string]Middleware `yaml:"middlewares"`
	Routers     map[string]Router     `yaml:"routers,omitempty"`
}

type Middleware struct {
	Plugin map[string]BouncerPlugin `yaml:"plugin"`
}

type BouncerPlugin struct {
	Enabled                bool   `yaml:"enabled"`
	CrowdsecMode           string `yaml:"crowdsecMode"`
	CrowdsecLapiKey        string `yaml:"crowdsecLapiKey"`
	CrowdsecLapiHost       string `yaml:"crowdsecLapiHost"`
	CrowdsecLapiScheme     string `yaml:"crowdsecLapiScheme"`
	CrowdsecAppsecEnabled  bool   `yaml:"crowdsecAppsecEnabled"`
	CrowdsecAppsecHost     string `yaml:"crowdsecAppsecHost,omitempty"`
	CrowdsecAppsecBlock    bool   `yaml:"crowdsecAppsecFailureBlock"`
	DefaultDecisionSeconds int    `yaml:"defaultDecisionSeconds"`
	HTTPTimeoutSeconds     int    `yaml:"httpTimeoutSeconds"`
}

type Router struct {
	Rule        string   `yaml:"rule"`
	Service     string   `yaml:"service"`
	EntryPoints []string `yaml:"entryPoints,omitempty"`
	Middlewares []string `yaml:"middlewares"`
}

func MiddlewareName(appUUID string) string {
	return "crowdsec-" + appUUID
}

// AppendMiddleware adds name to chain unless it is already present. The
// order of existing entries is kept.
func AppendMiddleware(chain []string, name string) []string {
	out := make([]string, 0, len(chain)+1)
	seen := make(map[string]struct{}, len(chain)+1)
	for _, m := range chain {
		if _, dup := seen[m]; dup {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	if _, dup := seen[name]; !dup {
		out = append(out, name)
	}
	return out
}

func (o *Orchestrator) dynamicPath(appUUID string) string {
	return path.Join(o.opts.Proxy.DynamicDir, rules.NamePrefix+"-"+appUUID+".yaml")
}

// BuildDynamicConfig renders the proxy document that puts the bouncer in
// front of the application's router.
func (o *Orchestrator) BuildDynamicConfig(app policy.Application, bouncerKey string) ([]byte, error) {
	lapi, err := url.Parse(o.opts.Engine.LAPIURL)
	if err != nil {
		return nil, fmt.Errorf("engine lapi url: %w", err)
	}
	fw := app.Firewall
	fw.ApplyDefaults()

	name := MiddlewareName(app.UUID)
	doc := DynamicConfig{HTTP: HTTPConfig{
		Middlewares: map[string]Middleware{
			name: {Plugin: map[string]BouncerPlugin{
				bouncerPlugin: {
					Enabled:                true,
					CrowdsecMode:           "live",
					CrowdsecLapiKey:        bouncerKey,
					CrowdsecLapiHost:       lapi.Host,
					CrowdsecLapiScheme:     lapi.Scheme,
					CrowdsecAppsecEnabled:  fw.AppSec(),
					CrowdsecAppsecHost:     o.opts.Engine.AppSecHost,
					CrowdsecAppsecBlock:    true,
					DefaultDecisionSeconds: fw.BanDuration,
					HTTPTimeoutSeconds:     10,
				},
			}},
		},
	}}
	if app.Router.Name != "" {
		doc.HTTP.Routers = map[string]Router{
			app.Router.Name: {
				Rule:        app.Router.Rule,
				Service:     app.Router.Service,
				EntryPoints: app.Router.EntryPoints,
				Middlewares: AppendMiddleware(app.Router.Middlewares, name+"@file"),
			},
		}
	}
	return yaml.Marshal(doc)
}

func (o *Orchestrator) wireProxy(ctx context.Context, host remote.Host, app policy.Application) error {
	cred, ok, err := o.store.Credential(ctx, app.UUID)
	if err != nil {
		return fmt.Errorf("read credential: %w", err)
	}
	if !ok {
		return fmt.Errorf("no bouncer credential for %s", app.UUID)
	}
	key, err := o.box.Open(cred.EncryptedKey)
	if err != nil {
		return fmt.Errorf("open bouncer key: %w", err)
	}
	content, err := o.BuildDynamicConfig(app, key)
	if err != nil {
		return err
	}
	if err := o.pushFile(ctx, host, o.dynamicPath(app.UUID), content); err != nil {
		return err
	}
	return o.reloadProxy(ctx, host)
}

func (o *Orchestrator) unwireProxy(ctx context.Context, host remote.Host, appUUID string) error {
	if _, err := o.run(ctx, host, "unwire_proxy", "rm -f "+remote.Quote(o.dynamicPath(appUUID))); err != nil {
		return err
	}
	return o.reloadProxy(ctx, host)
}

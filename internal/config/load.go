package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	cfg.baseDir = filepath.Dir(absPath)
	cfg.ApplyDefaults()

	return &cfg, nil
}

func (c *Config) ApplyDefaults() {
	e := &c.Engine
	setString(&e.Container, "crowdsec")
	setString(&e.Image, "crowdsecurity/crowdsec:latest")
	setString(&e.ConfigRoot, "/var/lib/sentinel/crowdsec/config")
	setString(&e.ComposeDir, "/var/lib/sentinel/crowdsec")
	setString(&e.Network, "sentinel")
	setString(&e.LAPIURL, "http://crowdsec:8080")
	setString(&e.AppSecHost, "crowdsec:7422")
	setString(&e.Owner, "1000:1000")
	if e.LAPIPort == 0 {
		e.LAPIPort = 8081
	}
	if len(e.Collections) == 0 {
		e.Collections = []string{"crowdsecurity/traefik", "crowdsecurity/http-cve", "crowdsecurity/base-http-scenarios"}
	}
	if len(e.AppSecCollections) == 0 {
		e.AppSecCollections = []string{"crowdsecurity/appsec-virtual-patching", "crowdsecurity/appsec-generic-rules"}
	}
	if e.StartupWait == 0 {
		e.StartupWait = 15 * time.Second
	}

	p := &c.Proxy
	setString(&p.Container, "traefik")
	setString(&p.DynamicDir, "/var/lib/sentinel/proxy/dynamic")
	setString(&p.AccessLog, "/traefik/access.log")
	setString(&p.LogDir, "/var/lib/sentinel/proxy/logs")
	if p.LogLines == 0 {
		p.LogLines = 2000
	}

	if c.Timeouts.Remote == 0 {
		c.Timeouts.Remote = 10 * time.Second
	}
	if c.Timeouts.API == 0 {
		c.Timeouts.API = 10 * time.Second
	}
	if c.Deploy.Debounce == 0 {
		c.Deploy.Debounce = 3 * time.Second
	}
	if c.Deploy.HealthAttempts == 0 {
		c.Deploy.HealthAttempts = 5
	}
	if c.Deploy.HealthInterval == 0 {
		c.Deploy.HealthInterval = 2 * time.Second
	}
	setString(&c.State.Driver, StateFile)
	setString(&c.State.Path, "state/ledger.json")
	if c.API.TriggerRPS == 0 {
		c.API.TriggerRPS = 1
	}
	if c.API.TriggerBurst == 0 {
		c.API.TriggerBurst = 5
	}
	setString(&c.Logging.Level, "info")
	setString(&c.Logging.Format, "json")

	for i := range c.Applications {
		c.Applications[i].Firewall.ApplyDefaults()
	}
}

func setString(v *string, def string) {
	if *v == "" {
		*v = def
	}
}

func (c *Config) resolvePath(p string) string {
	if p == "" {
		return ""
	}
	if filepath.IsAbs(p) {
		return p
	}
	base := c.baseDir
	if base == "" {
		base = "."
	}
	return filepath.Join(base, p)
}

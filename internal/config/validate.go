package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sentinelhq/sentinel/internal/policy"
)

type ValidationError struct {
	Problems []string
}

func (v *ValidationError) Add(format string, args ...any) {
	v.Problems = append(v.Problems, fmt.Sprintf(format, args...))
}

func (v *ValidationError) Error() string {
	return fmt.Sprintf("%d validation error(s)", len(v.Problems))
}

// Validate checks the structure of the configuration. Malformed rule
// conditions are not reported here; the compiler skips them and surfaces
// them as diagnostics.
func (c *Config) Validate() error {
	v := &ValidationError{}

	if c.ConfigVersion != 1 {
		v.Add("configVersion must be 1")
	}

	c.validateEngine(v)

	if !path.IsAbs(c.Proxy.DynamicDir) {
		v.Add("proxy.dynamicDir must be an absolute path")
	}
	if !path.IsAbs(c.Proxy.AccessLog) {
		v.Add("proxy.accessLog must be an absolute path")
	}
	if !path.IsAbs(c.Proxy.LogDir) {
		v.Add("proxy.logDir must be an absolute path")
	}
	if c.Proxy.LogLines <= 0 {
		v.Add("proxy.logLines must be > 0")
	}

	if c.Timeouts.Remote <= 0 {
		v.Add("timeouts.remote must be > 0")
	}
	if c.Timeouts.API <= 0 {
		v.Add("timeouts.api must be > 0")
	}
	if c.Deploy.Debounce < 0 {
		v.Add("deploy.debounce must be >= 0")
	}
	if c.Deploy.HealthAttempts <= 0 {
		v.Add("deploy.healthAttempts must be > 0")
	}
	if c.Deploy.HealthInterval < 0 {
		v.Add("deploy.healthInterval must be >= 0")
	}

	switch c.State.Driver {
	case StateFile, StateSQLite:
		if err := ensureWritable(c.resolvePath(c.State.Path)); err != nil {
			v.Add("state.path invalid: %v", err)
		}
	default:
		v.Add("state.driver must be file|sqlite")
	}

	if c.Secrets.KeyFile == "" {
		v.Add("secrets.keyFile is required")
	} else if err := requireFile(c.resolvePath(c.Secrets.KeyFile)); err != nil {
		v.Add("secrets.keyFile invalid: %v", err)
	}

	if c.GeoIP.Database != "" {
		if err := requireFile(c.resolvePath(c.GeoIP.Database)); err != nil {
			v.Add("geoip.database invalid: %v", err)
		}
	}

	if c.API.Enabled {
		if err := validateListen(c.API.Listen); err != nil {
			v.Add("api.listen invalid: %v", err)
		}
		if c.API.TriggerRPS <= 0 {
			v.Add("api.triggerRps must be > 0")
		}
		if c.API.TriggerBurst <= 0 {
			v.Add("api.triggerBurst must be > 0")
		}
	}

	if c.Metrics.Enabled {
		if err := validateListen(c.Metrics.Listen); err != nil {
			v.Add("metrics.listen invalid: %v", err)
		}
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json", "console":
	default:
		v.Add("logging.format must be json|console")
	}

	serverNames := c.validateServers(v)
	c.validateApplications(v, serverNames)

	if len(v.Problems) > 0 {
		sort.Strings(v.Problems)
		return v
	}
	return nil
}

func (c *Config) validateEngine(v *ValidationError) {
	e := c.Engine
	if e.Container == "" {
		v.Add("engine.container is required")
	}
	if !path.IsAbs(e.ConfigRoot) {
		v.Add("engine.configRoot must be an absolute path")
	}
	if !path.IsAbs(e.ComposeDir) {
		v.Add("engine.composeDir must be an absolute path")
	}
	if err := validateURL(e.LAPIURL); err != nil {
		v.Add("engine.lapiUrl invalid: %v", err)
	}
	if e.LAPIPort <= 0 || e.LAPIPort > 65535 {
		v.Add("engine.lapiPort must be between 1 and 65535")
	}
	if _, _, err := net.SplitHostPort(e.AppSecHost); err != nil {
		v.Add("engine.appsecHost invalid: %v", err)
	}
	if uid, gid, ok := strings.Cut(e.Owner, ":"); !ok || uid == "" || gid == "" {
		v.Add("engine.owner must be uid:gid")
	}
}

func (c *Config) validateServers(v *ValidationError) map[string]struct{} {
	names := map[string]struct{}{}
	for i, s := range c.Servers {
		if s.Name == "" {
			v.Add("servers[%d].name is required", i)
		} else if _, exists := names[s.Name]; exists {
			v.Add("servers[%d].name %q is duplicated", i, s.Name)
		} else {
			names[s.Name] = struct{}{}
		}

		if s.Address == "" {
			v.Add("servers[%d].address is required", i)
		}
		if s.Port < 0 || s.Port > 65535 {
			v.Add("servers[%d].port must be between 0 and 65535", i)
		}
		if s.KeyFile == "" {
			v.Add("servers[%d].keyFile is required", i)
		} else if err := requireFile(c.resolvePath(s.KeyFile)); err != nil {
			v.Add("servers[%d].keyFile invalid: %v", i, err)
		}
		if s.KnownHostsFile == "" && !s.InsecureIgnoreHostKey {
			v.Add("servers[%d].knownHostsFile is required unless insecureIgnoreHostKey is true", i)
		} else if s.KnownHostsFile != "" {
			if err := requireFile(c.resolvePath(s.KnownHostsFile)); err != nil {
				v.Add("servers[%d].knownHostsFile invalid: %v", i, err)
			}
		}
		if s.APIURL != "" {
			if err := validateURL(s.APIURL); err != nil {
				v.Add("servers[%d].apiUrl invalid: %v", i, err)
			}
		}
	}
	return names
}

func (c *Config) validateApplications(v *ValidationError, servers map[string]struct{}) {
	uuids := map[string]struct{}{}
	for i, app := range c.Applications {
		if err := policy.ValidateUUID(app.UUID); err != nil {
			v.Add("applications[%d].uuid invalid: %v", i, err)
		} else if _, exists := uuids[app.UUID]; exists {
			v.Add("applications[%d].uuid %q is duplicated", i, app.UUID)
		} else {
			uuids[app.UUID] = struct{}{}
		}

		if app.Server == "" {
			v.Add("applications[%d].server is required", i)
		} else if _, exists := servers[app.Server]; !exists {
			v.Add("applications[%d].server %q does not exist", i, app.Server)
		}

		fw := app.Firewall
		if fw.BanDuration <= 0 {
			v.Add("applications[%d].firewall.banDuration must be > 0", i)
		}
		if fw.BlockedHTTPCode < 100 || fw.BlockedHTTPCode > 599 {
			v.Add("applications[%d].firewall.blockedHttpCode must be a valid HTTP status", i)
		}
		if fw.PassedHTTPCode < 100 || fw.PassedHTTPCode > 599 {
			v.Add("applications[%d].firewall.passedHttpCode must be a valid HTTP status", i)
		}

		for _, problem := range fw.RuleProblems() {
			v.Add("applications[%d].firewall.%s", i, problem)
		}
	}
}

func validateListen(addr string) error {
	if strings.TrimSpace(addr) == "" {
		return errors.New("address is required")
	}
	if _, err := net.ResolveTCPAddr("tcp", addr); err != nil {
		return err
	}
	return nil
}

func validateURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return errors.New("must include scheme and host")
	}
	return nil
}

func requireFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	return nil
}

func ensureWritable(path string) error {
	dir := filepath.Dir(path)
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}

	file, err := os.CreateTemp(dir, "sentinel-validate-*")
	if err != nil {
		return err
	}
	name := file.Name()
	if err := file.Close(); err != nil {
		return err
	}
	return os.Remove(name)
}

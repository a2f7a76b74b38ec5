package artifact

import (
	"path"
	"strings"

	"github.com/sentinelhq/sentinel/internal/rules"
	"github.com/sentinelhq/sentinel/internal/scenario"
)

const DefaultRoot = "/var/lib/sentinel/crowdsec/config"

// Layout is the engine's config tree on a host. Paths are slash separated
// because they always name remote files.
type Layout struct {
	Root string
}

func (l Layout) root() string {
	if l.Root == "" {
		return DefaultRoot
	}
	return strings.TrimRight(l.Root, "/")
}

func (l Layout) AppSecConfigDir() string { return path.Join(l.root(), "appsec-configs") }
func (l Layout) AppSecRulesDir() string  { return path.Join(l.root(), "appsec-rules") }
func (l Layout) ScenariosDir() string    { return path.Join(l.root(), "scenarios") }
func (l Layout) RawParsersDir() string   { return path.Join(l.root(), "parsers", "s00-raw") }
func (l Layout) EnrichParsersDir() string {
	return path.Join(l.root(), "parsers", "s02-enrich")
}
func (l Layout) AcquisitionDir() string { return path.Join(l.root(), "acquis.d") }

// Dirs lists every directory the layout needs on the host.
func (l Layout) Dirs() []string {
	return []string{
		l.AppSecConfigDir(),
		l.AppSecRulesDir(),
		l.ScenariosDir(),
		l.RawParsersDir(),
		l.EnrichParsersDir(),
		l.AcquisitionDir(),
	}
}

func (l Layout) AppSecConfigPath(appUUID string) string {
	return path.Join(l.AppSecConfigDir(), appFile(appUUID))
}

func (l Layout) AppSecRulesPath(appUUID string) string {
	return path.Join(l.AppSecRulesDir(), appFile(appUUID))
}

func (l Layout) ScenarioPath(appUUID, ruleID string) string {
	return path.Join(l.ScenariosDir(), scenario.FileName(appUUID, ruleID))
}

func (l Layout) RawParserPath() string {
	return path.Join(l.RawParsersDir(), rules.NamePrefix+"-traefik-raw.yaml")
}

func (l Layout) EnrichParserPath() string {
	return path.Join(l.EnrichParsersDir(), rules.NamePrefix+"-traefik-enrich.yaml")
}

// AppSecAcquisitionPath is the per-application AppSec source. Its name
// starts with the application prefix so reconciliation owns it.
func (l Layout) AppSecAcquisitionPath(appUUID string) string {
	return path.Join(l.AcquisitionDir(), rules.NamePrefix+"-"+appUUID+"-appsec.yaml")
}

func (l Layout) AcquisitionPath() string {
	return path.Join(l.AcquisitionDir(), rules.NamePrefix+"-traefik.yaml")
}

// Owns reports whether p is a file this layout generates for appUUID.
// Reconciliation never removes anything else.
func (l Layout) Owns(appUUID, p string) bool {
	clean := path.Clean(p)
	if !strings.HasPrefix(clean, l.root()+"/") {
		return false
	}
	return strings.HasPrefix(path.Base(clean), rules.NamePrefix+"-"+appUUID)
}

// Rel returns p relative to the layout root.
func (l Layout) Rel(p string) string {
	return strings.TrimPrefix(strings.TrimPrefix(path.Clean(p), l.root()), "/")
}

func appFile(appUUID string) string {
	return rules.NamePrefix + "-" + appUUID + ".yaml"
}

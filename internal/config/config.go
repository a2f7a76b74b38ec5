package config

import (
	"time"

	"github.com/sentinelhq/sentinel/internal/policy"
	"github.com/sentinelhq/sentinel/internal/remote"
)

type Config struct {
	ConfigVersion int                  `yaml:"configVersion"`
	Engine        EngineConfig         `yaml:"engine"`
	Proxy         ProxyConfig          `yaml:"proxy"`
	Servers       []Server             `yaml:"servers"`
	Timeouts      Timeouts             `yaml:"timeouts"`
	Deploy        DeployConfig         `yaml:"deploy"`
	State         StateConfig          `yaml:"state"`
	Secrets       SecretsConfig        `yaml:"secrets"`
	API           APIConfig            `yaml:"api"`
	GeoIP         GeoIPConfig          `yaml:"geoip"`
	Logging       LoggingConfig        `yaml:"logging"`
	Metrics       MetricsConfig        `yaml:"metrics"`
	Applications  []policy.Application `yaml:"applications"`

	baseDir string `yaml:"-"`
}

type EngineConfig struct {
	Container         string        `yaml:"container"`
	Image             string        `yaml:"image"`
	ConfigRoot        string        `yaml:"configRoot"`
	ComposeDir        string        `yaml:"composeDir"`
	Network           string        `yaml:"network"`
	LAPIPort          int           `yaml:"lapiPort"`
	LAPIURL           string        `yaml:"lapiUrl"`
	AppSecHost        string        `yaml:"appsecHost"`
	Owner             string        `yaml:"owner"`
	Collections       []string      `yaml:"collections"`
	AppSecCollections []string      `yaml:"appsecCollections"`
	AutoInstallGeoIP  bool          `yaml:"autoInstallGeoIP"`
	StartupWait       time.Duration `yaml:"startupWait"`
}

type ProxyConfig struct {
	Container  string `yaml:"container"`
	DynamicDir string `yaml:"dynamicDir"`
	AccessLog  string `yaml:"accessLog"`
	LogDir     string `yaml:"logDir"`
	LogLines   int    `yaml:"logLines"`
}

type Server struct {
	Name                  string `yaml:"name"`
	Address               string `yaml:"address"`
	Port                  int    `yaml:"port"`
	User                  string `yaml:"user"`
	KeyFile               string `yaml:"keyFile"`
	KnownHostsFile        string `yaml:"knownHostsFile"`
	InsecureIgnoreHostKey bool   `yaml:"insecureIgnoreHostKey"`
	APIURL                string `yaml:"apiUrl"`
}

type Timeouts struct {
	Remote time.Duration `yaml:"remote"`
	API    time.Duration `yaml:"api"`
}

type DeployConfig struct {
	Debounce       time.Duration `yaml:"debounce"`
	HealthAttempts int           `yaml:"healthAttempts"`
	HealthInterval time.Duration `yaml:"healthInterval"`
	StagingDir     string        `yaml:"stagingDir"`
}

type StateConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

type SecretsConfig struct {
	KeyFile string `yaml:"keyFile"`
}

type APIConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Listen       string  `yaml:"listen"`
	TriggerRPS   float64 `yaml:"triggerRps"`
	TriggerBurst int     `yaml:"triggerBurst"`
}

type GeoIPConfig struct {
	Database string `yaml:"database"`
}

type LoggingConfig struct {
	Level   string `yaml:"level"`
	Format  string `yaml:"format"`
	File    string `yaml:"file"`
	Journal string `yaml:"journal"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

const (
	StateFile   = "file"
	StateSQLite = "sqlite"
)

func (c *Config) BaseDir() string {
	return c.baseDir
}

func (c *Config) ResolvePath(path string) string {
	return c.resolvePath(path)
}

func (c *Config) Server(name string) (Server, bool) {
	for _, s := range c.Servers {
		if s.Name == name {
			return s, true
		}
	}
	return Server{}, false
}

func (c *Config) Application(uuid string) (policy.Application, bool) {
	for _, app := range c.Applications {
		if app.UUID == uuid {
			return app, true
		}
	}
	return policy.Application{}, false
}

// Host converts a server entry into a remote host descriptor.
func (c *Config) Host(s Server) remote.Host {
	return remote.Host{
		Name:                  s.Name,
		Address:               s.Address,
		Port:                  s.Port,
		User:                  s.User,
		KeyFile:               c.resolvePath(s.KeyFile),
		KnownHostsFile:        c.resolvePath(s.KnownHostsFile),
		InsecureIgnoreHostKey: s.InsecureIgnoreHostKey,
	}
}

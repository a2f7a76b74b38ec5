package scenario

const (
	RawParserName    = "sentinel/traefik-raw"
	EnrichParserName = "sentinel/traefik-enrich"
	ProgramTraefik   = "traefik"
)

type Parser struct {
	OnSuccess   string   `yaml:"onsuccess"`
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Filter      string   `yaml:"filter"`
	Statics     []Static `yaml:"statics"`
}

type Static struct {
	Parsed     string `yaml:"parsed,omitempty"`
	Meta       string `yaml:"meta,omitempty"`
	Value      string `yaml:"value,omitempty"`
	Expression string `yaml:"expression,omitempty"`
}

type Acquisition struct {
	Source       string            `yaml:"source"`
	Filenames    []string          `yaml:"filenames,omitempty"`
	ListenAddr   string            `yaml:"listen_addr,omitempty"`
	AppSecConfig string            `yaml:"appsec_config,omitempty"`
	Labels       map[string]string `yaml:"labels"`
}

// traefikFields maps parsed field names to keys of the proxy's JSON access log.
var traefikFields = []struct {
	parsed string
	key    string
}{
	{"remote_addr", "ClientHost"},
	{"request_addr", "RequestHost"},
	{"traefik_router_name", "RouterName"},
	{"request", "RequestPath"},
	{"uri", "RequestPath"},
	{"verb", "RequestMethod"},
	{"http_version", "RequestProtocol"},
	{"status", "DownstreamStatus"},
	{"http_user_agent", "request_User-Agent"},
	{"http_referer", "request_Referer"},
}

// RawParser tags proxy access log lines and lifts their JSON fields.
func RawParser() Parser {
	statics := []Static{{Parsed: "program", Value: ProgramTraefik}}
	for _, f := range traefikFields {
		statics = append(statics, Static{
			Parsed:     f.parsed,
			Expression: `JsonExtract(evt.Line.Raw, "` + f.key + `")`,
		})
	}
	return Parser{
		OnSuccess:   "next_stage",
		Name:        RawParserName,
		Description: "Tag traefik JSON access log lines",
		Filter:      "evt.Line.Labels.type == '" + ProgramTraefik + "'",
		Statics:     statics,
	}
}

// EnrichParser copies client and routing metadata into the fields scenarios read.
func EnrichParser() Parser {
	return Parser{
		OnSuccess:   "next_stage",
		Name:        EnrichParserName,
		Description: "Expose traefik client and router metadata",
		Filter:      "evt.Parsed.program == '" + ProgramTraefik + "'",
		Statics: []Static{
			{Meta: "service", Value: "http"},
			{Meta: "log_type", Value: "http_access-log"},
			{Meta: "source_ip", Expression: "evt.Parsed.remote_addr"},
			{Meta: "http_host", Expression: "evt.Parsed.request_addr"},
			{Meta: "target_fqdn", Expression: "evt.Parsed.request_addr"},
			{Meta: "traefik_router_name", Expression: "evt.Parsed.traefik_router_name"},
		},
	}
}

// TraefikAcquisition points the engine at the proxy access log.
func TraefikAcquisition(accessLog string) Acquisition {
	return Acquisition{
		Source:    "file",
		Filenames: []string{accessLog},
		Labels:    map[string]string{"type": ProgramTraefik},
	}
}

// AppSecAcquisition attaches an application's AppSec config to the
// engine's AppSec listener.
func AppSecAcquisition(listenAddr, configName, appUUID string) Acquisition {
	return Acquisition{
		Source:       "appsec",
		ListenAddr:   listenAddr,
		AppSecConfig: configName,
		Labels: map[string]string{
			"type":             "appsec",
			"application_uuid": appUUID,
		},
	}
}

package policy

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Template is a ready-made rule users import into a firewall instead of
// writing conditions by hand.
type Template struct {
	Key      string       `json:"key"`
	Category string       `json:"category"`
	Severity string       `json:"severity"`
	Usage    string       `json:"usage"`
	Rule     FirewallRule `json:"rule"`
	Examples []string     `json:"examples,omitempty"`
}

// HighRiskCountries is the block preset offered for geo blocking.
var HighRiskCountries = []string{"CN", "RU", "KP", "IR"}

// BusinessCountries is the allow preset offered for geo blocking.
var BusinessCountries = []string{
	"US", "GB", "FR", "DE", "ES", "IT", "NL", "BE", "CH",
	"CA", "AU", "JP", "SG", "IE", "SE", "NO", "DK", "FI",
}

var caseless = []Transform{TransformLowercase, TransformTrim}

// rateLimit turns "threshold requests per window" into a leaky bucket that
// only feeds the scenario engine. Matching a single request never blocks.
func rateLimit(threshold int, window, ban time.Duration) FirewallRule {
	return FirewallRule{
		Mode:                ModeIPBan,
		Capacity:            threshold,
		LeakSpeed:           (window / time.Duration(threshold)).String(),
		RemediationDuration: int(ban / time.Second),
	}
}

func userAgent(op Operator, value string) Condition {
	return Condition{Field: FieldUserAgent, Operator: op, Value: value, Transforms: append([]Transform(nil), caseless...)}
}

func templates() []Template {
	apiRate := rateLimit(100, time.Minute, 5*time.Minute)
	apiRate.Name = "API request rate"
	apiRate.Description = "Bans IPs sending more than 100 requests a minute to /api/"
	apiRate.Action = ActionBlock
	apiRate.Priority = 50
	apiRate.Conditions = []Condition{{Field: FieldRequestPath, Operator: OpStartsWith, Value: "/api/"}}

	login := rateLimit(5, 5*time.Minute, 30*time.Minute)
	login.Name = "Login brute force"
	login.Description = "Bans IPs posting to a login page more than 5 times in 5 minutes"
	login.Action = ActionBlock
	login.Priority = 50
	login.Operator = LogicalAnd
	login.Conditions = []Condition{
		{Field: FieldRequestPath, Operator: OpContains, Value: "login"},
		{Field: FieldMethod, Operator: OpEquals, Value: "POST"},
	}

	scraping := rateLimit(30, time.Minute, 10*time.Minute)
	scraping.Name = "Non-browser scraping"
	scraping.Description = "Challenges clients without a browser User-Agent above 30 requests a minute"
	scraping.Action = ActionCaptcha
	scraping.Priority = 50
	scraping.Conditions = []Condition{{Field: FieldUserAgent, Operator: OpNotContains, Value: "Mozilla"}}

	forms := rateLimit(10, time.Hour, 2*time.Hour)
	forms.Name = "Form submission spam"
	forms.Description = "Bans IPs submitting contact, feedback or subscribe forms more than 10 times an hour"
	forms.Action = ActionBlock
	forms.Priority = 50
	forms.Operator = LogicalAnd
	forms.Conditions = []Condition{
		{Field: FieldRequestPath, Operator: OpRegex, Value: "/(contact|feedback|subscribe)"},
		{Field: FieldMethod, Operator: OpEquals, Value: "POST"},
	}

	downloads := rateLimit(50, 24*time.Hour, 24*time.Hour)
	downloads.Name = "Download volume"
	downloads.Description = "Bans IPs downloading more than 50 archives or media files a day"
	downloads.Action = ActionBlock
	downloads.Priority = 50
	downloads.Conditions = []Condition{{Field: FieldRequestPath, Operator: OpRegex, Value: `\.(pdf|zip|tar|gz|mp4|avi|mkv)$`}}

	return []Template{
		{Key: "api-rate-limit", Category: "rate_limiting", Severity: "medium", Rule: apiRate,
			Usage:    "Protects API endpoints from clients hammering them.",
			Examples: []string{"/api/users", "/api/v1/data"}},
		{Key: "login-brute-force", Category: "authentication", Severity: "high", Rule: login,
			Usage:    "Stops credential stuffing against login forms.",
			Examples: []string{"POST /login", "POST /admin/login"}},
		{Key: "scraping-protection", Category: "anti_scraping", Severity: "low", Rule: scraping,
			Usage:    "Slows down scripted clients without blocking them outright.",
			Examples: []string{"curl/7.68.0", "python-requests/2.25.1"}},
		{Key: "form-submission-limit", Category: "anti_spam", Severity: "medium", Rule: forms,
			Usage:    "Keeps form endpoints from being used for spam.",
			Examples: []string{"POST /contact", "POST /subscribe"}},
		{Key: "download-rate-limit", Category: "bandwidth_control", Severity: "low", Rule: downloads,
			Usage:    "Caps bandwidth spent on bulk downloads.",
			Examples: []string{"/downloads/file.pdf", "/media/video.mp4"}},

		{Key: "block-known-bots", Category: "bot_blocking", Severity: "medium",
			Usage: "Blocks common crawlers and command line clients.",
			Rule: FirewallRule{
				Name: "Known bots and crawlers", Mode: ModePathOnly, Action: ActionBlock, Priority: 90,
				Description: "Blocks User-Agents of common bots, crawlers and scrapers",
				Conditions:  []Condition{userAgent(OpRegex, "(bot|crawler|spider|scraper|slurp|archive|indexer|wget|curl)")},
			},
			Examples: []string{"AhrefsBot", "curl/8.0"}},
		{Key: "block-aggressive-crawlers", Category: "bot_blocking", Severity: "high",
			Usage: "Targets SEO crawlers that overload servers.",
			Rule: FirewallRule{
				Name: "Aggressive SEO crawlers", Mode: ModePathOnly, Action: ActionBlock, Priority: 85,
				Description: "Blocks SEO audit tools by User-Agent",
				Conditions:  []Condition{userAgent(OpRegex, "(ahrefs|semrush|majestic|mj12|serpstat|cognitiveseo|linkdex|dotbot|rogerbot|exabot|ezooms)")},
			},
			Examples: []string{"SemrushBot", "DotBot"}},
		{Key: "challenge-suspicious-bots", Category: "bot_challenge", Severity: "low",
			Usage: "Lets legitimate automation through after a captcha.",
			Rule: FirewallRule{
				Name: "Suspicious HTTP libraries", Mode: ModePathOnly, Action: ActionCaptcha, Priority: 95,
				Description: "Challenges requests from scripting language HTTP clients",
				Conditions:  []Condition{userAgent(OpRegex, "^(python|java|go-http|ruby|perl|libwww|httpclient)")},
			},
			Examples: []string{"python-urllib/3.11", "Go-http-client/1.1"}},
		{Key: "block-scrapers", Category: "scraper_blocking", Severity: "high",
			Usage: "Blocks headless browsers and scraping frameworks.",
			Rule: FirewallRule{
				Name: "Content scrapers", Mode: ModePathOnly, Action: ActionBlock, Priority: 80,
				Description: "Blocks tools used for scraping and data extraction",
				Conditions:  []Condition{userAgent(OpRegex, `(scrapy|beautifulsoup|selenium|phantomjs|headless|puppeteer|playwright|apify|scrapingbot|import\.io|parsehub)`)},
			},
			Examples: []string{"Scrapy/2.11", "HeadlessChrome"}},
		{Key: "monitor-bots", Category: "bot_monitoring", Severity: "low",
			Usage: "Observe bot traffic before deciding what to block.",
			Rule: FirewallRule{
				Name: "Bot activity", Mode: ModePathOnly, Action: ActionLog, Priority: 100,
				Description: "Logs requests whose User-Agent mentions bot",
				Conditions:  []Condition{userAgent(OpContains, "bot")},
			},
			Examples: []string{"Googlebot/2.1"}},

		{Key: "geo-block-high-risk", Category: "geo_blocking", Severity: "high",
			Usage: "Blocks countries with high attack rates.",
			Rule:  GeoRule(HighRiskCountries, false)},
		{Key: "geo-allow-business", Category: "geo_blocking", Severity: "medium",
			Usage: "Bans clients from outside common business countries.",
			Rule:  GeoRule(BusinessCountries, true)},
	}
}

// GeoRule builds a country rule banning the listed countries, or, with
// allowOnly, every country except them. Countries are only known to the
// scenario engine, so the rule never emits AppSec output.
func GeoRule(countries []string, allowOnly bool) FirewallRule {
	codes := make([]string, 0, len(countries))
	for _, c := range countries {
		if c = strings.ToUpper(strings.TrimSpace(c)); c != "" {
			codes = append(codes, c)
		}
	}
	verb, op := "Block", OpIn
	if allowOnly {
		verb, op = "Allow only", OpNotIn
	}
	shown := strings.Join(codes, ", ")
	if len(codes) > 3 {
		shown = strings.Join(codes[:3], ", ") + "..."
	}
	return FirewallRule{
		Name:        "Geo: " + verb + " " + shown,
		Description: verb + " traffic from " + strings.Join(codes, ", "),
		Mode:        ModeIPBan,
		Action:      ActionBlock,
		Priority:    10,
		Conditions:  []Condition{{Field: FieldCountryCode, Operator: op, Value: strings.Join(codes, ",")}},
	}
}

// Templates lists the catalogue ordered by key.
func Templates() []Template {
	out := templates()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func LookupTemplate(key string) (Template, bool) {
	for _, t := range templates() {
		if t.Key == key {
			return t, true
		}
	}
	return Template{}, false
}

// ImportTemplate appends the template's rule, enabled, under an ID derived
// from the template key that no existing rule uses.
func (c *FirewallConfig) ImportTemplate(key string) (FirewallRule, error) {
	t, ok := LookupTemplate(key)
	if !ok {
		return FirewallRule{}, fmt.Errorf("unknown template %q", key)
	}
	return c.AddRule(key, t.Rule), nil
}

// AddRule appends rule under the first free ID of the form base, base-2,
// base-3 and so on.
func (c *FirewallConfig) AddRule(base string, rule FirewallRule) FirewallRule {
	used := make(map[string]bool, len(c.Rules))
	for _, r := range c.Rules {
		used[r.ID] = true
	}
	id := base
	for n := 2; used[id]; n++ {
		id = base + "-" + strconv.Itoa(n)
	}
	rule.ID = id
	rule.Enabled = true
	rule.Conditions = append([]Condition(nil), rule.Conditions...)
	c.Rules = append(c.Rules, rule)
	return rule
}

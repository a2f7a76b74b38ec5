// Package metrics merges engine alerts and proxy access logs into a
// per-application traffic view. The two feeds share no join key, so the
// result is an approximation and is flagged as such.
package metrics

import (
	"context"
	"net"
	"sort"
	"time"

	"github.com/oschwald/geoip2-golang"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sentinelhq/sentinel/internal/engine"
	"github.com/sentinelhq/sentinel/internal/remote"
)

const (
	DefaultLogLines   = 2000
	DefaultAlertLimit = 100
	RecentLimit       = 10
	maxBuckets        = 24 * 7
)

const (
	FeedOK          = "ok"
	FeedEmpty       = "empty"
	FeedUnavailable = "unavailable"
)

const (
	ActionAllowed = "allowed"
	ActionDenied  = "denied"
)

// AlertSource is satisfied by *engine.Client.
type AlertSource interface {
	Alerts(ctx context.Context, since time.Duration, limit int) ([]engine.Alert, error)
}

// CountryLookup is satisfied by *geoip2.Reader.
type CountryLookup interface {
	Country(ip net.IP) (*geoip2.Country, error)
}

// Target says where the two feeds for one server live.
type Target struct {
	Host            remote.Host
	EngineContainer string
	ProxyContainer  string
	AccessLog       string
	LogLines        int
	AlertLimit      int
	API             AlertSource
}

type Bucket struct {
	Hour    string    `json:"hour"`
	Start   time.Time `json:"start"`
	Allowed int       `json:"allowed"`
	Blocked int       `json:"blocked"`
}

type Event struct {
	Source     string    `json:"source"`
	IP         string    `json:"ip"`
	Country    string    `json:"country,omitempty"`
	Method     string    `json:"method,omitempty"`
	Path       string    `json:"path,omitempty"`
	Status     int       `json:"status,omitempty"`
	Action     string    `json:"action"`
	Scenario   string    `json:"scenario,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	DurationMS float64   `json:"durationMs,omitempty"`
}

type Feeds struct {
	Engine string `json:"engine"`
	Proxy  string `json:"proxy"`
}

type Report struct {
	AppUUID     string        `json:"appUuid"`
	Window      time.Duration `json:"window"`
	Total       int           `json:"total"`
	Allowed     int           `json:"allowed"`
	Blocked     int           `json:"blocked"`
	Hourly      []Bucket      `json:"hourly"`
	Recent      []Event       `json:"recent"`
	Feeds       Feeds         `json:"feeds"`
	Approximate bool          `json:"approximate"`
}

type Reconciler struct {
	exec remote.Executor
	geo  CountryLookup
	log  *zap.Logger

	// Now is replaceable in tests.
	Now func() time.Time
}

func NewReconciler(exec remote.Executor, geo CountryLookup, log *zap.Logger) *Reconciler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{exec: exec, geo: geo, log: log.Named("metrics"), Now: time.Now}
}

// Metrics never fails. A feed that cannot be read or parsed contributes
// zero and is reported in Feeds.
func (r *Reconciler) Metrics(ctx context.Context, appUUID string, t Target, window time.Duration) Report {
	if window <= 0 {
		window = 24 * time.Hour
	}
	if t.LogLines <= 0 {
		t.LogLines = DefaultLogLines
	}
	if t.AlertLimit <= 0 {
		t.AlertLimit = DefaultAlertLimit
	}
	now := r.Now()
	cutoff := now.Add(-window)

	var (
		access []accessLine
		alerts []engine.Alert
		feeds  Feeds
	)

	var g errgroup.Group
	g.Go(func() error {
		out, err := r.fetchAccessLog(ctx, t)
		if err != nil {
			r.log.Warn("proxy feed unavailable", zap.String("op", "access_log"), zap.String("server", t.Host.Name), zap.String("outcome", "degraded"), zap.Error(err))
			feeds.Proxy = FeedUnavailable
			return nil
		}
		for _, l := range parseAccessLog(out) {
			ts, ok := l.timestamp()
			if !ok || !inWindow(ts, cutoff, now) || !l.belongsTo(appUUID) {
				continue
			}
			access = append(access, l)
		}
		feeds.Proxy = feedStatus(len(access))
		return nil
	})
	g.Go(func() error {
		all, err := r.fetchAlerts(ctx, t, window)
		if err != nil {
			r.log.Warn("engine feed unavailable", zap.String("op", "alerts"), zap.String("server", t.Host.Name), zap.String("outcome", "degraded"), zap.Error(err))
			feeds.Engine = FeedUnavailable
			return nil
		}
		for _, a := range all {
			ts, ok := alertTime(a)
			if !ok || !inWindow(ts, cutoff, now) || !alertBelongsTo(a, appUUID) {
				continue
			}
			alerts = append(alerts, a)
		}
		feeds.Engine = feedStatus(len(alerts))
		return nil
	})
	_ = g.Wait()

	rep := Report{
		AppUUID:     appUUID,
		Window:      window,
		Feeds:       feeds,
		Approximate: true,
	}

	proxyBlocked := 0
	for _, l := range access {
		if l.DownstreamStatus == blockedStatus {
			proxyBlocked++
		}
	}
	rep.Blocked = max(proxyBlocked, len(alerts))
	rep.Total = max(len(access), rep.Blocked)
	rep.Allowed = rep.Total - rep.Blocked

	rep.Hourly = r.buckets(now, window, access, alerts)
	rep.Recent = r.recent(access, alerts)

	r.log.Debug("metrics reconciled",
		zap.String("app", appUUID),
		zap.Int("total", rep.Total),
		zap.Int("blocked", rep.Blocked),
		zap.String("engine_feed", feeds.Engine),
		zap.String("proxy_feed", feeds.Proxy),
	)
	return rep
}

// inWindow drops entries older than the window and entries stamped after
// now, which a skewed host clock produces.
func inWindow(ts, cutoff, now time.Time) bool {
	return !ts.Before(cutoff) && !ts.After(now)
}

func feedStatus(n int) string {
	if n == 0 {
		return FeedEmpty
	}
	return FeedOK
}

type hourCount struct {
	total, blocked, alerts int
}

func (r *Reconciler) buckets(now time.Time, window time.Duration, access []accessLine, alerts []engine.Alert) []Bucket {
	n := int((window + time.Hour - 1) / time.Hour)
	if n < 1 {
		n = 1
	}
	if n > maxBuckets {
		n = maxBuckets
	}
	loc := now.Location()
	current := now.Truncate(time.Hour)

	counts := make(map[time.Time]*hourCount, n)
	order := make([]time.Time, 0, n)
	for i := n - 1; i >= 0; i-- {
		h := current.Add(-time.Duration(i) * time.Hour)
		counts[h] = &hourCount{}
		order = append(order, h)
	}

	for _, l := range access {
		ts, _ := l.timestamp()
		c, ok := counts[ts.In(loc).Truncate(time.Hour)]
		if !ok {
			continue
		}
		c.total++
		if l.DownstreamStatus == blockedStatus {
			c.blocked++
		}
	}
	for _, a := range alerts {
		ts, _ := alertTime(a)
		if c, ok := counts[ts.In(loc).Truncate(time.Hour)]; ok {
			c.alerts++
		}
	}

	out := make([]Bucket, 0, n)
	for _, h := range order {
		c := counts[h]
		blocked := max(c.blocked, c.alerts)
		total := max(c.total, blocked)
		out = append(out, Bucket{
			Hour:    h.In(loc).Format("15:00"),
			Start:   h,
			Allowed: total - blocked,
			Blocked: blocked,
		})
	}
	return out
}

func (r *Reconciler) recent(access []accessLine, alerts []engine.Alert) []Event {
	events := make([]Event, 0, len(access)+len(alerts))
	for _, l := range access {
		ts, _ := l.timestamp()
		action := ActionAllowed
		if l.DownstreamStatus == blockedStatus {
			action = ActionDenied
		}
		events = append(events, Event{
			Source:     "proxy",
			IP:         l.ClientHost,
			Method:     l.RequestMethod,
			Path:       l.RequestPath,
			Status:     l.DownstreamStatus,
			Action:     action,
			Timestamp:  ts,
			DurationMS: l.Duration / float64(time.Millisecond),
		})
	}
	for _, a := range alerts {
		ts, _ := alertTime(a)
		ip := a.Source.IP
		if ip == "" {
			ip = a.Source.Value
		}
		action := ActionDenied
		if len(a.Decisions) > 0 && a.Decisions[0].Type != "" {
			action = a.Decisions[0].Type
		}
		events = append(events, Event{
			Source:    "engine",
			IP:        ip,
			Country:   a.Source.CN,
			Action:    action,
			Scenario:  alertScenario(a),
			Timestamp: ts,
		})
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.After(events[j].Timestamp)
	})
	if len(events) > RecentLimit {
		events = events[:RecentLimit]
	}
	for i := range events {
		if events[i].Country == "" {
			events[i].Country = r.country(events[i].IP)
		}
	}
	return events
}

func (r *Reconciler) country(ip string) string {
	if r.geo == nil {
		return ""
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return ""
	}
	rec, err := r.geo.Country(parsed)
	if err != nil || rec == nil {
		return ""
	}
	return rec.Country.IsoCode
}

package metrics

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sentinelhq/sentinel/internal/engine"
	"github.com/sentinelhq/sentinel/internal/remote"
)

const blockedStatus = 403

// accessLine is the subset of a Traefik JSON access log line we read.
type accessLine struct {
	Time             string  `json:"time"`
	StartUTC         string  `json:"StartUTC"`
	RouterName       string  `json:"RouterName"`
	RequestHost      string  `json:"RequestHost"`
	RequestMethod    string  `json:"RequestMethod"`
	RequestPath      string  `json:"RequestPath"`
	ClientHost       string  `json:"ClientHost"`
	DownstreamStatus int     `json:"DownstreamStatus"`
	Duration         float64 `json:"Duration"`
}

func (l accessLine) timestamp() (time.Time, bool) {
	raw := l.Time
	if raw == "" {
		raw = l.StartUTC
	}
	return parseTime(raw)
}

func (l accessLine) belongsTo(appUUID string) bool {
	return strings.Contains(l.RouterName, appUUID) || strings.Contains(l.RequestHost, appUUID)
}

func parseTime(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05 -0700 MST", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// parseAccessLog keeps only lines that decode and carry a request method.
func parseAccessLog(out string) []accessLine {
	var lines []accessLine
	scanner := bufio.NewScanner(strings.NewReader(out))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "" || text[0] != '{' {
			continue
		}
		var l accessLine
		if err := json.Unmarshal([]byte(text), &l); err != nil {
			continue
		}
		if l.RequestMethod == "" {
			continue
		}
		lines = append(lines, l)
	}
	return lines
}

func parseAlerts(out string) ([]engine.Alert, error) {
	out = strings.TrimSpace(out)
	if out == "" || out == "null" {
		return nil, nil
	}
	var alerts []engine.Alert
	if err := json.Unmarshal([]byte(out), &alerts); err != nil {
		return nil, fmt.Errorf("decode alerts: %w", err)
	}
	return alerts, nil
}

func alertScenario(a engine.Alert) string {
	if a.Scenario != "" {
		return a.Scenario
	}
	if len(a.Decisions) > 0 {
		return a.Decisions[0].Scenario
	}
	return ""
}

func alertBelongsTo(a engine.Alert, appUUID string) bool {
	if strings.Contains(a.Scenario, appUUID) {
		return true
	}
	return len(a.Decisions) > 0 && strings.Contains(a.Decisions[0].Scenario, appUUID)
}

func alertTime(a engine.Alert) (time.Time, bool) {
	if t, ok := parseTime(a.CreatedAt); ok {
		return t, true
	}
	return parseTime(a.StartAt)
}

func (r *Reconciler) fetchAccessLog(ctx context.Context, t Target) (string, error) {
	cmd := fmt.Sprintf("docker exec %s tail -n %d %s", remote.Quote(t.ProxyContainer), t.LogLines, remote.Quote(t.AccessLog))
	return r.exec.Run(ctx, t.Host, cmd)
}

func (r *Reconciler) fetchAlerts(ctx context.Context, t Target, window time.Duration) ([]engine.Alert, error) {
	if t.API != nil {
		return t.API.Alerts(ctx, window, t.AlertLimit)
	}
	cmd := fmt.Sprintf("docker exec %s cscli alerts list -o json --limit %d", remote.Quote(t.EngineContainer), t.AlertLimit)
	out, err := r.exec.Run(ctx, t.Host, cmd)
	if err != nil {
		return nil, err
	}
	return parseAlerts(out)
}

package deploy

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sentinelhq/sentinel/internal/engine"
	"github.com/sentinelhq/sentinel/internal/remote"
)

const (
	CheckContainerRunning  = "container_running"
	CheckEngineResponsive  = "engine_responsive"
	CheckBouncerConfigured = "bouncer_configured"

	msgNoBouncer = "no bouncer configured"
)

type Check struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

type HealthReport struct {
	Server    string    `json:"server"`
	Healthy   bool      `json:"healthy"`
	Version   string    `json:"version,omitempty"`
	Checks    []Check   `json:"checks"`
	CheckedAt time.Time `json:"checkedAt"`
}

// Failures joins the messages of failed checks.
func (r HealthReport) Failures() string {
	var parts []string
	for _, c := range r.Checks {
		if !c.OK {
			parts = append(parts, c.Name+": "+c.Message)
		}
	}
	return strings.Join(parts, "; ")
}

// Health runs the three checks independently. The server is healthy only
// when all of them pass. The result updates the server's availability.
func (o *Orchestrator) Health(ctx context.Context, host remote.Host) HealthReport {
	report := HealthReport{Server: host.Name, CheckedAt: o.now().UTC()}
	checks := make([]Check, 3)
	var version string

	var g errgroup.Group
	g.Go(func() error {
		checks[0] = o.checkContainer(ctx, host)
		return nil
	})
	g.Go(func() error {
		checks[1], version = o.checkEngine(ctx, host)
		return nil
	})
	g.Go(func() error {
		checks[2] = o.checkBouncers(ctx, host)
		return nil
	})
	_ = g.Wait()

	report.Checks = checks
	report.Version = version
	report.Healthy = true
	for _, c := range checks {
		o.metrics.ObserveHealth(host.Name, c.Name, c.OK)
		if !c.OK {
			report.Healthy = false
		}
	}

	state, _, err := o.store.Server(ctx, host.Name)
	if err == nil {
		state.Name = host.Name
		state.Available = report.Healthy
		state.CheckedAt = report.CheckedAt
		if err := o.store.SaveServer(ctx, state); err != nil {
			o.log.Warn("save server state failed", zap.String("server", host.Name), zap.Error(err))
		}
	}

	o.log.Info("health checked",
		zap.String("op", "health"),
		zap.String("server", host.Name),
		zap.Bool("healthy", report.Healthy),
		zap.String("outcome", outcomeOf(report.Healthy)),
		zap.String("failures", report.Failures()),
	)
	return report
}

func (o *Orchestrator) checkContainer(ctx context.Context, host remote.Host) Check {
	c := Check{Name: CheckContainerRunning}
	up, err := o.containerUp(ctx, host, o.opts.Engine.Container)
	switch {
	case err != nil:
		c.Message = err.Error()
	case !up:
		c.Message = fmt.Sprintf("container %s is not running", o.opts.Engine.Container)
	default:
		c.OK = true
	}
	return c
}

// checkEngine prefers the HTTP API when the server has one recorded and
// falls back to the CLI inside the container.
func (o *Orchestrator) checkEngine(ctx context.Context, host remote.Host) (Check, string) {
	c := Check{Name: CheckEngineResponsive}

	if api := o.serverAPI(ctx, host.Name); api != nil {
		if err := api.Heartbeat(ctx); err != nil {
			c.Message = err.Error()
			return c, ""
		}
		c.OK = true
		v, err := api.Version(ctx)
		if err != nil {
			return c, ""
		}
		return c, v.Version
	}

	out, err := o.run(ctx, host, "engine_version", o.cscli("version"))
	if err != nil {
		c.Message = err.Error()
		return c, ""
	}
	c.OK = true
	return c, parseVersion(out)
}

func (o *Orchestrator) serverAPI(ctx context.Context, name string) EngineAPI {
	state, ok, err := o.store.Server(ctx, name)
	if err != nil || !ok || state.LAPIURL == "" || state.EncryptedAPIKey == "" {
		return nil
	}
	key, err := o.box.Open(state.EncryptedAPIKey)
	if err != nil {
		o.log.Warn("server api key unreadable", zap.String("server", name), zap.Error(err))
		return nil
	}
	api, err := o.api(state.LAPIURL, key)
	if err != nil {
		o.log.Warn("server api unusable", zap.String("server", name), zap.Error(err))
		return nil
	}
	return api
}

func (o *Orchestrator) checkBouncers(ctx context.Context, host remote.Host) Check {
	c := Check{Name: CheckBouncerConfigured}
	out, err := o.run(ctx, host, "bouncer_list", o.cscli("bouncers list -o json"))
	if err != nil {
		c.Message = err.Error()
		return c
	}
	out = strings.TrimSpace(out)
	var bouncers []engine.Bouncer
	if out != "" && out != "null" {
		if err := json.Unmarshal([]byte(out), &bouncers); err != nil {
			c.Message = fmt.Sprintf("unreadable bouncer list: %v", err)
			return c
		}
	}
	if len(bouncers) == 0 {
		c.Message = msgNoBouncer
		return c
	}
	c.OK = true
	return c
}

func parseVersion(out string) string {
	for _, line := range strings.Split(out, "\n") {
		k, v, ok := strings.Cut(strings.TrimSpace(line), ":")
		if ok && strings.EqualFold(strings.TrimSpace(k), "version") {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func outcomeOf(ok bool) string {
	if ok {
		return "ok"
	}
	return "unhealthy"
}

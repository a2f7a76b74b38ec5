// Package deploy pushes compiled artifact sets to engine hosts and keeps
// the host, the proxy and the ledger consistent with each other.
package deploy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sentinelhq/sentinel/internal/artifact"
	"github.com/sentinelhq/sentinel/internal/config"
	"github.com/sentinelhq/sentinel/internal/engine"
	"github.com/sentinelhq/sentinel/internal/ledger"
	"github.com/sentinelhq/sentinel/internal/logging"
	"github.com/sentinelhq/sentinel/internal/observability"
	"github.com/sentinelhq/sentinel/internal/remote"
	"github.com/sentinelhq/sentinel/internal/secrets"
)

// EngineAPI is the part of the engine HTTP API used for health checks.
type EngineAPI interface {
	Heartbeat(ctx context.Context) error
	Version(ctx context.Context) (engine.Version, error)
}

// APIFactory builds an API client for a server. The default builds an
// *engine.Client.
type APIFactory func(baseURL, apiKey string) (EngineAPI, error)

type Options struct {
	Engine     config.EngineConfig
	Proxy      config.ProxyConfig
	Deploy     config.DeployConfig
	APITimeout time.Duration
}

type Deps struct {
	Exec    remote.Executor
	Copier  remote.Copier
	Store   ledger.Store
	Box     *secrets.Box
	Logger  *zap.Logger
	Metrics *observability.Metrics
	Journal *logging.Journal
	API     APIFactory
	// Hosts resolves servers an application was deployed to before. Without
	// it, files left on a previous server are only forgotten.
	Hosts func(name string) (remote.Host, bool)
}

type Orchestrator struct {
	exec    remote.Executor
	copier  remote.Copier
	store   ledger.Store
	box     *secrets.Box
	log     *zap.Logger
	metrics *observability.Metrics
	journal *logging.Journal
	api     APIFactory
	hosts   func(name string) (remote.Host, bool)

	opts    Options
	layout  artifact.Layout
	builder artifact.Builder

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func New(deps Deps, opts Options) *Orchestrator {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	api := deps.API
	if api == nil {
		timeout := opts.APITimeout
		api = func(baseURL, apiKey string) (EngineAPI, error) {
			return engine.NewClient(baseURL, apiKey, timeout)
		}
	}
	if opts.Deploy.HealthAttempts <= 0 {
		opts.Deploy.HealthAttempts = 1
	}
	if opts.Engine.ConfigRoot == "" {
		opts.Engine.ConfigRoot = artifact.DefaultRoot
	}
	layout := artifact.Layout{Root: opts.Engine.ConfigRoot}
	return &Orchestrator{
		exec:    deps.Exec,
		copier:  deps.Copier,
		store:   deps.Store,
		box:     deps.Box,
		log:     log.Named("deploy"),
		metrics: deps.Metrics,
		journal: deps.Journal,
		api:     api,
		hosts:   deps.Hosts,
		opts:    opts,
		layout:  layout,
		builder: artifact.Builder{
			Layout:       layout,
			AccessLog:    opts.Proxy.AccessLog,
			AppSecListen: artifact.AppSecListenAddr(opts.Engine.AppSecHost),
		},
		now:   time.Now,
		sleep: sleepContext,
	}
}

// Builder exposes the artifact builder the orchestrator deploys with.
func (o *Orchestrator) Builder() artifact.Builder {
	return o.builder
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run executes cmds on host and narrates the outcome.
func (o *Orchestrator) run(ctx context.Context, host remote.Host, op string, cmds ...string) (string, error) {
	start := o.now()
	out, err := o.exec.Run(ctx, host, cmds...)
	o.metrics.ObserveRemote(host.Name, op, err)
	fields := []zap.Field{
		zap.String("op", op),
		zap.String("server", host.Name),
		zap.Duration("duration", o.now().Sub(start)),
	}
	if err != nil {
		o.log.Warn("remote command failed", append(fields, zap.String("outcome", "error"), zap.Error(err), zap.String("output", trimOutput(out)))...)
		return out, fmt.Errorf("%s on %s: %w", op, host.Name, err)
	}
	o.log.Info("remote command", append(fields, zap.String("outcome", "ok"))...)
	return out, nil
}

func (o *Orchestrator) copy(ctx context.Context, host remote.Host, localPath, remotePath string, extra ...zap.Field) error {
	err := o.copier.Copy(ctx, host, localPath, remotePath)
	o.metrics.ObserveRemote(host.Name, "copy", err)
	if err != nil {
		o.log.Warn("copy failed", zap.String("op", "copy"), zap.String("server", host.Name), zap.String("path", remotePath), zap.String("outcome", "error"), zap.Error(err))
		return fmt.Errorf("copy %s to %s: %w", remotePath, host.Name, err)
	}
	o.log.Info("copied file", append([]zap.Field{zap.String("op", "copy"), zap.String("server", host.Name), zap.String("path", remotePath), zap.String("outcome", "ok")}, extra...)...)
	return nil
}

// push stages set locally and copies every artifact to its remote path.
func (o *Orchestrator) push(ctx context.Context, host remote.Host, set artifact.Set) error {
	if len(set) == 0 {
		return nil
	}
	dir, err := os.MkdirTemp(o.opts.Deploy.StagingDir, "sentinel-stage-*")
	if err != nil {
		return fmt.Errorf("staging dir: %w", err)
	}
	defer os.RemoveAll(dir)

	local, err := artifact.Stage(dir, o.layout, set)
	if err != nil {
		return err
	}
	for _, a := range set {
		if err := o.copy(ctx, host, local[a.RemotePath], a.RemotePath, zap.String("digest", a.Digest())); err != nil {
			return err
		}
	}
	return nil
}

// pushFile writes content to an arbitrary remote path outside the layout.
func (o *Orchestrator) pushFile(ctx context.Context, host remote.Host, remotePath string, content []byte) error {
	dir, err := os.MkdirTemp(o.opts.Deploy.StagingDir, "sentinel-file-*")
	if err != nil {
		return fmt.Errorf("staging dir: %w", err)
	}
	defer os.RemoveAll(dir)

	local := filepath.Join(dir, filepath.Base(remotePath))
	if err := os.WriteFile(local, content, 0o600); err != nil {
		return fmt.Errorf("stage %s: %w", remotePath, err)
	}
	return o.copy(ctx, host, local, remotePath)
}

func (o *Orchestrator) containerUp(ctx context.Context, host remote.Host, name string) (bool, error) {
	out, err := o.run(ctx, host, "container_status",
		fmt.Sprintf("docker ps --filter %s --format %s", remote.Quote("name=^"+name+"$"), remote.Quote("{{.Status}}")))
	if err != nil {
		return false, err
	}
	return strings.HasPrefix(strings.TrimSpace(out), "Up"), nil
}

func (o *Orchestrator) cscli(args string) string {
	return fmt.Sprintf("docker exec %s cscli %s", remote.Quote(o.opts.Engine.Container), args)
}

func (o *Orchestrator) reloadEngine(ctx context.Context, host remote.Host) error {
	_, err := o.run(ctx, host, "reload_engine",
		fmt.Sprintf("docker exec %s kill -SIGHUP 1", remote.Quote(o.opts.Engine.Container)))
	return err
}

func (o *Orchestrator) reloadProxy(ctx context.Context, host remote.Host) error {
	_, err := o.run(ctx, host, "reload_proxy",
		fmt.Sprintf("docker kill --signal=HUP %s", remote.Quote(o.opts.Proxy.Container)))
	return err
}

func trimOutput(out string) string {
	out = strings.TrimSpace(out)
	if len(out) > 512 {
		return out[:512]
	}
	return out
}

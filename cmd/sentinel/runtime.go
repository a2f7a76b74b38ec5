package main

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/sentinelhq/sentinel/internal/api"
	"github.com/sentinelhq/sentinel/internal/artifact"
	"github.com/sentinelhq/sentinel/internal/config"
	"github.com/sentinelhq/sentinel/internal/deploy"
	"github.com/sentinelhq/sentinel/internal/ledger"
	"github.com/sentinelhq/sentinel/internal/logging"
	"github.com/sentinelhq/sentinel/internal/metrics"
	"github.com/sentinelhq/sentinel/internal/observability"
	"github.com/sentinelhq/sentinel/internal/remote"
	"github.com/sentinelhq/sentinel/internal/rules"
	"github.com/sentinelhq/sentinel/internal/secrets"
)

// runtime holds everything a command needs to talk to servers.
type runtime struct {
	cfg     *config.Config
	log     *zap.Logger
	store   ledger.Store
	box     *secrets.Box
	ssh     *remote.SSH
	journal *logging.Journal
	reg     *prometheus.Registry
	obs     *observability.Metrics
	orch    *deploy.Orchestrator

	closers []func() error
}

func newRuntime(cfg *config.Config) (*runtime, error) {
	rt := &runtime{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			rt.Close()
		}
	}()

	log, err := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.ResolvePath(cfg.Logging.File),
	})
	if err != nil {
		return nil, err
	}
	rt.log = log
	rt.closers = append(rt.closers, func() error { _ = log.Sync(); return nil })

	if cfg.Logging.Journal != "" {
		journal, closer, err := logging.OpenJournal(cfg.ResolvePath(cfg.Logging.Journal))
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		rt.journal = journal
		rt.closers = append(rt.closers, closer)
	}

	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	rt.store = store
	rt.closers = append(rt.closers, store.Close)

	box, err := secrets.LoadBox(cfg.ResolvePath(cfg.Secrets.KeyFile))
	if err != nil {
		return nil, err
	}
	rt.box = box

	rt.ssh = remote.NewSSH(cfg.Timeouts.Remote)
	rt.closers = append(rt.closers, rt.ssh.Close)

	rt.reg = prometheus.NewRegistry()
	rt.obs = observability.NewMetrics(rt.reg)

	rt.orch = deploy.New(deploy.Deps{
		Exec:    rt.ssh,
		Copier:  rt.ssh,
		Store:   rt.store,
		Box:     rt.box,
		Logger:  rt.log,
		Metrics: rt.obs,
		Journal: rt.journal,
		Hosts: func(name string) (remote.Host, bool) {
			host, err := rt.host(name)
			return host, err == nil
		},
	}, deploy.Options{
		Engine:     cfg.Engine,
		Proxy:      cfg.Proxy,
		Deploy:     cfg.Deploy,
		APITimeout: cfg.Timeouts.API,
	})

	ok = true
	return rt, nil
}

func openStore(cfg *config.Config) (ledger.Store, error) {
	path := cfg.ResolvePath(cfg.State.Path)
	switch cfg.State.Driver {
	case config.StateSQLite:
		return ledger.OpenSQLite(path)
	default:
		return ledger.OpenFile(path)
	}
}

// Close releases resources in reverse order of acquisition.
func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		_ = rt.closers[i]()
	}
	rt.closers = nil
}

func (rt *runtime) host(name string) (remote.Host, error) {
	s, ok := rt.cfg.Server(name)
	if !ok {
		return remote.Host{}, fmt.Errorf("unknown server %q", name)
	}
	return rt.cfg.Host(s), nil
}

func (rt *runtime) resolver() api.ConfigResolver {
	return api.ConfigResolver{Config: rt.cfg, Store: rt.store, Box: rt.box, Log: rt.log}
}

// reconciler builds the metrics reconciler, enriching with GeoIP when a
// database is configured.
func (rt *runtime) reconciler() (*metrics.Reconciler, error) {
	if rt.cfg.GeoIP.Database == "" {
		return metrics.NewReconciler(rt.ssh, nil, rt.log), nil
	}
	db, err := metrics.OpenGeoIP(rt.cfg.ResolvePath(rt.cfg.GeoIP.Database))
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, db.Close)
	return metrics.NewReconciler(rt.ssh, db, rt.log), nil
}

func newBuilder(cfg *config.Config) artifact.Builder {
	return artifact.Builder{
		Layout:       artifact.Layout{Root: cfg.Engine.ConfigRoot},
		AccessLog:    cfg.Proxy.AccessLog,
		AppSecListen: artifact.AppSecListenAddr(cfg.Engine.AppSecHost),
	}
}

func describeDiagnostic(d rules.Diagnostic) string {
	if d.Dialect == "" {
		return fmt.Sprintf("condition %d skipped: %s", d.Condition, d.Reason)
	}
	return fmt.Sprintf("condition %d skipped for %s: %s", d.Condition, d.Dialect, d.Reason)
}

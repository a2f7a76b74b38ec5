package api

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sentinelhq/sentinel/internal/config"
	"github.com/sentinelhq/sentinel/internal/engine"
	"github.com/sentinelhq/sentinel/internal/ledger"
	"github.com/sentinelhq/sentinel/internal/metrics"
	"github.com/sentinelhq/sentinel/internal/remote"
	"github.com/sentinelhq/sentinel/internal/secrets"
)

// Resolver maps configured server names to connection details.
type Resolver interface {
	Host(name string) (remote.Host, bool)
	Target(ctx context.Context, name string) (metrics.Target, bool)
}

// ConfigResolver resolves servers from the configuration file. Metrics
// targets use the engine HTTP API when the server has a recorded key.
type ConfigResolver struct {
	Config *config.Config
	Store  ledger.Store
	Box    *secrets.Box
	Log    *zap.Logger
}

func (r ConfigResolver) Host(name string) (remote.Host, bool) {
	s, ok := r.Config.Server(name)
	if !ok {
		return remote.Host{}, false
	}
	return r.Config.Host(s), true
}

func (r ConfigResolver) Target(ctx context.Context, name string) (metrics.Target, bool) {
	host, ok := r.Host(name)
	if !ok {
		return metrics.Target{}, false
	}
	t := metrics.Target{
		Host:            host,
		EngineContainer: r.Config.Engine.Container,
		ProxyContainer:  r.Config.Proxy.Container,
		AccessLog:       r.Config.Proxy.AccessLog,
		LogLines:        r.Config.Proxy.LogLines,
	}
	if client := r.engineClient(ctx, name); client != nil {
		t.API = client
	}
	return t, true
}

func (r ConfigResolver) engineClient(ctx context.Context, name string) *engine.Client {
	if r.Store == nil || r.Box == nil {
		return nil
	}
	st, ok, err := r.Store.Server(ctx, name)
	if err != nil || !ok || st.LAPIURL == "" || st.EncryptedAPIKey == "" {
		return nil
	}
	key, err := r.Box.Open(st.EncryptedAPIKey)
	if err != nil {
		if r.Log != nil {
			r.Log.Warn("server api key unreadable", zap.String("server", name), zap.Error(err))
		}
		return nil
	}
	timeout := r.Config.Timeouts.API
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client, err := engine.NewClient(st.LAPIURL, key, timeout)
	if err != nil {
		return nil
	}
	return client
}

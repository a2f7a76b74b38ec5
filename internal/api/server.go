// Package api is the HTTP surface the rule editing layer calls. Pushes are
// queued and answered with 202; the deployment itself runs later.
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/sentinelhq/sentinel/internal/deploy"
	"github.com/sentinelhq/sentinel/internal/metrics"
	"github.com/sentinelhq/sentinel/internal/observability"
	"github.com/sentinelhq/sentinel/internal/policy"
	"github.com/sentinelhq/sentinel/internal/queue"
	"github.com/sentinelhq/sentinel/internal/ratelimit"
	"github.com/sentinelhq/sentinel/internal/remote"
)

type Deployer interface {
	Deploy(ctx context.Context, app policy.Application, host remote.Host) (deploy.Result, error)
	Health(ctx context.Context, host remote.Host) deploy.HealthReport
}

type MetricsSource interface {
	Metrics(ctx context.Context, appUUID string, t metrics.Target, window time.Duration) metrics.Report
}

type Enqueuer interface {
	Enqueue(key string, job queue.Job) error
}

type Limits struct {
	RPS   float64
	Burst int
}

type Server struct {
	deployer Deployer
	metrics  MetricsSource
	queue    Enqueuer
	resolver Resolver
	limiter  *ratelimit.Limiter
	limits   Limits
	log      *zap.Logger
	obs      *observability.Metrics

	mu   sync.RWMutex
	apps map[string]policy.Application

	now func() time.Time
}

type Options struct {
	Deployer     Deployer
	Metrics      MetricsSource
	Queue        Enqueuer
	Resolver     Resolver
	Limits       Limits
	Logger       *zap.Logger
	Observer     *observability.Metrics
	Applications []policy.Application
}

func NewServer(opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		deployer: opts.Deployer,
		metrics:  opts.Metrics,
		queue:    opts.Queue,
		resolver: opts.Resolver,
		limiter:  ratelimit.NewLimiter(),
		limits:   opts.Limits,
		log:      log.Named("api"),
		obs:      opts.Observer,
		apps:     make(map[string]policy.Application, len(opts.Applications)),
		now:      time.Now,
	}
	for _, app := range opts.Applications {
		s.apps[app.UUID] = app
	}
	return s
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Route("/v1", func(r chi.Router) {
		r.Route("/applications/{uuid}", func(r chi.Router) {
			r.Get("/firewall", s.getFirewall)
			r.Put("/firewall", s.putFirewall)
			r.Delete("/firewall", s.deleteFirewall)
			r.Post("/firewall/templates/{key}", s.importTemplate)
			r.Get("/metrics", s.getMetrics)
		})
		r.Get("/servers/{name}/health", s.getHealth)
		r.Get("/templates", s.listTemplates)
	})
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := s.now()
		next.ServeHTTP(ww, r)
		s.log.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", s.now().Sub(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) application(uuid string) (policy.Application, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	app, ok := s.apps[uuid]
	return app, ok
}

func (s *Server) store(app policy.Application) {
	s.mu.Lock()
	s.apps[app.UUID] = app
	s.mu.Unlock()
}

// update applies fn to a copy of the stored application and keeps the
// result only when fn succeeds.
func (s *Server) update(uuid string, fn func(*policy.Application) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	app, ok := s.apps[uuid]
	if !ok {
		return fmt.Errorf("unknown application %s", uuid)
	}
	app.Firewall.Rules = append([]policy.FirewallRule(nil), app.Firewall.Rules...)
	if err := fn(&app); err != nil {
		return err
	}
	s.apps[uuid] = app
	return nil
}

// schedule queues a push of whatever snapshot is current when the job
// runs, so coalesced edits deploy the newest state.
func (s *Server) schedule(uuid string) error {
	return s.queue.Enqueue(uuid, func(ctx context.Context) {
		app, ok := s.application(uuid)
		if !ok {
			return
		}
		host, ok := s.resolver.Host(app.Server)
		if !ok {
			s.log.Error("application server not configured", zap.String("app", uuid), zap.String("server", app.Server))
			return
		}
		if _, err := s.deployer.Deploy(ctx, app, host); err != nil {
			s.log.Warn("queued deployment failed", zap.String("app", uuid), zap.Error(err))
		}
	})
}

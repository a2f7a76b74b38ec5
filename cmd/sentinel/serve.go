package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sentinelhq/sentinel/internal/api"
	"github.com/sentinelhq/sentinel/internal/queue"
)

func newServeCmd() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the deployment API and process queued pushes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.API.Listen = listen
			}
			if cfg.API.Listen == "" {
				return errors.New("api.listen is required to serve")
			}
			rt, err := newRuntime(cfg)
			if err != nil {
				return err
			}
			defer rt.Close()
			return serve(cmd.Context(), rt)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "Override api.listen")

	return cmd
}

func serve(ctx context.Context, rt *runtime) error {
	cfg := rt.cfg
	rec, err := rt.reconciler()
	if err != nil {
		return err
	}

	q := queue.New(cfg.Deploy.Debounce, rt.log, rt.obs)
	server := api.NewServer(api.Options{
		Deployer:     rt.orch,
		Metrics:      rec,
		Queue:        q,
		Resolver:     rt.resolver(),
		Limits:       api.Limits{RPS: cfg.API.TriggerRPS, Burst: cfg.API.TriggerBurst},
		Logger:       rt.log,
		Observer:     rt.obs,
		Applications: cfg.Applications,
	})

	metricsSrv := startMetricsServer(rt)
	defer func() {
		if metricsSrv != nil {
			_ = metricsSrv.Shutdown(context.Background())
		}
	}()

	srv := &http.Server{
		Addr:              cfg.API.Listen,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		rt.log.Info("api listening", zap.String("addr", cfg.API.Listen))
		serverErr <- srv.ListenAndServe()
	}()

	signalCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-signalCtx.Done():
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			q.Close()
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)

	// Pending pushes still run so the last edit reaches the server.
	rt.log.Info("draining deploy queue", zap.Int("pending", q.Pending()))
	q.Close()
	return err
}

func startMetricsServer(rt *runtime) *http.Server {
	if !rt.cfg.Metrics.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", rt.obs.Handler(rt.reg))

	srv := &http.Server{Addr: rt.cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.log.Warn("metrics listener stopped", zap.Error(err))
		}
	}()
	return srv
}

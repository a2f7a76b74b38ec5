package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sentinelhq/sentinel/internal/policy"
	"github.com/sentinelhq/sentinel/internal/queue"
	"github.com/sentinelhq/sentinel/internal/ratelimit"
)

const maxBody = 1 << 20

type errorResponse struct {
	Error    string   `json:"error"`
	Problems []string `json:"problems,omitempty"`
}

type queuedResponse struct {
	Status  string `json:"status"`
	AppUUID string `json:"appUuid"`
	RuleID  string `json:"ruleId,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func (s *Server) getFirewall(w http.ResponseWriter, r *http.Request) {
	uuid := chi.URLParam(r, "uuid")
	app, ok := s.application(uuid)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown application")
		return
	}
	writeJSON(w, http.StatusOK, app)
}

// putFirewall replaces the application's snapshot and queues a push.
func (s *Server) putFirewall(w http.ResponseWriter, r *http.Request) {
	uuid := chi.URLParam(r, "uuid")
	if err := policy.ValidateUUID(uuid); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var app policy.Application
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	if err := dec.Decode(&app); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	app.UUID = uuid
	if app.Server == "" {
		if prev, ok := s.application(uuid); ok {
			app.Server = prev.Server
		}
	}
	if _, ok := s.resolver.Host(app.Server); !ok {
		writeError(w, http.StatusUnprocessableEntity, "unknown server "+app.Server)
		return
	}
	if problems := app.Firewall.RuleProblems(); len(problems) > 0 {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "invalid rules", Problems: problems})
		return
	}

	if !s.allow(uuid) {
		writeError(w, http.StatusTooManyRequests, "too many deployments for this application")
		return
	}
	app.Firewall.ApplyDefaults()
	s.store(app)
	s.enqueue(w, queuedResponse{AppUUID: uuid})
}

// deleteFirewall disables the application's firewall. The config is kept
// so it can be enabled again.
func (s *Server) deleteFirewall(w http.ResponseWriter, r *http.Request) {
	uuid := chi.URLParam(r, "uuid")
	app, ok := s.application(uuid)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown application")
		return
	}
	if !s.allow(uuid) {
		writeError(w, http.StatusTooManyRequests, "too many deployments for this application")
		return
	}
	app.Firewall.Enabled = false
	s.store(app)
	s.enqueue(w, queuedResponse{AppUUID: uuid})
}

func (s *Server) listTemplates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, policy.Templates())
}

// importTemplate adds a catalogue rule to the application and queues a push.
func (s *Server) importTemplate(w http.ResponseWriter, r *http.Request) {
	uuid := chi.URLParam(r, "uuid")
	key := chi.URLParam(r, "key")
	if _, ok := s.application(uuid); !ok {
		writeError(w, http.StatusNotFound, "unknown application")
		return
	}
	if _, ok := policy.LookupTemplate(key); !ok {
		writeError(w, http.StatusNotFound, "unknown template "+key)
		return
	}
	if !s.allow(uuid) {
		writeError(w, http.StatusTooManyRequests, "too many deployments for this application")
		return
	}

	var rule policy.FirewallRule
	err := s.update(uuid, func(app *policy.Application) error {
		var err error
		if rule, err = app.Firewall.ImportTemplate(key); err != nil {
			return err
		}
		app.Firewall.ApplyDefaults()
		return nil
	})
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	s.enqueue(w, queuedResponse{AppUUID: uuid, RuleID: rule.ID})
}

func (s *Server) allow(uuid string) bool {
	return s.allowKey(ratelimit.Key(ratelimit.KeyApp, uuid))
}

func (s *Server) allowKey(key string) bool {
	ok := s.limiter.Allow(key, s.limits.RPS, s.limits.Burst, s.now())
	if !ok {
		s.obs.ObserveTrigger("limited")
	}
	return ok
}

func (s *Server) enqueue(w http.ResponseWriter, resp queuedResponse) {
	if err := s.schedule(resp.AppUUID); err != nil {
		if errors.Is(err, queue.ErrClosed) {
			writeError(w, http.StatusServiceUnavailable, "shutting down")
			return
		}
		s.log.Error("enqueue failed", zap.String("app", resp.AppUUID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "enqueue failed")
		return
	}
	s.obs.ObserveTrigger("queued")
	resp.Status = "queued"
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) getMetrics(w http.ResponseWriter, r *http.Request) {
	uuid := chi.URLParam(r, "uuid")
	app, ok := s.application(uuid)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown application")
		return
	}
	window := 24 * time.Hour
	if raw := r.URL.Query().Get("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "invalid window")
			return
		}
		window = d
	}
	target, ok := s.resolver.Target(r.Context(), app.Server)
	if !ok {
		writeError(w, http.StatusUnprocessableEntity, "unknown server "+app.Server)
		return
	}
	writeJSON(w, http.StatusOK, s.metrics.Metrics(r.Context(), uuid, target, window))
}

func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	host, ok := s.resolver.Host(name)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown server")
		return
	}
	// Each check runs several remote commands on the server.
	if !s.allowKey(ratelimit.Key(ratelimit.KeyServer, name)) {
		writeError(w, http.StatusTooManyRequests, "too many health checks for this server")
		return
	}
	report := s.deployer.Health(r.Context(), host)
	status := http.StatusOK
	if !report.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

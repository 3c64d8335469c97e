// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

// Trigger starts passes on demand. Both methods return immediately.
type Trigger interface {
	TriggerRemoval()
	TriggerAllClear()
}

type MetricsServer struct {
	manager        *Manager
	trigger        Trigger
	server         *http.Server
	basicAuthUsers map[string]string
}

// NewMetricsServer builds the HTTP server exposing /metrics and, when trigger
// is non-nil and basic auth is configured, the manual run endpoints.
// basicAuthUsers is a comma separated list of "user:bcrypt_hash" entries;
// malformed entries are skipped.
func NewMetricsServer(manager *Manager, host string, port int, basicAuthUsers string, trigger Trigger) *MetricsServer {
	s := &MetricsServer{
		manager:        manager,
		trigger:        trigger,
		basicAuthUsers: parseBasicAuthUsers(basicAuthUsers),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if len(s.basicAuthUsers) > 0 {
		r.Use(s.basicAuth)
	}

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(manager.GetRegistry(), promhttp.HandlerOpts{}))

	switch {
	case trigger == nil:
	case len(s.basicAuthUsers) == 0:
		log.Warn().Msg("metrics: run endpoints disabled, metricsBasicAuthUsers not set")
	default:
		r.Route("/api/run", func(r chi.Router) {
			r.Post("/removal", s.handleRunRemoval)
			r.Post("/all-clear", s.handleRunAllClear)
		})
	}

	s.server = &http.Server{
		Addr:              net.JoinHostPort(host, strconv.Itoa(port)),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

func parseBasicAuthUsers(raw string) map[string]string {
	users := make(map[string]string)
	for entry := range strings.SplitSeq(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		user, hash, ok := strings.Cut(entry, ":")
		if !ok || user == "" || hash == "" {
			log.Warn().Msg("metrics: skipping malformed basic auth entry")
			continue
		}
		users[user] = hash
	}
	return users
}

func (s *MetricsServer) basicAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if ok {
			if hash, found := s.basicAuthUsers[user]; found &&
				bcrypt.CompareHashAndPassword([]byte(hash), []byte(pass)) == nil {
				next.ServeHTTP(w, r)
				return
			}
		}

		w.Header().Set("WWW-Authenticate", `Basic realm="autoclear metrics"`)
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
	})
}

func (s *MetricsServer) handleRunRemoval(w http.ResponseWriter, _ *http.Request) {
	s.trigger.TriggerRemoval()
	w.WriteHeader(http.StatusAccepted)
}

func (s *MetricsServer) handleRunAllClear(w http.ResponseWriter, _ *http.Request) {
	s.trigger.TriggerAllClear()
	w.WriteHeader(http.StatusAccepted)
}

func (s *MetricsServer) ListenAndServe() error {
	log.Info().Str("addr", s.server.Addr).Msg("starting metrics server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *MetricsServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

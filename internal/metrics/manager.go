// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/autoclear/internal/torrent"
)

const namespace = "autoclear"

type Manager struct {
	registry *prometheus.Registry

	passes        *prometheus.CounterVec
	actions       *prometheus.CounterVec
	failures      *prometheus.CounterVec
	cancellations *prometheus.CounterVec
	lastPass      *prometheus.GaugeVec
	allClearRuns  *prometheus.CounterVec
}

func NewManager() *Manager {
	registry := prometheus.NewRegistry()

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Manager{
		registry: registry,
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "removal_passes_total",
			Help:      "Removal passes per downloader, by result",
		}, []string{"downloader", "result"}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "torrent_actions_total",
			Help:      "Torrents acted on, by downloader and action",
		}, []string{"downloader", "action"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "torrent_action_failures_total",
			Help:      "Per-torrent action failures, by downloader and action",
		}, []string{"downloader", "action"}),
		cancellations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "removal_pass_cancellations_total",
			Help:      "Removal passes stopped before every candidate was processed",
		}, []string{"downloader"}),
		lastPass: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_removal_pass_timestamp_seconds",
			Help:      "Unix time of the last completed removal pass",
		}, []string{"downloader"}),
		allClearRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "all_clear_runs_total",
			Help:      "All-clear runs, by result",
		}, []string{"result"}),
	}

	registry.MustRegister(m.passes, m.actions, m.failures, m.cancellations, m.lastPass, m.allClearRuns)

	log.Debug().Msg("metrics manager initialized")

	return m
}

func (m *Manager) GetRegistry() *prometheus.Registry {
	return m.registry
}

// ObserveSummary records the outcome of one downloader's removal pass.
func (m *Manager) ObserveSummary(s torrent.Summary) {
	if m == nil {
		return
	}

	action := string(s.Action)
	m.passes.WithLabelValues(s.Downloader, "ok").Inc()
	m.actions.WithLabelValues(s.Downloader, action).Add(float64(len(s.Acted)))
	m.failures.WithLabelValues(s.Downloader, action).Add(float64(len(s.Failed)))
	if s.Cancelled {
		m.cancellations.WithLabelValues(s.Downloader).Inc()
	}
	m.lastPass.WithLabelValues(s.Downloader).SetToCurrentTime()
}

// ObservePassError records a pass that could not list or evaluate torrents.
func (m *Manager) ObservePassError(downloader string) {
	if m == nil {
		return
	}
	m.passes.WithLabelValues(downloader, "error").Inc()
}

func (m *Manager) ObserveAllClear(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.allClearRuns.WithLabelValues(result).Inc()
}

// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package qbittorrent

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/autobrr/autoclear/internal/domain"
	"github.com/autobrr/autoclear/internal/torrent"
)

const (
	defaultTimeout          = 60 * time.Second
	minHealthCheckInterval  = 20 * time.Second
	trackerFetchConcurrency = 8
)

// Torrent lists carry tracker details from WebAPI 2.11.4 (qBittorrent 5.1).
var includeTrackersMinVersion = semver.MustParse("2.11.4")

type Client struct {
	api  *qbt.Client
	name string
	host string

	mu                      sync.RWMutex
	webAPIVersion           string
	supportsIncludeTrackers bool

	healthMu        sync.RWMutex
	lastHealthCheck time.Time
	isHealthy       bool
}

// NewClient logs in to the qBittorrent instance described by cfg.
func NewClient(ctx context.Context, cfg domain.DownloaderConfig) (*Client, error) {
	timeout := defaultTimeout
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Second
	}

	qcfg := qbt.Config{
		Host:          cfg.Host,
		Username:      cfg.Username,
		Password:      cfg.Password,
		Timeout:       int(timeout.Seconds()),
		TLSSkipVerify: cfg.TLSSkipVerify,
	}
	if cfg.BasicUsername != "" {
		qcfg.BasicUser = cfg.BasicUsername
		qcfg.BasicPass = cfg.BasicPassword
	}

	api := qbt.NewClient(qcfg)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := api.LoginCtx(ctx); err != nil {
		return nil, errors.Wrapf(err, "failed to connect to qBittorrent %s", cfg.Name)
	}

	client := &Client{
		api:  api,
		name: cfg.Name,
		host: cfg.Host,
	}

	if err := client.RefreshCapabilities(ctx); err != nil {
		log.Warn().
			Err(err).
			Str("downloader", cfg.Name).
			Str("host", cfg.Host).
			Msg("Failed to refresh qBittorrent capabilities during client creation")
		client.updateHealthStatus(false)
	} else {
		client.updateHealthStatus(true)
	}

	log.Debug().
		Str("downloader", cfg.Name).
		Str("host", cfg.Host).
		Str("webAPIVersion", client.WebAPIVersion()).
		Bool("includeTrackers", client.SupportsIncludeTrackers()).
		Bool("tlsSkipVerify", cfg.TLSSkipVerify).
		Msg("qBittorrent client created successfully")

	return client, nil
}

func (c *Client) Name() string { return c.name }
func (c *Client) Type() string { return domain.DownloaderQbittorrent }

// RefreshCapabilities fetches the WebAPI version and recalculates feature support.
func (c *Client) RefreshCapabilities(ctx context.Context) error {
	version, err := c.api.GetWebAPIVersionCtx(ctx)
	if err != nil {
		return err
	}

	version = strings.TrimSpace(version)
	if version == "" {
		return errors.New("web API version is empty")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.applyCapabilitiesLocked(version)
	return nil
}

func (c *Client) applyCapabilitiesLocked(version string) {
	c.webAPIVersion = version

	v, err := semver.NewVersion(version)
	if err != nil {
		log.Warn().
			Str("downloader", c.name).
			Str("webAPIVersion", version).
			Err(err).
			Msg("Failed to parse qBittorrent WebAPI version; leaving capability flags unchanged")
		return
	}

	c.supportsIncludeTrackers = !v.LessThan(includeTrackersMinVersion)
}

func (c *Client) WebAPIVersion() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.webAPIVersion
}

func (c *Client) SupportsIncludeTrackers() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.supportsIncludeTrackers
}

func (c *Client) updateHealthStatus(healthy bool) {
	c.healthMu.Lock()
	defer c.healthMu.Unlock()
	c.isHealthy = healthy
	c.lastHealthCheck = time.Now()
}

func (c *Client) IsHealthy() bool {
	c.healthMu.RLock()
	defer c.healthMu.RUnlock()
	return c.isHealthy
}

// HealthCheck re-validates the session unless a check succeeded recently.
func (c *Client) HealthCheck(ctx context.Context) error {
	c.healthMu.RLock()
	recent := c.isHealthy && time.Since(c.lastHealthCheck) < minHealthCheckInterval
	c.healthMu.RUnlock()
	if recent {
		return nil
	}

	if err := c.RefreshCapabilities(ctx); err != nil {
		c.updateHealthStatus(false)
		return errors.Wrap(err, "health check failed")
	}

	c.updateHealthStatus(true)
	return nil
}

// Torrents lists all torrents and keeps those carrying one of tags. The tag
// filter is applied locally since the WebAPI only filters by a single tag.
func (c *Client) Torrents(ctx context.Context, tags []string) ([]torrent.Record, error) {
	includeTrackers := c.SupportsIncludeTrackers()

	list, err := c.api.GetTorrentsCtx(ctx, qbt.TorrentFilterOptions{
		Filter:          qbt.TorrentFilterAll,
		IncludeTrackers: includeTrackers,
	})
	if err != nil {
		c.updateHealthStatus(false)
		return nil, errors.Wrap(err, "could not get torrents")
	}

	matched := make([]qbt.Torrent, 0, len(list))
	for _, t := range list {
		if torrent.HasAnyTag(torrent.SplitTags(t.Tags), tags) {
			matched = append(matched, t)
		}
	}

	// Older instances need a request per torrent for tracker details. Without
	// them Record.Error is empty and only the current tracker is known.
	if !includeTrackers {
		c.hydrateTrackers(ctx, matched)
	}

	records := make([]torrent.Record, 0, len(matched))
	for _, t := range matched {
		records = append(records, toRecord(t))
	}

	return records, nil
}

func (c *Client) hydrateTrackers(ctx context.Context, list []qbt.Torrent) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(trackerFetchConcurrency)

	for i := range list {
		g.Go(func() error {
			trackers, err := c.api.GetTorrentTrackersCtx(gctx, list[i].Hash)
			if err != nil {
				log.Debug().Err(err).Str("downloader", c.name).Str("hash", list[i].Hash).Msg("autoremove: could not load trackers")
				return nil
			}
			list[i].Trackers = trackers
			return nil
		})
	}

	_ = g.Wait()
}

func (c *Client) Stop(ctx context.Context, ids []string) error {
	return errors.Wrap(c.api.PauseCtx(ctx, ids), "could not pause torrents")
}

func (c *Client) Delete(ctx context.Context, ids []string, deleteFiles bool) error {
	return errors.Wrap(c.api.DeleteTorrentsCtx(ctx, ids, deleteFiles), "could not delete torrents")
}

func (c *Client) AddTags(ctx context.Context, ids []string, tags []string) error {
	return errors.Wrap(c.api.AddTagsCtx(ctx, ids, strings.Join(tags, ",")), "could not add tags")
}

// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package housekeeping runs the scheduled removal pass and the all-clear
// workflow across the configured download clients.
package housekeeping

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/autobrr/autoclear/internal/criteria"
	"github.com/autobrr/autoclear/internal/domain"
	"github.com/autobrr/autoclear/internal/metrics"
	"github.com/autobrr/autoclear/internal/plex"
	"github.com/autobrr/autoclear/internal/reconcile"
	"github.com/autobrr/autoclear/internal/services/notifications"
	"github.com/autobrr/autoclear/internal/torrent"
)

const lockRetryDelay = 250 * time.Millisecond

// ClientProvider resolves a configured downloader name to a connected client.
type ClientProvider interface {
	Get(ctx context.Context, name string) (torrent.Client, error)
}

// WatchedLister lists the file paths of fully watched media.
type WatchedLister interface {
	Watched(ctx context.Context, sections []string) ([]string, error)
}

type Options struct {
	Clients ClientProvider

	// MediaServer builds the watched lister for a media server definition.
	// Defaults to a Plex client.
	MediaServer func(domain.MediaServerConfig) WatchedLister

	Notifier notifications.Notifier
	Metrics  *metrics.Manager

	// LockPath enables a file lock that serializes removal passes across
	// processes sharing the data directory.
	LockPath string
}

type Service struct {
	clients     ClientProvider
	mediaServer func(domain.MediaServerConfig) WatchedLister
	notifier    notifications.Notifier
	metrics     *metrics.Manager
	fileLock    *flock.Flock
	now         func() time.Time
	unlink      func(string) error

	cfgMu sync.RWMutex
	cfg   domain.Config

	runMu sync.Mutex
	group singleflight.Group

	schedMu   sync.Mutex
	scheduler *cron.Cron
	baseCtx   context.Context
	cancel    context.CancelFunc
}

func NewService(cfg domain.Config, opts Options) *Service {
	s := &Service{
		clients:     opts.Clients,
		mediaServer: opts.MediaServer,
		notifier:    opts.Notifier,
		metrics:     opts.Metrics,
		now:         time.Now,
		unlink:      os.Remove,
		cfg:         cfg,
	}
	if s.mediaServer == nil {
		s.mediaServer = func(ms domain.MediaServerConfig) WatchedLister {
			return plex.NewClient(ms, nil)
		}
	}
	if opts.LockPath != "" {
		s.fileLock = flock.New(opts.LockPath)
	}
	return s
}

func (s *Service) snapshot() domain.Config {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.cfg
}

// Enabled reports whether the removal pass can be scheduled.
func (s *Service) Enabled() bool {
	cfg := s.snapshot()
	return cfg.RemovalConfigured()
}

// Start registers the cron entry when the service is enabled. Passes started
// by the scheduler or by a trigger run under a context derived from ctx.
func (s *Service) Start(ctx context.Context) {
	s.schedMu.Lock()
	defer s.schedMu.Unlock()

	if s.cancel != nil {
		return
	}
	s.baseCtx, s.cancel = context.WithCancel(ctx)
	s.scheduleLocked()
}

// Stop halts the scheduler and cancels in-flight passes. A pass stops
// between candidates; an action already started completes.
func (s *Service) Stop() {
	s.schedMu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	scheduler := s.scheduler
	s.scheduler = nil
	s.schedMu.Unlock()

	if scheduler != nil {
		<-scheduler.Stop().Done()
	}
}

// Reload swaps in a new configuration and re-registers the cron entry.
func (s *Service) Reload(cfg *domain.Config) {
	if cfg == nil {
		return
	}

	s.cfgMu.Lock()
	s.cfg = *cfg
	s.cfgMu.Unlock()

	s.schedMu.Lock()
	defer s.schedMu.Unlock()
	if s.cancel == nil {
		return
	}
	if s.scheduler != nil {
		s.scheduler.Stop()
		s.scheduler = nil
	}
	s.scheduleLocked()
}

func (s *Service) scheduleLocked() {
	cfg := s.snapshot()
	if !cfg.RemovalConfigured() {
		log.Info().
			Bool("enabled", cfg.Enabled).
			Str("cron", cfg.Cron).
			Int("downloaders", len(cfg.Remove.Downloaders)).
			Msg("autoremove: not scheduled, configuration incomplete")
		return
	}

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.Cron, func() {
		s.RunRemovalPass(s.baseContext())
	}); err != nil {
		log.Error().Err(err).Str("cron", cfg.Cron).Msg("autoremove: invalid cron expression")
		return
	}
	scheduler.Start()
	s.scheduler = scheduler

	log.Info().Str("cron", cfg.Cron).Strs("downloaders", cfg.Remove.Downloaders).Msg("autoremove: scheduled")
}

func (s *Service) baseContext() context.Context {
	s.schedMu.Lock()
	defer s.schedMu.Unlock()
	if s.baseCtx == nil {
		return context.Background()
	}
	return s.baseCtx
}

// TriggerRemoval starts a removal pass in the background.
func (s *Service) TriggerRemoval() {
	ctx := s.baseContext()
	go s.RunRemovalPass(ctx)
}

// TriggerAllClear starts the all-clear workflow in the background.
func (s *Service) TriggerAllClear() {
	ctx := s.baseContext()
	go func() {
		if err := s.RunAllClear(ctx); err != nil {
			log.Error().Err(err).Msg("allclear: run failed")
		}
	}()
}

// RunRemovalPass evaluates and acts on every configured downloader in order
// and returns one summary per downloader that was processed. Invalid
// criteria make the pass a logged no-op.
func (s *Service) RunRemovalPass(ctx context.Context) []torrent.Summary {
	cfg := s.snapshot()
	c, err := criteria.New(cfg.Remove)
	if err != nil {
		log.Error().Err(err).Msg("autoremove: invalid criteria, skipping pass")
		return nil
	}
	return s.runPass(ctx, cfg, c)
}

func (s *Service) runPass(ctx context.Context, cfg domain.Config, c criteria.Criteria) []torrent.Summary {
	if len(cfg.Remove.Downloaders) == 0 {
		log.Debug().Msg("autoremove: no downloaders configured")
		return nil
	}

	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.fileLock != nil {
		locked, err := s.fileLock.TryLockContext(ctx, lockRetryDelay)
		if err != nil || !locked {
			log.Warn().Err(err).Str("path", s.fileLock.Path()).Msg("autoremove: could not acquire run lock, skipping pass")
			return nil
		}
		defer func() {
			if err := s.fileLock.Unlock(); err != nil {
				log.Warn().Err(err).Msg("autoremove: failed to release run lock")
			}
		}()
	}

	var summaries []torrent.Summary
	for _, name := range cfg.Remove.Downloaders {
		if ctx.Err() != nil {
			log.Info().Msg("autoremove: stop requested, skipping remaining downloaders")
			break
		}

		summary, ok := s.processDownloader(ctx, cfg, name, c)
		if ok {
			summaries = append(summaries, summary)
		}
	}
	return summaries
}

// processDownloader runs one client's select and apply steps. Errors and
// panics are logged with the client name and never escape.
func (s *Service) processDownloader(ctx context.Context, cfg domain.Config, name string, c criteria.Criteria) (summary torrent.Summary, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("downloader", name).Interface("panic", r).Msg("autoremove: pass failed unexpectedly")
			s.metrics.ObservePassError(name)
			summary, ok = torrent.Summary{}, false
		}
	}()

	client, candidates, err := s.candidates(ctx, name, c)
	if err != nil {
		log.Error().Err(err).Str("downloader", name).Msg("autoremove: could not select torrents")
		s.metrics.ObservePassError(name)
		return torrent.Summary{}, false
	}

	summary = torrent.Apply(ctx, c.Action, candidates, client)
	s.metrics.ObserveSummary(summary)

	log.Info().
		Str("downloader", name).
		Str("action", string(c.Action)).
		Int("candidates", len(candidates)).
		Int("acted", len(summary.Acted)).
		Int("failed", len(summary.Failed)).
		Msg("autoremove: pass finished")

	if cfg.Notify && len(summary.Acted) > 0 && s.notifier != nil {
		s.notifier.Notify(fmt.Sprintf("autoclear: %s removal pass", name), summary.String())
	}

	return summary, true
}

// candidates resolves the client and returns the torrents the pass would act
// on, expanded with same-data duplicates when enabled.
func (s *Service) candidates(ctx context.Context, name string, c criteria.Criteria) (torrent.Client, []torrent.Candidate, error) {
	if s.clients == nil {
		return nil, nil, errors.New("no client provider")
	}

	client, err := s.clients.Get(ctx, name)
	if err != nil {
		return nil, nil, err
	}

	candidates, err := torrent.Select(ctx, client, c, s.now())
	if err != nil {
		return nil, nil, err
	}

	if c.SameData && len(candidates) > 0 {
		all, err := client.Torrents(ctx, nil)
		if err != nil {
			log.Warn().Err(err).Str("downloader", name).Msg("autoremove: could not list torrents for same-data lookup")
		} else {
			candidates = torrent.ExpandSameData(candidates, all)
		}
	}

	return client, candidates, nil
}

// Preview is what a removal pass would do on one downloader.
type Preview struct {
	Downloader string
	Action     criteria.Action
	Candidates []torrent.Candidate
	Err        error
}

// PreviewRemoval selects candidates on every configured downloader without
// acting on them.
func (s *Service) PreviewRemoval(ctx context.Context) ([]Preview, error) {
	cfg := s.snapshot()
	c, err := criteria.New(cfg.Remove)
	if err != nil {
		return nil, errors.Wrap(err, "invalid criteria")
	}

	previews := make([]Preview, 0, len(cfg.Remove.Downloaders))
	for _, name := range cfg.Remove.Downloaders {
		_, candidates, err := s.candidates(ctx, name, c)
		previews = append(previews, Preview{
			Downloader: name,
			Action:     c.Action,
			Candidates: candidates,
			Err:        err,
		})
	}
	return previews, nil
}

// RunAllClear fetches fully watched media, finds the torrents seeding it,
// optionally unlinks the media files, tags the torrents and runs a removal
// pass restricted to the delete tag. The configured remove.tags do not apply
// to that pass. Concurrent calls share one run.
func (s *Service) RunAllClear(ctx context.Context) error {
	_, err, _ := s.group.Do("all-clear", func() (any, error) {
		err := s.runAllClear(ctx)
		s.metrics.ObserveAllClear(err)
		return nil, err
	})
	return err
}

func (s *Service) runAllClear(ctx context.Context) error {
	cfg := s.snapshot()
	ac := cfg.AllClear

	action, err := criteria.ParseAction(ac.Action)
	if err != nil {
		return errors.Wrap(err, "invalid all-clear action")
	}
	base, err := criteria.New(cfg.Remove)
	if err != nil {
		return errors.Wrap(err, "invalid criteria")
	}
	if strings.TrimSpace(ac.DownloadPath) == "" {
		return errors.New("all-clear download path not configured")
	}
	if strings.TrimSpace(ac.DeleteTag) == "" {
		return errors.New("all-clear delete tag not configured")
	}

	ms, ok := cfg.MediaServer(ac.MediaServer)
	if !ok {
		return errors.Errorf("media server %q not configured", ac.MediaServer)
	}

	downloaderName := reconcileDownloader(cfg)
	if downloaderName == "" {
		return errors.New("no removal downloaders configured, set remove.downloaders")
	}
	if s.clients == nil {
		return errors.New("no client provider")
	}
	client, err := s.clients.Get(ctx, downloaderName)
	if err != nil {
		return errors.Wrapf(err, "could not get downloader %s", downloaderName)
	}

	watched, err := s.mediaServer(ms).Watched(ctx, ac.Sections)
	if err != nil {
		return errors.Wrap(err, "could not fetch watched media")
	}
	log.Info().Int("files", len(watched)).Str("mediaServer", ms.Name).Msg("allclear: fetched watched media")

	// Source files are matched by inode, so this has to happen before the
	// watched copies are unlinked.
	ids, err := reconcile.New(ac.DownloadPath, client).Reconcile(ctx, watched)
	if err != nil {
		return errors.Wrap(err, "could not reconcile watched media")
	}
	log.Info().Int("torrents", len(ids)).Str("downloader", downloaderName).Msg("allclear: reconciled watched media")

	if ac.DeleteMediaFiles {
		s.unlinkAll(ctx, watched)
	}

	if len(ids) > 0 {
		if err := client.AddTags(ctx, ids, []string{ac.DeleteTag}); err != nil {
			return errors.Wrapf(err, "could not tag torrents on %s", downloaderName)
		}
		for _, id := range ids {
			log.Info().Str("hash", id).Str("tag", ac.DeleteTag).Msg("allclear: tagged for deletion")
		}
	}

	s.runPass(ctx, cfg, base.WithAction(action, ac.DeleteTag))
	return nil
}

func (s *Service) unlinkAll(ctx context.Context, files []string) {
	for _, file := range files {
		if ctx.Err() != nil {
			return
		}
		if err := s.unlink(file); err != nil {
			log.Error().Err(err).Str("path", file).Msg("allclear: could not delete media file")
			continue
		}
		log.Info().Str("path", file).Msg("allclear: media file deleted")
	}
}

// reconcileDownloader is the client whose torrents are matched against
// watched media. It must be a removal downloader, otherwise the tagged
// torrents would never be acted on.
func reconcileDownloader(cfg domain.Config) string {
	if len(cfg.Remove.Downloaders) > 0 {
		return cfg.Remove.Downloaders[0]
	}
	return ""
}

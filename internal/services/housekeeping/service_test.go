// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package housekeeping

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/autoclear/internal/criteria"
	"github.com/autobrr/autoclear/internal/domain"
	"github.com/autobrr/autoclear/internal/metrics"
	"github.com/autobrr/autoclear/internal/torrent"
)

const gib = int64(1 << 30)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func float(v float64) *float64 { return &v }

func baseConfig(downloaders ...string) domain.Config {
	return domain.Config{
		Enabled: true,
		Cron:    "0 */6 * * *",
		Notify:  true,
		Remove: domain.RemoveConfig{
			Downloaders: downloaders,
			Action:      "pause",
			Ratio:       float(1.0),
		},
		AllClear: domain.AllClearConfig{
			Sections:         []string{"TV Shows", "Movies"},
			DeleteTag:        "wait_to_delete",
			DeleteMediaFiles: true,
			Action:           "delete",
		},
	}
}

func newTestService(cfg domain.Config, clients fakeProvider, notifier *recordingNotifier) *Service {
	opts := Options{Clients: clients, Metrics: metrics.NewManager()}
	if notifier != nil {
		opts.Notifier = notifier
	}
	s := NewService(cfg, opts)
	s.now = func() time.Time { return testNow }
	return s
}

func TestRunRemovalPass(t *testing.T) {
	qb := &fakeClient{name: "qb", records: []torrent.Record{
		{ID: "a", Name: "Low", Ratio: 0.5, Size: gib, Site: "alpha"},
		{ID: "b", Name: "High", Ratio: 1.5, Size: gib, Site: "alpha"},
		{ID: "c", Name: "Higher", Ratio: 3, Size: 2 * gib, Site: "beta"},
	}}
	tr := &fakeClient{name: "tr", listErr: errors.New("rpc unavailable")}
	notifier := &recordingNotifier{}

	s := newTestService(baseConfig("qb", "tr"), fakeProvider{"qb": qb, "tr": tr}, notifier)

	summaries := s.RunRemovalPass(context.Background())

	require.Len(t, summaries, 1)
	assert.Equal(t, "qb", summaries[0].Downloader)
	assert.Equal(t, []string{"stop:b", "stop:c"}, qb.snapshotCalls())
	assert.Empty(t, tr.snapshotCalls())

	sent := notifier.all()
	require.Len(t, sent, 1)
	assert.Equal(t, "autoclear: qb removal pass", sent[0].title)
	assert.Contains(t, sent[0].message, "2 torrents paused")
	assert.Contains(t, sent[0].message, "High from site: alpha size: 1.0 GiB")

	passes, err := testutil.GatherAndCount(s.metrics.GetRegistry(), "autoclear_removal_passes_total")
	require.NoError(t, err)
	assert.Equal(t, 2, passes)
}

func TestRunRemovalPassNotification(t *testing.T) {
	tests := []struct {
		name    string
		notify  bool
		records []torrent.Record
		want    int
	}{
		{name: "disabled", notify: false, records: []torrent.Record{{ID: "a", Ratio: 2}}, want: 0},
		{name: "nothing acted on", notify: true, records: []torrent.Record{{ID: "a", Ratio: 0.1}}, want: 0},
		{name: "acted", notify: true, records: []torrent.Record{{ID: "a", Ratio: 2}}, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig("qb")
			cfg.Notify = tt.notify
			notifier := &recordingNotifier{}
			s := newTestService(cfg, fakeProvider{"qb": &fakeClient{name: "qb", records: tt.records}}, notifier)

			s.RunRemovalPass(context.Background())

			assert.Len(t, notifier.all(), tt.want)
		})
	}
}

func TestRunRemovalPassRecoversPerClient(t *testing.T) {
	broken := &fakeClient{name: "broken", panicList: true}
	qb := &fakeClient{name: "qb", records: []torrent.Record{{ID: "a", Ratio: 2}}}

	s := newTestService(baseConfig("broken", "missing", "qb"), fakeProvider{"broken": broken, "qb": qb}, nil)

	var summaries []torrent.Summary
	require.NotPanics(t, func() {
		summaries = s.RunRemovalPass(context.Background())
	})

	require.Len(t, summaries, 1)
	assert.Equal(t, "qb", summaries[0].Downloader)
	assert.Equal(t, []string{"stop:a"}, qb.snapshotCalls())
}

func TestRunRemovalPassInvalidCriteria(t *testing.T) {
	cfg := baseConfig("qb")
	cfg.Remove.PathKeywords = "("
	qb := &fakeClient{name: "qb", records: []torrent.Record{{ID: "a", Ratio: 2}}}

	s := newTestService(cfg, fakeProvider{"qb": qb}, nil)

	assert.Nil(t, s.RunRemovalPass(context.Background()))
	assert.Empty(t, qb.snapshotCalls())
}

func TestRunRemovalPassCancelled(t *testing.T) {
	qb := &fakeClient{name: "qb", records: []torrent.Record{{ID: "a", Ratio: 2}}}
	s := newTestService(baseConfig("qb"), fakeProvider{"qb": qb}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Empty(t, s.RunRemovalPass(ctx))
	assert.Empty(t, qb.snapshotCalls())
}

func TestRunRemovalPassSameData(t *testing.T) {
	records := []torrent.Record{
		{ID: "tagged", Name: "Show.S01E01", Size: gib, Ratio: 2, Tags: []string{"wait_to_delete"}},
		{ID: "cross", Name: "Show.S01E01", Size: gib, Ratio: 0.1},
		{ID: "other", Name: "Other", Size: gib, Ratio: 2},
	}

	tests := []struct {
		name     string
		sameData bool
		want     []string
	}{
		{name: "enabled", sameData: true, want: []string{"stop:tagged", "stop:cross"}},
		{name: "disabled", sameData: false, want: []string{"stop:tagged"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig("qb")
			cfg.Remove.Tags = []string{"wait_to_delete"}
			cfg.Remove.SameData = tt.sameData
			qb := &fakeClient{name: "qb", records: records}

			s := newTestService(cfg, fakeProvider{"qb": qb}, nil)
			s.RunRemovalPass(context.Background())

			assert.Equal(t, tt.want, qb.snapshotCalls())
		})
	}
}

func TestPreviewRemoval(t *testing.T) {
	qb := &fakeClient{name: "qb", records: []torrent.Record{{ID: "a", Name: "A", Ratio: 2}, {ID: "b", Ratio: 0.2}}}
	s := newTestService(baseConfig("qb", "missing"), fakeProvider{"qb": qb}, nil)

	previews, err := s.PreviewRemoval(context.Background())
	require.NoError(t, err)
	require.Len(t, previews, 2)

	assert.Equal(t, "qb", previews[0].Downloader)
	assert.Equal(t, criteria.ActionPause, previews[0].Action)
	assert.Equal(t, []torrent.Candidate{{ID: "a", Name: "A"}}, previews[0].Candidates)
	assert.NoError(t, previews[0].Err)

	assert.Error(t, previews[1].Err)
	assert.Empty(t, qb.snapshotCalls())
}

func TestScheduling(t *testing.T) {
	s := newTestService(baseConfig(), fakeProvider{}, nil)
	assert.False(t, s.Enabled())

	s.Start(context.Background())
	t.Cleanup(s.Stop)
	assert.Nil(t, s.scheduler)

	cfg := baseConfig("qb")
	s.Reload(&cfg)
	assert.True(t, s.Enabled())
	assert.NotNil(t, s.scheduler)

	cfg.Cron = "not a cron"
	s.Reload(&cfg)
	assert.Nil(t, s.scheduler)

	cfg.Cron = "*/5 * * * *"
	s.Reload(&cfg)
	require.NotNil(t, s.scheduler)
	assert.Len(t, s.scheduler.Entries(), 1)

	s.Stop()
	assert.Nil(t, s.scheduler)

	s.Reload(&cfg)
	assert.Nil(t, s.scheduler)
}

func TestRunAllClearConfigurationErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.Config)
	}{
		{name: "invalid action", mutate: func(c *domain.Config) { c.AllClear.Action = "explode" }},
		{name: "no download path", mutate: func(c *domain.Config) { c.AllClear.DownloadPath = "" }},
		{name: "no media server", mutate: func(c *domain.Config) { c.MediaServers = nil }},
		{name: "no downloader", mutate: func(c *domain.Config) { c.Remove.Downloaders = nil }},
		{name: "defined but not a removal downloader", mutate: func(c *domain.Config) {
			c.Downloaders = []domain.DownloaderConfig{{Name: "qb", Type: "qbittorrent"}}
			c.Remove.Downloaders = nil
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig("qb")
			cfg.AllClear.DownloadPath = t.TempDir()
			cfg.MediaServers = []domain.MediaServerConfig{{Name: "plex", Type: "plex"}}
			tt.mutate(&cfg)

			qb := &fakeClient{name: "qb"}
			watched := &fakeWatched{}
			s := newTestService(cfg, fakeProvider{"qb": qb}, nil)
			s.mediaServer = func(domain.MediaServerConfig) WatchedLister { return watched }

			assert.Error(t, s.RunAllClear(context.Background()))
			assert.Empty(t, qb.snapshotCalls())
		})
	}
}

func TestRunAllClearWatchedError(t *testing.T) {
	cfg := baseConfig("qb")
	cfg.AllClear.DownloadPath = t.TempDir()
	cfg.MediaServers = []domain.MediaServerConfig{{Name: "plex", Type: "plex"}}

	qb := &fakeClient{name: "qb", records: []torrent.Record{{ID: "a", Ratio: 2, Tags: []string{"wait_to_delete"}}}}
	s := newTestService(cfg, fakeProvider{"qb": qb}, nil)
	s.mediaServer = func(domain.MediaServerConfig) WatchedLister {
		return &fakeWatched{err: errors.New("plex unreachable")}
	}
	var unlinked []string
	s.unlink = func(path string) error {
		unlinked = append(unlinked, path)
		return nil
	}

	err := s.RunAllClear(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "plex unreachable")
	assert.Empty(t, unlinked)
	assert.Empty(t, qb.snapshotCalls())
	runs, err := testutil.GatherAndCount(s.metrics.GetRegistry(), "autoclear_all_clear_runs_total")
	require.NoError(t, err)
	assert.Equal(t, 1, runs)
}

func TestReconcileDownloader(t *testing.T) {
	assert.Equal(t, "qb", reconcileDownloader(domain.Config{Remove: domain.RemoveConfig{Downloaders: []string{"qb", "tr"}}}))
	assert.Empty(t, reconcileDownloader(domain.Config{Downloaders: []domain.DownloaderConfig{{Name: "tr"}}}))
	assert.Empty(t, reconcileDownloader(domain.Config{}))
}

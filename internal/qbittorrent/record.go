// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package qbittorrent

import (
	"strings"
	"time"

	qbt "github.com/autobrr/go-qbittorrent"

	"github.com/autobrr/autoclear/internal/torrent"
)

func toRecord(t qbt.Torrent) torrent.Record {
	r := torrent.Record{
		ID:          t.Hash,
		Name:        t.Name,
		Size:        t.Size,
		Uploaded:    t.Uploaded,
		Ratio:       t.Ratio,
		SavePath:    t.SavePath,
		State:       string(t.State),
		Category:    t.Category,
		ContentPath: t.ContentPath,
		Tags:        torrent.SplitTags(t.Tags),
		CompletedAt: unixTime(t.CompletionOn),
		AddedAt:     unixTime(t.AddedOn),
	}

	r.Trackers, r.Error = summarizeTrackers(t)
	r.Site = torrent.SiteFromTracker(t.Tracker)
	if r.Site == "" && len(r.Trackers) > 0 {
		r.Site = torrent.SiteFromTracker(r.Trackers[0])
	}

	return r
}

// summarizeTrackers returns the announce URLs of real trackers and the joined
// messages of trackers that are not working. DHT, PeX and LSD pseudo
// trackers are skipped.
func summarizeTrackers(t qbt.Torrent) ([]string, string) {
	var urls, messages []string
	for _, tr := range t.Trackers {
		if tr.Url == "" || strings.HasPrefix(tr.Url, "** [") {
			continue
		}
		urls = append(urls, tr.Url)
		if tr.Status == qbt.TrackerStatusNotWorking && strings.TrimSpace(tr.Message) != "" {
			messages = append(messages, strings.TrimSpace(tr.Message))
		}
	}

	if len(urls) == 0 && t.Tracker != "" {
		urls = []string{t.Tracker}
	}

	return urls, strings.Join(messages, "; ")
}

func unixTime(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}

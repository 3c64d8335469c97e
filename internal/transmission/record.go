// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package transmission

import (
	"path"
	"time"

	"github.com/autobrr/autoclear/internal/torrent"
)

var statusNames = map[int]string{
	0: "stopped",
	1: "check_pending",
	2: "checking",
	3: "download_pending",
	4: "downloading",
	5: "seed_pending",
	6: "seeding",
}

type rpcTracker struct {
	Announce string `json:"announce"`
	Sitename string `json:"sitename"`
}

type rpcTorrent struct {
	HashString  string       `json:"hashString"`
	Name        string       `json:"name"`
	TotalSize   int64        `json:"totalSize"`
	DoneDate    int64        `json:"doneDate"`
	AddedDate   int64        `json:"addedDate"`
	UploadRatio float64      `json:"uploadRatio"`
	DownloadDir string       `json:"downloadDir"`
	Trackers    []rpcTracker `json:"trackers"`
	ErrorString string       `json:"errorString"`
	Status      int          `json:"status"`
	Labels      []string     `json:"labels"`
}

// toRecord maps a Transmission torrent. Transmission has no category and
// reports no cumulative upload, so uploaded bytes are ratio * size. A
// negative ratio means "not available".
func (t rpcTorrent) toRecord() torrent.Record {
	ratio := t.UploadRatio
	if ratio < 0 {
		ratio = 0
	}

	r := torrent.Record{
		ID:          t.HashString,
		Name:        t.Name,
		Size:        t.TotalSize,
		Ratio:       ratio,
		Uploaded:    int64(ratio * float64(t.TotalSize)),
		SavePath:    t.DownloadDir,
		State:       statusNames[t.Status],
		Error:       t.ErrorString,
		Tags:        append([]string{}, t.Labels...),
		CompletedAt: unixTime(t.DoneDate),
		AddedAt:     unixTime(t.AddedDate),
	}
	if t.DownloadDir != "" && t.Name != "" {
		r.ContentPath = path.Join(t.DownloadDir, t.Name)
	}

	for _, tr := range t.Trackers {
		if tr.Announce != "" {
			r.Trackers = append(r.Trackers, tr.Announce)
		}
		if r.Site == "" {
			if tr.Sitename != "" {
				r.Site = tr.Sitename
			} else {
				r.Site = torrent.SiteFromTracker(tr.Announce)
			}
		}
	}

	return r
}

func unixTime(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}

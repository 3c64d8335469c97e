// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package torrent

import (
	"context"
	"net"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"
)

// Record is the backend-neutral view of one torrent. Each backend maps its
// native shape into a Record before any predicate runs. Empty strings and
// zero times mean the backend did not supply the field.
type Record struct {
	ID          string
	Name        string
	Size        int64
	CompletedAt time.Time
	AddedAt     time.Time
	// Uploaded is the cumulative uploaded byte count. Backends that only
	// report a ratio derive it as ratio * size.
	Uploaded    int64
	Ratio       float64
	SavePath    string
	Trackers    []string
	Site        string
	State       string
	Category    string
	Error       string
	ContentPath string
	Tags        []string
}

// Candidate is a torrent selected for action in the current pass.
type Candidate struct {
	ID   string
	Name string
	Site string
	Size int64
}

func (r Record) Candidate() Candidate {
	return Candidate{ID: r.ID, Name: r.Name, Site: r.Site, Size: r.Size}
}

// Client is the download client gateway used by the housekeeping passes.
type Client interface {
	Name() string
	Type() string
	// Torrents lists torrents carrying at least one of tags. An empty tag
	// list returns every torrent.
	Torrents(ctx context.Context, tags []string) ([]Record, error)
	Stop(ctx context.Context, ids []string) error
	Delete(ctx context.Context, ids []string, deleteFiles bool) error
	AddTags(ctx context.Context, ids []string, tags []string) error
}

// HasAnyTag reports whether tags contains at least one entry of filter.
// An empty filter matches everything.
func HasAnyTag(tags []string, filter []string) bool {
	if len(filter) == 0 {
		return true
	}
	for _, want := range filter {
		for _, have := range tags {
			if strings.EqualFold(strings.TrimSpace(have), want) {
				return true
			}
		}
	}
	return false
}

// FilterByTags keeps the records matching HasAnyTag, preserving order.
func FilterByTags(records []Record, filter []string) []Record {
	if len(filter) == 0 {
		return records
	}
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if HasAnyTag(r.Tags, filter) {
			out = append(out, r)
		}
	}
	return out
}

// SplitTags splits a comma separated tag list.
func SplitTags(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// SiteFromTracker returns the second-level domain of a tracker announce URL,
// e.g. "example" for https://tracker.example.co.uk/announce.
func SiteFromTracker(tracker string) string {
	tracker = strings.TrimSpace(tracker)
	if tracker == "" {
		return ""
	}

	host := tracker
	if u, err := url.Parse(tracker); err == nil && u.Host != "" {
		host = u.Hostname()
	}
	host = strings.ToLower(strings.TrimSuffix(host, "."))

	if net.ParseIP(host) != nil {
		return host
	}

	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	suffix, _ := publicsuffix.PublicSuffix(domain)
	return strings.TrimSuffix(domain, "."+suffix)
}

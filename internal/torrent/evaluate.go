// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package torrent

import (
	"regexp"
	"time"

	"github.com/autobrr/autoclear/internal/criteria"
)

// Evaluate returns the normalized candidate for r when every configured
// predicate in c passes. A record missing a field that an active predicate
// needs is rejected.
func Evaluate(r Record, c criteria.Criteria, now time.Time) (Candidate, bool) {
	seeding := SeedingSeconds(r, now)

	if c.Ratio != nil && r.Ratio <= *c.Ratio {
		return Candidate{}, false
	}

	if c.MinSeedHours != nil && seeding <= *c.MinSeedHours*3600 {
		return Candidate{}, false
	}

	if c.Size != nil && (r.Size >= c.Size.Max || r.Size <= c.Size.Min) {
		return Candidate{}, false
	}

	if c.MaxUploadKiBs != nil && AverageUploadRate(r, now) >= *c.MaxUploadKiBs*1024 {
		return Candidate{}, false
	}

	if !matchField(c.PathKeyword, r.SavePath) {
		return Candidate{}, false
	}

	if c.TrackerKeyword != nil && !matchAny(c.TrackerKeyword, r.Trackers) {
		return Candidate{}, false
	}

	if !matchField(c.ErrorKeyword, r.Error) {
		return Candidate{}, false
	}

	if c.States != nil {
		if _, ok := c.States[r.State]; !ok {
			return Candidate{}, false
		}
	}

	if c.Categories != nil {
		if r.Category == "" {
			return Candidate{}, false
		}
		if _, ok := c.Categories[r.Category]; !ok {
			return Candidate{}, false
		}
	}

	return r.Candidate(), true
}

// SeedingSeconds is the time since completion, falling back to the add time.
// It is zero when neither timestamp is known.
func SeedingSeconds(r Record, now time.Time) float64 {
	start := r.CompletedAt
	if start.IsZero() || start.Unix() <= 0 {
		start = r.AddedAt
	}
	if start.IsZero() || start.Unix() <= 0 {
		return 0
	}
	secs := now.Sub(start).Seconds()
	if secs < 0 {
		return 0
	}
	return secs
}

// AverageUploadRate returns bytes per second since completion.
func AverageUploadRate(r Record, now time.Time) float64 {
	secs := SeedingSeconds(r, now)
	if secs == 0 {
		return 0
	}
	return float64(r.Uploaded) / secs
}

func matchField(re *regexp.Regexp, value string) bool {
	if re == nil {
		return true
	}
	if value == "" {
		return false
	}
	return re.MatchString(value)
}

func matchAny(re *regexp.Regexp, values []string) bool {
	for _, v := range values {
		if v != "" && re.MatchString(v) {
			return true
		}
	}
	return false
}

// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package criteria turns the raw removal settings into an immutable value that
// is built once per pass and threaded through every call.
package criteria

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/autobrr/autoclear/internal/domain"
)

const gib = 1 << 30

var (
	ErrInvalidAction    = errors.New("invalid action")
	ErrInvalidSizeRange = errors.New("invalid size range")
)

type Action string

const (
	ActionPause           Action = "pause"
	ActionDelete          Action = "delete"
	ActionDeleteWithFiles Action = "deletefile"
)

// ParseAction normalizes the configured action name.
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pause", "stop":
		return ActionPause, nil
	case "delete", "remove":
		return ActionDelete, nil
	case "deletefile", "delete_with_file", "deletewithfile", "deletewithfiles":
		return ActionDeleteWithFiles, nil
	}
	return "", errors.Wrapf(ErrInvalidAction, "%q", s)
}

// Verb is the past-tense form used in summaries.
func (a Action) Verb() string {
	switch a {
	case ActionPause:
		return "paused"
	case ActionDelete:
		return "deleted"
	case ActionDeleteWithFiles:
		return "deleted with files"
	}
	return string(a)
}

// SizeRange is a band in bytes. Torrents strictly inside the band are kept.
type SizeRange struct {
	Min int64
	Max int64
}

// Criteria is the full set of retention predicates for one pass. A nil
// pointer or empty set means the predicate is not configured.
type Criteria struct {
	Ratio        *float64
	MinSeedHours *float64
	Size         *SizeRange

	// MaxUploadKiBs is the average upload rate in KiB/s.
	MaxUploadKiBs *float64

	PathKeyword    *regexp.Regexp
	TrackerKeyword *regexp.Regexp
	ErrorKeyword   *regexp.Regexp

	States     map[string]struct{}
	Categories map[string]struct{}

	Tags     []string
	SameData bool
	Action   Action
}

// New builds Criteria from the remove section of cfg.
func New(cfg domain.RemoveConfig) (Criteria, error) {
	c := Criteria{
		Ratio:         cfg.Ratio,
		MinSeedHours:  cfg.SeedTime,
		MaxUploadKiBs: cfg.UpSpeed,
		SameData:      cfg.SameData,
	}

	action, err := ParseAction(cfg.Action)
	if err != nil {
		return Criteria{}, err
	}
	c.Action = action

	if c.Size, err = ParseSizeRange(cfg.Size); err != nil {
		return Criteria{}, err
	}

	for _, re := range []struct {
		dst  **regexp.Regexp
		expr string
		name string
	}{
		{&c.PathKeyword, cfg.PathKeywords, "pathKeywords"},
		{&c.TrackerKeyword, cfg.TrackerKeywords, "trackerKeywords"},
		{&c.ErrorKeyword, cfg.ErrorKeywords, "errorKeywords"},
	} {
		if *re.dst, err = compileKeyword(re.expr); err != nil {
			return Criteria{}, errors.Wrapf(err, "invalid %s", re.name)
		}
	}

	c.States = toSet(cfg.States)
	c.Categories = toSet(cfg.Categories)

	tags := append([]string{}, cfg.Tags...)
	if cfg.ManagedOnly && strings.TrimSpace(cfg.ManagedTag) != "" {
		tags = append(tags, cfg.ManagedTag)
	}
	c.Tags = uniqueTrimmed(tags)

	return c, nil
}

// WithAction returns a copy using a different action whose tag filter is
// only tag. The configured tags are dropped since matching is any-of and
// keeping them would widen the set. An empty tag keeps the filter as is.
func (c Criteria) WithAction(action Action, tag string) Criteria {
	c.Action = action
	if tag = strings.TrimSpace(tag); tag != "" {
		c.Tags = []string{tag}
	}
	return c
}

// ParseSizeRange parses "min-max" in GiB. A single value yields a point band.
func ParseSizeRange(s string) (*SizeRange, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	lo, hi, found := strings.Cut(s, "-")
	if !found {
		hi = lo
	}

	minGiB, err := strconv.ParseFloat(strings.TrimSpace(lo), 64)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidSizeRange, "%q", s)
	}
	maxGiB, err := strconv.ParseFloat(strings.TrimSpace(hi), 64)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidSizeRange, "%q", s)
	}
	if minGiB < 0 || maxGiB < minGiB {
		return nil, errors.Wrapf(ErrInvalidSizeRange, "%q", s)
	}

	return &SizeRange{
		Min: int64(minGiB * gib),
		Max: int64(maxGiB * gib),
	}, nil
}

func compileKeyword(expr string) (*regexp.Regexp, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, nil
	}
	return regexp.Compile("(?i)" + expr)
}

func toSet(values []string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out[v] = struct{}{}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func uniqueTrimmed(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package torrent

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/autoclear/internal/criteria"
)

// Select lists the torrents matching the tag filter of c and returns the ones
// that pass Evaluate, in query order. On a gateway error no candidates are
// returned.
func Select(ctx context.Context, client Client, c criteria.Criteria, now time.Time) ([]Candidate, error) {
	records, err := client.Torrents(ctx, c.Tags)
	if err != nil {
		return nil, errors.Wrapf(err, "could not list torrents from %s", client.Name())
	}

	var candidates []Candidate
	for _, r := range records {
		candidate, ok := Evaluate(r, c, now)
		if !ok {
			continue
		}
		log.Trace().
			Str("downloader", client.Name()).
			Str("hash", candidate.ID).
			Str("name", candidate.Name).
			Msg("autoremove: torrent matched criteria")
		candidates = append(candidates, candidate)
	}

	return candidates, nil
}

// ExpandSameData appends torrents from all that share name and size with a
// base candidate. Base candidates come first in their original order,
// followed by the matches grouped by the base candidate that found them.
// No id appears twice in the result.
func ExpandSameData(base []Candidate, all []Record) []Candidate {
	seen := make(map[string]struct{}, len(base))
	out := make([]Candidate, 0, len(base))
	for _, c := range base {
		if _, ok := seen[c.ID]; ok {
			continue
		}
		seen[c.ID] = struct{}{}
		out = append(out, c)
	}

	baseCount := len(out)
	for i := 0; i < baseCount; i++ {
		c := out[i]
		for _, r := range all {
			if r.Name != c.Name || r.Size != c.Size {
				continue
			}
			if _, ok := seen[r.ID]; ok {
				continue
			}
			seen[r.ID] = struct{}{}
			out = append(out, r.Candidate())
		}
	}

	return out
}

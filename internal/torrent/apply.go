// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package torrent

import (
	"context"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/autoclear/internal/criteria"
)

// Failure is a candidate whose action returned an error.
type Failure struct {
	Candidate Candidate
	Err       error
}

// Summary is the outcome of one Apply call.
type Summary struct {
	Downloader string
	Action     criteria.Action
	Acted      []Candidate
	Failed     []Failure

	// Cancelled is set when the context was done before every candidate
	// was processed.
	Cancelled bool
}

// String renders the notification body: a count header followed by one line
// per torrent acted on.
func (s Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d torrents %s", len(s.Acted), s.Action.Verb())
	for _, c := range s.Acted {
		fmt.Fprintf(&b, "\n%s from site: %s size: %s", c.Name, c.Site, humanize.IBytes(uint64(max(c.Size, 0))))
	}
	return b.String()
}

// Apply performs action on each candidate in order. The context is checked
// before every candidate; once it is done the loop stops and the partial
// summary is returned. A started action is never interrupted. Failures are
// logged and recorded without stopping the loop, and an id is acted on at
// most once.
func Apply(ctx context.Context, action criteria.Action, candidates []Candidate, client Client) Summary {
	summary := Summary{Downloader: client.Name(), Action: action}
	done := make(map[string]struct{}, len(candidates))

	for _, c := range candidates {
		if ctx.Err() != nil {
			summary.Cancelled = true
			log.Info().
				Str("downloader", client.Name()).
				Int("acted", len(summary.Acted)).
				Msg("autoremove: stop requested, leaving remaining torrents untouched")
			break
		}

		if _, ok := done[c.ID]; ok {
			continue
		}
		done[c.ID] = struct{}{}

		if err := act(context.WithoutCancel(ctx), action, c.ID, client); err != nil {
			log.Error().
				Err(err).
				Str("downloader", client.Name()).
				Str("hash", c.ID).
				Str("name", c.Name).
				Str("action", string(action)).
				Msg("autoremove: action failed")
			summary.Failed = append(summary.Failed, Failure{Candidate: c, Err: err})
			continue
		}

		log.Info().
			Str("downloader", client.Name()).
			Str("hash", c.ID).
			Str("name", c.Name).
			Str("site", c.Site).
			Str("action", string(action)).
			Msg("autoremove: torrent processed")
		summary.Acted = append(summary.Acted, c)
	}

	return summary
}

func act(ctx context.Context, action criteria.Action, id string, client Client) error {
	ids := []string{id}
	switch action {
	case criteria.ActionPause:
		return client.Stop(ctx, ids)
	case criteria.ActionDelete:
		return client.Delete(ctx, ids, false)
	case criteria.ActionDeleteWithFiles:
		return client.Delete(ctx, ids, true)
	}
	return fmt.Errorf("%w: %q", criteria.ErrInvalidAction, action)
}

// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package reconcile maps fully watched media files back to the torrents that
// produced them by matching hard links under the download root.
package reconcile

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/autoclear/internal/torrent"
	"github.com/autobrr/autoclear/pkg/hardlink"
)

type Reconciler struct {
	root   string
	client torrent.Client
}

// New returns a Reconciler that walks root and queries client for torrents.
func New(root string, client torrent.Client) *Reconciler {
	return &Reconciler{root: root, client: client}
}

// Reconcile returns the ids of torrents whose content path contains the
// directory key of a watched file's on-disk source. Watched files without a
// hard-link match under the root are skipped. Ids are unique and in discovery
// order.
func (r *Reconciler) Reconcile(ctx context.Context, watched []string) ([]string, error) {
	if len(watched) == 0 {
		return nil, nil
	}

	index, err := buildIndex(ctx, r.root)
	if err != nil {
		return nil, err
	}

	var keys []string
	seenKeys := make(map[string]struct{})
	for _, path := range watched {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		id, _, err := hardlink.Stat(path)
		if err != nil {
			log.Debug().Err(err).Str("path", path).Msg("reconcile: could not stat watched file")
			continue
		}

		source, ok := index[id]
		if !ok {
			log.Debug().Str("path", path).Msg("reconcile: no hard link found under download root")
			continue
		}

		key := lookupKey(r.root, source)
		log.Debug().Str("path", path).Str("source", source).Str("key", key).Msg("reconcile: matched watched file")

		if _, dup := seenKeys[key]; dup {
			continue
		}
		seenKeys[key] = struct{}{}
		keys = append(keys, key)
	}

	if len(keys) == 0 {
		return nil, nil
	}

	records, err := r.client.Torrents(ctx, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "could not list torrents from %s", r.client.Name())
	}

	var ids []string
	seenIDs := make(map[string]struct{})
	for _, key := range keys {
		for _, rec := range records {
			if rec.ContentPath == "" || !strings.Contains(rec.ContentPath, key) {
				continue
			}
			if _, dup := seenIDs[rec.ID]; dup {
				continue
			}
			seenIDs[rec.ID] = struct{}{}
			ids = append(ids, rec.ID)
		}
	}

	log.Info().
		Str("downloader", r.client.Name()).
		Int("watched", len(watched)).
		Int("matched", len(keys)).
		Int("torrents", len(ids)).
		Msg("reconcile: watched files mapped to torrents")

	return ids, nil
}

// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package reconcile

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/autoclear/pkg/hardlink"
)

// inodeIndex maps a physical file to the first path found for it under the
// download root. Only files with more than one link are indexed since a
// media server copy is always a hard link of the seeded file.
type inodeIndex map[hardlink.FileID]string

func buildIndex(ctx context.Context, root string) (inodeIndex, error) {
	index := make(inodeIndex)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err != nil {
			if path != root && (os.IsPermission(err) || os.IsNotExist(err)) {
				log.Debug().Err(err).Str("path", path).Msg("reconcile: skipping unreadable path")
				if d != nil && d.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
			return err
		}

		if d.Type()&fs.ModeSymlink != 0 {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			// vanished between readdir and stat
			return nil
		}

		id, nlink, err := hardlink.GetFileID(info, path)
		if err != nil || nlink < 2 {
			return nil
		}

		if _, exists := index[id]; !exists {
			index[id] = path
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "could not walk %s", root)
	}

	return index, nil
}

// lookupKey returns the directory name a download client uses as the content
// path leaf for the file at path. Files sitting directly under root are their
// own content path.
func lookupKey(root, path string) string {
	parent := filepath.Dir(path)
	if filepath.Clean(parent) == filepath.Clean(root) {
		return filepath.Base(path)
	}
	return filepath.Base(parent)
}

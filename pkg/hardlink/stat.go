// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package hardlink

import "os"

// Stat returns the FileID and link count of the file at path, following
// symlinks.
func Stat(path string) (FileID, uint64, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return FileID{}, 0, err
	}
	return GetFileID(fi, path)
}

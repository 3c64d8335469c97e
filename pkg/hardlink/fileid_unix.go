// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

//go:build !windows

package hardlink

import (
	"errors"
	"os"
	"syscall"
)

// FileID identifies a physical file: the (device, inode) pair on Unix.
// It is comparable and usable as a map key.
type FileID struct {
	Dev uint64
	Ino uint64
}

func (f FileID) IsZero() bool {
	return f.Dev == 0 && f.Ino == 0
}

// GetFileID returns the FileID and link count of fi.
func GetFileID(fi os.FileInfo, _ string) (FileID, uint64, error) {
	sys, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return FileID{}, 0, errors.New("failed to get syscall.Stat_t")
	}
	return FileID{Dev: uint64(sys.Dev), Ino: sys.Ino}, uint64(sys.Nlink), nil //nolint:gosec // device numbers are non-negative
}

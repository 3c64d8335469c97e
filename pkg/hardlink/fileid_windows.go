// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

//go:build windows

package hardlink

import (
	"os"
	"syscall"
)

const fileReadAttributes = 0x0080

// FileID identifies a physical file: the volume serial and file index on Windows.
// It is comparable and usable as a map key.
type FileID struct {
	VolumeSerialNumber uint32
	FileIndexHigh      uint32
	FileIndexLow       uint32
}

func (f FileID) IsZero() bool {
	return f.VolumeSerialNumber == 0 && f.FileIndexHigh == 0 && f.FileIndexLow == 0
}

// GetFileID returns the FileID and link count of the file at path.
func GetFileID(fi os.FileInfo, path string) (FileID, uint64, error) {
	pathp, err := syscall.UTF16PtrFromString(path)
	if err != nil {
		return FileID{}, 0, err
	}

	attrs := uint32(syscall.FILE_FLAG_BACKUP_SEMANTICS)
	if fi.Mode()&os.ModeSymlink != 0 {
		attrs |= syscall.FILE_FLAG_OPEN_REPARSE_POINT
	}
	shareMode := uint32(syscall.FILE_SHARE_READ | syscall.FILE_SHARE_WRITE | syscall.FILE_SHARE_DELETE)

	h, err := syscall.CreateFile(pathp, fileReadAttributes, shareMode, nil, syscall.OPEN_EXISTING, attrs, 0)
	if err != nil {
		return FileID{}, 0, err
	}
	defer syscall.CloseHandle(h)

	var info syscall.ByHandleFileInformation
	if err := syscall.GetFileInformationByHandle(h, &info); err != nil {
		return FileID{}, 0, err
	}

	return FileID{
		VolumeSerialNumber: info.VolumeSerialNumber,
		FileIndexHigh:      info.FileIndexHigh,
		FileIndexLow:       info.FileIndexLow,
	}, uint64(info.NumberOfLinks), nil
}

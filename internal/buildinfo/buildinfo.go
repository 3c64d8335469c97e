// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package buildinfo

import (
	"encoding/json"
	"fmt"
	"runtime"
)

// Set via ldflags at build time.
var (
	Version = "dev"
	Commit  = ""
	Date    = ""

	UserAgent = "autoclear/" + Version
)

// String returns a human readable summary of the build.
func String() string {
	return fmt.Sprintf("Version: %s\nCommit: %s\nBuild date: %s\nGo: %s %s/%s",
		Version, Commit, Date, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

func JSON() ([]byte, error) {
	return json.Marshal(map[string]string{
		"version":   Version,
		"commit":    Commit,
		"date":      Date,
		"goVersion": runtime.Version(),
		"os":        runtime.GOOS,
		"arch":      runtime.GOARCH,
	})
}

// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import (
	"fmt"
	"strings"
)

const (
	DownloaderQbittorrent  = "qbittorrent"
	DownloaderTransmission = "transmission"

	MediaServerPlex = "plex"
)

// Config represents the application configuration
type Config struct {
	Version               string
	LogLevel              string `toml:"logLevel" mapstructure:"logLevel"`
	LogPath               string `toml:"logPath" mapstructure:"logPath"`
	LogMaxSize            int    `toml:"logMaxSize" mapstructure:"logMaxSize"`
	LogMaxBackups         int    `toml:"logMaxBackups" mapstructure:"logMaxBackups"`
	DataDir               string `toml:"dataDir" mapstructure:"dataDir"`
	MetricsEnabled        bool   `toml:"metricsEnabled" mapstructure:"metricsEnabled"`
	MetricsHost           string `toml:"metricsHost" mapstructure:"metricsHost"`
	MetricsPort           int    `toml:"metricsPort" mapstructure:"metricsPort"`
	MetricsBasicAuthUsers string `toml:"metricsBasicAuthUsers" mapstructure:"metricsBasicAuthUsers"`

	Enabled          bool     `toml:"enabled" mapstructure:"enabled"`
	Cron             string   `toml:"cron" mapstructure:"cron"`
	Notify           bool     `toml:"notify" mapstructure:"notify"`
	NotificationURLs []string `toml:"notificationUrls" mapstructure:"notificationUrls"`

	Downloaders  []DownloaderConfig  `toml:"downloaders" mapstructure:"downloaders"`
	MediaServers []MediaServerConfig `toml:"mediaServers" mapstructure:"mediaServers"`

	Remove   RemoveConfig   `toml:"remove" mapstructure:"remove"`
	AllClear AllClearConfig `toml:"allClear" mapstructure:"allClear"`
}

// DownloaderConfig describes one download client backend.
type DownloaderConfig struct {
	Name          string `toml:"name" mapstructure:"name"`
	Type          string `toml:"type" mapstructure:"type"`
	Host          string `toml:"host" mapstructure:"host"`
	Username      string `toml:"username" mapstructure:"username"`
	Password      string `toml:"password" mapstructure:"password"`
	BasicUsername string `toml:"basicUsername" mapstructure:"basicUsername"`
	BasicPassword string `toml:"basicPassword" mapstructure:"basicPassword"`
	TLSSkipVerify bool   `toml:"tlsSkipVerify" mapstructure:"tlsSkipVerify"`

	// Timeout in seconds for a single backend request. Zero uses the client default.
	Timeout int `toml:"timeout" mapstructure:"timeout"`
}

type MediaServerConfig struct {
	Name  string `toml:"name" mapstructure:"name"`
	Type  string `toml:"type" mapstructure:"type"`
	Host  string `toml:"host" mapstructure:"host"`
	Token string `toml:"token" mapstructure:"token"`
}

// RemoveConfig holds the raw retention criteria. Optional numeric thresholds
// are pointers so an unset value stays distinguishable from zero.
type RemoveConfig struct {
	Downloaders     []string `toml:"downloaders" mapstructure:"downloaders"`
	Action          string   `toml:"action" mapstructure:"action"`
	SameData        bool     `toml:"sameData" mapstructure:"sameData"`
	ManagedOnly     bool     `toml:"managedOnly" mapstructure:"managedOnly"`
	ManagedTag      string   `toml:"managedTag" mapstructure:"managedTag"`
	Size            string   `toml:"size" mapstructure:"size"`
	Ratio           *float64 `toml:"ratio" mapstructure:"ratio"`
	SeedTime        *float64 `toml:"seedTime" mapstructure:"seedTime"`
	UpSpeed         *float64 `toml:"upSpeed" mapstructure:"upSpeed"`
	Tags            []string `toml:"tags" mapstructure:"tags"`
	PathKeywords    string   `toml:"pathKeywords" mapstructure:"pathKeywords"`
	TrackerKeywords string   `toml:"trackerKeywords" mapstructure:"trackerKeywords"`
	ErrorKeywords   string   `toml:"errorKeywords" mapstructure:"errorKeywords"`
	States          []string `toml:"states" mapstructure:"states"`
	Categories      []string `toml:"categories" mapstructure:"categories"`
}

type AllClearConfig struct {
	MediaServer      string   `toml:"mediaServer" mapstructure:"mediaServer"`
	Sections         []string `toml:"sections" mapstructure:"sections"`
	DownloadPath     string   `toml:"downloadPath" mapstructure:"downloadPath"`
	DeleteTag        string   `toml:"deleteTag" mapstructure:"deleteTag"`
	DeleteMediaFiles bool     `toml:"deleteMediaFiles" mapstructure:"deleteMediaFiles"`
	Action           string   `toml:"action" mapstructure:"action"`
}

// Downloader returns the downloader definition with the given name.
func (c *Config) Downloader(name string) (DownloaderConfig, bool) {
	for _, d := range c.Downloaders {
		if strings.EqualFold(d.Name, name) {
			return d, true
		}
	}
	return DownloaderConfig{}, false
}

// MediaServer returns the media server definition with the given name.
// An empty name selects the first configured server.
func (c *Config) MediaServer(name string) (MediaServerConfig, bool) {
	if name == "" && len(c.MediaServers) > 0 {
		return c.MediaServers[0], true
	}
	for _, m := range c.MediaServers {
		if strings.EqualFold(m.Name, name) {
			return m, true
		}
	}
	return MediaServerConfig{}, false
}

// RemovalConfigured reports whether the removal pass has everything it needs
// to be scheduled.
func (c *Config) RemovalConfigured() bool {
	return c.Enabled && strings.TrimSpace(c.Cron) != "" && len(c.Remove.Downloaders) > 0
}

// Validate checks the downloader and media server definitions.
func (c *Config) Validate() error {
	seen := make(map[string]struct{}, len(c.Downloaders))
	for i, d := range c.Downloaders {
		name := strings.ToLower(strings.TrimSpace(d.Name))
		if name == "" {
			return fmt.Errorf("downloaders[%d]: name is required", i)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("downloaders[%d]: duplicate name %q", i, d.Name)
		}
		seen[name] = struct{}{}

		switch strings.ToLower(d.Type) {
		case DownloaderQbittorrent, DownloaderTransmission:
		default:
			return fmt.Errorf("downloader %q: unsupported type %q", d.Name, d.Type)
		}
		if strings.TrimSpace(d.Host) == "" {
			return fmt.Errorf("downloader %q: host is required", d.Name)
		}
	}

	for _, name := range c.Remove.Downloaders {
		if _, ok := c.Downloader(name); !ok {
			return fmt.Errorf("remove.downloaders: unknown downloader %q", name)
		}
	}

	for i, m := range c.MediaServers {
		if !strings.EqualFold(m.Type, MediaServerPlex) {
			return fmt.Errorf("mediaServers[%d]: unsupported type %q", i, m.Type)
		}
	}

	return nil
}

// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/autobrr/autoclear/internal/domain"
)

var envPrefix = "AUTOCLEAR__"

const lockFileName = "autoclear.lock"

type AppConfig struct {
	Config  *domain.Config
	viper   *viper.Viper
	dataDir string
	version string

	mu          sync.RWMutex
	listenersMu sync.RWMutex
	listeners   []func(*domain.Config)
}

func New(configDirOrPath string, versions ...string) (*AppConfig, error) {
	version := "dev"
	if len(versions) > 0 && strings.TrimSpace(versions[0]) != "" {
		version = versions[0]
	}

	c := &AppConfig{
		viper:   viper.New(),
		Config:  &domain.Config{},
		version: version,
	}

	c.defaults()

	if err := c.load(configDirOrPath); err != nil {
		return nil, err
	}

	if err := c.loadFromEnv(); err != nil {
		return nil, err
	}

	if err := c.viper.Unmarshal(c.Config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	c.Config.Version = c.version

	if err := c.Config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}

	c.resolveDataDir()

	c.watchConfig()

	return c, nil
}

func (c *AppConfig) defaults() {
	c.viper.SetDefault("logLevel", "INFO")
	c.viper.SetDefault("logPath", "")
	c.viper.SetDefault("logMaxSize", 50)
	c.viper.SetDefault("logMaxBackups", 3)
	c.viper.SetDefault("dataDir", "")
	c.viper.SetDefault("metricsEnabled", false)
	c.viper.SetDefault("metricsHost", "127.0.0.1")
	c.viper.SetDefault("metricsPort", 9075)
	c.viper.SetDefault("metricsBasicAuthUsers", "")

	c.viper.SetDefault("enabled", false)
	c.viper.SetDefault("cron", "0 */6 * * *")
	c.viper.SetDefault("notify", false)
	c.viper.SetDefault("notificationUrls", []string{})

	c.viper.SetDefault("remove.action", "pause")
	c.viper.SetDefault("remove.sameData", false)
	c.viper.SetDefault("remove.managedOnly", false)
	c.viper.SetDefault("remove.managedTag", "MOVIEPILOT")
	c.viper.SetDefault("remove.tags", []string{"wait_to_delete"})

	c.viper.SetDefault("allClear.sections", []string{"TV Shows", "Movies"})
	c.viper.SetDefault("allClear.downloadPath", "/media")
	c.viper.SetDefault("allClear.deleteTag", "wait_to_delete")
	c.viper.SetDefault("allClear.deleteMediaFiles", true)
	c.viper.SetDefault("allClear.action", "delete")
}

func (c *AppConfig) load(configDirOrPath string) error {
	c.viper.SetConfigType("toml")

	if configDirOrPath != "" {
		configPath := c.resolveConfigPath(configDirOrPath)
		c.viper.SetConfigFile(configPath)

		if err := c.viper.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if errors.As(err, &notFound) || os.IsNotExist(errors.Cause(err)) {
				if err := c.writeDefaultConfig(configPath); err != nil {
					return err
				}
				if err := c.viper.ReadInConfig(); err != nil {
					return errors.Wrap(err, "failed to read newly created config")
				}
				return nil
			}
			return errors.Wrap(err, "failed to read config")
		}
		return nil
	}

	c.viper.SetConfigName("config")
	c.viper.AddConfigPath(".")
	c.viper.AddConfigPath(GetDefaultConfigDir())

	if err := c.viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return errors.Wrap(err, "failed to read config")
		}

		defaultConfigPath := filepath.Join(GetDefaultConfigDir(), "config.toml")
		if err := c.writeDefaultConfig(defaultConfigPath); err != nil {
			return err
		}
		c.viper.SetConfigFile(defaultConfigPath)
		if err := c.viper.ReadInConfig(); err != nil {
			return errors.Wrap(err, "failed to read newly created config")
		}
		c.dataDir = filepath.Dir(defaultConfigPath)
	}

	return nil
}

// loadFromEnv binds only the variables we know about. AutomaticEnv picks up
// unrelated variables in container environments.
func (c *AppConfig) loadFromEnv() error {
	binds := map[string]string{
		"logLevel":       "LOG_LEVEL",
		"logPath":        "LOG_PATH",
		"logMaxSize":     "LOG_MAX_SIZE",
		"logMaxBackups":  "LOG_MAX_BACKUPS",
		"dataDir":        "DATA_DIR",
		"metricsEnabled": "METRICS_ENABLED",
		"metricsHost":    "METRICS_HOST",
		"metricsPort":    "METRICS_PORT",

		"enabled": "ENABLED",
		"cron":    "CRON",
		"notify":  "NOTIFY",

		"remove.action":          "REMOVE_ACTION",
		"remove.sameData":        "REMOVE_SAME_DATA",
		"remove.managedOnly":     "REMOVE_MANAGED_ONLY",
		"remove.size":            "REMOVE_SIZE",
		"remove.ratio":           "REMOVE_RATIO",
		"remove.seedTime":        "REMOVE_SEED_TIME",
		"remove.upSpeed":         "REMOVE_UP_SPEED",
		"remove.pathKeywords":    "REMOVE_PATH_KEYWORDS",
		"remove.trackerKeywords": "REMOVE_TRACKER_KEYWORDS",
		"remove.errorKeywords":   "REMOVE_ERROR_KEYWORDS",

		"allClear.mediaServer":      "ALL_CLEAR_MEDIA_SERVER",
		"allClear.downloadPath":     "ALL_CLEAR_DOWNLOAD_PATH",
		"allClear.deleteTag":        "ALL_CLEAR_DELETE_TAG",
		"allClear.deleteMediaFiles": "ALL_CLEAR_DELETE_MEDIA_FILES",
		"allClear.action":           "ALL_CLEAR_ACTION",
	}

	for key, env := range binds {
		if err := c.viper.BindEnv(key, envPrefix+env); err != nil {
			return errors.Wrapf(err, "could not bind env %s", env)
		}
	}

	return c.bindOrReadFromFile("metricsBasicAuthUsers", envPrefix+"METRICS_BASIC_AUTH_USERS")
}

// bindOrReadFromFile reads the value from the file named by envVar_FILE when
// present, otherwise binds envVar directly.
func (c *AppConfig) bindOrReadFromFile(viperVar string, envVar string) error {
	envVarFile := envVar + "_FILE"
	if filePath := os.Getenv(envVarFile); filePath != "" {
		content, err := os.ReadFile(filePath)
		if err != nil {
			return errors.Wrapf(err, "could not read %s", envVarFile)
		}
		c.viper.Set(viperVar, strings.TrimSpace(string(content)))
		return nil
	}

	return c.viper.BindEnv(viperVar, envVar)
}

func (c *AppConfig) watchConfig() {
	c.viper.OnConfigChange(func(e fsnotify.Event) {
		log.Info().Msgf("Config file changed: %s", e.Name)

		next := &domain.Config{}
		if err := c.viper.Unmarshal(next); err != nil {
			log.Error().Err(err).Msg("Failed to reload configuration")
			return
		}
		if err := next.Validate(); err != nil {
			log.Error().Err(err).Msg("Ignoring invalid configuration change")
			return
		}
		next.Version = c.version

		c.mu.Lock()
		c.Config = next
		c.mu.Unlock()

		c.ApplyLogConfig()
		c.notifyListeners()
	})
	c.viper.WatchConfig()
}

// Snapshot returns a copy of the current configuration.
func (c *AppConfig) Snapshot() domain.Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return *c.Config
}

// RegisterReloadListener registers a callback that's invoked when the configuration file is reloaded.
func (c *AppConfig) RegisterReloadListener(fn func(*domain.Config)) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	c.listeners = append(c.listeners, fn)
}

func (c *AppConfig) notifyListeners() {
	c.listenersMu.RLock()
	listeners := append([]func(*domain.Config){}, c.listeners...)
	c.listenersMu.RUnlock()

	if len(listeners) == 0 {
		return
	}

	copied := c.Snapshot()
	for _, listener := range listeners {
		listener(&copied)
	}
}

const configTemplate = `# config.toml - Auto-generated on first run

# Log level
# Default: "INFO"
# Options: "ERROR", "DEBUG", "INFO", "WARN", "TRACE"
logLevel = "{{ .logLevel }}"

# Log file path
# If not defined, logs to stdout
#logPath = "log/autoclear.log"

# Maximum log file size in megabytes before rotation
#logMaxSize = {{ .logMaxSize }}

# Number of rotated log files to retain (0 keeps all)
#logMaxBackups = {{ .logMaxBackups }}

# Data directory (default: next to config file)
# Holds the run lock file
#dataDir = "/var/lib/autoclear"

# Prometheus metrics and manual trigger endpoints
#metricsEnabled = false
#metricsHost = "{{ .metricsHost }}"
#metricsPort = {{ .metricsPort }}
# Format: "username:bcrypt_hash,user2:hash2"
# Required for POST /api/run/removal and /api/run/all-clear
#metricsBasicAuthUsers = ""

# Run the removal pass on a schedule
enabled = false
cron = "{{ .cron }}"

# Send a summary after each pass that acted on at least one torrent
notify = false
# shoutrrr service URLs
#notificationUrls = ["discord://token@id"]

#[[downloaders]]
#name = "qbittorrent"
#type = "qbittorrent"
#host = "http://localhost:8080"
#username = "admin"
#password = "adminadmin"
# HTTP basic auth in front of the WebUI, if any
#basicUsername = ""
#basicPassword = ""
#tlsSkipVerify = false
# Request timeout in seconds
#timeout = 60

#[[downloaders]]
#name = "transmission"
#type = "transmission"
#host = "http://localhost:9091/transmission/rpc"
#username = ""
#password = ""

#[[mediaServers]]
#name = "plex"
#type = "plex"
#host = "http://localhost:32400"
#token = ""

[remove]
# Downloaders to process, in order
downloaders = []
# pause, delete or deletefile
action = "{{ .removeAction }}"
# Also act on torrents with the same name and size
sameData = false
# Only consider torrents tagged by the companion tool
managedOnly = false
#managedTag = "MOVIEPILOT"
# Size band in GiB, "min-max". Torrents strictly outside the band qualify.
#size = "1-50"
# Ratio above which torrents qualify
#ratio = 2.0
# Seeding hours above which torrents qualify
#seedTime = 168
# Average upload speed in KiB/s below which torrents qualify
#upSpeed = 10
tags = ["wait_to_delete"]
# Case-insensitive regexes
#pathKeywords = ""
#trackerKeywords = ""
#errorKeywords = ""
#states = ["pausedUP", "stalledUP", "uploading"]
#categories = ["movies", "tv"]

[allClear]
#mediaServer = "plex"
sections = ["TV Shows", "Movies"]
downloadPath = "{{ .downloadPath }}"
deleteTag = "wait_to_delete"
deleteMediaFiles = true
# delete or deletefile
action = "delete"
`

func (c *AppConfig) writeDefaultConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		log.Debug().Msgf("Config file already exists at: %s", path)
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create config directory %s", dir)
	}

	data := map[string]any{
		"logLevel":      c.viper.GetString("logLevel"),
		"logMaxSize":    c.viper.GetInt("logMaxSize"),
		"logMaxBackups": c.viper.GetInt("logMaxBackups"),
		"metricsHost":   c.viper.GetString("metricsHost"),
		"metricsPort":   c.viper.GetInt("metricsPort"),
		"cron":          c.viper.GetString("cron"),
		"removeAction":  c.viper.GetString("remove.action"),
		"downloadPath":  c.viper.GetString("allClear.downloadPath"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return errors.Wrap(err, "failed to parse config template")
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "failed to create config file")
	}
	defer f.Close()

	if err := tmpl.Execute(f, data); err != nil {
		return errors.Wrap(err, "failed to write config file")
	}

	log.Info().Msgf("Created default config file: %s", path)
	return nil
}

// WriteDefaultConfig writes the default configuration template to path.
func WriteDefaultConfig(path string) error {
	c := &AppConfig{viper: viper.New()}
	c.defaults()
	return c.writeDefaultConfig(path)
}

// GetDefaultConfigDir returns the OS-specific config directory
func GetDefaultConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		// Containers mount /config directly.
		if xdgConfig == "/config" {
			return xdgConfig
		}
		return filepath.Join(xdgConfig, "autoclear")
	}

	home, _ := os.UserHomeDir()
	switch runtime.GOOS {
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "autoclear")
		}
		return filepath.Join(home, "AppData", "Roaming", "autoclear")
	default:
		return filepath.Join(home, ".config", "autoclear")
	}
}

func (c *AppConfig) ApplyLogConfig() {
	cfg := c.Snapshot()

	zerolog.TimeFieldFormat = time.RFC3339
	setLogLevel(cfg.LogLevel)

	writer := baseLogWriter(c.version)
	if cfg.LogPath != "" {
		multiWriter, err := setupLogFile(cfg.LogPath, writer, cfg.LogMaxSize, cfg.LogMaxBackups)
		if err != nil {
			log.Error().Err(err).Msg("Failed to setup log file")
		} else {
			writer = multiWriter
		}
	}

	log.Logger = log.Logger.Output(writer)
}

func setLogLevel(level string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Logger.Level(lvl)
}

func setupLogFile(path string, base io.Writer, maxSize, maxBackups int) (io.Writer, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create log directory")
	}

	if maxSize <= 0 {
		maxSize = 50
	}
	if maxBackups < 0 {
		maxBackups = 0
	}

	rotator := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
	}

	return io.MultiWriter(base, rotator), nil
}

func baseLogWriter(version string) io.Writer {
	if !isDevBuild(version) {
		return os.Stderr
	}

	writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	writer.PartsOrder = []string{zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName}
	writer.FormatMessage = func(i any) string {
		if i == nil {
			return ""
		}
		return strings.TrimSpace(fmt.Sprint(i))
	}
	return writer
}

// InitDefaultLogger configures zerolog before a configuration file is loaded.
func InitDefaultLogger(version string) {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Logger.Output(baseLogWriter(version))
}

func isDevBuild(version string) bool {
	v := strings.ToLower(strings.TrimSpace(version))
	return v == "" || v == "dev" || strings.HasSuffix(v, "-dev")
}

// resolveConfigPath determines the config file path from a directory or file path
func (c *AppConfig) resolveConfigPath(configDirOrPath string) string {
	if strings.HasSuffix(strings.ToLower(configDirOrPath), ".toml") {
		return configDirOrPath
	}

	if info, err := os.Stat(configDirOrPath); err == nil && !info.IsDir() {
		return configDirOrPath
	}

	return filepath.Join(configDirOrPath, "config.toml")
}

func (c *AppConfig) resolveDataDir() {
	switch {
	case c.Config.DataDir != "":
		c.dataDir = c.Config.DataDir
	case c.dataDir != "":
	case c.viper.ConfigFileUsed() != "":
		c.dataDir = filepath.Dir(c.viper.ConfigFileUsed())
	default:
		c.dataDir = "."
	}
}

// GetDataDir returns the resolved data directory path.
func (c *AppConfig) GetDataDir() string {
	return c.dataDir
}

// SetDataDir sets the data directory (used by CLI flags)
func (c *AppConfig) SetDataDir(dir string) {
	c.dataDir = dir
}

// GetLockPath returns the path of the file lock serializing removal passes
// across processes.
func (c *AppConfig) GetLockPath() string {
	return filepath.Join(c.dataDir, lockFileName)
}

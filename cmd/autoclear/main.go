// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/autobrr/autoclear/internal/buildinfo"
	"github.com/autobrr/autoclear/internal/config"
)

func main() {
	config.InitDefaultLogger(buildinfo.Version)

	var rootCmd = &cobra.Command{
		Use:   "autoclear",
		Short: "Retention housekeeping for qBittorrent and Transmission",
		Long: `autoclear - pauses or deletes torrents that met their seeding goals,
and clears torrents whose media has been fully watched on Plex.`,
	}

	rootCmd.Version = buildinfo.Version

	rootCmd.AddCommand(RunServeCommand())
	rootCmd.AddCommand(RunRemovalCommand())
	rootCmd.AddCommand(RunAllClearCommand())
	rootCmd.AddCommand(RunPreviewCommand())
	rootCmd.AddCommand(RunGenerateConfigCommand())
	rootCmd.AddCommand(RunVersionCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type commonFlags struct {
	configDir string
	dataDir   string
	logPath   string
}

func (f *commonFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.configDir, "config-dir", "", "config directory path (default is OS-specific: ~/.config/autoclear/ or %APPDATA%\\autoclear\\). Can also be a direct path to a .toml file")
	cmd.Flags().StringVar(&f.dataDir, "data-dir", "", "data directory for the run lock (default is next to config file)")
	cmd.Flags().StringVar(&f.logPath, "log-path", "", "log file path (default is stdout)")
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func RunServeCommand() *cobra.Command {
	var (
		flags       commonFlags
		allClearNow bool
	)

	var command = &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and the metrics server",
	}

	flags.register(command)
	command.Flags().BoolVar(&allClearNow, "all-clear-now", false, "run the all-clear workflow once right after startup")

	command.RunE = func(cmd *cobra.Command, args []string) error {
		app, err := NewApplication(flags)
		if err != nil {
			return err
		}
		return app.serve(allClearNow)
	}

	return command
}

func RunRemovalCommand() *cobra.Command {
	var flags commonFlags

	command := &cobra.Command{
		Use:   "run",
		Short: "Run one removal pass and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := NewApplication(flags)
			if err != nil {
				return err
			}
			defer app.Close()

			ctx, stop := signalContext()
			defer stop()

			app.startNotifier(ctx)
			return runAndFlush(func() error {
				summaries := app.service.RunRemovalPass(ctx)
				for _, s := range summaries {
					cmd.Printf("[%s] %s\n", s.Downloader, s.String())
					for _, f := range s.Failed {
						cmd.Printf("[%s] failed %s: %v\n", s.Downloader, f.Candidate.Name, f.Err)
					}
				}
				return nil
			}, app.flushNotifications)
		},
	}

	flags.register(command)

	return command
}

func RunAllClearCommand() *cobra.Command {
	var flags commonFlags

	command := &cobra.Command{
		Use:   "all-clear",
		Short: "Delete fully watched media and the torrents seeding it",
		Long: `Fetch fully watched shows and movies from the media server, match them to
their torrents by hard link, optionally delete the media files, tag the torrents
with the delete tag and run a removal pass with the all-clear action.

Deleted media files cannot be recovered.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := NewApplication(flags)
			if err != nil {
				return err
			}
			defer app.Close()

			ctx, stop := signalContext()
			defer stop()

			app.startNotifier(ctx)
			return runAndFlush(func() error {
				if err := app.service.RunAllClear(ctx); err != nil {
					return fmt.Errorf("all-clear failed: %w", err)
				}
				return nil
			}, app.flushNotifications)
		},
	}

	flags.register(command)

	return command
}

// runAndFlush runs fn and then waits for queued notifications, also when fn
// fails.
func runAndFlush(fn func() error, flush func()) error {
	defer flush()
	return fn()
}

func RunPreviewCommand() *cobra.Command {
	var flags commonFlags

	command := &cobra.Command{
		Use:   "preview",
		Short: "Show the torrents the next removal pass would act on",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := NewApplication(flags)
			if err != nil {
				return err
			}
			defer app.Close()

			ctx, stop := signalContext()
			defer stop()

			previews, err := app.service.PreviewRemoval(ctx)
			if err != nil {
				return err
			}

			for _, p := range previews {
				if p.Err != nil {
					cmd.PrintErrf("[%s] %v\n", p.Downloader, p.Err)
				}
			}
			cmd.Println(renderPreview(previews))
			return nil
		},
	}

	flags.register(command)

	return command
}

func RunVersionCommand() *cobra.Command {
	var asJSON bool

	var command = &cobra.Command{
		Use:   "version",
		Short: "Print the version of autoclear",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !asJSON {
				cmd.Println(buildinfo.String())
				return nil
			}
			out, err := buildinfo.JSON()
			if err != nil {
				return err
			}
			cmd.Println(string(out))
			return nil
		},
	}

	command.Flags().BoolVar(&asJSON, "json", false, "print build information as JSON")

	return command
}

func RunGenerateConfigCommand() *cobra.Command {
	var configDir string

	command := &cobra.Command{
		Use:   "generate-config",
		Short: "Generate a default configuration file",
		Long: `Generate a default configuration file without starting the scheduler.

If no --config-dir is specified, uses the OS-specific default location:
- Linux/macOS: ~/.config/autoclear/config.toml
- Windows: %APPDATA%\autoclear\config.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := resolveConfigFile(configDir)

			if _, err := os.Stat(configPath); err == nil {
				cmd.Printf("Configuration file already exists at: %s\n", configPath)
				cmd.Println("Skipping generation to avoid overwriting existing configuration.")
				return nil
			}

			if err := config.WriteDefaultConfig(configPath); err != nil {
				return fmt.Errorf("failed to create configuration file: %w", err)
			}

			cmd.Printf("Configuration file created successfully at: %s\n", configPath)
			return nil
		},
	}

	command.Flags().StringVar(&configDir, "config-dir", "",
		"config directory or file path (defaults to OS-specific location)")

	return command
}

func resolveConfigFile(configDir string) string {
	if configDir == "" {
		return filepath.Join(config.GetDefaultConfigDir(), "config.toml")
	}
	if strings.HasSuffix(strings.ToLower(configDir), ".toml") {
		return configDir
	}
	if info, err := os.Stat(configDir); err == nil && !info.IsDir() {
		return configDir
	}
	return filepath.Join(configDir, "config.toml")
}

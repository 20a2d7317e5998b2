// Package main is the adze CLI: an autonomous coding agent that drives an
// LLM through a think / call-a-tool / observe loop inside one workspace.
//
// Basic usage:
//
//	adze run "add a --verbose flag to the scan command"
//	adze run --conversation <id> ""        # resume
//	adze tools                             # list bound tools
//
// Configuration comes from --config (YAML or JSON5); API keys are read from
// the environment variables the config names, never from the file itself.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/adze-dev/adze/internal/config"
	"github.com/adze-dev/adze/internal/observability"
)

// Build information, populated by ldflags:
//
//	go build -ldflags "-X main.version=v0.3.0 -X main.commit=$(git rev-parse --short HEAD)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var configPath string

func main() {
	observability.SetupLogging("info", "json", os.Stderr)
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "adze",
		Short:        "adze - autonomous coding agent",
		Long:         "Adze drives an LLM through an iterative tool-use loop until the task\nis complete, a round limit is hit, or the run is cancelled.",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("ADZE_CONFIG"), "Path to config file (YAML or JSON5)")

	rootCmd.AddCommand(
		buildRunCmd(),
		buildToolsCmd(),
		buildConversationsCmd(),
	)
	return rootCmd
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	observability.SetupLogging(cfg.Log.Level, cfg.Log.Format, cmd.ErrOrStderr())
	return cfg, nil
}

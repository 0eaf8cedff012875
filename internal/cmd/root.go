// Package cmd implements the srcindex command line.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/srcindex/internal/config"
	"github.com/3leaps/srcindex/internal/observability"
)

// VersionInfo is build metadata injected by main.
type VersionInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

var versionInfo = VersionInfo{Version: "dev", Commit: "unknown", BuildDate: "unknown"}

// SetVersionInfo records build metadata for `version` and /version.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

var (
	flagConfigFile string
	flagVerbose    bool
	flagLogLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "srcindex",
	Short: "Source indexing daemon",
	Long: `srcindex runs C and C++ translation units through isolated worker
processes and keeps per-project index state.

Run 'srcindex serve' for the daemon, or 'srcindex index' to index files
once without one.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initApp,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigFile, "config", "", "Config file (default: $XDG_CONFIG_HOME/srcindex/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Verbose logging")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level override (debug, info, warn, error)")
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		observability.CLILogger.Error("command failed", zap.Error(err))
		_, _ = fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func initApp(cmd *cobra.Command, _ []string) error {
	observability.InitCLILogger("srcindex", flagVerbose)

	config.SetConfigFile(flagConfigFile)
	_, err := config.Load(cmd.Context(), cliOverrides())
	return err
}

// cliOverrides maps persistent flags onto config keys.
func cliOverrides() map[string]any {
	overrides := map[string]any{}
	level := strings.TrimSpace(flagLogLevel)
	if level == "" && flagVerbose {
		level = "debug"
	}
	if level != "" {
		overrides["logging"] = map[string]any{"level": level}
	}
	return overrides
}

// loadedConfig returns the configuration loaded by initApp.
func loadedConfig() (*config.Config, error) {
	cfg := config.GetConfig()
	if cfg == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}
	return cfg, nil
}

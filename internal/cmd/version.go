package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/3leaps/srcindex/internal/server/handlers"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE:  runVersion,
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().Bool("json", false, "Output as JSON")
}

func currentVersion() handlers.VersionInfo {
	return handlers.VersionInfo{
		Version:   versionInfo.Version,
		Commit:    versionInfo.Commit,
		BuildDate: versionInfo.BuildDate,
		GoVersion: runtime.Version(),
	}
}

func runVersion(cmd *cobra.Command, _ []string) error {
	info := currentVersion()
	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	_, _ = fmt.Fprintf(os.Stdout, "srcindex %s\n", info.Version)
	_, _ = fmt.Fprintf(os.Stdout, "commit=%s\n", info.Commit)
	_, _ = fmt.Fprintf(os.Stdout, "build_date=%s\n", info.BuildDate)
	_, _ = fmt.Fprintf(os.Stdout, "go=%s\n", info.GoVersion)
	return nil
}

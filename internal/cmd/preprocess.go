package cmd

import (
	"errors"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/srcindex/internal/observability"
	"github.com/3leaps/srcindex/pkg/preprocess"
	"github.com/3leaps/srcindex/pkg/source"
)

var preprocessCmd = &cobra.Command{
	Use:   "preprocess [flags] -- compiler args...",
	Short: "Print the preprocessed text of a translation unit",
	Long: `Run the compiler's preprocessor for one compile command and stream the
result to stdout. This is the text a worker receives for the same command.`,
	RunE: runPreprocess,
}

func init() {
	rootCmd.AddCommand(preprocessCmd)
	preprocessCmd.Flags().String("dir", "", "Working directory of the command (default: current directory)")
	preprocessCmd.Flags().String("compiler", "", "Compiler override (default from config, then the command)")
}

func runPreprocess(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return errors.New("a compile command after -- is required")
	}
	cfg, err := loadedConfig()
	if err != nil {
		return err
	}

	dir, _ := cmd.Flags().GetString("dir")
	if dir == "" {
		if dir, err = os.Getwd(); err != nil {
			return err
		}
	}
	if dir, err = absPath(dir); err != nil {
		return err
	}

	src, err := source.Parse(args, dir)
	if err != nil {
		return err
	}

	compiler, _ := cmd.Flags().GetString("compiler")
	if compiler == "" {
		compiler = cfg.Preprocess.Compiler
	}
	runner := preprocess.NewRunner(compiler, observability.CLILogger.Named("preprocess"))

	n, err := runner.Stream(cmd.Context(), src, os.Stdout)
	if err != nil {
		return err
	}
	observability.CLILogger.Debug("preprocessed",
		zap.String("file", src.SourceFile()),
		zap.String("compiler", runner.Compiler(src)),
		zap.Int64("bytes", n))
	return nil
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/srcindex/internal/config"
	"github.com/3leaps/srcindex/internal/daemon"
	"github.com/3leaps/srcindex/internal/observability"
	"github.com/3leaps/srcindex/pkg/indexer"
	"github.com/3leaps/srcindex/pkg/manifest"
	"github.com/3leaps/srcindex/pkg/output"
)

var indexCmd = &cobra.Command{
	Use:   "index [flags] [-- compiler args...]",
	Short: "Index translation units",
	Long: `Index one compile command, or every command of a manifest.

Without --addr the command runs its own pipeline in-process, waits for every
job to finish and reports the outcome per file. With --addr the requests are
submitted to a running daemon and the command returns immediately.

Examples:
  srcindex index --project /src/app -- g++ -c src/main.cpp
  srcindex index --manifest index.yaml --json
  srcindex index --manifest index.yaml --addr 127.0.0.1:8765`,
	RunE: runIndex,
}

var indexInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create or migrate the index store",
	Args:  cobra.NoArgs,
	RunE:  runIndexInit,
}

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.AddCommand(indexInitCmd)

	indexCmd.Flags().String("project", "", "Project root (default: current directory)")
	indexCmd.Flags().String("dir", "", "Working directory of the command (default: current directory)")
	indexCmd.Flags().String("type", "", "Index type: makefile, dirty, dump, restore, forced, initial")
	indexCmd.Flags().StringP("manifest", "m", "", "Index every command of a manifest (YAML or JSON)")
	indexCmd.Flags().String("addr", "", "Submit to the daemon at host:port instead of indexing in-process")
	indexCmd.Flags().Duration("timeout", 0, "Give up waiting after this long (0 = no limit)")
	indexCmd.Flags().Bool("json", false, "Output as JSON")
	indexCmd.Flags().Bool("jsonl", false, "Stream job events, outcomes and a summary as JSONL")
}

// indexOutcome is the per-file result printed by `index`.
type indexOutcome struct {
	File     string `json:"file"`
	JobID    string `json:"job_id,omitempty"`
	Type     string `json:"type"`
	Outcome  string `json:"outcome"`
	ExitCode *int   `json:"exit_code,omitempty"`
}

func runIndex(cmd *cobra.Command, args []string) error {
	reqs, err := indexRequests(cmd, args)
	if err != nil {
		return err
	}
	if len(reqs) == 0 {
		_, _ = fmt.Fprintln(os.Stdout, "Nothing to index")
		return nil
	}

	ctx := cmd.Context()
	if timeout, _ := cmd.Flags().GetDuration("timeout"); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	jsonOutput, _ := cmd.Flags().GetBool("json")
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		return submitRemote(ctx, cmd, reqs, jsonOutput)
	}

	cfg, err := loadedConfig()
	if err != nil {
		return err
	}

	var stream output.Writer
	if jsonl, _ := cmd.Flags().GetBool("jsonl"); jsonl {
		w := output.NewJSONLWriter(os.Stdout, uuid.NewString())
		defer func() { _ = w.Close() }()
		stream = w
	}

	start := time.Now()
	outcomes, err := indexInProcess(ctx, cfg, reqs, stream)
	if err != nil {
		return err
	}
	if stream != nil {
		return streamOutcomes(ctx, stream, outcomes, time.Since(start))
	}
	return printOutcomes(outcomes, jsonOutput)
}

// indexRequests builds the requests from --manifest or the command after --.
func indexRequests(cmd *cobra.Command, args []string) ([]daemon.IndexRequest, error) {
	manifestPath, _ := cmd.Flags().GetString("manifest")
	typeName, _ := cmd.Flags().GetString("type")

	if manifestPath != "" {
		if len(args) > 0 {
			return nil, errors.New("--manifest and a command line are mutually exclusive")
		}
		m, err := manifest.Load(manifestPath)
		if err != nil {
			return nil, err
		}
		sel, err := m.Select()
		if err != nil {
			return nil, err
		}
		for _, i := range sel.Invalid {
			observability.CLILogger.Warn("manifest command names no source file", zap.Int("index", i))
		}
		if sel.Skipped > 0 {
			observability.CLILogger.Debug("manifest commands skipped by match patterns", zap.Int("count", sel.Skipped))
		}
		if typeName == "" {
			typeName = m.Type
		}

		reqs := make([]daemon.IndexRequest, 0, len(sel.Entries))
		for _, e := range sel.Entries {
			reqs = append(reqs, daemon.IndexRequest{
				Project:   m.Project,
				Directory: e.Directory,
				Command:   e.Argv,
				Type:      typeName,
			})
		}
		return reqs, nil
	}

	if len(args) == 0 {
		return nil, errors.New("a compile command after -- or --manifest is required")
	}
	projectFlag, _ := cmd.Flags().GetString("project")
	dirFlag, _ := cmd.Flags().GetString("dir")

	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	if projectFlag == "" {
		projectFlag = cwd
	}
	if dirFlag == "" {
		dirFlag = cwd
	}
	project, err := absPath(projectFlag)
	if err != nil {
		return nil, err
	}
	dir, err := absPath(dirFlag)
	if err != nil {
		return nil, err
	}
	return []daemon.IndexRequest{{
		Project:   project,
		Directory: dir,
		Command:   args,
		Type:      typeName,
	}}, nil
}

func submitRemote(ctx context.Context, cmd *cobra.Command, reqs []daemon.IndexRequest, jsonOutput bool) error {
	client, err := newDaemonClient(cmd)
	if err != nil {
		return err
	}
	infos := make([]indexer.JobInfo, 0, len(reqs))
	for _, req := range reqs {
		info, err := client.Submit(ctx, req)
		if err != nil {
			return err
		}
		infos = append(infos, info)
	}

	if jsonOutput {
		return writeJSON(os.Stdout, infos)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()
	_, _ = fmt.Fprintln(w, "JOB ID\tSTATE\tTYPE\tFILE")
	for _, info := range infos {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", shortJobID(info.ID), info.State, info.Type, info.File)
	}
	return nil
}

// indexInProcess runs a private daemon until every request has finished.
// Requests the daemon rejects as invalid are reported and skipped. With a
// non-nil stream every scheduler event is written to it as it happens.
func indexInProcess(ctx context.Context, cfg *config.Config, reqs []daemon.IndexRequest, stream output.Writer) ([]indexOutcome, error) {
	logger := observability.CLILogger.Named("index")

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	opts := daemon.OptionsFromConfig(cfg)
	if stream != nil {
		opts.Recorders = append(opts.Recorders, output.NewEventRecorder(stream, logger))
	}
	d, err := daemon.New(runCtx, opts, logger)
	if err != nil {
		return nil, err
	}
	runDone := make(chan error, 1)
	go func() { runDone <- d.Run(runCtx) }()
	defer func() {
		cancel()
		<-runDone
		if err := d.Close(); err != nil {
			logger.Warn("close daemon", zap.Error(err))
		}
	}()

	infos := make([]indexer.JobInfo, 0, len(reqs))
	projects := make([]string, 0, len(reqs))
	for _, req := range reqs {
		info, err := d.Index(ctx, req)
		if errors.Is(err, daemon.ErrInvalidRequest) {
			logger.Warn("skipping request", zap.Strings("command", req.Command), zap.Error(err))
			if stream != nil {
				_ = stream.WriteError(ctx, &output.ErrorRecord{
					Code:    output.ErrCodeInvalidRequest,
					Message: err.Error(),
					Details: map[string]any{"command": req.Command, "directory": req.Directory},
				})
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
		projects = append(projects, req.Project)
	}

	start := time.Now()
	if err := d.WaitIdle(ctx); err != nil {
		return nil, err
	}
	// Crash delivery is posted behind the completion event.
	if err := d.Ping(ctx); err != nil {
		return nil, err
	}
	logger.Debug("index jobs finished", zap.Int("jobs", len(infos)), zap.Duration("elapsed", time.Since(start)))

	files := d.Projects().Files()
	seen := make(map[string]bool, len(infos))
	outcomes := make([]indexOutcome, 0, len(infos))
	for i, info := range infos {
		if seen[info.File] {
			continue
		}
		seen[info.File] = true

		out := indexOutcome{File: info.File, Type: info.Type, Outcome: "no result"}
		p, ok := d.Projects().Get(projects[i])
		if id, found := files.Lookup(info.File); ok && found {
			if data, has := p.LastResult(id); has {
				out.JobID = data.JobID
				out.Type = data.Type.String()
				code := data.ExitCode
				out.ExitCode = &code
				out.Outcome = "ok"
				if data.Aborted {
					out.Outcome = "aborted"
				}
			}
		}
		outcomes = append(outcomes, out)
	}
	return outcomes, nil
}

func streamOutcomes(ctx context.Context, w output.Writer, outcomes []indexOutcome, elapsed time.Duration) error {
	sum := output.SummaryRecord{
		Files:         len(outcomes),
		Duration:      elapsed,
		DurationHuman: elapsed.Round(time.Millisecond).String(),
	}
	for _, o := range outcomes {
		switch o.Outcome {
		case "ok":
			sum.Succeeded++
		case "aborted":
			sum.Aborted++
		default:
			sum.NoResult++
		}
		if err := w.WriteOutcome(ctx, &output.OutcomeRecord{
			File:      o.File,
			JobID:     o.JobID,
			IndexType: o.Type,
			Outcome:   o.Outcome,
			ExitCode:  o.ExitCode,
		}); err != nil {
			return err
		}
	}
	return w.WriteSummary(ctx, &sum)
}

func printOutcomes(outcomes []indexOutcome, jsonOutput bool) error {
	if jsonOutput {
		return writeJSON(os.Stdout, outcomes)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()
	_, _ = fmt.Fprintln(w, "FILE\tTYPE\tOUTCOME\tEXIT\tJOB ID")
	for _, o := range outcomes {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			o.File, o.Type, o.Outcome, formatExitCode(o.ExitCode), dashIfEmpty(shortJobID(o.JobID)))
	}
	return nil
}

func runIndexInit(cmd *cobra.Command, _ []string) error {
	cfg, err := loadedConfig()
	if err != nil {
		return err
	}
	db, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	if err := db.Close(); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(os.Stdout, "index store ready at %s\n", cfg.IndexDBPath())
	return nil
}

package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/3leaps/srcindex/pkg/indexstore"
)

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "Query the index store",
	Long: `Query per-project indexing state kept in the index store.

These commands read <data_dir>/index.db directly and work whether or not a
daemon is running.`,
}

var projectsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known projects",
	RunE:  runProjectsList,
}

var projectsDirtyCmd = &cobra.Command{
	Use:   "dirty <project>",
	Short: "List files whose last index job was aborted",
	Args:  cobra.ExactArgs(1),
	RunE:  runProjectsDirty,
}

var projectsHistoryCmd = &cobra.Command{
	Use:   "history <project> <file>",
	Short: "Show the result history of one file",
	Args:  cobra.ExactArgs(2),
	RunE:  runProjectsHistory,
}

var projectsPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete old result history",
	RunE:  runProjectsPurge,
}

func init() {
	rootCmd.AddCommand(projectsCmd)
	projectsCmd.AddCommand(projectsListCmd, projectsDirtyCmd, projectsHistoryCmd, projectsPurgeCmd)

	projectsListCmd.Flags().Bool("json", false, "Output as JSON")
	projectsDirtyCmd.Flags().Bool("json", false, "Output as JSON")
	projectsHistoryCmd.Flags().Bool("json", false, "Output as JSON")
	projectsHistoryCmd.Flags().Int("limit", 20, "Show at most N results (0 = all)")
	projectsPurgeCmd.Flags().String("older-than", "720h", "Delete results that finished before this long ago")
}

// openStore opens and migrates the index store named by the config.
func openStore(ctx context.Context) (*sql.DB, error) {
	cfg, err := loadedConfig()
	if err != nil {
		return nil, err
	}
	db, err := indexstore.Open(ctx, indexstore.Config{Path: cfg.IndexDBPath()})
	if err != nil {
		return nil, err
	}
	if err := indexstore.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func runProjectsList(cmd *cobra.Command, _ []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	ctx := cmd.Context()

	db, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	projects, err := indexstore.ListProjects(ctx, db)
	if err != nil {
		return err
	}
	if jsonOutput {
		if projects == nil {
			projects = []indexstore.ProjectRow{}
		}
		return writeJSON(os.Stdout, projects)
	}
	if len(projects) == 0 {
		_, _ = fmt.Fprintln(os.Stdout, "No projects found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "PROJECT\tCREATED\tLAST LOADED")
	for _, p := range projects {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n",
			p.Path, p.CreatedAt.UTC().Format(time.RFC3339), formatOptionalTime(p.LastLoadedAt))
	}
	return nil
}

func runProjectsDirty(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	ctx := cmd.Context()

	project, err := absPath(args[0])
	if err != nil {
		return err
	}

	db, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	files, err := indexstore.DirtyFiles(ctx, db, project)
	if err != nil {
		return err
	}
	if jsonOutput {
		if files == nil {
			files = []indexstore.FileRow{}
		}
		return writeJSON(os.Stdout, files)
	}
	if len(files) == 0 {
		_, _ = fmt.Fprintln(os.Stdout, "No dirty files")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "FILE\tLAST JOB\tTYPE\tEXIT\tINDEXED")
	for _, f := range files {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			f.Path, shortJobID(dashIfEmpty(f.LastJobID)), dashIfEmpty(f.LastIndexType),
			f.LastExitCode, formatOptionalTime(f.LastIndexedAt))
	}
	return nil
}

func runProjectsHistory(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	limit, _ := cmd.Flags().GetInt("limit")
	ctx := cmd.Context()

	project, err := absPath(args[0])
	if err != nil {
		return err
	}
	file := args[1]
	if !filepath.IsAbs(file) {
		file = filepath.Join(project, file)
	}

	db, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	results, err := indexstore.ResultsForFile(ctx, db, project, filepath.Clean(file), limit)
	if err != nil {
		return err
	}
	if jsonOutput {
		if results == nil {
			results = []indexstore.ResultRow{}
		}
		return writeJSON(os.Stdout, results)
	}
	if len(results) == 0 {
		_, _ = fmt.Fprintln(os.Stdout, "No results found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "JOB ID\tTYPE\tOUTCOME\tEXIT\tFINISHED")
	for _, r := range results {
		outcome := "ok"
		if r.Aborted {
			outcome = "aborted"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			shortJobID(r.JobID), r.IndexType, outcome, r.ExitCode,
			r.FinishedAt.UTC().Format(time.RFC3339))
	}
	return nil
}

func runProjectsPurge(cmd *cobra.Command, _ []string) error {
	olderThanStr, _ := cmd.Flags().GetString("older-than")
	olderThan, err := time.ParseDuration(strings.TrimSpace(olderThanStr))
	if err != nil {
		return fmt.Errorf("invalid --older-than: %w", err)
	}
	if olderThan <= 0 {
		return fmt.Errorf("--older-than must be > 0")
	}
	ctx := cmd.Context()

	db, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	n, err := indexstore.PurgeResults(ctx, db, time.Now().UTC().Add(-olderThan))
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(os.Stdout, "purged %d result(s)\n", n)
	return nil
}

func absPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	return abs, nil
}

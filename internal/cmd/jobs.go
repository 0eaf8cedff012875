package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/3leaps/srcindex/internal/daemon"
	apperrors "github.com/3leaps/srcindex/internal/errors"
	"github.com/3leaps/srcindex/internal/server/handlers"
	"github.com/3leaps/srcindex/pkg/indexer"
	"github.com/3leaps/srcindex/pkg/jobregistry"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and manage index jobs",
	Long: `Inspect and manage index jobs.

'list', 'status', 'rm' and 'gc' read the job records the daemon keeps under
<data_dir>/jobs. 'live' and 'abort' talk to a running daemon over HTTP.`,
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded jobs",
	RunE:  runJobsList,
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status <job_id>",
	Short: "Show the record for a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsStatus,
}

var jobsRmCmd = &cobra.Command{
	Use:   "rm <job_id>",
	Short: "Delete a job record",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsRm,
}

var jobsGCCmd = &cobra.Command{
	Use:   "gc",
	Short: "Garbage collect old job records",
	RunE:  runJobsGC,
}

var jobsLiveCmd = &cobra.Command{
	Use:   "live",
	Short: "List queued and running jobs of a running daemon",
	RunE:  runJobsLive,
}

var jobsAbortCmd = &cobra.Command{
	Use:   "abort <job_id>",
	Short: "Abort a queued or running job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsAbort,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsListCmd, jobsStatusCmd, jobsRmCmd, jobsGCCmd, jobsLiveCmd, jobsAbortCmd)

	jobsListCmd.Flags().Bool("json", false, "Output as JSON")
	jobsListCmd.Flags().String("project", "", "Only jobs of this project")
	jobsListCmd.Flags().StringSlice("state", nil, "Only jobs in these states (queued, running, handed_off, finished, crashed, aborted, failed, unknown)")
	jobsStatusCmd.Flags().Bool("json", false, "Output as JSON")
	jobsGCCmd.Flags().String("max-age", "168h", "Delete finished jobs older than this duration")
	jobsGCCmd.Flags().Bool("dry-run", false, "Show which jobs would be deleted")
	jobsLiveCmd.Flags().Bool("json", false, "Output as JSON")

	for _, c := range []*cobra.Command{jobsLiveCmd, jobsAbortCmd} {
		c.Flags().String("addr", "", "Daemon address host:port (default from server config)")
	}
}

func jobStore() (*jobregistry.Store, error) {
	cfg, err := loadedConfig()
	if err != nil {
		return nil, err
	}
	return jobregistry.NewStore(cfg.JobsDir()), nil
}

func runJobsList(cmd *cobra.Command, _ []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	filter, err := jobsFilter(cmd)
	if err != nil {
		return err
	}
	store, err := jobStore()
	if err != nil {
		return err
	}
	jobs, err := store.Select(filter)
	if err != nil {
		return err
	}

	if jsonOutput {
		if jobs == nil {
			jobs = []jobregistry.JobRecord{}
		}
		return writeJSON(os.Stdout, jobs)
	}
	if len(jobs) == 0 {
		_, _ = fmt.Fprintln(os.Stdout, "No jobs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "JOB ID\tSTATE\tTYPE\tEXIT\tSTARTED\tENDED\tFILE")
	for _, j := range jobs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			shortJobID(j.JobID),
			j.State,
			dashIfEmpty(j.IndexType),
			formatExitCode(j.ExitCode),
			formatOptionalTime(j.StartedAt),
			formatOptionalTime(j.EndedAt),
			dashIfEmpty(j.File),
		)
	}
	return nil
}

func jobsFilter(cmd *cobra.Command) (jobregistry.Filter, error) {
	var f jobregistry.Filter
	if project, _ := cmd.Flags().GetString("project"); project != "" {
		abs, err := absPath(project)
		if err != nil {
			return f, err
		}
		f.Project = abs
	}
	states, _ := cmd.Flags().GetStringSlice("state")
	for _, name := range states {
		state := jobregistry.JobState(strings.ToLower(strings.TrimSpace(name)))
		if !state.Valid() {
			return f, fmt.Errorf("unknown job state %q", name)
		}
		f.States = append(f.States, state)
	}
	return f, nil
}

func runJobsStatus(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	store, err := jobStore()
	if err != nil {
		return err
	}
	jobID, err := store.Resolve(args[0])
	if err != nil {
		return err
	}
	rec, err := store.Get(jobID)
	if err != nil {
		return err
	}

	if jsonOutput {
		return writeJSON(os.Stdout, rec)
	}

	_, _ = fmt.Fprintf(os.Stdout, "job_id=%s\n", rec.JobID)
	_, _ = fmt.Fprintf(os.Stdout, "state=%s\n", rec.State)
	_, _ = fmt.Fprintf(os.Stdout, "project=%s\n", rec.Project)
	_, _ = fmt.Fprintf(os.Stdout, "file=%s\n", rec.File)
	_, _ = fmt.Fprintf(os.Stdout, "index_type=%s\n", rec.IndexType)
	if rec.PID != 0 {
		_, _ = fmt.Fprintf(os.Stdout, "pid=%d\n", rec.PID)
	}
	if rec.ExitCode != nil {
		_, _ = fmt.Fprintf(os.Stdout, "exit_code=%d\n", *rec.ExitCode)
	}
	if rec.Error != "" {
		_, _ = fmt.Fprintf(os.Stdout, "error=%s\n", rec.Error)
	}
	_, _ = fmt.Fprintf(os.Stdout, "created_at=%s\n", rec.CreatedAt.UTC().Format(time.RFC3339))
	if rec.StartedAt != nil {
		_, _ = fmt.Fprintf(os.Stdout, "started_at=%s\n", rec.StartedAt.UTC().Format(time.RFC3339))
	}
	if rec.EndedAt != nil {
		_, _ = fmt.Fprintf(os.Stdout, "ended_at=%s\n", rec.EndedAt.UTC().Format(time.RFC3339))
	}
	return nil
}

func runJobsRm(_ *cobra.Command, args []string) error {
	store, err := jobStore()
	if err != nil {
		return err
	}
	jobID, err := store.Resolve(args[0])
	if err != nil {
		return err
	}
	rec, err := store.Get(jobID)
	if err != nil {
		return err
	}
	if !rec.State.Terminal() {
		return fmt.Errorf("job %s is %s; abort it first", shortJobID(jobID), rec.State)
	}
	if err := store.Delete(jobID); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(os.Stdout, "deleted %s\n", jobID)
	return nil
}

func runJobsGC(cmd *cobra.Command, _ []string) error {
	maxAgeStr, _ := cmd.Flags().GetString("max-age")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	maxAge, err := time.ParseDuration(strings.TrimSpace(maxAgeStr))
	if err != nil {
		return fmt.Errorf("invalid --max-age: %w", err)
	}

	store, err := jobStore()
	if err != nil {
		return err
	}
	removed, err := store.GC(maxAge, time.Now().UTC(), dryRun)
	if err != nil {
		return err
	}

	verb := "deleted"
	if dryRun {
		verb = "would delete"
	}
	for _, id := range removed {
		_, _ = fmt.Fprintf(os.Stdout, "%s %s\n", verb, id)
	}
	_, _ = fmt.Fprintf(os.Stdout, "%s %d job(s)\n", verb, len(removed))
	return nil
}

func runJobsLive(cmd *cobra.Command, _ []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	client, err := newDaemonClient(cmd)
	if err != nil {
		return err
	}
	jobs, err := client.Jobs(cmd.Context())
	if err != nil {
		return err
	}

	if jsonOutput {
		return writeJSON(os.Stdout, jobs)
	}
	if len(jobs) == 0 {
		_, _ = fmt.Fprintln(os.Stdout, "No live jobs")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "JOB ID\tSTATE\tTYPE\tPID\tSINCE\tFILE")
	for _, j := range jobs {
		pid := "-"
		if j.PID != 0 {
			pid = strconv.Itoa(j.PID)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			shortJobID(j.ID), j.State, j.Type, pid,
			j.Since.UTC().Format(time.RFC3339), j.File)
	}
	return nil
}

func runJobsAbort(cmd *cobra.Command, args []string) error {
	client, err := newDaemonClient(cmd)
	if err != nil {
		return err
	}
	jobID := strings.TrimSpace(args[0])
	if err := client.Abort(cmd.Context(), jobID); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(os.Stdout, "aborted %s\n", jobID)
	return nil
}

// daemonClient calls the /v1 API of a running daemon.
type daemonClient struct {
	base string
	http *http.Client
}

func newDaemonClient(cmd *cobra.Command) (*daemonClient, error) {
	addr, _ := cmd.Flags().GetString("addr")
	addr = strings.TrimSpace(addr)
	if addr == "" {
		cfg, err := loadedConfig()
		if err != nil {
			return nil, err
		}
		host := cfg.Server.Host
		if host == "" || host == "0.0.0.0" {
			host = "127.0.0.1"
		}
		addr = fmt.Sprintf("%s:%d", host, cfg.Server.Port)
	}
	return &daemonClient{
		base: "http://" + addr,
		http: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (c *daemonClient) Jobs(ctx context.Context) ([]indexer.JobInfo, error) {
	var out handlers.JobsResponse
	if err := c.do(ctx, http.MethodGet, "/v1/jobs", nil, &out); err != nil {
		return nil, err
	}
	return out.Jobs, nil
}

func (c *daemonClient) Submit(ctx context.Context, req daemon.IndexRequest) (indexer.JobInfo, error) {
	var info indexer.JobInfo
	err := c.do(ctx, http.MethodPost, "/v1/jobs", req, &info)
	return info, err
}

func (c *daemonClient) Abort(ctx context.Context, jobID string) error {
	return c.do(ctx, http.MethodDelete, "/v1/jobs/"+url.PathEscape(jobID), nil, nil)
}

func (c *daemonClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("contact daemon at %s: %w", c.base, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		var errResp apperrors.HTTPErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil || errResp.Error.Code == "" {
			return fmt.Errorf("daemon returned %s", resp.Status)
		}
		return fmt.Errorf("%s: %s", errResp.Error.Code, errResp.Error.Message)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode daemon response: %w", err)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func shortJobID(jobID string) string {
	jobID = strings.TrimSpace(jobID)
	if len(jobID) <= 12 {
		return jobID
	}
	return jobID[:12]
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func formatExitCode(code *int) string {
	if code == nil {
		return "-"
	}
	return strconv.Itoa(*code)
}

func dashIfEmpty(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

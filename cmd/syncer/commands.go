package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"doc_syncer/internal/api"
	"doc_syncer/internal/domain"
	"doc_syncer/internal/storage/filestore"
)

const shutdownTimeout = 30 * time.Second

var runMode string

var runCmd = &cobra.Command{
	Use:   "run <source|all>",
	Short: "Run a one-off sync for a source and wait for it to finish",
	Args:  cobra.ExactArgs(1),
	RunE:  runRun,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and the recurring scheduler",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var statusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show a recorded job",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Show aggregate job and source counters",
	Args:  cobra.NoArgs,
	RunE:  runDashboard,
}

var exportOut string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the job history as JSON",
	Args:  cobra.NoArgs,
	RunE:  runExport,
}

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List configured sources and their schedules",
	Args:  cobra.NoArgs,
	RunE:  runSources,
}

func init() {
	runCmd.Flags().StringVar(&runMode, "mode", string(domain.ModeIncremental), "sync mode: incremental or full")
	exportCmd.Flags().StringVar(&exportOut, "out", "", "output file (default job_history_<timestamp>.json)")
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
}

func runRun(cmd *cobra.Command, args []string) error {
	mode, err := domain.ParseRunMode(runMode)
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	var submitted []domain.Job
	if args[0] == "all" {
		submitted, err = a.orch.SubmitAll(mode, domain.TriggerManual)
	} else {
		var job domain.Job
		job, err = a.orch.Submit(args[0], mode, domain.TriggerManual, nil)
		submitted = append(submitted, job)
	}
	if err != nil {
		return err
	}

	if err := a.orch.Drain(ctx); err != nil {
		logger.Warn("interrupted, cancelling jobs", "error", err)
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := a.orch.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
	}

	finished := make([]domain.Job, 0, len(submitted))
	for _, job := range submitted {
		status, err := a.orch.Status(job.ID)
		if err != nil {
			return err
		}
		finished = append(finished, status)
	}

	if err := printJSON(cmd.OutOrStdout(), finished); err != nil {
		return err
	}
	return jobsOutcome(finished)
}

// jobsOutcome folds finished jobs into a single error carrying the exit code.
// The first failed job decides the code; partial failure only applies when
// every job completed.
func jobsOutcome(jobs []domain.Job) error {
	code := exitOK
	var failed []string
	for _, job := range jobs {
		switch {
		case job.State == domain.JobFailed:
			if len(failed) == 0 {
				code = exitError
				if fetchFailed(job) {
					code = exitFetchFailure
				}
			}
			failed = append(failed, job.ID)
		case job.Errors > 0 && code == exitOK:
			code = exitPartialFailure
		}
	}

	switch {
	case code == exitOK:
		return nil
	case len(failed) > 0:
		return withCode(code, fmt.Errorf("jobs failed: %s", strings.Join(failed, ", ")))
	default:
		return withCode(code, errors.New("some artifacts failed"))
	}
}

func fetchFailed(job domain.Job) bool {
	for _, msg := range job.ErrorMessages {
		if strings.HasPrefix(msg, domain.ErrFetch.Error()) {
			return true
		}
	}
	return false
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext(cmd)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	server := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: api.NewAppHandler(api.AppDeps{
			Jobs:        a.orch,
			Metrics:     a.metrics.Handler(),
			Logger:      logger,
			BaseContext: ctx,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.Agent.AutoScheduleEnabled() {
		a.orch.StartScheduler(ctx)
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting http server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gCtx), shutdownTimeout)
		defer cancel()

		var errs []error
		if err := server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if err := a.orch.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("orchestrator shutdown: %w", err))
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	job, err := a.orch.Status(args[0])
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), job)
}

func runDashboard(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	return printJSON(cmd.OutOrStdout(), a.orch.Dashboard())
}

func runExport(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	export := a.orch.ExportHistory()
	out := exportOut
	if out == "" {
		out = fmt.Sprintf("job_history_%s.json", export.ExportTimestamp.Format("20060102_150405"))
	}
	if err := filestore.WriteJSON(out, export); err != nil {
		return fmt.Errorf("write export: %w", err)
	}

	logger.Info("history exported", "path", out, "jobs", len(export.Jobs))
	fmt.Fprintln(cmd.OutOrStdout(), out)
	return nil
}

func runSources(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	return printJSON(cmd.OutOrStdout(), a.orch.Dashboard().Sources)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

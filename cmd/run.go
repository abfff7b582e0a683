package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobboard-crawler/internal/crawler"
	"github.com/JakeFAU/jobboard-crawler/internal/export"
	"github.com/JakeFAU/jobboard-crawler/internal/server"
)

type runOptions struct {
	format  string
	output  string
	poll    time.Duration
	timeout time.Duration
	grace   time.Duration
}

// newRunCmd crawls one listing and writes the dataset.
func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run <seed-url>",
		Short: "Crawl a single listing page and write the dataset",
		Long: `Crawls the listing at <seed-url>, visits each discovered role page and
writes the extracted records to --output (stdout by default). On interrupt the
job is canceled cooperatively and whatever was extracted is still written.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd, root, opts, args[0])
		},
	}
	cmd.Flags().StringVar(&opts.format, "format", "csv", "dataset format: csv or json")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "write the dataset to this file instead of stdout")
	cmd.Flags().DurationVar(&opts.poll, "poll", 250*time.Millisecond, "job status poll interval")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "cancel the job after this long (0 waits indefinitely)")
	cmd.Flags().DurationVar(&opts.grace, "grace", 30*time.Second, "how long to wait for a canceled job to wind down")
	return cmd
}

func runOnce(cmd *cobra.Command, root *rootOptions, opts *runOptions, seedURL string) error {
	format, err := export.ParseFormat(opts.format)
	if err != nil {
		return err
	}
	cfg, logger, err := root.load()
	if err != nil {
		return err
	}
	defer syncLogger(logger)

	ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	waitCtx := ctx
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	app, err := server.Build(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build app: %w", err)
	}
	workersCtx, stopWorkers := context.WithCancel(context.WithoutCancel(ctx))
	defer stopWorkers()
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), opts.grace)
		defer cancel()
		if closeErr := app.Close(closeCtx); closeErr != nil {
			logger.Warn("shutdown failed", zap.Error(closeErr))
		}
	}()
	app.StartWorkers(workersCtx)

	svc := app.Service()
	jobID, err := svc.SubmitJob(ctx, seedURL)
	if err != nil {
		return fmt.Errorf("submit job: %w", err)
	}
	logger.Info("job started", zap.String("job_id", jobID), zap.String("seed_url", seedURL))

	job, err := svc.WaitJob(waitCtx, jobID, opts.poll)
	if err != nil {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("wait job: %w", err)
		}
		logger.Warn("canceling job", zap.String("job_id", jobID), zap.Error(err))
		if cancelErr := svc.CancelJob(jobID); cancelErr != nil {
			return fmt.Errorf("cancel job: %w", cancelErr)
		}
		graceCtx, cancel := context.WithTimeout(context.Background(), opts.grace)
		defer cancel()
		job, err = svc.WaitJob(graceCtx, jobID, opts.poll)
		if err != nil {
			return fmt.Errorf("wait for canceled job: %w", err)
		}
	}

	logger.Info("job finished",
		zap.String("job_id", jobID),
		zap.String("status", string(job.Status)),
		zap.Int("records", len(job.Records)),
		zap.Int("page_errors", len(job.PageErrors)),
		zap.String("reason", job.Reason),
	)
	if job.Status == crawler.JobStatusFailed {
		return fmt.Errorf("job %s failed: %s", jobID, job.Reason)
	}
	return writeDataset(cmd.OutOrStdout(), opts.output, format, job)
}

func writeDataset(stdout io.Writer, path string, format export.Format, job crawler.Job) (err error) {
	if path == "" {
		return export.Write(stdout, format, job)
	}
	f, err := os.Create(path) // #nosec G304 -- output path is chosen by the operator.
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close output: %w", closeErr)
		}
	}()
	return export.Write(f, format, job)
}

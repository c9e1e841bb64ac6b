package handlers

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"bireport/internal/clustering"
	"bireport/internal/core"
	"bireport/internal/metrics"
	"bireport/internal/pipeline"
	"bireport/internal/sources"

	"github.com/spf13/cobra"
)

type runFlags struct {
	sources      []string
	maxTopics    int
	minTopicSize int
	strategy     string
	workers      int
	noDeliver    bool
}

// NewRunCmd creates the run command
func NewRunCmd() *cobra.Command {
	var f runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline once and write the report",
		Long: `Run extracts every configured source, clusters the documents into topics,
summarizes them and writes the HTML report.

Sources default to the configured Drive folder, link document, local
directory and URL list. Override them with --source extractor=ref.

Examples:
  bireport run
  bireport run --source local=./q3 --source urls=https://example.com/post
  bireport run --max-topics 6 --strategy louvain --no-deliver`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd.Context(), f)
		},
	}

	cmd.Flags().StringArrayVarP(&f.sources, "source", "s", nil, "source as extractor=ref (repeatable)")
	cmd.Flags().IntVar(&f.maxTopics, "max-topics", 0, "maximum number of topics (default from config)")
	cmd.Flags().IntVar(&f.minTopicSize, "min-topic-size", 0, "minimum documents per topic (default from config)")
	cmd.Flags().StringVar(&f.strategy, "strategy", "", "clustering strategy: kmeans or louvain")
	cmd.Flags().IntVar(&f.workers, "workers", 0, "parallel workers (default from config)")
	cmd.Flags().BoolVar(&f.noDeliver, "no-deliver", false, "skip rendering and uploading the report")

	return cmd
}

func runOnce(ctx context.Context, f runFlags) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	b := pipeline.NewBuilder(cfg).WithMetrics(metrics.New())
	if f.noDeliver {
		b = b.WithoutDelivery()
	}
	app, err := b.Build(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	opts, err := applyRunFlags(app.Options, f)
	if err != nil {
		return err
	}

	sel := app.DefaultSelector()
	if len(f.sources) > 0 {
		if sel, err = sources.ParseSelector(f.sources); err != nil {
			return err
		}
	}
	if err := app.Sources.Validate(sel); err != nil {
		return err
	}

	// An interrupt cancels the run at the next stage boundary.
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	notice := context.AfterFunc(ctx, func() {
		fmt.Fprintln(os.Stderr, warnStyle.Render("Cancelling after the current stage..."))
	})

	fmt.Fprintln(os.Stderr, titleStyle.Render(fmt.Sprintf("Running %d source(s)...", len(sel.Sources))))
	result, err := app.Orchestrator.Run(ctx, sel, opts)
	notice()
	if err != nil {
		printStatus(os.Stderr, app.Orchestrator.Status())
		return fmt.Errorf("run failed (%s): %w", core.Kind(err), err)
	}

	printResult(os.Stdout, result)
	return nil
}

func applyRunFlags(opts pipeline.Options, f runFlags) (pipeline.Options, error) {
	if f.maxTopics > 0 {
		opts.MaxTopics = f.maxTopics
	}
	if f.minTopicSize > 0 {
		opts.MinTopicSize = f.minTopicSize
	}
	if f.workers > 0 {
		opts.Workers = f.workers
	}
	if f.strategy != "" {
		strategy, err := clustering.ParseStrategy(f.strategy)
		if err != nil {
			return opts, err
		}
		opts.Strategy = strategy
	}
	if f.noDeliver {
		opts.Deliver = false
	}
	return opts, nil
}

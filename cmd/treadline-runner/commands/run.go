package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/treadline-ai/treadline/cmd/treadline-runner/ui"
	"github.com/treadline-ai/treadline/internal/auth"
	"github.com/treadline-ai/treadline/internal/cache"
	"github.com/treadline-ai/treadline/internal/catalog"
	"github.com/treadline-ai/treadline/internal/config"
	"github.com/treadline-ai/treadline/internal/engine"
	"github.com/treadline-ai/treadline/internal/genai"
	"github.com/treadline-ai/treadline/internal/observability"
	"github.com/treadline-ai/treadline/internal/prompt"
	"github.com/treadline-ai/treadline/internal/recommend"
	"github.com/treadline-ai/treadline/internal/runner"
	"github.com/treadline-ai/treadline/pkg/client"
)

var (
	runRunlist   string
	runTotal     int
	runBatchSize int
	runOutputDir string
	runInProcess bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute a full production run",
	Long: `Run loads the priority runlist, submits CAM batches to the engine,
retries failed CAMs once under a separate run ID, and writes the results
CSV, the staging CSV, and the cost report to the output directory.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runRunlist, "runlist", "", "priority runlist CSV (overrides config)")
	runCmd.Flags().IntVar(&runTotal, "total", 0, "cap on CAMs to process (overrides config)")
	runCmd.Flags().IntVar(&runBatchSize, "batch-size", 0, "CAMs per batch (overrides config)")
	runCmd.Flags().StringVar(&runOutputDir, "output", "", "artifact output directory (overrides config)")
	runCmd.Flags().BoolVar(&runInProcess, "in-process", false, "run the engine in process instead of calling a deployment")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyRunFlags(cfg)

	ui.InitUI(noColor, verbose)
	logger := newLogger(cfg)

	// Interrupts cancel between batches; results for CAMs already
	// processed are lost, the status file records the abort.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engineDesc := cfg.Runner.BaseURL
	if runInProcess {
		engineDesc = fmt.Sprintf("in-process (%s warehouse)", cfg.Warehouse.Driver)
	}

	ui.Section("Production run")
	ui.KeyValue("Runlist", cfg.Runner.RunlistPath)
	ui.KeyValue("Output", cfg.Runner.OutputDir)
	ui.KeyValue("Engine", engineDesc)
	ui.Verbose("auth mode %s, batch size %d, request timeout %s",
		cfg.Auth.Mode, cfg.Runner.BatchSize, cfg.Runner.RequestTimeout)
	ui.Newline()

	r, cleanup, err := buildRunner(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	var bar *ui.ProgressBar
	r.OnProgress = func(p runner.Progress) {
		if bar == nil {
			bar = ui.NewProgressBar(int64(p.Total), "Processing")
		}
		bar.SetTotal(int64(p.Total))
		bar.Set(int64(p.Processed))
	}

	start := time.Now()
	summary, err := r.Run(ctx)
	if err != nil {
		if bar != nil {
			ui.Newline()
		}
		return fmt.Errorf("run failed: %w", err)
	}
	if bar != nil {
		bar.Finish()
	}

	ui.Newline()
	ui.Success("Run %s finished in %s", summary.RunID, ui.FormatDuration(time.Since(start)))
	if summary.Failed > 0 {
		ui.Warning("%d of %d CAMs failed; failed rows carry their error code in the results CSV",
			summary.Failed, summary.Attempted)
	}
	ui.Newline()
	ui.Table([]string{"Metric", "Value"}, [][]string{
		{"CAMs attempted", fmt.Sprintf("%d", summary.Attempted)},
		{"CAMs succeeded", fmt.Sprintf("%d", summary.Succeeded)},
		{"CAMs failed", fmt.Sprintf("%d", summary.Failed)},
		{"Prompt tokens", fmt.Sprintf("%d", summary.Usage.PromptTokens)},
		{"Completion tokens", fmt.Sprintf("%d", summary.Usage.CompletionTokens)},
		{"Estimated cost", fmt.Sprintf("£%.5f", summary.CostGBP)},
		{"Results", summary.ResultsFile},
		{"Staging", summary.StagingFile},
	})
	return nil
}

func applyRunFlags(cfg *config.Config) {
	if runRunlist != "" {
		cfg.Runner.RunlistPath = runRunlist
	}
	if runTotal > 0 {
		cfg.Runner.Total = runTotal
	}
	if runBatchSize > 0 {
		cfg.Runner.BatchSize = runBatchSize
	}
	if runOutputDir != "" {
		cfg.Runner.OutputDir = runOutputDir
	}
}

// buildRunner assembles the transport behind the runner: an in-process
// engine when --in-process is set, the HTTP client against a deployment
// otherwise. The cleanup func releases whatever the transport opened.
func buildRunner(cfg *config.Config, logger *observability.Logger) (*runner.Runner, func(), error) {
	if runInProcess {
		warehouse, err := catalog.OpenWarehouse(cfg.Warehouse, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("Warehouse unavailable, serving candidates from mirror only")
			warehouse = nil
		}
		mirror := catalog.NewMirror(cfg.Warehouse.MirrorPath, logger)
		// A memory cache is enough for one run: the retry pass hits it,
		// later runs rebuild it.
		store := catalog.NewStore(warehouse, mirror, cache.NewMemoryClient(cfg.Cache.MaxEntries), cfg.Cache.TTL, logger)

		builder, err := prompt.NewBuilder()
		if err != nil {
			_ = store.Close()
			return nil, nil, fmt.Errorf("load prompt templates: %w", err)
		}

		identity := auth.NewIdentityProvider(cfg.Auth, logger)
		model := genai.NewClient(cfg.Model, identity, logger)
		worker := recommend.NewWorker(store, builder, model, cfg.Engine.CAMDeadline, logger)
		eng := engine.NewEngine(store, worker, cfg.Engine, logger)

		r := runner.New(cfg.Runner, "local", runner.NewEngineCaller(eng), nil, logger)
		return r, func() { _ = store.Close() }, nil
	}

	identity := auth.NewIdentityProvider(cfg.Auth, logger)
	broker, err := auth.NewBroker(cfg.Runner.BaseURL, cfg.Auth, identity, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("build auth broker: %w", err)
	}

	sdk, err := client.NewClient(client.ClientConfig{
		BaseURL:        cfg.Runner.BaseURL,
		HTTPClient:     broker.Client(),
		Authorize:      broker.Authorize,
		RequestTimeout: cfg.Runner.RequestTimeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("build api client: %w", err)
	}

	r := runner.New(cfg.Runner, cfg.Auth.Mode, runner.NewHTTPCaller(sdk), broker, logger)
	return r, func() {}, nil
}

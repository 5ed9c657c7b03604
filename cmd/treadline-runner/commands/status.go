package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/treadline-ai/treadline/cmd/treadline-runner/ui"
	"github.com/treadline-ai/treadline/internal/auth"
	"github.com/treadline-ai/treadline/internal/config"
	"github.com/treadline-ai/treadline/internal/observability"
	"github.com/treadline-ai/treadline/internal/status"
	"github.com/treadline-ai/treadline/pkg/client"
)

// statusProbeTimeout caps the engine diagnostics round trip.
const statusProbeTimeout = 10 * time.Second

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the last run and engine diagnostics",
	Long: `Status reads the job status file from the output directory and probes
the deployment's engine status endpoint.`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	ui.InitUI(noColor, verbose)
	logger := newLogger(cfg)

	ui.Section("Last run")
	snap, err := status.ReadSnapshot(cfg.Runner.OutputDir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		ui.Info("No run recorded under %s", cfg.Runner.OutputDir)
	case err != nil:
		return fmt.Errorf("read run status: %w", err)
	default:
		ui.Table([]string{"Field", "Value"}, snapshotRows(snap))
	}

	ui.Section("Engine")
	probeEngine(cfg, logger)
	return nil
}

func snapshotRows(snap *status.Snapshot) [][]string {
	rows := [][]string{
		{"State", snap.State},
		{"Run ID", snap.RunID},
		{"Attempted", fmt.Sprintf("%d", snap.Progress.Attempted)},
		{"Succeeded", fmt.Sprintf("%d", snap.Progress.Succeeded)},
		{"Failed", fmt.Sprintf("%d", snap.Progress.Failed)},
	}
	if snap.StartedAt != nil {
		rows = append(rows, []string{"Started", snap.StartedAt.Format(time.RFC3339)})
	}
	if snap.EndedAt != nil {
		rows = append(rows, []string{"Ended", snap.EndedAt.Format(time.RFC3339)})
	}
	if snap.LastLogLine != "" {
		rows = append(rows, []string{"Last activity", snap.LastLogLine})
	}
	if snap.OutputFile != nil {
		rows = append(rows, []string{"Output", *snap.OutputFile})
	}
	if snap.ErrorSummary != nil {
		rows = append(rows, []string{"Error", *snap.ErrorSummary})
	}
	if snap.Report != nil {
		rows = append(rows, []string{"Estimated cost", fmt.Sprintf("£%.5f", snap.Report.EstimatedCostGBP)})
	}
	return rows
}

// probeEngine prints engine diagnostics, or the reason they could not
// be fetched. An unreachable engine does not fail the command since the
// local run status above is still useful offline.
func probeEngine(cfg *config.Config, logger *observability.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), statusProbeTimeout)
	defer cancel()

	spin := ui.NewSpinner(fmt.Sprintf("Checking %s", cfg.Runner.BaseURL))
	spin.Start()

	st, err := fetchEngineStatus(ctx, cfg, logger)
	spin.Stop()
	if err != nil {
		ui.Error("Engine unreachable: %v", err)
		return
	}

	ui.Table([]string{"Field", "Value"}, [][]string{
		{"Status", st.Status},
		{"Version", st.Version},
		{"Mode", st.Mode},
		{"Started", st.StartedAt.Format(time.RFC3339)},
		{"Uptime", ui.FormatDuration(time.Duration(st.UptimeSeconds) * time.Second)},
		{"Max batch CAMs", fmt.Sprintf("%d", st.MaxBatchCAMs)},
		{"Max workers", fmt.Sprintf("%d", st.MaxWorkers)},
	})
}

// fetchEngineStatus logs in first because the status endpoint sits
// behind the session guard on cloud deployments.
func fetchEngineStatus(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*client.EngineStatus, error) {
	identity := auth.NewIdentityProvider(cfg.Auth, logger)
	broker, err := auth.NewBroker(cfg.Runner.BaseURL, cfg.Auth, identity, logger)
	if err != nil {
		return nil, err
	}
	if err := broker.Login(ctx); err != nil {
		return nil, err
	}

	sdk, err := client.NewClient(client.ClientConfig{
		BaseURL:        cfg.Runner.BaseURL,
		HTTPClient:     broker.Client(),
		Authorize:      broker.Authorize,
		RequestTimeout: statusProbeTimeout,
	})
	if err != nil {
		return nil, err
	}
	return sdk.EngineStatus(ctx)
}

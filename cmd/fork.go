package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/dinbutler/obox/internal/config"
	"github.com/dinbutler/obox/internal/forklog"
	"github.com/dinbutler/obox/internal/orchestrator"
	"github.com/dinbutler/obox/internal/providers"
	"github.com/dinbutler/obox/internal/sandbox"
	"github.com/dinbutler/obox/internal/store"
	"github.com/dinbutler/obox/internal/tracing"
)

var (
	forkNum      int
	forkModel    string
	forkMaxTurns int
	forkWorkers  int
	forkRoots    []string
	forkWorkDir  string
	forkOutput   string
	forkNoStore  bool
)

var forkCmd = &cobra.Command{
	Use:   "fork [prompt]",
	Short: "Run the same prompt across N parallel agent forks",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runFork,
}

func init() {
	forkCmd.Flags().IntVarP(&forkNum, "forks", "n", 0, "number of parallel forks (default from config)")
	forkCmd.Flags().StringVarP(&forkModel, "model", "m", "", "model name or alias: sonnet, opus, haiku")
	forkCmd.Flags().IntVar(&forkMaxTurns, "max-turns", 0, "per-fork turn limit")
	forkCmd.Flags().IntVar(&forkWorkers, "workers", 0, "worker pool size")
	forkCmd.Flags().StringSliceVar(&forkRoots, "root", nil, "explicit sandbox root per fork (repeatable, count must match --forks)")
	forkCmd.Flags().StringVar(&forkWorkDir, "work-dir", "", "base directory for generated fork roots")
	forkCmd.Flags().StringVarP(&forkOutput, "output", "o", "table", "output format: table, json")
	forkCmd.Flags().BoolVar(&forkNoStore, "no-store", false, "skip recording the run in the runs database")
	rootCmd.AddCommand(forkCmd)
}

func runFork(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := setupLogger(cfg)
	ctx := cmd.Context()

	prompt := ""
	if len(args) > 0 {
		prompt = args[0]
	}
	if strings.TrimSpace(prompt) == "" {
		if err := promptForTask(&prompt); err != nil {
			return err
		}
	}
	if strings.TrimSpace(prompt) == "" {
		return fmt.Errorf("prompt must not be empty")
	}

	// Flags override config.
	if forkNum > 0 {
		cfg.NumForks = forkNum
	}
	if forkModel != "" {
		cfg.Model = forkModel
	}
	if forkMaxTurns > 0 {
		cfg.MaxTurns = forkMaxTurns
	}
	if forkWorkers > 0 {
		cfg.MaxWorkers = forkWorkers
	}
	if forkWorkDir != "" {
		cfg.WorkDir = forkWorkDir
	}

	tp, err := tracing.Setup(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer tp.Shutdown(context.Background())

	provider, err := buildProvider(cfg)
	if err != nil {
		return err
	}

	logs, err := forklog.NewManager(cfg.Logs.Dir, cfg.LogLevel())
	if err != nil {
		return err
	}
	defer logs.CloseAll()

	sandboxes := sandbox.NewManager(cfg.Sandbox)
	defer func() {
		sandboxes.Stop()
		sandboxes.ReleaseAll(context.Background())
	}()

	var runs *store.Store
	var runRec *store.RunRecord
	if !forkNoStore {
		runs, err = openStore(ctx, cfg.DBPath)
		if err != nil {
			return err
		}
		defer runs.Close()

		runRec = &store.RunRecord{
			Prompt:   prompt,
			Model:    cfg.Model,
			NumForks: cfg.NumForks,
			MaxTurns: cfg.MaxTurns,
		}
		if err := runs.CreateRun(ctx, runRec); err != nil {
			return err
		}
		logger.Info("run recorded", "run_id", runRec.ID)
	}

	orch := orchestrator.New(provider, cfg.Pricing, cfg.Policy, logs, sandboxes, logger)
	started := time.Now()
	results, err := orch.RunForks(ctx, orchestrator.Options{
		Prompt:       prompt,
		NumForks:     cfg.NumForks,
		Model:        cfg.Model,
		MaxTurns:     cfg.MaxTurns,
		SandboxRoots: forkRoots,
		WorkDir:      cfg.WorkDir,
		MaxWorkers:   cfg.MaxWorkers,
	})
	if err != nil {
		return err
	}

	if runs != nil {
		if err := runs.FinishRun(context.Background(), runRec.ID, results); err != nil {
			logger.Warn("failed to record results", "error", err)
		}
	}

	if forkOutput == "json" {
		return printJSON(os.Stdout, struct {
			Results   []orchestrator.ForkResult `json:"results"`
			Aggregate orchestrator.Aggregate    `json:"aggregate"`
		}{results, orchestrator.AggregateResults(results)})
	}

	printResultsTable(os.Stdout, results, time.Since(started))
	agg := orchestrator.AggregateResults(results)
	if agg.Failed > 0 {
		return fmt.Errorf("%d of %d forks failed", agg.Failed, agg.Total)
	}
	return nil
}

// promptForTask collects the task interactively when none was given on
// the command line.
func promptForTask(prompt *string) error {
	form := huh.NewForm(huh.NewGroup(
		huh.NewText().
			Title("Task").
			Description("What should each fork work on?").
			Value(prompt),
	))
	return form.Run()
}

// buildProvider assembles the chat client: Anthropic API, wrapped with
// retries, wrapped with run-wide rate limiting when configured.
func buildProvider(cfg *config.Config) (providers.Provider, error) {
	key, err := resolveAPIKey(cfg)
	if err != nil {
		return nil, err
	}

	var opts []providers.AnthropicOption
	if cfg.Provider.BaseURL != "" {
		opts = append(opts, providers.WithBaseURL(cfg.Provider.BaseURL))
	}
	var p providers.Provider = providers.NewAnthropic(key, opts...)

	p = providers.NewRetrying(p,
		cfg.Provider.RetryAttempts,
		time.Duration(cfg.Provider.RetryDelaySec)*time.Second,
		nil)

	if cfg.Provider.RateLimitRPS > 0 {
		p = providers.NewRateLimited(p, cfg.Provider.RateLimitRPS, 1)
	}
	return p, nil
}

func printJSON(w *os.File, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printResultsTable renders the per-fork summary. Response previews are
// width-aware so CJK output does not break the columns.
func printResultsTable(w *os.File, results []orchestrator.ForkResult, elapsed time.Duration) {
	const previewWidth = 48

	fmt.Fprintf(w, "%-6s %-8s %-24s %6s %6s %7s %9s  %s\n",
		"FORK", "OK", "STATUS", "TURNS", "TOOLS", "TOKENS", "COST", "RESPONSE")
	for _, r := range results {
		ok := "yes"
		if !r.Success {
			ok = "no"
		}
		preview := r.FinalResponse
		if r.Error != "" {
			preview = "error: " + r.Error
		}
		preview = strings.ReplaceAll(preview, "\n", " ")
		preview = runewidth.Truncate(preview, previewWidth, "...")

		fmt.Fprintf(w, "%-6d %-8s %-24s %6d %6d %7d %9s  %s\n",
			r.ForkID, ok, string(r.Status), r.Turns, r.ToolCalls, r.TotalTokens,
			fmt.Sprintf("$%.4f", r.TotalCost), preview)
	}

	agg := orchestrator.AggregateResults(results)
	if elapsed > 0 {
		fmt.Fprintf(w, "\n%d/%d forks succeeded in %s  (%d tokens, $%.4f)\n",
			agg.Successful, agg.Total, elapsed.Round(time.Millisecond),
			agg.TotalTokens, agg.TotalCost)
	} else {
		fmt.Fprintf(w, "\n%d/%d forks succeeded  (%d tokens, $%.4f)\n",
			agg.Successful, agg.Total, agg.TotalTokens, agg.TotalCost)
	}
}

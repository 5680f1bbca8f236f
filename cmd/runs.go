package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/dinbutler/obox/internal/store"
)

var (
	runsLimit  int
	runsOutput string
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect recorded runs",
}

// openStore opens the run database and verifies it is reachable before
// any query runs against it.
func openStore(ctx context.Context, path string) (*store.Store, error) {
	s, err := store.Open(path)
	if err != nil {
		return nil, err
	}
	if err := s.Ping(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("run database unavailable: %w", err)
	}
	return s, nil
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		s, err := openStore(cmd.Context(), cfg.DBPath)
		if err != nil {
			return err
		}
		defer s.Close()

		runs, err := s.ListRuns(cmd.Context(), runsLimit)
		if err != nil {
			return err
		}
		if runsOutput == "json" {
			return printJSON(os.Stdout, runs)
		}
		if len(runs) == 0 {
			fmt.Println("No runs recorded")
			return nil
		}

		const promptWidth = 40
		fmt.Printf("%-36s %-20s %-8s %6s %5s/%-5s %7s %9s  %s\n",
			"RUN", "STARTED", "MODEL", "FORKS", "OK", "FAIL", "TOKENS", "COST", "PROMPT")
		for _, r := range runs {
			fmt.Printf("%-36s %-20s %-8s %6d %5d/%-5d %7d %9s  %s\n",
				r.ID, r.StartedAt.Local().Format("2006-01-02 15:04:05"),
				r.Model, r.NumForks, r.Successful, r.Failed, r.TotalTokens,
				fmt.Sprintf("$%.4f", r.TotalCost),
				runewidth.Truncate(r.Prompt, promptWidth, "..."))
		}
		return nil
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one run with its per-fork results",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid run id: %w", err)
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		s, err := openStore(cmd.Context(), cfg.DBPath)
		if err != nil {
			return err
		}
		defer s.Close()

		run, err := s.GetRun(cmd.Context(), id)
		if err != nil {
			return err
		}
		results, err := s.ForkResults(cmd.Context(), id)
		if err != nil {
			return err
		}

		if runsOutput == "json" {
			return printJSON(os.Stdout, struct {
				Run     *store.RunRecord `json:"run"`
				Results interface{}      `json:"results"`
			}{run, results})
		}

		fmt.Printf("Run:      %s\n", run.ID)
		fmt.Printf("Started:  %s\n", run.StartedAt.Local().Format(time.RFC3339))
		if run.FinishedAt != nil {
			fmt.Printf("Finished: %s\n", run.FinishedAt.Local().Format(time.RFC3339))
		}
		fmt.Printf("Model:    %s\n", run.Model)
		fmt.Printf("Forks:    %d (%d ok, %d failed)\n", run.NumForks, run.Successful, run.Failed)
		fmt.Printf("Tokens:   %d ($%.4f)\n", run.TotalTokens, run.TotalCost)
		fmt.Printf("Prompt:   %s\n\n", run.Prompt)

		printResultsTable(os.Stdout, results, 0)
		return nil
	},
}

var runsDeleteCmd = &cobra.Command{
	Use:   "delete <run-id>",
	Short: "Delete a run and its fork results",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid run id: %w", err)
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		s, err := openStore(cmd.Context(), cfg.DBPath)
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.DeleteRun(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Println("Deleted", id)
		return nil
	},
}

func init() {
	runsCmd.PersistentFlags().StringVarP(&runsOutput, "output", "o", "table", "output format: table, json")
	runsListCmd.Flags().IntVar(&runsLimit, "limit", 20, "maximum runs to list")
	runsCmd.AddCommand(runsListCmd, runsShowCmd, runsDeleteCmd)
	rootCmd.AddCommand(runsCmd)
}

package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"cronhost/internal/app"
	"cronhost/internal/storage"
)

func newRunsCmd() *cobra.Command {
	var (
		limit   int
		asJSON  bool
		onlyBad bool
	)
	cmd := &cobra.Command{
		Use:   "runs [job]",
		Short: "List recent runs from the journal",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("config %s: %w", flagConfig, err)
			}
			st, err := app.OpenJournal(cfg, logger)
			if errors.Is(err, storage.ErrDisabled) {
				return errors.New("no run journal configured (storage.driver)")
			}
			if err != nil {
				return fmt.Errorf("open journal: %w", err)
			}
			defer st.Close()

			job := ""
			if len(args) == 1 {
				job = args[0]
			}
			runs, err := st.RecentRuns(cmd.Context(), job, limit)
			if err != nil {
				return fmt.Errorf("read journal: %w", err)
			}
			if onlyBad {
				kept := runs[:0]
				for _, r := range runs {
					if !r.OK {
						kept = append(kept, r)
					}
				}
				runs = kept
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(runs)
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs found.")
				return nil
			}

			fmt.Fprintf(out, "%-36s  %-20s  %-9s  %-25s  %-10s  %s\n", "RUN", "JOB", "KIND", "STARTED", "DURATION", "RESULT")
			fmt.Fprintf(out, "%-36s  %-20s  %-9s  %-25s  %-10s  %s\n", "---", "---", "----", "-------", "--------", "------")
			for _, r := range runs {
				result := "ok"
				if !r.OK {
					result = "failed: " + r.Error
				}
				fmt.Fprintf(out, "%-36s  %-20s  %-9s  %-25s  %-10s  %s\n",
					r.ID, r.Job, r.Kind, r.Started.Format(time.RFC3339), r.Duration.Round(time.Millisecond), result)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum runs to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	cmd.Flags().BoolVar(&onlyBad, "failed", false, "only failed runs")
	return cmd
}

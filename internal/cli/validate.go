package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"cronhost/internal/builtin"
	"cronhost/internal/cronexpr"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the config and show when each job runs next",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("config %s: %w", flagConfig, err)
			}
			loc, err := cfg.Host.Location()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config OK: %s\n", flagConfig)
			fmt.Fprintf(out, "  Host:     %s (%s, failure mode %s)\n", cfg.Host.Name, loc, cfg.Host.Mode())

			jobs := cfg.Enabled()
			if len(jobs) == 0 {
				fmt.Fprintln(out, "No jobs enabled.")
				return nil
			}

			now := time.Now().In(loc)
			fmt.Fprintf(out, "%-20s  %-10s  %-10s  %-16s  %s\n", "JOB", "TYPE", "KIND", "SCHEDULE", "NEXT")
			fmt.Fprintf(out, "%-20s  %-10s  %-10s  %-16s  %s\n", "---", "----", "----", "--------", "----")
			for _, jc := range jobs {
				bj, err := builtin.FromConfig(jc, logger)
				if err != nil {
					return err
				}
				kind, sched, next := "basic", "-", "at start"
				if bj.Recurring() {
					kind, sched = "recurring", bj.Schedule
					s, err := cronexpr.ParseInLocation(bj.Schedule, loc)
					if err != nil {
						return fmt.Errorf("jobs[%s].schedule: %w", bj.Name, err)
					}
					if t, err := s.Next(now); err != nil {
						next = "never"
					} else {
						next = t.Format(time.RFC3339)
					}
				}
				fmt.Fprintf(out, "%-20s  %-10s  %-10s  %-16s  %s\n", bj.Name, jc.Type, kind, sched, next)
			}
			return nil
		},
	}
}

package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"cronhost/internal/cronexpr"
)

func newNextCmd() *cobra.Command {
	var (
		count int
		from  string
		tz    string
	)
	cmd := &cobra.Command{
		Use:   "next <expr>",
		Short: "Print the next occurrences of a cron expression",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if count < 1 {
				return errors.New("--count must be >= 1")
			}
			loc := time.Local
			if tz != "" {
				l, err := time.LoadLocation(tz)
				if err != nil {
					return fmt.Errorf("--tz: %w", err)
				}
				loc = l
			}
			t := time.Now()
			if from != "" {
				v, err := time.Parse(time.RFC3339, from)
				if err != nil {
					return fmt.Errorf("--from: %w", err)
				}
				t = v
			}

			s, err := cronexpr.ParseInLocation(args[0], loc)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for i := 0; i < count; i++ {
				t, err = s.Next(t)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, t.Format(time.RFC3339))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 5, "number of occurrences")
	cmd.Flags().StringVar(&from, "from", "", "start time, RFC3339 (default now)")
	cmd.Flags().StringVar(&tz, "tz", "", "IANA time zone (default local)")
	return cmd
}

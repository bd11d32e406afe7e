package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"cronhost/internal/app"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the job host until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.New(flagConfig)
			if err != nil {
				return err
			}
			if err := a.Start(ctx); err != nil {
				return errors.Join(fmt.Errorf("start: %w", err), a.Stop(context.Background(), app.StopFatalError))
			}

			reason := app.StopSignal
			select {
			case <-ctx.Done():
			case <-a.Failed():
				reason = app.StopJobFailure
			}
			// A second signal while draining kills the process.
			stop()

			err = a.Stop(context.Background(), reason)
			if ferr := a.Err(); ferr != nil {
				return errors.Join(ferr, err)
			}
			return err
		},
	}
}

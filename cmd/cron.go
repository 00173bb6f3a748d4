package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newCronCmd runs the full pipeline on the configured schedule until
// interrupted.
func newCronCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cron",
		Short: "Run the full pipeline on a schedule",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			scheduler := cron.New()
			_, err = scheduler.AddFunc(a.Config.Cron.Schedule, func() {
				summaries, err := a.RunAll(ctx)
				for _, summary := range summaries {
					logSummary(a.Logger, summary)
				}
				if err != nil {
					a.Logger.Error("scheduled run failed", zap.Error(err))
				}
			})
			if err != nil {
				return fmt.Errorf("invalid cron schedule %q: %w", a.Config.Cron.Schedule, err)
			}

			a.Logger.Info("scheduler started", zap.String("schedule", a.Config.Cron.Schedule))
			scheduler.Start()
			<-ctx.Done()

			a.Logger.Info("scheduler stopping")
			<-scheduler.Stop().Done()
			return nil
		},
	}
}

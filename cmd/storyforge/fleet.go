package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/taibuivan/storyforge/internal/factory"
	"github.com/taibuivan/storyforge/internal/scheduler"
)

var fleetCmd = &cobra.Command{
	Use:   "fleet",
	Short: "Run the cross-project claim loop and the Publisher ticker until stopped",
	Long: `fleet is the long-running control-plane process: it claims work items
across every project's queue (bounded by --max-workers) and, concurrently,
sweeps due publishes on the Publisher's own ticker. Both loops run until
the process receives a shutdown signal.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		logger := newLogger()

		configFile, err := resolveConfigFile(logger)
		if err != nil {
			return err
		}

		f, err := factory.New(ctx, factory.Options{ConfigFile: configFile, RedisURL: redisURL, WorkerName: "storyforge-fleet"}, logger)
		if err != nil {
			return fmt.Errorf("build factory: %w", err)
		}
		defer f.Close()

		f.ConfigMgr.WatchConfig()

		done := make(chan struct{})
		go func() {
			defer close(done)
			f.Publisher.Run(ctx)
		}()

		logger.Info("fleet starting", "max_workers", f.FleetConfig().MaxWorkers)
		scheduler.RunFleet(ctx, f.Worker.Name, f.Gateway, f.Scheduler, f.FleetConfig(), logger)
		<-done
		return nil
	},
}

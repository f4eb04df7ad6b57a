package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/taibuivan/storyforge/internal/factory"
)

var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Run one manual Publisher sweep",
	Long: `tick claims every due publish item (up to the Publisher's claim limit)
and attempts to release each, once, then exits. Intended for a cron-driven
deployment that doesn't want the Publisher's own ticker loop running
inside a long-lived process.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		logger := newLogger()

		configFile, err := resolveConfigFile(logger)
		if err != nil {
			return err
		}

		f, err := factory.New(ctx, factory.Options{ConfigFile: configFile, RedisURL: redisURL}, logger)
		if err != nil {
			return fmt.Errorf("build factory: %w", err)
		}
		defer f.Close()

		result, err := f.Publisher.TickPublisher(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("claimed=%d published=%d failed=%d requeued=%d\n",
			result.Claimed, result.Published, result.Failed, result.Requeued)
		return nil
	},
}

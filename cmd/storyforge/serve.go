package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/taibuivan/storyforge/internal/api"
	"github.com/taibuivan/storyforge/internal/factory"
)

var (
	serveAddr     string
	serveAuthKey  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the control-plane HTTP API",
	Long: `serve starts the HTTP control-plane adapter: health/ready checks plus
per-project status/run/pause/resume/stop and a manual publisher tick.

It does not itself run the fleet claim loop; pair it with a separate
"storyforge fleet" process, or drive individual projects through the API's
/run endpoint.`,
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
		f.ConfigMgr.WatchConfig()

		srv := api.New(f, api.Config{Addr: serveAddr, OperatorAuth: serveAuthKey}, logger)
		return srv.Start(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "127.0.0.1:8080", "HTTP listen address")
	serveCmd.Flags().StringVar(&serveAuthKey, "auth-secret", "", "HMAC secret for control-plane bearer tokens (empty disables auth)")
	rootCmd.AddCommand(serveCmd)
}

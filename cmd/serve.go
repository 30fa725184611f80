package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/pyama86/autoheal/handler"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the event ingestion server, the anomaly analyzer and the stall sweeper",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		app, err := handler.NewApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer app.Close()
		return app.Serve(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

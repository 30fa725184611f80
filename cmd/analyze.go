package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/pyama86/autoheal/domain/entity"
	"github.com/pyama86/autoheal/domain/repository"
	"github.com/pyama86/autoheal/handler"
	"github.com/spf13/cobra"
)

var (
	analyzeSource string
	analyzeFile   string
	analyzeWindow time.Duration
)

func findSource(cfg *repository.Config, name string) (entity.MonitoredSource, error) {
	for _, s := range cfg.Analyzer.Sources {
		if s.Name == name {
			return s, nil
		}
	}
	return entity.MonitoredSource{}, fmt.Errorf("source %s is not configured", name)
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run one anomaly detection cycle for a source",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		src := entity.MonitoredSource{Name: analyzeSource, Path: analyzeFile}
		if analyzeFile == "" {
			src, err = findSource(cfg, analyzeSource)
			if err != nil {
				return err
			}
		}

		app, err := handler.NewApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer app.Close()

		until := time.Now()
		lines, err := repository.NewFileLogRepository().Lines(ctx, src, until.Add(-analyzeWindow), until)
		if err != nil {
			return err
		}
		result, err := app.Analyzer.RunCycle(ctx, src.Name, lines, fmt.Sprintf("%s@%d", src.Name, until.Unix()))
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(handler.NewCycleResponse(result))
	},
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeSource, "source", "", "monitored source name")
	analyzeCmd.Flags().StringVar(&analyzeFile, "file", "", "read this log file instead of the configured path")
	analyzeCmd.Flags().DurationVar(&analyzeWindow, "window", 5*time.Minute, "how far back to read")
	_ = analyzeCmd.MarkFlagRequired("source")
	rootCmd.AddCommand(analyzeCmd)
}

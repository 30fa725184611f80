package cmd

import (
	"log/slog"
	"os"
	"path"

	"github.com/pyama86/autoheal/domain/repository"
	"github.com/spf13/cobra"
)

var (
	configPath string
)

var rootCmd = &cobra.Command{
	Use:           "autoheal",
	Short:         "autoheal triages infrastructure events and dispatches recovery",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// デフォルトはホームディレクトリのautoheal.toml
	home, err := os.UserHomeDir()
	if err != nil {
		slog.Error("Failed to get user home directory", slog.Any("error", err))
		os.Exit(1)
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", path.Join(home, "autoheal.toml"), "config file path")
}

// loadConfig は設定を読み込み、ロガーを差し替える。ファイルが無ければデフォルト値で起動する
func loadConfig() (*repository.Config, error) {
	p := configPath
	if _, err := os.Stat(p); err != nil {
		slog.Warn("config file not found, using defaults", slog.String("path", p))
		p = ""
	}
	cfg, err := repository.NewConfigRepository(p)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(NewLogger(cfg.Logging.Level, cfg.Logging.JSON))
	return cfg, nil
}

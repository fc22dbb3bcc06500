package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/odvcencio/tether/pkg/session"
)

var (
	flagRepo   string
	flagConfig string
)

func main() {
	root := &cobra.Command{
		Use:   "tether",
		Short: "Session layer over a version-control object store",
	}
	root.PersistentFlags().StringVarP(&flagRepo, "repo", "r", ".", "repository directory")
	root.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "TOML config file")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newInitCmd())
	root.AddCommand(newShowCmd())
	root.AddCommand(newNewCommitCmd())
	root.AddCommand(newParentsCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("tether 0.1.0-dev")
		},
	}
}

// loadConfig reads the --config file when given, falling back to defaults.
func loadConfig() (session.Config, error) {
	if flagConfig == "" {
		return session.DefaultConfig(), nil
	}
	return session.LoadConfig(flagConfig)
}

// newLogger builds a tinted slog logger at the configured level.
func newLogger(cfg session.Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	}))
}

// openSession opens the repository at --repo with the configured options.
func openSession() (*session.Session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return session.Open(flagRepo, session.WithConfig(cfg), session.WithLogger(newLogger(cfg)))
}

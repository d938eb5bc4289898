package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/slateroom/slateroom/internal/agent"
	"github.com/slateroom/slateroom/internal/application/config"
	"github.com/slateroom/slateroom/internal/application/constant"
	"github.com/slateroom/slateroom/internal/store"
	"github.com/slateroom/slateroom/internal/store/postgres"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run a headless session participant",
	Run: func(cmd *cobra.Command, args []string) {
		runAgent()
	},
}

func init() {
	rootCmd.AddCommand(agentCmd)
}

func runAgent() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	slog.SetDefault(
		slog.New(
			slog.NewJSONHandler(
				os.Stdout,
				&slog.HandlerOptions{Level: slog.LevelInfo},
			),
		),
	)

	cfg, err := config.New()
	if err != nil {
		slog.Error("parse config", slog.Any(constant.Error, err))
		os.Exit(1)
	}

	var st store.Store
	if cfg.Postgres.URL != "" {
		dbConn, err := postgres.NewPostgres(ctx, cfg.Postgres.DSN())
		if err != nil {
			slog.Error("connect to postgres", slog.Any(constant.Error, err))
			os.Exit(1)
		}
		defer dbConn.Close()

		st = postgres.New(dbConn)
	} else {
		st = store.NewMemory()
	}

	a, err := agent.New(ctx, cfg, st)
	if err != nil {
		slog.Error("build agent", slog.Any(constant.Error, err))
		os.Exit(1)
	}

	if err := a.Run(ctx); err != nil && ctx.Err() == nil {
		slog.Error("agent stopped", slog.Any(constant.Error, err))
		os.Exit(1)
	}
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/yungbote/storyforge-backend/internal/app"
	"github.com/yungbote/storyforge-backend/internal/platform/envutil"
	"github.com/yungbote/storyforge-backend/internal/platform/logger"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var envFile string

	cmd := &cobra.Command{
		Use:           "storyforge",
		Short:         "Storyboard generation backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// a missing .env is normal outside local development
			if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("load %s: %w", envFile, err)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRole(cmd.Context(), app.RoleServe)
		},
	}
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Dotenv file loaded before reading configuration")

	cmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and run generation in-process",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRole(cmd.Context(), app.RoleServe)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "worker",
		Short: "Run generation tasks without the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRole(cmd.Context(), app.RoleWorker)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := newLogger()
			if err != nil {
				return err
			}
			defer log.Sync()
			return app.Migrate(log)
		},
	})
	return cmd
}

func newLogger() (*logger.Logger, error) {
	log, err := logger.New(envutil.String("LOG_MODE", "development"))
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return log, nil
}

func runRole(parent context.Context, role app.Role) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log, err := newLogger()
	if err != nil {
		return err
	}

	a, err := app.New(ctx, log)
	if err != nil {
		log.Error("Startup failed", "error", err)
		log.Sync()
		return err
	}
	defer a.Close()

	log.Info("Storyforge starting", "role", string(role))
	if err := a.Run(ctx, role); err != nil {
		log.Error("Exited with error", "role", string(role), "error", err)
		return err
	}
	log.Info("Shutdown complete", "role", string(role))
	return nil
}

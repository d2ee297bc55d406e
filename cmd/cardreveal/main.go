package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/contribuicha/cardreveal/internal/app"
	"github.com/contribuicha/cardreveal/internal/config"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	if errEnv := godotenv.Load(); errEnv != nil && !os.IsNotExist(errEnv) {
		log.WithError(errEnv).Warn("load .env")
	}

	var appCfg config.AppConfig
	rootCmd := &cobra.Command{
		Use:           "cardreveal",
		Short:         "Card reservation, unlock codes and payment reconciliation for gift events",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&appCfg.ConfigPath, "config", "", "path to config.yaml (default $CARDREVEAL_CONFIG or ./config.yaml)")

	rootCmd.AddCommand(serveCmd(&appCfg))
	rootCmd.AddCommand(migrateCmd(&appCfg))
	rootCmd.AddCommand(reconcileCmd(&appCfg))
	rootCmd.AddCommand(hostTokenCmd(&appCfg))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func serveCmd(appCfg *config.AppConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the background reconciler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.RunServer(cmd.Context(), *appCfg)
		},
	}
}

func migrateCmd(appCfg *config.AppConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.Migrate(cmd.Context(), *appCfg)
		},
	}
}

func reconcileCmd(appCfg *config.AppConfig) *cobra.Command {
	var window time.Duration
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Reconcile pending payments against the gateway once",
		RunE: func(cmd *cobra.Command, args []string) error {
			summary, err := app.ReconcileOnce(cmd.Context(), *appCfg, window)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "checked=%d payments_updated=%d cards_updated=%d failed=%d payouts=%d\n",
				summary.Checked, summary.PaymentsUpdated, summary.CardsUpdated, summary.Failed, summary.Payouts)
			return nil
		},
	}
	cmd.Flags().DurationVar(&window, "window", 0, "look-back window for pending payments (default from RECONCILE_WINDOW_HOURS)")
	return cmd
}

func hostTokenCmd(appCfg *config.AppConfig) *cobra.Command {
	var hostID string
	cmd := &cobra.Command{
		Use:   "host-token",
		Short: "Sign a bearer token for the host API",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := app.HostToken(*appCfg, hostID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&hostID, "host-id", "", "host identifier (uuid)")
	_ = cmd.MarkFlagRequired("host-id")
	return cmd
}

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aretw0/wabaflow/internal/cli"
	"github.com/aretw0/wabaflow/internal/config"
	"github.com/spf13/cobra"
)

var (
	v   = config.New()
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "wabaflow",
	Short: "wabaflow runs WhatsApp conversational flows for many tenants",
	Long: `wabaflow executes tenant-authored conversation flows against inbound WhatsApp messages,
persists every conversation and hands conversations to human agents when the flow says so.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("config")
		loaded, err := config.Load(v, file)
		if err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "Config file (default: ./wabaflow.yaml or ./config/wabaflow.yaml)")
	flags.String("log-level", "info", "Log level: debug, info, warn or error")
	flags.String("driver", config.DriverSQLite, "Database driver: memory, sqlite or postgres")
	flags.String("dsn", "./dev.db", "Database DSN")
	flags.String("redis", "", "Redis address; enables shared locks and the Redis queue")

	// Flags override the config file only when set explicitly.
	_ = v.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = v.BindPFlag("database.driver", flags.Lookup("driver"))
	_ = v.BindPFlag("database.dsn", flags.Lookup("dsn"))
	_ = v.BindPFlag("redis.addr", flags.Lookup("redis"))
}

// openApp builds the application for a command. The caller closes it.
func openApp(ctx context.Context) (*cli.App, error) {
	return cli.NewApp(ctx, cfg, cli.NewLogger(cfg))
}

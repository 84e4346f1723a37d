package main

import (
	"context"

	"github.com/aretw0/wabaflow/internal/cli"
	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Process queued inbound events",
	Long: `Consumes the inbound queue and runs each event through the engine.
Run several workers against the same Redis to scale out; per-participant locks keep turns ordered.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sc := cli.NewSignalContext(context.Background())
		defer sc.Cancel()

		app, err := openApp(sc)
		if err != nil {
			return err
		}
		defer app.Close()
		if !cfg.RedisEnabled() {
			app.Logger.Warn("No redis configured; this worker only sees its own in-memory queue")
		}

		w, err := app.NewWorker(sc)
		if err != nil {
			return err
		}
		return cli.IgnoreShutdown(w.Run(sc))
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
	workerCmd.Flags().Int("concurrency", 4, "Deliveries processed in parallel")
	_ = v.BindPFlag("worker.concurrency", workerCmd.Flags().Lookup("concurrency"))
}

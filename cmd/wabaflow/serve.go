package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/aretw0/wabaflow/internal/cli"
	httpAdapter "github.com/aretw0/wabaflow/pkg/adapters/http"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and webhook receiver",
	Long: `Starts the HTTP server: the WhatsApp webhook, the operator inbox API and /metrics.
Unless --no-worker is given, a queue worker runs in the same process.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		noWorker, _ := cmd.Flags().GetBool("no-worker")

		sc := cli.NewSignalContext(context.Background())
		defer sc.Cancel()

		app, err := openApp(sc)
		if err != nil {
			return err
		}
		defer app.Close()
		logger := app.Logger

		handler, err := httpAdapter.NewHandler(app.Engine, app.Queue,
			httpAdapter.WithMetrics(app.Metrics.Handler()),
			httpAdapter.WithLogger(logger),
			httpAdapter.WithVerifyToken(cfg.HTTP.VerifyToken),
			httpAdapter.WithMaxInputSize(cfg.Input.MaxSize),
		)
		if err != nil {
			return err
		}
		srv := &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}

		workerDone := make(chan error, 1)
		if noWorker {
			workerDone <- nil
		} else {
			w, err := app.NewWorker(sc)
			if err != nil {
				return err
			}
			go func() { workerDone <- w.Run(sc) }()
		}

		serverErrors := make(chan error, 1)
		go func() {
			logger.Info("Starting HTTP server", "addr", srv.Addr, "driver", cfg.Database.Driver, "worker", !noWorker)
			serverErrors <- srv.ListenAndServe()
		}()

		select {
		case err := <-serverErrors:
			sc.Cancel()
			return err
		case <-sc.Done():
			logger.Info("Shutting down", "signal", sc.Signal())
		}

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("Graceful shutdown did not complete", "timeout", shutdownTimeout, "err", err)
			_ = srv.Close()
		}
		if err := <-serverErrors; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		if err := cli.IgnoreShutdown(<-workerDone); err != nil {
			return err
		}
		logger.Info("Server stopped gracefully")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", ":8080", "Address to listen on")
	serveCmd.Flags().String("verify-token", "", "Token expected by the webhook verification handshake")
	serveCmd.Flags().Bool("no-worker", false, "Only accept events; leave processing to 'wabaflow worker'")
	_ = v.BindPFlag("http.addr", serveCmd.Flags().Lookup("addr"))
	_ = v.BindPFlag("http.verify_token", serveCmd.Flags().Lookup("verify-token"))
}

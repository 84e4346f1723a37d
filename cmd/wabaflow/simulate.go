package main

import (
	"context"
	"os"
	"strings"

	"github.com/aretw0/wabaflow"
	"github.com/aretw0/wabaflow/internal/cli"
	"github.com/aretw0/wabaflow/internal/presentation/tui"
	"github.com/aretw0/wabaflow/pkg/runner"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Chat with a tenant's active flow from the terminal",
	Long: `Plays the participant side of a conversation: every line typed is handled as an
inbound WhatsApp message and the flow's replies are printed. Events bypass the queue.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		tenantID, _ := cmd.Flags().GetInt64("tenant")
		from, _ := cmd.Flags().GetString("from")

		sc := cli.NewSignalContext(context.Background())
		defer sc.Cancel()

		app, err := openApp(sc)
		if err != nil {
			return err
		}
		defer app.Close()

		tenant, err := app.Store.GetTenant(sc, tenantID)
		if err != nil {
			return err
		}

		opts := []runner.ConsoleOption{runner.WithConsoleMaxInputSize(cfg.Input.MaxSize)}
		if term.IsTerminal(int(os.Stdout.Fd())) {
			tui.PrintBanner(os.Stdout, strings.TrimSpace(wabaflow.Version))
			if render, err := tui.NewRenderer(); err == nil {
				opts = append(opts, runner.WithRenderer(render))
			} else {
				app.Logger.Debug("Markdown rendering disabled", "err", err)
			}
		}

		cmd.Printf("Chatting with %q as %s. Ctrl+D to quit.\n", tenant.Name, from)
		console := runner.NewConsole(app.Engine, tenant.ID, from, os.Stdin, os.Stdout, opts...)
		return console.Run(sc)
	},
}

func init() {
	rootCmd.AddCommand(simulateCmd)
	simulateCmd.Flags().Int64("tenant", 0, "Tenant ID")
	simulateCmd.Flags().String("from", "+5500000000000", "Participant phone number")
	_ = simulateCmd.MarkFlagRequired("tenant")
}

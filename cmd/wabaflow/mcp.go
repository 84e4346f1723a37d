package main

import (
	"context"
	"log"
	"os"

	"github.com/aretw0/wabaflow/pkg/adapters/mcp"
	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the Model Context Protocol (MCP) server over stdio",
	Long: `Exposes the engine to AI agents as MCP tools (simulate_inbound, list_conversations,
get_transcript, assign_conversation, publish_flow) and resources (tenants and their active flows).
Stdout carries JSON-RPC; logs go to Stderr.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp(context.Background())
		if err != nil {
			return err
		}
		defer app.Close()

		log.SetOutput(os.Stderr)
		srv := mcp.NewServer(app.Engine, mcp.WithMaxInputSize(cfg.Input.MaxSize))
		app.Logger.Info("Starting MCP server (stdio)", "driver", cfg.Database.Driver)
		if err := srv.ServeStdio(); err != nil {
			app.Logger.Error("MCP server execution failed", "err", err)
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/aretw0/wabaflow/internal/cli"
	"github.com/aretw0/wabaflow/internal/compiler"
	"github.com/aretw0/wabaflow/internal/presentation/graph"
	"github.com/aretw0/wabaflow/internal/validator"
	"github.com/aretw0/wabaflow/pkg/domain"
	"github.com/spf13/cobra"
)

var flowCmd = &cobra.Command{
	Use:   "flow",
	Short: "Manage tenant flows",
}

var flowPublishCmd = &cobra.Command{
	Use:   "publish <file>",
	Short: "Store a flow document (YAML or JSON) as a new version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tenantID, _ := cmd.Flags().GetInt64("tenant")
		draft, _ := cmd.Flags().GetBool("draft")

		flow, err := compiler.NewParser().ParseFile(args[0])
		if err != nil {
			return err
		}

		ctx := context.Background()
		app, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer app.Close()

		if _, err := app.Store.GetTenant(ctx, tenantID); err != nil {
			return err
		}
		flow.TenantID = tenantID
		if draft {
			flow.Status = domain.FlowStatusDraft
		}
		if err := app.Engine.PublishFlow(ctx, flow); err != nil {
			return err
		}

		cmd.Printf("Stored %q as version %d (%s), flow id %d\n", flow.Name, flow.Version, flow.Status, flow.ID)
		cli.PrintIssues(cmd.ErrOrStderr(), validator.ValidateGraph(flow.Definition))
		return nil
	},
}

var flowListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the flow versions of a tenant",
	RunE: func(cmd *cobra.Command, args []string) error {
		tenantID, _ := cmd.Flags().GetInt64("tenant")

		ctx := context.Background()
		app, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer app.Close()

		flows, err := app.Store.ListFlows(ctx, tenantID)
		if err != nil {
			return err
		}
		var activeID int64
		active, err := app.Store.ActiveFlow(ctx, tenantID)
		switch {
		case err == nil:
			activeID = active.ID
		case !errors.Is(err, domain.ErrNoActiveFlow):
			return err
		}
		return cli.PrintFlows(cmd.OutOrStdout(), flows, activeID)
	},
}

var flowGraphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Print a flow as a Mermaid diagram",
	Long: `Prints the active flow of a tenant (or the version given by --flow) as a Mermaid graph.
With --conversation, the node the conversation is parked at is highlighted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		tenantID, _ := cmd.Flags().GetInt64("tenant")
		flowID, _ := cmd.Flags().GetInt64("flow")
		convID, _ := cmd.Flags().GetInt64("conversation")

		ctx := context.Background()
		app, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer app.Close()

		var overlay *graph.GraphOverlay
		if convID > 0 {
			conv, err := app.Store.GetConversation(ctx, convID)
			if err != nil {
				return err
			}
			if tenantID == 0 {
				tenantID = conv.TenantID
			}
			overlay = &graph.GraphOverlay{CurrentNode: conv.CurrentNode, State: conv.State}
		}

		var flow *domain.Flow
		if flowID > 0 {
			flow, err = app.Store.GetFlow(ctx, flowID)
		} else if tenantID > 0 {
			flow, err = app.Store.ActiveFlow(ctx, tenantID)
		} else {
			return fmt.Errorf("one of --tenant, --flow or --conversation is required")
		}
		if err != nil {
			return err
		}

		fmt.Fprint(cmd.OutOrStdout(), graph.GenerateMermaid(flow.Definition, overlay))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(flowCmd)
	flowCmd.AddCommand(flowPublishCmd, flowListCmd, flowGraphCmd)

	flowPublishCmd.Flags().Int64("tenant", 0, "Tenant ID")
	flowPublishCmd.Flags().Bool("draft", false, "Store as draft instead of publishing")
	_ = flowPublishCmd.MarkFlagRequired("tenant")

	flowListCmd.Flags().Int64("tenant", 0, "Tenant ID")
	_ = flowListCmd.MarkFlagRequired("tenant")

	flowGraphCmd.Flags().Int64("tenant", 0, "Tenant ID (uses its active flow)")
	flowGraphCmd.Flags().Int64("flow", 0, "Flow ID")
	flowGraphCmd.Flags().Int64("conversation", 0, "Highlight the position of this conversation")
}

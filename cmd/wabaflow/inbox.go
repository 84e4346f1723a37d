package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/aretw0/wabaflow/internal/cli"
	"github.com/aretw0/wabaflow/internal/presentation/tui"
	"github.com/aretw0/wabaflow/pkg/domain"
	"github.com/aretw0/wabaflow/pkg/runner"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"inbox"},
	Short:   "List conversations, most recently updated first",
	RunE: func(cmd *cobra.Command, args []string) error {
		tenantID, _ := cmd.Flags().GetInt64("tenant")
		state, _ := cmd.Flags().GetString("state")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := domain.ConversationFilter{TenantID: tenantID, Limit: limit}
		if state != "" {
			s := domain.ConversationState(state)
			if !s.Valid() {
				return fmt.Errorf("unknown state %q", state)
			}
			filter.State = s
		}

		ctx := context.Background()
		app, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer app.Close()

		convs, err := app.Engine.Conversations(ctx, filter)
		if err != nil {
			return err
		}
		profile := termenv.NewOutput(cmd.OutOrStdout()).ColorProfile()
		return cli.PrintConversations(cmd.OutOrStdout(), profile, convs)
	},
}

var transcriptCmd = &cobra.Command{
	Use:   "transcript <conversation-id>",
	Short: "Show the messages of a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}

		ctx := context.Background()
		app, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer app.Close()

		t, err := app.Engine.Transcript(ctx, id)
		if err != nil {
			return err
		}
		md := tui.TranscriptMarkdown(t.Conversation, t.Messages)
		if term.IsTerminal(int(os.Stdout.Fd())) {
			if render, err := tui.NewRenderer(); err == nil {
				if out, err := render(md); err == nil {
					md = out
				}
			}
		}
		fmt.Fprint(cmd.OutOrStdout(), md)
		return nil
	},
}

var assignCmd = &cobra.Command{
	Use:   "assign <conversation-id> <agent>",
	Short: "Hand a conversation to a human agent",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}

		ctx := context.Background()
		app, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer app.Close()

		conv, err := app.Engine.Assign(ctx, id, args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Conversation %d assigned to %s (%s)\n", conv.ID, conv.AssignedAgent, conv.State)
		return nil
	},
}

var replyCmd = &cobra.Command{
	Use:   "reply <conversation-id> <text>",
	Short: "Record an agent reply in a conversation",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		text, err := runner.SanitizeInput(args[1], cfg.Input.MaxSize)
		if err != nil {
			return err
		}
		if text == "" {
			return fmt.Errorf("reply must not be empty")
		}

		ctx := context.Background()
		app, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer app.Close()

		msg, err := app.Engine.Reply(ctx, id, text)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Message %d recorded\n", msg.ID)
		return nil
	},
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func init() {
	rootCmd.AddCommand(conversationsCmd, transcriptCmd, assignCmd, replyCmd)
	conversationsCmd.Flags().Int64("tenant", 0, "Only conversations of this tenant")
	conversationsCmd.Flags().String("state", "", "Only conversations in this state (automated, waiting_for_user, escalated, closed)")
	conversationsCmd.Flags().Int("limit", 50, "Maximum number of rows")
}

package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/aretw0/wabaflow/internal/presentation/tui"
	"github.com/aretw0/wabaflow/internal/validator"
	"github.com/aretw0/wabaflow/pkg/domain"
	"github.com/muesli/termenv"
)

const timeLayout = "2006-01-02 15:04"

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

// PrintTenants writes one row per tenant.
func PrintTenants(w io.Writer, tenants []domain.Tenant) error {
	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tNAME\tCREATED")
	for _, t := range tenants {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", t.ID, t.Name, t.CreatedAt.Local().Format(timeLayout))
	}
	return tw.Flush()
}

// PrintFlows writes one row per flow version. The active one is starred.
func PrintFlows(w io.Writer, flows []domain.Flow, activeID int64) error {
	tw := newTable(w)
	fmt.Fprintln(tw, "\tID\tVERSION\tNAME\tSTATUS\tNODES\tCREATED")
	for _, f := range flows {
		mark := ""
		if f.ID == activeID {
			mark = "*"
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\t%d\t%s\n",
			mark, f.ID, f.Version, f.Name, f.Status, len(f.Definition.Nodes), f.CreatedAt.Local().Format(timeLayout))
	}
	return tw.Flush()
}

// PrintConversations writes the inbox. States are colored for profile p.
func PrintConversations(w io.Writer, p termenv.Profile, convs []domain.Conversation) error {
	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tTENANT\tPARTICIPANT\tSTATE\tNODE\tAGENT\tUPDATED")
	for _, c := range convs {
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\t%s\t%s\n",
			c.ID, c.TenantID, c.Participant, tui.StateLabel(p, c.State),
			orDash(c.CurrentNode), orDash(c.AssignedAgent), since(c.UpdatedAt))
	}
	return tw.Flush()
}

// PrintIssues lists graph warnings, one per line.
func PrintIssues(w io.Writer, issues []validator.Issue) {
	for _, issue := range issues {
		fmt.Fprintf(w, "warning: %s\n", issue)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func since(t time.Time) string {
	d := time.Since(t).Round(time.Second)
	if d < time.Minute {
		return "just now"
	}
	if d < 24*time.Hour {
		return d.Truncate(time.Minute).String() + " ago"
	}
	return t.Local().Format(timeLayout)
}

package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"StarkSession/internal/session"
)

// SessionsOptions holds flags for the sessions command.
type SessionsOptions struct {
	Limit      int
	Page       int
	ActiveOnly bool
	Ascending  bool
}

// NewSessionsCommand creates the sessions command.
func NewSessionsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SessionsOptions{}

	cmd := &cobra.Command{
		Use:           "sessions",
		Short:         "List stored session credentials",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: run(rootOpts, func(ctx context.Context, a *app, args []string) error {
			return listSessions(ctx, a, opts)
		}),
	}

	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "page size")
	cmd.Flags().IntVar(&opts.Page, "page", 1, "page number, starting at 1")
	cmd.Flags().BoolVar(&opts.ActiveOnly, "active", false, "only show unexpired sessions")
	cmd.Flags().BoolVar(&opts.Ascending, "asc", false, "oldest first")

	return cmd
}

func listSessions(ctx context.Context, a *app, opts *SessionsOptions) error {
	listOpts := []session.ListOption{
		session.WithLimit(opts.Limit),
		session.WithPage(opts.Page),
	}
	if opts.ActiveOnly {
		listOpts = append(listOpts, session.WithActiveOnly())
	}
	if opts.Ascending {
		listOpts = append(listOpts, session.WithSortOrder(session.SortByCreatedAsc))
	}

	all, err := a.sessions.List(ctx, listOpts...)
	if err != nil {
		return err
	}

	summaries := make([]sessionSummary, 0, len(all))
	for _, creds := range all {
		summaries = append(summaries, credentialsSummary(creds))
	}

	if len(summaries) == 0 {
		a.formatter.Info("no stored sessions")
	}
	for _, summary := range summaries {
		state := "active"
		if !summary.Active {
			state = "expired"
		}
		a.formatter.Infof("%s  %s  %s  %s  expires %s",
			summary.KeyGUID,
			summary.AccountAddress,
			summary.Chain,
			state,
			time.Unix(summary.ExpiresAt, 0).Format(time.RFC3339),
		)
	}
	a.formatter.Success("sessions listed", summaries)
	return nil
}

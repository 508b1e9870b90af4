package cli

import (
	"context"

	"github.com/spf13/cobra"
)

// ClearOptions holds flags for the clear command.
type ClearOptions struct {
	All  bool
	Keys bool
}

// NewClearCommand creates the clear command.
func NewClearCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ClearOptions{}

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete stored session credentials",
		Long: `Delete the session stored for the current keypair. --all removes every
stored session, --keys additionally deletes the keypair itself. Clearing
is local; it does not revoke anything on the remote side.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: run(rootOpts, func(ctx context.Context, a *app, args []string) error {
			return clearState(ctx, a, opts)
		}),
	}

	cmd.Flags().BoolVar(&opts.All, "all", false, "delete all stored sessions")
	cmd.Flags().BoolVar(&opts.Keys, "keys", false, "also delete the session keypair")

	return cmd
}

func clearState(ctx context.Context, a *app, opts *ClearOptions) error {
	cleared := map[string]bool{}

	if opts.All {
		if err := a.sessions.ClearAll(ctx); err != nil {
			return err
		}
		cleared["sessions"] = true
		a.formatter.Info("all stored sessions deleted")
	} else if keypair, err := a.keys.Load(); err != nil {
		return err
	} else if keypair != nil {
		if err := a.sessions.Clear(ctx, keypair.GUID().String()); err != nil {
			return err
		}
		cleared["sessions"] = true
		a.formatter.Info("session for the current keypair deleted")
	} else {
		a.formatter.Info("no keypair, nothing to clear")
	}

	if opts.Keys {
		if err := a.keys.Clear(); err != nil {
			return err
		}
		cleared["keys"] = true
		a.formatter.Info("session keypair deleted")
	}

	a.formatter.Success("cleared", cleared)
	return nil
}

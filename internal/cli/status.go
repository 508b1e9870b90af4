package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"
)

// statusReport is the machine-readable status payload.
type statusReport struct {
	KeypairPresent bool            `json:"keypair_present"`
	PublicKey      string          `json:"public_key,omitempty"`
	KeyGUID        string          `json:"key_guid,omitempty"`
	Session        *sessionSummary `json:"session,omitempty"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Report keypair and session state",
		Long: `Report whether a session keypair exists and, if a session is stored for
it, the account it is bound to and when it expires. An expired session is
still reported; it just cannot be used for execution.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: run(rootOpts, func(ctx context.Context, a *app, args []string) error {
			return reportStatus(ctx, a)
		}),
	}
	return cmd
}

func reportStatus(ctx context.Context, a *app) error {
	report := statusReport{}

	keypair, err := a.keys.Load()
	if err != nil {
		return err
	}
	if keypair == nil {
		a.formatter.Info("no session keypair, run generate first")
		a.formatter.Success("status", report)
		return nil
	}

	report.KeypairPresent = true
	report.PublicKey = keypair.PublicKey.String()
	report.KeyGUID = keypair.GUID().String()
	a.formatter.Infof("public key: %s", report.PublicKey)
	a.formatter.Infof("key guid:   %s", report.KeyGUID)

	creds, err := a.sessions.Load(ctx, report.KeyGUID)
	if err != nil {
		return err
	}
	if creds == nil {
		a.formatter.Info("no session authorized for this keypair")
		a.formatter.Success("status", report)
		return nil
	}

	summary := credentialsSummary(creds)
	report.Session = &summary
	a.formatter.Infof("account:    %s", summary.AccountAddress)
	a.formatter.Infof("chain:      %s", summary.Chain)
	a.formatter.Infof("policy:     %d contracts, %d entrypoints", summary.Contracts, summary.Entrypoints)
	expires := time.Unix(creds.ExpiresAt, 0).Format(time.RFC3339)
	if summary.Active {
		a.formatter.Infof("expires:    %s", expires)
	} else {
		a.formatter.Infof("expired at: %s", expires)
	}
	if summary.PolicyDiverged {
		a.formatter.Info("note: the approved policy differs from the requested one")
	}
	a.formatter.Success("status", report)
	return nil
}

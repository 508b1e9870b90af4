package cli

import (
	"context"

	"github.com/spf13/cobra"
)

// GenerateOptions holds flags for the generate command.
type GenerateOptions struct {
	Overwrite bool
}

// NewGenerateCommand creates the generate command.
func NewGenerateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GenerateOptions{}

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a new session keypair",
		Long: `Generate a stark-curve session keypair and store it locally with
owner-only file permissions. The private key never leaves this machine.
An existing keypair is only replaced when --overwrite is given.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: run(rootOpts, func(ctx context.Context, a *app, args []string) error {
			return generateKeypair(a, opts)
		}),
	}

	cmd.Flags().BoolVar(&opts.Overwrite, "overwrite", false, "replace an existing keypair")

	return cmd
}

func generateKeypair(a *app, opts *GenerateOptions) error {
	keypair, err := a.keys.Generate(opts.Overwrite)
	if err != nil {
		return err
	}

	guid := keypair.GUID()
	a.formatter.Infof("public key: %s", keypair.PublicKey.String())
	a.formatter.Infof("key guid:   %s", guid.String())
	a.formatter.Success("session keypair generated", map[string]string{
		"public_key": keypair.PublicKey.String(),
		"key_guid":   guid.String(),
	})
	return nil
}

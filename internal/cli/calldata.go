package cli

import (
	"context"

	"github.com/spf13/cobra"

	"StarkSession/internal/calldata"
)

// NewCalldataCommand creates the calldata command.
func NewCalldataCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calldata <token> [token...]",
		Short: "Encode calldata tokens into felt values",
		Long: `Encode calldata tokens into the felt sequence a contract call expects.
Tokens accept hex or decimal felt literals, u256:<n> (expands to the low
and high 128-bit halves) and str:<text> (short strings up to 31 ASCII
characters).

Example:
  starksession calldata 0x123 u256:1000000000000000000 str:hello`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: run(rootOpts, func(ctx context.Context, a *app, args []string) error {
			return encodeCalldata(a, args)
		}),
	}
	return cmd
}

func encodeCalldata(a *app, tokens []string) error {
	encoded, err := calldata.Encode(tokens)
	if err != nil {
		return err
	}

	out := make([]string, 0, len(encoded))
	for _, value := range encoded {
		out = append(out, value.String())
		a.formatter.Info(value.String())
	}
	a.formatter.Success("calldata encoded", out)
	return nil
}

package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	xerrors "StarkSession/internal/errors"
	"StarkSession/internal/executor"
)

// ExecuteOptions holds flags for the execute command.
type ExecuteOptions struct {
	MulticallFile  string
	NoPaymaster    bool
	Wait           bool
	TimeoutSeconds int
}

// NewExecuteCommand creates the execute command.
func NewExecuteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExecuteOptions{}

	cmd := &cobra.Command{
		Use:   "execute <contract,entrypoint[,calldata...]> [more calls...]",
		Short: "Execute contract calls within the authorized session policy",
		Long: `Execute one or more contract calls under the active session. Every call
is checked against the authorized policy before anything is sent to the
network. Calldata tokens accept felt literals (hex or decimal), u256:<n>
for 256-bit integers and str:<text> for short strings.

Calls can also be loaded from a multicall JSON file via --file; all calls
end up in one transaction and succeed or revert together.

Example:
  starksession execute 0x49d...,transfer,0x123...,u256:500`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: run(rootOpts, func(ctx context.Context, a *app, args []string) error {
			return executeCalls(ctx, a, opts, args)
		}),
	}

	cmd.Flags().StringVar(&opts.MulticallFile, "file", "", "path to a multicall JSON file")
	cmd.Flags().BoolVar(&opts.NoPaymaster, "no-paymaster", false, "skip the paymaster and pay fees from the account")
	cmd.Flags().BoolVar(&opts.Wait, "wait", false, "block until the transaction is confirmed")
	cmd.Flags().IntVar(&opts.TimeoutSeconds, "timeout", 60, "confirmation wait budget in seconds")

	return cmd
}

func executeCalls(ctx context.Context, a *app, opts *ExecuteOptions, args []string) error {
	var inputs []executor.CallInput
	if opts.MulticallFile != "" {
		fileInputs, err := executor.ParseMulticallFile(opts.MulticallFile)
		if err != nil {
			return err
		}
		inputs = fileInputs
	}
	for _, raw := range args {
		input, err := executor.ParseCallInput(raw)
		if err != nil {
			return err
		}
		inputs = append(inputs, input)
	}
	if len(inputs) == 0 {
		return xerrors.New(xerrors.CodeInvalidInput, "没有提供任何调用",
			xerrors.WithHint("以参数形式传入调用，或使用 --file 指定批量调用文件"))
	}

	exec := executor.New(a.keys, a.sessions, nil)
	result, err := exec.Execute(ctx, inputs, executor.Options{
		NoPaymaster:         opts.NoPaymaster,
		Wait:                opts.Wait,
		ConfirmationTimeout: time.Duration(opts.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		return err
	}

	a.formatter.Infof("transaction hash: %s", result.TransactionHash.String())
	if result.UsedPaymaster {
		a.formatter.Infof("executed on %s via paymaster", result.ChainName)
	} else {
		a.formatter.Infof("executed on %s, fees paid by the account", result.ChainName)
	}
	if result.Receipt != nil {
		a.formatter.Info("transaction confirmed")
	}
	a.formatter.Success("execution submitted", result)
	return nil
}

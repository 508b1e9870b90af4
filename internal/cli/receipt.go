package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"StarkSession/internal/chain"
	xerrors "StarkSession/internal/errors"
	"StarkSession/internal/felt"
)

// ReceiptOptions holds flags for the receipt command.
type ReceiptOptions struct {
	RPCURL         string
	Wait           bool
	TimeoutSeconds int
}

// NewReceiptCommand creates the receipt command.
func NewReceiptCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReceiptOptions{}

	cmd := &cobra.Command{
		Use:           "receipt <transaction-hash>",
		Short:         "Fetch the receipt of a submitted transaction",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: run(rootOpts, func(ctx context.Context, a *app, args []string) error {
			return fetchReceipt(ctx, a, opts, args[0])
		}),
	}

	cmd.Flags().StringVar(&opts.RPCURL, "rpc-url", "", "RPC endpoint, defaults to the stored session's endpoint")
	cmd.Flags().BoolVar(&opts.Wait, "wait", false, "poll until the transaction is confirmed")
	cmd.Flags().IntVar(&opts.TimeoutSeconds, "timeout", 60, "confirmation wait budget in seconds")

	return cmd
}

func fetchReceipt(ctx context.Context, a *app, opts *ReceiptOptions, rawHash string) error {
	hash, err := felt.Parse(rawHash)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidInput, err, "交易哈希无效: "+rawHash)
	}

	rpcURL := opts.RPCURL
	if rpcURL == "" {
		rpcURL = a.cfg.Session.RPCURL
		if keypair, err := a.keys.Load(); err == nil && keypair != nil {
			if creds, err := a.sessions.Load(ctx, keypair.GUID().String()); err == nil && creds != nil {
				rpcURL = creds.RPCURL
			}
		}
	}

	client, err := chain.Dial(ctx, rpcURL)
	if err != nil {
		return err
	}
	defer client.Close()

	var receipt *chain.Receipt
	if opts.Wait {
		receipt, err = client.WaitForConfirmation(ctx, hash, time.Duration(opts.TimeoutSeconds)*time.Second)
		if err != nil {
			return err
		}
	} else {
		receipt, err = client.TransactionReceipt(ctx, hash)
		if err != nil {
			return err
		}
		if receipt == nil {
			return xerrors.New(xerrors.CodeTransactionFailed, "交易尚未被收录",
				xerrors.WithHint("使用 --wait 等待确认"))
		}
	}

	a.formatter.Infof("execution status: %s", receipt.ExecutionStatus)
	a.formatter.Infof("finality status:  %s", receipt.FinalityStatus)
	if receipt.RevertReason != "" {
		a.formatter.Infof("revert reason:    %s", receipt.RevertReason)
	}
	a.formatter.Success("receipt fetched", receipt)
	return nil
}

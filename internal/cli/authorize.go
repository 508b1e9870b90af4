package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"StarkSession/internal/api"
	"StarkSession/internal/chain"
	xerrors "StarkSession/internal/errors"
	"StarkSession/internal/felt"
	"StarkSession/internal/handshake"
	"StarkSession/internal/policy"
	"StarkSession/internal/session"
)

// AuthorizeOptions holds flags for the authorize command.
type AuthorizeOptions struct {
	PolicyFile     string
	Preset         string
	RPCURL         string
	ChainID        string
	TimeoutSeconds int
	Overwrite      bool
}

// NewAuthorizeCommand creates the authorize command.
func NewAuthorizeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AuthorizeOptions{}

	cmd := &cobra.Command{
		Use:   "authorize",
		Short: "Request owner authorization for the session keypair",
		Long: `Build an authorization request from a policy document, print the URL
the account owner must open in a browser, and poll until the owner
approves or the timeout budget is spent. Credentials are stored only
when the authorization completes.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: run(rootOpts, func(ctx context.Context, a *app, args []string) error {
			return authorizeSession(ctx, a, opts)
		}),
	}

	cmd.Flags().StringVar(&opts.PolicyFile, "file", "", "path to a local policy JSON file")
	cmd.Flags().StringVar(&opts.Preset, "preset", "", "name of a published policy preset")
	cmd.Flags().StringVar(&opts.RPCURL, "rpc-url", "", "RPC endpoint to bind the session to")
	cmd.Flags().StringVar(&opts.ChainID, "chain-id", "", "chain name (e.g. SN_SEPOLIA) resolved against the chain catalogue")
	cmd.Flags().IntVar(&opts.TimeoutSeconds, "timeout", 0, "authorization wait budget in seconds")
	cmd.Flags().BoolVar(&opts.Overwrite, "overwrite", false, "replace an active session whose policies differ")
	cmd.MarkFlagsMutuallyExclusive("file", "preset")
	cmd.MarkFlagsMutuallyExclusive("rpc-url", "chain-id")

	return cmd
}

func authorizeSession(ctx context.Context, a *app, opts *AuthorizeOptions) error {
	keypair, err := a.keys.Require()
	if err != nil {
		return err
	}

	rpcURL, chainName, err := resolveNetwork(ctx, a, opts)
	if err != nil {
		return err
	}

	doc, err := loadPolicy(ctx, a, opts, chainName)
	if err != nil {
		return err
	}

	// 已有活跃会话且策略一致时无需重新授权
	existing, err := a.sessions.Load(ctx, keypair.GUID().String())
	if err != nil {
		return err
	}
	if existing != nil && !existing.Expired(time.Now()) {
		if existing.PolicySnapshot.Equal(doc) {
			a.formatter.Infof("active session already covers this policy (expires %s)",
				time.Unix(existing.ExpiresAt, 0).Format(time.RFC3339))
			a.formatter.Success("session already authorized", credentialsSummary(existing))
			return nil
		}
		if !opts.Overwrite {
			return xerrors.New(xerrors.CodeInvalidInput, "已有策略不同的活跃会话",
				xerrors.WithHint("使用 --overwrite 替换当前会话"))
		}
	}

	request, err := handshake.BuildRequest(a.cfg.Session.KeychainURL, keypair.PublicKey, doc, rpcURL)
	if err != nil {
		return err
	}

	apiClient, err := api.NewClient(a.cfg.Session.APIURL, nil)
	if err != nil {
		return err
	}
	// 短链失败时直接展示原始地址
	if short, err := apiClient.ShortenURL(ctx, request.URL); err == nil {
		request.ShortURL = short
	}

	if chainName != "" {
		a.formatter.Infof("authorization URL (%s):", chainName)
	} else {
		a.formatter.Info("authorization URL:")
	}
	a.formatter.Infof("\n%s\n", request.DisplayURL())
	a.formatter.Info("open this URL in a browser to authorize the session, waiting...")

	budget := time.Duration(a.cfg.CLI.CallbackTimeoutSeconds) * time.Second
	if opts.TimeoutSeconds > 0 {
		budget = time.Duration(opts.TimeoutSeconds) * time.Second
	}

	h := handshake.New(apiClient, a.sessions, handshake.WithBudget(budget))
	creds, err := h.Await(ctx, request)
	if err != nil {
		return err
	}

	a.formatter.Infof("account: %s", creds.AccountAddress.String())
	a.formatter.Infof("chain:   %s", creds.ChainName())
	a.formatter.Infof("expires: %s", time.Unix(creds.ExpiresAt, 0).Format(time.RFC3339))
	if creds.PolicyDiverged {
		a.formatter.Info("note: the owner approved a different policy set than requested")
	}
	a.formatter.Success("session authorized", credentialsSummary(creds))
	return nil
}

// resolveNetwork 决定会话绑定的 RPC 端点，优先级:
// --chain-id > --rpc-url > 配置文件。链名未知时反查节点。
func resolveNetwork(ctx context.Context, a *app, opts *AuthorizeOptions) (rpcURL, chainName string, err error) {
	if opts.ChainID != "" {
		rpcURL, err = a.chains.ResolveRPCURL(opts.ChainID)
		if err != nil {
			return "", "", err
		}
		return rpcURL, opts.ChainID, nil
	}

	rpcURL = opts.RPCURL
	if rpcURL == "" {
		rpcURL = a.cfg.Session.RPCURL
	}

	client, err := chain.Dial(ctx, rpcURL)
	if err != nil {
		return "", "", err
	}
	defer client.Close()
	if id, err := client.ChainID(ctx); err == nil {
		if name, err := felt.DecodeShortString(id); err == nil {
			chainName = name
		}
	}
	return rpcURL, chainName, nil
}

// loadPolicy 从本地文件或远端预设加载策略文档。
func loadPolicy(ctx context.Context, a *app, opts *AuthorizeOptions, chainName string) (*policy.Document, error) {
	switch {
	case opts.PolicyFile != "":
		return policy.ParseFile(opts.PolicyFile)
	case opts.Preset != "":
		if chainName == "" {
			return nil, xerrors.New(xerrors.CodeInvalidInput, "使用 --preset 时无法确定链名",
				xerrors.WithHint("追加 --chain-id 指定目标链"))
		}
		resolver := policy.NewPresetResolver(a.cfg.Session.PresetBaseURL, nil)
		return resolver.Resolve(ctx, opts.Preset, chainName)
	default:
		return nil, xerrors.New(xerrors.CodeInvalidInput, "缺少会话策略",
			xerrors.WithHint("使用 --preset <name> 加载预设策略，或使用 --file <path> 提供本地策略文件"))
	}
}

// sessionSummary 是面向输出的会话摘要。
type sessionSummary struct {
	KeyGUID        string `json:"key_guid"`
	AccountAddress string `json:"account_address"`
	AccountID      string `json:"account_id,omitempty"`
	Chain          string `json:"chain"`
	ExpiresAt      int64  `json:"expires_at"`
	Active         bool   `json:"active"`
	PolicyDiverged bool   `json:"policy_diverged,omitempty"`
	Contracts      int    `json:"contracts"`
	Entrypoints    int    `json:"entrypoints"`
}

func credentialsSummary(creds *session.Credentials) sessionSummary {
	contracts, entrypoints := creds.EffectivePolicy().Counts()
	return sessionSummary{
		KeyGUID:        creds.KeyGUID,
		AccountAddress: creds.AccountAddress.String(),
		AccountID:      creds.AccountID,
		Chain:          creds.ChainName(),
		ExpiresAt:      creds.ExpiresAt,
		Active:         !creds.Expired(time.Now()),
		PolicyDiverged: creds.PolicyDiverged,
		Contracts:      contracts,
		Entrypoints:    entrypoints,
	}
}
